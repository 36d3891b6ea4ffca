package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-protect/core"
)

// RouterService is the router-facing write surface: credential-gated
// registration, protected-call dispatch, and protocol-admin overrides.
type RouterService interface {
	CompleteRegistration(ctx context.Context, req core.CompleteRegistrationRequest) (bool, error)
	DispatchProtectedCall(ctx context.Context, req core.DispatchRequest) (bool, error)
	OverrideAuthorization(ctx context.Context, operator, identity core.Identity, status core.AuthorizationStatus) error
	OverrideRegistration(ctx context.Context, operator, identity core.Identity, status core.RegistrationStatus) error
	OverrideAuthorizationBatch(ctx context.Context, operator core.Identity, identities []core.Identity, statuses []core.AuthorizationStatus) error
	OverrideRegistrationBatch(ctx context.Context, operator core.Identity, identities []core.Identity, statuses []core.RegistrationStatus) error
}

// LedgerService is the gatekeeper-facing write surface reachable without the
// router: pre-registration, self-service flag updates, and upgrade
// pre-authorization.
type LedgerService interface {
	PreRegister(ctx context.Context, caller core.Identity) error
	UpdateFlags(ctx context.Context, caller, identity core.Identity, selectors []core.Selector, flags []bool) error
	PreAuthorizeUpgrade(ctx context.Context, caller, newIdentity core.Identity) error
}

type PreRegisterCommand struct {
	service LedgerService
}

func NewPreRegisterCommand(service LedgerService) *PreRegisterCommand {
	return &PreRegisterCommand{service: service}
}

func (c *PreRegisterCommand) Execute(ctx context.Context, msg PreRegisterMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: ledger service is required")
	}
	return c.service.PreRegister(ctx, msg.Caller)
}

type CompleteRegistrationCommand struct {
	service RouterService
}

func NewCompleteRegistrationCommand(service RouterService) *CompleteRegistrationCommand {
	return &CompleteRegistrationCommand{service: service}
}

func (c *CompleteRegistrationCommand) Execute(ctx context.Context, msg CompleteRegistrationMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: router service is required")
	}
	out, err := c.service.CompleteRegistration(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type UpdateFlagsCommand struct {
	service LedgerService
}

func NewUpdateFlagsCommand(service LedgerService) *UpdateFlagsCommand {
	return &UpdateFlagsCommand{service: service}
}

func (c *UpdateFlagsCommand) Execute(ctx context.Context, msg UpdateFlagsMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: ledger service is required")
	}
	return c.service.UpdateFlags(ctx, msg.Caller, msg.Identity, msg.Selectors, msg.Flags)
}

type PreAuthorizeUpgradeCommand struct {
	service LedgerService
}

func NewPreAuthorizeUpgradeCommand(service LedgerService) *PreAuthorizeUpgradeCommand {
	return &PreAuthorizeUpgradeCommand{service: service}
}

func (c *PreAuthorizeUpgradeCommand) Execute(ctx context.Context, msg PreAuthorizeUpgradeMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: ledger service is required")
	}
	return c.service.PreAuthorizeUpgrade(ctx, msg.Caller, msg.NewIdentity)
}

type DispatchProtectedCallCommand struct {
	service RouterService
}

func NewDispatchProtectedCallCommand(service RouterService) *DispatchProtectedCallCommand {
	return &DispatchProtectedCallCommand{service: service}
}

func (c *DispatchProtectedCallCommand) Execute(ctx context.Context, msg DispatchProtectedCallMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: router service is required")
	}
	out, err := c.service.DispatchProtectedCall(ctx, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type OverrideAuthorizationCommand struct {
	service RouterService
}

func NewOverrideAuthorizationCommand(service RouterService) *OverrideAuthorizationCommand {
	return &OverrideAuthorizationCommand{service: service}
}

func (c *OverrideAuthorizationCommand) Execute(ctx context.Context, msg OverrideAuthorizationMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: router service is required")
	}
	return c.service.OverrideAuthorization(ctx, msg.Operator, msg.Identity, msg.Status)
}

type OverrideRegistrationCommand struct {
	service RouterService
}

func NewOverrideRegistrationCommand(service RouterService) *OverrideRegistrationCommand {
	return &OverrideRegistrationCommand{service: service}
}

func (c *OverrideRegistrationCommand) Execute(ctx context.Context, msg OverrideRegistrationMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: router service is required")
	}
	return c.service.OverrideRegistration(ctx, msg.Operator, msg.Identity, msg.Status)
}

type OverrideAuthorizationBatchCommand struct {
	service RouterService
}

func NewOverrideAuthorizationBatchCommand(service RouterService) *OverrideAuthorizationBatchCommand {
	return &OverrideAuthorizationBatchCommand{service: service}
}

func (c *OverrideAuthorizationBatchCommand) Execute(ctx context.Context, msg OverrideAuthorizationBatchMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: router service is required")
	}
	return c.service.OverrideAuthorizationBatch(ctx, msg.Operator, msg.Identities, msg.Statuses)
}

type OverrideRegistrationBatchCommand struct {
	service RouterService
}

func NewOverrideRegistrationBatchCommand(service RouterService) *OverrideRegistrationBatchCommand {
	return &OverrideRegistrationBatchCommand{service: service}
}

func (c *OverrideRegistrationBatchCommand) Execute(ctx context.Context, msg OverrideRegistrationBatchMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: router service is required")
	}
	return c.service.OverrideRegistrationBatch(ctx, msg.Operator, msg.Identities, msg.Statuses)
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
