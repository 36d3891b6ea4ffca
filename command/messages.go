package command

import (
	"fmt"

	"github.com/goliatone/go-protect/core"
)

const (
	TypePreRegister                = "protect.command.registration.prepare"
	TypeCompleteRegistration       = "protect.command.registration.complete"
	TypeUpdateFlags                = "protect.command.flags.update"
	TypePreAuthorizeUpgrade        = "protect.command.upgrade.preauthorize"
	TypeDispatchProtectedCall      = "protect.command.call.dispatch"
	TypeOverrideAuthorization      = "protect.command.override.authorization"
	TypeOverrideRegistration       = "protect.command.override.registration"
	TypeOverrideAuthorizationBatch = "protect.command.override.authorization_batch"
	TypeOverrideRegistrationBatch  = "protect.command.override.registration_batch"
)

type PreRegisterMessage struct {
	Caller core.Identity
}

func (PreRegisterMessage) Type() string { return TypePreRegister }

func (m PreRegisterMessage) Validate() error {
	if m.Caller.IsZero() {
		return commandValidationError("caller", "caller identity is required")
	}
	return nil
}

type CompleteRegistrationMessage struct {
	Request core.CompleteRegistrationRequest
}

func (CompleteRegistrationMessage) Type() string { return TypeCompleteRegistration }

func (m CompleteRegistrationMessage) Validate() error {
	if m.Request.Integration.IsZero() {
		return commandValidationError("integration", "integration identity is required")
	}
	if m.Request.Implementation.IsZero() {
		return commandValidationError("implementation", "implementation identity is required")
	}
	if m.Request.Admin.IsZero() {
		return commandValidationError("admin", "admin identity is required")
	}
	if err := m.Request.Credential.Validate(); err != nil {
		return fmt.Errorf("command: %w", err)
	}
	return nil
}

type UpdateFlagsMessage struct {
	Caller    core.Identity
	Identity  core.Identity
	Selectors []core.Selector
	Flags     []bool
}

func (UpdateFlagsMessage) Type() string { return TypeUpdateFlags }

func (m UpdateFlagsMessage) Validate() error {
	if m.Caller.IsZero() {
		return commandValidationError("caller", "caller identity is required")
	}
	if m.Identity.IsZero() {
		return commandValidationError("identity", "integration identity is required")
	}
	if _, err := core.ZipFlagUpdates(m.Selectors, m.Flags); err != nil {
		return fmt.Errorf("command: %w", err)
	}
	return nil
}

type PreAuthorizeUpgradeMessage struct {
	Caller      core.Identity
	NewIdentity core.Identity
}

func (PreAuthorizeUpgradeMessage) Type() string { return TypePreAuthorizeUpgrade }

func (m PreAuthorizeUpgradeMessage) Validate() error {
	if m.Caller.IsZero() {
		return commandValidationError("caller", "caller identity is required")
	}
	if m.NewIdentity.IsZero() {
		return commandValidationError("new_identity", "new implementation identity is required")
	}
	return nil
}

type DispatchProtectedCallMessage struct {
	Request core.DispatchRequest
}

func (DispatchProtectedCallMessage) Type() string { return TypeDispatchProtectedCall }

func (m DispatchProtectedCallMessage) Validate() error {
	if m.Request.Caller.IsZero() {
		return commandValidationError("caller", "caller identity is required")
	}
	if m.Request.Target.IsZero() {
		return commandValidationError("target", "target identity is required")
	}
	if len(m.Request.Invocation) < core.MinPayloadLength {
		return commandValidationError("invocation", fmt.Sprintf("invocation payload must be at least %d bytes", core.MinPayloadLength))
	}
	return nil
}

type OverrideAuthorizationMessage struct {
	Operator core.Identity
	Identity core.Identity
	Status   core.AuthorizationStatus
}

func (OverrideAuthorizationMessage) Type() string { return TypeOverrideAuthorization }

func (m OverrideAuthorizationMessage) Validate() error {
	if m.Operator.IsZero() {
		return commandValidationError("operator", "operator identity is required")
	}
	if m.Identity.IsZero() {
		return commandValidationError("identity", "integration identity is required")
	}
	if err := m.Status.Validate(); err != nil {
		return fmt.Errorf("command: %w", err)
	}
	return nil
}

type OverrideRegistrationMessage struct {
	Operator core.Identity
	Identity core.Identity
	Status   core.RegistrationStatus
}

func (OverrideRegistrationMessage) Type() string { return TypeOverrideRegistration }

func (m OverrideRegistrationMessage) Validate() error {
	if m.Operator.IsZero() {
		return commandValidationError("operator", "operator identity is required")
	}
	if m.Identity.IsZero() {
		return commandValidationError("identity", "integration identity is required")
	}
	if err := m.Status.Validate(); err != nil {
		return fmt.Errorf("command: %w", err)
	}
	return nil
}

type OverrideAuthorizationBatchMessage struct {
	Operator   core.Identity
	Identities []core.Identity
	Statuses   []core.AuthorizationStatus
}

func (OverrideAuthorizationBatchMessage) Type() string { return TypeOverrideAuthorizationBatch }

func (m OverrideAuthorizationBatchMessage) Validate() error {
	if m.Operator.IsZero() {
		return commandValidationError("operator", "operator identity is required")
	}
	if len(m.Identities) != len(m.Statuses) {
		return fmt.Errorf("command: %w: %d identities, %d statuses",
			core.ErrArrayLengthMismatch, len(m.Identities), len(m.Statuses))
	}
	if len(m.Identities) == 0 {
		return commandValidationError("identities", "at least one identity is required")
	}
	for _, status := range m.Statuses {
		if err := status.Validate(); err != nil {
			return fmt.Errorf("command: %w", err)
		}
	}
	return nil
}

type OverrideRegistrationBatchMessage struct {
	Operator   core.Identity
	Identities []core.Identity
	Statuses   []core.RegistrationStatus
}

func (OverrideRegistrationBatchMessage) Type() string { return TypeOverrideRegistrationBatch }

func (m OverrideRegistrationBatchMessage) Validate() error {
	if m.Operator.IsZero() {
		return commandValidationError("operator", "operator identity is required")
	}
	if len(m.Identities) != len(m.Statuses) {
		return fmt.Errorf("command: %w: %d identities, %d statuses",
			core.ErrArrayLengthMismatch, len(m.Identities), len(m.Statuses))
	}
	if len(m.Identities) == 0 {
		return commandValidationError("identities", "at least one identity is required")
	}
	for _, status := range m.Statuses {
		if err := status.Validate(); err != nil {
			return fmt.Errorf("command: %w", err)
		}
	}
	return nil
}
