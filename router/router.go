// Package router implements the stateless protocol coordinator. It
// validates registrar credentials, completes registrations against the
// GateKeeper, and dispatches protected calls to security modules. The
// router keeps no per-integration state so it can be replaced without
// losing anything: everything durable lives in the GateKeeper ledger.
package router

import (
	"context"
	"errors"
	"fmt"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-protect/core"
)

// GateKeeperClient is the slice of the GateKeeper surface the router
// drives.
type GateKeeperClient interface {
	CompleteRegistration(ctx context.Context, caller, proxyOrSelf, implementation core.Identity) error
	Status(ctx context.Context, identity core.Identity) (core.StatusPair, error)
	OverrideAuthorization(ctx context.Context, caller, identity core.Identity, status core.AuthorizationStatus) error
	OverrideRegistration(ctx context.Context, caller, identity core.Identity, status core.RegistrationStatus) error
	OverrideAuthorizationBatch(ctx context.Context, caller core.Identity, identities []core.Identity, statuses []core.AuthorizationStatus) error
	OverrideRegistrationBatch(ctx context.Context, caller core.Identity, identities []core.Identity, statuses []core.RegistrationStatus) error
}

type Router struct {
	identity      core.Identity
	protocolAdmin core.Identity
	gatekeeper    GateKeeperClient
	verifier      core.CredentialVerifier
	modules       *ModuleRegistry
	logger        core.Logger
	errorMapper   core.ErrorMapper
}

type Option func(*Router)

func WithLogger(logger core.Logger) Option {
	return func(r *Router) {
		r.logger = logger
	}
}

func WithModuleRegistry(registry *ModuleRegistry) Option {
	return func(r *Router) {
		r.modules = registry
	}
}

func WithErrorMapper(mapper core.ErrorMapper) Option {
	return func(r *Router) {
		r.errorMapper = mapper
	}
}

// NewRouter wires a router for one protocol deployment. The identity is
// what the GateKeeper authenticates router calls against; protocolAdmin is
// the operator identity allowed through the override paths.
func NewRouter(
	identity core.Identity,
	protocolAdmin core.Identity,
	gatekeeper GateKeeperClient,
	verifier core.CredentialVerifier,
	options ...Option,
) (*Router, error) {
	if identity.IsZero() {
		return nil, fmt.Errorf("router: router identity is required")
	}
	if gatekeeper == nil {
		return nil, fmt.Errorf("router: gatekeeper client is required")
	}
	if verifier == nil {
		return nil, fmt.Errorf("router: credential verifier is required")
	}
	router := &Router{
		identity:      identity,
		protocolAdmin: protocolAdmin,
		gatekeeper:    gatekeeper,
		verifier:      verifier,
	}
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(router)
	}
	if router.modules == nil {
		router.modules = NewModuleRegistry()
	}
	router.logger = glog.Ensure(router.logger)
	return router, nil
}

func (r *Router) Identity() core.Identity {
	if r == nil {
		return core.Identity{}
	}
	return r.identity
}

func (r *Router) Modules() *ModuleRegistry {
	if r == nil {
		return nil
	}
	return r.modules
}

// CompleteRegistration validates the registrar credential structurally and
// semantically, then finishes registration in the ledger of record. The
// success boolean mirrors the ledger outcome so integrations can branch
// without unwrapping errors.
func (r *Router) CompleteRegistration(ctx context.Context, req core.CompleteRegistrationRequest) (bool, error) {
	if r == nil || r.gatekeeper == nil {
		return false, r.mapError(fmt.Errorf("router: router is not configured"))
	}
	if err := req.Credential.Validate(); err != nil {
		return false, r.mapError(err)
	}
	if err := r.verifier.Verify(ctx, req.Implementation, req.Admin, req.Credential); err != nil {
		return false, r.mapError(fmt.Errorf("%w: %w", core.ErrRegistrationFailed, err))
	}
	if err := r.gatekeeper.CompleteRegistration(ctx, r.identity, req.Integration, req.Implementation); err != nil {
		return false, r.mapError(fmt.Errorf("%w: %w", core.ErrRegistrationFailed, err))
	}
	r.logInfo(ctx, "registration completed", map[string]any{
		"identity": req.Implementation.String(),
		"proxy":    req.Integration.String(),
	})
	return true, nil
}

// DispatchProtectedCall renders the permit/deny verdict for one protected
// call. Denial is (false, nil); any module-side failure propagates as an
// error and is never converted into a verdict.
func (r *Router) DispatchProtectedCall(ctx context.Context, req core.DispatchRequest) (bool, error) {
	if r == nil || r.gatekeeper == nil {
		return false, r.mapError(fmt.Errorf("router: router is not configured"))
	}

	status, err := r.gatekeeper.Status(ctx, req.Target)
	if err != nil {
		return false, r.mapError(err)
	}
	switch status.Authorization {
	case core.AuthorizationStatusRevoked:
		return false, r.mapError(fmt.Errorf("%w: %s", core.ErrIntegrationRevoked, req.Target))
	case core.AuthorizationStatusBypassed:
		// The operator has suspended checks for this integration; permit
		// without consulting a module.
		return true, nil
	case core.AuthorizationStatusActive:
	default:
		return false, r.mapError(fmt.Errorf("%w: %s is %s", core.ErrIntegrationNotActive, req.Target, status.Authorization))
	}
	if status.Registration != core.RegistrationStatusRegistered {
		return false, r.mapError(fmt.Errorf("%w: %s", core.ErrNotRegistered, req.Target))
	}

	header, err := core.ParsePayloadHeader(req.Invocation)
	if err != nil {
		return false, r.mapError(err)
	}
	module, ok := r.modules.Get(header.Marker)
	if !ok {
		return false, r.mapError(fmt.Errorf("%w: %s", core.ErrModuleNotFound, header.Marker))
	}

	permitted, err := module.Approve(ctx, req)
	if err != nil {
		return false, r.mapError(moduleFailure(err))
	}
	if !permitted {
		r.logInfo(ctx, "protected call denied", map[string]any{
			"identity": req.Target.String(),
			"caller":   req.Caller.String(),
			"marker":   header.Marker.String(),
		})
	}
	return permitted, nil
}

// OverrideAuthorization forwards an operator repair to the GateKeeper.
// Only the configured protocol administrator may use the override paths.
func (r *Router) OverrideAuthorization(ctx context.Context, operator, identity core.Identity, status core.AuthorizationStatus) error {
	if err := r.requireOperator(operator); err != nil {
		return r.mapError(err)
	}
	return r.gatekeeper.OverrideAuthorization(ctx, r.identity, identity, status)
}

func (r *Router) OverrideRegistration(ctx context.Context, operator, identity core.Identity, status core.RegistrationStatus) error {
	if err := r.requireOperator(operator); err != nil {
		return r.mapError(err)
	}
	return r.gatekeeper.OverrideRegistration(ctx, r.identity, identity, status)
}

func (r *Router) OverrideAuthorizationBatch(ctx context.Context, operator core.Identity, identities []core.Identity, statuses []core.AuthorizationStatus) error {
	if err := r.requireOperator(operator); err != nil {
		return r.mapError(err)
	}
	return r.gatekeeper.OverrideAuthorizationBatch(ctx, r.identity, identities, statuses)
}

func (r *Router) OverrideRegistrationBatch(ctx context.Context, operator core.Identity, identities []core.Identity, statuses []core.RegistrationStatus) error {
	if err := r.requireOperator(operator); err != nil {
		return r.mapError(err)
	}
	return r.gatekeeper.OverrideRegistrationBatch(ctx, r.identity, identities, statuses)
}

func (r *Router) requireOperator(operator core.Identity) error {
	if r == nil {
		return fmt.Errorf("router: router is not configured")
	}
	if operator.IsZero() || operator != r.protocolAdmin {
		return fmt.Errorf("%w: %s", core.ErrNotProtocolAdmin, operator)
	}
	return nil
}

// moduleFailure keeps structured failures intact and wraps everything else
// in the generic dispatch failure so the caller can always tell a denial
// from a collaborator fault.
func moduleFailure(err error) error {
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return err
	}
	for _, sentinel := range []error{
		core.ErrIntegrationRevoked,
		core.ErrModuleDenied,
		core.ErrPayloadTooShort,
	} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", core.ErrDispatchFailed, err)
}

func (r *Router) logInfo(ctx context.Context, message string, fields map[string]any) {
	if r == nil || r.logger == nil {
		return
	}
	logger := r.logger
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	if fieldsLogger, ok := logger.(core.FieldsLogger); ok {
		logger = fieldsLogger.WithFields(fields)
	}
	logger.Info(message)
}

func (r *Router) mapError(err error) error {
	if err == nil {
		return nil
	}
	if r == nil || r.errorMapper == nil {
		return err
	}
	if mapped := r.errorMapper(err); mapped != nil {
		return mapped
	}
	return err
}
