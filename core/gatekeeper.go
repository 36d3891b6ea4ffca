package core

import (
	"context"
	"fmt"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
)

// Clock supplies timestamps so tests can pin time.
type Clock func() time.Time

// GateKeeper is the permissionless authority that owns the status ledger.
// It is deliberately decoupled from the router: replacing the router never
// loses registration or flag state.
type GateKeeper struct {
	config          Config
	logger          Logger
	loggerProvider  LoggerProvider
	metricsRecorder MetricsRecorder
	errorFactory    ErrorFactory
	errorMapper     ErrorMapper
	registrations   RegistrationStore
	flags           FlagStore
	events          EventSink
	routerIdentity  Identity
	protocolAdmin   Identity
	now             Clock
}

// NewGateKeeper wires a GateKeeper from runtime config plus options.
// Stores default to in-memory implementations when no repository factory or
// explicit store is supplied.
func NewGateKeeper(cfg Config, options ...Option) (*GateKeeper, error) {
	builder := defaultGateKeeperBuilder(cfg)
	for _, opt := range options {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("protect", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("protect"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.errorFactory == nil {
		builder.errorFactory = goerrors.New
	}
	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = defaultErrorMapper
	}
	if builder.configProvider == nil {
		builder.configProvider = NewCfgxConfigProvider(nil)
	}
	if builder.optionsResolver == nil {
		builder.optionsResolver = GoOptionsResolver{}
	}
	if builder.events == nil {
		builder.events = NopEventSink{}
	}
	if builder.clock == nil {
		builder.clock = func() time.Time { return time.Now().UTC() }
	}

	defaults := DefaultConfig()
	loaded, err := builder.configProvider.Load(context.Background(), defaults)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	finalConfig, err := builder.optionsResolver.Resolve(defaults, loaded, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	if (builder.registrations == nil || builder.flags == nil) && builder.repositoryFactory != nil {
		if storeFactory, ok := builder.repositoryFactory.(RepositoryStoreFactory); ok {
			provider, buildErr := storeFactory.BuildStores(builder.persistenceClient)
			if buildErr != nil {
				return nil, mapBuildError(builder.errorMapper, buildErr)
			}
			if provider != nil {
				if builder.registrations == nil {
					builder.registrations = provider.RegistrationStore()
				}
				if builder.flags == nil {
					builder.flags = provider.FlagStore()
				}
			}
		} else if provider, ok := builder.repositoryFactory.(StoreProvider); ok {
			if builder.registrations == nil {
				builder.registrations = provider.RegistrationStore()
			}
			if builder.flags == nil {
				builder.flags = provider.FlagStore()
			}
		}
	}
	if builder.registrations == nil {
		builder.registrations = NewMemoryRegistrationStore()
	}
	if builder.flags == nil {
		builder.flags = NewMemoryFlagStore()
	}

	return &GateKeeper{
		config:          finalConfig,
		logger:          logger,
		loggerProvider:  provider,
		metricsRecorder: builder.metricsRecorder,
		errorFactory:    builder.errorFactory,
		errorMapper:     builder.errorMapper,
		registrations:   builder.registrations,
		flags:           builder.flags,
		events:          builder.events,
		routerIdentity:  finalConfig.RouterIdentity(),
		protocolAdmin:   finalConfig.ProtocolAdminIdentity(),
		now:             builder.clock,
	}, nil
}

func (g *GateKeeper) Config() Config {
	if g == nil {
		return Config{}
	}
	return g.config
}

// PreRegister records the caller's intent to register, keyed by the caller
// identity itself. A second call while PENDING re-emits the status event
// without mutating state. Re-entering PENDING from REGISTERED is rejected:
// a completed registration is the ledger's high-water mark.
func (g *GateKeeper) PreRegister(ctx context.Context, caller Identity) error {
	startedAt := g.clock()
	fields := map[string]any{"identity": caller.String()}
	err := g.preRegister(ctx, caller)
	g.observeOperation(ctx, startedAt, "pre_register", err, fields)
	return g.mapError(err)
}

func (g *GateKeeper) preRegister(ctx context.Context, caller Identity) error {
	if g == nil || g.registrations == nil {
		return fmt.Errorf("core: gatekeeper is not configured")
	}
	if caller.IsZero() {
		return fmt.Errorf("%w: zero caller identity", ErrNotSelf)
	}
	now := g.clock()
	registration, found, err := g.registrations.Get(ctx, caller)
	if err != nil {
		return err
	}
	if !found {
		registration = NewRegistration(caller, now)
	}
	if registration.Registration == RegistrationStatusRegistered {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, caller)
	}
	prior := registration.Registration
	if err := registration.TransitionRegistration(RegistrationStatusPending, now); err != nil {
		return err
	}
	if err := g.registrations.Upsert(ctx, registration); err != nil {
		return err
	}
	return g.emitRegistrationChanged(ctx, caller, prior, registration.Registration)
}

// CompleteRegistration flips the pair to REGISTERED/ACTIVE. Only the router
// may call it, and only from PENDING: re-registering an active integration
// is forbidden.
func (g *GateKeeper) CompleteRegistration(ctx context.Context, caller, proxyOrSelf, implementation Identity) error {
	startedAt := g.clock()
	fields := map[string]any{
		"caller":   caller.String(),
		"identity": implementation.String(),
		"proxy":    proxyOrSelf.String(),
	}
	err := g.completeRegistration(ctx, caller, proxyOrSelf, implementation)
	g.observeOperation(ctx, startedAt, "complete_registration", err, fields)
	return g.mapError(err)
}

func (g *GateKeeper) completeRegistration(ctx context.Context, caller, proxyOrSelf, implementation Identity) error {
	if g == nil || g.registrations == nil {
		return fmt.Errorf("core: gatekeeper is not configured")
	}
	if caller != g.routerIdentity || caller.IsZero() {
		return fmt.Errorf("%w: %s", ErrNotRouter, caller)
	}
	now := g.clock()
	registration, found, err := g.registrations.Get(ctx, implementation)
	if err != nil {
		return err
	}
	if !found || registration.Registration != RegistrationStatusPending {
		return fmt.Errorf("%w: %s", ErrNotRegisteredPending, implementation)
	}
	priorRegistration := registration.Registration
	priorAuthorization := registration.Authorization
	if err := registration.TransitionRegistration(RegistrationStatusRegistered, now); err != nil {
		return err
	}
	if err := registration.TransitionAuthorization(AuthorizationStatusActive, now); err != nil {
		return err
	}
	registration.ProxyIdentity = proxyOrSelf
	if err := g.registrations.Upsert(ctx, registration); err != nil {
		return err
	}
	if err := g.emitRegistrationChanged(ctx, implementation, priorRegistration, registration.Registration); err != nil {
		return err
	}
	return g.emitAuthorizationChanged(ctx, implementation, priorAuthorization, registration.Authorization)
}

// UpdateFlags replaces protection flags for the identity in one batch.
// Only the identity itself may mutate its flags; a proxy claiming the
// identity is rejected by key, not by storage context. The batch is
// validated completely before anything is written.
func (g *GateKeeper) UpdateFlags(ctx context.Context, caller, identity Identity, selectors []Selector, flags []bool) error {
	startedAt := g.clock()
	fields := map[string]any{
		"identity":       identity.String(),
		"selector_count": len(selectors),
	}
	err := g.updateFlags(ctx, caller, identity, selectors, flags)
	g.observeOperation(ctx, startedAt, "update_flags", err, fields)
	return g.mapError(err)
}

func (g *GateKeeper) updateFlags(ctx context.Context, caller, identity Identity, selectors []Selector, flags []bool) error {
	if g == nil || g.flags == nil || g.registrations == nil {
		return fmt.Errorf("core: gatekeeper is not configured")
	}
	if caller != identity || identity.IsZero() {
		return fmt.Errorf("%w: caller %s, identity %s", ErrNotSelf, caller, identity)
	}
	updates, err := ZipFlagUpdates(selectors, flags)
	if err != nil {
		return err
	}
	if _, found, err := g.registrations.Get(ctx, identity); err != nil {
		return err
	} else if !found {
		return fmt.Errorf("%w: %s", ErrNotRegistered, identity)
	}
	now := g.clock()
	if err := g.flags.Apply(ctx, identity, updates, now); err != nil {
		return err
	}
	payload := map[string]any{"flags": flagUpdatePayload(updates)}
	return g.events.Record(ctx, NewEvent(EventFlagsUpdated, identity, payload))
}

// QueryFlag reports whether one operation is gated. Lookups against an
// identity the ledger has never seen are rejected rather than silently
// reported as disabled.
func (g *GateKeeper) QueryFlag(ctx context.Context, identity Identity, selector Selector) (bool, error) {
	if g == nil || g.flags == nil || g.registrations == nil {
		return false, g.mapError(fmt.Errorf("core: gatekeeper is not configured"))
	}
	if _, found, err := g.registrations.Get(ctx, identity); err != nil {
		return false, g.mapError(err)
	} else if !found {
		return false, g.mapError(fmt.Errorf("%w: %s", ErrNotRegistered, identity))
	}
	enabled, err := g.flags.Get(ctx, identity, selector)
	if err != nil {
		return false, g.mapError(err)
	}
	return enabled, nil
}

// QueryFlags is the batch form of QueryFlag.
func (g *GateKeeper) QueryFlags(ctx context.Context, identity Identity, selectors []Selector) ([]bool, error) {
	if g == nil || g.flags == nil || g.registrations == nil {
		return nil, g.mapError(fmt.Errorf("core: gatekeeper is not configured"))
	}
	if _, found, err := g.registrations.Get(ctx, identity); err != nil {
		return nil, g.mapError(err)
	} else if !found {
		return nil, g.mapError(fmt.Errorf("%w: %s", ErrNotRegistered, identity))
	}
	flags, err := g.flags.GetBatch(ctx, identity, selectors)
	if err != nil {
		return nil, g.mapError(err)
	}
	return flags, nil
}

// Status is the unrestricted read-only projection. Unknown identities read
// as (unregistered, inactive) rather than failing.
func (g *GateKeeper) Status(ctx context.Context, identity Identity) (StatusPair, error) {
	if g == nil || g.registrations == nil {
		return StatusPair{}, g.mapError(fmt.Errorf("core: gatekeeper is not configured"))
	}
	registration, found, err := g.registrations.Get(ctx, identity)
	if err != nil {
		return StatusPair{}, g.mapError(err)
	}
	if !found {
		return StatusPair{
			Registration:  RegistrationStatusUnregistered,
			Authorization: AuthorizationStatusInactive,
		}, nil
	}
	return StatusPair{
		Registration:  registration.Registration,
		Authorization: registration.Authorization,
	}, nil
}

// PreAuthorizeUpgrade signals the registrar that the caller intends to hand
// its registration to a new implementation identity. It is a signal, not a
// state transition: migrating ledger state before the upgrade happens would
// be unsafe.
func (g *GateKeeper) PreAuthorizeUpgrade(ctx context.Context, caller, newIdentity Identity) error {
	startedAt := g.clock()
	fields := map[string]any{
		"identity":     caller.String(),
		"new_identity": newIdentity.String(),
	}
	err := g.preAuthorizeUpgrade(ctx, caller, newIdentity)
	g.observeOperation(ctx, startedAt, "pre_authorize_upgrade", err, fields)
	return g.mapError(err)
}

func (g *GateKeeper) preAuthorizeUpgrade(ctx context.Context, caller, newIdentity Identity) error {
	if g == nil || g.registrations == nil {
		return fmt.Errorf("core: gatekeeper is not configured")
	}
	if caller.IsZero() || newIdentity.IsZero() {
		return fmt.Errorf("%w: zero identity", ErrOnlyDistinctImplementation)
	}
	if caller == newIdentity {
		return fmt.Errorf("%w: %s", ErrOnlyDistinctImplementation, caller)
	}
	registration, found, err := g.registrations.Get(ctx, caller)
	if err != nil {
		return err
	}
	if !found || registration.Registration != RegistrationStatusRegistered {
		return fmt.Errorf("%w: %s", ErrNotRegistered, caller)
	}
	payload := map[string]any{
		"current_identity": caller.String(),
		"new_identity":     newIdentity.String(),
	}
	return g.events.Record(ctx, NewEvent(EventUpgradePreAuthorized, caller, payload))
}

// OverrideAuthorization unconditionally rewrites an authorization status.
// Reserved for the protocol administrator acting through the router; this
// is how BYPASSED and REVOKED are reached, and how identities that skipped
// the upgrade pre-authorization get repaired.
func (g *GateKeeper) OverrideAuthorization(ctx context.Context, caller, identity Identity, status AuthorizationStatus) error {
	startedAt := g.clock()
	fields := map[string]any{"identity": identity.String(), "status": string(status)}
	err := g.overrideAuthorization(ctx, caller, identity, status)
	g.observeOperation(ctx, startedAt, "override_authorization", err, fields)
	return g.mapError(err)
}

func (g *GateKeeper) overrideAuthorization(ctx context.Context, caller, identity Identity, status AuthorizationStatus) error {
	if g == nil || g.registrations == nil {
		return fmt.Errorf("core: gatekeeper is not configured")
	}
	if caller != g.routerIdentity || caller.IsZero() {
		return fmt.Errorf("%w: %s", ErrNotRouter, caller)
	}
	if err := status.Validate(); err != nil {
		return err
	}
	now := g.clock()
	registration, found, err := g.registrations.Get(ctx, identity)
	if err != nil {
		return err
	}
	if !found {
		registration = NewRegistration(identity, now)
	}
	prior := registration.Authorization
	if err := registration.ForceAuthorization(status, now); err != nil {
		return err
	}
	if err := g.registrations.Upsert(ctx, registration); err != nil {
		return err
	}
	return g.emitAuthorizationChanged(ctx, identity, prior, status)
}

// OverrideRegistration is the registration-status counterpart of
// OverrideAuthorization.
func (g *GateKeeper) OverrideRegistration(ctx context.Context, caller, identity Identity, status RegistrationStatus) error {
	startedAt := g.clock()
	fields := map[string]any{"identity": identity.String(), "status": string(status)}
	err := g.overrideRegistration(ctx, caller, identity, status)
	g.observeOperation(ctx, startedAt, "override_registration", err, fields)
	return g.mapError(err)
}

func (g *GateKeeper) overrideRegistration(ctx context.Context, caller, identity Identity, status RegistrationStatus) error {
	if g == nil || g.registrations == nil {
		return fmt.Errorf("core: gatekeeper is not configured")
	}
	if caller != g.routerIdentity || caller.IsZero() {
		return fmt.Errorf("%w: %s", ErrNotRouter, caller)
	}
	if err := status.Validate(); err != nil {
		return err
	}
	now := g.clock()
	registration, found, err := g.registrations.Get(ctx, identity)
	if err != nil {
		return err
	}
	if !found {
		registration = NewRegistration(identity, now)
	}
	prior := registration.Registration
	if err := registration.ForceRegistration(status, now); err != nil {
		return err
	}
	if err := g.registrations.Upsert(ctx, registration); err != nil {
		return err
	}
	return g.emitRegistrationChanged(ctx, identity, prior, status)
}

// OverrideAuthorizationBatch applies one status per identity. Lengths are
// validated before any entry is touched.
func (g *GateKeeper) OverrideAuthorizationBatch(ctx context.Context, caller Identity, identities []Identity, statuses []AuthorizationStatus) error {
	if len(identities) != len(statuses) {
		return g.mapError(fmt.Errorf("%w: %d identities, %d statuses",
			ErrArrayLengthMismatch, len(identities), len(statuses)))
	}
	for _, status := range statuses {
		if err := status.Validate(); err != nil {
			return g.mapError(err)
		}
	}
	for i, identity := range identities {
		if err := g.OverrideAuthorization(ctx, caller, identity, statuses[i]); err != nil {
			return err
		}
	}
	return nil
}

// OverrideRegistrationBatch applies one status per identity. Lengths are
// validated before any entry is touched.
func (g *GateKeeper) OverrideRegistrationBatch(ctx context.Context, caller Identity, identities []Identity, statuses []RegistrationStatus) error {
	if len(identities) != len(statuses) {
		return g.mapError(fmt.Errorf("%w: %d identities, %d statuses",
			ErrArrayLengthMismatch, len(identities), len(statuses)))
	}
	for _, status := range statuses {
		if err := status.Validate(); err != nil {
			return g.mapError(err)
		}
	}
	for i, identity := range identities {
		if err := g.OverrideRegistration(ctx, caller, identity, statuses[i]); err != nil {
			return err
		}
	}
	return nil
}

func (g *GateKeeper) emitRegistrationChanged(ctx context.Context, identity Identity, prior, next RegistrationStatus) error {
	payload := map[string]any{
		"prior_status": string(prior),
		"new_status":   string(next),
	}
	return g.events.Record(ctx, NewEvent(EventRegistrationChanged, identity, payload))
}

func (g *GateKeeper) emitAuthorizationChanged(ctx context.Context, identity Identity, prior, next AuthorizationStatus) error {
	payload := map[string]any{
		"prior_status": string(prior),
		"new_status":   string(next),
	}
	return g.events.Record(ctx, NewEvent(EventAuthorizationChanged, identity, payload))
}

func flagUpdatePayload(updates []FlagUpdate) []map[string]any {
	out := make([]map[string]any, 0, len(updates))
	for _, update := range updates {
		out = append(out, map[string]any{
			"selector": update.Selector.String(),
			"enabled":  update.Enabled,
		})
	}
	return out
}

func (g *GateKeeper) clock() time.Time {
	if g == nil || g.now == nil {
		return time.Now().UTC()
	}
	return g.now()
}

func (g *GateKeeper) mapError(err error) error {
	if err == nil {
		return nil
	}
	if g == nil || g.errorMapper == nil {
		return err
	}
	if mapped := g.errorMapper(err); mapped != nil {
		return mapped
	}
	return err
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	if mapped := mapper(err); mapped != nil {
		return mapped
	}
	return err
}
