package integration

import (
	"context"
	"errors"
	"fmt"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-protect/admin"
	"github.com/goliatone/go-protect/core"
)

var ErrNotInitialized = errors.New("integration: proxy integration is not initialized")

// FlagLedger is the GateKeeper surface a proxy-hosted integration uses in
// place of local storage.
type FlagLedger interface {
	PreRegistrar
	UpdateFlags(ctx context.Context, caller, identity core.Identity, selectors []core.Selector, flags []bool) error
	QueryFlag(ctx context.Context, identity core.Identity, selector core.Selector) (bool, error)
	PreAuthorizeUpgrade(ctx context.Context, caller, newIdentity core.Identity) error
}

// ProxyConfig wires a proxy-hosted integration.
type ProxyConfig struct {
	// Name and Version feed identity derivation when Implementation is
	// unset. Derivation happens at logic-unit construction, never at proxy
	// deployment.
	Name    string
	Version string
	// Implementation pins the logic unit's self-identity explicitly.
	Implementation core.Identity
	// Proxy is the caller-facing identity fronting the logic unit.
	Proxy      core.Identity
	GateKeeper FlagLedger
	Router     Dispatcher
	Events     core.EventSink
	Logger     core.Logger
}

// ProxyIntegration is the proxy-hosted variant. Protection flags are never
// stored in the integration's own storage: a malicious replacement logic
// unit could alias storage reached through the proxy, so the flag of record
// lives in the GateKeeper, keyed by the immutable implementation identity.
type ProxyIntegration struct {
	impl       core.Identity
	proxy      core.Identity
	gatekeeper FlagLedger
	router     Dispatcher
	admin      *admin.Transfer
	events     core.EventSink
	logger     core.Logger
}

// NewProxy constructs the logic-unit side of a proxy-hosted integration
// and pre-registers its implementation identity. The admin is NOT seated
// here: the constructing party observed at this point may be a factory, so
// Initialize must supply the admin explicitly.
func NewProxy(ctx context.Context, cfg ProxyConfig) (*ProxyIntegration, error) {
	if cfg.GateKeeper == nil {
		return nil, fmt.Errorf("integration: gatekeeper is required")
	}
	if cfg.Router == nil {
		return nil, fmt.Errorf("integration: router is required")
	}
	impl := cfg.Implementation
	if impl.IsZero() {
		impl = core.DeriveIdentity([]byte(cfg.Name), []byte(cfg.Version))
	}
	if cfg.Proxy.IsZero() {
		return nil, fmt.Errorf("integration: proxy identity is required")
	}
	events := cfg.Events
	if events == nil {
		events = core.NopEventSink{}
	}
	if err := cfg.GateKeeper.PreRegister(ctx, impl); err != nil {
		return nil, err
	}
	return &ProxyIntegration{
		impl:       impl,
		proxy:      cfg.Proxy,
		gatekeeper: cfg.GateKeeper,
		router:     cfg.Router,
		events:     events,
		logger:     glog.Ensure(cfg.Logger),
	}, nil
}

// Initialize seats the security admin. Required exactly once before any
// privileged operation; there is no implicit default for proxy-hosted
// integrations.
func (p *ProxyIntegration) Initialize(ctx context.Context, adminIdentity core.Identity) error {
	if p == nil {
		return fmt.Errorf("integration: proxy integration is not configured")
	}
	if p.admin != nil {
		return fmt.Errorf("integration: proxy integration is already initialized")
	}
	transfer, err := admin.NewTransfer(adminIdentity, p.events)
	if err != nil {
		return err
	}
	p.admin = transfer
	p.logInfo(ctx, "proxy integration initialized", map[string]any{
		"implementation": p.impl.String(),
		"admin":          adminIdentity.String(),
	})
	return nil
}

func (p *ProxyIntegration) logInfo(ctx context.Context, message string, fields map[string]any) {
	if p == nil || p.logger == nil {
		return
	}
	logger := p.logger
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	if structured, ok := logger.(core.FieldsLogger); ok {
		logger = structured.WithFields(fields)
	}
	logger.Info(message)
}

// ImplementationIdentity returns the immutable logic-unit identity the
// ledger is keyed by.
func (p *ProxyIntegration) ImplementationIdentity() core.Identity {
	if p == nil {
		return core.Identity{}
	}
	return p.impl
}

// ProxyIdentity returns the caller-facing identity.
func (p *ProxyIntegration) ProxyIdentity() core.Identity {
	if p == nil {
		return core.Identity{}
	}
	return p.proxy
}

func (p *ProxyIntegration) Admin() core.Identity {
	if p == nil || p.admin == nil {
		return core.Identity{}
	}
	return p.admin.Admin()
}

func (p *ProxyIntegration) PendingAdmin() core.Identity {
	if p == nil || p.admin == nil {
		return core.Identity{}
	}
	return p.admin.PendingAdmin()
}

func (p *ProxyIntegration) TransferAdministration(ctx context.Context, caller, newAdmin core.Identity) error {
	if err := p.requireInitialized(); err != nil {
		return err
	}
	return p.admin.TransferAdministration(ctx, caller, newAdmin)
}

func (p *ProxyIntegration) AcceptAdministration(ctx context.Context, caller core.Identity) error {
	if err := p.requireInitialized(); err != nil {
		return err
	}
	return p.admin.AcceptAdministration(ctx, caller)
}

// Guard runs the same protected-call state machine as the standalone
// variant, with the flag read delegated to the GateKeeper. A flag lookup
// failure fails the guarded call: after an upgrade that skipped
// pre-authorization, the fresh implementation identity is unregistered and
// every gated operation stops until an administrator repairs the ledger.
func (p *ProxyIntegration) Guard(ctx context.Context, call Call, body Body) error {
	if p == nil || p.router == nil || p.gatekeeper == nil {
		return fmt.Errorf("integration: proxy integration is not configured")
	}
	if call.Target != p.impl {
		return fmt.Errorf("%w: target %s, implementation %s",
			core.ErrDelegationNotPermitted, call.Target, p.impl)
	}
	enabled, err := p.gatekeeper.QueryFlag(ctx, p.impl, call.Selector)
	if err != nil {
		return dispatchFailure(err)
	}
	if !enabled {
		return body(ctx)
	}
	return dispatchAndRun(ctx, p.router, p.impl, call, body)
}

// RegisterWithDefaults completes registration for the (proxy,
// implementation) pair and optionally enables a first selector batch.
func (p *ProxyIntegration) RegisterWithDefaults(ctx context.Context, caller core.Identity, credential core.Credential, enable []core.Selector) error {
	if err := p.requireInitialized(); err != nil {
		return err
	}
	if !p.admin.IsAdmin(caller) {
		return fmt.Errorf("%w: %s", core.ErrNotAdmin, caller)
	}
	ok, err := p.router.CompleteRegistration(ctx, core.CompleteRegistrationRequest{
		Integration:    p.proxy,
		Implementation: p.impl,
		Admin:          p.admin.Admin(),
		Credential:     credential,
	})
	if err != nil {
		return err
	}
	if !ok {
		return core.ErrRegistrationFailed
	}
	if len(enable) == 0 {
		return nil
	}
	flags := make([]bool, len(enable))
	for idx := range flags {
		flags[idx] = true
	}
	return p.UpdateFlags(ctx, caller, enable, flags)
}

// UpdateFlags forwards the batch to the GateKeeper as a self-referential
// call keyed by the implementation identity.
func (p *ProxyIntegration) UpdateFlags(ctx context.Context, caller core.Identity, selectors []core.Selector, flags []bool) error {
	if err := p.requireInitialized(); err != nil {
		return err
	}
	if !p.admin.IsAdmin(caller) {
		return fmt.Errorf("%w: %s", core.ErrNotAdmin, caller)
	}
	return p.gatekeeper.UpdateFlags(ctx, p.impl, p.impl, selectors, flags)
}

// QueryFlag reads the flag of record from the GateKeeper.
func (p *ProxyIntegration) QueryFlag(ctx context.Context, selector core.Selector) (bool, error) {
	if p == nil || p.gatekeeper == nil {
		return false, fmt.Errorf("integration: proxy integration is not configured")
	}
	return p.gatekeeper.QueryFlag(ctx, p.impl, selector)
}

// PreAuthorizeNewImplementation signals the registrar before the host
// swaps in a new logic unit. Omitting this leaves the new identity
// unregistered, so every enabled guarded operation fails until an
// administrator repairs the ledger through the override path.
func (p *ProxyIntegration) PreAuthorizeNewImplementation(ctx context.Context, caller, newIdentity core.Identity) error {
	if err := p.requireInitialized(); err != nil {
		return err
	}
	if !p.admin.IsAdmin(caller) {
		return fmt.Errorf("%w: %s", core.ErrNotAdmin, caller)
	}
	return p.gatekeeper.PreAuthorizeUpgrade(ctx, p.impl, newIdentity)
}

func (p *ProxyIntegration) requireInitialized() error {
	if p == nil {
		return fmt.Errorf("integration: proxy integration is not configured")
	}
	if p.admin == nil {
		return ErrNotInitialized
	}
	return nil
}
