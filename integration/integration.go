// Package integration implements the protected component side of the
// protocol: the guarded-call state machine, registration bootstrap, and
// flag management for standalone and proxy-hosted integrations.
package integration

import (
	"context"
	"errors"
	"fmt"
	"time"

	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-protect/admin"
	"github.com/goliatone/go-protect/core"
)

// Dispatcher is the router surface an integration drives.
type Dispatcher interface {
	CompleteRegistration(ctx context.Context, req core.CompleteRegistrationRequest) (bool, error)
	DispatchProtectedCall(ctx context.Context, req core.DispatchRequest) (bool, error)
}

// PreRegistrar is the GateKeeper surface every integration needs at
// construction time.
type PreRegistrar interface {
	PreRegister(ctx context.Context, caller core.Identity) error
}

// Call describes one invocation of a guarded operation.
type Call struct {
	// Caller is the identity invoking the operation.
	Caller core.Identity
	// Target is the identity whose storage the invocation executes
	// against. The guard rejects any call where this differs from the
	// integration's canonical self-identity: that mismatch is exactly the
	// delegation/aliasing hazard.
	Target   core.Identity
	Selector core.Selector
	Value    uint64
	Payload  []byte
}

// Body is a guarded operation body, run only after the guard permits.
type Body func(ctx context.Context) error

// Config wires a standalone integration.
type Config struct {
	// Name and Version feed identity derivation when Identity is unset.
	Name    string
	Version string
	// Identity pins the self-identity explicitly; derived when zero.
	Identity core.Identity
	// Deployer is the constructing party, the default security admin.
	Deployer core.Identity
	// Admin overrides the default admin when set.
	Admin      core.Identity
	GateKeeper PreRegistrar
	Router     Dispatcher
	Events     core.EventSink
	Logger     core.Logger
}

// Integration is the standalone variant: protection flags live in the
// integration's own storage and the self-identity is the only identity in
// play.
type Integration struct {
	self   core.Identity
	router Dispatcher
	admin  *admin.Transfer
	flags  *core.MemoryFlagStore
	events core.EventSink
	logger core.Logger
}

// New constructs a standalone integration and pre-registers it with the
// GateKeeper. The self-identity is fixed here and never changes.
func New(ctx context.Context, cfg Config) (*Integration, error) {
	if cfg.GateKeeper == nil {
		return nil, fmt.Errorf("integration: gatekeeper is required")
	}
	if cfg.Router == nil {
		return nil, fmt.Errorf("integration: router is required")
	}
	self := cfg.Identity
	if self.IsZero() {
		self = core.DeriveIdentity([]byte(cfg.Name), []byte(cfg.Version))
	}
	adminIdentity := cfg.Admin
	if adminIdentity.IsZero() {
		adminIdentity = cfg.Deployer
	}
	events := cfg.Events
	if events == nil {
		events = core.NopEventSink{}
	}
	transfer, err := admin.NewTransfer(adminIdentity, events)
	if err != nil {
		return nil, err
	}
	if err := cfg.GateKeeper.PreRegister(ctx, self); err != nil {
		return nil, err
	}
	return &Integration{
		self:   self,
		router: cfg.Router,
		admin:  transfer,
		flags:  core.NewMemoryFlagStore(),
		events: events,
		logger: glog.Ensure(cfg.Logger),
	}, nil
}

// SelfIdentity returns the canonical identity the ledger keys off.
func (i *Integration) SelfIdentity() core.Identity {
	if i == nil {
		return core.Identity{}
	}
	return i.self
}

func (i *Integration) Admin() core.Identity {
	if i == nil {
		return core.Identity{}
	}
	return i.admin.Admin()
}

func (i *Integration) PendingAdmin() core.Identity {
	if i == nil {
		return core.Identity{}
	}
	return i.admin.PendingAdmin()
}

func (i *Integration) TransferAdministration(ctx context.Context, caller, newAdmin core.Identity) error {
	if i == nil {
		return fmt.Errorf("integration: integration is not configured")
	}
	return i.admin.TransferAdministration(ctx, caller, newAdmin)
}

func (i *Integration) AcceptAdministration(ctx context.Context, caller core.Identity) error {
	if i == nil {
		return fmt.Errorf("integration: integration is not configured")
	}
	return i.admin.AcceptAdministration(ctx, caller)
}

// Guard runs the protected-call state machine around body. A disabled flag
// proceeds straight to the body without touching the router; an enabled
// flag requires the minimum payload and a module permit.
func (i *Integration) Guard(ctx context.Context, call Call, body Body) error {
	if i == nil || i.router == nil {
		return fmt.Errorf("integration: integration is not configured")
	}
	if call.Target != i.self {
		return fmt.Errorf("%w: target %s, self %s",
			core.ErrDelegationNotPermitted, call.Target, i.self)
	}
	enabled, err := i.flags.Get(ctx, i.self, call.Selector)
	if err != nil {
		return err
	}
	if !enabled {
		return body(ctx)
	}
	return dispatchAndRun(ctx, i.router, i.self, call, body)
}

// RegisterWithDefaults completes registration through the router and
// optionally enables a first batch of selectors in the same step. Admin
// only.
func (i *Integration) RegisterWithDefaults(ctx context.Context, caller core.Identity, credential core.Credential, enable []core.Selector) error {
	if i == nil || i.router == nil {
		return fmt.Errorf("integration: integration is not configured")
	}
	if !i.admin.IsAdmin(caller) {
		return fmt.Errorf("%w: %s", core.ErrNotAdmin, caller)
	}
	ok, err := i.router.CompleteRegistration(ctx, core.CompleteRegistrationRequest{
		Integration:    i.self,
		Implementation: i.self,
		Admin:          i.admin.Admin(),
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
	return i.UpdateFlags(ctx, caller, enable, flags)
}

// UpdateFlags replaces local protection flags in one batch. Admin only;
// the batch is validated before any flag changes.
func (i *Integration) UpdateFlags(ctx context.Context, caller core.Identity, selectors []core.Selector, flags []bool) error {
	if i == nil {
		return fmt.Errorf("integration: integration is not configured")
	}
	if !i.admin.IsAdmin(caller) {
		return fmt.Errorf("%w: %s", core.ErrNotAdmin, caller)
	}
	updates, err := core.ZipFlagUpdates(selectors, flags)
	if err != nil {
		return err
	}
	if err := i.flags.Apply(ctx, i.self, updates, eventTime()); err != nil {
		return err
	}
	payload := map[string]any{"flags": flagBatchPayload(updates)}
	return i.events.Record(ctx, core.NewEvent(core.EventFlagsUpdated, i.self, payload))
}

// QueryFlag reads one local protection flag. Open to any caller.
func (i *Integration) QueryFlag(ctx context.Context, selector core.Selector) (bool, error) {
	if i == nil {
		return false, fmt.Errorf("integration: integration is not configured")
	}
	return i.flags.Get(ctx, i.self, selector)
}

// dispatchAndRun is the shared enabled-flag path: payload floor, module
// verdict, then the body. Shared by both variants so their failure
// semantics cannot drift apart.
func dispatchAndRun(ctx context.Context, router Dispatcher, self core.Identity, call Call, body Body) error {
	if len(call.Payload) < core.MinPayloadLength {
		return fmt.Errorf("%w: need %d bytes, got %d",
			core.ErrPayloadTooShort, core.MinPayloadLength, len(call.Payload))
	}
	permitted, err := router.DispatchProtectedCall(ctx, core.DispatchRequest{
		Caller:        call.Caller,
		Target:        self,
		Value:         call.Value,
		PayloadLength: len(call.Payload),
		Invocation:    call.Payload,
	})
	if err != nil {
		return dispatchFailure(err)
	}
	if !permitted {
		return fmt.Errorf("%w: selector %s", core.ErrModuleDenied, call.Selector)
	}
	return body(ctx)
}

// dispatchFailure propagates structured collaborator failures verbatim and
// collapses everything else into the generic dispatch failure.
func dispatchFailure(err error) error {
	if err == nil {
		return nil
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return err
	}
	for _, sentinel := range []error{
		core.ErrIntegrationRevoked,
		core.ErrIntegrationNotActive,
		core.ErrNotRegistered,
		core.ErrModuleNotFound,
		core.ErrPayloadTooShort,
		core.ErrDispatchFailed,
	} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	return fmt.Errorf("%w: %v", core.ErrDispatchFailed, err)
}

func eventTime() time.Time {
	return time.Now().UTC()
}

func flagBatchPayload(updates []core.FlagUpdate) []map[string]any {
	out := make([]map[string]any, 0, len(updates))
	for _, update := range updates {
		out = append(out, map[string]any{
			"selector": update.Selector.String(),
			"enabled":  update.Enabled,
		})
	}
	return out
}
