package router

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/goliatone/go-protect/core"
)

type routerFixture struct {
	router     *Router
	gatekeeper *core.GateKeeper
	verifier   *stubVerifier
	identity   core.Identity
	operator   core.Identity
}

type stubVerifier struct {
	err   error
	calls int
}

func (v *stubVerifier) Verify(_ context.Context, _ core.Identity, _ core.Identity, _ core.Credential) error {
	v.calls++
	return v.err
}

type stubModule struct {
	marker  core.ModuleMarker
	verdict bool
	err     error
	calls   int
}

func (m *stubModule) Marker() core.ModuleMarker { return m.marker }

func (m *stubModule) Approve(context.Context, core.DispatchRequest) (bool, error) {
	m.calls++
	return m.verdict, m.err
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()

	routerIdentity := core.DeriveIdentity([]byte("router"))
	operator := core.DeriveIdentity([]byte("operator"))

	cfg := core.DefaultConfig()
	cfg.Router.Identity = routerIdentity.String()
	cfg.Router.ProtocolAdmin = operator.String()
	gatekeeper, err := core.NewGateKeeper(cfg,
		core.WithClock(func() time.Time {
			return time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
		}),
	)
	if err != nil {
		t.Fatalf("new gatekeeper: %v", err)
	}

	verifier := &stubVerifier{}
	rtr, err := NewRouter(routerIdentity, operator, gatekeeper, verifier)
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	return &routerFixture{
		router:     rtr,
		gatekeeper: gatekeeper,
		verifier:   verifier,
		identity:   routerIdentity,
		operator:   operator,
	}
}

func (fx *routerFixture) register(t *testing.T, identity core.Identity) {
	t.Helper()
	ctx := context.Background()
	if err := fx.gatekeeper.PreRegister(ctx, identity); err != nil {
		t.Fatalf("pre-register: %v", err)
	}
	ok, err := fx.router.CompleteRegistration(ctx, core.CompleteRegistrationRequest{
		Integration:    identity,
		Implementation: identity,
		Admin:          core.DeriveIdentity([]byte("vault-admin")),
		Credential:     make(core.Credential, core.CredentialLength),
	})
	if err != nil {
		t.Fatalf("complete registration: %v", err)
	}
	if !ok {
		t.Fatalf("expected registration success")
	}
}

func (fx *routerFixture) dispatchRequest(target core.Identity, marker core.ModuleMarker) core.DispatchRequest {
	payload := make([]byte, core.MinPayloadLength)
	copy(payload, marker[:])
	return core.DispatchRequest{
		Caller:        core.DeriveIdentity([]byte("end-user")),
		Target:        target,
		PayloadLength: len(payload),
		Invocation:    payload,
	}
}

func TestNewRouter_RequiresCollaborators(t *testing.T) {
	fx := newRouterFixture(t)

	if _, err := NewRouter(core.Identity{}, fx.operator, fx.gatekeeper, fx.verifier); err == nil {
		t.Fatalf("expected zero identity rejection")
	}
	if _, err := NewRouter(fx.identity, fx.operator, nil, fx.verifier); err == nil {
		t.Fatalf("expected missing gatekeeper rejection")
	}
	if _, err := NewRouter(fx.identity, fx.operator, fx.gatekeeper, nil); err == nil {
		t.Fatalf("expected missing verifier rejection")
	}
}

func TestCompleteRegistration_CredentialChecks(t *testing.T) {
	ctx := context.Background()
	fx := newRouterFixture(t)
	identity := core.DeriveIdentity([]byte("vault"))
	if err := fx.gatekeeper.PreRegister(ctx, identity); err != nil {
		t.Fatalf("pre-register: %v", err)
	}

	// Structural rejection happens before the verifier sees the blob.
	_, err := fx.router.CompleteRegistration(ctx, core.CompleteRegistrationRequest{
		Integration:    identity,
		Implementation: identity,
		Admin:          core.DeriveIdentity([]byte("vault-admin")),
		Credential:     make(core.Credential, 10),
	})
	if !errors.Is(err, core.ErrInvalidCredentialLength) {
		t.Fatalf("expected credential length rejection, got %v", err)
	}
	if fx.verifier.calls != 0 {
		t.Fatalf("expected verifier untouched on structural failure")
	}

	fx.verifier.err = fmt.Errorf("signature mismatch")
	ok, err := fx.router.CompleteRegistration(ctx, core.CompleteRegistrationRequest{
		Integration:    identity,
		Implementation: identity,
		Admin:          core.DeriveIdentity([]byte("vault-admin")),
		Credential:     make(core.Credential, core.CredentialLength),
	})
	if ok {
		t.Fatalf("expected failed verification to report false")
	}
	if !errors.Is(err, core.ErrRegistrationFailed) {
		t.Fatalf("expected registration failure wrap, got %v", err)
	}

	// A rejected attempt leaves the ledger pending for a retry.
	status, err := fx.gatekeeper.Status(ctx, identity)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Registration != core.RegistrationStatusPending {
		t.Fatalf("expected pending after rejection, got %q", status.Registration)
	}

	fx.verifier.err = nil
	fx.register(t, core.DeriveIdentity([]byte("vault-2")))
}

func TestDispatchProtectedCall_PermitAndDeny(t *testing.T) {
	ctx := context.Background()
	fx := newRouterFixture(t)
	identity := core.DeriveIdentity([]byte("vault"))
	fx.register(t, identity)

	marker := core.ModuleMarker{0x01, 0x02, 0x03, 0x04}
	module := &stubModule{marker: marker, verdict: true}
	if err := fx.router.Modules().Register(module); err != nil {
		t.Fatalf("register module: %v", err)
	}

	permitted, err := fx.router.DispatchProtectedCall(ctx, fx.dispatchRequest(identity, marker))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !permitted {
		t.Fatalf("expected permit verdict")
	}

	// Denial is a verdict, not an error.
	module.verdict = false
	permitted, err = fx.router.DispatchProtectedCall(ctx, fx.dispatchRequest(identity, marker))
	if err != nil {
		t.Fatalf("dispatch denial: %v", err)
	}
	if permitted {
		t.Fatalf("expected deny verdict")
	}

	// A module failure propagates and never degrades to a verdict.
	module.err = fmt.Errorf("config storage offline")
	_, err = fx.router.DispatchProtectedCall(ctx, fx.dispatchRequest(identity, marker))
	if !errors.Is(err, core.ErrDispatchFailed) {
		t.Fatalf("expected dispatch failure, got %v", err)
	}
}

func TestDispatchProtectedCall_StatusGating(t *testing.T) {
	ctx := context.Background()
	fx := newRouterFixture(t)
	marker := core.ModuleMarker{0x01, 0x02, 0x03, 0x04}
	module := &stubModule{marker: marker, verdict: true}
	if err := fx.router.Modules().Register(module); err != nil {
		t.Fatalf("register module: %v", err)
	}

	// Unregistered target reads as inactive.
	stranger := core.DeriveIdentity([]byte("stranger"))
	_, err := fx.router.DispatchProtectedCall(ctx, fx.dispatchRequest(stranger, marker))
	if !errors.Is(err, core.ErrIntegrationNotActive) {
		t.Fatalf("expected inactive rejection, got %v", err)
	}

	identity := core.DeriveIdentity([]byte("vault"))
	fx.register(t, identity)

	// Revoked integrations are refused outright.
	if err := fx.router.OverrideAuthorization(ctx, fx.operator, identity, core.AuthorizationStatusRevoked); err != nil {
		t.Fatalf("override revoked: %v", err)
	}
	_, err = fx.router.DispatchProtectedCall(ctx, fx.dispatchRequest(identity, marker))
	if !errors.Is(err, core.ErrIntegrationRevoked) {
		t.Fatalf("expected revoked rejection, got %v", err)
	}

	// Bypassed integrations are permitted without consulting a module.
	if err := fx.router.OverrideAuthorization(ctx, fx.operator, identity, core.AuthorizationStatusBypassed); err != nil {
		t.Fatalf("override bypassed: %v", err)
	}
	moduleCallsBefore := module.calls
	permitted, err := fx.router.DispatchProtectedCall(ctx, fx.dispatchRequest(identity, marker))
	if err != nil {
		t.Fatalf("dispatch bypassed: %v", err)
	}
	if !permitted {
		t.Fatalf("expected bypass permit")
	}
	if module.calls != moduleCallsBefore {
		t.Fatalf("expected module untouched under bypass")
	}
}

func TestDispatchProtectedCall_PayloadAndModuleGuards(t *testing.T) {
	ctx := context.Background()
	fx := newRouterFixture(t)
	identity := core.DeriveIdentity([]byte("vault"))
	fx.register(t, identity)

	// One byte short of the minimum header length.
	short := fx.dispatchRequest(identity, core.ModuleMarker{0x01, 0x02, 0x03, 0x04})
	short.Invocation = short.Invocation[:core.MinPayloadLength-1]
	short.PayloadLength = len(short.Invocation)
	_, err := fx.router.DispatchProtectedCall(ctx, short)
	if !errors.Is(err, core.ErrPayloadTooShort) {
		t.Fatalf("expected short payload rejection, got %v", err)
	}

	// No module registered for the marker.
	_, err = fx.router.DispatchProtectedCall(ctx, fx.dispatchRequest(identity, core.ModuleMarker{0xFF, 0xFF, 0xFF, 0xFF}))
	if !errors.Is(err, core.ErrModuleNotFound) {
		t.Fatalf("expected missing module rejection, got %v", err)
	}
}

func TestOverrides_RequireProtocolAdmin(t *testing.T) {
	ctx := context.Background()
	fx := newRouterFixture(t)
	identity := core.DeriveIdentity([]byte("vault"))
	fx.register(t, identity)

	err := fx.router.OverrideAuthorization(ctx, identity, identity, core.AuthorizationStatusBypassed)
	if !errors.Is(err, core.ErrNotProtocolAdmin) {
		t.Fatalf("expected operator gate, got %v", err)
	}
	err = fx.router.OverrideRegistrationBatch(ctx, core.Identity{}, []core.Identity{identity},
		[]core.RegistrationStatus{core.RegistrationStatusPending})
	if !errors.Is(err, core.ErrNotProtocolAdmin) {
		t.Fatalf("expected operator gate on batch, got %v", err)
	}

	if err := fx.router.OverrideRegistration(ctx, fx.operator, identity, core.RegistrationStatusPending); err != nil {
		t.Fatalf("operator override: %v", err)
	}
	status, err := fx.gatekeeper.Status(ctx, identity)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Registration != core.RegistrationStatusPending {
		t.Fatalf("expected pending after override, got %q", status.Registration)
	}
}

func TestModuleRegistry(t *testing.T) {
	registry := NewModuleRegistry()
	marker := core.ModuleMarker{0x0A, 0x0B, 0x0C, 0x0D}

	if err := registry.Register(&stubModule{marker: marker}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := registry.Register(&stubModule{marker: marker}); err == nil {
		t.Fatalf("expected duplicate marker rejection")
	}
	if _, ok := registry.Get(marker); !ok {
		t.Fatalf("expected module lookup")
	}
	if _, ok := registry.Get(core.ModuleMarker{}); ok {
		t.Fatalf("expected miss for unknown marker")
	}
	if got := len(registry.List()); got != 1 {
		t.Fatalf("expected one module, got %d", got)
	}
}
