package integration

import (
	"context"
	"errors"
	"testing"

	"github.com/goliatone/go-protect/core"
)

type fakeLedger struct {
	fakeRegistrar

	flags    map[core.Selector]bool
	queryErr error

	updateCaller   core.Identity
	updateIdentity core.Identity

	preAuthCaller core.Identity
	preAuthNew    core.Identity
	preAuthErr    error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{flags: make(map[core.Selector]bool)}
}

func (l *fakeLedger) UpdateFlags(_ context.Context, caller, identity core.Identity, selectors []core.Selector, flags []bool) error {
	l.updateCaller = caller
	l.updateIdentity = identity
	updates, err := core.ZipFlagUpdates(selectors, flags)
	if err != nil {
		return err
	}
	for _, update := range updates {
		l.flags[update.Selector] = update.Enabled
	}
	return nil
}

func (l *fakeLedger) QueryFlag(_ context.Context, _ core.Identity, selector core.Selector) (bool, error) {
	if l.queryErr != nil {
		return false, l.queryErr
	}
	return l.flags[selector], nil
}

func (l *fakeLedger) PreAuthorizeUpgrade(_ context.Context, caller, newIdentity core.Identity) error {
	l.preAuthCaller = caller
	l.preAuthNew = newIdentity
	return l.preAuthErr
}

type proxyFixture struct {
	proxy      *ProxyIntegration
	ledger     *fakeLedger
	dispatcher *fakeDispatcher
	admin      core.Identity
	proxyID    core.Identity
}

func newProxyFixture(t *testing.T, initialize bool) *proxyFixture {
	t.Helper()
	ledger := newFakeLedger()
	dispatcher := &fakeDispatcher{completeOK: true, verdict: true}
	proxyID := core.DeriveIdentity([]byte("proxy-shell"))
	instance, err := NewProxy(context.Background(), ProxyConfig{
		Name:       "vault-logic",
		Version:    "2.0.0",
		Proxy:      proxyID,
		GateKeeper: ledger,
		Router:     dispatcher,
	})
	if err != nil {
		t.Fatalf("new proxy integration: %v", err)
	}
	adminIdentity := core.DeriveIdentity([]byte("security-admin"))
	if initialize {
		if err := instance.Initialize(context.Background(), adminIdentity); err != nil {
			t.Fatalf("initialize: %v", err)
		}
	}
	return &proxyFixture{
		proxy:      instance,
		ledger:     ledger,
		dispatcher: dispatcher,
		admin:      adminIdentity,
		proxyID:    proxyID,
	}
}

func TestNewProxy_RequiresCollaborators(t *testing.T) {
	ctx := context.Background()
	ledger := newFakeLedger()
	dispatcher := &fakeDispatcher{}
	proxyID := core.DeriveIdentity([]byte("proxy-shell"))

	if _, err := NewProxy(ctx, ProxyConfig{Proxy: proxyID, Router: dispatcher}); err == nil {
		t.Fatalf("expected missing gatekeeper rejection")
	}
	if _, err := NewProxy(ctx, ProxyConfig{Proxy: proxyID, GateKeeper: ledger}); err == nil {
		t.Fatalf("expected missing router rejection")
	}
	if _, err := NewProxy(ctx, ProxyConfig{GateKeeper: ledger, Router: dispatcher, Name: "vault-logic"}); err == nil {
		t.Fatalf("expected missing proxy identity rejection")
	}
}

func TestNewProxy_PreRegistersImplementation(t *testing.T) {
	fx := newProxyFixture(t, false)

	want := core.DeriveIdentity([]byte("vault-logic"), []byte("2.0.0"))
	if fx.proxy.ImplementationIdentity() != want {
		t.Fatalf("expected derived implementation identity %s, got %s", want, fx.proxy.ImplementationIdentity())
	}
	if fx.proxy.ProxyIdentity() != fx.proxyID {
		t.Fatalf("expected proxy identity preserved")
	}
	if fx.ledger.calls != 1 || fx.ledger.last != want {
		t.Fatalf("expected implementation identity pre-registered")
	}
}

func TestProxy_InitializeSeatsAdminExactlyOnce(t *testing.T) {
	ctx := context.Background()
	fx := newProxyFixture(t, false)
	credential := make(core.Credential, core.CredentialLength)

	// Privileged operations are unavailable until an admin is seated.
	err := fx.proxy.RegisterWithDefaults(ctx, fx.admin, credential, nil)
	if !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected uninitialized rejection, got %v", err)
	}
	err = fx.proxy.UpdateFlags(ctx, fx.admin, nil, nil)
	if !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected uninitialized rejection on flags, got %v", err)
	}
	if !fx.proxy.Admin().IsZero() {
		t.Fatalf("expected no admin before initialization")
	}

	if err := fx.proxy.Initialize(ctx, core.Identity{}); err == nil {
		t.Fatalf("expected zero admin rejection")
	}
	if err := fx.proxy.Initialize(ctx, fx.admin); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := fx.proxy.Initialize(ctx, fx.admin); err == nil {
		t.Fatalf("expected repeat initialization rejection")
	}
	if fx.proxy.Admin() != fx.admin {
		t.Fatalf("expected admin seated")
	}
}

func TestProxyGuard_FlagOfRecordLivesInLedger(t *testing.T) {
	ctx := context.Background()
	fx := newProxyFixture(t, true)
	selector := core.SelectorFor("withdraw(uint64)")
	impl := fx.proxy.ImplementationIdentity()

	// Disabled flag proceeds without dispatch.
	ran := false
	if err := fx.proxy.Guard(ctx, guardedCall(impl, selector, nil), func(context.Context) error {
		ran = true
		return nil
	}); err != nil {
		t.Fatalf("guard: %v", err)
	}
	if !ran || fx.dispatcher.dispatchCalls != 0 {
		t.Fatalf("expected body without dispatch for disabled flag")
	}

	// Target must be the implementation identity, never the proxy shell.
	err := fx.proxy.Guard(ctx, guardedCall(fx.proxyID, selector, nil), func(context.Context) error {
		t.Fatalf("body must not run for proxy-shell target")
		return nil
	})
	if !errors.Is(err, core.ErrDelegationNotPermitted) {
		t.Fatalf("expected delegation rejection, got %v", err)
	}

	if err := fx.proxy.UpdateFlags(ctx, fx.admin, []core.Selector{selector}, []bool{true}); err != nil {
		t.Fatalf("update flags: %v", err)
	}
	if fx.ledger.updateCaller != impl || fx.ledger.updateIdentity != impl {
		t.Fatalf("expected self-referential ledger update keyed by implementation identity")
	}

	if err := fx.proxy.Guard(ctx, guardedCall(impl, selector, fullPayload()), func(context.Context) error {
		return nil
	}); err != nil {
		t.Fatalf("guard enabled: %v", err)
	}
	if fx.dispatcher.dispatchCalls != 1 || fx.dispatcher.lastDispatch.Target != impl {
		t.Fatalf("expected one dispatch keyed by implementation identity")
	}
}

func TestProxyGuard_FlagLookupFailureFailsCall(t *testing.T) {
	ctx := context.Background()
	fx := newProxyFixture(t, true)
	fx.ledger.queryErr = core.ErrNotRegistered

	// An un-repaired upgrade leaves the implementation identity unknown to
	// the ledger; every guarded call fails rather than silently proceeding.
	err := fx.proxy.Guard(ctx, guardedCall(fx.proxy.ImplementationIdentity(), core.SelectorFor("withdraw(uint64)"), nil), func(context.Context) error {
		t.Fatalf("body must not run when the flag of record is unreadable")
		return nil
	})
	if !errors.Is(err, core.ErrNotRegistered) {
		t.Fatalf("expected ledger failure propagation, got %v", err)
	}
}

func TestProxy_RegisterWithDefaultsPairsProxyAndImplementation(t *testing.T) {
	ctx := context.Background()
	fx := newProxyFixture(t, true)
	credential := make(core.Credential, core.CredentialLength)
	selector := core.SelectorFor("withdraw(uint64)")

	err := fx.proxy.RegisterWithDefaults(ctx, core.DeriveIdentity([]byte("impostor")), credential, nil)
	if !errors.Is(err, core.ErrNotAdmin) {
		t.Fatalf("expected admin gate, got %v", err)
	}

	if err := fx.proxy.RegisterWithDefaults(ctx, fx.admin, credential, []core.Selector{selector}); err != nil {
		t.Fatalf("register with defaults: %v", err)
	}
	if fx.dispatcher.lastComplete.Integration != fx.proxyID {
		t.Fatalf("expected proxy identity as integration")
	}
	if fx.dispatcher.lastComplete.Implementation != fx.proxy.ImplementationIdentity() {
		t.Fatalf("expected implementation identity on registration request")
	}
	enabled, err := fx.proxy.QueryFlag(ctx, selector)
	if err != nil {
		t.Fatalf("query flag: %v", err)
	}
	if !enabled {
		t.Fatalf("expected default selector enabled after registration")
	}
}

func TestProxy_PreAuthorizeNewImplementation(t *testing.T) {
	ctx := context.Background()
	fx := newProxyFixture(t, true)
	next := core.DeriveIdentity([]byte("vault-logic"), []byte("3.0.0"))

	err := fx.proxy.PreAuthorizeNewImplementation(ctx, core.DeriveIdentity([]byte("impostor")), next)
	if !errors.Is(err, core.ErrNotAdmin) {
		t.Fatalf("expected admin gate, got %v", err)
	}

	if err := fx.proxy.PreAuthorizeNewImplementation(ctx, fx.admin, next); err != nil {
		t.Fatalf("pre-authorize: %v", err)
	}
	if fx.ledger.preAuthCaller != fx.proxy.ImplementationIdentity() {
		t.Fatalf("expected current implementation as signal caller")
	}
	if fx.ledger.preAuthNew != next {
		t.Fatalf("expected successor identity forwarded")
	}
}
