package core

import (
	"errors"
	"testing"
	"time"
)

func testClock() time.Time {
	return time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
}

func TestRegistrationTransitions_Monotonic(t *testing.T) {
	now := testClock()
	identity := DeriveIdentity([]byte("vault"))

	reg := NewRegistration(identity, now)
	if reg.Registration != RegistrationStatusUnregistered {
		t.Fatalf("expected unregistered start, got %q", reg.Registration)
	}
	if reg.Authorization != AuthorizationStatusInactive {
		t.Fatalf("expected inactive start, got %q", reg.Authorization)
	}

	if err := reg.TransitionRegistration(RegistrationStatusPending, now); err != nil {
		t.Fatalf("unregistered -> pending: %v", err)
	}
	if err := reg.TransitionRegistration(RegistrationStatusPending, now); err != nil {
		t.Fatalf("pending -> pending should be permitted: %v", err)
	}
	if err := reg.TransitionRegistration(RegistrationStatusRegistered, now); err != nil {
		t.Fatalf("pending -> registered: %v", err)
	}

	err := reg.TransitionRegistration(RegistrationStatusPending, now)
	if !errors.Is(err, ErrInvalidRegistrationStatusTransition) {
		t.Fatalf("expected registered -> pending rejection, got %v", err)
	}
	err = reg.TransitionRegistration(RegistrationStatusUnregistered, now)
	if !errors.Is(err, ErrInvalidRegistrationStatusTransition) {
		t.Fatalf("expected backwards transition rejection, got %v", err)
	}
}

func TestRegistrationTransitions_SkipPendingRejected(t *testing.T) {
	reg := NewRegistration(DeriveIdentity([]byte("vault")), testClock())
	err := reg.TransitionRegistration(RegistrationStatusRegistered, testClock())
	if !errors.Is(err, ErrInvalidRegistrationStatusTransition) {
		t.Fatalf("expected unregistered -> registered rejection, got %v", err)
	}
}

func TestAuthorizationTransitions_OnlyInactiveToActive(t *testing.T) {
	now := testClock()
	reg := NewRegistration(DeriveIdentity([]byte("vault")), now)

	if err := reg.TransitionAuthorization(AuthorizationStatusActive, now); err != nil {
		t.Fatalf("inactive -> active: %v", err)
	}

	for _, next := range []AuthorizationStatus{
		AuthorizationStatusBypassed,
		AuthorizationStatusRevoked,
		AuthorizationStatusInactive,
	} {
		err := reg.TransitionAuthorization(next, now)
		if !errors.Is(err, ErrInvalidAuthorizationStatusTransition) {
			t.Fatalf("expected active -> %s rejection, got %v", next, err)
		}
	}
}

func TestAuthorizationTransitions_RevokedIsTerminal(t *testing.T) {
	now := testClock()
	reg := NewRegistration(DeriveIdentity([]byte("vault")), now)
	if err := reg.ForceAuthorization(AuthorizationStatusRevoked, now); err != nil {
		t.Fatalf("force revoked: %v", err)
	}

	for _, next := range []AuthorizationStatus{
		AuthorizationStatusActive,
		AuthorizationStatusBypassed,
		AuthorizationStatusInactive,
	} {
		err := reg.TransitionAuthorization(next, now)
		if !errors.Is(err, ErrInvalidAuthorizationStatusTransition) {
			t.Fatalf("expected revoked -> %s rejection, got %v", next, err)
		}
	}
}

func TestForceTransitions_BypassTableButValidateStatus(t *testing.T) {
	now := testClock()
	reg := NewRegistration(DeriveIdentity([]byte("vault")), now)

	if err := reg.ForceRegistration(RegistrationStatusRegistered, now); err != nil {
		t.Fatalf("force registered: %v", err)
	}
	if err := reg.ForceRegistration(RegistrationStatusUnregistered, now); err != nil {
		t.Fatalf("force backwards should be permitted: %v", err)
	}
	if err := reg.ForceAuthorization(AuthorizationStatusBypassed, now); err != nil {
		t.Fatalf("force bypassed: %v", err)
	}

	if err := reg.ForceRegistration(RegistrationStatus("limbo"), now); !errors.Is(err, ErrUnknownRegistrationStatus) {
		t.Fatalf("expected unknown registration status rejection, got %v", err)
	}
	if err := reg.ForceAuthorization(AuthorizationStatus("limbo"), now); !errors.Is(err, ErrUnknownAuthorizationStatus) {
		t.Fatalf("expected unknown authorization status rejection, got %v", err)
	}
}

func TestZipFlagUpdates(t *testing.T) {
	selA := SelectorFor("withdraw(identity,uint64)")
	selB := SelectorFor("pause()")

	updates, err := ZipFlagUpdates([]Selector{selA, selB}, []bool{true, false})
	if err != nil {
		t.Fatalf("zip: %v", err)
	}
	if len(updates) != 2 {
		t.Fatalf("expected two updates, got %d", len(updates))
	}
	if updates[0].Selector != selA || !updates[0].Enabled {
		t.Fatalf("unexpected first update: %#v", updates[0])
	}
	if updates[1].Selector != selB || updates[1].Enabled {
		t.Fatalf("unexpected second update: %#v", updates[1])
	}

	if _, err := ZipFlagUpdates([]Selector{selA}, []bool{true, false}); !errors.Is(err, ErrArrayLengthMismatch) {
		t.Fatalf("expected length mismatch rejection, got %v", err)
	}
}

func TestCredentialValidate(t *testing.T) {
	if err := (Credential(make([]byte, CredentialLength))).Validate(); err != nil {
		t.Fatalf("expected 65-byte credential to validate: %v", err)
	}
	if err := (Credential(make([]byte, CredentialLength-1))).Validate(); !errors.Is(err, ErrInvalidCredentialLength) {
		t.Fatalf("expected short credential rejection, got %v", err)
	}
	if err := (Credential(make([]byte, CredentialLength+1))).Validate(); !errors.Is(err, ErrInvalidCredentialLength) {
		t.Fatalf("expected long credential rejection, got %v", err)
	}
}
