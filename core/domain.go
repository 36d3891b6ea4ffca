package core

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrInvalidRegistrationStatusTransition  = errors.New("core: invalid registration status transition")
	ErrInvalidAuthorizationStatusTransition = errors.New("core: invalid authorization status transition")
	ErrUnknownRegistrationStatus            = errors.New("core: unknown registration status")
	ErrUnknownAuthorizationStatus           = errors.New("core: unknown authorization status")
)

// RegistrationStatus tracks how far an integration has progressed through
// the registration handshake. Transitions are monotonic; only an
// administrator override may move a status backwards.
type RegistrationStatus string

const (
	RegistrationStatusUnregistered RegistrationStatus = "unregistered"
	RegistrationStatusPending      RegistrationStatus = "pending"
	RegistrationStatusRegistered   RegistrationStatus = "registered"
)

func (s RegistrationStatus) Validate() error {
	switch s {
	case RegistrationStatusUnregistered, RegistrationStatusPending, RegistrationStatusRegistered:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownRegistrationStatus, string(s))
}

func registrationTransitionAllowed(current, next RegistrationStatus) bool {
	allowed := map[RegistrationStatus]map[RegistrationStatus]struct{}{
		RegistrationStatusUnregistered: {
			RegistrationStatusPending: {},
		},
		RegistrationStatusPending: {
			RegistrationStatusPending:    {},
			RegistrationStatusRegistered: {},
		},
		RegistrationStatusRegistered: {},
	}
	_, ok := allowed[current][next]
	return ok
}

// AuthorizationStatus tracks whether the protocol honors protected
// dispatches for an integration. ACTIVE is reachable only by completing
// registration; BYPASSED and REVOKED only through administrator overrides.
type AuthorizationStatus string

const (
	AuthorizationStatusInactive AuthorizationStatus = "inactive"
	AuthorizationStatusActive   AuthorizationStatus = "active"
	AuthorizationStatusBypassed AuthorizationStatus = "bypassed"
	AuthorizationStatusRevoked  AuthorizationStatus = "revoked"
)

func (s AuthorizationStatus) Validate() error {
	switch s {
	case AuthorizationStatusInactive, AuthorizationStatusActive,
		AuthorizationStatusBypassed, AuthorizationStatusRevoked:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrUnknownAuthorizationStatus, string(s))
}

func authorizationTransitionAllowed(current, next AuthorizationStatus) bool {
	allowed := map[AuthorizationStatus]map[AuthorizationStatus]struct{}{
		AuthorizationStatusInactive: {
			AuthorizationStatusActive: {},
		},
	}
	_, ok := allowed[current][next]
	return ok
}

// Registration is the ledger entry for one integration identity.
type Registration struct {
	Identity      Identity
	ProxyIdentity Identity
	Registration  RegistrationStatus
	Authorization AuthorizationStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewRegistration returns the ledger entry a fresh identity starts from.
func NewRegistration(identity Identity, now time.Time) Registration {
	return Registration{
		Identity:      identity,
		Registration:  RegistrationStatusUnregistered,
		Authorization: AuthorizationStatusInactive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// TransitionRegistration applies a caller-driven registration transition.
// Administrator overrides bypass this table via ForceRegistration.
func (r *Registration) TransitionRegistration(next RegistrationStatus, now time.Time) error {
	if r == nil {
		return nil
	}
	if err := next.Validate(); err != nil {
		return err
	}
	if !registrationTransitionAllowed(r.Registration, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidRegistrationStatusTransition, r.Registration, next)
	}
	r.Registration = next
	r.UpdatedAt = now
	return nil
}

// TransitionAuthorization applies a caller-driven authorization transition.
func (r *Registration) TransitionAuthorization(next AuthorizationStatus, now time.Time) error {
	if r == nil {
		return nil
	}
	if err := next.Validate(); err != nil {
		return err
	}
	if !authorizationTransitionAllowed(r.Authorization, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidAuthorizationStatusTransition, r.Authorization, next)
	}
	r.Authorization = next
	r.UpdatedAt = now
	return nil
}

// ForceRegistration overwrites the registration status unconditionally.
// Reserved for the protocol administrator's repair path.
func (r *Registration) ForceRegistration(next RegistrationStatus, now time.Time) error {
	if r == nil {
		return nil
	}
	if err := next.Validate(); err != nil {
		return err
	}
	r.Registration = next
	r.UpdatedAt = now
	return nil
}

// ForceAuthorization overwrites the authorization status unconditionally.
func (r *Registration) ForceAuthorization(next AuthorizationStatus, now time.Time) error {
	if r == nil {
		return nil
	}
	if err := next.Validate(); err != nil {
		return err
	}
	r.Authorization = next
	r.UpdatedAt = now
	return nil
}

// StatusPair is the read-only status projection exposed to any caller.
type StatusPair struct {
	Registration  RegistrationStatus
	Authorization AuthorizationStatus
}

// ProtectionFlag is one (identity, selector) gating flag. Flags default to
// disabled; an operation is only gated after its integration opts it in.
type ProtectionFlag struct {
	Identity  Identity
	Selector  Selector
	Enabled   bool
	UpdatedAt time.Time
}

// FlagUpdate pairs a selector with its next flag value inside a batch.
type FlagUpdate struct {
	Selector Selector
	Enabled  bool
}

// ZipFlagUpdates validates the parallel-array batch contract and pairs the
// inputs. It must be called before any mutation so a mismatched batch never
// partially applies.
func ZipFlagUpdates(selectors []Selector, flags []bool) ([]FlagUpdate, error) {
	if len(selectors) != len(flags) {
		return nil, fmt.Errorf("%w: %d selectors, %d flags",
			ErrArrayLengthMismatch, len(selectors), len(flags))
	}
	updates := make([]FlagUpdate, 0, len(selectors))
	for i, sel := range selectors {
		updates = append(updates, FlagUpdate{Selector: sel, Enabled: flags[i]})
	}
	return updates, nil
}
