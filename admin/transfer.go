// Package admin provides the two-step security-admin transfer primitive
// that guards every privileged integration operation. A mistyped
// destination in a single-step reassignment would strand the integration;
// the pending/accept split means only a party that can prove control of the
// nominee identity ever becomes admin.
package admin

import (
	"context"
	"fmt"
	"sync"

	"github.com/goliatone/go-protect/core"
)

// Transfer tracks the current and pending security admin for one
// integration. There is deliberately no removal-without-replacement: an
// admin-less integration with protection enabled would become permanently
// unmanageable if the authority ever became unreachable.
type Transfer struct {
	mu      sync.RWMutex
	admin   core.Identity
	pending core.Identity
	events  core.EventSink
}

// NewTransfer seats the initial admin. The zero identity is rejected so no
// integration ever starts unmanaged.
func NewTransfer(initialAdmin core.Identity, events core.EventSink) (*Transfer, error) {
	if initialAdmin.IsZero() {
		return nil, fmt.Errorf("admin: initial admin identity is required")
	}
	if events == nil {
		events = core.NopEventSink{}
	}
	return &Transfer{admin: initialAdmin, events: events}, nil
}

// Admin returns the current security admin.
func (t *Transfer) Admin() core.Identity {
	if t == nil {
		return core.Identity{}
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.admin
}

// PendingAdmin returns the nominee, zero when no transfer is in flight.
func (t *Transfer) PendingAdmin() core.Identity {
	if t == nil {
		return core.Identity{}
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.pending
}

// IsAdmin reports whether caller is the current admin.
func (t *Transfer) IsAdmin(caller core.Identity) bool {
	return !caller.IsZero() && caller == t.Admin()
}

// TransferAdministration nominates a new admin. The current admin stays in
// control until the nominee accepts.
func (t *Transfer) TransferAdministration(ctx context.Context, caller, newAdmin core.Identity) error {
	if t == nil {
		return fmt.Errorf("admin: transfer is not configured")
	}
	if newAdmin.IsZero() {
		return fmt.Errorf("admin: new admin identity is required")
	}
	t.mu.Lock()
	if caller != t.admin {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", core.ErrNotAdmin, caller)
	}
	t.pending = newAdmin
	current := t.admin
	t.mu.Unlock()

	payload := map[string]any{
		"current_admin": current.String(),
		"pending_admin": newAdmin.String(),
	}
	return t.events.Record(ctx, core.NewEvent(core.EventAdminTransferStarted, current, payload))
}

// AcceptAdministration promotes the pending admin. Only the nominee may
// commit the transfer; success clears the pending slot.
func (t *Transfer) AcceptAdministration(ctx context.Context, caller core.Identity) error {
	if t == nil {
		return fmt.Errorf("admin: transfer is not configured")
	}
	t.mu.Lock()
	if caller.IsZero() || caller != t.pending {
		t.mu.Unlock()
		return fmt.Errorf("%w: %s", core.ErrNotPendingAdmin, caller)
	}
	previous := t.admin
	t.admin = caller
	t.pending = core.Identity{}
	t.mu.Unlock()

	payload := map[string]any{
		"previous_admin": previous.String(),
		"new_admin":      caller.String(),
	}
	return t.events.Record(ctx, core.NewEvent(core.EventAdminTransferCompleted, caller, payload))
}
