package query

import (
	"github.com/goliatone/go-protect/core"
)

const (
	TypeGetStatus  = "protect.query.status.get"
	TypeQueryFlag  = "protect.query.flag.get"
	TypeQueryFlags = "protect.query.flags.batch"
)

type GetStatusMessage struct {
	Identity core.Identity
}

func (GetStatusMessage) Type() string { return TypeGetStatus }

func (m GetStatusMessage) Validate() error {
	if m.Identity.IsZero() {
		return queryValidationError("identity", "integration identity is required")
	}
	return nil
}

type QueryFlagMessage struct {
	Identity core.Identity
	Selector core.Selector
}

func (QueryFlagMessage) Type() string { return TypeQueryFlag }

func (m QueryFlagMessage) Validate() error {
	if m.Identity.IsZero() {
		return queryValidationError("identity", "integration identity is required")
	}
	return nil
}

type QueryFlagsMessage struct {
	Identity  core.Identity
	Selectors []core.Selector
}

func (QueryFlagsMessage) Type() string { return TypeQueryFlags }

func (m QueryFlagsMessage) Validate() error {
	if m.Identity.IsZero() {
		return queryValidationError("identity", "integration identity is required")
	}
	if len(m.Selectors) == 0 {
		return queryValidationError("selectors", "at least one selector is required")
	}
	return nil
}
