package query

import (
	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-protect/core"
)

var (
	_ gocmd.Querier[GetStatusMessage, core.StatusPair] = (*GetStatusQuery)(nil)
	_ gocmd.Querier[QueryFlagMessage, bool]            = (*QueryFlagQuery)(nil)
	_ gocmd.Querier[QueryFlagsMessage, []bool]         = (*QueryFlagsQuery)(nil)
)
