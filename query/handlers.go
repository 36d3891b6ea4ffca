package query

import (
	"context"

	"github.com/goliatone/go-protect/core"
)

// StatusReader exposes the ledger's status view.
type StatusReader interface {
	Status(ctx context.Context, identity core.Identity) (core.StatusPair, error)
}

// FlagReader exposes protection-flag reads.
type FlagReader interface {
	QueryFlag(ctx context.Context, identity core.Identity, selector core.Selector) (bool, error)
	QueryFlags(ctx context.Context, identity core.Identity, selectors []core.Selector) ([]bool, error)
}

type GetStatusQuery struct {
	reader StatusReader
}

func NewGetStatusQuery(reader StatusReader) *GetStatusQuery {
	return &GetStatusQuery{reader: reader}
}

func (q *GetStatusQuery) Query(ctx context.Context, msg GetStatusMessage) (core.StatusPair, error) {
	if q == nil || q.reader == nil {
		return core.StatusPair{}, queryDependencyError("query: status reader is required")
	}
	return q.reader.Status(ctx, msg.Identity)
}

type QueryFlagQuery struct {
	reader FlagReader
}

func NewQueryFlagQuery(reader FlagReader) *QueryFlagQuery {
	return &QueryFlagQuery{reader: reader}
}

func (q *QueryFlagQuery) Query(ctx context.Context, msg QueryFlagMessage) (bool, error) {
	if q == nil || q.reader == nil {
		return false, queryDependencyError("query: flag reader is required")
	}
	return q.reader.QueryFlag(ctx, msg.Identity, msg.Selector)
}

type QueryFlagsQuery struct {
	reader FlagReader
}

func NewQueryFlagsQuery(reader FlagReader) *QueryFlagsQuery {
	return &QueryFlagsQuery{reader: reader}
}

func (q *QueryFlagsQuery) Query(ctx context.Context, msg QueryFlagsMessage) ([]bool, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: flag reader is required")
	}
	return q.reader.QueryFlags(ctx, msg.Identity, msg.Selectors)
}
