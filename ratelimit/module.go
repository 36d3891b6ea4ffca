package ratelimit

import (
	"context"
	"errors"
	"fmt"

	"github.com/goliatone/go-protect/core"
)

// DefaultMarker routes invocations to the rate-limiting module.
var DefaultMarker = core.ModuleMarker{'r', 'a', 't', 'e'}

type ModuleOption func(*Module)

// Module adapts the fixed-window policy to the security-module contract: an
// exhausted window is a deny verdict, a store fault is an error.
type Module struct {
	marker core.ModuleMarker
	policy *FixedWindowPolicy
	logger core.Logger
}

func WithMarker(marker core.ModuleMarker) ModuleOption {
	return func(m *Module) {
		m.marker = marker
	}
}

func WithLogger(logger core.Logger) ModuleOption {
	return func(m *Module) {
		m.logger = logger
	}
}

func NewModule(policy *FixedWindowPolicy, opts ...ModuleOption) (*Module, error) {
	if policy == nil {
		return nil, fmt.Errorf("ratelimit: policy is required")
	}
	module := &Module{
		marker: DefaultMarker,
		policy: policy,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(module)
	}
	return module, nil
}

func (m *Module) Marker() core.ModuleMarker {
	if m == nil {
		return core.ModuleMarker{}
	}
	return m.marker
}

// Approve buckets the call by (target, caller, module ID) and consumes one
// window slot.
func (m *Module) Approve(ctx context.Context, req core.DispatchRequest) (bool, error) {
	if m == nil || m.policy == nil {
		return false, fmt.Errorf("ratelimit: module is not configured")
	}
	header, err := core.ParsePayloadHeader(req.Invocation)
	if err != nil {
		return false, err
	}
	err = m.policy.Allow(ctx, Key{
		Identity: req.Target,
		Caller:   req.Caller,
		Bucket:   header.ModuleID.String(),
	})
	if err == nil {
		return true, nil
	}
	var throttled ThrottledError
	if errors.As(err, &throttled) {
		m.logDenied(ctx, req, throttled)
		return false, nil
	}
	return false, err
}

func (m *Module) logDenied(ctx context.Context, req core.DispatchRequest, throttled ThrottledError) {
	if m == nil || m.logger == nil {
		return
	}
	logger := m.logger
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	if fieldsLogger, ok := logger.(core.FieldsLogger); ok {
		logger = fieldsLogger.WithFields(map[string]any{
			"identity":    req.Target.String(),
			"caller":      req.Caller.String(),
			"bucket":      throttled.Bucket,
			"retry_after": throttled.RetryAfter.String(),
		})
	}
	logger.Info("rate limit exceeded")
}

var _ core.SecurityModule = (*Module)(nil)
