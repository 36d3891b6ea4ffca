// Package ratelimit implements a rate-limiting security module: protected
// calls are gated by a fixed window per (target, caller) pair, with adaptive
// backoff for callers that keep hammering an exhausted window.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-protect/core"
)

var ErrStateNotFound = errors.New("ratelimit: state not found")

// ProtectErrorRateLimited is the machine-readable text code carried by
// throttle envelopes.
const ProtectErrorRateLimited = "PROTECT_RATE_LIMITED"

// Key addresses one rate-limit bucket.
type Key struct {
	Identity core.Identity
	Caller   core.Identity
	Bucket   string
}

type State struct {
	Key            Key
	Limit          int
	Remaining      int
	WindowEnds     *time.Time
	ThrottledUntil *time.Time
	Attempts       int
	UpdatedAt      time.Time
}

type StateStore interface {
	Get(ctx context.Context, key Key) (State, error)
	Upsert(ctx context.Context, state State) error
}

type ThrottledError struct {
	Identity   core.Identity
	Bucket     string
	RetryAfter time.Duration
}

func (e ThrottledError) Error() string {
	return fmt.Sprintf(
		"ratelimit: identity %s bucket %q throttled for %s",
		e.Identity,
		strings.TrimSpace(e.Bucket),
		e.RetryAfter,
	)
}

func (e ThrottledError) ToProtectError() *goerrors.Error {
	metadata := map[string]any{
		"identity": e.Identity.String(),
		"bucket":   strings.TrimSpace(e.Bucket),
	}
	if e.RetryAfter > 0 {
		metadata["retry_after_ms"] = e.RetryAfter.Milliseconds()
	}
	return goerrors.New(e.Error(), goerrors.CategoryRateLimit).
		WithCode(http.StatusTooManyRequests).
		WithTextCode(ProtectErrorRateLimited).
		WithMetadata(metadata)
}

// FixedWindowPolicy allows Limit calls per Window for each key. Once a
// window is exhausted, further attempts push the bucket into a doubling
// throttle hold, so a misbehaving caller backs off harder the longer it
// keeps trying.
type FixedWindowPolicy struct {
	Store          StateStore
	Now            func() time.Time
	Limit          int
	Window         time.Duration
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func NewFixedWindowPolicy(store StateStore, limit int, window time.Duration) *FixedWindowPolicy {
	return &FixedWindowPolicy{
		Store:          store,
		Now:            func() time.Time { return time.Now().UTC() },
		Limit:          limit,
		Window:         window,
		InitialBackoff: time.Second,
		MaxBackoff:     time.Minute,
	}
}

// Allow consumes one slot from the key's window. A ThrottledError reports an
// exhausted window or an active hold; any other error is a store fault.
func (p *FixedWindowPolicy) Allow(ctx context.Context, key Key) error {
	if p == nil || p.Store == nil {
		return fmt.Errorf("ratelimit: policy is not configured")
	}
	if p.Limit <= 0 || p.Window <= 0 {
		return fmt.Errorf("ratelimit: limit and window must be positive")
	}
	key = normalizeKey(key)
	now := p.now()

	state, err := p.Store.Get(ctx, key)
	if err != nil && !errors.Is(err, ErrStateNotFound) {
		return err
	}
	if errors.Is(err, ErrStateNotFound) || state.WindowEnds == nil || !now.Before(*state.WindowEnds) {
		windowEnds := now.Add(p.Window)
		state = State{
			Key:        key,
			Limit:      p.Limit,
			Remaining:  p.Limit - 1,
			WindowEnds: &windowEnds,
			UpdatedAt:  now,
		}
		return p.Store.Upsert(ctx, state)
	}

	if until := state.ThrottledUntil; until != nil && now.Before(*until) {
		return ThrottledError{Identity: key.Identity, Bucket: key.Bucket, RetryAfter: until.Sub(now)}
	}
	if state.Remaining > 0 {
		state.Remaining--
		state.UpdatedAt = now
		return p.Store.Upsert(ctx, state)
	}

	state.Attempts++
	hold := p.nextBackoff(state.Attempts)
	until := now.Add(hold)
	state.ThrottledUntil = &until
	state.UpdatedAt = now
	if err := p.Store.Upsert(ctx, state); err != nil {
		return err
	}
	return ThrottledError{Identity: key.Identity, Bucket: key.Bucket, RetryAfter: hold}
}

func (p *FixedWindowPolicy) now() time.Time {
	if p != nil && p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

func (p *FixedWindowPolicy) nextBackoff(attempt int) time.Duration {
	initial := p.InitialBackoff
	if initial <= 0 {
		initial = time.Second
	}
	maximum := p.MaxBackoff
	if maximum <= 0 {
		maximum = time.Minute
	}
	if attempt <= 0 {
		return initial
	}
	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maximum {
			return maximum
		}
	}
	if delay > maximum {
		return maximum
	}
	return delay
}

func normalizeKey(key Key) Key {
	key.Bucket = strings.TrimSpace(strings.ToLower(key.Bucket))
	if key.Bucket == "" {
		key.Bucket = "default"
	}
	return key
}

type MemoryStateStore struct {
	mu    sync.RWMutex
	items map[string]State
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{items: map[string]State{}}
}

func (s *MemoryStateStore) Get(_ context.Context, key Key) (State, error) {
	if s == nil {
		return State{}, fmt.Errorf("ratelimit: state store is nil")
	}
	normalized := normalizeKey(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.items[stateKey(normalized)]
	if !ok {
		return State{}, ErrStateNotFound
	}
	return state, nil
}

func (s *MemoryStateStore) Upsert(_ context.Context, state State) error {
	if s == nil {
		return fmt.Errorf("ratelimit: state store is nil")
	}
	state.Key = normalizeKey(state.Key)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[stateKey(state.Key)] = state
	return nil
}

func stateKey(key Key) string {
	return key.Identity.String() + "|" + key.Caller.String() + "|" + key.Bucket
}
