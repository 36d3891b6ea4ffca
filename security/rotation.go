package security

import (
	"context"
	"fmt"
	"time"
)

// KeyRotationWindow gates when a key version is allowed to sign or verify.
type KeyRotationWindow struct {
	NotBefore time.Time
	NotAfter  time.Time
}

func (w KeyRotationWindow) Allows(at time.Time) bool {
	ts := at.UTC()
	if !w.NotBefore.IsZero() && ts.Before(w.NotBefore.UTC()) {
		return false
	}
	if !w.NotAfter.IsZero() && ts.After(w.NotAfter.UTC()) {
		return false
	}
	return true
}

type rotatedKey struct {
	key    []byte
	window KeyRotationWindow
}

type RotatingKeyOption func(*RotatingKeyProvider)

// RotatingKeyProvider serves versioned key material with per-version
// rotation windows. Credentials minted under a retired version keep
// verifying until that version's window closes; signing always uses the
// active version.
type RotatingKeyProvider struct {
	keys   map[int]rotatedKey
	active int
	now    func() time.Time
}

func WithRotationClock(now func() time.Time) RotatingKeyOption {
	return func(provider *RotatingKeyProvider) {
		if provider == nil || now == nil {
			return
		}
		provider.now = now
	}
}

// WithRetiredKey registers an older key version that remains valid for
// verification inside its window.
func WithRetiredKey(version int, keyMaterial []byte, window KeyRotationWindow) RotatingKeyOption {
	return func(provider *RotatingKeyProvider) {
		if provider == nil || version <= 0 || len(keyMaterial) == 0 {
			return
		}
		provider.keys[version] = rotatedKey{key: normalizeKey(keyMaterial), window: window}
	}
}

func NewRotatingKeyProvider(activeVersion int, keyMaterial []byte, opts ...RotatingKeyOption) (*RotatingKeyProvider, error) {
	if activeVersion <= 0 {
		return nil, fmt.Errorf("security: active key version must be greater than zero")
	}
	if len(keyMaterial) == 0 {
		return nil, fmt.Errorf("security: key material is required")
	}
	provider := &RotatingKeyProvider{
		keys:   map[int]rotatedKey{activeVersion: {key: normalizeKey(keyMaterial)}},
		active: activeVersion,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(provider)
	}
	return provider, nil
}

func (p *RotatingKeyProvider) SigningKey(_ context.Context, version int) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("security: key provider is nil")
	}
	if version == 0 {
		version = p.active
	}
	entry, ok := p.keys[version]
	if !ok {
		return nil, fmt.Errorf("security: key version %d is not configured", version)
	}
	if !entry.window.Allows(p.now()) {
		return nil, fmt.Errorf("security: key version %d is outside the configured rotation window", version)
	}
	key := make([]byte, len(entry.key))
	copy(key, entry.key)
	return key, nil
}

func (p *RotatingKeyProvider) ActiveVersion() int {
	if p == nil {
		return 0
	}
	return p.active
}

var _ SigningKeyProvider = (*RotatingKeyProvider)(nil)
