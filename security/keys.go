// Package security supplies the registrar-credential machinery the router's
// credential verifier is built on: signing-key providers with rotation
// windows and failover, and the HMAC verifier that checks 65-byte registrar
// credentials.
package security

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"strings"
)

// SigningKeyProvider resolves registrar signing-key material by version.
// Version 0 asks for the active key.
type SigningKeyProvider interface {
	SigningKey(ctx context.Context, version int) ([]byte, error)
	ActiveVersion() int
}

type StaticKeyOption func(*StaticKeyProvider)

// StaticKeyProvider serves a single key version from in-process material,
// the deployment-local configuration case.
type StaticKeyProvider struct {
	key     []byte
	keyID   string
	version int
}

func WithKeyID(id string) StaticKeyOption {
	return func(provider *StaticKeyProvider) {
		trimmed := strings.TrimSpace(id)
		if trimmed != "" {
			provider.keyID = trimmed
		}
	}
}

func WithKeyVersion(version int) StaticKeyOption {
	return func(provider *StaticKeyProvider) {
		if version > 0 {
			provider.version = version
		}
	}
}

func NewStaticKeyProvider(keyMaterial []byte, opts ...StaticKeyOption) (*StaticKeyProvider, error) {
	key := bytes.TrimSpace(keyMaterial)
	if len(key) == 0 {
		return nil, fmt.Errorf("security: key material is required")
	}
	provider := &StaticKeyProvider{
		key:     normalizeKey(key),
		keyID:   "registrar-key",
		version: 1,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(provider)
	}
	return provider, nil
}

func NewStaticKeyProviderFromString(key string, opts ...StaticKeyOption) (*StaticKeyProvider, error) {
	return NewStaticKeyProvider([]byte(key), opts...)
}

func (p *StaticKeyProvider) SigningKey(_ context.Context, version int) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("security: key provider is nil")
	}
	if version != 0 && version != p.version {
		return nil, fmt.Errorf("security: key version %d is not configured (serving %d)", version, p.version)
	}
	key := make([]byte, len(p.key))
	copy(key, p.key)
	return key, nil
}

func (p *StaticKeyProvider) ActiveVersion() int {
	if p == nil {
		return 0
	}
	return p.version
}

func (p *StaticKeyProvider) KeyID() string {
	if p == nil {
		return ""
	}
	return p.keyID
}

func (p *StaticKeyProvider) Metadata() (string, int) {
	return p.KeyID(), p.ActiveVersion()
}

// normalizeKey stretches free-form secrets to a uniform width; material that
// is already a standard key size passes through untouched.
func normalizeKey(value []byte) []byte {
	if len(value) == 16 || len(value) == 24 || len(value) == 32 {
		key := make([]byte, len(value))
		copy(key, value)
		return key
	}
	sum := sha256.Sum256(value)
	key := make([]byte, len(sum))
	copy(key, sum[:])
	return key
}

var _ SigningKeyProvider = (*StaticKeyProvider)(nil)
