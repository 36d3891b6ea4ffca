package core

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"
)

// IdentitySize is the byte width of a participant identity.
const IdentitySize = 32

// SelectorSize is the byte width of an operation selector.
const SelectorSize = 4

// Identity names a participant: an integration, an implementation behind a
// proxy, a router, or an administrator. The zero value is never a valid
// participant.
type Identity [IdentitySize]byte

// Selector names one operation within an integration.
type Selector [SelectorSize]byte

// DeriveIdentity hashes the supplied construction inputs into a stable
// identity. The same inputs always derive the same identity, which is what
// lets a ledger entry survive across process restarts.
func DeriveIdentity(parts ...[]byte) Identity {
	hasher := blake3.New()
	for _, part := range parts {
		_, _ = hasher.Write(part)
	}
	var id Identity
	_, _ = hasher.Digest().Read(id[:])
	return id
}

// IdentityFromString decodes a hex-encoded identity, with or without a
// leading 0x prefix.
func IdentityFromString(input string) (Identity, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(input), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return Identity{}, fmt.Errorf("core: invalid identity encoding: %w", err)
	}
	if len(raw) != IdentitySize {
		return Identity{}, fmt.Errorf("core: identity must be %d bytes, got %d", IdentitySize, len(raw))
	}
	var id Identity
	copy(id[:], raw)
	return id, nil
}

// IsZero reports whether the identity is the unset sentinel.
func (i Identity) IsZero() bool {
	return i == Identity{}
}

func (i Identity) String() string {
	return "0x" + hex.EncodeToString(i[:])
}

// SelectorFor derives the selector for a human-readable operation
// signature such as "transfer(identity,uint64)".
func SelectorFor(signature string) Selector {
	sum := blake3.Sum256([]byte(signature))
	var sel Selector
	copy(sel[:], sum[:SelectorSize])
	return sel
}

// SelectorFromBytes copies the first SelectorSize bytes of raw into a
// selector. It errors when raw is too short.
func SelectorFromBytes(raw []byte) (Selector, error) {
	if len(raw) < SelectorSize {
		return Selector{}, fmt.Errorf("core: selector must be %d bytes, got %d", SelectorSize, len(raw))
	}
	var sel Selector
	copy(sel[:], raw[:SelectorSize])
	return sel, nil
}

func (s Selector) IsZero() bool {
	return s == Selector{}
}

func (s Selector) String() string {
	return "0x" + hex.EncodeToString(s[:])
}
