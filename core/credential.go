package core

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
)

// CredentialLength is the exact size of a registrar credential blob. The
// contents are opaque to the protocol; semantic validity is decided by an
// external CredentialVerifier.
const CredentialLength = 65

// Credential is the registrar-issued signature presented when an
// integration completes registration.
type Credential []byte

// Validate performs the structural check the router runs before handing the
// blob to the verifier.
func (c Credential) Validate() error {
	if len(c) != CredentialLength {
		return fmt.Errorf("%w: need %d bytes, got %d",
			ErrInvalidCredentialLength, CredentialLength, len(c))
	}
	return nil
}

// CredentialFromString decodes a hex-encoded credential blob.
func CredentialFromString(input string) (Credential, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(input), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return nil, fmt.Errorf("core: invalid credential encoding: %w", err)
	}
	cred := Credential(raw)
	if err := cred.Validate(); err != nil {
		return nil, err
	}
	return cred, nil
}

// CredentialVerifier is the opaque valid/invalid oracle consulted during
// registration. Key material and signature schemes live outside this module.
type CredentialVerifier interface {
	Verify(ctx context.Context, identity Identity, admin Identity, credential Credential) error
}
