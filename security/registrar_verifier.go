package security

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"fmt"

	"github.com/goliatone/go-protect/core"
)

// credentialContext domain-separates registrar tags from any other HMAC use
// of the same key material.
const credentialContext = "protect.registrar.v1"

const (
	credentialVersionOffset = 0
	credentialTagOffset     = 1
	credentialTagLength     = sha512.Size
)

// RegistrarVerifier checks 65-byte registrar credentials: one key-version
// byte followed by an HMAC-SHA512 tag over the (implementation, admin)
// identity pair. It implements the credential verifier contract the router
// consults during registration.
type RegistrarVerifier struct {
	keys SigningKeyProvider
}

func NewRegistrarVerifier(keys SigningKeyProvider) (*RegistrarVerifier, error) {
	if keys == nil {
		return nil, fmt.Errorf("security: signing key provider is required")
	}
	return &RegistrarVerifier{keys: keys}, nil
}

// IssueCredential mints a credential for the identity pair under the active
// key version. The registrar side of the protocol; hosts embed this next to
// the verifier in tests and provisioning tools.
func (v *RegistrarVerifier) IssueCredential(ctx context.Context, identity, admin core.Identity) (core.Credential, error) {
	if v == nil || v.keys == nil {
		return nil, fmt.Errorf("security: verifier is not configured")
	}
	version := v.keys.ActiveVersion()
	if version <= 0 || version > 0xFF {
		return nil, fmt.Errorf("security: active key version %d does not fit the credential version byte", version)
	}
	key, err := v.keys.SigningKey(ctx, version)
	if err != nil {
		return nil, err
	}
	credential := make(core.Credential, core.CredentialLength)
	credential[credentialVersionOffset] = byte(version)
	tag := credentialTag(key, identity, admin)
	copy(credential[credentialTagOffset:], tag)
	return credential, nil
}

// Verify recomputes the tag under the key version named by the credential
// and compares in constant time.
func (v *RegistrarVerifier) Verify(ctx context.Context, identity, admin core.Identity, credential core.Credential) error {
	if v == nil || v.keys == nil {
		return fmt.Errorf("security: verifier is not configured")
	}
	if err := credential.Validate(); err != nil {
		return err
	}
	version := int(credential[credentialVersionOffset])
	if version == 0 {
		return fmt.Errorf("security: credential names key version zero")
	}
	key, err := v.keys.SigningKey(ctx, version)
	if err != nil {
		return err
	}
	expected := credentialTag(key, identity, admin)
	if !hmac.Equal(expected, credential[credentialTagOffset:credentialTagOffset+credentialTagLength]) {
		return fmt.Errorf("security: credential tag mismatch for %s", identity)
	}
	return nil
}

func credentialTag(key []byte, identity, admin core.Identity) []byte {
	mac := hmac.New(sha512.New, key)
	mac.Write([]byte(credentialContext))
	mac.Write(identity[:])
	mac.Write(admin[:])
	return mac.Sum(nil)
}

var _ core.CredentialVerifier = (*RegistrarVerifier)(nil)
