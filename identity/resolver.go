// Package identity resolves operator-supplied references into ledger
// identities. A reference is a hex identity, a name@version derivation
// input, or an alias looked up in a directory.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-protect/core"
)

const (
	defaultRequestTimeout     = 10 * time.Second
	maxDirectoryResponseBytes = 1 << 16 // 64 KiB
)

var ErrIdentityNotFound = errors.New("identity: identity not found")

// ProtectErrorIdentityNotFound is the machine-readable text code carried by
// resolution-failure envelopes.
const ProtectErrorIdentityNotFound = "PROTECT_IDENTITY_NOT_FOUND"

type IdentityNotFoundError struct {
	Reference string
	Cause     error
}

func (e *IdentityNotFoundError) Error() string {
	if e == nil {
		return ErrIdentityNotFound.Error()
	}
	msg := ErrIdentityNotFound.Error()
	if strings.TrimSpace(e.Reference) != "" {
		msg += ": " + strings.TrimSpace(e.Reference)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *IdentityNotFoundError) Unwrap() error {
	if e == nil {
		return nil
	}
	if e.Cause == nil {
		return ErrIdentityNotFound
	}
	return errors.Join(ErrIdentityNotFound, e.Cause)
}

func (e *IdentityNotFoundError) ToProtectError() *goerrors.Error {
	message := ErrIdentityNotFound.Error()
	if e != nil {
		message = e.Error()
	}
	return goerrors.New(message, goerrors.CategoryNotFound).
		WithCode(http.StatusNotFound).
		WithTextCode(ProtectErrorIdentityNotFound)
}

func identityNotFound(reference string, cause error) error {
	return &IdentityNotFoundError{Reference: reference, Cause: cause}
}

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Directory looks aliases up in an external registry.
type Directory interface {
	Lookup(ctx context.Context, alias string) (core.Identity, error)
}

type Config struct {
	// Aliases maps local names to hex identities; consulted before the
	// directory.
	Aliases   map[string]string
	Directory Directory
}

type Resolver struct {
	aliases   map[string]core.Identity
	directory Directory
}

func NewResolver(cfg Config) (*Resolver, error) {
	aliases := make(map[string]core.Identity, len(cfg.Aliases))
	for alias, hexIdentity := range cfg.Aliases {
		normalized := normalizeAlias(alias)
		if normalized == "" {
			continue
		}
		parsed, err := core.IdentityFromString(hexIdentity)
		if err != nil {
			return nil, fmt.Errorf("identity: alias %q: %w", normalized, err)
		}
		aliases[normalized] = parsed
	}
	return &Resolver{aliases: aliases, directory: cfg.Directory}, nil
}

// Resolve maps one reference to a ledger identity. Resolution order: hex
// identity, name@version derivation, configured alias, directory lookup.
func (r *Resolver) Resolve(ctx context.Context, reference string) (core.Identity, error) {
	if r == nil {
		return core.Identity{}, identityNotFound(reference, nil)
	}
	trimmed := strings.TrimSpace(reference)
	if trimmed == "" {
		return core.Identity{}, identityNotFound(reference, fmt.Errorf("empty reference"))
	}

	if strings.HasPrefix(trimmed, "0x") || looksLikeHexIdentity(trimmed) {
		parsed, err := core.IdentityFromString(trimmed)
		if err != nil {
			return core.Identity{}, identityNotFound(trimmed, err)
		}
		return parsed, nil
	}

	if name, version, ok := strings.Cut(trimmed, "@"); ok {
		name = strings.TrimSpace(name)
		version = strings.TrimSpace(version)
		if name == "" || version == "" {
			return core.Identity{}, identityNotFound(trimmed, fmt.Errorf("malformed name@version reference"))
		}
		return core.DeriveIdentity([]byte(name), []byte(version)), nil
	}

	alias := normalizeAlias(trimmed)
	if resolved, ok := r.aliases[alias]; ok {
		return resolved, nil
	}
	if r.directory == nil {
		return core.Identity{}, identityNotFound(trimmed, nil)
	}
	resolved, err := r.directory.Lookup(ctx, alias)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return core.Identity{}, err
		}
		return core.Identity{}, identityNotFound(trimmed, err)
	}
	if resolved.IsZero() {
		return core.Identity{}, identityNotFound(trimmed, nil)
	}
	return resolved, nil
}

func looksLikeHexIdentity(value string) bool {
	if len(value) != 64 {
		return false
	}
	for _, r := range value {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

func normalizeAlias(value string) string {
	return strings.TrimSpace(strings.ToLower(value))
}

// HTTPDirectory resolves aliases against a registry service exposing
// GET {base}/identities/{alias} returning {"identity": "0x..."}.
type HTTPDirectory struct {
	baseURL        string
	httpClient     HTTPDoer
	requestTimeout time.Duration
}

type HTTPDirectoryOption func(*HTTPDirectory)

func WithHTTPClient(client HTTPDoer) HTTPDirectoryOption {
	return func(d *HTTPDirectory) {
		if client != nil {
			d.httpClient = client
		}
	}
}

func WithRequestTimeout(timeout time.Duration) HTTPDirectoryOption {
	return func(d *HTTPDirectory) {
		if timeout > 0 {
			d.requestTimeout = timeout
		}
	}
}

func NewHTTPDirectory(baseURL string, opts ...HTTPDirectoryOption) (*HTTPDirectory, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("identity: directory base URL is required")
	}
	directory := &HTTPDirectory{
		baseURL:        trimmed,
		httpClient:     &http.Client{Timeout: defaultRequestTimeout},
		requestTimeout: defaultRequestTimeout,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(directory)
	}
	return directory, nil
}

func (d *HTTPDirectory) Lookup(ctx context.Context, alias string) (core.Identity, error) {
	if d == nil || d.httpClient == nil {
		return core.Identity{}, fmt.Errorf("identity: directory is not configured")
	}
	normalized := normalizeAlias(alias)
	if normalized == "" {
		return core.Identity{}, identityNotFound(alias, fmt.Errorf("empty alias"))
	}
	requestCtx := ctx
	cancel := func() {}
	if d.requestTimeout > 0 {
		requestCtx, cancel = context.WithTimeout(ctx, d.requestTimeout)
	}
	defer cancel()

	endpoint := d.baseURL + "/identities/" + url.PathEscape(normalized)
	req, err := http.NewRequestWithContext(requestCtx, http.MethodGet, endpoint, nil)
	if err != nil {
		return core.Identity{}, err
	}
	req.Header.Set("Accept", "application/json")

	res, err := d.httpClient.Do(req)
	if err != nil {
		return core.Identity{}, fmt.Errorf("identity: directory lookup: %w", err)
	}
	defer res.Body.Close()
	body, readErr := io.ReadAll(io.LimitReader(res.Body, maxDirectoryResponseBytes+1))
	if readErr != nil {
		return core.Identity{}, fmt.Errorf("identity: read directory response: %w", readErr)
	}
	if int64(len(body)) > maxDirectoryResponseBytes {
		return core.Identity{}, fmt.Errorf("identity: directory response exceeds %d bytes", maxDirectoryResponseBytes)
	}
	if res.StatusCode == http.StatusNotFound {
		return core.Identity{}, identityNotFound(normalized, nil)
	}
	if res.StatusCode < http.StatusOK || res.StatusCode >= http.StatusMultipleChoices {
		return core.Identity{}, fmt.Errorf("identity: directory returned status %d", res.StatusCode)
	}

	var payload struct {
		Identity string `json:"identity"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return core.Identity{}, fmt.Errorf("identity: decode directory response: %w", err)
	}
	resolved, err := core.IdentityFromString(payload.Identity)
	if err != nil {
		return core.Identity{}, fmt.Errorf("identity: directory returned malformed identity: %w", err)
	}
	return resolved, nil
}

var _ Directory = (*HTTPDirectory)(nil)
