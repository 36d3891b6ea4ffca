package security

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"
)

type KeyProviderFailurePolicy string

const (
	KeyProviderFailurePolicyStrict   KeyProviderFailurePolicy = "strict_fail"
	KeyProviderFailurePolicyFallback KeyProviderFailurePolicy = "fallback_allowed"
)

type KeyProviderDiagnostic struct {
	OccurredAt time.Time
	Version    int
	Policy     KeyProviderFailurePolicy
	Outcome    string
	Primary    string
	Fallback   string
	Error      string
}

type KeyProviderDiagnosticHook func(event KeyProviderDiagnostic)

type FailoverOption func(*FailoverKeyProvider)

// FailoverKeyProvider resolves key material from a primary provider and,
// under the fallback policy, retries a secondary one. Strict is the default:
// a primary failure fails the lookup.
type FailoverKeyProvider struct {
	primary        SigningKeyProvider
	fallback       SigningKeyProvider
	policy         KeyProviderFailurePolicy
	diagnosticHook KeyProviderDiagnosticHook
	now            func() time.Time
}

func NewFailoverKeyProvider(primary SigningKeyProvider, opts ...FailoverOption) (*FailoverKeyProvider, error) {
	if primary == nil {
		return nil, fmt.Errorf("security: primary key provider is required")
	}
	provider := &FailoverKeyProvider{
		primary: primary,
		policy:  KeyProviderFailurePolicyStrict,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(provider)
	}
	provider.policy = normalizeFailurePolicy(provider.policy)
	if provider.policy == KeyProviderFailurePolicyFallback && provider.fallback == nil {
		return nil, fmt.Errorf("security: fallback policy requires a configured fallback key provider")
	}
	if provider.now == nil {
		provider.now = func() time.Time { return time.Now().UTC() }
	}
	return provider, nil
}

func WithFallbackKeyProvider(provider SigningKeyProvider) FailoverOption {
	return func(f *FailoverKeyProvider) {
		if f == nil {
			return
		}
		f.fallback = provider
	}
}

func WithKeyProviderFailurePolicy(policy KeyProviderFailurePolicy) FailoverOption {
	return func(f *FailoverKeyProvider) {
		if f == nil {
			return
		}
		f.policy = normalizeFailurePolicy(policy)
	}
}

func WithKeyProviderDiagnostics(hook KeyProviderDiagnosticHook) FailoverOption {
	return func(f *FailoverKeyProvider) {
		if f == nil {
			return
		}
		f.diagnosticHook = hook
	}
}

func WithFailoverClock(now func() time.Time) FailoverOption {
	return func(f *FailoverKeyProvider) {
		if f == nil {
			return
		}
		f.now = now
	}
}

func (p *FailoverKeyProvider) SigningKey(ctx context.Context, version int) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("security: key provider is nil")
	}
	key, err := p.primary.SigningKey(ctx, version)
	if err == nil {
		return key, nil
	}
	p.emit(version, "primary_failed", err)
	if p.policy == KeyProviderFailurePolicyStrict || p.fallback == nil {
		return nil, fmt.Errorf("security: primary key lookup failed with %s policy: %w", p.policy, err)
	}
	fallbackKey, fallbackErr := p.fallback.SigningKey(ctx, version)
	if fallbackErr != nil {
		p.emit(version, "fallback_failed", fallbackErr)
		return nil, fmt.Errorf("security: primary key lookup failed: %v; fallback lookup failed: %w", err, fallbackErr)
	}
	p.emit(version, "fallback_succeeded", err)
	return fallbackKey, nil
}

func (p *FailoverKeyProvider) ActiveVersion() int {
	if p == nil || p.primary == nil {
		return 0
	}
	return p.primary.ActiveVersion()
}

func (p *FailoverKeyProvider) emit(version int, outcome string, err error) {
	if p == nil || p.diagnosticHook == nil {
		return
	}
	now := p.now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	p.diagnosticHook(KeyProviderDiagnostic{
		OccurredAt: now().UTC(),
		Version:    version,
		Policy:     p.policy,
		Outcome:    outcome,
		Primary:    describeKeyProvider(p.primary),
		Fallback:   describeKeyProvider(p.fallback),
		Error:      msg,
	})
}

func normalizeFailurePolicy(policy KeyProviderFailurePolicy) KeyProviderFailurePolicy {
	normalized := KeyProviderFailurePolicy(strings.ToLower(strings.TrimSpace(string(policy))))
	switch normalized {
	case KeyProviderFailurePolicyFallback:
		return KeyProviderFailurePolicyFallback
	default:
		return KeyProviderFailurePolicyStrict
	}
}

func describeKeyProvider(provider SigningKeyProvider) string {
	if provider == nil {
		return ""
	}
	label := reflect.TypeOf(provider).String()
	if metadataProvider, ok := provider.(interface{ Metadata() (string, int) }); ok {
		keyID, version := metadataProvider.Metadata()
		if strings.TrimSpace(keyID) != "" && version > 0 {
			return fmt.Sprintf("%s(%s:%d)", label, keyID, version)
		}
	}
	return label
}

var _ SigningKeyProvider = (*FailoverKeyProvider)(nil)
