package protect

import "github.com/goliatone/go-protect/core"

type Config = core.Config

type RouterConfig = core.RouterConfig

type Option = core.Option

type GateKeeper = core.GateKeeper

type Identity = core.Identity
type Selector = core.Selector
type Credential = core.Credential

type RegistrationStatus = core.RegistrationStatus
type AuthorizationStatus = core.AuthorizationStatus
type StatusPair = core.StatusPair
type Registration = core.Registration
type FlagUpdate = core.FlagUpdate

type RegistrationStore = core.RegistrationStore
type FlagStore = core.FlagStore
type OutboxStore = core.OutboxStore
type EventSink = core.EventSink
type SecurityModule = core.SecurityModule
type CredentialVerifier = core.CredentialVerifier

type DispatchRequest = core.DispatchRequest
type CompleteRegistrationRequest = core.CompleteRegistrationRequest

var (
	WithLogger            = core.WithLogger
	WithLoggerProvider    = core.WithLoggerProvider
	WithMetricsRecorder   = core.WithMetricsRecorder
	WithErrorFactory      = core.WithErrorFactory
	WithErrorMapper       = core.WithErrorMapper
	WithConfigProvider    = core.WithConfigProvider
	WithOptionsResolver   = core.WithOptionsResolver
	WithPersistenceClient = core.WithPersistenceClient
	WithRepositoryFactory = core.WithRepositoryFactory
	WithRegistrationStore = core.WithRegistrationStore
	WithFlagStore         = core.WithFlagStore
	WithEventSink         = core.WithEventSink
	WithClock             = core.WithClock
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

func NewGateKeeper(cfg Config, opts ...Option) (*GateKeeper, error) {
	return core.NewGateKeeper(cfg, opts...)
}

func DeriveIdentity(parts ...[]byte) Identity {
	return core.DeriveIdentity(parts...)
}

func SelectorFor(signature string) Selector {
	return core.SelectorFor(signature)
}
