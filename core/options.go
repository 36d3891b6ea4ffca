package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
)

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type gateKeeperBuilder struct {
	runtimeConfig     Config
	logger            Logger
	loggerProvider    LoggerProvider
	metricsRecorder   MetricsRecorder
	errorFactory      ErrorFactory
	errorMapper       ErrorMapper
	configProvider    ConfigProvider
	optionsResolver   OptionsResolver
	persistenceClient any
	repositoryFactory any
	registrations     RegistrationStore
	flags             FlagStore
	events            EventSink
	clock             Clock
}

type Option func(*gateKeeperBuilder)

func WithLogger(logger Logger) Option {
	return func(b *gateKeeperBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *gateKeeperBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *gateKeeperBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorFactory(factory ErrorFactory) Option {
	return func(b *gateKeeperBuilder) {
		b.errorFactory = factory
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *gateKeeperBuilder) {
		b.errorMapper = mapper
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *gateKeeperBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *gateKeeperBuilder) {
		b.optionsResolver = resolver
	}
}

func WithPersistenceClient(client any) Option {
	return func(b *gateKeeperBuilder) {
		b.persistenceClient = client
	}
}

func WithRepositoryFactory(factory any) Option {
	return func(b *gateKeeperBuilder) {
		b.repositoryFactory = factory
	}
}

func WithRegistrationStore(store RegistrationStore) Option {
	return func(b *gateKeeperBuilder) {
		b.registrations = store
	}
}

func WithFlagStore(store FlagStore) Option {
	return func(b *gateKeeperBuilder) {
		b.flags = store
	}
}

func WithEventSink(sink EventSink) Option {
	return func(b *gateKeeperBuilder) {
		b.events = sink
	}
}

func WithClock(clock Clock) Option {
	return func(b *gateKeeperBuilder) {
		b.clock = clock
	}
}

func defaultGateKeeperBuilder(runtime Config) gateKeeperBuilder {
	loggerProvider, logger := glog.Resolve("protect", nil, nil)
	return gateKeeperBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		errorFactory:    goerrors.New,
		errorMapper:     defaultErrorMapper,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
		events:          NopEventSink{},
	}
}

func defaultErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}
	return protectErrorMapper(err)
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	stack, err := opts.NewStack(
		opts.NewLayer(opts.NewScope("defaults", 0), configToLayerMap(defaults, true), opts.WithSnapshotID[map[string]any]("defaults")),
		opts.NewLayer(opts.NewScope("config", 10), configToLayerMap(loaded, false), opts.WithSnapshotID[map[string]any]("config")),
		opts.NewLayer(opts.NewScope("runtime", 20), runtimeOverrides(runtime, defaults), opts.WithSnapshotID[map[string]any]("runtime")),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

// runtimeOverrides keeps the runtime fields that differ from the defaults.
// Callers usually seed their runtime Config from DefaultConfig, and a value
// the caller never touched must not shadow the loaded configuration.
func runtimeOverrides(runtime Config, defaults Config) map[string]any {
	layer := map[string]any{}
	if strings.TrimSpace(runtime.ServiceName) != "" && runtime.ServiceName != defaults.ServiceName {
		layer["service_name"] = runtime.ServiceName
	}

	router := map[string]any{}
	if strings.TrimSpace(runtime.Router.Identity) != "" && runtime.Router.Identity != defaults.Router.Identity {
		router["identity"] = runtime.Router.Identity
	}
	if strings.TrimSpace(runtime.Router.ProtocolAdmin) != "" && runtime.Router.ProtocolAdmin != defaults.Router.ProtocolAdmin {
		router["protocol_admin"] = runtime.Router.ProtocolAdmin
	}
	if len(router) > 0 {
		layer["router"] = router
	}
	return layer
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}

	router := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.Router.Identity) != "" {
		router["identity"] = cfg.Router.Identity
	}
	if includeZero || strings.TrimSpace(cfg.Router.ProtocolAdmin) != "" {
		router["protocol_admin"] = cfg.Router.ProtocolAdmin
	}
	if len(router) > 0 {
		layer["router"] = router
	}
	return layer
}
