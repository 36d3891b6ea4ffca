package core

import (
	"context"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

// RegistrationStore persists one ledger entry per integration identity.
type RegistrationStore interface {
	Get(ctx context.Context, identity Identity) (Registration, bool, error)
	Upsert(ctx context.Context, registration Registration) error
}

// FlagStore persists protection flags keyed by (identity, selector).
// Apply must commit the whole batch or none of it.
type FlagStore interface {
	Apply(ctx context.Context, identity Identity, updates []FlagUpdate, now time.Time) error
	Get(ctx context.Context, identity Identity, selector Selector) (bool, error)
	GetBatch(ctx context.Context, identity Identity, selectors []Selector) ([]bool, error)
}

// StoreProvider exposes the persistence-backed store set to the service
// builder, mirroring the repository-factory wiring used by the SQL layer.
type StoreProvider interface {
	RegistrationStore() RegistrationStore
	FlagStore() FlagStore
}

// RepositoryStoreFactory builds a StoreProvider from an opaque persistence
// client (a *bun.DB or a go-persistence-bun client).
type RepositoryStoreFactory interface {
	BuildStores(persistenceClient any) (StoreProvider, error)
}

// EventSink receives protocol notifications. Sinks observe state changes;
// they never influence the outcome of an operation.
type EventSink interface {
	Record(ctx context.Context, event Event) error
}

// OutboxStore is the durable buffer between state changes and event
// delivery.
type OutboxStore interface {
	Enqueue(ctx context.Context, event Event) error
	ClaimBatch(ctx context.Context, limit int) ([]Event, error)
	Ack(ctx context.Context, eventID string) error
	Retry(ctx context.Context, eventID string, cause error, nextAttemptAt time.Time) error
}

// EventHandler consumes dispatched protocol events.
type EventHandler interface {
	Handle(ctx context.Context, event Event) error
}

// HandlerRegistry holds the event handlers the outbox dispatcher fans out
// to.
type HandlerRegistry interface {
	Register(name string, handler EventHandler)
	Handlers() []EventHandler
}

// DispatchRequest carries one protected call from an integration through
// the router to a security module.
type DispatchRequest struct {
	Caller        Identity
	Target        Identity
	Value         uint64
	PayloadLength int
	Invocation    []byte
}

// SecurityModule renders the permit/deny verdict for a protected call.
// A false verdict with a nil error is a denial; an error is a collaborator
// failure and must propagate to the caller.
type SecurityModule interface {
	Marker() ModuleMarker
	Approve(ctx context.Context, req DispatchRequest) (bool, error)
}

// CompleteRegistrationRequest is the router-facing registration submission.
type CompleteRegistrationRequest struct {
	// Integration is the caller-facing identity submitting the request,
	// either the logic unit itself or the proxy fronting it.
	Integration Identity
	// Implementation is the immutable self-identity the ledger is keyed by.
	Implementation Identity
	// Admin is the integration's security admin the credential was issued
	// against.
	Admin      Identity
	Credential Credential
}
