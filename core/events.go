package core

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event names, one per observable state change. Each corresponding state
// change emits exactly one event.
const (
	EventAdminTransferStarted   = "protect.admin.transfer.started"
	EventAdminTransferCompleted = "protect.admin.transfer.completed"
	EventRegistrationChanged    = "protect.registration.status.changed"
	EventAuthorizationChanged   = "protect.authorization.status.changed"
	EventFlagsUpdated           = "protect.flags.updated"
	EventUpgradePreAuthorized   = "protect.upgrade.preauthorized"
)

// Event is an observability record. Events never gate control flow.
type Event struct {
	ID         string
	Name       string
	Identity   string
	Source     string
	OccurredAt time.Time
	Payload    map[string]any
	Metadata   map[string]any
}

// NewEvent stamps an event with an identifier and timestamp.
func NewEvent(name string, identity Identity, payload map[string]any) Event {
	return Event{
		ID:         uuid.New().String(),
		Name:       name,
		Identity:   identity.String(),
		OccurredAt: time.Now().UTC(),
		Payload:    cloneFields(payload),
		Metadata:   map[string]any{},
	}
}

// NopEventSink discards events. The default when no sink is configured.
type NopEventSink struct{}

func (NopEventSink) Record(context.Context, Event) error { return nil }

// MemoryEventSink buffers events in order, mainly for tests and in-process
// observers.
type MemoryEventSink struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryEventSink() *MemoryEventSink {
	return &MemoryEventSink{}
}

func (s *MemoryEventSink) Record(_ context.Context, event Event) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *MemoryEventSink) Events() []Event {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// Named returns the recorded events matching name, preserving order.
func (s *MemoryEventSink) Named(name string) []Event {
	var out []Event
	for _, event := range s.Events() {
		if event.Name == name {
			out = append(out, event)
		}
	}
	return out
}

// OutboxEventSink feeds recorded events into a durable outbox for
// asynchronous delivery by the dispatcher.
type OutboxEventSink struct {
	Store OutboxStore
}

func (s OutboxEventSink) Record(ctx context.Context, event Event) error {
	if s.Store == nil {
		return nil
	}
	return s.Store.Enqueue(ctx, event)
}

// EventHandlerRegistry is the default HandlerRegistry.
type EventHandlerRegistry struct {
	mu       sync.RWMutex
	names    []string
	handlers map[string]EventHandler
}

func NewEventHandlerRegistry() *EventHandlerRegistry {
	return &EventHandlerRegistry{handlers: map[string]EventHandler{}}
}

func (r *EventHandlerRegistry) Register(name string, handler EventHandler) {
	if r == nil || handler == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[name]; !exists {
		r.names = append(r.names, name)
	}
	r.handlers[name] = handler
}

func (r *EventHandlerRegistry) Handlers() []EventHandler {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]EventHandler, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, r.handlers[name])
	}
	return out
}

func cloneFields(fields map[string]any) map[string]any {
	copied := make(map[string]any, len(fields))
	for key, value := range fields {
		copied[key] = value
	}
	return copied
}
