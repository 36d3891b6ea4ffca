package core

import (
	"context"
	"fmt"
	"testing"
	"time"
)

type countingHandler struct {
	calls   int
	failFor int
}

func (h *countingHandler) Handle(context.Context, Event) error {
	h.calls++
	if h.calls <= h.failFor {
		return fmt.Errorf("handler unavailable")
	}
	return nil
}

func newDispatcherFixture(t *testing.T, handler EventHandler, cfg OutboxDispatcherConfig) (*OutboxDispatcher, *MemoryOutboxStore) {
	t.Helper()
	store := NewMemoryOutboxStore()
	registry := NewEventHandlerRegistry()
	if handler != nil {
		registry.Register("listener", handler)
	}
	dispatcher, err := NewOutboxDispatcher(store, registry, cfg)
	if err != nil {
		t.Fatalf("new dispatcher: %v", err)
	}
	return dispatcher, store
}

func TestOutboxDispatcher_DeliversInOrder(t *testing.T) {
	ctx := context.Background()
	var names []string
	handler := eventHandlerFunc(func(_ context.Context, event Event) error {
		names = append(names, event.Name)
		return nil
	})
	dispatcher, store := newDispatcherFixture(t, handler, DefaultOutboxDispatcherConfig())

	identity := DeriveIdentity([]byte("vault"))
	for _, name := range []string{EventRegistrationChanged, EventAuthorizationChanged, EventFlagsUpdated} {
		if err := store.Enqueue(ctx, NewEvent(name, identity, nil)); err != nil {
			t.Fatalf("enqueue %s: %v", name, err)
		}
	}

	stats, err := dispatcher.DispatchPending(ctx, 0)
	if err != nil {
		t.Fatalf("dispatch pending: %v", err)
	}
	if stats.Claimed != 3 || stats.Delivered != 3 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if len(names) != 3 || names[0] != EventRegistrationChanged || names[2] != EventFlagsUpdated {
		t.Fatalf("expected enqueue order preserved, got %v", names)
	}
	if store.Pending() != 0 {
		t.Fatalf("expected empty outbox, got %d pending", store.Pending())
	}
}

func TestOutboxDispatcher_RetriesWithBackoff(t *testing.T) {
	ctx := context.Background()
	handler := &countingHandler{failFor: 1}
	cfg := DefaultOutboxDispatcherConfig()
	cfg.InitialBackoff = time.Minute
	dispatcher, store := newDispatcherFixture(t, handler, cfg)

	current := testClock()
	store.Now = func() time.Time { return current }
	dispatcher.now = func() time.Time { return current }

	if err := store.Enqueue(ctx, NewEvent(EventFlagsUpdated, DeriveIdentity([]byte("vault")), nil)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	stats, err := dispatcher.DispatchPending(ctx, 0)
	if err != nil {
		t.Fatalf("first dispatch: %v", err)
	}
	if stats.Retried != 1 || stats.Delivered != 0 {
		t.Fatalf("expected one retried event, got %+v", stats)
	}

	// Still backed off: nothing is claimable yet.
	stats, err = dispatcher.DispatchPending(ctx, 0)
	if err != nil {
		t.Fatalf("backed-off dispatch: %v", err)
	}
	if stats.Claimed != 0 {
		t.Fatalf("expected no claim during backoff, got %+v", stats)
	}

	current = current.Add(2 * time.Minute)
	stats, err = dispatcher.DispatchPending(ctx, 0)
	if err != nil {
		t.Fatalf("post-backoff dispatch: %v", err)
	}
	if stats.Delivered != 1 {
		t.Fatalf("expected delivery after backoff, got %+v", stats)
	}
	if handler.calls != 2 {
		t.Fatalf("expected two handler invocations, got %d", handler.calls)
	}
}

func TestOutboxDispatcher_DeadLettersAfterMaxAttempts(t *testing.T) {
	ctx := context.Background()
	handler := &countingHandler{failFor: 100}
	cfg := DefaultOutboxDispatcherConfig()
	cfg.MaxAttempts = 2
	cfg.InitialBackoff = time.Millisecond
	dispatcher, store := newDispatcherFixture(t, handler, cfg)

	current := testClock()
	store.Now = func() time.Time { return current }
	dispatcher.now = func() time.Time { return current }

	if err := store.Enqueue(ctx, NewEvent(EventFlagsUpdated, DeriveIdentity([]byte("vault")), nil)); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	stats, err := dispatcher.DispatchPending(ctx, 0)
	if err != nil {
		t.Fatalf("first dispatch: %v", err)
	}
	if stats.Retried != 1 {
		t.Fatalf("expected first failure to retry, got %+v", stats)
	}

	current = current.Add(time.Second)
	stats, err = dispatcher.DispatchPending(ctx, 0)
	if err != nil {
		t.Fatalf("second dispatch: %v", err)
	}
	if stats.Failed != 1 {
		t.Fatalf("expected dead letter at max attempts, got %+v", stats)
	}
	if store.Pending() != 0 {
		t.Fatalf("expected dead-lettered entry out of the pending set")
	}
}

func TestOutboxDispatcher_BatchLimit(t *testing.T) {
	ctx := context.Background()
	handler := eventHandlerFunc(func(context.Context, Event) error { return nil })
	dispatcher, store := newDispatcherFixture(t, handler, DefaultOutboxDispatcherConfig())

	identity := DeriveIdentity([]byte("vault"))
	for i := 0; i < 5; i++ {
		if err := store.Enqueue(ctx, NewEvent(EventFlagsUpdated, identity, map[string]any{"i": i})); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	stats, err := dispatcher.DispatchPending(ctx, 2)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if stats.Claimed != 2 {
		t.Fatalf("expected batch limit of 2, got %+v", stats)
	}
	if store.Pending() != 3 {
		t.Fatalf("expected three events left, got %d", store.Pending())
	}
}

func TestOutboxEventSink_FeedsStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryOutboxStore()
	sink := OutboxEventSink{Store: store}

	if err := sink.Record(ctx, NewEvent(EventFlagsUpdated, DeriveIdentity([]byte("vault")), nil)); err != nil {
		t.Fatalf("record: %v", err)
	}
	if store.Pending() != 1 {
		t.Fatalf("expected one pending event, got %d", store.Pending())
	}
}

type eventHandlerFunc func(ctx context.Context, event Event) error

func (f eventHandlerFunc) Handle(ctx context.Context, event Event) error {
	return f(ctx, event)
}
