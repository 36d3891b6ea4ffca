package core

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

const MetadataKeyOutboxAttempts = "_outbox_attempts"

type OutboxDispatcherConfig struct {
	BatchSize      int
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

func DefaultOutboxDispatcherConfig() OutboxDispatcherConfig {
	return OutboxDispatcherConfig{
		BatchSize:      50,
		MaxAttempts:    5,
		InitialBackoff: 2 * time.Second,
		MaxBackoff:     5 * time.Minute,
	}
}

type DispatchStats struct {
	Claimed   int
	Delivered int
	Retried   int
	Failed    int
}

// OutboxDispatcher drains queued protocol events to the registered
// handlers. Hosts schedule DispatchPending however they like; the module
// itself never spawns background work.
type OutboxDispatcher struct {
	store    OutboxStore
	registry HandlerRegistry
	config   OutboxDispatcherConfig
	now      func() time.Time
}

func NewOutboxDispatcher(
	store OutboxStore,
	registry HandlerRegistry,
	config OutboxDispatcherConfig,
) (*OutboxDispatcher, error) {
	if store == nil {
		return nil, fmt.Errorf("core: outbox store is required")
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultOutboxDispatcherConfig().BatchSize
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultOutboxDispatcherConfig().MaxAttempts
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = DefaultOutboxDispatcherConfig().InitialBackoff
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = DefaultOutboxDispatcherConfig().MaxBackoff
	}
	return &OutboxDispatcher{
		store:    store,
		registry: registry,
		config:   config,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

func (d *OutboxDispatcher) DispatchPending(ctx context.Context, batchSize int) (DispatchStats, error) {
	if d == nil || d.store == nil {
		return DispatchStats{}, fmt.Errorf("core: outbox dispatcher is not configured")
	}
	limit := batchSize
	if limit <= 0 {
		limit = d.config.BatchSize
	}
	events, err := d.store.ClaimBatch(ctx, limit)
	if err != nil {
		return DispatchStats{}, err
	}

	stats := DispatchStats{Claimed: len(events)}
	for _, event := range events {
		if deliverErr := d.deliver(ctx, event); deliverErr != nil {
			attempts := outboxAttempts(event) + 1
			if attempts >= d.config.MaxAttempts {
				stats.Failed++
				if retryErr := d.store.Retry(ctx, event.ID, deliverErr, time.Time{}); retryErr != nil {
					return stats, retryErr
				}
				continue
			}
			stats.Retried++
			next := d.now().Add(d.backoff(attempts))
			if retryErr := d.store.Retry(ctx, event.ID, deliverErr, next); retryErr != nil {
				return stats, retryErr
			}
			continue
		}
		stats.Delivered++
		if ackErr := d.store.Ack(ctx, event.ID); ackErr != nil {
			return stats, ackErr
		}
	}
	return stats, nil
}

func (d *OutboxDispatcher) deliver(ctx context.Context, event Event) error {
	if d.registry == nil {
		return nil
	}
	for _, handler := range d.registry.Handlers() {
		if handler == nil {
			continue
		}
		if err := handler.Handle(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

func (d *OutboxDispatcher) backoff(attempt int) time.Duration {
	backoff := float64(d.config.InitialBackoff) * math.Pow(2, float64(attempt-1))
	if backoff > float64(d.config.MaxBackoff) {
		return d.config.MaxBackoff
	}
	return time.Duration(backoff)
}

func outboxAttempts(event Event) int {
	raw, ok := event.Metadata[MetadataKeyOutboxAttempts]
	if !ok {
		return 0
	}
	switch typed := raw.(type) {
	case int:
		return typed
	case int64:
		return int(typed)
	case float64:
		return int(typed)
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(typed))
		if err != nil {
			return 0
		}
		return parsed
	default:
		return 0
	}
}

type memoryOutboxEntry struct {
	event         Event
	attempts      int
	claimed       bool
	done          bool
	nextAttemptAt time.Time
	lastError     string
	sequence      int
}

// MemoryOutboxStore is the in-process outbox backing, used by tests and by
// hosts that do not need durable event delivery.
type MemoryOutboxStore struct {
	mu       sync.Mutex
	entries  map[string]*memoryOutboxEntry
	sequence int
	Now      func() time.Time
}

func NewMemoryOutboxStore() *MemoryOutboxStore {
	return &MemoryOutboxStore{
		entries: map[string]*memoryOutboxEntry{},
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (s *MemoryOutboxStore) Enqueue(_ context.Context, event Event) error {
	if s == nil {
		return fmt.Errorf("core: outbox store is not configured")
	}
	if strings.TrimSpace(event.ID) == "" {
		return fmt.Errorf("core: outbox event id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sequence++
	s.entries[event.ID] = &memoryOutboxEntry{event: event, sequence: s.sequence}
	return nil
}

func (s *MemoryOutboxStore) ClaimBatch(_ context.Context, limit int) ([]Event, error) {
	if s == nil {
		return nil, fmt.Errorf("core: outbox store is not configured")
	}
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := make([]*memoryOutboxEntry, 0, len(s.entries))
	for _, entry := range s.entries {
		if entry.done || entry.claimed {
			continue
		}
		if !entry.nextAttemptAt.IsZero() && now.Before(entry.nextAttemptAt) {
			continue
		}
		pending = append(pending, entry)
	}
	sort.Slice(pending, func(i, j int) bool {
		return pending[i].sequence < pending[j].sequence
	})
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}

	events := make([]Event, 0, len(pending))
	for _, entry := range pending {
		entry.claimed = true
		event := entry.event
		event.Metadata = cloneFields(event.Metadata)
		event.Metadata[MetadataKeyOutboxAttempts] = entry.attempts
		events = append(events, event)
	}
	return events, nil
}

func (s *MemoryOutboxStore) Ack(_ context.Context, eventID string) error {
	if s == nil {
		return fmt.Errorf("core: outbox store is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[eventID]
	if !ok {
		return fmt.Errorf("core: outbox event not found: %s", eventID)
	}
	entry.done = true
	entry.claimed = false
	return nil
}

func (s *MemoryOutboxStore) Retry(_ context.Context, eventID string, cause error, nextAttemptAt time.Time) error {
	if s == nil {
		return fmt.Errorf("core: outbox store is not configured")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[eventID]
	if !ok {
		return fmt.Errorf("core: outbox event not found: %s", eventID)
	}
	entry.attempts++
	entry.claimed = false
	if cause != nil {
		entry.lastError = cause.Error()
	}
	// A zero next-attempt time marks the entry dead-lettered.
	if nextAttemptAt.IsZero() {
		entry.done = true
		return nil
	}
	entry.nextAttemptAt = nextAttemptAt
	return nil
}

// Pending reports how many entries remain deliverable.
func (s *MemoryOutboxStore) Pending() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, entry := range s.entries {
		if !entry.done {
			count++
		}
	}
	return count
}

func (s *MemoryOutboxStore) now() time.Time {
	if s == nil || s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now()
}

var (
	_ OutboxStore = (*MemoryOutboxStore)(nil)
)
