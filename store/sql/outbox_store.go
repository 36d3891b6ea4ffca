package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-protect/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const (
	outboxStatusPending    = "pending"
	outboxStatusProcessing = "processing"
	outboxStatusDelivered  = "delivered"
	outboxStatusFailed     = "failed"
)

// OutboxStore is the durable event buffer behind the gatekeeper's sink.
// Enqueue lands rows as pending; the dispatcher claims, acks, or reschedules
// them.
type OutboxStore struct {
	db   *bun.DB
	repo repository.Repository[*outboxEventRecord]
}

func NewOutboxStore(db *bun.DB) (*OutboxStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*outboxEventRecord](db, outboxHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid outbox repository wiring: %w", err)
		}
	}
	return &OutboxStore{db: db, repo: repo}, nil
}

func (s *OutboxStore) ready() error {
	if s == nil || s.db == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: outbox store is not configured")
	}
	return nil
}

func (s *OutboxStore) Enqueue(ctx context.Context, event core.Event) error {
	if err := s.ready(); err != nil {
		return err
	}
	record, err := outboxRecordFromEvent(event)
	if err != nil {
		return err
	}
	_, err = s.repo.Create(ctx, record)
	return err
}

// ClaimBatch flips up to limit due pending rows to processing and returns
// them oldest first. The update re-checks the pending status inside the
// transaction so two dispatchers never claim the same row.
func (s *OutboxStore) ClaimBatch(ctx context.Context, limit int) ([]core.Event, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 1
	}
	now := time.Now().UTC()

	var claimed []outboxEventRecord
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		const claimQuery = `
UPDATE protect_outbox_events
SET status = ?, updated_at = ?
WHERE status = ?
  AND id IN (
	SELECT id FROM protect_outbox_events
	WHERE status = ?
	  AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
	ORDER BY occurred_at ASC
	LIMIT ?
  )
RETURNING id, event_id, event_name, identity, source, payload, metadata,
	status, attempts, next_attempt_at, last_error, occurred_at,
	created_at, updated_at
`
		return tx.NewRaw(
			claimQuery,
			outboxStatusProcessing, now,
			outboxStatusPending,
			outboxStatusPending, now,
			limit,
		).Scan(ctx, &claimed)
	})
	if err != nil {
		return nil, err
	}

	events := make([]core.Event, 0, len(claimed))
	for _, record := range claimed {
		events = append(events, eventFromOutboxRecord(record))
	}
	return events, nil
}

func (s *OutboxStore) Ack(ctx context.Context, eventID string) error {
	return s.finalize(ctx, eventID, outboxStatusDelivered, "", nil, false)
}

// Retry reschedules the event; a zero nextAttemptAt marks it failed for
// good (the dispatcher exhausted its attempts).
func (s *OutboxStore) Retry(ctx context.Context, eventID string, cause error, nextAttemptAt time.Time) error {
	status := outboxStatusPending
	var next *time.Time
	if nextAttemptAt.IsZero() {
		status = outboxStatusFailed
	} else {
		at := nextAttemptAt.UTC()
		next = &at
	}
	reason := ""
	if cause != nil {
		reason = strings.TrimSpace(cause.Error())
	}
	return s.finalize(ctx, eventID, status, reason, next, true)
}

func (s *OutboxStore) finalize(ctx context.Context, eventID, status, reason string, next *time.Time, countAttempt bool) error {
	if err := s.ready(); err != nil {
		return err
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return fmt.Errorf("sqlstore: event id is required")
	}
	update := s.db.NewUpdate().
		Model((*outboxEventRecord)(nil)).
		Set("status = ?", status).
		Set("last_error = ?", reason).
		Set("updated_at = ?", time.Now().UTC()).
		Where("event_id = ?", eventID)
	if next != nil {
		update = update.Set("next_attempt_at = ?", *next)
	} else {
		update = update.Set("next_attempt_at = NULL")
	}
	if countAttempt {
		update = update.Set("attempts = attempts + 1")
	}
	_, err := update.Exec(ctx)
	return err
}

func outboxRecordFromEvent(event core.Event) (*outboxEventRecord, error) {
	id := strings.TrimSpace(event.ID)
	name := strings.TrimSpace(event.Name)
	identity := strings.TrimSpace(event.Identity)
	switch {
	case id == "":
		return nil, fmt.Errorf("sqlstore: outbox event id is required")
	case name == "":
		return nil, fmt.Errorf("sqlstore: outbox event name is required")
	case identity == "":
		return nil, fmt.Errorf("sqlstore: outbox event identity is required")
	}

	occurredAt := event.OccurredAt.UTC()
	now := time.Now().UTC()
	if occurredAt.IsZero() {
		occurredAt = now
	}
	return &outboxEventRecord{
		ID:         uuid.NewString(),
		EventID:    id,
		EventName:  name,
		Identity:   identity,
		Source:     strings.TrimSpace(event.Source),
		Payload:    copyAnyMap(event.Payload),
		Metadata:   copyAnyMap(event.Metadata),
		Status:     outboxStatusPending,
		OccurredAt: occurredAt,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

func eventFromOutboxRecord(record outboxEventRecord) core.Event {
	metadata := copyAnyMap(record.Metadata)
	metadata[core.MetadataKeyOutboxAttempts] = record.Attempts
	return core.Event{
		ID:         record.EventID,
		Name:       record.EventName,
		Identity:   record.Identity,
		Source:     record.Source,
		Payload:    copyAnyMap(record.Payload),
		Metadata:   metadata,
		OccurredAt: record.OccurredAt,
	}
}

var _ core.OutboxStore = (*OutboxStore)(nil)
