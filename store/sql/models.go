package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type registrationRecord struct {
	bun.BaseModel `bun:"table:protect_registrations,alias:pr"`

	ID            string    `bun:"id,pk"`
	Identity      string    `bun:"identity,notnull"`
	ProxyIdentity string    `bun:"proxy_identity"`
	Registration  string    `bun:"registration_status,notnull"`
	Authorization string    `bun:"authorization_status,notnull"`
	CreatedAt     time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt     time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type protectionFlagRecord struct {
	bun.BaseModel `bun:"table:protect_protection_flags,alias:pf"`

	ID        string    `bun:"id,pk"`
	Identity  string    `bun:"identity,notnull"`
	Selector  string    `bun:"selector,notnull"`
	Enabled   bool      `bun:"enabled,notnull"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type outboxEventRecord struct {
	bun.BaseModel `bun:"table:protect_outbox_events,alias:poe"`

	ID          string         `bun:"id,pk"`
	EventID     string         `bun:"event_id,notnull"`
	EventName   string         `bun:"event_name,notnull"`
	Identity    string         `bun:"identity,notnull"`
	Source      string         `bun:"source,notnull"`
	Payload     map[string]any `bun:"payload,type:jsonb,notnull"`
	Metadata    map[string]any `bun:"metadata,type:jsonb,notnull"`
	Status      string         `bun:"status,notnull"`
	Attempts    int            `bun:"attempts,notnull"`
	NextAttempt *time.Time     `bun:"next_attempt_at,nullzero"`
	LastError   string         `bun:"last_error,notnull"`
	OccurredAt  time.Time      `bun:"occurred_at,notnull"`
	CreatedAt   time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt   time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func copyAnyMap(input map[string]any) map[string]any {
	out := make(map[string]any, len(input))
	for key, value := range input {
		out[key] = value
	}
	return out
}
