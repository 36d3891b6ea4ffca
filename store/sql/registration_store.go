package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/goliatone/go-protect/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// RegistrationStore persists one ledger row per integration identity.
type RegistrationStore struct {
	db   *bun.DB
	repo repository.Repository[*registrationRecord]
}

func NewRegistrationStore(db *bun.DB) (*RegistrationStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*registrationRecord](db, registrationHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid registration repository wiring: %w", err)
		}
	}
	return &RegistrationStore{db: db, repo: repo}, nil
}

func (s *RegistrationStore) Get(ctx context.Context, identity core.Identity) (core.Registration, bool, error) {
	if s == nil || s.db == nil {
		return core.Registration{}, false, fmt.Errorf("sqlstore: registration store is not configured")
	}
	if identity.IsZero() {
		return core.Registration{}, false, fmt.Errorf("sqlstore: registration identity is required")
	}

	record := &registrationRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.identity = ?", identity.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return core.Registration{}, false, nil
		}
		return core.Registration{}, false, err
	}
	registration, err := record.toDomain()
	if err != nil {
		return core.Registration{}, false, err
	}
	return registration, true, nil
}

func (s *RegistrationStore) Upsert(ctx context.Context, registration core.Registration) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: registration store is not configured")
	}
	if registration.Identity.IsZero() {
		return fmt.Errorf("sqlstore: registration identity is required")
	}
	if err := registration.Registration.Validate(); err != nil {
		return err
	}
	if err := registration.Authorization.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if registration.UpdatedAt.IsZero() {
		registration.UpdatedAt = now
	}

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		record, err := findRegistrationTx(ctx, tx, registration.Identity)
		if err != nil {
			return err
		}
		created := false
		if record == nil {
			created = true
			createdAt := registration.CreatedAt
			if createdAt.IsZero() {
				createdAt = registration.UpdatedAt
			}
			record = &registrationRecord{
				ID:        uuid.NewString(),
				Identity:  registration.Identity.String(),
				CreatedAt: createdAt.UTC(),
			}
		}
		record.Registration = string(registration.Registration)
		record.Authorization = string(registration.Authorization)
		record.UpdatedAt = registration.UpdatedAt.UTC()
		record.ProxyIdentity = ""
		if !registration.ProxyIdentity.IsZero() {
			record.ProxyIdentity = registration.ProxyIdentity.String()
		}

		if created {
			_, insertErr := tx.NewInsert().Model(record).Exec(ctx)
			return insertErr
		}
		_, updateErr := tx.NewUpdate().
			Model(record).
			Where("id = ?", record.ID).
			Exec(ctx)
		return updateErr
	})
}

func (r *registrationRecord) toDomain() (core.Registration, error) {
	if r == nil {
		return core.Registration{}, fmt.Errorf("sqlstore: registration record is nil")
	}
	identity, err := core.IdentityFromString(r.Identity)
	if err != nil {
		return core.Registration{}, fmt.Errorf("sqlstore: corrupt registration identity: %w", err)
	}
	registration := core.Registration{
		Identity:      identity,
		Registration:  core.RegistrationStatus(r.Registration),
		Authorization: core.AuthorizationStatus(r.Authorization),
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
	if r.ProxyIdentity != "" {
		proxy, proxyErr := core.IdentityFromString(r.ProxyIdentity)
		if proxyErr != nil {
			return core.Registration{}, fmt.Errorf("sqlstore: corrupt proxy identity: %w", proxyErr)
		}
		registration.ProxyIdentity = proxy
	}
	if err := registration.Registration.Validate(); err != nil {
		return core.Registration{}, err
	}
	if err := registration.Authorization.Validate(); err != nil {
		return core.Registration{}, err
	}
	return registration, nil
}

func findRegistrationTx(ctx context.Context, tx bun.Tx, identity core.Identity) (*registrationRecord, error) {
	record := &registrationRecord{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.identity = ?", identity.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return record, nil
}

var _ core.RegistrationStore = (*RegistrationStore)(nil)
