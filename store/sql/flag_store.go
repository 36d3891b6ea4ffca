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

// FlagStore persists protection flags keyed by (identity, selector). Apply
// runs the whole batch inside one transaction so a failure mid-batch never
// leaves a partial update behind.
type FlagStore struct {
	db   *bun.DB
	repo repository.Repository[*protectionFlagRecord]
}

func NewFlagStore(db *bun.DB) (*FlagStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*protectionFlagRecord](db, protectionFlagHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid protection-flag repository wiring: %w", err)
		}
	}
	return &FlagStore{db: db, repo: repo}, nil
}

func (s *FlagStore) Apply(ctx context.Context, identity core.Identity, updates []core.FlagUpdate, now time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: flag store is not configured")
	}
	if identity.IsZero() {
		return fmt.Errorf("sqlstore: flag identity is required")
	}
	if len(updates) == 0 {
		return nil
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		for _, update := range updates {
			record, err := findFlagTx(ctx, tx, identity, update.Selector)
			if err != nil {
				return err
			}
			if record == nil {
				record = &protectionFlagRecord{
					ID:        uuid.NewString(),
					Identity:  identity.String(),
					Selector:  update.Selector.String(),
					Enabled:   update.Enabled,
					CreatedAt: now.UTC(),
					UpdatedAt: now.UTC(),
				}
				if _, insertErr := tx.NewInsert().Model(record).Exec(ctx); insertErr != nil {
					return insertErr
				}
				continue
			}
			record.Enabled = update.Enabled
			record.UpdatedAt = now.UTC()
			if _, updateErr := tx.NewUpdate().
				Model(record).
				Where("id = ?", record.ID).
				Exec(ctx); updateErr != nil {
				return updateErr
			}
		}
		return nil
	})
}

func (s *FlagStore) Get(ctx context.Context, identity core.Identity, selector core.Selector) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("sqlstore: flag store is not configured")
	}
	record := &protectionFlagRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.identity = ?", identity.String()).
		Where("?TableAlias.selector = ?", selector.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return record.Enabled, nil
}

func (s *FlagStore) GetBatch(ctx context.Context, identity core.Identity, selectors []core.Selector) ([]bool, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: flag store is not configured")
	}
	if len(selectors) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(selectors))
	for _, selector := range selectors {
		keys = append(keys, selector.String())
	}
	var records []protectionFlagRecord
	err := s.db.NewSelect().
		Model(&records).
		Where("?TableAlias.identity = ?", identity.String()).
		Where("?TableAlias.selector IN (?)", bun.In(keys)).
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	bySelector := make(map[string]bool, len(records))
	for _, record := range records {
		bySelector[record.Selector] = record.Enabled
	}
	flags := make([]bool, len(selectors))
	for i, selector := range selectors {
		flags[i] = bySelector[selector.String()]
	}
	return flags, nil
}

func findFlagTx(ctx context.Context, tx bun.Tx, identity core.Identity, selector core.Selector) (*protectionFlagRecord, error) {
	record := &protectionFlagRecord{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.identity = ?", identity.String()).
		Where("?TableAlias.selector = ?", selector.String()).
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

var _ core.FlagStore = (*FlagStore)(nil)
