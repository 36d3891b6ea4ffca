package sqlstore

import (
	"fmt"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/goliatone/go-protect/core"
	"github.com/uptrace/bun"
)

// RepositoryFactory wires the bun-backed store set used by the gatekeeper
// builder. It satisfies both core.RepositoryStoreFactory and
// core.StoreProvider.
type RepositoryFactory struct {
	db *bun.DB

	registrationStore *RegistrationStore
	flagStore         *FlagStore
	outboxStore       *OutboxStore
}

func NewRepositoryFactory() *RepositoryFactory {
	return &RepositoryFactory{}
}

func NewRepositoryFactoryFromPersistence(client *persistence.Client) (*RepositoryFactory, error) {
	return buildFactory(client)
}

func NewRepositoryFactoryFromDB(db *bun.DB) (*RepositoryFactory, error) {
	return buildFactory(db)
}

func buildFactory(source any) (*RepositoryFactory, error) {
	factory := NewRepositoryFactory()
	if _, err := factory.BuildStores(source); err != nil {
		return nil, err
	}
	return factory, nil
}

// BuildStores resolves the bun handle from whatever the host handed the
// builder and constructs the store set once; later calls reuse it.
func (f *RepositoryFactory) BuildStores(persistenceClient any) (core.StoreProvider, error) {
	if f == nil {
		return nil, fmt.Errorf("sqlstore: repository factory is nil")
	}
	if f.db == nil {
		db, err := resolveBunDB(persistenceClient)
		if err != nil {
			return nil, err
		}
		f.db = db
	}
	if f.registrationStore == nil || f.flagStore == nil || f.outboxStore == nil {
		if err := f.initStores(); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func (f *RepositoryFactory) RegistrationStore() core.RegistrationStore {
	if f == nil {
		return nil
	}
	return f.registrationStore
}

func (f *RepositoryFactory) FlagStore() core.FlagStore {
	if f == nil {
		return nil
	}
	return f.flagStore
}

func (f *RepositoryFactory) OutboxStore() *OutboxStore {
	if f == nil {
		return nil
	}
	return f.outboxStore
}

func (f *RepositoryFactory) DB() *bun.DB {
	if f == nil {
		return nil
	}
	return f.db
}

func (f *RepositoryFactory) initStores() error {
	var err error
	if f.registrationStore, err = NewRegistrationStore(f.db); err != nil {
		return err
	}
	if f.flagStore, err = NewFlagStore(f.db); err != nil {
		return err
	}
	if f.outboxStore, err = NewOutboxStore(f.db); err != nil {
		return err
	}
	return nil
}

// resolveBunDB accepts either a raw *bun.DB or anything exposing one, which
// covers the go-persistence-bun client without importing its concrete type
// here.
func resolveBunDB(candidate any) (*bun.DB, error) {
	if candidate == nil {
		return nil, fmt.Errorf("sqlstore: persistence client is required")
	}
	if db, ok := candidate.(*bun.DB); ok {
		return db, nil
	}
	if holder, ok := candidate.(interface{ DB() *bun.DB }); ok {
		if db := holder.DB(); db != nil {
			return db, nil
		}
		return nil, fmt.Errorf("sqlstore: persistence client returned nil bun db")
	}
	return nil, fmt.Errorf("sqlstore: unsupported persistence client type %T", candidate)
}

var (
	_ core.StoreProvider          = (*RepositoryFactory)(nil)
	_ core.RepositoryStoreFactory = (*RepositoryFactory)(nil)
)
