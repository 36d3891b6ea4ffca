package sqlstore_test

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"testing"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/goliatone/go-protect/core"
	protectmigrations "github.com/goliatone/go-protect/migrations"
	sqlstore "github.com/goliatone/go-protect/store/sql"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

type testPersistenceConfig struct {
	driver string
	server string
}

func (c testPersistenceConfig) GetDebug() bool {
	return false
}

func (c testPersistenceConfig) GetDriver() string {
	return c.driver
}

func (c testPersistenceConfig) GetServer() string {
	return c.server
}

func (c testPersistenceConfig) GetPingTimeout() time.Duration {
	return time.Second
}

func (c testPersistenceConfig) GetOtelIdentifier() string {
	return "go-protect-tests"
}

func TestMigrationSmokeApplySQLite(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	var tableName string
	if err := client.DB().NewRaw(
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?",
		"protect_registrations",
	).Scan(context.Background(), &tableName); err != nil {
		t.Fatalf("query sqlite master: %v", err)
	}
	if tableName != "protect_registrations" {
		t.Fatalf("expected protect_registrations table, got %q", tableName)
	}
}

func TestRegistrationStore_UpsertAndGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	store := factory.RegistrationStore()
	if store == nil {
		t.Fatalf("expected registration store from factory")
	}

	identity := core.DeriveIdentity([]byte("vault"), []byte("1.0.0"))
	now := time.Now().UTC().Truncate(time.Second)

	if _, found, err := store.Get(ctx, identity); err != nil {
		t.Fatalf("get before upsert: %v", err)
	} else if found {
		t.Fatalf("expected no ledger entry before upsert")
	}

	entry := core.NewRegistration(identity, now)
	if err := entry.TransitionRegistration(core.RegistrationStatusPending, now); err != nil {
		t.Fatalf("transition to pending: %v", err)
	}
	if err := store.Upsert(ctx, entry); err != nil {
		t.Fatalf("upsert pending entry: %v", err)
	}

	fetched, found, err := store.Get(ctx, identity)
	if err != nil {
		t.Fatalf("get pending entry: %v", err)
	}
	if !found {
		t.Fatalf("expected ledger entry after upsert")
	}
	if fetched.Registration != core.RegistrationStatusPending {
		t.Fatalf("expected pending registration, got %s", fetched.Registration)
	}
	if fetched.Authorization != core.AuthorizationStatusInactive {
		t.Fatalf("expected inactive authorization, got %s", fetched.Authorization)
	}

	proxy := core.DeriveIdentity([]byte("vault-proxy"))
	fetched.ProxyIdentity = proxy
	if err := fetched.TransitionRegistration(core.RegistrationStatusRegistered, now.Add(time.Second)); err != nil {
		t.Fatalf("transition to registered: %v", err)
	}
	if err := fetched.TransitionAuthorization(core.AuthorizationStatusActive, now.Add(time.Second)); err != nil {
		t.Fatalf("transition to active: %v", err)
	}
	if err := store.Upsert(ctx, fetched); err != nil {
		t.Fatalf("upsert registered entry: %v", err)
	}

	final, found, err := store.Get(ctx, identity)
	if err != nil {
		t.Fatalf("get registered entry: %v", err)
	}
	if !found {
		t.Fatalf("expected registered ledger entry")
	}
	if final.Registration != core.RegistrationStatusRegistered {
		t.Fatalf("expected registered status, got %s", final.Registration)
	}
	if final.Authorization != core.AuthorizationStatusActive {
		t.Fatalf("expected active authorization, got %s", final.Authorization)
	}
	if final.ProxyIdentity != proxy {
		t.Fatalf("expected proxy identity to round-trip")
	}
}

func TestFlagStore_ApplyBatchAndQuery(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	store := factory.FlagStore()
	if store == nil {
		t.Fatalf("expected flag store from factory")
	}

	identity := core.DeriveIdentity([]byte("treasury"), []byte("2.0.0"))
	withdraw := core.SelectorFor("withdraw(identity,uint64)")
	pause := core.SelectorFor("pause()")
	now := time.Now().UTC()

	updates, err := core.ZipFlagUpdates(
		[]core.Selector{withdraw, pause},
		[]bool{true, false},
	)
	if err != nil {
		t.Fatalf("zip flag updates: %v", err)
	}
	if err := store.Apply(ctx, identity, updates, now); err != nil {
		t.Fatalf("apply flag batch: %v", err)
	}

	enabled, err := store.Get(ctx, identity, withdraw)
	if err != nil {
		t.Fatalf("get withdraw flag: %v", err)
	}
	if !enabled {
		t.Fatalf("expected withdraw flag enabled")
	}

	flags, err := store.GetBatch(ctx, identity, []core.Selector{withdraw, pause})
	if err != nil {
		t.Fatalf("get flag batch: %v", err)
	}
	if len(flags) != 2 || !flags[0] || flags[1] {
		t.Fatalf("expected [true false], got %v", flags)
	}

	// Re-applying the same values is idempotent.
	if err := store.Apply(ctx, identity, updates, now.Add(time.Second)); err != nil {
		t.Fatalf("re-apply flag batch: %v", err)
	}
	flags, err = store.GetBatch(ctx, identity, []core.Selector{withdraw, pause})
	if err != nil {
		t.Fatalf("get flag batch after re-apply: %v", err)
	}
	if len(flags) != 2 || !flags[0] || flags[1] {
		t.Fatalf("expected [true false] after re-apply, got %v", flags)
	}

	// Unknown selectors read back as disabled.
	unknown := core.SelectorFor("unknown()")
	enabled, err = store.Get(ctx, identity, unknown)
	if err != nil {
		t.Fatalf("get unknown flag: %v", err)
	}
	if enabled {
		t.Fatalf("expected unknown selector to read back disabled")
	}
}

func TestOutboxStore_ClaimAckRetryLifecycle(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	store := factory.OutboxStore()
	if store == nil {
		t.Fatalf("expected outbox store from factory")
	}

	identity := core.DeriveIdentity([]byte("vault"), []byte("1.0.0"))
	first := core.NewEvent(core.EventRegistrationChanged, identity, map[string]any{
		"prior_status": "pending",
		"new_status":   "registered",
	})
	second := core.NewEvent(core.EventFlagsUpdated, identity, map[string]any{
		"count": 2,
	})

	if err := store.Enqueue(ctx, first); err != nil {
		t.Fatalf("enqueue first event: %v", err)
	}
	if err := store.Enqueue(ctx, second); err != nil {
		t.Fatalf("enqueue second event: %v", err)
	}

	claimed, err := store.ClaimBatch(ctx, 10)
	if err != nil {
		t.Fatalf("claim batch: %v", err)
	}
	if len(claimed) != 2 {
		t.Fatalf("expected 2 claimed events, got %d", len(claimed))
	}

	// Claimed events move out of pending until ack or retry.
	reclaimed, err := store.ClaimBatch(ctx, 10)
	if err != nil {
		t.Fatalf("reclaim batch: %v", err)
	}
	if len(reclaimed) != 0 {
		t.Fatalf("expected no reclaimable events, got %d", len(reclaimed))
	}

	if err := store.Ack(ctx, first.ID); err != nil {
		t.Fatalf("ack first event: %v", err)
	}
	if err := store.Retry(ctx, second.ID, fmt.Errorf("sink offline"), time.Now().UTC().Add(-time.Second)); err != nil {
		t.Fatalf("retry second event: %v", err)
	}

	claimed, err = store.ClaimBatch(ctx, 10)
	if err != nil {
		t.Fatalf("claim after retry: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("expected 1 retryable event, got %d", len(claimed))
	}
	if claimed[0].ID != second.ID {
		t.Fatalf("expected retried event %s, got %s", second.ID, claimed[0].ID)
	}
	attempts, ok := claimed[0].Metadata[core.MetadataKeyOutboxAttempts]
	if !ok {
		t.Fatalf("expected attempts metadata on claimed event")
	}
	if fmt.Sprintf("%v", attempts) != "1" {
		t.Fatalf("expected 1 attempt, got %v", attempts)
	}

	// A retry with a zero next attempt dead-letters the event.
	if err := store.Retry(ctx, second.ID, fmt.Errorf("handler rejected"), time.Time{}); err != nil {
		t.Fatalf("dead-letter second event: %v", err)
	}
	claimed, err = store.ClaimBatch(ctx, 10)
	if err != nil {
		t.Fatalf("claim after dead-letter: %v", err)
	}
	if len(claimed) != 0 {
		t.Fatalf("expected no claimable events after dead-letter, got %d", len(claimed))
	}
}

func TestGateKeeper_UsesRepositoryFactoryStores(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	routerIdentity := core.DeriveIdentity([]byte("router"))
	gatekeeper, err := core.NewGateKeeper(
		core.Config{
			ServiceName: "protect-sqlite-test",
			Router: core.RouterConfig{
				Identity: routerIdentity.String(),
			},
		},
		core.WithPersistenceClient(client),
		core.WithRepositoryFactory(sqlstore.NewRepositoryFactory()),
	)
	if err != nil {
		t.Fatalf("new gatekeeper: %v", err)
	}

	identity := core.DeriveIdentity([]byte("vault"), []byte("1.0.0"))
	if err := gatekeeper.PreRegister(ctx, identity); err != nil {
		t.Fatalf("pre-register: %v", err)
	}
	if err := gatekeeper.CompleteRegistration(ctx, routerIdentity, identity, identity); err != nil {
		t.Fatalf("complete registration: %v", err)
	}

	status, err := gatekeeper.Status(ctx, identity)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Registration != core.RegistrationStatusRegistered {
		t.Fatalf("expected registered status, got %s", status.Registration)
	}
	if status.Authorization != core.AuthorizationStatusActive {
		t.Fatalf("expected active authorization, got %s", status.Authorization)
	}

	// The entry survives a second gatekeeper built over the same database.
	rebuilt, err := core.NewGateKeeper(
		core.Config{
			ServiceName: "protect-sqlite-test",
			Router: core.RouterConfig{
				Identity: routerIdentity.String(),
			},
		},
		core.WithPersistenceClient(client),
		core.WithRepositoryFactory(sqlstore.NewRepositoryFactory()),
	)
	if err != nil {
		t.Fatalf("rebuild gatekeeper: %v", err)
	}
	status, err = rebuilt.Status(ctx, identity)
	if err != nil {
		t.Fatalf("status from rebuilt gatekeeper: %v", err)
	}
	if status.Registration != core.RegistrationStatusRegistered {
		t.Fatalf("expected persisted registered status, got %s", status.Registration)
	}
}

func newSQLiteClient(t *testing.T) (*persistence.Client, func()) {
	t.Helper()

	dsn := fmt.Sprintf(
		"file:protect-test-%d?mode=memory&cache=shared&_foreign_keys=on",
		time.Now().UnixNano(),
	)
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	cfg := testPersistenceConfig{
		driver: "sqlite3",
		server: dsn,
	}
	client, err := persistence.New(cfg, sqlDB, sqlitedialect.New())
	if err != nil {
		_ = sqlDB.Close()
		t.Fatalf("new persistence client: %v", err)
	}

	ctx := context.Background()
	_, err = protectmigrations.Register(ctx, func(_ context.Context, dialect string, _ string, fsys fs.FS) error {
		if dialect != protectmigrations.DialectSQLite {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, protectmigrations.WithValidationTargets(protectmigrations.DialectSQLite))
	if err != nil {
		_ = client.Close()
		t.Fatalf("register migrations: %v", err)
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		t.Fatalf("migrate: %v", err)
	}

	return client, func() {
		_ = client.Close()
	}
}
