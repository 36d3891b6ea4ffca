package migrations

import (
	"context"
	"database/sql"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"

	protect "github.com/goliatone/go-protect"
	_ "github.com/mattn/go-sqlite3"
)

func TestFilesystems_ReturnsPostgresAndSQLite(t *testing.T) {
	filesystems, err := Filesystems()
	if err != nil {
		t.Fatalf("filesystems: %v", err)
	}

	byDialect := map[string]fs.FS{}
	for _, entry := range filesystems {
		byDialect[entry.Dialect] = entry.FS
	}
	if len(byDialect) != 2 {
		t.Fatalf("got dialects %v, want postgres and sqlite", byDialect)
	}

	for _, dialect := range []string{DialectPostgres, DialectSQLite} {
		fsys, ok := byDialect[dialect]
		if !ok {
			t.Fatalf("missing %s filesystem", dialect)
		}
		matches, globErr := fs.Glob(fsys, "*.up.sql")
		if globErr != nil {
			t.Fatalf("glob %s: %v", dialect, globErr)
		}
		if len(matches) == 0 {
			t.Fatalf("no up migrations embedded for %s", dialect)
		}
	}
}

func TestRegister_UsesValidationTargets(t *testing.T) {
	var registered []string
	register := func(_ context.Context, dialect string, _ string, _ fs.FS) error {
		registered = append(registered, dialect)
		return nil
	}

	if _, err := Register(context.Background(), register, WithValidationTargets(DialectSQLite)); err != nil {
		t.Fatalf("register: %v", err)
	}
	if len(registered) != 1 || registered[0] != DialectSQLite {
		t.Fatalf("registered %v, want exactly [%s]", registered, DialectSQLite)
	}
}

func TestCoreSchemaMigrationPair_ExistsForBothDialects(t *testing.T) {
	root := protect.GetCoreMigrationsFS()
	paths := []string{
		"data/sql/migrations/20260801000000_protect_core.up.sql",
		"data/sql/migrations/20260801000000_protect_core.down.sql",
		"data/sql/migrations/sqlite/20260801000000_protect_core.up.sql",
		"data/sql/migrations/sqlite/20260801000000_protect_core.down.sql",
	}
	for _, migrationPath := range paths {
		content, err := fs.ReadFile(root, migrationPath)
		if err != nil {
			t.Fatalf("read migration %s: %v", migrationPath, err)
		}
		if strings.TrimSpace(string(content)) == "" {
			t.Fatalf("expected migration %s to have SQL content", migrationPath)
		}
	}
}

func TestSQLiteCoreSchemaMigration_ApplyAndRollback(t *testing.T) {
	db, err := sql.Open("sqlite3", "file:migrations-protect-core?mode=memory&cache=shared&_foreign_keys=on")
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	defer func() { _ = db.Close() }()

	root := protect.GetCoreMigrationsFS()
	sqliteMigrations, err := fs.Sub(root, "data/sql/migrations/sqlite")
	if err != nil {
		t.Fatalf("resolve sqlite migrations: %v", err)
	}

	if err := execSQLMigration(
		context.Background(),
		db,
		sqliteMigrations,
		"20260801000000_protect_core.up.sql",
	); err != nil {
		t.Fatalf("apply core schema migration up: %v", err)
	}

	requiredTables := []string{
		"protect_registrations",
		"protect_protection_flags",
		"protect_outbox_events",
	}
	for _, tableName := range requiredTables {
		var count int
		if err := db.QueryRowContext(
			context.Background(),
			`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`,
			tableName,
		).Scan(&count); err != nil {
			t.Fatalf("query sqlite_master for %s: %v", tableName, err)
		}
		if count != 1 {
			t.Fatalf("expected table %s to exist after up migration", tableName)
		}
	}

	insertStatement := `
		INSERT INTO protect_registrations
			(id, identity, proxy_identity, registration_status, authorization_status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := db.ExecContext(
		context.Background(),
		insertStatement,
		"reg_1",
		"0x0101",
		"",
		"registered",
		"active",
		"2026-01-01T00:00:00Z",
		"2026-01-01T00:00:00Z",
	); err != nil {
		t.Fatalf("insert registration: %v", err)
	}
	if _, err := db.ExecContext(
		context.Background(),
		insertStatement,
		"reg_2",
		"0x0101",
		"",
		"pending",
		"inactive",
		"2026-01-01T00:01:00Z",
		"2026-01-01T00:01:00Z",
	); err == nil {
		t.Fatalf("expected unique identity violation after up migration")
	}

	if err := execSQLMigration(
		context.Background(),
		db,
		sqliteMigrations,
		"20260801000000_protect_core.down.sql",
	); err != nil {
		t.Fatalf("apply core schema migration down: %v", err)
	}

	var count int
	if err := db.QueryRowContext(
		context.Background(),
		`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`,
		"protect_registrations",
	).Scan(&count); err != nil {
		t.Fatalf("query sqlite_master after down migration: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected protect_registrations to be dropped after down migration")
	}
}

func execSQLMigration(ctx context.Context, db *sql.DB, fsys fs.FS, filename string) error {
	script, err := fs.ReadFile(fsys, filepath.Clean(filename))
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, string(script)); err != nil {
		return err
	}
	return nil
}
