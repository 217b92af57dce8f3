package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"path"

	"github.com/remind101/migrate"
)

// MigrationTable records the applied schema versions.
const migrationTable = `cvssd_migrations`

//go:embed migrations/*.sql
var migrationFS embed.FS

func runFile(n string) func(*sql.Tx) error {
	b, err := migrationFS.ReadFile(path.Join("migrations", n))
	if err != nil {
		panic("programmer error: missing migration: " + err.Error())
	}
	return func(tx *sql.Tx) error {
		_, err := tx.Exec(string(b))
		return err
	}
}

// Migrations must be append-only.
var migrations = []migrate.Migration{
	{ID: 1, Up: runFile("01-init.sql")},
	{ID: 2, Up: runFile("02-severity-index.sql")},
}

// MinimumMigration is the schema version the Store needs.
var minimumMigration = migrations[len(migrations)-1].ID

// RunMigrations brings the schema up to date, one transaction per migration.
// The Store holds a single connection, so the default in-process lock is
// enough.
func runMigrations(ctx context.Context, db *sql.DB) error {
	m := migrate.NewMigrator(db)
	m.Table = migrationTable
	if err := m.Exec(migrate.Up, migrations...); err != nil {
		return fmt.Errorf("sqlite: failed to perform migrations: %w", err)
	}
	slog.InfoContext(ctx, "migrations done", "version", minimumMigration)
	return nil
}

func schemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var v sql.NullInt64
	err := db.QueryRowContext(ctx, `SELECT MAX(version) FROM `+migrationTable+`;`).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("sqlite: unable to determine migration version: %w", err)
	}
	return int(v.Int64), nil
}

// CheckRevision reports an error if the schema is older than the Store
// needs. A fresh file has no migration table and so is never current.
func checkRevision(ctx context.Context, db *sql.DB) error {
	var n int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?;`, migrationTable).Scan(&n)
	if err != nil {
		return fmt.Errorf("sqlite: unable to determine migration version: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("sqlite: database needs migrations run (none applied)")
	}
	rev, err := schemaVersion(ctx, db)
	if err != nil {
		return err
	}
	if got, want := rev, minimumMigration; got < want {
		return fmt.Errorf("sqlite: database needs migrations run (%d < %d)", got, want)
	}
	return nil
}
