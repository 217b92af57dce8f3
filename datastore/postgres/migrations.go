package postgres

import (
	"database/sql"
	"embed"
	"path"

	"github.com/remind101/migrate"
)

// MigrationTable records the applied schema versions.
const migrationTable = "cvssd_migrations"

//go:embed migrations/*.sql
var migrationFS embed.FS

func runFile(n string) func(*sql.Tx) error {
	b, err := migrationFS.ReadFile(path.Join("migrations", n))
	return func(tx *sql.Tx) error {
		if err != nil {
			return err
		}
		if _, err := tx.Exec(string(b)); err != nil {
			return err
		}
		return nil
	}
}

// Migrations must be append-only.
var migrations = []migrate.Migration{
	{
		ID: 1,
		Up: runFile("01-init.sql"),
	},
	{
		ID: 2,
		Up: runFile("02-severity-index.sql"),
	},
}

// MinimumMigration is the schema version the Store needs.
var minimumMigration = migrations[len(migrations)-1].ID
