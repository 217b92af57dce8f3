package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/remind101/migrate"

	"github.com/quay/cvssd/datastore"
	"github.com/quay/cvssd/datastore/datastoretest"
	"github.com/quay/cvssd/test"
)

func openTemp(ctx context.Context, t *testing.T) datastore.Store {
	t.Helper()
	s, err := Open(ctx, filepath.Join(t.TempDir(), "cvssd.db"), true)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Error(err)
		}
	})
	return s
}

func TestStore(t *testing.T) {
	ctx := test.Logging(t)
	datastoretest.Run(ctx, t, openTemp)
}

func TestMemory(t *testing.T) {
	ctx := test.Logging(t)
	datastoretest.Run(ctx, t, func(ctx context.Context, t *testing.T) datastore.Store {
		s, err := Open(ctx, ":memory:", true)
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestMigrations(t *testing.T) {
	ctx := test.Logging(t)
	p := filepath.Join(t.TempDir(), "cvssd.db")

	if _, err := Open(ctx, p, false); err == nil {
		t.Fatal("opened an unmigrated database without migrating")
	}
	s, err := Open(ctx, p, true)
	if err != nil {
		t.Fatal(err)
	}
	v, err := schemaVersion(ctx, s.db)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := v, minimumMigration; got != want {
		t.Errorf("got: %d, want: %d", got, want)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	// Opening again is a no-op, with or without migrations.
	for _, m := range []bool{true, false} {
		s, err := Open(ctx, p, m)
		if err != nil {
			t.Fatalf("migrate %v: %v", m, err)
		}
		s.Close()
	}
}

func TestMigrationUpgrade(t *testing.T) {
	ctx := test.Logging(t)
	p := filepath.Join(t.TempDir(), "cvssd.db")
	db, err := sql.Open(`sqlite`, "file:"+p)
	if err != nil {
		t.Fatal(err)
	}
	m := migrate.NewMigrator(db)
	m.Table = migrationTable
	if err := m.Exec(migrate.Up, migrations[:1]...); err != nil {
		t.Fatal(err)
	}
	if err := checkRevision(ctx, db); err == nil {
		t.Error("partially migrated database reported current")
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	s, err := Open(ctx, p, true)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+migrationTable+`;`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if got, want := n, len(migrations); got != want {
		t.Errorf("applied migrations: got: %d, want: %d", got, want)
	}
	if err := checkRevision(ctx, s.db); err != nil {
		t.Error(err)
	}
}
