package postgres

import (
	"context"
	"errors"
	"io/fs"
	"path"
	"strings"
	"testing"

	"github.com/quay/cvssd"
	"github.com/quay/cvssd/datastore"
	"github.com/quay/cvssd/datastore/datastoretest"
	"github.com/quay/cvssd/test"
	"github.com/quay/cvssd/test/integration"
)

func TestStore(t *testing.T) {
	ctx := test.Logging(t)
	datastoretest.Run(ctx, t, func(ctx context.Context, t *testing.T) datastore.Store {
		cfg := integration.NewDB(ctx, t)
		s, err := Connect(ctx, cfg, true)
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() {
			if err := s.Close(); err != nil {
				t.Error(err)
			}
		})
		return s
	})
}

func TestMigrations(t *testing.T) {
	ctx := test.Logging(t)
	cfg := integration.NewDB(ctx, t)

	if s, err := Connect(ctx, cfg.Copy(), false); err == nil {
		s.Close()
		t.Fatal("connected to an unmigrated database without migrating")
	}
	for _, m := range []bool{true, true, false} {
		s, err := Connect(ctx, cfg.Copy(), m)
		if err != nil {
			t.Fatalf("migrate %v: %v", m, err)
		}
		if err := s.Close(); err != nil {
			t.Error(err)
		}
	}
}

func TestOpenBadDSN(t *testing.T) {
	ctx := test.Logging(t)
	_, err := Open(ctx, "postgres://%zz", false)
	if !errors.Is(err, cvssd.ErrInvalid) {
		t.Errorf("got: %v, want: %v", err, cvssd.ErrInvalid)
	}
}

func TestQueryMetadata(t *testing.T) {
	var want []string
	fs.WalkDir(queries, "queries", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || path.Ext(d.Name()) != ".sql" {
			return nil
		}
		want = append(want, strings.TrimPrefix(p, "queries/"))
		return nil
	})
	if len(want) == 0 {
		t.Fatal("no queries found")
	}
	for _, w := range want {
		if _, exists := queryMetadata.Table[w]; !exists {
			t.Errorf("query %s: missing %s", w, "table")
		}
		if _, exists := queryMetadata.Op[w]; !exists {
			t.Errorf("query %s: missing %s", w, "operation")
		}
	}
	for k := range queryMetadata.Table {
		if _, err := fs.Stat(queries, path.Join("queries", k)); err != nil {
			t.Error(err)
		}
	}
}
