package integration

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	createRole      = `CREATE ROLE %s LOGIN;`
	createDatabase  = `CREATE DATABASE %[2]s WITH OWNER %[1]s ENCODING 'UTF8';`
	killConnections = `SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = $1`
	dropDatabase    = `DROP DATABASE %s;`
	dropRole        = `DROP ROLE %s;`
)

// NewDB creates a fresh database and role on the server named by
// [EnvPostgres] and returns a pool config for it. The database is dropped
// when the test finishes.
//
// The test is skipped if the environment variable is unset.
func NewDB(ctx context.Context, t testing.TB) *pgxpool.Config {
	t.Helper()
	Skip(t)
	dsn := os.Getenv(EnvPostgres)
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatal(err)
	}
	database := fmt.Sprintf("db%x", rand.Uint64())
	role := fmt.Sprintf("role%x", rand.Uint64())

	conn, err := pgx.ConnectConfig(ctx, cfg.ConnConfig)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close(ctx)
	if _, err := conn.Exec(ctx, fmt.Sprintf(createRole, role)); err != nil {
		t.Fatal(err)
	}
	if _, err := conn.Exec(ctx, fmt.Sprintf(createDatabase, role, database)); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		ctx := context.Background()
		conn, err := pgx.ConnectConfig(ctx, cfg.ConnConfig.Copy())
		if err != nil {
			t.Error(err)
			return
		}
		defer conn.Close(ctx)
		if _, err := conn.Exec(ctx, killConnections, database); err != nil {
			t.Error(err)
		}
		if _, err := conn.Exec(ctx, fmt.Sprintf(dropDatabase, database)); err != nil {
			t.Error(err)
		}
		if _, err := conn.Exec(ctx, fmt.Sprintf(dropRole, role)); err != nil {
			t.Error(err)
		}
	})

	out := cfg.Copy()
	out.ConnConfig.Database = database
	out.ConnConfig.User = role
	return out
}
