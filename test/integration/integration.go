// Package integration is a helper for running tests against external
// services.
package integration

import (
	"os"
	"testing"
)

// EnvPostgres names the environment variable holding a DSN for a PostgreSQL
// server the tests may create databases on.
const EnvPostgres = `CVSSD_TEST_POSTGRES`

// Skip will skip the current test or benchmark if no PostgreSQL server has
// been provided via [EnvPostgres].
//
// This should be used as an annotation at the top of the function, like
// (*testing.T).Parallel().
func Skip(t testing.TB) {
	t.Helper()
	if os.Getenv(EnvPostgres) == "" {
		t.Skipf("skipping integration test: %s not set", EnvPostgres)
	}
}
