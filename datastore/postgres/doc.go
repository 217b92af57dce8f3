// Package postgres implements a [datastore.Store] backed by PostgreSQL.
//
// # Telemetry
//
// Every exported method opens an OpenTelemetry span and records the following
// metrics:
//
//   - method.calls
//   - method.call_time
//
// Connection pool metrics follow the [OpenTelemetry Database Metrics]
// conventions. The pool can additionally be exported to Prometheus via
// [github.com/quay/cvssd/pkg/poolstats].
//
// # Queries
//
// SQL statements should be arranged in files in the "queries" directory, named
// for the method and the step: "createevaluation_insert.sql" is the "insert"
// query of the CreateEvaluation method. The [queryMetadata] table must list
// every file. Queries with caller-controlled filters are built with goqu; see
// [datastore.BuildListQuery].
//
// # Migrations
//
// The schema lives in the "migrations" directory and is applied with
// [github.com/remind101/migrate]. Migrations are append-only.
//
// # Tests
//
// Tests need a PostgreSQL server; see [integration.EnvPostgres].
//
// [OpenTelemetry Database Metrics]: https://opentelemetry.io/docs/specs/semconv/database/database-metrics/
package postgres // import "github.com/quay/cvssd/datastore/postgres"
