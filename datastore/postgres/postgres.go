package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/remind101/migrate"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/quay/cvssd"
	"github.com/quay/cvssd/datastore"
	"github.com/quay/cvssd/toolkit/log"
)

// Dialect is the goqu dialect for this backend.
const dialect = `postgres`

const appnameKey = `application_name`

var _ datastore.Store = (*Store)(nil)

// Store is a [datastore.Store] backed by a PostgreSQL connection pool.
//
// Database methods should make use of the method and acquire helpers.
type Store struct {
	pool         *pgxpool.Pool
	registration metric.Registration
	now          func() time.Time
	spanAttrs    attribute.Set
	metricAttrs  attribute.Set
}

// Open parses the DSN and calls [Connect].
func Open(ctx context.Context, dsn string, doMigration bool) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, &cvssd.Error{Op: "postgres.Open", Kind: cvssd.ErrInvalid, Message: "bad connection string", Inner: err}
	}
	return Connect(ctx, cfg, doMigration)
}

// Connect creates a pool from the provided config and checks the schema.
//
// If "doMigration" is set, pending migrations are applied first; otherwise
// the schema must already be current.
func Connect(ctx context.Context, cfg *pgxpool.Config, doMigration bool) (*Store, error) {
	s := &Store{now: time.Now}
	if err := s.init(ctx, cfg); err != nil {
		return nil, fmt.Errorf("postgres: unable to connect: %w", err)
	}
	if doMigration {
		if err := s.migrate(ctx); err != nil {
			return nil, errors.Join(err, s.Close())
		}
	}
	if err := s.checkRevision(ctx); err != nil {
		return nil, errors.Join(err, s.Close())
	}
	slog.DebugContext(ctx, "connected", "database", cfg.ConnConfig.Database)
	return s, nil
}

// Close closes the connection pool and unregisters the associated metrics.
func (s *Store) Close() error {
	s.pool.Close()
	return s.registration.Unregister()
}

// Stat returns the pool statistics.
//
// This makes a Store usable with [github.com/quay/cvssd/pkg/poolstats].
func (s *Store) Stat() *pgxpool.Stat {
	return s.pool.Stat()
}

func (s *Store) init(ctx context.Context, cfg *pgxpool.Config) (err error) {
	if _, ok := cfg.ConnConfig.RuntimeParams[appnameKey]; !ok {
		cfg.ConnConfig.RuntimeParams[appnameKey] = "cvssd"
	}
	spanAttrs := []attribute.KeyValue{
		semconv.DBSystemPostgreSQL,
		semconv.DBUser(cfg.ConnConfig.User),
		semconv.DBName(cfg.ConnConfig.Database),
	}
	if filepath.IsAbs(cfg.ConnConfig.Host) {
		spanAttrs = append(spanAttrs, semconv.NetworkTransportUnix)
	} else {
		spanAttrs = append(spanAttrs,
			semconv.NetworkTransportTCP,
			semconv.ServerAddress(cfg.ConnConfig.Host),
		)
		if p := int(cfg.ConnConfig.Port); p != 5432 && p != 0 {
			spanAttrs = append(spanAttrs, semconv.ServerPort(p))
		}
	}
	s.spanAttrs = attribute.NewSet(spanAttrs...)
	metricAttrs := []attribute.KeyValue{attribute.String(`pool.name`, cfg.ConnConfig.RuntimeParams[appnameKey])}
	s.metricAttrs = attribute.NewSet(metricAttrs...)

	cfg.ConnConfig.Tracer = newPoolTracer(s.metricAttrs)

	s.pool, err = pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return err
	}
	if err := s.pool.Ping(ctx); err != nil {
		s.pool.Close()
		return err
	}
	s.registration, err = inst().observe(s.pool, s.metricAttrs)
	if err != nil {
		s.pool.Close()
		return err
	}
	return nil
}

// Migrate applies pending migrations through a [database/sql] handle on the
// pool.
func (s *Store) migrate(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(s.pool)
	defer db.Close()
	m := migrate.NewPostgresMigrator(db)
	m.Table = migrationTable
	if err := m.Exec(migrate.Up, migrations...); err != nil {
		return fmt.Errorf("postgres: failed to perform migrations: %w", err)
	}
	slog.InfoContext(ctx, "migrations done", "version", minimumMigration)
	return nil
}

func (s *Store) checkRevision(ctx context.Context) error {
	var rev *int
	q := fmt.Sprintf(`SELECT MAX(version) FROM %s;`, pgx.Identifier{migrationTable}.Sanitize())
	if err := s.pool.QueryRow(ctx, q).Scan(&rev); err != nil {
		return fmt.Errorf(`postgres: unable to determine migration version: %w`, err)
	}
	if rev == nil {
		return errors.New(`postgres: database needs migrations run (none applied)`)
	}
	if got, want := *rev, minimumMigration; got < want {
		return fmt.Errorf(`postgres: database needs migrations run (%d < %d)`, got, want)
	}
	return nil
}

// CtxKey is a type for the [context.Context] keys used throughout this package.
type ctxKey struct{}

// MethodKey is used to pass the method name down via [context.Context.Value].
var methodKey = ctxKey{}

// SpanKey is a type for passing the span name in the [context.Context].
type spanKey struct{}

// SpanName is used to pass the span name down via [context.Context.Value].
var spanName = spanKey{}

// Method is a helper for setting up all the observability and logging for an
// exported method.
//
// This should be called immediately inside of exported methods. The returned
// function must be called to clean up the tracing span.
func (s *Store) method(ctx context.Context, err *error) (context.Context, func()) {
	pc, _, _, _ := runtime.Caller(1)
	n := runtime.FuncForPC(pc).Name()
	i := strings.LastIndexByte(n, '.')
	if i == -1 {
		panic("name without dot: " + n)
	}
	return s.start(ctx, n, n[i+1:], err)
}

// Start is the body of [Store.method], for callers that can't be found
// with [runtime.Caller], such as iterator closures.
func (s *Store) start(ctx context.Context, fullName, funcName string, err *error) (context.Context, func()) {
	funcPath := strings.TrimPrefix(fullName, "github.com/quay/cvssd/")
	sn := path.Base(fullName)
	ctx = context.WithValue(ctx, spanName, sn)
	ctx = context.WithValue(ctx, methodKey, funcName)
	ctx = log.With(ctx, "component", funcPath)
	mAttr := attribute.String(`method`, funcName)
	attrs := attribute.NewSet(append(s.spanAttrs.ToSlice(), mAttr)...)
	ctx, span := tracer.Start(ctx, sn, trace.WithAttributes(mAttr), trace.WithSpanKind(trace.SpanKindInternal))
	slog.DebugContext(ctx, "start")
	begin := time.Now()
	return ctx, func() {
		in := inst()
		in.calls.Add(ctx, 1, metric.WithAttributeSet(attrs))
		in.callTime.Record(ctx, time.Since(begin).Seconds(), metric.WithAttributeSet(attrs))
		if *err != nil {
			*err = fmt.Errorf("postgres: %s: %w", funcName, *err)
			span.RecordError(*err)
			span.SetStatus(codes.Error, "method error")
			slog.DebugContext(ctx, "done", "error", *err)
		} else {
			span.SetStatus(codes.Ok, "")
			slog.DebugContext(ctx, "done")
		}
		span.End()
	}
}

// AcquireFunc is the function signature for the inner call of the
// [Store.acquire] helper.
type acquireFunc func(ctx context.Context, c *pgxpool.Conn, query string) error

// Acquire is a helper for setting up all the observability and logging for a
// query on a connection without a transaction. It's intended to be used with
// [*pgxpool.Pool.AcquireFunc].
//
// The query is loaded from the file named for the calling method and "name".
// The "inner" function should only be issuing the query and scanning the
// results.
func (s *Store) acquire(ctx context.Context, name string, inner acquireFunc) func(*pgxpool.Conn) error {
	mn := ctx.Value(methodKey).(string)
	fn := strings.ToLower(fmt.Sprintf("%s_%s.sql", mn, name))
	q := loadquery(fn)
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(semconv.DBSQLTable(queryMetadata.Table[fn]))
	if op := queryMetadata.Op[fn]; op != "" {
		span.SetAttributes(semconv.DBOperation(op))
	}
	return s.acquireQuery(ctx, name, q, inner)
}

// AcquireQuery is like [Store.acquire], but for a query built at runtime.
func (s *Store) acquireQuery(ctx context.Context, name, q string, inner acquireFunc) func(*pgxpool.Conn) error {
	sn := ctx.Value(spanName).(string)
	return func(c *pgxpool.Conn) error {
		ctx, span := tracer.Start(ctx, path.Join(sn, name), trace.WithSpanKind(trace.SpanKindClient))
		defer span.End()
		span.SetAttributes(pgpidAttr(c.Conn()))
		err := inner(ctx, c, q)
		span.RecordError(err)
		if err != nil {
			span.SetStatus(codes.Error, "call error")
		} else {
			span.SetStatus(codes.Ok, "")
		}
		return err
	}
}

// Codes from https://www.postgresql.org/docs/current/errcodes-appendix.html.
const (
	codeUniqueViolation      = "23505"
	codeForeignKeyViolation  = "23503"
	codeCheckViolation       = "23514"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// DbError creates the domain error for a failed database call.
func dbError(op string, err error) error {
	kind := cvssd.ErrInternal
	var pgErr *pgconn.PgError
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		kind = cvssd.ErrNotFound
	case errors.As(err, &pgErr):
		switch pgErr.Code {
		case codeUniqueViolation:
			kind = cvssd.ErrConflict
		case codeForeignKeyViolation, codeCheckViolation:
			kind = cvssd.ErrInvalid
		case codeSerializationFailure, codeDeadlockDetected:
			kind = cvssd.ErrTransient
		}
	case pgconn.Timeout(err),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		kind = cvssd.ErrTransient
	}
	return &cvssd.Error{
		Op:    op,
		Kind:  kind,
		Inner: err,
	}
}
