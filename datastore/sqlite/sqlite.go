// Package sqlite is the default, single-file [datastore.Store]
// implementation.
//
// The database is opened with one connection, so all access is serialized
// through it.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/quay/cvssd"
	"github.com/quay/cvssd/datastore"
	"github.com/quay/cvssd/toolkit/log"
)

// Dialect is the goqu dialect for this backend.
const dialect = `sqlite3`

// TimeLayout is the stored form of timestamps: fixed width, so that text
// ordering is time ordering.
const timeLayout = `2006-01-02T15:04:05.000000Z07:00`

var tracer = otel.Tracer("github.com/quay/cvssd/datastore/sqlite")

var _ datastore.Store = (*Store)(nil)

// Store is a [datastore.Store] backed by a SQLite database file.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the SQLite database at "file". The special
// name ":memory:" creates a private in-memory database.
//
// If "migrate" is set, pending migrations are applied; otherwise the schema
// must already be current.
func Open(ctx context.Context, file string, migrate bool) (*Store, error) {
	u := url.URL{
		Scheme: `file`,
		Opaque: file,
		RawQuery: url.Values{
			"_pragma": {
				"foreign_keys(1)",
				"busy_timeout(5000)",
				"journal_mode(WAL)",
			},
			"_txlock": {"immediate"},
		}.Encode(),
	}
	db, err := sql.Open(`sqlite`, u.String())
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		return nil, errors.Join(fmt.Errorf("sqlite: unable to open %q: %w", file, err), db.Close())
	}
	if migrate {
		err = runMigrations(ctx, db)
	} else {
		err = checkRevision(ctx, db)
	}
	if err != nil {
		return nil, errors.Join(err, db.Close())
	}
	slog.DebugContext(ctx, "opened database", "file", file)
	return &Store{db: db, now: time.Now}, nil
}

// Close implements [datastore.Store].
func (s *Store) Close() error {
	return s.db.Close()
}

// Method sets up logging and tracing for an exported method. The returned
// function must be called with the method's result to finish the span.
func (s *Store) method(ctx context.Context, name string, err *error) (context.Context, func()) {
	ctx = log.With(ctx, "component", "datastore/sqlite."+name)
	ctx, span := tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("db.system", "sqlite")))
	begin := time.Now()
	return ctx, func() {
		if *err != nil {
			*err = fmt.Errorf("sqlite: %s: %w", name, *err)
			span.RecordError(*err)
			span.SetStatus(codes.Error, "method error")
			slog.DebugContext(ctx, "done", "duration", time.Since(begin), "error", *err)
		} else {
			span.SetStatus(codes.Ok, "")
			slog.DebugContext(ctx, "done", "duration", time.Since(begin))
		}
		span.End()
	}
}

// DbError creates the domain error for a failed database call.
func dbError(op string, err error) error {
	kind := cvssd.ErrInternal
	var se *sqlite.Error
	switch {
	case errors.Is(err, sql.ErrNoRows):
		kind = cvssd.ErrNotFound
	case errors.As(err, &se):
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			kind = cvssd.ErrConflict
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			kind = cvssd.ErrTransient
		}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		kind = cvssd.ErrTransient
	}
	return &cvssd.Error{
		Op:    op,
		Kind:  kind,
		Inner: err,
	}
}

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// NullTime is for nullable timestamp columns.
type nullTime struct {
	Time time.Time
}

// Scan implements [sql.Scanner].
func (n *nullTime) Scan(v any) error {
	switch v := v.(type) {
	case nil:
		n.Time = time.Time{}
		return nil
	case string:
		t, err := parseTime(v)
		n.Time = t
		return err
	case []byte:
		t, err := parseTime(string(v))
		n.Time = t
		return err
	default:
		return fmt.Errorf("sqlite: unable to scan time from %T", v)
	}
}
