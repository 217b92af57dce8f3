package postgres

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	scopeName    = `github.com/quay/cvssd/datastore/postgres`
	scopeVersion = `0.2.0`
)

var tracer = otel.Tracer(scopeName, trace.WithInstrumentationVersion(scopeVersion))

// Instruments is every metric instrument this package records to.
//
// Pool instrument names follow the OpenTelemetry database client
// conventions.
type instruments struct {
	meter metric.Meter

	calls    metric.Int64Counter
	callTime metric.Float64Histogram

	created metric.Int64Counter

	poolUsage   metric.Int64ObservableUpDownCounter
	poolMax     metric.Int64ObservableUpDownCounter
	poolPending metric.Int64ObservableUpDownCounter
	poolTimeout metric.Int64ObservableCounter
	createTime  metric.Float64Histogram
	waitTime    metric.Float64Histogram
	useTime     metric.Float64Histogram
}

// Inst returns the package instruments, creating them on first use so the
// global MeterProvider in effect at that point is used.
var inst = sync.OnceValue(func() *instruments {
	m := otel.Meter(scopeName, metric.WithInstrumentationVersion(scopeVersion))
	var errs []error
	i64 := func(c metric.Int64Counter, err error) metric.Int64Counter {
		errs = append(errs, err)
		return c
	}
	f64 := func(h metric.Float64Histogram, err error) metric.Float64Histogram {
		errs = append(errs, err)
		return h
	}
	oud := func(c metric.Int64ObservableUpDownCounter, err error) metric.Int64ObservableUpDownCounter {
		errs = append(errs, err)
		return c
	}
	seconds := metric.WithUnit("s")
	in := &instruments{
		meter: m,
		calls: i64(m.Int64Counter("cvssd.store.calls",
			metric.WithDescription("Store method calls, by method."),
			metric.WithUnit("{call}"))),
		callTime: f64(m.Float64Histogram("cvssd.store.call_time",
			metric.WithDescription("Store method duration, by method."), seconds)),
		created: i64(m.Int64Counter("cvssd.store.evaluations_created",
			metric.WithDescription("Evaluations persisted, by severity."),
			metric.WithUnit("{evaluation}"))),
		poolUsage: oud(m.Int64ObservableUpDownCounter("db.client.connections.usage",
			metric.WithDescription("Connections in the state described by the state attribute."),
			metric.WithUnit("{connection}"))),
		poolMax: oud(m.Int64ObservableUpDownCounter("db.client.connections.max",
			metric.WithDescription("Maximum open connections allowed."),
			metric.WithUnit("{connection}"))),
		poolPending: oud(m.Int64ObservableUpDownCounter("db.client.connections.pending_requests",
			metric.WithDescription("Acquires that had to wait for a connection, cumulative."),
			metric.WithUnit("{request}"))),
		createTime: f64(m.Float64Histogram("db.client.connections.create_time",
			metric.WithDescription("Time to create a connection."), seconds)),
		waitTime: f64(m.Float64Histogram("db.client.connections.wait_time",
			metric.WithDescription("Time to obtain a connection from the pool."), seconds)),
		useTime: f64(m.Float64Histogram("db.client.connections.use_time",
			metric.WithDescription("Time a query held its connection."), seconds)),
	}
	var err error
	in.poolTimeout, err = m.Int64ObservableCounter("db.client.connections.timeouts",
		metric.WithDescription("Acquires canceled before a connection was available."),
		metric.WithUnit("{timeout}"))
	errs = append(errs, err)
	if err := errors.Join(errs...); err != nil {
		otel.Handle(err)
	}
	return in
})

// Observe registers the callback reporting the pool's state.
func (in *instruments) observe(p *pgxpool.Pool, attrs attribute.Set) (metric.Registration, error) {
	base := attrs.ToSlice()
	used := metric.WithAttributeSet(attribute.NewSet(append(base, attribute.String("state", "used"))...))
	idle := metric.WithAttributeSet(attribute.NewSet(append(base, attribute.String("state", "idle"))...))
	pool := metric.WithAttributeSet(attrs)
	return in.meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		st := p.Stat()
		o.ObserveInt64(in.poolUsage, int64(st.AcquiredConns()), used)
		o.ObserveInt64(in.poolUsage, int64(st.IdleConns()), idle)
		o.ObserveInt64(in.poolMax, int64(st.MaxConns()), pool)
		o.ObserveInt64(in.poolPending, st.EmptyAcquireCount(), pool)
		o.ObserveInt64(in.poolTimeout, st.CanceledAcquireCount(), pool)
		return nil
	}, in.poolUsage, in.poolMax, in.poolPending, in.poolTimeout)
}

// PgpidAttr is the attribute for the connection's server PID.
func pgpidAttr(c *pgx.Conn) attribute.KeyValue {
	return attribute.Int("postgresql.pid", int(c.PgConn().PID()))
}

var (
	dbAffected = attribute.Key("db.rows_affected")
	dbSQLState = attribute.Key("db.postgresql.sqlstate")
)

// PoolTracer records pool and query telemetry for every connection.
type poolTracer struct {
	attrs metric.MeasurementOption
}

func newPoolTracer(attrs attribute.Set) *poolTracer {
	return &poolTracer{attrs: metric.WithAttributeSet(attrs)}
}

var (
	_ pgx.ConnectTracer     = (*poolTracer)(nil)
	_ pgx.QueryTracer       = (*poolTracer)(nil)
	_ pgxpool.AcquireTracer = (*poolTracer)(nil)
)

// TraceKey holds the start time of a traced operation.
type traceKey int

const (
	connectStart traceKey = iota
	acquireStart
	queryStart
)

func since(ctx context.Context, k traceKey) (time.Duration, bool) {
	t, ok := ctx.Value(k).(time.Time)
	if !ok {
		return 0, false
	}
	return time.Since(t), true
}

// TraceConnectStart implements [pgx.ConnectTracer].
func (t *poolTracer) TraceConnectStart(ctx context.Context, _ pgx.TraceConnectStartData) context.Context {
	return context.WithValue(ctx, connectStart, time.Now())
}

// TraceConnectEnd implements [pgx.ConnectTracer].
func (t *poolTracer) TraceConnectEnd(ctx context.Context, data pgx.TraceConnectEndData) {
	if d, ok := since(ctx, connectStart); ok {
		inst().createTime.Record(ctx, d.Seconds(), t.attrs)
	}
	if data.Err != nil {
		slog.DebugContext(ctx, "connect failed", "error", data.Err)
	}
}

// TraceAcquireStart implements [pgxpool.AcquireTracer].
func (t *poolTracer) TraceAcquireStart(ctx context.Context, _ *pgxpool.Pool, _ pgxpool.TraceAcquireStartData) context.Context {
	return context.WithValue(ctx, acquireStart, time.Now())
}

// TraceAcquireEnd implements [pgxpool.AcquireTracer].
func (t *poolTracer) TraceAcquireEnd(ctx context.Context, _ *pgxpool.Pool, _ pgxpool.TraceAcquireEndData) {
	if d, ok := since(ctx, acquireStart); ok {
		inst().waitTime.Record(ctx, d.Seconds(), t.attrs)
	}
}

// TraceQueryStart implements [pgx.QueryTracer].
func (t *poolTracer) TraceQueryStart(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	trace.SpanFromContext(ctx).SetAttributes(semconv.DBStatement(data.SQL), pgpidAttr(conn))
	return context.WithValue(ctx, queryStart, time.Now())
}

// TraceQueryEnd implements [pgx.QueryTracer].
func (t *poolTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	d, ok := since(ctx, queryStart)
	if !ok {
		return
	}
	inst().useTime.Record(ctx, d.Seconds(), t.attrs)

	op := strings.TrimRight(data.CommandTag.String(), ` 0123456789`)
	n := data.CommandTag.RowsAffected()
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(semconv.DBOperation(op), dbAffected.Int64(n))
	if err := data.Err; err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			span.SetAttributes(dbSQLState.String(pgErr.Code))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "query error")
		slog.DebugContext(ctx, "query failed", "operation", op, "duration", d, "error", err)
		return
	}
	span.SetStatus(codes.Ok, "")
	switch op {
	case "BEGIN", "COMMIT", "ROLLBACK":
	default:
		slog.DebugContext(ctx, "query done", "operation", op, "affected", n, "duration", d)
	}
}
