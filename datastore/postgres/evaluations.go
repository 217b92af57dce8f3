package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/quay/cvssd"
	"github.com/quay/cvssd/cvss"
	"github.com/quay/cvssd/datastore"
)

// CreateEvaluation implements [datastore.EvaluationStore].
func (s *Store) CreateEvaluation(ctx context.Context, e *cvssd.Evaluation) (_ int64, err error) {
	ctx, done := s.method(ctx, &err)
	defer done()

	if err := datastore.CheckScore(e); err != nil {
		return 0, &cvssd.Error{Op: "CreateEvaluation", Kind: cvssd.ErrInvalid, Inner: err}
	}
	mj, err := datastore.EncodeMetrics(e.Metrics)
	if err != nil {
		return 0, &cvssd.Error{Op: "CreateEvaluation", Kind: cvssd.ErrInvalid, Inner: err}
	}
	sev, err := e.Severity.MarshalText()
	if err != nil {
		return 0, &cvssd.Error{Op: "CreateEvaluation", Kind: cvssd.ErrInvalid, Inner: err}
	}
	var uid *int64
	if e.UserID != 0 {
		uid = &e.UserID
	}
	created := s.now().UTC().Truncate(time.Microsecond)
	var id int64
	err = s.pool.AcquireFunc(ctx, s.acquire(ctx, "insert", func(ctx context.Context, c *pgxpool.Conn, query string) error {
		return c.QueryRow(ctx, query,
			e.Title, e.CVEID, string(e.Source), mj, e.Vector, e.BaseScore, string(sev), created, uid,
		).Scan(&id)
	}))
	if err != nil {
		return 0, dbError("CreateEvaluation", err)
	}
	e.ID = id
	e.CreatedAt = created
	inst().created.Add(ctx, 1, metric.WithAttributes(attribute.String("severity", string(sev))))
	return id, nil
}

// GetEvaluation implements [datastore.EvaluationStore].
func (s *Store) GetEvaluation(ctx context.Context, id int64) (_ *cvssd.Evaluation, err error) {
	ctx, done := s.method(ctx, &err)
	defer done()

	q, args, err := datastore.BuildGetQuery(dialect, id)
	if err != nil {
		return nil, err
	}
	var e *cvssd.Evaluation
	err = s.pool.AcquireFunc(ctx, s.acquireQuery(ctx, "select", q, func(ctx context.Context, c *pgxpool.Conn, query string) error {
		var err error
		e, err = scanEvaluation(c.QueryRow(ctx, query, args...))
		return err
	}))
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, &cvssd.Error{
			Op:      "GetEvaluation",
			Kind:    cvssd.ErrNotFound,
			Message: fmt.Sprintf("no evaluation %d", id),
			Inner:   err,
		}
	case err != nil:
		return nil, dbError("GetEvaluation", err)
	}
	return e, nil
}

// ListEvaluations implements [datastore.EvaluationStore].
func (s *Store) ListEvaluations(ctx context.Context, opts datastore.ListOpts) (_ []cvssd.Evaluation, err error) {
	ctx, done := s.method(ctx, &err)
	defer done()

	out := []cvssd.Evaluation{}
	for e, err := range s.all(ctx, opts) {
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, nil
}

// AllEvaluations implements [datastore.EvaluationStore].
func (s *Store) AllEvaluations(ctx context.Context, opts datastore.ListOpts) datastore.Iter[*cvssd.Evaluation] {
	return func(yield func(*cvssd.Evaluation, error) bool) {
		var err error
		ctx, done := s.start(ctx, "github.com/quay/cvssd/datastore/postgres.(*Store).AllEvaluations", "AllEvaluations", &err)
		defer done()
		for e, ierr := range s.all(ctx, opts) {
			if ierr != nil {
				err = ierr
			}
			if !yield(e, ierr) {
				return
			}
		}
	}
}

// All needs a context set up by [Store.method].
func (s *Store) all(ctx context.Context, opts datastore.ListOpts) datastore.Iter[*cvssd.Evaluation] {
	return func(yield func(*cvssd.Evaluation, error) bool) {
		q, args, err := datastore.BuildListQuery(dialect, opts)
		if err != nil {
			yield(nil, &cvssd.Error{Op: "ListEvaluations", Kind: cvssd.ErrInvalid, Inner: err})
			return
		}
		stopped := false
		err = s.pool.AcquireFunc(ctx, s.acquireQuery(ctx, "select", q, func(ctx context.Context, c *pgxpool.Conn, query string) error {
			rows, err := c.Query(ctx, query, args...)
			if err != nil {
				return err
			}
			defer rows.Close()
			for rows.Next() {
				e, err := scanEvaluation(rows)
				if err != nil {
					return err
				}
				if !yield(e, nil) {
					stopped = true
					return nil
				}
			}
			return rows.Err()
		}))
		if err != nil && !stopped {
			yield(nil, dbError("ListEvaluations", err))
		}
	}
}

// Summary implements [datastore.EvaluationStore].
func (s *Store) Summary(ctx context.Context, top int) (_ *cvssd.Summary, err error) {
	ctx, done := s.method(ctx, &err)
	defer done()

	sum := cvssd.NewSummary()
	err = s.pool.AcquireFunc(ctx, s.acquire(ctx, "counts", func(ctx context.Context, c *pgxpool.Conn, query string) error {
		rows, err := c.Query(ctx, query)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				q  cvss.Qualitative
				ct int64
			)
			if err := rows.Scan(&q, &ct); err != nil {
				return err
			}
			sum.Counts[q] = int(ct)
			sum.Total += int(ct)
		}
		return rows.Err()
	}))
	if err != nil {
		return nil, dbError("Summary", err)
	}
	if top <= 0 {
		return sum, nil
	}

	q, args, err := datastore.BuildTopQuery(dialect, top)
	if err != nil {
		return nil, err
	}
	err = s.pool.AcquireFunc(ctx, s.acquireQuery(ctx, "top", q, func(ctx context.Context, c *pgxpool.Conn, query string) error {
		rows, err := c.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			e, err := scanEvaluation(rows)
			if err != nil {
				return err
			}
			sum.Top = append(sum.Top, *e)
		}
		return rows.Err()
	}))
	if err != nil {
		return nil, dbError("Summary", err)
	}
	return sum, nil
}

func scanEvaluation(row pgx.Row) (*cvssd.Evaluation, error) {
	var (
		e   cvssd.Evaluation
		src string
		mj  []byte
	)
	err := row.Scan(
		&e.ID,
		&e.Title,
		&e.CVEID,
		&src,
		&mj,
		&e.Vector,
		&e.BaseScore,
		&e.Severity,
		&e.CreatedAt,
		&e.UserID,
		&e.Evaluator,
	)
	if err != nil {
		return nil, err
	}
	e.Source = cvssd.Source(src)
	if e.Metrics, err = datastore.DecodeMetrics(string(mj)); err != nil {
		return nil, err
	}
	return &e, nil
}
