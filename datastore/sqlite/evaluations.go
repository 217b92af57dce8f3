package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/quay/cvssd"
	"github.com/quay/cvssd/cvss"
	"github.com/quay/cvssd/datastore"
)

const (
	insertEvaluation = `INSERT INTO evaluations
	(title, cve_id, source, metrics_json, vector, base_score, severity, created_at, user_id)
VALUES
	(?, ?, ?, ?, ?, ?, ?, ?, ?);`

	severityCounts = `SELECT severity, COUNT(*) FROM evaluations GROUP BY severity;`
)

// CreateEvaluation implements [datastore.EvaluationStore].
func (s *Store) CreateEvaluation(ctx context.Context, e *cvssd.Evaluation) (_ int64, err error) {
	ctx, done := s.method(ctx, "CreateEvaluation", &err)
	defer done()

	if err := datastore.CheckScore(e); err != nil {
		return 0, &cvssd.Error{Op: "CreateEvaluation", Kind: cvssd.ErrInvalid, Inner: err}
	}
	mj, err := datastore.EncodeMetrics(e.Metrics)
	if err != nil {
		return 0, &cvssd.Error{Op: "CreateEvaluation", Kind: cvssd.ErrInvalid, Inner: err}
	}
	sev, err := e.Severity.Value()
	if err != nil {
		return 0, &cvssd.Error{Op: "CreateEvaluation", Kind: cvssd.ErrInvalid, Inner: err}
	}
	var uid sql.NullInt64
	if e.UserID != 0 {
		uid = sql.NullInt64{Int64: e.UserID, Valid: true}
	}
	created := s.now()
	res, err := s.db.ExecContext(ctx, insertEvaluation,
		e.Title, e.CVEID, string(e.Source), mj, e.Vector, e.BaseScore, sev, fmtTime(created), uid)
	if err != nil {
		return 0, dbError("CreateEvaluation", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, dbError("CreateEvaluation", err)
	}
	e.ID = id
	e.CreatedAt = created.UTC().Truncate(time.Microsecond)
	return id, nil
}

// GetEvaluation implements [datastore.EvaluationStore].
func (s *Store) GetEvaluation(ctx context.Context, id int64) (_ *cvssd.Evaluation, err error) {
	ctx, done := s.method(ctx, "GetEvaluation", &err)
	defer done()

	q, args, err := datastore.BuildGetQuery(dialect, id)
	if err != nil {
		return nil, err
	}
	e, err := scanEvaluation(s.db.QueryRowContext(ctx, q, args...))
	switch {
	case errors.Is(err, sql.ErrNoRows):
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
	ctx, done := s.method(ctx, "ListEvaluations", &err)
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
	return s.all(ctx, opts)
}

func (s *Store) all(ctx context.Context, opts datastore.ListOpts) datastore.Iter[*cvssd.Evaluation] {
	return func(yield func(*cvssd.Evaluation, error) bool) {
		q, args, err := datastore.BuildListQuery(dialect, opts)
		if err != nil {
			yield(nil, &cvssd.Error{Op: "ListEvaluations", Kind: cvssd.ErrInvalid, Inner: err})
			return
		}
		rows, err := s.db.QueryContext(ctx, q, args...)
		if err != nil {
			yield(nil, dbError("ListEvaluations", err))
			return
		}
		defer rows.Close()
		for rows.Next() {
			e, err := scanEvaluation(rows)
			if err != nil {
				yield(nil, dbError("ListEvaluations", err))
				return
			}
			if !yield(e, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, dbError("ListEvaluations", err))
		}
	}
}

// Summary implements [datastore.EvaluationStore].
func (s *Store) Summary(ctx context.Context, top int) (_ *cvssd.Summary, err error) {
	ctx, done := s.method(ctx, "Summary", &err)
	defer done()

	sum := cvssd.NewSummary()
	rows, err := s.db.QueryContext(ctx, severityCounts)
	if err != nil {
		return nil, dbError("Summary", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			q  cvss.Qualitative
			ct int
		)
		if err := rows.Scan(&q, &ct); err != nil {
			return nil, dbError("Summary", err)
		}
		sum.Counts[q] = ct
		sum.Total += ct
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("Summary", err)
	}
	rows.Close()

	if top <= 0 {
		return sum, nil
	}
	q, args, err := datastore.BuildTopQuery(dialect, top)
	if err != nil {
		return nil, err
	}
	rows, err = s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, dbError("Summary", err)
	}
	defer rows.Close()
	for rows.Next() {
		e, err := scanEvaluation(rows)
		if err != nil {
			return nil, dbError("Summary", err)
		}
		sum.Top = append(sum.Top, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, dbError("Summary", err)
	}
	return sum, nil
}

type scanner interface {
	Scan(...any) error
}

func scanEvaluation(row scanner) (*cvssd.Evaluation, error) {
	var (
		e       cvssd.Evaluation
		mj      string
		created string
	)
	err := row.Scan(
		&e.ID,
		&e.Title,
		&e.CVEID,
		&e.Source,
		&mj,
		&e.Vector,
		&e.BaseScore,
		&e.Severity,
		&created,
		&e.UserID,
		&e.Evaluator,
	)
	if err != nil {
		return nil, err
	}
	if e.Metrics, err = datastore.DecodeMetrics(mj); err != nil {
		return nil, err
	}
	if e.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &e, nil
}
