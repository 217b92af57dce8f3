package datastore

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/doug-martin/goqu/v8"
	_ "github.com/doug-martin/goqu/v8/dialect/postgres" // register the postgres dialect
	_ "github.com/doug-martin/goqu/v8/dialect/sqlite3"  // register the sqlite3 dialect
	"github.com/doug-martin/goqu/v8/exp"

	"github.com/quay/cvssd"
	"github.com/quay/cvssd/cvss"
)

// EvaluationColumns is the column order used by every evaluation query built
// here. Backends scan rows in this order.
var evaluationColumns = []any{
	goqu.I("e.id"),
	goqu.I("e.title"),
	goqu.I("e.cve_id"),
	goqu.I("e.source"),
	goqu.I("e.metrics_json"),
	goqu.I("e.vector"),
	goqu.I("e.base_score"),
	goqu.I("e.severity"),
	goqu.I("e.created_at"),
	goqu.COALESCE(goqu.I("e.user_id"), 0).As("user_id"),
	goqu.COALESCE(goqu.I("u.full_name"), "").As("evaluator"),
}

func evaluationSelect(dialect string) *goqu.SelectDataset {
	return goqu.Dialect(dialect).
		From(goqu.T("evaluations").As("e")).
		LeftJoin(goqu.T("users").As("u"), goqu.On(goqu.I("u.id").Eq(goqu.I("e.user_id")))).
		Select(evaluationColumns...).
		Prepared(true)
}

// BuildListQuery builds the listing query for the options in the named goqu
// dialect ("sqlite3" or "postgres").
func BuildListQuery(dialect string, opts ListOpts) (string, []any, error) {
	if opts.Limit < 0 || opts.Offset < 0 {
		return "", nil, fmt.Errorf("datastore: bad bounds: limit %d offset %d", opts.Limit, opts.Offset)
	}
	var where []exp.Expression
	if opts.UserID != 0 {
		where = append(where, goqu.Ex{"e.user_id": opts.UserID})
	}
	if opts.Severity != 0 {
		s, err := opts.Severity.MarshalText()
		if err != nil {
			return "", nil, fmt.Errorf("datastore: %w", err)
		}
		where = append(where, goqu.Ex{"e.severity": string(s)})
	}
	if opts.CVEID != "" {
		where = append(where, goqu.Ex{"e.cve_id": opts.CVEID})
	}
	q := evaluationSelect(dialect).
		Where(where...).
		Order(goqu.I("e.created_at").Desc(), goqu.I("e.id").Desc())
	switch {
	case opts.Limit > 0:
		q = q.Limit(uint(opts.Limit))
	case opts.Offset > 0:
		// SQLite only accepts OFFSET along with LIMIT.
		q = q.Limit(math.MaxInt32)
	}
	if opts.Offset > 0 {
		q = q.Offset(uint(opts.Offset))
	}
	return q.ToSQL()
}

// BuildGetQuery builds the single-evaluation lookup query.
func BuildGetQuery(dialect string, id int64) (string, []any, error) {
	return evaluationSelect(dialect).
		Where(goqu.Ex{"e.id": id}).
		ToSQL()
}

// BuildTopQuery builds the query for the "n" highest scored evaluations, most
// recent first among equal scores.
func BuildTopQuery(dialect string, n int) (string, []any, error) {
	if n <= 0 {
		return "", nil, fmt.Errorf("datastore: bad top count: %d", n)
	}
	return evaluationSelect(dialect).
		Order(goqu.I("e.base_score").Desc(), goqu.I("e.created_at").Desc(), goqu.I("e.id").Desc()).
		Limit(uint(n)).
		ToSQL()
}

// CheckScore verifies the scoring fields of "e" are the result of scoring its
// Metrics. If none of them are set, they're filled in.
func CheckScore(e *cvssd.Evaluation) error {
	r, err := cvss.Score(e.Metrics)
	if err != nil {
		return err
	}
	if e.Vector == "" && e.BaseScore == 0 && e.Severity == 0 {
		e.Vector, e.BaseScore, e.Severity = r.Vector, r.BaseScore, r.Severity
		return nil
	}
	if e.Vector != r.Vector || e.BaseScore != r.BaseScore || e.Severity != r.Severity {
		return fmt.Errorf("datastore: scored as %s %.1f (%v), metrics give %s %.1f (%v)",
			e.Vector, e.BaseScore, e.Severity, r.Vector, r.BaseScore, r.Severity)
	}
	return nil
}

// EncodeMetrics returns the stored form of the metric selections.
func EncodeMetrics(m cvss.Metrics) (string, error) {
	if err := m.Validate(); err != nil {
		return "", err
	}
	b, err := json.Marshal(m.Map())
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeMetrics parses the stored form of the metric selections.
func DecodeMetrics(s string) (cvss.Metrics, error) {
	var in map[string]string
	if err := json.Unmarshal([]byte(s), &in); err != nil {
		return cvss.Metrics{}, fmt.Errorf("datastore: bad stored metrics: %w", err)
	}
	return cvss.FromMap(in)
}
