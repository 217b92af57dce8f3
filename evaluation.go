// Package cvssd holds the domain types shared by the cvssd store, auth, and
// transport packages.
package cvssd

import (
	"time"

	"github.com/quay/cvssd/cvss"
)

// Evaluation is a scored set of base metrics along with the attribution
// metadata attached when it's persisted.
//
// The scoring fields are produced together by [cvss.Score] and are never
// modified independently.
type Evaluation struct {
	ID        int64            `json:"id"`
	Title     string           `json:"title"`
	CVEID     string           `json:"cveId,omitempty"`
	Source    Source           `json:"source"`
	Metrics   cvss.Metrics     `json:"-"`
	Vector    string           `json:"vector"`
	BaseScore float64          `json:"baseScore"`
	Severity  cvss.Qualitative `json:"severity"`
	CreatedAt time.Time        `json:"createdAt"`
	// UserID is 0 for evaluations recorded without a session.
	UserID int64 `json:"userId,omitempty"`
	// Evaluator is the full name of the recording user, populated on reads.
	Evaluator string `json:"evaluator,omitempty"`
}

// NewEvaluation creates an Evaluation from a successful engine result.
func NewEvaluation(r cvss.Result, title, cveID string, src Source) *Evaluation {
	return &Evaluation{
		Title:     title,
		CVEID:     cveID,
		Source:    src,
		Metrics:   r.Metrics,
		Vector:    r.Vector,
		BaseScore: r.BaseScore,
		Severity:  r.Severity,
	}
}

// MetricsMap returns the selections as abbreviation pairs, as they are
// stored.
func (e *Evaluation) MetricsMap() map[string]string {
	return e.Metrics.Map()
}

// Source is where an evaluation's metric selections came from.
type Source string

// Known sources.
const (
	SourceManual   Source = "manual"
	SourceDocument Source = "document"
	SourceAPI      Source = "api"
)

// Summary is the dashboard aggregate.
type Summary struct {
	// Counts has an entry for every qualitative severity, including those
	// with no evaluations.
	Counts map[cvss.Qualitative]int `json:"counts"`
	Total  int                      `json:"total"`
	// Top is ordered by base score, then recency, descending.
	Top []Evaluation `json:"top"`
}

// NewSummary returns a Summary with every severity band present.
func NewSummary() *Summary {
	s := Summary{
		Counts: make(map[cvss.Qualitative]int, 5),
		Top:    []Evaluation{},
	}
	for _, q := range cvss.Severities() {
		s.Counts[q] = 0
	}
	return &s
}
