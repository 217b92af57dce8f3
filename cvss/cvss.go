// Package cvss implements CVSS v3.1 base metrics and scoring.
//
// The primary purpose of this package is to validate a set of base metric
// selections, calculate the numerical base score, and produce the
// canonicalized vector string. Selections can come from a parsed vector, a
// string mapping (as submitted by a form), or be constructed directly.
//
// Metrics and scoring are implemented as laid out in the [v3.1 specification].
// Rounding uses the integer technique from Appendix A of that document, so
// results agree with the official calculator near band boundaries.
//
// Only the eight base metrics are supported. Temporal and Environmental
// metrics are rejected when parsing.
//
// [v3.1 specification]: https://www.first.org/cvss/v3-1/specification-document
package cvss

import (
	"errors"
	"fmt"
	"strings"
)

/*
The per-category value types abuse the lookup table created by the [stringer]
tool to implement validation and weight lookup: a value's weight lives at the
same index as its abbreviation in the category's valid-values string.
Accordingly, "go generate" must be run whenever the [Metric] or metricValid
constants are modified.

[stringer]: https://pkg.go.dev/golang.org/x/tools/cmd/stringer
*/
var internalDoc = struct{}{}

// ErrMalformedVector is reported when a vector string is invalid in some way.
var ErrMalformedVector = errors.New("malformed vector")

// ErrInvalidMetrics is matched (via [errors.Is]) by both [*MissingMetric] and
// [*InvalidMetricValue].
var ErrInvalidMetrics = errors.New("invalid metrics")

// MissingMetric is reported when one of the eight required categories is
// absent.
type MissingMetric struct {
	Metric Metric
}

// Error implements error.
func (e *MissingMetric) Error() string {
	return fmt.Sprintf("cvss: missing metric %s (%s)", e.Metric, e.Metric.Name())
}

// Is enables [errors.Is] against [ErrInvalidMetrics].
func (e *MissingMetric) Is(target error) bool {
	return target == ErrInvalidMetrics
}

// InvalidMetricValue is reported when a supplied value is not in the
// category's enumerated set.
type InvalidMetricValue struct {
	Metric Metric
	Value  string
}

// Error implements error.
func (e *InvalidMetricValue) Error() string {
	return fmt.Sprintf("cvss: invalid value %q for metric %s (%s): want one of %q",
		e.Value, e.Metric, e.Metric.Name(), e.Metric.validValues())
}

// Is enables [errors.Is] against [ErrInvalidMetrics].
func (e *InvalidMetricValue) Is(target error) bool {
	return target == ErrInvalidMetrics
}

//go:generate go run golang.org/x/tools/cmd/stringer@latest -type=Metric,metricValid -linecomment

// Metric is a CVSS v3.1 base metric category.
//
// The String method reports the abbreviation used in vector strings and as
// the key in mapping input.
type Metric int

// These are the base metrics defined by CVSS v3.1, in canonical
// vector order.
const (
	MetricAV Metric = iota // AV
	MetricAC               // AC
	MetricPR               // PR
	MetricUI               // UI
	MetricS                // S
	MetricC                // C
	MetricI                // I
	MetricA                // A

	numMetrics int = iota
)

// AllMetrics returns all the base metric categories in canonical order.
func AllMetrics() []Metric {
	ms := make([]Metric, numMetrics)
	for i := range ms {
		ms[i] = Metric(i)
	}
	return ms
}

var metricNames = [numMetrics]string{
	"Attack Vector",
	"Attack Complexity",
	"Privileges Required",
	"User Interaction",
	"Scope",
	"Confidentiality Impact",
	"Integrity Impact",
	"Availability Impact",
}

// Name reports the human-readable name of the metric.
func (m Metric) Name() string {
	if m < 0 || int(m) >= numMetrics {
		return m.String()
	}
	return metricNames[m]
}

// Values reports the valid abbreviated values for the metric, in the order
// they're presented on the official calculator.
func (m Metric) Values() []string {
	v := m.validValues()
	out := make([]string, len(v))
	for i := range v {
		out[i] = v[i : i+1]
	}
	return out
}

// ValueName reports the human-readable name for the abbreviated value "v" of
// this metric, or the empty string if "v" is not valid.
func (m Metric) ValueName(v string) string {
	if len(v) != 1 || !m.valid(v[0]) {
		return ""
	}
	b := v[0]
	switch m {
	case MetricAV:
		return AttackVector(b).String()
	case MetricAC:
		return AttackComplexity(b).String()
	case MetricPR:
		return PrivilegesRequired(b).String()
	case MetricUI:
		return UserInteraction(b).String()
	case MetricS:
		return Scope(b).String()
	case MetricC, MetricI, MetricA:
		return Impact(b).String()
	}
	return ""
}

// ValidValues returns the concatenation of valid values for the metric.
func (m Metric) validValues() string { return metricValid(m).String() }

// Valid reports whether "b" is a valid packed value for the metric.
func (m Metric) valid(b byte) bool {
	return b != 0 && strings.IndexByte(m.validValues(), b) != -1
}

// MetricValid is the internal-only type that's used to look up valid values
// for a given [Metric].
type metricValid int

const (
	avValid metricValid = iota // NALP
	acValid                    // LH
	prValid                    // NLH
	uiValid                    // NR
	sValid                     // UC
	cValid                     // NLH
	iValid                     // NLH
	aValid                     // NLH
)

// ParseMetric returns the Metric for the abbreviation "s", which is matched
// case-insensitively.
func ParseMetric(s string) (Metric, bool) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for i := 0; i < numMetrics; i++ {
		if Metric(i).String() == s {
			return Metric(i), true
		}
	}
	return -1, false
}
