package cvss

import (
	"encoding"
	"fmt"
	"slices"
	"strings"
)

// Prefix is the version label every emitted vector starts with.
const Prefix = `CVSS:3.1`

// Metrics is a complete set of CVSS v3.1 base metric selections.
//
// The zero value has every metric unset and is not valid. Values constructed
// directly should be checked with [Metrics.Validate] before scoring.
type Metrics struct {
	AttackVector       AttackVector
	AttackComplexity   AttackComplexity
	PrivilegesRequired PrivilegesRequired
	UserInteraction    UserInteraction
	Scope              Scope
	Confidentiality    Impact
	Integrity          Impact
	Availability       Impact
}

var (
	_ encoding.TextMarshaler   = Metrics{}
	_ encoding.TextUnmarshaler = (*Metrics)(nil)
	_ fmt.Stringer             = Metrics{}
)

// Get reports the packed value for the metric "m", or 0 if unset.
func (v *Metrics) get(m Metric) byte {
	switch m {
	case MetricAV:
		return byte(v.AttackVector)
	case MetricAC:
		return byte(v.AttackComplexity)
	case MetricPR:
		return byte(v.PrivilegesRequired)
	case MetricUI:
		return byte(v.UserInteraction)
	case MetricS:
		return byte(v.Scope)
	case MetricC:
		return byte(v.Confidentiality)
	case MetricI:
		return byte(v.Integrity)
	case MetricA:
		return byte(v.Availability)
	}
	panic(fmt.Sprintf("programmer error: unknown metric %v", m))
}

func (v *Metrics) set(m Metric, b byte) {
	switch m {
	case MetricAV:
		v.AttackVector = AttackVector(b)
	case MetricAC:
		v.AttackComplexity = AttackComplexity(b)
	case MetricPR:
		v.PrivilegesRequired = PrivilegesRequired(b)
	case MetricUI:
		v.UserInteraction = UserInteraction(b)
	case MetricS:
		v.Scope = Scope(b)
	case MetricC:
		v.Confidentiality = Impact(b)
	case MetricI:
		v.Integrity = Impact(b)
	case MetricA:
		v.Availability = Impact(b)
	default:
		panic(fmt.Sprintf("programmer error: unknown metric %v", m))
	}
}

// Get reports the abbreviated value of the metric "m", or the empty string if
// it is unset.
func (v Metrics) Get(m Metric) string {
	b := v.get(m)
	if b == 0 {
		return ""
	}
	return string(rune(b))
}

// Validate reports a [*MissingMetric] for the first unset category, or an
// [*InvalidMetricValue] for the first category holding a value outside its
// enumeration. Missing metrics are reported before invalid ones.
func (v Metrics) Validate() error {
	for i := 0; i < numMetrics; i++ {
		m := Metric(i)
		if v.get(m) == 0 {
			return &MissingMetric{Metric: m}
		}
	}
	for i := 0; i < numMetrics; i++ {
		m := Metric(i)
		if b := v.get(m); !m.valid(b) {
			return &InvalidMetricValue{Metric: m, Value: string(rune(b))}
		}
	}
	return nil
}

// FromMap validates a mapping of metric abbreviation to abbreviated value
// (for example, "AV" to "N") into Metrics.
//
// Keys and values are trimmed and matched case-insensitively. Keys that are
// not base metrics are ignored. A key mapped to an empty value is treated the
// same as an absent key. Keys naming the same metric must agree.
func FromMap(in map[string]string) (Metrics, error) {
	var v Metrics
	var raw [numMetrics]string
	var seen [numMetrics]bool
	var conflict [numMetrics][]string
	for k, val := range in {
		m, ok := ParseMetric(k)
		if !ok {
			continue
		}
		val = strings.ToUpper(strings.TrimSpace(val))
		if val == "" {
			continue
		}
		if seen[m] && raw[m] != val {
			conflict[m] = append(conflict[m], raw[m], val)
		}
		raw[m] = val
		seen[m] = true
	}
	// Map order must not decide the outcome.
	for i, vs := range conflict {
		if vs != nil {
			slices.Sort(vs)
			vs = slices.Compact(vs)
			return Metrics{}, &InvalidMetricValue{Metric: Metric(i), Value: strings.Join(vs, "|")}
		}
	}
	for i := 0; i < numMetrics; i++ {
		if !seen[i] {
			return Metrics{}, &MissingMetric{Metric: Metric(i)}
		}
	}
	for i := 0; i < numMetrics; i++ {
		m, val := Metric(i), raw[i]
		if len(val) != 1 || !m.valid(val[0]) {
			return Metrics{}, &InvalidMetricValue{Metric: m, Value: val}
		}
		v.set(m, val[0])
	}
	return v, nil
}

// Map returns the selections as a mapping of metric abbreviation to
// abbreviated value. Unset metrics are omitted.
//
// For valid Metrics, FromMap(v.Map()) reproduces v.
func (v Metrics) Map() map[string]string {
	out := make(map[string]string, numMetrics)
	for i := 0; i < numMetrics; i++ {
		m := Metric(i)
		if s := v.Get(m); s != "" {
			out[m.String()] = s
		}
	}
	return out
}

// Parse parses the provided string as a v3 vector.
func Parse(s string) (v Metrics, err error) {
	return v, v.UnmarshalText([]byte(s))
}

// UnmarshalText implements [encoding.TextUnmarshaler].
//
// Both "CVSS:3.1" and "CVSS:3.0" prefixes are accepted; metrics may appear in
// any order but each exactly once.
func (v *Metrics) UnmarshalText(text []byte) error {
	*v = Metrics{}
	s := string(text)
	ver, rest, ok := strings.Cut(s, "/")
	if !ok {
		return fmt.Errorf("cvss: %w: no metrics: %q", ErrMalformedVector, s)
	}
	switch ver {
	case `CVSS:3.1`, `CVSS:3.0`:
	default:
		return fmt.Errorf("cvss: %w: bad version: %q", ErrMalformedVector, ver)
	}
	var seen [numMetrics]bool
	for _, part := range strings.Split(rest, "/") {
		k, val, ok := strings.Cut(part, ":")
		if !ok {
			return fmt.Errorf("cvss: %w: bad metric: %q", ErrMalformedVector, part)
		}
		m, ok := lookupAbbrev(k)
		if !ok {
			return fmt.Errorf("cvss: %w: unknown metric: %q", ErrMalformedVector, k)
		}
		if seen[m] {
			return fmt.Errorf("cvss: %w: duplicate metric: %q", ErrMalformedVector, k)
		}
		seen[m] = true
		if len(val) != 1 || !m.valid(val[0]) {
			return &InvalidMetricValue{Metric: m, Value: val}
		}
		v.set(m, val[0])
	}
	for i := 0; i < numMetrics; i++ {
		if !seen[i] {
			return &MissingMetric{Metric: Metric(i)}
		}
	}
	return nil
}

// LookupAbbrev is like [ParseMetric], but exact.
func lookupAbbrev(k string) (Metric, bool) {
	for i := 0; i < numMetrics; i++ {
		if Metric(i).String() == k {
			return Metric(i), true
		}
	}
	return -1, false
}

// MarshalText implements [encoding.TextMarshaler].
//
// Invalid Metrics report an error.
func (v Metrics) MarshalText() ([]byte, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}
	text := append(make([]byte, 0, 44), Prefix...)
	for i := 0; i < numMetrics; i++ {
		m := Metric(i)
		text = append(text, '/')
		text = append(text, m.String()...)
		text = append(text, ':')
		text = append(text, v.get(m))
	}
	return text, nil
}

// String implements [fmt.Stringer].
//
// Calling this method on an invalid instance results in an invalid vector
// string.
func (v Metrics) String() string {
	t, err := v.MarshalText()
	if err != nil {
		return Prefix + `/INVALID`
	}
	return string(t)
}
