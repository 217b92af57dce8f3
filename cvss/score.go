package cvss

import (
	"math"
	"strings"
)

// Weights are indexed by the position of the value in the metric's valid
// values string.
var weights = [numMetrics][]float64{
	{0.85, 0.62, 0.55, 0.2}, // AV
	{0.77, 0.44},            // AC
	{0.85, 0.62, 0.27},      // PR
	{0.85, 0.62},            // UI
	{0, 0},                  // S
	{0, 0.22, 0.56},         // C
	{0, 0.22, 0.56},         // I
	{0, 0.22, 0.56},         // A
}

// Privileges Required weights when the Scope is Changed.
var prChangedWeights = []float64{0.85, 0.68, 0.50}

// Weights returns the numeric weight of every metric, applying the Scope rule
// for Privileges Required.
//
// Panics if the Metrics are not valid.
func (v *Metrics) weights() (vals [numMetrics]float64) {
	for i := 0; i < numMetrics; i++ {
		m := Metric(i)
		vi := strings.IndexByte(m.validValues(), v.get(m))
		if vi == -1 || v.get(m) == 0 {
			panic("programmer error: scoring invalid metrics")
		}
		vals[i] = weights[i][vi]
		if m == MetricPR && v.Scope == ScopeChanged {
			vals[i] = prChangedWeights[vi]
		}
	}
	return vals
}

// Iss is the "Impact Sub-Score".
func iss(vals *[numMetrics]float64) float64 {
	return 1 - ((1 - vals[MetricC]) * (1 - vals[MetricI]) * (1 - vals[MetricA]))
}

func (v *Metrics) impact(vals *[numMetrics]float64) float64 {
	s := iss(vals)
	switch v.Scope {
	case ScopeUnchanged:
		return 6.42 * s
	case ScopeChanged:
		return 7.52*(s-0.029) - 3.25*math.Pow(s-0.02, 15)
	default:
		panic("unreachable")
	}
}

func exploitability(vals *[numMetrics]float64) float64 {
	return 8.22 * vals[MetricAV] * vals[MetricAC] * vals[MetricPR] * vals[MetricUI]
}

// Score reports the base score for the Metrics: a value in [0, 10] with at
// most one decimal digit.
//
// Panics if the Metrics are not valid; see [Metrics.Validate].
func (v Metrics) Score() float64 {
	vals := v.weights()
	impact := v.impact(&vals)
	if impact <= 0 {
		return 0
	}
	sum := impact + exploitability(&vals)
	if v.Scope == ScopeChanged {
		sum *= 1.08
	}
	return Roundup(math.Min(sum, 10))
}

// Impact reports the Impact subscore, rounded up to one decimal. Negative
// impacts are reported as 0.
//
// Panics if the Metrics are not valid.
func (v Metrics) Impact() float64 {
	vals := v.weights()
	i := v.impact(&vals)
	if i <= 0 {
		return 0
	}
	return Roundup(i)
}

// Exploitability reports the Exploitability subscore, rounded up to one
// decimal.
//
// Panics if the Metrics are not valid.
func (v Metrics) Exploitability() float64 {
	vals := v.weights()
	return Roundup(exploitability(&vals))
}

// Severity reports the qualitative severity of the Metrics' base score.
//
// Panics if the Metrics are not valid.
func (v Metrics) Severity() Qualitative {
	return SeverityOf(v.Score())
}

// Roundup returns the smallest number, specified to one decimal place, that
// is equal to or higher than its input. For example, Roundup(4.02) is 4.1 and
// Roundup(4.00) is 4.0.
//
// This is the floating-point safe definition from Appendix A of the
// CVSS v3.1 document: the input is first scaled to an integer so representation
// error (such as 4.000000000000001 for 4.0) does not bump the result by 0.1.
// Inputs are expected to be in the range [0, 10].
func Roundup(f float64) float64 {
	i := int64(math.Round(f * 100_000))
	if i%10_000 == 0 {
		return float64(i) / 100_000
	}
	return float64((i/10_000)+1) / 10
}
