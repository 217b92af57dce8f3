package cvss

// Result is the outcome of scoring one complete set of base metrics.
type Result struct {
	Metrics   Metrics     `json:"-"`
	BaseScore float64     `json:"baseScore"`
	Severity  Qualitative `json:"severity"`
	Vector    string      `json:"vector"`
}

// Evaluate validates the mapping "in" (see [FromMap]) and scores it.
//
// An error is one of [*MissingMetric] or [*InvalidMetricValue]; no partial
// Result is produced.
func Evaluate(in map[string]string) (Result, error) {
	m, err := FromMap(in)
	if err != nil {
		return Result{}, err
	}
	return Score(m)
}

// Score validates and scores the Metrics "m".
func Score(m Metrics) (Result, error) {
	if err := m.Validate(); err != nil {
		return Result{}, err
	}
	s := m.Score()
	return Result{
		Metrics:   m,
		BaseScore: s,
		Severity:  SeverityOf(s),
		Vector:    m.String(),
	}, nil
}
