package cvss

import (
	"database/sql/driver"
	"fmt"
	"strings"
)

// Qualitative is the "Qualitative Severity" of a score.
type Qualitative int

// The specified qualitative severities.
const (
	_ Qualitative = iota
	None
	Low
	Medium
	High
	Critical
)

//go:generate go run golang.org/x/tools/cmd/stringer@latest -type=Qualitative

// Severities returns all the qualitative severities, most severe first.
func Severities() []Qualitative {
	return []Qualitative{Critical, High, Medium, Low, None}
}

// SeverityOf returns the qualitative severity of the base score "s".
//
//	None      0.0
//	Low       0.1 - 3.9
//	Medium    4.0 - 6.9
//	High      7.0 - 8.9
//	Critical  9.0 - 10.0
func SeverityOf(s float64) (q Qualitative) {
	switch {
	case s == 0:
		q = None
	case s < 4:
		q = Low
	case s < 7:
		q = Medium
	case s < 9:
		q = High
	default:
		q = Critical
	}
	return q
}

// MarshalText implements [encoding.TextMarshaler].
func (q Qualitative) MarshalText() ([]byte, error) {
	if q < None || q > Critical {
		return nil, fmt.Errorf("cvss: unknown severity %d", int(q))
	}
	return []byte(q.String()), nil
}

// UnmarshalText implements [encoding.TextUnmarshaler].
//
// Matching is case-insensitive.
func (q *Qualitative) UnmarshalText(b []byte) error {
	for _, s := range Severities() {
		if strings.EqualFold(s.String(), string(b)) {
			*q = s
			return nil
		}
	}
	return fmt.Errorf("cvss: unknown severity %q", string(b))
}

// Value implements [driver.Valuer].
func (q Qualitative) Value() (driver.Value, error) {
	b, err := q.MarshalText()
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements [sql.Scanner].
func (q *Qualitative) Scan(i any) error {
	switch v := i.(type) {
	case []byte:
		return q.UnmarshalText(v)
	case string:
		return q.UnmarshalText([]byte(v))
	default:
		return fmt.Errorf("cvss: unable to scan Qualitative from type %T", i)
	}
}
