// Package extract guesses CVSS base metric values from the text of
// vulnerability write-ups.
//
// The guesses are untrusted: callers hand the [Findings.Metrics] mapping to
// [cvss.Evaluate] (or a form) like any other input.
package extract

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/quay/cvssd"
	"github.com/quay/cvssd/cvss"
	"github.com/quay/cvssd/toolkit/log"
)

//go:embed patterns.yaml
var defaultPatterns []byte

// DefaultMaxBytes is the default limit on document size.
const DefaultMaxBytes = 10 << 20

// Limits on the text reported back.
const (
	previewRunes = 1000
	minTitle     = 11
	maxTitle     = 199
	defaultTitle = "Document Analysis"
)

var (
	cvePattern    = regexp.MustCompile(`(?i)\bCVE-\d{4}-\d{4,7}\b`)
	vectorPattern = regexp.MustCompile(`CVSS:3\.[01](?:/[A-Za-z]{1,3}:[A-Za-z])+`)
	// Lines containing these words are section headings, not titles.
	headerWords = []string{"abstract", "summary", "introduction", "description"}
)

// ErrTooLarge is reported when a document exceeds the size limit.
var ErrTooLarge = errors.New("document too large")

// Findings is everything recovered from one document.
type Findings struct {
	Filename string `json:"filename"`
	Title    string `json:"title"`
	CVEID    string `json:"cveId,omitempty"`
	// Vector is set if the document contained a complete, valid vector
	// string. In that case Metrics is taken from it verbatim.
	Vector string `json:"vector,omitempty"`
	// Metrics is a possibly incomplete mapping of metric abbreviation to
	// guessed value.
	Metrics map[string]string `json:"metrics"`
	// Text is a preview of the extracted text.
	Text string `json:"text"`
}

// Complete reports whether every base metric has a guess.
func (f *Findings) Complete() bool {
	_, err := cvss.FromMap(f.Metrics)
	return err == nil
}

// Extractor holds a compiled pattern table. It's safe for concurrent use.
type Extractor struct {
	rules    []rule
	maxBytes int64
}

type rule struct {
	metric cvss.Metric
	values []valueRule
}

type valueRule struct {
	value    string
	patterns []*regexp.Regexp
}

// Options configures an [Extractor].
type Options struct {
	// Patterns is a YAML pattern table in the format of the built-in one.
	// If nil, the built-in table is used.
	Patterns io.Reader
	// MaxBytes limits document size. If zero, DefaultMaxBytes is used.
	MaxBytes int64
}

var defaultExtractor = sync.OnceValues(func() (*Extractor, error) {
	return New(nil)
})

// Default returns an Extractor using the built-in pattern table.
func Default() *Extractor {
	x, err := defaultExtractor()
	if err != nil {
		panic("programmer error: bad built-in patterns: " + err.Error())
	}
	return x
}

type patternFile []struct {
	Metric string `yaml:"metric"`
	Values []struct {
		Value    string   `yaml:"value"`
		Patterns []string `yaml:"patterns"`
	} `yaml:"values"`
}

// New compiles a pattern table.
func New(opts *Options) (*Extractor, error) {
	var o Options
	if opts != nil {
		o = *opts
	}
	var in io.Reader = bytes.NewReader(defaultPatterns)
	if o.Patterns != nil {
		in = o.Patterns
	}
	var pf patternFile
	dec := yaml.NewDecoder(in)
	dec.KnownFields(true)
	if err := dec.Decode(&pf); err != nil {
		return nil, fmt.Errorf("extract: bad pattern table: %w", err)
	}
	x := Extractor{maxBytes: o.MaxBytes}
	if x.maxBytes <= 0 {
		x.maxBytes = DefaultMaxBytes
	}
	seen := make(map[cvss.Metric]bool)
	for _, pm := range pf {
		m, ok := cvss.ParseMetric(pm.Metric)
		if !ok {
			return nil, fmt.Errorf("extract: bad pattern table: unknown metric %q", pm.Metric)
		}
		if seen[m] {
			return nil, fmt.Errorf("extract: bad pattern table: duplicate metric %q", pm.Metric)
		}
		seen[m] = true
		r := rule{metric: m}
		for _, pv := range pm.Values {
			v := strings.ToUpper(pv.Value)
			if m.ValueName(v) == "" {
				return nil, fmt.Errorf("extract: bad pattern table: metric %v: invalid value %q", m, pv.Value)
			}
			vr := valueRule{value: v}
			for _, p := range pv.Patterns {
				re, err := regexp.Compile(`(?i)` + p)
				if err != nil {
					return nil, fmt.Errorf("extract: bad pattern table: metric %v: %w", m, err)
				}
				vr.patterns = append(vr.patterns, re)
			}
			r.values = append(r.values, vr)
		}
		x.rules = append(x.rules, r)
	}
	return &x, nil
}

// MaxBytes reports the document size limit.
func (x *Extractor) MaxBytes() int64 { return x.maxBytes }

// Detect guesses metric values from the text. Metrics without any matching
// pattern are absent from the result.
func (x *Extractor) Detect(text string) map[string]string {
	out := make(map[string]string, len(x.rules))
	for _, r := range x.rules {
		best, most := "", 0
		for _, v := range r.values {
			n := 0
			for _, re := range v.patterns {
				if re.MatchString(text) {
					n++
				}
			}
			if n > most {
				best, most = v.value, n
			}
		}
		if best != "" {
			out[r.metric.String()] = best
		}
	}
	return out
}

// Analyze builds Findings from already extracted text.
func (x *Extractor) Analyze(filename, text string) *Findings {
	f := Findings{
		Filename: filename,
		Title:    Title(text),
		CVEID:    CVEID(text),
		Text:     Preview(text),
	}
	if m, ok := FindVector(text); ok {
		f.Vector = m.String()
		f.Metrics = m.Map()
	} else {
		f.Metrics = x.Detect(text)
	}
	return &f
}

// Document reads a document, extracts its text according to the file name,
// and analyzes it.
//
// Documents over the size limit report [ErrTooLarge]; unknown types report
// [ErrUnsupported]. Both carry the [cvssd.ErrInvalid] kind.
func (x *Extractor) Document(ctx context.Context, filename string, r io.Reader) (*Findings, error) {
	const op = "extract.Document"
	ctx = log.With(ctx, "component", "extract/Extractor.Document", "filename", filename)
	b, err := io.ReadAll(io.LimitReader(r, x.maxBytes+1))
	if err != nil {
		return nil, &cvssd.Error{Op: op, Kind: cvssd.ErrInternal, Message: "unable to read document", Inner: err}
	}
	if int64(len(b)) > x.maxBytes {
		return nil, &cvssd.Error{Op: op, Kind: cvssd.ErrInvalid, Message: fmt.Sprintf("limit is %d bytes", x.maxBytes), Inner: ErrTooLarge}
	}
	text, err := docText(filename, b, inflateRatio*x.maxBytes)
	if err != nil {
		kind := cvssd.ErrInvalid
		if !errors.Is(err, ErrUnsupported) && !errors.Is(err, ErrMalformed) && !errors.Is(err, ErrTooLarge) {
			kind = cvssd.ErrInternal
		}
		return nil, &cvssd.Error{Op: op, Kind: kind, Inner: err}
	}
	f := x.Analyze(filename, text)
	slog.DebugContext(ctx, "analyzed document",
		"bytes", len(b),
		"runes", utf8.RuneCountInString(text),
		"metrics", len(f.Metrics),
		"vector", f.Vector != "")
	return f, nil
}

// FindVector returns the first valid vector string in the text.
func FindVector(text string) (cvss.Metrics, bool) {
	for _, s := range vectorPattern.FindAllString(text, -1) {
		m, err := cvss.Parse(s)
		if err == nil {
			return m, true
		}
	}
	return cvss.Metrics{}, false
}

// CVEID returns the first CVE identifier in the text, upper-cased, or the
// empty string.
func CVEID(text string) string {
	return strings.ToUpper(cvePattern.FindString(text))
}

// Title guesses a title: the first line of a plausible length that isn't a
// section heading.
func Title(text string) string {
	for line := range strings.Lines(text) {
		line = strings.TrimSpace(line)
		n := utf8.RuneCountInString(line)
		if n < minTitle || n > maxTitle {
			continue
		}
		lower := strings.ToLower(line)
		header := false
		for _, w := range headerWords {
			if strings.Contains(lower, w) {
				header = true
				break
			}
		}
		if !header {
			return line
		}
	}
	return defaultTitle
}

// Preview truncates the text to a displayable length.
func Preview(text string) string {
	if utf8.RuneCountInString(text) <= previewRunes {
		return text
	}
	i, n := 0, 0
	for i = range text {
		if n == previewRunes {
			break
		}
		n++
	}
	return text[:i] + "..."
}
