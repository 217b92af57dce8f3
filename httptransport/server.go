// Package httptransport serves the cvssd web interface and JSON API.
package httptransport

import (
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/klauspost/compress/gzhttp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quay/cvssd/auth"
	"github.com/quay/cvssd/cvss"
	"github.com/quay/cvssd/datastore"
	"github.com/quay/cvssd/extract"
)

// SessionCookie is the name of the session cookie.
const SessionCookie = "cvssd_session"

// TopN is the number of evaluations shown on the dashboard.
const TopN = 10

//go:embed templates/*.tmpl
var templates embed.FS

var _ http.Handler = (*Server)(nil)

// Server is the cvssd HTTP handler. Use [Server.Handler] to get the handler
// with middleware applied.
type Server struct {
	*http.ServeMux
	store   datastore.EvaluationStore
	auth    *auth.Service
	extract *extract.Extractor
	pages   map[string]*template.Template
	gather  prometheus.Gatherer

	authRequired  bool
	secureCookies bool
	maxUpload     int64
	version       string
}

// Options configures a [Server].
type Options struct {
	// AuthRequired makes writes require a session. Reads are always public.
	AuthRequired bool
	// SecureCookies sets the Secure attribute on session cookies.
	SecureCookies bool
	// Extractor is used for document uploads. If nil, [extract.Default] is
	// used.
	Extractor *extract.Extractor
	// Gatherer is served on "/metrics". If nil, the default Prometheus
	// registry is used.
	Gatherer prometheus.Gatherer
	// Version is shown in page footers.
	Version string
}

// New returns a Server using the provided store and authentication service.
func New(store datastore.EvaluationStore, a *auth.Service, opts *Options) (*Server, error) {
	var o Options
	if opts != nil {
		o = *opts
	}
	s := &Server{
		store:         store,
		auth:          a,
		extract:       o.Extractor,
		gather:        o.Gatherer,
		authRequired:  o.AuthRequired,
		secureCookies: o.SecureCookies,
		version:       o.Version,
	}
	if s.extract == nil {
		s.extract = extract.Default()
	}
	if s.gather == nil {
		s.gather = prometheus.DefaultGatherer
	}
	if s.version == "" {
		s.version = "devel"
	}
	s.maxUpload = s.extract.MaxBytes()
	var err error
	if s.pages, err = parsePages(); err != nil {
		return nil, err
	}

	m := http.NewServeMux()
	m.HandleFunc("GET /{$}", s.Form)
	m.HandleFunc("GET /evaluate", s.Form)
	m.HandleFunc("POST /evaluate", s.writer(s.Evaluate))
	m.HandleFunc("GET /dashboard", s.Dashboard)
	m.HandleFunc("GET /upload", s.writer(s.UploadForm))
	m.HandleFunc("POST /upload", s.writer(s.Upload))
	m.HandleFunc("GET /login", s.LoginForm)
	m.HandleFunc("POST /login", s.Login)
	m.HandleFunc("GET /register", s.RegisterForm)
	m.HandleFunc("POST /register", s.Register)
	m.HandleFunc("POST /logout", s.Logout)
	m.HandleFunc("GET /my", s.signedIn(s.Mine))

	m.HandleFunc("POST /api/score", s.Score)
	m.HandleFunc("GET /api/dashboard/summary", s.SummaryJSON)
	m.HandleFunc("GET /api/vulns", s.Vulns)
	m.HandleFunc("POST /api/vulns", s.writer(s.CreateVuln))
	m.HandleFunc("GET /api/vulns/{id}", s.Vuln)
	m.HandleFunc("GET /api/export/csv", s.Export)

	m.Handle("GET /metrics", promhttp.HandlerFor(s.gather, promhttp.HandlerOpts{}))
	m.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintln(w, "ok")
	})
	s.ServeMux = m
	return s, nil
}

// Handler returns the Server wrapped in the logging, recovery, session,
// metrics, and compression middleware.
func (s *Server) Handler() http.Handler {
	var h http.Handler = s.ServeMux
	h = instrument(h)
	h = s.session(h)
	h = logRequests(h)
	h = recoverPanics(h)
	return gzhttp.GzipHandler(h)
}

var pageNames = []string{
	"form",
	"result",
	"dashboard",
	"my",
	"upload",
	"login",
	"register",
	"error",
}

var funcs = template.FuncMap{
	"lower": strings.ToLower,
	"color": severityColor,
	"score": func(f float64) string { return fmt.Sprintf("%.1f", f) },
	"date": func(t time.Time) string {
		if t.IsZero() {
			return "-"
		}
		return t.UTC().Format(time.DateTime)
	},
	"metrics": metricRows,
}

func parsePages() (map[string]*template.Template, error) {
	pages := make(map[string]*template.Template, len(pageNames))
	for _, n := range pageNames {
		t, err := template.New(n).Funcs(funcs).ParseFS(templates,
			"templates/layout.tmpl",
			"templates/evaluations.tmpl",
			"templates/"+n+".tmpl")
		if err != nil {
			return nil, fmt.Errorf("httptransport: bad template %q: %w", n, err)
		}
		pages[n] = t
	}
	return pages, nil
}

func severityColor(q cvss.Qualitative) template.CSS {
	switch q {
	case cvss.Critical:
		return "#dc3545"
	case cvss.High:
		return "#fd7e14"
	case cvss.Medium:
		return "#ffc107"
	case cvss.Low:
		return "#198754"
	case cvss.None:
		return "#6c757d"
	}
	return "#0d6efd"
}

type metricRow struct {
	Name, Label, Value string
}

func metricRows(m cvss.Metrics) []metricRow {
	all := cvss.AllMetrics()
	out := make([]metricRow, 0, len(all))
	for _, k := range all {
		v := m.Get(k)
		out = append(out, metricRow{
			Name:  k.Name(),
			Label: k.ValueName(v),
			Value: v,
		})
	}
	return out
}
