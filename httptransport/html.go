package httptransport

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/quay/cvssd"
	"github.com/quay/cvssd/auth"
	"github.com/quay/cvssd/cvss"
	"github.com/quay/cvssd/datastore"
	"github.com/quay/cvssd/extract"
)

type page struct {
	Title   string
	User    *cvssd.User
	Error   string
	Notice  string
	Version string
	Data    any
}

// Render executes the named page into a buffer, so a template error can still
// be reported as a 500.
func (s *Server) render(w http.ResponseWriter, r *http.Request, code int, name string, p *page) {
	ctx := r.Context()
	p.User = UserFrom(ctx)
	p.Version = s.version
	var buf bytes.Buffer
	if err := s.pages[name].ExecuteTemplate(&buf, "layout", p); err != nil {
		slog.ErrorContext(ctx, "unable to render page", "page", name, "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	if _, err := buf.WriteTo(w); err != nil {
		slog.WarnContext(ctx, "failed to write page", "error", err)
	}
}

func (s *Server) renderError(w http.ResponseWriter, r *http.Request, code int, err error) {
	msg := http.StatusText(code)
	if code != http.StatusInternalServerError && err != nil {
		msg = err.Error()
	}
	if code >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed", "error", err)
	}
	s.render(w, r, code, "error", &page{
		Title: http.StatusText(code),
		Error: msg,
		Data:  struct{ Status string }{http.StatusText(code)},
	})
}

type formData struct {
	Title   string
	CVEID   string
	Source  string
	Preview string
	Metrics []formMetric
}

type formMetric struct {
	Abbrev   string
	Name     string
	Selected string
	Options  []formOption
}

type formOption struct {
	Value    string
	Label    string
	Selected bool
}

// NewFormData builds the form with the provided selections. Unknown or
// invalid selections are left unselected.
func newFormData(get func(string) string) *formData {
	f := formData{
		Title:  strings.TrimSpace(get("title")),
		CVEID:  strings.TrimSpace(get("cve_id")),
		Source: strings.TrimSpace(get("source")),
	}
	for _, m := range cvss.AllMetrics() {
		sel := strings.ToUpper(strings.TrimSpace(get(m.String())))
		if m.ValueName(sel) == "" {
			sel = ""
		}
		fm := formMetric{
			Abbrev:   m.String(),
			Name:     m.Name(),
			Selected: sel,
		}
		for _, v := range m.Values() {
			fm.Options = append(fm.Options, formOption{
				Value:    v,
				Label:    m.ValueName(v),
				Selected: v == sel,
			})
		}
		f.Metrics = append(f.Metrics, fm)
	}
	return &f
}

// Form serves the evaluation form, prefilled from the query parameters.
func (s *Server) Form(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "form", &page{
		Title: "CVSS Evaluation",
		Data:  newFormData(r.URL.Query().Get),
	})
}

// Evaluate scores and stores a form submission.
func (s *Server) Evaluate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := r.ParseForm(); err != nil {
		s.renderError(w, r, http.StatusBadRequest, err)
		return
	}
	in := make(map[string]string, len(cvss.AllMetrics()))
	for _, m := range cvss.AllMetrics() {
		in[m.String()] = r.PostForm.Get(m.String())
	}
	res, err := cvss.Evaluate(in)
	if err != nil {
		s.render(w, r, http.StatusBadRequest, "form", &page{
			Title: "CVSS Evaluation",
			Error: metricsMessage(err),
			Data:  newFormData(r.PostForm.Get),
		})
		return
	}
	src := cvssd.Source(strings.TrimSpace(r.PostForm.Get("source")))
	if src == "" {
		src = cvssd.SourceManual
	}
	e := cvssd.NewEvaluation(res,
		strings.TrimSpace(r.PostForm.Get("title")),
		strings.ToUpper(strings.TrimSpace(r.PostForm.Get("cve_id"))),
		src)
	if u := UserFrom(ctx); u != nil {
		e.UserID = u.ID
		e.Evaluator = u.FullName
	}
	if _, err := s.store.CreateEvaluation(ctx, e); err != nil {
		s.renderError(w, r, http.StatusInternalServerError, err)
		return
	}
	slog.InfoContext(ctx, "stored evaluation", "id", e.ID, "vector", e.Vector)
	s.render(w, r, http.StatusOK, "result", &page{
		Title: "CVSS Result",
		Data:  e,
	})
}

// MetricsMessage describes an engine error for display.
func metricsMessage(err error) string {
	var (
		missing *cvss.MissingMetric
		invalid *cvss.InvalidMetricValue
	)
	switch {
	case errors.As(err, &missing):
		return fmt.Sprintf("Select a value for %s (%v).", missing.Metric.Name(), missing.Metric)
	case errors.As(err, &invalid):
		return fmt.Sprintf("%q is not a valid value for %s (%v).", invalid.Value, invalid.Metric.Name(), invalid.Metric)
	}
	return err.Error()
}

type band struct {
	Severity cvss.Qualitative
	Count    int
	Height   string
}

// Dashboard serves the severity summary page.
func (s *Server) Dashboard(w http.ResponseWriter, r *http.Request) {
	sum, err := s.store.Summary(r.Context(), TopN)
	if err != nil {
		s.renderError(w, r, http.StatusInternalServerError, err)
		return
	}
	most := 1
	for _, n := range sum.Counts {
		most = max(most, n)
	}
	var bands []band
	for _, q := range cvss.Severities() {
		n := sum.Counts[q]
		bands = append(bands, band{
			Severity: q,
			Count:    n,
			Height:   fmt.Sprintf("%.1f", float64(n)/float64(most)*100),
		})
	}
	s.render(w, r, http.StatusOK, "dashboard", &page{
		Title: "Dashboard",
		Data: struct {
			Bands []band
			Top   []cvssd.Evaluation
		}{bands, sum.Top},
	})
}

// Mine lists the signed-in user's evaluations.
func (s *Server) Mine(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	es, err := s.store.ListEvaluations(ctx, datastore.ListOpts{UserID: UserFrom(ctx).ID})
	if err != nil {
		s.renderError(w, r, http.StatusInternalServerError, err)
		return
	}
	s.render(w, r, http.StatusOK, "my", &page{
		Title: "My Evaluations",
		Data:  es,
	})
}

// UploadForm serves the document upload form.
func (s *Server) UploadForm(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "upload", s.uploadPage(""))
}

func (s *Server) uploadPage(msg string) *page {
	return &page{
		Title: "Analyze a Document",
		Error: msg,
		Data:  struct{ MaxBytes int64 }{s.maxUpload},
	}
}

// Multipart framing allowance on top of the document limit.
const uploadSlack = 1 << 20

// Upload runs the extractor over an uploaded document and serves the
// evaluation form prefilled with the findings.
func (s *Server) Upload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload+uploadSlack)
	f, hdr, err := r.FormFile("document")
	if err != nil {
		code := http.StatusBadRequest
		msg := "Choose a document to upload."
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			code = http.StatusRequestEntityTooLarge
			msg = fmt.Sprintf("Documents are limited to %d bytes.", s.maxUpload)
		}
		s.render(w, r, code, "upload", s.uploadPage(msg))
		return
	}
	defer f.Close()
	found, err := s.extract.Document(ctx, hdr.Filename, f)
	switch {
	case errors.Is(err, extract.ErrTooLarge):
		s.render(w, r, http.StatusRequestEntityTooLarge, "upload",
			s.uploadPage(fmt.Sprintf("Documents are limited to %d bytes.", s.maxUpload)))
		return
	case errors.Is(err, extract.ErrUnsupported):
		s.render(w, r, http.StatusUnsupportedMediaType, "upload",
			s.uploadPage("Unsupported file type. Upload a PDF, Word, HTML, Markdown, or text document."))
		return
	case errors.Is(err, cvssd.ErrInvalid):
		s.render(w, r, http.StatusBadRequest, "upload",
			s.uploadPage("The document could not be read."))
		return
	case err != nil:
		s.renderError(w, r, http.StatusInternalServerError, err)
		return
	}
	v := url.Values{
		"title":  {found.Title},
		"cve_id": {found.CVEID},
		"source": {string(cvssd.SourceDocument)},
	}
	for k, val := range found.Metrics {
		v.Set(k, val)
	}
	data := newFormData(v.Get)
	data.Preview = found.Text
	notice := "Review the suggested metrics before calculating the score."
	if found.Vector != "" {
		notice = "The document contains a CVSS vector; its metrics were used."
	} else if !found.Complete() {
		notice = "Some metrics could not be determined from the document; select them before calculating the score."
	}
	s.render(w, r, http.StatusOK, "form", &page{
		Title:  "CVSS Evaluation",
		Notice: notice,
		Data:   data,
	})
}

type loginData struct {
	Email string
	Next  string
}

// LoginForm serves the login form.
func (s *Server) LoginForm(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	p := &page{
		Title: "Sign in",
		Data:  loginData{Email: q.Get("email"), Next: safeNext(q.Get("next"))},
	}
	if q.Has("registered") {
		p.Notice = "Account created; sign in to continue."
	}
	s.render(w, r, http.StatusOK, "login", p)
}

// Login checks the submitted credentials and sets the session cookie.
func (s *Server) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := r.ParseForm(); err != nil {
		s.renderError(w, r, http.StatusBadRequest, err)
		return
	}
	email := r.PostForm.Get("email")
	next := safeNext(r.PostForm.Get("next"))
	sess, _, err := s.auth.Login(ctx, email, r.PostForm.Get("password"))
	if err != nil {
		code, msg := loginStatus(err)
		if code >= http.StatusInternalServerError {
			slog.ErrorContext(ctx, "login failed", "error", err)
		}
		s.render(w, r, code, "login", &page{
			Title: "Sign in",
			Error: msg,
			Data:  loginData{Email: email, Next: next},
		})
		return
	}
	s.setCookie(w, sess)
	http.Redirect(w, r, next, http.StatusSeeOther)
}

type registerData struct {
	Email       string
	FullName    string
	MinPassword int
}

// RegisterForm serves the registration form.
func (s *Server) RegisterForm(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "register", &page{
		Title: "Create an account",
		Data:  registerData{MinPassword: auth.MinPasswordLength},
	})
}

// Register creates an account and sends the user to the login form.
func (s *Server) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := r.ParseForm(); err != nil {
		s.renderError(w, r, http.StatusBadRequest, err)
		return
	}
	f := r.PostForm
	data := registerData{
		Email:       f.Get("email"),
		FullName:    f.Get("full_name"),
		MinPassword: auth.MinPasswordLength,
	}
	fail := func(code int, msg string) {
		s.render(w, r, code, "register", &page{
			Title: "Create an account",
			Error: msg,
			Data:  data,
		})
	}
	if f.Get("password") != f.Get("confirm") {
		fail(http.StatusBadRequest, "Passwords do not match.")
		return
	}
	u, err := s.auth.Register(ctx, data.Email, f.Get("password"), data.FullName)
	if err != nil {
		code, msg := loginStatus(err)
		if code >= http.StatusInternalServerError {
			slog.ErrorContext(ctx, "registration failed", "error", err)
		}
		fail(code, msg)
		return
	}
	v := url.Values{"registered": {"1"}, "email": {u.Email}}
	http.Redirect(w, r, "/login?"+v.Encode(), http.StatusSeeOther)
}

// Logout removes the session and clears the cookie.
func (s *Server) Logout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if c, err := r.Cookie(SessionCookie); err == nil {
		if err := s.auth.Logout(ctx, c.Value); err != nil {
			slog.WarnContext(ctx, "unable to remove session", "error", err)
		}
	}
	s.clearCookie(w)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}
