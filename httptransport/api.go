package httptransport

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/quay/cvssd"
	"github.com/quay/cvssd/cvss"
	"github.com/quay/cvssd/datastore"
	je "github.com/quay/cvssd/pkg/jsonerr"
)

// Limit on JSON request bodies.
const maxBody = 64 << 10

// ApiEvaluation is the JSON form of a stored evaluation.
type apiEvaluation struct {
	*cvssd.Evaluation
	Metrics map[string]string `json:"metrics"`
}

func toAPI(e *cvssd.Evaluation) apiEvaluation {
	return apiEvaluation{Evaluation: e, Metrics: e.MetricsMap()}
}

func writeJSON(w http.ResponseWriter, r *http.Request, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Can't change header or write a different response, because we
		// already started.
		slog.WarnContext(r.Context(), "failed to encode response", "error", err)
	}
}

func apiError(w http.ResponseWriter, r *http.Request, err error) {
	resp, code := je.FromError(err)
	if code >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "request failed", "error", err)
	}
	je.Error(w, resp, code)
}

type scoreRequest struct {
	Title  string
	CVEID  string
	Source string
	Vector string
	Values map[string]string
}

// DecodeScore reads either a vector document or a metric mapping. Metric
// keys are also accepted alongside "title", "cveId", and "source" for
// [Server.CreateVuln].
func decodeScore(w http.ResponseWriter, r *http.Request) (*scoreRequest, error) {
	var in map[string]string
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	if err := dec.Decode(&in); err != nil {
		return nil, &cvssd.Error{Op: "httptransport.decodeScore", Kind: cvssd.ErrInvalid, Message: "could not deserialize request", Inner: err}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, &cvssd.Error{Op: "httptransport.decodeScore", Kind: cvssd.ErrInvalid, Message: "trailing data after request body"}
	}
	req := scoreRequest{Values: make(map[string]string, len(in))}
	for k, v := range in {
		switch strings.ToLower(k) {
		case "vector":
			req.Vector = strings.TrimSpace(v)
		case "title":
			req.Title = strings.TrimSpace(v)
		case "cveid", "cve_id":
			req.CVEID = strings.ToUpper(strings.TrimSpace(v))
		case "source":
			req.Source = strings.TrimSpace(v)
		default:
			req.Values[k] = v
		}
	}
	return &req, nil
}

func (req *scoreRequest) result() (cvss.Result, error) {
	if req.Vector != "" {
		m, err := cvss.Parse(req.Vector)
		if err != nil {
			return cvss.Result{}, err
		}
		return cvss.Score(m)
	}
	return cvss.Evaluate(req.Values)
}

// Score scores the request body without storing anything.
func (s *Server) Score(w http.ResponseWriter, r *http.Request) {
	req, err := decodeScore(w, r)
	if err != nil {
		apiError(w, r, err)
		return
	}
	res, err := req.result()
	if err != nil {
		apiError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, &res)
}

// CreateVuln scores and stores the request body.
func (s *Server) CreateVuln(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := decodeScore(w, r)
	if err != nil {
		apiError(w, r, err)
		return
	}
	res, err := req.result()
	if err != nil {
		apiError(w, r, err)
		return
	}
	src := cvssd.Source(req.Source)
	if src == "" {
		src = cvssd.SourceAPI
	}
	e := cvssd.NewEvaluation(res, req.Title, req.CVEID, src)
	if u := UserFrom(ctx); u != nil {
		e.UserID = u.ID
		e.Evaluator = u.FullName
	}
	if _, err := s.store.CreateEvaluation(ctx, e); err != nil {
		apiError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/vulns/"+strconv.FormatInt(e.ID, 10))
	writeJSON(w, r, http.StatusCreated, toAPI(e))
}

// SummaryJSON serves the dashboard aggregate.
func (s *Server) SummaryJSON(w http.ResponseWriter, r *http.Request) {
	sum, err := s.store.Summary(r.Context(), TopN)
	if err != nil {
		apiError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, sum)
}

func badParam(name string, err error) error {
	return &cvssd.Error{
		Op:      "httptransport.listOpts",
		Kind:    cvssd.ErrInvalid,
		Message: fmt.Sprintf("could not parse %q query param", name),
		Inner:   err,
	}
}

func listOpts(r *http.Request) (datastore.ListOpts, error) {
	var opts datastore.ListOpts
	q := r.URL.Query()
	var err error
	for _, p := range []struct {
		name string
		dst  *int
	}{
		{"limit", &opts.Limit},
		{"offset", &opts.Offset},
	} {
		if v := q.Get(p.name); v != "" {
			if *p.dst, err = strconv.Atoi(v); err != nil || *p.dst < 0 {
				return opts, badParam(p.name, err)
			}
		}
	}
	if v := q.Get("user"); v != "" {
		if opts.UserID, err = strconv.ParseInt(v, 10, 64); err != nil {
			return opts, badParam("user", err)
		}
	}
	if v := q.Get("severity"); v != "" {
		if err := opts.Severity.UnmarshalText([]byte(v)); err != nil {
			return opts, badParam("severity", err)
		}
	}
	opts.CVEID = strings.ToUpper(strings.TrimSpace(q.Get("cve")))
	return opts, nil
}

// Vulns lists evaluations. With an "id" query parameter it serves that one
// evaluation instead.
func (s *Server) Vulns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if r.URL.Query().Has("id") {
		s.vuln(w, r, r.URL.Query().Get("id"))
		return
	}
	opts, err := listOpts(r)
	if err != nil {
		apiError(w, r, err)
		return
	}
	es, err := s.store.ListEvaluations(ctx, opts)
	if err != nil {
		apiError(w, r, err)
		return
	}
	out := make([]apiEvaluation, len(es))
	for i := range es {
		out[i] = toAPI(&es[i])
	}
	writeJSON(w, r, http.StatusOK, out)
}

// Vuln serves one evaluation.
func (s *Server) Vuln(w http.ResponseWriter, r *http.Request) {
	s.vuln(w, r, r.PathValue("id"))
}

func (s *Server) vuln(w http.ResponseWriter, r *http.Request, param string) {
	id, err := strconv.ParseInt(param, 10, 64)
	if err != nil || id <= 0 {
		apiError(w, r, &cvssd.Error{Op: "httptransport.vuln", Kind: cvssd.ErrInvalid, Message: fmt.Sprintf("invalid id %q", param)})
		return
	}
	e, err := s.store.GetEvaluation(r.Context(), id)
	if err != nil {
		apiError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, toAPI(e))
}

var exportHeader = []string{
	"id",
	"title",
	"cve_id",
	"source",
	"metrics_json",
	"vector",
	"base_score",
	"severity",
	"created_at",
}

// Export streams every evaluation, newest first, as CSV. With "format=tsv"
// the output is tab-separated.
func (s *Server) Export(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	opts, err := listOpts(r)
	if err != nil {
		apiError(w, r, err)
		return
	}
	ct, name, comma := "text/csv; charset=utf-8", "evaluations.csv", ','
	switch f := r.URL.Query().Get("format"); f {
	case "", "csv":
	case "tsv":
		ct, name, comma = "text/tab-separated-values; charset=utf-8", "evaluations.tsv", '\t'
	default:
		apiError(w, r, &cvssd.Error{Op: "httptransport.Export", Kind: cvssd.ErrInvalid, Message: fmt.Sprintf("unknown format %q", f)})
		return
	}

	cw := csv.NewWriter(w)
	cw.Comma = comma
	started := false
	start := func() {
		started = true
		h := w.Header()
		h.Set("Content-Type", ct)
		h.Set("Content-Disposition", `attachment; filename="`+name+`"`)
		w.WriteHeader(http.StatusOK)
		cw.Write(exportHeader)
	}
	n := 0
	for e, err := range s.store.AllEvaluations(ctx, opts) {
		if err != nil {
			if !started {
				apiError(w, r, err)
				return
			}
			// Can't change the status; truncate the output.
			slog.ErrorContext(ctx, "export aborted", "error", err, "rows", n)
			cw.Flush()
			return
		}
		if !started {
			start()
		}
		mj, err := datastore.EncodeMetrics(e.Metrics)
		if err != nil {
			slog.WarnContext(ctx, "skipping evaluation with bad metrics", "id", e.ID, "error", err)
			continue
		}
		cw.Write([]string{
			strconv.FormatInt(e.ID, 10),
			e.Title,
			e.CVEID,
			string(e.Source),
			mj,
			e.Vector,
			strconv.FormatFloat(e.BaseScore, 'f', 1, 64),
			e.Severity.String(),
			e.CreatedAt.UTC().Format("2006-01-02T15:04:05.000000Z07:00"),
		})
		n++
	}
	if !started {
		start()
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		slog.WarnContext(ctx, "failed to write export", "error", err)
	}
}
