// Package jsonerr writes JSON error bodies for HTTP handlers.
package jsonerr

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/quay/cvssd"
	"github.com/quay/cvssd/cvss"
)

type Additional interface{}

type Response struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// Additional must be json serializable or expect errors
	Additional `json:"additional,omitempty"`
}

// Error works like http.Error but uses our response
// struct as the body of the response. Like http.Error
// you will still need to call a naked return in the http handler
func Error(w http.ResponseWriter, r *Response, httpcode int) {
	h := w.Header()
	h.Del("Content-Length")
	h.Set("Content-Type", "application/json")
	h.Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(httpcode)
	b, _ := json.Marshal(r)

	w.Write(b)
}

// FromError picks the response code and HTTP status for "err".
//
// Metric validation errors are reported as "invalid-metrics" with the
// offending metric as additional information. Otherwise, the
// [cvssd.ErrorKind] decides; errors without one are internal errors.
func FromError(err error) (*Response, int) {
	resp := &Response{Message: err.Error()}
	var (
		missing *cvss.MissingMetric
		invalid *cvss.InvalidMetricValue
	)
	switch {
	case errors.As(err, &missing):
		resp.Code = "invalid-metrics"
		resp.Additional = map[string]string{"metric": missing.Metric.String()}
		return resp, http.StatusBadRequest
	case errors.As(err, &invalid):
		resp.Code = "invalid-metrics"
		resp.Additional = map[string]string{"metric": invalid.Metric.String(), "value": invalid.Value}
		return resp, http.StatusBadRequest
	case errors.Is(err, cvss.ErrMalformedVector):
		resp.Code = "invalid-vector"
		return resp, http.StatusBadRequest
	}
	switch cvssd.KindOf(err) {
	case cvssd.ErrInvalid:
		resp.Code = "bad-request"
		return resp, http.StatusBadRequest
	case cvssd.ErrNotFound:
		resp.Code = "not-found"
		return resp, http.StatusNotFound
	case cvssd.ErrConflict:
		resp.Code = "conflict"
		return resp, http.StatusConflict
	case cvssd.ErrUnauthorized:
		resp.Code = "unauthorized"
		return resp, http.StatusUnauthorized
	case cvssd.ErrTransient:
		resp.Code = "unavailable"
		return resp, http.StatusServiceUnavailable
	}
	// Don't leak internals.
	resp.Code = "internal-server-error"
	resp.Message = http.StatusText(http.StatusInternalServerError)
	return resp, http.StatusInternalServerError
}
