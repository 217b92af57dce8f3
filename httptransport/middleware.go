package httptransport

import (
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/quay/cvssd/toolkit/log"
)

// RequestIDHeader carries the request id in responses.
const RequestIDHeader = "X-Request-Id"

var (
	requestLabels  = []string{"route", "method", "code"}
	requestCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cvssd",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests handled, by route pattern.",
	}, requestLabels)
	requestTimer = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "cvssd",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration, by route pattern.",
	}, requestLabels)
)

// StatusWriter records the status and size of a response.
type statusWriter struct {
	http.ResponseWriter
	code  int
	bytes int64
}

func (w *statusWriter) WriteHeader(code int) {
	if w.code == 0 {
		w.code = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.code == 0 {
		w.code = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += int64(n)
	return n, err
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func (w *statusWriter) status() int {
	if w.code == 0 {
		return http.StatusOK
	}
	return w.code
}

// Instrument records request metrics. It must wrap the ServeMux directly so
// the matched pattern is visible.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w}
		start := time.Now()
		next.ServeHTTP(sw, r)
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		l := prometheus.Labels{
			"route":  route,
			"method": r.Method,
			"code":   strconv.Itoa(sw.status()),
		}
		requestCounter.With(l).Inc()
		requestTimer.With(l).Observe(time.Since(start).Seconds())
	})
}

// LogRequests assigns a request id, attaches it to the request's logging
// context, and logs every request.
func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New()
		if in, err := uuid.Parse(r.Header.Get(RequestIDHeader)); err == nil {
			id = in
		}
		ctx := log.With(r.Context(),
			"request_id", id.String(),
			"method", r.Method,
			"path", r.URL.Path,
		)
		w.Header().Set(RequestIDHeader, id.String())
		sw := &statusWriter{ResponseWriter: w}
		start := time.Now()
		next.ServeHTTP(sw, r.WithContext(ctx))
		lvl := slog.LevelInfo
		if sw.status() >= http.StatusInternalServerError {
			lvl = slog.LevelWarn
		}
		slog.Log(ctx, lvl, "handled request",
			"status", sw.status(),
			"bytes", sw.bytes,
			"duration", time.Since(start),
			"remote", r.RemoteAddr)
	})
}

// RecoverPanics turns a panicking handler into a 500 response.
func recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w}
		defer func() {
			v := recover()
			if v == nil {
				return
			}
			if err, ok := v.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(v)
			}
			slog.ErrorContext(r.Context(), "panic in handler",
				"panic", v,
				"stack", string(debug.Stack()))
			if sw.code == 0 {
				http.Error(sw, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(sw, r)
	})
}
