package log

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// WrapHandler wraps the provided handler with an interceptor that adds the
// [slog.Attr] values stored at [AttrsKey] to every record.
func WrapHandler(next slog.Handler) slog.Handler {
	return handler{next: next}
}

var _ slog.Handler = handler{}

type handler struct {
	next slog.Handler
}

// Enabled implements [slog.Handler].
func (h handler) Enabled(ctx context.Context, l slog.Level) bool {
	rec := slog.Level(1<<31 - 1)
	if l, ok := ctx.Value(LevelKey).(slog.Leveler); ok {
		rec = l.Level()
	}
	return l >= rec || h.next.Enabled(ctx, l)
}

// Handle implements [slog.Handler].
func (h handler) Handle(ctx context.Context, r slog.Record) error {
	if v, ok := ctx.Value(AttrsKey).(slog.Value); ok {
		r.AddAttrs(v.Group()...)
	}
	return h.next.Handle(ctx, r)
}

// WithAttrs implements [slog.Handler].
func (h handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return handler{next: h.next.WithAttrs(attrs)}
}

// WithGroup implements [slog.Handler].
func (h handler) WithGroup(name string) slog.Handler {
	return handler{next: h.next.WithGroup(name)}
}

// Options configures the handler built by [New].
type Options struct {
	// Level is one of "debug", "info", "warn", or "error".
	Level string
	// Format is "text" or "json". The empty string means "text".
	Format string
	// File, if set, is a path that records are written to instead of the
	// provided Writer. The file is rotated at MaxSizeMB.
	File      string
	MaxSizeMB int
	// AddSource adds the calling function to every record.
	AddSource bool
	// LevelVar, if set, is set to Level and used by the handler, so the
	// level can be changed later.
	LevelVar *slog.LevelVar
}

// New constructs a wrapped handler writing to "w" (or the rotating file named
// in the Options) and the [io.Closer] to release it. The returned Closer is
// never nil.
func New(w io.Writer, opts Options) (slog.Handler, io.Closer, error) {
	lvl, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}
	var c io.Closer = nopCloser{}
	if opts.File != "" {
		sz := opts.MaxSizeMB
		if sz <= 0 {
			sz = 100
		}
		lj := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    sz,
			MaxBackups: 3,
			Compress:   true,
		}
		w, c = lj, lj
	}
	ho := &slog.HandlerOptions{
		AddSource: opts.AddSource,
		Level:     lvl,
	}
	if opts.LevelVar != nil {
		opts.LevelVar.Set(lvl)
		ho.Level = opts.LevelVar
	}
	var h slog.Handler
	switch strings.ToLower(opts.Format) {
	case "", "text":
		h = slog.NewTextHandler(w, ho)
	case "json":
		h = slog.NewJSONHandler(w, ho)
	default:
		c.Close()
		return nil, nil, fmt.Errorf("log: unknown format %q", opts.Format)
	}
	return WrapHandler(h), c, nil
}

// ParseLevel parses the level names accepted in configuration. The empty
// string is [slog.LevelInfo].
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return l, fmt.Errorf("log: %w", err)
	}
	return l, nil
}

// Tee returns a handler that sends every record to all of "hs".
func Tee(hs ...slog.Handler) slog.Handler {
	return tee(hs)
}

type tee []slog.Handler

// Enabled implements [slog.Handler].
func (t tee) Enabled(ctx context.Context, l slog.Level) bool {
	for _, h := range t {
		if h.Enabled(ctx, l) {
			return true
		}
	}
	return false
}

// Handle implements [slog.Handler].
func (t tee) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range t {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

// WithAttrs implements [slog.Handler].
func (t tee) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(tee, len(t))
	for i, h := range t {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

// WithGroup implements [slog.Handler].
func (t tee) WithGroup(name string) slog.Handler {
	out := make(tee, len(t))
	for i, h := range t {
		out[i] = h.WithGroup(name)
	}
	return out
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
