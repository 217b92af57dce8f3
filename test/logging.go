// Package test holds helpers shared by cvssd tests.
package test

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/quay/cvssd/toolkit/log"
)

// Install swaps in the routing handler as the process default, once.
var install = sync.OnceFunc(func() {
	slog.SetDefault(slog.New(router{}))
})

// Paths are resolved once per process; records may be logged from any
// goroutine.
var paths = sync.OnceValue(func() (p struct{ wd, mod string }) {
	p.wd, _ = os.Getwd()
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Path != "" {
		p.mod = info.Main.Path + "/"
	}
	return p
})

type testKey struct{}

// Router is a [slog.Handler] that forwards each record to the handler stored
// in the record's Context by [Logging]. Records without one are dropped.
//
// Attrs and groups added to the router are replayed onto the per-test handler
// at Handle time, in order.
type router struct {
	chain []func(slog.Handler) slog.Handler
}

var _ slog.Handler = router{}

func target(ctx context.Context) slog.Handler {
	h, _ := ctx.Value(testKey{}).(slog.Handler)
	return h
}

func (r router) Enabled(ctx context.Context, l slog.Level) bool {
	h := target(ctx)
	return h != nil && h.Enabled(ctx, l)
}

func (r router) Handle(ctx context.Context, rec slog.Record) error {
	h := target(ctx)
	if h == nil {
		return nil
	}
	for _, f := range r.chain {
		h = f(h)
	}
	if v, ok := ctx.Value(log.AttrsKey).(slog.Value); ok {
		rec.AddAttrs(v.Group()...)
	}
	return h.Handle(ctx, rec)
}

func (r router) with(f func(slog.Handler) slog.Handler) router {
	chain := make([]func(slog.Handler) slog.Handler, len(r.chain), len(r.chain)+1)
	copy(chain, r.chain)
	return router{chain: append(chain, f)}
}

func (r router) WithAttrs(as []slog.Attr) slog.Handler {
	return r.with(func(h slog.Handler) slog.Handler { return h.WithAttrs(as) })
}

func (r router) WithGroup(name string) slog.Handler {
	return r.with(func(h slog.Handler) slog.Handler { return h.WithGroup(name) })
}

// Logging returns a [context.Context] that routes records logged through the
// default [slog.Logger] to the output of "t".
//
// The Context is derived from [testing.TB.Context] unless a parent is passed.
func Logging(t testing.TB, parent ...context.Context) context.Context {
	install()
	ctx := t.Context()
	if len(parent) > 0 {
		ctx = parent[0]
	}
	h := slog.NewTextHandler(t.Output(), &slog.HandlerOptions{
		AddSource:   true,
		Level:       slog.LevelDebug,
		ReplaceAttr: relative(time.Now()),
	})
	return context.WithValue(ctx, testKey{}, h)
}

// Relative rewrites top-level time and source attrs: times become offsets
// from "start" and sources are trimmed to the function or a relative path.
func relative(start time.Time) func([]string, slog.Attr) slog.Attr {
	return func(groups []string, a slog.Attr) slog.Attr {
		if len(groups) != 0 {
			return a
		}
		switch a.Key {
		case slog.TimeKey:
			return slog.String(slog.TimeKey, "+"+time.Since(start).String())
		case slog.SourceKey:
			src, ok := a.Value.Any().(*slog.Source)
			if !ok {
				return a
			}
			p := paths()
			if src.Function != "" {
				return slog.String(slog.SourceKey, strings.TrimPrefix(src.Function, p.mod))
			}
			f := src.File
			if rel, err := filepath.Rel(p.wd, f); err == nil && p.wd != "" {
				f = rel
			}
			return slog.String(slog.SourceKey, fmt.Sprintf("%s:%d", f, src.Line))
		}
		return a
	}
}
