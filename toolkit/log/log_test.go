package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/slogtest"

	"github.com/google/go-cmp/cmp"
)

func TestWrapper(t *testing.T) {
	var buf bytes.Buffer
	results := func() (out []map[string]any) {
		dec := json.NewDecoder(&buf)
		for {
			v := make(map[string]any)
			err := dec.Decode(&v)
			switch {
			case err == nil:
			case errors.Is(err, io.EOF):
				return out
			default:
				t.Error(err)
				return out
			}
			out = append(out, v)
		}
	}

	t.Run("Slogtest", func(t *testing.T) {
		h := WrapHandler(slog.NewJSONHandler(&buf, nil))
		if err := slogtest.TestHandler(h, results); err != nil {
			t.Error(err)
		}
	})

	t.Run("With", func(t *testing.T) {
		h := WrapHandler(slog.NewJSONHandler(&buf, nil))
		ctx := With(context.Background(), "request_id", "abc")
		ctx = With(ctx, "user", "a@example.com", "request_id", "def")
		slog.New(h).Log(ctx, slog.LevelInfo, "test", "a", "b")
		want := []map[string]any{
			{
				"level":      "INFO",
				"msg":        "test",
				"a":          "b",
				"request_id": "def",
				"user":       "a@example.com",
			},
		}
		got := results()
		delete(got[0], "time")
		if !cmp.Equal(got, want) {
			t.Error(cmp.Diff(got, want))
		}
	})

	t.Run("WithAttrs", func(t *testing.T) {
		h := WrapHandler(slog.NewJSONHandler(&buf, nil))
		ctx := With(context.Background(), "request_id", "abc")
		slog.New(h).With("component", "test").InfoContext(ctx, "msg")
		got := results()
		if len(got) != 1 {
			t.Fatalf("got %d records", len(got))
		}
		if got, want := got[0]["request_id"], "abc"; got != want {
			t.Errorf("got: %v, want: %v", got, want)
		}
		if got, want := got[0]["component"], "test"; got != want {
			t.Errorf("got: %v, want: %v", got, want)
		}
	})

	t.Run("WithLevel", func(t *testing.T) {
		h := WrapHandler(slog.NewJSONHandler(&buf, &slog.HandlerOptions{
			Level: slog.LevelWarn,
		}))
		l := slog.New(h)
		ctx := context.Background()
		l.Log(ctx, slog.LevelInfo, "test", "call", 1)
		ctx = WithLevel(ctx, slog.LevelInfo)
		l.Log(ctx, slog.LevelInfo, "test", "call", 2)

		want := []map[string]any{
			{
				"level": "INFO",
				"msg":   "test",
				"call":  2.0,
			},
		}
		got := results()
		for i := range got {
			delete(got[i], "time")
		}
		if !cmp.Equal(got, want) {
			t.Error(cmp.Diff(got, want))
		}
	})
}

func TestAttrs(t *testing.T) {
	ctx := context.Background()
	if got := Attrs(ctx); got != nil {
		t.Errorf("got: %v, want: nil", got)
	}
	ctx = With(ctx, "a", 1, "b", 2)
	got := make([]string, 0, 2)
	for _, a := range Attrs(ctx) {
		got = append(got, a.Key)
	}
	if want := []string{"a", "b"}; !cmp.Equal(got, want) {
		t.Error(cmp.Diff(got, want))
	}
}

func TestNew(t *testing.T) {
	t.Run("JSON", func(t *testing.T) {
		var buf bytes.Buffer
		h, c, err := New(&buf, Options{Level: "warn", Format: "json"})
		if err != nil {
			t.Fatal(err)
		}
		defer c.Close()
		l := slog.New(h)
		l.Info("dropped")
		l.Warn("kept")
		if got := strings.Count(buf.String(), "\n"); got != 1 {
			t.Errorf("got %d lines: %q", got, buf.String())
		}
		if !json.Valid(bytes.TrimSpace(buf.Bytes())) {
			t.Errorf("not JSON: %q", buf.String())
		}
	})
	t.Run("File", func(t *testing.T) {
		p := filepath.Join(t.TempDir(), "cvssd.log")
		h, c, err := New(io.Discard, Options{File: p})
		if err != nil {
			t.Fatal(err)
		}
		slog.New(h).Info("to file")
		if err := c.Close(); err != nil {
			t.Error(err)
		}
		b, err := os.ReadFile(p)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Contains(b, []byte("to file")) {
			t.Errorf("got: %q", string(b))
		}
	})
	t.Run("BadFormat", func(t *testing.T) {
		if _, _, err := New(io.Discard, Options{Format: "xml"}); err == nil {
			t.Error("expected error")
		}
	})
	t.Run("BadLevel", func(t *testing.T) {
		if _, _, err := New(io.Discard, Options{Level: "loud"}); err == nil {
			t.Error("expected error")
		}
	})
	t.Run("LevelVar", func(t *testing.T) {
		var buf bytes.Buffer
		var lv slog.LevelVar
		h, c, err := New(&buf, Options{Level: "error", LevelVar: &lv})
		if err != nil {
			t.Fatal(err)
		}
		defer c.Close()
		if got, want := lv.Level(), slog.LevelError; got != want {
			t.Errorf("got: %v, want: %v", got, want)
		}
		l := slog.New(h)
		l.Info("dropped")
		lv.Set(slog.LevelDebug)
		l.Debug("kept")
		if got := buf.String(); strings.Contains(got, "dropped") || !strings.Contains(got, "kept") {
			t.Errorf("got: %q", got)
		}
	})
}

func TestTee(t *testing.T) {
	var a, b bytes.Buffer
	h := Tee(
		slog.NewTextHandler(&a, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&b, &slog.HandlerOptions{Level: slog.LevelWarn}),
	)
	l := slog.New(h).With("k", "v")
	l.Debug("quiet")
	l.Warn("loud")
	if got := strings.Count(a.String(), "\n"); got != 2 {
		t.Errorf("a: got %d lines: %q", got, a.String())
	}
	if got := b.String(); strings.Contains(got, "quiet") || !strings.Contains(got, "k=v") {
		t.Errorf("b: got: %q", got)
	}
	if slog.New(h).Handler().Enabled(context.Background(), slog.LevelDebug-1) {
		t.Error("enabled below every handler's level")
	}
}

func TestParseLevel(t *testing.T) {
	tcs := []struct {
		In   string
		Want slog.Level
	}{
		{"", slog.LevelInfo},
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tc := range tcs {
		got, err := ParseLevel(tc.In)
		if err != nil {
			t.Errorf("%q: %v", tc.In, err)
			continue
		}
		if got != tc.Want {
			t.Errorf("%q: got: %v, want: %v", tc.In, got, tc.Want)
		}
	}
}
