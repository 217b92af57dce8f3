package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/quay/cvssd"
	"github.com/quay/cvssd/cvss"
	"github.com/quay/cvssd/extract"
)

const critical = `CVSS:3.1/AV:N/AC:L/PR:N/UI:N/S:U/C:H/I:H/A:H`

type result struct {
	Stdout, Stderr string
	Err            error
}

// Run executes the command line in "args" with the given standard input.
func run(t *testing.T, stdin string, args ...string) result {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	err := cmd.ExecuteContext(t.Context())
	return result{Stdout: out.String(), Stderr: errOut.String(), Err: err}
}

// WriteConfig writes a config file using a fresh sqlite database and returns
// its path.
func writeConfig(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	cfg := "db:\n  driver: sqlite\n  dsn: " + filepath.Join(dir, "cvssd.db") + "\nlog:\n  level: warn\n" + extra
	p := filepath.Join(dir, "cvssd.yaml")
	if err := os.WriteFile(p, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestScore(t *testing.T) {
	tt := []struct {
		Name string
		Args []string
		Want string
	}{
		{
			Name: "Vector",
			Args: []string{critical},
			Want: "Base Score: 9.8\nSeverity:   Critical\nVector:     " + critical + "\n",
		},
		{
			Name: "Physical",
			Args: []string{"CVSS:3.1/AV:P/AC:H/PR:H/UI:R/S:U/C:L/I:N/A:N"},
			Want: "Base Score: 1.6\nSeverity:   Low\nVector:     CVSS:3.1/AV:P/AC:H/PR:H/UI:R/S:U/C:L/I:N/A:N\n",
		},
		{
			Name: "Metrics",
			Args: []string{"-m", "AV=N,AC=L,PR=N,UI=N", "-m", "S=U", "-m", "C=H,I=H,A=H"},
			Want: "Base Score: 9.8\nSeverity:   Critical\nVector:     " + critical + "\n",
		},
		{
			Name: "JSON",
			Args: []string{"--json", critical},
			Want: `{"baseScore":9.8,"severity":"Critical","vector":"` + critical + "\"}\n",
		},
	}
	cfg := writeConfig(t, "")
	for _, tc := range tt {
		t.Run(tc.Name, func(t *testing.T) {
			r := run(t, "", append([]string{"--config", cfg, "score"}, tc.Args...)...)
			if r.Err != nil {
				t.Fatalf("%v: %s", r.Err, r.Stderr)
			}
			if got, want := r.Stdout, tc.Want; !cmp.Equal(got, want) {
				t.Error(cmp.Diff(got, want))
			}
		})
	}

	t.Run("Missing", func(t *testing.T) {
		r := run(t, "", "--config", cfg, "score", "-m", "AV=N")
		var missing *cvss.MissingMetric
		if !errors.As(r.Err, &missing) {
			t.Fatalf("got: %v, want: %T", r.Err, missing)
		}
		if got, want := missing.Metric, cvss.MetricAC; got != want {
			t.Errorf("got: %v, want: %v", got, want)
		}
	})
	t.Run("Malformed", func(t *testing.T) {
		r := run(t, "", "--config", cfg, "score", "AV:N/AC:L")
		if !errors.Is(r.Err, cvss.ErrMalformedVector) {
			t.Errorf("got: %v, want: %v", r.Err, cvss.ErrMalformedVector)
		}
	})
	t.Run("Both", func(t *testing.T) {
		if r := run(t, "", "--config", cfg, "score", "-m", "AV=N", critical); r.Err == nil {
			t.Error("expected error")
		}
	})
	t.Run("Neither", func(t *testing.T) {
		if r := run(t, "", "--config", cfg, "score"); r.Err == nil {
			t.Error("expected error")
		}
	})
}

func TestUserAdd(t *testing.T) {
	cfg := writeConfig(t, "")
	t.Setenv(passwordEnv, "")
	os.Unsetenv(passwordEnv)

	r := run(t, "", "--config", cfg, "migrate")
	if r.Err != nil {
		t.Fatalf("%v: %s", r.Err, r.Stderr)
	}
	if got, want := r.Stdout, "sqlite database is current\n"; got != want {
		t.Errorf("got: %q, want: %q", got, want)
	}

	r = run(t, "correct horse\n", "--config", cfg, "user", "add", "--email", "Alice@Example.com", "--name", "Alice")
	if r.Err != nil {
		t.Fatalf("%v: %s", r.Err, r.Stderr)
	}
	if got, want := r.Stdout, "created user 1 <alice@example.com>\n"; got != want {
		t.Errorf("got: %q, want: %q", got, want)
	}

	t.Run("Duplicate", func(t *testing.T) {
		r := run(t, "correct horse\n", "--config", cfg, "user", "add", "--email", "alice@example.com", "--name", "Alice")
		if !errors.Is(r.Err, cvssd.ErrConflict) {
			t.Errorf("got: %v, want: %v", r.Err, cvssd.ErrConflict)
		}
	})
	t.Run("Env", func(t *testing.T) {
		t.Setenv(passwordEnv, "battery staple")
		r := run(t, "", "--config", cfg, "user", "add", "--email", "bob@example.com", "--name", "Bob")
		if r.Err != nil {
			t.Fatalf("%v: %s", r.Err, r.Stderr)
		}
		if got, want := r.Stdout, "created user 2 <bob@example.com>\n"; got != want {
			t.Errorf("got: %q, want: %q", got, want)
		}
	})
	t.Run("ShortPassword", func(t *testing.T) {
		r := run(t, "short\n", "--config", cfg, "user", "add", "--email", "carol@example.com", "--name", "Carol")
		if !errors.Is(r.Err, cvssd.ErrInvalid) {
			t.Errorf("got: %v, want: %v", r.Err, cvssd.ErrInvalid)
		}
	})
	t.Run("NoInput", func(t *testing.T) {
		r := run(t, "", "--config", cfg, "user", "add", "--email", "dave@example.com", "--name", "Dave")
		if r.Err == nil {
			t.Error("expected error")
		}
	})
	t.Run("FlagOverride", func(t *testing.T) {
		db := filepath.Join(t.TempDir(), "other.db")
		r := run(t, "", "--config", cfg, "--db-dsn", db, "migrate")
		if r.Err != nil {
			t.Fatalf("%v: %s", r.Err, r.Stderr)
		}
		if _, err := os.Stat(db); err != nil {
			t.Error(err)
		}
	})
}

func TestExtract(t *testing.T) {
	cfg := writeConfig(t, "")
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "a", "b"), 0o755); err != nil {
		t.Fatal(err)
	}
	doc := "Remote code execution in the frobnicator\n\nTracked as CVE-2024-12345 and scored " + critical + ".\n"
	if err := os.WriteFile(filepath.Join(dir, "a", "b", "advisory.txt"), []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Run("Text", func(t *testing.T) {
		r := run(t, "", "--config", cfg, "extract", filepath.Join(dir, "**", "*.txt"))
		if r.Err != nil {
			t.Fatalf("%v: %s", r.Err, r.Stderr)
		}
		for _, want := range []string{
			"File:   advisory.txt\n",
			"CVE:    CVE-2024-12345\n",
			"Vector: " + critical + "\n",
			"  AV  N (Network)\n",
			"Score:  9.8 (Critical)\n",
		} {
			if !strings.Contains(r.Stdout, want) {
				t.Errorf("missing %q in:\n%s", want, r.Stdout)
			}
		}
	})
	t.Run("JSON", func(t *testing.T) {
		r := run(t, "", "--config", cfg, "extract", "--json", filepath.Join(dir, "a", "b", "advisory.txt"))
		if r.Err != nil {
			t.Fatalf("%v: %s", r.Err, r.Stderr)
		}
		var f extract.Findings
		if err := json.Unmarshal([]byte(r.Stdout), &f); err != nil {
			t.Fatal(err)
		}
		if got, want := f.Vector, critical; got != want {
			t.Errorf("got: %q, want: %q", got, want)
		}
		if !f.Complete() {
			t.Errorf("incomplete: %v", f.Metrics)
		}
	})
	t.Run("NoMatch", func(t *testing.T) {
		r := run(t, "", "--config", cfg, "extract", filepath.Join(dir, "*.pdf"))
		if r.Err != nil {
			t.Fatal(r.Err)
		}
		if r.Stdout != "" {
			t.Errorf("unexpected output: %q", r.Stdout)
		}
	})
	t.Run("Missing", func(t *testing.T) {
		r := run(t, "", "--config", cfg, "extract", filepath.Join(dir, "nope.txt"))
		if !errors.Is(r.Err, os.ErrNotExist) {
			t.Errorf("got: %v, want: %v", r.Err, os.ErrNotExist)
		}
	})
	t.Run("Directory", func(t *testing.T) {
		r := run(t, "", "--config", cfg, "extract", filepath.Join(dir, "a"))
		if r.Err == nil || !strings.Contains(r.Err.Error(), "not a regular file") {
			t.Errorf("got: %v, want a not a regular file error", r.Err)
		}
	})
	t.Run("Unsupported", func(t *testing.T) {
		p := filepath.Join(dir, "advisory.bin")
		if err := os.WriteFile(p, []byte(doc), 0o644); err != nil {
			t.Fatal(err)
		}
		r := run(t, "", "--config", cfg, "extract", p)
		if !errors.Is(r.Err, extract.ErrUnsupported) {
			t.Errorf("got: %v, want: %v", r.Err, extract.ErrUnsupported)
		}
	})
}

func TestHasMeta(t *testing.T) {
	for pat, want := range map[string]bool{
		"advisory.txt":     false,
		"dir/advisory.txt": false,
		"*.txt":            true,
		"a/**/b":           true,
		"file?.md":         true,
		"[ab].pdf":         true,
		"{a,b}.docx":       true,
		`a\*b`:            true,
	} {
		if got := hasMeta(pat); got != want {
			t.Errorf("%q: got: %v, want: %v", pat, got, want)
		}
	}
}

func TestConfig(t *testing.T) {
	t.Run("File", func(t *testing.T) {
		p := writeConfig(t, "http:\n  addr: 0.0.0.0:8080\nauth:\n  required: true\n  session_ttl: 2h\n")
		cfg, err := readConfig(newViper(), p)
		if err != nil {
			t.Fatal(err)
		}
		if got, want := cfg.HTTP.Addr, "0.0.0.0:8080"; got != want {
			t.Errorf("addr: got: %q, want: %q", got, want)
		}
		if !cfg.Auth.Required {
			t.Error("auth.required not set")
		}
		if got, want := cfg.Auth.SessionTTL, 2*time.Hour; got != want {
			t.Errorf("session_ttl: got: %v, want: %v", got, want)
		}
		if got, want := cfg.Auth.CleanupInterval, time.Hour; got != want {
			t.Errorf("cleanup_interval: got: %v, want: %v", got, want)
		}
		if got, want := cfg.Upload.MaxBytes, int64(extract.DefaultMaxBytes); got != want {
			t.Errorf("max_bytes: got: %v, want: %v", got, want)
		}
	})
	t.Run("Env", func(t *testing.T) {
		t.Setenv("CVSSD_HTTP_ADDR", "[::1]:9999")
		t.Setenv("CVSSD_AUTH_LOGIN_RATE", "-1")
		cfg, err := readConfig(newViper(), writeConfig(t, "http:\n  addr: 0.0.0.0:8080\n"))
		if err != nil {
			t.Fatal(err)
		}
		if got, want := cfg.HTTP.Addr, "[::1]:9999"; got != want {
			t.Errorf("addr: got: %q, want: %q", got, want)
		}
		if got, want := cfg.Auth.LoginRate, -1.0; got != want {
			t.Errorf("login_rate: got: %v, want: %v", got, want)
		}
	})
	t.Run("BadDriver", func(t *testing.T) {
		v := newViper()
		v.Set("db.driver", "mysql")
		if _, err := decodeConfig(v); err == nil {
			t.Error("expected error")
		}
	})
	t.Run("MissingFile", func(t *testing.T) {
		if _, err := readConfig(newViper(), filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
			t.Error("expected error")
		}
	})
	t.Run("BadLevel", func(t *testing.T) {
		cfg := writeConfig(t, "")
		if r := run(t, "", "--config", cfg, "--log-level", "loud", "score", critical); r.Err == nil {
			t.Error("expected error")
		}
	})
}
