// Package datastoretest is a conformance suite for [datastore.Store]
// implementations.
package datastoretest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/quay/cvssd"
	"github.com/quay/cvssd/cvss"
	"github.com/quay/cvssd/datastore"
)

// OpenFunc returns a fresh, empty, migrated Store for each call.
type OpenFunc func(context.Context, *testing.T) datastore.Store

// Run runs the conformance suite against stores returned by "open".
func Run(ctx context.Context, t *testing.T, open OpenFunc) {
	t.Run("Evaluations", func(t *testing.T) { testEvaluations(ctx, t, open(ctx, t)) })
	t.Run("NotFound", func(t *testing.T) { testNotFound(ctx, t, open(ctx, t)) })
	t.Run("Summary", func(t *testing.T) { testSummary(ctx, t, open(ctx, t)) })
	t.Run("Users", func(t *testing.T) { testUsers(ctx, t, open(ctx, t)) })
	t.Run("Sessions", func(t *testing.T) { testSessions(ctx, t, open(ctx, t)) })
	t.Run("Iterate", func(t *testing.T) { testIterate(ctx, t, open(ctx, t)) })
}

// Vectors used throughout, with their expected severity.
var vectors = []struct {
	Vector   string
	Severity cvss.Qualitative
}{
	{"CVSS:3.1/AV:N/AC:L/PR:N/UI:N/S:U/C:H/I:H/A:H", cvss.Critical}, // 9.8
	{"CVSS:3.1/AV:N/AC:L/PR:N/UI:N/S:U/C:H/I:N/A:N", cvss.High},     // 7.5
	{"CVSS:3.1/AV:N/AC:H/PR:N/UI:R/S:U/C:L/I:N/A:N", cvss.Low},      // 3.1
	{"CVSS:3.1/AV:N/AC:L/PR:L/UI:N/S:C/C:L/I:L/A:N", cvss.Medium},   // 6.4
	{"CVSS:3.1/AV:N/AC:L/PR:N/UI:N/S:C/C:H/I:H/A:H", cvss.Critical}, // 10.0
}

// Evaluation returns an unsaved evaluation for the vector.
func Evaluation(t testing.TB, vec, title, cve string) *cvssd.Evaluation {
	t.Helper()
	m, err := cvss.Parse(vec)
	if err != nil {
		t.Fatal(err)
	}
	r, err := cvss.Score(m)
	if err != nil {
		t.Fatal(err)
	}
	return cvssd.NewEvaluation(r, title, cve, cvssd.SourceManual)
}

var evalCmp = cmp.Options{
	cmpopts.EquateApproxTime(time.Second),
}

func testEvaluations(ctx context.Context, t *testing.T, s datastore.Store) {
	u := &cvssd.User{Email: "eval@example.com", FullName: "Eve Valuator", PasswordHash: "x", Active: true}
	if _, err := s.CreateUser(ctx, u); err != nil {
		t.Fatal(err)
	}
	var saved []*cvssd.Evaluation
	for i, v := range vectors {
		e := Evaluation(t, v.Vector, "vuln", "")
		if i%2 == 0 {
			e.UserID = u.ID
			e.CVEID = "CVE-2024-0001"
		}
		id, err := s.CreateEvaluation(ctx, e)
		if err != nil {
			t.Fatal(err)
		}
		if id == 0 || id != e.ID {
			t.Errorf("bad id: %d (set %d)", id, e.ID)
		}
		if e.CreatedAt.IsZero() {
			t.Error("CreatedAt not set")
		}
		if e.UserID != 0 {
			e.Evaluator = u.FullName
		}
		saved = append(saved, e)
	}

	t.Run("Get", func(t *testing.T) {
		for _, want := range saved {
			got, err := s.GetEvaluation(ctx, want.ID)
			if err != nil {
				t.Fatal(err)
			}
			if !cmp.Equal(got, want, evalCmp) {
				t.Error(cmp.Diff(got, want, evalCmp))
			}
		}
	})
	t.Run("ListAll", func(t *testing.T) {
		got, err := s.ListEvaluations(ctx, datastore.ListOpts{})
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != len(saved) {
			t.Fatalf("got %d, want %d", len(got), len(saved))
		}
		// Newest first.
		for i := range got {
			if got, want := got[i].ID, saved[len(saved)-1-i].ID; got != want {
				t.Errorf("%d: got: %d, want: %d", i, got, want)
			}
		}
	})
	t.Run("ListFiltered", func(t *testing.T) {
		tcs := []struct {
			Name string
			Opts datastore.ListOpts
			Want int
		}{
			{"User", datastore.ListOpts{UserID: u.ID}, 3},
			{"Severity", datastore.ListOpts{Severity: cvss.Critical}, 2},
			{"CVE", datastore.ListOpts{CVEID: "CVE-2024-0001"}, 3},
			{"Limit", datastore.ListOpts{Limit: 2}, 2},
			{"Offset", datastore.ListOpts{Limit: 10, Offset: 4}, 1},
			{"Combined", datastore.ListOpts{UserID: u.ID, Severity: cvss.Critical}, 2},
			{"NoMatch", datastore.ListOpts{CVEID: "CVE-1999-0000"}, 0},
		}
		for _, tc := range tcs {
			t.Run(tc.Name, func(t *testing.T) {
				got, err := s.ListEvaluations(ctx, tc.Opts)
				if err != nil {
					t.Fatal(err)
				}
				if len(got) != tc.Want {
					t.Errorf("got %d, want %d", len(got), tc.Want)
				}
				if got == nil {
					t.Error("nil slice returned")
				}
			})
		}
	})
	t.Run("BadEvaluation", func(t *testing.T) {
		_, err := s.CreateEvaluation(ctx, &cvssd.Evaluation{Title: "empty"})
		if !errors.Is(err, cvssd.ErrInvalid) {
			t.Errorf("got: %v, want: %v", err, cvssd.ErrInvalid)
		}
	})
	t.Run("MismatchedScore", func(t *testing.T) {
		for name, edit := range map[string]func(*cvssd.Evaluation){
			"Score":    func(e *cvssd.Evaluation) { e.BaseScore = 1.0 },
			"Severity": func(e *cvssd.Evaluation) { e.Severity = cvss.Low },
			"Vector":   func(e *cvssd.Evaluation) { e.Vector = vectors[1].Vector },
		} {
			e := Evaluation(t, "CVSS:3.1/AV:N/AC:L/PR:N/UI:N/S:U/C:H/I:H/A:H", "forged", "")
			edit(e)
			if _, err := s.CreateEvaluation(ctx, e); !errors.Is(err, cvssd.ErrInvalid) {
				t.Errorf("%s: got: %v, want: %v", name, err, cvssd.ErrInvalid)
			}
		}
	})
	t.Run("UnscoredFilled", func(t *testing.T) {
		ref := Evaluation(t, "CVSS:3.1/AV:N/AC:L/PR:N/UI:N/S:U/C:H/I:H/A:H", "bare", "")
		e := &cvssd.Evaluation{Title: "bare", Source: cvssd.SourceAPI, Metrics: ref.Metrics}
		id, err := s.CreateEvaluation(ctx, e)
		if err != nil {
			t.Fatal(err)
		}
		got, err := s.GetEvaluation(ctx, id)
		if err != nil {
			t.Fatal(err)
		}
		if got.BaseScore != 9.8 || got.Severity != cvss.Critical || got.Vector != ref.Vector {
			t.Errorf("stored %s %v %v", got.Vector, got.BaseScore, got.Severity)
		}
	})
}

func testNotFound(ctx context.Context, t *testing.T, s datastore.Store) {
	_, err := s.GetEvaluation(ctx, 12345)
	if !errors.Is(err, cvssd.ErrNotFound) {
		t.Errorf("GetEvaluation: got: %v, want: %v", err, cvssd.ErrNotFound)
	}
	_, err = s.UserByEmail(ctx, "nobody@example.com")
	if !errors.Is(err, cvssd.ErrNotFound) {
		t.Errorf("UserByEmail: got: %v, want: %v", err, cvssd.ErrNotFound)
	}
	_, _, err = s.SessionUser(ctx, "nope")
	if !errors.Is(err, cvssd.ErrNotFound) {
		t.Errorf("SessionUser: got: %v, want: %v", err, cvssd.ErrNotFound)
	}
	if err := s.DeleteSession(ctx, "nope"); err != nil {
		t.Errorf("DeleteSession: %v", err)
	}
}

func testSummary(ctx context.Context, t *testing.T, s datastore.Store) {
	t.Run("Empty", func(t *testing.T) {
		got, err := s.Summary(ctx, 10)
		if err != nil {
			t.Fatal(err)
		}
		want := cvssd.NewSummary()
		if !cmp.Equal(got, want) {
			t.Error(cmp.Diff(got, want))
		}
	})
	for _, v := range vectors {
		if _, err := s.CreateEvaluation(ctx, Evaluation(t, v.Vector, v.Severity.String(), "")); err != nil {
			t.Fatal(err)
		}
	}
	t.Run("Counts", func(t *testing.T) {
		got, err := s.Summary(ctx, 3)
		if err != nil {
			t.Fatal(err)
		}
		want := map[cvss.Qualitative]int{
			cvss.Critical: 2,
			cvss.High:     1,
			cvss.Medium:   1,
			cvss.Low:      1,
			cvss.None:     0,
		}
		if !cmp.Equal(got.Counts, want) {
			t.Error(cmp.Diff(got.Counts, want))
		}
		if got.Total != len(vectors) {
			t.Errorf("total: got: %d, want: %d", got.Total, len(vectors))
		}
		var scores []float64
		for _, e := range got.Top {
			scores = append(scores, e.BaseScore)
		}
		if want := []float64{10.0, 9.8, 7.5}; !cmp.Equal(scores, want) {
			t.Error(cmp.Diff(scores, want))
		}
	})
}

func testUsers(ctx context.Context, t *testing.T, s datastore.Store) {
	u := &cvssd.User{Email: "a@example.com", FullName: "A User", PasswordHash: "hash", Active: true}
	id, err := s.CreateUser(ctx, u)
	if err != nil {
		t.Fatal(err)
	}
	if id == 0 || u.ID != id {
		t.Errorf("bad id: %d", id)
	}
	dup := &cvssd.User{Email: "a@example.com", FullName: "Another", PasswordHash: "hash", Active: true}
	if _, err := s.CreateUser(ctx, dup); !errors.Is(err, cvssd.ErrConflict) {
		t.Errorf("duplicate: got: %v, want: %v", err, cvssd.ErrConflict)
	}
	got, err := s.UserByEmail(ctx, "a@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if !cmp.Equal(got, u, evalCmp) {
		t.Error(cmp.Diff(got, u, evalCmp))
	}
	at := time.Now().UTC().Truncate(time.Second)
	if err := s.TouchLogin(ctx, id, at); err != nil {
		t.Fatal(err)
	}
	got, err = s.UserByEmail(ctx, "a@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if !got.LastLogin.Equal(at) {
		t.Errorf("last login: got: %v, want: %v", got.LastLogin, at)
	}
	if err := s.TouchLogin(ctx, id+100, at); !errors.Is(err, cvssd.ErrNotFound) {
		t.Errorf("touch missing: got: %v, want: %v", err, cvssd.ErrNotFound)
	}
}

func testSessions(ctx context.Context, t *testing.T, s datastore.Store) {
	u := &cvssd.User{Email: "s@example.com", FullName: "S User", PasswordHash: "hash", Active: true}
	if _, err := s.CreateUser(ctx, u); err != nil {
		t.Fatal(err)
	}
	off := &cvssd.User{Email: "off@example.com", FullName: "Off User", PasswordHash: "hash", Active: false}
	if _, err := s.CreateUser(ctx, off); err != nil {
		t.Fatal(err)
	}
	now := time.Now().UTC().Truncate(time.Second)
	live := &cvssd.Session{Token: "live", UserID: u.ID, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	dead := &cvssd.Session{Token: "dead", UserID: u.ID, CreatedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour)}
	inactive := &cvssd.Session{Token: "inactive", UserID: off.ID, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	for _, sess := range []*cvssd.Session{live, dead, inactive} {
		if err := s.CreateSession(ctx, sess); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.CreateSession(ctx, &cvssd.Session{Token: "live", UserID: u.ID, ExpiresAt: now}); !errors.Is(err, cvssd.ErrConflict) {
		t.Errorf("duplicate token: got: %v, want: %v", err, cvssd.ErrConflict)
	}

	gotSess, gotUser, err := s.SessionUser(ctx, "live")
	if err != nil {
		t.Fatal(err)
	}
	if !cmp.Equal(gotSess, live) {
		t.Error(cmp.Diff(gotSess, live))
	}
	if gotUser.ID != u.ID || gotUser.Email != u.Email {
		t.Errorf("got user %+v", gotUser)
	}
	// Expiry is the caller's concern.
	if _, _, err := s.SessionUser(ctx, "dead"); err != nil {
		t.Errorf("expired session: %v", err)
	}
	if _, _, err := s.SessionUser(ctx, "inactive"); !errors.Is(err, cvssd.ErrNotFound) {
		t.Errorf("inactive user: got: %v, want: %v", err, cvssd.ErrNotFound)
	}

	n, err := s.DeleteExpiredSessions(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("deleted %d, want 1", n)
	}
	if _, _, err := s.SessionUser(ctx, "dead"); !errors.Is(err, cvssd.ErrNotFound) {
		t.Errorf("after cleanup: got: %v, want: %v", err, cvssd.ErrNotFound)
	}
	if err := s.DeleteSession(ctx, "live"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := s.SessionUser(ctx, "live"); !errors.Is(err, cvssd.ErrNotFound) {
		t.Errorf("after logout: got: %v, want: %v", err, cvssd.ErrNotFound)
	}
}

func testIterate(ctx context.Context, t *testing.T, s datastore.Store) {
	for i := 0; i < 5; i++ {
		if _, err := s.CreateEvaluation(ctx, Evaluation(t, vectors[0].Vector, "iter", "")); err != nil {
			t.Fatal(err)
		}
	}
	var ct int
	for e, err := range s.AllEvaluations(ctx, datastore.ListOpts{}) {
		if err != nil {
			t.Fatal(err)
		}
		if e.Title != "iter" {
			t.Errorf("got title %q", e.Title)
		}
		ct++
		if ct == 3 {
			break
		}
	}
	if ct != 3 {
		t.Errorf("got %d, want 3", ct)
	}
	// The store must still be usable after an early break.
	if _, err := s.ListEvaluations(ctx, datastore.ListOpts{}); err != nil {
		t.Error(err)
	}
}
