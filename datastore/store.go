// Package datastore defines the persistence interfaces used by cvssd.
//
// Implementations live in subpackages. Errors returned should carry a
// [cvssd.ErrorKind] so callers can tell "not found" and "conflict" apart from
// failures.
package datastore

import (
	"context"
	"time"

	"github.com/quay/cvssd"
	"github.com/quay/cvssd/cvss"
)

// Iter is an iterator function that accepts a callback 'yield' to handle each
// iterator item. The consumer can stop the iteration by returning false. The
// iterator reports an error as the final item if the iteration cannot
// continue.
type Iter[T any] func(yield func(T, error) bool)

// Store aggregates all interface types.
type Store interface {
	EvaluationStore
	UserStore
	SessionStore
	// Close releases any resources held by the Store.
	Close() error
}

// ListOpts filters and bounds an evaluation listing. The zero value lists
// everything.
type ListOpts struct {
	// UserID restricts the listing to one user's evaluations.
	UserID int64
	// Severity restricts the listing to one qualitative severity.
	Severity cvss.Qualitative
	// CVEID restricts the listing to evaluations referencing the CVE.
	CVEID string
	// Limit bounds the number of results. Zero means no limit.
	Limit  int
	Offset int
}

// EvaluationStore persists scored evaluations.
type EvaluationStore interface {
	// CreateEvaluation persists the evaluation, setting the ID and CreatedAt
	// fields, and reports the new ID.
	CreateEvaluation(context.Context, *cvssd.Evaluation) (int64, error)
	// GetEvaluation returns the evaluation with the given ID. An error of kind
	// [cvssd.ErrNotFound] is returned if there's no such evaluation.
	GetEvaluation(context.Context, int64) (*cvssd.Evaluation, error)
	// ListEvaluations returns evaluations matching the options, newest
	// first.
	ListEvaluations(context.Context, ListOpts) ([]cvssd.Evaluation, error)
	// AllEvaluations iterates over the evaluations matching the options,
	// newest first, without holding them all in memory.
	AllEvaluations(context.Context, ListOpts) Iter[*cvssd.Evaluation]
	// Summary reports the count per severity and the "top" highest scored
	// evaluations.
	Summary(ctx context.Context, top int) (*cvssd.Summary, error)
}

// UserStore persists accounts.
type UserStore interface {
	// CreateUser persists the user, setting the ID and CreatedAt fields. An
	// error of kind [cvssd.ErrConflict] is returned if the email is taken.
	CreateUser(context.Context, *cvssd.User) (int64, error)
	// UserByEmail looks up a user by email, matched exactly. An error of kind
	// [cvssd.ErrNotFound] is returned if there's no such user.
	UserByEmail(context.Context, string) (*cvssd.User, error)
	// TouchLogin records a successful login at the given time.
	TouchLogin(context.Context, int64, time.Time) error
}

// SessionStore persists login sessions.
type SessionStore interface {
	// CreateSession persists the session.
	CreateSession(context.Context, *cvssd.Session) error
	// SessionUser returns the session and its active user for the token. An
	// error of kind [cvssd.ErrNotFound] is returned for unknown tokens or
	// deactivated users. Expiry is not checked.
	SessionUser(context.Context, string) (*cvssd.Session, *cvssd.User, error)
	// DeleteSession removes the session for the token, if any.
	DeleteSession(context.Context, string) error
	// DeleteExpiredSessions removes sessions that expired before the provided
	// time and reports how many were removed.
	DeleteExpiredSessions(context.Context, time.Time) (int64, error)
}
