package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quay/cvssd"
)

// CreateSession implements [datastore.SessionStore].
func (s *Store) CreateSession(ctx context.Context, sess *cvssd.Session) (err error) {
	ctx, done := s.method(ctx, &err)
	defer done()

	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = s.now()
	}
	err = s.pool.AcquireFunc(ctx, s.acquire(ctx, "insert", func(ctx context.Context, c *pgxpool.Conn, query string) error {
		_, err := c.Exec(ctx, query, sess.UserID, sess.Token, sess.CreatedAt, sess.ExpiresAt)
		return err
	}))
	if err != nil {
		return dbError("CreateSession", err)
	}
	return nil
}

// SessionUser implements [datastore.SessionStore].
func (s *Store) SessionUser(ctx context.Context, token string) (_ *cvssd.Session, _ *cvssd.User, err error) {
	ctx, done := s.method(ctx, &err)
	defer done()

	var (
		sess cvssd.Session
		u    cvssd.User
		last *time.Time
	)
	err = s.pool.AcquireFunc(ctx, s.acquire(ctx, "select", func(ctx context.Context, c *pgxpool.Conn, query string) error {
		return c.QueryRow(ctx, query, token).Scan(
			&sess.Token, &sess.CreatedAt, &sess.ExpiresAt,
			&u.ID, &u.Email, &u.PasswordHash, &u.FullName, &u.CreatedAt, &last, &u.Active,
		)
	}))
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, nil, &cvssd.Error{Op: "SessionUser", Kind: cvssd.ErrNotFound, Message: "no such session", Inner: err}
	case err != nil:
		return nil, nil, dbError("SessionUser", err)
	}
	if last != nil {
		u.LastLogin = *last
	}
	sess.UserID = u.ID
	return &sess, &u, nil
}

// DeleteSession implements [datastore.SessionStore].
func (s *Store) DeleteSession(ctx context.Context, token string) (err error) {
	ctx, done := s.method(ctx, &err)
	defer done()

	err = s.pool.AcquireFunc(ctx, s.acquire(ctx, "delete", func(ctx context.Context, c *pgxpool.Conn, query string) error {
		_, err := c.Exec(ctx, query, token)
		return err
	}))
	if err != nil {
		return dbError("DeleteSession", err)
	}
	return nil
}

// DeleteExpiredSessions implements [datastore.SessionStore].
func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (_ int64, err error) {
	ctx, done := s.method(ctx, &err)
	defer done()

	var n int64
	err = s.pool.AcquireFunc(ctx, s.acquire(ctx, "delete", func(ctx context.Context, c *pgxpool.Conn, query string) error {
		tag, err := c.Exec(ctx, query, now)
		n = tag.RowsAffected()
		return err
	}))
	if err != nil {
		return 0, dbError("DeleteExpiredSessions", err)
	}
	return n, nil
}
