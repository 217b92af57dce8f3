package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/quay/cvssd"
)

const (
	insertSession = `INSERT INTO user_sessions (user_id, session_token, created_at, expires_at) VALUES (?, ?, ?, ?);`
	sessionUser   = `SELECT
	s.session_token, s.created_at, s.expires_at,
	u.id, u.email, u.password_hash, u.full_name, u.created_at, u.last_login, u.is_active
FROM user_sessions s
JOIN users u ON u.id = s.user_id
WHERE s.session_token = ? AND u.is_active = 1;`
	deleteSession = `DELETE FROM user_sessions WHERE session_token = ?;`
	deleteExpired = `DELETE FROM user_sessions WHERE expires_at < ?;`
)

// CreateSession implements [datastore.SessionStore].
func (s *Store) CreateSession(ctx context.Context, sess *cvssd.Session) (err error) {
	ctx, done := s.method(ctx, "CreateSession", &err)
	defer done()

	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = s.now()
	}
	_, err = s.db.ExecContext(ctx, insertSession,
		sess.UserID, sess.Token, fmtTime(sess.CreatedAt), fmtTime(sess.ExpiresAt))
	if err != nil {
		return dbError("CreateSession", err)
	}
	return nil
}

// SessionUser implements [datastore.SessionStore].
func (s *Store) SessionUser(ctx context.Context, token string) (_ *cvssd.Session, _ *cvssd.User, err error) {
	ctx, done := s.method(ctx, "SessionUser", &err)
	defer done()

	var (
		sess                   cvssd.Session
		u                      cvssd.User
		sCreated, sExp, uCreat string
		last                   nullTime
	)
	err = s.db.QueryRowContext(ctx, sessionUser, token).Scan(
		&sess.Token, &sCreated, &sExp,
		&u.ID, &u.Email, &u.PasswordHash, &u.FullName, &uCreat, &last, &u.Active,
	)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil, &cvssd.Error{Op: "SessionUser", Kind: cvssd.ErrNotFound, Message: "no such session", Inner: err}
	case err != nil:
		return nil, nil, dbError("SessionUser", err)
	}
	for _, p := range []struct {
		dst *time.Time
		src string
	}{
		{&sess.CreatedAt, sCreated},
		{&sess.ExpiresAt, sExp},
		{&u.CreatedAt, uCreat},
	} {
		if *p.dst, err = parseTime(p.src); err != nil {
			return nil, nil, dbError("SessionUser", err)
		}
	}
	u.LastLogin = last.Time
	sess.UserID = u.ID
	return &sess, &u, nil
}

// DeleteSession implements [datastore.SessionStore].
func (s *Store) DeleteSession(ctx context.Context, token string) (err error) {
	ctx, done := s.method(ctx, "DeleteSession", &err)
	defer done()

	if _, err := s.db.ExecContext(ctx, deleteSession, token); err != nil {
		return dbError("DeleteSession", err)
	}
	return nil
}

// DeleteExpiredSessions implements [datastore.SessionStore].
func (s *Store) DeleteExpiredSessions(ctx context.Context, now time.Time) (_ int64, err error) {
	ctx, done := s.method(ctx, "DeleteExpiredSessions", &err)
	defer done()

	res, err := s.db.ExecContext(ctx, deleteExpired, fmtTime(now))
	if err != nil {
		return 0, dbError("DeleteExpiredSessions", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, dbError("DeleteExpiredSessions", err)
	}
	return n, nil
}
