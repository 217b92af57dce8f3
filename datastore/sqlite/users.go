package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/quay/cvssd"
)

const (
	insertUser  = `INSERT INTO users (email, password_hash, full_name, created_at, is_active) VALUES (?, ?, ?, ?, ?);`
	userByEmail = `SELECT id, email, password_hash, full_name, created_at, last_login, is_active FROM users WHERE email = ?;`
	touchLogin  = `UPDATE users SET last_login = ? WHERE id = ?;`
)

// CreateUser implements [datastore.UserStore].
func (s *Store) CreateUser(ctx context.Context, u *cvssd.User) (_ int64, err error) {
	ctx, done := s.method(ctx, "CreateUser", &err)
	defer done()

	created := s.now()
	res, err := s.db.ExecContext(ctx, insertUser, u.Email, u.PasswordHash, u.FullName, fmtTime(created), u.Active)
	if err != nil {
		err = dbError("CreateUser", err)
		if errors.Is(err, cvssd.ErrConflict) {
			err.(*cvssd.Error).Message = fmt.Sprintf("email %q already registered", u.Email)
		}
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, dbError("CreateUser", err)
	}
	u.ID = id
	u.CreatedAt = created.UTC().Truncate(time.Microsecond)
	return id, nil
}

// UserByEmail implements [datastore.UserStore].
func (s *Store) UserByEmail(ctx context.Context, email string) (_ *cvssd.User, err error) {
	ctx, done := s.method(ctx, "UserByEmail", &err)
	defer done()

	var (
		u       cvssd.User
		created string
		last    nullTime
	)
	err = s.db.QueryRowContext(ctx, userByEmail, email).
		Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FullName, &created, &last, &u.Active)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, &cvssd.Error{Op: "UserByEmail", Kind: cvssd.ErrNotFound, Message: "no such user", Inner: err}
	case err != nil:
		return nil, dbError("UserByEmail", err)
	}
	if u.CreatedAt, err = parseTime(created); err != nil {
		return nil, dbError("UserByEmail", err)
	}
	u.LastLogin = last.Time
	return &u, nil
}

// TouchLogin implements [datastore.UserStore].
func (s *Store) TouchLogin(ctx context.Context, id int64, at time.Time) (err error) {
	ctx, done := s.method(ctx, "TouchLogin", &err)
	defer done()

	res, err := s.db.ExecContext(ctx, touchLogin, fmtTime(at), id)
	if err != nil {
		return dbError("TouchLogin", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return &cvssd.Error{Op: "TouchLogin", Kind: cvssd.ErrNotFound, Message: fmt.Sprintf("no user %d", id)}
	}
	return nil
}
