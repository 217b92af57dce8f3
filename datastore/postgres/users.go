package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quay/cvssd"
)

// CreateUser implements [datastore.UserStore].
func (s *Store) CreateUser(ctx context.Context, u *cvssd.User) (_ int64, err error) {
	ctx, done := s.method(ctx, &err)
	defer done()

	created := s.now().UTC().Truncate(time.Microsecond)
	var id int64
	err = s.pool.AcquireFunc(ctx, s.acquire(ctx, "insert", func(ctx context.Context, c *pgxpool.Conn, query string) error {
		return c.QueryRow(ctx, query, u.Email, u.PasswordHash, u.FullName, created, u.Active).Scan(&id)
	}))
	if err != nil {
		err = dbError("CreateUser", err)
		if errors.Is(err, cvssd.ErrConflict) {
			err.(*cvssd.Error).Message = fmt.Sprintf("email %q already registered", u.Email)
		}
		return 0, err
	}
	u.ID = id
	u.CreatedAt = created
	return id, nil
}

// UserByEmail implements [datastore.UserStore].
func (s *Store) UserByEmail(ctx context.Context, email string) (_ *cvssd.User, err error) {
	ctx, done := s.method(ctx, &err)
	defer done()

	var (
		u    cvssd.User
		last *time.Time
	)
	err = s.pool.AcquireFunc(ctx, s.acquire(ctx, "select", func(ctx context.Context, c *pgxpool.Conn, query string) error {
		return c.QueryRow(ctx, query, email).
			Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FullName, &u.CreatedAt, &last, &u.Active)
	}))
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return nil, &cvssd.Error{Op: "UserByEmail", Kind: cvssd.ErrNotFound, Message: "no such user", Inner: err}
	case err != nil:
		return nil, dbError("UserByEmail", err)
	}
	if last != nil {
		u.LastLogin = *last
	}
	return &u, nil
}

// TouchLogin implements [datastore.UserStore].
func (s *Store) TouchLogin(ctx context.Context, id int64, at time.Time) (err error) {
	ctx, done := s.method(ctx, &err)
	defer done()

	var n int64
	err = s.pool.AcquireFunc(ctx, s.acquire(ctx, "update", func(ctx context.Context, c *pgxpool.Conn, query string) error {
		tag, err := c.Exec(ctx, query, at, id)
		n = tag.RowsAffected()
		return err
	}))
	if err != nil {
		return dbError("TouchLogin", err)
	}
	if n == 0 {
		return &cvssd.Error{Op: "TouchLogin", Kind: cvssd.ErrNotFound, Message: fmt.Sprintf("no user %d", id)}
	}
	return nil
}
