// Package auth implements account registration, password login, and
// session-token validation on top of a [datastore.UserStore] and
// [datastore.SessionStore].
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/text/cases"
	"golang.org/x/time/rate"

	"github.com/quay/cvssd"
	"github.com/quay/cvssd/datastore"
	"github.com/quay/cvssd/toolkit/log"
)

// Store is the persistence needed by [Service].
type Store interface {
	datastore.UserStore
	datastore.SessionStore
}

// Errors reported by [Service] methods. Each is wrapped in a [*cvssd.Error]
// with an appropriate kind.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountDisabled    = errors.New("account is deactivated")
	ErrSessionExpired     = errors.New("session expired")
	ErrRateLimited        = errors.New("too many login attempts")
)

// Defaults for [Options].
const (
	DefaultSessionTTL = 7 * 24 * time.Hour
	// DefaultLoginRate is the sustained number of login attempts allowed per
	// email, per minute.
	DefaultLoginRate  = 5
	DefaultLoginBurst = 5

	MinPasswordLength = 8
	tokenBytes        = 32
)

// Options configures a [Service]. The zero value uses the defaults.
type Options struct {
	// SessionTTL is the lifetime of a new session.
	SessionTTL time.Duration
	// LoginRate is the number of attempts per minute per email. Negative
	// disables rate limiting.
	LoginRate  float64
	LoginBurst int
	// Cost is the bcrypt cost for new password hashes.
	Cost int
}

// Service is the authentication service.
//
// Service is safe for concurrent use.
type Service struct {
	store Store
	ttl   time.Duration
	cost  int
	now   func() time.Time

	limit rate.Limit
	burst int

	mu sync.Mutex
	// Limiters are keyed by folded email.
	limiters map[string]*limiter
}

type limiter struct {
	*rate.Limiter
	seen time.Time
}

// New returns a Service using "s" for persistence.
func New(s Store, opts *Options) *Service {
	var o Options
	if opts != nil {
		o = *opts
	}
	svc := &Service{
		store:    s,
		ttl:      o.SessionTTL,
		cost:     o.Cost,
		now:      time.Now,
		burst:    o.LoginBurst,
		limiters: make(map[string]*limiter),
	}
	if svc.ttl <= 0 {
		svc.ttl = DefaultSessionTTL
	}
	if svc.cost == 0 {
		svc.cost = bcrypt.DefaultCost
	}
	switch {
	case o.LoginRate < 0:
		svc.limit = rate.Inf
	case o.LoginRate == 0:
		svc.limit = rate.Limit(float64(DefaultLoginRate) / 60)
	default:
		svc.limit = rate.Limit(o.LoginRate / 60)
	}
	if svc.burst <= 0 {
		svc.burst = DefaultLoginBurst
	}
	return svc
}

// NormalizeEmail returns the canonical form of an email address, as it's
// stored.
func NormalizeEmail(email string) string {
	return cases.Fold().String(strings.TrimSpace(email))
}

// Register creates an active account.
//
// The email is case-folded. A duplicate email is reported with the
// [cvssd.ErrConflict] kind.
func (s *Service) Register(ctx context.Context, email, password, fullName string) (*cvssd.User, error) {
	const op = "auth.Register"
	ctx = log.With(ctx, "component", "auth/Service.Register")
	email = NormalizeEmail(email)
	fullName = strings.TrimSpace(fullName)
	switch {
	case !validEmail(email):
		return nil, &cvssd.Error{Op: op, Kind: cvssd.ErrInvalid, Message: fmt.Sprintf("invalid email %q", email)}
	case fullName == "":
		return nil, &cvssd.Error{Op: op, Kind: cvssd.ErrInvalid, Message: "full name is required"}
	case utf8.RuneCountInString(password) < MinPasswordLength:
		return nil, &cvssd.Error{Op: op, Kind: cvssd.ErrInvalid, Message: fmt.Sprintf("password must be at least %d characters", MinPasswordLength)}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	switch {
	case errors.Is(err, bcrypt.ErrPasswordTooLong):
		return nil, &cvssd.Error{Op: op, Kind: cvssd.ErrInvalid, Message: "password is too long", Inner: err}
	case err != nil:
		return nil, &cvssd.Error{Op: op, Kind: cvssd.ErrInternal, Inner: err}
	}
	u := &cvssd.User{
		Email:        email,
		FullName:     fullName,
		PasswordHash: string(hash),
		Active:       true,
	}
	if _, err := s.store.CreateUser(ctx, u); err != nil {
		return nil, fmt.Errorf("auth: register: %w", err)
	}
	slog.InfoContext(ctx, "registered user", "user", u.ID)
	return u, nil
}

// Login checks the credentials and creates a session.
//
// Unknown emails and wrong passwords both report [ErrInvalidCredentials].
func (s *Service) Login(ctx context.Context, email, password string) (*cvssd.Session, *cvssd.User, error) {
	const op = "auth.Login"
	ctx = log.With(ctx, "component", "auth/Service.Login")
	email = NormalizeEmail(email)
	if !s.allow(email) {
		return nil, nil, &cvssd.Error{Op: op, Kind: cvssd.ErrTransient, Inner: ErrRateLimited}
	}
	bad := &cvssd.Error{Op: op, Kind: cvssd.ErrUnauthorized, Inner: ErrInvalidCredentials}

	u, err := s.store.UserByEmail(ctx, email)
	switch {
	case errors.Is(err, cvssd.ErrNotFound):
		return nil, nil, bad
	case err != nil:
		return nil, nil, fmt.Errorf("auth: login: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		slog.DebugContext(ctx, "bad password", "user", u.ID)
		return nil, nil, bad
	}
	if !u.Active {
		return nil, nil, &cvssd.Error{Op: op, Kind: cvssd.ErrUnauthorized, Inner: ErrAccountDisabled}
	}

	tok, err := newToken()
	if err != nil {
		return nil, nil, &cvssd.Error{Op: op, Kind: cvssd.ErrInternal, Message: "unable to create token", Inner: err}
	}
	now := s.now()
	sess := &cvssd.Session{
		Token:     tok,
		UserID:    u.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, nil, fmt.Errorf("auth: login: %w", err)
	}
	if err := s.store.TouchLogin(ctx, u.ID, now); err != nil {
		return nil, nil, fmt.Errorf("auth: login: %w", err)
	}
	u.LastLogin = now
	slog.InfoContext(ctx, "login", "user", u.ID, "expires", sess.ExpiresAt)
	return sess, u, nil
}

// Validate returns the user for a session token.
//
// Expired sessions are removed and reported as [ErrSessionExpired]. Unknown
// tokens are reported with the [cvssd.ErrUnauthorized] kind.
func (s *Service) Validate(ctx context.Context, token string) (*cvssd.User, error) {
	const op = "auth.Validate"
	if token == "" {
		return nil, &cvssd.Error{Op: op, Kind: cvssd.ErrUnauthorized, Message: "no session"}
	}
	sess, u, err := s.store.SessionUser(ctx, token)
	switch {
	case errors.Is(err, cvssd.ErrNotFound):
		return nil, &cvssd.Error{Op: op, Kind: cvssd.ErrUnauthorized, Message: "no session", Inner: err}
	case err != nil:
		return nil, fmt.Errorf("auth: validate: %w", err)
	}
	if sess.Expired(s.now()) {
		if err := s.store.DeleteSession(ctx, token); err != nil {
			slog.WarnContext(ctx, "unable to remove expired session", "error", err)
		}
		return nil, &cvssd.Error{Op: op, Kind: cvssd.ErrUnauthorized, Inner: ErrSessionExpired}
	}
	return u, nil
}

// Logout removes the session, if it exists.
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := s.store.DeleteSession(ctx, token); err != nil {
		return fmt.Errorf("auth: logout: %w", err)
	}
	return nil
}

// Cleanup removes expired sessions and stale rate limiters, reporting the
// number of sessions removed.
func (s *Service) Cleanup(ctx context.Context) (int64, error) {
	now := s.now()
	n, err := s.store.DeleteExpiredSessions(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("auth: cleanup: %w", err)
	}
	s.mu.Lock()
	for k, l := range s.limiters {
		if now.Sub(l.seen) > time.Hour {
			delete(s.limiters, k)
		}
	}
	s.mu.Unlock()
	return n, nil
}

// Run calls [Service.Cleanup] every "interval" until the Context is canceled.
func (s *Service) Run(ctx context.Context, interval time.Duration) error {
	ctx = log.With(ctx, "component", "auth/Service.Run")
	if interval <= 0 {
		return fmt.Errorf("auth: bad cleanup interval: %v", interval)
	}
	slog.InfoContext(ctx, "starting session cleanup", "interval", interval)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			n, err := s.Cleanup(ctx)
			if err != nil {
				slog.ErrorContext(ctx, "error while cleaning sessions", "error", err)
				continue
			}
			if n > 0 {
				slog.DebugContext(ctx, "removed expired sessions", "count", n)
			}
		}
	}
}

func (s *Service) allow(email string) bool {
	if s.limit == rate.Inf {
		return true
	}
	now := s.now()
	s.mu.Lock()
	l, ok := s.limiters[email]
	if !ok {
		l = &limiter{Limiter: rate.NewLimiter(s.limit, s.burst)}
		s.limiters[email] = l
	}
	l.seen = now
	s.mu.Unlock()
	return l.AllowN(now, 1)
}

func newToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func validEmail(s string) bool {
	a, err := mail.ParseAddress(s)
	return err == nil && a.Address == s && strings.Contains(s, "@")
}
