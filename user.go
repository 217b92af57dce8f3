package cvssd

import "time"

// User is a registered account.
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	FullName     string    `json:"fullName"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	LastLogin    time.Time `json:"lastLogin,omitzero"`
	Active       bool      `json:"active"`
}

// Session binds an opaque token to a user until it expires.
type Session struct {
	Token     string
	UserID    int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the session is past its expiry at "now".
func (s *Session) Expired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}
