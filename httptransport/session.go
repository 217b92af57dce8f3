package httptransport

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/quay/cvssd"
	"github.com/quay/cvssd/auth"
	je "github.com/quay/cvssd/pkg/jsonerr"
	"github.com/quay/cvssd/toolkit/log"
)

type userKey struct{}

// UserFrom returns the signed-in user for the request context, or nil.
func UserFrom(ctx context.Context) *cvssd.User {
	u, _ := ctx.Value(userKey{}).(*cvssd.User)
	return u
}

// Session resolves the session cookie, if any, into a user on the request
// context. Invalid or expired cookies are cleared.
func (s *Server) session(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := r.Cookie(SessionCookie)
		if err != nil || c.Value == "" {
			next.ServeHTTP(w, r)
			return
		}
		ctx := r.Context()
		u, err := s.auth.Validate(ctx, c.Value)
		switch {
		case err == nil:
			ctx = context.WithValue(ctx, userKey{}, u)
			ctx = log.With(ctx, "user", u.ID)
			r = r.WithContext(ctx)
		case errors.Is(err, cvssd.ErrUnauthorized):
			slog.DebugContext(ctx, "dropping session cookie", "reason", err)
			s.clearCookie(w)
		default:
			slog.WarnContext(ctx, "unable to validate session", "error", err)
		}
		next.ServeHTTP(w, r)
	})
}

// Writer wraps handlers that create evaluations. When authentication is
// required they need a signed-in user.
func (s *Server) writer(h http.HandlerFunc) http.HandlerFunc {
	if !s.authRequired {
		return h
	}
	return s.signedIn(h)
}

// SignedIn wraps handlers that always need a signed-in user. API requests
// get a 401; pages redirect to the login form.
func (s *Server) signedIn(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if UserFrom(r.Context()) != nil {
			h(w, r)
			return
		}
		if isAPI(r) {
			w.Header().Set("WWW-Authenticate", `Cookie realm="cvssd"`)
			je.Error(w, &je.Response{
				Code:    "unauthorized",
				Message: "sign in required",
			}, http.StatusUnauthorized)
			return
		}
		http.Redirect(w, r, "/login?next="+url.QueryEscape(r.URL.RequestURI()), http.StatusSeeOther)
	}
}

func isAPI(r *http.Request) bool {
	return strings.HasPrefix(r.URL.Path, "/api/")
}

func (s *Server) setCookie(w http.ResponseWriter, sess *cvssd.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    sess.Token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) clearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

// SafeNext returns "next" if it's a local path, or "/".
func safeNext(next string) string {
	if !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, `/\`) {
		return "/"
	}
	return next
}

// LoginStatus maps a login or registration failure to a status code and a
// message fit for display.
func loginStatus(err error) (int, string) {
	switch {
	case errors.Is(err, auth.ErrRateLimited):
		return http.StatusTooManyRequests, "Too many attempts; try again later."
	case errors.Is(err, auth.ErrAccountDisabled):
		return http.StatusForbidden, "This account is deactivated."
	case errors.Is(err, auth.ErrInvalidCredentials):
		return http.StatusUnauthorized, "Invalid email or password."
	case errors.Is(err, cvssd.ErrConflict):
		return http.StatusConflict, "That email is already registered."
	case errors.Is(err, cvssd.ErrInvalid):
		var e *cvssd.Error
		if errors.As(err, &e) && e.Message != "" {
			return http.StatusBadRequest, upperFirst(e.Message) + "."
		}
		return http.StatusBadRequest, "Invalid input."
	}
	return http.StatusInternalServerError, "Something went wrong; try again later."
}

func upperFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
