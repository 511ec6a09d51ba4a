package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/BlockXAI/Ginie-User-Management/internal/domain"
	"github.com/BlockXAI/Ginie-User-Management/internal/http/response"
	"github.com/BlockXAI/Ginie-User-Management/internal/security"
	"github.com/BlockXAI/Ginie-User-Management/internal/service"
)

// Cookie and header names shared between the session middleware and the auth
// handlers. The CSRF cookie is the only one readable by scripts.
const (
	CookieAccess  = "evium_access"
	CookieRefresh = "evium_refresh"
	CookieCSRF    = "evium_csrf"
	HeaderCSRF    = "X-CSRF-Token"
)

type contextKey string

const principalContextKey contextKey = "principal"

// Principal is the authenticated caller attached to the request context.
type Principal struct {
	User    *domain.User
	Session *domain.Session
}

// SessionValidator resolves an access token to its user and session.
// *service.AuthService satisfies it.
type SessionValidator interface {
	Validate(ctx context.Context, accessToken string) (*domain.User, *domain.Session, error)
}

// SessionAuth resolves the access token from the session cookie (or a Bearer
// header for non-browser clients) and loads the caller. A store outage maps
// to 503 so clients retry instead of dropping their session.
func SessionAuth(auth SessionValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := security.GetCookie(r, CookieAccess)
			if raw == "" {
				if h := r.Header.Get("Authorization"); strings.HasPrefix(strings.ToLower(h), "bearer ") {
					raw = strings.TrimSpace(h[7:])
				}
			}
			user, session, err := auth.Validate(r.Context(), raw)
			if err != nil {
				if errors.Is(err, service.ErrStoreUnavailable) {
					response.Error(w, r, http.StatusServiceUnavailable, "db_unavailable", "session store unavailable", nil)
					return
				}
				response.Error(w, r, http.StatusUnauthorized, "unauthorized", "authentication required", nil)
				return
			}
			ctx := context.WithValue(r.Context(), principalContextKey, &Principal{User: user, Session: session})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func PrincipalFromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalContextKey).(*Principal)
	return p, ok
}
