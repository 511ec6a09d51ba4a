package middleware

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/BlockXAI/Ginie-User-Management/internal/http/response"
	"github.com/BlockXAI/Ginie-User-Management/internal/observability"
	"github.com/BlockXAI/Ginie-User-Management/internal/ratelimit"
)

// KeyFunc derives the counting key for a request. Keys carry their scope so
// different route groups never share windows.
type KeyFunc func(r *http.Request) string

// RateLimit wraps a route group in a fixed-window limiter. A limiter backend
// failure admits the request (fail open): losing Redis must not take login
// down with it, and the window resumes once the backend returns.
type RateLimit struct {
	limiter ratelimit.Limiter
	scope   string
	limit   int
	window  time.Duration
	keyFunc KeyFunc
}

func NewRateLimit(limiter ratelimit.Limiter, scope string, limit int, window time.Duration, keyFunc KeyFunc) *RateLimit {
	if keyFunc == nil {
		keyFunc = ClientIPKey(scope)
	}
	return &RateLimit{limiter: limiter, scope: scope, limit: limit, window: window, keyFunc: keyFunc}
}

func (rl *RateLimit) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision, err := rl.limiter.Allow(r.Context(), rl.keyFunc(r), rl.limit, rl.window)
			if err != nil {
				observability.RecordRateLimitDecision(r.Context(), rl.scope, "backend_error")
				slog.WarnContext(r.Context(), "rate limiter backend unavailable, allowing request",
					"scope", rl.scope, "error", err)
				next.ServeHTTP(w, r)
				return
			}
			writeRateLimitHeaders(w.Header(), rl.limit, decision.Remaining)
			if !decision.Allowed {
				observability.RecordRateLimitDecision(r.Context(), rl.scope, "deny")
				w.Header().Set("Retry-After", retryAfterHeader(decision.RetryAfter))
				response.Error(w, r, http.StatusTooManyRequests, "rate_limited", "too many requests", nil)
				return
			}
			observability.RecordRateLimitDecision(r.Context(), rl.scope, "allow")
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIPKey counts per source address.
func ClientIPKey(scope string) KeyFunc {
	return func(r *http.Request) string {
		return "rl:" + scope + ":ip:" + clientIP(r)
	}
}

// UserOrIPKey counts per authenticated user, falling back to the source
// address before SessionAuth has run or for anonymous callers.
func UserOrIPKey(scope string) KeyFunc {
	return func(r *http.Request) string {
		if p, ok := PrincipalFromContext(r.Context()); ok {
			return "rl:" + scope + ":u:" + p.User.ID
		}
		return "rl:" + scope + ":ip:" + clientIP(r)
	}
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}

func retryAfterHeader(d time.Duration) string {
	seconds := int(d.Round(time.Second).Seconds())
	if seconds <= 0 {
		seconds = 1
	}
	return fmt.Sprintf("%d", seconds)
}

func writeRateLimitHeaders(h http.Header, limit, remaining int) {
	if remaining < 0 {
		remaining = 0
	}
	h.Set("X-RateLimit-Limit", fmt.Sprintf("%d", limit))
	h.Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
}
