package middleware

import (
	"context"
	"net/http"

	"github.com/BlockXAI/Ginie-User-Management/internal/domain"
	"github.com/BlockXAI/Ginie-User-Management/internal/http/response"
)

// RequireRole gates a route on a minimum role rank. Runs after SessionAuth.
func RequireRole(min domain.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				response.Error(w, r, http.StatusUnauthorized, "unauthorized", "missing auth context", nil)
				return
			}
			if p.User.Role.Rank() < min.Rank() {
				response.Error(w, r, http.StatusForbidden, "forbidden", "insufficient role",
					map[string]string{"required": string(min)})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// FeatureChecker answers whether a user holds an entitlement flag.
// *service.EntitlementService satisfies it.
type FeatureChecker interface {
	HasFeature(ctx context.Context, userID string, flag domain.EntitlementFlag) (bool, error)
}

// RequireFeature gates a route on an entitlement flag, resolved through the
// cached access profile so role grants count too.
func RequireFeature(ents FeatureChecker, flag domain.EntitlementFlag) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				response.Error(w, r, http.StatusUnauthorized, "unauthorized", "missing auth context", nil)
				return
			}
			allowed, err := ents.HasFeature(r.Context(), p.User.ID, flag)
			if err != nil {
				response.Error(w, r, http.StatusServiceUnavailable, "db_unavailable", "entitlement lookup unavailable", nil)
				return
			}
			if !allowed {
				response.Error(w, r, http.StatusForbidden, "forbidden", "feature not enabled",
					map[string]string{"required": string(flag)})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
