package handler

import (
	"net/http"

	"github.com/BlockXAI/Ginie-User-Management/internal/http/middleware"
	"github.com/BlockXAI/Ginie-User-Management/internal/http/response"
	"github.com/BlockXAI/Ginie-User-Management/internal/service"
)

type UserHandler struct {
	auth *service.AuthService
	ents *service.EntitlementService
}

func NewUserHandler(auth *service.AuthService, ents *service.EntitlementService) *UserHandler {
	return &UserHandler{auth: auth, ents: ents}
}

// Me returns the caller's identity plus the resolved access profile, so the
// frontend learns role and feature flags in one round trip.
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromContext(r.Context())
	profile, err := h.ents.Profile(r.Context(), p.User.ID)
	if err != nil {
		response.Error(w, r, http.StatusServiceUnavailable, "db_unavailable", "profile lookup unavailable", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{
		"user":        p.User,
		"role":        profile.Role,
		"entitlement": profile.Entitlement,
	})
}

func (h *UserHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromContext(r.Context())
	sessions, err := h.auth.ListSessions(r.Context(), p.User.ID)
	if err != nil {
		response.Error(w, r, http.StatusServiceUnavailable, "db_unavailable", "session lookup unavailable", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{
		"sessions": sessions,
		"current":  p.Session.ID,
	})
}

// RevokeAllSessions signs the user out everywhere, including the calling
// device.
func (h *UserHandler) RevokeAllSessions(w http.ResponseWriter, r *http.Request) {
	p, _ := middleware.PrincipalFromContext(r.Context())
	if err := h.auth.RevokeAll(r.Context(), p.User.ID); err != nil {
		response.Error(w, r, http.StatusServiceUnavailable, "db_unavailable", "session store unavailable", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"revoked": true})
}
