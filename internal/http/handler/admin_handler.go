package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/BlockXAI/Ginie-User-Management/internal/domain"
	"github.com/BlockXAI/Ginie-User-Management/internal/http/middleware"
	"github.com/BlockXAI/Ginie-User-Management/internal/http/response"
	"github.com/BlockXAI/Ginie-User-Management/internal/observability"
	"github.com/BlockXAI/Ginie-User-Management/internal/repository"
	"github.com/BlockXAI/Ginie-User-Management/internal/service"

	"github.com/go-chi/chi/v5"
)

type AdminHandler struct {
	users repository.UserRepository
	ents  *service.EntitlementService
	audit repository.AuditRepository
	sink  observability.Sink
}

func NewAdminHandler(users repository.UserRepository, ents *service.EntitlementService, audit repository.AuditRepository, sink observability.Sink) *AdminHandler {
	return &AdminHandler{users: users, ents: ents, audit: audit, sink: sink}
}

func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := repository.UserListQuery{
		PageRequest: pageRequest(r),
		Email:       q.Get("email"),
		Role:        q.Get("role"),
	}
	page, err := h.users.ListPaged(r.Context(), query)
	if err != nil {
		response.Error(w, r, http.StatusServiceUnavailable, "db_unavailable", "user store unavailable", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, page)
}

type setRoleRequest struct {
	Role string `json:"role"`
}

func (h *AdminHandler) SetRole(w http.ResponseWriter, r *http.Request) {
	var req setRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "bad_request", "invalid JSON body", nil)
		return
	}
	role, ok := domain.ParseRole(req.Role)
	if !ok {
		response.Error(w, r, http.StatusBadRequest, "bad_request", "unknown role",
			map[string]string{"role": req.Role})
		return
	}
	userID := chi.URLParam(r, "userID")
	if err := h.ents.SetRole(r.Context(), userID, role); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			response.Error(w, r, http.StatusNotFound, "user_not_found", "no such user", nil)
			return
		}
		response.Error(w, r, http.StatusServiceUnavailable, "db_unavailable", "user store unavailable", nil)
		return
	}
	h.recordAudit(r, "admin.role.set", userID, string(role))
	response.JSON(w, r, http.StatusOK, map[string]any{"user_id": userID, "role": role})
}

type setEntitlementsRequest struct {
	ProEnabled        bool             `json:"pro_enabled"`
	WalletDeployments bool             `json:"wallet_deployments"`
	HistoryExport     bool             `json:"history_export"`
	ChatAgents        bool             `json:"chat_agents"`
	HostedFrontend    bool             `json:"hosted_frontend"`
	Limits            map[string]int64 `json:"limits"`
}

// SetEntitlements replaces the whole flag row. Partial updates are not
// supported on purpose: the admin UI always sends the full set.
func (h *AdminHandler) SetEntitlements(w http.ResponseWriter, r *http.Request) {
	var req setEntitlementsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "bad_request", "invalid JSON body", nil)
		return
	}
	userID := chi.URLParam(r, "userID")
	ent := &domain.Entitlement{
		UserID:            userID,
		ProEnabled:        req.ProEnabled,
		WalletDeployments: req.WalletDeployments,
		HistoryExport:     req.HistoryExport,
		ChatAgents:        req.ChatAgents,
		HostedFrontend:    req.HostedFrontend,
		Limits:            req.Limits,
	}
	if err := h.ents.SetEntitlements(r.Context(), ent); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			response.Error(w, r, http.StatusNotFound, "user_not_found", "no such user", nil)
			return
		}
		response.Error(w, r, http.StatusServiceUnavailable, "db_unavailable", "user store unavailable", nil)
		return
	}
	h.recordAudit(r, "admin.entitlements.set", userID, "")
	response.JSON(w, r, http.StatusOK, map[string]any{"entitlement": ent})
}

// Metrics exposes the domain counters when the configured sink can snapshot
// itself; otherwise the route reports the capability as absent.
func (h *AdminHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.sink.(observability.SnapshotSink)
	if !ok {
		response.JSON(w, r, http.StatusOK, map[string]any{"available": false})
		return
	}
	counts, err := snap.Snapshot(r.Context())
	if err != nil {
		response.Error(w, r, http.StatusServiceUnavailable, "db_unavailable", "metrics store unavailable", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"available": true, "counters": counts})
}

func (h *AdminHandler) AuditLog(w http.ResponseWriter, r *http.Request) {
	page, err := h.audit.ListRecent(r.Context(), pageRequest(r))
	if err != nil {
		response.Error(w, r, http.StatusServiceUnavailable, "db_unavailable", "audit store unavailable", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, page)
}

func (h *AdminHandler) recordAudit(r *http.Request, action, target, detail string) {
	actor := ""
	if p, ok := middleware.PrincipalFromContext(r.Context()); ok {
		actor = p.User.ID
	}
	observability.Audit(r, action, "actor", actor, "target", target)
	_ = h.audit.Append(r.Context(), &domain.AuditLog{
		ActorUserID: actor,
		Action:      action,
		Target:      target,
		Detail:      detail,
	})
}
