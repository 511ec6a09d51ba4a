package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/BlockXAI/Ginie-User-Management/internal/http/middleware"
	"github.com/BlockXAI/Ginie-User-Management/internal/http/response"
	"github.com/BlockXAI/Ginie-User-Management/internal/observability"
	"github.com/BlockXAI/Ginie-User-Management/internal/repository"
	"github.com/BlockXAI/Ginie-User-Management/internal/service"

	"github.com/go-chi/chi/v5"
)

type KeyHandler struct {
	ents *service.EntitlementService
}

func NewKeyHandler(ents *service.EntitlementService) *KeyHandler {
	return &KeyHandler{ents: ents}
}

type redeemRequest struct {
	Key string `json:"key"`
}

func (h *KeyHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "bad_request", "invalid JSON body", nil)
		return
	}
	p, _ := middleware.PrincipalFromContext(r.Context())
	key, err := h.ents.Redeem(r.Context(), p.User.ID, req.Key)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidKey):
			response.Error(w, r, http.StatusBadRequest, "invalid_key", "key is invalid or expired", nil)
		case errors.Is(err, service.ErrKeyAlreadyUsed):
			response.Error(w, r, http.StatusConflict, "already_used", "key was already redeemed or revoked", nil)
		default:
			response.Error(w, r, http.StatusServiceUnavailable, "db_unavailable", "key store unavailable", nil)
		}
		return
	}
	observability.Audit(r, "key.redeem", "user_id", p.User.ID, "key_id", key.ID)
	response.JSON(w, r, http.StatusOK, map[string]any{
		"key_id":      key.ID,
		"redeemed_at": key.RedeemedAt,
	})
}

type mintRequest struct {
	ExpiresAt *time.Time `json:"expires_at"`
}

// Mint issues a fresh premium key. The raw key appears in this response and
// nowhere else; only hashes are stored.
func (h *KeyHandler) Mint(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, r, http.StatusBadRequest, "bad_request", "invalid JSON body", nil)
			return
		}
	}
	if req.ExpiresAt != nil && req.ExpiresAt.Before(time.Now()) {
		response.Error(w, r, http.StatusBadRequest, "bad_request", "expires_at is in the past", nil)
		return
	}
	adminID := "service"
	if p, ok := middleware.PrincipalFromContext(r.Context()); ok {
		adminID = p.User.ID
	}
	minted, err := h.ents.Mint(r.Context(), adminID, req.ExpiresAt)
	if err != nil {
		response.Error(w, r, http.StatusServiceUnavailable, "db_unavailable", "key store unavailable", nil)
		return
	}
	observability.Audit(r, "key.mint", "admin_id", adminID, "key_id", minted.Key.ID)
	response.JSON(w, r, http.StatusCreated, map[string]any{
		"key_id":     minted.Key.ID,
		"key":        minted.Raw,
		"expires_at": minted.Key.ExpiresAt,
	})
}

func (h *KeyHandler) List(w http.ResponseWriter, r *http.Request) {
	query := repository.KeyListQuery{
		PageRequest: pageRequest(r),
		Status:      r.URL.Query().Get("status"),
	}
	page, err := h.ents.ListKeys(r.Context(), query)
	if err != nil {
		response.Error(w, r, http.StatusServiceUnavailable, "db_unavailable", "key store unavailable", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, page)
}

func (h *KeyHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	keyID := chi.URLParam(r, "keyID")
	err := h.ents.RevokeKey(r.Context(), keyID)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidKey):
			response.Error(w, r, http.StatusNotFound, "not_found", "key not found", nil)
		case errors.Is(err, service.ErrKeyAlreadyUsed):
			response.Error(w, r, http.StatusConflict, "already_used", "key is not revocable", nil)
		default:
			response.Error(w, r, http.StatusServiceUnavailable, "db_unavailable", "key store unavailable", nil)
		}
		return
	}
	observability.Audit(r, "key.revoke", "key_id", keyID)
	response.JSON(w, r, http.StatusOK, map[string]any{"revoked": true})
}

func pageRequest(r *http.Request) repository.PageRequest {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	size, _ := strconv.Atoi(q.Get("page_size"))
	return repository.PageRequest{Page: page, PageSize: size}
}
