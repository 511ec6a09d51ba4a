// Package handler holds the HTTP endpoints. Handlers decode and validate the
// wire payloads, delegate to services, and map service errors onto the JSON
// envelope; no business rules live here.
package handler

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/mail"
	"time"

	"github.com/BlockXAI/Ginie-User-Management/internal/config"
	"github.com/BlockXAI/Ginie-User-Management/internal/http/middleware"
	"github.com/BlockXAI/Ginie-User-Management/internal/http/response"
	"github.com/BlockXAI/Ginie-User-Management/internal/observability"
	"github.com/BlockXAI/Ginie-User-Management/internal/security"
	"github.com/BlockXAI/Ginie-User-Management/internal/service"
)

type AuthHandler struct {
	auth *service.AuthService
	cfg  *config.Config
}

func NewAuthHandler(auth *service.AuthService, cfg *config.Config) *AuthHandler {
	return &AuthHandler{auth: auth, cfg: cfg}
}

type sendOTPRequest struct {
	Email string `json:"email"`
}

func (h *AuthHandler) SendOTP(w http.ResponseWriter, r *http.Request) {
	var req sendOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "bad_request", "invalid JSON body", nil)
		return
	}
	if _, err := mail.ParseAddress(req.Email); err != nil {
		response.Error(w, r, http.StatusBadRequest, "bad_request", "invalid email address", nil)
		return
	}
	challengeID, expiresAt, err := h.auth.SendOTP(r.Context(), req.Email)
	if err != nil {
		response.Error(w, r, http.StatusInternalServerError, "internal_error", "could not send verification code", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, map[string]any{
		"challenge_id": challengeID,
		"expires_at":   expiresAt,
	})
}

type verifyOTPRequest struct {
	Email       string `json:"email"`
	Code        string `json:"code"`
	ChallengeID string `json:"challenge_id"`
}

func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.Error(w, r, http.StatusBadRequest, "bad_request", "invalid JSON body", nil)
		return
	}
	if req.Email == "" || req.Code == "" || req.ChallengeID == "" {
		response.Error(w, r, http.StatusBadRequest, "bad_request", "email, code and challenge_id are required", nil)
		return
	}
	user, creds, err := h.auth.VerifyOTP(r.Context(), req.Email, req.Code, req.ChallengeID, clientIP(r), r.UserAgent())
	if err != nil {
		if errors.Is(err, service.ErrStoreUnavailable) {
			response.Error(w, r, http.StatusServiceUnavailable, "db_unavailable", "credential store unavailable", nil)
			return
		}
		response.Error(w, r, http.StatusUnauthorized, "invalid_otp", "verification failed",
			map[string]string{"reason": otpFailureReason(err)})
		return
	}
	h.setAuthCookies(w, creds)
	observability.Audit(r, "auth.login", "user_id", user.ID)
	response.JSON(w, r, http.StatusOK, map[string]any{
		"user":       user,
		"csrf_token": creds.CSRFToken,
		"expires_at": creds.ExpiresAt,
	})
}

func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	raw := security.GetCookie(r, middleware.CookieRefresh)
	if raw == "" {
		response.Error(w, r, http.StatusUnauthorized, "unauthorized", "missing refresh token", nil)
		return
	}
	creds, err := h.auth.Refresh(r.Context(), raw)
	if err != nil {
		if errors.Is(err, service.ErrStoreUnavailable) {
			response.Error(w, r, http.StatusServiceUnavailable, "db_unavailable", "credential store unavailable", nil)
			return
		}
		h.clearAuthCookies(w)
		response.Error(w, r, http.StatusUnauthorized, "unauthorized", "refresh token rejected", nil)
		return
	}
	h.setAuthCookies(w, creds)
	response.JSON(w, r, http.StatusOK, map[string]any{
		"csrf_token": creds.CSRFToken,
		"expires_at": creds.ExpiresAt,
	})
}

func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	_ = h.auth.Logout(r.Context(), security.GetCookie(r, middleware.CookieAccess))
	h.clearAuthCookies(w)
	response.JSON(w, r, http.StatusOK, map[string]any{"logged_out": true})
}

func (h *AuthHandler) setAuthCookies(w http.ResponseWriter, creds *service.Credentials) {
	h.setCookie(w, middleware.CookieAccess, creds.AccessToken, "/", h.cfg.AccessTokenTTL, true)
	// The refresh token only ever travels to the auth routes.
	h.setCookie(w, middleware.CookieRefresh, creds.RefreshToken, "/u/auth", h.cfg.RefreshTokenTTL, true)
	// Double submit: scripts read this one back and echo it in the header.
	h.setCookie(w, middleware.CookieCSRF, creds.CSRFToken, "/", h.cfg.AccessTokenTTL, false)
}

func (h *AuthHandler) clearAuthCookies(w http.ResponseWriter) {
	h.setCookie(w, middleware.CookieAccess, "", "/", -time.Second, true)
	h.setCookie(w, middleware.CookieRefresh, "", "/u/auth", -time.Second, true)
	h.setCookie(w, middleware.CookieCSRF, "", "/", -time.Second, false)
}

func (h *AuthHandler) setCookie(w http.ResponseWriter, name, value, path string, ttl time.Duration, httpOnly bool) {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		Domain:   h.cfg.CookieDomain,
		MaxAge:   int(ttl.Seconds()),
		HttpOnly: httpOnly,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
	http.SetCookie(w, c)
}

func otpFailureReason(err error) string {
	switch {
	case errors.Is(err, service.ErrExpiredChallenge):
		return "expired"
	case errors.Is(err, service.ErrChallengeReplayed):
		return "replayed"
	case errors.Is(err, service.ErrChallengeLocked):
		return "locked"
	case errors.Is(err, service.ErrIdentityMismatch):
		return "identity_mismatch"
	default:
		return "code_mismatch"
	}
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
