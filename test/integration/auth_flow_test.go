package integration

import (
	"encoding/json"
	"net/http"
	"testing"
)

func TestOTPLoginLogoutLifecycle(t *testing.T) {
	ts := newTestServer(t)

	csrf := ts.login(t, "flow@example.com")

	resp, env := ts.doJSON(t, http.MethodGet, "/u/me", nil, nil)
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("/u/me failed: status=%d", resp.StatusCode)
	}
	var me struct {
		User struct {
			Email string `json:"email"`
		} `json:"user"`
		Role string `json:"role"`
	}
	if err := json.Unmarshal(env.Data, &me); err != nil {
		t.Fatalf("decode /u/me: %v", err)
	}
	if me.User.Email != "flow@example.com" || me.Role != "normal" {
		t.Fatalf("unexpected profile: %+v", me)
	}

	resp, env = ts.doJSON(t, http.MethodPost, "/u/auth/logout", nil, map[string]string{"X-CSRF-Token": csrf})
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("logout failed: status=%d", resp.StatusCode)
	}

	resp, env = ts.doJSON(t, http.MethodGet, "/u/me", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("/u/me after logout: status=%d want 401", resp.StatusCode)
	}
	if env.Error == nil || env.Error.Code != "unauthorized" {
		t.Fatalf("unexpected error envelope: %+v", env.Error)
	}
}

func TestOTPChallengeCannotBeReplayed(t *testing.T) {
	ts := newTestServer(t)

	resp, env := ts.doJSON(t, http.MethodPost, "/u/auth/send-otp", map[string]string{"email": "replay@example.com"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("send-otp failed: status=%d", resp.StatusCode)
	}
	var challenge struct {
		ChallengeID string `json:"challenge_id"`
	}
	if err := json.Unmarshal(env.Data, &challenge); err != nil {
		t.Fatalf("decode challenge: %v", err)
	}
	code := ts.mail.lastCode()
	verify := map[string]string{"email": "replay@example.com", "code": code, "challenge_id": challenge.ChallengeID}

	if resp, _ = ts.doJSON(t, http.MethodPost, "/u/auth/verify-otp", verify, nil); resp.StatusCode != http.StatusOK {
		t.Fatalf("first verify failed: status=%d", resp.StatusCode)
	}
	resp, env = ts.doJSON(t, http.MethodPost, "/u/auth/verify-otp", verify, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("replayed verify: status=%d want 401", resp.StatusCode)
	}
	if env.Error == nil || env.Error.Code != "invalid_otp" {
		t.Fatalf("unexpected error envelope: %+v", env.Error)
	}
}

func TestRefreshRotatesAndInvalidatesOldAccess(t *testing.T) {
	ts := newTestServer(t)
	ts.login(t, "rotate@example.com")
	oldAccess := ts.cookieValue(t, "evium_access")

	// Refresh needs no CSRF header; the HttpOnly refresh cookie carries it.
	resp, env := ts.doJSON(t, http.MethodPost, "/u/auth/refresh", nil, nil)
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("refresh failed: status=%d", resp.StatusCode)
	}
	newAccess := ts.cookieValue(t, "evium_access")
	if newAccess == "" || newAccess == oldAccess {
		t.Fatal("access cookie was not rotated")
	}

	// The jar now holds the fresh pair; the session keeps working.
	resp, _ = ts.doJSON(t, http.MethodGet, "/u/me", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/u/me after refresh: status=%d", resp.StatusCode)
	}

	// The pre-rotation access token is dead.
	req, _ := http.NewRequest(http.MethodGet, ts.baseURL+"/u/me", nil)
	req.Header.Set("Authorization", "Bearer "+oldAccess)
	noJar := &http.Client{}
	raw, err := noJar.Do(req)
	if err != nil {
		t.Fatalf("bearer request: %v", err)
	}
	defer func() { _ = raw.Body.Close() }()
	if raw.StatusCode != http.StatusUnauthorized {
		t.Fatalf("old access token: status=%d want 401", raw.StatusCode)
	}
}

func TestCSRFHeaderRequiredForLogout(t *testing.T) {
	ts := newTestServer(t)
	ts.login(t, "csrf@example.com")

	resp, env := ts.doJSON(t, http.MethodPost, "/u/auth/logout", nil, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("logout without csrf header: status=%d want 403", resp.StatusCode)
	}
	if env.Error == nil || env.Error.Code != "forbidden" {
		t.Fatalf("unexpected error envelope: %+v", env.Error)
	}
}
