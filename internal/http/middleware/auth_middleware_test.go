package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BlockXAI/Ginie-User-Management/internal/domain"
	"github.com/BlockXAI/Ginie-User-Management/internal/service"
)

type fakeValidator struct {
	tokens map[string]*domain.User
	err    error
}

func (f *fakeValidator) Validate(_ context.Context, token string) (*domain.User, *domain.Session, error) {
	if f.err != nil {
		return nil, nil, f.err
	}
	u, ok := f.tokens[token]
	if !ok {
		return nil, nil, service.ErrUnauthenticated
	}
	return u, &domain.Session{ID: "sess-1", UserID: u.ID}, nil
}

func sessionEcho(t *testing.T) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFromContext(r.Context())
		if !ok {
			t.Fatal("principal missing after SessionAuth")
		}
		fmt.Fprint(w, p.User.ID)
	})
}

func TestSessionAuthAcceptsCookie(t *testing.T) {
	v := &fakeValidator{tokens: map[string]*domain.User{"tok-1": {ID: "u1", Role: domain.RoleNormal}}}
	h := SessionAuth(v)(sessionEcho(t))

	req := httptest.NewRequest(http.MethodGet, "/u/me", nil)
	req.AddCookie(&http.Cookie{Name: CookieAccess, Value: "tok-1"})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK || rr.Body.String() != "u1" {
		t.Fatalf("status=%d body=%q", rr.Code, rr.Body.String())
	}
}

func TestSessionAuthAcceptsBearerFallback(t *testing.T) {
	v := &fakeValidator{tokens: map[string]*domain.User{"tok-1": {ID: "u1"}}}
	h := SessionAuth(v)(sessionEcho(t))

	req := httptest.NewRequest(http.MethodGet, "/u/me", nil)
	req.Header.Set("Authorization", "Bearer tok-1")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
}

func TestSessionAuthRejectsMissingAndUnknownTokens(t *testing.T) {
	v := &fakeValidator{tokens: map[string]*domain.User{}}
	h := SessionAuth(v)(sessionEcho(t))

	for name, build := range map[string]func() *http.Request{
		"no credentials": func() *http.Request {
			return httptest.NewRequest(http.MethodGet, "/u/me", nil)
		},
		"unknown token": func() *http.Request {
			r := httptest.NewRequest(http.MethodGet, "/u/me", nil)
			r.AddCookie(&http.Cookie{Name: CookieAccess, Value: "nope"})
			return r
		},
	} {
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, build())
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s: status=%d want 401", name, rr.Code)
		}
	}
}

func TestSessionAuthMapsStoreOutageTo503(t *testing.T) {
	v := &fakeValidator{err: errors.Join(service.ErrStoreUnavailable, errors.New("dial tcp refused"))}
	h := SessionAuth(v)(sessionEcho(t))

	req := httptest.NewRequest(http.MethodGet, "/u/me", nil)
	req.AddCookie(&http.Cookie{Name: CookieAccess, Value: "tok-1"})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d want 503", rr.Code)
	}
}
