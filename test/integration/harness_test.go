package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/BlockXAI/Ginie-User-Management/internal/config"
	"github.com/BlockXAI/Ginie-User-Management/internal/domain"
	"github.com/BlockXAI/Ginie-User-Management/internal/gateway"
	"github.com/BlockXAI/Ginie-User-Management/internal/http/handler"
	"github.com/BlockXAI/Ginie-User-Management/internal/http/router"
	"github.com/BlockXAI/Ginie-User-Management/internal/observability"
	"github.com/BlockXAI/Ginie-User-Management/internal/ratelimit"
	"github.com/BlockXAI/Ginie-User-Management/internal/repository"
	"github.com/BlockXAI/Ginie-User-Management/internal/security"
	"github.com/BlockXAI/Ginie-User-Management/internal/service"
	"github.com/BlockXAI/Ginie-User-Management/internal/upstream"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type mailbox struct {
	mu   sync.Mutex
	code string
}

func (m *mailbox) SendOTP(_ context.Context, _, code string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.code = code
	return nil
}

func (m *mailbox) lastCode() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.code
}

type attachAdapter struct{ jobs repository.JobRepository }

func (a attachAdapter) Attach(ctx context.Context, userID, jobID, name string) error {
	_, err := a.jobs.Attach(ctx, userID, jobID, name)
	return err
}

type serverOption func(*config.Config)

func withSeedAdmins(emails ...string) serverOption {
	return func(cfg *config.Config) { cfg.SeedAdminEmails = emails }
}

func withOTPSendLimit(n int) serverOption {
	return func(cfg *config.Config) { cfg.OTPSendLimit = n }
}

type testServer struct {
	baseURL string
	client  *http.Client
	mail    *mailbox
}

// newTestServer boots the whole stack on in-memory sqlite and miniredis
// behind a real listener, with a cookie-jar client pointed at it.
func newTestServer(t *testing.T, opts ...serverOption) *testServer {
	t.Helper()
	cfg := &config.Config{
		Profile:            "dev",
		CORSOrigins:        []string{"http://localhost:3000"},
		AccessTokenTTL:     90 * time.Minute,
		RefreshTokenTTL:    720 * time.Hour,
		RateLimitWindow:    15 * time.Minute,
		OTPSendLimit:       100,
		OTPVerifyLimit:     100,
		RedeemLimit:        100,
		APIRateLimitPerMin: 1000,
		ServiceAuthSecret:  "integration-secret",
	}
	for _, opt := range opts {
		opt(cfg)
	}

	dsn := "file:" + t.Name() + "?mode=memory&cache=shared&_busy_timeout=5000"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(
		&domain.User{}, &domain.Session{}, &domain.Entitlement{},
		&domain.PremiumKey{}, &domain.UserJob{}, &domain.AuditLog{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	logger := slog.New(slog.DiscardHandler)
	sink := observability.NewMemorySink()
	tokenCodec := security.NewCodec("integration-token-secret")
	keyCodec := security.NewCodec("integration-key-secret")

	users := repository.NewUserRepository(db)
	sessions := repository.NewSessionRepository(db)
	keys := repository.NewPremiumKeyRepository(db)
	entRepo := repository.NewEntitlementRepository(db)
	jobs := repository.NewJobRepository(db)
	audit := repository.NewAuditRepository(db)

	mail := &mailbox{}
	otp := service.NewOTPService(rdb, tokenCodec, mail, sink, logger, 10*time.Minute, time.Minute, 5)
	auth := service.NewAuthService(users, sessions, otp, tokenCodec, sink, logger, cfg.AccessTokenTTL, cfg.SeedAdminEmails)
	cache := service.NewAccessProfileCache(rdb, 5*time.Minute)
	ents := service.NewEntitlementService(users, keys, entRepo, keyCodec, cache, sink, logger)

	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(upstreamSrv.Close)
	client := upstream.NewClient(upstreamSrv.URL, upstreamSrv.URL, 2*time.Second, logger)
	verifier := gateway.NewVerifier(client, sink, logger)
	relay := gateway.NewRelay(client, verifier, sink, logger)
	allowAll := func(*http.Request) bool { return true }
	bridge := gateway.NewBridge(client, sink, logger, allowAll)
	pipeline := gateway.NewPipeline(client, verifier, attachAdapter{jobs}, sink, logger, allowAll)

	h := router.New(router.Dependencies{
		Config:        cfg,
		Logger:        logger,
		Auth:          auth,
		Entitlements:  ents,
		AuthHandler:   handler.NewAuthHandler(auth, cfg),
		UserHandler:   handler.NewUserHandler(auth, ents),
		JobHandler:    handler.NewJobHandler(jobs),
		KeyHandler:    handler.NewKeyHandler(ents),
		AdminHandler:  handler.NewAdminHandler(users, ents, audit, sink),
		StreamHandler: handler.NewStreamHandler(relay, bridge, pipeline, client, jobs),
		Limiter:       ratelimit.NewRedisLimiter(rdb),
	})

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	return &testServer{
		baseURL: srv.URL,
		client:  &http.Client{Jar: jar, Timeout: 10 * time.Second},
		mail:    mail,
	}
}

func (ts *testServer) doJSON(t *testing.T, method, path string, body any, headers map[string]string) (*http.Response, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequest(method, ts.baseURL+path, reader)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := ts.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	var env envelope
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &env); err != nil {
			t.Fatalf("decode envelope from %s %s: %v (%s)", method, path, err, raw)
		}
	}
	return resp, env
}

func (ts *testServer) cookieValue(t *testing.T, name string) string {
	t.Helper()
	u, err := url.Parse(ts.baseURL)
	if err != nil {
		t.Fatalf("parse base url: %v", err)
	}
	for _, c := range ts.client.Jar.Cookies(u) {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

// login walks the two-step OTP flow and returns the CSRF token for
// subsequent mutations.
func (ts *testServer) login(t *testing.T, email string) string {
	t.Helper()
	resp, env := ts.doJSON(t, http.MethodPost, "/u/auth/send-otp", map[string]string{"email": email}, nil)
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("send-otp failed: status=%d", resp.StatusCode)
	}
	var challenge struct {
		ChallengeID string `json:"challenge_id"`
	}
	if err := json.Unmarshal(env.Data, &challenge); err != nil {
		t.Fatalf("decode challenge: %v", err)
	}

	resp, env = ts.doJSON(t, http.MethodPost, "/u/auth/verify-otp", map[string]string{
		"email":        email,
		"code":         ts.mail.lastCode(),
		"challenge_id": challenge.ChallengeID,
	}, nil)
	if resp.StatusCode != http.StatusOK || !env.Success {
		t.Fatalf("verify-otp failed: status=%d", resp.StatusCode)
	}
	csrf := ts.cookieValue(t, "evium_csrf")
	if csrf == "" {
		t.Fatal("csrf cookie missing after login")
	}
	return csrf
}
