package router

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/BlockXAI/Ginie-User-Management/internal/config"
	"github.com/BlockXAI/Ginie-User-Management/internal/domain"
	"github.com/BlockXAI/Ginie-User-Management/internal/http/handler"
	"github.com/BlockXAI/Ginie-User-Management/internal/http/middleware"
	"github.com/BlockXAI/Ginie-User-Management/internal/http/response"
	"github.com/BlockXAI/Ginie-User-Management/internal/ratelimit"
	"github.com/BlockXAI/Ginie-User-Management/internal/service"
)

// ReadyCheck probes one dependency for the readiness endpoint.
type ReadyCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type Dependencies struct {
	Config *config.Config
	Logger *slog.Logger

	Auth         *service.AuthService
	Entitlements *service.EntitlementService

	AuthHandler   *handler.AuthHandler
	UserHandler   *handler.UserHandler
	JobHandler    *handler.JobHandler
	KeyHandler    *handler.KeyHandler
	AdminHandler  *handler.AdminHandler
	StreamHandler *handler.StreamHandler

	Limiter     ratelimit.Limiter
	ReadyChecks []ReadyCheck

	EnableOTelHTTP bool
}

func New(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.StructuredRequestLogger(dep.Logger))
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(dep.Config.CORSOrigins))
	r.Use(middleware.BodyLimit(1 << 20))

	window := dep.Config.RateLimitWindow
	otpSendLimit := middleware.NewRateLimit(dep.Limiter, "otp_send", dep.Config.OTPSendLimit, window, nil).Middleware()
	otpVerifyLimit := middleware.NewRateLimit(dep.Limiter, "otp_verify", dep.Config.OTPVerifyLimit, window, nil).Middleware()
	redeemLimit := middleware.NewRateLimit(dep.Limiter, "redeem", dep.Config.RedeemLimit, window,
		middleware.UserOrIPKey("redeem")).Middleware()
	apiLimit := middleware.NewRateLimit(dep.Limiter, "api", dep.Config.APIRateLimitPerMin, time.Minute,
		middleware.UserOrIPKey("api")).Middleware()

	sessionAuth := middleware.SessionAuth(dep.Auth)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{}
		ready := true
		for _, c := range dep.ReadyChecks {
			if err := c.Check(r.Context()); err != nil {
				checks[c.Name] = err.Error()
				ready = false
				continue
			}
			checks[c.Name] = "ok"
		}
		if !ready {
			response.Error(w, r, http.StatusServiceUnavailable, "db_unavailable", "dependencies are not ready", checks)
			return
		}
		response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": checks})
	})

	r.Route("/u", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(otpSendLimit).Post("/send-otp", dep.AuthHandler.SendOTP)
			r.With(otpVerifyLimit).Post("/verify-otp", dep.AuthHandler.VerifyOTP)
			// Refresh rides on the HttpOnly refresh cookie alone. The CSRF
			// cookie expires with the access token, so gating refresh on it
			// would lock out every client returning after idle expiry.
			r.Post("/refresh", dep.AuthHandler.Refresh)
			r.With(middleware.CSRFMiddleware).Post("/logout", dep.AuthHandler.Logout)
		})

		r.Group(func(r chi.Router) {
			r.Use(sessionAuth)
			r.Use(apiLimit)
			r.Get("/me", dep.UserHandler.Me)
			r.Get("/me/sessions", dep.UserHandler.Sessions)
			r.With(middleware.CSRFMiddleware).Post("/me/sessions/revoke-all", dep.UserHandler.RevokeAllSessions)

			r.Get("/jobs", dep.JobHandler.List)
			r.With(middleware.CSRFMiddleware).Post("/jobs/attach", dep.JobHandler.Attach)
			r.With(middleware.CSRFMiddleware).Delete("/jobs/{jobID}", dep.JobHandler.Delete)

			r.With(middleware.CSRFMiddleware, redeemLimit).Post("/keys/redeem", dep.KeyHandler.Redeem)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(sessionAuth)
			r.Use(middleware.RequireRole(domain.RoleAdmin))
			r.Get("/users", dep.AdminHandler.ListUsers)
			r.With(middleware.CSRFMiddleware).Post("/users/{userID}/role", dep.AdminHandler.SetRole)
			r.With(middleware.CSRFMiddleware).Post("/users/{userID}/entitlements", dep.AdminHandler.SetEntitlements)
			r.Get("/keys", dep.KeyHandler.List)
			r.With(middleware.CSRFMiddleware).Post("/keys/mint", dep.KeyHandler.Mint)
			r.With(middleware.CSRFMiddleware).Post("/keys/{keyID}/revoke", dep.KeyHandler.Revoke)
			r.Get("/metrics", dep.AdminHandler.Metrics)
			r.Get("/audit", dep.AdminHandler.AuditLog)
		})

		r.Route("/proxy", func(r chi.Router) {
			r.Use(sessionAuth)
			r.Get("/job/{jobID}", dep.StreamHandler.JobDetail)
			r.Get("/job/{jobID}/status", dep.StreamHandler.JobStatus)
			r.Get("/job/{jobID}/logs/stream", dep.StreamHandler.LogStream)
			r.Get("/job/{jobID}/events/stream", dep.StreamHandler.BuilderEvents)
			r.Get("/artifacts", dep.StreamHandler.Artifacts)
		})

		r.Route("/ws", func(r chi.Router) {
			r.Use(sessionAuth)
			r.Get("/builder/{jobID}", dep.StreamHandler.BuilderSocket)
			r.With(middleware.RequireFeature(dep.Entitlements, domain.FlagWalletDeployments)).
				Get("/blockchain-pipeline", dep.StreamHandler.PipelineSocket)
		})
	})

	// Machine-to-machine key minting for the payment processor; no session,
	// shared secret only.
	r.With(middleware.ServiceAuth(dep.Config.ServiceAuthSecret)).
		Post("/internal/keys", dep.KeyHandler.Mint)

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}
