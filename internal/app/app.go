// Package app assembles the service: configuration, storage, the domain
// services, the gateway and the HTTP server, plus ordered shutdown.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/BlockXAI/Ginie-User-Management/internal/config"
	"github.com/BlockXAI/Ginie-User-Management/internal/domain"
	"github.com/BlockXAI/Ginie-User-Management/internal/email"
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

const shutdownTimeout = 15 * time.Second

type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Server        *http.Server
	Observability *observability.Runtime

	db  *gorm.DB
	rdb *redis.Client
}

// Build wires every component from a loaded config. Nothing starts serving
// until Run.
func Build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	runtime, err := observability.InitRuntime(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("init observability: %w", err)
	}

	db, err := openDatabase(cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.AutoMigrate(
		&domain.User{}, &domain.Session{}, &domain.Entitlement{},
		&domain.PremiumKey{}, &domain.UserJob{}, &domain.AuditLog{},
	); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.WarnContext(ctx, "redis unreachable at startup, continuing", "addr", cfg.RedisAddr, "error", err)
	}

	snapshots := observability.NewRedisSink(rdb)
	events := observability.MultiSink{observability.OTelSink{}, snapshots}

	users := repository.NewUserRepository(db)
	sessions := repository.NewSessionRepository(db)
	keys := repository.NewPremiumKeyRepository(db)
	entitlements := repository.NewEntitlementRepository(db)
	jobs := repository.NewJobRepository(db)
	audit := repository.NewAuditRepository(db)

	tokenCodec := security.NewCodec(cfg.AuthTokenSecret)
	keyCodec := security.NewCodec(cfg.PremiumKeySecret)

	sender := email.New(cfg, logger)
	otp := service.NewOTPService(rdb, tokenCodec, sender, events, logger, cfg.OTPTTL, cfg.OTPGraceTTL, cfg.OTPMaxAttempts)
	auth := service.NewAuthService(users, sessions, otp, tokenCodec, events, logger, cfg.AccessTokenTTL, cfg.SeedAdminEmails)
	auth.UseMissCache(service.NewRedisMissCache(rdb))
	profileCache := service.NewAccessProfileCache(rdb, 5*time.Minute)
	ents := service.NewEntitlementService(users, keys, entitlements, keyCodec, profileCache, events, logger)

	wsURL := cfg.UpstreamWSURL
	if wsURL == "" {
		wsURL = cfg.UpstreamBaseURL
	}
	client := upstream.NewClient(cfg.UpstreamBaseURL, wsURL, cfg.UpstreamTimeout, logger)
	verifier := gateway.NewVerifier(client, events, logger)
	relay := gateway.NewRelay(client, verifier, events, logger)
	checkOrigin := originChecker(cfg.CORSOrigins)
	bridge := gateway.NewBridge(client, events, logger, checkOrigin)
	pipeline := gateway.NewPipeline(client, verifier, attachAdapter{jobs}, events, logger, checkOrigin)

	h := router.New(router.Dependencies{
		Config:        cfg,
		Logger:        logger,
		Auth:          auth,
		Entitlements:  ents,
		AuthHandler:   handler.NewAuthHandler(auth, cfg),
		UserHandler:   handler.NewUserHandler(auth, ents),
		JobHandler:    handler.NewJobHandler(jobs),
		KeyHandler:    handler.NewKeyHandler(ents),
		AdminHandler:  handler.NewAdminHandler(users, ents, audit, snapshots),
		StreamHandler: handler.NewStreamHandler(relay, bridge, pipeline, client, jobs),
		Limiter:       ratelimit.NewRedisLimiter(rdb),
		ReadyChecks: []router.ReadyCheck{
			{Name: "database", Check: func(ctx context.Context) error {
				sqlDB, err := db.DB()
				if err != nil {
					return err
				}
				return sqlDB.PingContext(ctx)
			}},
			{Name: "redis", Check: func(ctx context.Context) error {
				return rdb.Ping(ctx).Err()
			}},
		},
		EnableOTelHTTP: cfg.OTELTracesEnabled || cfg.OTELMetricsEnabled,
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		// No global write timeout: SSE and WebSocket responses are
		// long-lived by design.
		IdleTimeout: 2 * time.Minute,
	}

	return &App{
		Config:        cfg,
		Logger:        logger,
		Server:        server,
		Observability: runtime,
		db:            db,
		rdb:           rdb,
	}, nil
}

// Run serves until the context is cancelled or a termination signal arrives,
// then drains in order: HTTP first, then telemetry, then the stores.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Logger.Info("http server listening", "addr", a.Server.Addr, "profile", a.Config.Profile)
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return a.Server.Shutdown(drainCtx)
	})

	err := g.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if obsErr := a.Observability.Shutdown(closeCtx); obsErr != nil {
		a.Logger.Warn("observability shutdown", "error", obsErr)
	}
	if rdbErr := a.rdb.Close(); rdbErr != nil {
		a.Logger.Warn("redis close", "error", rdbErr)
	}
	if sqlDB, dbErr := a.db.DB(); dbErr == nil {
		_ = sqlDB.Close()
	}
	return err
}

// openDatabase picks the driver from the URL shape: postgres in deployment,
// a local sqlite file otherwise.
func openDatabase(cfg *config.Config) (*gorm.DB, error) {
	url := strings.TrimSpace(cfg.DatabaseURL)
	if url == "" {
		url = "ginie.db"
	}
	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		return gorm.Open(postgres.Open(url), &gorm.Config{TranslateError: true})
	}
	return gorm.Open(sqlite.Open(url), &gorm.Config{TranslateError: true})
}

// originChecker admits browsers from the configured origins plus requests
// without an Origin header (CLI clients, server-to-server).
func originChecker(origins []string) func(*http.Request) bool {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := allowed[origin]
		return ok
	}
}

type attachAdapter struct{ jobs repository.JobRepository }

func (a attachAdapter) Attach(ctx context.Context, userID, jobID, name string) error {
	_, err := a.jobs.Attach(ctx, userID, jobID, name)
	return err
}
