package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Profile  string
	HTTPAddr string

	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AuthTokenSecret   string
	PremiumKeySecret  string
	ServiceAuthSecret string

	CORSOrigins  []string
	CookieDomain string
	CookieSecure bool

	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	OTPTTL          time.Duration
	OTPGraceTTL     time.Duration
	OTPMaxAttempts  int

	SeedAdminEmails []string

	UpstreamBaseURL string
	UpstreamWSURL   string
	UpstreamTimeout time.Duration

	EmailProvider string
	EmailAPIURL   string
	EmailAPIKey   string
	EmailFrom     string
	EmailFromName string

	RateLimitWindow    time.Duration
	OTPSendLimit       int
	OTPVerifyLimit     int
	RedeemLimit        int
	APIRateLimitPerMin int

	OTELServiceName           string
	OTELEnvironment           string
	OTELExporterOTLPEndpoint  string
	OTELExporterOTLPInsecure  bool
	OTELMetricsEnabled        bool
	OTELTracesEnabled         bool
	OTELLogsEnabled           bool
	OTELMetricsExportInterval time.Duration
}

func Load() (*Config, error) {
	cfg, err := load()
	recordConfigValidationEvent(context.Background(), profileOf(cfg), outcomeOf(err), classifyConfigLoadError(err))
	return cfg, err
}

func load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PROFILE", "dev")
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("AUTH_TOKEN_SECRET", "")
	v.SetDefault("PREMIUM_KEY_SECRET", "")
	v.SetDefault("SERVICE_AUTH_SECRET", "")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("COOKIE_DOMAIN", "")
	v.SetDefault("COOKIE_SECURE", true)
	v.SetDefault("ACCESS_TOKEN_TTL", "90m")
	v.SetDefault("REFRESH_TOKEN_TTL", "720h")
	v.SetDefault("OTP_TTL", "10m")
	v.SetDefault("OTP_GRACE_TTL", "60s")
	v.SetDefault("OTP_MAX_ATTEMPTS", 5)
	v.SetDefault("SEED_ADMIN_EMAILS", "")
	v.SetDefault("UPSTREAM_BASE_URL", "http://localhost:9090")
	v.SetDefault("UPSTREAM_WS_URL", "")
	v.SetDefault("UPSTREAM_TIMEOUT", "30s")
	v.SetDefault("EMAIL_PROVIDER", "log")
	v.SetDefault("EMAIL_API_URL", "https://api.brevo.com/v3/smtp/email")
	v.SetDefault("EMAIL_API_KEY", "")
	v.SetDefault("EMAIL_FROM", "no-reply@ginie.xyz")
	v.SetDefault("EMAIL_FROM_NAME", "Ginie")
	v.SetDefault("RATE_LIMIT_WINDOW", "15m")
	v.SetDefault("OTP_SEND_LIMIT", 8)
	v.SetDefault("OTP_VERIFY_LIMIT", 30)
	v.SetDefault("REDEEM_LIMIT", 30)
	v.SetDefault("API_RATE_LIMIT_PER_MIN", 300)
	v.SetDefault("OTEL_SERVICE_NAME", "ginie-user-api")
	v.SetDefault("OTEL_ENVIRONMENT", "dev")
	v.SetDefault("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317")
	v.SetDefault("OTEL_EXPORTER_OTLP_INSECURE", true)
	v.SetDefault("OTEL_METRICS_ENABLED", false)
	v.SetDefault("OTEL_TRACES_ENABLED", false)
	v.SetDefault("OTEL_LOGS_ENABLED", false)
	v.SetDefault("OTEL_METRICS_EXPORT_INTERVAL", "30s")

	cfg := &Config{
		Profile:            strings.ToLower(strings.TrimSpace(v.GetString("PROFILE"))),
		HTTPAddr:           v.GetString("HTTP_ADDR"),
		DatabaseURL:        v.GetString("DATABASE_URL"),
		RedisAddr:          v.GetString("REDIS_ADDR"),
		RedisPassword:      v.GetString("REDIS_PASSWORD"),
		RedisDB:            v.GetInt("REDIS_DB"),
		AuthTokenSecret:    v.GetString("AUTH_TOKEN_SECRET"),
		PremiumKeySecret:   v.GetString("PREMIUM_KEY_SECRET"),
		ServiceAuthSecret:  v.GetString("SERVICE_AUTH_SECRET"),
		CORSOrigins:        splitList(v.GetString("CORS_ORIGINS")),
		CookieDomain:       v.GetString("COOKIE_DOMAIN"),
		CookieSecure:       v.GetBool("COOKIE_SECURE"),
		OTPMaxAttempts:     v.GetInt("OTP_MAX_ATTEMPTS"),
		SeedAdminEmails:    splitList(strings.ToLower(v.GetString("SEED_ADMIN_EMAILS"))),
		UpstreamBaseURL:    strings.TrimRight(v.GetString("UPSTREAM_BASE_URL"), "/"),
		UpstreamWSURL:      strings.TrimRight(v.GetString("UPSTREAM_WS_URL"), "/"),
		EmailProvider:      v.GetString("EMAIL_PROVIDER"),
		EmailAPIURL:        v.GetString("EMAIL_API_URL"),
		EmailAPIKey:        v.GetString("EMAIL_API_KEY"),
		EmailFrom:          v.GetString("EMAIL_FROM"),
		EmailFromName:      v.GetString("EMAIL_FROM_NAME"),
		OTPSendLimit:       v.GetInt("OTP_SEND_LIMIT"),
		OTPVerifyLimit:     v.GetInt("OTP_VERIFY_LIMIT"),
		RedeemLimit:        v.GetInt("REDEEM_LIMIT"),
		APIRateLimitPerMin: v.GetInt("API_RATE_LIMIT_PER_MIN"),

		OTELServiceName:          v.GetString("OTEL_SERVICE_NAME"),
		OTELEnvironment:          v.GetString("OTEL_ENVIRONMENT"),
		OTELExporterOTLPEndpoint: v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),
		OTELExporterOTLPInsecure: v.GetBool("OTEL_EXPORTER_OTLP_INSECURE"),
		OTELMetricsEnabled:       v.GetBool("OTEL_METRICS_ENABLED"),
		OTELTracesEnabled:        v.GetBool("OTEL_TRACES_ENABLED"),
		OTELLogsEnabled:          v.GetBool("OTEL_LOGS_ENABLED"),
	}

	durations := []struct {
		name string
		dst  *time.Duration
	}{
		{"ACCESS_TOKEN_TTL", &cfg.AccessTokenTTL},
		{"REFRESH_TOKEN_TTL", &cfg.RefreshTokenTTL},
		{"OTP_TTL", &cfg.OTPTTL},
		{"OTP_GRACE_TTL", &cfg.OTPGraceTTL},
		{"UPSTREAM_TIMEOUT", &cfg.UpstreamTimeout},
		{"RATE_LIMIT_WINDOW", &cfg.RateLimitWindow},
		{"OTEL_METRICS_EXPORT_INTERVAL", &cfg.OTELMetricsExportInterval},
	}
	for _, d := range durations {
		parsed, err := time.ParseDuration(v.GetString(d.name))
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", d.name, err)
		}
		*d.dst = parsed
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Profile != "dev" && c.Profile != "prod" {
		return fmt.Errorf("PROFILE must be dev or prod, got %q", c.Profile)
	}
	if c.Profile == "prod" {
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required")
		}
		if c.AuthTokenSecret == "" {
			return fmt.Errorf("AUTH_TOKEN_SECRET is required")
		}
		if c.PremiumKeySecret == "" {
			return fmt.Errorf("PREMIUM_KEY_SECRET is required")
		}
		if c.ServiceAuthSecret == "" {
			return fmt.Errorf("SERVICE_AUTH_SECRET is required")
		}
		if c.EmailProvider == "http" && c.EmailAPIKey == "" {
			return fmt.Errorf("EMAIL_API_KEY is required for the http email provider")
		}
	}
	if c.AuthTokenSecret == "" {
		c.AuthTokenSecret = "dev-auth-token-secret"
	}
	if c.PremiumKeySecret == "" {
		c.PremiumKeySecret = "dev-premium-key-secret"
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		return fmt.Errorf("token TTLs must be positive")
	}
	if c.RefreshTokenTTL < c.AccessTokenTTL {
		return fmt.Errorf("REFRESH_TOKEN_TTL must not be shorter than ACCESS_TOKEN_TTL")
	}
	if c.OTPMaxAttempts < 1 {
		return fmt.Errorf("OTP_MAX_ATTEMPTS must be at least 1")
	}
	return nil
}

func (c *Config) IsDev() bool { return c.Profile == "dev" }

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func profileOf(c *Config) string {
	if c == nil {
		return "unknown"
	}
	return c.Profile
}

func outcomeOf(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
