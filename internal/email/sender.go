package email

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BlockXAI/Ginie-User-Management/internal/config"
)

// Sender delivers one-time codes out of band. The OTP manager only needs
// this single operation.
type Sender interface {
	SendOTP(ctx context.Context, to, code string, ttl time.Duration) error
}

func New(cfg *config.Config, logger *slog.Logger) Sender {
	if cfg.EmailProvider == "http" {
		return &HTTPSender{
			apiURL:   cfg.EmailAPIURL,
			apiKey:   cfg.EmailAPIKey,
			from:     cfg.EmailFrom,
			fromName: cfg.EmailFromName,
			client:   &http.Client{Timeout: 10 * time.Second},
			logger:   logger,
		}
	}
	return &LogSender{logger: logger, dev: cfg.IsDev()}
}

// LogSender logs the delivery instead of sending. The code value itself is
// only emitted at debug level in the dev profile.
type LogSender struct {
	logger *slog.Logger
	dev    bool
}

func (s *LogSender) SendOTP(ctx context.Context, to, code string, ttl time.Duration) error {
	s.logger.InfoContext(ctx, "otp email delivery (log provider)", "to", to, "ttl", ttl.String())
	if s.dev {
		s.logger.DebugContext(ctx, "otp code for local development", "to", to, "code", code)
	}
	return nil
}

// HTTPSender posts through a transactional mail API (Brevo-compatible
// payload shape).
type HTTPSender struct {
	apiURL   string
	apiKey   string
	from     string
	fromName string
	client   *http.Client
	logger   *slog.Logger
}

type httpEmailPayload struct {
	Sender      httpEmailAddress   `json:"sender"`
	To          []httpEmailAddress `json:"to"`
	Subject     string             `json:"subject"`
	TextContent string             `json:"textContent"`
}

type httpEmailAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

func (s *HTTPSender) SendOTP(ctx context.Context, to, code string, ttl time.Duration) error {
	minutes := int(ttl.Minutes())
	payload := httpEmailPayload{
		Sender:  httpEmailAddress{Email: s.from, Name: s.fromName},
		To:      []httpEmailAddress{{Email: to}},
		Subject: fmt.Sprintf("%s is your verification code", code),
		TextContent: fmt.Sprintf(
			"Use the code below to complete your sign-in.\n\nYour verification code: %s\n\nThis code expires in %d minutes and can only be used once.\nNever share this code with anyone.",
			code, minutes,
		),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal email payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build email request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("email provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	s.logger.InfoContext(ctx, "otp email delivered", "to", to)
	return nil
}
