// Package smokecheck probes a running instance end to end: health endpoints,
// security headers, rate limit bookkeeping and a burst of synthetic traffic.
package smokecheck

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/BlockXAI/Ginie-User-Management/internal/tools/common"
	"github.com/BlockXAI/Ginie-User-Management/internal/tools/loadgen"
	"github.com/BlockXAI/Ginie-User-Management/internal/tools/ui"
)

type options struct {
	baseURL string
	ci      bool
	rps     int
	window  time.Duration
}

func NewRootCommand() *cobra.Command {
	opts := &options{}
	cmd := &cobra.Command{Use: "smokecheck", Short: "Verify a running instance answers correctly"}
	cmd.PersistentFlags().StringVar(&opts.baseURL, "base-url", "http://localhost:8080", "API base URL")
	cmd.PersistentFlags().BoolVar(&opts.ci, "ci", false, "non-interactive machine-readable output")
	cmd.PersistentFlags().IntVar(&opts.rps, "rps", 20, "traffic rate for the load phase")
	cmd.PersistentFlags().DurationVar(&opts.window, "window", 6*time.Second, "duration of the load phase")
	cmd.AddCommand(newRunCommand(opts))
	return cmd
}

func newRunCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run every check against the target instance",
		RunE: func(cmd *cobra.Command, args []string) error {
			details, err := run(opts, "smokecheck run", func(ctx context.Context) ([]string, error) {
				return allChecks(ctx, opts)
			})
			if opts.ci {
				common.PrintCIResult(err == nil, "smokecheck run", details, err)
			}
			if err != nil {
				os.Exit(4)
			}
			return nil
		},
	}
}

func run(opts *options, title string, fn func(context.Context) ([]string, error)) ([]string, error) {
	if opts.ci {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
		defer cancel()
		return fn(ctx)
	}
	return ui.Run(title, fn)
}

func allChecks(ctx context.Context, opts *options) ([]string, error) {
	var details []string

	if err := checkHealth(ctx, opts.baseURL); err != nil {
		return details, err
	}
	details = append(details, "health endpoints: ok")

	if err := checkSecurityHeaders(ctx, opts.baseURL); err != nil {
		return details, err
	}
	details = append(details, "security headers: ok")

	if err := checkUnauthedRejected(ctx, opts.baseURL); err != nil {
		return details, err
	}
	details = append(details, "session gate: ok")

	if err := checkRateLimitHeaders(ctx, opts.baseURL); err != nil {
		return details, err
	}
	details = append(details, "rate limit headers: ok")

	res, err := loadgen.Run(ctx, loadgen.Config{
		BaseURL:     opts.baseURL,
		Profile:     "mixed",
		Duration:    opts.window,
		RPS:         opts.rps,
		Concurrency: 4,
		Seed:        42,
	})
	if err != nil {
		return details, err
	}
	details = append(details, fmt.Sprintf("traffic generated total=%d failures=%d", res.TotalRequests, res.Failures))
	if res.Failures > 0 {
		return details, fmt.Errorf("%d requests failed during the load phase", res.Failures)
	}
	return details, nil
}

func checkHealth(ctx context.Context, baseURL string) error {
	for _, path := range []string{"/healthz", "/readyz"} {
		status, _, err := get(ctx, baseURL+path)
		if err != nil {
			return err
		}
		if status != http.StatusOK {
			return fmt.Errorf("%s returned %d", path, status)
		}
	}
	return nil
}

func checkSecurityHeaders(ctx context.Context, baseURL string) error {
	_, headers, err := get(ctx, baseURL+"/healthz")
	if err != nil {
		return err
	}
	want := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
	}
	for name, value := range want {
		if got := headers.Get(name); got != value {
			return fmt.Errorf("header %s = %q, want %q", name, got, value)
		}
	}
	if headers.Get("X-Request-Id") == "" {
		return fmt.Errorf("X-Request-Id header missing")
	}
	return nil
}

func checkUnauthedRejected(ctx context.Context, baseURL string) error {
	status, _, err := get(ctx, baseURL+"/u/me")
	if err != nil {
		return err
	}
	if status != http.StatusUnauthorized {
		return fmt.Errorf("/u/me without session returned %d, want 401", status)
	}
	return nil
}

// checkRateLimitHeaders posts an invalid address so no challenge or email is
// produced, then verifies the limiter annotated the response.
func checkRateLimitHeaders(ctx context.Context, baseURL string) error {
	body := strings.NewReader(`{"email":"not-an-address"}`)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/u/auth/send-otp", body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := (&http.Client{Timeout: 10 * time.Second}).Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusBadRequest {
		return fmt.Errorf("send-otp with bad address returned %d, want 400", resp.StatusCode)
	}
	if resp.Header.Get("X-RateLimit-Limit") == "" {
		return fmt.Errorf("X-RateLimit-Limit header missing on limited route")
	}
	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var envelope struct {
		Success bool `json:"success"`
		Error   struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return fmt.Errorf("response is not the standard envelope: %w", err)
	}
	if envelope.Success || envelope.Error.Code != "bad_request" {
		return fmt.Errorf("unexpected envelope: %s", strings.TrimSpace(string(payload)))
	}
	return nil
}

func get(ctx context.Context, url string) (int, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, err
	}
	resp, err := (&http.Client{Timeout: 10 * time.Second}).Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	return resp.StatusCode, resp.Header, nil
}
