// Package loadgen generates light synthetic traffic against a running
// instance so the observability pipeline has something to show.
package loadgen

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

type Config struct {
	BaseURL     string
	Profile     string
	Duration    time.Duration
	RPS         int
	Concurrency int
	Seed        int64
}

type Result struct {
	TotalRequests int64
	Failures      int64
	ByClass       map[string]int64
}

type endpoint struct {
	method string
	path   string
	body   string
}

// endpointsFor returns the request mix for a profile. Auth endpoints use a
// deliberately invalid address so no challenge is ever issued.
func endpointsFor(profile string) []endpoint {
	health := []endpoint{
		{http.MethodGet, "/healthz", ""},
		{http.MethodGet, "/readyz", ""},
	}
	auth := []endpoint{
		{http.MethodPost, "/u/auth/send-otp", `{"email":"not-an-address"}`},
		{http.MethodGet, "/u/me", ""},
		{http.MethodGet, "/u/jobs", ""},
	}
	switch profile {
	case "health":
		return health
	case "auth":
		return auth
	default:
		return append(health, auth...)
	}
}

func normalizeProfile(p string) string {
	p = strings.ToLower(strings.TrimSpace(p))
	if p == "" {
		return "mixed"
	}
	return p
}

func classifyStatusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500 && status < 600:
		return "5xx"
	default:
		return "other"
	}
}

// Run fires the configured mix until Duration elapses or ctx is cancelled.
// 4xx responses are expected (unauthenticated probes); only transport errors
// and 5xx count as failures.
func Run(ctx context.Context, cfg Config) (*Result, error) {
	if cfg.RPS <= 0 || cfg.Concurrency <= 0 {
		return nil, fmt.Errorf("rps and concurrency must be positive")
	}
	endpoints := endpointsFor(normalizeProfile(cfg.Profile))
	base := strings.TrimRight(cfg.BaseURL, "/")
	client := &http.Client{Timeout: 10 * time.Second}

	ctx, cancel := context.WithTimeout(ctx, cfg.Duration)
	defer cancel()

	var mu sync.Mutex
	res := &Result{ByClass: make(map[string]int64)}
	interval := time.Second / time.Duration(cfg.RPS)
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < cfg.Concurrency; i++ {
		rng := rand.New(rand.NewSource(cfg.Seed + int64(i)))
		g.Go(func() error {
			ticker := time.NewTicker(interval * time.Duration(cfg.Concurrency))
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
				}
				ep := endpoints[rng.Intn(len(endpoints))]
				status, err := fire(ctx, client, base, ep)
				mu.Lock()
				res.TotalRequests++
				if err != nil {
					res.Failures++
					res.ByClass["error"]++
				} else {
					class := classifyStatusClass(status)
					res.ByClass[class]++
					if class == "5xx" {
						res.Failures++
					}
				}
				mu.Unlock()
			}
		})
	}
	if err := g.Wait(); err != nil {
		return res, err
	}
	return res, nil
}

func fire(ctx context.Context, client *http.Client, base string, ep endpoint) (int, error) {
	var body *strings.Reader
	if ep.body != "" {
		body = strings.NewReader(ep.body)
	} else {
		body = strings.NewReader("")
	}
	req, err := http.NewRequestWithContext(ctx, ep.method, base+ep.path, body)
	if err != nil {
		return 0, err
	}
	if ep.body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return 0, nil
		}
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode, nil
}
