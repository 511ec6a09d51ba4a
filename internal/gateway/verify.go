package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/BlockXAI/Ginie-User-Management/internal/observability"
	"github.com/BlockXAI/Ginie-User-Management/internal/upstream"
)

// emitFunc delivers one named event to the client, transport-agnostic: the
// SSE relay writes frames, the pipeline socket writes JSON messages.
type emitFunc func(event string, data any)

// Verifier runs the one-shot post-deployment verification triggered by a
// terminal stream frame. Callers guard the exactly-once property (per
// connection); the Verifier itself is stateless.
type Verifier struct {
	client       *upstream.Client
	sink         observability.Sink
	logger       *slog.Logger
	settleDelay  time.Duration
	pollAttempts int
	pollInterval time.Duration
}

func NewVerifier(client *upstream.Client, sink observability.Sink, logger *slog.Logger) *Verifier {
	return &Verifier{
		client:       client,
		sink:         sink,
		logger:       logger,
		settleDelay:  3 * time.Second,
		pollAttempts: 3,
		pollInterval: 2 * time.Second,
	}
}

type logEntry struct {
	Msg   string `json:"msg"`
	Level string `json:"level"`
	I     int64  `json:"i"`
}

func logLine(msg, level string) logEntry {
	return logEntry{Msg: msg, Level: level, I: time.Now().UnixMilli()}
}

// Run checks whether the job deployed and, if so, verifies the contract,
// narrating progress through emit. Errors are reported to the client as
// events, never returned; a cancelled ctx aborts between steps.
func (v *Verifier) Run(ctx context.Context, jobID string, emit emitFunc) {
	// Give the upstream a moment to finalize its deploy state.
	if !sleepCtx(ctx, v.settleDelay) {
		return
	}

	detail := v.pollDeployment(ctx, jobID)
	if detail == nil || !detail.Deployed() || detail.Network == "" {
		v.logger.InfoContext(ctx, "verification skipped", "job_id", jobID, "reason", "not_deployed_or_no_network")
		emit("log", logLine("⚠️ Skipping verification: contract deploy status not confirmed", "warn"))
		return
	}

	emit("verification.started", map[string]any{
		"jobId":   jobID,
		"network": detail.Network,
		"address": detail.Address,
	})
	emit("log", logLine("Stage: verify", "info"))
	emit("log", logLine(fmt.Sprintf("Starting auto-verification on %s...", detail.Network), "info"))

	res, err := v.client.Verify(ctx, upstream.VerifyRequest{
		JobID:              jobID,
		Network:            detail.Network,
		FullyQualifiedName: detail.FQName,
	})
	if err != nil {
		res = &upstream.VerifyResult{OK: false, Err: err.Error()}
	}

	complete := map[string]any{"jobId": jobID, "ok": res.OK, "verified": res.Verified}
	if res.Err != "" {
		complete["error"] = res.Err
	}
	emit("verification.complete", complete)

	if res.OK {
		v.sink.Increment(ctx, "verification_ok")
		v.logger.InfoContext(ctx, "verification complete", "job_id", jobID, "network", detail.Network)
		emit("log", logLine(fmt.Sprintf("✅ Contract verified successfully on %s", detail.Network), "info"))
	} else {
		v.sink.Increment(ctx, "verification_failed")
		v.logger.WarnContext(ctx, "verification failed", "job_id", jobID, "error", res.Err)
		msg := res.Err
		if msg == "" {
			msg = "unknown error"
		}
		emit("log", logLine(fmt.Sprintf("⚠️ Contract verification failed: %s", msg), "warn"))
	}
}

// pollDeployment fetches the job detail a bounded number of times, waiting
// for the deploy result to land.
func (v *Verifier) pollDeployment(ctx context.Context, jobID string) *upstream.JobDetail {
	var last *upstream.JobDetail
	for attempt := 0; attempt < v.pollAttempts; attempt++ {
		if attempt > 0 && !sleepCtx(ctx, v.pollInterval) {
			return last
		}
		detail, err := v.client.JobDetail(ctx, jobID)
		if err != nil {
			v.logger.WarnContext(ctx, "deploy status check failed", "job_id", jobID, "attempt", attempt, "error", err)
			continue
		}
		last = detail
		if detail.Deployed() {
			return detail
		}
	}
	return last
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func marshalData(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.RawMessage:
		return string(t)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}
