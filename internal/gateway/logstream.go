package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/BlockXAI/Ginie-User-Management/internal/observability"
	"github.com/BlockXAI/Ginie-User-Management/internal/upstream"
)

const (
	ssePingInterval  = 15 * time.Second
	sseMaxReconnects = 5
	sseBackoffStep   = 300 * time.Millisecond
)

// Relay streams a job's upstream SSE log feed to the client, enriching log
// frames with flavor events and firing post-deployment verification when the
// stream ends.
type Relay struct {
	client   *upstream.Client
	verifier *Verifier
	sink     observability.Sink
	logger   *slog.Logger
}

func NewRelay(client *upstream.Client, verifier *Verifier, sink observability.Sink, logger *slog.Logger) *Relay {
	return &Relay{client: client, verifier: verifier, sink: sink, logger: logger}
}

// syncFrameWriter serializes frame writes between the relay loop and the
// ping ticker.
type syncFrameWriter struct {
	mu sync.Mutex
	fw *FrameWriter
}

func (w *syncFrameWriter) WriteEvent(event, data string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fw.WriteEvent(event, data)
}

func (w *syncFrameWriter) WriteFrame(f Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.fw.WriteFrame(f)
}

// ServeLogStream relays the upstream log stream for jobID into an SSE
// response. The caller has already authenticated the request and checked job
// ownership. Returns when the stream finishes or the client goes away.
func (g *Relay) ServeLogStream(w http.ResponseWriter, r *http.Request, jobID string) {
	ctx := r.Context()
	sw := &syncFrameWriter{fw: PrepareSSE(w)}
	g.sink.Increment(ctx, "sse_stream_open")

	// Heartbeat keeps intermediary proxies from timing the connection out.
	pingCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()
	go func() {
		ticker := time.NewTicker(ssePingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				return
			case <-ticker.C:
				_ = sw.WriteEvent("ping", fmt.Sprintf(`{"ts":%d}`, time.Now().UnixMilli()))
			}
		}
	}()

	sawEnd := false
	flavorCtx := FlavorContext{}
	emit := func(event string, data any) {
		_ = sw.WriteEvent(event, marshalData(data))
	}

	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return
		}
		body, err := g.client.OpenLogStream(ctx, jobID, passthroughQuery(r.URL.Query()))
		if err != nil {
			if se, ok := statusError(err); ok {
				observability.RecordStreamEvent(ctx, "sse", "upstream_status")
				_ = sw.WriteEvent("error", fmt.Sprintf(`{"message":"upstream_status_%d"}`, se.Code))
				return
			}
			if attempt < sseMaxReconnects {
				if !sleepCtx(ctx, time.Duration(attempt+1)*sseBackoffStep) {
					return
				}
				continue
			}
			observability.RecordStreamEvent(ctx, "sse", "upstream_exhausted")
			_ = sw.WriteEvent("error", `{"message":"upstream_disconnected"}`)
			return
		}

		streamErr := g.relayFrames(ctx, body, sw, &sawEnd, &flavorCtx)
		_ = body.Close()

		if ctx.Err() != nil {
			return
		}
		if sawEnd {
			// Terminal frame seen: this connection is the sole verification
			// trigger. sawEnd is connection-local, so a later reconnect of the
			// same job can never re-fire it.
			g.verifier.Run(ctx, jobID, emit)
			observability.RecordStreamEvent(ctx, "sse", "completed")
			return
		}
		if streamErr != nil {
			g.logger.WarnContext(ctx, "upstream stream interrupted",
				"job_id", jobID, "attempt", attempt, "error", streamErr)
		}
		if attempt >= sseMaxReconnects {
			observability.RecordStreamEvent(ctx, "sse", "upstream_exhausted")
			_ = sw.WriteEvent("error", `{"message":"upstream_disconnected"}`)
			return
		}
		if !sleepCtx(ctx, time.Duration(attempt+1)*sseBackoffStep) {
			return
		}
	}
}

// relayFrames pumps frames from one upstream connection to the client until
// EOF or a read error. Frames pass through unmodified; log frames may add
// flavor events immediately after themselves.
func (g *Relay) relayFrames(ctx context.Context, body io.Reader, sw *syncFrameWriter, sawEnd *bool, flavorCtx *FlavorContext) error {
	reader := NewFrameReader(body)
	for {
		frame, err := reader.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		if frame.Event == "end" {
			*sawEnd = true
		}
		if err := sw.WriteFrame(frame); err != nil {
			return err
		}
		if frame.Event == "log" {
			for _, ev := range g.deriveFrameFlavor(frame, flavorCtx) {
				if err := sw.WriteEvent("magic", marshalData(ev)); err != nil {
					return err
				}
			}
		}
	}
}

func (g *Relay) deriveFrameFlavor(frame Frame, flavorCtx *FlavorContext) []FlavorEvent {
	var payload struct {
		Msg string `json:"msg"`
	}
	if json.Unmarshal([]byte(frame.Data), &payload) != nil || payload.Msg == "" {
		return nil
	}
	events := DeriveFlavor(payload.Msg, *flavorCtx)
	for _, ev := range events {
		if ev.Meta != nil && ev.Meta.ContractName != "" {
			flavorCtx.ContractName = ev.Meta.ContractName
		}
	}
	return events
}

func statusError(err error) (*upstream.StatusError, bool) {
	var se *upstream.StatusError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

// passthroughQuery forwards client query parameters (afterIndex and friends)
// to the upstream stream untouched.
func passthroughQuery(q url.Values) url.Values {
	if len(q) == 0 {
		return nil
	}
	return q
}
