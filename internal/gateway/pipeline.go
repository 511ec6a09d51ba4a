package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BlockXAI/Ginie-User-Management/internal/domain"
	"github.com/BlockXAI/Ginie-User-Management/internal/observability"
	"github.com/BlockXAI/Ginie-User-Management/internal/upstream"

	"github.com/gorilla/websocket"
)

// JobAttacher records job ownership so later gateway reads can enforce it.
type JobAttacher interface {
	Attach(ctx context.Context, userID, jobID, name string) error
}

// Pipeline drives a full generation job over one WebSocket: the client sends
// a start message, the gateway submits the job, relays its log stream with
// flavor enrichment, and finishes with artifacts and verification.
type Pipeline struct {
	client   *upstream.Client
	verifier *Verifier
	jobs     JobAttacher
	sink     observability.Sink
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewPipeline(client *upstream.Client, verifier *Verifier, jobs JobAttacher, sink observability.Sink, logger *slog.Logger, checkOrigin func(*http.Request) bool) *Pipeline {
	return &Pipeline{
		client:   client,
		verifier: verifier,
		jobs:     jobs,
		sink:     sink,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
	}
}

type pipelineStartPayload struct {
	Prompt     string `json:"prompt"`
	Network    string `json:"network"`
	MaxIters   int    `json:"maxIters"`
	Filename   string `json:"filename"`
	StrictArgs *bool  `json:"strictArgs"`
}

func (p *pipelineStartPayload) validate() bool {
	if len(p.Prompt) < 4 || len(p.Prompt) > 20000 {
		return false
	}
	if len(p.Network) < 2 || len(p.Network) > 64 {
		return false
	}
	if p.MaxIters < 0 || p.MaxIters > 50 {
		return false
	}
	return len(p.Filename) <= 256
}

type pipelineMessage struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// ServePipeline upgrades the request and runs one pipeline job for the
// authenticated user.
func (p *Pipeline) ServePipeline(w http.ResponseWriter, r *http.Request, userID string) {
	conn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	p.sink.Increment(ctx, "pipeline_ws_open")

	conn.SetReadLimit(1 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(clientPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(clientPongWait))
	})
	go func() {
		ticker := time.NewTicker(clientPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			}
		}
	}()

	// All writes stay on this goroutine; the reader only feeds messages in.
	send := func(event string, data any) bool {
		if ctx.Err() != nil {
			return false
		}
		msg, err := json.Marshal(pipelineMessage{Event: event, Data: data})
		if err != nil {
			return false
		}
		return conn.WriteMessage(websocket.TextMessage, msg) == nil
	}

	inbound := make(chan []byte, 8)
	go func() {
		defer close(inbound)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				cancel()
				return
			}
			select {
			case inbound <- data:
			case <-ctx.Done():
				return
			}
		}
	}()

	send("ready", map[string]any{})

	start := p.awaitStart(ctx, inbound, send)
	if start == nil {
		return
	}
	if !domain.IsNetworkSupported(start.Network) {
		send("error", map[string]any{
			"code":    "unsupported_network",
			"message": "Network '" + start.Network + "' not supported. Supported: " + strings.Join(domain.EnabledNetworkIDs(), ", "),
		})
		return
	}

	submitted, err := p.client.SubmitJob(ctx, upstream.SubmitJobRequest{
		Prompt:     start.Prompt,
		Network:    start.Network,
		MaxIters:   start.MaxIters,
		Filename:   start.Filename,
		StrictArgs: start.StrictArgs,
	})
	if err != nil {
		p.logger.WarnContext(ctx, "pipeline submit failed", "error", err)
		if se, ok := statusError(err); ok {
			send("error", map[string]any{"code": "upstream_error", "status": se.Code})
		} else {
			send("error", map[string]any{"code": "upstream_unreachable"})
		}
		return
	}
	if submitted.JobID == "" {
		send("error", map[string]any{"code": "no_job_id"})
		return
	}
	jobID := submitted.JobID
	if err := p.jobs.Attach(ctx, userID, jobID, start.Filename); err != nil {
		p.logger.WarnContext(ctx, "job attach failed", "job_id", jobID, "error", err)
	}
	send("pipeline.created", map[string]any{"jobId": jobID})
	p.sink.Increment(ctx, "pipeline_created")

	if !p.relayJobStream(ctx, jobID, start.Network, send) {
		return
	}

	if artifacts, err := p.client.Artifacts(ctx, jobID); err == nil {
		send("artifacts", json.RawMessage(artifacts))
	}
	p.verifier.Run(ctx, jobID, func(event string, data any) { send(event, data) })
	send("complete", map[string]any{"jobId": jobID})
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(2*time.Second))
}

// awaitStart consumes inbound messages until a valid start arrives. Invalid
// messages get an error reply and the socket stays open.
func (p *Pipeline) awaitStart(ctx context.Context, inbound <-chan []byte, send func(string, any) bool) *pipelineStartPayload {
	for {
		select {
		case <-ctx.Done():
			return nil
		case raw, ok := <-inbound:
			if !ok {
				return nil
			}
			var msg struct {
				Type    string               `json:"type"`
				Payload pipelineStartPayload `json:"payload"`
			}
			if json.Unmarshal(raw, &msg) != nil || msg.Type != "start" {
				if !send("error", map[string]any{"code": "bad_request"}) {
					return nil
				}
				continue
			}
			if !msg.Payload.validate() {
				if !send("error", map[string]any{"code": "bad_request"}) {
					return nil
				}
				continue
			}
			return &msg.Payload
		}
	}
}

// relayJobStream pumps the job's SSE log feed into the socket until the
// stream ends. Returns false when the relay failed and the socket should not
// continue to the artifact phase.
func (p *Pipeline) relayJobStream(ctx context.Context, jobID, network string, send func(string, any) bool) bool {
	body, err := p.client.OpenLogStream(ctx, jobID, nil)
	if err != nil {
		if se, ok := statusError(err); ok {
			send("error", map[string]any{"code": "stream_failed", "status": se.Code})
		} else {
			send("error", map[string]any{"code": "stream_failed"})
		}
		return false
	}
	defer func() { _ = body.Close() }()

	flavorCtx := FlavorContext{Network: network}
	reader := NewFrameReader(body)
	for {
		frame, err := reader.Next()
		if err == io.EOF {
			return ctx.Err() == nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return false
			}
			send("error", map[string]any{"code": "stream_error"})
			return false
		}
		if ctx.Err() != nil {
			return false
		}
		p.forwardFrame(frame, &flavorCtx, send)
	}
}

func (p *Pipeline) forwardFrame(frame Frame, flavorCtx *FlavorContext, send func(string, any) bool) {
	if frame.Event == "" || frame.Comment != "" && frame.Data == "" {
		return
	}
	var obj any
	if json.Unmarshal([]byte(frame.Data), &obj) != nil {
		obj = frame.Data
	}
	send(frame.Event, obj)
	if frame.Event != "log" {
		return
	}
	var payload struct {
		Msg string `json:"msg"`
	}
	if json.Unmarshal([]byte(frame.Data), &payload) != nil || payload.Msg == "" {
		return
	}
	events := DeriveFlavor(payload.Msg, *flavorCtx)
	for _, ev := range events {
		if ev.Meta != nil && ev.Meta.ContractName != "" {
			flavorCtx.ContractName = ev.Meta.ContractName
		}
		send("magic", ev)
	}
}
