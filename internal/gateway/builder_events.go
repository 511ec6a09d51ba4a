package gateway

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/BlockXAI/Ginie-User-Management/internal/observability"

	"github.com/gorilla/websocket"
)

// ServeBuilderEvents exposes the builder socket as a one-way SSE feed for
// clients that cannot hold a WebSocket. Upstream messages are re-framed as
// SSE events; client disconnect closes the upstream socket.
func (b *Bridge) ServeBuilderEvents(w http.ResponseWriter, r *http.Request, projectID string) {
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sw := &syncFrameWriter{fw: PrepareSSE(w)}
	_ = sw.WriteEvent("ready", `{"ok":true}`)
	b.sink.Increment(ctx, "builder_events_open")

	go func() {
		ticker := time.NewTicker(ssePingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = sw.WriteEvent("heartbeat", fmt.Sprintf(`{"t":%d}`, time.Now().UnixMilli()))
			}
		}
	}()

	up, err := b.client.DialBuilder(ctx, projectID)
	if err != nil {
		b.logger.WarnContext(ctx, "builder dial failed", "project_id", projectID, "error", err)
		_ = sw.WriteEvent("error", `{"ok":false,"error":{"code":"upstream_error"}}`)
		return
	}
	defer func() { _ = up.Close() }()
	_ = sw.WriteEvent("upstream_open", `{"ok":true}`)

	// Client disconnect must abort the blocking upstream read promptly.
	go func() {
		<-ctx.Done()
		_ = up.SetReadDeadline(time.Now())
		_ = up.Close()
	}()

	for {
		_, data, err := up.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				_ = sw.WriteEvent("upstream_close", `{"ok":true}`)
			} else {
				_ = sw.WriteEvent("error", `{"ok":false,"error":{"code":"upstream_error"}}`)
			}
			observability.RecordStreamEvent(ctx, "sse", "builder_events_closed")
			return
		}
		if err := sw.WriteEvent("builder.event", string(data)); err != nil {
			return
		}
	}
}
