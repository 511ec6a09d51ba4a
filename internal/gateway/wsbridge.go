package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BlockXAI/Ginie-User-Management/internal/observability"
	"github.com/BlockXAI/Ginie-User-Management/internal/upstream"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"
)

const (
	// Pre-open inbound frames buffer here; the bound is a resource bound,
	// not a time bound.
	maxPendingMessages = 200
	maxPendingBytes    = 1_000_000

	upstreamPingInterval = 25 * time.Second
	clientPingInterval   = 30 * time.Second
	clientPongWait       = 2 * clientPingInterval

	closeReasonOverflow = "pending_overflow"
)

type wsMessage struct {
	messageType int
	data        []byte
}

// Bridge relays a client WebSocket to the upstream builder socket
// transparently in both directions.
type Bridge struct {
	client   *upstream.Client
	sink     observability.Sink
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewBridge(client *upstream.Client, sink observability.Sink, logger *slog.Logger, checkOrigin func(*http.Request) bool) *Bridge {
	return &Bridge{
		client: client,
		sink:   sink,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
	}
}

// ServeBuilder upgrades the request and bridges it to the builder socket for
// projectID. Frames sent before the upstream dial completes queue up to the
// pending bound; overflow closes both sides with 1009. Either side closing
// or erroring tears down both.
func (b *Bridge) ServeBuilder(w http.ResponseWriter, r *http.Request, projectID string) {
	client, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = client.Close() }()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	b.sink.Increment(ctx, "ws_bridge_open")

	client.SetReadLimit(1 << 20)
	_ = client.SetReadDeadline(time.Now().Add(clientPongWait))
	client.SetPongHandler(func(string) error {
		return client.SetReadDeadline(time.Now().Add(clientPongWait))
	})

	// Single reader goroutine feeds both the pending phase and the relay
	// phase; its channel closes when the client goes away.
	clientMsgs := make(chan wsMessage, 8)
	go func() {
		defer close(clientMsgs)
		for {
			mt, data, err := client.ReadMessage()
			if err != nil {
				return
			}
			select {
			case clientMsgs <- wsMessage{mt, data}:
			case <-ctx.Done():
				return
			}
		}
	}()

	type dialResult struct {
		conn *websocket.Conn
		err  error
	}
	dialCh := make(chan dialResult, 1)
	go func() {
		conn, err := b.client.DialBuilder(ctx, projectID)
		dialCh <- dialResult{conn, err}
	}()

	var pending []wsMessage
	pendingBytes := 0
	var up *websocket.Conn
	for up == nil {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-clientMsgs:
			if !ok {
				// Client left before the upstream opened; collect the dial
				// result so the connection is not leaked.
				go func() {
					if res := <-dialCh; res.conn != nil {
						_ = res.conn.Close()
					}
				}()
				return
			}
			pending = append(pending, msg)
			pendingBytes += len(msg.data)
			if len(pending) > maxPendingMessages || pendingBytes > maxPendingBytes {
				observability.RecordStreamEvent(ctx, "ws", "pending_overflow")
				closeConn(client, websocket.CloseMessageTooBig, closeReasonOverflow)
				go func() {
					if res := <-dialCh; res.conn != nil {
						closeConn(res.conn, websocket.CloseMessageTooBig, closeReasonOverflow)
					}
				}()
				return
			}
		case res := <-dialCh:
			if res.err != nil {
				b.logger.WarnContext(ctx, "builder dial failed", "project_id", projectID, "error", res.err)
				closeConn(client, websocket.CloseInternalServerErr, "upstream_error")
				return
			}
			up = res.conn
		}
	}
	defer func() { _ = up.Close() }()

	// Queued frames flush in arrival order before live relay starts.
	for _, msg := range pending {
		if err := up.WriteMessage(msg.messageType, msg.data); err != nil {
			closeConn(client, websocket.CloseInternalServerErr, "upstream_flush_failed")
			return
		}
	}
	pending = nil

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case msg, ok := <-clientMsgs:
				if !ok {
					return fmt.Errorf("client closed")
				}
				if err := up.WriteMessage(msg.messageType, msg.data); err != nil {
					return err
				}
			}
		}
	})
	g.Go(func() error {
		for {
			mt, data, err := up.ReadMessage()
			if err != nil {
				return err
			}
			if err := client.WriteMessage(mt, data); err != nil {
				return err
			}
		}
	})
	g.Go(func() error {
		upTicker := time.NewTicker(upstreamPingInterval)
		clientTicker := time.NewTicker(clientPingInterval)
		defer upTicker.Stop()
		defer clientTicker.Stop()
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-upTicker.C:
				if err := up.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					return err
				}
			case <-clientTicker.C:
				if err := client.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					return err
				}
			}
		}
	})

	// Unblock any reader still parked on a dead peer once the first pump
	// fails.
	go func() {
		<-gctx.Done()
		_ = up.SetReadDeadline(time.Now())
		_ = client.SetReadDeadline(time.Now())
	}()

	err = g.Wait()
	observability.RecordStreamEvent(ctx, "ws", "bridge_closed")
	// First failure tears both sides down; mirror a normal closure to
	// whichever side is still up.
	closeConn(client, websocket.CloseNormalClosure, "")
	closeConn(up, websocket.CloseNormalClosure, "")
	if err != nil && ctx.Err() == nil {
		b.logger.DebugContext(ctx, "bridge ended", "project_id", projectID, "reason", err)
	}
}

func closeConn(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(2 * time.Second)
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = conn.Close()
}
