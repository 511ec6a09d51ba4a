package gateway

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BlockXAI/Ginie-User-Management/internal/observability"
	"github.com/BlockXAI/Ginie-User-Management/internal/upstream"

	"github.com/gorilla/websocket"
)

// newChattyBuilder serves a builder socket that pushes the given messages and
// then closes cleanly.
func newChattyBuilder(t *testing.T, messages ...string) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()
		for _, msg := range messages {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newEventsBridge(t *testing.T, builderURL string) *Bridge {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	client := upstream.NewClient(builderURL, builderURL, 5*time.Second, logger)
	return NewBridge(client, observability.NewMemorySink(), logger, func(*http.Request) bool { return true })
}

func TestBuilderEventsRelaysUntilUpstreamCloses(t *testing.T) {
	builder := newChattyBuilder(t, `{"step":"compile"}`, `{"step":"link"}`)
	bridge := newEventsBridge(t, builder.URL)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/u/proxy/job/p-1/events/stream", nil)
	bridge.ServeBuilderEvents(rec, req, "p-1")

	frames := readAllFrames(t, rec.Body.String())
	names := eventNames(frames)
	want := []string{"ready", "upstream_open", "builder.event", "builder.event", "upstream_close"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Fatalf("events = %v, want %v", names, want)
	}
	if frames[2].Data != `{"step":"compile"}` || frames[3].Data != `{"step":"link"}` {
		t.Fatalf("message frames = %+v", frames[2:4])
	}
}

func TestBuilderEventsDialFailure(t *testing.T) {
	bridge := newEventsBridge(t, "http://127.0.0.1:1")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/u/proxy/job/p-1/events/stream", nil)
	bridge.ServeBuilderEvents(rec, req, "p-1")

	frames := readAllFrames(t, rec.Body.String())
	names := eventNames(frames)
	if len(names) != 2 || names[0] != "ready" || names[1] != "error" {
		t.Fatalf("events = %v, want ready then error", names)
	}
	if !strings.Contains(frames[1].Data, "upstream_error") {
		t.Fatalf("error frame = %+v", frames[1])
	}
}
