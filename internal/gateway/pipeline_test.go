package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BlockXAI/Ginie-User-Management/internal/observability"
	"github.com/BlockXAI/Ginie-User-Management/internal/upstream"

	"github.com/gorilla/websocket"
)

type attachRecorder struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (a *attachRecorder) Attach(ctx context.Context, userID, jobID, name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, userID+"/"+jobID)
	return a.err
}

func newPipelineServer(t *testing.T, m *mockJobService, jobs JobAttacher) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	client := upstream.NewClient(m.srv.URL, m.srv.URL, 5*time.Second, logger)
	verifier := NewVerifier(client, observability.NewMemorySink(), logger)
	verifier.settleDelay = 0
	verifier.pollInterval = time.Millisecond
	p := NewPipeline(client, verifier, jobs, observability.NewMemorySink(), logger, func(*http.Request) bool { return true })
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.ServePipeline(w, r, "user-1")
	}))
	t.Cleanup(srv.Close)
	return srv
}

type wsEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// readEvents consumes socket messages until terminal is seen or the peer
// closes, returning everything read.
func readEvents(t *testing.T, conn *websocket.Conn, terminal string) []wsEvent {
	t.Helper()
	var out []wsEvent
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return out
		}
		var ev wsEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			t.Fatalf("bad message %q: %v", data, err)
		}
		out = append(out, ev)
		if ev.Event == terminal {
			return out
		}
	}
}

func eventIndex(events []wsEvent, name string) int {
	for i, ev := range events {
		if ev.Event == name {
			return i
		}
	}
	return -1
}

func sendStart(t *testing.T, conn *websocket.Conn, payload map[string]any) {
	t.Helper()
	msg, _ := json.Marshal(map[string]any{"type": "start", "payload": payload})
	if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		t.Fatalf("send start: %v", err)
	}
}

func expectReady(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read ready: %v", err)
	}
	if !strings.Contains(string(data), `"ready"`) {
		t.Fatalf("first message = %q, want ready", data)
	}
}

func TestPipelineFullFlow(t *testing.T) {
	m := newMockJobService(t)
	m.detailBody = `{"state":"deployed","result":{"address":"0x1234567890abcdef1234567890abcdef12345678","network":"sepolia","fqName":"src/T.sol:T"}}`
	m.streams <- sseBody(
		"event: log\ndata: {\"msg\":\"Stage: generate\"}\n\n",
		"event: end\ndata: {}\n\n",
	)
	jobs := &attachRecorder{}
	srv := newPipelineServer(t, m, jobs)
	conn := dialWS(t, srv)

	expectReady(t, conn)
	sendStart(t, conn, map[string]any{"prompt": "mint me a token", "network": "sepolia"})

	events := readEvents(t, conn, "complete")
	for _, name := range []string{"pipeline.created", "log", "magic", "artifacts", "verification.started", "verification.complete", "complete"} {
		if eventIndex(events, name) < 0 {
			t.Fatalf("missing %q in %+v", name, events)
		}
	}
	if eventIndex(events, "pipeline.created") > eventIndex(events, "log") {
		t.Fatalf("job id must precede the log relay: %+v", events)
	}
	if eventIndex(events, "verification.started") > eventIndex(events, "verification.complete") {
		t.Fatalf("verification events out of order: %+v", events)
	}

	created := events[eventIndex(events, "pipeline.created")]
	if !strings.Contains(string(created.Data), "job-77") {
		t.Fatalf("pipeline.created data = %s", created.Data)
	}
	jobs.mu.Lock()
	defer jobs.mu.Unlock()
	if len(jobs.calls) != 1 || jobs.calls[0] != "user-1/job-77" {
		t.Fatalf("attach calls = %v", jobs.calls)
	}
	if got := m.verifyCalls.Load(); got != 1 {
		t.Fatalf("verify calls = %d, want 1", got)
	}
}

func TestPipelineInvalidStartKeepsSocketOpen(t *testing.T) {
	m := newMockJobService(t)
	m.detailBody = `{"state":"failed"}`
	m.streams <- sseBody("event: end\ndata: {}\n\n")
	srv := newPipelineServer(t, m, &attachRecorder{})
	conn := dialWS(t, srv)

	expectReady(t, conn)
	// Too-short prompt, then garbage, then a valid start.
	sendStart(t, conn, map[string]any{"prompt": "hi", "network": "sepolia"})
	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatalf("send garbage: %v", err)
	}
	sendStart(t, conn, map[string]any{"prompt": "mint me a token", "network": "sepolia"})

	events := readEvents(t, conn, "complete")
	errCount := 0
	for _, ev := range events {
		if ev.Event == "error" {
			if !strings.Contains(string(ev.Data), "bad_request") {
				t.Fatalf("error data = %s", ev.Data)
			}
			errCount++
		}
	}
	if errCount != 2 {
		t.Fatalf("error events = %d, want 2", errCount)
	}
	if eventIndex(events, "pipeline.created") < 0 {
		t.Fatalf("valid start after rejections must still run: %+v", events)
	}
}

func TestPipelineUnsupportedNetwork(t *testing.T) {
	m := newMockJobService(t)
	srv := newPipelineServer(t, m, &attachRecorder{})
	conn := dialWS(t, srv)

	expectReady(t, conn)
	sendStart(t, conn, map[string]any{"prompt": "mint me a token", "network": "dogecoin"})

	events := readEvents(t, conn, "error")
	i := eventIndex(events, "error")
	if i < 0 {
		t.Fatalf("missing error event: %+v", events)
	}
	data := string(events[i].Data)
	if !strings.Contains(data, "unsupported_network") || !strings.Contains(data, "sepolia") {
		t.Fatalf("error data = %s", data)
	}
}

func TestPipelineDisabledNetworkIsRejected(t *testing.T) {
	m := newMockJobService(t)
	srv := newPipelineServer(t, m, &attachRecorder{})
	conn := dialWS(t, srv)

	expectReady(t, conn)
	sendStart(t, conn, map[string]any{"prompt": "mint me a token", "network": "polygon-mumbai"})

	events := readEvents(t, conn, "error")
	i := eventIndex(events, "error")
	if i < 0 || !strings.Contains(string(events[i].Data), "unsupported_network") {
		t.Fatalf("events = %+v", events)
	}
}

func TestPipelineUpstreamSubmitFailure(t *testing.T) {
	m := newMockJobService(t)
	m.submitStatus = http.StatusServiceUnavailable
	m.submitBody = `{"error":"overloaded"}`
	srv := newPipelineServer(t, m, &attachRecorder{})
	conn := dialWS(t, srv)

	expectReady(t, conn)
	sendStart(t, conn, map[string]any{"prompt": "mint me a token", "network": "sepolia"})

	events := readEvents(t, conn, "error")
	i := eventIndex(events, "error")
	if i < 0 {
		t.Fatalf("missing error event: %+v", events)
	}
	data := string(events[i].Data)
	if !strings.Contains(data, "upstream_error") || !strings.Contains(data, "503") {
		t.Fatalf("error data = %s", data)
	}
}

func TestPipelineMissingJobID(t *testing.T) {
	m := newMockJobService(t)
	m.submitBody = `{"accepted":true}`
	srv := newPipelineServer(t, m, &attachRecorder{})
	conn := dialWS(t, srv)

	expectReady(t, conn)
	sendStart(t, conn, map[string]any{"prompt": "mint me a token", "network": "sepolia"})

	events := readEvents(t, conn, "error")
	i := eventIndex(events, "error")
	if i < 0 || !strings.Contains(string(events[i].Data), "no_job_id") {
		t.Fatalf("events = %+v", events)
	}
}

func TestPipelineStreamFailureReported(t *testing.T) {
	m := newMockJobService(t)
	// No scripted stream: the log stream answers 502 and the run aborts.
	srv := newPipelineServer(t, m, &attachRecorder{})
	conn := dialWS(t, srv)

	expectReady(t, conn)
	sendStart(t, conn, map[string]any{"prompt": "mint me a token", "network": "sepolia"})

	events := readEvents(t, conn, "error")
	i := eventIndex(events, "error")
	if i < 0 || !strings.Contains(string(events[i].Data), "stream_failed") {
		t.Fatalf("events = %+v", events)
	}
	if eventIndex(events, "pipeline.created") < 0 {
		t.Fatalf("job was submitted before the stream failed: %+v", events)
	}
}

func TestPipelineAttachFailureDoesNotAbort(t *testing.T) {
	m := newMockJobService(t)
	m.detailBody = `{"state":"failed"}`
	m.streams <- sseBody("event: end\ndata: {}\n\n")
	jobs := &attachRecorder{err: context.DeadlineExceeded}
	srv := newPipelineServer(t, m, jobs)
	conn := dialWS(t, srv)

	expectReady(t, conn)
	sendStart(t, conn, map[string]any{"prompt": "mint me a token", "network": "sepolia"})

	events := readEvents(t, conn, "complete")
	if eventIndex(events, "complete") < 0 {
		t.Fatalf("ownership bookkeeping failure must not kill the run: %+v", events)
	}
}
