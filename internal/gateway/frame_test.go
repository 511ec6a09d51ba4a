package gateway

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func readAllFrames(t *testing.T, raw string) []Frame {
	t.Helper()
	r := NewFrameReader(strings.NewReader(raw))
	var out []Frame
	for {
		f, err := r.Next()
		if err == io.EOF {
			return out
		}
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		out = append(out, f)
	}
}

func TestFrameReaderSplitsOnBlankLines(t *testing.T) {
	raw := "event: log\ndata: {\"msg\":\"one\"}\n\nevent: log\ndata: {\"msg\":\"two\"}\n\n"
	frames := readAllFrames(t, raw)
	if len(frames) != 2 {
		t.Fatalf("frames = %d, want 2", len(frames))
	}
	if frames[0].Event != "log" || frames[0].Data != `{"msg":"one"}` {
		t.Fatalf("frame 0 = %+v", frames[0])
	}
	if frames[1].Data != `{"msg":"two"}` {
		t.Fatalf("frame 1 = %+v", frames[1])
	}
}

func TestFrameReaderDefaultsEventName(t *testing.T) {
	frames := readAllFrames(t, "data: hello\n\n")
	if len(frames) != 1 || frames[0].Event != "message" || frames[0].Data != "hello" {
		t.Fatalf("frames = %+v", frames)
	}
}

func TestFrameReaderJoinsDataLines(t *testing.T) {
	frames := readAllFrames(t, "event: blob\ndata: line1\ndata: line2\n\n")
	if len(frames) != 1 || frames[0].Data != "line1\nline2" {
		t.Fatalf("frames = %+v", frames)
	}
}

func TestFrameReaderHandlesCommentsAndCRLF(t *testing.T) {
	frames := readAllFrames(t, ": ping\n\r\nevent: end\r\ndata: {}\r\n\r\n")
	if len(frames) != 2 {
		t.Fatalf("frames = %d, want 2", len(frames))
	}
	if frames[0].Comment != "ping" || frames[0].Data != "" {
		t.Fatalf("comment frame = %+v", frames[0])
	}
	if frames[1].Event != "end" {
		t.Fatalf("end frame = %+v", frames[1])
	}
}

func TestFrameReaderReturnsTrailingPartialFrame(t *testing.T) {
	frames := readAllFrames(t, "event: log\ndata: cut off")
	if len(frames) != 1 || frames[0].Event != "log" || frames[0].Data != "cut off" {
		t.Fatalf("frames = %+v", frames)
	}
}

func TestFrameWriterRoundTrip(t *testing.T) {
	rec := httptest.NewRecorder()
	fw := NewFrameWriter(rec)
	if err := fw.WriteEvent("log", `{"msg":"hi"}`); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := fw.WriteEvent("blob", "a\nb"); err != nil {
		t.Fatalf("write multi-line: %v", err)
	}
	if err := fw.WriteComment("ping"); err != nil {
		t.Fatalf("write comment: %v", err)
	}

	frames := readAllFrames(t, rec.Body.String())
	if len(frames) != 3 {
		t.Fatalf("frames = %d, want 3", len(frames))
	}
	if frames[0].Event != "log" || frames[0].Data != `{"msg":"hi"}` {
		t.Fatalf("frame 0 = %+v", frames[0])
	}
	if frames[1].Data != "a\nb" {
		t.Fatalf("multi-line data = %q", frames[1].Data)
	}
	if frames[2].Comment != "ping" {
		t.Fatalf("comment = %+v", frames[2])
	}
}

func TestPrepareSSESetsHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	PrepareSSE(rec)
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content-type = %q", ct)
	}
	if cc := rec.Header().Get("Cache-Control"); !strings.Contains(cc, "no-cache") {
		t.Fatalf("cache-control = %q", cc)
	}
}
