// Package gateway bridges the upstream job service's streaming surfaces to
// clients: SSE log relay with flavor enrichment, the builder WebSocket
// bridge, and the interactive pipeline socket.
package gateway

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Frame is one server-sent event: an optional event name plus the joined
// data lines. Comment-only frames come back with Comment set and no data.
type Frame struct {
	Event   string
	Data    string
	Comment string
}

// FrameReader pulls frames off a raw SSE byte stream, splitting on blank
// lines. It never reorders or coalesces frames.
type FrameReader struct {
	scanner *bufio.Scanner
}

func NewFrameReader(r io.Reader) *FrameReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	return &FrameReader{scanner: sc}
}

// Next returns the next complete frame, or io.EOF when the stream ends. A
// partial frame at EOF (no trailing blank line) is still returned once.
func (r *FrameReader) Next() (Frame, error) {
	f := Frame{Event: "message"}
	sawField := false
	for r.scanner.Scan() {
		line := strings.TrimRight(r.scanner.Text(), "\r")
		if line == "" {
			if sawField {
				return f, nil
			}
			continue
		}
		sawField = true
		switch {
		case strings.HasPrefix(line, ":"):
			f.Comment = strings.TrimSpace(line[1:])
		case strings.HasPrefix(line, "event:"):
			f.Event = strings.TrimSpace(line[len("event:"):])
		case strings.HasPrefix(line, "data:"):
			d := strings.TrimSpace(line[len("data:"):])
			if f.Data != "" {
				f.Data += "\n"
			}
			f.Data += d
		}
	}
	if err := r.scanner.Err(); err != nil {
		return Frame{}, err
	}
	if sawField {
		return f, nil
	}
	return Frame{}, io.EOF
}

// FrameWriter serializes frames to an SSE response, flushing after every
// write so frames reach the client immediately.
type FrameWriter struct {
	w       io.Writer
	flusher http.Flusher
}

func NewFrameWriter(w http.ResponseWriter) *FrameWriter {
	fw := &FrameWriter{w: w}
	if f, ok := w.(http.Flusher); ok {
		fw.flusher = f
	}
	return fw
}

func (w *FrameWriter) WriteEvent(event, data string) error {
	if _, err := fmt.Fprintf(w.w, "event: %s\n", event); err != nil {
		return err
	}
	// Multi-line payloads become one data: line each, per the SSE framing
	// rules.
	for _, line := range strings.Split(data, "\n") {
		if _, err := fmt.Fprintf(w.w, "data: %s\n", line); err != nil {
			return err
		}
	}
	if _, err := io.WriteString(w.w, "\n"); err != nil {
		return err
	}
	w.flush()
	return nil
}

func (w *FrameWriter) WriteComment(comment string) error {
	if _, err := fmt.Fprintf(w.w, ": %s\n\n", comment); err != nil {
		return err
	}
	w.flush()
	return nil
}

// WriteFrame re-emits a parsed frame unmodified.
func (w *FrameWriter) WriteFrame(f Frame) error {
	if f.Event == "" && f.Data == "" && f.Comment != "" {
		return w.WriteComment(f.Comment)
	}
	return w.WriteEvent(f.Event, f.Data)
}

func (w *FrameWriter) flush() {
	if w.flusher != nil {
		w.flusher.Flush()
	}
}

// PrepareSSE sets the response headers every streaming endpoint needs and
// flushes them out before the first frame.
func PrepareSSE(w http.ResponseWriter) *FrameWriter {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache, no-transform")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fw := NewFrameWriter(w)
	fw.flush()
	return fw
}
