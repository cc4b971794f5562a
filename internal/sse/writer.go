// Package sse writes Server-Sent Events in the `data: <JSON>` framing the
// orchestrator stream uses.
package sse

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mtzanidakis/teamfeed/internal/event"
)

// Writer sends Server-Sent Events to an http.ResponseWriter.
type Writer struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewWriter creates a new SSE writer. Returns nil if the ResponseWriter
// doesn't support http.Flusher.
func NewWriter(w http.ResponseWriter) *Writer {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx
	flusher.Flush()

	return &Writer{w: w, flusher: flusher}
}

// SendStreamEvent writes ev as one single-line data frame.
func (s *Writer) SendStreamEvent(ev event.StreamEvent) error {
	data, err := event.Encode(ev)
	if err != nil {
		return err
	}
	return s.write("data: %s\n\n", data)
}

// SendEvent writes a named SSE event with JSON data.
func (s *Writer) SendEvent(name string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal SSE data: %w", err)
	}
	return s.write("event: %s\ndata: %s\n\n", name, jsonData)
}

// SendData writes an unnamed SSE event with JSON data.
func (s *Writer) SendData(data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal SSE data: %w", err)
	}
	return s.write("data: %s\n\n", jsonData)
}

// SendComment writes an SSE comment (for keep-alive pings).
func (s *Writer) SendComment(text string) error {
	return s.write(": %s\n\n", text)
}

func (s *Writer) write(format string, args ...any) error {
	if _, err := fmt.Fprintf(s.w, format, args...); err != nil {
		return fmt.Errorf("write SSE frame: %w", err)
	}
	s.flusher.Flush()
	return nil
}
