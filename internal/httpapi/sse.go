package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

var errStreamingUnsupported = errors.New("response writer does not support streaming")

// eventWriter emits server-sent events and flushes after each one. Once a
// write fails, usually because the client disconnected, every later emit is
// a no-op so the turn can finish persisting without spurious write errors.
type eventWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	failed  bool
}

func newEventWriter(w http.ResponseWriter) (*eventWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errStreamingUnsupported
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &eventWriter{w: w, flusher: flusher}, nil
}

func (e *eventWriter) emit(event map[string]any) error {
	if e.failed {
		return nil
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal sse event: %w", err)
	}
	if _, err := fmt.Fprintf(e.w, "data: %s\n\n", payload); err != nil {
		e.failed = true
		return nil
	}
	e.flusher.Flush()
	return nil
}

func (e *eventWriter) token(delta string) error {
	return e.emit(map[string]any{"type": "token", "delta": delta})
}

func (e *eventWriter) toolCall(name string) error {
	return e.emit(map[string]any{"type": "tool_call", "name": name})
}

func (e *eventWriter) errorEvent(message string) {
	_ = e.emit(map[string]any{"type": "error", "message": message})
}
