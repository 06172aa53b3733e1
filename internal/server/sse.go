package server

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// sseWriter emits the event-stream wire format: one "data: {json}" line per
// event, a "data: [DONE]" terminal marker, and "data: {error, code}" for
// failures.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	return &sseWriter{w: w, flusher: flusher}, true
}

// event writes one JSON event line. A write error means the client is gone;
// the caller stops producing.
func (s *sseWriter) event(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// errorEvent writes a distinguished error event.
func (s *sseWriter) errorEvent(code string, err error) {
	_ = s.event(map[string]string{
		"error": err.Error(),
		"code":  code,
	})
}

// done writes the terminal marker.
func (s *sseWriter) done() {
	_, _ = fmt.Fprint(s.w, "data: [DONE]\n\n")
	s.flusher.Flush()
}
