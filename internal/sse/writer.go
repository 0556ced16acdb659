package sse

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// Writer frames events onto an SSE stream. Safe for concurrent use; each
// event is written atomically. When the underlying writer implements
// http.Flusher every event is flushed immediately so fragments reach the
// client as they are produced.
type Writer struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
}

// NewWriter wraps w for SSE framing.
func NewWriter(w io.Writer) *Writer {
	writer := &Writer{w: w}
	if f, ok := w.(http.Flusher); ok {
		writer.flusher = f
	}

	return writer
}

// Send encodes event as JSON and writes one `data:` frame.
func (w *Writer) Send(event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("sse: encode event: %w", err)
	}

	return w.frame(data)
}

// SendDone writes the terminal [DONE] frame.
func (w *Writer) SendDone() error {
	return w.frame([]byte(DoneMarker))
}

func (w *Writer) frame(payload []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := fmt.Fprintf(w.w, "data: %s\n\n", payload); err != nil {
		return fmt.Errorf("sse: write frame: %w", err)
	}

	if w.flusher != nil {
		w.flusher.Flush()
	}

	return nil
}
