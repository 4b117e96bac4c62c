package events

import (
	"fmt"
	"io"
	"net/http"
)

// WriteSSE frames an event for a server-sent-events stream and flushes the
// writer when it supports flushing.
func WriteSSE(w io.Writer, event Event) error {
	data, err := ToJSON(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event.Kind(), err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Kind(), data); err != nil {
		return err
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}
