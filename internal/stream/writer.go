package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// Writer writes events as `data: <json>\n\n` frames.
type Writer struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
	mode    string
	count   func(Type)
}

// NewWriter prepares w for an event stream and returns a writer stamping
// every event with mode.
func NewWriter(w http.ResponseWriter, mode string) *Writer {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	sw := &Writer{w: w, mode: mode}
	if f, ok := w.(http.Flusher); ok {
		sw.flusher = f
	}
	return sw
}

// OnSend registers a callback invoked with the type of each written event.
func (sw *Writer) OnSend(fn func(Type)) {
	sw.count = fn
}

// Send writes one event frame and flushes it.
func (sw *Writer) Send(ev Event) error {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	if ev.AnalysisMode == "" {
		ev.AnalysisMode = sw.mode
	}
	ev.Enhanced = true

	payload, err := json.Marshal(ev)
	if err != nil {
		// only a terminal event may be replaced by a terminal one
		fallback := Status(StepSerializationError, fmt.Sprintf("Non-serializable %s event skipped: %v", ev.Type, err))
		if ev.Terminal() {
			fallback = Failure(fmt.Sprintf("Event serialization error: %v", err))
		}
		fallback.AnalysisMode = sw.mode
		fallback.Enhanced = true
		ev = fallback
		if payload, err = json.Marshal(fallback); err != nil {
			return err
		}
	}

	sw.mu.Lock()
	defer sw.mu.Unlock()

	if _, err := fmt.Fprintf(sw.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	if sw.flusher != nil {
		sw.flusher.Flush()
	}
	if sw.count != nil {
		sw.count(ev.Type)
	}
	return nil
}

// Pump forwards events to sw until the channel is closed, sending a
// heartbeat whenever no event arrived for the idle interval.
func Pump(ctx context.Context, sw *Writer, events <-chan Event, idle time.Duration) error {
	if idle <= 0 {
		idle = time.Second
	}
	timer := time.NewTimer(idle)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if err := sw.Send(ev); err != nil {
				return err
			}
		case <-timer.C:
			if err := sw.Send(Event{Type: TypeHeartbeat}); err != nil {
				return err
			}
		}
		timer.Reset(idle)
	}
}
