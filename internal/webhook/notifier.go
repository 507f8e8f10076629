package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// Events sent to the callback URL
const (
	EventCompleted = "analysis.completed"
	EventFailed    = "analysis.failed"
)

// Notification is the body POSTed to the callback URL
type Notification struct {
	Event     string    `json:"event"`
	JobID     string    `json:"job_id"`
	SessionID string    `json:"session_id"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
	Result    any       `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Notifier posts signed notifications, retrying transport errors and 5xx
// responses with exponential backoff.
type Notifier struct {
	url          string
	secret       string
	client       *http.Client
	maxAttempts  int
	initialDelay time.Duration
}

// NewNotifier creates a notifier. A nil client uses a 10s timeout client.
func NewNotifier(url, secret string, client *http.Client) *Notifier {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Notifier{
		url:          url,
		secret:       secret,
		client:       client,
		maxAttempts:  3,
		initialDelay: time.Second,
	}
}

// Notify delivers note. Every attempt carries the same delivery id so the
// receiver can drop repeats.
func (n *Notifier) Notify(ctx context.Context, note Notification) error {
	if note.Timestamp.IsZero() {
		note.Timestamp = time.Now()
	}
	body, err := json.Marshal(note)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	delivery := ulid.Make().String()

	delay := n.initialDelay
	var lastErr error
	for attempt := 1; attempt <= n.maxAttempts; attempt++ {
		retry, err := n.post(ctx, body, delivery, note.Event)
		if err == nil {
			zap.L().Info("callback delivered",
				zap.String("event", note.Event),
				zap.String("job", note.JobID),
				zap.String("delivery", delivery))
			return nil
		}
		lastErr = err
		if !retry || attempt == n.maxAttempts {
			break
		}

		zap.L().Warn("callback failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return fmt.Errorf("deliver %s callback: %w", note.Event, lastErr)
}

// post sends one attempt and reports whether a failure is worth retrying
func (n *Notifier) post(ctx context.Context, body []byte, delivery, event string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return false, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(DeliveryHeader, delivery)
	req.Header.Set(EventHeader, event)
	if n.secret != "" {
		req.Header.Set(SignatureHeader, Sign(body, n.secret))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return ctx.Err() == nil, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode < 300:
		return false, nil
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		return true, fmt.Errorf("callback returned status %d", resp.StatusCode)
	default:
		return false, fmt.Errorf("callback returned status %d", resp.StatusCode)
	}
}
