package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cexll/ci-agent/internal/credits"
	"github.com/cexll/ci-agent/internal/dispatcher"
	"github.com/cexll/ci-agent/internal/intel"
)

const testSecret = "webhook-secret"

type fakeSubmitter struct {
	mu    sync.Mutex
	calls []submitCall
	err   error
}

type submitCall struct {
	req      intel.Request
	identity string
	source   string
}

func (f *fakeSubmitter) Submit(ctx context.Context, req intel.Request, identity, source string) (*dispatcher.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, submitCall{req: req, identity: identity, source: source})
	if f.err != nil {
		return nil, f.err
	}
	return &dispatcher.Job{ID: "job-1", SessionID: "session-1", Request: req}, nil
}

func signedRequest(body, delivery string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/webhook/analyze", strings.NewReader(body))
	req.Header.Set(SignatureHeader, Sign([]byte(body), testSecret))
	if delivery != "" {
		req.Header.Set(DeliveryHeader, delivery)
	}
	return req
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("response is not JSON: %v (%s)", err, rec.Body.String())
	}
	return out
}

func TestHandleQueuesAnalysis(t *testing.T) {
	sub := &fakeSubmitter{}
	h := NewHandler(testSecret, sub, time.Hour)

	rec := httptest.NewRecorder()
	h.Handle(rec, signedRequest(`{"competitor_name":"Acme","analysis_mode":"deep","client_id":"crm"}`, "d-1"))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 (%s)", rec.Code, rec.Body.String())
	}
	body := decodeBody(t, rec)
	if body["status"] != "queued" || body["session_id"] != "session-1" || body["job_id"] != "job-1" {
		t.Fatalf("unexpected body %v", body)
	}

	if len(sub.calls) != 1 {
		t.Fatalf("Submit called %d times, want 1", len(sub.calls))
	}
	call := sub.calls[0]
	if call.req.Competitor != "Acme" || call.req.Mode != intel.ModeDeep {
		t.Fatalf("unexpected request %+v", call.req)
	}
	if call.identity != "crm" || call.source != "webhook" {
		t.Fatalf("identity/source = %q/%q", call.identity, call.source)
	}
}

func TestHandleDefaultIdentity(t *testing.T) {
	sub := &fakeSubmitter{}
	h := NewHandler(testSecret, sub, time.Hour)

	h.Handle(httptest.NewRecorder(), signedRequest(`{"competitor_name":"Acme"}`, ""))
	if sub.calls[0].identity != "webhook" {
		t.Fatalf("identity = %q, want webhook", sub.calls[0].identity)
	}
}

func TestHandleRejectsBadSignatures(t *testing.T) {
	tests := []struct {
		name      string
		signature string
	}{
		{"missing", ""},
		{"wrong prefix", "sha1=abc"},
		{"wrong secret", Sign([]byte(`{"competitor_name":"Acme"}`), "other")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &fakeSubmitter{}
			h := NewHandler(testSecret, sub, time.Hour)

			req := httptest.NewRequest(http.MethodPost, "/webhook/analyze", strings.NewReader(`{"competitor_name":"Acme"}`))
			if tt.signature != "" {
				req.Header.Set(SignatureHeader, tt.signature)
			}
			rec := httptest.NewRecorder()
			h.Handle(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", rec.Code)
			}
			if decodeBody(t, rec)["detail"] != "Invalid signature" {
				t.Fatalf("unexpected body %s", rec.Body.String())
			}
			if len(sub.calls) != 0 {
				t.Fatal("unsigned delivery must not be submitted")
			}
		})
	}
}

func TestHandleInvalidJSON(t *testing.T) {
	h := NewHandler(testSecret, &fakeSubmitter{}, time.Hour)
	rec := httptest.NewRecorder()
	h.Handle(rec, signedRequest(`{not json`, ""))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleDuplicateDelivery(t *testing.T) {
	sub := &fakeSubmitter{}
	h := NewHandler(testSecret, sub, time.Hour)
	body := `{"competitor_name":"Acme"}`

	first := httptest.NewRecorder()
	h.Handle(first, signedRequest(body, "same"))
	second := httptest.NewRecorder()
	h.Handle(second, signedRequest(body, "same"))

	if first.Code != http.StatusAccepted || second.Code != http.StatusOK {
		t.Fatalf("status codes = %d, %d; want 202, 200", first.Code, second.Code)
	}
	if decodeBody(t, second)["status"] != "duplicate" {
		t.Fatalf("unexpected body %s", second.Body.String())
	}
	if len(sub.calls) != 1 {
		t.Fatalf("Submit called %d times, want 1", len(sub.calls))
	}
}

func TestHandleRejectedDeliveryCanBeRetried(t *testing.T) {
	sub := &fakeSubmitter{err: dispatcher.ErrQueueFull}
	h := NewHandler(testSecret, sub, time.Hour)
	body := `{"competitor_name":"Acme"}`

	rec := httptest.NewRecorder()
	h.Handle(rec, signedRequest(body, "retry-me"))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}

	sub.err = nil
	rec = httptest.NewRecorder()
	h.Handle(rec, signedRequest(body, "retry-me"))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("redelivery status = %d, want 202", rec.Code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", &intel.ValidationError{Field: "competitor_name", Message: "competitor_name is required"}, http.StatusBadRequest},
		{"mode", &intel.ModeError{Value: "fast"}, http.StatusBadRequest},
		{"credits", &credits.LimitError{Limit: 10, Used: 10, Requested: 1}, http.StatusTooManyRequests},
		{"queue full", dispatcher.ErrQueueFull, http.StatusServiceUnavailable},
		{"queue closed", dispatcher.ErrQueueClosed, http.StatusServiceUnavailable},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got, _ := StatusFor(tt.err); got != tt.want {
				t.Fatalf("StatusFor() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestDeduperExpires(t *testing.T) {
	d := newDeliveryDeduper(time.Minute)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	if !d.markIfNew("a") || d.markIfNew("a") {
		t.Fatal("second mark within ttl should be a duplicate")
	}
	now = now.Add(2 * time.Minute)
	if !d.markIfNew("a") {
		t.Fatal("mark after ttl should be new")
	}
}
