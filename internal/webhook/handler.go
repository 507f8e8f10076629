// Package webhook accepts signed analysis triggers and sends signed
// completion callbacks.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cexll/ci-agent/internal/credits"
	"github.com/cexll/ci-agent/internal/dispatcher"
	"github.com/cexll/ci-agent/internal/intel"
)

const maxPayloadBytes = 1 << 20

// Submitter validates, charges and enqueues an analysis job
type Submitter interface {
	Submit(ctx context.Context, req intel.Request, identity, source string) (*dispatcher.Job, error)
}

// Payload is the body of POST /webhook/analyze
type Payload struct {
	intel.Request
	// ClientID names the caller for credit accounting; defaults to "webhook".
	ClientID string `json:"client_id,omitempty"`
}

// Handler handles inbound analysis webhooks
type Handler struct {
	secret    string
	submitter Submitter
	deduper   *deliveryDeduper
}

// NewHandler creates a handler. Deliveries are remembered for dedupTTL.
func NewHandler(secret string, submitter Submitter, dedupTTL time.Duration) *Handler {
	return &Handler{
		secret:    secret,
		submitter: submitter,
		deduper:   newDeliveryDeduper(dedupTTL),
	}
}

// Handle verifies the signature, drops repeated deliveries and enqueues the job
func (h *Handler) Handle(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		zap.L().Warn("error reading webhook payload", zap.Error(err))
		writeDetail(w, http.StatusBadRequest, "Error reading payload")
		return
	}

	signature := r.Header.Get(SignatureHeader)
	if err := ValidateSignatureHeader(signature); err != nil {
		zap.L().Warn("invalid webhook signature header", zap.Error(err))
		writeDetail(w, http.StatusUnauthorized, "Invalid signature")
		return
	}
	if !VerifySignature(payload, signature, h.secret) {
		zap.L().Warn("webhook signature verification failed")
		writeDetail(w, http.StatusUnauthorized, "Invalid signature")
		return
	}

	var body Payload
	if err := json.Unmarshal(payload, &body); err != nil {
		writeDetail(w, http.StatusBadRequest, "Invalid JSON payload")
		return
	}

	delivery := strings.TrimSpace(r.Header.Get(DeliveryHeader))
	if delivery != "" && !h.deduper.markIfNew(delivery) {
		zap.L().Info("duplicate webhook delivery ignored", zap.String("delivery", delivery))
		writeJSON(w, http.StatusOK, map[string]string{"status": "duplicate", "delivery_id": delivery})
		return
	}

	identity := strings.TrimSpace(body.ClientID)
	if identity == "" {
		identity = "webhook"
	}

	job, err := h.submitter.Submit(r.Context(), body.Request, identity, "webhook")
	if err != nil {
		if delivery != "" {
			h.deduper.forget(delivery)
		}
		status, detail := StatusFor(err)
		zap.L().Warn("webhook analysis rejected", zap.Int("status", status), zap.Error(err))
		writeDetail(w, status, detail)
		return
	}

	zap.L().Info("webhook analysis queued",
		zap.String("job", job.ID),
		zap.String("session", job.SessionID),
		zap.String("delivery", delivery))
	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":        "queued",
		"job_id":        job.ID,
		"session_id":    job.SessionID,
		"analysis_mode": job.Request.Mode,
		"delivery_id":   delivery,
	})
}

// StatusFor maps a submission error to an HTTP status and detail message
func StatusFor(err error) (int, string) {
	var (
		validation *intel.ValidationError
		limit      *credits.LimitError
	)
	switch {
	case errors.As(err, &validation), errors.Is(err, intel.ErrInvalidMode):
		return http.StatusBadRequest, err.Error()
	case errors.As(err, &limit):
		return http.StatusTooManyRequests, err.Error()
	case errors.Is(err, dispatcher.ErrQueueFull):
		return http.StatusServiceUnavailable, "Analysis queue is full, try again later"
	case errors.Is(err, dispatcher.ErrQueueClosed):
		return http.StatusServiceUnavailable, "Service is shutting down"
	default:
		return http.StatusInternalServerError, err.Error()
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("failed to write webhook response", zap.Error(err))
	}
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}
