// Package handlers contains the HTTP handlers of the payment relay.
//
// The webhook endpoints are not behind auth middleware; they are called
// directly by the payment provider and secured by signature verification.
package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"payrelay/internal/core"
	"payrelay/internal/relay"
	"payrelay/internal/types"
)

// DefaultMaxBodyBytes caps inbound webhook payloads when no limit is configured.
const DefaultMaxBodyBytes int64 = 1 << 20

// WebhookProcessor runs one delivery through the relay pipeline.
type WebhookProcessor interface {
	Process(ctx context.Context, req relay.Request) (*relay.Outcome, error)
}

// WebhookHandler maps provider deliveries onto the relay pipeline and the
// pipeline's outcome onto HTTP.
type WebhookHandler struct {
	processor    WebhookProcessor
	maxBodyBytes int64
	logger       *slog.Logger
}

// NewWebhookHandler creates a WebhookHandler. A non-positive maxBodyBytes
// selects DefaultMaxBodyBytes.
func NewWebhookHandler(processor WebhookProcessor, maxBodyBytes int64, logger *slog.Logger) *WebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	return &WebhookHandler{
		processor:    processor,
		maxBodyBytes: maxBodyBytes,
		logger:       logger,
	}
}

// RegisterRoutes mounts the webhook endpoint and its provider-specific alias.
func (h *WebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhook", h.Handle)
	r.Post("/webhooks/stripe", h.Handle)
}

// webhookResponse is the success body.
type webhookResponse struct {
	Message       string `json:"message"`
	FulfillmentID string `json:"fulfillment_id,omitempty"`
	EventID       string `json:"event_id,omitempty"`
}

// Handle reads the raw body once, hands it with the signature header to the
// relay and writes the outcome.
//
//	200 fulfilled or duplicate
//	400 validation or signature failure, oversized bodies included
//	500 configuration or store failure
//	502 upstream failure
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.WarnContext(r.Context(), "failed to read webhook body", "error", err)
		core.Error(w, r, readError(err, h.maxBodyBytes))
		return
	}

	out, err := h.processor.Process(r.Context(), relay.Request{
		Payload:   payload,
		Signature: r.Header.Get("Stripe-Signature"),
	})
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if out.Duplicate {
		core.JSON(w, r, http.StatusOK, webhookResponse{
			Message: "event already processed",
			EventID: out.EventID,
		})
		return
	}

	core.JSON(w, r, http.StatusOK, webhookResponse{
		Message:       "fulfillment forwarded",
		FulfillmentID: out.FulfillmentID,
		EventID:       out.EventID,
	})
}

// readError classifies a body read failure.
func readError(err error, limit int64) *types.AppError {
	var maxBytes *http.MaxBytesError
	if errors.As(err, &maxBytes) {
		return types.NewAppErrorWithDetails(
			types.ErrCodeValidationPayloadTooLarge,
			"request body too large",
			err,
			map[string]any{"limit_bytes": limit},
		)
	}
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return types.NewAppError(types.ErrCodeValidationInvalidJSON, "failed to read request body", err)
}
