package handler

import (
	"context"
	"io"
	"net/http"

	"vision2viral/internal/api/v1/dto"
	"vision2viral/internal/apperror"
	"vision2viral/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// maxWebhookBody mirrors Stripe's own payload cap.
const maxWebhookBody = 65536

type WebhookProcessor interface {
	Handle(ctx context.Context, payload []byte, signature string) (service.WebhookResult, error)
}

// WebhookHandler receives Stripe notifications. It is not behind bearer auth;
// the Stripe-Signature header authenticates the request.
type WebhookHandler struct {
	webhooks WebhookProcessor
	logger   zerolog.Logger
}

func NewWebhookHandler(webhooks WebhookProcessor, logger zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{webhooks: webhooks, logger: logger.With().Str("handler", "webhook").Logger()}
}

func (h *WebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/stripe", h.Stripe)
}

// Stripe answers 400 for deliveries that can never succeed so Stripe stops
// retrying them, and 500 for handler failures so it retries.
func (h *WebhookHandler) Stripe(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		h.logger.Warn().Err(err).Msg("Failed to read webhook body")
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: "invalid payload"})
		return
	}

	res, err := h.webhooks.Handle(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		if apperror.Terminal(err) {
			writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
			return
		}
		h.logger.Error().Err(err).Str("event_id", res.EventID).Str("event_type", res.EventType).Msg("Webhook handler failed")
		writeJSON(w, http.StatusInternalServerError, dto.ErrorResponse{Error: "webhook handler failed"})
		return
	}
	writeJSON(w, http.StatusOK, dto.WebhookAckResponse{Received: true})
}
