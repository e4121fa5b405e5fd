package handler

import (
	"context"
	"net/http"

	"vision2viral/internal/api/v1/dto"
	"vision2viral/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// BillingSessions creates hosted Stripe pages.
type BillingSessions interface {
	CreateCheckoutSession(ctx context.Context, id service.Identity, plan string) (string, error)
	CreatePortalSession(ctx context.Context, userID string) (string, error)
}

// BillingHandler handles checkout and customer portal endpoints.
type BillingHandler struct {
	sessions BillingSessions
	validate *validator.Validate
	logger   zerolog.Logger
}

func NewBillingHandler(sessions BillingSessions, v *validator.Validate, logger zerolog.Logger) *BillingHandler {
	return &BillingHandler{sessions: sessions, validate: v, logger: logger.With().Str("handler", "billing").Logger()}
}

// RegisterRoutes mounts the billing routes. r must already require auth.
func (h *BillingHandler) RegisterRoutes(r chi.Router) {
	r.Post("/billing/checkout", h.Checkout)
	r.Post("/billing/portal", h.Portal)
}

// Checkout returns the URL of a Stripe Checkout session for the requested plan.
func (h *BillingHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	var req dto.CheckoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := validateStruct(h.validate, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	url, err := h.sessions.CreateCheckoutSession(r.Context(), id, req.Plan)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.SessionURLResponse{URL: url})
}

// Portal returns the URL of a Stripe customer portal session.
func (h *BillingHandler) Portal(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	url, err := h.sessions.CreatePortalSession(r.Context(), id.UserID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.SessionURLResponse{URL: url})
}
