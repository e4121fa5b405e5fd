package handler

import (
	"context"
	"net/http"

	"vision2viral/internal/api/v1/dto"
	"vision2viral/internal/model"
	"vision2viral/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

type Spender interface {
	Spend(ctx context.Context, req service.SpendRequest) (*service.SpendResult, error)
}

// GenerateHandler exposes the paid generation endpoint.
type GenerateHandler struct {
	spend    Spender
	validate *validator.Validate
	logger   zerolog.Logger
}

func NewGenerateHandler(spend Spender, v *validator.Validate, logger zerolog.Logger) *GenerateHandler {
	return &GenerateHandler{spend: spend, validate: v, logger: logger.With().Str("handler", "generate").Logger()}
}

// RegisterRoutes mounts POST /generate. r must already require auth.
func (h *GenerateHandler) RegisterRoutes(r chi.Router) {
	r.Post("/generate", h.Generate)
}

func (h *GenerateHandler) Generate(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	var req dto.GenerateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := validateStruct(h.validate, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	res, err := h.spend.Spend(r.Context(), service.SpendRequest{
		UserID:  id.UserID,
		Feature: model.Feature(req.Feature),
		Params:  req.Params(),
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	resp := dto.GenerateResponse{
		OK:               true,
		Feature:          string(res.Feature),
		Output:           res.Output,
		CreditsCost:      res.Cost,
		CreditsRemaining: res.Balance,
		Plan:             string(res.Plan),
		Role:             string(res.Role),
		Warning:          res.Warning,
	}
	if res.Generation != nil {
		resp.GenerationID = res.Generation.ID
	}
	writeJSON(w, http.StatusOK, resp)
}
