package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"vision2viral/internal/api/v1/dto"
	"vision2viral/internal/apperror"
	"vision2viral/internal/middleware"
	"vision2viral/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps err onto the API error body. Server-side failures are
// logged and reported without detail.
func writeError(w http.ResponseWriter, logger zerolog.Logger, err error) {
	status := apperror.HTTPStatus(err)
	body := dto.ErrorResponse{Error: err.Error()}

	var short *apperror.InsufficientCreditsError
	var inactive *apperror.SubscriptionInactiveError
	switch {
	case errors.As(err, &short):
		body.Error = "Not enough credits"
		body.CreditsRemaining = &short.Balance
		body.Needed = &short.Required
		body.Plan = short.Plan
	case errors.As(err, &inactive):
		body.Error = "Subscription not active"
		body.Plan = inactive.Plan
		body.Status = inactive.Status
	case status == http.StatusBadGateway:
		logger.Error().Err(err).Msg("Upstream failure")
		body.Error = "Upstream service unavailable"
	case status >= http.StatusInternalServerError:
		logger.Error().Err(err).Msg("Request failed")
		body.Error = "Internal server error"
	}
	writeJSON(w, status, body)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		return apperror.Invalid("body", "invalid JSON payload: "+err.Error())
	}
	return nil
}

func validateStruct(v *validator.Validate, s any) error {
	if err := v.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return apperror.Invalid(strings.ToLower(fe.Field()), "failed "+fe.Tag()+" validation")
		}
		return apperror.Invalid("body", err.Error())
	}
	return nil
}

func identity(r *http.Request) (service.Identity, error) {
	id, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		return service.Identity{}, &apperror.AuthenticationError{Reason: "user not found in context"}
	}
	return id, nil
}
