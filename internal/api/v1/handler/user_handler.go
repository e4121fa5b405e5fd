package handler

import (
	"context"
	"net/http"
	"strconv"

	"vision2viral/internal/api/v1/dto"
	"vision2viral/internal/apperror"
	"vision2viral/internal/model"
	"vision2viral/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

const defaultLedgerLimit = 50

type AccountService interface {
	Status(ctx context.Context, userID string) (*service.AccountStatus, error)
	Reconcile(ctx context.Context, adminID, target string) (model.Balance, error)
	Grant(ctx context.Context, adminID, target string, amount int64, reason string) (model.Balance, error)
}

type LedgerReader interface {
	ListEntries(ctx context.Context, userID string, limit int) ([]model.CreditLedgerEntry, error)
}

// UserHandler serves the caller's account and the admin credit operations.
type UserHandler struct {
	accounts AccountService
	ledger   LedgerReader
	validate *validator.Validate
	logger   zerolog.Logger
}

func NewUserHandler(accounts AccountService, ledger LedgerReader, v *validator.Validate, logger zerolog.Logger) *UserHandler {
	return &UserHandler{accounts: accounts, ledger: ledger, validate: v, logger: logger.With().Str("handler", "user").Logger()}
}

// RegisterRoutes mounts account and admin routes. r must already require auth;
// admin checks happen per request against the caller's stored role.
func (h *UserHandler) RegisterRoutes(r chi.Router) {
	r.Get("/me", h.getMe)
	r.Get("/me/ledger", h.getLedger)
	r.Post("/admin/users/{userID}/reconcile", h.reconcile)
	r.Post("/admin/users/{userID}/credits", h.grant)
}

func (h *UserHandler) getMe(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	st, err := h.accounts.Status(r.Context(), id.UserID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	email := st.Email
	if email == "" {
		email = id.Email
	}
	writeJSON(w, http.StatusOK, dto.AccountResponse{
		UserID:             st.UserID,
		Email:              email,
		Role:               string(st.Role),
		Plan:               string(st.Plan),
		SubscriptionStatus: string(st.SubscriptionStatus),
		CreditsRemaining:   st.Balance,
	})
}

func (h *UserHandler) getLedger(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	limit := defaultLedgerLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			writeError(w, h.logger, apperror.Invalid("limit", "must be an integer"))
			return
		}
		limit = n
	}
	entries, err := h.ledger.ListEntries(r.Context(), id.UserID, limit)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	resp := dto.LedgerResponse{Entries: make([]dto.LedgerEntryResponse, 0, len(entries))}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, dto.LedgerEntryResponse{
			ID:        e.ID,
			Delta:     e.Delta,
			Reason:    e.Reason,
			CreatedAt: e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *UserHandler) reconcile(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	target := chi.URLParam(r, "userID")
	b, err := h.accounts.Reconcile(r.Context(), id.UserID, target)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.BalanceResponse{UserID: target, CreditsRemaining: b})
}

func (h *UserHandler) grant(w http.ResponseWriter, r *http.Request) {
	id, err := identity(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	var req dto.GrantCreditsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := validateStruct(h.validate, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	target := chi.URLParam(r, "userID")
	b, err := h.accounts.Grant(r.Context(), id.UserID, target, req.Amount, req.Reason)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.BalanceResponse{UserID: target, CreditsRemaining: b})
}
