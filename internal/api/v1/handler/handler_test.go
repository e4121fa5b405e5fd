package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"vision2viral/internal/apperror"
	"vision2viral/internal/middleware"
	"vision2viral/internal/model"
	"vision2viral/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSpender struct {
	got service.SpendRequest
	res *service.SpendResult
	err error
}

func (f *fakeSpender) Spend(_ context.Context, req service.SpendRequest) (*service.SpendResult, error) {
	f.got = req
	return f.res, f.err
}

type fakeSessions struct {
	plan string
	err  error
}

func (f *fakeSessions) CreateCheckoutSession(_ context.Context, id service.Identity, plan string) (string, error) {
	f.plan = plan
	if f.err != nil {
		return "", f.err
	}
	return "https://checkout.stripe.test/" + id.UserID, nil
}

func (f *fakeSessions) CreatePortalSession(_ context.Context, userID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "https://billing.stripe.test/" + userID, nil
}

type fakeAccounts struct {
	status  *service.AccountStatus
	admins  map[string]bool
	granted int64
}

func (f *fakeAccounts) Status(_ context.Context, userID string) (*service.AccountStatus, error) {
	if f.status == nil || f.status.UserID != userID {
		return nil, apperror.NotFound("profile", userID)
	}
	return f.status, nil
}

func (f *fakeAccounts) Reconcile(_ context.Context, adminID, _ string) (model.Balance, error) {
	if !f.admins[adminID] {
		return model.Balance{}, &apperror.AuthorizationError{Reason: "admin role required"}
	}
	return model.BalanceOf(12), nil
}

func (f *fakeAccounts) Grant(_ context.Context, adminID, _ string, amount int64, _ string) (model.Balance, error) {
	if !f.admins[adminID] {
		return model.Balance{}, &apperror.AuthorizationError{Reason: "admin role required"}
	}
	f.granted += amount
	return model.BalanceOf(f.granted), nil
}

type fakeLedgerReader struct{ limit int }

func (f *fakeLedgerReader) ListEntries(_ context.Context, userID string, limit int) ([]model.CreditLedgerEntry, error) {
	f.limit = limit
	if limit > 200 {
		return nil, apperror.Invalid("limit", "must be between 1 and 200")
	}
	return []model.CreditLedgerEntry{
		{ID: "e2", UserID: userID, Delta: -4, Reason: "bundle", CreatedAt: time.Unix(200, 0).UTC()},
		{ID: "e1", UserID: userID, Delta: 200, Reason: "refill", CreatedAt: time.Unix(100, 0).UTC()},
	}, nil
}

type fakeWebhooks struct{ err error }

func (f *fakeWebhooks) Handle(context.Context, []byte, string) (service.WebhookResult, error) {
	return service.WebhookResult{EventID: "evt_1", EventType: "invoice.paid"}, f.err
}

// withUser injects an identity the way AuthMiddleware would.
func withUser(userID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := middleware.WithIdentity(r.Context(), service.Identity{UserID: userID, Email: userID + "@example.com"})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type registrar interface{ RegisterRoutes(chi.Router) }

func serve(t *testing.T, h registrar, userID, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	if userID != "" {
		r.Use(withUser(userID))
	}
	h.RegisterRoutes(r)
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func newValidator() *validator.Validate {
	return validator.New(validator.WithRequiredStructEnabled())
}

func TestGenerate_Success(t *testing.T) {
	spend := &fakeSpender{res: &service.SpendResult{
		Feature:    model.FeatureHooks,
		Cost:       1,
		Balance:    model.BalanceOf(199),
		Plan:       model.PlanStarter,
		Role:       model.RoleUser,
		Output:     &model.GenerationOutput{Hooks: []string{"h1"}},
		Generation: &model.Generation{ID: "gen_1"},
	}}
	h := NewGenerateHandler(spend, newValidator(), zerolog.Nop())

	rec := serve(t, h, "u1", http.MethodPost, "/generate", `{"feature":"hooks","platform":"tiktok","hooks_count":7}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decode(t, rec)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "gen_1", body["generation_id"])
	assert.Equal(t, float64(1), body["credits_cost"])
	assert.Equal(t, float64(199), body["credits_remaining"])
	assert.Equal(t, "starter", body["plan"])
	assert.NotContains(t, body, "warning")

	assert.Equal(t, "u1", spend.got.UserID)
	assert.Equal(t, model.FeatureHooks, spend.got.Feature)
	assert.Equal(t, 7, spend.got.Params.HooksCount)
}

func TestGenerate_UnlimitedAndWarning(t *testing.T) {
	spend := &fakeSpender{res: &service.SpendResult{
		Feature: model.FeatureBundle,
		Cost:    4,
		Balance: model.UnlimitedBalance(),
		Plan:    model.PlanAgency,
		Role:    model.RoleUser,
		Output:  &model.GenerationOutput{},
		Warning: service.WarningRecordFailed,
	}}
	h := NewGenerateHandler(spend, newValidator(), zerolog.Nop())

	rec := serve(t, h, "u1", http.MethodPost, "/generate", `{"feature":"bundle"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "unlimited", body["credits_remaining"])
	assert.Equal(t, service.WarningRecordFailed, body["warning"])
	assert.NotContains(t, body, "generation_id")
}

func TestGenerate_Errors(t *testing.T) {
	cases := []struct {
		name   string
		body   string
		err    error
		status int
		check  func(t *testing.T, body map[string]any)
	}{
		{
			name:   "bad json",
			body:   `{`,
			status: http.StatusBadRequest,
		},
		{
			name:   "missing feature",
			body:   `{"platform":"tiktok"}`,
			status: http.StatusBadRequest,
		},
		{
			name:   "insufficient credits",
			body:   `{"feature":"script"}`,
			err:    &apperror.InsufficientCreditsError{Balance: 1, Required: 2, Plan: "starter"},
			status: http.StatusPaymentRequired,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, "Not enough credits", body["error"])
				assert.Equal(t, float64(1), body["credits_remaining"])
				assert.Equal(t, float64(2), body["needed"])
				assert.Equal(t, "starter", body["plan"])
			},
		},
		{
			name:   "inactive subscription",
			body:   `{"feature":"hooks"}`,
			err:    &apperror.SubscriptionInactiveError{Plan: "creator", Status: "past_due"},
			status: http.StatusPaymentRequired,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, "Subscription not active", body["error"])
				assert.Equal(t, "past_due", body["status"])
			},
		},
		{
			name:   "foreign upload",
			body:   `{"feature":"hooks","input_image_path":"u2/a.png"}`,
			err:    &apperror.AuthorizationError{Reason: "upload belongs to another user"},
			status: http.StatusForbidden,
		},
		{
			name:   "generator down",
			body:   `{"feature":"hooks"}`,
			err:    &apperror.UpstreamError{Service: "generation backend", Err: errors.New("sk-secret leaked")},
			status: http.StatusBadGateway,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, "Upstream service unavailable", body["error"])
			},
		},
		{
			name:   "internal",
			body:   `{"feature":"hooks"}`,
			err:    errors.New("pq: connection reset"),
			status: http.StatusInternalServerError,
			check: func(t *testing.T, body map[string]any) {
				assert.Equal(t, "Internal server error", body["error"])
			},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewGenerateHandler(&fakeSpender{err: tc.err}, newValidator(), zerolog.Nop())
			rec := serve(t, h, "u1", http.MethodPost, "/generate", tc.body)
			assert.Equal(t, tc.status, rec.Code, rec.Body.String())
			if tc.check != nil {
				tc.check(t, decode(t, rec))
			}
		})
	}
}

func TestGenerate_RequiresIdentity(t *testing.T) {
	h := NewGenerateHandler(&fakeSpender{}, newValidator(), zerolog.Nop())
	rec := serve(t, h, "", http.MethodPost, "/generate", `{"feature":"hooks"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBilling(t *testing.T) {
	sessions := &fakeSessions{}
	h := NewBillingHandler(sessions, newValidator(), zerolog.Nop())

	rec := serve(t, h, "u1", http.MethodPost, "/billing/checkout", `{"plan":"creator"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://checkout.stripe.test/u1", decode(t, rec)["url"])
	assert.Equal(t, "creator", sessions.plan)

	rec = serve(t, h, "u1", http.MethodPost, "/billing/checkout", `{"plan":"free"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, h, "u1", http.MethodPost, "/billing/portal", ``)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "https://billing.stripe.test/u1", decode(t, rec)["url"])

	sessions.err = apperror.NotFound("stripe customer", "u1")
	rec = serve(t, h, "u1", http.MethodPost, "/billing/portal", ``)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUser_Me(t *testing.T) {
	accounts := &fakeAccounts{status: &service.AccountStatus{
		UserID:             "u1",
		Email:              "u1@example.com",
		Role:               model.RoleUser,
		Plan:               model.PlanAgency,
		SubscriptionStatus: model.StatusTrialing,
		Balance:            model.UnlimitedBalance(),
	}}
	h := NewUserHandler(accounts, &fakeLedgerReader{}, newValidator(), zerolog.Nop())

	rec := serve(t, h, "u1", http.MethodGet, "/me", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "agency", body["plan"])
	assert.Equal(t, "trialing", body["subscription_status"])
	assert.Equal(t, "unlimited", body["credits_remaining"])

	rec = serve(t, h, "ghost", http.MethodGet, "/me", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUser_Ledger(t *testing.T) {
	ledger := &fakeLedgerReader{}
	h := NewUserHandler(&fakeAccounts{}, ledger, newValidator(), zerolog.Nop())

	rec := serve(t, h, "u1", http.MethodGet, "/me/ledger", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, defaultLedgerLimit, ledger.limit)
	var resp struct {
		Entries []struct {
			ID     string `json:"id"`
			Delta  int64  `json:"delta"`
			Reason string `json:"reason"`
		} `json:"entries"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Entries, 2)
	assert.Equal(t, int64(-4), resp.Entries[0].Delta)

	rec = serve(t, h, "u1", http.MethodGet, "/me/ledger?limit=5", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, ledger.limit)

	rec = serve(t, h, "u1", http.MethodGet, "/me/ledger?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = serve(t, h, "u1", http.MethodGet, "/me/ledger?limit=500", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUser_Admin(t *testing.T) {
	accounts := &fakeAccounts{admins: map[string]bool{"admin": true}}
	h := NewUserHandler(accounts, &fakeLedgerReader{}, newValidator(), zerolog.Nop())

	rec := serve(t, h, "admin", http.MethodPost, "/admin/users/u9/credits", `{"amount":50,"reason":"support"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "u9", body["user_id"])
	assert.Equal(t, float64(50), body["credits_remaining"])

	rec = serve(t, h, "admin", http.MethodPost, "/admin/users/u9/credits", `{"amount":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(t, h, "u1", http.MethodPost, "/admin/users/u9/credits", `{"amount":50}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = serve(t, h, "admin", http.MethodPost, "/admin/users/u9/reconcile", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(12), decode(t, rec)["credits_remaining"])

	rec = serve(t, h, "u1", http.MethodPost, "/admin/users/u9/reconcile", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestWebhook(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"processed", nil, http.StatusOK},
		{"bad signature", &apperror.AuthenticationError{Reason: "webhook signature"}, http.StatusBadRequest},
		{"malformed", apperror.Invalid("event", "missing id"), http.StatusBadRequest},
		{"handler failed", errors.New("deadlock detected"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewWebhookHandler(&fakeWebhooks{err: tc.err}, zerolog.Nop())
			rec := serve(t, h, "", http.MethodPost, "/webhooks/stripe", `{"id":"evt_1"}`)
			assert.Equal(t, tc.status, rec.Code)
			if tc.status == http.StatusOK {
				assert.JSONEq(t, `{"received":true}`, rec.Body.String())
			}
		})
	}
}
