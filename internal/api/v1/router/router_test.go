package router

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"vision2viral/internal/apperror"
	"vision2viral/internal/metrics"
	"vision2viral/internal/model"
	"vision2viral/internal/service"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type tokenVerifier struct{}

func (tokenVerifier) Verify(_ context.Context, token string) (service.Identity, error) {
	if token != "good" {
		return service.Identity{}, &apperror.AuthenticationError{Reason: "bad token"}
	}
	return service.Identity{UserID: "u1"}, nil
}

type stubAccounts struct{}

func (stubAccounts) Status(_ context.Context, userID string) (*service.AccountStatus, error) {
	return &service.AccountStatus{UserID: userID, Plan: model.PlanFree, SubscriptionStatus: model.StatusNone, Balance: model.BalanceOf(3)}, nil
}

func (stubAccounts) Reconcile(context.Context, string, string) (model.Balance, error) {
	return model.Balance{}, nil
}

func (stubAccounts) Grant(context.Context, string, string, int64, string) (model.Balance, error) {
	return model.Balance{}, nil
}

type stubWebhooks struct{}

func (stubWebhooks) Handle(context.Context, []byte, string) (service.WebhookResult, error) {
	return service.WebhookResult{}, nil
}

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	return New(Deps{
		Verifier: tokenVerifier{},
		Accounts: stubAccounts{},
		Webhooks: stubWebhooks{},
		Metrics:  metrics.New(prometheus.NewRegistry()),
	}, zerolog.Nop())
}

func TestRouter(t *testing.T) {
	h := newTestRouter(t)

	do := func(method, path, token string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(`{}`))
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, do(http.MethodGet, "/healthz", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(http.MethodGet, "/v1/me", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(http.MethodGet, "/v1/me", "bad").Code)

	rec := do(http.MethodGet, "/v1/me", "good")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"credits_remaining":3`)

	// Webhooks are not behind bearer auth.
	assert.Equal(t, http.StatusOK, do(http.MethodPost, "/v1/webhooks/stripe", "").Code)
	assert.Equal(t, http.StatusNotFound, do(http.MethodGet, "/v1/nope", "good").Code)

	rec = do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `route="/v1/me"`)
}
