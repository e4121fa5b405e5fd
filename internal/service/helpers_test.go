package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"vision2viral/internal/apperror"
	"vision2viral/internal/model"
	"vision2viral/internal/repository"
	"vision2viral/internal/repository/memory"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"
)

const testWebhookSecret = "whsec_test_secret"

type fakeGenerator struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (g *fakeGenerator) Generate(_ context.Context, req GenerationRequest) (*model.GenerationOutput, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	return &model.GenerationOutput{
		Hooks:    []string{"hook for " + string(req.Feature)},
		Caption:  "caption",
		Hashtags: []string{"#tag"},
	}, nil
}

func (g *fakeGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

type recordingSink struct {
	mu         sync.Mutex
	activities []model.Activity
}

func (r *recordingSink) PublishActivity(_ context.Context, a model.Activity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activities = append(r.activities, a)
	return nil
}

func (r *recordingSink) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, a := range r.activities {
		out = append(out, a.Type)
	}
	return out
}

type fakeReconcile struct {
	mu    sync.Mutex
	users []string
}

func (f *fakeReconcile) EnqueueReconcile(_ context.Context, userID, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users = append(f.users, userID)
	return nil
}

type fakeSigner struct{}

func (fakeSigner) SignedURL(_ context.Context, path string) (string, error) {
	return "https://storage.test/" + path + "?sig=1", nil
}

// failingGenerations wraps a Store so generation writes fail.
type failingGenerations struct {
	repository.Store
}

func (f failingGenerations) Generations() repository.GenerationRepository {
	return brokenGenerationRepo{}
}

func (f failingGenerations) InTx(ctx context.Context, fn func(tx repository.Store) error) error {
	return f.Store.InTx(ctx, func(tx repository.Store) error { return fn(failingGenerations{tx}) })
}

type brokenGenerationRepo struct{}

func (brokenGenerationRepo) Create(context.Context, *model.Generation) error {
	return &apperror.UpstreamError{Service: "database", Err: context.DeadlineExceeded}
}

func (brokenGenerationRepo) CountForUser(context.Context, string) (int, error) { return 0, nil }

type testEnv struct {
	store      *memory.Store
	ledger     *LedgerService
	affiliates *AffiliateService
	subs       *SubscriptionService
	webhooks   *WebhookService
	spend      *SpendService
	gen        *fakeGenerator
	sink       *recordingSink
	reconcile  *fakeReconcile
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := zerolog.Nop()
	st := memory.New()
	env := &testEnv{store: st, gen: &fakeGenerator{}, sink: &recordingSink{}, reconcile: &fakeReconcile{}}
	env.ledger = NewLedgerService(st, nil, logger)
	env.affiliates = NewAffiliateService(st, logger)
	env.subs = NewSubscriptionService(st, env.ledger, env.affiliates, model.DefaultCanceledFloor, logger)
	env.webhooks = NewWebhookService(st, env.subs, testWebhookSecret, 0, env.sink, nil, logger)
	env.spend = env.newSpend(st)
	return env
}

func (e *testEnv) newSpend(st repository.Store) *SpendService {
	return NewSpendService(SpendDeps{
		Store:      st,
		Ledger:     e.ledger,
		Subs:       e.subs,
		Generator:  e.gen,
		Signer:     fakeSigner{},
		Reconcile:  e.reconcile,
		Activities: e.sink,
	}, zerolog.Nop())
}

// subscribe seeds a profile on plan with a subscription in status.
func (e *testEnv) subscribe(t *testing.T, userID string, plan model.Plan, status model.SubscriptionStatus) {
	t.Helper()
	ctx := context.Background()
	e.store.PutProfile(model.Profile{UserID: userID, Email: userID + "@example.com", Plan: plan})
	_, err := e.store.Subscriptions().Insert(ctx, &model.Subscription{
		UserID:                 userID,
		ExternalSubscriptionID: "sub_" + userID,
		ExternalCustomerID:     "cus_" + userID,
		Plan:                   plan,
		Status:                 status,
	})
	require.NoError(t, err)
}

func (e *testEnv) balance(t *testing.T, userID string) int64 {
	t.Helper()
	b, err := e.ledger.Balance(context.Background(), userID)
	require.NoError(t, err)
	return b.Credits
}

// signedEvent builds a Stripe event envelope around object and signs it.
func signedEvent(t *testing.T, id, eventType string, object any) ([]byte, string) {
	t.Helper()
	obj, err := json.Marshal(object)
	require.NoError(t, err)
	payload, err := json.Marshal(map[string]any{
		"id":          id,
		"object":      "event",
		"type":        eventType,
		"api_version": "2025-03-31.basil",
		"created":     time.Now().Unix(),
		"data":        map[string]json.RawMessage{"object": obj},
	})
	require.NoError(t, err)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})
	return signed.Payload, signed.Header
}

func checkoutObject(userID, plan, subID string, amount int64) map[string]any {
	return map[string]any{
		"id":           "cs_" + userID,
		"object":       "checkout.session",
		"mode":         "subscription",
		"amount_total": amount,
		"customer":     "cus_" + userID,
		"subscription": subID,
		"metadata":     map[string]string{"plan": plan, "user_id": userID},
	}
}
