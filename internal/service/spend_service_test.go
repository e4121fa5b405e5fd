package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"vision2viral/internal/apperror"
	"vision2viral/internal/model"
	"vision2viral/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpend_UnknownFeatureRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.store.PutProfile(model.Profile{UserID: "u1"})
	_, err := env.ledger.Grant(ctx, "u1", 10, "")
	require.NoError(t, err)

	_, err = env.spend.Spend(ctx, SpendRequest{UserID: "u1", Feature: "thumbnail"})
	assert.ErrorIs(t, err, apperror.ErrValidation)
	assert.Equal(t, int64(10), env.balance(t, "u1"))
	assert.Zero(t, env.gen.Calls())
	assert.Empty(t, env.store.AllGenerations())
}

func TestSpend_InsufficientCredits(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.subscribe(t, "u1", model.PlanStarter, model.StatusActive)
	_, err := env.ledger.Grant(ctx, "u1", 1, "")
	require.NoError(t, err)

	_, err = env.spend.Spend(ctx, SpendRequest{UserID: "u1", Feature: model.FeatureScript})
	var insufficient *apperror.InsufficientCreditsError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, int64(1), insufficient.Balance)
	assert.Equal(t, int64(2), insufficient.Required)
	assert.Equal(t, int64(1), env.balance(t, "u1"))
	assert.Empty(t, env.store.AllGenerations())
	assert.Zero(t, env.gen.Calls())
}

func TestSpend_AgencyIsUnlimited(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.subscribe(t, "u1", model.PlanAgency, model.StatusActive)

	for i := 0; i < 4; i++ {
		res, err := env.spend.Spend(ctx, SpendRequest{UserID: "u1", Feature: model.FeatureBundle})
		require.NoError(t, err)
		assert.True(t, res.Balance.Unlimited)
		assert.Equal(t, int64(4), res.Cost)
		require.NotNil(t, res.Generation)
		assert.Zero(t, res.Generation.CostCharged)
	}
	assert.Empty(t, env.store.Entries("u1"))
	assert.Len(t, env.store.AllGenerations(), 4)
}

func TestSpend_OwnerBypassesBalance(t *testing.T) {
	env := newTestEnv(t)
	env.store.PutProfile(model.Profile{UserID: "o1", Role: model.RoleOwner})

	res, err := env.spend.Spend(context.Background(), SpendRequest{UserID: "o1", Feature: model.FeatureHooks})
	require.NoError(t, err)
	assert.True(t, res.Balance.Unlimited)
	assert.Empty(t, env.store.Entries("o1"))
}

func TestSpend_InactiveSubscription(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.subscribe(t, "u1", model.PlanCreator, model.StatusPastDue)
	_, err := env.ledger.Grant(ctx, "u1", 100, "")
	require.NoError(t, err)

	_, err = env.spend.Spend(ctx, SpendRequest{UserID: "u1", Feature: model.FeatureHooks})
	var inactive *apperror.SubscriptionInactiveError
	require.ErrorAs(t, err, &inactive)
	assert.Equal(t, "past_due", inactive.Status)
	assert.Equal(t, int64(100), env.balance(t, "u1"))

	// A paid plan without any subscription row is also inactive.
	env.store.PutProfile(model.Profile{UserID: "u2", Plan: model.PlanStarter})
	_, err = env.spend.Spend(ctx, SpendRequest{UserID: "u2", Feature: model.FeatureHooks})
	assert.ErrorIs(t, err, apperror.ErrSubscriptionInactive)
}

func TestSpend_Success(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.subscribe(t, "u1", model.PlanStarter, model.StatusTrialing)
	_, err := env.ledger.Refill(ctx, "u1", model.PlanStarter)
	require.NoError(t, err)

	res, err := env.spend.Spend(ctx, SpendRequest{
		UserID:  "u1",
		Feature: model.FeatureScript,
		Params:  model.GenerationParams{Platform: "instagram", InputImagePath: "u1/photo.png"},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(198), res.Balance.Credits)
	assert.Empty(t, res.Warning)
	require.NotNil(t, res.Generation)
	assert.Equal(t, int64(2), res.Generation.CostCharged)
	assert.Equal(t, "instagram", res.Generation.Platform)
	assert.Equal(t, "u1/photo.png", res.Generation.InputImagePath)
	assert.Contains(t, env.sink.Types(), "generation")

	entries := env.store.Entries("u1")
	assert.Equal(t, "script", entries[len(entries)-1].Reason)
}

func TestSpend_ForeignUploadRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.store.PutProfile(model.Profile{UserID: "u1"})
	_, err := env.ledger.Grant(ctx, "u1", 5, "")
	require.NoError(t, err)

	_, err = env.spend.Spend(ctx, SpendRequest{
		UserID:  "u1",
		Feature: model.FeatureHooks,
		Params:  model.GenerationParams{InputImagePath: "u2/photo.png"},
	})
	assert.ErrorIs(t, err, apperror.ErrAuthorization)
	assert.Equal(t, int64(5), env.balance(t, "u1"))

	env.store.PutProfile(model.Profile{UserID: "o1", Role: model.RoleOwner})
	_, err = env.spend.Spend(ctx, SpendRequest{
		UserID:  "o1",
		Feature: model.FeatureHooks,
		Params:  model.GenerationParams{InputImagePath: "u2/photo.png"},
	})
	assert.NoError(t, err)
}

func TestSpend_GeneratorFailureRefunds(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.store.PutProfile(model.Profile{UserID: "u1"})
	_, err := env.ledger.Grant(ctx, "u1", 10, "")
	require.NoError(t, err)
	env.gen.err = &apperror.UpstreamError{Service: "generation backend", Err: errors.New("timeout")}

	_, err = env.spend.Spend(ctx, SpendRequest{UserID: "u1", Feature: model.FeatureBundle})
	assert.ErrorIs(t, err, apperror.ErrUpstream)
	assert.Equal(t, int64(10), env.balance(t, "u1"))
	assert.Empty(t, env.store.AllGenerations())

	entries := env.store.Entries("u1")
	require.Len(t, entries, 3)
	assert.Equal(t, int64(-4), entries[1].Delta)
	assert.Equal(t, model.ReasonRefund, entries[2].Reason)
}

func TestSpend_RecordFailureReturnsWarning(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.store.PutProfile(model.Profile{UserID: "u1"})
	_, err := env.ledger.Grant(ctx, "u1", 10, "")
	require.NoError(t, err)

	spend := env.newSpend(failingGenerations{env.store})
	res, err := spend.Spend(ctx, SpendRequest{UserID: "u1", Feature: model.FeatureCaption})
	require.NoError(t, err)
	assert.Equal(t, WarningRecordFailed, res.Warning)
	assert.NotNil(t, res.Output)
	assert.Nil(t, res.Generation)
	assert.Equal(t, int64(9), env.balance(t, "u1"))
	assert.Equal(t, []string{"u1"}, env.reconcile.users)
}

func TestSpend_ConcurrentSpendsNeverOverdraw(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.store.PutProfile(model.Profile{UserID: "u1"})
	_, err := env.ledger.Grant(ctx, "u1", 10, "")
	require.NoError(t, err)

	var ok atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := env.spend.Spend(ctx, SpendRequest{UserID: "u1", Feature: model.FeatureHooks}); err == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(10), ok.Load())
	assert.Equal(t, int64(0), env.balance(t, "u1"))
	assert.Len(t, env.store.AllGenerations(), 10)
}

// interleavedStore runs before ahead of the first transaction it opens.
type interleavedStore struct {
	repository.Store
	once   sync.Once
	before func()
}

func (s *interleavedStore) InTx(ctx context.Context, fn func(tx repository.Store) error) error {
	s.once.Do(s.before)
	return s.Store.InTx(ctx, fn)
}

func TestSpend_CancellationBeforeDebitRejects(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.subscribe(t, "u1", model.PlanStarter, model.StatusActive)
	_, err := env.ledger.Refill(ctx, "u1", model.PlanStarter)
	require.NoError(t, err)

	st := &interleavedStore{Store: env.store, before: func() {
		require.NoError(t, env.subs.SubscriptionDeleted(ctx, "sub_u1"))
	}}
	_, err = env.newSpend(st).Spend(ctx, SpendRequest{UserID: "u1", Feature: model.FeatureHooks})
	var inactive *apperror.SubscriptionInactiveError
	require.ErrorAs(t, err, &inactive)
	assert.Equal(t, "canceled", inactive.Status)
	assert.Equal(t, model.DefaultCanceledFloor, env.balance(t, "u1"))
	assert.Zero(t, env.gen.Calls())
	assert.Empty(t, env.store.AllGenerations())
}
