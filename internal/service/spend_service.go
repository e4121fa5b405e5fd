package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"vision2viral/internal/apperror"
	"vision2viral/internal/metrics"
	"vision2viral/internal/model"
	"vision2viral/internal/repository"

	"github.com/rs/zerolog"
)

// WarningRecordFailed is returned alongside a successful generation whose
// history record could not be written.
const WarningRecordFailed = "Generation succeeded but saving it failed; your balance is being reconciled."

// ReconcileEnqueuer schedules an asynchronous balance recompute for a user.
type ReconcileEnqueuer interface {
	EnqueueReconcile(ctx context.Context, userID, reason string) error
}

// SpendRequest asks for one paid generation.
type SpendRequest struct {
	UserID  string
	Feature model.Feature
	Params  model.GenerationParams
}

// SpendResult is the outcome of an accepted spend.
type SpendResult struct {
	Feature    model.Feature
	Cost       int64
	Balance    model.Balance
	Plan       model.Plan
	Role       model.Role
	Output     *model.GenerationOutput
	Generation *model.Generation
	Warning    string
}

// SpendService gates paid generations: it prices the feature, checks the
// subscription, debits the ledger, calls the generator and records the result.
// A debit whose generation fails is refunded.
type SpendService struct {
	store      repository.Store
	ledger     *LedgerService
	subs       *SubscriptionService
	generator  Generator
	signer     AssetSigner
	reconcile  ReconcileEnqueuer
	activities ActivitySink
	metrics    *metrics.Metrics
	logger     zerolog.Logger
}

// SpendDeps are the collaborators of a SpendService. Signer, Reconcile and
// Activities may be nil.
type SpendDeps struct {
	Store      repository.Store
	Ledger     *LedgerService
	Subs       *SubscriptionService
	Generator  Generator
	Signer     AssetSigner
	Reconcile  ReconcileEnqueuer
	Activities ActivitySink
	Metrics    *metrics.Metrics
}

// NewSpendService creates a SpendService with a scoped logger.
func NewSpendService(d SpendDeps, logger zerolog.Logger) *SpendService {
	return &SpendService{
		store:      d.Store,
		ledger:     d.Ledger,
		subs:       d.Subs,
		generator:  d.Generator,
		signer:     d.Signer,
		reconcile:  d.Reconcile,
		activities: d.Activities,
		metrics:    d.Metrics,
		logger:     logger.With().Str("service", "SpendService").Logger(),
	}
}

// Spend runs one generation for req.UserID. Rejections carry no side effects.
func (s *SpendService) Spend(ctx context.Context, req SpendRequest) (*SpendResult, error) {
	feature := string(req.Feature)
	res, err := s.spend(ctx, req)
	switch {
	case err == nil:
		s.metrics.Spend(feature, "ok")
	case apperror.Terminal(err):
		s.metrics.Spend(feature, "rejected")
	default:
		s.metrics.Spend(feature, spendOutcome(err))
	}
	return res, err
}

func spendOutcome(err error) string {
	switch {
	case errors.Is(err, apperror.ErrInsufficientCredits), errors.Is(err, apperror.ErrSubscriptionInactive):
		return "payment_required"
	case errors.Is(err, apperror.ErrUpstream):
		return "upstream_failed"
	default:
		return "error"
	}
}

func (s *SpendService) spend(ctx context.Context, req SpendRequest) (*SpendResult, error) {
	cost, ok := model.FeatureCost(req.Feature)
	if !ok {
		return nil, apperror.Invalid("feature", fmt.Sprintf("unknown feature %q", req.Feature))
	}
	log := s.logger.With().Str("user_id", req.UserID).Str("feature", string(req.Feature)).Logger()

	profile, err := s.store.Profiles().GetProfile(ctx, req.UserID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load profile for spend")
		return nil, err
	}
	if profile.Plan.Paid() {
		status, _, err := s.subs.Status(ctx, req.UserID)
		if err != nil {
			return nil, err
		}
		if !status.AllowsSpend() {
			log.Info().Str("plan", string(profile.Plan)).Str("status", string(status)).Msg("Spend rejected: subscription not active")
			return nil, &apperror.SubscriptionInactiveError{Plan: string(profile.Plan), Status: string(status)}
		}
	}

	imageURL, err := s.resolveImage(ctx, profile, req.Params.InputImagePath)
	if err != nil {
		return nil, err
	}

	res := &SpendResult{Feature: req.Feature, Cost: cost, Plan: profile.Plan, Role: profile.Role}
	charged := int64(0)
	if profile.Unlimited() {
		res.Balance = model.UnlimitedBalance()
	} else {
		res.Balance, err = s.debit(ctx, req.UserID, profile.Plan, req.Feature, cost)
		if err != nil {
			var short *apperror.InsufficientCreditsError
			if errors.As(err, &short) {
				short.Plan = string(profile.Plan)
			}
			log.Info().Err(err).Int64("cost", cost).Msg("Spend rejected by ledger")
			return nil, err
		}
		if !res.Balance.Unlimited {
			charged = cost
		}
	}

	start := time.Now()
	out, err := s.generator.Generate(ctx, GenerationRequest{Feature: req.Feature, ImageURL: imageURL, Params: req.Params})
	s.metrics.Generation(time.Since(start), err)
	if err != nil {
		log.Error().Err(err).Msg("Generation failed")
		if charged > 0 {
			s.refund(ctx, log, req.UserID, charged)
		}
		return nil, err
	}
	res.Output = out

	params := NormalizeParams(req.Params)
	payload, err := json.Marshal(struct {
		Params model.GenerationParams  `json:"params"`
		Output *model.GenerationOutput `json:"output"`
	}{params, out})
	if err != nil {
		return nil, fmt.Errorf("marshal generation payload: %w", err)
	}
	gen := &model.Generation{
		UserID:         req.UserID,
		Feature:        req.Feature,
		CostCharged:    charged,
		Platform:       params.Platform,
		InputImagePath: req.Params.InputImagePath,
		Payload:        payload,
	}
	if err := s.store.Generations().Create(ctx, gen); err != nil {
		log.Error().Err(err).Int64("cost_charged", charged).Msg("Failed to record generation after debit")
		res.Warning = WarningRecordFailed
		s.scheduleReconcile(ctx, log, req.UserID)
	} else {
		res.Generation = gen
	}

	s.publish(ctx, log, model.Activity{
		UserID:  req.UserID,
		Type:    "generation",
		Message: fmt.Sprintf("Generated %s for %s", req.Feature, params.Platform),
		Meta:    map[string]any{"feature": string(req.Feature), "cost": charged, "platform": params.Platform},
	})
	log.Info().Int64("cost_charged", charged).Bool("unlimited", res.Balance.Unlimited).Msg("Generation completed")
	return res, nil
}

// debit charges cost under the per-user lock. Plan and subscription status are
// read again under that lock, so a cancellation committed after the first
// check rejects the spend instead of charging the downgraded balance.
func (s *SpendService) debit(ctx context.Context, userID string, plan model.Plan, feature model.Feature, cost int64) (model.Balance, error) {
	var balance model.Balance
	err := s.store.InTx(ctx, func(tx repository.Store) error {
		if err := tx.Ledger().LockUser(ctx, userID); err != nil {
			return err
		}
		current, err := tx.Profiles().GetProfile(ctx, userID)
		if err != nil {
			return err
		}
		if plan.Paid() {
			status, _, err := subscriptionStatus(ctx, tx, userID)
			if err != nil {
				return err
			}
			if !current.Plan.Paid() || !status.AllowsSpend() {
				return &apperror.SubscriptionInactiveError{Plan: string(plan), Status: string(status)}
			}
		}
		if current.Unlimited() {
			balance = model.UnlimitedBalance()
			return nil
		}
		balance, err = s.ledger.WithStore(tx).Debit(ctx, userID, cost, string(feature))
		return err
	})
	return balance, err
}

// resolveImage checks that path belongs to the caller and signs it. Owners may
// read any upload.
func (s *SpendService) resolveImage(ctx context.Context, profile *model.Profile, path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if profile.Role != model.RoleOwner && !strings.HasPrefix(strings.TrimPrefix(path, "/"), profile.UserID+"/") {
		return "", &apperror.AuthorizationError{Reason: "upload belongs to another user"}
	}
	if s.signer == nil {
		return "", apperror.Invalid("input_image_path", "uploads are not configured")
	}
	return s.signer.SignedURL(ctx, path)
}

func (s *SpendService) refund(ctx context.Context, log zerolog.Logger, userID string, amount int64) {
	ctx = context.WithoutCancel(ctx)
	if _, err := s.ledger.Refund(ctx, userID, amount); err != nil {
		log.Error().Err(err).Int64("amount", amount).Msg("Failed to refund credits after generation failure")
		s.scheduleReconcile(ctx, log, userID)
		return
	}
	log.Info().Int64("amount", amount).Msg("Credits refunded after generation failure")
}

// scheduleReconcile queues a recompute and also tries one inline.
func (s *SpendService) scheduleReconcile(ctx context.Context, log zerolog.Logger, userID string) {
	ctx = context.WithoutCancel(ctx)
	if s.reconcile != nil {
		if err := s.reconcile.EnqueueReconcile(ctx, userID, "spend_bookkeeping_failed"); err != nil {
			log.Error().Err(err).Msg("Failed to enqueue balance reconcile")
		}
	}
	if _, err := s.ledger.RecomputeBalance(ctx, userID); err != nil {
		log.Warn().Err(err).Msg("Inline balance recompute failed")
	}
}

func (s *SpendService) publish(ctx context.Context, log zerolog.Logger, a model.Activity) {
	if s.activities == nil {
		return
	}
	a.CreatedAt = time.Now().UTC()
	if err := s.activities.PublishActivity(ctx, a); err != nil {
		log.Warn().Err(err).Str("activity_type", a.Type).Msg("Failed to publish activity")
	}
}
