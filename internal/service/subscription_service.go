package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vision2viral/internal/apperror"
	"vision2viral/internal/model"
	"vision2viral/internal/repository"

	"github.com/rs/zerolog"
)

// CheckoutCompleted is the normalized payload of a completed checkout.
type CheckoutCompleted struct {
	SubscriptionID string
	CustomerID     string
	UserID         string
	Plan           model.Plan
	AmountTotal    int64
}

// SubscriptionService drives subscription rows through their lifecycle and
// applies the profile and ledger consequences of each transition. Every
// transition is idempotent.
type SubscriptionService struct {
	store      repository.Store
	ledger     *LedgerService
	affiliates *AffiliateService
	floor      int64
	logger     zerolog.Logger
}

// NewSubscriptionService creates a new SubscriptionService with a scoped logger.
func NewSubscriptionService(store repository.Store, ledger *LedgerService, affiliates *AffiliateService, floor int64, logger zerolog.Logger) *SubscriptionService {
	return &SubscriptionService{
		store:      store,
		ledger:     ledger,
		affiliates: affiliates,
		floor:      floor,
		logger:     logger.With().Str("service", "SubscriptionService").Logger(),
	}
}

// WithStore returns a copy whose store, ledger and affiliate accrual all run on st.
func (s *SubscriptionService) WithStore(st repository.Store, emit func(model.Activity)) *SubscriptionService {
	c := *s
	c.store = st
	c.ledger = s.ledger.WithStore(st)
	c.affiliates = s.affiliates.WithStore(st, emit)
	return &c
}

// Status returns the status of the subscription that governs the user's
// access, preferring a live one over newer lapsed ones, or StatusNone when the
// user never subscribed.
func (s *SubscriptionService) Status(ctx context.Context, userID string) (model.SubscriptionStatus, *model.Subscription, error) {
	status, sub, err := subscriptionStatus(ctx, s.store, userID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to fetch subscription")
		return "", nil, err
	}
	return status, sub, nil
}

func subscriptionStatus(ctx context.Context, st repository.Store, userID string) (model.SubscriptionStatus, *model.Subscription, error) {
	sub, err := st.Subscriptions().GetLatestForUser(ctx, userID)
	if errors.Is(err, apperror.ErrNotFound) {
		return model.StatusNone, nil, nil
	}
	if err != nil {
		return "", nil, err
	}
	return sub.Status, sub, nil
}

// CheckoutCompleted creates the subscription as active, or updates plan and
// customer of an existing row, then moves the profile to the plan, refills its
// balance and accrues affiliate commission.
func (s *SubscriptionService) CheckoutCompleted(ctx context.Context, in CheckoutCompleted) error {
	if in.UserID == "" {
		s.logger.Error().Str("subscription_id", in.SubscriptionID).Msg("Missing user_id in checkout session metadata; ignoring")
		return nil
	}
	if !in.Plan.Paid() {
		s.logger.Error().Str("subscription_id", in.SubscriptionID).Str("user_id", in.UserID).Str("plan", string(in.Plan)).Msg("Checkout session carries no paid plan; ignoring")
		return nil
	}

	return s.store.InTx(ctx, func(tx repository.Store) error {
		if in.SubscriptionID != "" {
			created, err := tx.Subscriptions().Insert(ctx, &model.Subscription{
				UserID:                 in.UserID,
				ExternalSubscriptionID: in.SubscriptionID,
				ExternalCustomerID:     in.CustomerID,
				Plan:                   in.Plan,
				Status:                 model.StatusActive,
			})
			if err != nil {
				return err
			}
			if !created {
				if err := tx.Subscriptions().UpdateCheckoutDetails(ctx, in.SubscriptionID, in.CustomerID, in.Plan); err != nil {
					return err
				}
			}
		} else {
			s.logger.Warn().Str("user_id", in.UserID).Msg("Checkout session has no subscription id; updating profile only")
		}

		if err := tx.Profiles().UpdatePlan(ctx, in.UserID, in.Plan); err != nil {
			return fmt.Errorf("set plan on checkout: %w", err)
		}
		if _, err := s.ledger.WithStore(tx).Refill(ctx, in.UserID, in.Plan); err != nil {
			return err
		}
		if _, err := s.affiliates.WithStore(tx, s.affiliates.emit).Accrue(ctx, in.UserID, in.AmountTotal); err != nil {
			return err
		}
		s.logger.Info().Str("user_id", in.UserID).Str("subscription_id", in.SubscriptionID).Str("plan", string(in.Plan)).Msg("Checkout completed")
		return nil
	})
}

// PaymentSucceeded refills the owner's balance with the subscription plan's allotment.
func (s *SubscriptionService) PaymentSucceeded(ctx context.Context, subscriptionID string) error {
	return s.store.InTx(ctx, func(tx repository.Store) error {
		sub, ok, err := s.lookup(ctx, tx, subscriptionID, "invoice.payment_succeeded")
		if err != nil || !ok {
			return err
		}
		if sub.Status.Terminal() {
			s.logger.Warn().Str("subscription_id", subscriptionID).Msg("Payment for canceled subscription; skipping refill")
			return nil
		}
		if _, err := s.ledger.WithStore(tx).Refill(ctx, sub.UserID, sub.Plan); err != nil {
			return err
		}
		return nil
	})
}

// PaymentFailed moves a live subscription to past_due.
func (s *SubscriptionService) PaymentFailed(ctx context.Context, subscriptionID string) error {
	return s.SubscriptionUpdated(ctx, subscriptionID, model.StatusPastDue, nil)
}

// SubscriptionUpdated records a new status and period end. Updates for unknown
// or canceled subscriptions are ignored; a transition to canceled downgrades
// the profile as a deletion does.
func (s *SubscriptionService) SubscriptionUpdated(ctx context.Context, subscriptionID string, status model.SubscriptionStatus, periodEnd *time.Time) error {
	if status == model.StatusCanceled {
		return s.SubscriptionDeleted(ctx, subscriptionID)
	}
	return s.store.InTx(ctx, func(tx repository.Store) error {
		sub, ok, err := s.lookup(ctx, tx, subscriptionID, "customer.subscription.updated")
		if err != nil || !ok {
			return err
		}
		if sub.Status.Terminal() {
			s.logger.Info().Str("subscription_id", subscriptionID).Str("status", string(status)).Msg("Ignoring update for canceled subscription")
			return nil
		}
		if err := tx.Subscriptions().UpdateStatus(ctx, subscriptionID, status, periodEnd); err != nil {
			return err
		}
		s.logger.Info().Str("subscription_id", subscriptionID).Str("from", string(sub.Status)).Str("to", string(status)).Msg("Subscription status updated")
		return nil
	})
}

// SubscriptionDeleted marks the subscription canceled. Unless the owner still
// holds another live subscription, the profile drops to the free plan with the
// configured balance floor.
func (s *SubscriptionService) SubscriptionDeleted(ctx context.Context, subscriptionID string) error {
	return s.store.InTx(ctx, func(tx repository.Store) error {
		sub, ok, err := s.lookup(ctx, tx, subscriptionID, "customer.subscription.deleted")
		if err != nil || !ok {
			return err
		}
		if sub.Status.Terminal() {
			return nil
		}
		if err := tx.Subscriptions().UpdateStatus(ctx, subscriptionID, model.StatusCanceled, nil); err != nil {
			return err
		}
		live, err := tx.Subscriptions().HasOtherLive(ctx, sub.UserID, subscriptionID)
		if err != nil {
			return err
		}
		if live {
			s.logger.Info().Str("subscription_id", subscriptionID).Str("user_id", sub.UserID).Msg("Subscription canceled; owner keeps another live subscription")
			return nil
		}
		if err := tx.Profiles().UpdatePlan(ctx, sub.UserID, model.PlanFree); err != nil {
			return fmt.Errorf("downgrade plan: %w", err)
		}
		if _, err := s.ledger.WithStore(tx).Downgrade(ctx, sub.UserID, s.floor); err != nil {
			return err
		}
		s.logger.Info().Str("subscription_id", subscriptionID).Str("user_id", sub.UserID).Int64("floor", s.floor).Msg("Subscription canceled; profile downgraded")
		return nil
	})
}

// lookup fetches a subscription by external id. A missing row is logged and
// reported as ok=false so the event is acknowledged without effect.
func (s *SubscriptionService) lookup(ctx context.Context, tx repository.Store, subscriptionID, event string) (*model.Subscription, bool, error) {
	if subscriptionID == "" {
		s.logger.Warn().Str("event_type", event).Msg("Event carries no subscription id; ignoring")
		return nil, false, nil
	}
	sub, err := tx.Subscriptions().GetByExternalID(ctx, subscriptionID)
	if errors.Is(err, apperror.ErrNotFound) {
		s.logger.Warn().Str("subscription_id", subscriptionID).Str("event_type", event).Msg("Unknown subscription; ignoring")
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return sub, true, nil
}
