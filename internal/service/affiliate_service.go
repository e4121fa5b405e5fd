package service

import (
	"context"
	"errors"

	"vision2viral/internal/apperror"
	"vision2viral/internal/model"
	"vision2viral/internal/repository"

	"github.com/rs/zerolog"
)

// AffiliateService credits referral commission on a referred user's first payment.
type AffiliateService struct {
	store  repository.Store
	emit   func(model.Activity)
	logger zerolog.Logger
}

// NewAffiliateService creates an AffiliateService with a scoped logger.
func NewAffiliateService(store repository.Store, logger zerolog.Logger) *AffiliateService {
	return &AffiliateService{
		store:  store,
		logger: logger.With().Str("service", "AffiliateService").Logger(),
	}
}

// WithStore returns a copy bound to st. emit, when set, receives an activity for
// each recorded payout.
func (s *AffiliateService) WithStore(st repository.Store, emit func(model.Activity)) *AffiliateService {
	c := *s
	c.store = st
	c.emit = emit
	return &c
}

// Accrue awards CommissionPercent of amountCents to the affiliate that most
// recently referred userID. It is a no-op without a referral, for an unknown
// code, for a zero commission, or when the commission was already paid.
func (s *AffiliateService) Accrue(ctx context.Context, userID string, amountCents int64) (*model.AffiliatePayoutEvent, error) {
	commission := model.Commission(amountCents)
	if commission == 0 {
		return nil, nil
	}

	var payout *model.AffiliatePayoutEvent
	err := s.store.InTx(ctx, func(tx repository.Store) error {
		repo := tx.Affiliates()
		ref, err := repo.LatestReferral(ctx, userID)
		if errors.Is(err, apperror.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		if _, err := repo.GetByCode(ctx, ref.AffiliateCode); err != nil {
			if errors.Is(err, apperror.ErrNotFound) {
				s.logger.Warn().Str("user_id", userID).Str("affiliate_code", ref.AffiliateCode).Msg("Referral points to unknown affiliate; skipping commission")
				return nil
			}
			return err
		}

		paid, err := repo.HasPayout(ctx, ref.AffiliateCode, userID, model.ReasonFirstPaymentCommission)
		if err != nil {
			return err
		}
		if paid {
			s.logger.Info().Str("user_id", userID).Str("affiliate_code", ref.AffiliateCode).Msg("First payment commission already recorded")
			return nil
		}

		if err := repo.AddEarnings(ctx, ref.AffiliateCode, commission); err != nil {
			return err
		}
		ev := &model.AffiliatePayoutEvent{
			AffiliateCode:  ref.AffiliateCode,
			ReferredUserID: userID,
			AmountCents:    commission,
			Reason:         model.ReasonFirstPaymentCommission,
		}
		if err := repo.RecordPayout(ctx, ev); err != nil {
			return err
		}
		payout = ev
		return nil
	})
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Int64("amount_cents", amountCents).Msg("Failed to accrue affiliate commission")
		return nil, err
	}
	if payout != nil {
		s.logger.Info().Str("user_id", userID).Str("affiliate_code", payout.AffiliateCode).Int64("commission_cents", payout.AmountCents).Msg("Affiliate commission accrued")
		if s.emit != nil {
			s.emit(model.Activity{
				UserID:  userID,
				Type:    "affiliate_payout",
				Message: "Referral commission recorded",
				Meta:    map[string]any{"affiliate_code": payout.AffiliateCode, "amount_cents": payout.AmountCents},
			})
		}
	}
	return payout, nil
}
