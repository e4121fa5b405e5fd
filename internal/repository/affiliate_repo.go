package repository

import (
	"context"
	"errors"
	"fmt"

	"vision2viral/internal/apperror"
	"vision2viral/internal/model"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// AffiliateRepository accesses referrals, affiliates and their payout events.
type AffiliateRepository interface {
	LatestReferral(ctx context.Context, referredUserID string) (*model.AffiliateReferral, error)
	GetByCode(ctx context.Context, code string) (*model.Affiliate, error)
	AddEarnings(ctx context.Context, code string, cents int64) error
	HasPayout(ctx context.Context, code, referredUserID, reason string) (bool, error)
	RecordPayout(ctx context.Context, ev *model.AffiliatePayoutEvent) error
}

type affiliateRepo struct {
	db DBTX
}

// NewAffiliateRepo creates a new AffiliateRepository.
func NewAffiliateRepo(db DBTX) AffiliateRepository {
	return &affiliateRepo{db: db}
}

func (r *affiliateRepo) LatestReferral(ctx context.Context, referredUserID string) (*model.AffiliateReferral, error) {
	const q = `
        SELECT referred_user, affiliate_code, created_at
        FROM affiliate_referrals
        WHERE referred_user = $1
        ORDER BY created_at DESC
        LIMIT 1
    `
	var ref model.AffiliateReferral
	err := r.db.QueryRow(ctx, q, referredUserID).Scan(&ref.ReferredUserID, &ref.AffiliateCode, &ref.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.NotFound("affiliate referral", referredUserID)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch referral for user %s: %w", referredUserID, err)
	}
	return &ref, nil
}

func (r *affiliateRepo) GetByCode(ctx context.Context, code string) (*model.Affiliate, error) {
	const q = `SELECT id, referral_code, earnings_cents, created_at FROM affiliates WHERE referral_code = $1`
	var a model.Affiliate
	err := r.db.QueryRow(ctx, q, code).Scan(&a.ID, &a.ReferralCode, &a.EarningsCents, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.NotFound("affiliate", code)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch affiliate %s: %w", code, err)
	}
	return &a, nil
}

func (r *affiliateRepo) AddEarnings(ctx context.Context, code string, cents int64) error {
	const q = `UPDATE affiliates SET earnings_cents = earnings_cents + $2 WHERE referral_code = $1`
	tag, err := r.db.Exec(ctx, q, code, cents)
	if err != nil {
		return fmt.Errorf("add earnings for affiliate %s: %w", code, err)
	}
	return requireRow(tag, "affiliate", code)
}

func (r *affiliateRepo) HasPayout(ctx context.Context, code, referredUserID, reason string) (bool, error) {
	const q = `
        SELECT EXISTS (
            SELECT 1 FROM affiliate_payout_events
            WHERE affiliate_code = $1 AND referred_user = $2 AND reason = $3
        )
    `
	var exists bool
	if err := r.db.QueryRow(ctx, q, code, referredUserID, reason).Scan(&exists); err != nil {
		return false, fmt.Errorf("check payout for affiliate %s: %w", code, err)
	}
	return exists, nil
}

func (r *affiliateRepo) RecordPayout(ctx context.Context, ev *model.AffiliatePayoutEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	const q = `
        INSERT INTO affiliate_payout_events (id, affiliate_code, referred_user, amount_cents, reason)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING created_at
    `
	err := r.db.QueryRow(ctx, q, ev.ID, ev.AffiliateCode, ev.ReferredUserID, ev.AmountCents, ev.Reason).Scan(&ev.CreatedAt)
	if err != nil {
		return fmt.Errorf("record payout for affiliate %s: %w", ev.AffiliateCode, err)
	}
	return nil
}
