package model

import "time"

// ReasonFirstPaymentCommission tags payout events created by affiliate accrual.
const ReasonFirstPaymentCommission = "first_payment_commission"

// CommissionPercent is the share of a referred user's first payment credited to the affiliate.
const CommissionPercent = 30

// Commission returns round(amountCents * 30%), halves rounded up.
func Commission(amountCents int64) int64 {
	if amountCents <= 0 {
		return 0
	}
	return (amountCents*CommissionPercent + 50) / 100
}

// Affiliate is a referral partner and its accumulated earnings.
type Affiliate struct {
	ID            string    `db:"id" json:"id"`
	ReferralCode  string    `db:"referral_code" json:"referral_code"`
	EarningsCents int64     `db:"earnings_cents" json:"earnings_cents"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// AffiliateReferral records which affiliate code referred a user.
type AffiliateReferral struct {
	ReferredUserID string    `db:"referred_user" json:"referred_user"`
	AffiliateCode  string    `db:"affiliate_code" json:"affiliate_code"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// AffiliatePayoutEvent is an immutable commission record.
type AffiliatePayoutEvent struct {
	ID             string    `db:"id" json:"id"`
	AffiliateCode  string    `db:"affiliate_code" json:"affiliate_code"`
	ReferredUserID string    `db:"referred_user" json:"referred_user"`
	AmountCents    int64     `db:"amount_cents" json:"amount_cents"`
	Reason         string    `db:"reason" json:"reason"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}
