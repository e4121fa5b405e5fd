package model

import (
	"strings"
	"time"
)

// SubscriptionStatus is the local lifecycle state of a subscription.
type SubscriptionStatus string

const (
	StatusActive     SubscriptionStatus = "active"
	StatusTrialing   SubscriptionStatus = "trialing"
	StatusPastDue    SubscriptionStatus = "past_due"
	StatusIncomplete SubscriptionStatus = "incomplete"
	StatusCanceled   SubscriptionStatus = "canceled"

	// StatusNone is reported when a user has no subscription row.
	StatusNone SubscriptionStatus = "none"
)

// NormalizeStatus maps a payment processor status onto the local states.
func NormalizeStatus(s string) SubscriptionStatus {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "active":
		return StatusActive
	case "trialing":
		return StatusTrialing
	case "past_due", "unpaid", "paused":
		return StatusPastDue
	case "incomplete", "incomplete_expired":
		return StatusIncomplete
	case "canceled", "cancelled":
		return StatusCanceled
	default:
		return StatusIncomplete
	}
}

// AllowsSpend reports whether a paid plan in this state may spend credits.
func (s SubscriptionStatus) AllowsSpend() bool {
	return s == StatusActive || s == StatusTrialing
}

// Terminal reports whether no further transitions are accepted.
func (s SubscriptionStatus) Terminal() bool {
	return s == StatusCanceled
}

// Subscription mirrors one subscription at the payment processor, keyed by ExternalSubscriptionID.
type Subscription struct {
	ID                     string             `db:"id" json:"id"`
	UserID                 string             `db:"user_id" json:"user_id"`
	ExternalSubscriptionID string             `db:"stripe_subscription_id" json:"stripe_subscription_id"`
	ExternalCustomerID     string             `db:"stripe_customer_id" json:"stripe_customer_id,omitempty"`
	Plan                   Plan               `db:"plan" json:"plan"`
	Status                 SubscriptionStatus `db:"status" json:"status"`
	CurrentPeriodEnd       *time.Time         `db:"current_period_end" json:"current_period_end,omitempty"`
	CreatedAt              time.Time          `db:"created_at" json:"created_at"`
	UpdatedAt              time.Time          `db:"updated_at" json:"updated_at"`
}
