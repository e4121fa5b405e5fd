package model

import (
	"encoding/json"
	"time"
)

// Ledger entry reasons. Debits use the feature name.
const (
	ReasonRefill    = "refill"
	ReasonDowngrade = "downgrade"
	ReasonGrant     = "grant"
	ReasonRefund    = "refund"
	ReasonSignup    = "signup"
)

// SignupCredits is the balance granted to every new profile.
const SignupCredits int64 = 10

// CreditLedgerEntry is an immutable signed credit delta.
type CreditLedgerEntry struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"user_id"`
	Delta     int64     `db:"delta" json:"delta"`
	Reason    string    `db:"reason" json:"reason"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Balance is a credit balance as reported to callers.
type Balance struct {
	Credits   int64
	Unlimited bool
}

// BalanceOf wraps a ledger sum, flagging the unlimited sentinel.
func BalanceOf(credits int64) Balance {
	return Balance{Credits: credits, Unlimited: credits >= UnlimitedCredits}
}

// UnlimitedBalance is the balance reported for unlimited plans and roles.
func UnlimitedBalance() Balance {
	return Balance{Credits: UnlimitedCredits, Unlimited: true}
}

// MarshalJSON renders unlimited balances as the string "unlimited".
func (b Balance) MarshalJSON() ([]byte, error) {
	if b.Unlimited {
		return json.Marshal("unlimited")
	}
	return json.Marshal(b.Credits)
}
