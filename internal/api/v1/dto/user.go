package dto

import (
	"time"

	"vision2viral/internal/model"
)

// AccountResponse is returned by GET /v1/me.
type AccountResponse struct {
	UserID             string        `json:"user_id"`
	Email              string        `json:"email"`
	Role               string        `json:"role"`
	Plan               string        `json:"plan"`
	SubscriptionStatus string        `json:"subscription_status"`
	CreditsRemaining   model.Balance `json:"credits_remaining"`
}

type LedgerEntryResponse struct {
	ID        string    `json:"id"`
	Delta     int64     `json:"delta"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

type LedgerResponse struct {
	Entries []LedgerEntryResponse `json:"entries"`
}
