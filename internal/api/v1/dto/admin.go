package dto

import "vision2viral/internal/model"

type GrantCreditsRequest struct {
	Amount int64  `json:"amount" validate:"required,gt=0"`
	Reason string `json:"reason" validate:"omitempty,max=64"`
}

type BalanceResponse struct {
	UserID           string        `json:"user_id"`
	CreditsRemaining model.Balance `json:"credits_remaining"`
}
