package model

import (
	"strings"
	"time"
)

// Role is the account role stored on a profile.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
	RoleOwner Role = "owner"
)

// NormalizeRole maps unknown or empty roles to RoleUser.
func NormalizeRole(s string) Role {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleAdmin, RoleOwner:
		return r
	default:
		return RoleUser
	}
}

// IsAdmin reports whether the role may run administrative operations.
func (r Role) IsAdmin() bool {
	return r == RoleAdmin || r == RoleOwner
}

// BypassesCredits reports whether the role spends without a balance check.
func (r Role) BypassesCredits() bool {
	return r == RoleOwner
}

// Profile represents a user profile with its cached credit balance.
// CreditsRemaining mirrors the ledger sum; the ledger wins on divergence.
type Profile struct {
	UserID           string    `db:"id" json:"user_id"`
	Email            string    `db:"email" json:"email"`
	Role             Role      `db:"role" json:"role"`
	Plan             Plan      `db:"plan" json:"plan"`
	CreditsRemaining int64     `db:"credits_remaining" json:"credits_remaining"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`
}

// Unlimited reports whether spends for this profile skip the balance check.
func (p *Profile) Unlimited() bool {
	return p.Plan.Unlimited() || p.Role.BypassesCredits()
}
