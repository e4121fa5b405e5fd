package repository

import (
	"context"
	"errors"
	"fmt"

	"vision2viral/internal/apperror"
	"vision2viral/internal/model"

	"github.com/jackc/pgx/v5"
)

// ProfileRepository reads and updates user profiles.
type ProfileRepository interface {
	GetProfile(ctx context.Context, userID string) (*model.Profile, error)
	UpdatePlan(ctx context.Context, userID string, plan model.Plan) error
	// SetCachedCredits overwrites the materialized balance. Only ledger code calls it.
	SetCachedCredits(ctx context.Context, userID string, credits int64) error
}

type profileRepo struct {
	db DBTX
}

// NewProfileRepo creates a new ProfileRepository.
func NewProfileRepo(db DBTX) ProfileRepository {
	return &profileRepo{db: db}
}

func (r *profileRepo) GetProfile(ctx context.Context, userID string) (*model.Profile, error) {
	const q = `
        SELECT id, email, role, plan, credits_remaining, created_at, updated_at
        FROM profiles
        WHERE id = $1
    `
	var p model.Profile
	var role, plan string
	err := r.db.QueryRow(ctx, q, userID).Scan(
		&p.UserID,
		&p.Email,
		&role,
		&plan,
		&p.CreditsRemaining,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.NotFound("profile", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch profile %s: %w", userID, err)
	}
	p.Role = model.NormalizeRole(role)
	p.Plan, _ = model.ParsePlan(plan)
	return &p, nil
}

func (r *profileRepo) UpdatePlan(ctx context.Context, userID string, plan model.Plan) error {
	const q = `UPDATE profiles SET plan = $2, updated_at = NOW() WHERE id = $1`
	tag, err := r.db.Exec(ctx, q, userID, string(plan))
	if err != nil {
		return fmt.Errorf("update plan for user %s: %w", userID, err)
	}
	return requireRow(tag, "profile", userID)
}

func (r *profileRepo) SetCachedCredits(ctx context.Context, userID string, credits int64) error {
	const q = `UPDATE profiles SET credits_remaining = $2, updated_at = NOW() WHERE id = $1`
	tag, err := r.db.Exec(ctx, q, userID, credits)
	if err != nil {
		return fmt.Errorf("update cached credits for user %s: %w", userID, err)
	}
	return requireRow(tag, "profile", userID)
}
