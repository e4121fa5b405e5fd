package repository

import (
	"context"
	"fmt"

	"vision2viral/internal/model"

	"github.com/google/uuid"
)

// GenerationRepository stores completed generations.
type GenerationRepository interface {
	Create(ctx context.Context, g *model.Generation) error
	CountForUser(ctx context.Context, userID string) (int, error)
}

type generationRepo struct {
	db DBTX
}

// NewGenerationRepo creates a new GenerationRepository.
func NewGenerationRepo(db DBTX) GenerationRepository {
	return &generationRepo{db: db}
}

func (r *generationRepo) Create(ctx context.Context, g *model.Generation) error {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	payload := []byte(g.Payload)
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	const q = `
        INSERT INTO generations (id, user_id, feature, cost_charged, platform, input_image_path, payload)
        VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7::jsonb)
        RETURNING created_at
    `
	err := r.db.QueryRow(ctx, q,
		g.ID,
		g.UserID,
		string(g.Feature),
		g.CostCharged,
		g.Platform,
		g.InputImagePath,
		string(payload),
	).Scan(&g.CreatedAt)
	if err != nil {
		return fmt.Errorf("saving generation for user %s: %w", g.UserID, err)
	}
	return nil
}

func (r *generationRepo) CountForUser(ctx context.Context, userID string) (int, error) {
	var n int
	const q = `SELECT COUNT(*) FROM generations WHERE user_id = $1`
	if err := r.db.QueryRow(ctx, q, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting generations for user %s: %w", userID, err)
	}
	return n, nil
}
