package repository

import (
	"context"
	"fmt"
)

// EventRepository records billing notifications whose effects are committed.
type EventRepository interface {
	IsProcessed(ctx context.Context, eventID string) (bool, error)
	// MarkProcessed claims the event id. It returns false when the id was already
	// recorded. Inside a transaction a concurrent claim of the same id blocks until
	// the first transaction finishes.
	MarkProcessed(ctx context.Context, eventID, eventType string) (bool, error)
}

type eventRepo struct {
	db DBTX
}

// NewEventRepo creates a new EventRepository.
func NewEventRepo(db DBTX) EventRepository {
	return &eventRepo{db: db}
}

func (r *eventRepo) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM processed_events WHERE event_id = $1)`
	var exists bool
	if err := r.db.QueryRow(ctx, q, eventID).Scan(&exists); err != nil {
		return false, fmt.Errorf("checking processed event %s: %w", eventID, err)
	}
	return exists, nil
}

func (r *eventRepo) MarkProcessed(ctx context.Context, eventID, eventType string) (bool, error) {
	const q = `
        INSERT INTO processed_events (event_id, event_type, processed_at)
        VALUES ($1, $2, NOW())
        ON CONFLICT (event_id) DO NOTHING
    `
	tag, err := r.db.Exec(ctx, q, eventID, eventType)
	if err != nil {
		return false, fmt.Errorf("recording processed event %s: %w", eventID, err)
	}
	return tag.RowsAffected() == 1, nil
}
