package model

import "time"

// ProcessedEvent marks a billing notification whose effects have been committed.
type ProcessedEvent struct {
	EventID     string    `db:"event_id" json:"event_id"`
	EventType   string    `db:"event_type" json:"event_type"`
	ProcessedAt time.Time `db:"processed_at" json:"processed_at"`
}

// Activity is a user-facing activity record published after notable actions.
type Activity struct {
	UserID    string         `json:"user_id"`
	Type      string         `json:"type"`
	Message   string         `json:"message"`
	Meta      map[string]any `json:"meta,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
