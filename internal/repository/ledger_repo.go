package repository

import (
	"context"
	"errors"
	"fmt"

	"vision2viral/internal/apperror"
	"vision2viral/internal/model"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// LedgerRepository is the append-only credit ledger.
type LedgerRepository interface {
	// LockUser takes the per-user write lock for the rest of the transaction.
	// Every balance-changing operation calls it before reading the sum.
	LockUser(ctx context.Context, userID string) error
	Sum(ctx context.Context, userID string) (int64, error)
	Append(ctx context.Context, entry *model.CreditLedgerEntry) error
	ListRecent(ctx context.Context, userID string, limit int) ([]model.CreditLedgerEntry, error)
}

type ledgerRepo struct {
	db DBTX
}

// NewLedgerRepo creates a new LedgerRepository.
func NewLedgerRepo(db DBTX) LedgerRepository {
	return &ledgerRepo{db: db}
}

func (r *ledgerRepo) LockUser(ctx context.Context, userID string) error {
	const q = `SELECT id FROM profiles WHERE id = $1 FOR UPDATE`
	var id string
	err := r.db.QueryRow(ctx, q, userID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperror.NotFound("profile", userID)
	}
	if err != nil {
		return fmt.Errorf("locking ledger for user %s: %w", userID, err)
	}
	return nil
}

func (r *ledgerRepo) Sum(ctx context.Context, userID string) (int64, error) {
	const q = `SELECT COALESCE(SUM(delta), 0)::BIGINT FROM credit_ledger WHERE user_id = $1`
	var sum int64
	if err := r.db.QueryRow(ctx, q, userID).Scan(&sum); err != nil {
		return 0, fmt.Errorf("summing ledger for user %s: %w", userID, err)
	}
	return sum, nil
}

func (r *ledgerRepo) Append(ctx context.Context, entry *model.CreditLedgerEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	const q = `
        INSERT INTO credit_ledger (id, user_id, delta, reason)
        VALUES ($1, $2, $3, $4)
        RETURNING created_at
    `
	if err := r.db.QueryRow(ctx, q, entry.ID, entry.UserID, entry.Delta, entry.Reason).Scan(&entry.CreatedAt); err != nil {
		return fmt.Errorf("appending ledger entry for user %s: %w", entry.UserID, err)
	}
	return nil
}

func (r *ledgerRepo) ListRecent(ctx context.Context, userID string, limit int) ([]model.CreditLedgerEntry, error) {
	const q = `
        SELECT id, user_id, delta, reason, created_at
        FROM credit_ledger
        WHERE user_id = $1
        ORDER BY created_at DESC, id DESC
        LIMIT $2
    `
	rows, err := r.db.Query(ctx, q, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing ledger for user %s: %w", userID, err)
	}
	defer rows.Close()

	entries := []model.CreditLedgerEntry{}
	for rows.Next() {
		var e model.CreditLedgerEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.Delta, &e.Reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning ledger entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger rows error: %w", err)
	}
	return entries, nil
}
