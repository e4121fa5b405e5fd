package repository

import (
	"context"
	"errors"
	"fmt"

	"vision2viral/internal/apperror"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// maxTxAttempts bounds retries of transactions aborted by a deadlock or serialization failure.
const maxTxAttempts = 3

// DBTX is the query surface shared by *pgxpool.Pool and pgx.Tx, so repositories
// run inside or outside a transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Pool is the subset of *pgxpool.Pool the store uses.
type Pool interface {
	DBTX
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

// Store bundles the repositories that share one transactional boundary.
type Store interface {
	Profiles() ProfileRepository
	Subscriptions() SubscriptionRepository
	Ledger() LedgerRepository
	Generations() GenerationRepository
	Affiliates() AffiliateRepository
	Events() EventRepository

	// InTx runs fn against a Store bound to a single transaction. The transaction
	// commits when fn returns nil and rolls back otherwise. Calling InTx on a Store
	// that is already transactional runs fn in the enclosing transaction.
	InTx(ctx context.Context, fn func(tx Store) error) error
}

type postgresStore struct {
	pool Pool // nil when bound to a transaction
	q    DBTX
}

// NewPostgresStore returns a Store backed by a pgx connection pool.
func NewPostgresStore(pool Pool) Store {
	return &postgresStore{pool: pool, q: pool}
}

func (s *postgresStore) Profiles() ProfileRepository           { return NewProfileRepo(s.q) }
func (s *postgresStore) Subscriptions() SubscriptionRepository { return NewSubscriptionRepo(s.q) }
func (s *postgresStore) Ledger() LedgerRepository              { return NewLedgerRepo(s.q) }
func (s *postgresStore) Generations() GenerationRepository     { return NewGenerationRepo(s.q) }
func (s *postgresStore) Affiliates() AffiliateRepository       { return NewAffiliateRepo(s.q) }
func (s *postgresStore) Events() EventRepository               { return NewEventRepo(s.q) }

func (s *postgresStore) InTx(ctx context.Context, fn func(tx Store) error) error {
	if s.pool == nil {
		return fn(s)
	}
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = s.runTx(ctx, fn)
		if !isRetryableTxError(err) {
			return err
		}
	}
	return err
}

func (s *postgresStore) runTx(ctx context.Context, fn func(tx Store) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(&postgresStore{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// isRetryableTxError reports whether Postgres aborted the transaction with
// serialization_failure (40001) or deadlock_detected (40P01).
func isRetryableTxError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

// requireRow maps an UPDATE that matched nothing to a NotFoundError.
func requireRow(tag pgconn.CommandTag, resource, id string) error {
	if tag.RowsAffected() == 0 {
		return apperror.NotFound(resource, id)
	}
	return nil
}
