package service

import (
	"context"
	"fmt"

	"vision2viral/internal/apperror"
	"vision2viral/internal/metrics"
	"vision2viral/internal/model"
	"vision2viral/internal/repository"

	"github.com/rs/zerolog"
)

// LedgerService owns every balance change. All mutations run inside a store
// transaction that first takes the per-user lock, then reads the ledger sum,
// appends at most one entry and rewrites the cached profile balance.
type LedgerService struct {
	store   repository.Store
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewLedgerService creates a LedgerService with a scoped logger.
func NewLedgerService(store repository.Store, m *metrics.Metrics, logger zerolog.Logger) *LedgerService {
	return &LedgerService{
		store:   store,
		metrics: m,
		logger:  logger.With().Str("service", "LedgerService").Logger(),
	}
}

// WithStore returns a copy bound to st, typically a transaction-scoped store.
func (s *LedgerService) WithStore(st repository.Store) *LedgerService {
	c := *s
	c.store = st
	return &c
}

// mutate runs fn under the per-user lock with the current ledger sum and
// refreshes the cached balance from the resulting sum.
func (s *LedgerService) mutate(ctx context.Context, op, userID string, fn func(tx repository.Store, sum int64) error) (model.Balance, error) {
	var balance model.Balance
	err := s.store.InTx(ctx, func(tx repository.Store) error {
		ledger := tx.Ledger()
		if err := ledger.LockUser(ctx, userID); err != nil {
			return err
		}
		sum, err := ledger.Sum(ctx, userID)
		if err != nil {
			return err
		}
		if err := fn(tx, sum); err != nil {
			return err
		}
		after, err := ledger.Sum(ctx, userID)
		if err != nil {
			return err
		}
		if err := tx.Profiles().SetCachedCredits(ctx, userID, after); err != nil {
			return err
		}
		balance = model.BalanceOf(after)
		return nil
	})
	s.metrics.Ledger(op, err)
	if err != nil {
		return model.Balance{}, err
	}
	return balance, nil
}

func appendEntry(ctx context.Context, tx repository.Store, userID string, delta int64, reason string) error {
	if delta == 0 {
		return nil
	}
	return tx.Ledger().Append(ctx, &model.CreditLedgerEntry{UserID: userID, Delta: delta, Reason: reason})
}

// Grant appends a positive entry.
func (s *LedgerService) Grant(ctx context.Context, userID string, amount int64, reason string) (model.Balance, error) {
	if amount <= 0 {
		return model.Balance{}, apperror.Invalid("amount", "must be positive")
	}
	if reason == "" {
		reason = model.ReasonGrant
	}
	b, err := s.mutate(ctx, "grant", userID, func(tx repository.Store, _ int64) error {
		return appendEntry(ctx, tx, userID, amount, reason)
	})
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Int64("amount", amount).Msg("Failed to grant credits")
		return model.Balance{}, err
	}
	s.logger.Info().Str("user_id", userID).Int64("amount", amount).Str("reason", reason).Msg("Credits granted")
	return b, nil
}

// Debit appends a negative entry if the balance covers amount. Balances at the
// unlimited sentinel satisfy any debit without being decremented.
func (s *LedgerService) Debit(ctx context.Context, userID string, amount int64, reason string) (model.Balance, error) {
	if amount <= 0 {
		return model.Balance{}, apperror.Invalid("amount", "must be positive")
	}
	b, err := s.mutate(ctx, "debit", userID, func(tx repository.Store, sum int64) error {
		if sum >= model.UnlimitedCredits {
			return nil
		}
		if sum < amount {
			return &apperror.InsufficientCreditsError{Balance: sum, Required: amount}
		}
		return appendEntry(ctx, tx, userID, -amount, reason)
	})
	if err != nil {
		return model.Balance{}, err
	}
	return b, nil
}

// Refill replaces the balance with the plan's monthly allotment.
func (s *LedgerService) Refill(ctx context.Context, userID string, plan model.Plan) (model.Balance, error) {
	allotment, ok := plan.MonthlyAllotment()
	if !ok {
		return model.Balance{}, apperror.Invalid("plan", fmt.Sprintf("plan %q has no allotment", plan))
	}
	b, err := s.setBalance(ctx, "refill", userID, allotment, model.ReasonRefill)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Str("plan", string(plan)).Msg("Failed to refill credits")
		return model.Balance{}, err
	}
	s.logger.Info().Str("user_id", userID).Str("plan", string(plan)).Int64("allotment", allotment).Msg("Credits refilled")
	return b, nil
}

// Downgrade sets the balance to floor with an offsetting entry.
func (s *LedgerService) Downgrade(ctx context.Context, userID string, floor int64) (model.Balance, error) {
	if floor < 0 {
		return model.Balance{}, apperror.Invalid("floor", "must not be negative")
	}
	return s.setBalance(ctx, "downgrade", userID, floor, model.ReasonDowngrade)
}

func (s *LedgerService) setBalance(ctx context.Context, op, userID string, target int64, reason string) (model.Balance, error) {
	return s.mutate(ctx, op, userID, func(tx repository.Store, sum int64) error {
		return appendEntry(ctx, tx, userID, target-sum, reason)
	})
}

// Refund returns credits taken by a debit whose work did not complete.
func (s *LedgerService) Refund(ctx context.Context, userID string, amount int64) (model.Balance, error) {
	if amount <= 0 {
		return model.Balance{}, apperror.Invalid("amount", "must be positive")
	}
	return s.mutate(ctx, "refund", userID, func(tx repository.Store, _ int64) error {
		return appendEntry(ctx, tx, userID, amount, model.ReasonRefund)
	})
}

// RecomputeBalance rewrites the cached profile balance from the ledger sum.
func (s *LedgerService) RecomputeBalance(ctx context.Context, userID string) (model.Balance, error) {
	b, err := s.mutate(ctx, "recompute", userID, func(repository.Store, int64) error { return nil })
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to recompute balance")
		return model.Balance{}, err
	}
	return b, nil
}

// Balance returns the authoritative ledger balance without locking.
func (s *LedgerService) Balance(ctx context.Context, userID string) (model.Balance, error) {
	sum, err := s.store.Ledger().Sum(ctx, userID)
	if err != nil {
		return model.Balance{}, err
	}
	return model.BalanceOf(sum), nil
}

// ListEntries returns the most recent entries, newest first.
func (s *LedgerService) ListEntries(ctx context.Context, userID string, limit int) ([]model.CreditLedgerEntry, error) {
	if limit <= 0 || limit > 200 {
		return nil, apperror.Invalid("limit", "must be between 1 and 200")
	}
	return s.store.Ledger().ListRecent(ctx, userID, limit)
}
