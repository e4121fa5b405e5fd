package service

import (
	"context"

	"vision2viral/internal/apperror"
	"vision2viral/internal/model"
	"vision2viral/internal/repository"

	"github.com/rs/zerolog"
)

// AccountStatus is what a signed-in user sees about their account.
type AccountStatus struct {
	UserID             string
	Email              string
	Role               model.Role
	Plan               model.Plan
	SubscriptionStatus model.SubscriptionStatus
	Balance            model.Balance
}

type UserService struct {
	store  repository.Store
	ledger *LedgerService
	subs   *SubscriptionService
	logger zerolog.Logger
}

func NewUserService(store repository.Store, ledger *LedgerService, subs *SubscriptionService, logger zerolog.Logger) *UserService {
	return &UserService{
		store:  store,
		ledger: ledger,
		subs:   subs,
		logger: logger.With().Str("service", "UserService").Logger(),
	}
}

// Status reports plan, subscription state and the ledger balance. Unlimited
// profiles report an unlimited balance whatever the ledger holds.
func (s *UserService) Status(ctx context.Context, userID string) (*AccountStatus, error) {
	p, err := s.store.Profiles().GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	status, _, err := s.subs.Status(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := &AccountStatus{
		UserID:             p.UserID,
		Email:              p.Email,
		Role:               p.Role,
		Plan:               p.Plan,
		SubscriptionStatus: status,
	}
	if p.Unlimited() {
		out.Balance = model.UnlimitedBalance()
		return out, nil
	}
	if out.Balance, err = s.ledger.Balance(ctx, userID); err != nil {
		return nil, err
	}
	return out, nil
}

// RequireAdmin fails with an AuthorizationError unless userID has an admin role.
func (s *UserService) RequireAdmin(ctx context.Context, userID string) error {
	p, err := s.store.Profiles().GetProfile(ctx, userID)
	if err != nil {
		return err
	}
	if !p.Role.IsAdmin() {
		s.logger.Warn().Str("user_id", userID).Str("role", string(p.Role)).Msg("Admin operation denied")
		return &apperror.AuthorizationError{Reason: "admin role required"}
	}
	return nil
}

// Reconcile recomputes target's cached balance on behalf of admin.
func (s *UserService) Reconcile(ctx context.Context, adminID, target string) (model.Balance, error) {
	if err := s.RequireAdmin(ctx, adminID); err != nil {
		return model.Balance{}, err
	}
	b, err := s.ledger.RecomputeBalance(ctx, target)
	if err != nil {
		return model.Balance{}, err
	}
	s.logger.Info().Str("admin_id", adminID).Str("user_id", target).Msg("Balance reconciled by admin")
	return b, nil
}

// Grant credits target with amount on behalf of admin.
func (s *UserService) Grant(ctx context.Context, adminID, target string, amount int64, reason string) (model.Balance, error) {
	if err := s.RequireAdmin(ctx, adminID); err != nil {
		return model.Balance{}, err
	}
	b, err := s.ledger.Grant(ctx, target, amount, reason)
	if err != nil {
		return model.Balance{}, err
	}
	s.logger.Info().Str("admin_id", adminID).Str("user_id", target).Int64("amount", amount).Msg("Credits granted by admin")
	return b, nil
}
