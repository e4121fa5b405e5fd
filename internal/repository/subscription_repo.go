package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vision2viral/internal/apperror"
	"vision2viral/internal/model"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// SubscriptionRepository defines methods for accessing subscription data.
// Writes are keyed by the external subscription id, never by user id.
type SubscriptionRepository interface {
	GetByExternalID(ctx context.Context, externalID string) (*model.Subscription, error)
	// GetLatestForUser returns the subscription that decides a user's access:
	// the newest active or trialing row, else the newest row of any status.
	GetLatestForUser(ctx context.Context, userID string) (*model.Subscription, error)
	// HasOtherLive reports whether the user holds a non-canceled subscription
	// other than externalID.
	HasOtherLive(ctx context.Context, userID, externalID string) (bool, error)
	// Insert creates the row unless one exists for the external id. It reports whether a row was created.
	Insert(ctx context.Context, sub *model.Subscription) (bool, error)
	UpdateCheckoutDetails(ctx context.Context, externalID, customerID string, plan model.Plan) error
	UpdateStatus(ctx context.Context, externalID string, status model.SubscriptionStatus, periodEnd *time.Time) error
}

type subscriptionRepo struct {
	db DBTX
}

// NewSubscriptionRepo creates a new SubscriptionRepository.
func NewSubscriptionRepo(db DBTX) SubscriptionRepository {
	return &subscriptionRepo{db: db}
}

const subscriptionColumns = `id, user_id, stripe_subscription_id, COALESCE(stripe_customer_id, ''), plan, status, current_period_end, created_at, updated_at`

func scanSubscription(row pgx.Row) (*model.Subscription, error) {
	var s model.Subscription
	var plan, status string
	if err := row.Scan(
		&s.ID,
		&s.UserID,
		&s.ExternalSubscriptionID,
		&s.ExternalCustomerID,
		&plan,
		&status,
		&s.CurrentPeriodEnd,
		&s.CreatedAt,
		&s.UpdatedAt,
	); err != nil {
		return nil, err
	}
	s.Plan, _ = model.ParsePlan(plan)
	s.Status = model.SubscriptionStatus(status)
	return &s, nil
}

func (r *subscriptionRepo) GetByExternalID(ctx context.Context, externalID string) (*model.Subscription, error) {
	q := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE stripe_subscription_id = $1`
	s, err := scanSubscription(r.db.QueryRow(ctx, q, externalID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.NotFound("subscription", externalID)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch subscription %s: %w", externalID, err)
	}
	return s, nil
}

func (r *subscriptionRepo) GetLatestForUser(ctx context.Context, userID string) (*model.Subscription, error) {
	q := `SELECT ` + subscriptionColumns + `
        FROM subscriptions
        WHERE user_id = $1
        ORDER BY (status IN ('active', 'trialing')) DESC, created_at DESC
        LIMIT 1`
	s, err := scanSubscription(r.db.QueryRow(ctx, q, userID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.NotFound("subscription for user", userID)
	}
	if err != nil {
		return nil, fmt.Errorf("fetch latest subscription for user %s: %w", userID, err)
	}
	return s, nil
}

func (r *subscriptionRepo) HasOtherLive(ctx context.Context, userID, externalID string) (bool, error) {
	const q = `
        SELECT EXISTS (
            SELECT 1 FROM subscriptions
            WHERE user_id = $1 AND stripe_subscription_id <> $2 AND status <> 'canceled'
        )
    `
	var exists bool
	if err := r.db.QueryRow(ctx, q, userID, externalID).Scan(&exists); err != nil {
		return false, fmt.Errorf("check live subscriptions for user %s: %w", userID, err)
	}
	return exists, nil
}

func (r *subscriptionRepo) Insert(ctx context.Context, sub *model.Subscription) (bool, error) {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	const q = `
        INSERT INTO subscriptions (id, user_id, stripe_subscription_id, stripe_customer_id, plan, status, current_period_end, created_at, updated_at)
        VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, NOW(), NOW())
        ON CONFLICT (stripe_subscription_id) DO NOTHING
    `
	tag, err := r.db.Exec(ctx, q,
		sub.ID,
		sub.UserID,
		sub.ExternalSubscriptionID,
		sub.ExternalCustomerID,
		string(sub.Plan),
		string(sub.Status),
		sub.CurrentPeriodEnd,
	)
	if err != nil {
		return false, fmt.Errorf("insert subscription %s for user %s: %w", sub.ExternalSubscriptionID, sub.UserID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *subscriptionRepo) UpdateCheckoutDetails(ctx context.Context, externalID, customerID string, plan model.Plan) error {
	const q = `
        UPDATE subscriptions
        SET plan = $2,
            stripe_customer_id = COALESCE(NULLIF($3, ''), stripe_customer_id),
            updated_at = NOW()
        WHERE stripe_subscription_id = $1
    `
	tag, err := r.db.Exec(ctx, q, externalID, string(plan), customerID)
	if err != nil {
		return fmt.Errorf("update checkout details for subscription %s: %w", externalID, err)
	}
	return requireRow(tag, "subscription", externalID)
}

func (r *subscriptionRepo) UpdateStatus(ctx context.Context, externalID string, status model.SubscriptionStatus, periodEnd *time.Time) error {
	const q = `
        UPDATE subscriptions
        SET status = $2,
            current_period_end = COALESCE($3, current_period_end),
            updated_at = NOW()
        WHERE stripe_subscription_id = $1
    `
	tag, err := r.db.Exec(ctx, q, externalID, string(status), periodEnd)
	if err != nil {
		return fmt.Errorf("update status for subscription %s: %w", externalID, err)
	}
	return requireRow(tag, "subscription", externalID)
}
