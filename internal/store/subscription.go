package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/chatgate/internal/database"
	"github.com/dukerupert/chatgate/internal/model"
)

// SubscriptionStore is the subscription ledger. It stores provider facts and
// interprets none of them.
type SubscriptionStore struct {
	db database.Querier
}

func NewSubscriptionStore(db database.Querier) *SubscriptionStore {
	return &SubscriptionStore{db: db}
}

// SubscriptionUpsert is the payment collaborator's view of one purchase.
type SubscriptionUpsert struct {
	UserID            int64
	ExternalRef       string
	Plan              string
	Status            model.SubscriptionStatus
	CurrentPeriodEnd  *time.Time
	CancelledAt       *time.Time
	CancelAtPeriodEnd bool
}

func scanSubscription(scanner interface{ Scan(...any) error }) (*model.Subscription, error) {
	var sub model.Subscription
	var status string
	var periodEnd, cancelledAt sql.NullTime
	var cancelAtEnd int
	err := scanner.Scan(
		&sub.ID, &sub.UserID, &sub.ExternalRef, &sub.Plan, &status,
		&periodEnd, &cancelledAt, &cancelAtEnd, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	sub.Status = model.SubscriptionStatus(status)
	sub.CancelAtPeriodEnd = cancelAtEnd == 1
	if periodEnd.Valid {
		sub.CurrentPeriodEnd = &periodEnd.Time
	}
	if cancelledAt.Valid {
		sub.CancelledAt = &cancelledAt.Time
	}
	return &sub, nil
}

const subscriptionCols = `id, user_id, external_ref, plan, status, current_period_end, cancelled_at, cancel_at_period_end, created_at, updated_at`

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

// Upsert records a purchase keyed by ExternalRef, so collaborator retries are
// idempotent. On conflict current_period_end only moves forward unless the
// new status is cancelled, refunded or denied. The status is stored in
// model.NormalizeStatus form.
func (s *SubscriptionStore) Upsert(ctx context.Context, in SubscriptionUpsert, now time.Time) (*model.Subscription, error) {
	now = now.UTC()
	status := model.NormalizeStatus(string(in.Status))
	cancelAtEnd := 0
	if in.CancelAtPeriodEnd {
		cancelAtEnd = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO subscriptions (user_id, external_ref, plan, status, current_period_end, cancelled_at, cancel_at_period_end, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(external_ref) DO UPDATE SET
			plan = excluded.plan,
			status = excluded.status,
			current_period_end = CASE
				WHEN ? THEN COALESCE(excluded.current_period_end, subscriptions.current_period_end)
				WHEN subscriptions.current_period_end IS NULL
					OR excluded.current_period_end > subscriptions.current_period_end
					THEN excluded.current_period_end
				ELSE subscriptions.current_period_end END,
			cancelled_at = COALESCE(excluded.cancelled_at, subscriptions.cancelled_at),
			cancel_at_period_end = excluded.cancel_at_period_end,
			updated_at = excluded.updated_at`,
		in.UserID, in.ExternalRef, in.Plan, string(status),
		nullTime(in.CurrentPeriodEnd), nullTime(in.CancelledAt), cancelAtEnd, now, now,
		status.Shortens(),
	)
	if err != nil {
		return nil, fmt.Errorf("upsert subscription: %w", err)
	}
	return s.GetByExternalRef(ctx, in.ExternalRef)
}

func (s *SubscriptionStore) GetByExternalRef(ctx context.Context, ref string) (*model.Subscription, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+subscriptionCols+` FROM subscriptions WHERE external_ref = ?`, ref)
	sub, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription by ref: %w", err)
	}
	return sub, nil
}

// LatestFor returns the most recently created row for the user, or nil.
func (s *SubscriptionStore) LatestFor(ctx context.Context, userID int64) (*model.Subscription, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+subscriptionCols+` FROM subscriptions WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`,
		userID,
	)
	sub, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get latest subscription: %w", err)
	}
	return sub, nil
}

// ExpireStalePeriods relabels active rows whose period has lapsed. It only
// changes display state; access is always computed live.
func (s *SubscriptionStore) ExpireStalePeriods(ctx context.Context, now time.Time) (int64, error) {
	now = now.UTC()
	result, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET status = ?, updated_at = ?
		WHERE status IN (?, ?) AND current_period_end IS NOT NULL AND current_period_end <= ?`,
		string(model.SubscriptionExpired), now, string(model.SubscriptionActive), string(model.SubscriptionTrialing), now,
	)
	if err != nil {
		return 0, fmt.Errorf("expire stale subscriptions: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return count, nil
}

// MarkCancelled cancels the user's latest row and ends its period at now.
// It reports false when the user has no subscription.
func (s *SubscriptionStore) MarkCancelled(ctx context.Context, userID int64, now time.Time) (bool, error) {
	now = now.UTC()
	result, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET status = 'cancelled', cancelled_at = ?, current_period_end = ?, updated_at = ?
		WHERE id = (SELECT id FROM subscriptions WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT 1)`,
		now, now, now, userID,
	)
	if err != nil {
		return false, fmt.Errorf("cancel subscription: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}
