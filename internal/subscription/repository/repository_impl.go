package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/carehub/internal/subscription/domain"
	"gorm.io/gorm"
)

const subscriptionColumns = `id, account_id, plan_name, plan_amount, billing_cycle, billing_day, status,
	next_billing_date, trial_ends_at, started_at, paused_at, cancelled_at, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, sub *domain.Subscription) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO subscriptions (`+subscriptionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID,
		sub.AccountID,
		sub.PlanName,
		sub.PlanAmount,
		sub.BillingCycle,
		sub.BillingDay,
		sub.Status,
		sub.NextBillingDate,
		sub.TrialEndsAt,
		sub.StartedAt,
		sub.PausedAt,
		sub.CancelledAt,
		sub.CreatedAt,
		sub.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Subscription, error) {
	return r.find(ctx, db, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = ?`, id)
}

func (r *repo) FindForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Subscription, error) {
	return r.find(ctx, db, `SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = ? FOR UPDATE`, id)
}

func (r *repo) find(ctx context.Context, db *gorm.DB, query string, id snowflake.ID) (*domain.Subscription, error) {
	var sub domain.Subscription
	if err := db.WithContext(ctx).Raw(query, id).Scan(&sub).Error; err != nil {
		return nil, err
	}
	if sub.ID == 0 {
		return nil, nil
	}
	return &sub, nil
}

func (r *repo) UpdateLifecycle(ctx context.Context, db *gorm.DB, sub *domain.Subscription) error {
	return db.WithContext(ctx).Exec(
		`UPDATE subscriptions
		 SET status = ?, next_billing_date = ?, trial_ends_at = ?, started_at = ?, paused_at = ?,
		     cancelled_at = ?, updated_at = ?
		 WHERE id = ?`,
		sub.Status,
		sub.NextBillingDate,
		sub.TrialEndsAt,
		sub.StartedAt,
		sub.PausedAt,
		sub.CancelledAt,
		sub.UpdatedAt,
		sub.ID,
	).Error
}

func (r *repo) ListDue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := db.WithContext(ctx).Raw(
		`SELECT id FROM subscriptions
		 WHERE status = ? AND next_billing_date <= ?
		 ORDER BY next_billing_date ASC, id ASC
		 LIMIT ?`,
		domain.StatusActive,
		now.UTC(),
		limit,
	).Scan(&ids).Error
	return ids, err
}

func (r *repo) ListEndedTrials(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := db.WithContext(ctx).Raw(
		`SELECT id FROM subscriptions
		 WHERE status = ? AND trial_ends_at IS NOT NULL AND trial_ends_at <= ?
		 ORDER BY trial_ends_at ASC, id ASC
		 LIMIT ?`,
		domain.StatusTrial,
		now.UTC(),
		limit,
	).Scan(&ids).Error
	return ids, err
}
