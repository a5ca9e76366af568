package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/carehub/internal/audit/domain"
	"github.com/smallbiznis/carehub/pkg/transition"
	"gorm.io/gorm"
)

type CreateSubscriptionRequest struct {
	AccountID    snowflake.ID
	PlanName     string
	PlanAmount   decimal.Decimal
	BillingCycle BillingCycle
	BillingDay   int
	TrialDays    int
	StartAt      time.Time
	// StartPending leaves the subscription in pending until Activate is called.
	StartPending bool
	Actor        auditdomain.Actor
}

type Service interface {
	Create(ctx context.Context, req CreateSubscriptionRequest) (*Subscription, error)
	Get(ctx context.Context, id snowflake.ID) (*Subscription, error)
	Activate(ctx context.Context, id snowflake.ID, actor auditdomain.Actor) (*Subscription, error)
	Pause(ctx context.Context, id snowflake.ID, actor auditdomain.Actor) (*Subscription, error)
	Resume(ctx context.Context, id snowflake.ID, actor auditdomain.Actor) (*Subscription, error)
	Suspend(ctx context.Context, id snowflake.ID, actor auditdomain.Actor) (*Subscription, error)
	Cancel(ctx context.Context, id snowflake.ID, actor auditdomain.Actor) (*Subscription, error)
	Expire(ctx context.Context, id snowflake.ID, actor auditdomain.Actor) (*Subscription, error)

	ListDue(ctx context.Context, now time.Time, limit int) ([]snowflake.ID, error)
	ActivateEndedTrials(ctx context.Context, now time.Time, limit int) (int, error)

	// LockTx loads the subscription with a row lock held by tx.
	LockTx(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*Subscription, error)
	// AdvanceTx moves next_billing_date one cycle forward and returns the period just billed.
	AdvanceTx(ctx context.Context, tx *gorm.DB, sub *Subscription) (BillingPeriod, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, sub *Subscription) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Subscription, error)
	FindForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Subscription, error)
	UpdateLifecycle(ctx context.Context, db *gorm.DB, sub *Subscription) error
	ListDue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]snowflake.ID, error)
	ListEndedTrials(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]snowflake.ID, error)
}

var (
	ErrSubscriptionNotFound  = errors.New("subscription_not_found")
	ErrInvalidAccount        = errors.New("invalid_account")
	ErrInvalidPlan           = errors.New("invalid_plan")
	ErrInvalidAmount         = errors.New("invalid_plan_amount")
	ErrInvalidBillingCycle   = errors.New("invalid_billing_cycle")
	ErrInvalidBillingDay     = errors.New("invalid_billing_day")
	ErrInvalidTrialDays      = errors.New("invalid_trial_days")
	ErrSubscriptionNotActive = errors.New("subscription_not_active")
	ErrInvalidTransition     = transition.ErrInvalidTransition
)
