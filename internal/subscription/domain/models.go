// Package domain contains the subscription lifecycle and billing-cycle arithmetic.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/carehub/pkg/transition"
)

// SubscriptionStatus represents lifecycle states for a subscription.
type SubscriptionStatus string

const (
	StatusPending   SubscriptionStatus = "pending"
	StatusTrial     SubscriptionStatus = "trial"
	StatusActive    SubscriptionStatus = "active"
	StatusPaused    SubscriptionStatus = "paused"
	StatusSuspended SubscriptionStatus = "suspended"
	StatusCancelled SubscriptionStatus = "cancelled"
	StatusExpired   SubscriptionStatus = "expired"
)

var Transitions = transition.Table[SubscriptionStatus]{
	StatusPending:   {StatusTrial, StatusActive, StatusCancelled},
	StatusTrial:     {StatusActive, StatusCancelled, StatusExpired},
	StatusActive:    {StatusPaused, StatusSuspended, StatusCancelled, StatusExpired},
	StatusPaused:    {StatusActive, StatusCancelled},
	StatusSuspended: {StatusActive, StatusCancelled},
}

type BillingCycle string

const (
	CycleMonthly    BillingCycle = "monthly"
	CycleQuarterly  BillingCycle = "quarterly"
	CycleSemiannual BillingCycle = "semiannual"
	CycleAnnual     BillingCycle = "annual"
)

// Months returns the cycle length, or 0 for an unknown cycle.
func (c BillingCycle) Months() int {
	switch c {
	case CycleMonthly:
		return 1
	case CycleQuarterly:
		return 3
	case CycleSemiannual:
		return 6
	case CycleAnnual:
		return 12
	}
	return 0
}

// Advance moves a billing date forward by one cycle, pinned to billingDay.
// billingDay never exceeds 28, so every month has that day.
func (c BillingCycle) Advance(from time.Time, billingDay int) time.Time {
	from = from.UTC()
	next := time.Date(from.Year(), from.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, c.Months(), 0)
	return time.Date(next.Year(), next.Month(), billingDay, 0, 0, 0, 0, time.UTC)
}

// FirstBillingDate is the first date on or after anchor that falls on billingDay.
func FirstBillingDate(anchor time.Time, billingDay int) time.Time {
	anchor = anchor.UTC()
	candidate := time.Date(anchor.Year(), anchor.Month(), billingDay, 0, 0, 0, 0, time.UTC)
	if candidate.Before(time.Date(anchor.Year(), anchor.Month(), anchor.Day(), 0, 0, 0, 0, time.UTC)) {
		candidate = candidate.AddDate(0, 1, 0)
	}
	return candidate
}

// Subscription captures a resident's recurring plan.
type Subscription struct {
	ID              snowflake.ID       `json:"id"`
	AccountID       snowflake.ID       `json:"account_id"`
	PlanName        string             `json:"plan_name"`
	PlanAmount      decimal.Decimal    `json:"plan_amount"`
	BillingCycle    BillingCycle       `json:"billing_cycle"`
	BillingDay      int                `json:"billing_day"`
	Status          SubscriptionStatus `json:"status"`
	NextBillingDate time.Time          `json:"next_billing_date"`
	TrialEndsAt     *time.Time         `json:"trial_ends_at,omitempty"`
	StartedAt       *time.Time         `json:"started_at,omitempty"`
	PausedAt        *time.Time         `json:"paused_at,omitempty"`
	CancelledAt     *time.Time         `json:"cancelled_at,omitempty"`
	CreatedAt       time.Time          `json:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// BillingPeriod is the window one subscription invoice covers.
type BillingPeriod struct {
	Start time.Time
	End   time.Time
}
