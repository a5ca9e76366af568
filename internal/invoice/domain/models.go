// Package domain contains persistence models and lifecycle rules for invoicing.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/carehub/pkg/money"
	"github.com/smallbiznis/carehub/pkg/transition"
)

// InvoiceStatus represents invoice lifecycle states.
type InvoiceStatus string

const (
	StatusDraft      InvoiceStatus = "draft"
	StatusPending    InvoiceStatus = "pending"
	StatusProcessing InvoiceStatus = "processing"
	StatusPartial    InvoiceStatus = "partial"
	StatusPaid       InvoiceStatus = "paid"
	StatusOverdue    InvoiceStatus = "overdue"
	StatusCancelled  InvoiceStatus = "cancelled"
	StatusFailed     InvoiceStatus = "failed"
)

// Transitions lists every legal status move. paid -> partial/pending/overdue exists only for reversals.
var Transitions = transition.Table[InvoiceStatus]{
	StatusDraft:      {StatusPending, StatusCancelled},
	StatusPending:    {StatusProcessing, StatusPartial, StatusPaid, StatusOverdue, StatusCancelled, StatusFailed},
	StatusProcessing: {StatusPending, StatusPartial, StatusPaid, StatusOverdue, StatusFailed},
	StatusPartial:    {StatusProcessing, StatusPaid, StatusOverdue, StatusPending, StatusFailed},
	StatusOverdue:    {StatusProcessing, StatusPartial, StatusPaid, StatusCancelled, StatusFailed},
	StatusFailed:     {StatusPending, StatusProcessing, StatusPartial, StatusPaid, StatusOverdue, StatusCancelled},
	StatusPaid:       {StatusPartial, StatusPending, StatusOverdue},
}

// Payable reports whether a payment may be registered in status.
func (s InvoiceStatus) Payable() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusPartial, StatusOverdue, StatusFailed:
		return true
	}
	return false
}

type InvoiceType string

const (
	TypeConsumption  InvoiceType = "consumption"
	TypeSubscription InvoiceType = "subscription"
)

// Invoice is a billing document for one account and period.
type Invoice struct {
	ID             snowflake.ID    `json:"id"`
	Number         string          `json:"number"`
	Type           InvoiceType     `json:"type"`
	AccountID      snowflake.ID    `json:"account_id"`
	SubscriptionID *snowflake.ID   `json:"subscription_id,omitempty"`
	PeriodStart    time.Time       `json:"period_start"`
	PeriodEnd      time.Time       `json:"period_end"`
	Status         InvoiceStatus   `json:"status"`
	Subtotal       decimal.Decimal `json:"subtotal"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	LateFee        decimal.Decimal `json:"late_fee"`
	Interest       decimal.Decimal `json:"interest"`
	TotalAmount    decimal.Decimal `json:"total_amount"`
	PaidAmount     decimal.Decimal `json:"paid_amount"`
	PenaltyApplied bool            `json:"penalty_applied"`
	IssuedAt       *time.Time      `json:"issued_at,omitempty"`
	DueDate        time.Time       `json:"due_date"`
	OverdueAt      *time.Time      `json:"overdue_at,omitempty"`
	PaidAt         *time.Time      `json:"paid_at,omitempty"`
	CancelledAt    *time.Time      `json:"cancelled_at,omitempty"`
	CancelReason   *string         `json:"cancel_reason,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`

	Items []InvoiceItem `json:"items,omitempty" gorm:"-"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// Recompute derives total_amount from its components.
func (i *Invoice) Recompute() {
	i.TotalAmount = money.Round(i.Subtotal.Sub(i.DiscountAmount).Add(i.LateFee).Add(i.Interest))
}

// Outstanding is what is still owed, never negative.
func (i *Invoice) Outstanding() decimal.Decimal {
	out := money.Round(i.TotalAmount.Sub(i.PaidAmount))
	if out.IsNegative() {
		return decimal.Zero
	}
	return out
}

// SettledStatus is the status implied by paid_amount alone. A zero total is settled.
func (i *Invoice) SettledStatus() InvoiceStatus {
	switch {
	case i.PaidAmount.GreaterThanOrEqual(i.TotalAmount):
		return StatusPaid
	case i.PaidAmount.IsPositive():
		return StatusPartial
	case i.OverdueAt != nil:
		return StatusOverdue
	default:
		return StatusPending
	}
}

// InvoiceItem is an immutable snapshot of what was billed.
type InvoiceItem struct {
	ID             snowflake.ID    `json:"id"`
	InvoiceID      snowflake.ID    `json:"invoice_id"`
	Position       int             `json:"position"`
	OrderID        *snowflake.ID   `json:"order_id,omitempty"`
	OrderItemID    *snowflake.ID   `json:"order_item_id,omitempty"`
	SubscriptionID *snowflake.ID   `json:"subscription_id,omitempty"`
	Description    string          `json:"description"`
	Quantity       int             `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unit_price"`
	Amount         decimal.Decimal `json:"amount"`
	CreatedAt      time.Time       `json:"created_at"`
}

// TableName sets the database table name.
func (InvoiceItem) TableName() string { return "invoice_items" }

// InvoicePayment records one registered payment or reversal.
type InvoicePayment struct {
	ID              snowflake.ID    `json:"id"`
	InvoiceID       snowflake.ID    `json:"invoice_id"`
	Amount          decimal.Decimal `json:"amount"`
	Method          string          `json:"method"`
	Reference       string          `json:"reference"`
	PaymentIntentID *snowflake.ID   `json:"payment_intent_id,omitempty"`
	ActorID         *string         `json:"actor_id,omitempty"`
	PaidAt          time.Time       `json:"paid_at"`
	CreatedAt       time.Time       `json:"created_at"`
}

// TableName sets the database table name.
func (InvoicePayment) TableName() string { return "invoice_payments" }

type InvoiceCursor struct {
	ID string `json:"id"`
}
