package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusInactive  Status = "inactive"
	StatusSuspended Status = "suspended"
)

type TransactionType string

const (
	TransactionCredit             TransactionType = "credit"
	TransactionDebit              TransactionType = "debit"
	TransactionSubscriptionCredit TransactionType = "subscription_credit"
	TransactionSubscriptionDebit  TransactionType = "subscription_debit"
	TransactionRefund             TransactionType = "refund"
	TransactionAdjustment         TransactionType = "adjustment"
	TransactionLimitChange        TransactionType = "limit_change"
)

// Delta is the signed change a transaction applies to credit_used.
func (t TransactionType) Delta(amount decimal.Decimal) decimal.Decimal {
	switch t {
	case TransactionDebit, TransactionSubscriptionDebit:
		return amount
	case TransactionCredit, TransactionSubscriptionCredit, TransactionRefund:
		return amount.Neg()
	case TransactionAdjustment:
		return amount
	default:
		return decimal.Zero
	}
}

func (t TransactionType) IsDebit() bool {
	return t == TransactionDebit || t == TransactionSubscriptionDebit
}

func (t TransactionType) IsCredit() bool {
	return t == TransactionCredit || t == TransactionSubscriptionCredit || t == TransactionRefund
}

type Account struct {
	ID              snowflake.ID    `json:"id"`
	Name            string          `json:"name"`
	ExternalRef     *string         `json:"external_ref,omitempty"`
	CreditLimit     decimal.Decimal `json:"credit_limit"`
	CreditUsed      decimal.Decimal `json:"credit_used"`
	CreditAvailable decimal.Decimal `json:"credit_available" gorm:"-"`
	IsBlocked       bool            `json:"is_blocked"`
	BlockedReason   *string         `json:"blocked_reason,omitempty"`
	Status          Status          `json:"status"`
	RetiredAt       *time.Time      `json:"retired_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func (Account) TableName() string { return "accounts" }

// Available is credit_limit - credit_used. A negative credit_used is a prepaid balance and raises it.
func (a *Account) Available() decimal.Decimal {
	return a.CreditLimit.Sub(a.CreditUsed)
}

// CanSpend reports whether the account accepts debits.
func (a *Account) CanSpend() bool {
	return a.Status == StatusActive && !a.IsBlocked
}

type LedgerTransaction struct {
	ID             snowflake.ID      `json:"id"`
	AccountID      snowflake.ID      `json:"account_id"`
	Type           TransactionType   `json:"type"`
	Amount         decimal.Decimal   `json:"amount"`
	BalanceBefore  decimal.Decimal   `json:"balance_before"`
	BalanceAfter   decimal.Decimal   `json:"balance_after"`
	Reason         string            `json:"reason"`
	OrderID        *snowflake.ID     `json:"order_id,omitempty"`
	InvoiceID      *snowflake.ID     `json:"invoice_id,omitempty"`
	ExternalRef    *string           `json:"external_ref,omitempty"`
	CorrelationRef *string           `json:"correlation_ref,omitempty"`
	ActorType      string            `json:"actor_type"`
	ActorID        *string           `json:"actor_id,omitempty"`
	Metadata       datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

func (LedgerTransaction) TableName() string { return "ledger_transactions" }

type TransactionCursor struct {
	ID snowflake.ID
}

type TransactionFilter struct {
	AccountID snowflake.ID
	Type      TransactionType
	Cursor    *TransactionCursor
	Limit     int
}
