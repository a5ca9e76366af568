package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/carehub/internal/audit/domain"
	"github.com/smallbiznis/carehub/pkg/db/pagination"
	"github.com/smallbiznis/carehub/pkg/transition"
	"gorm.io/gorm"
)

type PaymentMethod string

const (
	MethodWallet       PaymentMethod = "wallet"
	MethodCash         PaymentMethod = "cash"
	MethodPix          PaymentMethod = "pix"
	MethodCreditCard   PaymentMethod = "credit_card"
	MethodDebitCard    PaymentMethod = "debit_card"
	MethodBankTransfer PaymentMethod = "bank_transfer"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodWallet, MethodCash, MethodPix, MethodCreditCard, MethodDebitCard, MethodBankTransfer:
		return true
	}
	return false
}

type GenerateConsumptionRequest struct {
	AccountID   snowflake.ID
	PeriodStart time.Time
	PeriodEnd   time.Time
	Discount    decimal.Decimal
	// DueDays overrides the policy's invoice_due_days when positive.
	DueDays int
	AsDraft bool
	Actor   auditdomain.Actor
}

type GenerateSubscriptionRequest struct {
	SubscriptionID snowflake.ID
	Now            time.Time
	Actor          auditdomain.Actor
}

type RegisterPaymentRequest struct {
	InvoiceID       snowflake.ID
	Amount          decimal.Decimal
	Method          PaymentMethod
	PaidAt          time.Time
	Reference       string
	PaymentIntentID *snowflake.ID
	Actor           auditdomain.Actor
}

type ReversePaymentRequest struct {
	InvoiceID       snowflake.ID
	Amount          decimal.Decimal
	Method          PaymentMethod
	Reference       string
	PaymentIntentID *snowflake.ID
	Actor           auditdomain.Actor
}

type CancelRequest struct {
	InvoiceID snowflake.ID
	Reason    string
	Actor     auditdomain.Actor
}

type ApplyDiscountRequest struct {
	InvoiceID snowflake.ID
	Discount  decimal.Decimal
	Actor     auditdomain.Actor
}

// SweepResult summarizes one subscription billing or overdue sweep.
type SweepResult struct {
	Processed int            `json:"processed"`
	Skipped   int            `json:"skipped"`
	Blocked   []snowflake.ID `json:"blocked,omitempty"`
}

type ListInvoiceRequest struct {
	pagination.Pagination
	AccountID *snowflake.ID
	Status    *InvoiceStatus
	Type      *InvoiceType
}

type ListInvoiceResponse struct {
	pagination.PageInfo
	Invoices []Invoice `json:"invoices"`
}

type Service interface {
	GenerateConsumption(ctx context.Context, req GenerateConsumptionRequest) (*Invoice, error)
	GenerateSubscription(ctx context.Context, req GenerateSubscriptionRequest) (*Invoice, error)
	GenerateDueSubscriptions(ctx context.Context, now time.Time) (SweepResult, error)

	Issue(ctx context.Context, id snowflake.ID, actor auditdomain.Actor) (*Invoice, error)
	ApplyDiscount(ctx context.Context, req ApplyDiscountRequest) (*Invoice, error)
	RegisterPayment(ctx context.Context, req RegisterPaymentRequest) (*Invoice, error)
	RegisterPaymentTx(ctx context.Context, tx *gorm.DB, req RegisterPaymentRequest) (*Invoice, error)
	ReversePaymentTx(ctx context.Context, tx *gorm.DB, req ReversePaymentRequest) (*Invoice, error)
	MarkOverdue(ctx context.Context, now time.Time) (SweepResult, error)
	Cancel(ctx context.Context, req CancelRequest) (*Invoice, error)

	// Payment attempt hooks used by the payment coordinator.
	MarkProcessingTx(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*Invoice, error)
	RestoreAfterAttemptTx(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*Invoice, error)
	MarkFailedTx(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*Invoice, error)

	Get(ctx context.Context, id snowflake.ID) (*Invoice, error)
	GetTx(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*Invoice, error)
	List(ctx context.Context, req ListInvoiceRequest) (ListInvoiceResponse, error)
	ListPayments(ctx context.Context, id snowflake.ID) ([]InvoicePayment, error)
}

type ListFilter struct {
	AccountID *snowflake.ID
	Status    *InvoiceStatus
	Type      *InvoiceType
	AfterID   *snowflake.ID
	Limit     int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	InsertItems(ctx context.Context, db *gorm.DB, items []InvoiceItem) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Invoice, error)
	FindForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Invoice, error)
	FindBySubscriptionPeriod(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, periodStart time.Time) (*Invoice, error)
	ListItems(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]InvoiceItem, error)
	Update(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Invoice, error)
	ListOverdueCandidates(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]snowflake.ID, error)
	CountOverdue(ctx context.Context, db *gorm.DB, accountID snowflake.ID) (int64, error)

	InsertPayment(ctx context.Context, db *gorm.DB, payment *InvoicePayment) error
	FindPaymentByReference(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID, reference string) (*InvoicePayment, error)
	ListPayments(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]InvoicePayment, error)
}

var (
	ErrInvoiceNotFound     = errors.New("invoice_not_found")
	ErrNoEligibleOrders    = errors.New("no_eligible_orders")
	ErrAlreadySettled      = errors.New("invoice_already_settled")
	ErrInvalidAccount      = errors.New("invalid_account")
	ErrInvalidPeriod       = errors.New("invalid_period")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrInvalidDiscount     = errors.New("invalid_discount")
	ErrInvalidMethod       = errors.New("invalid_payment_method")
	ErrInvalidReference    = errors.New("invalid_payment_reference")
	ErrInvalidReason       = errors.New("invalid_cancel_reason")
	ErrInvalidPageToken    = errors.New("invalid_page_token")
	ErrReferenceConflict   = errors.New("payment_reference_conflict")
	ErrPeriodAlreadyBilled = errors.New("period_already_billed")
	ErrSubscriptionNotDue  = errors.New("subscription_not_due")
	ErrInvalidTransition   = transition.ErrInvalidTransition
)
