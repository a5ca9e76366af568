package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/carehub/pkg/transition"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

var Transitions = transition.Table[Status]{
	StatusPending:   {StatusCompleted, StatusCancelled},
	StatusCompleted: {StatusCancelled},
}

type PaymentStatus string

const (
	PaymentUnpaid   PaymentStatus = "unpaid"
	PaymentPaid     PaymentStatus = "paid"
	PaymentRefunded PaymentStatus = "refunded"
)

type PaymentMethod string

const (
	MethodWallet     PaymentMethod = "wallet"
	MethodCash       PaymentMethod = "cash"
	MethodPix        PaymentMethod = "pix"
	MethodCreditCard PaymentMethod = "credit_card"
	MethodDebitCard  PaymentMethod = "debit_card"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodWallet, MethodCash, MethodPix, MethodCreditCard, MethodDebitCard:
		return true
	}
	return false
}

// SettlesImmediately reports whether the order is paid at creation.
func (m PaymentMethod) SettlesImmediately() bool {
	return m == MethodWallet || m == MethodCash
}

type Origin string

const (
	OriginPOS         Origin = "pos"
	OriginApp         Origin = "app"
	OriginOfflineSync Origin = "offline_sync"
)

func (o Origin) Valid() bool {
	return o == OriginPOS || o == OriginApp || o == OriginOfflineSync
}

type Order struct {
	ID            snowflake.ID    `json:"id"`
	AccountID     *snowflake.ID   `json:"account_id,omitempty"`
	Status        Status          `json:"status"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	PaymentStatus PaymentStatus   `json:"payment_status"`
	Total         decimal.Decimal `json:"total"`
	IsInvoiced    bool            `json:"is_invoiced"`
	InvoiceID     *snowflake.ID   `json:"invoice_id,omitempty"`
	Origin        Origin          `json:"origin"`
	CashSessionID *snowflake.ID   `json:"cash_session_id,omitempty"`
	DeviceID      *string         `json:"device_id,omitempty"`
	LocalID       *string         `json:"local_id,omitempty"`
	Notes         *string         `json:"notes,omitempty"`
	PlacedAt      time.Time       `json:"placed_at"`
	PaidAt        *time.Time      `json:"paid_at,omitempty"`
	CancelledAt   *time.Time      `json:"cancelled_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`

	Items []OrderItem `json:"items,omitempty" gorm:"-"`
}

func (Order) TableName() string { return "orders" }

type OrderItem struct {
	ID          snowflake.ID    `json:"id"`
	OrderID     snowflake.ID    `json:"order_id"`
	Position    int             `json:"position"`
	ProductRef  *string         `json:"product_ref,omitempty"`
	Description string          `json:"description"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Amount      decimal.Decimal `json:"amount"`
}

func (OrderItem) TableName() string { return "order_items" }

// InvoiceableFilter selects settled wallet orders not yet on an invoice.
type InvoiceableFilter struct {
	AccountID   snowflake.ID
	PeriodStart time.Time
	PeriodEnd   time.Time
}
