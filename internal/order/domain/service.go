package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/carehub/internal/audit/domain"
	"gorm.io/gorm"
)

type ItemInput struct {
	ProductRef  string          `json:"product_ref"`
	Description string          `json:"description"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

// CreateRequest is the one shape every order origin submits.
// Total is optional; when set it must equal the sum of the items.
type CreateRequest struct {
	AccountID     *snowflake.ID   `json:"account_id,omitempty"`
	Items         []ItemInput     `json:"items"`
	Total         decimal.Decimal `json:"total"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	Origin        Origin          `json:"origin"`
	CashSessionID *snowflake.ID   `json:"cash_session_id,omitempty"`
	DeviceID      string          `json:"device_id,omitempty"`
	LocalID       string          `json:"local_id,omitempty"`
	PlacedAt      time.Time       `json:"placed_at"`
	Notes         string          `json:"notes,omitempty"`
	Actor         auditdomain.Actor
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Order, error)
	CreateTx(ctx context.Context, tx *gorm.DB, req CreateRequest) (*Order, error)
	Get(ctx context.Context, id snowflake.ID) (*Order, error)
	Cancel(ctx context.Context, id snowflake.ID, reason string, actor auditdomain.Actor) (*Order, error)

	// MarkPaidTx settles a pending order. It reports false when the order was already paid.
	MarkPaidTx(ctx context.Context, tx *gorm.DB, id snowflake.ID, paidAt time.Time) (bool, error)
	MarkRefundedTx(ctx context.Context, tx *gorm.DB, id snowflake.ID, actor auditdomain.Actor) (bool, error)
	GetTx(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*Order, error)

	LockInvoiceableTx(ctx context.Context, tx *gorm.DB, filter InvoiceableFilter) ([]*Order, error)
	MarkInvoicedTx(ctx context.Context, tx *gorm.DB, orderIDs []snowflake.ID, invoiceID snowflake.ID) error
	ReleaseInvoiceTx(ctx context.Context, tx *gorm.DB, invoiceID snowflake.ID) (int64, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, order *Order) error
	InsertItems(ctx context.Context, db *gorm.DB, items []OrderItem) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Order, error)
	FindForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Order, error)
	ListItems(ctx context.Context, db *gorm.DB, orderIDs []snowflake.ID) ([]OrderItem, error)
	UpdateSettlement(ctx context.Context, db *gorm.DB, order *Order) error
	LockInvoiceable(ctx context.Context, db *gorm.DB, filter InvoiceableFilter) ([]*Order, error)
	MarkInvoiced(ctx context.Context, db *gorm.DB, orderIDs []snowflake.ID, invoiceID snowflake.ID, now time.Time) error
	ReleaseInvoice(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID, now time.Time) (int64, error)
}
