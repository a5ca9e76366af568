package domain

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/carehub/internal/audit/domain"
	"gorm.io/gorm"
)

// CreateIntentRequest targets exactly one of OrderID or InvoiceID.
// A zero Amount defaults to the order total or the invoice outstanding balance.
type CreateIntentRequest struct {
	OrderID         *snowflake.ID
	InvoiceID       *snowflake.ID
	IntegrationType IntegrationType
	Provider        string
	PaymentMethod   Method
	Amount          decimal.Decimal
	TerminalID      string
	CashSessionID   *snowflake.ID
	Description     string
	Actor           auditdomain.Actor
}

type ConfirmManualRequest struct {
	IntentID          snowflake.ID
	Approved          bool
	AuthorizationCode string
	Actor             auditdomain.Actor
}

type RefundRequest struct {
	IntentID snowflake.ID
	Reason   string
	Actor    auditdomain.Actor
}

type SweepResult struct {
	Processed    int `json:"processed"`
	Redispatched int `json:"redispatched"`
	Failed       int `json:"failed"`
}

type Service interface {
	CreateIntent(ctx context.Context, req CreateIntentRequest) (*PaymentIntent, error)
	CheckStatus(ctx context.Context, id snowflake.ID) (*PaymentIntent, error)
	ApplyNotification(ctx context.Context, provider string, payload []byte, headers http.Header) (*PaymentIntent, error)
	Cancel(ctx context.Context, id snowflake.ID, actor auditdomain.Actor) (*PaymentIntent, error)
	Refund(ctx context.Context, req RefundRequest) (*PaymentIntent, error)
	ConfirmManual(ctx context.Context, req ConfirmManualRequest) (*PaymentIntent, error)
	Get(ctx context.Context, id snowflake.ID) (*PaymentIntent, error)
	SweepTerminalTimeouts(ctx context.Context, now time.Time) (SweepResult, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, intent *PaymentIntent) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*PaymentIntent, error)
	FindForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*PaymentIntent, error)
	FindByCorrelation(ctx context.Context, db *gorm.DB, correlationID string) (*PaymentIntent, error)
	Update(ctx context.Context, db *gorm.DB, intent *PaymentIntent) error
	ListTerminalTimedOut(ctx context.Context, db *gorm.DB, sentBefore time.Time, limit int) ([]*PaymentIntent, error)

	InsertNotification(ctx context.Context, db *gorm.DB, notification *PaymentNotification) (bool, error)
	FindNotification(ctx context.Context, db *gorm.DB, provider, notificationID string) (*PaymentNotification, error)
	MarkNotificationProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error
}
