package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/carehub/internal/audit/domain"
	orderdomain "github.com/smallbiznis/carehub/internal/order/domain"
	"gorm.io/gorm"
)

const MaxBatchSize = 100

// OrderPayload is the order as the offline client recorded it.
type OrderPayload struct {
	AccountID     *snowflake.ID             `json:"account_id,omitempty"`
	Items         []orderdomain.ItemInput   `json:"items" binding:"required,min=1,dive"`
	Total         decimal.Decimal           `json:"total"`
	PaymentMethod orderdomain.PaymentMethod `json:"payment_method" binding:"required"`
	CashSessionID *snowflake.ID             `json:"cash_session_id,omitempty"`
	PlacedAt      time.Time                 `json:"placed_at"`
	Notes         string                    `json:"notes,omitempty"`
}

type SubmitRequest struct {
	DeviceID string       `json:"device_id"`
	LocalID  string       `json:"local_id"`
	Order    OrderPayload `json:"order"`
	Actor    auditdomain.Actor
}

type SubmitResult struct {
	Outcome         Outcome      `json:"outcome"`
	OrderID         snowflake.ID `json:"order_id"`
	PayloadMismatch bool         `json:"payload_mismatch,omitempty"`
}

type BatchItem struct {
	LocalID string       `json:"local_id"`
	Order   OrderPayload `json:"order"`
}

type BatchItemResult struct {
	LocalID         string       `json:"local_id"`
	Outcome         Outcome      `json:"outcome"`
	OrderID         snowflake.ID `json:"order_id,omitempty"`
	PayloadMismatch bool         `json:"payload_mismatch,omitempty"`
	Reason          string       `json:"reason,omitempty"`
}

type BatchResult struct {
	Created  int               `json:"created"`
	Skipped  int               `json:"skipped"`
	Rejected int               `json:"rejected"`
	Items    []BatchItemResult `json:"items"`
}

type Service interface {
	Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error)
	SubmitBatch(ctx context.Context, deviceID string, items []BatchItem, actor auditdomain.Actor) (*BatchResult, error)
}

type Repository interface {
	// Insert reports false when (device_id, local_id) already exists.
	Insert(ctx context.Context, db *gorm.DB, record *SyncRecord) (bool, error)
	Find(ctx context.Context, db *gorm.DB, deviceID, localID string) (*SyncRecord, error)
}
