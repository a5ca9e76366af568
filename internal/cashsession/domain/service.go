package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/carehub/internal/audit/domain"
	"gorm.io/gorm"
)

type OpenRequest struct {
	UserID         string
	DeviceID       string
	OpeningBalance decimal.Decimal
	Notes          string
	Actor          auditdomain.Actor
}

type MovementRequest struct {
	SessionID       snowflake.ID
	Type            MovementType
	Amount          decimal.Decimal
	Method          string
	Description     string
	OrderID         *snowflake.ID
	PaymentIntentID *snowflake.ID
	Actor           auditdomain.Actor
}

// CloseRequest carries what the operator counted, per method, without seeing the expected values.
type CloseRequest struct {
	SessionID       snowflake.ID
	CountedByMethod map[string]decimal.Decimal
	Notes           string
	Actor           auditdomain.Actor
}

type AuditRequest struct {
	SessionID snowflake.ID
	Notes     string
	Actor     auditdomain.Actor
}

type CloseResult struct {
	Session           *CashSession       `json:"session"`
	Counts            []CashSessionCount `json:"counts"`
	CalculatedBalance decimal.Decimal    `json:"calculated_balance"`
	CountedBalance    decimal.Decimal    `json:"counted_balance"`
	Difference        decimal.Decimal    `json:"difference"`
}

// Balanced reports whether every counted method matched its expected total.
func (r CloseResult) Balanced() bool {
	for _, c := range r.Counts {
		if !c.Difference.IsZero() {
			return false
		}
	}
	return true
}

type Summary struct {
	Session          *CashSession               `json:"session"`
	ExpectedByMethod map[string]decimal.Decimal `json:"expected_by_method"`
	Counts           []CashSessionCount         `json:"counts"`
	Movements        int                        `json:"movements"`
}

type Service interface {
	Open(ctx context.Context, req OpenRequest) (*CashSession, error)
	RecordMovement(ctx context.Context, req MovementRequest) (*CashMovement, error)
	RecordMovementTx(ctx context.Context, tx *gorm.DB, req MovementRequest) (*CashMovement, error)
	Close(ctx context.Context, req CloseRequest) (*CloseResult, error)
	Current(ctx context.Context, userID string) (*CashSession, error)
	Summary(ctx context.Context, id snowflake.ID) (*Summary, error)
	Audit(ctx context.Context, req AuditRequest) (*CashSession, error)
	Get(ctx context.Context, id snowflake.ID) (*CashSession, error)
}

type Repository interface {
	InsertSession(ctx context.Context, db *gorm.DB, session *CashSession) error
	FindSession(ctx context.Context, db *gorm.DB, id snowflake.ID) (*CashSession, error)
	FindSessionForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*CashSession, error)
	FindOpenByUser(ctx context.Context, db *gorm.DB, userID string) (*CashSession, error)
	UpdateSession(ctx context.Context, db *gorm.DB, session *CashSession) error

	InsertMovement(ctx context.Context, db *gorm.DB, movement *CashMovement) error
	ListMovements(ctx context.Context, db *gorm.DB, sessionID snowflake.ID) ([]*CashMovement, error)

	InsertCount(ctx context.Context, db *gorm.DB, count *CashSessionCount) error
	ListCounts(ctx context.Context, db *gorm.DB, sessionID snowflake.ID) ([]CashSessionCount, error)
}
