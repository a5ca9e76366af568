package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/carehub/pkg/transition"
)

type Status string

const (
	StatusOpen    Status = "open"
	StatusClosed  Status = "closed"
	StatusAudited Status = "audited"
)

var Transitions = transition.Table[Status]{
	StatusOpen:   {StatusClosed},
	StatusClosed: {StatusAudited},
}

type MovementType string

const (
	MovementOpening MovementType = "opening"
	MovementSale    MovementType = "sale"
	MovementSupply  MovementType = "supply"
	MovementBleed   MovementType = "bleed"
	MovementClosing MovementType = "closing"
)

const (
	MethodCash       = "cash"
	MethodCreditCard = "credit_card"
	MethodDebitCard  = "debit_card"
	MethodPix        = "pix"
	MethodWallet     = "wallet"
)

// PhysicalMethods are counted at close. Wallet sales only move credit and are never counted.
var PhysicalMethods = []string{MethodCash, MethodCreditCard, MethodDebitCard, MethodPix}

func IsPhysicalMethod(method string) bool {
	for _, m := range PhysicalMethods {
		if m == method {
			return true
		}
	}
	return false
}

func IsKnownMethod(method string) bool {
	return method == MethodWallet || IsPhysicalMethod(method)
}

type CashSession struct {
	ID                snowflake.ID        `json:"id"`
	UserID            string              `json:"user_id"`
	DeviceID          *string             `json:"device_id,omitempty"`
	OpeningBalance    decimal.Decimal     `json:"opening_balance"`
	CalculatedBalance decimal.NullDecimal `json:"calculated_balance"`
	CountedBalance    decimal.NullDecimal `json:"counted_balance"`
	Difference        decimal.NullDecimal `json:"difference"`
	Status            Status              `json:"status"`
	Notes             *string             `json:"notes,omitempty"`
	OpenedAt          time.Time           `json:"opened_at"`
	ClosedAt          *time.Time          `json:"closed_at,omitempty"`
	AuditedAt         *time.Time          `json:"audited_at,omitempty"`
	AuditedBy         *string             `json:"audited_by,omitempty"`
	AuditNotes        *string             `json:"audit_notes,omitempty"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
}

func (CashSession) TableName() string { return "cash_sessions" }

type CashMovement struct {
	ID              snowflake.ID    `json:"id"`
	SessionID       snowflake.ID    `json:"session_id"`
	Type            MovementType    `json:"type"`
	Amount          decimal.Decimal `json:"amount"`
	PaymentMethod   string          `json:"payment_method"`
	OrderID         *snowflake.ID   `json:"order_id,omitempty"`
	PaymentIntentID *snowflake.ID   `json:"payment_intent_id,omitempty"`
	Description     *string         `json:"description,omitempty"`
	ActorID         *string         `json:"actor_id,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}

func (CashMovement) TableName() string { return "cash_movements" }

// CashSessionCount is the blind-close outcome for one payment method.
type CashSessionCount struct {
	ID            snowflake.ID    `json:"id"`
	SessionID     snowflake.ID    `json:"session_id"`
	PaymentMethod string          `json:"payment_method"`
	Expected      decimal.Decimal `json:"expected"`
	Counted       decimal.Decimal `json:"counted"`
	Difference    decimal.Decimal `json:"difference"`
	Attributable  bool            `json:"attributable"`
	CreatedAt     time.Time       `json:"created_at"`
}

func (CashSessionCount) TableName() string { return "cash_session_counts" }
