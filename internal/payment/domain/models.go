package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/carehub/pkg/transition"
	"gorm.io/datatypes"
)

type IntegrationType string

const (
	IntegrationCheckout    IntegrationType = "checkout"
	IntegrationPointTEF    IntegrationType = "point_tef"
	IntegrationManualPOS   IntegrationType = "manual_pos"
	IntegrationGetnetCloud IntegrationType = "getnet_cloud"
)

func (t IntegrationType) Valid() bool {
	switch t {
	case IntegrationCheckout, IntegrationPointTEF, IntegrationManualPOS, IntegrationGetnetCloud:
		return true
	}
	return false
}

// Terminal reports whether the channel dispatches to a physical card terminal that may time out.
func (t IntegrationType) Terminal() bool {
	return t == IntegrationPointTEF || t == IntegrationGetnetCloud
}

// DefaultProvider maps each integration to the adapter that serves it.
func (t IntegrationType) DefaultProvider() string {
	switch t {
	case IntegrationCheckout:
		return ProviderPix
	case IntegrationPointTEF:
		return ProviderPoint
	case IntegrationManualPOS:
		return ProviderManual
	case IntegrationGetnetCloud:
		return ProviderGetnet
	}
	return ""
}

const (
	ProviderPix    = "pix"
	ProviderPoint  = "point"
	ProviderManual = "manual"
	ProviderGetnet = "getnet"
)

type Method string

const (
	MethodPix        Method = "pix"
	MethodCreditCard Method = "credit_card"
	MethodDebitCard  Method = "debit_card"
)

func (m Method) Valid() bool {
	return m == MethodPix || m == MethodCreditCard || m == MethodDebitCard
}

type Status string

const (
	StatusCreated    Status = "created"
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusApproved   Status = "approved"
	StatusRejected   Status = "rejected"
	StatusCancelled  Status = "cancelled"
	StatusRefunded   Status = "refunded"
	StatusError      Status = "error"
)

// Transitions allows gateways to skip forward, e.g. pix goes pending -> approved.
var Transitions = transition.Table[Status]{
	StatusCreated:    {StatusPending, StatusProcessing, StatusApproved, StatusRejected, StatusCancelled, StatusError},
	StatusPending:    {StatusProcessing, StatusApproved, StatusRejected, StatusCancelled, StatusError},
	StatusProcessing: {StatusApproved, StatusRejected, StatusCancelled, StatusError},
	StatusApproved:   {StatusRefunded},
}

// Final reports whether the intent reached a gateway outcome. Only approved may still move, to refunded.
func (s Status) Final() bool {
	switch s {
	case StatusApproved, StatusRejected, StatusCancelled, StatusRefunded, StatusError:
		return true
	}
	return false
}

// Rank orders statuses so late notifications carrying an earlier status can be discarded.
func (s Status) Rank() int {
	switch s {
	case StatusCreated:
		return 0
	case StatusPending:
		return 1
	case StatusProcessing:
		return 2
	case StatusApproved, StatusRejected, StatusCancelled, StatusError:
		return 3
	case StatusRefunded:
		return 4
	}
	return -1
}

func (s Status) Valid() bool {
	return s.Rank() >= 0
}

// PaymentIntent tracks one attempt to collect money through a gateway for an order or an invoice.
type PaymentIntent struct {
	ID                snowflake.ID      `json:"id"`
	IntegrationType   IntegrationType   `json:"integration_type"`
	Provider          string            `json:"provider"`
	PaymentMethod     Method            `json:"payment_method"`
	Amount            decimal.Decimal   `json:"amount"`
	Status            Status            `json:"status"`
	StatusDetail      *string           `json:"status_detail,omitempty"`
	CorrelationID     *string           `json:"correlation_id,omitempty"`
	ExternalReference string            `json:"external_reference"`
	OrderID           *snowflake.ID     `json:"order_id,omitempty"`
	InvoiceID         *snowflake.ID     `json:"invoice_id,omitempty"`
	AccountID         *snowflake.ID     `json:"account_id,omitempty"`
	CashSessionID     *snowflake.ID     `json:"cash_session_id,omitempty"`
	TerminalID        *string           `json:"terminal_id,omitempty"`
	SentToTerminalAt  *time.Time        `json:"sent_to_terminal_at,omitempty"`
	Attempts          int               `json:"attempts"`
	QRCode            *string           `json:"qr_code,omitempty"`
	CheckoutURL       *string           `json:"checkout_url,omitempty"`
	EffectAppliedAt   *time.Time        `json:"effect_applied_at,omitempty"`
	ApprovedAt        *time.Time        `json:"approved_at,omitempty"`
	FinalizedAt       *time.Time        `json:"finalized_at,omitempty"`
	Metadata          datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

func (PaymentIntent) TableName() string { return "payment_intents" }

func (p *PaymentIntent) Correlation() string {
	if p == nil || p.CorrelationID == nil {
		return ""
	}
	return *p.CorrelationID
}

func (p *PaymentIntent) Terminal() string {
	if p == nil || p.TerminalID == nil {
		return ""
	}
	return *p.TerminalID
}

// PaymentNotification is the dedupe record of one inbound gateway callback.
type PaymentNotification struct {
	ID             snowflake.ID   `json:"id"`
	Provider       string         `json:"provider"`
	NotificationID string         `json:"notification_id"`
	CorrelationID  string         `json:"correlation_id"`
	Status         string         `json:"status"`
	Payload        datatypes.JSON `json:"payload"`
	ReceivedAt     time.Time      `json:"received_at"`
	ProcessedAt    *time.Time     `json:"processed_at,omitempty"`
}

func (PaymentNotification) TableName() string { return "payment_notifications" }
