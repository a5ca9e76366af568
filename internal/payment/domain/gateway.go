package domain

import (
	"context"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// GatewayConfig is the per-provider configuration an adapter is built from.
type GatewayConfig struct {
	BaseURL       string
	AccessToken   string
	WebhookSecret string
	Timeout       time.Duration
}

type IntentRequest struct {
	ExternalReference string
	Amount            decimal.Decimal
	Method            Method
	TerminalID        string
	Description       string
}

type IntentResult struct {
	CorrelationID string
	Status        Status
	StatusDetail  string
	QRCode        string
	CheckoutURL   string
}

type StatusResult struct {
	CorrelationID string
	Status        Status
	StatusDetail  string
	// Amount is nil when the gateway did not report one.
	Amount *decimal.Decimal
}

// Notification is a gateway callback normalized by its adapter.
type Notification struct {
	Provider       string
	NotificationID string
	CorrelationID  string
	Status         Status
	StatusDetail   string
	Amount         *decimal.Decimal
	Method         string
	Metadata       map[string]any
	OccurredAt     time.Time
	RawPayload     []byte
}

// Gateway is implemented by every payment adapter.
type Gateway interface {
	Provider() string
	IntegrationType() IntegrationType
	CreateIntent(ctx context.Context, req IntentRequest) (*IntentResult, error)
	CheckStatus(ctx context.Context, correlationID string) (*StatusResult, error)
	Cancel(ctx context.Context, correlationID string) error
	Refund(ctx context.Context, correlationID string, amount decimal.Decimal) error
	VerifyNotification(ctx context.Context, payload []byte, headers http.Header) error
	ParseNotification(ctx context.Context, payload []byte) (*Notification, error)
}

type GatewayFactory interface {
	Provider() string
	NewGateway(cfg GatewayConfig) (Gateway, error)
}

// GatewayResolver returns the configured adapter for a provider name.
type GatewayResolver interface {
	Gateway(provider string) (Gateway, error)
}
