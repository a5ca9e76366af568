// Package manual backs the manual_pos channel: the operator runs the card on a standalone
// machine and confirms the result, so nothing is sent to a gateway.
package manual

import (
	"context"
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/carehub/internal/payment/domain"
)

const correlationPrefix = "manual-"

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return domain.ProviderManual
}

func (f *Factory) NewGateway(cfg domain.GatewayConfig) (domain.Gateway, error) {
	return &Adapter{}, nil
}

type Adapter struct{}

func (a *Adapter) Provider() string { return domain.ProviderManual }

func (a *Adapter) IntegrationType() domain.IntegrationType { return domain.IntegrationManualPOS }

// CreateIntent hands the intent to the operator; it waits in processing until ConfirmManual.
func (a *Adapter) CreateIntent(ctx context.Context, req domain.IntentRequest) (*domain.IntentResult, error) {
	return &domain.IntentResult{
		CorrelationID: correlationPrefix + req.ExternalReference,
		Status:        domain.StatusProcessing,
	}, nil
}

func (a *Adapter) CheckStatus(ctx context.Context, correlationID string) (*domain.StatusResult, error) {
	return nil, domain.ErrUnsupported
}

func (a *Adapter) Cancel(ctx context.Context, correlationID string) error {
	return nil
}

// Refund is settled at the counter; only the intent record changes.
func (a *Adapter) Refund(ctx context.Context, correlationID string, amount decimal.Decimal) error {
	return nil
}

func (a *Adapter) VerifyNotification(ctx context.Context, payload []byte, headers http.Header) error {
	return domain.ErrUnsupported
}

func (a *Adapter) ParseNotification(ctx context.Context, payload []byte) (*domain.Notification, error) {
	return nil, domain.ErrUnsupported
}
