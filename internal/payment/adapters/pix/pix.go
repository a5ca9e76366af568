// Package pix is the checkout adapter: the gateway returns a PIX QR code and reports the outcome by webhook.
package pix

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/carehub/internal/payment/adapters/httpclient"
	"github.com/smallbiznis/carehub/internal/payment/adapters/signature"
	"github.com/smallbiznis/carehub/internal/payment/domain"
	"github.com/smallbiznis/carehub/pkg/money"
)

const (
	signatureHeader    = "X-Signature"
	signatureTolerance = 5 * time.Minute
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return domain.ProviderPix
}

func (f *Factory) NewGateway(cfg domain.GatewayConfig) (domain.Gateway, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" || strings.TrimSpace(cfg.WebhookSecret) == "" {
		return nil, domain.ErrInvalidConfig
	}
	return &Adapter{
		client: httpclient.New(httpclient.Config{
			Provider:    domain.ProviderPix,
			BaseURL:     cfg.BaseURL,
			AccessToken: cfg.AccessToken,
			Timeout:     cfg.Timeout,
		}),
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
	}, nil
}

type Adapter struct {
	client        *httpclient.Client
	webhookSecret string
}

func (a *Adapter) Provider() string { return domain.ProviderPix }

func (a *Adapter) IntegrationType() domain.IntegrationType { return domain.IntegrationCheckout }

type createPaymentRequest struct {
	ExternalReference string `json:"external_reference"`
	TransactionAmount string `json:"transaction_amount"`
	PaymentMethodID   string `json:"payment_method_id"`
	Description       string `json:"description,omitempty"`
}

type pixPayment struct {
	ID                 json.Number `json:"id"`
	Status             string      `json:"status"`
	StatusDetail       string      `json:"status_detail"`
	TransactionAmount  json.Number `json:"transaction_amount"`
	ExternalReference  string      `json:"external_reference"`
	PaymentMethodID    string      `json:"payment_method_id"`
	PointOfInteraction struct {
		TransactionData struct {
			QRCode    string `json:"qr_code"`
			TicketURL string `json:"ticket_url"`
		} `json:"transaction_data"`
	} `json:"point_of_interaction"`
}

func (a *Adapter) CreateIntent(ctx context.Context, req domain.IntentRequest) (*domain.IntentResult, error) {
	var payment pixPayment
	err := a.client.Do(ctx, http.MethodPost, "/v1/payments", createPaymentRequest{
		ExternalReference: req.ExternalReference,
		TransactionAmount: money.Format(req.Amount),
		PaymentMethodID:   "pix",
		Description:       req.Description,
	}, &payment)
	if err != nil {
		return nil, err
	}
	id := payment.ID.String()
	if id == "" {
		return nil, domain.ErrInvalidPayload
	}
	return &domain.IntentResult{
		CorrelationID: id,
		Status:        mapStatus(payment.Status),
		StatusDetail:  payment.StatusDetail,
		QRCode:        payment.PointOfInteraction.TransactionData.QRCode,
		CheckoutURL:   payment.PointOfInteraction.TransactionData.TicketURL,
	}, nil
}

func (a *Adapter) CheckStatus(ctx context.Context, correlationID string) (*domain.StatusResult, error) {
	var payment pixPayment
	if err := a.client.Do(ctx, http.MethodGet, "/v1/payments/"+correlationID, nil, &payment); err != nil {
		return nil, err
	}
	return &domain.StatusResult{
		CorrelationID: correlationID,
		Status:        mapStatus(payment.Status),
		StatusDetail:  payment.StatusDetail,
		Amount:        parseAmount(payment.TransactionAmount),
	}, nil
}

func (a *Adapter) Cancel(ctx context.Context, correlationID string) error {
	return a.client.Do(ctx, http.MethodPut, "/v1/payments/"+correlationID, map[string]string{"status": "cancelled"}, nil)
}

func (a *Adapter) Refund(ctx context.Context, correlationID string, amount decimal.Decimal) error {
	return a.client.Do(ctx, http.MethodPost, "/v1/payments/"+correlationID+"/refunds",
		map[string]string{"amount": money.Format(amount)}, nil)
}

func (a *Adapter) VerifyNotification(ctx context.Context, payload []byte, headers http.Header) error {
	return signature.Verify(headers.Get(signatureHeader), a.webhookSecret, payload, time.Now(), signatureTolerance)
}

type pixNotification struct {
	ID          json.Number `json:"id"`
	Type        string      `json:"type"`
	DateCreated string      `json:"date_created"`
	Data        pixPayment  `json:"data"`
}

func (a *Adapter) ParseNotification(ctx context.Context, payload []byte) (*domain.Notification, error) {
	var event pixNotification
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.Type) != "payment" {
		return nil, domain.ErrNotificationIgnored
	}
	notificationID := strings.TrimSpace(event.ID.String())
	correlationID := strings.TrimSpace(event.Data.ID.String())
	if notificationID == "" || correlationID == "" {
		return nil, domain.ErrInvalidNotification
	}
	status := mapStatus(event.Data.Status)
	if status == "" {
		return nil, domain.ErrNotificationIgnored
	}

	occurredAt := time.Now().UTC()
	if parsed, err := time.Parse(time.RFC3339, event.DateCreated); err == nil {
		occurredAt = parsed.UTC()
	}
	return &domain.Notification{
		Provider:       domain.ProviderPix,
		NotificationID: notificationID,
		CorrelationID:  correlationID,
		Status:         status,
		StatusDetail:   event.Data.StatusDetail,
		Amount:         parseAmount(event.Data.TransactionAmount),
		Method:         "pix",
		Metadata:       map[string]any{"external_reference": event.Data.ExternalReference},
		OccurredAt:     occurredAt,
		RawPayload:     payload,
	}, nil
}

func mapStatus(raw string) domain.Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pending":
		return domain.StatusPending
	case "in_process", "authorized":
		return domain.StatusProcessing
	case "approved":
		return domain.StatusApproved
	case "rejected":
		return domain.StatusRejected
	case "cancelled":
		return domain.StatusCancelled
	case "refunded", "charged_back":
		return domain.StatusRefunded
	}
	return ""
}

func parseAmount(raw json.Number) *decimal.Decimal {
	value := strings.TrimSpace(raw.String())
	if value == "" {
		return nil
	}
	amount, err := money.Parse(value)
	if err != nil {
		return nil
	}
	return &amount
}
