// Package point dispatches card payments to a Point TEF terminal.
package point

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/carehub/internal/payment/adapters/httpclient"
	"github.com/smallbiznis/carehub/internal/payment/adapters/signature"
	"github.com/smallbiznis/carehub/internal/payment/domain"
	"github.com/smallbiznis/carehub/pkg/money"
)

const (
	signatureHeader    = "X-Point-Signature"
	signatureTolerance = 5 * time.Minute
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return domain.ProviderPoint
}

func (f *Factory) NewGateway(cfg domain.GatewayConfig) (domain.Gateway, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" || strings.TrimSpace(cfg.WebhookSecret) == "" {
		return nil, domain.ErrInvalidConfig
	}
	return &Adapter{
		client: httpclient.New(httpclient.Config{
			Provider:    domain.ProviderPoint,
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

func (a *Adapter) Provider() string { return domain.ProviderPoint }

func (a *Adapter) IntegrationType() domain.IntegrationType { return domain.IntegrationPointTEF }

type paymentIntentRequest struct {
	Amount            string `json:"amount"`
	ExternalReference string `json:"external_reference"`
	Description       string `json:"description,omitempty"`
	Payment           struct {
		Type string `json:"type"`
	} `json:"payment"`
}

type pointIntent struct {
	ID       string `json:"id"`
	State    string `json:"state"`
	DeviceID string `json:"device_id"`
	Amount   string `json:"amount"`
	Payment  struct {
		ID           json.Number `json:"id"`
		Status       string      `json:"status"`
		StatusDetail string      `json:"status_detail"`
	} `json:"payment"`
}

func (a *Adapter) CreateIntent(ctx context.Context, req domain.IntentRequest) (*domain.IntentResult, error) {
	terminal := strings.TrimSpace(req.TerminalID)
	if terminal == "" {
		return nil, domain.ErrTerminalRequired
	}
	body := paymentIntentRequest{
		Amount:            money.Format(req.Amount),
		ExternalReference: req.ExternalReference,
		Description:       req.Description,
	}
	body.Payment.Type = string(req.Method)

	var intent pointIntent
	path := "/point/devices/" + url.PathEscape(terminal) + "/payment-intents"
	if err := a.client.Do(ctx, http.MethodPost, path, body, &intent); err != nil {
		return nil, err
	}
	if strings.TrimSpace(intent.ID) == "" {
		return nil, domain.ErrInvalidPayload
	}
	status, detail := mapState(intent)
	if status == "" {
		status = domain.StatusProcessing
	}
	return &domain.IntentResult{
		CorrelationID: intent.ID,
		Status:        status,
		StatusDetail:  detail,
	}, nil
}

func (a *Adapter) CheckStatus(ctx context.Context, correlationID string) (*domain.StatusResult, error) {
	var intent pointIntent
	if err := a.client.Do(ctx, http.MethodGet, "/point/payment-intents/"+url.PathEscape(correlationID), nil, &intent); err != nil {
		return nil, err
	}
	status, detail := mapState(intent)
	return &domain.StatusResult{
		CorrelationID: correlationID,
		Status:        status,
		StatusDetail:  detail,
		Amount:        parseAmount(intent.Amount),
	}, nil
}

func (a *Adapter) Cancel(ctx context.Context, correlationID string) error {
	return a.client.Do(ctx, http.MethodDelete, "/point/payment-intents/"+url.PathEscape(correlationID), nil, nil)
}

func (a *Adapter) Refund(ctx context.Context, correlationID string, amount decimal.Decimal) error {
	return a.client.Do(ctx, http.MethodPost, "/point/payment-intents/"+url.PathEscape(correlationID)+"/refunds",
		map[string]string{"amount": money.Format(amount)}, nil)
}

func (a *Adapter) VerifyNotification(ctx context.Context, payload []byte, headers http.Header) error {
	return signature.Verify(headers.Get(signatureHeader), a.webhookSecret, payload, time.Now(), signatureTolerance)
}

type pointNotification struct {
	ID        string      `json:"id"`
	Action    string      `json:"action"`
	CreatedAt string      `json:"created_at"`
	Data      pointIntent `json:"data"`
}

func (a *Adapter) ParseNotification(ctx context.Context, payload []byte) (*domain.Notification, error) {
	var event pointNotification
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if !strings.HasPrefix(strings.TrimSpace(event.Action), "state_") {
		return nil, domain.ErrNotificationIgnored
	}
	if strings.TrimSpace(event.ID) == "" || strings.TrimSpace(event.Data.ID) == "" {
		return nil, domain.ErrInvalidNotification
	}
	status, detail := mapState(event.Data)
	if status == "" {
		return nil, domain.ErrNotificationIgnored
	}

	occurredAt := time.Now().UTC()
	if parsed, err := time.Parse(time.RFC3339, event.CreatedAt); err == nil {
		occurredAt = parsed.UTC()
	}
	return &domain.Notification{
		Provider:       domain.ProviderPoint,
		NotificationID: strings.TrimSpace(event.ID),
		CorrelationID:  strings.TrimSpace(event.Data.ID),
		Status:         status,
		StatusDetail:   detail,
		Amount:         parseAmount(event.Data.Amount),
		Metadata: map[string]any{
			"device_id":  event.Data.DeviceID,
			"payment_id": event.Data.Payment.ID.String(),
		},
		OccurredAt: occurredAt,
		RawPayload: payload,
	}, nil
}

// mapState folds the terminal state and the embedded payment outcome into one status.
func mapState(intent pointIntent) (domain.Status, string) {
	detail := strings.TrimSpace(intent.Payment.StatusDetail)
	switch strings.ToUpper(strings.TrimSpace(intent.State)) {
	case "OPEN", "ON_TERMINAL", "PROCESSING":
		return domain.StatusProcessing, detail
	case "FINISHED":
		switch strings.ToLower(strings.TrimSpace(intent.Payment.Status)) {
		case "approved":
			return domain.StatusApproved, detail
		case "rejected":
			return domain.StatusRejected, detail
		case "refunded":
			return domain.StatusRefunded, detail
		}
		return domain.StatusProcessing, detail
	case "CANCELED", "CANCELLED":
		return domain.StatusCancelled, detail
	case "ABANDONED":
		if detail == "" {
			detail = "abandoned"
		}
		return domain.StatusCancelled, detail
	case "ERROR":
		return domain.StatusError, detail
	}
	return "", detail
}

func parseAmount(raw string) *decimal.Decimal {
	value := strings.TrimSpace(raw)
	if value == "" {
		return nil
	}
	amount, err := money.Parse(value)
	if err != nil {
		return nil
	}
	return &amount
}
