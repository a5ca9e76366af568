// Package getnet dispatches card payments to a Getnet cloud terminal. Amounts travel in cents.
package getnet

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
	signatureHeader    = "X-Getnet-Signature"
	signatureTolerance = 5 * time.Minute
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return domain.ProviderGetnet
}

func (f *Factory) NewGateway(cfg domain.GatewayConfig) (domain.Gateway, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" || strings.TrimSpace(cfg.WebhookSecret) == "" {
		return nil, domain.ErrInvalidConfig
	}
	return &Adapter{
		client: httpclient.New(httpclient.Config{
			Provider:    domain.ProviderGetnet,
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

func (a *Adapter) Provider() string { return domain.ProviderGetnet }

func (a *Adapter) IntegrationType() domain.IntegrationType { return domain.IntegrationGetnetCloud }

type transactionRequest struct {
	OrderID string `json:"order_id"`
	Amount  int64  `json:"amount"`
	Product string `json:"product"`
}

type transaction struct {
	TransactionID string `json:"transaction_id"`
	OrderID       string `json:"order_id"`
	Status        string `json:"status"`
	Reason        string `json:"reason"`
	Amount        *int64 `json:"amount"`
	Product       string `json:"product"`
}

func (a *Adapter) CreateIntent(ctx context.Context, req domain.IntentRequest) (*domain.IntentResult, error) {
	terminal := strings.TrimSpace(req.TerminalID)
	if terminal == "" {
		return nil, domain.ErrTerminalRequired
	}
	product, err := productFor(req.Method)
	if err != nil {
		return nil, err
	}

	var txn transaction
	path := "/v1/terminals/" + url.PathEscape(terminal) + "/transactions"
	if err := a.client.Do(ctx, http.MethodPost, path, transactionRequest{
		OrderID: req.ExternalReference,
		Amount:  toCents(req.Amount),
		Product: product,
	}, &txn); err != nil {
		return nil, err
	}
	if strings.TrimSpace(txn.TransactionID) == "" {
		return nil, domain.ErrInvalidPayload
	}
	status := mapStatus(txn.Status)
	if status == "" {
		status = domain.StatusProcessing
	}
	return &domain.IntentResult{
		CorrelationID: txn.TransactionID,
		Status:        status,
		StatusDetail:  txn.Reason,
	}, nil
}

func (a *Adapter) CheckStatus(ctx context.Context, correlationID string) (*domain.StatusResult, error) {
	var txn transaction
	if err := a.client.Do(ctx, http.MethodGet, "/v1/transactions/"+url.PathEscape(correlationID), nil, &txn); err != nil {
		return nil, err
	}
	return &domain.StatusResult{
		CorrelationID: correlationID,
		Status:        mapStatus(txn.Status),
		StatusDetail:  txn.Reason,
		Amount:        fromCents(txn.Amount),
	}, nil
}

func (a *Adapter) Cancel(ctx context.Context, correlationID string) error {
	return a.client.Do(ctx, http.MethodPost, "/v1/transactions/"+url.PathEscape(correlationID)+"/cancel", nil, nil)
}

func (a *Adapter) Refund(ctx context.Context, correlationID string, amount decimal.Decimal) error {
	return a.client.Do(ctx, http.MethodPost, "/v1/transactions/"+url.PathEscape(correlationID)+"/refund",
		map[string]int64{"amount": toCents(amount)}, nil)
}

func (a *Adapter) VerifyNotification(ctx context.Context, payload []byte, headers http.Header) error {
	return signature.Verify(headers.Get(signatureHeader), a.webhookSecret, payload, time.Now(), signatureTolerance)
}

type getnetEvent struct {
	EventID   string      `json:"event_id"`
	EventType string      `json:"event_type"`
	Timestamp int64       `json:"timestamp"`
	Data      transaction `json:"data"`
}

func (a *Adapter) ParseNotification(ctx context.Context, payload []byte) (*domain.Notification, error) {
	var event getnetEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.EventType) != "transaction.status" {
		return nil, domain.ErrNotificationIgnored
	}
	if strings.TrimSpace(event.EventID) == "" || strings.TrimSpace(event.Data.TransactionID) == "" {
		return nil, domain.ErrInvalidNotification
	}
	status := mapStatus(event.Data.Status)
	if status == "" {
		return nil, domain.ErrNotificationIgnored
	}

	occurredAt := time.Now().UTC()
	if event.Timestamp > 0 {
		occurredAt = time.Unix(event.Timestamp, 0).UTC()
	}
	return &domain.Notification{
		Provider:       domain.ProviderGetnet,
		NotificationID: strings.TrimSpace(event.EventID),
		CorrelationID:  strings.TrimSpace(event.Data.TransactionID),
		Status:         status,
		StatusDetail:   event.Data.Reason,
		Amount:         fromCents(event.Data.Amount),
		Method:         methodFor(event.Data.Product),
		Metadata:       map[string]any{"order_id": event.Data.OrderID},
		OccurredAt:     occurredAt,
		RawPayload:     payload,
	}, nil
}

func mapStatus(raw string) domain.Status {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "CREATED":
		return domain.StatusPending
	case "SENT", "WAITING", "IN_PROGRESS":
		return domain.StatusProcessing
	case "APPROVED":
		return domain.StatusApproved
	case "DENIED":
		return domain.StatusRejected
	case "CANCELED", "CANCELLED":
		return domain.StatusCancelled
	case "REFUNDED":
		return domain.StatusRefunded
	case "ERROR":
		return domain.StatusError
	}
	return ""
}

func productFor(method domain.Method) (string, error) {
	switch method {
	case domain.MethodCreditCard:
		return "credit", nil
	case domain.MethodDebitCard:
		return "debit", nil
	}
	return "", domain.ErrInvalidMethod
}

func methodFor(product string) string {
	switch strings.ToLower(strings.TrimSpace(product)) {
	case "credit":
		return string(domain.MethodCreditCard)
	case "debit":
		return string(domain.MethodDebitCard)
	}
	return ""
}

func toCents(amount decimal.Decimal) int64 {
	return money.Round(amount).Shift(money.Scale).IntPart()
}

func fromCents(cents *int64) *decimal.Decimal {
	if cents == nil {
		return nil
	}
	amount := money.Round(decimal.New(*cents, -money.Scale))
	return &amount
}
