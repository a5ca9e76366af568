package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	accountdomain "github.com/smallbiznis/carehub/internal/account/domain"
	accountrepo "github.com/smallbiznis/carehub/internal/account/repository"
	accountsvc "github.com/smallbiznis/carehub/internal/account/service"
	auditdomain "github.com/smallbiznis/carehub/internal/audit/domain"
	cashdomain "github.com/smallbiznis/carehub/internal/cashsession/domain"
	cashrepo "github.com/smallbiznis/carehub/internal/cashsession/repository"
	cashsvc "github.com/smallbiznis/carehub/internal/cashsession/service"
	"github.com/smallbiznis/carehub/internal/clock"
	"github.com/smallbiznis/carehub/internal/config"
	"github.com/smallbiznis/carehub/internal/events"
	invoicedomain "github.com/smallbiznis/carehub/internal/invoice/domain"
	invoicerepo "github.com/smallbiznis/carehub/internal/invoice/repository"
	invoicesvc "github.com/smallbiznis/carehub/internal/invoice/service"
	orderdomain "github.com/smallbiznis/carehub/internal/order/domain"
	orderrepo "github.com/smallbiznis/carehub/internal/order/repository"
	ordersvc "github.com/smallbiznis/carehub/internal/order/service"
	"github.com/smallbiznis/carehub/internal/payment/adapters/manual"
	"github.com/smallbiznis/carehub/internal/payment/adapters/pix"
	"github.com/smallbiznis/carehub/internal/payment/adapters/signature"
	"github.com/smallbiznis/carehub/internal/payment/domain"
	"github.com/smallbiznis/carehub/internal/payment/repository"
	subscriptionrepo "github.com/smallbiznis/carehub/internal/subscription/repository"
	subscriptionsvc "github.com/smallbiznis/carehub/internal/subscription/service"
	"github.com/smallbiznis/carehub/pkg/db/dbtest"
	"github.com/smallbiznis/carehub/pkg/money"
	"github.com/smallbiznis/carehub/pkg/transition"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const pixSecret = "whsec_test"

type resolver map[string]domain.Gateway

func (r resolver) Gateway(provider string) (domain.Gateway, error) {
	gw, ok := r[provider]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}
	return gw, nil
}

type mockGateway struct {
	mock.Mock
	provider    string
	integration domain.IntegrationType
}

func (m *mockGateway) Provider() string { return m.provider }

func (m *mockGateway) IntegrationType() domain.IntegrationType { return m.integration }

func (m *mockGateway) CreateIntent(ctx context.Context, req domain.IntentRequest) (*domain.IntentResult, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*domain.IntentResult)
	return res, args.Error(1)
}

func (m *mockGateway) CheckStatus(ctx context.Context, correlationID string) (*domain.StatusResult, error) {
	args := m.Called(ctx, correlationID)
	res, _ := args.Get(0).(*domain.StatusResult)
	return res, args.Error(1)
}

func (m *mockGateway) Cancel(ctx context.Context, correlationID string) error {
	return m.Called(ctx, correlationID).Error(0)
}

func (m *mockGateway) Refund(ctx context.Context, correlationID string, amount decimal.Decimal) error {
	return m.Called(ctx, correlationID, amount).Error(0)
}

func (m *mockGateway) VerifyNotification(ctx context.Context, payload []byte, headers http.Header) error {
	return domain.ErrUnsupported
}

func (m *mockGateway) ParseNotification(ctx context.Context, payload []byte) (*domain.Notification, error) {
	return nil, domain.ErrUnsupported
}

// pixServer fakes the checkout gateway. Every created payment gets the next numeric id.
func pixServer(t *testing.T) *httptest.Server {
	t.Helper()
	var next atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/payments":
			var body map[string]any
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			id := 9000 + next.Add(1)
			fmt.Fprintf(w, `{"id":%d,"status":"pending","external_reference":%q,"point_of_interaction":{"transaction_data":{"qr_code":"00020126PIX%d","ticket_url":"https://pay.example/%d"}}}`,
				id, body["external_reference"], id, id)
		case r.Method == http.MethodPut && strings.HasPrefix(r.URL.Path, "/v1/payments/"):
			fmt.Fprint(w, `{"status":"cancelled"}`)
		case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/refunds"):
			fmt.Fprint(w, `{"status":"approved"}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

type harness struct {
	db       *gorm.DB
	clock    *clock.FakeClock
	payments domain.Service
	accounts accountdomain.Service
	orders   orderdomain.Service
	invoices invoicedomain.Service
	cash     cashdomain.Service
	terminal *mockGateway
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := dbtest.Open(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC))
	log := zap.NewNop()
	outbox := events.NewOutbox(events.OutboxParams{Log: log, GenID: node, Clock: clk})

	accounts := accountsvc.NewService(accountsvc.Params{DB: db, Log: log, GenID: node, Clock: clk, Repo: accountrepo.Provide(), Outbox: outbox})
	cash := cashsvc.NewService(cashsvc.Params{DB: db, Log: log, GenID: node, Clock: clk, Repo: cashrepo.Provide()})
	orders := ordersvc.NewService(ordersvc.Params{
		DB: db, Log: log, GenID: node, Clock: clk, Repo: orderrepo.Provide(), AccountSvc: accounts, CashSvc: cash,
	})
	subscriptions := subscriptionsvc.NewService(subscriptionsvc.Params{DB: db, Log: log, GenID: node, Clock: clk, Repo: subscriptionrepo.Provide()})
	invoices := invoicesvc.NewService(invoicesvc.Params{
		DB:              db,
		Log:             log,
		GenID:           node,
		Clock:           clk,
		Repo:            invoicerepo.Provide(),
		OrderSvc:        orders,
		AccountSvc:      accounts,
		SubscriptionSvc: subscriptions,
		Outbox:          outbox,
	})

	pixGateway, err := pix.NewFactory().NewGateway(domain.GatewayConfig{BaseURL: pixServer(t).URL, WebhookSecret: pixSecret})
	require.NoError(t, err)
	manualGateway, err := manual.NewFactory().NewGateway(domain.GatewayConfig{})
	require.NoError(t, err)
	terminal := &mockGateway{provider: domain.ProviderPoint, integration: domain.IntegrationPointTEF}

	payments := NewService(Params{
		DB:         db,
		Log:        log,
		GenID:      node,
		Clock:      clk,
		Repo:       repository.Provide(),
		Gateways:   resolver{domain.ProviderPix: pixGateway, domain.ProviderManual: manualGateway, domain.ProviderPoint: terminal},
		OrderSvc:   orders,
		InvoiceSvc: invoices,
		CashSvc:    cash,
		Policy:     config.NewStaticBillingPolicy(config.DefaultBillingPolicy()),
		Outbox:     outbox,
	})
	return &harness{
		db:       db,
		clock:    clk,
		payments: payments,
		accounts: accounts,
		orders:   orders,
		invoices: invoices,
		cash:     cash,
		terminal: terminal,
	}
}

func (h *harness) order(t *testing.T, method orderdomain.PaymentMethod, sessionID *snowflake.ID, price string) *orderdomain.Order {
	t.Helper()
	order, err := h.orders.Create(context.Background(), orderdomain.CreateRequest{
		Items:         []orderdomain.ItemInput{{Description: "lunch", Quantity: 1, UnitPrice: money.MustParse(price)}},
		PaymentMethod: method,
		Origin:        orderdomain.OriginPOS,
		CashSessionID: sessionID,
	})
	require.NoError(t, err)
	require.Equal(t, orderdomain.PaymentUnpaid, order.PaymentStatus)
	return order
}

func (h *harness) consumptionInvoice(t *testing.T, price string) *invoicedomain.Invoice {
	t.Helper()
	ctx := context.Background()
	account, err := h.accounts.Create(ctx, accountdomain.CreateAccountRequest{Name: "Resident", CreditLimit: money.MustParse("500.00")})
	require.NoError(t, err)
	_, err = h.orders.Create(ctx, orderdomain.CreateRequest{
		AccountID:     &account.ID,
		Items:         []orderdomain.ItemInput{{Description: "meal", Quantity: 1, UnitPrice: money.MustParse(price)}},
		PaymentMethod: orderdomain.MethodWallet,
		PlacedAt:      time.Date(2026, 4, 3, 9, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	invoice, err := h.invoices.GenerateConsumption(ctx, invoicedomain.GenerateConsumptionRequest{
		AccountID:   account.ID,
		PeriodStart: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:   time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC),
		Actor:       auditdomain.SystemActor(),
	})
	require.NoError(t, err)
	return invoice
}

func (h *harness) pixIntent(t *testing.T, orderID, invoiceID *snowflake.ID) *domain.PaymentIntent {
	t.Helper()
	intent, err := h.payments.CreateIntent(context.Background(), domain.CreateIntentRequest{
		OrderID:         orderID,
		InvoiceID:       invoiceID,
		IntegrationType: domain.IntegrationCheckout,
		PaymentMethod:   domain.MethodPix,
		Actor:           auditdomain.UserActor("op-1"),
	})
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, intent.Status)
	return intent
}

func pixNotification(notificationID int, correlationID, status, amount string) ([]byte, http.Header) {
	payload := []byte(fmt.Sprintf(
		`{"id":%d,"type":"payment","date_created":"2026-04-10T12:00:05Z","data":{"id":%s,"status":%q,"status_detail":"accredited","transaction_amount":%s}}`,
		notificationID, correlationID, status, amount,
	))
	headers := http.Header{}
	headers.Set("X-Signature", signature.Header(pixSecret, payload, time.Now().Unix()))
	return payload, headers
}

func (h *harness) notify(t *testing.T, notificationID int, intent *domain.PaymentIntent, status, amount string) *domain.PaymentIntent {
	t.Helper()
	payload, headers := pixNotification(notificationID, intent.Correlation(), status, amount)
	updated, err := h.payments.ApplyNotification(context.Background(), domain.ProviderPix, payload, headers)
	require.NoError(t, err)
	return updated
}

func requireAmount(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Equal(t, want, got.StringFixed(2))
}

func TestPixOrderApprovedByNotification(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	session, err := h.cash.Open(ctx, cashdomain.OpenRequest{UserID: "op-1", OpeningBalance: money.MustParse("100.00")})
	require.NoError(t, err)
	order := h.order(t, orderdomain.MethodPix, &session.ID, "45.00")

	intent := h.pixIntent(t, &order.ID, nil)
	requireAmount(t, "45.00", intent.Amount)
	require.Len(t, intent.ExternalReference, 26)
	require.Equal(t, "9001", intent.Correlation())
	require.NotNil(t, intent.QRCode)
	require.Contains(t, *intent.QRCode, "PIX")
	require.NotNil(t, intent.CheckoutURL)
	require.Equal(t, session.ID, *intent.CashSessionID)

	approved := h.notify(t, 1, intent, "approved", "45.00")
	require.Equal(t, domain.StatusApproved, approved.Status)
	require.NotNil(t, approved.ApprovedAt)
	require.NotNil(t, approved.EffectAppliedAt)
	require.NotNil(t, approved.FinalizedAt)

	paid, err := h.orders.Get(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, orderdomain.PaymentPaid, paid.PaymentStatus)
	require.Equal(t, orderdomain.StatusCompleted, paid.Status)

	dbtest.AssertCount(t, h.db, "SELECT COUNT(*) FROM cash_movements WHERE payment_intent_id = ? AND type = 'sale'", 1, intent.ID)
	dbtest.AssertCount(t, h.db, "SELECT COUNT(*) FROM domain_events WHERE type = ? AND aggregate_id = ?", 1, events.TypePaymentApproved, intent.ID.String())
	dbtest.AssertCount(t, h.db, "SELECT COUNT(*) FROM payment_notifications WHERE processed_at IS NOT NULL", 1)
}

func TestNotificationReplayHasNoSideEffects(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	session, err := h.cash.Open(ctx, cashdomain.OpenRequest{UserID: "op-1"})
	require.NoError(t, err)
	order := h.order(t, orderdomain.MethodPix, &session.ID, "20.00")
	intent := h.pixIntent(t, &order.ID, nil)

	first := h.notify(t, 7, intent, "approved", "20.00")
	require.Equal(t, domain.StatusApproved, first.Status)

	// same notification again
	replayed := h.notify(t, 7, intent, "approved", "20.00")
	require.Equal(t, domain.StatusApproved, replayed.Status)
	require.True(t, first.EffectAppliedAt.Equal(*replayed.EffectAppliedAt))

	// a second notification reporting the same outcome
	again := h.notify(t, 8, intent, "approved", "20.00")
	require.Equal(t, domain.StatusApproved, again.Status)

	dbtest.AssertCount(t, h.db, "SELECT COUNT(*) FROM cash_movements WHERE payment_intent_id = ?", 1, intent.ID)
	dbtest.AssertCount(t, h.db, "SELECT COUNT(*) FROM domain_events WHERE type = ?", 1, events.TypePaymentApproved)
	dbtest.AssertCount(t, h.db, "SELECT COUNT(*) FROM payment_notifications", 2)
}

func TestNotificationOrdering(t *testing.T) {
	h := newHarness(t)
	order := h.order(t, orderdomain.MethodPix, nil, "12.50")
	intent := h.pixIntent(t, &order.ID, nil)

	processing := h.notify(t, 1, intent, "in_process", "12.50")
	require.Equal(t, domain.StatusProcessing, processing.Status)

	// pending after processing is stale
	stale := h.notify(t, 2, intent, "pending", "12.50")
	require.Equal(t, domain.StatusProcessing, stale.Status)

	approved := h.notify(t, 3, intent, "approved", "12.50")
	require.Equal(t, domain.StatusApproved, approved.Status)

	// a terminal outcome cannot be overwritten by another terminal outcome
	conflict := h.notify(t, 4, intent, "rejected", "12.50")
	require.Equal(t, domain.StatusApproved, conflict.Status)
	dbtest.AssertCount(t, h.db, "SELECT COUNT(*) FROM payment_notifications WHERE processed_at IS NOT NULL", 4)
}

func TestNotificationAmountMismatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.order(t, orderdomain.MethodPix, nil, "45.00")
	intent := h.pixIntent(t, &order.ID, nil)

	updated := h.notify(t, 1, intent, "approved", "40.00")
	require.Equal(t, domain.StatusError, updated.Status)
	require.Equal(t, domain.DetailAmountMismatch, *updated.StatusDetail)
	require.Nil(t, updated.EffectAppliedAt)

	unpaid, err := h.orders.Get(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, orderdomain.PaymentUnpaid, unpaid.PaymentStatus)
	dbtest.AssertCount(t, h.db, "SELECT COUNT(*) FROM domain_events WHERE type = ?", 0, events.TypePaymentApproved)
}

func TestNotificationRejectsBadInput(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.order(t, orderdomain.MethodPix, nil, "10.00")
	intent := h.pixIntent(t, &order.ID, nil)

	payload, headers := pixNotification(1, intent.Correlation(), "approved", "10.00")
	headers.Set("X-Signature", signature.Header("other-secret", payload, time.Now().Unix()))
	_, err := h.payments.ApplyNotification(ctx, domain.ProviderPix, payload, headers)
	require.ErrorIs(t, err, domain.ErrInvalidSignature)

	payload, headers = pixNotification(2, "424242", "approved", "10.00")
	_, err = h.payments.ApplyNotification(ctx, domain.ProviderPix, payload, headers)
	require.ErrorIs(t, err, domain.ErrIntentNotFound)

	_, err = h.payments.ApplyNotification(ctx, "unknown", payload, headers)
	require.ErrorIs(t, err, domain.ErrProviderNotFound)

	current, err := h.payments.Get(ctx, intent.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, current.Status)
}

func TestCreateIntentValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.order(t, orderdomain.MethodPix, nil, "10.00")
	cashOrder, err := h.orders.Create(ctx, orderdomain.CreateRequest{
		Items:         []orderdomain.ItemInput{{Description: "water", Quantity: 1, UnitPrice: money.MustParse("2.00")}},
		PaymentMethod: orderdomain.MethodCash,
	})
	require.NoError(t, err)

	cases := []struct {
		name string
		req  domain.CreateIntentRequest
		want error
	}{
		{"no target", domain.CreateIntentRequest{IntegrationType: domain.IntegrationCheckout, PaymentMethod: domain.MethodPix}, domain.ErrInvalidTarget},
		{"both targets", domain.CreateIntentRequest{OrderID: &order.ID, InvoiceID: &order.ID, IntegrationType: domain.IntegrationCheckout, PaymentMethod: domain.MethodPix}, domain.ErrInvalidTarget},
		{"unknown integration", domain.CreateIntentRequest{OrderID: &order.ID, IntegrationType: "wire", PaymentMethod: domain.MethodPix}, domain.ErrInvalidIntegration},
		{"card on checkout", domain.CreateIntentRequest{OrderID: &order.ID, IntegrationType: domain.IntegrationCheckout, PaymentMethod: domain.MethodCreditCard}, domain.ErrInvalidMethod},
		{"terminal missing", domain.CreateIntentRequest{OrderID: &order.ID, IntegrationType: domain.IntegrationPointTEF, PaymentMethod: domain.MethodDebitCard}, domain.ErrTerminalRequired},
		{"amount differs", domain.CreateIntentRequest{OrderID: &order.ID, IntegrationType: domain.IntegrationCheckout, PaymentMethod: domain.MethodPix, Amount: money.MustParse("9.99")}, domain.ErrInvalidAmount},
		{"negative amount", domain.CreateIntentRequest{OrderID: &order.ID, IntegrationType: domain.IntegrationCheckout, PaymentMethod: domain.MethodPix, Amount: money.MustParse("-1")}, domain.ErrInvalidAmount},
		{"settled order", domain.CreateIntentRequest{OrderID: &cashOrder.ID, IntegrationType: domain.IntegrationCheckout, PaymentMethod: domain.MethodPix}, domain.ErrTargetNotPayable},
		{"provider mismatch", domain.CreateIntentRequest{OrderID: &order.ID, IntegrationType: domain.IntegrationCheckout, Provider: domain.ProviderManual, PaymentMethod: domain.MethodPix}, domain.ErrProviderMismatch},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.payments.CreateIntent(ctx, tc.req)
			require.ErrorIs(t, err, tc.want)
		})
	}
	dbtest.AssertCount(t, h.db, "SELECT COUNT(*) FROM payment_intents", 0)
}

func TestInvoiceIntentLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	invoice := h.consumptionInvoice(t, "80.00")

	intent := h.pixIntent(t, nil, &invoice.ID)
	requireAmount(t, "80.00", intent.Amount)
	require.Equal(t, invoice.AccountID, *intent.AccountID)

	processing, err := h.invoices.Get(ctx, invoice.ID)
	require.NoError(t, err)
	require.Equal(t, invoicedomain.StatusProcessing, processing.Status)

	approved := h.notify(t, 1, intent, "approved", "80.00")
	require.Equal(t, domain.StatusApproved, approved.Status)

	paid, err := h.invoices.Get(ctx, invoice.ID)
	require.NoError(t, err)
	require.Equal(t, invoicedomain.StatusPaid, paid.Status)
	requireAmount(t, "80.00", paid.PaidAmount)
	dbtest.AssertCount(t, h.db, "SELECT COUNT(*) FROM invoice_payments WHERE payment_intent_id = ?", 1, intent.ID)

	refunded, err := h.payments.Refund(ctx, domain.RefundRequest{IntentID: intent.ID, Reason: "duplicate charge", Actor: auditdomain.UserActor("admin-1")})
	require.NoError(t, err)
	require.Equal(t, domain.StatusRefunded, refunded.Status)

	reopened, err := h.invoices.Get(ctx, invoice.ID)
	require.NoError(t, err)
	requireAmount(t, "0.00", reopened.PaidAmount)
	require.Equal(t, invoicedomain.StatusPending, reopened.Status)

	// refunding twice is a no-op
	again, err := h.payments.Refund(ctx, domain.RefundRequest{IntentID: intent.ID})
	require.NoError(t, err)
	require.Equal(t, domain.StatusRefunded, again.Status)
	dbtest.AssertCount(t, h.db, "SELECT COUNT(*) FROM invoice_payments WHERE payment_intent_id = ?", 2, intent.ID)
}

func TestInvoiceIntentRejectedAndCancelled(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	invoice := h.consumptionInvoice(t, "30.00")

	first := h.pixIntent(t, nil, &invoice.ID)
	rejected := h.notify(t, 1, first, "rejected", "30.00")
	require.Equal(t, domain.StatusRejected, rejected.Status)

	failed, err := h.invoices.Get(ctx, invoice.ID)
	require.NoError(t, err)
	require.Equal(t, invoicedomain.StatusFailed, failed.Status)

	second := h.pixIntent(t, nil, &invoice.ID)
	cancelled, err := h.payments.Cancel(ctx, second.ID, auditdomain.UserActor("op-1"))
	require.NoError(t, err)
	require.Equal(t, domain.StatusCancelled, cancelled.Status)
	require.Equal(t, domain.DetailOperatorCancel, *cancelled.StatusDetail)

	restored, err := h.invoices.Get(ctx, invoice.ID)
	require.NoError(t, err)
	require.Equal(t, invoicedomain.StatusPending, restored.Status)
}

func TestCancelRules(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	order := h.order(t, orderdomain.MethodPix, nil, "10.00")
	intent := h.pixIntent(t, &order.ID, nil)
	cancelled, err := h.payments.Cancel(ctx, intent.ID, auditdomain.UserActor("op-1"))
	require.NoError(t, err)
	require.Equal(t, domain.StatusCancelled, cancelled.Status)

	again, err := h.payments.Cancel(ctx, intent.ID, auditdomain.UserActor("op-1"))
	require.NoError(t, err)
	require.Equal(t, domain.StatusCancelled, again.Status)

	other := h.order(t, orderdomain.MethodPix, nil, "15.00")
	approvedIntent := h.pixIntent(t, &other.ID, nil)
	h.notify(t, 1, approvedIntent, "approved", "15.00")
	_, err = h.payments.Cancel(ctx, approvedIntent.ID, auditdomain.UserActor("op-1"))
	require.ErrorIs(t, err, transition.ErrInvalidTransition)

	_, err = h.payments.Cancel(ctx, snowflake.ID(12345), auditdomain.UserActor("op-1"))
	require.ErrorIs(t, err, domain.ErrIntentNotFound)
}

func TestManualConfirmAndRefund(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.order(t, orderdomain.MethodCreditCard, nil, "60.00")

	intent, err := h.payments.CreateIntent(ctx, domain.CreateIntentRequest{
		OrderID:         &order.ID,
		IntegrationType: domain.IntegrationManualPOS,
		PaymentMethod:   domain.MethodCreditCard,
	})
	require.NoError(t, err)
	require.Equal(t, domain.StatusProcessing, intent.Status)
	require.Equal(t, domain.ProviderManual, intent.Provider)
	require.Equal(t, "manual-"+intent.ExternalReference, intent.Correlation())
	require.Nil(t, intent.SentToTerminalAt)

	approved, err := h.payments.ConfirmManual(ctx, domain.ConfirmManualRequest{
		IntentID:          intent.ID,
		Approved:          true,
		AuthorizationCode: "AUTH-778",
		Actor:             auditdomain.UserActor("op-1"),
	})
	require.NoError(t, err)
	require.Equal(t, domain.StatusApproved, approved.Status)
	require.Equal(t, "AUTH-778", *approved.StatusDetail)

	paid, err := h.orders.Get(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, orderdomain.PaymentPaid, paid.PaymentStatus)

	_, err = h.payments.ConfirmManual(ctx, domain.ConfirmManualRequest{IntentID: intent.ID, Approved: false})
	require.ErrorIs(t, err, transition.ErrInvalidTransition)

	refunded, err := h.payments.Refund(ctx, domain.RefundRequest{IntentID: intent.ID, Reason: "returned"})
	require.NoError(t, err)
	require.Equal(t, domain.StatusRefunded, refunded.Status)

	reversed, err := h.orders.Get(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, orderdomain.PaymentRefunded, reversed.PaymentStatus)
}

func TestConfirmManualRequiresManualIntent(t *testing.T) {
	h := newHarness(t)
	order := h.order(t, orderdomain.MethodPix, nil, "10.00")
	intent := h.pixIntent(t, &order.ID, nil)

	_, err := h.payments.ConfirmManual(context.Background(), domain.ConfirmManualRequest{IntentID: intent.ID, Approved: true})
	require.ErrorIs(t, err, domain.ErrNotManualIntent)
}

func (h *harness) terminalIntent(t *testing.T, order *orderdomain.Order) *domain.PaymentIntent {
	t.Helper()
	intent, err := h.payments.CreateIntent(context.Background(), domain.CreateIntentRequest{
		OrderID:         &order.ID,
		IntegrationType: domain.IntegrationPointTEF,
		PaymentMethod:   domain.MethodDebitCard,
		TerminalID:      "PAX-01",
	})
	require.NoError(t, err)
	return intent
}

func TestTerminalTimeoutRedispatchThenError(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.order(t, orderdomain.MethodDebitCard, nil, "25.00")

	h.terminal.On("CreateIntent", mock.Anything, mock.MatchedBy(func(req domain.IntentRequest) bool {
		return req.TerminalID == "PAX-01" && req.Method == domain.MethodDebitCard
	})).Return(&domain.IntentResult{CorrelationID: "pt-1", Status: domain.StatusProcessing}, nil).Once()
	h.terminal.On("CreateIntent", mock.Anything, mock.Anything).
		Return(&domain.IntentResult{CorrelationID: "pt-2", Status: domain.StatusProcessing}, nil).Once()
	h.terminal.On("CreateIntent", mock.Anything, mock.Anything).
		Return(&domain.IntentResult{CorrelationID: "pt-3", Status: domain.StatusProcessing}, nil).Once()
	h.terminal.On("CheckStatus", mock.Anything, mock.Anything).
		Return(&domain.StatusResult{Status: domain.StatusProcessing}, nil)
	h.terminal.On("Cancel", mock.Anything, mock.Anything).Return(nil)

	intent := h.terminalIntent(t, order)
	require.Equal(t, domain.StatusProcessing, intent.Status)
	require.Equal(t, 1, intent.Attempts)
	require.Equal(t, "pt-1", intent.Correlation())
	require.NotNil(t, intent.SentToTerminalAt)

	// inside the timeout nothing is picked up
	h.clock.Advance(time.Minute)
	result, err := h.payments.SweepTerminalTimeouts(ctx, h.clock.Now())
	require.NoError(t, err)
	require.Equal(t, 0, result.Processed)

	h.clock.Advance(2 * time.Minute)
	result, err = h.payments.SweepTerminalTimeouts(ctx, h.clock.Now())
	require.NoError(t, err)
	require.Equal(t, domain.SweepResult{Processed: 1, Redispatched: 1}, result)

	h.clock.Advance(3 * time.Minute)
	result, err = h.payments.SweepTerminalTimeouts(ctx, h.clock.Now())
	require.NoError(t, err)
	require.Equal(t, domain.SweepResult{Processed: 1, Redispatched: 1}, result)

	current, err := h.payments.Get(ctx, intent.ID)
	require.NoError(t, err)
	require.Equal(t, 3, current.Attempts)
	require.Equal(t, "pt-3", current.Correlation())

	h.clock.Advance(3 * time.Minute)
	result, err = h.payments.SweepTerminalTimeouts(ctx, h.clock.Now())
	require.NoError(t, err)
	require.Equal(t, domain.SweepResult{Processed: 1, Failed: 1}, result)

	failed, err := h.payments.Get(ctx, intent.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusError, failed.Status)
	require.Equal(t, domain.DetailTerminalTimeout, *failed.StatusDetail)
	require.Equal(t, 3, failed.Attempts)

	unpaid, err := h.orders.Get(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, orderdomain.PaymentUnpaid, unpaid.PaymentStatus)

	h.terminal.AssertNumberOfCalls(t, "CreateIntent", 3)
	h.terminal.AssertCalled(t, "Cancel", mock.Anything, "pt-1")
	h.terminal.AssertCalled(t, "Cancel", mock.Anything, "pt-3")
}

func TestTerminalTimeoutWhileStatusEndpointDown(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.order(t, orderdomain.MethodDebitCard, nil, "32.00")

	h.terminal.On("CreateIntent", mock.Anything, mock.Anything).
		Return(&domain.IntentResult{CorrelationID: "pt-down", Status: domain.StatusProcessing}, nil)
	h.terminal.On("CheckStatus", mock.Anything, mock.Anything).
		Return(nil, fmt.Errorf("%w: status endpoint 503", domain.ErrGatewayUnavailable))
	h.terminal.On("Cancel", mock.Anything, mock.Anything).Return(nil)

	intent := h.terminalIntent(t, order)
	require.Equal(t, 1, intent.Attempts)

	// before the timeout the poll failure is reported
	_, err := h.payments.CheckStatus(ctx, intent.ID)
	require.ErrorIs(t, err, domain.ErrGatewayUnavailable)

	for i := 0; i < 2; i++ {
		h.clock.Advance(time.Hour)
		result, err := h.payments.SweepTerminalTimeouts(ctx, h.clock.Now())
		require.NoError(t, err)
		require.Equal(t, domain.SweepResult{Processed: 1, Redispatched: 1}, result)
	}

	h.clock.Advance(time.Hour)
	result, err := h.payments.SweepTerminalTimeouts(ctx, h.clock.Now())
	require.NoError(t, err)
	require.Equal(t, domain.SweepResult{Processed: 1, Failed: 1}, result)

	failed, err := h.payments.Get(ctx, intent.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusError, failed.Status)
	require.Equal(t, domain.DetailTerminalTimeout, *failed.StatusDetail)
	require.Equal(t, 3, failed.Attempts)

	h.clock.Advance(time.Hour)
	result, err = h.payments.SweepTerminalTimeouts(ctx, h.clock.Now())
	require.NoError(t, err)
	require.Zero(t, result.Processed)
}

func TestTerminalPollApproves(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order := h.order(t, orderdomain.MethodDebitCard, nil, "25.00")
	amount := money.MustParse("25.00")

	h.terminal.On("CreateIntent", mock.Anything, mock.Anything).
		Return(&domain.IntentResult{CorrelationID: "pt-9", Status: domain.StatusProcessing}, nil).Once()
	h.terminal.On("CheckStatus", mock.Anything, "pt-9").
		Return(&domain.StatusResult{CorrelationID: "pt-9", Status: domain.StatusApproved, Amount: &amount}, nil).Once()

	intent := h.terminalIntent(t, order)
	polled, err := h.payments.CheckStatus(ctx, intent.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusApproved, polled.Status)

	paid, err := h.orders.Get(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, orderdomain.PaymentPaid, paid.PaymentStatus)

	// a final intent is not polled again
	again, err := h.payments.CheckStatus(ctx, intent.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusApproved, again.Status)
	h.terminal.AssertExpectations(t)
}

func TestDispatchFailureMarksIntentError(t *testing.T) {
	h := newHarness(t)
	order := h.order(t, orderdomain.MethodCreditCard, nil, "18.00")

	h.terminal.On("CreateIntent", mock.Anything, mock.Anything).
		Return(nil, fmt.Errorf("%w: connection refused", domain.ErrGatewayUnavailable)).Once()

	intent := h.terminalIntent(t, order)
	require.Equal(t, domain.StatusError, intent.Status)
	require.Equal(t, domain.DetailGatewayError, *intent.StatusDetail)
	require.Empty(t, intent.Correlation())

	// the order can be retried with a new intent
	h.terminal.On("CreateIntent", mock.Anything, mock.Anything).
		Return(nil, errors.Join(domain.ErrGatewayRejected, errors.New("400"))).Once()
	retry := h.terminalIntent(t, order)
	require.Equal(t, domain.DetailGatewayRejected, *retry.StatusDetail)
	dbtest.AssertCount(t, h.db, "SELECT COUNT(*) FROM payment_intents WHERE order_id = ?", 2, order.ID)
}
