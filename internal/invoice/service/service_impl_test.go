package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/carehub/internal/account/domain"
	accountrepo "github.com/smallbiznis/carehub/internal/account/repository"
	accountsvc "github.com/smallbiznis/carehub/internal/account/service"
	auditdomain "github.com/smallbiznis/carehub/internal/audit/domain"
	cashrepo "github.com/smallbiznis/carehub/internal/cashsession/repository"
	cashsvc "github.com/smallbiznis/carehub/internal/cashsession/service"
	"github.com/smallbiznis/carehub/internal/clock"
	"github.com/smallbiznis/carehub/internal/config"
	"github.com/smallbiznis/carehub/internal/events"
	"github.com/smallbiznis/carehub/internal/invoice/domain"
	"github.com/smallbiznis/carehub/internal/invoice/repository"
	orderdomain "github.com/smallbiznis/carehub/internal/order/domain"
	orderrepo "github.com/smallbiznis/carehub/internal/order/repository"
	ordersvc "github.com/smallbiznis/carehub/internal/order/service"
	subscriptiondomain "github.com/smallbiznis/carehub/internal/subscription/domain"
	subscriptionrepo "github.com/smallbiznis/carehub/internal/subscription/repository"
	subscriptionsvc "github.com/smallbiznis/carehub/internal/subscription/service"
	"github.com/smallbiznis/carehub/pkg/db/dbtest"
	"github.com/smallbiznis/carehub/pkg/money"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	periodStart = time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	periodEnd   = time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
)

type harness struct {
	db            *gorm.DB
	clock         *clock.FakeClock
	invoices      domain.Service
	accounts      accountdomain.Service
	orders        orderdomain.Service
	subscriptions subscriptiondomain.Service
}

func newHarness(t *testing.T, policy config.BillingPolicy) *harness {
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

	invoices := NewService(Params{
		DB:              db,
		Log:             log,
		GenID:           node,
		Clock:           clk,
		Repo:            repository.Provide(),
		Policy:          config.NewStaticBillingPolicy(policy),
		OrderSvc:        orders,
		AccountSvc:      accounts,
		SubscriptionSvc: subscriptions,
		Outbox:          outbox,
	})
	return &harness{db: db, clock: clk, invoices: invoices, accounts: accounts, orders: orders, subscriptions: subscriptions}
}

func (h *harness) account(t *testing.T, limit string) snowflake.ID {
	t.Helper()
	account, err := h.accounts.Create(context.Background(), accountdomain.CreateAccountRequest{
		Name:        "Resident",
		CreditLimit: money.MustParse(limit),
	})
	require.NoError(t, err)
	return account.ID
}

func (h *harness) walletOrder(t *testing.T, accountID snowflake.ID, placedAt time.Time, prices ...string) *orderdomain.Order {
	t.Helper()
	items := make([]orderdomain.ItemInput, 0, len(prices))
	for _, p := range prices {
		items = append(items, orderdomain.ItemInput{Description: "meal", Quantity: 1, UnitPrice: money.MustParse(p)})
	}
	order, err := h.orders.Create(context.Background(), orderdomain.CreateRequest{
		AccountID:     &accountID,
		Items:         items,
		PaymentMethod: orderdomain.MethodWallet,
		Origin:        orderdomain.OriginPOS,
		PlacedAt:      placedAt,
	})
	require.NoError(t, err)
	return order
}

func (h *harness) consumption(t *testing.T, accountID snowflake.ID) *domain.Invoice {
	t.Helper()
	invoice, err := h.invoices.GenerateConsumption(context.Background(), domain.GenerateConsumptionRequest{
		AccountID:   accountID,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		Actor:       auditdomain.SystemActor(),
	})
	require.NoError(t, err)
	return invoice
}

func requireAmount(t *testing.T, want string, got interface{ StringFixed(int32) string }) {
	t.Helper()
	require.Equal(t, want, got.StringFixed(2))
}

func TestGenerateConsumptionScenario(t *testing.T) {
	h := newHarness(t, config.DefaultBillingPolicy())
	ctx := context.Background()
	accountID := h.account(t, "500.00")

	first := h.walletOrder(t, accountID, time.Date(2026, 4, 3, 9, 0, 0, 0, time.UTC), "50.00")
	second := h.walletOrder(t, accountID, time.Date(2026, 4, 7, 9, 0, 0, 0, time.UTC), "30.00")
	// outside the period
	h.walletOrder(t, accountID, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), "5.00")

	invoice := h.consumption(t, accountID)
	require.Equal(t, domain.TypeConsumption, invoice.Type)
	require.Equal(t, domain.StatusPending, invoice.Status)
	requireAmount(t, "80.00", invoice.Subtotal)
	requireAmount(t, "80.00", invoice.TotalAmount)
	require.Regexp(t, `^INV-202604-[0-9A-Z]+$`, invoice.Number)
	require.NotNil(t, invoice.IssuedAt)
	require.Equal(t, h.clock.Now().AddDate(0, 0, 10), invoice.DueDate)

	loaded, err := h.invoices.Get(ctx, invoice.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Items, 2)
	require.Equal(t, first.ID, *loaded.Items[0].OrderID)
	require.Equal(t, second.ID, *loaded.Items[1].OrderID)
	require.Equal(t, 1, loaded.Items[0].Position)
	require.Equal(t, 2, loaded.Items[1].Position)

	for _, id := range []snowflake.ID{first.ID, second.ID} {
		order, err := h.orders.Get(ctx, id)
		require.NoError(t, err)
		require.True(t, order.IsInvoiced)
		require.Equal(t, invoice.ID, *order.InvoiceID)
	}

	_, err = h.invoices.GenerateConsumption(ctx, domain.GenerateConsumptionRequest{
		AccountID:   accountID,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
	})
	require.ErrorIs(t, err, domain.ErrNoEligibleOrders)
}

func TestGenerateConsumptionValidation(t *testing.T) {
	h := newHarness(t, config.DefaultBillingPolicy())
	ctx := context.Background()
	accountID := h.account(t, "500.00")

	_, err := h.invoices.GenerateConsumption(ctx, domain.GenerateConsumptionRequest{
		AccountID:   accountID,
		PeriodStart: periodEnd,
		PeriodEnd:   periodStart,
	})
	require.ErrorIs(t, err, domain.ErrInvalidPeriod)

	_, err = h.invoices.GenerateConsumption(ctx, domain.GenerateConsumptionRequest{
		AccountID:   accountID,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
	})
	require.ErrorIs(t, err, domain.ErrNoEligibleOrders)

	h.walletOrder(t, accountID, periodStart, "10.00")
	_, err = h.invoices.GenerateConsumption(ctx, domain.GenerateConsumptionRequest{
		AccountID:   accountID,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		Discount:    money.MustParse("10.01"),
	})
	require.ErrorIs(t, err, domain.ErrInvalidDiscount)
	dbtest.AssertCount(t, h.db, "SELECT COUNT(*) FROM invoices", 0)
	dbtest.AssertCount(t, h.db, "SELECT COUNT(*) FROM orders WHERE is_invoiced = true", 0)
}

func TestDraftIssueAndDiscount(t *testing.T) {
	h := newHarness(t, config.DefaultBillingPolicy())
	ctx := context.Background()
	accountID := h.account(t, "500.00")
	h.walletOrder(t, accountID, periodStart.Add(time.Hour), "40.00", "60.00")

	draft, err := h.invoices.GenerateConsumption(ctx, domain.GenerateConsumptionRequest{
		AccountID:   accountID,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		AsDraft:     true,
	})
	require.NoError(t, err)
	require.Equal(t, domain.StatusDraft, draft.Status)
	require.Nil(t, draft.IssuedAt)

	_, err = h.invoices.RegisterPayment(ctx, domain.RegisterPaymentRequest{
		InvoiceID: draft.ID, Amount: money.MustParse("10"), Method: domain.MethodPix, Reference: "early",
	})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	discounted, err := h.invoices.ApplyDiscount(ctx, domain.ApplyDiscountRequest{InvoiceID: draft.ID, Discount: money.MustParse("15.00")})
	require.NoError(t, err)
	requireAmount(t, "85.00", discounted.TotalAmount)

	h.clock.Advance(24 * time.Hour)
	issued, err := h.invoices.Issue(ctx, draft.ID, auditdomain.UserActor("admin"))
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, issued.Status)
	require.NotNil(t, issued.IssuedAt)
	require.Equal(t, h.clock.Now().AddDate(0, 0, 10), issued.DueDate)

	_, err = h.invoices.Issue(ctx, draft.ID, auditdomain.UserActor("admin"))
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestRegisterPaymentRestoresCredit(t *testing.T) {
	h := newHarness(t, config.DefaultBillingPolicy())
	ctx := context.Background()
	accountID := h.account(t, "500.00")
	h.walletOrder(t, accountID, periodStart, "50.00")
	h.walletOrder(t, accountID, periodStart.Add(time.Hour), "30.00")
	invoice := h.consumption(t, accountID)

	partial, err := h.invoices.RegisterPayment(ctx, domain.RegisterPaymentRequest{
		InvoiceID: invoice.ID,
		Amount:    money.MustParse("30.00"),
		Method:    domain.MethodCash,
		Reference: "receipt-1",
		Actor:     auditdomain.UserActor("cashier"),
	})
	require.NoError(t, err)
	require.Equal(t, domain.StatusPartial, partial.Status)
	requireAmount(t, "30.00", partial.PaidAmount)

	account, err := h.accounts.Get(ctx, accountID)
	require.NoError(t, err)
	requireAmount(t, "50.00", account.CreditUsed)

	replayed, err := h.invoices.RegisterPayment(ctx, domain.RegisterPaymentRequest{
		InvoiceID: invoice.ID,
		Amount:    money.MustParse("30.00"),
		Method:    domain.MethodCash,
		Reference: "receipt-1",
	})
	require.NoError(t, err)
	requireAmount(t, "30.00", replayed.PaidAmount)

	_, err = h.invoices.RegisterPayment(ctx, domain.RegisterPaymentRequest{
		InvoiceID: invoice.ID,
		Amount:    money.MustParse("31.00"),
		Method:    domain.MethodCash,
		Reference: "receipt-1",
	})
	require.ErrorIs(t, err, domain.ErrReferenceConflict)

	paid, err := h.invoices.RegisterPayment(ctx, domain.RegisterPaymentRequest{
		InvoiceID: invoice.ID,
		Amount:    money.MustParse("50.00"),
		Method:    domain.MethodPix,
		Reference: "pix-2",
	})
	require.NoError(t, err)
	require.Equal(t, domain.StatusPaid, paid.Status)
	require.NotNil(t, paid.PaidAt)

	account, err = h.accounts.Get(ctx, accountID)
	require.NoError(t, err)
	requireAmount(t, "0.00", account.CreditUsed)

	_, err = h.invoices.RegisterPayment(ctx, domain.RegisterPaymentRequest{
		InvoiceID: invoice.ID,
		Amount:    money.MustParse("1.00"),
		Method:    domain.MethodPix,
		Reference: "pix-3",
	})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)

	payments, err := h.invoices.ListPayments(ctx, invoice.ID)
	require.NoError(t, err)
	require.Len(t, payments, 2)

	verify, err := h.accounts.VerifyLedger(ctx, accountID)
	require.NoError(t, err)
	require.True(t, verify.Consistent)
}

func TestRegisterPaymentValidation(t *testing.T) {
	h := newHarness(t, config.DefaultBillingPolicy())
	ctx := context.Background()
	accountID := h.account(t, "500.00")
	h.walletOrder(t, accountID, periodStart, "20.00")
	invoice := h.consumption(t, accountID)

	_, err := h.invoices.RegisterPayment(ctx, domain.RegisterPaymentRequest{InvoiceID: invoice.ID, Amount: money.MustParse("0"), Method: domain.MethodCash, Reference: "r"})
	require.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = h.invoices.RegisterPayment(ctx, domain.RegisterPaymentRequest{InvoiceID: invoice.ID, Amount: money.MustParse("1"), Method: "cheque", Reference: "r"})
	require.ErrorIs(t, err, domain.ErrInvalidMethod)
	_, err = h.invoices.RegisterPayment(ctx, domain.RegisterPaymentRequest{InvoiceID: invoice.ID, Amount: money.MustParse("1"), Method: domain.MethodCash})
	require.ErrorIs(t, err, domain.ErrInvalidReference)
	_, err = h.invoices.RegisterPayment(ctx, domain.RegisterPaymentRequest{InvoiceID: 42, Amount: money.MustParse("1"), Method: domain.MethodCash, Reference: "r"})
	require.ErrorIs(t, err, domain.ErrInvoiceNotFound)
}

func TestMarkOverdueAppliesPenaltyOnceAndBlocks(t *testing.T) {
	policy := config.DefaultBillingPolicy()
	policy.LateFeePercent = 2
	policy.InterestPercent = 1
	policy.MaxOverdueInvoices = 2
	h := newHarness(t, policy)
	ctx := context.Background()
	accountID := h.account(t, "1000.00")

	h.walletOrder(t, accountID, periodStart, "100.00")
	first := h.consumption(t, accountID)

	h.walletOrder(t, accountID, periodEnd, "200.00")
	second, err := h.invoices.GenerateConsumption(ctx, domain.GenerateConsumptionRequest{
		AccountID:   accountID,
		PeriodStart: periodEnd,
		PeriodEnd:   periodEnd.AddDate(0, 1, 0),
	})
	require.NoError(t, err)

	result, err := h.invoices.MarkOverdue(ctx, first.DueDate)
	require.NoError(t, err)
	require.Zero(t, result.Processed)

	now := first.DueDate.Add(time.Hour)
	h.clock.Set(now)
	_, err = h.invoices.RegisterPayment(ctx, domain.RegisterPaymentRequest{
		InvoiceID: first.ID, Amount: money.MustParse("50.00"), Method: domain.MethodCash, Reference: "part",
	})
	require.NoError(t, err)

	result, err = h.invoices.MarkOverdue(ctx, now)
	require.NoError(t, err)
	require.Equal(t, 2, result.Processed)
	require.Equal(t, []snowflake.ID{accountID}, result.Blocked)

	overdue, err := h.invoices.Get(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusOverdue, overdue.Status)
	require.True(t, overdue.PenaltyApplied)
	requireAmount(t, "1.00", overdue.LateFee)
	requireAmount(t, "0.50", overdue.Interest)
	requireAmount(t, "101.50", overdue.TotalAmount)
	require.NotNil(t, overdue.OverdueAt)

	second, err = h.invoices.Get(ctx, second.ID)
	require.NoError(t, err)
	requireAmount(t, "206.00", second.TotalAmount)

	account, err := h.accounts.Get(ctx, accountID)
	require.NoError(t, err)
	require.True(t, account.IsBlocked)

	// a partial payment moves the invoice out of overdue; the next sweep must not charge again
	_, err = h.invoices.RegisterPayment(ctx, domain.RegisterPaymentRequest{
		InvoiceID: first.ID, Amount: money.MustParse("10.00"), Method: domain.MethodCash, Reference: "part-2",
	})
	require.NoError(t, err)
	h.clock.Advance(time.Hour)
	result, err = h.invoices.MarkOverdue(ctx, h.clock.Now())
	require.NoError(t, err)
	require.Equal(t, 1, result.Processed)
	require.Empty(t, result.Blocked)

	again, err := h.invoices.Get(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusOverdue, again.Status)
	requireAmount(t, "101.50", again.TotalAmount)

	dbtest.AssertCount(t, h.db, "SELECT COUNT(*) FROM domain_events WHERE type = 'account.blocked'", 1)
	dbtest.AssertCount(t, h.db, "SELECT COUNT(*) FROM domain_events WHERE type = 'invoice.overdue'", 3)
}

func TestFullDiscountSettlesInvoice(t *testing.T) {
	policy := config.DefaultBillingPolicy()
	policy.MaxOverdueInvoices = 1
	h := newHarness(t, policy)
	ctx := context.Background()
	accountID := h.account(t, "500.00")
	h.walletOrder(t, accountID, periodStart.Add(time.Hour), "40.00")

	invoice, err := h.invoices.GenerateConsumption(ctx, domain.GenerateConsumptionRequest{
		AccountID:   accountID,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		Discount:    money.MustParse("40.00"),
	})
	require.NoError(t, err)
	requireAmount(t, "0.00", invoice.TotalAmount)
	require.Equal(t, domain.StatusPaid, invoice.Status)
	require.NotNil(t, invoice.PaidAt)

	now := invoice.DueDate.Add(time.Hour)
	h.clock.Set(now)
	result, err := h.invoices.MarkOverdue(ctx, now)
	require.NoError(t, err)
	require.Zero(t, result.Processed)

	stored, err := h.invoices.Get(ctx, invoice.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPaid, stored.Status)

	account, err := h.accounts.Get(ctx, accountID)
	require.NoError(t, err)
	require.False(t, account.IsBlocked)
}

func TestDiscountToZeroOnPendingInvoice(t *testing.T) {
	h := newHarness(t, config.DefaultBillingPolicy())
	ctx := context.Background()
	accountID := h.account(t, "500.00")
	h.walletOrder(t, accountID, periodStart.Add(time.Hour), "25.00")
	invoice := h.consumption(t, accountID)
	require.Equal(t, domain.StatusPending, invoice.Status)

	discounted, err := h.invoices.ApplyDiscount(ctx, domain.ApplyDiscountRequest{InvoiceID: invoice.ID, Discount: money.MustParse("25.00")})
	require.NoError(t, err)
	requireAmount(t, "0.00", discounted.TotalAmount)
	require.Equal(t, domain.StatusPaid, discounted.Status)
	require.NotNil(t, discounted.PaidAt)

	dbtest.AssertCount(t, h.db, "SELECT COUNT(*) FROM invoices WHERE status = 'paid'", 1)
}

func TestMarkOverduePagesThroughCandidates(t *testing.T) {
	previous := overdueBatchSize
	overdueBatchSize = 2
	t.Cleanup(func() { overdueBatchSize = previous })

	h := newHarness(t, config.DefaultBillingPolicy())
	ctx := context.Background()

	var due time.Time
	for i := 0; i < 5; i++ {
		accountID := h.account(t, "500.00")
		h.walletOrder(t, accountID, periodStart.Add(time.Hour), "10.00")
		due = h.consumption(t, accountID).DueDate
	}

	result, err := h.invoices.MarkOverdue(ctx, due.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, 5, result.Processed)
	dbtest.AssertCount(t, h.db, "SELECT COUNT(*) FROM invoices WHERE status = 'overdue'", 5)
}

func TestCancelReleasesOrders(t *testing.T) {
	h := newHarness(t, config.DefaultBillingPolicy())
	ctx := context.Background()
	accountID := h.account(t, "500.00")
	order := h.walletOrder(t, accountID, periodStart, "25.00")
	invoice := h.consumption(t, accountID)

	_, err := h.invoices.Cancel(ctx, domain.CancelRequest{InvoiceID: invoice.ID})
	require.ErrorIs(t, err, domain.ErrInvalidReason)

	cancelled, err := h.invoices.Cancel(ctx, domain.CancelRequest{InvoiceID: invoice.ID, Reason: "wrong period", Actor: auditdomain.UserActor("admin")})
	require.NoError(t, err)
	require.Equal(t, domain.StatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)

	released, err := h.orders.Get(ctx, order.ID)
	require.NoError(t, err)
	require.False(t, released.IsInvoiced)
	require.Nil(t, released.InvoiceID)

	replacement := h.consumption(t, accountID)
	require.NotEqual(t, invoice.ID, replacement.ID)
	requireAmount(t, "25.00", replacement.TotalAmount)

	_, err = h.invoices.RegisterPayment(ctx, domain.RegisterPaymentRequest{
		InvoiceID: invoice.ID, Amount: money.MustParse("1"), Method: domain.MethodCash, Reference: "late",
	})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestCancelRejectsPaidInvoice(t *testing.T) {
	h := newHarness(t, config.DefaultBillingPolicy())
	ctx := context.Background()
	accountID := h.account(t, "500.00")
	h.walletOrder(t, accountID, periodStart, "25.00")
	invoice := h.consumption(t, accountID)

	_, err := h.invoices.RegisterPayment(ctx, domain.RegisterPaymentRequest{
		InvoiceID: invoice.ID, Amount: money.MustParse("5"), Method: domain.MethodCash, Reference: "r1",
	})
	require.NoError(t, err)

	_, err = h.invoices.Cancel(ctx, domain.CancelRequest{InvoiceID: invoice.ID, Reason: "duplicate"})
	require.ErrorIs(t, err, domain.ErrAlreadySettled)
}

func TestSubscriptionInvoicesAndWalletPayment(t *testing.T) {
	h := newHarness(t, config.DefaultBillingPolicy())
	ctx := context.Background()
	accountID := h.account(t, "5000.00")

	sub, err := h.subscriptions.Create(ctx, subscriptiondomain.CreateSubscriptionRequest{
		AccountID:    accountID,
		PlanName:     "Full care",
		PlanAmount:   money.MustParse("1200.00"),
		BillingCycle: subscriptiondomain.CycleMonthly,
		BillingDay:   15,
	})
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 4, 15, 0, 0, 0, 0, time.UTC), sub.NextBillingDate)

	_, err = h.invoices.GenerateSubscription(ctx, domain.GenerateSubscriptionRequest{SubscriptionID: sub.ID, Now: h.clock.Now()})
	require.ErrorIs(t, err, domain.ErrSubscriptionNotDue)

	// two periods behind: one invoice per period
	result, err := h.invoices.GenerateDueSubscriptions(ctx, time.Date(2026, 5, 20, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, 2, result.Processed)

	list, err := h.invoices.List(ctx, domain.ListInvoiceRequest{AccountID: &accountID})
	require.NoError(t, err)
	require.Len(t, list.Invoices, 2)
	newest, oldest := list.Invoices[0], list.Invoices[1]
	require.Equal(t, time.Date(2026, 4, 15, 0, 0, 0, 0, time.UTC), oldest.PeriodStart)
	require.Equal(t, time.Date(2026, 5, 15, 0, 0, 0, 0, time.UTC), oldest.PeriodEnd)
	require.Equal(t, time.Date(2026, 5, 15, 0, 0, 0, 0, time.UTC), newest.PeriodStart)
	requireAmount(t, "1200.00", oldest.TotalAmount)

	loaded, err := h.subscriptions.Get(ctx, sub.ID)
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC), loaded.NextBillingDate)

	result, err = h.invoices.GenerateDueSubscriptions(ctx, time.Date(2026, 5, 20, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Zero(t, result.Processed)

	paid, err := h.invoices.RegisterPayment(ctx, domain.RegisterPaymentRequest{
		InvoiceID: oldest.ID,
		Amount:    money.MustParse("1200.00"),
		Method:    domain.MethodWallet,
		Reference: "wallet-apr",
	})
	require.NoError(t, err)
	require.Equal(t, domain.StatusPaid, paid.Status)

	account, err := h.accounts.Get(ctx, accountID)
	require.NoError(t, err)
	requireAmount(t, "1200.00", account.CreditUsed)

	txns, err := h.accounts.ListTransactions(ctx, accountdomain.ListTransactionsRequest{AccountID: accountID})
	require.NoError(t, err)
	require.Len(t, txns.Transactions, 1)
	require.Equal(t, accountdomain.TransactionSubscriptionDebit, txns.Transactions[0].Type)

	err = h.db.Transaction(func(tx *gorm.DB) error {
		_, err := h.invoices.ReversePaymentTx(ctx, tx, domain.ReversePaymentRequest{
			InvoiceID: oldest.ID,
			Amount:    money.MustParse("1200.00"),
			Method:    domain.MethodWallet,
			Reference: "refund:wallet-apr",
		})
		return err
	})
	require.NoError(t, err)

	reversed, err := h.invoices.Get(ctx, oldest.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, reversed.Status)
	requireAmount(t, "0.00", reversed.PaidAmount)
	require.Nil(t, reversed.PaidAt)

	account, err = h.accounts.Get(ctx, accountID)
	require.NoError(t, err)
	requireAmount(t, "0.00", account.CreditUsed)
}

func TestSubscriptionTrialConvertedBySweep(t *testing.T) {
	h := newHarness(t, config.DefaultBillingPolicy())
	ctx := context.Background()
	accountID := h.account(t, "5000.00")

	sub, err := h.subscriptions.Create(ctx, subscriptiondomain.CreateSubscriptionRequest{
		AccountID:    accountID,
		PlanName:     "Day care",
		PlanAmount:   money.MustParse("300.00"),
		BillingCycle: subscriptiondomain.CycleMonthly,
		BillingDay:   20,
		TrialDays:    7,
	})
	require.NoError(t, err)
	require.Equal(t, subscriptiondomain.StatusTrial, sub.Status)

	now := time.Date(2026, 4, 20, 1, 0, 0, 0, time.UTC)
	h.clock.Set(now)
	result, err := h.invoices.GenerateDueSubscriptions(ctx, now)
	require.NoError(t, err)
	require.Equal(t, 1, result.Processed)

	loaded, err := h.subscriptions.Get(ctx, sub.ID)
	require.NoError(t, err)
	require.Equal(t, subscriptiondomain.StatusActive, loaded.Status)
	require.Equal(t, time.Date(2026, 5, 20, 0, 0, 0, 0, time.UTC), loaded.NextBillingDate)
}

func TestProcessingHooks(t *testing.T) {
	h := newHarness(t, config.DefaultBillingPolicy())
	ctx := context.Background()
	accountID := h.account(t, "500.00")
	h.walletOrder(t, accountID, periodStart, "25.00")
	invoice := h.consumption(t, accountID)

	run := func(fn func(tx *gorm.DB) (*domain.Invoice, error)) *domain.Invoice {
		var out *domain.Invoice
		require.NoError(t, h.db.Transaction(func(tx *gorm.DB) error {
			var err error
			out, err = fn(tx)
			return err
		}))
		return out
	}

	processing := run(func(tx *gorm.DB) (*domain.Invoice, error) { return h.invoices.MarkProcessingTx(ctx, tx, invoice.ID) })
	require.Equal(t, domain.StatusProcessing, processing.Status)

	restored := run(func(tx *gorm.DB) (*domain.Invoice, error) {
		return h.invoices.RestoreAfterAttemptTx(ctx, tx, invoice.ID)
	})
	require.Equal(t, domain.StatusPending, restored.Status)

	run(func(tx *gorm.DB) (*domain.Invoice, error) { return h.invoices.MarkProcessingTx(ctx, tx, invoice.ID) })
	failed := run(func(tx *gorm.DB) (*domain.Invoice, error) { return h.invoices.MarkFailedTx(ctx, tx, invoice.ID) })
	require.Equal(t, domain.StatusFailed, failed.Status)

	// failed invoices can still be paid
	paid, err := h.invoices.RegisterPayment(ctx, domain.RegisterPaymentRequest{
		InvoiceID: invoice.ID, Amount: money.MustParse("25.00"), Method: domain.MethodPix, Reference: "retry",
	})
	require.NoError(t, err)
	require.Equal(t, domain.StatusPaid, paid.Status)
}

func TestListPagination(t *testing.T) {
	h := newHarness(t, config.DefaultBillingPolicy())
	ctx := context.Background()
	accountID := h.account(t, "500.00")
	for i := 0; i < 3; i++ {
		start := periodStart.AddDate(0, i, 0)
		h.walletOrder(t, accountID, start, "10.00")
		_, err := h.invoices.GenerateConsumption(ctx, domain.GenerateConsumptionRequest{
			AccountID:   accountID,
			PeriodStart: start,
			PeriodEnd:   start.AddDate(0, 1, 0),
		})
		require.NoError(t, err)
	}

	req := domain.ListInvoiceRequest{AccountID: &accountID}
	req.PageSize = 2
	page, err := h.invoices.List(ctx, req)
	require.NoError(t, err)
	require.Len(t, page.Invoices, 2)
	require.True(t, page.HasMore)

	req.PageToken = page.NextPageToken
	page, err = h.invoices.List(ctx, req)
	require.NoError(t, err)
	require.Len(t, page.Invoices, 1)
	require.False(t, page.HasMore)

	req.PageToken = "garbage!"
	_, err = h.invoices.List(ctx, req)
	require.ErrorIs(t, err, domain.ErrInvalidPageToken)
}
