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
	cashdomain "github.com/smallbiznis/carehub/internal/cashsession/domain"
	cashrepo "github.com/smallbiznis/carehub/internal/cashsession/repository"
	cashsvc "github.com/smallbiznis/carehub/internal/cashsession/service"
	"github.com/smallbiznis/carehub/internal/clock"
	"github.com/smallbiznis/carehub/internal/order/domain"
	"github.com/smallbiznis/carehub/internal/order/repository"
	"github.com/smallbiznis/carehub/pkg/db/dbtest"
	"github.com/smallbiznis/carehub/pkg/money"
	"github.com/smallbiznis/carehub/pkg/transition"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type harness struct {
	db       *gorm.DB
	orders   domain.Service
	accounts accountdomain.Service
	cash     cashdomain.Service
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := dbtest.Open(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC))
	log := zap.NewNop()

	accounts := accountsvc.NewService(accountsvc.Params{DB: db, Log: log, GenID: node, Clock: clk, Repo: accountrepo.Provide()})
	cash := cashsvc.NewService(cashsvc.Params{DB: db, Log: log, GenID: node, Clock: clk, Repo: cashrepo.Provide()})
	orders := NewService(Params{
		DB:         db,
		Log:        log,
		GenID:      node,
		Clock:      clk,
		Repo:       repository.Provide(),
		AccountSvc: accounts,
		CashSvc:    cash,
	})
	return &harness{db: db, orders: orders, accounts: accounts, cash: cash}
}

func (h *harness) newAccount(t *testing.T, limit string) snowflake.ID {
	t.Helper()
	account, err := h.accounts.Create(context.Background(), accountdomain.CreateAccountRequest{Name: "R", CreditLimit: money.MustParse(limit)})
	require.NoError(t, err)
	return account.ID
}

func items(prices ...string) []domain.ItemInput {
	out := make([]domain.ItemInput, 0, len(prices))
	for _, p := range prices {
		out = append(out, domain.ItemInput{Description: "item", Quantity: 1, UnitPrice: money.MustParse(p)})
	}
	return out
}

func TestCreateWalletOrderDebitsAccount(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	accountID := h.newAccount(t, "100.00")

	order, err := h.orders.Create(ctx, domain.CreateRequest{
		AccountID:     &accountID,
		Items:         []domain.ItemInput{{Description: "snack", Quantity: 3, UnitPrice: money.MustParse("4.50")}},
		PaymentMethod: domain.MethodWallet,
	})
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, order.Status)
	require.Equal(t, domain.PaymentPaid, order.PaymentStatus)
	require.Equal(t, "13.50", money.Format(order.Total))

	account, err := h.accounts.Get(ctx, accountID)
	require.NoError(t, err)
	require.Equal(t, "13.50", money.Format(account.CreditUsed))
}

func TestCreateWalletOrderRollsBackOnInsufficientCredit(t *testing.T) {
	h := newHarness(t)
	accountID := h.newAccount(t, "10.00")

	_, err := h.orders.Create(context.Background(), domain.CreateRequest{
		AccountID:     &accountID,
		Items:         items("10.01"),
		PaymentMethod: domain.MethodWallet,
	})
	require.ErrorIs(t, err, accountdomain.ErrInsufficientCredit)
	dbtest.AssertCount(t, h.db, "SELECT COUNT(*) FROM orders", 0)
	dbtest.AssertCount(t, h.db, "SELECT COUNT(*) FROM order_items", 0)
}

func TestCreateCashOrderRecordsSale(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	session, err := h.cash.Open(ctx, cashdomain.OpenRequest{UserID: "op", OpeningBalance: money.MustParse("10")})
	require.NoError(t, err)

	order, err := h.orders.Create(ctx, domain.CreateRequest{
		Items:         items("7.00", "3.00"),
		PaymentMethod: domain.MethodCash,
		CashSessionID: &session.ID,
	})
	require.NoError(t, err)
	require.Equal(t, domain.PaymentPaid, order.PaymentStatus)
	dbtest.AssertCount(t, h.db, "SELECT COUNT(*) FROM cash_movements WHERE order_id = ? AND type = 'sale'", 1, order.ID)
}

func TestCreatePixOrderStaysPending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	accountID := h.newAccount(t, "0")

	order, err := h.orders.Create(ctx, domain.CreateRequest{
		AccountID:     &accountID,
		Items:         items("80.00"),
		Total:         money.MustParse("80.00"),
		PaymentMethod: domain.MethodPix,
		Origin:        domain.OriginApp,
	})
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, order.Status)
	require.Equal(t, domain.PaymentUnpaid, order.PaymentStatus)

	var settled bool
	require.NoError(t, h.db.Transaction(func(tx *gorm.DB) error {
		var err error
		settled, err = h.orders.MarkPaidTx(ctx, tx, order.ID, time.Time{})
		return err
	}))
	require.True(t, settled)

	require.NoError(t, h.db.Transaction(func(tx *gorm.DB) error {
		var err error
		settled, err = h.orders.MarkPaidTx(ctx, tx, order.ID, time.Time{})
		return err
	}))
	require.False(t, settled)

	got, err := h.orders.Get(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, got.Status)
	require.Len(t, got.Items, 1)
}

func TestCreateValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orders.Create(ctx, domain.CreateRequest{Items: items("1"), PaymentMethod: "barter"})
	require.ErrorIs(t, err, domain.ErrInvalidMethod)
	_, err = h.orders.Create(ctx, domain.CreateRequest{Items: items("1"), PaymentMethod: domain.MethodWallet})
	require.ErrorIs(t, err, domain.ErrAccountRequired)
	_, err = h.orders.Create(ctx, domain.CreateRequest{PaymentMethod: domain.MethodCash})
	require.ErrorIs(t, err, domain.ErrInvalidItems)
	_, err = h.orders.Create(ctx, domain.CreateRequest{Items: items("5"), Total: money.MustParse("6"), PaymentMethod: domain.MethodCash})
	require.ErrorIs(t, err, domain.ErrTotalMismatch)
}

func TestCancelWalletOrderRefundsCredit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	accountID := h.newAccount(t, "50.00")

	order, err := h.orders.Create(ctx, domain.CreateRequest{AccountID: &accountID, Items: items("20"), PaymentMethod: domain.MethodWallet})
	require.NoError(t, err)

	cancelled, err := h.orders.Cancel(ctx, order.ID, "wrong item", auditdomain.UserActor("op"))
	require.NoError(t, err)
	require.Equal(t, domain.StatusCancelled, cancelled.Status)
	require.Equal(t, domain.PaymentRefunded, cancelled.PaymentStatus)

	account, err := h.accounts.Get(ctx, accountID)
	require.NoError(t, err)
	require.True(t, account.CreditUsed.IsZero())

	_, err = h.orders.Cancel(ctx, order.ID, "again", auditdomain.UserActor("op"))
	require.ErrorIs(t, err, transition.ErrInvalidTransition)
}

func TestCancelPaidCashOrderIsRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	order, err := h.orders.Create(ctx, domain.CreateRequest{Items: items("5"), PaymentMethod: domain.MethodCash})
	require.NoError(t, err)

	_, err = h.orders.Cancel(ctx, order.ID, "", auditdomain.SystemActor())
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
}
