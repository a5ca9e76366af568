package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/carehub/internal/account/domain"
	"github.com/smallbiznis/carehub/internal/account/repository"
	auditdomain "github.com/smallbiznis/carehub/internal/audit/domain"
	"github.com/smallbiznis/carehub/internal/clock"
	"github.com/smallbiznis/carehub/internal/events"
	"github.com/smallbiznis/carehub/pkg/db/dbtest"
	"github.com/smallbiznis/carehub/pkg/money"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type harness struct {
	db    *gorm.DB
	svc   domain.Service
	clock *clock.FakeClock
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db := dbtest.Open(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC))

	svc := NewService(Params{
		DB:     db,
		Log:    zap.NewNop(),
		GenID:  node,
		Clock:  clk,
		Repo:   repository.Provide(),
		Outbox: events.NewOutbox(events.OutboxParams{Log: zap.NewNop(), GenID: node, Clock: clk}),
	})
	return &harness{db: db, svc: svc, clock: clk}
}

func (h *harness) account(t *testing.T, limit string) *domain.Account {
	t.Helper()
	account, err := h.svc.Create(context.Background(), domain.CreateAccountRequest{
		Name:        "Resident",
		CreditLimit: money.MustParse(limit),
		Actor:       auditdomain.SystemActor(),
	})
	require.NoError(t, err)
	return account
}

func requireAmount(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Equal(t, want, money.Format(got))
}

func TestDebitScenario(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	account := h.account(t, "500.00")
	orderID := snowflake.ID(9001)

	txn, err := h.svc.Debit(ctx, domain.DebitRequest{
		AccountID:      account.ID,
		Amount:         money.MustParse("100.00"),
		Reason:         "order",
		CorrelationRef: "order:9001",
		OrderID:        &orderID,
		Actor:          auditdomain.UserActor("cashier-1"),
	})
	require.NoError(t, err)
	require.Equal(t, domain.TransactionDebit, txn.Type)
	requireAmount(t, "0.00", txn.BalanceBefore)
	requireAmount(t, "100.00", txn.BalanceAfter)

	got, err := h.svc.Get(ctx, account.ID)
	require.NoError(t, err)
	requireAmount(t, "100.00", got.CreditUsed)
	requireAmount(t, "400.00", got.CreditAvailable)
	dbtest.AssertCount(t, h.db, "SELECT COUNT(*) FROM ledger_transactions WHERE account_id = ?", 1, account.ID)
}

func TestDebitReplayReturnsExisting(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	account := h.account(t, "500.00")

	req := domain.DebitRequest{
		AccountID:      account.ID,
		Amount:         money.MustParse("42.10"),
		CorrelationRef: "order:1",
	}
	first, err := h.svc.Debit(ctx, req)
	require.NoError(t, err)
	second, err := h.svc.Debit(ctx, req)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	got, err := h.svc.Get(ctx, account.ID)
	require.NoError(t, err)
	requireAmount(t, "42.10", got.CreditUsed)
	dbtest.AssertCount(t, h.db, "SELECT COUNT(*) FROM ledger_transactions", 1)

	_, err = h.svc.Credit(ctx, domain.CreditRequest{
		AccountID:      account.ID,
		Amount:         money.MustParse("1.00"),
		CorrelationRef: "order:1",
	})
	require.ErrorIs(t, err, domain.ErrCorrelationConflict)
}

func TestDebitInsufficientCredit(t *testing.T) {
	h := newHarness(t)
	account := h.account(t, "50.00")

	_, err := h.svc.Debit(context.Background(), domain.DebitRequest{
		AccountID: account.ID,
		Amount:    money.MustParse("50.01"),
	})
	require.ErrorIs(t, err, domain.ErrInsufficientCredit)

	var creditErr *domain.InsufficientCreditError
	require.True(t, errors.As(err, &creditErr))
	requireAmount(t, "50.00", creditErr.Available)
	requireAmount(t, "50.01", creditErr.Requested)
	dbtest.AssertCount(t, h.db, "SELECT COUNT(*) FROM ledger_transactions", 0)
}

func TestDebitRejectsBlockedAndRetired(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	account := h.account(t, "100.00")

	_, err := h.svc.Block(ctx, account.ID, "manual review", auditdomain.UserActor("admin"))
	require.NoError(t, err)
	_, err = h.svc.Debit(ctx, domain.DebitRequest{AccountID: account.ID, Amount: money.MustParse("1.00")})
	require.ErrorIs(t, err, domain.ErrAccountBlocked)

	_, err = h.svc.Unblock(ctx, account.ID, "cleared", auditdomain.UserActor("admin"))
	require.NoError(t, err)
	_, err = h.svc.Debit(ctx, domain.DebitRequest{AccountID: account.ID, Amount: money.MustParse("1.00")})
	require.NoError(t, err)

	retired, err := h.svc.Retire(ctx, account.ID, auditdomain.UserActor("admin"))
	require.NoError(t, err)
	require.Equal(t, domain.StatusInactive, retired.Status)
	_, err = h.svc.Debit(ctx, domain.DebitRequest{AccountID: account.ID, Amount: money.MustParse("1.00")})
	require.ErrorIs(t, err, domain.ErrAccountBlocked)
}

func TestBlockRecordsEventOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	account := h.account(t, "100.00")

	_, err := h.svc.Block(ctx, account.ID, "overdue", auditdomain.SystemActor())
	require.NoError(t, err)
	_, err = h.svc.Block(ctx, account.ID, "overdue", auditdomain.SystemActor())
	require.NoError(t, err)

	dbtest.AssertCount(t, h.db, "SELECT COUNT(*) FROM domain_events WHERE type = ?", 1, events.TypeAccountBlocked)
}

func TestCreditMayBuildPrepaidBalance(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	account := h.account(t, "100.00")

	txn, err := h.svc.Credit(ctx, domain.CreditRequest{
		AccountID: account.ID,
		Amount:    money.MustParse("30.00"),
		Kind:      domain.TransactionRefund,
	})
	require.NoError(t, err)
	requireAmount(t, "-30.00", txn.BalanceAfter)

	got, err := h.svc.Get(ctx, account.ID)
	require.NoError(t, err)
	requireAmount(t, "130.00", got.CreditAvailable)

	_, err = h.svc.Credit(ctx, domain.CreditRequest{AccountID: account.ID, Amount: money.MustParse("-1")})
	require.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = h.svc.Credit(ctx, domain.CreditRequest{AccountID: account.ID, Amount: money.MustParse("1"), Kind: domain.TransactionDebit})
	require.ErrorIs(t, err, domain.ErrInvalidKind)
}

func TestAdjustLimitAndAdjustment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	account := h.account(t, "100.00")

	limitTxn, err := h.svc.AdjustLimit(ctx, domain.AdjustLimitRequest{
		AccountID: account.ID,
		NewLimit:  money.MustParse("250.00"),
		Reason:    "family request",
		Actor:     auditdomain.UserActor("admin"),
	})
	require.NoError(t, err)
	require.Equal(t, domain.TransactionLimitChange, limitTxn.Type)
	require.True(t, limitTxn.Amount.IsZero())
	require.Equal(t, "100.00", limitTxn.Metadata["limit_before"])
	require.Equal(t, "250.00", limitTxn.Metadata["limit_after"])

	adj, err := h.svc.Adjust(ctx, domain.AdjustRequest{
		AccountID: account.ID,
		Amount:    money.MustParse("300.00"),
		Reason:    "migration from paper ledger",
	})
	require.NoError(t, err)
	requireAmount(t, "300.00", adj.BalanceAfter)

	got, err := h.svc.Get(ctx, account.ID)
	require.NoError(t, err)
	requireAmount(t, "-50.00", got.CreditAvailable)

	_, err = h.svc.Adjust(ctx, domain.AdjustRequest{AccountID: account.ID, Amount: money.MustParse("-20.00"), Reason: "correction"})
	require.NoError(t, err)
	got, err = h.svc.Get(ctx, account.ID)
	require.NoError(t, err)
	requireAmount(t, "280.00", got.CreditUsed)
}

func TestVerifyLedgerReplaysChain(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	account := h.account(t, "500.00")

	steps := []func() error{
		func() error {
			_, err := h.svc.Debit(ctx, domain.DebitRequest{AccountID: account.ID, Amount: money.MustParse("120.00")})
			return err
		},
		func() error {
			_, err := h.svc.Credit(ctx, domain.CreditRequest{AccountID: account.ID, Amount: money.MustParse("20.00")})
			return err
		},
		func() error {
			_, err := h.svc.Debit(ctx, domain.DebitRequest{AccountID: account.ID, Amount: money.MustParse("15.55"), Kind: domain.TransactionSubscriptionDebit})
			return err
		},
		func() error {
			_, err := h.svc.AdjustLimit(ctx, domain.AdjustLimitRequest{AccountID: account.ID, NewLimit: money.MustParse("600"), Reason: "raise"})
			return err
		},
	}
	for _, step := range steps {
		h.clock.Advance(time.Second)
		require.NoError(t, step())
	}

	result, err := h.svc.VerifyLedger(ctx, account.ID)
	require.NoError(t, err)
	require.True(t, result.Consistent)
	require.Equal(t, 4, result.Transactions)
	requireAmount(t, "115.55", result.Replayed)

	require.NoError(t, h.db.Exec("UPDATE accounts SET credit_used = ? WHERE id = ?", "99.00", account.ID).Error)
	result, err = h.svc.VerifyLedger(ctx, account.ID)
	require.NoError(t, err)
	require.False(t, result.Consistent)
}

func TestConcurrentDebitsSerialize(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	account := h.account(t, "100.00")

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		errs     []error
		accepted int
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.Debit(ctx, domain.DebitRequest{AccountID: account.ID, Amount: money.MustParse("60.00")})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			accepted++
		}()
	}
	wg.Wait()

	require.Equal(t, 1, accepted)
	require.Len(t, errs, 1)
	require.ErrorIs(t, errs[0], domain.ErrInsufficientCredit)

	got, err := h.svc.Get(ctx, account.ID)
	require.NoError(t, err)
	requireAmount(t, "60.00", got.CreditUsed)
}

func TestListTransactionsPaginates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	account := h.account(t, "500.00")
	for i := 0; i < 3; i++ {
		h.clock.Advance(time.Second)
		_, err := h.svc.Debit(ctx, domain.DebitRequest{AccountID: account.ID, Amount: money.MustParse("10")})
		require.NoError(t, err)
	}

	page, err := h.svc.ListTransactions(ctx, domain.ListTransactionsRequest{AccountID: account.ID})
	require.NoError(t, err)
	require.Len(t, page.Transactions, 3)
	require.False(t, page.HasMore)
	requireAmount(t, "30.00", page.Transactions[0].BalanceAfter)

	_, err = h.svc.ListTransactions(ctx, domain.ListTransactionsRequest{AccountID: snowflake.ID(1)})
	require.ErrorIs(t, err, domain.ErrAccountNotFound)
}
