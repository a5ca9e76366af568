package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/carehub/internal/account/domain"
	auditdomain "github.com/smallbiznis/carehub/internal/audit/domain"
	"github.com/smallbiznis/carehub/internal/clock"
	"github.com/smallbiznis/carehub/internal/events"
	obsmetrics "github.com/smallbiznis/carehub/internal/observability/metrics"
	"github.com/smallbiznis/carehub/pkg/db"
	"github.com/smallbiznis/carehub/pkg/db/pagination"
	"github.com/smallbiznis/carehub/pkg/money"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       domain.Repository
	AuditSvc   auditdomain.Service `optional:"true"`
	Outbox     *events.Outbox      `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	auditSvc   auditdomain.Service
	outbox     *events.Outbox
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("account.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		auditSvc:   p.AuditSvc,
		outbox:     p.Outbox,
		obsMetrics: p.ObsMetrics,
	}
}

// entry is one ledger append before it is materialized into a LedgerTransaction.
type entry struct {
	kind           domain.TransactionType
	amount         decimal.Decimal
	delta          decimal.Decimal
	reason         string
	correlationRef string
	externalRef    string
	orderID        *snowflake.ID
	invoiceID      *snowflake.ID
	actor          auditdomain.Actor
	metadata       map[string]any
}

func (s *Service) Create(ctx context.Context, req domain.CreateAccountRequest) (*domain.Account, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, domain.ErrInvalidName
	}
	limit := money.Round(req.CreditLimit)
	if limit.IsNegative() {
		return nil, domain.ErrInvalidLimit
	}

	now := s.clock.Now().UTC()
	account := &domain.Account{
		ID:          s.genID.Generate(),
		Name:        name,
		CreditLimit: limit,
		CreditUsed:  decimal.Zero,
		Status:      domain.StatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if ref := strings.TrimSpace(req.ExternalRef); ref != "" {
		account.ExternalRef = &ref
	}

	if err := s.repo.Insert(ctx, s.db, account); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrDuplicateExternal
		}
		return nil, err
	}
	account.CreditAvailable = account.Available()

	s.audit(ctx, req.Actor, "account.created", account.ID, map[string]any{
		"credit_limit": money.Format(limit),
	})
	return account, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.Account, error) {
	account, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, domain.ErrAccountNotFound
	}
	return account, nil
}

func (s *Service) Retire(ctx context.Context, id snowflake.ID, actor auditdomain.Actor) (*domain.Account, error) {
	var account *domain.Account
	changed := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		account, err = s.lock(ctx, tx, id)
		if err != nil {
			return err
		}
		if account.RetiredAt != nil {
			return nil
		}
		now := s.clock.Now().UTC()
		account.Status = domain.StatusInactive
		account.RetiredAt = &now
		account.UpdatedAt = now
		changed = true
		return s.repo.Update(ctx, tx, account)
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.audit(ctx, actor, "account.retired", account.ID, nil)
	}
	return account, nil
}

func (s *Service) Debit(ctx context.Context, req domain.DebitRequest) (*domain.LedgerTransaction, error) {
	var (
		txn      *domain.LedgerTransaction
		replayed bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		txn, replayed, err = s.debit(ctx, tx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.afterAppend(ctx, req.Actor, txn, replayed)
	return txn, nil
}

func (s *Service) DebitTx(ctx context.Context, tx *gorm.DB, req domain.DebitRequest) (*domain.LedgerTransaction, error) {
	txn, replayed, err := s.debit(ctx, tx, req)
	if err != nil {
		return nil, err
	}
	if !replayed {
		s.obsMetrics.RecordLedgerTransaction(ctx, string(txn.Type))
	}
	return txn, nil
}

func (s *Service) debit(ctx context.Context, tx *gorm.DB, req domain.DebitRequest) (*domain.LedgerTransaction, bool, error) {
	kind := req.Kind
	if kind == "" {
		kind = domain.TransactionDebit
	}
	if !kind.IsDebit() {
		return nil, false, domain.ErrInvalidKind
	}
	amount, err := money.RequirePositive(req.Amount)
	if err != nil {
		return nil, false, domain.ErrInvalidAmount
	}

	account, err := s.lock(ctx, tx, req.AccountID)
	if err != nil {
		return nil, false, err
	}
	if existing, err := s.replay(ctx, tx, account.ID, req.CorrelationRef, kind); existing != nil || err != nil {
		return existing, existing != nil, err
	}

	if !account.CanSpend() {
		return nil, false, domain.ErrAccountBlocked
	}
	available := account.Available()
	if amount.GreaterThan(available) {
		return nil, false, &domain.InsufficientCreditError{Available: available, Requested: amount}
	}

	txn, err := s.append(ctx, tx, account, entry{
		kind:           kind,
		amount:         amount,
		delta:          kind.Delta(amount),
		reason:         req.Reason,
		correlationRef: req.CorrelationRef,
		externalRef:    req.ExternalRef,
		orderID:        req.OrderID,
		invoiceID:      req.InvoiceID,
		actor:          req.Actor,
	})
	return txn, false, err
}

func (s *Service) Credit(ctx context.Context, req domain.CreditRequest) (*domain.LedgerTransaction, error) {
	var (
		txn      *domain.LedgerTransaction
		replayed bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		txn, replayed, err = s.credit(ctx, tx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.afterAppend(ctx, req.Actor, txn, replayed)
	return txn, nil
}

func (s *Service) CreditTx(ctx context.Context, tx *gorm.DB, req domain.CreditRequest) (*domain.LedgerTransaction, error) {
	txn, replayed, err := s.credit(ctx, tx, req)
	if err != nil {
		return nil, err
	}
	if !replayed {
		s.obsMetrics.RecordLedgerTransaction(ctx, string(txn.Type))
	}
	return txn, nil
}

func (s *Service) credit(ctx context.Context, tx *gorm.DB, req domain.CreditRequest) (*domain.LedgerTransaction, bool, error) {
	kind := req.Kind
	if kind == "" {
		kind = domain.TransactionCredit
	}
	if !kind.IsCredit() {
		return nil, false, domain.ErrInvalidKind
	}
	amount, err := money.RequirePositive(req.Amount)
	if err != nil {
		return nil, false, domain.ErrInvalidAmount
	}

	account, err := s.lock(ctx, tx, req.AccountID)
	if err != nil {
		return nil, false, err
	}
	if existing, err := s.replay(ctx, tx, account.ID, req.CorrelationRef, kind); existing != nil || err != nil {
		return existing, existing != nil, err
	}

	txn, err := s.append(ctx, tx, account, entry{
		kind:           kind,
		amount:         amount,
		delta:          kind.Delta(amount),
		reason:         req.Reason,
		correlationRef: req.CorrelationRef,
		externalRef:    req.ExternalRef,
		orderID:        req.OrderID,
		invoiceID:      req.InvoiceID,
		actor:          req.Actor,
	})
	return txn, false, err
}

func (s *Service) AdjustLimit(ctx context.Context, req domain.AdjustLimitRequest) (*domain.LedgerTransaction, error) {
	newLimit := money.Round(req.NewLimit)
	if newLimit.IsNegative() {
		return nil, domain.ErrInvalidLimit
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, domain.ErrInvalidReason
	}

	var txn *domain.LedgerTransaction
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account, err := s.lock(ctx, tx, req.AccountID)
		if err != nil {
			return err
		}
		before := account.CreditLimit
		account.CreditLimit = newLimit
		txn, err = s.append(ctx, tx, account, entry{
			kind:   domain.TransactionLimitChange,
			amount: decimal.Zero,
			delta:  decimal.Zero,
			reason: reason,
			actor:  req.Actor,
			metadata: map[string]any{
				"limit_before": money.Format(before),
				"limit_after":  money.Format(newLimit),
			},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.afterAppend(ctx, req.Actor, txn, false)
	return txn, nil
}

func (s *Service) Adjust(ctx context.Context, req domain.AdjustRequest) (*domain.LedgerTransaction, error) {
	var (
		txn      *domain.LedgerTransaction
		replayed bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		txn, replayed, err = s.adjust(ctx, tx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.afterAppend(ctx, req.Actor, txn, replayed)
	return txn, nil
}

// AdjustTx appends an administrative adjustment inside the caller's transaction. Limits are not enforced.
func (s *Service) AdjustTx(ctx context.Context, tx *gorm.DB, req domain.AdjustRequest) (*domain.LedgerTransaction, error) {
	txn, _, err := s.adjust(ctx, tx, req)
	return txn, err
}

func (s *Service) adjust(ctx context.Context, tx *gorm.DB, req domain.AdjustRequest) (*domain.LedgerTransaction, bool, error) {
	amount := money.Round(req.Amount)
	if amount.IsZero() {
		return nil, false, domain.ErrInvalidAmount
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, false, domain.ErrInvalidReason
	}

	account, err := s.lock(ctx, tx, req.AccountID)
	if err != nil {
		return nil, false, err
	}
	existing, err := s.replay(ctx, tx, account.ID, req.CorrelationRef, domain.TransactionAdjustment)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, true, nil
	}
	txn, err := s.append(ctx, tx, account, entry{
		kind:           domain.TransactionAdjustment,
		amount:         amount,
		delta:          domain.TransactionAdjustment.Delta(amount),
		reason:         reason,
		correlationRef: req.CorrelationRef,
		invoiceID:      req.InvoiceID,
		actor:          req.Actor,
	})
	return txn, false, err
}

func (s *Service) Block(ctx context.Context, id snowflake.ID, reason string, actor auditdomain.Actor) (*domain.Account, error) {
	var blocked bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		blocked, err = s.BlockTx(ctx, tx, id, reason, actor)
		return err
	})
	if err != nil {
		return nil, err
	}
	if blocked {
		s.audit(ctx, actor, "account.blocked", id, map[string]any{"reason": strings.TrimSpace(reason)})
	}
	return s.Get(ctx, id)
}

// BlockTx blocks the account and records AccountBlocked. It reports false when the account was already blocked.
func (s *Service) BlockTx(ctx context.Context, tx *gorm.DB, id snowflake.ID, reason string, actor auditdomain.Actor) (bool, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return false, domain.ErrInvalidReason
	}
	account, err := s.lock(ctx, tx, id)
	if err != nil {
		return false, err
	}
	if account.IsBlocked {
		return false, nil
	}

	now := s.clock.Now().UTC()
	account.IsBlocked = true
	account.BlockedReason = &reason
	account.UpdatedAt = now
	if err := s.repo.Update(ctx, tx, account); err != nil {
		return false, err
	}

	actor = actor.Normalize()
	if _, err := s.outbox.RecordTx(ctx, tx, events.Event{
		Type:          events.TypeAccountBlocked,
		AggregateType: "account",
		AggregateID:   account.ID.String(),
		DedupeKey:     "account.blocked:" + account.ID.String() + ":" + s.genID.Generate().String(),
		OccurredAt:    now,
		Payload: map[string]any{
			"account_id": account.ID.String(),
			"reason":     reason,
			"actor_type": string(actor.Type),
			"actor_id":   actor.ID,
		},
	}); err != nil {
		return false, err
	}

	s.log.Info("account blocked",
		zap.String("account_id", account.ID.String()),
		zap.String("reason", reason),
	)
	return true, nil
}

func (s *Service) Unblock(ctx context.Context, id snowflake.ID, reason string, actor auditdomain.Actor) (*domain.Account, error) {
	var (
		account   *domain.Account
		unblocked bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		account, err = s.lock(ctx, tx, id)
		if err != nil {
			return err
		}
		if !account.IsBlocked {
			return nil
		}
		account.IsBlocked = false
		account.BlockedReason = nil
		account.UpdatedAt = s.clock.Now().UTC()
		unblocked = true
		return s.repo.Update(ctx, tx, account)
	})
	if err != nil {
		return nil, err
	}
	if unblocked {
		s.audit(ctx, actor, "account.unblocked", id, map[string]any{"reason": strings.TrimSpace(reason)})
	}
	account.CreditAvailable = account.Available()
	return account, nil
}

func (s *Service) ListTransactions(ctx context.Context, req domain.ListTransactionsRequest) (domain.ListTransactionsResponse, error) {
	if _, err := s.Get(ctx, req.AccountID); err != nil {
		return domain.ListTransactionsResponse{}, err
	}

	filter := domain.TransactionFilter{
		AccountID: req.AccountID,
		Type:      req.Type,
		Limit:     req.Limit(),
	}
	if token := strings.TrimSpace(req.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			return domain.ListTransactionsResponse{}, domain.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return domain.ListTransactionsResponse{}, domain.ErrInvalidPageToken
		}
		filter.Cursor = &domain.TransactionCursor{ID: id}
	}

	items, err := s.repo.ListTransactions(ctx, s.db, filter)
	if err != nil {
		return domain.ListTransactionsResponse{}, err
	}
	items, pageInfo := pagination.BuildCursorPageInfo(items, filter.Limit, func(t *domain.LedgerTransaction) pagination.Cursor {
		return pagination.NewCursor(t.ID.String(), t.CreatedAt)
	})

	out := make([]domain.LedgerTransaction, 0, len(items))
	for _, item := range items {
		out = append(out, *item)
	}
	return domain.ListTransactionsResponse{PageInfo: pageInfo, Transactions: out}, nil
}

// VerifyLedger replays every transaction from a zero balance and compares the chain with credit_used.
func (s *Service) VerifyLedger(ctx context.Context, id snowflake.ID) (domain.VerifyResult, error) {
	account, err := s.Get(ctx, id)
	if err != nil {
		return domain.VerifyResult{}, err
	}
	txns, err := s.repo.ListAllTransactions(ctx, s.db, id)
	if err != nil {
		return domain.VerifyResult{}, err
	}

	result := domain.VerifyResult{
		AccountID:    id,
		Transactions: len(txns),
		CreditUsed:   account.CreditUsed,
		Consistent:   true,
	}
	running := decimal.Zero
	for _, txn := range txns {
		expectedAfter := money.Round(running.Add(txn.Type.Delta(txn.Amount)))
		if !txn.BalanceBefore.Equal(running) || !txn.BalanceAfter.Equal(expectedAfter) {
			result.Consistent = false
			brokenAt := txn.ID
			result.BrokenAt = &brokenAt
			break
		}
		running = expectedAfter
	}
	result.Replayed = running
	if result.Consistent && !running.Equal(account.CreditUsed) {
		result.Consistent = false
	}
	if !result.Consistent {
		s.log.Error("ledger replay mismatch",
			zap.String("account_id", id.String()),
			zap.String("replayed", running.String()),
			zap.String("credit_used", account.CreditUsed.String()),
		)
	}
	return result, nil
}

func (s *Service) lock(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.Account, error) {
	if id == 0 {
		return nil, domain.ErrAccountNotFound
	}
	account, err := s.repo.FindForUpdate(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, domain.ErrAccountNotFound
	}
	return account, nil
}

// replay returns the transaction already appended for ref, if any.
func (s *Service) replay(ctx context.Context, tx *gorm.DB, accountID snowflake.ID, ref string, kind domain.TransactionType) (*domain.LedgerTransaction, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, nil
	}
	existing, err := s.repo.FindTransactionByCorrelation(ctx, tx, accountID, ref)
	if err != nil || existing == nil {
		return nil, err
	}
	if existing.Type != kind {
		return nil, domain.ErrCorrelationConflict
	}
	return existing, nil
}

func (s *Service) append(ctx context.Context, tx *gorm.DB, account *domain.Account, e entry) (*domain.LedgerTransaction, error) {
	now := s.clock.Now().UTC()
	actor := e.actor.Normalize()
	before := account.CreditUsed
	after := money.Round(before.Add(e.delta))

	reason := strings.TrimSpace(e.reason)
	if reason == "" {
		reason = string(e.kind)
	}

	txn := &domain.LedgerTransaction{
		ID:            s.genID.Generate(),
		AccountID:     account.ID,
		Type:          e.kind,
		Amount:        money.Round(e.amount),
		BalanceBefore: before,
		BalanceAfter:  after,
		Reason:        reason,
		OrderID:       e.orderID,
		InvoiceID:     e.invoiceID,
		ActorType:     string(actor.Type),
		ActorID:       actor.IDPtr(),
		CreatedAt:     now,
	}
	if ref := strings.TrimSpace(e.correlationRef); ref != "" {
		txn.CorrelationRef = &ref
	}
	if ref := strings.TrimSpace(e.externalRef); ref != "" {
		txn.ExternalRef = &ref
	}
	if len(e.metadata) > 0 {
		txn.Metadata = datatypes.JSONMap(e.metadata)
	}

	account.CreditUsed = after
	account.UpdatedAt = now
	if err := s.repo.Update(ctx, tx, account); err != nil {
		return nil, err
	}
	if err := s.repo.InsertTransaction(ctx, tx, txn); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, domain.ErrCorrelationConflict
		}
		return nil, err
	}
	account.CreditAvailable = account.Available()
	return txn, nil
}

func (s *Service) afterAppend(ctx context.Context, actor auditdomain.Actor, txn *domain.LedgerTransaction, replayed bool) {
	if replayed {
		s.log.Debug("ledger append replayed",
			zap.String("account_id", txn.AccountID.String()),
			zap.String("transaction_id", txn.ID.String()),
		)
		return
	}
	s.obsMetrics.RecordLedgerTransaction(ctx, string(txn.Type))
	s.audit(ctx, actor, "account.transaction."+string(txn.Type), txn.AccountID, map[string]any{
		"transaction_id": txn.ID.String(),
		"amount":         money.Format(txn.Amount),
		"balance_after":  money.Format(txn.BalanceAfter),
	})
}

func (s *Service) audit(ctx context.Context, actor auditdomain.Actor, action string, accountID snowflake.ID, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	targetID := accountID.String()
	if err := s.auditSvc.AuditLog(ctx, actor, action, "account", &targetID, metadata); err != nil {
		s.log.Warn("audit log failed", zap.String("action", action), zap.Error(err))
	}
}
