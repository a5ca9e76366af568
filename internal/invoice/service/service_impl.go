package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	accountdomain "github.com/smallbiznis/carehub/internal/account/domain"
	auditdomain "github.com/smallbiznis/carehub/internal/audit/domain"
	"github.com/smallbiznis/carehub/internal/clock"
	"github.com/smallbiznis/carehub/internal/config"
	"github.com/smallbiznis/carehub/internal/events"
	"github.com/smallbiznis/carehub/internal/invoice/domain"
	invoiceformat "github.com/smallbiznis/carehub/internal/invoice/format"
	obsmetrics "github.com/smallbiznis/carehub/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/carehub/internal/order/domain"
	subscriptiondomain "github.com/smallbiznis/carehub/internal/subscription/domain"
	"github.com/smallbiznis/carehub/pkg/db"
	"github.com/smallbiznis/carehub/pkg/db/pagination"
	"github.com/smallbiznis/carehub/pkg/money"
	"github.com/smallbiznis/carehub/pkg/telemetry"
	"github.com/smallbiznis/carehub/pkg/transition"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// overdueBatchSize is how many candidates one query returns; the sweep keeps paging until a short batch.
var overdueBatchSize = 500

const (
	subscriptionBatchSize = 200
	// maxCatchUpRounds bounds how many missed periods one sweep bills per subscription.
	maxCatchUpRounds = 24
)

type Params struct {
	fx.In

	DB              *gorm.DB
	Log             *zap.Logger
	GenID           *snowflake.Node
	Clock           clock.Clock
	Repo            domain.Repository
	Policy          *config.BillingPolicyHolder
	OrderSvc        orderdomain.Service
	AccountSvc      accountdomain.Service
	SubscriptionSvc subscriptiondomain.Service
	AuditSvc        auditdomain.Service `optional:"true"`
	Outbox          *events.Outbox      `optional:"true"`
	ObsMetrics      *obsmetrics.Metrics `optional:"true"`
	Metrics         *telemetry.Metrics  `optional:"true"`
}

type Service struct {
	db              *gorm.DB
	log             *zap.Logger
	genID           *snowflake.Node
	clock           clock.Clock
	repo            domain.Repository
	policy          *config.BillingPolicyHolder
	orderSvc        orderdomain.Service
	accountSvc      accountdomain.Service
	subscriptionSvc subscriptiondomain.Service
	auditSvc        auditdomain.Service
	outbox          *events.Outbox
	obsMetrics      *obsmetrics.Metrics
	metrics         *telemetry.Metrics
}

func NewService(p Params) domain.Service {
	policy := p.Policy
	if policy == nil {
		policy = config.NewStaticBillingPolicy(config.DefaultBillingPolicy())
	}
	return &Service{
		db:              p.DB,
		log:             p.Log.Named("invoice.service"),
		genID:           p.GenID,
		clock:           p.Clock,
		repo:            p.Repo,
		policy:          policy,
		orderSvc:        p.OrderSvc,
		accountSvc:      p.AccountSvc,
		subscriptionSvc: p.SubscriptionSvc,
		auditSvc:        p.AuditSvc,
		outbox:          p.Outbox,
		obsMetrics:      p.ObsMetrics,
		metrics:         p.Metrics,
	}
}

func (s *Service) GenerateConsumption(ctx context.Context, req domain.GenerateConsumptionRequest) (*domain.Invoice, error) {
	if req.AccountID == 0 {
		return nil, domain.ErrInvalidAccount
	}
	start, end := req.PeriodStart.UTC(), req.PeriodEnd.UTC()
	if start.IsZero() || !end.After(start) {
		return nil, domain.ErrInvalidPeriod
	}
	discount := money.Round(req.Discount)
	if discount.IsNegative() {
		return nil, domain.ErrInvalidDiscount
	}
	if _, err := s.accountSvc.Get(ctx, req.AccountID); err != nil {
		return nil, err
	}

	var invoice *domain.Invoice
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		orders, err := s.orderSvc.LockInvoiceableTx(ctx, tx, orderdomain.InvoiceableFilter{
			AccountID:   req.AccountID,
			PeriodStart: start,
			PeriodEnd:   end,
		})
		if err != nil {
			return err
		}
		if len(orders) == 0 {
			return domain.ErrNoEligibleOrders
		}

		now := s.clock.Now().UTC()
		invoice, err = s.newInvoice(domain.TypeConsumption, req.AccountID, nil, start, end, req.AsDraft, req.DueDays, now)
		if err != nil {
			return err
		}

		orderIDs := make([]snowflake.ID, 0, len(orders))
		items := make([]domain.InvoiceItem, 0, len(orders))
		for _, order := range orders {
			orderID := order.ID
			orderIDs = append(orderIDs, orderID)
			for _, src := range order.Items {
				orderItemID := src.ID
				items = append(items, domain.InvoiceItem{
					ID:          s.genID.Generate(),
					InvoiceID:   invoice.ID,
					Position:    len(items) + 1,
					OrderID:     &orderID,
					OrderItemID: &orderItemID,
					Description: src.Description,
					Quantity:    src.Quantity,
					UnitPrice:   money.Round(src.UnitPrice),
					Amount:      money.Round(src.Amount),
					CreatedAt:   now,
				})
			}
		}

		invoice.Subtotal = sumItems(items)
		if discount.GreaterThan(invoice.Subtotal) {
			return domain.ErrInvalidDiscount
		}
		invoice.DiscountAmount = discount
		invoice.Recompute()
		invoice.Items = items
		if err := s.settleIfZero(invoice, now); err != nil {
			return err
		}

		if err := s.repo.Insert(ctx, tx, invoice); err != nil {
			return err
		}
		if err := s.repo.InsertItems(ctx, tx, items); err != nil {
			return err
		}
		return s.orderSvc.MarkInvoicedTx(ctx, tx, orderIDs, invoice.ID)
	})
	if err != nil {
		return nil, err
	}

	s.afterGenerate(ctx, req.Actor, invoice)
	return invoice, nil
}

func (s *Service) GenerateSubscription(ctx context.Context, req domain.GenerateSubscriptionRequest) (*domain.Invoice, error) {
	if req.SubscriptionID == 0 {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	now := req.Now.UTC()
	if req.Now.IsZero() {
		now = s.clock.Now().UTC()
	}

	var invoice *domain.Invoice
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub, err := s.subscriptionSvc.LockTx(ctx, tx, req.SubscriptionID)
		if err != nil {
			return err
		}
		if sub.Status != subscriptiondomain.StatusActive {
			return subscriptiondomain.ErrSubscriptionNotActive
		}
		if sub.NextBillingDate.After(now) {
			return domain.ErrSubscriptionNotDue
		}
		existing, err := s.repo.FindBySubscriptionPeriod(ctx, tx, sub.ID, sub.NextBillingDate)
		if err != nil {
			return err
		}
		if existing != nil {
			return domain.ErrPeriodAlreadyBilled
		}

		period, err := s.subscriptionSvc.AdvanceTx(ctx, tx, sub)
		if err != nil {
			return err
		}

		subscriptionID := sub.ID
		invoice, err = s.newInvoice(domain.TypeSubscription, sub.AccountID, &subscriptionID, period.Start, period.End, false, 0, s.clock.Now().UTC())
		if err != nil {
			return err
		}
		item := domain.InvoiceItem{
			ID:             s.genID.Generate(),
			InvoiceID:      invoice.ID,
			Position:       1,
			SubscriptionID: &subscriptionID,
			Description: fmt.Sprintf("%s (%s to %s)", sub.PlanName,
				period.Start.Format(time.DateOnly), period.End.AddDate(0, 0, -1).Format(time.DateOnly)),
			Quantity:  1,
			UnitPrice: money.Round(sub.PlanAmount),
			Amount:    money.Round(sub.PlanAmount),
			CreatedAt: invoice.CreatedAt,
		}
		invoice.Items = []domain.InvoiceItem{item}
		invoice.Subtotal = item.Amount
		invoice.Recompute()
		if err := s.settleIfZero(invoice, invoice.CreatedAt); err != nil {
			return err
		}

		if err := s.repo.Insert(ctx, tx, invoice); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return domain.ErrPeriodAlreadyBilled
			}
			return err
		}
		return s.repo.InsertItems(ctx, tx, invoice.Items)
	})
	if err != nil {
		return nil, err
	}

	s.afterGenerate(ctx, req.Actor, invoice)
	return invoice, nil
}

// GenerateDueSubscriptions converts ended trials and bills every active subscription whose
// billing date has arrived. A subscription that missed several periods is billed once per period.
func (s *Service) GenerateDueSubscriptions(ctx context.Context, now time.Time) (domain.SweepResult, error) {
	now = now.UTC()
	var (
		result domain.SweepResult
		errs   []error
	)

	if _, err := s.subscriptionSvc.ActivateEndedTrials(ctx, now, subscriptionBatchSize); err != nil {
		errs = append(errs, err)
	}

	actor := auditdomain.SchedulerActor("subscription_invoices")
	failed := make(map[snowflake.ID]struct{})
	for round := 0; round < maxCatchUpRounds; round++ {
		ids, err := s.subscriptionSvc.ListDue(ctx, now, subscriptionBatchSize)
		if err != nil {
			errs = append(errs, err)
			break
		}

		progressed := false
		for _, id := range ids {
			if _, skip := failed[id]; skip {
				continue
			}
			_, err := s.GenerateSubscription(ctx, domain.GenerateSubscriptionRequest{SubscriptionID: id, Now: now, Actor: actor})
			switch {
			case err == nil:
				result.Processed++
				progressed = true
			case errors.Is(err, domain.ErrPeriodAlreadyBilled),
				errors.Is(err, domain.ErrSubscriptionNotDue),
				errors.Is(err, subscriptiondomain.ErrSubscriptionNotActive):
				result.Skipped++
				failed[id] = struct{}{}
			default:
				s.log.Warn("subscription invoice failed", zap.String("subscription_id", id.String()), zap.Error(err))
				errs = append(errs, err)
				failed[id] = struct{}{}
			}
		}
		if !progressed {
			break
		}
	}
	return result, errors.Join(errs...)
}

func (s *Service) Issue(ctx context.Context, id snowflake.ID, actor auditdomain.Actor) (*domain.Invoice, error) {
	var invoice *domain.Invoice
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		invoice, err = s.lock(ctx, tx, id)
		if err != nil {
			return err
		}
		if err := s.move(invoice, domain.StatusPending); err != nil {
			return err
		}
		now := s.clock.Now().UTC()
		invoice.IssuedAt = &now
		invoice.DueDate = s.dueDate(now, 0)
		invoice.UpdatedAt = now
		if err := s.settleIfZero(invoice, now); err != nil {
			return err
		}
		return s.repo.Update(ctx, tx, invoice)
	})
	if err != nil {
		return nil, err
	}
	s.audit(ctx, actor, "invoice.issued", invoice, map[string]any{
		"due_date": invoice.DueDate.Format(time.DateOnly),
	})
	return invoice, nil
}

func (s *Service) ApplyDiscount(ctx context.Context, req domain.ApplyDiscountRequest) (*domain.Invoice, error) {
	discount := money.Round(req.Discount)
	if discount.IsNegative() {
		return nil, domain.ErrInvalidDiscount
	}

	var invoice *domain.Invoice
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		invoice, err = s.lock(ctx, tx, req.InvoiceID)
		if err != nil {
			return err
		}
		if invoice.Status != domain.StatusDraft && invoice.Status != domain.StatusPending {
			return &transition.Error{Entity: "invoice", From: string(invoice.Status), To: "discounted"}
		}
		if discount.GreaterThan(invoice.Subtotal) {
			return domain.ErrInvalidDiscount
		}
		invoice.DiscountAmount = discount
		invoice.Recompute()
		if invoice.TotalAmount.LessThan(invoice.PaidAmount) {
			return domain.ErrInvalidDiscount
		}
		now := s.clock.Now().UTC()
		invoice.UpdatedAt = now
		if err := s.settleIfZero(invoice, now); err != nil {
			return err
		}
		return s.repo.Update(ctx, tx, invoice)
	})
	if err != nil {
		return nil, err
	}
	s.audit(ctx, req.Actor, "invoice.discount_applied", invoice, map[string]any{
		"discount_amount": money.Format(invoice.DiscountAmount),
		"total_amount":    money.Format(invoice.TotalAmount),
	})
	return invoice, nil
}

func (s *Service) RegisterPayment(ctx context.Context, req domain.RegisterPaymentRequest) (*domain.Invoice, error) {
	var (
		invoice *domain.Invoice
		applied bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		invoice, applied, err = s.registerPayment(ctx, tx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	if applied {
		s.audit(ctx, req.Actor, "invoice.payment_registered", invoice, map[string]any{
			"amount":      money.Format(req.Amount),
			"method":      string(req.Method),
			"reference":   strings.TrimSpace(req.Reference),
			"paid_amount": money.Format(invoice.PaidAmount),
			"status":      string(invoice.Status),
		})
	}
	return invoice, nil
}

func (s *Service) RegisterPaymentTx(ctx context.Context, tx *gorm.DB, req domain.RegisterPaymentRequest) (*domain.Invoice, error) {
	invoice, _, err := s.registerPayment(ctx, tx, req)
	return invoice, err
}

// registerPayment reports false when the reference was already registered.
func (s *Service) registerPayment(ctx context.Context, tx *gorm.DB, req domain.RegisterPaymentRequest) (*domain.Invoice, bool, error) {
	amount, err := money.RequirePositive(req.Amount)
	if err != nil {
		return nil, false, domain.ErrInvalidAmount
	}
	if !req.Method.Valid() {
		return nil, false, domain.ErrInvalidMethod
	}
	reference := strings.TrimSpace(req.Reference)
	if reference == "" {
		return nil, false, domain.ErrInvalidReference
	}

	invoice, err := s.lock(ctx, tx, req.InvoiceID)
	if err != nil {
		return nil, false, err
	}
	existing, err := s.repo.FindPaymentByReference(ctx, tx, invoice.ID, reference)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		if !existing.Amount.Equal(amount) {
			return nil, false, domain.ErrReferenceConflict
		}
		return invoice, false, nil
	}
	if !invoice.Status.Payable() {
		return nil, false, &transition.Error{Entity: "invoice", From: string(invoice.Status), To: string(domain.StatusPaid)}
	}

	now := s.clock.Now().UTC()
	paidAt := req.PaidAt.UTC()
	if req.PaidAt.IsZero() {
		paidAt = now
	}
	actor := req.Actor.Normalize()
	payment := &domain.InvoicePayment{
		ID:              s.genID.Generate(),
		InvoiceID:       invoice.ID,
		Amount:          amount,
		Method:          string(req.Method),
		Reference:       reference,
		PaymentIntentID: req.PaymentIntentID,
		ActorID:         actor.IDPtr(),
		PaidAt:          paidAt,
		CreatedAt:       now,
	}
	if err := s.repo.InsertPayment(ctx, tx, payment); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return invoice, false, nil
		}
		return nil, false, err
	}

	if err := s.applyPaymentLedger(ctx, tx, invoice, req.Method, amount, reference, actor); err != nil {
		return nil, false, err
	}

	invoice.PaidAmount = money.Round(invoice.PaidAmount.Add(amount))
	if invoice.PaidAmount.GreaterThan(invoice.TotalAmount) {
		s.log.Warn("invoice overpaid",
			zap.String("invoice_id", invoice.ID.String()),
			zap.String("paid_amount", money.Format(invoice.PaidAmount)),
			zap.String("total_amount", money.Format(invoice.TotalAmount)),
		)
	}
	target := invoice.SettledStatus()
	if target != invoice.Status {
		if err := s.move(invoice, target); err != nil {
			return nil, false, err
		}
	}
	if invoice.Status == domain.StatusPaid {
		invoice.PaidAt = &paidAt
	}
	invoice.UpdatedAt = now
	if err := s.repo.Update(ctx, tx, invoice); err != nil {
		return nil, false, err
	}
	return invoice, true, nil
}

// applyPaymentLedger moves the resident's credit line for a payment.
// Consumption invoices settled outside the wallet restore credit; wallet-paid subscriptions consume it.
func (s *Service) applyPaymentLedger(ctx context.Context, tx *gorm.DB, invoice *domain.Invoice, method domain.PaymentMethod, amount decimal.Decimal, reference string, actor auditdomain.Actor) error {
	correlation := "invoice:" + invoice.ID.String() + ":payment:" + reference
	switch {
	case invoice.Type == domain.TypeConsumption && method != domain.MethodWallet:
		_, err := s.accountSvc.CreditTx(ctx, tx, accountdomain.CreditRequest{
			AccountID:      invoice.AccountID,
			Amount:         amount,
			Reason:         "payment of invoice " + invoice.Number,
			CorrelationRef: correlation,
			Kind:           accountdomain.TransactionCredit,
			InvoiceID:      &invoice.ID,
			ExternalRef:    reference,
			Actor:          actor,
		})
		return err
	case invoice.Type == domain.TypeSubscription && method == domain.MethodWallet:
		_, err := s.accountSvc.DebitTx(ctx, tx, accountdomain.DebitRequest{
			AccountID:      invoice.AccountID,
			Amount:         amount,
			Reason:         "subscription invoice " + invoice.Number,
			CorrelationRef: correlation,
			Kind:           accountdomain.TransactionSubscriptionDebit,
			InvoiceID:      &invoice.ID,
			ExternalRef:    reference,
			Actor:          actor,
		})
		return err
	}
	return nil
}

// ReversePaymentTx undoes a registered payment after a gateway refund. The reversal is stored as a
// negative payment under its own reference and the ledger effect of the original payment is undone.
func (s *Service) ReversePaymentTx(ctx context.Context, tx *gorm.DB, req domain.ReversePaymentRequest) (*domain.Invoice, error) {
	amount, err := money.RequirePositive(req.Amount)
	if err != nil {
		return nil, domain.ErrInvalidAmount
	}
	if !req.Method.Valid() {
		return nil, domain.ErrInvalidMethod
	}
	reference := strings.TrimSpace(req.Reference)
	if reference == "" {
		return nil, domain.ErrInvalidReference
	}

	invoice, err := s.lock(ctx, tx, req.InvoiceID)
	if err != nil {
		return nil, err
	}
	existing, err := s.repo.FindPaymentByReference(ctx, tx, invoice.ID, reference)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return invoice, nil
	}
	if amount.GreaterThan(invoice.PaidAmount) {
		return nil, domain.ErrInvalidAmount
	}

	now := s.clock.Now().UTC()
	actor := req.Actor.Normalize()
	if err := s.repo.InsertPayment(ctx, tx, &domain.InvoicePayment{
		ID:              s.genID.Generate(),
		InvoiceID:       invoice.ID,
		Amount:          amount.Neg(),
		Method:          string(req.Method),
		Reference:       reference,
		PaymentIntentID: req.PaymentIntentID,
		ActorID:         actor.IDPtr(),
		PaidAt:          now,
		CreatedAt:       now,
	}); err != nil {
		return nil, err
	}

	correlation := "invoice:" + invoice.ID.String() + ":reversal:" + reference
	switch {
	case invoice.Type == domain.TypeConsumption && req.Method != domain.MethodWallet:
		_, err = s.accountSvc.AdjustTx(ctx, tx, accountdomain.AdjustRequest{
			AccountID:      invoice.AccountID,
			Amount:         amount,
			Reason:         "payment reversal on invoice " + invoice.Number,
			CorrelationRef: correlation,
			InvoiceID:      &invoice.ID,
			Actor:          actor,
		})
	case invoice.Type == domain.TypeSubscription && req.Method == domain.MethodWallet:
		_, err = s.accountSvc.CreditTx(ctx, tx, accountdomain.CreditRequest{
			AccountID:      invoice.AccountID,
			Amount:         amount,
			Reason:         "payment reversal on invoice " + invoice.Number,
			CorrelationRef: correlation,
			Kind:           accountdomain.TransactionSubscriptionCredit,
			InvoiceID:      &invoice.ID,
			Actor:          actor,
		})
	}
	if err != nil {
		return nil, err
	}

	invoice.PaidAmount = money.Round(invoice.PaidAmount.Sub(amount))
	target := invoice.SettledStatus()
	if target != invoice.Status && invoice.Status != domain.StatusProcessing {
		if err := s.move(invoice, target); err != nil {
			return nil, err
		}
	}
	if invoice.Status != domain.StatusPaid {
		invoice.PaidAt = nil
	}
	invoice.UpdatedAt = now
	if err := s.repo.Update(ctx, tx, invoice); err != nil {
		return nil, err
	}
	return invoice, nil
}

// MarkOverdue moves every past-due unpaid invoice to overdue. Late fee and interest are charged on
// the first transition only. Accounts reaching the configured overdue count are blocked.
func (s *Service) MarkOverdue(ctx context.Context, now time.Time) (domain.SweepResult, error) {
	now = now.UTC()
	var result domain.SweepResult

	policy := s.policy.Get()
	var errs []error
	seen := make(map[snowflake.ID]struct{})
	for {
		ids, err := s.repo.ListOverdueCandidates(ctx, s.db, now, overdueBatchSize)
		if err != nil {
			errs = append(errs, err)
			break
		}
		fresh := 0
		for _, id := range ids {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			fresh++
			s.markOverdueOne(ctx, id, now, policy, &result, &errs)
		}
		if len(ids) < overdueBatchSize || fresh == 0 {
			break
		}
	}

	s.obsMetrics.RecordInvoiceOverdue(ctx, result.Processed)
	return result, errors.Join(errs...)
}

func (s *Service) markOverdueOne(ctx context.Context, id snowflake.ID, now time.Time, policy config.BillingPolicy, result *domain.SweepResult, errs *[]error) {
	var (
		invoice *domain.Invoice
		changed bool
		blocked bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		invoice, changed, blocked, err = s.markOverdueTx(ctx, tx, id, now, policy)
		return err
	})
	if err != nil {
		s.log.Warn("overdue transition failed", zap.String("invoice_id", id.String()), zap.Error(err))
		*errs = append(*errs, err)
		return
	}
	if !changed {
		result.Skipped++
		return
	}
	result.Processed++
	if blocked {
		result.Blocked = append(result.Blocked, invoice.AccountID)
	}
	s.audit(ctx, auditdomain.SchedulerActor("overdue_sweep"), "invoice.overdue", invoice, map[string]any{
		"late_fee":     money.Format(invoice.LateFee),
		"interest":     money.Format(invoice.Interest),
		"total_amount": money.Format(invoice.TotalAmount),
	})
}

func (s *Service) markOverdueTx(ctx context.Context, tx *gorm.DB, id snowflake.ID, now time.Time, policy config.BillingPolicy) (*domain.Invoice, bool, bool, error) {
	invoice, err := s.lock(ctx, tx, id)
	if err != nil {
		return nil, false, false, err
	}
	switch invoice.Status {
	case domain.StatusPending, domain.StatusPartial, domain.StatusFailed:
	default:
		return invoice, false, false, nil
	}
	if !invoice.DueDate.Before(now) || invoice.Outstanding().IsZero() {
		return invoice, false, false, nil
	}

	firstTime := !invoice.PenaltyApplied
	if firstTime {
		outstanding := invoice.Outstanding()
		invoice.LateFee = money.Percent(outstanding, policy.LateFeeRate())
		invoice.Interest = money.Percent(outstanding, policy.InterestRate())
		invoice.PenaltyApplied = true
		invoice.Recompute()
	}
	if err := s.move(invoice, domain.StatusOverdue); err != nil {
		return nil, false, false, err
	}
	if invoice.OverdueAt == nil {
		invoice.OverdueAt = &now
	}
	invoice.UpdatedAt = now
	if err := s.repo.Update(ctx, tx, invoice); err != nil {
		return nil, false, false, err
	}

	dedupe := "invoice.overdue:" + invoice.ID.String()
	if !firstTime {
		dedupe += ":" + now.Format(time.RFC3339Nano)
	}
	if _, err := s.outbox.RecordTx(ctx, tx, events.Event{
		Type:          events.TypeInvoiceOverdue,
		AggregateType: "invoice",
		AggregateID:   invoice.ID.String(),
		DedupeKey:     dedupe,
		OccurredAt:    now,
		Payload: map[string]any{
			"invoice_id":   invoice.ID.String(),
			"account_id":   invoice.AccountID.String(),
			"number":       invoice.Number,
			"total_amount": money.Format(invoice.TotalAmount),
			"outstanding":  money.Format(invoice.Outstanding()),
			"late_fee":     money.Format(invoice.LateFee),
			"interest":     money.Format(invoice.Interest),
			"due_date":     invoice.DueDate.Format(time.DateOnly),
		},
	}); err != nil {
		return nil, false, false, err
	}

	blocked := false
	if policy.MaxOverdueInvoices > 0 {
		count, err := s.repo.CountOverdue(ctx, tx, invoice.AccountID)
		if err != nil {
			return nil, false, false, err
		}
		if count >= int64(policy.MaxOverdueInvoices) {
			blocked, err = s.accountSvc.BlockTx(ctx, tx, invoice.AccountID,
				fmt.Sprintf("overdue_invoices:%d", count), auditdomain.SchedulerActor("overdue_sweep"))
			if err != nil {
				return nil, false, false, err
			}
		}
	}
	return invoice, true, blocked, nil
}

func (s *Service) Cancel(ctx context.Context, req domain.CancelRequest) (*domain.Invoice, error) {
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, domain.ErrInvalidReason
	}

	var (
		invoice  *domain.Invoice
		released int64
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		invoice, err = s.lock(ctx, tx, req.InvoiceID)
		if err != nil {
			return err
		}
		if invoice.PaidAmount.IsPositive() {
			return domain.ErrAlreadySettled
		}
		if err := s.move(invoice, domain.StatusCancelled); err != nil {
			return err
		}
		now := s.clock.Now().UTC()
		invoice.CancelledAt = &now
		invoice.CancelReason = &reason
		invoice.UpdatedAt = now
		if err := s.repo.Update(ctx, tx, invoice); err != nil {
			return err
		}
		if invoice.Type == domain.TypeConsumption {
			released, err = s.orderSvc.ReleaseInvoiceTx(ctx, tx, invoice.ID)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.audit(ctx, req.Actor, "invoice.cancelled", invoice, map[string]any{
		"reason":          reason,
		"released_orders": released,
	})
	return invoice, nil
}

func (s *Service) MarkProcessingTx(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.Invoice, error) {
	invoice, err := s.lock(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if invoice.Status == domain.StatusProcessing {
		return invoice, nil
	}
	if err := s.move(invoice, domain.StatusProcessing); err != nil {
		return nil, err
	}
	invoice.UpdatedAt = s.clock.Now().UTC()
	if err := s.repo.Update(ctx, tx, invoice); err != nil {
		return nil, err
	}
	return invoice, nil
}

// RestoreAfterAttemptTx returns a processing invoice to the status its balance implies.
func (s *Service) RestoreAfterAttemptTx(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.Invoice, error) {
	invoice, err := s.lock(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if invoice.Status != domain.StatusProcessing {
		return invoice, nil
	}
	if err := s.move(invoice, invoice.SettledStatus()); err != nil {
		return nil, err
	}
	invoice.UpdatedAt = s.clock.Now().UTC()
	if err := s.repo.Update(ctx, tx, invoice); err != nil {
		return nil, err
	}
	return invoice, nil
}

func (s *Service) MarkFailedTx(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.Invoice, error) {
	invoice, err := s.lock(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if invoice.Status != domain.StatusProcessing {
		return invoice, nil
	}
	if err := s.move(invoice, domain.StatusFailed); err != nil {
		return nil, err
	}
	invoice.UpdatedAt = s.clock.Now().UTC()
	if err := s.repo.Update(ctx, tx, invoice); err != nil {
		return nil, err
	}
	return invoice, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.Invoice, error) {
	return s.GetTx(ctx, s.db, id)
}

func (s *Service) GetTx(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.Invoice, error) {
	if id == 0 {
		return nil, domain.ErrInvoiceNotFound
	}
	invoice, err := s.repo.FindByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, domain.ErrInvoiceNotFound
	}
	items, err := s.repo.ListItems(ctx, tx, invoice.ID)
	if err != nil {
		return nil, err
	}
	invoice.Items = items
	return invoice, nil
}

func (s *Service) List(ctx context.Context, req domain.ListInvoiceRequest) (domain.ListInvoiceResponse, error) {
	filter := domain.ListFilter{
		AccountID: req.AccountID,
		Status:    req.Status,
		Type:      req.Type,
		Limit:     req.Limit(),
	}
	if token := strings.TrimSpace(req.PageToken); token != "" {
		cursor, err := pagination.DecodeCursor(token)
		if err != nil {
			return domain.ListInvoiceResponse{}, domain.ErrInvalidPageToken
		}
		id, err := snowflake.ParseString(cursor.ID)
		if err != nil {
			return domain.ListInvoiceResponse{}, domain.ErrInvalidPageToken
		}
		filter.AfterID = &id
	}

	items, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return domain.ListInvoiceResponse{}, err
	}
	items, pageInfo := pagination.BuildCursorPageInfo(items, filter.Limit, func(i *domain.Invoice) pagination.Cursor {
		return pagination.NewCursor(i.ID.String(), i.CreatedAt)
	})

	invoices := make([]domain.Invoice, 0, len(items))
	for _, item := range items {
		invoices = append(invoices, *item)
	}
	return domain.ListInvoiceResponse{PageInfo: pageInfo, Invoices: invoices}, nil
}

func (s *Service) ListPayments(ctx context.Context, id snowflake.ID) ([]domain.InvoicePayment, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.ListPayments(ctx, s.db, id)
}

func (s *Service) newInvoice(kind domain.InvoiceType, accountID snowflake.ID, subscriptionID *snowflake.ID, start, end time.Time, draft bool, dueDays int, now time.Time) (*domain.Invoice, error) {
	id := s.genID.Generate()
	number, err := invoiceformat.FormatInvoiceNumber(invoiceformat.DefaultInvoiceNumberTemplate, start, id)
	if err != nil {
		return nil, err
	}
	invoice := &domain.Invoice{
		ID:             id,
		Number:         number,
		Type:           kind,
		AccountID:      accountID,
		SubscriptionID: subscriptionID,
		PeriodStart:    start,
		PeriodEnd:      end,
		Status:         domain.StatusPending,
		Subtotal:       decimal.Zero,
		DiscountAmount: decimal.Zero,
		LateFee:        decimal.Zero,
		Interest:       decimal.Zero,
		TotalAmount:    decimal.Zero,
		PaidAmount:     decimal.Zero,
		DueDate:        s.dueDate(now, dueDays),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if draft {
		invoice.Status = domain.StatusDraft
	} else {
		invoice.IssuedAt = &now
	}
	return invoice, nil
}

// settleIfZero marks an issued invoice with nothing left to pay as paid.
func (s *Service) settleIfZero(invoice *domain.Invoice, now time.Time) error {
	if invoice.Status != domain.StatusPending || invoice.TotalAmount.IsPositive() || invoice.PaidAmount.IsPositive() {
		return nil
	}
	if err := s.move(invoice, domain.StatusPaid); err != nil {
		return err
	}
	invoice.PaidAt = &now
	return nil
}

func (s *Service) dueDate(from time.Time, override int) time.Time {
	days := override
	if days <= 0 {
		days = s.policy.Get().InvoiceDueDays
	}
	return from.UTC().AddDate(0, 0, days)
}

func (s *Service) move(invoice *domain.Invoice, to domain.InvoiceStatus) error {
	if err := domain.Transitions.Check("invoice", invoice.Status, to); err != nil {
		return err
	}
	invoice.Status = to
	return nil
}

func (s *Service) lock(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.Invoice, error) {
	if id == 0 {
		return nil, domain.ErrInvoiceNotFound
	}
	invoice, err := s.repo.FindForUpdate(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, domain.ErrInvoiceNotFound
	}
	return invoice, nil
}

func (s *Service) afterGenerate(ctx context.Context, actor auditdomain.Actor, invoice *domain.Invoice) {
	s.obsMetrics.RecordInvoiceGenerated(ctx, string(invoice.Type))
	s.metrics.ObserveInvoiceAmount(string(invoice.Type), invoice.TotalAmount.InexactFloat64())
	s.log.Info("invoice generated",
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("number", invoice.Number),
		zap.String("type", string(invoice.Type)),
		zap.String("total_amount", money.Format(invoice.TotalAmount)),
	)
	s.audit(ctx, actor, "invoice.generated", invoice, map[string]any{
		"number":       invoice.Number,
		"type":         string(invoice.Type),
		"items":        len(invoice.Items),
		"total_amount": money.Format(invoice.TotalAmount),
	})
}

func (s *Service) audit(ctx context.Context, actor auditdomain.Actor, action string, invoice *domain.Invoice, metadata map[string]any) {
	if s.auditSvc == nil || invoice == nil {
		return
	}
	targetID := invoice.ID.String()
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata["account_id"] = invoice.AccountID.String()
	if err := s.auditSvc.AuditLog(ctx, actor, action, "invoice", &targetID, metadata); err != nil {
		s.log.Warn("audit log failed", zap.String("action", action), zap.Error(err))
	}
}

func sumItems(items []domain.InvoiceItem) decimal.Decimal {
	amounts := make([]decimal.Decimal, 0, len(items))
	for _, item := range items {
		amounts = append(amounts, item.Amount)
	}
	return money.Sum(amounts...)
}
