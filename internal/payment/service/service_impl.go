package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/carehub/internal/audit/domain"
	cashdomain "github.com/smallbiznis/carehub/internal/cashsession/domain"
	"github.com/smallbiznis/carehub/internal/clock"
	"github.com/smallbiznis/carehub/internal/config"
	"github.com/smallbiznis/carehub/internal/events"
	invoicedomain "github.com/smallbiznis/carehub/internal/invoice/domain"
	obsmetrics "github.com/smallbiznis/carehub/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/carehub/internal/order/domain"
	"github.com/smallbiznis/carehub/internal/payment/domain"
	"github.com/smallbiznis/carehub/pkg/money"
	"github.com/smallbiznis/carehub/pkg/transition"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const sweepBatchSize = 100

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       domain.Repository
	Gateways   domain.GatewayResolver
	OrderSvc   orderdomain.Service
	InvoiceSvc invoicedomain.Service
	CashSvc    cashdomain.Service
	Policy     *config.BillingPolicyHolder `optional:"true"`
	AuditSvc   auditdomain.Service         `optional:"true"`
	Outbox     *events.Outbox              `optional:"true"`
	ObsMetrics *obsmetrics.Metrics         `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	gateways   domain.GatewayResolver
	orderSvc   orderdomain.Service
	invoiceSvc invoicedomain.Service
	cashSvc    cashdomain.Service
	policy     *config.BillingPolicyHolder
	auditSvc   auditdomain.Service
	outbox     *events.Outbox
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	policy := p.Policy
	if policy == nil {
		policy = config.NewStaticBillingPolicy(config.DefaultBillingPolicy())
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("payment.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		gateways:   p.Gateways,
		orderSvc:   p.OrderSvc,
		invoiceSvc: p.InvoiceSvc,
		cashSvc:    p.CashSvc,
		policy:     policy,
		auditSvc:   p.AuditSvc,
		outbox:     p.Outbox,
		obsMetrics: p.ObsMetrics,
	}
}

// outcome says what applyTransition did with a requested status.
type outcome string

const (
	outcomeApplied   outcome = "applied"
	outcomeUnchanged outcome = "replay"
	outcomeStale     outcome = "stale"
	outcomeConflict  outcome = "conflict"
)

// update is one requested move plus the gateway data that came with it.
type update struct {
	status        domain.Status
	detail        string
	amount        *decimal.Decimal
	correlationID string
	qrCode        string
	checkoutURL   string
	dispatched    bool
	// requireFrom restricts operator moves to these current statuses.
	requireFrom    []domain.Status
	notificationID *snowflake.ID
	actor          auditdomain.Actor
}

func (s *Service) CreateIntent(ctx context.Context, req domain.CreateIntentRequest) (*domain.PaymentIntent, error) {
	integration := req.IntegrationType
	if !integration.Valid() {
		return nil, domain.ErrInvalidIntegration
	}
	if !req.PaymentMethod.Valid() {
		return nil, domain.ErrInvalidMethod
	}
	if (integration == domain.IntegrationCheckout) != (req.PaymentMethod == domain.MethodPix) {
		return nil, domain.ErrInvalidMethod
	}
	terminal := strings.TrimSpace(req.TerminalID)
	if integration.Terminal() && terminal == "" {
		return nil, domain.ErrTerminalRequired
	}
	if (req.OrderID == nil) == (req.InvoiceID == nil) {
		return nil, domain.ErrInvalidTarget
	}
	amount := decimal.Zero
	if !req.Amount.IsZero() {
		positive, err := money.RequirePositive(req.Amount)
		if err != nil {
			return nil, domain.ErrInvalidAmount
		}
		amount = positive
	}

	provider := strings.ToLower(strings.TrimSpace(req.Provider))
	if provider == "" {
		provider = integration.DefaultProvider()
	}
	gw, err := s.gateways.Gateway(provider)
	if err != nil {
		return nil, err
	}
	if gw.IntegrationType() != integration {
		return nil, domain.ErrProviderMismatch
	}

	now := s.clock.Now().UTC()
	actor := req.Actor.Normalize()
	intent := &domain.PaymentIntent{
		ID:                s.genID.Generate(),
		IntegrationType:   integration,
		Provider:          provider,
		PaymentMethod:     req.PaymentMethod,
		Amount:            amount,
		Status:            domain.StatusCreated,
		ExternalReference: ulid.Make().String(),
		OrderID:           req.OrderID,
		InvoiceID:         req.InvoiceID,
		CashSessionID:     req.CashSessionID,
		Metadata: datatypes.JSONMap{
			"actor_type": string(actor.Type),
			"actor_id":   actor.ID,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if terminal != "" {
		intent.TerminalID = &terminal
	}
	if description := strings.TrimSpace(req.Description); description != "" {
		intent.Metadata["description"] = description
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.bindTarget(ctx, tx, intent); err != nil {
			return err
		}
		return s.repo.Insert(ctx, tx, intent)
	})
	if err != nil {
		return nil, err
	}

	s.obsMetrics.RecordIntentTransition(ctx, provider, string(domain.StatusCreated))
	s.audit(ctx, actor, "payment_intent.created", intent, map[string]any{
		"amount":           money.Format(intent.Amount),
		"integration_type": string(intent.IntegrationType),
	})
	s.log.Info("payment intent created",
		zap.String("intent_id", intent.ID.String()),
		zap.String("provider", provider),
		zap.String("amount", money.Format(intent.Amount)),
	)

	return s.dispatch(ctx, gw, intent, strings.TrimSpace(req.Description), actor)
}

// bindTarget resolves the amount and account from the order or invoice and claims the invoice for this attempt.
func (s *Service) bindTarget(ctx context.Context, tx *gorm.DB, intent *domain.PaymentIntent) error {
	if intent.OrderID != nil {
		order, err := s.orderSvc.GetTx(ctx, tx, *intent.OrderID)
		if err != nil {
			return err
		}
		if order.Status != orderdomain.StatusPending ||
			order.PaymentStatus != orderdomain.PaymentUnpaid ||
			order.PaymentMethod.SettlesImmediately() {
			return domain.ErrTargetNotPayable
		}
		if intent.Amount.IsZero() {
			intent.Amount = order.Total
		} else if !intent.Amount.Equal(order.Total) {
			return domain.ErrInvalidAmount
		}
		intent.AccountID = order.AccountID
		if intent.CashSessionID == nil {
			intent.CashSessionID = order.CashSessionID
		}
		return nil
	}

	invoice, err := s.invoiceSvc.GetTx(ctx, tx, *intent.InvoiceID)
	if err != nil {
		return err
	}
	outstanding := invoice.Outstanding()
	if !invoice.Status.Payable() || !outstanding.IsPositive() {
		return domain.ErrTargetNotPayable
	}
	if intent.Amount.IsZero() {
		intent.Amount = outstanding
	} else if intent.Amount.GreaterThan(outstanding) {
		return domain.ErrInvalidAmount
	}
	accountID := invoice.AccountID
	intent.AccountID = &accountID
	_, err = s.invoiceSvc.MarkProcessingTx(ctx, tx, invoice.ID)
	return err
}

// dispatch sends the intent to its gateway. A gateway failure is recorded on the intent as error.
func (s *Service) dispatch(ctx context.Context, gw domain.Gateway, intent *domain.PaymentIntent, description string, actor auditdomain.Actor) (*domain.PaymentIntent, error) {
	res, err := gw.CreateIntent(ctx, domain.IntentRequest{
		ExternalReference: intent.ExternalReference,
		Amount:            intent.Amount,
		Method:            intent.PaymentMethod,
		TerminalID:        intent.Terminal(),
		Description:       description,
	})
	if err != nil {
		return s.failDispatch(ctx, intent, err, actor)
	}

	status := res.Status
	if status == "" {
		status = domain.StatusPending
		if intent.IntegrationType != domain.IntegrationCheckout {
			status = domain.StatusProcessing
		}
	}
	updated, _, err := s.applyTransition(ctx, intent.ID, update{
		status:        status,
		detail:        res.StatusDetail,
		correlationID: res.CorrelationID,
		qrCode:        res.QRCode,
		checkoutURL:   res.CheckoutURL,
		dispatched:    intent.IntegrationType.Terminal(),
		actor:         actor,
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Service) failDispatch(ctx context.Context, intent *domain.PaymentIntent, cause error, actor auditdomain.Actor) (*domain.PaymentIntent, error) {
	detail := domain.DetailGatewayError
	if errors.Is(cause, domain.ErrGatewayRejected) {
		detail = domain.DetailGatewayRejected
	}
	s.log.Warn("gateway dispatch failed",
		zap.String("intent_id", intent.ID.String()),
		zap.String("provider", intent.Provider),
		zap.Error(cause),
	)
	updated, _, err := s.applyTransition(ctx, intent.ID, update{
		status: domain.StatusError,
		detail: detail,
		actor:  actor,
	})
	if err != nil {
		return nil, errors.Join(cause, err)
	}
	return updated, nil
}

func (s *Service) CheckStatus(ctx context.Context, id snowflake.ID) (*domain.PaymentIntent, error) {
	return s.checkStatus(ctx, id, s.clock.Now().UTC())
}

// checkStatus polls the gateway, then handles a terminal that has not answered within the policy timeout.
func (s *Service) checkStatus(ctx context.Context, id snowflake.ID, now time.Time) (*domain.PaymentIntent, error) {
	intent, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if intent.Status.Final() || intent.Status == domain.StatusCreated {
		return intent, nil
	}
	gw, err := s.gateways.Gateway(intent.Provider)
	if err != nil {
		return nil, err
	}

	var pollErr error
	if correlation := intent.Correlation(); correlation != "" {
		res, err := gw.CheckStatus(ctx, correlation)
		switch {
		case errors.Is(err, domain.ErrUnsupported):
		case err != nil:
			// an unreachable status endpoint must not keep a stalled terminal out of the timeout path
			s.log.Warn("gateway status check failed",
				zap.String("intent_id", intent.ID.String()),
				zap.String("provider", intent.Provider),
				zap.Error(err),
			)
			pollErr = err
		default:
			updated, out, err := s.applyTransition(ctx, intent.ID, update{
				status: res.Status,
				detail: res.StatusDetail,
				amount: res.Amount,
				actor:  auditdomain.GatewayActor(intent.Provider),
			})
			if err != nil && out != outcomeConflict {
				return nil, err
			}
			intent = updated
		}
	}

	if !s.timedOut(intent, now) {
		if pollErr != nil {
			return nil, pollErr
		}
		return intent, nil
	}
	return s.handleTimeout(ctx, gw, intent)
}

func (s *Service) timedOut(intent *domain.PaymentIntent, now time.Time) bool {
	if intent == nil || !intent.IntegrationType.Terminal() || intent.Status != domain.StatusProcessing {
		return false
	}
	if intent.SentToTerminalAt == nil {
		return false
	}
	return !now.Before(intent.SentToTerminalAt.Add(s.policy.Get().TerminalTimeout))
}

// handleTimeout re-dispatches to the terminal until terminal_max_attempts, then gives up with error.
func (s *Service) handleTimeout(ctx context.Context, gw domain.Gateway, intent *domain.PaymentIntent) (*domain.PaymentIntent, error) {
	actor := auditdomain.SchedulerActor("terminal_timeouts")
	if correlation := intent.Correlation(); correlation != "" {
		if err := gw.Cancel(ctx, correlation); err != nil {
			s.log.Warn("terminal cancel failed", zap.String("intent_id", intent.ID.String()), zap.Error(err))
		}
	}

	if intent.Attempts >= s.policy.Get().TerminalMaxAttempts {
		s.log.Warn("terminal attempts exhausted",
			zap.String("intent_id", intent.ID.String()),
			zap.Int("attempts", intent.Attempts),
		)
		updated, _, err := s.applyTransition(ctx, intent.ID, update{
			status: domain.StatusError,
			detail: domain.DetailTerminalTimeout,
			actor:  actor,
		})
		return updated, err
	}

	s.log.Info("re-dispatching to terminal",
		zap.String("intent_id", intent.ID.String()),
		zap.Int("attempt", intent.Attempts+1),
	)
	description, _ := intent.Metadata["description"].(string)
	return s.dispatch(ctx, gw, intent, description, actor)
}

func (s *Service) SweepTerminalTimeouts(ctx context.Context, now time.Time) (domain.SweepResult, error) {
	var result domain.SweepResult
	now = now.UTC()
	cutoff := now.Add(-s.policy.Get().TerminalTimeout)
	items, err := s.repo.ListTerminalTimedOut(ctx, s.db, cutoff, sweepBatchSize)
	if err != nil {
		return result, err
	}

	var errs []error
	for _, item := range items {
		result.Processed++
		updated, err := s.checkStatus(ctx, item.ID, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("intent %s: %w", item.ID, err))
			continue
		}
		switch {
		case updated.Status == domain.StatusError:
			result.Failed++
		case updated.Attempts > item.Attempts:
			result.Redispatched++
		}
	}
	if len(items) > 0 {
		s.log.Info("terminal timeout sweep finished",
			zap.Int("processed", result.Processed),
			zap.Int("redispatched", result.Redispatched),
			zap.Int("failed", result.Failed),
		)
	}
	return result, errors.Join(errs...)
}

// ApplyNotification verifies, dedupes and applies one gateway callback.
// A replayed notification returns the intent as it is, without side effects.
func (s *Service) ApplyNotification(ctx context.Context, provider string, payload []byte, headers http.Header) (*domain.PaymentIntent, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	gw, err := s.gateways.Gateway(provider)
	if err != nil {
		return nil, err
	}
	if err := gw.VerifyNotification(ctx, payload, headers); err != nil {
		s.obsMetrics.RecordPaymentNotification(ctx, provider, "invalid_signature")
		return nil, err
	}
	notification, err := gw.ParseNotification(ctx, payload)
	if err != nil {
		if errors.Is(err, domain.ErrNotificationIgnored) {
			s.obsMetrics.RecordPaymentNotification(ctx, provider, "ignored")
		}
		return nil, err
	}

	now := s.clock.Now().UTC()
	record := &domain.PaymentNotification{
		ID:             s.genID.Generate(),
		Provider:       provider,
		NotificationID: notification.NotificationID,
		CorrelationID:  notification.CorrelationID,
		Status:         string(notification.Status),
		Payload:        datatypes.JSON(payload),
		ReceivedAt:     now,
	}
	inserted, err := s.repo.InsertNotification(ctx, s.db, record)
	if err != nil {
		return nil, err
	}
	if !inserted {
		stored, err := s.repo.FindNotification(ctx, s.db, provider, notification.NotificationID)
		if err != nil {
			return nil, err
		}
		if stored == nil {
			return nil, domain.ErrInvalidNotification
		}
		if stored.ProcessedAt != nil {
			s.obsMetrics.RecordPaymentNotification(ctx, provider, string(outcomeUnchanged))
			return s.findByCorrelation(ctx, notification.CorrelationID)
		}
		record = stored
	}

	intent, err := s.repo.FindByCorrelation(ctx, s.db, notification.CorrelationID)
	if err != nil {
		return nil, err
	}
	if intent == nil {
		s.obsMetrics.RecordPaymentNotification(ctx, provider, "unknown_intent")
		s.log.Warn("notification for unknown intent",
			zap.String("provider", provider),
			zap.String("correlation_id", notification.CorrelationID),
		)
		return nil, domain.ErrIntentNotFound
	}

	notificationID := record.ID
	updated, out, err := s.applyTransition(ctx, intent.ID, update{
		status:         notification.Status,
		detail:         notification.StatusDetail,
		amount:         notification.Amount,
		notificationID: &notificationID,
		actor:          auditdomain.GatewayActor(provider),
	})
	if out != "" {
		s.obsMetrics.RecordPaymentNotification(ctx, provider, string(out))
	}
	if out == outcomeConflict {
		s.log.Warn("conflicting notification ignored",
			zap.String("intent_id", intent.ID.String()),
			zap.String("current", string(updated.Status)),
			zap.String("reported", string(notification.Status)),
		)
		return updated, nil
	}
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Service) Cancel(ctx context.Context, id snowflake.ID, actor auditdomain.Actor) (*domain.PaymentIntent, error) {
	intent, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if intent.Status == domain.StatusCancelled {
		return intent, nil
	}
	if intent.Status != domain.StatusCreated && intent.Status != domain.StatusPending {
		return nil, &transition.Error{Entity: "payment_intent", From: string(intent.Status), To: string(domain.StatusCancelled)}
	}
	if correlation := intent.Correlation(); correlation != "" {
		gw, err := s.gateways.Gateway(intent.Provider)
		if err != nil {
			return nil, err
		}
		if err := gw.Cancel(ctx, correlation); err != nil {
			return nil, err
		}
	}

	actor = actor.Normalize()
	updated, _, err := s.applyTransition(ctx, id, update{
		status:      domain.StatusCancelled,
		detail:      domain.DetailOperatorCancel,
		requireFrom: []domain.Status{domain.StatusCreated, domain.StatusPending},
		actor:       actor,
	})
	if err != nil {
		return nil, err
	}
	s.audit(ctx, actor, "payment_intent.cancelled", updated, nil)
	return updated, nil
}

func (s *Service) Refund(ctx context.Context, req domain.RefundRequest) (*domain.PaymentIntent, error) {
	intent, err := s.Get(ctx, req.IntentID)
	if err != nil {
		return nil, err
	}
	if intent.Status == domain.StatusRefunded {
		return intent, nil
	}
	if intent.Status != domain.StatusApproved {
		return nil, &transition.Error{Entity: "payment_intent", From: string(intent.Status), To: string(domain.StatusRefunded)}
	}
	gw, err := s.gateways.Gateway(intent.Provider)
	if err != nil {
		return nil, err
	}
	if err := gw.Refund(ctx, intent.Correlation(), intent.Amount); err != nil {
		return nil, err
	}

	actor := req.Actor.Normalize()
	updated, _, err := s.applyTransition(ctx, intent.ID, update{
		status:      domain.StatusRefunded,
		detail:      strings.TrimSpace(req.Reason),
		requireFrom: []domain.Status{domain.StatusApproved},
		actor:       actor,
	})
	if err != nil {
		return nil, err
	}
	s.audit(ctx, actor, "payment_intent.refunded", updated, map[string]any{
		"amount": money.Format(updated.Amount),
		"reason": strings.TrimSpace(req.Reason),
	})
	return updated, nil
}

// ConfirmManual records the operator's result for a manual_pos intent.
func (s *Service) ConfirmManual(ctx context.Context, req domain.ConfirmManualRequest) (*domain.PaymentIntent, error) {
	intent, err := s.Get(ctx, req.IntentID)
	if err != nil {
		return nil, err
	}
	if intent.IntegrationType != domain.IntegrationManualPOS {
		return nil, domain.ErrNotManualIntent
	}

	target := domain.StatusRejected
	detail := domain.DetailOperatorReject
	if req.Approved {
		target = domain.StatusApproved
		detail = strings.TrimSpace(req.AuthorizationCode)
	}
	actor := req.Actor.Normalize()
	updated, _, err := s.applyTransition(ctx, intent.ID, update{
		status:      target,
		detail:      detail,
		requireFrom: []domain.Status{domain.StatusCreated, domain.StatusPending, domain.StatusProcessing},
		actor:       actor,
	})
	if err != nil {
		return nil, err
	}
	s.audit(ctx, actor, "payment_intent.confirmed", updated, map[string]any{
		"approved": req.Approved,
	})
	return updated, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.PaymentIntent, error) {
	if id == 0 {
		return nil, domain.ErrIntentNotFound
	}
	intent, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if intent == nil {
		return nil, domain.ErrIntentNotFound
	}
	return intent, nil
}

func (s *Service) findByCorrelation(ctx context.Context, correlationID string) (*domain.PaymentIntent, error) {
	intent, err := s.repo.FindByCorrelation(ctx, s.db, correlationID)
	if err != nil {
		return nil, err
	}
	if intent == nil {
		return nil, domain.ErrIntentNotFound
	}
	return intent, nil
}

// applyTransition is the only place an intent changes status. It runs under the intent row lock;
// entering approved applies the order-paid effect at most once, guarded by effect_applied_at.
func (s *Service) applyTransition(ctx context.Context, id snowflake.ID, u update) (*domain.PaymentIntent, outcome, error) {
	var (
		result   *domain.PaymentIntent
		out      outcome
		conflict error
		from     domain.Status
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		intent, err := s.lock(ctx, tx, id)
		if err != nil {
			return err
		}
		now := s.clock.Now().UTC()
		from = intent.Status
		changed := false

		if c := strings.TrimSpace(u.correlationID); c != "" && c != intent.Correlation() {
			intent.CorrelationID = &c
			changed = true
		}
		if u.qrCode != "" {
			intent.QRCode = &u.qrCode
			changed = true
		}
		if u.checkoutURL != "" {
			intent.CheckoutURL = &u.checkoutURL
			changed = true
		}
		if u.dispatched {
			intent.SentToTerminalAt = &now
			intent.Attempts++
			changed = true
		}

		target := u.status
		detail := strings.TrimSpace(u.detail)
		if target == domain.StatusApproved && from != domain.StatusApproved &&
			u.amount != nil && !money.Round(*u.amount).Equal(intent.Amount) {
			s.log.Warn("gateway amount differs from intent",
				zap.String("intent_id", intent.ID.String()),
				zap.String("expected", money.Format(intent.Amount)),
				zap.String("reported", money.Format(*u.amount)),
			)
			target = domain.StatusError
			detail = domain.DetailAmountMismatch
		}

		switch {
		case target == "" || target == from:
			out = outcomeUnchanged
		case len(u.requireFrom) > 0 && !containsStatus(u.requireFrom, from):
			return &transition.Error{Entity: "payment_intent", From: string(from), To: string(target)}
		case from.Final() && !domain.Transitions.Allowed(from, target):
			out = outcomeConflict
			conflict = &transition.Error{Entity: "payment_intent", From: string(from), To: string(target)}
		case target.Rank() < from.Rank():
			out = outcomeStale
		default:
			if err := domain.Transitions.Check("payment_intent", from, target); err != nil {
				return err
			}
			intent.Status = target
			if detail != "" {
				intent.StatusDetail = &detail
			}
			if target.Final() && intent.FinalizedAt == nil {
				intent.FinalizedAt = &now
			}
			if err := s.onEnter(ctx, tx, intent, u.actor, now); err != nil {
				return err
			}
			out = outcomeApplied
			changed = true
		}

		if changed {
			intent.UpdatedAt = now
			if err := s.repo.Update(ctx, tx, intent); err != nil {
				return err
			}
		}
		if u.notificationID != nil {
			if err := s.repo.MarkNotificationProcessed(ctx, tx, *u.notificationID, now); err != nil {
				return err
			}
		}
		result = intent
		return nil
	})
	if err != nil {
		return nil, "", err
	}

	if out == outcomeApplied {
		s.obsMetrics.RecordIntentTransition(ctx, result.Provider, string(result.Status))
		s.log.Info("payment intent transitioned",
			zap.String("intent_id", result.ID.String()),
			zap.String("from", string(from)),
			zap.String("to", string(result.Status)),
		)
	}
	return result, out, conflict
}

// onEnter runs the side effects of the status the intent just entered, inside the transition's transaction.
func (s *Service) onEnter(ctx context.Context, tx *gorm.DB, intent *domain.PaymentIntent, actor auditdomain.Actor, now time.Time) error {
	switch intent.Status {
	case domain.StatusApproved:
		intent.ApprovedAt = &now
		if intent.EffectAppliedAt != nil {
			return nil
		}
		err := tx.Transaction(func(inner *gorm.DB) error {
			return s.applyEffect(ctx, inner, intent, actor, now)
		})
		if errors.Is(err, transition.ErrInvalidTransition) {
			// The target moved on (cancelled order, settled invoice). The money is flagged for follow-up.
			s.log.Error("approved payment could not be applied",
				zap.String("intent_id", intent.ID.String()),
				zap.Error(err),
			)
			detail := domain.DetailTargetNotPayable
			intent.Status = domain.StatusError
			intent.StatusDetail = &detail
			intent.ApprovedAt = nil
			return nil
		}
		return err

	case domain.StatusRefunded:
		if intent.EffectAppliedAt == nil {
			return nil
		}
		return s.reverseEffect(ctx, tx, intent, actor)

	case domain.StatusRejected:
		if intent.InvoiceID != nil {
			_, err := s.invoiceSvc.MarkFailedTx(ctx, tx, *intent.InvoiceID)
			return err
		}
	case domain.StatusCancelled, domain.StatusError:
		if intent.InvoiceID != nil {
			_, err := s.invoiceSvc.RestoreAfterAttemptTx(ctx, tx, *intent.InvoiceID)
			return err
		}
	}
	return nil
}

func (s *Service) applyEffect(ctx context.Context, tx *gorm.DB, intent *domain.PaymentIntent, actor auditdomain.Actor, now time.Time) error {
	reference := "intent:" + intent.ID.String()
	switch {
	case intent.OrderID != nil:
		if _, err := s.orderSvc.MarkPaidTx(ctx, tx, *intent.OrderID, now); err != nil {
			return err
		}
	case intent.InvoiceID != nil:
		if _, err := s.invoiceSvc.RegisterPaymentTx(ctx, tx, invoicedomain.RegisterPaymentRequest{
			InvoiceID:       *intent.InvoiceID,
			Amount:          intent.Amount,
			Method:          invoicedomain.PaymentMethod(intent.PaymentMethod),
			PaidAt:          now,
			Reference:       reference,
			PaymentIntentID: &intent.ID,
			Actor:           actor,
		}); err != nil {
			return err
		}
	}

	if intent.CashSessionID != nil {
		_, err := s.cashSvc.RecordMovementTx(ctx, tx, cashdomain.MovementRequest{
			SessionID:       *intent.CashSessionID,
			Type:            cashdomain.MovementSale,
			Amount:          intent.Amount,
			Method:          string(intent.PaymentMethod),
			Description:     reference,
			OrderID:         intent.OrderID,
			PaymentIntentID: &intent.ID,
			Actor:           actor,
		})
		switch {
		case errors.Is(err, cashdomain.ErrSessionClosed), errors.Is(err, cashdomain.ErrSessionNotFound):
			s.log.Warn("cash session unavailable, sale movement skipped",
				zap.String("intent_id", intent.ID.String()),
				zap.String("cash_session_id", intent.CashSessionID.String()),
				zap.Error(err),
			)
		case err != nil:
			return err
		}
	}

	payload := map[string]any{
		"intent_id":        intent.ID.String(),
		"provider":         intent.Provider,
		"integration_type": string(intent.IntegrationType),
		"payment_method":   string(intent.PaymentMethod),
		"amount":           money.Format(intent.Amount),
	}
	if intent.OrderID != nil {
		payload["order_id"] = intent.OrderID.String()
	}
	if intent.InvoiceID != nil {
		payload["invoice_id"] = intent.InvoiceID.String()
	}
	if intent.AccountID != nil {
		payload["account_id"] = intent.AccountID.String()
	}
	if _, err := s.outbox.RecordTx(ctx, tx, events.Event{
		Type:          events.TypePaymentApproved,
		AggregateType: "payment_intent",
		AggregateID:   intent.ID.String(),
		Payload:       payload,
		DedupeKey:     "payment.approved:" + intent.ID.String(),
		CorrelationID: intent.Correlation(),
		OccurredAt:    now,
	}); err != nil {
		return err
	}

	intent.EffectAppliedAt = &now
	return nil
}

func (s *Service) reverseEffect(ctx context.Context, tx *gorm.DB, intent *domain.PaymentIntent, actor auditdomain.Actor) error {
	switch {
	case intent.OrderID != nil:
		_, err := s.orderSvc.MarkRefundedTx(ctx, tx, *intent.OrderID, actor)
		return err
	case intent.InvoiceID != nil:
		_, err := s.invoiceSvc.ReversePaymentTx(ctx, tx, invoicedomain.ReversePaymentRequest{
			InvoiceID:       *intent.InvoiceID,
			Amount:          intent.Amount,
			Method:          invoicedomain.PaymentMethod(intent.PaymentMethod),
			Reference:       "intent:" + intent.ID.String() + ":refund",
			PaymentIntentID: &intent.ID,
			Actor:           actor,
		})
		return err
	}
	return nil
}

func (s *Service) lock(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.PaymentIntent, error) {
	intent, err := s.repo.FindForUpdate(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if intent == nil {
		return nil, domain.ErrIntentNotFound
	}
	return intent, nil
}

func (s *Service) audit(ctx context.Context, actor auditdomain.Actor, action string, intent *domain.PaymentIntent, metadata map[string]any) {
	if s.auditSvc == nil || intent == nil {
		return
	}
	targetID := intent.ID.String()
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadata["provider"] = intent.Provider
	metadata["status"] = string(intent.Status)
	if err := s.auditSvc.AuditLog(ctx, actor, action, "payment_intent", &targetID, metadata); err != nil {
		s.log.Warn("audit log failed", zap.String("action", action), zap.Error(err))
	}
}

func containsStatus(statuses []domain.Status, status domain.Status) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}
