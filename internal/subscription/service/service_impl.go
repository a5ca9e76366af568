package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/carehub/internal/audit/domain"
	"github.com/smallbiznis/carehub/internal/clock"
	"github.com/smallbiznis/carehub/internal/subscription/domain"
	"github.com/smallbiznis/carehub/pkg/money"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const maxTrialDays = 365

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     domain.Repository
	AuditSvc auditdomain.Service `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     domain.Repository
	auditSvc auditdomain.Service
}

func NewService(p Params) domain.Service {
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("subscription.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		auditSvc: p.AuditSvc,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateSubscriptionRequest) (*domain.Subscription, error) {
	if req.AccountID == 0 {
		return nil, domain.ErrInvalidAccount
	}
	planName := strings.TrimSpace(req.PlanName)
	if planName == "" {
		return nil, domain.ErrInvalidPlan
	}
	amount, err := money.RequirePositive(req.PlanAmount)
	if err != nil {
		return nil, domain.ErrInvalidAmount
	}
	if req.BillingCycle.Months() == 0 {
		return nil, domain.ErrInvalidBillingCycle
	}
	if req.BillingDay < 1 || req.BillingDay > 28 {
		return nil, domain.ErrInvalidBillingDay
	}
	if req.TrialDays < 0 || req.TrialDays > maxTrialDays {
		return nil, domain.ErrInvalidTrialDays
	}

	now := s.clock.Now().UTC()
	start := req.StartAt.UTC()
	if req.StartAt.IsZero() {
		start = now
	}

	sub := &domain.Subscription{
		ID:           s.genID.Generate(),
		AccountID:    req.AccountID,
		PlanName:     planName,
		PlanAmount:   amount,
		BillingCycle: req.BillingCycle,
		BillingDay:   req.BillingDay,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	switch {
	case req.StartPending:
		sub.Status = domain.StatusPending
		sub.NextBillingDate = domain.FirstBillingDate(start, req.BillingDay)
	case req.TrialDays > 0:
		trialEnds := start.AddDate(0, 0, req.TrialDays)
		sub.Status = domain.StatusTrial
		sub.TrialEndsAt = &trialEnds
		sub.NextBillingDate = domain.FirstBillingDate(trialEnds, req.BillingDay)
	default:
		sub.Status = domain.StatusActive
		sub.StartedAt = &start
		sub.NextBillingDate = domain.FirstBillingDate(start, req.BillingDay)
	}

	if err := s.repo.Insert(ctx, s.db, sub); err != nil {
		return nil, err
	}

	s.audit(ctx, req.Actor, "subscription.created", sub.ID, map[string]any{
		"account_id":        sub.AccountID.String(),
		"plan_name":         sub.PlanName,
		"plan_amount":       money.Format(sub.PlanAmount),
		"billing_cycle":     string(sub.BillingCycle),
		"status":            string(sub.Status),
		"next_billing_date": sub.NextBillingDate.Format(time.DateOnly),
	})
	return sub, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.Subscription, error) {
	if id == 0 {
		return nil, domain.ErrSubscriptionNotFound
	}
	sub, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, domain.ErrSubscriptionNotFound
	}
	return sub, nil
}

func (s *Service) Activate(ctx context.Context, id snowflake.ID, actor auditdomain.Actor) (*domain.Subscription, error) {
	return s.transition(ctx, id, domain.StatusActive, actor, "subscription.activated")
}

func (s *Service) Pause(ctx context.Context, id snowflake.ID, actor auditdomain.Actor) (*domain.Subscription, error) {
	return s.transition(ctx, id, domain.StatusPaused, actor, "subscription.paused")
}

func (s *Service) Resume(ctx context.Context, id snowflake.ID, actor auditdomain.Actor) (*domain.Subscription, error) {
	return s.transition(ctx, id, domain.StatusActive, actor, "subscription.resumed")
}

func (s *Service) Suspend(ctx context.Context, id snowflake.ID, actor auditdomain.Actor) (*domain.Subscription, error) {
	return s.transition(ctx, id, domain.StatusSuspended, actor, "subscription.suspended")
}

func (s *Service) Cancel(ctx context.Context, id snowflake.ID, actor auditdomain.Actor) (*domain.Subscription, error) {
	return s.transition(ctx, id, domain.StatusCancelled, actor, "subscription.cancelled")
}

func (s *Service) Expire(ctx context.Context, id snowflake.ID, actor auditdomain.Actor) (*domain.Subscription, error) {
	return s.transition(ctx, id, domain.StatusExpired, actor, "subscription.expired")
}

func (s *Service) ListDue(ctx context.Context, now time.Time, limit int) ([]snowflake.ID, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.repo.ListDue(ctx, s.db, now, limit)
}

// ActivateEndedTrials converts every trial whose end date has passed into an active subscription.
func (s *Service) ActivateEndedTrials(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}
	ids, err := s.repo.ListEndedTrials(ctx, s.db, now, limit)
	if err != nil {
		return 0, err
	}

	activated := 0
	var errs []error
	for _, id := range ids {
		_, err := s.transition(ctx, id, domain.StatusActive, auditdomain.SchedulerActor("trial_conversion"), "subscription.trial_converted")
		if err != nil {
			if errors.Is(err, domain.ErrInvalidTransition) {
				continue
			}
			s.log.Warn("trial conversion failed", zap.String("subscription_id", id.String()), zap.Error(err))
			errs = append(errs, err)
			continue
		}
		activated++
	}
	return activated, errors.Join(errs...)
}

func (s *Service) LockTx(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.Subscription, error) {
	if id == 0 {
		return nil, domain.ErrSubscriptionNotFound
	}
	sub, err := s.repo.FindForUpdate(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, domain.ErrSubscriptionNotFound
	}
	return sub, nil
}

func (s *Service) AdvanceTx(ctx context.Context, tx *gorm.DB, sub *domain.Subscription) (domain.BillingPeriod, error) {
	if sub == nil {
		return domain.BillingPeriod{}, domain.ErrSubscriptionNotFound
	}
	if sub.Status != domain.StatusActive {
		return domain.BillingPeriod{}, domain.ErrSubscriptionNotActive
	}

	period := domain.BillingPeriod{
		Start: sub.NextBillingDate.UTC(),
		End:   sub.BillingCycle.Advance(sub.NextBillingDate, sub.BillingDay),
	}
	sub.NextBillingDate = period.End
	sub.UpdatedAt = s.clock.Now().UTC()
	if err := s.repo.UpdateLifecycle(ctx, tx, sub); err != nil {
		return domain.BillingPeriod{}, err
	}
	return period, nil
}

func (s *Service) transition(ctx context.Context, id snowflake.ID, target domain.SubscriptionStatus, actor auditdomain.Actor, action string) (*domain.Subscription, error) {
	var (
		sub  *domain.Subscription
		from domain.SubscriptionStatus
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		sub, err = s.LockTx(ctx, tx, id)
		if err != nil {
			return err
		}
		from = sub.Status
		if err := domain.Transitions.Check("subscription", from, target); err != nil {
			return err
		}

		now := s.clock.Now().UTC()
		s.applyLifecycle(sub, target, now)
		sub.Status = target
		sub.UpdatedAt = now
		return s.repo.UpdateLifecycle(ctx, tx, sub)
	})
	if err != nil {
		return nil, err
	}

	s.audit(ctx, actor, action, sub.ID, map[string]any{
		"from_status":       string(from),
		"to_status":         string(target),
		"next_billing_date": sub.NextBillingDate.Format(time.DateOnly),
	})
	return sub, nil
}

// applyLifecycle sets the timestamps and billing anchor a status change implies.
func (s *Service) applyLifecycle(sub *domain.Subscription, target domain.SubscriptionStatus, now time.Time) {
	switch target {
	case domain.StatusActive:
		if sub.StartedAt == nil {
			sub.StartedAt = &now
		}
		sub.PausedAt = nil
		// Periods skipped while pending or paused are never billed.
		if sub.NextBillingDate.Before(now) {
			sub.NextBillingDate = domain.FirstBillingDate(now, sub.BillingDay)
		}
	case domain.StatusPaused:
		sub.PausedAt = &now
	case domain.StatusCancelled, domain.StatusExpired:
		sub.CancelledAt = &now
	}
}

func (s *Service) audit(ctx context.Context, actor auditdomain.Actor, action string, id snowflake.ID, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	targetID := id.String()
	if err := s.auditSvc.AuditLog(ctx, actor, action, "subscription", &targetID, metadata); err != nil {
		s.log.Warn("audit log failed", zap.String("action", action), zap.Error(err))
	}
}
