package service

import (
	"context"
	"sort"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	auditdomain "github.com/smallbiznis/carehub/internal/audit/domain"
	"github.com/smallbiznis/carehub/internal/cashsession/domain"
	"github.com/smallbiznis/carehub/internal/clock"
	obsmetrics "github.com/smallbiznis/carehub/internal/observability/metrics"
	"github.com/smallbiznis/carehub/pkg/db"
	"github.com/smallbiznis/carehub/pkg/money"
	"github.com/smallbiznis/carehub/pkg/telemetry"
	"go.uber.org/fx"
	"go.uber.org/zap"
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
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
	Metrics    *telemetry.Metrics  `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	auditSvc   auditdomain.Service
	obsMetrics *obsmetrics.Metrics
	metrics    *telemetry.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("cashsession.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		auditSvc:   p.AuditSvc,
		obsMetrics: p.ObsMetrics,
		metrics:    p.Metrics,
	}
}

func (s *Service) Open(ctx context.Context, req domain.OpenRequest) (*domain.CashSession, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return nil, domain.ErrInvalidUser
	}
	opening := money.Round(req.OpeningBalance)
	if opening.IsNegative() {
		return nil, domain.ErrInvalidAmount
	}

	now := s.clock.Now().UTC()
	session := &domain.CashSession{
		ID:             s.genID.Generate(),
		UserID:         userID,
		OpeningBalance: opening,
		Status:         domain.StatusOpen,
		OpenedAt:       now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if deviceID := strings.TrimSpace(req.DeviceID); deviceID != "" {
		session.DeviceID = &deviceID
	}
	if notes := strings.TrimSpace(req.Notes); notes != "" {
		session.Notes = &notes
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.FindOpenByUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		if existing != nil {
			return domain.ErrSessionAlreadyOpen
		}
		if err := s.repo.InsertSession(ctx, tx, session); err != nil {
			if db.IsDuplicateKeyErr(err) {
				return domain.ErrSessionAlreadyOpen
			}
			return err
		}
		return s.repo.InsertMovement(ctx, tx, s.newMovement(session.ID, domain.MovementOpening, opening, domain.MethodCash, "opening balance", nil, nil, req.Actor))
	})
	if err != nil {
		return nil, err
	}

	s.audit(ctx, req.Actor, "cash_session.opened", session.ID, map[string]any{
		"user_id":         userID,
		"opening_balance": money.Format(opening),
	})
	return session, nil
}

func (s *Service) RecordMovement(ctx context.Context, req domain.MovementRequest) (*domain.CashMovement, error) {
	var movement *domain.CashMovement
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		movement, err = s.RecordMovementTx(ctx, tx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.audit(ctx, req.Actor, "cash_session.movement."+string(movement.Type), movement.SessionID, map[string]any{
		"movement_id":    movement.ID.String(),
		"amount":         money.Format(movement.Amount),
		"payment_method": movement.PaymentMethod,
	})
	return movement, nil
}

// RecordMovementTx appends a movement while holding the session row lock, so it serializes with Close.
func (s *Service) RecordMovementTx(ctx context.Context, tx *gorm.DB, req domain.MovementRequest) (*domain.CashMovement, error) {
	method := strings.TrimSpace(req.Method)
	if method == "" {
		method = domain.MethodCash
	}
	if !domain.IsKnownMethod(method) {
		return nil, domain.ErrInvalidMethod
	}
	amount, err := money.RequirePositive(req.Amount)
	if err != nil {
		return nil, domain.ErrInvalidAmount
	}

	switch req.Type {
	case domain.MovementSale:
	case domain.MovementSupply, domain.MovementBleed:
		if method != domain.MethodCash {
			return nil, domain.ErrInvalidMethod
		}
	default:
		return nil, domain.ErrInvalidMovement
	}

	session, err := s.lockOpen(ctx, tx, req.SessionID)
	if err != nil {
		return nil, err
	}

	signed := amount
	if req.Type == domain.MovementBleed {
		movements, err := s.repo.ListMovements(ctx, tx, session.ID)
		if err != nil {
			return nil, err
		}
		cash := expectedByMethod(movements)[domain.MethodCash]
		if amount.GreaterThan(cash) {
			return nil, &domain.InsufficientCashError{Available: cash, Requested: amount}
		}
		signed = amount.Neg()
	}

	movement := s.newMovement(session.ID, req.Type, signed, method, req.Description, req.OrderID, req.PaymentIntentID, req.Actor)
	if err := s.repo.InsertMovement(ctx, tx, movement); err != nil {
		return nil, err
	}
	return movement, nil
}

// Close performs the blind close. Movements that committed before the session lock was taken are included;
// anything arriving afterwards sees a closed session.
func (s *Service) Close(ctx context.Context, req domain.CloseRequest) (*domain.CloseResult, error) {
	for method, counted := range req.CountedByMethod {
		if !domain.IsPhysicalMethod(method) {
			return nil, domain.ErrInvalidMethod
		}
		if money.Round(counted).IsNegative() {
			return nil, domain.ErrInvalidAmount
		}
	}

	var result *domain.CloseResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		session, err := s.lockOpen(ctx, tx, req.SessionID)
		if err != nil {
			return err
		}
		movements, err := s.repo.ListMovements(ctx, tx, session.ID)
		if err != nil {
			return err
		}

		now := s.clock.Now().UTC()
		expected := expectedByMethod(movements)
		calculated := decimal.Zero
		for _, amount := range expected {
			calculated = calculated.Add(amount)
		}

		counts := make([]domain.CashSessionCount, 0, len(domain.PhysicalMethods))
		totalExpected, totalCounted := decimal.Zero, decimal.Zero
		for _, method := range domain.PhysicalMethods {
			exp, moved := expected[method]
			counted, declared := req.CountedByMethod[method]
			if !moved && !declared {
				continue
			}
			exp = money.Round(exp)
			counted = money.Round(counted)
			count := domain.CashSessionCount{
				ID:            s.genID.Generate(),
				SessionID:     session.ID,
				PaymentMethod: method,
				Expected:      exp,
				Counted:       counted,
				Difference:    money.Round(counted.Sub(exp)),
				Attributable:  method == domain.MethodCash,
				CreatedAt:     now,
			}
			if err := s.repo.InsertCount(ctx, tx, &count); err != nil {
				return err
			}
			counts = append(counts, count)
			totalExpected = totalExpected.Add(exp)
			totalCounted = totalCounted.Add(counted)
		}

		difference := money.Round(totalCounted.Sub(totalExpected))
		closing := s.newMovement(session.ID, domain.MovementClosing, decimal.Zero, domain.MethodCash,
			"closing: counted "+money.Format(totalCounted), nil, nil, req.Actor)
		if err := s.repo.InsertMovement(ctx, tx, closing); err != nil {
			return err
		}

		if err := domain.Transitions.Check("cash_session", session.Status, domain.StatusClosed); err != nil {
			return err
		}
		session.Status = domain.StatusClosed
		session.CalculatedBalance = decimal.NewNullDecimal(money.Round(calculated))
		session.CountedBalance = decimal.NewNullDecimal(money.Round(totalCounted))
		session.Difference = decimal.NewNullDecimal(difference)
		session.ClosedAt = &now
		session.UpdatedAt = now
		if notes := strings.TrimSpace(req.Notes); notes != "" {
			session.Notes = &notes
		}
		if err := s.repo.UpdateSession(ctx, tx, session); err != nil {
			return err
		}

		result = &domain.CloseResult{
			Session:           session,
			Counts:            counts,
			CalculatedBalance: money.Round(calculated),
			CountedBalance:    money.Round(totalCounted),
			Difference:        difference,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	outcome := "balanced"
	if !result.Balanced() {
		outcome = "discrepancy"
	}
	for _, c := range result.Counts {
		s.metrics.ObserveCashDifference(c.PaymentMethod, c.Difference.InexactFloat64())
	}
	s.obsMetrics.RecordCashClose(ctx, outcome)
	s.log.Info("cash session closed",
		zap.String("session_id", result.Session.ID.String()),
		zap.String("difference", money.Format(result.Difference)),
		zap.String("outcome", outcome),
	)
	s.audit(ctx, req.Actor, "cash_session.closed", result.Session.ID, map[string]any{
		"counted_balance":    money.Format(result.CountedBalance),
		"calculated_balance": money.Format(result.CalculatedBalance),
		"difference":         money.Format(result.Difference),
	})
	return result, nil
}

// Current returns the user's open session. Running totals stay hidden until close.
func (s *Service) Current(ctx context.Context, userID string) (*domain.CashSession, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, domain.ErrInvalidUser
	}
	session, err := s.repo.FindOpenByUser(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, domain.ErrSessionNotFound
	}
	return session, nil
}

func (s *Service) Summary(ctx context.Context, id snowflake.ID) (*domain.Summary, error) {
	session, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.Status == domain.StatusOpen {
		return nil, domain.ErrSessionStillOpen
	}
	movements, err := s.repo.ListMovements(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	counts, err := s.repo.ListCounts(ctx, s.db, id)
	if err != nil {
		return nil, err
	}

	expected := expectedByMethod(movements)
	for method, amount := range expected {
		expected[method] = money.Round(amount)
	}
	sort.Slice(counts, func(i, j int) bool { return counts[i].PaymentMethod < counts[j].PaymentMethod })
	return &domain.Summary{
		Session:          session,
		ExpectedByMethod: expected,
		Counts:           counts,
		Movements:        len(movements),
	}, nil
}

func (s *Service) Audit(ctx context.Context, req domain.AuditRequest) (*domain.CashSession, error) {
	var session *domain.CashSession
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		session, err = s.repo.FindSessionForUpdate(ctx, tx, req.SessionID)
		if err != nil {
			return err
		}
		if session == nil {
			return domain.ErrSessionNotFound
		}
		if err := domain.Transitions.Check("cash_session", session.Status, domain.StatusAudited); err != nil {
			return err
		}

		now := s.clock.Now().UTC()
		actor := req.Actor.Normalize()
		session.Status = domain.StatusAudited
		session.AuditedAt = &now
		session.AuditedBy = actor.IDPtr()
		session.UpdatedAt = now
		if notes := strings.TrimSpace(req.Notes); notes != "" {
			session.AuditNotes = &notes
		}
		return s.repo.UpdateSession(ctx, tx, session)
	})
	if err != nil {
		return nil, err
	}
	s.audit(ctx, req.Actor, "cash_session.audited", session.ID, nil)
	return session, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.CashSession, error) {
	session, err := s.repo.FindSession(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, domain.ErrSessionNotFound
	}
	return session, nil
}

func (s *Service) lockOpen(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.CashSession, error) {
	session, err := s.repo.FindSessionForUpdate(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, domain.ErrSessionNotFound
	}
	if session.Status != domain.StatusOpen {
		return nil, domain.ErrSessionClosed
	}
	return session, nil
}

func (s *Service) newMovement(
	sessionID snowflake.ID,
	movementType domain.MovementType,
	amount decimal.Decimal,
	method string,
	description string,
	orderID *snowflake.ID,
	intentID *snowflake.ID,
	actor auditdomain.Actor,
) *domain.CashMovement {
	movement := &domain.CashMovement{
		ID:              s.genID.Generate(),
		SessionID:       sessionID,
		Type:            movementType,
		Amount:          money.Round(amount),
		PaymentMethod:   method,
		OrderID:         orderID,
		PaymentIntentID: intentID,
		ActorID:         actor.Normalize().IDPtr(),
		CreatedAt:       s.clock.Now().UTC(),
	}
	if description = strings.TrimSpace(description); description != "" {
		movement.Description = &description
	}
	return movement
}

// expectedByMethod sums movement amounts per payment method. Closing markers carry no amount.
func expectedByMethod(movements []*domain.CashMovement) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for _, m := range movements {
		if m.Type == domain.MovementClosing {
			continue
		}
		out[m.PaymentMethod] = out[m.PaymentMethod].Add(m.Amount)
	}
	return out
}

func (s *Service) audit(ctx context.Context, actor auditdomain.Actor, action string, sessionID snowflake.ID, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	targetID := sessionID.String()
	if err := s.auditSvc.AuditLog(ctx, actor, action, "cash_session", &targetID, metadata); err != nil {
		s.log.Warn("audit log failed", zap.String("action", action), zap.Error(err))
	}
}
