package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	accountdomain "github.com/smallbiznis/carehub/internal/account/domain"
	auditdomain "github.com/smallbiznis/carehub/internal/audit/domain"
	cashdomain "github.com/smallbiznis/carehub/internal/cashsession/domain"
	"github.com/smallbiznis/carehub/internal/clock"
	"github.com/smallbiznis/carehub/internal/order/domain"
	"github.com/smallbiznis/carehub/pkg/money"
	"github.com/smallbiznis/carehub/pkg/transition"
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
	AccountSvc accountdomain.Service
	CashSvc    cashdomain.Service
	AuditSvc   auditdomain.Service `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	accountSvc accountdomain.Service
	cashSvc    cashdomain.Service
	auditSvc   auditdomain.Service
}

func NewService(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("order.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		accountSvc: p.AccountSvc,
		cashSvc:    p.CashSvc,
		auditSvc:   p.AuditSvc,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateRequest) (*domain.Order, error) {
	var order *domain.Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		order, err = s.CreateTx(ctx, tx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.audit(ctx, req.Actor, "order.created", order.ID, map[string]any{
		"total":          money.Format(order.Total),
		"payment_method": string(order.PaymentMethod),
		"origin":         string(order.Origin),
	})
	return order, nil
}

// CreateTx is the single order-creation path. Wallet orders debit the account and cash orders
// record a sale on the drawer inside tx; other methods stay pending until a payment intent settles them.
func (s *Service) CreateTx(ctx context.Context, tx *gorm.DB, req domain.CreateRequest) (*domain.Order, error) {
	if !req.PaymentMethod.Valid() {
		return nil, domain.ErrInvalidMethod
	}
	origin := req.Origin
	if origin == "" {
		origin = domain.OriginPOS
	}
	if !origin.Valid() {
		return nil, domain.ErrInvalidOrigin
	}
	if req.PaymentMethod == domain.MethodWallet && (req.AccountID == nil || *req.AccountID == 0) {
		return nil, domain.ErrAccountRequired
	}

	now := s.clock.Now().UTC()
	orderID := s.genID.Generate()
	items, total, err := s.buildItems(orderID, req.Items)
	if err != nil {
		return nil, err
	}
	if !req.Total.IsZero() && !money.Round(req.Total).Equal(total) {
		return nil, domain.ErrTotalMismatch
	}

	placedAt := req.PlacedAt.UTC()
	if req.PlacedAt.IsZero() {
		placedAt = now
	}
	order := &domain.Order{
		ID:            orderID,
		AccountID:     req.AccountID,
		Status:        domain.StatusPending,
		PaymentMethod: req.PaymentMethod,
		PaymentStatus: domain.PaymentUnpaid,
		Total:         total,
		Origin:        origin,
		CashSessionID: req.CashSessionID,
		PlacedAt:      placedAt,
		CreatedAt:     now,
		UpdatedAt:     now,
		Items:         items,
	}
	if deviceID := strings.TrimSpace(req.DeviceID); deviceID != "" {
		order.DeviceID = &deviceID
	}
	if localID := strings.TrimSpace(req.LocalID); localID != "" {
		order.LocalID = &localID
	}
	if notes := strings.TrimSpace(req.Notes); notes != "" {
		order.Notes = &notes
	}
	if req.PaymentMethod.SettlesImmediately() {
		order.Status = domain.StatusCompleted
		order.PaymentStatus = domain.PaymentPaid
		order.PaidAt = &now
	}

	if err := s.repo.Insert(ctx, tx, order); err != nil {
		return nil, err
	}
	if err := s.repo.InsertItems(ctx, tx, items); err != nil {
		return nil, err
	}

	switch req.PaymentMethod {
	case domain.MethodWallet:
		if _, err := s.accountSvc.DebitTx(ctx, tx, accountdomain.DebitRequest{
			AccountID:      *req.AccountID,
			Amount:         total,
			Reason:         "order " + order.ID.String(),
			CorrelationRef: "order:" + order.ID.String(),
			Kind:           accountdomain.TransactionDebit,
			OrderID:        &order.ID,
			Actor:          req.Actor,
		}); err != nil {
			return nil, err
		}
	case domain.MethodCash:
		if req.CashSessionID != nil && *req.CashSessionID != 0 {
			if _, err := s.cashSvc.RecordMovementTx(ctx, tx, cashdomain.MovementRequest{
				SessionID:   *req.CashSessionID,
				Type:        cashdomain.MovementSale,
				Amount:      total,
				Method:      cashdomain.MethodCash,
				Description: "order " + order.ID.String(),
				OrderID:     &order.ID,
				Actor:       req.Actor,
			}); err != nil {
				return nil, err
			}
		}
	}

	return order, nil
}

func (s *Service) buildItems(orderID snowflake.ID, inputs []domain.ItemInput) ([]domain.OrderItem, decimal.Decimal, error) {
	if len(inputs) == 0 {
		return nil, decimal.Zero, domain.ErrInvalidItems
	}
	items := make([]domain.OrderItem, 0, len(inputs))
	total := decimal.Zero
	for i, in := range inputs {
		description := strings.TrimSpace(in.Description)
		unitPrice := money.Round(in.UnitPrice)
		if description == "" || in.Quantity <= 0 || unitPrice.IsNegative() {
			return nil, decimal.Zero, domain.ErrInvalidItems
		}
		amount := money.Round(unitPrice.Mul(decimal.NewFromInt(int64(in.Quantity))))
		item := domain.OrderItem{
			ID:          s.genID.Generate(),
			OrderID:     orderID,
			Position:    i + 1,
			Description: description,
			Quantity:    in.Quantity,
			UnitPrice:   unitPrice,
			Amount:      amount,
		}
		if ref := strings.TrimSpace(in.ProductRef); ref != "" {
			item.ProductRef = &ref
		}
		items = append(items, item)
		total = total.Add(amount)
	}
	total = money.Round(total)
	if !total.IsPositive() {
		return nil, decimal.Zero, domain.ErrInvalidItems
	}
	return items, total, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*domain.Order, error) {
	return s.GetTx(ctx, s.db, id)
}

func (s *Service) GetTx(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.Order, error) {
	order, err := s.repo.FindByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, domain.ErrOrderNotFound
	}
	items, err := s.repo.ListItems(ctx, tx, []snowflake.ID{order.ID})
	if err != nil {
		return nil, err
	}
	order.Items = items
	return order, nil
}

// Cancel voids an order that is not on an invoice. A paid wallet order is credited back to the account.
func (s *Service) Cancel(ctx context.Context, id snowflake.ID, reason string, actor auditdomain.Actor) (*domain.Order, error) {
	var order *domain.Order
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		order, err = s.lock(ctx, tx, id)
		if err != nil {
			return err
		}
		if order.IsInvoiced {
			return domain.ErrOrderInvoiced
		}
		if err := domain.Transitions.Check("order", order.Status, domain.StatusCancelled); err != nil {
			return err
		}

		if order.PaymentStatus == domain.PaymentPaid {
			if order.PaymentMethod != domain.MethodWallet {
				return paymentMove(order, domain.PaymentRefunded)
			}
			if err := s.refundWallet(ctx, tx, order, actor); err != nil {
				return err
			}
			order.PaymentStatus = domain.PaymentRefunded
		}

		now := s.clock.Now().UTC()
		order.Status = domain.StatusCancelled
		order.CancelledAt = &now
		order.UpdatedAt = now
		if reason = strings.TrimSpace(reason); reason != "" {
			order.Notes = &reason
		}
		return s.repo.UpdateSettlement(ctx, tx, order)
	})
	if err != nil {
		return nil, err
	}
	s.audit(ctx, actor, "order.cancelled", order.ID, map[string]any{"reason": strings.TrimSpace(reason)})
	return order, nil
}

func (s *Service) MarkPaidTx(ctx context.Context, tx *gorm.DB, id snowflake.ID, paidAt time.Time) (bool, error) {
	order, err := s.lock(ctx, tx, id)
	if err != nil {
		return false, err
	}
	if order.PaymentStatus == domain.PaymentPaid {
		return false, nil
	}
	if order.PaymentStatus == domain.PaymentRefunded {
		return false, paymentMove(order, domain.PaymentPaid)
	}
	if order.Status != domain.StatusCompleted {
		if err := domain.Transitions.Check("order", order.Status, domain.StatusCompleted); err != nil {
			return false, err
		}
	}

	now := s.clock.Now().UTC()
	if paidAt.IsZero() {
		paidAt = now
	}
	paidAt = paidAt.UTC()
	order.Status = domain.StatusCompleted
	order.PaymentStatus = domain.PaymentPaid
	order.PaidAt = &paidAt
	order.UpdatedAt = now
	if err := s.repo.UpdateSettlement(ctx, tx, order); err != nil {
		return false, err
	}
	s.log.Debug("order settled", zap.String("order_id", order.ID.String()))
	return true, nil
}

// MarkRefundedTx reverses a paid order after a gateway refund. Wallet orders get their credit back.
func (s *Service) MarkRefundedTx(ctx context.Context, tx *gorm.DB, id snowflake.ID, actor auditdomain.Actor) (bool, error) {
	order, err := s.lock(ctx, tx, id)
	if err != nil {
		return false, err
	}
	switch order.PaymentStatus {
	case domain.PaymentRefunded:
		return false, nil
	case domain.PaymentUnpaid:
		return false, paymentMove(order, domain.PaymentRefunded)
	}
	if order.PaymentMethod == domain.MethodWallet {
		if err := s.refundWallet(ctx, tx, order, actor); err != nil {
			return false, err
		}
	}
	order.PaymentStatus = domain.PaymentRefunded
	order.UpdatedAt = s.clock.Now().UTC()
	if err := s.repo.UpdateSettlement(ctx, tx, order); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Service) refundWallet(ctx context.Context, tx *gorm.DB, order *domain.Order, actor auditdomain.Actor) error {
	if order.AccountID == nil {
		return domain.ErrAccountRequired
	}
	_, err := s.accountSvc.CreditTx(ctx, tx, accountdomain.CreditRequest{
		AccountID:      *order.AccountID,
		Amount:         order.Total,
		Reason:         "refund order " + order.ID.String(),
		CorrelationRef: "order:" + order.ID.String() + ":refund",
		Kind:           accountdomain.TransactionRefund,
		OrderID:        &order.ID,
		Actor:          actor,
	})
	return err
}

func (s *Service) LockInvoiceableTx(ctx context.Context, tx *gorm.DB, filter domain.InvoiceableFilter) ([]*domain.Order, error) {
	orders, err := s.repo.LockInvoiceable(ctx, tx, filter)
	if err != nil || len(orders) == 0 {
		return orders, err
	}

	ids := make([]snowflake.ID, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID)
	}
	items, err := s.repo.ListItems(ctx, tx, ids)
	if err != nil {
		return nil, err
	}
	byOrder := make(map[snowflake.ID][]domain.OrderItem, len(orders))
	for _, item := range items {
		byOrder[item.OrderID] = append(byOrder[item.OrderID], item)
	}
	for _, o := range orders {
		o.Items = byOrder[o.ID]
	}
	return orders, nil
}

func (s *Service) MarkInvoicedTx(ctx context.Context, tx *gorm.DB, orderIDs []snowflake.ID, invoiceID snowflake.ID) error {
	return s.repo.MarkInvoiced(ctx, tx, orderIDs, invoiceID, s.clock.Now().UTC())
}

func (s *Service) ReleaseInvoiceTx(ctx context.Context, tx *gorm.DB, invoiceID snowflake.ID) (int64, error) {
	return s.repo.ReleaseInvoice(ctx, tx, invoiceID, s.clock.Now().UTC())
}

// paymentMove reports a payment-status change that is not allowed.
func paymentMove(order *domain.Order, to domain.PaymentStatus) error {
	return &transition.Error{Entity: "order_payment", From: string(order.PaymentStatus), To: string(to)}
}

func (s *Service) lock(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.Order, error) {
	order, err := s.repo.FindForUpdate(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, domain.ErrOrderNotFound
	}
	return order, nil
}

func (s *Service) audit(ctx context.Context, actor auditdomain.Actor, action string, orderID snowflake.ID, metadata map[string]any) {
	if s.auditSvc == nil {
		return
	}
	targetID := orderID.String()
	if err := s.auditSvc.AuditLog(ctx, actor, action, "order", &targetID, metadata); err != nil {
		s.log.Warn("audit log failed", zap.String("action", action), zap.Error(err))
	}
}
