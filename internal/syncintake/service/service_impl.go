package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/carehub/internal/audit/domain"
	"github.com/smallbiznis/carehub/internal/cache"
	"github.com/smallbiznis/carehub/internal/clock"
	obsmetrics "github.com/smallbiznis/carehub/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/carehub/internal/order/domain"
	"github.com/smallbiznis/carehub/internal/syncintake/domain"
	"github.com/smallbiznis/carehub/pkg/db"
	"github.com/smallbiznis/carehub/pkg/money"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// errAlreadySynced rolls back an order whose sync record lost the insert race.
var errAlreadySynced = errors.New("already_synced")

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       domain.Repository
	OrderSvc   orderdomain.Service
	Index      cache.SyncIndexCache `optional:"true"`
	AuditSvc   auditdomain.Service  `optional:"true"`
	ObsMetrics *obsmetrics.Metrics  `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	orderSvc   orderdomain.Service
	index      cache.SyncIndexCache
	auditSvc   auditdomain.Service
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	index := p.Index
	if index == nil {
		index = cache.NewMemorySyncIndex(time.Hour)
	}
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("syncintake.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		orderSvc:   p.OrderSvc,
		index:      index,
		auditSvc:   p.AuditSvc,
		obsMetrics: p.ObsMetrics,
	}
}

// Submit creates the order at most once per (device_id, local_id). The index is consulted
// before any side effect; a repeat returns the original order as skipped.
func (s *Service) Submit(ctx context.Context, req domain.SubmitRequest) (*domain.SubmitResult, error) {
	deviceID := strings.TrimSpace(req.DeviceID)
	localID := strings.TrimSpace(req.LocalID)
	if deviceID == "" || localID == "" {
		return nil, domain.ErrInvalidSubmission
	}
	hash, err := payloadHash(req.Order)
	if err != nil {
		return nil, err
	}

	if entry, ok := s.index.Get(ctx, deviceID, localID); ok {
		return s.skipped(ctx, deviceID, localID, entry.OrderID, entry.PayloadHash != hash), nil
	}
	existing, err := s.repo.Find(ctx, s.db, deviceID, localID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		s.index.Set(ctx, deviceID, localID, cache.SyncEntry{OrderID: existing.OrderID, PayloadHash: existing.PayloadHash})
		return s.skipped(ctx, deviceID, localID, existing.OrderID, existing.PayloadHash != hash), nil
	}

	actor := req.Actor.Normalize()
	var order *orderdomain.Order
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		created, err := s.orderSvc.CreateTx(ctx, tx, orderdomain.CreateRequest{
			AccountID:     req.Order.AccountID,
			Items:         req.Order.Items,
			Total:         req.Order.Total,
			PaymentMethod: req.Order.PaymentMethod,
			Origin:        orderdomain.OriginOfflineSync,
			CashSessionID: req.Order.CashSessionID,
			DeviceID:      deviceID,
			LocalID:       localID,
			PlacedAt:      req.Order.PlacedAt,
			Notes:         req.Order.Notes,
			Actor:         actor,
		})
		if err != nil {
			return err
		}
		inserted, err := s.repo.Insert(ctx, tx, &domain.SyncRecord{
			ID:          s.genID.Generate(),
			DeviceID:    deviceID,
			LocalID:     localID,
			OrderID:     created.ID,
			PayloadHash: hash,
			CreatedAt:   s.clock.Now().UTC(),
		})
		if err != nil {
			return err
		}
		if !inserted {
			return errAlreadySynced
		}
		order = created
		return nil
	})
	if errors.Is(err, errAlreadySynced) || db.IsDuplicateKeyErr(err) {
		winner, findErr := s.repo.Find(ctx, s.db, deviceID, localID)
		if findErr != nil {
			return nil, findErr
		}
		if winner == nil {
			return nil, err
		}
		s.index.Set(ctx, deviceID, localID, cache.SyncEntry{OrderID: winner.OrderID, PayloadHash: winner.PayloadHash})
		return s.skipped(ctx, deviceID, localID, winner.OrderID, winner.PayloadHash != hash), nil
	}
	if err != nil {
		s.obsMetrics.RecordSyncSubmission(ctx, string(domain.OutcomeRejected))
		return nil, err
	}

	s.index.Set(ctx, deviceID, localID, cache.SyncEntry{OrderID: order.ID, PayloadHash: hash})
	s.obsMetrics.RecordSyncSubmission(ctx, string(domain.OutcomeCreated))
	s.log.Info("offline order created",
		zap.String("device_id", deviceID),
		zap.String("local_id", localID),
		zap.String("order_id", order.ID.String()),
	)
	if s.auditSvc != nil {
		targetID := order.ID.String()
		if err := s.auditSvc.AuditLog(ctx, actor, "sync.order_created", "order", &targetID, map[string]any{
			"device_id": deviceID,
			"local_id":  localID,
			"total":     money.Format(order.Total),
		}); err != nil {
			s.log.Warn("audit log failed", zap.Error(err))
		}
	}
	return &domain.SubmitResult{Outcome: domain.OutcomeCreated, OrderID: order.ID}, nil
}

func (s *Service) skipped(ctx context.Context, deviceID, localID string, orderID snowflake.ID, mismatch bool) *domain.SubmitResult {
	s.obsMetrics.RecordSyncSubmission(ctx, string(domain.OutcomeSkipped))
	if mismatch {
		s.log.Warn("duplicate submission with a different payload",
			zap.String("device_id", deviceID),
			zap.String("local_id", localID),
			zap.String("order_id", orderID.String()),
		)
	}
	return &domain.SubmitResult{Outcome: domain.OutcomeSkipped, OrderID: orderID, PayloadMismatch: mismatch}
}

// SubmitBatch submits items in order. A rejected item does not stop the batch.
func (s *Service) SubmitBatch(ctx context.Context, deviceID string, items []domain.BatchItem, actor auditdomain.Actor) (*domain.BatchResult, error) {
	if strings.TrimSpace(deviceID) == "" {
		return nil, domain.ErrInvalidSubmission
	}
	if len(items) == 0 {
		return nil, domain.ErrEmptyBatch
	}
	if len(items) > domain.MaxBatchSize {
		return nil, domain.ErrBatchTooLarge
	}

	result := &domain.BatchResult{Items: make([]domain.BatchItemResult, 0, len(items))}
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := s.Submit(ctx, domain.SubmitRequest{
			DeviceID: deviceID,
			LocalID:  item.LocalID,
			Order:    item.Order,
			Actor:    actor,
		})
		if err != nil {
			result.Rejected++
			result.Items = append(result.Items, domain.BatchItemResult{
				LocalID: item.LocalID,
				Outcome: domain.OutcomeRejected,
				Reason:  err.Error(),
			})
			continue
		}
		switch res.Outcome {
		case domain.OutcomeCreated:
			result.Created++
		case domain.OutcomeSkipped:
			result.Skipped++
		}
		result.Items = append(result.Items, domain.BatchItemResult{
			LocalID:         item.LocalID,
			Outcome:         res.Outcome,
			OrderID:         res.OrderID,
			PayloadMismatch: res.PayloadMismatch,
		})
	}
	return result, nil
}

type hashedItem struct {
	ProductRef  string `json:"product_ref,omitempty"`
	Description string `json:"description"`
	Quantity    int    `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
}

type hashedOrder struct {
	AccountID     string       `json:"account_id,omitempty"`
	Items         []hashedItem `json:"items"`
	Total         string       `json:"total"`
	PaymentMethod string       `json:"payment_method"`
	CashSessionID string       `json:"cash_session_id,omitempty"`
	PlacedAt      string       `json:"placed_at,omitempty"`
	Notes         string       `json:"notes,omitempty"`
}

// payloadHash fingerprints the order with amounts at two decimals and times in UTC.
func payloadHash(order domain.OrderPayload) (string, error) {
	canonical := hashedOrder{
		Items:         make([]hashedItem, 0, len(order.Items)),
		Total:         money.Format(order.Total),
		PaymentMethod: string(order.PaymentMethod),
		Notes:         strings.TrimSpace(order.Notes),
	}
	if order.AccountID != nil {
		canonical.AccountID = order.AccountID.String()
	}
	if order.CashSessionID != nil {
		canonical.CashSessionID = order.CashSessionID.String()
	}
	if !order.PlacedAt.IsZero() {
		canonical.PlacedAt = order.PlacedAt.UTC().Format(time.RFC3339Nano)
	}
	for _, item := range order.Items {
		canonical.Items = append(canonical.Items, hashedItem{
			ProductRef:  strings.TrimSpace(item.ProductRef),
			Description: strings.TrimSpace(item.Description),
			Quantity:    item.Quantity,
			UnitPrice:   money.Format(item.UnitPrice),
		})
	}
	raw, err := json.Marshal(canonical)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
