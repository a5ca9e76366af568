package events

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/carehub/internal/clock"
	"github.com/smallbiznis/carehub/pkg/telemetry"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultDispatchBatch = 100
	maxDispatchAttempts  = 10
	maxErrorLength       = 500
)

type DispatcherParams struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	Clock     clock.Clock
	Publisher Publisher
	Metrics   *telemetry.Metrics `optional:"true"`
}

// Dispatcher drains unpublished outbox rows in id order.
type Dispatcher struct {
	db        *gorm.DB
	log       *zap.Logger
	clock     clock.Clock
	publisher Publisher
	metrics   *telemetry.Metrics
}

func NewDispatcher(p DispatcherParams) *Dispatcher {
	return &Dispatcher{
		db:        p.DB,
		log:       p.Log.Named("events.dispatcher"),
		clock:     p.Clock,
		publisher: p.Publisher,
		metrics:   p.Metrics,
	}
}

// DispatchPending publishes up to limit pending events and returns how many were published.
// Rows that keep failing stop being picked after maxDispatchAttempts.
func (d *Dispatcher) DispatchPending(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultDispatchBatch
	}
	start := time.Now()

	var pending []DomainEvent
	if err := d.db.WithContext(ctx).Raw(
		`SELECT id, type, aggregate_type, aggregate_id, payload, dedupe_key,
		        correlation_id, occurred_at, published_at, attempts, last_error, created_at
		 FROM domain_events
		 WHERE published_at IS NULL AND attempts < ?
		 ORDER BY id ASC
		 LIMIT ?`,
		maxDispatchAttempts,
		limit,
	).Scan(&pending).Error; err != nil {
		d.metrics.RecordOutboxBatch("error", 0, time.Since(start))
		return 0, err
	}

	published := 0
	var errs []error
	for _, event := range pending {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := d.publisher.Publish(ctx, event); err != nil {
			d.metrics.RecordEventPublished(event.Type, "error")
			d.log.Warn("publish event failed",
				zap.String("event_id", event.ID.String()),
				zap.String("type", event.Type),
				zap.Int("attempts", event.Attempts+1),
				zap.Error(err),
			)
			if markErr := d.markFailed(ctx, event, err); markErr != nil {
				errs = append(errs, markErr)
			}
			errs = append(errs, err)
			continue
		}
		if err := d.markPublished(ctx, event); err != nil {
			errs = append(errs, err)
			continue
		}
		d.metrics.RecordEventPublished(event.Type, "published")
		published++
	}

	status := "success"
	if len(errs) > 0 {
		status = "partial"
	}
	d.metrics.RecordOutboxBatch(status, published, time.Since(start))
	d.refreshBacklog(ctx)
	return published, errors.Join(errs...)
}

func (d *Dispatcher) markPublished(ctx context.Context, event DomainEvent) error {
	return d.db.WithContext(ctx).Exec(
		`UPDATE domain_events SET published_at = ?, attempts = attempts + 1, last_error = NULL WHERE id = ?`,
		d.clock.Now().UTC(),
		event.ID,
	).Error
}

func (d *Dispatcher) markFailed(ctx context.Context, event DomainEvent, cause error) error {
	msg := cause.Error()
	if len(msg) > maxErrorLength {
		msg = msg[:maxErrorLength]
	}
	return d.db.WithContext(ctx).Exec(
		`UPDATE domain_events SET attempts = attempts + 1, last_error = ? WHERE id = ?`,
		msg,
		event.ID,
	).Error
}

func (d *Dispatcher) refreshBacklog(ctx context.Context) {
	if d.metrics == nil {
		return
	}
	var backlog int64
	if err := d.db.WithContext(ctx).Raw(
		`SELECT COUNT(*) FROM domain_events WHERE published_at IS NULL`,
	).Scan(&backlog).Error; err != nil {
		return
	}
	d.metrics.SetOutboxBacklog(float64(backlog))
}
