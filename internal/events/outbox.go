package events

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/carehub/internal/clock"
	"github.com/smallbiznis/carehub/pkg/telemetry/correlation"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type OutboxParams struct {
	fx.In

	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

// Outbox writes domain events into the same transaction as the state change that caused them.
type Outbox struct {
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
}

func NewOutbox(p OutboxParams) *Outbox {
	return &Outbox{
		log:   p.Log.Named("events.outbox"),
		genID: p.GenID,
		clock: p.Clock,
	}
}

// RecordTx stores the event using tx. It reports false when an event with the same dedupe key already exists.
func (o *Outbox) RecordTx(ctx context.Context, tx *gorm.DB, event Event) (bool, error) {
	if o == nil {
		return false, nil
	}
	event.Type = strings.TrimSpace(event.Type)
	event.DedupeKey = strings.TrimSpace(event.DedupeKey)
	if event.Type == "" || event.DedupeKey == "" || strings.TrimSpace(event.AggregateID) == "" {
		return false, ErrInvalidEvent
	}

	now := o.clock.Now().UTC()
	if event.OccurredAt.IsZero() {
		event.OccurredAt = now
	}
	if event.CorrelationID == "" {
		event.CorrelationID = correlation.ExtractCorrelationID(ctx)
	}
	var correlationID *string
	if event.CorrelationID != "" {
		correlationID = &event.CorrelationID
	}
	payload := datatypes.JSONMap(event.Payload)
	if payload == nil {
		payload = datatypes.JSONMap{}
	}

	result := tx.WithContext(ctx).Exec(
		`INSERT INTO domain_events (
			id, type, aggregate_type, aggregate_id, payload, dedupe_key,
			correlation_id, occurred_at, attempts, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?)
		ON CONFLICT (dedupe_key) DO NOTHING`,
		o.genID.Generate(),
		event.Type,
		event.AggregateType,
		event.AggregateID,
		payload,
		event.DedupeKey,
		correlationID,
		event.OccurredAt.UTC(),
		now,
	)
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		o.log.Debug("event already recorded",
			zap.String("type", event.Type),
			zap.String("dedupe_key", event.DedupeKey),
		)
		return false, nil
	}
	return true, nil
}
