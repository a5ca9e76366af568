package events

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	kafka "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Publisher delivers outbox rows to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, event DomainEvent) error
	Close() error
}

// Writer is the subset of kafka.Writer the publisher uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type envelope struct {
	ID            string         `json:"id"`
	Type          string         `json:"type"`
	AggregateType string         `json:"aggregate_type"`
	AggregateID   string         `json:"aggregate_id"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	OccurredAt    time.Time      `json:"occurred_at"`
	Payload       map[string]any `json:"payload"`
}

func newEnvelope(event DomainEvent) envelope {
	env := envelope{
		ID:            event.ID.String(),
		Type:          event.Type,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		OccurredAt:    event.OccurredAt.UTC(),
		Payload:       map[string]any(event.Payload),
	}
	if event.CorrelationID != nil {
		env.CorrelationID = *event.CorrelationID
	}
	return env
}

type KafkaPublisher struct {
	writer Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	return &KafkaPublisher{writer: w}
}

func NewKafkaPublisherWithWriter(w Writer) *KafkaPublisher {
	return &KafkaPublisher{writer: w}
}

// Publish keys the message by aggregate so events of one aggregate stay ordered within a partition.
func (p *KafkaPublisher) Publish(ctx context.Context, event DomainEvent) error {
	value, err := json.Marshal(newEnvelope(event))
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(strings.TrimSpace(event.AggregateType) + ":" + event.AggregateID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
			{Key: "event_id", Value: []byte(event.ID.String())},
		},
		Time: event.OccurredAt.UTC(),
	}
	return p.writer.WriteMessages(ctx, msg)
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// LogPublisher writes events to the structured log when no broker is configured.
type LogPublisher struct {
	log *zap.Logger
}

func NewLogPublisher(log *zap.Logger) *LogPublisher {
	return &LogPublisher{log: log.Named("events.publisher")}
}

func (p *LogPublisher) Publish(ctx context.Context, event DomainEvent) error {
	fields := []zap.Field{
		zap.String("event_id", event.ID.String()),
		zap.String("type", event.Type),
		zap.String("aggregate_type", event.AggregateType),
		zap.String("aggregate_id", event.AggregateID),
		zap.Time("occurred_at", event.OccurredAt),
		zap.Any("payload", map[string]any(event.Payload)),
	}
	if event.CorrelationID != nil {
		fields = append(fields, zap.String("correlation_id", *event.CorrelationID))
	}
	p.log.Info("domain event", fields...)
	return nil
}

func (p *LogPublisher) Close() error { return nil }
