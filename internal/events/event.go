package events

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const (
	TypeInvoiceOverdue  = "invoice.overdue"
	TypePaymentApproved = "payment.approved"
	TypeAccountBlocked  = "account.blocked"
)

var ErrInvalidEvent = errors.New("invalid_event")

// Event is what a service records alongside its state change.
// DedupeKey makes recording idempotent: the same business effect is stored once.
type Event struct {
	Type          string
	AggregateType string
	AggregateID   string
	Payload       map[string]any
	DedupeKey     string
	CorrelationID string
	OccurredAt    time.Time
}

// DomainEvent is an outbox row.
type DomainEvent struct {
	ID            snowflake.ID      `json:"id"`
	Type          string            `json:"type"`
	AggregateType string            `json:"aggregate_type"`
	AggregateID   string            `json:"aggregate_id"`
	Payload       datatypes.JSONMap `json:"payload"`
	DedupeKey     string            `json:"dedupe_key"`
	CorrelationID *string           `json:"correlation_id,omitempty"`
	OccurredAt    time.Time         `json:"occurred_at"`
	PublishedAt   *time.Time        `json:"published_at,omitempty"`
	Attempts      int               `json:"attempts"`
	LastError     *string           `json:"last_error,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

func (DomainEvent) TableName() string { return "domain_events" }
