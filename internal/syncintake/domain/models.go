package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type Outcome string

const (
	OutcomeCreated  Outcome = "created"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeRejected Outcome = "rejected"
)

// SyncRecord marks a (device_id, local_id) pair as already turned into an order.
type SyncRecord struct {
	ID          snowflake.ID `json:"id"`
	DeviceID    string       `json:"device_id"`
	LocalID     string       `json:"local_id"`
	OrderID     snowflake.ID `json:"order_id"`
	PayloadHash string       `json:"payload_hash"`
	CreatedAt   time.Time    `json:"created_at"`
}

func (SyncRecord) TableName() string { return "sync_records" }
