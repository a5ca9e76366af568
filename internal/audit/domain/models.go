package domain

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ActorType string

const (
	ActorTypeSystem    ActorType = "system"
	ActorTypeUser      ActorType = "user"
	ActorTypeDevice    ActorType = "device"
	ActorTypeGateway   ActorType = "gateway"
	ActorTypeScheduler ActorType = "scheduler"
)

// Actor identifies who performed a mutation. Every mutating request carries one.
type Actor struct {
	Type ActorType `json:"type"`
	ID   string    `json:"id"`
}

func SystemActor() Actor {
	return Actor{Type: ActorTypeSystem}
}

func UserActor(id string) Actor {
	return Actor{Type: ActorTypeUser, ID: strings.TrimSpace(id)}
}

func DeviceActor(deviceID string) Actor {
	return Actor{Type: ActorTypeDevice, ID: strings.TrimSpace(deviceID)}
}

func GatewayActor(provider string) Actor {
	return Actor{Type: ActorTypeGateway, ID: strings.TrimSpace(provider)}
}

func SchedulerActor(job string) Actor {
	return Actor{Type: ActorTypeScheduler, ID: strings.TrimSpace(job)}
}

// Normalize fills a missing type with system.
func (a Actor) Normalize() Actor {
	if strings.TrimSpace(string(a.Type)) == "" {
		a.Type = ActorTypeSystem
	}
	a.ID = strings.TrimSpace(a.ID)
	return a
}

// IDPtr returns nil for an anonymous actor.
func (a Actor) IDPtr() *string {
	id := strings.TrimSpace(a.ID)
	if id == "" {
		return nil
	}
	return &id
}

type AuditLog struct {
	ID         snowflake.ID      `json:"id"`
	ActorType  string            `json:"actor_type"`
	ActorID    *string           `json:"actor_id,omitempty"`
	Action     string            `json:"action"`
	TargetType string            `json:"target_type"`
	TargetID   *string           `json:"target_id,omitempty"`
	Metadata   datatypes.JSONMap `json:"metadata,omitempty"`
	IPAddress  *string           `json:"ip_address,omitempty"`
	UserAgent  *string           `json:"user_agent,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

func (AuditLog) TableName() string { return "audit_logs" }

type AuditCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type ListFilter struct {
	Action     string
	TargetType string
	TargetID   string
	ActorType  string
	StartAt    *time.Time
	EndAt      *time.Time
	Cursor     *AuditCursor
	Limit      int
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *AuditLog) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*AuditLog, error)
}
