package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultSyncIndexTTL = 24 * time.Hour
	syncIndexKeyPrefix  = "sync:index:"
)

// SyncEntry is what the sync index remembers about an accepted offline order.
type SyncEntry struct {
	OrderID     snowflake.ID `json:"order_id"`
	PayloadHash string       `json:"payload_hash"`
}

// SyncIndexCache fronts the sync_records table. A miss is never authoritative.
type SyncIndexCache interface {
	Get(ctx context.Context, deviceID, localID string) (SyncEntry, bool)
	Set(ctx context.Context, deviceID, localID string, entry SyncEntry)
}

// NewSyncIndexCache picks Redis when a client is configured and falls back to process memory.
func NewSyncIndexCache(client *redis.Client, log *zap.Logger) SyncIndexCache {
	if client == nil {
		return NewMemorySyncIndex(defaultSyncIndexTTL)
	}
	return NewRedisSyncIndex(client, defaultSyncIndexTTL, log)
}

type memorySyncIndex struct {
	entries Cache[string, SyncEntry]
	ttl     time.Duration
}

func NewMemorySyncIndex(ttl time.Duration) SyncIndexCache {
	return &memorySyncIndex{entries: NewTTLCache[string, SyncEntry](), ttl: ttl}
}

func (c *memorySyncIndex) Get(ctx context.Context, deviceID, localID string) (SyncEntry, bool) {
	return c.entries.Get(cacheKey(deviceID, localID))
}

func (c *memorySyncIndex) Set(ctx context.Context, deviceID, localID string, entry SyncEntry) {
	if entry.OrderID == 0 {
		return
	}
	c.entries.Set(cacheKey(deviceID, localID), entry, c.ttl)
}

type redisSyncIndex struct {
	client *redis.Client
	ttl    time.Duration
	log    *zap.Logger
}

func NewRedisSyncIndex(client *redis.Client, ttl time.Duration, log *zap.Logger) SyncIndexCache {
	if log == nil {
		log = zap.NewNop()
	}
	return &redisSyncIndex{client: client, ttl: ttl, log: log.Named("cache.sync_index")}
}

// Get treats Redis failures as a miss; the database index stays authoritative.
func (c *redisSyncIndex) Get(ctx context.Context, deviceID, localID string) (SyncEntry, bool) {
	raw, err := c.client.Get(ctx, syncIndexKeyPrefix+cacheKey(deviceID, localID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.Warn("sync index lookup failed", zap.Error(err))
		}
		return SyncEntry{}, false
	}
	var entry SyncEntry
	if err := json.Unmarshal(raw, &entry); err != nil || entry.OrderID == 0 {
		return SyncEntry{}, false
	}
	return entry, true
}

func (c *redisSyncIndex) Set(ctx context.Context, deviceID, localID string, entry SyncEntry) {
	if entry.OrderID == 0 {
		return
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, syncIndexKeyPrefix+cacheKey(deviceID, localID), raw, c.ttl).Err(); err != nil {
		c.log.Warn("sync index write failed", zap.Error(err))
	}
}

func cacheKey(parts ...string) string {
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		values = append(values, strings.ToLower(trimmed))
	}
	return strings.Join(values, "|")
}
