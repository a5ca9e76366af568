package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

var (
	ErrEmptyLockKey   = errors.New("lock_key_empty")
	ErrInvalidLockTTL = errors.New("lock_ttl_invalid")
	// ErrLeaseLost means the key expired or was taken by another holder before Release.
	ErrLeaseLost = errors.New("lock_lease_lost")
)

// compare-and-delete: only the holder of the token may remove the key.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker hands out short Redis leases. The sync intake uses it to keep two requests for the same
// (device_id, local_id) from running at once, and the scheduler uses it so one instance runs a sweep job.
// A lease that outlives its TTL is gone; callers must keep the guarded work shorter than the TTL.
type Locker struct {
	client *redis.Client
}

// NewLocker returns nil without a Redis client; callers treat a nil Locker as "no coordination".
func NewLocker(client *redis.Client) *Locker {
	if client == nil {
		return nil
	}
	return &Locker{client: client}
}

// TryLock takes the lease for key. It returns the owner token and false, with no error, when
// someone else already holds it.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if l == nil || l.client == nil {
		return "", false, ErrNotConfigured
	}
	switch {
	case key == "":
		return "", false, ErrEmptyLockKey
	case ttl <= 0:
		return "", false, ErrInvalidLockTTL
	}

	token := uuid.NewString()
	acquired, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return "", false, err
	}
	if !acquired {
		return "", false, nil
	}
	return token, true, nil
}

// Release gives the lease back. A missing key or token is a no-op.
func (l *Locker) Release(ctx context.Context, key, token string) error {
	if l == nil || l.client == nil || key == "" || token == "" {
		return nil
	}
	deleted, err := releaseScript.Run(ctx, l.client, []string{key}, token).Int64()
	if err != nil {
		return err
	}
	if deleted == 0 {
		return ErrLeaseLost
	}
	return nil
}
