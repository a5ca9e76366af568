package server

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/carehub/internal/observability/logger"
	"go.uber.org/zap"
)

const (
	rateLimitReasonDeviceRate = "device-rate"
	rateLimitReasonInFlight   = "submission-in-flight"
)

type syncRateLimitKey struct {
	DeviceID string `json:"device_id"`
	LocalID  string `json:"local_id"`
}

// SyncRateLimit throttles each device and refuses a second concurrent submission of the same local order.
// The limiter itself fails open when Redis is unreachable.
func (s *Server) SyncRateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		key, err := readSyncRateLimitKey(c)
		if err != nil {
			logger.FromContext(c.Request.Context()).Warn("sync rate limit read body failed", zap.Error(err))
			AbortWithError(c, invalidRequestError())
			return
		}
		if key.DeviceID != "" {
			c.Set("device_id", key.DeviceID)
		}

		if s.syncLimiter == nil || !s.syncLimiter.Enabled() || key.DeviceID == "" {
			c.Next()
			return
		}

		ctx := c.Request.Context()
		endpoint := normalizeRateLimitEndpoint(c)

		res, err := s.syncLimiter.AllowDevice(ctx, key.DeviceID)
		if err != nil {
			logger.FromContext(ctx).Warn("sync device rate limit check failed", zap.Error(err))
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		if !res.Allowed {
			denySyncRateLimit(c, endpoint, rateLimitReasonDeviceRate, res.RetryAfter)
			return
		}

		if key.LocalID == "" {
			c.Next()
			return
		}

		token, ok, err := s.syncLimiter.TryLockSubmission(ctx, key.DeviceID, key.LocalID)
		if err != nil {
			logger.FromContext(ctx).Warn("sync submission lock failed", zap.Error(err))
			c.Next()
			return
		}
		if !ok {
			denySyncRateLimit(c, endpoint, rateLimitReasonInFlight, time.Second)
			return
		}
		defer func() {
			if err := s.syncLimiter.ReleaseSubmission(ctx, key.DeviceID, key.LocalID, token); err != nil {
				logger.FromContext(ctx).Warn("sync submission unlock failed", zap.Error(err))
			}
		}()

		c.Next()
	}
}

func denySyncRateLimit(c *gin.Context, endpoint, reason string, retryAfter time.Duration) {
	logger.FromContext(c.Request.Context()).Warn("sync rate limit exceeded",
		zap.String("reason", reason),
		zap.String("endpoint", endpoint),
	)
	seconds := int(math.Ceil(retryAfter.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	c.Header("Retry-After", strconv.Itoa(seconds))
	c.Header("X-Rate-Limited-Reason", reason)
	AbortWithError(c, ErrRateLimited)
}

// readSyncRateLimitKey peeks at the body and puts it back for the handler.
func readSyncRateLimitKey(c *gin.Context) (syncRateLimitKey, error) {
	var key syncRateLimitKey
	if c.Request.Body == nil {
		return key, nil
	}
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return key, err
	}
	c.Request.Body = io.NopCloser(bytes.NewBuffer(body))
	if len(body) == 0 {
		return key, nil
	}
	if err := json.Unmarshal(body, &key); err != nil {
		return syncRateLimitKey{}, nil
	}
	key.DeviceID = strings.TrimSpace(key.DeviceID)
	key.LocalID = strings.TrimSpace(key.LocalID)
	return key, nil
}

func normalizeRateLimitEndpoint(c *gin.Context) string {
	if c == nil {
		return "unknown"
	}
	endpoint := strings.TrimSpace(c.FullPath())
	if endpoint == "" {
		endpoint = strings.TrimSpace(c.Request.URL.Path)
	}
	if endpoint == "" {
		endpoint = "unknown"
	}
	return endpoint
}
