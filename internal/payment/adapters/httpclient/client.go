// Package httpclient is the JSON transport shared by the HTTP payment adapters.
// Transport failures are retried with exponential backoff and feed a per-provider circuit breaker;
// gateway answers, including 4xx, are returned as they are.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/smallbiznis/carehub/internal/payment/domain"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

const (
	defaultTimeout       = 10 * time.Second
	defaultMaxTries      = 3
	defaultRetryInterval = 200 * time.Millisecond
	defaultBreakerOpen   = 30 * time.Second
	defaultTripFailures  = 5
	maxErrorBody         = 512
)

type Config struct {
	Provider      string
	BaseURL       string
	AccessToken   string
	Timeout       time.Duration
	MaxTries      uint
	RetryInterval time.Duration
	// BreakerOpen is how long the breaker rejects calls after tripping.
	BreakerOpen  time.Duration
	TripFailures uint32
	Log          *zap.Logger
}

// StatusError is a non-2xx gateway answer.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway returned %d: %s", e.StatusCode, e.Body)
}

type Client struct {
	provider string
	baseURL  string
	token    string
	maxTries uint
	interval time.Duration
	http     *http.Client
	breaker  *gobreaker.CircuitBreaker
	log      *zap.Logger
}

func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxTries == 0 {
		cfg.MaxTries = defaultMaxTries
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = defaultRetryInterval
	}
	if cfg.BreakerOpen <= 0 {
		cfg.BreakerOpen = defaultBreakerOpen
	}
	if cfg.TripFailures == 0 {
		cfg.TripFailures = defaultTripFailures
	}
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("payment.http").With(zap.String("provider", cfg.Provider))

	trip := cfg.TripFailures
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Provider,
		MaxRequests: 1,
		Timeout:     cfg.BreakerOpen,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= trip
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !Retryable(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("gateway circuit breaker state changed",
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &Client{
		provider: cfg.Provider,
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		token:    cfg.AccessToken,
		maxTries: cfg.MaxTries,
		interval: cfg.RetryInterval,
		http:     &http.Client{Timeout: cfg.Timeout},
		breaker:  breaker,
		log:      log,
	}
}

// Do sends in as JSON and decodes the response into out when out is non-nil.
// Exhausted transport retries and an open breaker wrap domain.ErrGatewayUnavailable;
// other non-2xx answers wrap domain.ErrGatewayRejected.
func (c *Client) Do(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s: marshal request: %w", c.provider, err)
		}
		body = encoded
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = c.interval

	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		_, err := c.breaker.Execute(func() (interface{}, error) {
			return nil, c.once(ctx, method, path, body, out)
		})
		switch {
		case err == nil:
			return struct{}{}, nil
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return struct{}{}, backoff.Permanent(err)
		case Retryable(err):
			c.log.Warn("gateway call failed, retrying",
				zap.String("method", method),
				zap.String("path", path),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			return struct{}{}, err
		default:
			return struct{}{}, backoff.Permanent(err)
		}
	}, backoff.WithBackOff(policy), backoff.WithMaxTries(c.maxTries))
	if err == nil {
		return nil
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode < http.StatusInternalServerError {
		return fmt.Errorf("%w: %s %s: %v", domain.ErrGatewayRejected, c.provider, path, err)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s %s: %w", c.provider, path, ctxErr)
	}
	if Retryable(err) || errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %s %s: %v", domain.ErrGatewayUnavailable, c.provider, path, err)
	}
	return fmt.Errorf("%s %s: %w", c.provider, path, err)
}

func (c *Client) once(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", domain.ErrInvalidPayload, err)
	}
	return nil
}

// Retryable reports whether err is a transport failure: network, timeout, connection refused or 5xx.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= http.StatusInternalServerError
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
