package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/smallbiznis/carehub/internal/payment/domain"
	"github.com/stretchr/testify/require"
)

func newClient(url string, maxTries uint, trip uint32) *Client {
	return New(Config{
		Provider:      "test",
		BaseURL:       url,
		AccessToken:   "tok_123",
		MaxTries:      maxTries,
		RetryInterval: time.Millisecond,
		TripFailures:  trip,
	})
}

func TestDoRetriesTransportFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		require.Equal(t, "Bearer tok_123", r.Header.Get("Authorization"))
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var in map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		require.Equal(t, "10.00", in["amount"])
		_, _ = io.WriteString(w, `{"id":"abc"}`)
	}))
	defer srv.Close()

	var out struct {
		ID string `json:"id"`
	}
	err := newClient(srv.URL, 3, 10).Do(context.Background(), http.MethodPost, "/v1/payments", map[string]string{"amount": "10.00"}, &out)
	require.NoError(t, err)
	require.Equal(t, "abc", out.ID)
	require.EqualValues(t, 3, calls.Load())
}

func TestDoDoesNotRetryRejections(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"message":"invalid amount"}`)
	}))
	defer srv.Close()

	err := newClient(srv.URL, 3, 10).Do(context.Background(), http.MethodPost, "/v1/payments", map[string]string{}, nil)
	require.ErrorIs(t, err, domain.ErrGatewayRejected)
	require.Contains(t, err.Error(), "invalid amount")
	require.EqualValues(t, 1, calls.Load())
}

func TestDoGivesUpAfterMaxTries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := newClient(srv.URL, 2, 10).Do(context.Background(), http.MethodGet, "/v1/payments/1", nil, nil)
	require.ErrorIs(t, err, domain.ErrGatewayUnavailable)
	require.EqualValues(t, 2, calls.Load())
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := newClient(srv.URL, 1, 2)
	for i := 0; i < 2; i++ {
		err := client.Do(context.Background(), http.MethodGet, "/ping", nil, nil)
		require.ErrorIs(t, err, domain.ErrGatewayUnavailable)
	}

	err := client.Do(context.Background(), http.MethodGet, "/ping", nil, nil)
	require.ErrorIs(t, err, domain.ErrGatewayUnavailable)
	require.Contains(t, err.Error(), "circuit breaker is open")
	require.EqualValues(t, 2, calls.Load())
}

func TestDoRejectsUndecodableBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `not json`)
	}))
	defer srv.Close()

	var out map[string]any
	err := newClient(srv.URL, 3, 10).Do(context.Background(), http.MethodGet, "/x", nil, &out)
	require.ErrorIs(t, err, domain.ErrInvalidPayload)
}

func TestRetryable(t *testing.T) {
	require.False(t, Retryable(nil))
	require.True(t, Retryable(&StatusError{StatusCode: 503}))
	require.False(t, Retryable(&StatusError{StatusCode: 422}))
	require.True(t, Retryable(io.ErrUnexpectedEOF))
	require.True(t, Retryable(context.DeadlineExceeded))
	require.False(t, Retryable(errors.New("boom")))
}
