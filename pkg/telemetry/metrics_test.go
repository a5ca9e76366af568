package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRecordOutbox(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordOutboxBatch("success", 3, 20*time.Millisecond)
	m.RecordOutboxBatch("success", 1, 10*time.Millisecond)
	m.SetOutboxBacklog(7)
	m.RecordEventPublished("payment.approved", "")

	if got := testutil.ToFloat64(m.outboxDispatch.WithLabelValues("success")); got != 2 {
		t.Fatalf("expected 2 batches, got %v", got)
	}
	if got := testutil.ToFloat64(m.outboxBacklog); got != 7 {
		t.Fatalf("expected backlog 7, got %v", got)
	}
	if got := testutil.ToFloat64(m.eventsPublished.WithLabelValues("payment.approved", "unknown")); got != 1 {
		t.Fatalf("expected 1 published event, got %v", got)
	}
}

func TestMetricsReRegisterDoesNotPanic(t *testing.T) {
	reg := prometheus.NewRegistry()
	_ = NewMetrics(reg)
	_ = NewMetrics(reg)
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordOutboxBatch("success", 1, time.Millisecond)
	m.SetOutboxBacklog(1)
	m.ObserveInvoiceAmount("consumption", 10)
	m.ObserveCashDifference("cash", -10)
}
