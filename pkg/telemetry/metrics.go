package telemetry

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus primitives for the event outbox and money flows.
type Metrics struct {
	outboxDispatch     *prometheus.CounterVec
	outboxDispatchTime *prometheus.HistogramVec
	outboxBacklog      prometheus.Gauge
	eventsPublished    *prometheus.CounterVec
	invoiceAmount      *prometheus.HistogramVec
	cashDifference     *prometheus.HistogramVec
}

// NewMetrics registers the collectors on reg. A nil reg uses the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		outboxDispatch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carehub_outbox_dispatch_total",
			Help: "Counts dispatcher batches by status.",
		}, []string{"status"}),
		outboxDispatchTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "carehub_outbox_dispatch_duration_seconds",
			Help:    "Dispatcher batch durations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"status"}),
		outboxBacklog: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "carehub_outbox_backlog",
			Help: "Number of unpublished domain events.",
		}),
		eventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "carehub_domain_events_published_total",
			Help: "Domain events handed to the publisher by type and outcome.",
		}, []string{"type", "status"}),
		invoiceAmount: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "carehub_invoice_amount",
			Help:    "Invoice total distribution by invoice type.",
			Buckets: []float64{10, 50, 100, 250, 500, 1000, 5000},
		}, []string{"type"}),
		cashDifference: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "carehub_cash_close_difference",
			Help:    "Counted minus expected per payment method at cash session close.",
			Buckets: []float64{-100, -20, -5, -0.01, 0, 0.01, 5, 20, 100},
		}, []string{"method"}),
	}

	m.outboxDispatch = register(reg, m.outboxDispatch)
	m.outboxDispatchTime = register(reg, m.outboxDispatchTime)
	m.outboxBacklog = register(reg, m.outboxBacklog)
	m.eventsPublished = register(reg, m.eventsPublished)
	m.invoiceAmount = register(reg, m.invoiceAmount)
	m.cashDifference = register(reg, m.cashDifference)
	return m
}

// RecordOutboxBatch registers dispatch batch metrics.
func (m *Metrics) RecordOutboxBatch(status string, count int, duration time.Duration) {
	if m == nil {
		return
	}
	m.outboxDispatch.WithLabelValues(sanitizeLabel(status)).Inc()
	m.outboxDispatchTime.WithLabelValues(sanitizeLabel(status)).Observe(duration.Seconds())
}

// SetOutboxBacklog updates the backlog gauge.
func (m *Metrics) SetOutboxBacklog(value float64) {
	if m == nil {
		return
	}
	m.outboxBacklog.Set(value)
}

func (m *Metrics) RecordEventPublished(eventType, status string) {
	if m == nil {
		return
	}
	m.eventsPublished.WithLabelValues(sanitizeLabel(eventType), sanitizeLabel(status)).Inc()
}

// ObserveInvoiceAmount records an invoice total by invoice type.
func (m *Metrics) ObserveInvoiceAmount(invoiceType string, amount float64) {
	if m == nil {
		return
	}
	m.invoiceAmount.WithLabelValues(sanitizeLabel(invoiceType)).Observe(amount)
}

func (m *Metrics) ObserveCashDifference(method string, difference float64) {
	if m == nil {
		return
	}
	m.cashDifference.WithLabelValues(sanitizeLabel(method)).Observe(difference)
}

// register returns the already registered collector when one with the same descriptor exists.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) T {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func sanitizeLabel(val string) string {
	if val == "" {
		return "unknown"
	}
	return val
}
