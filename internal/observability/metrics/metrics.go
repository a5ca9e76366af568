package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes the domain instruments. A nil *Metrics records nothing.
type Metrics struct {
	ledgerTransactions   metric.Int64Counter
	invoicesGenerated    metric.Int64Counter
	invoicesOverdue      metric.Int64Counter
	paymentNotifications metric.Int64Counter
	intentTransitions    metric.Int64Counter
	cashCloses           metric.Int64Counter
	syncSubmissions      metric.Int64Counter
	rateLimitAllowed     metric.Int64Counter
	rateLimitDenied      metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				log.Info("shutting down meter provider")
				return provider.Shutdown(ctx)
			},
		})
	}

	log.Info("metrics initialized",
		zap.String("endpoint", cfg.ExporterEndpoint),
		zap.String("protocol", cfg.ExporterProtocol),
	)
	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "carehub"
	}
	meter := provider.Meter(name)

	m := &Metrics{}
	counters := []struct {
		dst  *metric.Int64Counter
		name string
	}{
		{&m.ledgerTransactions, "carehub_ledger_transactions_total"},
		{&m.invoicesGenerated, "carehub_invoices_generated_total"},
		{&m.invoicesOverdue, "carehub_invoices_overdue_total"},
		{&m.paymentNotifications, "carehub_payment_notifications_total"},
		{&m.intentTransitions, "carehub_payment_intent_transitions_total"},
		{&m.cashCloses, "carehub_cash_session_closes_total"},
		{&m.syncSubmissions, "carehub_sync_submissions_total"},
		{&m.rateLimitAllowed, "carehub_rate_limit_allowed_total"},
		{&m.rateLimitDenied, "carehub_rate_limit_denied_total"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name)
		if err != nil {
			return nil, err
		}
		*c.dst = counter
	}
	return m, nil
}

func (m *Metrics) RecordLedgerTransaction(ctx context.Context, txType string) {
	if m == nil {
		return
	}
	m.ledgerTransactions.Add(ctx, 1, withAttrs(attribute.String("type", txType)))
}

func (m *Metrics) RecordInvoiceGenerated(ctx context.Context, invoiceType string) {
	if m == nil {
		return
	}
	m.invoicesGenerated.Add(ctx, 1, withAttrs(attribute.String("type", invoiceType)))
}

func (m *Metrics) RecordInvoiceOverdue(ctx context.Context, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.invoicesOverdue.Add(ctx, int64(count))
}

// RecordPaymentNotification counts inbound gateway notifications by outcome (applied, replayed, ignored, rejected).
func (m *Metrics) RecordPaymentNotification(ctx context.Context, provider, outcome string) {
	if m == nil {
		return
	}
	m.paymentNotifications.Add(ctx, 1, withAttrs(
		attribute.String("provider", provider),
		attribute.String("outcome", outcome),
	))
}

func (m *Metrics) RecordIntentTransition(ctx context.Context, provider, status string) {
	if m == nil {
		return
	}
	m.intentTransitions.Add(ctx, 1, withAttrs(
		attribute.String("provider", provider),
		attribute.String("status", status),
	))
}

func (m *Metrics) RecordCashClose(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.cashCloses.Add(ctx, 1, withAttrs(attribute.String("outcome", outcome)))
}

func (m *Metrics) RecordSyncSubmission(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.syncSubmissions.Add(ctx, 1, withAttrs(attribute.String("outcome", outcome)))
}

func (m *Metrics) RecordRateLimitAllowed(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	m.rateLimitAllowed.Add(ctx, 1, withAttrs(attribute.String("endpoint", endpoint)))
}

func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint, reason string) {
	if m == nil {
		return
	}
	m.rateLimitDenied.Add(ctx, 1, withAttrs(
		attribute.String("endpoint", endpoint),
		attribute.String("reason", reason),
	))
}

func withAttrs(attrs ...attribute.KeyValue) metric.AddOption {
	return metric.WithAttributes(FilterAttributes(attrs...)...)
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"type":        {},
	"provider":    {},
	"status":      {},
	"outcome":     {},
	"endpoint":    {},
	"reason":      {},
	"method":      {},
	"route":       {},
	"status_code": {},
}

// FilterAttributes strips disallowed labels and blank values to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		if attr.Value.Type() == attribute.STRING && strings.TrimSpace(attr.Value.AsString()) == "" {
			attr = attribute.String(string(attr.Key), "unknown")
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
