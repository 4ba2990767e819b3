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

// Metrics exposes application-level instruments.
type Metrics struct {
	usageEvents      metric.Int64Counter
	usageAlerts      metric.Int64Counter
	quotaDenials     metric.Int64Counter
	paymentEvents    metric.Int64Counter
	creditGrants     metric.Int64Counter
	cycleResets      metric.Int64Counter
	rateLimitAllowed metric.Int64Counter
	rateLimitDenied  metric.Int64Counter
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
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "metering"
	}
	meter := provider.Meter(name)

	usageEvents, err := meter.Int64Counter("metering_usage_events_total")
	if err != nil {
		return nil, err
	}
	usageAlerts, err := meter.Int64Counter("metering_usage_alerts_total")
	if err != nil {
		return nil, err
	}
	quotaDenials, err := meter.Int64Counter("metering_quota_denials_total")
	if err != nil {
		return nil, err
	}
	paymentEvents, err := meter.Int64Counter("metering_payment_events_total")
	if err != nil {
		return nil, err
	}
	creditGrants, err := meter.Int64Counter("metering_credit_grants_total")
	if err != nil {
		return nil, err
	}
	cycleResets, err := meter.Int64Counter("metering_cycle_resets_total")
	if err != nil {
		return nil, err
	}
	rateLimitAllowed, err := meter.Int64Counter("metering_rate_limit_allowed_total")
	if err != nil {
		return nil, err
	}
	rateLimitDenied, err := meter.Int64Counter("metering_rate_limit_denied_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		usageEvents:      usageEvents,
		usageAlerts:      usageAlerts,
		quotaDenials:     quotaDenials,
		paymentEvents:    paymentEvents,
		creditGrants:     creditGrants,
		cycleResets:      cycleResets,
		rateLimitAllowed: rateLimitAllowed,
		rateLimitDenied:  rateLimitDenied,
	}, nil
}

// RecordUsageEvent increments usage ingest counts per dimension.
func (m *Metrics) RecordUsageEvent(ctx context.Context, dimension string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("dimension", strings.TrimSpace(dimension)))
	m.usageEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordUsageAlert increments alert counts per threshold bucket.
func (m *Metrics) RecordUsageAlert(ctx context.Context, dimension, threshold string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("dimension", strings.TrimSpace(dimension)),
		attribute.String("threshold", strings.TrimSpace(threshold)),
	)
	m.usageAlerts.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordQuotaDenial increments quota denial counts per dimension and tier.
func (m *Metrics) RecordQuotaDenial(ctx context.Context, dimension, tier string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("dimension", strings.TrimSpace(dimension)),
		attribute.String("tier", strings.TrimSpace(tier)),
	)
	m.quotaDenials.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordPaymentEvent increments payment event counts.
func (m *Metrics) RecordPaymentEvent(ctx context.Context, provider, eventType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("event_type", strings.TrimSpace(eventType)),
	)
	m.paymentEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordCreditGrant increments credit grant counts per source.
func (m *Metrics) RecordCreditGrant(ctx context.Context, source string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("source", strings.TrimSpace(source)))
	m.creditGrants.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordCycleReset increments cycle reset counts.
func (m *Metrics) RecordCycleReset(ctx context.Context, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("reason", strings.TrimSpace(reason)))
	m.cycleResets.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitAllowed increments rate limit allow counts.
func (m *Metrics) RecordRateLimitAllowed(ctx context.Context, endpoint string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("endpoint", strings.TrimSpace(endpoint)))
	m.rateLimitAllowed.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordRateLimitDenied increments rate limit deny counts.
func (m *Metrics) RecordRateLimitDenied(ctx context.Context, endpoint, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("endpoint", strings.TrimSpace(endpoint)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.rateLimitDenied.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
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
	"dimension":   {},
	"tier":        {},
	"threshold":   {},
	"endpoint":    {},
	"status_code": {},
	"provider":    {},
	"event_type":  {},
	"source":      {},
	"reason":      {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
// User identifiers are never allowed as labels.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
