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
	quotaAllowed     metric.Int64Counter
	quotaDenied      metric.Int64Counter
	quotaCooldownHit metric.Int64Counter
	webhookApplied   metric.Int64Counter
	webhookIgnored   metric.Int64Counter
	webhookDuplicate metric.Int64Counter
	lazyDowngrades   metric.Int64Counter
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

	return provider, nil
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	switch strings.ToLower(strings.TrimSpace(protocol)) {
	case "http", "http/protobuf":
		return otlpmetrichttp.New(context.Background(),
			otlpmetrichttp.WithEndpoint(endpoint),
			otlpmetrichttp.WithInsecure(),
		)
	case "", "grpc":
		return otlpmetricgrpc.New(context.Background(),
			otlpmetricgrpc.WithEndpoint(endpoint),
			otlpmetricgrpc.WithInsecure(),
		)
	default:
		return nil, fmt.Errorf("unsupported otlp protocol %q", protocol)
	}
}

// New builds the application instruments from the registered provider.
func New(provider metric.MeterProvider) (*Metrics, error) {
	meter := provider.Meter("gosuraksha.entitlements")

	quotaAllowed, err := meter.Int64Counter("quota_checks_allowed_total",
		metric.WithDescription("Quota checks that admitted the request."))
	if err != nil {
		return nil, err
	}
	quotaDenied, err := meter.Int64Counter("quota_checks_denied_total",
		metric.WithDescription("Quota checks denied at or over the ceiling."))
	if err != nil {
		return nil, err
	}
	quotaCooldownHit, err := meter.Int64Counter("quota_cooldown_short_circuits_total",
		metric.WithDescription("Denials served from the post-breach cooldown without touching counters."))
	if err != nil {
		return nil, err
	}
	webhookApplied, err := meter.Int64Counter("subscription_events_applied_total",
		metric.WithDescription("Billing events applied to account state."))
	if err != nil {
		return nil, err
	}
	webhookIgnored, err := meter.Int64Counter("subscription_events_ignored_total",
		metric.WithDescription("Billing events ignored as out of order."))
	if err != nil {
		return nil, err
	}
	webhookDuplicate, err := meter.Int64Counter("subscription_events_duplicate_total",
		metric.WithDescription("Redelivered billing events acknowledged idempotently."))
	if err != nil {
		return nil, err
	}
	lazyDowngrades, err := meter.Int64Counter("subscription_lazy_downgrades_total",
		metric.WithDescription("Expired paid plans downgraded on read."))
	if err != nil {
		return nil, err
	}

	return &Metrics{
		quotaAllowed:     quotaAllowed,
		quotaDenied:      quotaDenied,
		quotaCooldownHit: quotaCooldownHit,
		webhookApplied:   webhookApplied,
		webhookIgnored:   webhookIgnored,
		webhookDuplicate: webhookDuplicate,
		lazyDowngrades:   lazyDowngrades,
	}, nil
}

func (m *Metrics) QuotaAllowed(ctx context.Context, limitType string) {
	if m == nil || m.quotaAllowed == nil {
		return
	}
	m.quotaAllowed.Add(ctx, 1, metric.WithAttributes(attribute.String("limit_type", limitType)))
}

func (m *Metrics) QuotaDenied(ctx context.Context, limitType string) {
	if m == nil || m.quotaDenied == nil {
		return
	}
	m.quotaDenied.Add(ctx, 1, metric.WithAttributes(attribute.String("limit_type", limitType)))
}

func (m *Metrics) QuotaCooldownHit(ctx context.Context, limitType string) {
	if m == nil || m.quotaCooldownHit == nil {
		return
	}
	m.quotaCooldownHit.Add(ctx, 1, metric.WithAttributes(attribute.String("limit_type", limitType)))
}

func (m *Metrics) WebhookApplied(ctx context.Context, eventType string) {
	if m == nil || m.webhookApplied == nil {
		return
	}
	m.webhookApplied.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", eventType)))
}

func (m *Metrics) WebhookIgnored(ctx context.Context, eventType string) {
	if m == nil || m.webhookIgnored == nil {
		return
	}
	m.webhookIgnored.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", eventType)))
}

func (m *Metrics) WebhookDuplicate(ctx context.Context, eventType string) {
	if m == nil || m.webhookDuplicate == nil {
		return
	}
	m.webhookDuplicate.Add(ctx, 1, metric.WithAttributes(attribute.String("event_type", eventType)))
}

func (m *Metrics) LazyDowngrade(ctx context.Context) {
	if m == nil || m.lazyDowngrades == nil {
		return
	}
	m.lazyDowngrades.Add(ctx, 1)
}

// Noop returns inert instruments for tests.
func Noop() *Metrics {
	m, _ := New(noop.NewMeterProvider())
	return m
}
