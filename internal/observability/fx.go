package observability

import (
	"github.com/gosuraksha/entitlements/internal/config"
	"github.com/gosuraksha/entitlements/internal/observability/metrics"
	"go.uber.org/fx"
)

var Module = fx.Module("observability",
	fx.Provide(
		provideMetricsConfig,
		metrics.NewProvider,
		metrics.New,
	),
)

func provideMetricsConfig(cfg config.Config) metrics.Config {
	return metrics.Config{
		Enabled:          cfg.MetricsEnabled,
		ExporterEndpoint: cfg.OTLPEndpoint,
		ExporterProtocol: cfg.OTLPProtocol,
		ServiceName:      cfg.AppName,
		Environment:      cfg.Environment,
	}
}
