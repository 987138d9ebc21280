package observability

import (
	"github.com/smallbiznis/gamestore/internal/observability/logger"
	"github.com/smallbiznis/gamestore/internal/observability/metrics"
	"github.com/smallbiznis/gamestore/internal/observability/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("observability",
	fx.Provide(LoadConfig),
	loggingModule,
	tracingModule,
	paymentMetricsModule,
)

var loggingModule = fx.Options(
	fx.Provide(provideLoggerConfig, logger.New),
)

var tracingModule = fx.Options(
	fx.Provide(provideTracingConfig, tracing.NewProvider),
	fx.Invoke(ensureTracingProvider),
)

// paymentMetricsModule carries the purchase flow instruments: otel counters
// for transitions, webhooks, checkouts and conflicts, and the prometheus
// collectors for gateway calls, purchase storage errors and status polls.
var paymentMetricsModule = fx.Options(
	fx.Provide(
		provideMetricsConfig,
		metrics.NewProvider,
		metrics.New,
		metrics.NewHTTPMetrics,
		provideGatewayMetrics,
	),
	fx.Invoke(registerPaymentMetrics),
)

func ensureTracingProvider(_ *sdktrace.TracerProvider) {}

// provideGatewayMetrics returns the process-wide gateway collectors; they are
// registered on the default prometheus registry once.
func provideGatewayMetrics(cfg metrics.Config) *metrics.GatewayMetrics {
	return metrics.GatewayWithConfig(cfg)
}

// registerPaymentMetrics builds the payment instruments at startup so /metrics
// exposes them before the first checkout.
func registerPaymentMetrics(log *zap.Logger, cfg metrics.Config, _ *metrics.Metrics, _ *metrics.GatewayMetrics) {
	log.Debug("payment metrics registered",
		zap.String("service", cfg.ServiceName),
		zap.Bool("otel_export", cfg.Enabled),
	)
}

func provideLoggerConfig(cfg Config) logger.Config {
	return logger.Config{
		ServiceName:         cfg.ServiceName,
		Environment:         cfg.Environment,
		Version:             cfg.Version,
		Level:               cfg.LogLevel,
		Format:              cfg.LogFormat,
		Debug:               cfg.Debug(),
		IncludeCaller:       true,
		IncludeStackOnError: cfg.Debug(),
	}
}

func provideTracingConfig(cfg Config) tracing.Config {
	return tracing.Config{
		Enabled:          cfg.OtelEnabled,
		ServiceName:      cfg.ServiceName,
		ServiceVersion:   cfg.Version,
		Environment:      cfg.Environment,
		ExporterEndpoint: cfg.OtelExporterEndpoint,
		ExporterProtocol: cfg.OtelExporterProtocol,
		SamplingRatio:    cfg.OtelSamplingRatio,
	}
}

func provideMetricsConfig(cfg Config) metrics.Config {
	return metrics.Config{
		Enabled:          cfg.OtelEnabled,
		ExporterEndpoint: cfg.OtelExporterEndpoint,
		ExporterProtocol: cfg.OtelExporterProtocol,
		ServiceName:      cfg.ServiceName,
		Environment:      cfg.Environment,
	}
}
