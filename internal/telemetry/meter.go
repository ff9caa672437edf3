package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/tjfontaine/interaction-scorer/internal/pkg/config"
)

// InitMeter installs a global meter provider that periodically pushes to an
// OTLP gRPC collector. With metrics disabled the global no-op provider stays
// in place and instruments record nothing.
func InitMeter(ctx context.Context, cfg config.TelemetryConfig, logger *slog.Logger) (ShutdownFunc, error) {
	switch cfg.Metrics {
	case "", "none":
		logger.Info("metrics disabled")
		return noopShutdown, nil
	case "otlp":
	default:
		return nil, fmt.Errorf("unknown metric exporter %q", cfg.Metrics)
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
	if cfg.OTLPEndpoint != "" {
		opts = append(opts, otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint))
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	res, err := newResource(cfg.ServiceName)
	if err != nil {
		return nil, err
	}

	interval := config.Duration(cfg.MetricInterval, 15*time.Second)
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
	)
	otel.SetMeterProvider(mp)

	logger.Info("OpenTelemetry metrics initialized",
		slog.String("endpoint", cfg.OTLPEndpoint),
		slog.Duration("interval", interval))

	return mp.Shutdown, nil
}
