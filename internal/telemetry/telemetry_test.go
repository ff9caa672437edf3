package telemetry

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/tjfontaine/interaction-scorer/internal/pkg/config"
)

func TestInitTracer(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	for _, exporter := range []string{"none", "stdout"} {
		t.Run(exporter, func(t *testing.T) {
			shutdown, err := InitTracer(context.Background(), config.TelemetryConfig{
				ServiceName: "test", Traces: exporter,
			}, logger)
			if err != nil {
				t.Fatalf("InitTracer: %v", err)
			}
			if err := shutdown(context.Background()); err != nil {
				t.Errorf("shutdown: %v", err)
			}
		})
	}

	if _, err := InitTracer(context.Background(), config.TelemetryConfig{Traces: "zipkin"}, logger); err == nil {
		t.Error("unknown exporter should fail")
	}
}

func TestInitTracer_DefaultConfig(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg, err := config.LoadFile("")
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Telemetry.Traces != "stdout" {
		t.Fatalf("default traces = %q, want stdout", cfg.Telemetry.Traces)
	}

	shutdown, err := InitTracer(context.Background(), cfg.Telemetry, logger)
	if err != nil {
		t.Fatalf("InitTracer with defaults: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestNewResource(t *testing.T) {
	res, err := newResource("interaction-scorer")
	if err != nil {
		t.Fatalf("newResource: %v", err)
	}
	v, ok := res.Set().Value("service.name")
	if !ok || v.AsString() != "interaction-scorer" {
		t.Errorf("service.name = %v, want interaction-scorer", v.AsString())
	}
}

func TestInitMeter(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	shutdown, err := InitMeter(context.Background(), config.TelemetryConfig{Metrics: "none"}, logger)
	if err != nil {
		t.Fatalf("InitMeter: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}

	if _, err := InitMeter(context.Background(), config.TelemetryConfig{Metrics: "prometheus"}, logger); err == nil {
		t.Error("unknown exporter should fail")
	}
}
