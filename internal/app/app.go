package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tjfontaine/interaction-scorer/internal/adapters/events/redisstream"
	"github.com/tjfontaine/interaction-scorer/internal/core/ports"
	"github.com/tjfontaine/interaction-scorer/internal/ingest"
	"github.com/tjfontaine/interaction-scorer/internal/pkg/config"
	"github.com/tjfontaine/interaction-scorer/internal/server"
	"github.com/tjfontaine/interaction-scorer/internal/telemetry"
)

// App runs the scorer: HTTP ingestion and queries, optional stream
// ingestion, and telemetry. It can be embedded or run standalone.
type App struct {
	config   ports.ConfigProvider
	logger   *slog.Logger
	level    *slog.LevelVar
	coreOpts []CoreOption
	sources  []ports.EventSource

	core      *Core
	pool      *ingest.Pool
	server    *server.Server
	shutdowns []telemetry.ShutdownFunc

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// New creates an App. A config source is required.
func New(opts ...Option) (*App, error) {
	a := &App{logger: slog.Default()}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}
	if a.config == nil {
		return nil, fmt.Errorf("config provider required (use WithFileConfig or WithConfigProvider)")
	}
	return a, nil
}

// Handler returns the HTTP API handler. It is nil before Start.
func (a *App) Handler() http.Handler {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.server == nil {
		return nil
	}
	return a.server
}

// Core returns the assembled core. It is nil before Start.
func (a *App) Core() *Core {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.core
}

// Start loads config, initializes telemetry and storage, and starts serving.
// When listen is false the HTTP API is built but not bound to a port.
func (a *App) Start(ctx context.Context, listen bool) (err error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.ctx, a.cancel = context.WithCancel(ctx)
	defer func() {
		if err != nil {
			a.cancel()
			a.wg.Wait()
			if a.core != nil {
				a.core.Close()
			}
		}
	}()

	cfg, err := a.config.Load(a.ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	a.applyLevel(cfg)

	if err := a.initTelemetry(cfg); err != nil {
		return err
	}

	a.core, err = NewCore(cfg, a.logger, a.coreOpts...)
	if err != nil {
		return err
	}

	a.pool = ingest.NewPool(a.core.Correlator, ingest.Config{
		Workers:   cfg.Ingest.Workers,
		QueueSize: cfg.Ingest.QueueSize,
		Timeout:   config.Duration(cfg.Server.Timeout, 30*time.Second),
	}, a.logger)

	decoder, err := ingest.NewDecoder()
	if err != nil {
		return err
	}
	if cfg.Ingest.Redis.Enabled {
		a.sources = append(a.sources, redisstream.NewSource(cfg.Ingest.Redis, decoder, redisstream.WithLogger(a.logger)))
	}
	for _, src := range a.sources {
		a.wg.Add(1)
		go func(src ports.EventSource) {
			defer a.wg.Done()
			if err := src.Run(a.ctx, a.pool); err != nil {
				a.logger.Error("event source stopped", slog.String("error", err.Error()))
			}
		}(src)
	}

	a.server = server.New(server.Config{
		Port:      cfg.Server.Port,
		Timeout:   config.Duration(cfg.Server.Timeout, 30*time.Second),
		JWTSecret: cfg.Server.Auth.JWTSecret,
		Issuer:    cfg.Server.Auth.Issuer,
	}, decoder, a.pool, a.core.Interactions, a.logger)
	if listen {
		if err := a.server.Start(); err != nil {
			return err
		}
	}

	a.watchConfig()

	a.logger.Info("scorer started",
		slog.Int("port", cfg.Server.Port),
		slog.String("storage", cfg.Storage.Type),
		slog.String("mode", string(a.core.Registry.Mode)),
		slog.Int("event_sources", len(a.sources)))
	return nil
}

func (a *App) initTelemetry(cfg *config.Config) error {
	shutdownTracer, err := telemetry.InitTracer(a.ctx, cfg.Telemetry, a.logger)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	a.shutdowns = append(a.shutdowns, shutdownTracer)

	shutdownMeter, err := telemetry.InitMeter(a.ctx, cfg.Telemetry, a.logger)
	if err != nil {
		return fmt.Errorf("init meter: %w", err)
	}
	a.shutdowns = append(a.shutdowns, shutdownMeter)
	return nil
}

// Shutdown stops the HTTP server and event sources, drains the ingest pool,
// takes the shutdown backup when configured, and releases resources.
func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.logger.Info("shutting down scorer")
	var errs []error

	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown server: %w", err))
		}
	}
	if a.cancel != nil {
		a.cancel()
	}
	a.wg.Wait()

	for _, src := range a.sources {
		if err := src.Close(); err != nil {
			a.logger.Error("failed to close event source", slog.String("error", err.Error()))
		}
	}
	if a.pool != nil {
		if err := a.pool.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("drain ingest pool: %w", err))
		}
	}

	if a.core != nil {
		if a.core.Config.Backup.OnShutdown {
			if _, err := a.core.Backup(ctx); err != nil {
				errs = append(errs, fmt.Errorf("shutdown backup: %w", err))
			}
		}
		if err := a.core.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close storage: %w", err))
		}
	}

	for _, shutdown := range a.shutdowns {
		if err := shutdown(ctx); err != nil {
			a.logger.Error("failed to shutdown telemetry", slog.String("error", err.Error()))
		}
	}
	if err := a.config.Close(); err != nil {
		a.logger.Error("failed to close config", slog.String("error", err.Error()))
	}

	a.logger.Info("scorer shutdown complete")
	return errors.Join(errs...)
}

// watchConfig applies log level changes. Other settings take effect on
// restart. A failed watch is logged and the app keeps running.
func (a *App) watchConfig() {
	onChange := func(cfg *config.Config) {
		a.applyLevel(cfg)
	}
	if err := a.config.Watch(a.ctx, onChange); err != nil {
		a.logger.Error("config watch failed", slog.String("error", err.Error()))
	}
}

func (a *App) applyLevel(cfg *config.Config) {
	if a.level == nil {
		return
	}
	level, err := ParseLevel(cfg.Logging.Level)
	if err != nil {
		a.logger.Warn("ignoring invalid log level", slog.String("level", cfg.Logging.Level))
		return
	}
	if a.level.Level() != level {
		a.level.Set(level)
		a.logger.Info("log level set", slog.String("level", level.String()))
	}
}

// ParseLevel parses debug, info, warn or error.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, err
	}
	return level, nil
}
