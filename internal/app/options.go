package app

import (
	"fmt"
	"log/slog"

	"github.com/tjfontaine/interaction-scorer/internal/adapters/config/file"
	"github.com/tjfontaine/interaction-scorer/internal/core/ports"
)

// Option is a functional option for configuring an App.
type Option func(*App) error

// WithFileConfig reads config from a YAML file and reloads the log level
// when the file changes.
func WithFileConfig(path string) Option {
	return func(a *App) error {
		provider, err := file.NewProvider(path, a.logger)
		if err != nil {
			return fmt.Errorf("create file config provider: %w", err)
		}
		a.config = provider
		return nil
	}
}

// WithConfigProvider uses a custom configuration source.
func WithConfigProvider(provider ports.ConfigProvider) Option {
	return func(a *App) error {
		a.config = provider
		return nil
	}
}

// WithLogger sets the logger. When level is non-nil it is updated from
// logging.level on start and on every config reload.
func WithLogger(logger *slog.Logger, level *slog.LevelVar) Option {
	return func(a *App) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		a.logger = logger
		a.level = level
		return nil
	}
}

// WithCoreOptions passes options through to NewCore, for embedding with a
// custom store or models.
func WithCoreOptions(opts ...CoreOption) Option {
	return func(a *App) error {
		a.coreOpts = append(a.coreOpts, opts...)
		return nil
	}
}

// WithEventSource adds an external event source fed into the ingest pool.
func WithEventSource(source ports.EventSource) Option {
	return func(a *App) error {
		a.sources = append(a.sources, source)
		return nil
	}
}
