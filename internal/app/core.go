// Package app assembles the scorer from configuration and manages its
// lifecycle.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"golang.org/x/time/rate"

	"github.com/tjfontaine/interaction-scorer/internal/backup"
	"github.com/tjfontaine/interaction-scorer/internal/core/ports"
	"github.com/tjfontaine/interaction-scorer/internal/correlator"
	"github.com/tjfontaine/interaction-scorer/internal/interactions"
	"github.com/tjfontaine/interaction-scorer/internal/models"
	"github.com/tjfontaine/interaction-scorer/internal/pkg/config"
	"github.com/tjfontaine/interaction-scorer/internal/scoring"
	"github.com/tjfontaine/interaction-scorer/internal/storage"
	"github.com/tjfontaine/interaction-scorer/internal/tokens"
)

// Core is the part of the scorer shared by the server and the CLI: the
// store, the scoring policy, and the services built on them.
type Core struct {
	Config       *config.Config
	Store        ports.Store
	Limiter      *rate.Limiter
	Registry     *scoring.Registry
	Correlator   *correlator.Correlator
	Interactions *interactions.Service

	logger    *slog.Logger
	ownsStore bool
}

// CoreOption customizes NewCore.
type CoreOption func(*coreOptions)

type coreOptions struct {
	store  ports.Store
	models *scoring.Models
}

// WithStore uses store instead of opening the configured one. The caller
// keeps ownership of store.
func WithStore(store ports.Store) CoreOption {
	return func(o *coreOptions) { o.store = store }
}

// WithModels uses models instead of the configured HTTP model clients.
func WithModels(m scoring.Models) CoreOption {
	return func(o *coreOptions) { o.models = &m }
}

// NewCore opens storage and resolves the scoring policy from cfg. Scorers
// report to the global OpenTelemetry providers.
func NewCore(cfg *config.Config, logger *slog.Logger, opts ...CoreOption) (*Core, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var o coreOptions
	for _, opt := range opts {
		opt(&o)
	}

	c := &Core{
		Config:  cfg,
		Limiter: models.NewLimiter(cfg.Models.RateLimit),
		logger:  logger,
	}

	if o.store != nil {
		c.Store = o.store
	} else {
		store, err := storage.Open(cfg.Storage, logger)
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		c.Store = store
		c.ownsStore = true
	}

	m := newModels(cfg.Models, c.Limiter, logger)
	if o.models != nil {
		m = *o.models
	}

	registry, err := scoring.NewRegistry(cfg.Scoring, m, c.Store, scoring.WithLogger(logger))
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("resolve scoring: %w", err)
	}
	instrumentation, err := scoring.NewInstrumentation(otel.GetTracerProvider(), otel.GetMeterProvider())
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("create scoring instrumentation: %w", err)
	}
	c.Registry = registry.WithObservability(instrumentation)

	c.Correlator = correlator.New(c.Store, c.Registry, correlator.WithLogger(logger))
	c.Interactions = interactions.NewService(c.Store, c.Correlator,
		interactions.WithLimiter(c.Limiter),
		interactions.WithConcurrency(cfg.Scoring.BatchConcurrency),
		interactions.WithLogger(logger))

	logger.Info("scoring resolved",
		slog.String("mode", string(c.Registry.Mode)),
		slog.String("strategy", string(c.Registry.Strategy)))
	return c, nil
}

// newModels builds the HTTP model clients. They share one traced HTTP
// client, one token counter and one rate limiter.
func newModels(cfg config.ModelsConfig, limiter *rate.Limiter, logger *slog.Logger) scoring.Models {
	opts := []models.ClientOption{
		models.WithHTTPClient(models.NewHTTPClient()),
		models.WithLimiter(limiter),
		models.WithTimeout(config.Duration(cfg.Timeout, 30*time.Second)),
		models.WithRetry(cfg.MaxAttempts, config.Duration(cfg.RetryBackoff, 500*time.Millisecond)),
		models.WithTokenCounter(tokens.NewCounter()),
		models.WithLogger(logger),
	}
	return scoring.Models{
		Relevance: models.NewRerankClient(cfg.Relevance, opts...),
		Chat:      models.NewChatClient(cfg.Judge, opts...),
		Embedding: models.NewEmbeddingClient(cfg.Embedding, opts...),
	}
}

// Backup snapshots the store to the configured backup sink.
func (c *Core) Backup(ctx context.Context) (string, error) {
	sink, err := backup.NewSink(ctx, c.Config.Backup)
	if err != nil {
		return "", err
	}
	return backup.Run(ctx, c.Store, sink, backup.Name(time.Now()), c.logger)
}

// Close closes the store if NewCore opened it.
func (c *Core) Close() error {
	if c.ownsStore && c.Store != nil {
		return c.Store.Close()
	}
	return nil
}
