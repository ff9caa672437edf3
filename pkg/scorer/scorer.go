// Package scorer provides the public API for embedding the interaction
// scorer. This is the stable API for external consumers.
package scorer

import (
	"github.com/tjfontaine/interaction-scorer/internal/app"
	"github.com/tjfontaine/interaction-scorer/internal/core/ports"
	"github.com/tjfontaine/interaction-scorer/internal/scoring"
)

// Scorer runs the interaction scorer.
// See internal/app.App for full documentation.
type Scorer = app.App

// Option is a functional option for configuring a Scorer.
type Option = app.Option

// New creates a new Scorer with the given options.
// Example:
//
//	s, err := scorer.New(
//	    scorer.WithFileConfig("config.yaml"),
//	    scorer.WithLogger(logger, level),
//	)
var New = app.New

// Configuration options
var (
	// Config sources
	WithFileConfig     = app.WithFileConfig
	WithConfigProvider = app.WithConfigProvider

	// Ingestion
	WithEventSource = app.WithEventSource

	// Advanced options
	WithLogger = app.WithLogger
)

// WithStore replaces the configured storage. The caller keeps ownership of
// store and closes it after Shutdown.
func WithStore(store ports.Store) Option {
	return app.WithCoreOptions(app.WithStore(store))
}

// WithModels replaces the configured HTTP model clients.
func WithModels(models scoring.Models) Option {
	return app.WithCoreOptions(app.WithModels(models))
}
