// Package correlator pairs Started and Completed events into interactions
// and applies the configured scoring policy to each new interaction.
package correlator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/tjfontaine/interaction-scorer/internal/core/domain"
	"github.com/tjfontaine/interaction-scorer/internal/core/ports"
	"github.com/tjfontaine/interaction-scorer/internal/scoring"
)

// Option configures a Correlator.
type Option func(*Correlator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Correlator) { c.logger = logger }
}

// Correlator handles interaction lifecycle events.
type Correlator struct {
	store    ports.Store
	registry *scoring.Registry
	logger   *slog.Logger
}

var _ ports.EventHandler = (*Correlator)(nil)

// New creates a Correlator. The scoring mode is taken from registry and
// stays fixed for the Correlator's lifetime.
func New(store ports.Store, registry *scoring.Registry, opts ...Option) *Correlator {
	c := &Correlator{
		store:    store,
		registry: registry,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Mode returns the scoring mode applied to new interactions.
func (c *Correlator) Mode() domain.ScoringMode {
	return c.registry.Mode
}

// Handle records a Started event, or materializes and scores the interaction
// closed by a Completed event. A Completed event yields the new score, or a
// nil score and a *domain.ScoringError when the interaction was stored but
// could not be scored.
func (c *Correlator) Handle(ctx context.Context, event domain.Event) (*domain.Score, error) {
	if err := domain.ValidateEvent(event); err != nil {
		return nil, err
	}

	switch e := event.(type) {
	case domain.Started:
		return nil, c.started(ctx, e)
	case *domain.Started:
		return nil, c.started(ctx, *e)
	case domain.Completed:
		return c.completed(ctx, e)
	case *domain.Completed:
		return c.completed(ctx, *e)
	default:
		return nil, fmt.Errorf("%w: unsupported event %T", domain.ErrInvalidEvent, event)
	}
}

func (c *Correlator) started(ctx context.Context, e domain.Started) error {
	env, err := c.store.AppendEvent(ctx, e)
	if err != nil {
		return fmt.Errorf("failed to record started event: %w", err)
	}
	c.logger.Debug("interaction started",
		slog.String("correlation_id", e.CorrelationID.String()),
		slog.String("source", e.Source().String()),
		slog.String("event_id", env.ID.String()))
	return nil
}

func (c *Correlator) completed(ctx context.Context, e domain.Completed) (*domain.Score, error) {
	res, err := c.store.Materialize(ctx, e)
	if err != nil {
		if errors.Is(err, domain.ErrUnresolvedCorrelation) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to materialize interaction: %w", err)
	}

	if len(res.Duplicates) > 0 {
		ids := make([]string, len(res.Duplicates))
		for i, d := range res.Duplicates {
			ids[i] = d.ID.String()
		}
		c.logger.Warn("multiple started events for interaction",
			slog.String("correlation_id", e.CorrelationID.String()),
			slog.String("error", domain.ErrDuplicateStartedEvent.Error()),
			slog.String("used_event_id", res.Started.ID.String()),
			slog.Any("duplicate_event_ids", ids))
	}

	c.logger.Info("interaction materialized",
		slog.String("correlation_id", e.CorrelationID.String()),
		slog.String("source", e.Source().String()),
		slog.Int("deleted_events", res.DeletedEvents))

	return c.ScoreInteraction(ctx, res.Interaction)
}

// ScoreInteraction applies the scoring policy to a stored interaction and
// persists the score. NORMAL mode runs the relevance scorer; RESCORE mode
// runs evaluation and persists the score even when it did not pass.
func (c *Correlator) ScoreInteraction(ctx context.Context, interaction *domain.Interaction) (*domain.Score, error) {
	var score domain.Score

	switch c.registry.Mode {
	case domain.ModeRescore:
		res, err := c.registry.Rescorer.Rescore(ctx, interaction)
		if err != nil {
			return nil, c.scoringError(interaction, domain.ModeRescore, err)
		}
		if res.BelowThreshold() {
			c.logger.Warn("interaction below threshold",
				slog.String("correlation_id", interaction.CorrelationID.String()),
				slog.String("strategy", string(res.Report.Strategy)),
				slog.Float64("score", res.Score.Value))
		}
		score = res.Score
	default:
		s, err := c.registry.Scorer.Score(ctx, interaction)
		if err != nil {
			return nil, c.scoringError(interaction, domain.ModeNormal, err)
		}
		score = s
	}

	// The interaction is already durable, so a lost score is a scoring
	// failure rather than a failed event.
	if err := c.store.AppendScore(ctx, score); err != nil {
		return nil, c.scoringError(interaction, score.Mode, fmt.Errorf("failed to persist score: %w", err))
	}
	return &score, nil
}

// Rescore evaluates a stored interaction and persists a RESCORE score
// regardless of the configured mode.
func (c *Correlator) Rescore(ctx context.Context, correlationID uuid.UUID) (*domain.RescoreResult, error) {
	interaction, err := c.store.GetInteraction(ctx, correlationID)
	if err != nil {
		return nil, err
	}

	res, err := c.registry.Rescorer.Rescore(ctx, interaction)
	if err != nil {
		return nil, c.scoringError(interaction, domain.ModeRescore, err)
	}
	if err := c.store.AppendScore(ctx, res.Score); err != nil {
		return nil, fmt.Errorf("failed to persist score: %w", err)
	}

	c.logger.Info("interaction rescored",
		slog.String("correlation_id", correlationID.String()),
		slog.Float64("score", res.Score.Value),
		slog.Bool("passed", res.Report.Passed))
	return &res, nil
}

func (c *Correlator) scoringError(interaction *domain.Interaction, mode domain.ScoringMode, err error) error {
	serr := &domain.ScoringError{
		CorrelationID: interaction.CorrelationID,
		Source:        interaction.Source(),
		Mode:          mode,
		Err:           err,
	}
	c.logger.Error("interaction scoring failed",
		slog.String("correlation_id", interaction.CorrelationID.String()),
		slog.String("mode", string(mode)),
		slog.String("error", err.Error()))
	return serr
}
