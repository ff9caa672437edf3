// Package scoring turns materialized interactions into scores. NORMAL
// scores come from a relevance model; RESCORE scores come from evaluating
// the interaction against past interactions of the same source.
package scoring

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tjfontaine/interaction-scorer/internal/core/domain"
	"github.com/tjfontaine/interaction-scorer/internal/core/ports"
)

// Option configures scorers.
type Option func(*options)

type options struct {
	now           func() time.Time
	logger        *slog.Logger
	passThreshold float64
}

// WithClock sets the clock used for ScoredAt.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithPassThreshold sets the share of passing samples, on a 0-100 scale, an
// evaluation needs to pass.
func WithPassThreshold(threshold float64) Option {
	return func(o *options) { o.passThreshold = threshold }
}

func newOptions(opts []Option) options {
	o := options{now: time.Now, logger: slog.Default(), passThreshold: DefaultPassThreshold}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// modelFailure marks err as an external model failure.
func modelFailure(what string, err error) error {
	return fmt.Errorf("%w: %s: %w", domain.ErrScoringModelFailure, what, err)
}

// RelevanceScorer scores how relevant an interaction's result is to the
// prompt that produced it.
type RelevanceScorer struct {
	model ports.RelevanceModel
	options
}

var _ ports.Scorer = (*RelevanceScorer)(nil)

// NewRelevanceScorer creates a relevance scorer.
func NewRelevanceScorer(model ports.RelevanceModel, opts ...Option) *RelevanceScorer {
	return &RelevanceScorer{model: model, options: newOptions(opts)}
}

// Score asks the relevance model to rate the result against the system and
// user messages and returns the value verbatim as a NORMAL score.
func (s *RelevanceScorer) Score(ctx context.Context, interaction *domain.Interaction) (domain.Score, error) {
	value, err := s.model.Relevance(ctx, interaction.Result, interaction.Query())
	if err != nil {
		return domain.Score{}, modelFailure("relevance", err)
	}

	s.logger.Info("interaction scored",
		slog.String("correlation_id", interaction.CorrelationID.String()),
		slog.Float64("score", value))

	return domain.NewScore(interaction.CorrelationID, value, s.now(), domain.ModeNormal), nil
}
