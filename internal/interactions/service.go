// Package interactions exposes stored interactions to the HTTP API and the
// CLI, and runs batch scoring over them.
package interactions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/tjfontaine/interaction-scorer/internal/core/domain"
	"github.com/tjfontaine/interaction-scorer/internal/core/ports"
)

// Scorer applies the scoring policy to stored interactions. It is
// implemented by *correlator.Correlator.
type Scorer interface {
	ScoreInteraction(ctx context.Context, interaction *domain.Interaction) (*domain.Score, error)
	Rescore(ctx context.Context, correlationID uuid.UUID) (*domain.RescoreResult, error)
}

// Option configures a Service.
type Option func(*Service)

// WithLimiter paces batch scoring with limiter, usually the limiter shared
// with the model clients.
func WithLimiter(limiter *rate.Limiter) Option {
	return func(s *Service) { s.limiter = limiter }
}

// WithConcurrency bounds the number of interactions scored at once by
// ScoreAll. Values below one mean one.
func WithConcurrency(n int) Option {
	return func(s *Service) { s.concurrency = n }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// Service reads interactions and triggers scoring.
type Service struct {
	store       ports.InteractionStore
	scorer      Scorer
	limiter     *rate.Limiter
	concurrency int
	logger      *slog.Logger
}

// NewService creates a Service.
func NewService(store ports.InteractionStore, scorer Scorer, opts ...Option) *Service {
	s := &Service{
		store:       store,
		scorer:      scorer,
		limiter:     rate.NewLimiter(rate.Inf, 0),
		concurrency: 1,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.concurrency < 1 {
		s.concurrency = 1
	}
	return s
}

func (s *Service) Get(ctx context.Context, correlationID uuid.UUID) (*domain.Interaction, error) {
	return s.store.GetInteraction(ctx, correlationID)
}

func (s *Service) Find(ctx context.Context, q domain.InteractionQuery) ([]*domain.Interaction, error) {
	return s.store.FindInteractions(ctx, q)
}

// FindBySource returns the interactions of an application::interface::method
// source key.
func (s *Service) FindBySource(ctx context.Context, source string) ([]*domain.Interaction, error) {
	key, err := domain.ParseSourceKey(source)
	if err != nil {
		return nil, err
	}
	return s.store.FindBySource(ctx, key)
}

func (s *Service) FindScored(ctx context.Context) ([]*domain.Interaction, error) {
	return s.store.FindScoredInteractions(ctx)
}

func (s *Service) ListSources(ctx context.Context) ([]domain.SourceKey, error) {
	return s.store.ListSources(ctx)
}

// Rescore evaluates one interaction and persists a RESCORE score.
func (s *Service) Rescore(ctx context.Context, correlationID uuid.UUID) (*domain.RescoreResult, error) {
	return s.scorer.Rescore(ctx, correlationID)
}

// BatchFailure is an interaction that could not be scored during a batch run.
type BatchFailure struct {
	CorrelationID uuid.UUID `json:"correlation_id" yaml:"correlation_id"`
	Error         string    `json:"error" yaml:"error"`
}

// BatchSummary reports a ScoreAll run.
type BatchSummary struct {
	Total    int            `json:"total" yaml:"total"`
	Scored   int            `json:"scored" yaml:"scored"`
	Failures []BatchFailure `json:"failures" yaml:"failures"`
}

// ScoreAll applies the scoring policy to every interaction matching q.
// Scoring failures are collected in the summary and do not stop the run;
// a persistence failure or cancellation of ctx does.
func (s *Service) ScoreAll(ctx context.Context, q domain.InteractionQuery) (*BatchSummary, error) {
	list, err := s.store.FindInteractions(ctx, q)
	if err != nil {
		return nil, err
	}

	summary := &BatchSummary{Total: len(list), Failures: []BatchFailure{}}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, interaction := range list {
		g.Go(func() error {
			if err := s.limiter.Wait(gctx); err != nil {
				return err
			}
			_, err := s.scorer.ScoreInteraction(gctx, interaction)

			var serr *domain.ScoringError
			switch {
			case err == nil:
				mu.Lock()
				summary.Scored++
				mu.Unlock()
				return nil
			case errors.As(err, &serr):
				mu.Lock()
				summary.Failures = append(summary.Failures, BatchFailure{
					CorrelationID: interaction.CorrelationID,
					Error:         err.Error(),
				})
				mu.Unlock()
				return nil
			default:
				return fmt.Errorf("scoring %s: %w", interaction.CorrelationID, err)
			}
		})
	}
	if err := g.Wait(); err != nil {
		return summary, err
	}

	s.logger.Info("batch scoring finished",
		slog.Int("total", summary.Total),
		slog.Int("scored", summary.Scored),
		slog.Int("failed", len(summary.Failures)))
	return summary, nil
}
