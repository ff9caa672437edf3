package scoring

import (
	"context"
	"log/slog"

	"github.com/tjfontaine/interaction-scorer/internal/core/domain"
	"github.com/tjfontaine/interaction-scorer/internal/core/ports"
)

// EvaluationScorer rescores an interaction by judging its result against
// past results of the same source.
type EvaluationScorer struct {
	samples ports.SampleSource
	judge   ports.Judge
	options
}

var _ ports.Rescorer = (*EvaluationScorer)(nil)

// NewEvaluationScorer creates an evaluation scorer.
func NewEvaluationScorer(samples ports.SampleSource, judge ports.Judge, opts ...Option) *EvaluationScorer {
	return &EvaluationScorer{samples: samples, judge: judge, options: newOptions(opts)}
}

// Rescore judges every sample. The score is the percentage of passing
// samples, with mode RESCORE, and the report passes when the score reaches
// the pass threshold. Missing samples fail before any model is called.
func (s *EvaluationScorer) Rescore(ctx context.Context, interaction *domain.Interaction) (domain.RescoreResult, error) {
	samples, err := s.samples.Samples(ctx, interaction)
	if err != nil {
		return domain.RescoreResult{}, err
	}

	report := domain.EvaluationReport{
		Strategy:  s.judge.Strategy(),
		Threshold: s.passThreshold,
		Samples:   make([]domain.SampleResult, 0, len(samples)),
	}

	passed := 0
	for _, sample := range samples {
		res, err := s.judge.Judge(ctx, interaction.Result, sample.ExpectedOutput)
		if err != nil {
			return domain.RescoreResult{}, err
		}
		res.Name = sample.Name
		res.Input = sample.Input
		report.Samples = append(report.Samples, res)
		if res.Passed {
			passed++
		}
	}
	if len(report.Samples) > 0 {
		report.Score = passScore * float64(passed) / float64(len(report.Samples))
		report.Passed = report.Score >= report.Threshold
	}

	s.logger.Debug("interaction rescored",
		slog.String("correlation_id", interaction.CorrelationID.String()),
		slog.String("strategy", string(report.Strategy)),
		slog.Int("samples", len(report.Samples)),
		slog.Float64("score", report.Score))

	return domain.RescoreResult{
		Score:  domain.NewScore(interaction.CorrelationID, report.Score, s.now(), domain.ModeRescore),
		Report: report,
	}, nil
}
