package ports

import (
	"context"

	"github.com/tjfontaine/interaction-scorer/internal/core/domain"
)

// Scorer produces a NORMAL score for an interaction.
type Scorer interface {
	Score(ctx context.Context, interaction *domain.Interaction) (domain.Score, error)
}

// Rescorer evaluates an interaction and produces a RESCORE score with its report.
type Rescorer interface {
	Rescore(ctx context.Context, interaction *domain.Interaction) (domain.RescoreResult, error)
}

// RelevanceModel scores how well text answers query.
type RelevanceModel interface {
	Relevance(ctx context.Context, text, query string) (float64, error)
}

// ChatModel completes a single prompt.
type ChatModel interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// EmbeddingModel embeds texts in a shared vector space.
type EmbeddingModel interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// Judge decides whether a produced output matches an expected output.
type Judge interface {
	Strategy() domain.Strategy
	Judge(ctx context.Context, output, expected string) (domain.SampleResult, error)
}

// SampleSource provides reference samples for an interaction's source.
type SampleSource interface {
	// Samples returns past interactions recorded for interaction's source,
	// excluding interaction itself.
	Samples(ctx context.Context, interaction *domain.Interaction) ([]domain.Sample, error)
}
