package scoring

import (
	"fmt"

	"github.com/tjfontaine/interaction-scorer/internal/core/domain"
	"github.com/tjfontaine/interaction-scorer/internal/core/ports"
	"github.com/tjfontaine/interaction-scorer/internal/pkg/config"
)

// Models are the external models scorers are built from. Only the models
// the configured strategy needs must be set.
type Models struct {
	Relevance ports.RelevanceModel
	Chat      ports.ChatModel
	Embedding ports.EmbeddingModel
}

// Registry holds the scorers resolved once from configuration.
type Registry struct {
	Mode     domain.ScoringMode
	Strategy domain.Strategy
	Scorer   ports.Scorer
	Rescorer ports.Rescorer
}

// NewRegistry resolves the mode, the relevance scorer, and the evaluation
// rescorer for the configured strategy.
func NewRegistry(cfg config.ScoringConfig, models Models, store ports.InteractionStore, opts ...Option) (*Registry, error) {
	mode, err := domain.ParseScoringMode(cfg.Mode)
	if err != nil {
		return nil, err
	}
	if models.Relevance == nil {
		return nil, fmt.Errorf("a relevance model is required")
	}

	var judge ports.Judge
	strategy := domain.Strategy(cfg.Strategy)
	switch strategy {
	case domain.StrategyAIJudge, "":
		if models.Chat == nil {
			return nil, fmt.Errorf("strategy %s requires a judge chat model", domain.StrategyAIJudge)
		}
		strategy = domain.StrategyAIJudge
		judge = NewAIJudge(models.Chat)
	case domain.StrategySemanticSimilarity:
		if models.Embedding == nil {
			return nil, fmt.Errorf("strategy %s requires an embedding model", strategy)
		}
		judge = NewSimilarityJudge(models.Embedding, cfg.Similarity.Threshold)
	default:
		return nil, fmt.Errorf("unknown scoring strategy %q", cfg.Strategy)
	}

	evalOpts := append([]Option{WithPassThreshold(cfg.PassThreshold)}, opts...)
	return &Registry{
		Mode:     mode,
		Strategy: strategy,
		Scorer:   NewRelevanceScorer(models.Relevance, opts...),
		Rescorer: NewEvaluationScorer(NewStoreSamples(store, cfg.MaxSamples), judge, evalOpts...),
	}, nil
}

// WithObservability returns a copy of r whose scorers are traced and
// measured by in.
func (r *Registry) WithObservability(in *Instrumentation) *Registry {
	out := *r
	out.Scorer = in.Scorer(r.Scorer)
	out.Rescorer = in.Rescorer(r.Rescorer)
	return &out
}
