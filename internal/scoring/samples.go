package scoring

import (
	"context"
	"fmt"

	"github.com/tjfontaine/interaction-scorer/internal/core/domain"
	"github.com/tjfontaine/interaction-scorer/internal/core/ports"
)

// StoreSamples draws evaluation samples from stored interactions of the same
// source.
type StoreSamples struct {
	store ports.InteractionStore
	max   int
}

var _ ports.SampleSource = (*StoreSamples)(nil)

// NewStoreSamples creates a sample source. A max of zero or less returns
// every matching interaction.
func NewStoreSamples(store ports.InteractionStore, max int) *StoreSamples {
	return &StoreSamples{store: store, max: max}
}

// Samples returns the most recent interactions of the source, excluding
// interaction itself, oldest first.
func (s *StoreSamples) Samples(ctx context.Context, interaction *domain.Interaction) ([]domain.Sample, error) {
	source := interaction.Source()
	found, err := s.store.FindBySource(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("failed to load samples for %s: %w", source, err)
	}

	samples := make([]domain.Sample, 0, len(found))
	for _, past := range found {
		if past.CorrelationID == interaction.CorrelationID {
			continue
		}
		samples = append(samples, domain.Sample{
			Name:           past.CorrelationID.String(),
			Input:          past.Query(),
			ExpectedOutput: past.Result,
		})
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrNoSamplesForSource, source)
	}
	if s.max > 0 && len(samples) > s.max {
		samples = samples[len(samples)-s.max:]
	}
	return samples, nil
}
