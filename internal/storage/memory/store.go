// Package memory provides an in-memory ports.Store for tests and single
// process deployments.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tjfontaine/interaction-scorer/internal/core/domain"
	"github.com/tjfontaine/interaction-scorer/internal/core/ports"
)

// Store is an in-memory implementation of ports.Store. A single mutex
// serializes writers, which makes Materialize trivially serializable.
type Store struct {
	mu           sync.RWMutex
	events       map[uuid.UUID][]domain.Envelope
	interactions map[uuid.UUID]*domain.Interaction
	now          func() time.Time
}

var _ ports.Store = (*Store)(nil)

// New creates a new in-memory store
func New() *Store {
	return &Store{
		events:       make(map[uuid.UUID][]domain.Envelope),
		interactions: make(map[uuid.UUID]*domain.Interaction),
		now:          time.Now,
	}
}

func (s *Store) AppendEvent(ctx context.Context, event domain.Event) (domain.Envelope, error) {
	if err := domain.ValidateEvent(event); err != nil {
		return domain.Envelope{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	env := domain.Envelope{ID: uuid.New(), RecordedAt: domain.NormalizeTime(s.now()), Event: event}
	id := event.Invocation().CorrelationID
	s.events[id] = append(s.events[id], env)
	return env, nil
}

func (s *Store) EventsFor(ctx context.Context, correlationID uuid.UUID) ([]domain.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.Envelope{}, s.events[correlationID]...), nil
}

func (s *Store) StartedEventsFor(ctx context.Context, correlationID uuid.UUID) ([]domain.Envelope, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.startedLocked(correlationID), nil
}

func (s *Store) startedLocked(correlationID uuid.UUID) []domain.Envelope {
	started := []domain.Envelope{}
	for _, env := range s.events[correlationID] {
		if env.Event.Kind() == domain.EventStarted {
			started = append(started, env)
		}
	}
	domain.SortByInvocation(started)
	return started
}

func (s *Store) DeleteEventsFor(ctx context.Context, correlationID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.events[correlationID])
	delete(s.events, correlationID)
	return n, nil
}

func (s *Store) Materialize(ctx context.Context, completed domain.Completed) (*ports.MaterializeResult, error) {
	if err := completed.Validate(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	id := completed.CorrelationID
	started := s.startedLocked(id)
	if len(started) == 0 {
		return nil, domain.UnresolvedCorrelation(id)
	}
	if _, exists := s.interactions[id]; exists {
		return nil, fmt.Errorf("%w: interaction %s is already materialized", domain.ErrUnresolvedCorrelation, id)
	}

	interaction, err := domain.NewInteraction(started[0].Event.(domain.Started), completed)
	if err != nil {
		return nil, err
	}
	deleted := len(s.events[id])
	delete(s.events, id)
	s.interactions[id] = interaction.Clone()

	return &ports.MaterializeResult{
		Interaction:   interaction,
		Started:       started[0],
		Duplicates:    started[1:],
		DeletedEvents: deleted,
	}, nil
}

func (s *Store) GetInteraction(ctx context.Context, correlationID uuid.UUID) (*domain.Interaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, exists := s.interactions[correlationID]
	if !exists {
		return nil, domain.InteractionNotFound(correlationID)
	}
	return i.Clone(), nil
}

func (s *Store) FindInteractions(ctx context.Context, q domain.InteractionQuery) ([]*domain.Interaction, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return s.filter(q.Matches), nil
}

func (s *Store) FindBySource(ctx context.Context, source domain.SourceKey) ([]*domain.Interaction, error) {
	return s.filter(func(i *domain.Interaction) bool { return i.Source() == source }), nil
}

func (s *Store) ContainsSource(ctx context.Context, source domain.SourceKey) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, i := range s.interactions {
		if i.Source() == source {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) FindScoredInteractions(ctx context.Context) ([]*domain.Interaction, error) {
	return s.filter(func(i *domain.Interaction) bool { return len(i.Scores) > 0 }), nil
}

func (s *Store) ListSources(ctx context.Context) ([]domain.SourceKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[domain.SourceKey]struct{})
	sources := []domain.SourceKey{}
	for _, i := range s.interactions {
		if _, ok := seen[i.Source()]; ok {
			continue
		}
		seen[i.Source()] = struct{}{}
		sources = append(sources, i.Source())
	}
	sort.Slice(sources, func(a, b int) bool { return sources[a].String() < sources[b].String() })
	return sources, nil
}

func (s *Store) filter(match func(*domain.Interaction) bool) []*domain.Interaction {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []*domain.Interaction{}
	for _, i := range s.interactions {
		if match(i) {
			result = append(result, i.Clone())
		}
	}
	domain.SortInteractions(result)
	return result
}

func (s *Store) AppendScore(ctx context.Context, score domain.Score) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, exists := s.interactions[score.CorrelationID]
	if !exists {
		return domain.InteractionNotFound(score.CorrelationID)
	}
	return i.AddScore(score)
}

func (s *Store) DeleteInteraction(ctx context.Context, correlationID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.interactions[correlationID]; !exists {
		return domain.InteractionNotFound(correlationID)
	}
	delete(s.interactions, correlationID)
	return nil
}

func (s *Store) Close() error {
	return nil
}
