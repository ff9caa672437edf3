package ports

import (
	"context"

	"github.com/google/uuid"

	"github.com/tjfontaine/interaction-scorer/internal/core/domain"
)

// EventStore holds raw lifecycle events until their pair is materialized.
type EventStore interface {
	// AppendEvent stores an event and assigns its id and recording time.
	AppendEvent(ctx context.Context, event domain.Event) (domain.Envelope, error)

	// EventsFor returns every stored event of a correlation id, oldest first.
	EventsFor(ctx context.Context, correlationID uuid.UUID) ([]domain.Envelope, error)

	// StartedEventsFor returns the stored Started events of a correlation id,
	// earliest invocation first. Ties keep arrival order.
	StartedEventsFor(ctx context.Context, correlationID uuid.UUID) ([]domain.Envelope, error)

	// DeleteEventsFor removes every stored event of a correlation id.
	DeleteEventsFor(ctx context.Context, correlationID uuid.UUID) (int, error)
}

// InteractionStore holds materialized interactions and their scores.
type InteractionStore interface {
	// GetInteraction returns the interaction with its scores, or
	// domain.ErrInteractionNotFound.
	GetInteraction(ctx context.Context, correlationID uuid.UUID) (*domain.Interaction, error)

	// FindInteractions returns the interactions matching every predicate of q.
	FindInteractions(ctx context.Context, q domain.InteractionQuery) ([]*domain.Interaction, error)

	// FindBySource returns the interactions recorded for a source key.
	FindBySource(ctx context.Context, source domain.SourceKey) ([]*domain.Interaction, error)

	// ContainsSource reports whether any interaction exists for a source key.
	ContainsSource(ctx context.Context, source domain.SourceKey) (bool, error)

	// FindScoredInteractions returns the interactions owning at least one score.
	FindScoredInteractions(ctx context.Context) ([]*domain.Interaction, error)

	// ListSources returns the distinct source keys with stored interactions.
	ListSources(ctx context.Context) ([]domain.SourceKey, error)

	// AppendScore persists a score for an existing interaction in its own
	// transaction.
	AppendScore(ctx context.Context, score domain.Score) error

	// DeleteInteraction removes an interaction together with its scores.
	DeleteInteraction(ctx context.Context, correlationID uuid.UUID) error
}

// MaterializeResult describes a successful materialization.
type MaterializeResult struct {
	Interaction *domain.Interaction
	// Started is the event the interaction was built from.
	Started domain.Envelope
	// Duplicates are the additional Started events found for the id.
	Duplicates    []domain.Envelope
	DeletedEvents int
}

// Materializer turns a Completed event into an Interaction. Finding the
// Started event, deleting the raw events and inserting the interaction happen
// in one serializable unit: of two concurrent calls for the same id exactly
// one succeeds and the other observes domain.ErrUnresolvedCorrelation.
type Materializer interface {
	Materialize(ctx context.Context, completed domain.Completed) (*MaterializeResult, error)
}

// Store is a complete storage backend.
type Store interface {
	EventStore
	InteractionStore
	Materializer
	Close() error
}
