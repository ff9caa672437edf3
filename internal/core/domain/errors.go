package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	// ErrUnresolvedCorrelation is returned when a Completed event has no stored
	// Started event, including a Completed event replayed after materialization.
	ErrUnresolvedCorrelation = errors.New("unresolved correlation")

	// ErrDuplicateStartedEvent marks more than one stored Started event for a
	// correlation id. It is logged, never returned to callers.
	ErrDuplicateStartedEvent = errors.New("duplicate started event")

	// ErrNoSamplesForSource is returned when evaluation has no past
	// interactions to compare against.
	ErrNoSamplesForSource = errors.New("no samples for source")

	// ErrScoringModelFailure wraps failures and timeouts of external models.
	ErrScoringModelFailure = errors.New("scoring model failure")

	// ErrBelowThreshold reports a rescore that completed but did not pass.
	ErrBelowThreshold = errors.New("rescore below threshold")

	ErrInteractionNotFound = errors.New("interaction not found")
	ErrInvalidEvent        = errors.New("invalid event")
	ErrInvalidQuery        = errors.New("invalid query")
	ErrDuplicateScore      = errors.New("duplicate score")
)

// UnresolvedCorrelation builds the error for a Completed event without a
// matching Started event.
func UnresolvedCorrelation(id uuid.UUID) error {
	return fmt.Errorf("%w: no started event for %s", ErrUnresolvedCorrelation, id)
}

// InteractionNotFound builds the error for an unknown correlation id.
func InteractionNotFound(id uuid.UUID) error {
	return fmt.Errorf("%w: %s", ErrInteractionNotFound, id)
}

// ScoringError is a non-fatal scoring failure reported after the interaction
// was durably materialized.
type ScoringError struct {
	CorrelationID uuid.UUID
	Source        SourceKey
	Mode          ScoringMode
	Err           error
}

func (e *ScoringError) Error() string {
	return fmt.Sprintf("scoring %s (%s, %s) failed: %v", e.CorrelationID, e.Source, e.Mode, e.Err)
}

func (e *ScoringError) Unwrap() error { return e.Err }
