package domain

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// ScoringMode records which scoring path produced a Score.
type ScoringMode string

const (
	// ModeNormal scores with the relevance model.
	ModeNormal ScoringMode = "NORMAL"
	// ModeRescore scores with the evaluation pipeline.
	ModeRescore ScoringMode = "RESCORE"
)

// ParseScoringMode parses NORMAL or RESCORE, case-sensitively.
func ParseScoringMode(s string) (ScoringMode, error) {
	switch ScoringMode(s) {
	case ModeNormal, ModeRescore:
		return ScoringMode(s), nil
	default:
		return "", fmt.Errorf("unknown scoring mode %q", s)
	}
}

// Score is a single quality measurement of an Interaction. Its identity is
// (CorrelationID, ScoredAt).
type Score struct {
	CorrelationID uuid.UUID   `json:"correlation_id"`
	Value         float64     `json:"score"`
	ScoredAt      time.Time   `json:"scored_at"`
	Mode          ScoringMode `json:"mode"`
}

// NewScore builds a Score dated at scoredAt.
func NewScore(correlationID uuid.UUID, value float64, scoredAt time.Time, mode ScoringMode) Score {
	return Score{
		CorrelationID: correlationID,
		Value:         value,
		ScoredAt:      NormalizeTime(scoredAt),
		Mode:          mode,
	}
}

// Interaction is the durable record merged from a Started/Completed pair.
type Interaction struct {
	CorrelationID uuid.UUID `json:"correlation_id"`
	Application   string    `json:"application"`
	Interface     string    `json:"interface"`
	Method        string    `json:"method"`
	InvokedAt     time.Time `json:"invoked_at"`
	SystemMessage string    `json:"system_message,omitempty"`
	UserMessage   string    `json:"user_message,omitempty"`
	Result        string    `json:"result"`
	Scores        []Score   `json:"scores"`
}

// NewInteraction merges a matched event pair. The invocation context is taken
// from the Started event; both events must share the correlation id.
func NewInteraction(started Started, completed Completed) (*Interaction, error) {
	if started.CorrelationID != completed.CorrelationID {
		return nil, fmt.Errorf("%w: started %s does not match completed %s",
			ErrInvalidEvent, started.CorrelationID, completed.CorrelationID)
	}
	if err := started.Validate(); err != nil {
		return nil, err
	}
	return &Interaction{
		CorrelationID: started.CorrelationID,
		Application:   started.Application,
		Interface:     started.Interface,
		Method:        started.Method,
		InvokedAt:     NormalizeTime(started.InvokedAt),
		SystemMessage: started.SystemMessage,
		UserMessage:   started.UserMessage,
		Result:        completed.Result,
		Scores:        []Score{},
	}, nil
}

// Source returns the interaction's source key.
func (i *Interaction) Source() SourceKey {
	return SourceKey{Application: i.Application, Interface: i.Interface, Method: i.Method}
}

// Query is the text the interaction answered: the system message and the user
// message separated by a blank line. An absent system message is omitted
// together with its separator.
func (i *Interaction) Query() string {
	if i.SystemMessage == "" {
		return i.UserMessage
	}
	return i.SystemMessage + "\n\n" + i.UserMessage
}

// AddScore appends s, keeping Scores ordered by ScoredAt.
func (i *Interaction) AddScore(s Score) error {
	if s.CorrelationID != i.CorrelationID {
		return fmt.Errorf("score for %s cannot be added to interaction %s", s.CorrelationID, i.CorrelationID)
	}
	for _, existing := range i.Scores {
		if existing.ScoredAt.Equal(s.ScoredAt) {
			return fmt.Errorf("%w: %s at %s", ErrDuplicateScore, s.CorrelationID, s.ScoredAt.Format(time.RFC3339Nano))
		}
	}
	i.Scores = append(i.Scores, s)
	sort.SliceStable(i.Scores, func(a, b int) bool {
		return i.Scores[a].ScoredAt.Before(i.Scores[b].ScoredAt)
	})
	return nil
}

// LatestScore returns the most recent score, if any.
func (i *Interaction) LatestScore() (Score, bool) {
	if len(i.Scores) == 0 {
		return Score{}, false
	}
	return i.Scores[len(i.Scores)-1], true
}

// Clone returns a deep copy of the interaction.
func (i *Interaction) Clone() *Interaction {
	c := *i
	c.Scores = append([]Score(nil), i.Scores...)
	if c.Scores == nil {
		c.Scores = []Score{}
	}
	return &c
}
