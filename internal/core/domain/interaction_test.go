package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newPair(t *testing.T, system, user, result string) (Started, Completed) {
	t.Helper()
	ic, err := NewInvocationContext("billing", "ClaimApi", "submit", uuid.New(), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	return Started{InvocationContext: ic, SystemMessage: system, UserMessage: user},
		Completed{InvocationContext: ic, Result: result}
}

func TestNewInteraction(t *testing.T) {
	s, c := newPair(t, "You are helpful", "Summarize claim 42", "Claim 42 approved")

	i, err := NewInteraction(s, c)
	if err != nil {
		t.Fatalf("NewInteraction: %v", err)
	}
	if i.CorrelationID != s.CorrelationID || i.Application != "billing" || i.Interface != "ClaimApi" || i.Method != "submit" {
		t.Errorf("context not carried over: %+v", i)
	}
	if i.SystemMessage != "You are helpful" || i.UserMessage != "Summarize claim 42" || i.Result != "Claim 42 approved" {
		t.Errorf("messages not carried over: %+v", i)
	}
	if len(i.Scores) != 0 {
		t.Errorf("new interaction has %d scores", len(i.Scores))
	}
}

func TestNewInteractionRejectsMismatchedPair(t *testing.T) {
	s, _ := newPair(t, "", "u", "")
	_, c := newPair(t, "", "u", "r")
	if _, err := NewInteraction(s, c); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("err = %v, want ErrInvalidEvent", err)
	}
}

func TestInteractionQueryText(t *testing.T) {
	tests := []struct {
		name   string
		system string
		user   string
		want   string
	}{
		{name: "system and user", system: "S", user: "U", want: "S\n\nU"},
		{name: "user only", user: "U", want: "U"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, c := newPair(t, tt.system, tt.user, "R")
			i, err := NewInteraction(s, c)
			if err != nil {
				t.Fatal(err)
			}
			if got := i.Query(); got != tt.want {
				t.Errorf("Query() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAddScore(t *testing.T) {
	s, c := newPair(t, "", "U", "R")
	i, _ := NewInteraction(s, c)
	base := time.Now()

	if err := i.AddScore(NewScore(i.CorrelationID, 0.5, base.Add(time.Second), ModeNormal)); err != nil {
		t.Fatal(err)
	}
	if err := i.AddScore(NewScore(i.CorrelationID, 100, base, ModeRescore)); err != nil {
		t.Fatal(err)
	}
	if i.Scores[0].Mode != ModeRescore {
		t.Errorf("scores not ordered by time: %+v", i.Scores)
	}
	latest, ok := i.LatestScore()
	if !ok || latest.Value != 0.5 {
		t.Errorf("LatestScore = %+v, %v", latest, ok)
	}

	err := i.AddScore(NewScore(i.CorrelationID, 1, base, ModeNormal))
	if !errors.Is(err, ErrDuplicateScore) {
		t.Errorf("duplicate identity: err = %v, want ErrDuplicateScore", err)
	}
	if err := i.AddScore(NewScore(uuid.New(), 1, base.Add(time.Hour), ModeNormal)); err == nil {
		t.Error("expected error for score of another interaction")
	}
}

func TestInteractionQueryPredicates(t *testing.T) {
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	i := &Interaction{Application: "billing", Interface: "ClaimApi", Method: "submit", InvokedAt: at}
	before, after := at.Add(-time.Hour), at.Add(time.Hour)

	tests := []struct {
		name  string
		query InteractionQuery
		preds int
		want  bool
	}{
		{name: "empty", query: InteractionQuery{}, preds: 0, want: true},
		{name: "application", query: InteractionQuery{Application: "billing"}, preds: 1, want: true},
		{name: "wrong method", query: InteractionQuery{Application: "billing", Method: "cancel"}, preds: 2, want: false},
		{name: "inclusive start", query: InteractionQuery{Start: &at}, preds: 1, want: true},
		{name: "inclusive end", query: InteractionQuery{End: &at}, preds: 1, want: true},
		{name: "in range", query: InteractionQuery{Start: &before, End: &after}, preds: 2, want: true},
		{name: "after range", query: InteractionQuery{End: &before}, preds: 1, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := len(tt.query.Predicates()); got != tt.preds {
				t.Errorf("len(Predicates()) = %d, want %d", got, tt.preds)
			}
			if got := tt.query.Matches(i); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInteractionQueryValidate(t *testing.T) {
	start := time.Now()
	end := start.Add(-time.Minute)
	q := InteractionQuery{Start: &start, End: &end}
	if err := q.Validate(); !errors.Is(err, ErrInvalidQuery) {
		t.Fatalf("err = %v, want ErrInvalidQuery", err)
	}
}
