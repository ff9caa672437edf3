// Package storagetest holds the behavioural contract every ports.Store
// backend must satisfy.
package storagetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tjfontaine/interaction-scorer/internal/core/domain"
	"github.com/tjfontaine/interaction-scorer/internal/core/ports"
)

// Factory opens an empty store. The store is closed by the suite.
type Factory func(t *testing.T) ports.Store

// BaseTime anchors the timestamps used by the suite.
var BaseTime = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

// Run executes the contract suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s ports.Store)
	}{
		{"EventsInArrivalOrder", testEventsInArrivalOrder},
		{"MaterializePair", testMaterializePair},
		{"MaterializeWithoutStarted", testMaterializeWithoutStarted},
		{"MaterializeReplay", testMaterializeReplay},
		{"MaterializeDuplicateStarted", testMaterializeDuplicateStarted},
		{"MaterializeEarliestInvocationWins", testMaterializeEarliestInvocationWins},
		{"ConcurrentMaterialize", testConcurrentMaterialize},
		{"Scores", testScores},
		{"FindInteractions", testFindInteractions},
		{"Sources", testSources},
		{"DeleteCascadesScores", testDeleteCascadesScores},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			defer s.Close()
			tt.fn(t, s)
		})
	}
}

// Pair builds a Started/Completed pair for a fresh correlation id.
func Pair(app, iface, method string, at time.Time) (domain.Started, domain.Completed) {
	ic := domain.InvocationContext{
		Application:   app,
		Interface:     iface,
		Method:        method,
		CorrelationID: uuid.New(),
		InvokedAt:     domain.NormalizeTime(at),
	}
	return domain.Started{InvocationContext: ic, SystemMessage: "You are helpful", UserMessage: "Summarize claim 42"},
		domain.Completed{InvocationContext: ic, Result: "Claim 42 approved"}
}

// Materialized stores and materializes a pair, failing the test on error.
func Materialized(t *testing.T, s ports.Store, app, iface, method string, at time.Time) *domain.Interaction {
	t.Helper()
	ctx := context.Background()
	started, completed := Pair(app, iface, method, at)
	if _, err := s.AppendEvent(ctx, started); err != nil {
		t.Fatalf("AppendEvent() error = %v", err)
	}
	res, err := s.Materialize(ctx, completed)
	if err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}
	return res.Interaction
}

func testEventsInArrivalOrder(t *testing.T, s ports.Store) {
	ctx := context.Background()
	started, completed := Pair("billing", "ClaimApi", "submit", BaseTime)

	if _, err := s.AppendEvent(ctx, started); err != nil {
		t.Fatalf("AppendEvent(started) error = %v", err)
	}
	if _, err := s.AppendEvent(ctx, completed); err != nil {
		t.Fatalf("AppendEvent(completed) error = %v", err)
	}

	all, err := s.EventsFor(ctx, started.CorrelationID)
	if err != nil {
		t.Fatalf("EventsFor() error = %v", err)
	}
	if len(all) != 2 || all[0].Event.Kind() != domain.EventStarted || all[1].Event.Kind() != domain.EventCompleted {
		t.Fatalf("EventsFor() = %+v, want started then completed", all)
	}
	if all[0].ID == uuid.Nil || all[0].RecordedAt.IsZero() {
		t.Errorf("store did not assign identity: %+v", all[0])
	}

	onlyStarted, err := s.StartedEventsFor(ctx, started.CorrelationID)
	if err != nil {
		t.Fatalf("StartedEventsFor() error = %v", err)
	}
	if len(onlyStarted) != 1 {
		t.Fatalf("StartedEventsFor() returned %d events, want 1", len(onlyStarted))
	}
	got := onlyStarted[0].Event.(domain.Started)
	if got.SystemMessage != started.SystemMessage || got.UserMessage != started.UserMessage || !got.InvokedAt.Equal(started.InvokedAt) {
		t.Errorf("stored started = %+v, want %+v", got, started)
	}

	n, err := s.DeleteEventsFor(ctx, started.CorrelationID)
	if err != nil {
		t.Fatalf("DeleteEventsFor() error = %v", err)
	}
	if n != 2 {
		t.Errorf("DeleteEventsFor() = %d, want 2", n)
	}
}

func testMaterializePair(t *testing.T, s ports.Store) {
	ctx := context.Background()
	started, completed := Pair("billing", "ClaimApi", "submit", BaseTime)
	if _, err := s.AppendEvent(ctx, started); err != nil {
		t.Fatalf("AppendEvent() error = %v", err)
	}

	res, err := s.Materialize(ctx, completed)
	if err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}
	if res.DeletedEvents != 1 || len(res.Duplicates) != 0 {
		t.Errorf("result = %+v, want one deleted event and no duplicates", res)
	}

	got, err := s.GetInteraction(ctx, started.CorrelationID)
	if err != nil {
		t.Fatalf("GetInteraction() error = %v", err)
	}
	if got.Application != "billing" || got.Interface != "ClaimApi" || got.Method != "submit" {
		t.Errorf("source = %s, want billing::ClaimApi::submit", got.Source())
	}
	if got.SystemMessage != "You are helpful" || got.UserMessage != "Summarize claim 42" || got.Result != "Claim 42 approved" {
		t.Errorf("messages = %+v", got)
	}
	if !got.InvokedAt.Equal(BaseTime) {
		t.Errorf("InvokedAt = %v, want %v", got.InvokedAt, BaseTime)
	}
	if len(got.Scores) != 0 {
		t.Errorf("Scores = %v, want none", got.Scores)
	}

	left, err := s.EventsFor(ctx, started.CorrelationID)
	if err != nil {
		t.Fatalf("EventsFor() error = %v", err)
	}
	if len(left) != 0 {
		t.Errorf("%d raw events left after materialization", len(left))
	}
}

func testMaterializeWithoutStarted(t *testing.T, s ports.Store) {
	ctx := context.Background()
	_, completed := Pair("billing", "ClaimApi", "submit", BaseTime)

	_, err := s.Materialize(ctx, completed)
	if !errors.Is(err, domain.ErrUnresolvedCorrelation) {
		t.Fatalf("Materialize() error = %v, want ErrUnresolvedCorrelation", err)
	}
	if _, err := s.GetInteraction(ctx, completed.CorrelationID); !errors.Is(err, domain.ErrInteractionNotFound) {
		t.Errorf("GetInteraction() error = %v, want ErrInteractionNotFound", err)
	}
	all, err := s.FindInteractions(ctx, domain.InteractionQuery{})
	if err != nil {
		t.Fatalf("FindInteractions() error = %v", err)
	}
	if len(all) != 0 {
		t.Errorf("FindInteractions() returned %d interactions, want 0", len(all))
	}
}

func testMaterializeReplay(t *testing.T, s ports.Store) {
	ctx := context.Background()
	started, completed := Pair("billing", "ClaimApi", "submit", BaseTime)
	if _, err := s.AppendEvent(ctx, started); err != nil {
		t.Fatalf("AppendEvent() error = %v", err)
	}
	if _, err := s.Materialize(ctx, completed); err != nil {
		t.Fatalf("first Materialize() error = %v", err)
	}
	if _, err := s.Materialize(ctx, completed); !errors.Is(err, domain.ErrUnresolvedCorrelation) {
		t.Fatalf("replayed Materialize() error = %v, want ErrUnresolvedCorrelation", err)
	}

	all, err := s.FindInteractions(ctx, domain.InteractionQuery{})
	if err != nil {
		t.Fatalf("FindInteractions() error = %v", err)
	}
	if len(all) != 1 {
		t.Errorf("FindInteractions() returned %d interactions, want 1", len(all))
	}
}

func testMaterializeDuplicateStarted(t *testing.T, s ports.Store) {
	ctx := context.Background()
	first, completed := Pair("billing", "ClaimApi", "submit", BaseTime)
	second := first
	second.UserMessage = "a late duplicate"

	if _, err := s.AppendEvent(ctx, first); err != nil {
		t.Fatalf("AppendEvent(first) error = %v", err)
	}
	if _, err := s.AppendEvent(ctx, second); err != nil {
		t.Fatalf("AppendEvent(second) error = %v", err)
	}

	res, err := s.Materialize(ctx, completed)
	if err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}
	if res.Interaction.UserMessage != first.UserMessage {
		t.Errorf("UserMessage = %q, want earliest event's %q", res.Interaction.UserMessage, first.UserMessage)
	}
	if len(res.Duplicates) != 1 || res.DeletedEvents != 2 {
		t.Errorf("result = %+v, want one duplicate and two deleted events", res)
	}
	left, _ := s.EventsFor(ctx, first.CorrelationID)
	if len(left) != 0 {
		t.Errorf("%d raw events left", len(left))
	}
}

func testMaterializeEarliestInvocationWins(t *testing.T, s ports.Store) {
	ctx := context.Background()
	earliest, completed := Pair("billing", "ClaimApi", "submit", BaseTime)
	later := earliest
	later.InvokedAt = BaseTime.Add(time.Minute)
	later.UserMessage = "invoked later, arrived first"

	if _, err := s.AppendEvent(ctx, later); err != nil {
		t.Fatalf("AppendEvent(later) error = %v", err)
	}
	if _, err := s.AppendEvent(ctx, earliest); err != nil {
		t.Fatalf("AppendEvent(earliest) error = %v", err)
	}

	started, err := s.StartedEventsFor(ctx, earliest.CorrelationID)
	if err != nil {
		t.Fatalf("StartedEventsFor() error = %v", err)
	}
	if len(started) != 2 || !started[0].Event.Invocation().InvokedAt.Equal(BaseTime) {
		t.Fatalf("StartedEventsFor() = %+v, want the BaseTime event first", started)
	}

	res, err := s.Materialize(ctx, completed)
	if err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}
	if res.Interaction.UserMessage != earliest.UserMessage {
		t.Errorf("UserMessage = %q, want earliest invocation's %q", res.Interaction.UserMessage, earliest.UserMessage)
	}
	if !res.Interaction.InvokedAt.Equal(BaseTime) {
		t.Errorf("InvokedAt = %v, want %v", res.Interaction.InvokedAt, BaseTime)
	}
	if len(res.Duplicates) != 1 {
		t.Errorf("Duplicates = %d, want 1", len(res.Duplicates))
	}
}

func testConcurrentMaterialize(t *testing.T, s ports.Store) {
	ctx := context.Background()
	started, completed := Pair("billing", "ClaimApi", "submit", BaseTime)
	if _, err := s.AppendEvent(ctx, started); err != nil {
		t.Fatalf("AppendEvent() error = %v", err)
	}

	const workers = 8
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		successes  int
		unresolved int
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Materialize(ctx, completed)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, domain.ErrUnresolvedCorrelation):
				unresolved++
			default:
				t.Errorf("Materialize() unexpected error = %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 || unresolved != workers-1 {
		t.Errorf("successes = %d, unresolved = %d; want 1 and %d", successes, unresolved, workers-1)
	}
}

func testScores(t *testing.T, s ports.Store) {
	ctx := context.Background()
	i := Materialized(t, s, "billing", "ClaimApi", "submit", BaseTime)

	later := domain.NewScore(i.CorrelationID, 100, BaseTime.Add(2*time.Minute), domain.ModeRescore)
	earlier := domain.NewScore(i.CorrelationID, 0.87, BaseTime.Add(time.Minute), domain.ModeNormal)
	for _, sc := range []domain.Score{later, earlier} {
		if err := s.AppendScore(ctx, sc); err != nil {
			t.Fatalf("AppendScore() error = %v", err)
		}
	}

	got, err := s.GetInteraction(ctx, i.CorrelationID)
	if err != nil {
		t.Fatalf("GetInteraction() error = %v", err)
	}
	if len(got.Scores) != 2 {
		t.Fatalf("Scores = %v, want 2", got.Scores)
	}
	if got.Scores[0].Mode != domain.ModeNormal || got.Scores[0].Value != 0.87 || !got.Scores[0].ScoredAt.Equal(earlier.ScoredAt) {
		t.Errorf("Scores[0] = %+v, want %+v", got.Scores[0], earlier)
	}
	if got.Scores[1].Mode != domain.ModeRescore || got.Scores[1].Value != 100 {
		t.Errorf("Scores[1] = %+v, want %+v", got.Scores[1], later)
	}

	if err := s.AppendScore(ctx, earlier); !errors.Is(err, domain.ErrDuplicateScore) {
		t.Errorf("duplicate AppendScore() error = %v, want ErrDuplicateScore", err)
	}
	orphan := domain.NewScore(uuid.New(), 1, BaseTime, domain.ModeNormal)
	if err := s.AppendScore(ctx, orphan); !errors.Is(err, domain.ErrInteractionNotFound) {
		t.Errorf("orphan AppendScore() error = %v, want ErrInteractionNotFound", err)
	}

	scored, err := s.FindScoredInteractions(ctx)
	if err != nil {
		t.Fatalf("FindScoredInteractions() error = %v", err)
	}
	if len(scored) != 1 || scored[0].CorrelationID != i.CorrelationID {
		t.Errorf("FindScoredInteractions() = %v", scored)
	}
}

func testFindInteractions(t *testing.T, s ports.Store) {
	ctx := context.Background()
	Materialized(t, s, "billing", "ClaimApi", "submit", BaseTime)
	Materialized(t, s, "billing", "ClaimApi", "cancel", BaseTime.Add(time.Hour))
	Materialized(t, s, "billing", "InvoiceApi", "submit", BaseTime.Add(2*time.Hour))
	Materialized(t, s, "claims", "ClaimApi", "submit", BaseTime.Add(3*time.Hour))

	start := BaseTime.Add(time.Hour)
	end := BaseTime.Add(2 * time.Hour)
	tests := []struct {
		name  string
		query domain.InteractionQuery
		want  int
	}{
		{"empty matches all", domain.InteractionQuery{}, 4},
		{"application", domain.InteractionQuery{Application: "billing"}, 3},
		{"application and interface", domain.InteractionQuery{Application: "billing", Interface: "ClaimApi"}, 2},
		{"full source", domain.InteractionQuery{Application: "billing", Interface: "ClaimApi", Method: "submit"}, 1},
		{"method only", domain.InteractionQuery{Method: "submit"}, 3},
		{"inclusive range", domain.InteractionQuery{Start: &start, End: &end}, 2},
		{"start only", domain.InteractionQuery{Start: &end}, 2},
		{"range and application", domain.InteractionQuery{Application: "claims", Start: &start, End: &end}, 0},
		{"unknown application", domain.InteractionQuery{Application: "nope"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.FindInteractions(ctx, tt.query)
			if err != nil {
				t.Fatalf("FindInteractions() error = %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("FindInteractions() returned %d, want %d", len(got), tt.want)
			}
			for _, i := range got {
				if !tt.query.Matches(i) {
					t.Errorf("result %s does not match the query", i.CorrelationID)
				}
			}
		})
	}

	inverted := domain.InteractionQuery{Start: &end, End: &start}
	if _, err := s.FindInteractions(ctx, inverted); !errors.Is(err, domain.ErrInvalidQuery) {
		t.Errorf("inverted range error = %v, want ErrInvalidQuery", err)
	}
}

func testSources(t *testing.T, s ports.Store) {
	ctx := context.Background()
	a := Materialized(t, s, "billing", "ClaimApi", "submit", BaseTime)
	Materialized(t, s, "billing", "ClaimApi", "submit", BaseTime.Add(time.Minute))
	Materialized(t, s, "claims", "ClaimApi", "submit", BaseTime)

	got, err := s.FindBySource(ctx, a.Source())
	if err != nil {
		t.Fatalf("FindBySource() error = %v", err)
	}
	if len(got) != 2 {
		t.Errorf("FindBySource() returned %d, want 2", len(got))
	}

	ok, err := s.ContainsSource(ctx, a.Source())
	if err != nil || !ok {
		t.Errorf("ContainsSource(%s) = %v, %v; want true", a.Source(), ok, err)
	}
	ok, err = s.ContainsSource(ctx, domain.SourceKey{Application: "billing", Interface: "ClaimApi", Method: "cancel"})
	if err != nil || ok {
		t.Errorf("ContainsSource(unknown) = %v, %v; want false", ok, err)
	}

	sources, err := s.ListSources(ctx)
	if err != nil {
		t.Fatalf("ListSources() error = %v", err)
	}
	if len(sources) != 2 || sources[0].String() != "billing::ClaimApi::submit" || sources[1].String() != "claims::ClaimApi::submit" {
		t.Errorf("ListSources() = %v", sources)
	}
}

func testDeleteCascadesScores(t *testing.T, s ports.Store) {
	ctx := context.Background()
	i := Materialized(t, s, "billing", "ClaimApi", "submit", BaseTime)
	if err := s.AppendScore(ctx, domain.NewScore(i.CorrelationID, 0.4, BaseTime, domain.ModeNormal)); err != nil {
		t.Fatalf("AppendScore() error = %v", err)
	}

	if err := s.DeleteInteraction(ctx, i.CorrelationID); err != nil {
		t.Fatalf("DeleteInteraction() error = %v", err)
	}
	if _, err := s.GetInteraction(ctx, i.CorrelationID); !errors.Is(err, domain.ErrInteractionNotFound) {
		t.Errorf("GetInteraction() error = %v, want ErrInteractionNotFound", err)
	}
	scored, err := s.FindScoredInteractions(ctx)
	if err != nil {
		t.Fatalf("FindScoredInteractions() error = %v", err)
	}
	if len(scored) != 0 {
		t.Errorf("scores outlived their interaction: %v", scored)
	}
	// Re-creating the interaction must not resurrect the old scores.
	started := domain.Started{InvocationContext: domain.InvocationContext{
		Application: i.Application, Interface: i.Interface, Method: i.Method,
		CorrelationID: i.CorrelationID, InvokedAt: i.InvokedAt,
	}}
	if _, err := s.AppendEvent(ctx, started); err != nil {
		t.Fatalf("AppendEvent() error = %v", err)
	}
	res, err := s.Materialize(ctx, domain.Completed{InvocationContext: started.InvocationContext, Result: "again"})
	if err != nil {
		t.Fatalf("Materialize() error = %v", err)
	}
	got, _ := s.GetInteraction(ctx, res.Interaction.CorrelationID)
	if got == nil || len(got.Scores) != 0 {
		t.Errorf("recreated interaction has scores: %+v", got)
	}

	if err := s.DeleteInteraction(ctx, uuid.New()); !errors.Is(err, domain.ErrInteractionNotFound) {
		t.Errorf("DeleteInteraction(unknown) error = %v, want ErrInteractionNotFound", err)
	}
}
