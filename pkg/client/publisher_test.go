package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type recorder struct {
	mu     sync.Mutex
	events []map[string]any
	auth   []string
}

func (r *recorder) received() []map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]map[string]any(nil), r.events...)
}

// scorerServer answers completions with score and records every event.
func scorerServer(t *testing.T, score float64) (*httptest.Server, *recorder) {
	t.Helper()
	rec := &recorder{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/events", r.URL.Path)
		var ev map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&ev))
		rec.mu.Lock()
		rec.events = append(rec.events, ev)
		rec.auth = append(rec.auth, r.Header.Get("Authorization"))
		rec.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if ev["type"] == "interaction.started" {
			w.WriteHeader(http.StatusAccepted)
			json.NewEncoder(w).Encode(map[string]any{"status": "accepted", "correlation_id": ev["correlation_id"]})
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"correlation_id": ev["correlation_id"],
			"score": map[string]any{
				"correlation_id": ev["correlation_id"],
				"score":          score,
				"scored_at":      time.Now().UTC(),
				"mode":           "RESCORE",
			},
		})
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func invocation() InvocationContext {
	return NewInvocation("billing", "ClaimApi", "submit")
}

func TestPublisher_NormalIsFireAndForget(t *testing.T) {
	srv, rec := scorerServer(t, 10)
	p := NewPublisher(srv.URL, WithLogger(quiet))
	ctx := context.Background()
	inv := invocation()

	require.NoError(t, p.Started(ctx, Started{InvocationContext: inv, SystemMessage: "be brief", UserMessage: "summarize"}))
	score, err := p.Completed(ctx, Completed{InvocationContext: inv, Result: "approved"})
	require.NoError(t, err)
	assert.Nil(t, score)

	require.NoError(t, p.Close(ctx))
	events := rec.received()
	require.Len(t, events, 2)
	assert.Equal(t, "interaction.started", events[0]["type"])
	assert.Equal(t, "interaction.completed", events[1]["type"])
	for _, ev := range events {
		assert.Equal(t, inv.CorrelationID.String(), ev["correlation_id"])
		assert.Equal(t, "billing", ev["application"])
	}
}

func TestPublisher_NormalKeepsOrderPerInvocation(t *testing.T) {
	release := make(chan struct{})
	startedSeen := make(chan struct{})
	var mu sync.Mutex
	var order []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&ev))
		typ, _ := ev["type"].(string)
		if typ == "interaction.started" && ev["user_message"] == "slow" {
			close(startedSeen)
			<-release
		}
		mu.Lock()
		order = append(order, typ+"/"+ev["application"].(string))
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	p := NewPublisher(srv.URL, WithLogger(quiet))
	ctx := context.Background()
	slow := invocation()
	other := NewInvocation("claims", "ClaimApi", "submit")

	require.NoError(t, p.Started(ctx, Started{InvocationContext: slow, UserMessage: "slow"}))
	<-startedSeen
	_, err := p.Completed(ctx, Completed{InvocationContext: slow, Result: "done"})
	require.NoError(t, err)
	require.NoError(t, p.Started(ctx, Started{InvocationContext: other, UserMessage: "fast"}))

	// Other invocations are not held back by the stalled one.
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 1
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{"interaction.started/claims"}, order)
	mu.Unlock()

	close(release)
	require.NoError(t, p.Close(ctx))
	assert.Equal(t, []string{
		"interaction.started/claims",
		"interaction.started/billing",
		"interaction.completed/billing",
	}, order)
}

func TestPublisher_NormalSwallowsFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewPublisher(srv.URL, WithLogger(quiet))
	ctx := context.Background()
	_, err := p.Completed(ctx, Completed{InvocationContext: invocation(), Result: "x"})
	assert.NoError(t, err)
	assert.NoError(t, p.Close(ctx))
}

func TestPublisher_RescoreThreshold(t *testing.T) {
	tests := []struct {
		name      string
		score     float64
		threshold float64
		wantBelow bool
	}{
		{name: "passing", score: 100, threshold: DefaultThreshold},
		{name: "at threshold passes", score: 60, threshold: 60},
		{name: "below", score: 0, threshold: DefaultThreshold, wantBelow: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, rec := scorerServer(t, tt.score)
			p := NewPublisher(srv.URL, WithMode(ModeRescore), WithThreshold(tt.threshold), WithLogger(quiet))
			ctx := context.Background()
			inv := invocation()

			require.NoError(t, p.Started(ctx, Started{InvocationContext: inv, UserMessage: "summarize"}))
			require.Len(t, rec.received(), 1, "started is sent synchronously")

			score, err := p.Completed(ctx, Completed{InvocationContext: inv, Result: "approved"})
			require.NotNil(t, score)
			assert.Equal(t, tt.score, score.Value)
			if !tt.wantBelow {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrBelowThreshold)
			var below *BelowThresholdError
			require.True(t, errors.As(err, &below))
			assert.Equal(t, inv.CorrelationID, below.CorrelationID)
			assert.Equal(t, tt.threshold, below.Threshold)
		})
	}
}

func TestPublisher_RescoreErrors(t *testing.T) {
	t.Run("api error", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusConflict)
			w.Write([]byte(`{"error":{"type":"conflict_error","message":"no started event"}}`))
		}))
		defer srv.Close()

		p := NewPublisher(srv.URL, WithMode(ModeRescore), WithLogger(quiet))
		_, err := p.Completed(context.Background(), Completed{InvocationContext: invocation(), Result: "x"})
		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
		assert.Equal(t, "conflict_error", apiErr.Type)
		assert.Equal(t, "no started event", apiErr.Message)
	})

	t.Run("stored but not scored", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"correlation_id":"` + uuid.NewString() + `","score":null,"scoring_error":"judge unavailable"}`))
		}))
		defer srv.Close()

		p := NewPublisher(srv.URL, WithMode(ModeRescore), WithLogger(quiet))
		score, err := p.Completed(context.Background(), Completed{InvocationContext: invocation(), Result: "x"})
		assert.Nil(t, score)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "judge unavailable")
		assert.NotErrorIs(t, err, ErrBelowThreshold)
	})
}

func TestPublisher_Validation(t *testing.T) {
	p := NewPublisher("http://unused", WithLogger(quiet))
	ctx := context.Background()

	missingID := invocation()
	missingID.CorrelationID = uuid.Nil
	assert.Error(t, p.Started(ctx, Started{InvocationContext: missingID}))

	missingTime := invocation()
	missingTime.InvokedAt = time.Time{}
	_, err := p.Completed(ctx, Completed{InvocationContext: missingTime})
	assert.Error(t, err)

	missingApp := invocation()
	missingApp.Application = ""
	assert.Error(t, p.Started(ctx, Started{InvocationContext: missingApp}))
}

func TestPublisher_Token(t *testing.T) {
	srv, rec := scorerServer(t, 100)
	p := NewPublisher(srv.URL+"/", WithMode(ModeRescore), WithToken("secret-token"), WithLogger(quiet))
	require.NoError(t, p.Started(context.Background(), Started{InvocationContext: invocation(), UserMessage: "hi"}))

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []string{"Bearer secret-token"}, rec.auth)
}
