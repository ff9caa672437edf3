package redisstream

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tjfontaine/interaction-scorer/internal/core/domain"
	"github.com/tjfontaine/interaction-scorer/internal/ingest"
	"github.com/tjfontaine/interaction-scorer/internal/pkg/config"
)

// fakeStream models one consumer of a consumer group: entries move from
// fresh to pending on delivery and leave pending on XACK.
type fakeStream struct {
	mu       sync.Mutex
	fresh    []redis.XMessage
	pending  []redis.XMessage
	acked    []string
	groupErr error
	closed   bool
}

func (f *fakeStream) XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd {
	cmd := redis.NewStatusCmd(ctx)
	if f.groupErr != nil {
		cmd.SetErr(f.groupErr)
		return cmd
	}
	cmd.SetVal("OK")
	return cmd
}

func (f *fakeStream) XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd {
	cmd := redis.NewXStreamSliceCmd(ctx)
	f.mu.Lock()
	defer f.mu.Unlock()

	if a.Streams[1] == "0" {
		msgs := append([]redis.XMessage(nil), f.pending...)
		cmd.SetVal([]redis.XStream{{Stream: a.Streams[0], Messages: msgs}})
		return cmd
	}
	if len(f.fresh) == 0 {
		f.mu.Unlock()
		select {
		case <-ctx.Done():
		case <-time.After(5 * time.Millisecond):
		}
		f.mu.Lock()
		cmd.SetErr(redis.Nil)
		return cmd
	}
	n := min(int(a.Count), len(f.fresh))
	msgs := f.fresh[:n]
	f.fresh = f.fresh[n:]
	f.pending = append(f.pending, msgs...)
	cmd.SetVal([]redis.XStream{{Stream: a.Streams[0], Messages: msgs}})
	return cmd
}

func (f *fakeStream) XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd {
	cmd := redis.NewIntCmd(ctx)
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		f.acked = append(f.acked, id)
		for i, m := range f.pending {
			if m.ID == id {
				f.pending = append(f.pending[:i], f.pending[i+1:]...)
				break
			}
		}
	}
	cmd.SetVal(int64(len(ids)))
	return cmd
}

func (f *fakeStream) Close() error {
	f.closed = true
	return nil
}

func (f *fakeStream) ackedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.acked...)
}

type recordingHandler struct {
	mu     sync.Mutex
	events []domain.Event
	errs   []error // returned in order, then nil
}

func (h *recordingHandler) Handle(ctx context.Context, event domain.Event) (*domain.Score, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, event)
	if len(h.errs) > 0 {
		err := h.errs[0]
		h.errs = h.errs[1:]
		return nil, err
	}
	return nil, nil
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events)
}

const startedJSON = `{"type":"interaction.started","application":"support-bot","interface":"Assistant","method":"answer","correlation_id":"9b2f7c1e-3c4d-4e5f-8a6b-7c8d9e0f1a2b","invoked_at":"2026-03-01T10:00:00Z","user_message":"hi"}`
const completedJSON = `{"type":"interaction.completed","application":"support-bot","interface":"Assistant","method":"answer","correlation_id":"9b2f7c1e-3c4d-4e5f-8a6b-7c8d9e0f1a2b","invoked_at":"2026-03-01T10:00:00Z","result":"hello"}`

func entry(id, payload string) redis.XMessage {
	return redis.XMessage{ID: id, Values: map[string]interface{}{EventField: payload}}
}

func testConfig() config.RedisConfig {
	return config.RedisConfig{Stream: "events", Group: "scorer", Consumer: "c1", Batch: 10, Block: "10ms"}
}

func runUntil(t *testing.T, src *Source, h *recordingHandler, done func() bool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- src.Run(ctx, h) }()

	require.Eventually(t, done, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
}

func newTestSource(t *testing.T, fake *fakeStream) *Source {
	t.Helper()
	decoder, err := ingest.NewDecoder()
	require.NoError(t, err)
	return newSource(fake, testConfig(), decoder, WithRetryDelay(10*time.Millisecond))
}

func TestSource_HandlesAndAcks(t *testing.T) {
	fake := &fakeStream{fresh: []redis.XMessage{entry("1-0", startedJSON), entry("2-0", completedJSON)}}
	h := &recordingHandler{}
	src := newTestSource(t, fake)

	runUntil(t, src, h, func() bool { return len(fake.ackedIDs()) == 2 })

	assert.Equal(t, []string{"1-0", "2-0"}, fake.ackedIDs())
	require.Equal(t, 2, h.count())
	assert.Equal(t, domain.EventStarted, h.events[0].Kind())
	assert.Equal(t, domain.EventCompleted, h.events[1].Kind())
}

func TestSource_AcksInvalidEntries(t *testing.T) {
	fake := &fakeStream{fresh: []redis.XMessage{
		entry("1-0", `{"type":"interaction.started"}`),
		{ID: "2-0", Values: map[string]interface{}{"other": "x"}},
	}}
	h := &recordingHandler{}
	src := newTestSource(t, fake)

	runUntil(t, src, h, func() bool { return len(fake.ackedIDs()) == 2 })
	assert.Zero(t, h.count())
}

func TestSource_AcksUnresolvedAndScoringFailures(t *testing.T) {
	fake := &fakeStream{fresh: []redis.XMessage{entry("1-0", completedJSON), entry("2-0", completedJSON)}}
	h := &recordingHandler{errs: []error{
		domain.ErrUnresolvedCorrelation,
		&domain.ScoringError{Err: domain.ErrScoringModelFailure},
	}}
	src := newTestSource(t, fake)

	runUntil(t, src, h, func() bool { return len(fake.ackedIDs()) == 2 })
	assert.Equal(t, 2, h.count())
}

func TestSource_RetriesPersistenceFailures(t *testing.T) {
	fake := &fakeStream{fresh: []redis.XMessage{entry("1-0", startedJSON)}}
	h := &recordingHandler{errs: []error{errors.New("database is locked")}}
	src := newTestSource(t, fake)

	runUntil(t, src, h, func() bool { return len(fake.ackedIDs()) == 1 })
	assert.Equal(t, 2, h.count(), "entry should be redelivered once")
	assert.Equal(t, []string{"1-0"}, fake.ackedIDs())
}

func TestSource_ProcessesPendingBacklogFirst(t *testing.T) {
	fake := &fakeStream{
		pending: []redis.XMessage{entry("1-0", startedJSON)},
		fresh:   []redis.XMessage{entry("2-0", completedJSON)},
	}
	h := &recordingHandler{}
	src := newTestSource(t, fake)

	runUntil(t, src, h, func() bool { return len(fake.ackedIDs()) == 2 })
	assert.Equal(t, []string{"1-0", "2-0"}, fake.ackedIDs())
}

func TestSource_GroupCreation(t *testing.T) {
	t.Run("existing group is reused", func(t *testing.T) {
		fake := &fakeStream{
			groupErr: errors.New("BUSYGROUP Consumer Group name already exists"),
			fresh:    []redis.XMessage{entry("1-0", startedJSON)},
		}
		h := &recordingHandler{}
		runUntil(t, newTestSource(t, fake), h, func() bool { return len(fake.ackedIDs()) == 1 })
	})

	t.Run("other errors stop the source", func(t *testing.T) {
		fake := &fakeStream{groupErr: errors.New("NOPERM")}
		err := newTestSource(t, fake).Run(context.Background(), &recordingHandler{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "NOPERM")
	})
}

func TestSource_Close(t *testing.T) {
	fake := &fakeStream{}
	require.NoError(t, newTestSource(t, fake).Close())
	assert.True(t, fake.closed)
}
