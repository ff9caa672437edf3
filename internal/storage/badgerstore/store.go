// Package badgerstore provides an embedded ports.Store on top of BadgerDB.
//
// Keys are laid out per record type:
//
//	ev/<correlation id>/<sequence>   raw lifecycle events, in arrival order
//	ix/<correlation id>              materialized interactions
//	sc/<correlation id>/<unix nanos> scores of an interaction
//
// Badger transactions use optimistic concurrency with serializable snapshot
// isolation; a commit that read keys written by a concurrent commit fails with
// badger.ErrConflict and is retried.
package badgerstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/tjfontaine/interaction-scorer/internal/core/domain"
	"github.com/tjfontaine/interaction-scorer/internal/core/ports"
)

// Config holds BadgerDB configuration.
type Config struct {
	// Dir is the data directory. Ignored when InMemory is set.
	Dir      string
	InMemory bool
	// MaxRetries bounds retries of conflicting transactions. Zero uses 5.
	MaxRetries int
}

// Store is a BadgerDB implementation of ports.Store.
type Store struct {
	db         *badger.DB
	seq        *badger.Sequence
	logger     *slog.Logger
	now        func() time.Time
	maxRetries int
}

var _ ports.Store = (*Store)(nil)

// Open opens or creates a Badger store.
func Open(cfg Config, logger *slog.Logger) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Dir).WithLogger(nil)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	seq, err := db.GetSequence([]byte("seq/events"), 128)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to allocate event sequence: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 5
	}
	return &Store{db: db, seq: seq, logger: logger, now: time.Now, maxRetries: maxRetries}, nil
}

// Close releases the sequence and closes the database.
func (s *Store) Close() error {
	if err := s.seq.Release(); err != nil {
		s.logger.Warn("failed to release badger sequence", slog.String("error", err.Error()))
	}
	return s.db.Close()
}

type eventRecord struct {
	ID         uuid.UUID           `json:"id"`
	RecordedAt time.Time           `json:"recorded_at"`
	Payload    domain.EventPayload `json:"payload"`
}

type interactionRecord struct {
	CorrelationID uuid.UUID `json:"correlation_id"`
	Application   string    `json:"application"`
	Interface     string    `json:"interface"`
	Method        string    `json:"method"`
	InvokedAt     time.Time `json:"invoked_at"`
	SystemMessage string    `json:"system_message"`
	UserMessage   string    `json:"user_message"`
	Result        string    `json:"result"`
}

func eventPrefix(id uuid.UUID) []byte { return []byte("ev/" + id.String() + "/") }
func interactionKey(id uuid.UUID) []byte { return []byte("ix/" + id.String()) }
func scorePrefix(id uuid.UUID) []byte { return []byte("sc/" + id.String() + "/") }

func scoreKey(s domain.Score) []byte {
	return append(scorePrefix(s.CorrelationID), []byte(fmt.Sprintf("%020d", s.ScoredAt.UnixNano()))...)
}

var interactionsPrefix = []byte("ix/")

// update runs fn in a read-write transaction, retrying on conflicts.
func (s *Store) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		if err = ctx.Err(); err != nil {
			return err
		}
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.logger.Debug("retrying conflicting badger transaction", slog.Int("attempt", attempt))
	}
	return fmt.Errorf("transaction failed after %d attempts: %w", s.maxRetries, err)
}

func (s *Store) AppendEvent(ctx context.Context, event domain.Event) (domain.Envelope, error) {
	if err := domain.ValidateEvent(event); err != nil {
		return domain.Envelope{}, err
	}
	n, err := s.seq.Next()
	if err != nil {
		return domain.Envelope{}, fmt.Errorf("failed to allocate event sequence: %w", err)
	}
	rec := eventRecord{ID: uuid.New(), RecordedAt: domain.NormalizeTime(s.now()), Payload: domain.PayloadOf(event)}
	data, err := json.Marshal(rec)
	if err != nil {
		return domain.Envelope{}, fmt.Errorf("failed to encode event: %w", err)
	}
	key := append(eventPrefix(event.Invocation().CorrelationID), []byte(fmt.Sprintf("%020d", n))...)

	err = s.update(ctx, func(txn *badger.Txn) error {
		return txn.Set(key, data)
	})
	if err != nil {
		return domain.Envelope{}, fmt.Errorf("failed to insert event: %w", err)
	}
	return domain.Envelope{ID: rec.ID, RecordedAt: rec.RecordedAt, Event: event}, nil
}

// scanEvents returns the events of a correlation id with their keys.
func scanEvents(txn *badger.Txn, id uuid.UUID) ([][]byte, []domain.Envelope, error) {
	prefix := eventPrefix(id)
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	var keys [][]byte
	var envs []domain.Envelope
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		item := it.Item()
		var rec eventRecord
		err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to decode event %s: %w", item.Key(), err)
		}
		ev, err := rec.Payload.Event()
		if err != nil {
			return nil, nil, err
		}
		keys = append(keys, item.KeyCopy(nil))
		envs = append(envs, domain.Envelope{ID: rec.ID, RecordedAt: rec.RecordedAt, Event: ev})
	}
	return keys, envs, nil
}

func (s *Store) EventsFor(ctx context.Context, correlationID uuid.UUID) ([]domain.Envelope, error) {
	var envs []domain.Envelope
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		_, envs, err = scanEvents(txn, correlationID)
		return err
	})
	if envs == nil {
		envs = []domain.Envelope{}
	}
	return envs, err
}

func (s *Store) StartedEventsFor(ctx context.Context, correlationID uuid.UUID) ([]domain.Envelope, error) {
	all, err := s.EventsFor(ctx, correlationID)
	if err != nil {
		return nil, err
	}
	return onlyStarted(all), nil
}

func onlyStarted(envs []domain.Envelope) []domain.Envelope {
	started := []domain.Envelope{}
	for _, env := range envs {
		if env.Event.Kind() == domain.EventStarted {
			started = append(started, env)
		}
	}
	domain.SortByInvocation(started)
	return started
}

func (s *Store) DeleteEventsFor(ctx context.Context, correlationID uuid.UUID) (int, error) {
	var deleted int
	err := s.update(ctx, func(txn *badger.Txn) error {
		keys, _, err := scanEvents(txn, correlationID)
		if err != nil {
			return err
		}
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		deleted = len(keys)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete events: %w", err)
	}
	return deleted, nil
}

func (s *Store) Materialize(ctx context.Context, completed domain.Completed) (*ports.MaterializeResult, error) {
	if err := completed.Validate(); err != nil {
		return nil, err
	}
	id := completed.CorrelationID

	var result *ports.MaterializeResult
	err := s.update(ctx, func(txn *badger.Txn) error {
		result = nil
		keys, envs, err := scanEvents(txn, id)
		if err != nil {
			return err
		}
		started := onlyStarted(envs)
		if len(started) == 0 {
			return domain.UnresolvedCorrelation(id)
		}
		if _, err := txn.Get(interactionKey(id)); err == nil {
			return fmt.Errorf("%w: interaction %s is already materialized", domain.ErrUnresolvedCorrelation, id)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		interaction, err := domain.NewInteraction(started[0].Event.(domain.Started), completed)
		if err != nil {
			return err
		}
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		if err := putInteraction(txn, interaction); err != nil {
			return err
		}
		result = &ports.MaterializeResult{
			Interaction:   interaction,
			Started:       started[0],
			Duplicates:    started[1:],
			DeletedEvents: len(keys),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func putInteraction(txn *badger.Txn, i *domain.Interaction) error {
	data, err := json.Marshal(interactionRecord{
		CorrelationID: i.CorrelationID,
		Application:   i.Application,
		Interface:     i.Interface,
		Method:        i.Method,
		InvokedAt:     i.InvokedAt,
		SystemMessage: i.SystemMessage,
		UserMessage:   i.UserMessage,
		Result:        i.Result,
	})
	if err != nil {
		return fmt.Errorf("failed to encode interaction: %w", err)
	}
	return txn.Set(interactionKey(i.CorrelationID), data)
}

func loadInteraction(txn *badger.Txn, item *badger.Item) (*domain.Interaction, error) {
	var rec interactionRecord
	if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &rec) }); err != nil {
		return nil, fmt.Errorf("failed to decode interaction %s: %w", item.Key(), err)
	}
	i := &domain.Interaction{
		CorrelationID: rec.CorrelationID,
		Application:   rec.Application,
		Interface:     rec.Interface,
		Method:        rec.Method,
		InvokedAt:     domain.NormalizeTime(rec.InvokedAt),
		SystemMessage: rec.SystemMessage,
		UserMessage:   rec.UserMessage,
		Result:        rec.Result,
		Scores:        []domain.Score{},
	}

	prefix := scorePrefix(i.CorrelationID)
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		var sc domain.Score
		if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &sc) }); err != nil {
			return nil, fmt.Errorf("failed to decode score %s: %w", it.Item().Key(), err)
		}
		sc.ScoredAt = domain.NormalizeTime(sc.ScoredAt)
		i.Scores = append(i.Scores, sc)
	}
	sort.SliceStable(i.Scores, func(a, b int) bool { return i.Scores[a].ScoredAt.Before(i.Scores[b].ScoredAt) })
	return i, nil
}

func (s *Store) GetInteraction(ctx context.Context, correlationID uuid.UUID) (*domain.Interaction, error) {
	var interaction *domain.Interaction
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(interactionKey(correlationID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return domain.InteractionNotFound(correlationID)
		}
		if err != nil {
			return err
		}
		interaction, err = loadInteraction(txn, item)
		return err
	})
	if err != nil {
		return nil, err
	}
	return interaction, nil
}

// scan returns every interaction accepted by match, in query order.
func (s *Store) scan(match func(*domain.Interaction) bool) ([]*domain.Interaction, error) {
	result := []*domain.Interaction{}
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(interactionsPrefix); it.ValidForPrefix(interactionsPrefix); it.Next() {
			i, err := loadInteraction(txn, it.Item())
			if err != nil {
				return err
			}
			if match(i) {
				result = append(result, i)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan interactions: %w", err)
	}
	domain.SortInteractions(result)
	return result, nil
}

func (s *Store) FindInteractions(ctx context.Context, q domain.InteractionQuery) ([]*domain.Interaction, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return s.scan(q.Matches)
}

func (s *Store) FindBySource(ctx context.Context, source domain.SourceKey) ([]*domain.Interaction, error) {
	return s.scan(func(i *domain.Interaction) bool { return i.Source() == source })
}

func (s *Store) ContainsSource(ctx context.Context, source domain.SourceKey) (bool, error) {
	found, err := s.FindBySource(ctx, source)
	if err != nil {
		return false, err
	}
	return len(found) > 0, nil
}

func (s *Store) FindScoredInteractions(ctx context.Context) ([]*domain.Interaction, error) {
	return s.scan(func(i *domain.Interaction) bool { return len(i.Scores) > 0 })
}

func (s *Store) ListSources(ctx context.Context) ([]domain.SourceKey, error) {
	all, err := s.scan(func(*domain.Interaction) bool { return true })
	if err != nil {
		return nil, err
	}
	seen := make(map[domain.SourceKey]struct{})
	sources := []domain.SourceKey{}
	for _, i := range all {
		if _, ok := seen[i.Source()]; !ok {
			seen[i.Source()] = struct{}{}
			sources = append(sources, i.Source())
		}
	}
	sort.Slice(sources, func(a, b int) bool { return sources[a].String() < sources[b].String() })
	return sources, nil
}

func (s *Store) AppendScore(ctx context.Context, score domain.Score) error {
	score.ScoredAt = domain.NormalizeTime(score.ScoredAt)
	data, err := json.Marshal(score)
	if err != nil {
		return fmt.Errorf("failed to encode score: %w", err)
	}
	return s.update(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(interactionKey(score.CorrelationID)); errors.Is(err, badger.ErrKeyNotFound) {
			return domain.InteractionNotFound(score.CorrelationID)
		} else if err != nil {
			return err
		}
		key := scoreKey(score)
		if _, err := txn.Get(key); err == nil {
			return fmt.Errorf("%w: %s at %s", domain.ErrDuplicateScore, score.CorrelationID, score.ScoredAt.Format(time.RFC3339Nano))
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, data)
	})
}

func (s *Store) DeleteInteraction(ctx context.Context, correlationID uuid.UUID) error {
	return s.update(ctx, func(txn *badger.Txn) error {
		if _, err := txn.Get(interactionKey(correlationID)); errors.Is(err, badger.ErrKeyNotFound) {
			return domain.InteractionNotFound(correlationID)
		} else if err != nil {
			return err
		}

		prefix := scorePrefix(correlationID)
		var keys [][]byte
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return txn.Delete(interactionKey(correlationID))
	})
}
