package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/tjfontaine/interaction-scorer/internal/core/domain"
	"github.com/tjfontaine/interaction-scorer/internal/core/ports"
	"github.com/tjfontaine/interaction-scorer/internal/storage/dialect"
)

// Store is a SQL implementation of ports.Store that supports multiple
// database dialects.
type Store struct {
	db         *sqlx.DB
	dialect    dialect.Dialect
	logger     *slog.Logger
	now        func() time.Time
	maxRetries int
}

var _ ports.Store = (*Store)(nil)

// Config holds database connection configuration
type Config struct {
	Driver string // Driver name: sqlite, postgres
	DSN    string // Data source name / connection string
	// MaxRetries bounds retries of transactions aborted by a serialization
	// failure. Zero uses the default of 3.
	MaxRetries int
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for retry diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithClock sets the clock used for store-assigned timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a new SQL store with the specified configuration.
func New(cfg Config, opts ...Option) (*Store, error) {
	d, err := dialect.FromDriverName(cfg.Driver)
	if err != nil {
		return nil, fmt.Errorf("unsupported database driver: %w", err)
	}

	db, err := sqlx.Open(d.DriverName(), cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if n := d.MaxOpenConns(); n > 0 {
		db.SetMaxOpenConns(n)
	}

	// Run dialect-specific initialization (e.g., PRAGMA for SQLite)
	for _, stmt := range d.InitStatements() {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to initialize connection: %w", err)
		}
	}

	store := newStore(db, d, cfg.MaxRetries, opts...)

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// NewSQLite creates a new SQLite store.
func NewSQLite(dbPath string, opts ...Option) (*Store, error) {
	return New(Config{Driver: "sqlite", DSN: dbPath}, opts...)
}

func newStore(db *sqlx.DB, d dialect.Dialect, maxRetries int, opts ...Option) *Store {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	s := &Store{
		db:         db,
		dialect:    d,
		logger:     slog.Default(),
		now:        time.Now,
		maxRetries: maxRetries,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DB returns the underlying sqlx.DB for advanced operations
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Dialect returns the dialect being used
func (s *Store) Dialect() dialect.Dialect {
	return s.dialect
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema() error {
	types := s.dialect.Types()
	ts, text := types.Timestamp, types.Text
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS interaction_events (
seq %s,
id TEXT NOT NULL UNIQUE,
correlation_id TEXT NOT NULL,
kind TEXT NOT NULL,
application TEXT NOT NULL,
interface TEXT NOT NULL,
method TEXT NOT NULL,
invoked_at %s NOT NULL,
system_message %s NOT NULL DEFAULT '',
user_message %s NOT NULL DEFAULT '',
result %s NOT NULL DEFAULT '',
recorded_at %s NOT NULL
)`, types.Serial, ts, text, text, text, ts),
		`CREATE INDEX IF NOT EXISTS idx_interaction_events_correlation ON interaction_events(correlation_id, kind)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS interactions (
correlation_id TEXT PRIMARY KEY,
application TEXT NOT NULL,
interface TEXT NOT NULL,
method TEXT NOT NULL,
invoked_at %s NOT NULL,
system_message %s NOT NULL DEFAULT '',
user_message %s NOT NULL DEFAULT '',
result %s NOT NULL DEFAULT '',
created_at %s NOT NULL
)`, ts, text, text, text, ts),
		`CREATE INDEX IF NOT EXISTS idx_interactions_source ON interactions(application, interface, method)`,
		`CREATE INDEX IF NOT EXISTS idx_interactions_invoked_at ON interactions(invoked_at)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS interaction_scores (
correlation_id TEXT NOT NULL,
scored_at %s NOT NULL,
score %s NOT NULL,
mode TEXT NOT NULL,
PRIMARY KEY (correlation_id, scored_at),
FOREIGN KEY (correlation_id) REFERENCES interactions(correlation_id) ON DELETE CASCADE
)`, ts, types.Float),
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}
	return nil
}

type eventRow struct {
	Seq           int64     `db:"seq"`
	ID            uuid.UUID `db:"id"`
	CorrelationID uuid.UUID `db:"correlation_id"`
	Kind          string    `db:"kind"`
	Application   string    `db:"application"`
	Interface     string    `db:"interface"`
	Method        string    `db:"method"`
	InvokedAt     time.Time `db:"invoked_at"`
	SystemMessage string    `db:"system_message"`
	UserMessage   string    `db:"user_message"`
	Result        string    `db:"result"`
	RecordedAt    time.Time `db:"recorded_at"`
}

func (r eventRow) envelope() (domain.Envelope, error) {
	ic := domain.InvocationContext{
		Application:   r.Application,
		Interface:     r.Interface,
		Method:        r.Method,
		CorrelationID: r.CorrelationID,
		InvokedAt:     domain.NormalizeTime(r.InvokedAt),
	}
	env := domain.Envelope{ID: r.ID, RecordedAt: domain.NormalizeTime(r.RecordedAt)}
	switch domain.EventKind(r.Kind) {
	case domain.EventStarted:
		env.Event = domain.Started{InvocationContext: ic, SystemMessage: r.SystemMessage, UserMessage: r.UserMessage}
	case domain.EventCompleted:
		env.Event = domain.Completed{InvocationContext: ic, Result: r.Result}
	default:
		return domain.Envelope{}, fmt.Errorf("event %s has unknown kind %q", r.ID, r.Kind)
	}
	return env, nil
}

const eventColumns = `seq, id, correlation_id, kind, application, interface, method, invoked_at,
system_message, user_message, result, recorded_at`

// AppendEvent stores a raw lifecycle event.
func (s *Store) AppendEvent(ctx context.Context, event domain.Event) (domain.Envelope, error) {
	if err := domain.ValidateEvent(event); err != nil {
		return domain.Envelope{}, err
	}

	ic := event.Invocation()
	row := eventRow{
		ID:            uuid.New(),
		CorrelationID: ic.CorrelationID,
		Kind:          string(event.Kind()),
		Application:   ic.Application,
		Interface:     ic.Interface,
		Method:        ic.Method,
		InvokedAt:     domain.NormalizeTime(ic.InvokedAt),
		RecordedAt:    domain.NormalizeTime(s.now()),
	}
	switch ev := event.(type) {
	case domain.Started:
		row.SystemMessage, row.UserMessage = ev.SystemMessage, ev.UserMessage
	case domain.Completed:
		row.Result = ev.Result
	}

	query := s.dialect.Rebind(`INSERT INTO interaction_events
(id, correlation_id, kind, application, interface, method, invoked_at, system_message, user_message, result, recorded_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query,
		row.ID, row.CorrelationID, row.Kind, row.Application, row.Interface, row.Method,
		row.InvokedAt, row.SystemMessage, row.UserMessage, row.Result, row.RecordedAt)
	if err != nil {
		return domain.Envelope{}, fmt.Errorf("failed to insert event: %w", err)
	}

	return domain.Envelope{ID: row.ID, RecordedAt: row.RecordedAt, Event: event}, nil
}

// EventsFor returns every stored event for a correlation id in arrival order.
func (s *Store) EventsFor(ctx context.Context, correlationID uuid.UUID) ([]domain.Envelope, error) {
	return s.selectEvents(ctx, s.db, `SELECT `+eventColumns+` FROM interaction_events
WHERE correlation_id = ? ORDER BY seq`, correlationID)
}

// StartedEventsFor returns the stored Started events for a correlation id,
// earliest invocation first and then in arrival order.
func (s *Store) StartedEventsFor(ctx context.Context, correlationID uuid.UUID) ([]domain.Envelope, error) {
	return s.startedEvents(ctx, s.db, correlationID)
}

// DeleteEventsFor removes every stored event for a correlation id.
func (s *Store) DeleteEventsFor(ctx context.Context, correlationID uuid.UUID) (int, error) {
	return s.deleteEvents(ctx, s.db, correlationID)
}

func (s *Store) startedEvents(ctx context.Context, q sqlx.QueryerContext, correlationID uuid.UUID) ([]domain.Envelope, error) {
	return s.selectEvents(ctx, q, `SELECT `+eventColumns+` FROM interaction_events
WHERE correlation_id = ? AND kind = ? ORDER BY invoked_at, seq`, correlationID, string(domain.EventStarted))
}

func (s *Store) selectEvents(ctx context.Context, q sqlx.QueryerContext, query string, args ...any) ([]domain.Envelope, error) {
	var rows []eventRow
	if err := sqlx.SelectContext(ctx, q, &rows, s.dialect.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	envs := make([]domain.Envelope, 0, len(rows))
	for _, r := range rows {
		env, err := r.envelope()
		if err != nil {
			return nil, err
		}
		envs = append(envs, env)
	}
	return envs, nil
}

func (s *Store) deleteEvents(ctx context.Context, e sqlx.ExecerContext, correlationID uuid.UUID) (int, error) {
	res, err := e.ExecContext(ctx, s.dialect.Rebind(`DELETE FROM interaction_events WHERE correlation_id = ?`), correlationID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete events: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted events: %w", err)
	}
	return int(n), nil
}

// Materialize finds the earliest Started event for the completed invocation,
// deletes every raw event of the correlation id and inserts the merged
// interaction, all in one serializable transaction.
func (s *Store) Materialize(ctx context.Context, completed domain.Completed) (*ports.MaterializeResult, error) {
	if err := completed.Validate(); err != nil {
		return nil, err
	}

	var result *ports.MaterializeResult
	err := s.inSerializableTx(ctx, func(tx *sqlx.Tx) error {
		started, err := s.startedEvents(ctx, tx, completed.CorrelationID)
		if err != nil {
			return err
		}
		if len(started) == 0 {
			return domain.UnresolvedCorrelation(completed.CorrelationID)
		}

		first := started[0]
		interaction, err := domain.NewInteraction(first.Event.(domain.Started), completed)
		if err != nil {
			return err
		}

		deleted, err := s.deleteEvents(ctx, tx, completed.CorrelationID)
		if err != nil {
			return err
		}

		if err := s.insertInteraction(ctx, tx, interaction); err != nil {
			return err
		}

		result = &ports.MaterializeResult{
			Interaction:   interaction,
			Started:       first,
			Duplicates:    started[1:],
			DeletedEvents: deleted,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) insertInteraction(ctx context.Context, tx *sqlx.Tx, i *domain.Interaction) error {
	query := s.dialect.Rebind(`INSERT INTO interactions
(correlation_id, application, interface, method, invoked_at, system_message, user_message, result, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := tx.ExecContext(ctx, query,
		i.CorrelationID, i.Application, i.Interface, i.Method, i.InvokedAt,
		i.SystemMessage, i.UserMessage, i.Result, domain.NormalizeTime(s.now()))
	if err != nil {
		if s.dialect.IsUniqueViolation(err) {
			return fmt.Errorf("%w: interaction %s is already materialized", domain.ErrUnresolvedCorrelation, i.CorrelationID)
		}
		return fmt.Errorf("failed to insert interaction: %w", err)
	}
	return nil
}

// inSerializableTx runs fn in a transaction, retrying when the database
// aborts it with a serialization failure.
func (s *Store) inSerializableTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	var err error
	for attempt := 1; attempt <= s.maxRetries; attempt++ {
		err = s.runTx(ctx, fn)
		if err == nil || !s.dialect.IsSerializationFailure(err) {
			return err
		}
		s.logger.Warn("retrying serializable transaction",
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt*attempt) * 10 * time.Millisecond):
		}
	}
	return fmt.Errorf("transaction failed after %d attempts: %w", s.maxRetries, err)
}

func (s *Store) runTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, s.dialect.TxOptions())
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// AppendScore persists a score in its own transaction.
func (s *Store) AppendScore(ctx context.Context, score domain.Score) error {
	return s.runTx(ctx, func(tx *sqlx.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, s.dialect.Rebind(`SELECT 1 FROM interactions WHERE correlation_id = ?`), score.CorrelationID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return domain.InteractionNotFound(score.CorrelationID)
		}
		if err != nil {
			return fmt.Errorf("failed to look up interaction: %w", err)
		}

		query := s.dialect.Rebind(`INSERT INTO interaction_scores (correlation_id, scored_at, score, mode) VALUES (?, ?, ?, ?)`)
		_, err = tx.ExecContext(ctx, query, score.CorrelationID, domain.NormalizeTime(score.ScoredAt), score.Value, string(score.Mode))
		if err != nil {
			if s.dialect.IsUniqueViolation(err) {
				return fmt.Errorf("%w: %s at %s", domain.ErrDuplicateScore, score.CorrelationID, score.ScoredAt.Format(time.RFC3339Nano))
			}
			return fmt.Errorf("failed to insert score: %w", err)
		}
		return nil
	})
}

// DeleteInteraction removes an interaction and its scores.
func (s *Store) DeleteInteraction(ctx context.Context, correlationID uuid.UUID) error {
	return s.runTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, s.dialect.Rebind(`DELETE FROM interaction_scores WHERE correlation_id = ?`), correlationID); err != nil {
			return fmt.Errorf("failed to delete scores: %w", err)
		}
		res, err := tx.ExecContext(ctx, s.dialect.Rebind(`DELETE FROM interactions WHERE correlation_id = ?`), correlationID)
		if err != nil {
			return fmt.Errorf("failed to delete interaction: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return domain.InteractionNotFound(correlationID)
		}
		return nil
	})
}
