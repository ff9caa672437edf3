package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/tjfontaine/interaction-scorer/internal/core/domain"
)

type interactionRow struct {
	CorrelationID uuid.UUID `db:"correlation_id"`
	Application   string    `db:"application"`
	Interface     string    `db:"interface"`
	Method        string    `db:"method"`
	InvokedAt     time.Time `db:"invoked_at"`
	SystemMessage string    `db:"system_message"`
	UserMessage   string    `db:"user_message"`
	Result        string    `db:"result"`
}

type scoreRow struct {
	CorrelationID uuid.UUID `db:"correlation_id"`
	ScoredAt      time.Time `db:"scored_at"`
	Score         float64   `db:"score"`
	Mode          string    `db:"mode"`
}

const interactionColumns = `i.correlation_id, i.application, i.interface, i.method, i.invoked_at,
i.system_message, i.user_message, i.result`

// predicateColumns maps filterable fields to columns. Only these columns can
// appear in a generated WHERE clause.
var predicateColumns = map[domain.Field]string{
	domain.FieldApplication: "i.application",
	domain.FieldInterface:   "i.interface",
	domain.FieldMethod:      "i.method",
	domain.FieldInvokedAt:   "i.invoked_at",
}

// whereClause translates an AND-ed predicate list into a parameterized
// WHERE clause using ? placeholders.
func whereClause(preds []domain.Predicate) (string, []any, error) {
	if len(preds) == 0 {
		return "", nil, nil
	}
	conds := make([]string, 0, len(preds))
	args := make([]any, 0, len(preds))
	for _, p := range preds {
		col, ok := predicateColumns[p.Field]
		if !ok {
			return "", nil, fmt.Errorf("%w: unknown field %q", domain.ErrInvalidQuery, p.Field)
		}
		switch p.Op {
		case domain.OpEq, domain.OpGte, domain.OpLte:
		default:
			return "", nil, fmt.Errorf("%w: unknown operator %q", domain.ErrInvalidQuery, p.Op)
		}
		conds = append(conds, fmt.Sprintf("%s %s ?", col, p.Op))
		args = append(args, p.Value)
	}
	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

// GetInteraction returns an interaction with its scores.
func (s *Store) GetInteraction(ctx context.Context, correlationID uuid.UUID) (*domain.Interaction, error) {
	var row interactionRow
	query := s.dialect.Rebind(`SELECT ` + interactionColumns + ` FROM interactions i WHERE i.correlation_id = ?`)
	err := s.db.GetContext(ctx, &row, query, correlationID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.InteractionNotFound(correlationID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get interaction: %w", err)
	}

	interactions, err := s.withScores(ctx, []interactionRow{row})
	if err != nil {
		return nil, err
	}
	return interactions[0], nil
}

// FindInteractions returns the interactions matching q, ordered by
// invocation time and correlation id.
func (s *Store) FindInteractions(ctx context.Context, q domain.InteractionQuery) ([]*domain.Interaction, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	where, args, err := whereClause(q.Predicates())
	if err != nil {
		return nil, err
	}
	return s.selectInteractions(ctx, `SELECT `+interactionColumns+` FROM interactions i`+where+
		` ORDER BY i.invoked_at, i.correlation_id`, args...)
}

// FindBySource returns the interactions recorded for source.
func (s *Store) FindBySource(ctx context.Context, source domain.SourceKey) ([]*domain.Interaction, error) {
	return s.selectInteractions(ctx, `SELECT `+interactionColumns+` FROM interactions i
WHERE i.application = ? AND i.interface = ? AND i.method = ?
ORDER BY i.invoked_at, i.correlation_id`, source.Application, source.Interface, source.Method)
}

// ContainsSource reports whether any interaction exists for source.
func (s *Store) ContainsSource(ctx context.Context, source domain.SourceKey) (bool, error) {
	var one int
	query := s.dialect.Rebind(`SELECT 1 FROM interactions WHERE application = ? AND interface = ? AND method = ? LIMIT 1`)
	err := s.db.QueryRowContext(ctx, query, source.Application, source.Interface, source.Method).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check source %s: %w", source, err)
	}
	return true, nil
}

// FindScoredInteractions returns the interactions owning at least one score.
func (s *Store) FindScoredInteractions(ctx context.Context) ([]*domain.Interaction, error) {
	return s.selectInteractions(ctx, `SELECT `+interactionColumns+` FROM interactions i
WHERE EXISTS (SELECT 1 FROM interaction_scores sc WHERE sc.correlation_id = i.correlation_id)
ORDER BY i.invoked_at, i.correlation_id`)
}

// ListSources returns the distinct source keys of stored interactions.
func (s *Store) ListSources(ctx context.Context) ([]domain.SourceKey, error) {
	var rows []struct {
		Application string `db:"application"`
		Interface   string `db:"interface"`
		Method      string `db:"method"`
	}
	query := `SELECT DISTINCT application, interface, method FROM interactions ORDER BY application, interface, method`
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	sources := make([]domain.SourceKey, len(rows))
	for i, r := range rows {
		sources[i] = domain.SourceKey{Application: r.Application, Interface: r.Interface, Method: r.Method}
	}
	return sources, nil
}

func (s *Store) selectInteractions(ctx context.Context, query string, args ...any) ([]*domain.Interaction, error) {
	var rows []interactionRow
	if err := s.db.SelectContext(ctx, &rows, s.dialect.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to query interactions: %w", err)
	}
	return s.withScores(ctx, rows)
}

// withScores converts rows to interactions and attaches their scores.
func (s *Store) withScores(ctx context.Context, rows []interactionRow) ([]*domain.Interaction, error) {
	interactions := make([]*domain.Interaction, 0, len(rows))
	if len(rows) == 0 {
		return interactions, nil
	}

	byID := make(map[uuid.UUID]*domain.Interaction, len(rows))
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		i := &domain.Interaction{
			CorrelationID: r.CorrelationID,
			Application:   r.Application,
			Interface:     r.Interface,
			Method:        r.Method,
			InvokedAt:     domain.NormalizeTime(r.InvokedAt),
			SystemMessage: r.SystemMessage,
			UserMessage:   r.UserMessage,
			Result:        r.Result,
			Scores:        []domain.Score{},
		}
		interactions = append(interactions, i)
		byID[i.CorrelationID] = i
		ids = append(ids, i.CorrelationID.String())
	}

	query, args, err := sqlx.In(`SELECT correlation_id, scored_at, score, mode FROM interaction_scores
WHERE correlation_id IN (?) ORDER BY correlation_id, scored_at`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to build score query: %w", err)
	}
	var scores []scoreRow
	if err := s.db.SelectContext(ctx, &scores, s.dialect.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to query scores: %w", err)
	}
	for _, sc := range scores {
		i, ok := byID[sc.CorrelationID]
		if !ok {
			continue
		}
		i.Scores = append(i.Scores, domain.Score{
			CorrelationID: sc.CorrelationID,
			Value:         sc.Score,
			ScoredAt:      domain.NormalizeTime(sc.ScoredAt),
			Mode:          domain.ScoringMode(sc.Mode),
		})
	}
	return interactions, nil
}
