package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tjfontaine/interaction-scorer/internal/core/domain"
)

const maxEventBytes = 1 << 20

type eventAccepted struct {
	Status        string    `json:"status"`
	CorrelationID uuid.UUID `json:"correlation_id"`
}

type eventScored struct {
	CorrelationID uuid.UUID     `json:"correlation_id"`
	Score         *domain.Score `json:"score"`
	ScoringError  string        `json:"scoring_error,omitempty"`
}

type rescoreResponse struct {
	Score  domain.Score            `json:"score"`
	Report domain.EvaluationReport `json:"report"`
	Passed bool                    `json:"passed"`
}

type interactionList struct {
	Interactions []*domain.Interaction `json:"interactions"`
}

type sourceList struct {
	Sources []domain.SourceKey `json:"sources"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleEvent ingests one lifecycle event. A Completed event that was
// stored but could not be scored is still a success; the scoring failure is
// reported in the body.
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventBytes))
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidEvent, err))
		return
	}
	event, err := s.decoder.Decode(body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id := event.Invocation().CorrelationID
	AddLogField(r.Context(), "correlation_id", id.String())
	AddLogField(r.Context(), "event", string(event.Kind()))

	score, err := s.events.Submit(r.Context(), event)
	var serr *domain.ScoringError
	switch {
	case errors.As(err, &serr):
		AddError(r.Context(), err)
		writeJSON(w, http.StatusOK, eventScored{CorrelationID: id, ScoringError: serr.Err.Error()})
	case err != nil:
		writeError(w, r, err)
	case event.Kind() == domain.EventStarted:
		writeJSON(w, http.StatusAccepted, eventAccepted{Status: "accepted", CorrelationID: id})
	default:
		writeJSON(w, http.StatusOK, eventScored{CorrelationID: id, Score: score})
	}
}

func (s *Server) handleFind(w http.ResponseWriter, r *http.Request) {
	q, err := parseQuery(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	list, err := s.service.Find(r.Context(), q)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, interactionList{Interactions: nonNil(list)})
}

func (s *Server) handleFindScored(w http.ResponseWriter, r *http.Request) {
	list, err := s.service.FindScored(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, interactionList{Interactions: nonNil(list)})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	interaction, err := s.service.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, interaction)
}

func (s *Server) handleRescore(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	res, err := s.service.Rescore(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rescoreResponse{Score: res.Score, Report: res.Report, Passed: !res.BelowThreshold()})
}

func (s *Server) handleSources(w http.ResponseWriter, r *http.Request) {
	sources, err := s.service.ListSources(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if sources == nil {
		sources = []domain.SourceKey{}
	}
	writeJSON(w, http.StatusOK, sourceList{Sources: sources})
}

func (s *Server) handleFindBySource(w http.ResponseWriter, r *http.Request) {
	source, err := url.PathUnescape(chi.URLParam(r, "source"))
	if err != nil {
		writeError(w, r, fmt.Errorf("%w: %v", domain.ErrInvalidQuery, err))
		return
	}
	list, err := s.service.FindBySource(r.Context(), source)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, interactionList{Interactions: nonNil(list)})
}

func pathID(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, &APIError{
			Type:       ErrorTypeInvalidRequest,
			Message:    fmt.Sprintf("invalid correlation id %q", raw),
			StatusCode: http.StatusBadRequest,
		}
	}
	return id, nil
}

// parseQuery reads the interaction filter from query parameters. Times are
// RFC 3339.
func parseQuery(v url.Values) (domain.InteractionQuery, error) {
	q := domain.InteractionQuery{
		Application: v.Get("application"),
		Interface:   v.Get("interface"),
		Method:      v.Get("method"),
	}
	for name, dst := range map[string]**time.Time{"start": &q.Start, "end": &q.End} {
		raw := v.Get(name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return q, fmt.Errorf("%w: %s must be RFC 3339: %v", domain.ErrInvalidQuery, name, err)
		}
		*dst = &t
	}
	return q, q.Validate()
}

func nonNil(list []*domain.Interaction) []*domain.Interaction {
	if list == nil {
		return []*domain.Interaction{}
	}
	return list
}
