package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tjfontaine/interaction-scorer/internal/core/domain"
	"github.com/tjfontaine/interaction-scorer/internal/ingest"
)

// ErrorType is the category reported in error bodies.
type ErrorType string

const (
	ErrorTypeInvalidRequest ErrorType = "invalid_request_error"
	ErrorTypeAuthentication ErrorType = "authentication_error"
	ErrorTypeNotFound       ErrorType = "not_found_error"
	ErrorTypeConflict       ErrorType = "conflict_error"
	ErrorTypeScoring        ErrorType = "scoring_error"
	ErrorTypeOverloaded     ErrorType = "overloaded_error"
	ErrorTypeTimeout        ErrorType = "timeout_error"
	ErrorTypeServer         ErrorType = "api_error"
)

// APIError is the body of every error response.
type APIError struct {
	Type       ErrorType `json:"type"`
	Message    string    `json:"message"`
	StatusCode int       `json:"-"`
}

func (e *APIError) Error() string {
	return string(e.Type) + ": " + e.Message
}

type errorResponse struct {
	Error *APIError `json:"error"`
}

// statusFor maps an error to its status code and error type.
func statusFor(err error) (int, ErrorType) {
	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr):
		return apiErr.StatusCode, apiErr.Type
	case errors.Is(err, domain.ErrInvalidEvent), errors.Is(err, domain.ErrInvalidQuery):
		return http.StatusBadRequest, ErrorTypeInvalidRequest
	case errors.Is(err, domain.ErrInteractionNotFound):
		return http.StatusNotFound, ErrorTypeNotFound
	case errors.Is(err, domain.ErrUnresolvedCorrelation), errors.Is(err, domain.ErrDuplicateScore):
		return http.StatusConflict, ErrorTypeConflict
	case errors.Is(err, domain.ErrNoSamplesForSource):
		return http.StatusUnprocessableEntity, ErrorTypeScoring
	case errors.Is(err, domain.ErrScoringModelFailure):
		return http.StatusBadGateway, ErrorTypeScoring
	case errors.Is(err, ingest.ErrPoolClosed), errors.Is(err, ingest.ErrQueueFull):
		return http.StatusServiceUnavailable, ErrorTypeOverloaded
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ErrorTypeTimeout
	default:
		return http.StatusInternalServerError, ErrorTypeServer
	}
}

// writeError writes err as a JSON error body and records it in the request
// log.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	AddError(r.Context(), err)
	status, typ := statusFor(err)
	msg := err.Error()
	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr):
		msg = apiErr.Message
	case status == http.StatusInternalServerError:
		msg = "internal error"
	}
	writeJSON(w, status, errorResponse{Error: &APIError{Type: typ, Message: msg}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
