// Package server exposes event ingestion and interaction queries over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tjfontaine/interaction-scorer/internal/core/domain"
	"github.com/tjfontaine/interaction-scorer/internal/interactions"
)

// EventDecoder turns a request body into a validated event.
type EventDecoder interface {
	Decode(data []byte) (domain.Event, error)
}

// EventSubmitter hands an event to the correlator and waits for the outcome.
type EventSubmitter interface {
	Submit(ctx context.Context, event domain.Event) (*domain.Score, error)
}

// InteractionService answers interaction queries and rescoring requests.
type InteractionService interface {
	Get(ctx context.Context, correlationID uuid.UUID) (*domain.Interaction, error)
	Find(ctx context.Context, q domain.InteractionQuery) ([]*domain.Interaction, error)
	FindBySource(ctx context.Context, source string) ([]*domain.Interaction, error)
	FindScored(ctx context.Context) ([]*domain.Interaction, error)
	ListSources(ctx context.Context) ([]domain.SourceKey, error)
	Rescore(ctx context.Context, correlationID uuid.UUID) (*domain.RescoreResult, error)
}

var _ InteractionService = (*interactions.Service)(nil)

// Config holds the server settings.
type Config struct {
	Port    int
	Timeout time.Duration
	// JWTSecret enables bearer authentication when set.
	JWTSecret string
	Issuer    string
}

// Server is the HTTP API.
type Server struct {
	router  chi.Router
	decoder EventDecoder
	events  EventSubmitter
	service InteractionService
	logger  *slog.Logger

	port int
	http *http.Server
}

// New builds the router and its middleware chain.
func New(cfg Config, decoder EventDecoder, events EventSubmitter, service InteractionService, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		decoder: decoder,
		events:  events,
		service: service,
		logger:  logger,
		port:    cfg.Port,
	}

	r := chi.NewRouter()
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(logger))
	if cfg.JWTSecret != "" {
		r.Use(JWTAuthMiddleware([]byte(cfg.JWTSecret), cfg.Issuer))
	}
	r.Use(TimeoutMiddleware(cfg.Timeout))
	r.Use(middleware.Recoverer)
	r.Use(func(next http.Handler) http.Handler {
		return otelhttp.NewHandler(next, "interaction-scorer",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}))
	})

	r.Get("/healthz", s.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/events", s.handleEvent)
		r.Get("/interactions", s.handleFind)
		r.Get("/interactions/scored", s.handleFindScored)
		r.Get("/interactions/{id}", s.handleGet)
		r.Post("/interactions/{id}/rescore", s.handleRescore)
		r.Get("/sources", s.handleSources)
		r.Get("/sources/{source}/interactions", s.handleFindBySource)
	})
	s.router = r
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Start listens on the configured port and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", s.port, err)
	}
	s.http = &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		s.logger.Info("HTTP server listening", slog.String("addr", ln.Addr().String()))
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("server error", slog.String("error", err.Error()))
		}
	}()
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
