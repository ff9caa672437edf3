// Package ingest feeds lifecycle events to the correlator through a bounded
// worker pool.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tjfontaine/interaction-scorer/internal/core/domain"
	"github.com/tjfontaine/interaction-scorer/internal/core/ports"
)

var (
	// ErrPoolClosed is returned for events submitted after Close.
	ErrPoolClosed = errors.New("ingest pool closed")
	// ErrQueueFull is returned by Enqueue when no queue slot is free.
	ErrQueueFull = errors.New("ingest queue full")
)

// Config sizes the pool.
type Config struct {
	Workers   int
	QueueSize int
	// Timeout bounds handling of enqueued events, which have no caller
	// context. Zero uses one minute.
	Timeout time.Duration
}

type result struct {
	score *domain.Score
	err   error
}

type job struct {
	ctx    context.Context
	cancel context.CancelFunc
	event  domain.Event
	done   chan result
}

// Pool runs one job per event on a fixed set of workers. Events for
// different correlation ids run in parallel; ordering for the same id is
// left to the store's serializable materialization.
type Pool struct {
	handler ports.EventHandler
	jobs    chan job
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

var _ ports.EventHandler = (*Pool)(nil)

// NewPool starts the workers.
func NewPool(handler ports.EventHandler, cfg Config, logger *slog.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pool{
		handler: handler,
		jobs:    make(chan job, cfg.QueueSize),
		timeout: cfg.Timeout,
		logger:  logger,
	}
	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.work()
		}()
	}
	return p
}

func (p *Pool) work() {
	for j := range p.jobs {
		score, err := p.run(j)
		if j.cancel != nil {
			j.cancel()
		}
		if j.done != nil {
			j.done <- result{score: score, err: err}
			continue
		}
		p.logOutcome(j.event, score, err)
	}
}

func (p *Pool) run(j job) (score *domain.Score, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("event handler panicked: %v", r)
		}
	}()
	return p.handler.Handle(j.ctx, j.event)
}

func (p *Pool) logOutcome(event domain.Event, score *domain.Score, err error) {
	id := event.Invocation().CorrelationID.String()
	var serr *domain.ScoringError
	switch {
	case err == nil && score != nil:
		p.logger.Debug("queued event handled",
			slog.String("correlation_id", id),
			slog.Float64("score", score.Value))
	case err == nil:
	case errors.As(err, &serr):
		// Already logged by the correlator; the interaction is stored.
	case errors.Is(err, domain.ErrUnresolvedCorrelation):
		p.logger.Warn("queued event discarded",
			slog.String("correlation_id", id),
			slog.String("error", err.Error()))
	default:
		p.logger.Error("queued event failed",
			slog.String("correlation_id", id),
			slog.String("kind", string(event.Kind())),
			slog.String("error", err.Error()))
	}
}

// Submit queues event and waits for its outcome. It returns what the
// handler returned, or ctx's error if ctx ends first.
func (p *Pool) Submit(ctx context.Context, event domain.Event) (*domain.Score, error) {
	if err := domain.ValidateEvent(event); err != nil {
		return nil, err
	}
	done := make(chan result, 1)

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return nil, ErrPoolClosed
	}
	select {
	case p.jobs <- job{ctx: ctx, event: event, done: done}:
		p.mu.RUnlock()
	case <-ctx.Done():
		p.mu.RUnlock()
		return nil, ctx.Err()
	}

	select {
	case r := <-done:
		return r.score, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Handle implements ports.EventHandler by submitting event.
func (p *Pool) Handle(ctx context.Context, event domain.Event) (*domain.Score, error) {
	return p.Submit(ctx, event)
}

// Enqueue queues event without waiting. Outcomes are logged.
func (p *Pool) Enqueue(event domain.Event) error {
	if err := domain.ValidateEvent(event); err != nil {
		return err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	select {
	case p.jobs <- job{ctx: ctx, cancel: cancel, event: event}:
		return nil
	default:
		cancel()
		return ErrQueueFull
	}
}

// Close stops accepting events and waits for queued events to finish or
// for ctx to end.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.jobs)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
