// Package redisstream consumes lifecycle events from a Redis stream through
// a consumer group.
package redisstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tjfontaine/interaction-scorer/internal/core/domain"
	"github.com/tjfontaine/interaction-scorer/internal/core/ports"
	"github.com/tjfontaine/interaction-scorer/internal/ingest"
	"github.com/tjfontaine/interaction-scorer/internal/pkg/config"
)

// EventField is the stream entry field holding the JSON event.
const EventField = "event"

const defaultRetryDelay = time.Second

// streamClient is the subset of *redis.Client the source uses.
type streamClient interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
	Close() error
}

// Option configures a Source.
type Option func(*Source)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Source) { s.logger = logger }
}

// WithRetryDelay sets the pause before pending entries are read again after
// a handler failure.
func WithRetryDelay(d time.Duration) Option {
	return func(s *Source) { s.retryDelay = d }
}

// Source reads events from a stream and hands them to a handler. Entries are
// acknowledged once handled, or once they can never be handled. Entries whose
// handling failed for a transient reason stay pending and are read again.
type Source struct {
	client     streamClient
	decoder    *ingest.Decoder
	stream     string
	group      string
	consumer   string
	batch      int64
	block      time.Duration
	retryDelay time.Duration
	logger     *slog.Logger
}

var _ ports.EventSource = (*Source)(nil)

// NewSource connects to the Redis server described by cfg.
func NewSource(cfg config.RedisConfig, decoder *ingest.Decoder, opts ...Option) *Source {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return newSource(client, cfg, decoder, opts...)
}

func newSource(client streamClient, cfg config.RedisConfig, decoder *ingest.Decoder, opts ...Option) *Source {
	s := &Source{
		client:     client,
		decoder:    decoder,
		stream:     cfg.Stream,
		group:      cfg.Group,
		consumer:   cfg.Consumer,
		batch:      int64(cfg.Batch),
		block:      config.Duration(cfg.Block, 5*time.Second),
		retryDelay: defaultRetryDelay,
		logger:     slog.Default(),
	}
	if s.batch <= 0 {
		s.batch = 16
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run consumes the stream until ctx is cancelled. Entries left pending by a
// previous run of the same consumer are processed first.
func (s *Source) Run(ctx context.Context, handler ports.EventHandler) error {
	if err := s.ensureGroup(ctx); err != nil {
		return err
	}
	s.logger.Info("consuming event stream",
		slog.String("stream", s.stream),
		slog.String("group", s.group),
		slog.String("consumer", s.consumer))

	pending := true
	for {
		if ctx.Err() != nil {
			return nil
		}

		start := ">"
		if pending {
			start = "0"
		}
		streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    s.group,
			Consumer: s.consumer,
			Streams:  []string{s.stream, start},
			Count:    s.batch,
			Block:    s.block,
		}).Result()
		if errors.Is(err, redis.Nil) {
			pending = false
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Error("failed to read event stream", slog.String("error", err.Error()))
			if !sleep(ctx, s.retryDelay) {
				return nil
			}
			continue
		}

		var read, failed int
		for _, st := range streams {
			for _, msg := range st.Messages {
				read++
				if !s.process(ctx, handler, msg) {
					failed++
				}
			}
		}

		switch {
		case failed > 0:
			pending = true
			if !sleep(ctx, s.retryDelay) {
				return nil
			}
		case pending && read == 0:
			pending = false
		}
	}
}

// process handles one entry and reports whether it was acknowledged.
func (s *Source) process(ctx context.Context, handler ports.EventHandler, msg redis.XMessage) bool {
	event, err := s.decode(msg)
	if err != nil {
		s.logger.Warn("discarding invalid stream entry",
			slog.String("entry_id", msg.ID),
			slog.String("error", err.Error()))
		return s.ack(ctx, msg.ID)
	}

	_, err = handler.Handle(ctx, event)
	if err != nil && !final(err) {
		s.logger.Error("stream entry left pending",
			slog.String("entry_id", msg.ID),
			slog.String("correlation_id", event.Invocation().CorrelationID.String()),
			slog.String("error", err.Error()))
		return false
	}
	if errors.Is(err, domain.ErrUnresolvedCorrelation) {
		s.logger.Warn("discarding unresolved completed event",
			slog.String("entry_id", msg.ID),
			slog.String("correlation_id", event.Invocation().CorrelationID.String()))
	}
	return s.ack(ctx, msg.ID)
}

func (s *Source) decode(msg redis.XMessage) (domain.Event, error) {
	raw, ok := msg.Values[EventField]
	if !ok {
		return nil, fmt.Errorf("%w: entry has no %q field", domain.ErrInvalidEvent, EventField)
	}
	switch v := raw.(type) {
	case string:
		return s.decoder.Decode([]byte(v))
	case []byte:
		return s.decoder.Decode(v)
	default:
		return nil, fmt.Errorf("%w: field %q has type %T", domain.ErrInvalidEvent, EventField, raw)
	}
}

func (s *Source) ack(ctx context.Context, id string) bool {
	if err := s.client.XAck(ctx, s.stream, s.group, id).Err(); err != nil {
		s.logger.Error("failed to acknowledge stream entry",
			slog.String("entry_id", id),
			slog.String("error", err.Error()))
		return false
	}
	return true
}

func (s *Source) ensureGroup(ctx context.Context) error {
	err := s.client.XGroupCreateMkStream(ctx, s.stream, s.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group %s on %s: %w", s.group, s.stream, err)
	}
	return nil
}

// Close closes the Redis connection.
func (s *Source) Close() error {
	return s.client.Close()
}

// final reports whether handling err again could never succeed. Scoring
// failures are final because the interaction is already stored.
func final(err error) bool {
	var serr *domain.ScoringError
	return errors.Is(err, domain.ErrUnresolvedCorrelation) ||
		errors.Is(err, domain.ErrInvalidEvent) ||
		errors.As(err, &serr)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
