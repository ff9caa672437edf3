// Package client publishes interaction lifecycle events to a scorer from an
// instrumented service.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/tjfontaine/interaction-scorer/internal/core/domain"
)

// Mode selects how events are published.
type Mode string

const (
	// ModeNormal publishes in the background and never fails the caller.
	ModeNormal Mode = "NORMAL"
	// ModeRescore waits for the scorer and fails a completion whose score is
	// below the threshold.
	ModeRescore Mode = "RESCORE"
)

// DefaultThreshold is the minimum passing score in RESCORE mode. Rescore
// scores range over [0, 100].
const DefaultThreshold = 75.0

// ErrBelowThreshold is matched by errors.Is on a *BelowThresholdError.
var ErrBelowThreshold = domain.ErrBelowThreshold

// InvocationContext identifies one invocation of an AI-backed method.
type InvocationContext struct {
	Application   string    `json:"application"`
	Interface     string    `json:"interface"`
	Method        string    `json:"method"`
	CorrelationID uuid.UUID `json:"correlation_id"`
	InvokedAt     time.Time `json:"invoked_at"`
}

// NewInvocation starts an invocation with a fresh correlation id.
func NewInvocation(application, iface, method string) InvocationContext {
	return InvocationContext{
		Application:   application,
		Interface:     iface,
		Method:        method,
		CorrelationID: uuid.New(),
		InvokedAt:     time.Now().UTC(),
	}
}

func (c InvocationContext) validate() error {
	switch {
	case c.CorrelationID == uuid.Nil:
		return errors.New("correlation id is required")
	case c.InvokedAt.IsZero():
		return errors.New("invocation timestamp is required")
	case c.Application == "":
		return errors.New("application is required")
	}
	return nil
}

// Started is published before the model is called.
type Started struct {
	InvocationContext
	SystemMessage string
	UserMessage   string
}

// Completed is published with the produced result.
type Completed struct {
	InvocationContext
	Result string
}

type wireEvent struct {
	Type string `json:"type"`
	InvocationContext
	SystemMessage string  `json:"system_message,omitempty"`
	UserMessage   *string `json:"user_message,omitempty"`
	Result        *string `json:"result,omitempty"`
}

// Score is the score the scorer recorded for a completed interaction.
type Score struct {
	CorrelationID uuid.UUID `json:"correlation_id"`
	Value         float64   `json:"score"`
	ScoredAt      time.Time `json:"scored_at"`
	Mode          string    `json:"mode"`
}

// BelowThresholdError is returned in RESCORE mode when a completed
// interaction scored below the threshold. The score is still recorded.
type BelowThresholdError struct {
	CorrelationID uuid.UUID
	Score         float64
	Threshold     float64
}

func (e *BelowThresholdError) Error() string {
	return fmt.Sprintf("interaction %s: score %v is below the threshold of %v", e.CorrelationID, e.Score, e.Threshold)
}

func (e *BelowThresholdError) Unwrap() error { return ErrBelowThreshold }

// APIError is a non-success response from the scorer.
type APIError struct {
	StatusCode int
	Type       string `json:"type"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("scorer returned %d %s: %s", e.StatusCode, e.Type, e.Message)
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithMode sets the publishing mode. The default is ModeNormal.
func WithMode(mode Mode) Option {
	return func(p *Publisher) { p.mode = mode }
}

// WithThreshold sets the minimum passing score for ModeRescore.
func WithThreshold(threshold float64) Option {
	return func(p *Publisher) { p.threshold = threshold }
}

// WithHTTPClient sets the HTTP client used to reach the scorer.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Publisher) { p.http = c }
}

// WithToken sends token as a bearer credential.
func WithToken(token string) Option {
	return func(p *Publisher) { p.token = token }
}

// WithTimeout bounds background publishes in ModeNormal.
func WithTimeout(d time.Duration) Option {
	return func(p *Publisher) { p.timeout = d }
}

// WithLogger sets the logger for background publish failures.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) { p.logger = logger }
}

// Publisher posts lifecycle events to a scorer's /v1/events endpoint.
type Publisher struct {
	baseURL   string
	http      *http.Client
	mode      Mode
	threshold float64
	token     string
	timeout   time.Duration
	logger    *slog.Logger

	wg sync.WaitGroup

	mu sync.Mutex
	// tails holds, per correlation id, a channel closed once the most
	// recently queued background publish has finished.
	tails map[uuid.UUID]chan struct{}
}

// NewPublisher creates a publisher for the scorer at baseURL.
func NewPublisher(baseURL string, opts ...Option) *Publisher {
	p := &Publisher{
		baseURL:   strings.TrimRight(baseURL, "/"),
		mode:      ModeNormal,
		threshold: DefaultThreshold,
		timeout:   30 * time.Second,
		logger:    slog.Default(),
		tails:     make(map[uuid.UUID]chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.http == nil {
		p.http = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	return p
}

// Started publishes the start of an invocation.
func (p *Publisher) Started(ctx context.Context, e Started) error {
	if err := e.validate(); err != nil {
		return err
	}
	user := e.UserMessage
	ev := wireEvent{
		Type:              "interaction.started",
		InvocationContext: e.InvocationContext,
		SystemMessage:     e.SystemMessage,
		UserMessage:       &user,
	}
	if p.mode != ModeRescore {
		p.background(ev)
		return nil
	}
	_, err := p.post(ctx, ev)
	return err
}

// Completed publishes the result of an invocation. In ModeNormal it returns
// immediately with a nil score. In ModeRescore it returns the recorded score
// and a *BelowThresholdError when the score is below the threshold.
func (p *Publisher) Completed(ctx context.Context, e Completed) (*Score, error) {
	if err := e.validate(); err != nil {
		return nil, err
	}
	result := e.Result
	ev := wireEvent{
		Type:              "interaction.completed",
		InvocationContext: e.InvocationContext,
		Result:            &result,
	}
	if p.mode != ModeRescore {
		p.background(ev)
		return nil, nil
	}

	resp, err := p.post(ctx, ev)
	if err != nil {
		return nil, err
	}
	if resp.ScoringError != "" {
		return nil, fmt.Errorf("interaction %s was stored but not scored: %s", e.CorrelationID, resp.ScoringError)
	}
	if resp.Score == nil {
		return nil, fmt.Errorf("interaction %s: scorer returned no score", e.CorrelationID)
	}
	p.logger.Info("rescore result",
		slog.String("correlation_id", e.CorrelationID.String()),
		slog.Float64("score", resp.Score.Value))
	if resp.Score.Value < p.threshold {
		return resp.Score, &BelowThresholdError{
			CorrelationID: e.CorrelationID,
			Score:         resp.Score.Value,
			Threshold:     p.threshold,
		}
	}
	return resp.Score, nil
}

// Close waits for background publishes to finish or ctx to end.
func (p *Publisher) Close(ctx context.Context) error {
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

// background publishes ev after every earlier background publish of the same
// correlation id has finished, so a Completed never overtakes its Started.
func (p *Publisher) background(ev wireEvent) {
	done := make(chan struct{})
	p.mu.Lock()
	prev := p.tails[ev.CorrelationID]
	p.tails[ev.CorrelationID] = done
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			p.mu.Lock()
			if p.tails[ev.CorrelationID] == done {
				delete(p.tails, ev.CorrelationID)
			}
			p.mu.Unlock()
			close(done)
		}()
		if prev != nil {
			<-prev
		}

		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()
		if _, err := p.post(ctx, ev); err != nil {
			p.logger.Error("failed to publish interaction event",
				slog.String("type", ev.Type),
				slog.String("correlation_id", ev.CorrelationID.String()),
				slog.String("error", err.Error()))
		}
	}()
}

type eventResponse struct {
	Score        *Score `json:"score"`
	ScoringError string `json:"scoring_error"`
}

func (p *Publisher) post(ctx context.Context, ev wireEvent) (*eventResponse, error) {
	body, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("encode event: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/events", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("publish %s: %w", ev.Type, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var envelope struct {
			Error *APIError `json:"error"`
		}
		envelope.Error = apiErr
		if json.Unmarshal(data, &envelope) != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return nil, apiErr
	}

	var out eventResponse
	if len(data) > 0 {
		if err := json.Unmarshal(data, &out); err != nil {
			return nil, fmt.Errorf("decode response: %w", err)
		}
	}
	return &out, nil
}
