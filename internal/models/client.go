// Package models provides HTTP clients for the external models used in
// scoring: a reranker for relevance, a chat model for AI judging, and an
// embedding model for semantic similarity.
package models

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
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/tjfontaine/interaction-scorer/internal/pkg/config"
	"github.com/tjfontaine/interaction-scorer/internal/tokens"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultBackoff   = 500 * time.Millisecond
	defaultUserAgent = "interaction-scorer/1.0"
)

// ClientOption configures a model client.
type ClientOption func(*client)

// WithBaseURL sets a custom base URL.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *client) {
		c.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *client) {
		c.httpClient = httpClient
	}
}

// WithLimiter paces outgoing requests. Clients sharing a limiter share its
// budget.
func WithLimiter(limiter *rate.Limiter) ClientOption {
	return func(c *client) {
		c.limiter = limiter
	}
}

// WithTimeout bounds each call, including retries and the wait for the
// limiter.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRetry repeats a call that failed with a retryable APIError, up to
// attempts calls in total. The wait between calls starts at backoff and
// doubles each time.
func WithRetry(attempts int, backoff time.Duration) ClientOption {
	return func(c *client) {
		if attempts > 0 {
			c.maxAttempts = attempts
		}
		if backoff > 0 {
			c.backoff = backoff
		}
	}
}

// WithTokenCounter truncates model inputs to the configured token budget.
func WithTokenCounter(counter *tokens.Counter) ClientOption {
	return func(c *client) {
		c.counter = counter
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *client) {
		c.logger = logger
	}
}

// NewLimiter builds the shared limiter from config. A non-positive rate
// disables pacing.
func NewLimiter(cfg config.RateLimitConfig) *rate.Limiter {
	if cfg.RequestsPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
}

// NewHTTPClient returns an HTTP client whose requests are traced.
func NewHTTPClient() *http.Client {
	return &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
}

// APIError is a non-2xx response from a model provider.
type APIError struct {
	StatusCode int    `json:"-"`
	Type       string `json:"type,omitempty"`
	Code       string `json:"code,omitempty"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("model API error (status %d, %s): %s", e.StatusCode, e.Type, e.Message)
	}
	return fmt.Sprintf("model API error (status %d): %s", e.StatusCode, e.Message)
}

// Retryable reports whether the request may succeed if repeated.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// parseErrorResponse understands both the OpenAI envelope
// ({"error":{...}}) and the flat {"message":...} shape used by rerankers.
func parseErrorResponse(status int, body []byte) *APIError {
	var envelope struct {
		Error *APIError `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != nil {
		envelope.Error.StatusCode = status
		return envelope.Error
	}
	var flat APIError
	if err := json.Unmarshal(body, &flat); err == nil && flat.Message != "" {
		flat.StatusCode = status
		return &flat
	}
	return &APIError{StatusCode: status, Message: strings.TrimSpace(string(body))}
}

// IsRetryable reports whether err is a retryable model API error.
func IsRetryable(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Retryable()
}

type client struct {
	apiKey         string
	baseURL        string
	model          string
	maxInputTokens int
	httpClient     *http.Client
	limiter        *rate.Limiter
	timeout        time.Duration
	maxAttempts    int
	backoff        time.Duration
	counter        *tokens.Counter
	logger         *slog.Logger
}

func newClient(cfg config.ModelConfig, defaultBaseURL string, opts []ClientOption) *client {
	c := &client{
		apiKey:         cfg.APIKey,
		baseURL:        strings.TrimSuffix(defaultBaseURL, "/"),
		model:          cfg.Model,
		maxInputTokens: cfg.MaxInputTokens,
		httpClient:     http.DefaultClient,
		timeout:        defaultTimeout,
		maxAttempts:    1,
		backoff:        defaultBackoff,
		logger:         slog.Default(),
	}
	if cfg.BaseURL != "" {
		c.baseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// truncate cuts text to the client's token budget.
func (c *client) truncate(text string) string {
	if c.counter == nil || c.maxInputTokens <= 0 {
		return text
	}
	out, cut, err := c.counter.Truncate(c.model, text, c.maxInputTokens)
	if err != nil {
		c.logger.Warn("failed to count tokens, sending input unmodified",
			slog.String("model", c.model),
			slog.String("error", err.Error()))
		return text
	}
	if cut {
		c.logger.Debug("model input truncated",
			slog.String("model", c.model),
			slog.Int("max_tokens", c.maxInputTokens))
	}
	return out
}

// post sends a JSON request to path and decodes the JSON response into out,
// retrying retryable API errors.
func (c *client) post(ctx context.Context, path string, req, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	delay := c.backoff
	for attempt := 1; ; attempt++ {
		err := c.send(ctx, path, body, out)
		if err == nil || attempt >= c.maxAttempts || !IsRetryable(err) {
			return err
		}
		c.logger.Debug("retrying model request",
			slog.String("model", c.model),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
		delay *= 2
	}
}

func (c *client) send(ctx context.Context, path string, body []byte, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", defaultUserAgent)
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return parseErrorResponse(resp.StatusCode, respBody)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}
