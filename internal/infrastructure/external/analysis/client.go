// Package analysis implements HTTP clients for the speech-analysis service
// and the conversation partner. Both share one request path: circuit
// breaker around retries around a single HTTP exchange. Every failure that
// reaches the caller is shared.ErrUpstreamUnavailable.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alem-hub/learner-progress/internal/domain/shared"
	"github.com/alem-hub/learner-progress/pkg/circuitbreaker"
	"github.com/alem-hub/learner-progress/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains settings for one collaborator.
type ClientConfig struct {
	// BaseURL of the service, without a trailing slash.
	BaseURL string

	// APIKey is sent as a bearer token when set.
	APIKey string

	// Timeout bounds one HTTP exchange, not the whole retried call.
	Timeout time.Duration

	// MaxRetries is the number of retries after the first attempt.
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	// Circuit breaker
	FailureThreshold    int
	OpenTimeout         time.Duration
	MaxHalfOpenRequests int

	Logger *slog.Logger
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(baseURL string) ClientConfig {
	return ClientConfig{
		BaseURL:             baseURL,
		Timeout:             20 * time.Second,
		MaxRetries:          2,
		RetryBaseDelay:      300 * time.Millisecond,
		RetryMaxDelay:       3 * time.Second,
		FailureThreshold:    3,
		OpenTimeout:         30 * time.Second,
		MaxHalfOpenRequests: 1,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ══════════════════════════════════════════════════════════════════════════════

// APIError is a non-2xx answer from a collaborator.
type APIError struct {
	StatusCode int    `json:"-"`
	Message    string `json:"message"`
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api error %d", e.StatusCode)
}

// Temporary reports whether the same request may succeed later.
func (e *APIError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// ══════════════════════════════════════════════════════════════════════════════
// BASE CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// client is the transport shared by SpeechClient and ConversationClient.
type client struct {
	name       string
	config     ClientConfig
	httpClient *http.Client
	retrier    *retry.Retrier
	breaker    *circuitbreaker.CircuitBreaker
	logger     *slog.Logger
}

func newClient(name string, cfg ClientConfig) *client {
	def := DefaultClientConfig(cfg.BaseURL)
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = def.RetryBaseDelay
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = def.RetryMaxDelay
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}
	if cfg.MaxHalfOpenRequests <= 0 {
		cfg.MaxHalfOpenRequests = def.MaxHalfOpenRequests
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", name)

	c := &client{
		name:       name,
		config:     cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}

	c.retrier = retry.New(
		retry.WithMaxAttempts(cfg.MaxRetries+1),
		retry.WithInitialDelay(cfg.RetryBaseDelay),
		retry.WithMaxDelay(cfg.RetryMaxDelay),
		retry.WithMultiplier(2.0),
		retry.WithJitter(0.1),
		retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			logger.Debug("retrying request", "attempt", attempt, "delay", delay, "error", err)
		}),
	)
	c.breaker = circuitbreaker.New(name,
		circuitbreaker.WithFailureThreshold(cfg.FailureThreshold),
		circuitbreaker.WithOpenTimeout(cfg.OpenTimeout),
		circuitbreaker.WithTrialCalls(cfg.MaxHalfOpenRequests),
		circuitbreaker.WithIsFailure(countsAsFailure),
		circuitbreaker.WithOnStateChange(func(name string, from, to circuitbreaker.State) {
			logger.Warn("circuit breaker state changed", "from", from.String(), "to", to.String())
		}),
	)
	return c
}

// countsAsFailure keeps caller cancellations and client-side mistakes (4xx)
// from opening the circuit.
func countsAsFailure(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) && !apiErr.Temporary() {
		return false
	}
	return true
}

// request describes one call.
type request struct {
	op          string
	method      string
	path        string
	query       map[string]string
	body        []byte
	contentType string
}

// do runs req through the breaker and the retrier and decodes a JSON answer
// into result.
func (c *client) do(ctx context.Context, req request, result any) error {
	if c.config.BaseURL == "" {
		return shared.NewDomainError("analysis", req.op, shared.ErrUpstreamUnavailable, c.name+" is not configured")
	}

	start := time.Now()
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.retrier.Do(ctx, func(ctx context.Context) error {
			return c.doSingle(ctx, req, result)
		})
	})
	if err != nil {
		c.logger.WarnContext(ctx, "collaborator call failed",
			"op", req.op,
			"latency", time.Since(start),
			"error", err,
		)
		return shared.WrapError("analysis", req.op, shared.ErrUpstreamUnavailable, c.name+" call failed", err)
	}

	c.logger.DebugContext(ctx, "collaborator call succeeded", "op", req.op, "latency", time.Since(start))
	return nil
}

// doSingle performs one HTTP exchange and classifies its failure for the
// retrier.
func (c *client) doSingle(ctx context.Context, req request, result any) error {
	httpReq, err := http.NewRequestWithContext(ctx, req.method, c.config.BaseURL+req.path, bytes.NewReader(req.body))
	if err != nil {
		return retry.Permanent(fmt.Errorf("create request: %w", err))
	}
	if len(req.query) > 0 {
		q := httpReq.URL.Query()
		for k, v := range req.query {
			q.Set(k, v)
		}
		httpReq.URL.RawQuery = q.Encode()
	}
	if req.contentType != "" {
		httpReq.Header.Set("Content-Type", req.contentType)
	}
	httpReq.Header.Set("Accept", "application/json")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return retry.Permanent(ctx.Err())
		}
		return retry.Retryable(fmt.Errorf("http request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return retry.Retryable(fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		_ = json.Unmarshal(body, apiErr)
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil {
				apiErr.RetryAfter = time.Duration(seconds) * time.Second
			}
		}
		if apiErr.Temporary() {
			return retry.Retryable(apiErr)
		}
		return retry.Permanent(apiErr)
	}

	if result != nil {
		if err := json.Unmarshal(body, result); err != nil {
			return retry.Permanent(fmt.Errorf("decode response: %w", err))
		}
	}
	return nil
}

// State returns the circuit breaker state, for health reporting.
func (c *client) State() circuitbreaker.State { return c.breaker.State() }

// IsOpen reports whether calls are currently short-circuited.
func (c *client) IsOpen() bool { return c.breaker.IsOpen() }
