// Package retry re-runs operations with exponential backoff and jitter.
// Collaborator clients mark their failures Retryable or Permanent; the
// Postgres unit of work supplies a RetryIf predicate for transient
// transaction conflicts instead.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// ERROR MARKERS
// ══════════════════════════════════════════════════════════════════════════════

// markedError carries the caller's verdict on whether err is worth another try.
type markedError struct {
	err   error
	retry bool
}

func (e *markedError) Error() string { return e.err.Error() }
func (e *markedError) Unwrap() error { return e.err }

// Retryable marks err as transient. The marker is stripped before the error
// leaves Do.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &markedError{err: err, retry: true}
}

// Permanent marks err as final; Do returns it at once without the marker.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &markedError{err: err, retry: false}
}

// IsRetryable reports whether err was marked Retryable.
func IsRetryable(err error) bool {
	var m *markedError
	return errors.As(err, &m) && m.retry
}

// unmark strips a top-level marker.
func unmark(err error) (error, *markedError) {
	var m *markedError
	if errors.As(err, &m) && err == error(m) {
		return m.err, m
	}
	return err, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// BACKOFF
// ══════════════════════════════════════════════════════════════════════════════

// Backoff computes the wait before retry n (1-based):
// Initial * Multiplier^(n-1), capped at Max, then spread by ±Jitter.
type Backoff struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64
}

// Delay returns the wait before retry n. rnd yields values in [0,1); nil
// disables jitter.
func (b Backoff) Delay(n int, rnd func() float64) time.Duration {
	if n < 1 {
		n = 1
	}
	d := float64(b.Initial) * math.Pow(b.Multiplier, float64(n-1))
	if b.Max > 0 && d > float64(b.Max) {
		d = float64(b.Max)
	}
	if b.Jitter > 0 && rnd != nil {
		d += d * b.Jitter * (rnd()*2 - 1)
	}
	if d < 0 {
		return 0
	}
	return time.Duration(d)
}

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config holds retry settings.
type Config struct {
	// MaxAttempts counts the first call too.
	MaxAttempts int

	Backoff Backoff

	// RetryIf decides for errors that carry no marker. When nil, only
	// Retryable errors are retried.
	RetryIf func(error) bool

	// OnRetry runs before each wait.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultConfig returns 3 attempts starting at 100ms, doubling up to 30s
// with 10% jitter.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		Backoff: Backoff{
			Initial:    100 * time.Millisecond,
			Max:        30 * time.Second,
			Multiplier: 2,
			Jitter:     0.1,
		},
	}
}

// Option is a functional option for configuring retries.
type Option func(*Config)

// WithMaxAttempts sets the attempt limit. Values below 1 are ignored.
func WithMaxAttempts(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxAttempts = n
		}
	}
}

// WithInitialDelay sets the wait before the first retry.
func WithInitialDelay(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.Backoff.Initial = d
		}
	}
}

// WithMaxDelay caps a single wait.
func WithMaxDelay(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.Backoff.Max = d
		}
	}
}

// WithMultiplier sets the growth factor; values below 1 are ignored.
func WithMultiplier(m float64) Option {
	return func(c *Config) {
		if m >= 1 {
			c.Backoff.Multiplier = m
		}
	}
}

// WithJitter sets the jitter fraction in [0,1].
func WithJitter(j float64) Option {
	return func(c *Config) {
		if j >= 0 && j <= 1 {
			c.Backoff.Jitter = j
		}
	}
}

// WithRetryIf sets the predicate for unmarked errors.
func WithRetryIf(fn func(error) bool) Option {
	return func(c *Config) { c.RetryIf = fn }
}

// WithOnRetry sets the hook called before each wait.
func WithOnRetry(fn func(attempt int, err error, delay time.Duration)) Option {
	return func(c *Config) { c.OnRetry = fn }
}

// ══════════════════════════════════════════════════════════════════════════════
// RETRIER
// ══════════════════════════════════════════════════════════════════════════════

// Retrier runs operations under one Config. It is safe for concurrent use.
type Retrier struct {
	config Config
	rnd    func() float64
	sleep  func(ctx context.Context, d time.Duration) error
}

// New creates a Retrier from DefaultConfig and opts.
func New(opts ...Option) *Retrier {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	return &Retrier{config: config, rnd: rand.Float64, sleep: sleepCtx}
}

// With returns a copy with opts applied on top.
func (r *Retrier) With(opts ...Option) *Retrier {
	cp := *r
	for _, opt := range opts {
		opt(&cp.config)
	}
	return &cp
}

// Do calls op until it succeeds, returns a non-retryable error, runs out of
// attempts or ctx ends. Markers are removed from the returned error. When
// ctx ends during a wait, the last operation error is returned.
func (r *Retrier) Do(ctx context.Context, op func(ctx context.Context) error) error {
	var last error

	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			if last != nil {
				return last
			}
			return err
		}

		err := op(ctx)
		if err == nil {
			return nil
		}

		plain, mark := unmark(err)
		last = plain

		if !r.shouldRetry(err, mark) || attempt >= r.config.MaxAttempts {
			return plain
		}

		delay := r.config.Backoff.Delay(attempt, r.rnd)
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, plain, delay)
		}
		if r.sleep(ctx, delay) != nil {
			return last
		}
	}
}

func (r *Retrier) shouldRetry(err error, mark *markedError) bool {
	if mark != nil {
		return mark.retry
	}
	if r.config.RetryIf != nil {
		return r.config.RetryIf(err)
	}
	return IsRetryable(err)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// DatabaseRetrier re-runs short transactions: 3 attempts from 50ms to 1s.
func DatabaseRetrier() *Retrier {
	return New(
		WithMaxAttempts(3),
		WithInitialDelay(50*time.Millisecond),
		WithMaxDelay(time.Second),
		WithMultiplier(2),
		WithJitter(0.05),
	)
}
