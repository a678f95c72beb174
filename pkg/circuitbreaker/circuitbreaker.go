// Package circuitbreaker stops calling a collaborator that keeps failing.
// After FailureThreshold consecutive failures the breaker opens and every
// call fails fast with ErrCircuitOpen. Once OpenTimeout has passed, a limited
// number of trial calls go through; if they all succeed the breaker closes,
// and any failing trial opens it again.
package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// State of a breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// ErrCircuitOpen is returned without calling the operation while the breaker
// is open or all half-open trial slots are taken.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ══════════════════════════════════════════════════════════════════════════════
// SETTINGS
// ══════════════════════════════════════════════════════════════════════════════

// Settings configures a breaker.
type Settings struct {
	Name string

	// FailureThreshold is the number of consecutive failures that opens a
	// closed breaker.
	FailureThreshold int

	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration

	// TrialCalls is how many calls are let through while half-open. All of them
	// have to succeed to close the breaker.
	TrialCalls int

	// IsFailure decides which errors count. Nil counts every non-nil error.
	IsFailure func(error) bool

	// OnStateChange runs after a transition, outside the breaker's lock.
	OnStateChange func(name string, from, to State)
}

// Option adjusts Settings.
type Option func(*Settings)

// WithFailureThreshold sets the number of consecutive failures that opens
// the breaker.
func WithFailureThreshold(n int) Option {
	return func(s *Settings) {
		if n > 0 {
			s.FailureThreshold = n
		}
	}
}

// WithOpenTimeout sets how long the breaker stays open.
func WithOpenTimeout(d time.Duration) Option {
	return func(s *Settings) {
		if d > 0 {
			s.OpenTimeout = d
		}
	}
}

// WithTrialCalls sets the number of half-open trial calls.
func WithTrialCalls(n int) Option {
	return func(s *Settings) {
		if n > 0 {
			s.TrialCalls = n
		}
	}
}

// WithIsFailure sets the failure predicate.
func WithIsFailure(fn func(error) bool) Option {
	return func(s *Settings) { s.IsFailure = fn }
}

// WithOnStateChange sets the transition hook.
func WithOnStateChange(fn func(name string, from, to State)) Option {
	return func(s *Settings) { s.OnStateChange = fn }
}

// ══════════════════════════════════════════════════════════════════════════════
// BREAKER
// ══════════════════════════════════════════════════════════════════════════════

type transition struct {
	from, to State
}

// CircuitBreaker guards calls to one collaborator. Safe for concurrent use.
type CircuitBreaker struct {
	settings Settings
	now      func() time.Time

	mu         sync.Mutex
	state      State
	generation uint64 // bumped on every transition
	failures   int    // consecutive, while closed
	inFlight   int    // trial calls admitted, while half-open
	passed     int    // trial calls succeeded, while half-open
	openedAt   time.Time
}

// New returns a closed breaker. Defaults: 5 failures, 30s open, 1 trial.
func New(name string, opts ...Option) *CircuitBreaker {
	s := Settings{
		Name:             name,
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
		TrialCalls:       1,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return &CircuitBreaker{settings: s, now: time.Now}
}

// Name returns the breaker's name.
func (cb *CircuitBreaker) Name() string { return cb.settings.Name }

// Execute runs fn unless the breaker rejects the call. fn's error is
// returned unchanged.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	gen, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn(ctx)
	cb.record(gen, err)
	return err
}

// State returns the current state, moving an expired open breaker to
// half-open first.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	t := cb.expire()
	state := cb.state
	cb.mu.Unlock()
	cb.notify(t)
	return state
}

// IsOpen reports whether calls are rejected right now.
func (cb *CircuitBreaker) IsOpen() bool { return cb.State() == StateOpen }

func (cb *CircuitBreaker) admit() (uint64, error) {
	cb.mu.Lock()
	t := cb.expire()
	gen := cb.generation
	var err error
	switch cb.state {
	case StateOpen:
		err = ErrCircuitOpen
	case StateHalfOpen:
		if cb.inFlight >= cb.settings.TrialCalls {
			err = ErrCircuitOpen
		} else {
			cb.inFlight++
		}
	}
	cb.mu.Unlock()
	cb.notify(t)
	return gen, err
}

func (cb *CircuitBreaker) record(gen uint64, err error) {
	failed := err != nil
	if failed && cb.settings.IsFailure != nil {
		failed = cb.settings.IsFailure(err)
	}

	cb.mu.Lock()
	// results of calls admitted before the last transition are stale
	if gen != cb.generation {
		cb.mu.Unlock()
		return
	}

	var t *transition
	switch cb.state {
	case StateClosed:
		if !failed {
			cb.failures = 0
		} else if cb.failures++; cb.failures >= cb.settings.FailureThreshold {
			t = cb.moveTo(StateOpen)
		}
	case StateHalfOpen:
		if failed {
			t = cb.moveTo(StateOpen)
		} else if cb.passed++; cb.passed >= cb.settings.TrialCalls {
			t = cb.moveTo(StateClosed)
		}
	}
	cb.mu.Unlock()
	cb.notify(t)
}

// expire must be called with mu held.
func (cb *CircuitBreaker) expire() *transition {
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.settings.OpenTimeout {
		return cb.moveTo(StateHalfOpen)
	}
	return nil
}

// moveTo must be called with mu held.
func (cb *CircuitBreaker) moveTo(to State) *transition {
	from := cb.state
	cb.state = to
	cb.generation++
	cb.failures, cb.inFlight, cb.passed = 0, 0, 0
	if to == StateOpen {
		cb.openedAt = cb.now()
	}
	return &transition{from: from, to: to}
}

func (cb *CircuitBreaker) notify(t *transition) {
	if t != nil && cb.settings.OnStateChange != nil {
		cb.settings.OnStateChange(cb.settings.Name, t.from, t.to)
	}
}
