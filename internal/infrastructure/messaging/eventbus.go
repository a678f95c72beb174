// Package messaging delivers domain events to in-process handlers and,
// optionally, to other instances through Redis pub/sub.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/alem-hub/learner-progress/internal/domain/shared"
)

var (
	// ErrEventBusClosed is returned by Publish and Subscribe after Close.
	ErrEventBusClosed = errors.New("event bus is closed")

	// ErrHandlerPanic wraps a recovered handler panic.
	ErrHandlerPanic = errors.New("handler panicked")

	errNilHandler = errors.New("handler cannot be nil")
	errNilEvent   = errors.New("event cannot be nil")
)

// ══════════════════════════════════════════════════════════════════════════════
// IN-MEMORY EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

// InMemoryEventBusConfig configures NewInMemoryEventBus.
type InMemoryEventBusConfig struct {
	// Async runs handlers off the publisher's goroutine, at most Workers at
	// a time. Synchronous delivery is what tests want.
	Async   bool
	Workers int64

	Logger *slog.Logger
}

// DefaultInMemoryEventBusConfig is asynchronous with 8 workers.
func DefaultInMemoryEventBusConfig() InMemoryEventBusConfig {
	return InMemoryEventBusConfig{Async: true, Workers: 8}
}

// InMemoryEventBus delivers events to handlers registered in this process.
// Handler errors and panics are logged and counted; they never reach the
// publisher.
type InMemoryEventBus struct {
	async   bool
	workers *semaphore.Weighted
	logger  *slog.Logger
	stats   Stats

	mu       sync.RWMutex
	byType   map[shared.EventType][]shared.EventHandler
	catchAll []shared.EventHandler
	closed   bool
	pending  sync.WaitGroup
}

// NewInMemoryEventBus creates a bus.
func NewInMemoryEventBus(config InMemoryEventBusConfig) *InMemoryEventBus {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Workers <= 0 {
		config.Workers = 8
	}
	return &InMemoryEventBus{
		async:   config.Async,
		workers: semaphore.NewWeighted(config.Workers),
		logger:  config.Logger.With("component", "event_bus"),
		byType:  make(map[shared.EventType][]shared.EventHandler),
	}
}

// Subscribe registers handler for one event type.
func (b *InMemoryEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	return b.register(func() { b.byType[eventType] = append(b.byType[eventType], handler) }, handler)
}

// SubscribeAll registers handler for every event type.
func (b *InMemoryEventBus) SubscribeAll(handler shared.EventHandler) error {
	return b.register(func() { b.catchAll = append(b.catchAll, handler) }, handler)
}

func (b *InMemoryEventBus) register(add func(), handler shared.EventHandler) error {
	if handler == nil {
		return errNilHandler
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrEventBusClosed
	}
	add()
	return nil
}

// Publish delivers event to the handlers of its type, then to catch-all
// handlers.
func (b *InMemoryEventBus) Publish(event shared.Event) error {
	if event == nil {
		return errNilEvent
	}

	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrEventBusClosed
	}
	typed := b.byType[event.EventType()]
	targets := make([]shared.EventHandler, 0, len(typed)+len(b.catchAll))
	targets = append(targets, typed...)
	targets = append(targets, b.catchAll...)
	if b.async {
		// counted under the read lock so Close cannot start waiting in between
		b.pending.Add(len(targets))
	}
	b.mu.RUnlock()

	b.stats.published.Add(1)

	for _, h := range targets {
		if !b.async {
			b.deliver(event, h)
			continue
		}
		go func(h shared.EventHandler) {
			defer b.pending.Done()
			// Acquire only fails on a canceled context.
			_ = b.workers.Acquire(context.Background(), 1)
			defer b.workers.Release(1)
			b.deliver(event, h)
		}(h)
	}
	return nil
}

func (b *InMemoryEventBus) deliver(event shared.Event, h shared.EventHandler) {
	b.stats.delivered.Add(1)
	if err := invoke(event, h); err != nil {
		b.stats.failed.Add(1)
		b.logger.Error("event handler failed", "event_type", event.EventType(), "error", err)
	}
}

func invoke(event shared.Event, h shared.EventHandler) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()
	return h(event)
}

// Close rejects further events and waits for in-flight handlers.
func (b *InMemoryEventBus) Close() error {
	b.mu.Lock()
	already := b.closed
	b.closed = true
	b.mu.Unlock()

	if !already {
		b.pending.Wait()
		b.logger.Info("event bus closed", "published", b.stats.published.Load(), "failed", b.stats.failed.Load())
	}
	return nil
}

// Stats returns delivery counters.
func (b *InMemoryEventBus) Stats() StatsSnapshot { return b.stats.snapshot() }

// ══════════════════════════════════════════════════════════════════════════════
// STATS
// ══════════════════════════════════════════════════════════════════════════════

// Stats counts events and handler runs.
type Stats struct {
	published atomic.Int64
	delivered atomic.Int64
	failed    atomic.Int64
}

// StatsSnapshot is a copy of Stats.
type StatsSnapshot struct {
	Published int64 // events accepted by Publish
	Delivered int64 // handler invocations
	Failed    int64 // invocations that returned an error or panicked
}

func (s *Stats) snapshot() StatsSnapshot {
	return StatsSnapshot{
		Published: s.published.Load(),
		Delivered: s.delivered.Load(),
		Failed:    s.failed.Load(),
	}
}
