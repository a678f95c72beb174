package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alem-hub/learner-progress/internal/domain/shared"
)

// DefaultChannel is the pub/sub channel events are fanned out on.
const DefaultChannel = "learner-progress:events"

const publishTimeout = 2 * time.Second

// RedisClient is the pub/sub subset RedisEventBus needs.
type RedisClient interface {
	Publish(ctx context.Context, channel string, message any) error
	// Subscribe returns payloads until ctx ends, then closes the channel.
	Subscribe(ctx context.Context, channel string) (<-chan string, error)
}

// ══════════════════════════════════════════════════════════════════════════════
// REDIS EVENT BUS
// ══════════════════════════════════════════════════════════════════════════════

// RedisEventBusConfig configures NewRedisEventBus.
type RedisEventBusConfig struct {
	Client RedisClient

	// Channel defaults to DefaultChannel.
	Channel string

	// InstanceID tags outgoing events so the instance can skip its own
	// echo. Random when empty.
	InstanceID string

	LocalBusConfig InMemoryEventBusConfig

	Logger *slog.Logger
}

// RedisEventBus delivers every event locally and also publishes it on a
// Redis channel; events arriving from other instances are delivered to the
// same local handlers. Local delivery never depends on Redis.
type RedisEventBus struct {
	local   *InMemoryEventBus
	client  RedisClient
	channel string
	origin  string
	logger  *slog.Logger

	closed     atomic.Bool
	listenCtx  context.Context
	stopListen context.CancelFunc
	listening  sync.WaitGroup
}

// NewRedisEventBus subscribes to the channel and starts listening.
func NewRedisEventBus(config RedisEventBusConfig) (*RedisEventBus, error) {
	if config.Client == nil {
		return nil, errors.New("redis client is required")
	}
	if config.Channel == "" {
		config.Channel = DefaultChannel
	}
	if config.InstanceID == "" {
		config.InstanceID = uuid.NewString()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.LocalBusConfig.Logger == nil {
		config.LocalBusConfig.Logger = config.Logger
	}

	ctx, cancel := context.WithCancel(context.Background())
	payloads, err := config.Client.Subscribe(ctx, config.Channel)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe %s: %w", config.Channel, err)
	}

	b := &RedisEventBus{
		local:      NewInMemoryEventBus(config.LocalBusConfig),
		client:     config.Client,
		channel:    config.Channel,
		origin:     config.InstanceID,
		logger:     config.Logger.With("component", "redis_event_bus", "instance", config.InstanceID),
		listenCtx:  ctx,
		stopListen: cancel,
	}
	b.listening.Add(1)
	go b.listen(payloads)
	return b, nil
}

func (b *RedisEventBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	return b.local.Subscribe(eventType, handler)
}

func (b *RedisEventBus) SubscribeAll(handler shared.EventHandler) error {
	return b.local.SubscribeAll(handler)
}

// Publish sends event to Redis and to local handlers. A Redis failure is
// logged only.
func (b *RedisEventBus) Publish(event shared.Event) error {
	if event == nil {
		return errNilEvent
	}
	if b.closed.Load() {
		return ErrEventBusClosed
	}

	data, err := json.Marshal(wireEvent{
		Origin:    b.origin,
		Type:      event.EventType(),
		Aggregate: event.AggregateID(),
		At:        event.OccurredAt(),
		Data:      event.Payload(),
	})
	if err != nil {
		return fmt.Errorf("encode %s: %w", event.EventType(), err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	err = b.client.Publish(ctx, b.channel, string(data))
	cancel()
	if err != nil {
		b.logger.Warn("redis publish failed, delivering locally only",
			"event_type", event.EventType(), "error", err)
	}

	return b.local.Publish(event)
}

func (b *RedisEventBus) listen(payloads <-chan string) {
	defer b.listening.Done()
	for {
		var payload string
		select {
		case <-b.listenCtx.Done():
			return
		case p, ok := <-payloads:
			if !ok {
				return
			}
			payload = p
		}

		var w wireEvent
		if err := json.Unmarshal([]byte(payload), &w); err != nil {
			b.logger.Warn("dropping malformed event", "error", err)
			continue
		}
		if w.Origin == b.origin {
			continue
		}
		if err := b.local.Publish(&w); err != nil && !errors.Is(err, ErrEventBusClosed) {
			b.logger.Error("remote event not delivered", "event_type", w.Type, "error", err)
		}
	}
}

// Close stops listening, then drains local handlers.
func (b *RedisEventBus) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	b.stopListen()
	b.listening.Wait()
	return b.local.Close()
}

// Stats returns the local delivery counters.
func (b *RedisEventBus) Stats() StatsSnapshot { return b.local.Stats() }

// wireEvent is the JSON form of an event on the channel. Decoded, it is a
// shared.Event carrying only these fields, so handlers that type-switch on
// concrete events skip it.
type wireEvent struct {
	Origin    string           `json:"origin"`
	Type      shared.EventType `json:"type"`
	Aggregate string           `json:"aggregate_id"`
	At        time.Time        `json:"occurred_at"`
	Data      map[string]any   `json:"payload"`
}

func (w *wireEvent) EventType() shared.EventType { return w.Type }
func (w *wireEvent) AggregateID() string         { return w.Aggregate }
func (w *wireEvent) OccurredAt() time.Time       { return w.At }
func (w *wireEvent) Payload() map[string]any     { return w.Data }

// ══════════════════════════════════════════════════════════════════════════════
// GO-REDIS ADAPTER
// ══════════════════════════════════════════════════════════════════════════════

// GoRedisClient adapts *redis.Client to RedisClient.
type GoRedisClient struct {
	rdb *redis.Client
}

func NewGoRedisClient(rdb *redis.Client) *GoRedisClient {
	return &GoRedisClient{rdb: rdb}
}

func (c *GoRedisClient) Publish(ctx context.Context, channel string, message any) error {
	return c.rdb.Publish(ctx, channel, message).Err()
}

// Subscribe waits for the subscription to be confirmed, so anything
// published after it returns is received.
func (c *GoRedisClient) Subscribe(ctx context.Context, channel string) (<-chan string, error) {
	ps := c.rdb.Subscribe(ctx, channel)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	// closing the PubSub closes its message channel and ends the loop below
	context.AfterFunc(ctx, func() { _ = ps.Close() })

	out := make(chan string)
	go func() {
		defer close(out)
		for m := range ps.Channel() {
			select {
			case out <- m.Payload:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
