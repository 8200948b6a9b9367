package bus

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ricesearch/rice-eval/internal/pkg/errors"
	"github.com/ricesearch/rice-eval/internal/pkg/logger"
)

// RedisBus publishes events over Redis Pub/Sub. Delivery is at most once:
// subscribers that are not connected when an event is published miss it.
type RedisBus struct {
	client *redis.Client
	prefix string
	log    *logger.Logger

	mu      sync.RWMutex
	subs    subscriptions
	pubsubs map[string]*redis.PubSub
	closed  bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewRedisBus connects to Redis and returns a bus. Channel names are the
// topic prefixed with "rice:events:".
func NewRedisBus(url string, log *logger.Logger) (*RedisBus, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(errors.CodeValidation, "parsing redis URL", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrap(errors.CodeUnavailable, "connecting to redis", err)
	}

	return newRedisBus(client, log), nil
}

func newRedisBus(client *redis.Client, log *logger.Logger) *RedisBus {
	if log == nil {
		log = logger.Default()
	}
	return &RedisBus{
		client:   client,
		prefix:   "rice:events:",
		log:      log,
		subs:     newSubscriptions(),
		pubsubs:  make(map[string]*redis.PubSub),
		done:     make(chan struct{}),
	}
}

func (b *RedisBus) channel(topic string) string {
	return b.prefix + topic
}

// Publish publishes an event to the topic's channel.
func (b *RedisBus) Publish(ctx context.Context, topic string, event Event) error {
	b.mu.RLock()
	closed := b.closed
	b.mu.RUnlock()
	if closed {
		return errors.New(errors.CodeUnavailable, "bus is closed")
	}

	data, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(errors.CodeInternal, "failed to marshal event", err)
	}

	if err := b.client.Publish(ctx, b.channel(topic), data).Err(); err != nil {
		return errors.BusError("failed to publish to redis", err)
	}
	return nil
}

// Subscribe registers a handler. The first handler for a topic opens the
// Redis subscription and the last one to leave closes it.
func (b *RedisBus) Subscribe(ctx context.Context, topic string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errors.New(errors.CodeUnavailable, "bus is closed")
	}

	id, first := b.subs.add(topic, handler)
	if first {
		ps := b.client.Subscribe(ctx, b.channel(topic))
		// Wait for the subscription confirmation so events published right
		// after Subscribe returns are not lost.
		if _, err := ps.Receive(ctx); err != nil {
			_ = ps.Close()
			b.subs.remove(topic, id)
			return errors.BusError(fmt.Sprintf("failed to subscribe to %s", topic), err)
		}
		b.pubsubs[topic] = ps

		b.wg.Add(1)
		go b.consume(topic, ps)
	}

	unsubscribeOnDone(ctx, b.done, func() { b.unsubscribe(topic, id) })
	return nil
}

func (b *RedisBus) unsubscribe(topic string, id uint64) {
	b.mu.Lock()
	var ps *redis.PubSub
	if b.subs.remove(topic, id) {
		ps = b.pubsubs[topic]
		delete(b.pubsubs, topic)
	}
	b.mu.Unlock()

	if ps != nil {
		if err := ps.Close(); err != nil {
			b.log.Warn("Failed to close redis subscription", "topic", topic, "error", err.Error())
		}
	}
}

func (b *RedisBus) consume(topic string, ps *redis.PubSub) {
	defer b.wg.Done()

	for msg := range ps.Channel() {
		var event Event
		if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
			b.log.Warn("Failed to unmarshal event from redis", "topic", topic, "error", err.Error())
			continue
		}

		b.mu.RLock()
		handlers := b.subs.handlers(topic)
		b.mu.RUnlock()

		for _, h := range handlers {
			if err := h(context.Background(), event); err != nil {
				b.log.Warn("Bus handler failed", "topic", topic, "error", err.Error())
			}
		}
	}
}

// Close closes all subscriptions and the Redis client.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.done)
	pubsubs := b.pubsubs
	b.pubsubs = nil
	b.mu.Unlock()

	var errs []error
	for topic, ps := range pubsubs {
		if err := ps.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close subscription %s: %w", topic, err))
		}
	}
	b.wg.Wait()

	if err := b.client.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close client: %w", err))
	}

	b.mu.Lock()
	b.subs.reset()
	b.mu.Unlock()

	if err := stderrors.Join(errs...); err != nil {
		return errors.BusError("failed to close redis bus", err)
	}
	return nil
}
