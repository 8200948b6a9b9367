package bus

import (
	"context"
	"sync"
	"time"

	"github.com/ricesearch/rice-eval/internal/pkg/errors"
	"github.com/ricesearch/rice-eval/internal/pkg/logger"
)

const memoryDrainTimeout = 10 * time.Second

// MemoryBus delivers events inside the process. Every handler runs on its
// own goroutine so a slow subscriber never blocks an evaluation.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   subscriptions
	closed bool
	done   chan struct{}

	log      *logger.Logger
	inflight sync.WaitGroup
}

// NewMemoryBus creates an empty in-memory bus.
func NewMemoryBus(log *logger.Logger) *MemoryBus {
	if log == nil {
		log = logger.Default()
	}
	return &MemoryBus{
		subs:   newSubscriptions(),
		done:   make(chan struct{}),
		log:    log,
	}
}

// Publish hands event to every current subscriber of topic. Having no
// subscribers is not an error.
func (b *MemoryBus) Publish(ctx context.Context, topic string, event Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return errors.New(errors.CodeUnavailable, "bus is closed")
	}

	// Delivery outlives the publishing request.
	hctx := context.WithoutCancel(ctx)
	for _, h := range b.subs.handlers(topic) {
		b.inflight.Add(1)
		go b.deliver(hctx, topic, h, event)
	}
	return nil
}

func (b *MemoryBus) deliver(ctx context.Context, topic string, h Handler, event Event) {
	defer b.inflight.Done()
	if err := h(ctx, event); err != nil {
		b.log.Warn("Bus handler failed", "topic", topic, "event_id", event.ID, "error", err.Error())
	}
}

// Subscribe registers handler for topic until ctx is cancelled or the bus
// is closed.
func (b *MemoryBus) Subscribe(ctx context.Context, topic string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return errors.New(errors.CodeUnavailable, "bus is closed")
	}

	id, _ := b.subs.add(topic, handler)
	unsubscribeOnDone(ctx, b.done, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.subs.remove(topic, id)
	})
	return nil
}

// Close rejects further publishes and waits for in-flight deliveries.
// Calling Close more than once is a no-op.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.done)
	b.subs.reset()
	b.mu.Unlock()

	if !b.DrainTimeout(memoryDrainTimeout) {
		b.log.Warn("Bus drain timeout reached, some handlers may not have completed")
	}
	return nil
}

// DrainTimeout waits up to timeout for in-flight deliveries and reports
// whether they all finished.
func (b *MemoryBus) DrainTimeout(timeout time.Duration) bool {
	drained := make(chan struct{})
	go func() {
		b.inflight.Wait()
		close(drained)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-drained:
		return true
	case <-timer.C:
		return false
	}
}
