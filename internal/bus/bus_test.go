package bus

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ricesearch/rice-eval/internal/config"
	"github.com/ricesearch/rice-eval/internal/pkg/logger"
)

func waitGroup(t *testing.T, wg *sync.WaitGroup, timeout time.Duration) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatal("Timeout waiting for events")
	}
}

// waitForHandlers polls count until it reports want handlers.
func waitForHandlers(t *testing.T, count func() int, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for count() != want {
		if time.Now().After(deadline) {
			t.Fatalf("handlers = %d, want %d", count(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestMemoryBus_PublishSubscribe(t *testing.T) {
	bus := NewMemoryBus(logger.Discard())
	defer bus.Close()

	var received atomic.Int32
	var wg sync.WaitGroup

	err := bus.Subscribe(context.Background(), "test.topic", func(ctx context.Context, event Event) error {
		received.Add(1)
		wg.Done()
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	wg.Add(3)
	for i := 0; i < 3; i++ {
		err := bus.Publish(context.Background(), "test.topic", Event{
			ID:   "test-" + string(rune('0'+i)),
			Type: "test",
		})
		if err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}

	waitGroup(t, &wg, time.Second)

	if got := received.Load(); got != 3 {
		t.Errorf("Received %d events, want 3", got)
	}
}

func TestMemoryBus_MultipleSubscribers(t *testing.T) {
	bus := NewMemoryBus(logger.Discard())
	defer bus.Close()

	var count1, count2 atomic.Int32
	var wg sync.WaitGroup

	bus.Subscribe(context.Background(), "test.topic", func(ctx context.Context, event Event) error {
		count1.Add(1)
		wg.Done()
		return nil
	})

	bus.Subscribe(context.Background(), "test.topic", func(ctx context.Context, event Event) error {
		count2.Add(1)
		wg.Done()
		return nil
	})

	wg.Add(2)
	bus.Publish(context.Background(), "test.topic", Event{ID: "test", Type: "test"})

	waitGroup(t, &wg, time.Second)

	if count1.Load() != 1 || count2.Load() != 1 {
		t.Errorf("Expected both subscribers to receive 1 event, got %d and %d", count1.Load(), count2.Load())
	}
}

func TestMemoryBus_NoSubscribers(t *testing.T) {
	bus := NewMemoryBus(logger.Discard())
	defer bus.Close()

	err := bus.Publish(context.Background(), "empty.topic", Event{ID: "test", Type: "test"})
	if err != nil {
		t.Errorf("Publish() to empty topic error = %v", err)
	}
}

func TestMemoryBus_HandlerOutlivesPublisherContext(t *testing.T) {
	bus := NewMemoryBus(logger.Discard())
	defer bus.Close()

	var wg sync.WaitGroup
	var ctxErr atomic.Value

	bus.Subscribe(context.Background(), "t", func(ctx context.Context, event Event) error {
		time.Sleep(10 * time.Millisecond)
		if err := ctx.Err(); err != nil {
			ctxErr.Store(err)
		}
		wg.Done()
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	wg.Add(1)
	bus.Publish(ctx, "t", Event{ID: "x"})
	cancel()

	waitGroup(t, &wg, time.Second)
	if v := ctxErr.Load(); v != nil {
		t.Errorf("handler context was cancelled: %v", v)
	}
}

func TestMemoryBus_SubscriptionEndsWithContext(t *testing.T) {
	bus := NewMemoryBus(logger.Discard())
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	var calls atomic.Int32
	bus.Subscribe(ctx, "t", func(context.Context, Event) error {
		calls.Add(1)
		return nil
	})
	bus.Subscribe(context.Background(), "t", func(context.Context, Event) error { return nil })

	count := func() int {
		bus.mu.RLock()
		defer bus.mu.RUnlock()
		return len(bus.subs.handlers("t"))
	}
	if got := count(); got != 2 {
		t.Fatalf("handlers = %d, want 2", got)
	}

	cancel()
	waitForHandlers(t, count, 1)

	bus.Publish(context.Background(), "t", Event{ID: "late"})
	bus.DrainTimeout(time.Second)
	if got := calls.Load(); got != 0 {
		t.Errorf("cancelled handler called %d times", got)
	}
}

func TestMemoryBus_Close(t *testing.T) {
	bus := NewMemoryBus(logger.Discard())

	if err := bus.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	// Second close is a no-op
	if err := bus.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	err := bus.Publish(context.Background(), "test", Event{})
	if err == nil {
		t.Error("Publish() after Close() should error")
	}

	err = bus.Subscribe(context.Background(), "test", func(ctx context.Context, event Event) error {
		return nil
	})
	if err == nil {
		t.Error("Subscribe() after Close() should error")
	}
}

func TestMemoryBus_Concurrent(t *testing.T) {
	bus := NewMemoryBus(logger.Discard())
	defer bus.Close()

	var received atomic.Int32
	var wg sync.WaitGroup

	bus.Subscribe(context.Background(), "concurrent", func(ctx context.Context, event Event) error {
		received.Add(1)
		wg.Done()
		return nil
	})

	numPublishers := 10
	eventsPerPublisher := 100
	wg.Add(numPublishers * eventsPerPublisher)

	for p := 0; p < numPublishers; p++ {
		go func() {
			for i := 0; i < eventsPerPublisher; i++ {
				bus.Publish(context.Background(), "concurrent", Event{
					ID:   "test",
					Type: "test",
				})
			}
		}()
	}

	waitGroup(t, &wg, 5*time.Second)

	expected := int32(numPublishers * eventsPerPublisher)
	if got := received.Load(); got != expected {
		t.Errorf("Received %d events, want %d", got, expected)
	}
}

func TestEvent_DecodePayload(t *testing.T) {
	type payload struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	t.Run("go value", func(t *testing.T) {
		ev := Event{Payload: payload{Name: "a", Count: 2}}
		var got payload
		if err := ev.DecodePayload(&got); err != nil {
			t.Fatalf("DecodePayload() error = %v", err)
		}
		if got.Name != "a" || got.Count != 2 {
			t.Errorf("got %+v", got)
		}
	})

	t.Run("generic json value", func(t *testing.T) {
		ev := Event{Payload: map[string]any{"name": "b", "count": float64(3)}}
		var got payload
		if err := ev.DecodePayload(&got); err != nil {
			t.Fatalf("DecodePayload() error = %v", err)
		}
		if got.Name != "b" || got.Count != 3 {
			t.Errorf("got %+v", got)
		}
	})

	t.Run("type mismatch", func(t *testing.T) {
		ev := Event{Payload: "not an object"}
		var got payload
		if err := ev.DecodePayload(&got); err == nil {
			t.Error("DecodePayload() should fail for a string payload")
		}
	})
}

type fakeRecorder struct {
	mu         sync.Mutex
	topics     []string
	errs       []error
	deliveries []error
}

func (r *fakeRecorder) RecordBusDelivery(topic string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = append(r.deliveries, err)
}

func (r *fakeRecorder) RecordBusPublish(topic string, latency time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.topics = append(r.topics, topic)
	r.errs = append(r.errs, err)
}

func TestInstrumentedBus_RecordsPublish(t *testing.T) {
	inner := NewMemoryBus(logger.Discard())
	rec := &fakeRecorder{}
	bus := NewInstrumentedBus(inner, rec)

	if err := bus.Publish(context.Background(), "a", Event{ID: "1"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	if err := bus.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	// Publishing on a closed bus is recorded with its error
	if err := bus.Publish(context.Background(), "b", Event{ID: "2"}); err == nil {
		t.Fatal("Publish() after Close() should error")
	}

	if len(rec.topics) != 2 || rec.topics[0] != "a" || rec.topics[1] != "b" {
		t.Fatalf("recorded topics = %v, want [a b]", rec.topics)
	}
	if rec.errs[0] != nil || rec.errs[1] == nil {
		t.Errorf("recorded errors = %v, want [nil, non-nil]", rec.errs)
	}
}

func TestInstrumentedBus_RecordsDelivery(t *testing.T) {
	rec := &fakeRecorder{}
	bus := NewInstrumentedBus(NewMemoryBus(logger.Discard()), rec)

	var wg sync.WaitGroup
	wg.Add(2)
	bus.Subscribe(context.Background(), "t", func(ctx context.Context, event Event) error {
		defer wg.Done()
		if event.ID == "bad" {
			return errors.New("rejected")
		}
		return nil
	})

	bus.Publish(context.Background(), "t", Event{ID: "good"})
	bus.Publish(context.Background(), "t", Event{ID: "bad"})
	waitGroup(t, &wg, time.Second)

	// Close drains deliveries, so the recorder has seen both.
	bus.Close()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.deliveries) != 2 {
		t.Fatalf("deliveries = %d, want 2", len(rec.deliveries))
	}
	failed := 0
	for _, err := range rec.deliveries {
		if err != nil {
			failed++
		}
	}
	if failed != 1 {
		t.Errorf("failed deliveries = %d, want 1", failed)
	}
}

func TestInstrumentedBus_NilRecorder(t *testing.T) {
	bus := NewInstrumentedBus(NewMemoryBus(logger.Discard()), nil)
	defer bus.Close()

	if err := bus.Subscribe(context.Background(), "t", func(context.Context, Event) error { return nil }); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if err := bus.Publish(context.Background(), "t", Event{ID: "1"}); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
}

func TestNewBus(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.BusConfig
		wantErr bool
	}{
		{name: "memory", cfg: config.BusConfig{Type: "memory"}},
		{name: "empty defaults to memory", cfg: config.BusConfig{}},
		{name: "kafka without brokers", cfg: config.BusConfig{Type: "kafka"}, wantErr: true},
		{name: "redis without url", cfg: config.BusConfig{Type: "redis"}, wantErr: true},
		{name: "unknown", cfg: config.BusConfig{Type: "nats"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := NewBus(tt.cfg, logger.Discard())
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewBus() error = %v, wantErr %v", err, tt.wantErr)
			}
			if b != nil {
				b.Close()
			}
		})
	}
}

func TestNewBus_MemoryType(t *testing.T) {
	b, err := NewBus(config.BusConfig{Type: "MEMORY"}, logger.Discard())
	if err != nil {
		t.Fatalf("NewBus() error = %v", err)
	}
	defer b.Close()

	if _, ok := b.(*MemoryBus); !ok {
		t.Errorf("NewBus() returned %T, want *MemoryBus", b)
	}
}
