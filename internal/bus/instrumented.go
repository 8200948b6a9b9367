package bus

import (
	"context"
	"time"
)

// MetricsRecorder receives publish and delivery outcomes.
type MetricsRecorder interface {
	RecordBusPublish(topic string, latency time.Duration, err error)
	RecordBusDelivery(topic string, err error)
}

// InstrumentedBus reports every publish and every handler invocation of
// the wrapped bus to a MetricsRecorder.
type InstrumentedBus struct {
	inner    Bus
	recorder MetricsRecorder
}

// NewInstrumentedBus wraps inner. A nil recorder turns the wrapper into a
// pass-through.
func NewInstrumentedBus(inner Bus, recorder MetricsRecorder) *InstrumentedBus {
	return &InstrumentedBus{inner: inner, recorder: recorder}
}

// Publish forwards to the wrapped bus and records latency and outcome,
// including failures.
func (b *InstrumentedBus) Publish(ctx context.Context, topic string, event Event) error {
	start := time.Now()
	err := b.inner.Publish(ctx, topic, event)
	if b.recorder != nil {
		b.recorder.RecordBusPublish(topic, time.Since(start), err)
	}
	return err
}

// Subscribe registers handler on the wrapped bus, recording the result of
// each delivery.
func (b *InstrumentedBus) Subscribe(ctx context.Context, topic string, handler Handler) error {
	if b.recorder == nil {
		return b.inner.Subscribe(ctx, topic, handler)
	}
	return b.inner.Subscribe(ctx, topic, func(ctx context.Context, event Event) error {
		err := handler(ctx, event)
		b.recorder.RecordBusDelivery(topic, err)
		return err
	})
}

// Close closes the wrapped bus.
func (b *InstrumentedBus) Close() error {
	return b.inner.Close()
}
