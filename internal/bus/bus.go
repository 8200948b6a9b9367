// Package bus provides event bus implementations for exporting evaluation events.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
)

// Handler is a function that handles events.
type Handler func(ctx context.Context, event Event) error

// Bus defines the interface for event bus implementations.
type Bus interface {
	// Publish publishes an event to a topic.
	Publish(ctx context.Context, topic string, event Event) error

	// Subscribe registers handler for events on a topic. The subscription
	// lasts until ctx is cancelled or the bus is closed. A handler may still
	// be running for an event received just before cancellation.
	Subscribe(ctx context.Context, topic string, handler Handler) error

	// Close closes the bus and releases resources.
	Close() error
}

// Event represents a bus event.
type Event struct {
	// ID is the unique event identifier.
	ID string `json:"id"`

	// Type is the event type (e.g., "evaluation.snapshot.recorded").
	Type string `json:"type"`

	// Source is the service that generated the event.
	Source string `json:"source"`

	// Timestamp is when the event was created (unix milliseconds).
	Timestamp int64 `json:"timestamp"`

	// CorrelationID links related events.
	CorrelationID string `json:"correlation_id,omitempty"`

	// Payload contains the event data.
	Payload any `json:"payload"`
}

// DecodePayload converts the event payload into v. Events that crossed a
// broker carry a generic JSON value, in-memory events carry the original
// Go value; both are handled.
func (e Event) DecodePayload(v any) error {
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	return nil
}

// Topics for different event types.
const (
	// TopicSnapshotRecorded carries every snapshot appended to a ledger.
	TopicSnapshotRecorded = "evaluation.snapshot.recorded"
)
