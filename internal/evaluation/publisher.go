package evaluation

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ricesearch/rice-eval/internal/bus"
	"github.com/ricesearch/rice-eval/internal/pkg/logger"
)

// EventSource identifies events produced by this service.
const EventSource = "rice-eval"

// SnapshotPublisher exports recorded snapshots as bus events.
// Publish failures are logged and never reach the caller of Evaluate.
type SnapshotPublisher struct {
	bus   bus.Bus
	topic string
	log   *logger.Logger
}

// NewSnapshotPublisher creates a publisher for topic. An empty topic means
// bus.TopicSnapshotRecorded.
func NewSnapshotPublisher(b bus.Bus, topic string, log *logger.Logger) *SnapshotPublisher {
	if topic == "" {
		topic = bus.TopicSnapshotRecorded
	}
	if log == nil {
		log = logger.Default()
	}
	return &SnapshotPublisher{bus: b, topic: topic, log: log}
}

// ObserveSnapshot implements Observer.
func (p *SnapshotPublisher) ObserveSnapshot(ctx context.Context, snapshot MetricSnapshot) {
	event := bus.Event{
		ID:            uuid.NewString(),
		Type:          bus.TopicSnapshotRecorded,
		Source:        EventSource,
		Timestamp:     time.Now().UnixMilli(),
		CorrelationID: snapshot.ID,
		Payload:       snapshot,
	}

	if err := p.bus.Publish(ctx, p.topic, event); err != nil {
		p.log.WithContext(ctx).WithError(err).Warn("Failed to publish snapshot",
			"topic", p.topic,
			"snapshot_id", snapshot.ID,
		)
	}
}

// SnapshotFromEvent decodes the snapshot carried by a bus event.
func SnapshotFromEvent(event bus.Event) (MetricSnapshot, error) {
	var s MetricSnapshot
	if err := event.DecodePayload(&s); err != nil {
		return MetricSnapshot{}, err
	}
	return s, nil
}
