package evaluation

import (
	"context"
	"time"

	"github.com/ricesearch/rice-eval/internal/pkg/errors"
	"github.com/ricesearch/rice-eval/internal/pkg/logger"
)

// Observer is notified after a snapshot has been recorded.
type Observer interface {
	ObserveSnapshot(ctx context.Context, snapshot MetricSnapshot)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(ctx context.Context, snapshot MetricSnapshot)

// ObserveSnapshot calls f.
func (f ObserverFunc) ObserveSnapshot(ctx context.Context, snapshot MetricSnapshot) {
	f(ctx, snapshot)
}

// Service is the entry point used by the HTTP, gRPC and CLI surfaces.
type Service struct {
	evaluator *HitRateEvaluator
	observers []Observer
	log       *logger.Logger
}

// NewService wraps an evaluator. Observers run in order after each
// successful evaluation.
func NewService(evaluator *HitRateEvaluator, log *logger.Logger, observers ...Observer) *Service {
	if log == nil {
		log = logger.Default()
	}
	return &Service{
		evaluator: evaluator,
		observers: observers,
		log:       log,
	}
}

// AddObserver registers another observer. Not safe to call concurrently
// with Evaluate.
func (s *Service) AddObserver(o Observer) {
	s.observers = append(s.observers, o)
}

// Evaluate runs one evaluation and fans the snapshot out to observers.
func (s *Service) Evaluate(ctx context.Context, req Request) (MetricSnapshot, error) {
	log := s.log.WithContext(ctx).WithRun(req.Label)
	start := time.Now()

	snapshot, err := s.evaluator.evaluate(req.Label, req.GroundTruth, req.Predictions)
	if err != nil {
		if errors.IsValidation(err) {
			log.WithError(err).Warn("Evaluation rejected",
				"ground_truth", len(req.GroundTruth),
				"predictions", len(req.Predictions),
			)
		} else {
			log.WithError(err).Error("Evaluation failed")
		}
		return MetricSnapshot{}, err
	}

	log.Info("Evaluation recorded",
		"snapshot_id", snapshot.ID,
		"scenarios", snapshot.TotalScenarios,
		"average_hit_rate", snapshot.AverageHitRate,
		"duration", time.Since(start),
	)

	for _, o := range s.observers {
		o.ObserveSnapshot(ctx, snapshot.Clone())
	}

	return snapshot, nil
}

// History returns every recorded snapshot, oldest first.
func (s *Service) History() []MetricSnapshot {
	return s.evaluator.History()
}

// Cutoffs returns the evaluator's cutoff set.
func (s *Service) Cutoffs() []int {
	return s.evaluator.Cutoffs()
}
