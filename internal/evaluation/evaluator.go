// Package evaluation computes hit-rate metrics for ranked predictions and
// keeps an append-only history of every evaluation run.
package evaluation

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ricesearch/rice-eval/internal/pkg/errors"
)

// Alignment controls how ground truth and predictions of different lengths
// are paired.
type Alignment string

const (
	// AlignStrict rejects inputs whose lengths differ.
	AlignStrict Alignment = "strict"
	// AlignTruncate pairs items positionally and stops at the shorter input.
	// The scenario total is still the ground truth length.
	AlignTruncate Alignment = "truncate"
)

// ParseAlignment parses an alignment name. The empty string means strict.
func ParseAlignment(s string) (Alignment, error) {
	switch Alignment(strings.ToLower(strings.TrimSpace(s))) {
	case AlignStrict, "":
		return AlignStrict, nil
	case AlignTruncate:
		return AlignTruncate, nil
	default:
		return "", errors.ValidationError(fmt.Sprintf("unknown alignment: %s (must be strict or truncate)", s))
	}
}

// builtinCutoffs are always tracked; the average hit rate is their mean.
var builtinCutoffs = []int{1, 3, 5}

// DefaultCutoffs returns the default cutoff set {1, 3, 5}.
func DefaultCutoffs() []int {
	out := make([]int, len(builtinCutoffs))
	copy(out, builtinCutoffs)
	return out
}

// Options configures a HitRateEvaluator.
type Options struct {
	// Cutoffs are extra K values to track. 1, 3 and 5 are always included.
	Cutoffs []int

	// Alignment selects the length mismatch policy (default strict).
	Alignment Alignment

	// Now overrides the snapshot clock, mostly for tests.
	Now func() time.Time
}

// HitRateEvaluator computes Hit-Rate@K over batches of scenarios and
// appends each result to its own ledger.
type HitRateEvaluator struct {
	cutoffs   []int
	alignment Alignment
	now       func() time.Time
	ledger    *Ledger
}

// NewHitRateEvaluator creates an evaluator with an empty ledger.
func NewHitRateEvaluator(opts Options) (*HitRateEvaluator, error) {
	cutoffs, err := normalizeCutoffs(opts.Cutoffs)
	if err != nil {
		return nil, err
	}

	alignment, err := ParseAlignment(string(opts.Alignment))
	if err != nil {
		return nil, err
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return &HitRateEvaluator{
		cutoffs:   cutoffs,
		alignment: alignment,
		now:       now,
		ledger:    NewLedger(),
	}, nil
}

// normalizeCutoffs merges the built-in cutoffs, drops duplicates and sorts.
func normalizeCutoffs(cutoffs []int) ([]int, error) {
	seen := make(map[int]struct{}, len(cutoffs)+len(builtinCutoffs))
	out := make([]int, 0, len(cutoffs)+len(builtinCutoffs))

	for _, k := range append(DefaultCutoffs(), cutoffs...) {
		if k < 1 {
			return nil, errors.ValidationError(fmt.Sprintf("cutoff must be positive, got %d", k))
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}

	sort.Ints(out)
	return out, nil
}

// Cutoffs returns the tracked cutoffs in ascending order.
func (e *HitRateEvaluator) Cutoffs() []int {
	out := make([]int, len(e.cutoffs))
	copy(out, e.cutoffs)
	return out
}

// Alignment returns the configured length mismatch policy.
func (e *HitRateEvaluator) Alignment() Alignment {
	return e.alignment
}

// Evaluate computes hit rates for every configured cutoff, records the
// snapshot in the ledger and returns it.
func (e *HitRateEvaluator) Evaluate(groundTruth []string, predictions [][]string) (MetricSnapshot, error) {
	return e.evaluate("", groundTruth, predictions)
}

func (e *HitRateEvaluator) evaluate(label string, groundTruth []string, predictions [][]string) (MetricSnapshot, error) {
	if len(groundTruth) != len(predictions) && e.alignment == AlignStrict {
		return MetricSnapshot{}, errors.LengthMismatchError(len(groundTruth), len(predictions))
	}

	pairs := min(len(groundTruth), len(predictions))
	total := len(groundTruth)

	// hits[i] counts scenarios hit at e.cutoffs[i]; fresh per call.
	hits := make([]int, len(e.cutoffs))
	for i := 0; i < pairs; i++ {
		for j, k := range e.cutoffs {
			if HitAtK(groundTruth[i], predictions[i], k) {
				hits[j]++
			}
		}
	}

	snapshot := MetricSnapshot{
		ID:             uuid.NewString(),
		Label:          label,
		RecordedAt:     e.now().UTC(),
		Cutoffs:        make([]CutoffResult, len(e.cutoffs)),
		TotalScenarios: total,
	}
	for j, k := range e.cutoffs {
		snapshot.Cutoffs[j] = CutoffResult{
			K:       k,
			Hits:    hits[j],
			HitRate: hitRate(hits[j], total),
		}
	}

	r1, _ := snapshot.HitRate(1)
	r3, _ := snapshot.HitRate(3)
	r5, _ := snapshot.HitRate(5)
	snapshot.AverageHitRate = (r1 + r3 + r5) / 3

	e.ledger.Append(snapshot)
	return snapshot.Clone(), nil
}

// History returns every snapshot this evaluator has produced, oldest first.
func (e *HitRateEvaluator) History() []MetricSnapshot {
	return e.ledger.History()
}

// Len returns the number of recorded evaluations.
func (e *HitRateEvaluator) Len() int {
	return e.ledger.Len()
}
