package evaluation

import (
	"encoding/json"
	"time"
)

// CutoffResult holds the hit count and hit rate at a single cutoff K.
type CutoffResult struct {
	K       int     `json:"k"`
	Hits    int     `json:"hits"`
	HitRate float64 `json:"hit_rate"`
}

// MetricSnapshot is the record produced by one evaluation call.
// It is never modified after it is appended to a ledger.
type MetricSnapshot struct {
	ID             string         `json:"id"`
	Label          string         `json:"label,omitempty"`
	RecordedAt     time.Time      `json:"recorded_at"`
	Cutoffs        []CutoffResult `json:"cutoffs"` // ascending K
	AverageHitRate float64        `json:"average_hit_rate"`
	TotalScenarios int            `json:"total_scenarios"`
}

// HitRate returns the hit rate at cutoff k.
func (s MetricSnapshot) HitRate(k int) (float64, bool) {
	for _, c := range s.Cutoffs {
		if c.K == k {
			return c.HitRate, true
		}
	}
	return 0, false
}

// Hits returns the raw hit count at cutoff k.
func (s MetricSnapshot) Hits(k int) (int, bool) {
	for _, c := range s.Cutoffs {
		if c.K == k {
			return c.Hits, true
		}
	}
	return 0, false
}

// Clone returns a copy that shares no memory with s.
func (s MetricSnapshot) Clone() MetricSnapshot {
	out := s
	out.Cutoffs = make([]CutoffResult, len(s.Cutoffs))
	copy(out.Cutoffs, s.Cutoffs)
	return out
}

// snapshotJSON adds the flat top_N fields dashboards read directly.
type snapshotJSON struct {
	ID             string         `json:"id"`
	Label          string         `json:"label,omitempty"`
	RecordedAt     time.Time      `json:"recorded_at"`
	Top1HitRate    float64        `json:"top_1_hit_rate"`
	Top3HitRate    float64        `json:"top_3_hit_rate"`
	Top5HitRate    float64        `json:"top_5_hit_rate"`
	AverageHitRate float64        `json:"average_hit_rate"`
	TotalScenarios int            `json:"total_scenarios"`
	Top1Hits       int            `json:"top_1_hits"`
	Top3Hits       int            `json:"top_3_hits"`
	Top5Hits       int            `json:"top_5_hits"`
	Cutoffs        []CutoffResult `json:"cutoffs"`
}

// MarshalJSON implements json.Marshaler.
func (s MetricSnapshot) MarshalJSON() ([]byte, error) {
	out := snapshotJSON{
		ID:             s.ID,
		Label:          s.Label,
		RecordedAt:     s.RecordedAt,
		AverageHitRate: s.AverageHitRate,
		TotalScenarios: s.TotalScenarios,
		Cutoffs:        s.Cutoffs,
	}
	out.Top1HitRate, _ = s.HitRate(1)
	out.Top3HitRate, _ = s.HitRate(3)
	out.Top5HitRate, _ = s.HitRate(5)
	out.Top1Hits, _ = s.Hits(1)
	out.Top3Hits, _ = s.Hits(3)
	out.Top5Hits, _ = s.Hits(5)
	if out.Cutoffs == nil {
		out.Cutoffs = []CutoffResult{}
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler. The flat top-N fields are
// derived data and are ignored in favour of Cutoffs.
func (s *MetricSnapshot) UnmarshalJSON(data []byte) error {
	var in snapshotJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*s = MetricSnapshot{
		ID:             in.ID,
		Label:          in.Label,
		RecordedAt:     in.RecordedAt,
		Cutoffs:        in.Cutoffs,
		AverageHitRate: in.AverageHitRate,
		TotalScenarios: in.TotalScenarios,
	}
	return nil
}

// Request is a single evaluation call as seen by the Service.
type Request struct {
	Label       string
	GroundTruth []string
	Predictions [][]string
}
