package evaluation

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

// WriteText renders snapshots as an aligned table, one row per run.
// Columns follow the cutoffs of the first snapshot.
func WriteText(w io.Writer, snapshots []MetricSnapshot) error {
	if len(snapshots) == 0 {
		_, err := fmt.Fprintln(w, "no evaluations recorded")
		return err
	}

	cutoffs := make([]int, 0, len(snapshots[0].Cutoffs))
	for _, c := range snapshots[0].Cutoffs {
		cutoffs = append(cutoffs, c.K)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	header := []string{"#", "LABEL", "SCENARIOS"}
	for _, k := range cutoffs {
		header = append(header, fmt.Sprintf("HR@%d", k))
	}
	header = append(header, "AVG")
	fmt.Fprintln(tw, strings.Join(header, "\t"))

	for i, s := range snapshots {
		label := s.Label
		if label == "" {
			label = "-"
		}
		row := []string{fmt.Sprintf("%d", i+1), label, fmt.Sprintf("%d", s.TotalScenarios)}
		for _, k := range cutoffs {
			rate, ok := s.HitRate(k)
			hits, _ := s.Hits(k)
			if !ok {
				row = append(row, "-")
				continue
			}
			row = append(row, fmt.Sprintf("%.4f (%d)", rate, hits))
		}
		row = append(row, fmt.Sprintf("%.4f", s.AverageHitRate))
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}

	return tw.Flush()
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
