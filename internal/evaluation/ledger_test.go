package evaluation

import (
	"fmt"
	"sync"
	"testing"
)

func TestLedger_AppendAndHistory(t *testing.T) {
	l := NewLedger()
	if l.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", l.Len())
	}

	for i := 0; i < 3; i++ {
		l.Append(MetricSnapshot{ID: fmt.Sprintf("s%d", i), TotalScenarios: i})
	}

	h := l.History()
	if len(h) != 3 {
		t.Fatalf("len(History()) = %d, want 3", len(h))
	}
	for i, s := range h {
		if s.ID != fmt.Sprintf("s%d", i) {
			t.Errorf("History()[%d].ID = %s, want s%d", i, s.ID, i)
		}
	}
}

func TestLedger_AppendCopiesInput(t *testing.T) {
	l := NewLedger()

	s := MetricSnapshot{ID: "s", Cutoffs: []CutoffResult{{K: 1, Hits: 1, HitRate: 1}}}
	l.Append(s)
	s.Cutoffs[0].Hits = 7

	if got := l.History()[0].Cutoffs[0].Hits; got != 1 {
		t.Errorf("stored Hits = %d, want 1", got)
	}
}

func TestLedger_ConcurrentAppend(t *testing.T) {
	l := NewLedger()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			l.Append(MetricSnapshot{ID: fmt.Sprint(i)})
			_ = l.History()
		}(i)
	}
	wg.Wait()

	if l.Len() != 100 {
		t.Errorf("Len() = %d, want 100", l.Len())
	}
}
