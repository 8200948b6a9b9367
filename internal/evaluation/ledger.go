package evaluation

import "sync"

// Ledger is an append-only, in-memory history of metric snapshots.
// There is no delete or update operation.
type Ledger struct {
	mu        sync.RWMutex
	snapshots []MetricSnapshot
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{}
}

// Append adds a snapshot to the end of the history.
func (l *Ledger) Append(s MetricSnapshot) {
	s = s.Clone()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.snapshots = append(l.snapshots, s)
}

// History returns a copy of every snapshot, oldest first.
func (l *Ledger) History() []MetricSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	result := make([]MetricSnapshot, len(l.snapshots))
	for i, s := range l.snapshots {
		result[i] = s.Clone()
	}
	return result
}

// Len returns the number of recorded snapshots.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.snapshots)
}
