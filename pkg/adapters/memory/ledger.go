package memory

import (
	"context"
	"sync"

	"github.com/aretw0/replayfuzz/pkg/domain"
)

// Ledger implements ports.Ledger in memory. State is lost when the process exits.
type Ledger struct {
	mu       sync.RWMutex
	consumed map[string]struct{}
	counts   map[domain.PairKey]int
	records  []domain.TrialRecord
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		consumed: make(map[string]struct{}),
		counts:   make(map[domain.PairKey]int),
	}
}

func (l *Ledger) Consumed(ctx context.Context, path string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.consumed[path]
	return ok, nil
}

func (l *Ledger) Record(ctx context.Context, rec domain.TrialRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.consumed[rec.Path] = struct{}{}
	l.counts[rec.Pair]++
	l.records = append(l.records, rec)
	return nil
}

func (l *Ledger) PairCount(ctx context.Context, key domain.PairKey) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.counts[key], nil
}

func (l *Ledger) ResetPair(ctx context.Context, key domain.PairKey) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.counts, key)
	return nil
}

func (l *Ledger) Stats(ctx context.Context) (domain.RunStats, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	stats := domain.NewRunStats()
	for _, rec := range l.records {
		stats.Add(rec)
	}
	return stats, nil
}

// Records returns a copy of every record in insertion order.
func (l *Ledger) Records() []domain.TrialRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.TrialRecord, len(l.records))
	copy(out, l.records)
	return out
}
