package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/aretw0/replayfuzz/pkg/domain"
)

// checkpoint is the on-disk form of the ledger.
type checkpoint struct {
	Consumed []string             `json:"consumed"`
	Quota    map[string]int       `json:"quota"`
	Records  []domain.TrialRecord `json:"records"`
}

// Ledger implements ports.Ledger as a JSON checkpoint file, so an interrupted run
// resumes without replaying consumed files. Every mutation rewrites the file atomically.
type Ledger struct {
	Path string

	mu       sync.Mutex
	consumed map[string]struct{}
	quota    map[string]int
	records  []domain.TrialRecord
}

// NewLedger opens the checkpoint at path, loading it if it exists.
// If path is empty, it defaults to ".replayfuzz/ledger.json".
func NewLedger(path string) (*Ledger, error) {
	if path == "" {
		path = filepath.Join(".replayfuzz", "ledger.json")
	}
	l := &Ledger{
		Path:     path,
		consumed: make(map[string]struct{}),
		quota:    make(map[string]int),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return l, nil
		}
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}

	var cp checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal ledger %s: %w", path, err)
	}
	for _, p := range cp.Consumed {
		l.consumed[p] = struct{}{}
	}
	for k, v := range cp.Quota {
		l.quota[k] = v
	}
	l.records = cp.Records
	return l, nil
}

func (l *Ledger) Consumed(ctx context.Context, path string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.consumed[path]
	return ok, nil
}

func (l *Ledger) Record(ctx context.Context, rec domain.TrialRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.consumed[rec.Path] = struct{}{}
	l.quota[rec.Pair.String()]++
	l.records = append(l.records, rec)
	return l.flush()
}

func (l *Ledger) PairCount(ctx context.Context, key domain.PairKey) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.quota[key.String()], nil
}

func (l *Ledger) ResetPair(ctx context.Context, key domain.PairKey) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.quota, key.String())
	return l.flush()
}

func (l *Ledger) Stats(ctx context.Context) (domain.RunStats, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	stats := domain.NewRunStats()
	for _, rec := range l.records {
		stats.Add(rec)
	}
	return stats, nil
}

// flush writes the checkpoint to a temporary file, syncs it and renames it over Path.
// The caller must hold l.mu.
func (l *Ledger) flush() error {
	dir := filepath.Dir(l.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to ensure ledger directory: %w", err)
	}

	cp := checkpoint{
		Consumed: make([]string, 0, len(l.consumed)),
		Quota:    l.quota,
		Records:  l.records,
	}
	for p := range l.consumed {
		cp.Consumed = append(cp.Consumed, p)
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal ledger: %w", err)
	}

	// Same directory so the rename stays on one filesystem.
	tmpFile, err := os.CreateTemp(dir, "tmp-ledger-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmpFile.Write(data); err != nil {
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("failed to fsync temp file: %w", err)
	}
	// Cannot rename an open file on Windows.
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if _, err := os.Stat(l.Path); err == nil {
		if err := os.Remove(l.Path); err != nil {
			return fmt.Errorf("failed to remove previous ledger for overwrite: %w", err)
		}
	}
	if err := os.Rename(tmpPath, l.Path); err != nil {
		return fmt.Errorf("failed to rename temp file to ledger: %w", err)
	}
	return nil
}
