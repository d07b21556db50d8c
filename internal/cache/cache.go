// Package cache stores deep-analysis results keyed by content fingerprint so identical files are
// analysed once across runs.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/scan-io-git/triageio/internal/findings"
)

// Entry is the cached analysis of one file content. Finding IDs and file keys are rewritten by
// the caller when the entry is reused for another path.
type Entry struct {
	Status   findings.AnalysisStatus `json:"status"`
	Findings []findings.Finding      `json:"findings"`
	Reason   string                  `json:"reason,omitempty"`
	Enhanced bool                    `json:"enhanced,omitempty"`
	StoredAt time.Time               `json:"stored_at"`
}

// Store is a fingerprint keyed entry store.
type Store interface {
	Get(ctx context.Context, fingerprint string) (Entry, bool, error)
	Put(ctx context.Context, fingerprint string, e Entry) error
	Close() error
}

// MemoryStore keeps entries in a map. Used for tests and when no on-disk cache is configured.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: map[string]Entry{}}
}

func (m *MemoryStore) Get(_ context.Context, fingerprint string) (Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[fingerprint]
	return e, ok, nil
}

func (m *MemoryStore) Put(_ context.Context, fingerprint string, e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[fingerprint] = e
	return nil
}

func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *MemoryStore) Close() error { return nil }
