package store

import (
	"context"
	"sync"
)

// MemoryStore keeps the snapshot in process memory. Used by tests and by
// dev setups that don't need durability.
type MemoryStore struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load returns a copy of the current snapshot
func (s *MemoryStore) Load(ctx context.Context) (*Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.snap.Clone(), nil
}

// Save replaces the snapshot if the version still matches
func (s *MemoryStore) Save(ctx context.Context, snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if snap.Version != s.snap.Version {
		return ErrConcurrentModification
	}

	next := snap.Clone()
	next.Version++
	s.snap = *next
	return nil
}
