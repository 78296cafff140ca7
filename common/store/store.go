package store

import (
	"context"
	"errors"

	"github.com/medgenius/ledger/common/models"
)

// ErrConcurrentModification indicates a Save raced with another writer: the
// persisted version moved past the version the snapshot was loaded at.
// Callers re-load and retry.
var ErrConcurrentModification = errors.New("store was modified concurrently")

// Snapshot is the full persisted state of the ledger. Every mutation
// rewrites the whole record list; readers always observe either the pre- or
// post-mutation state, never a partial one.
//
// Version is an optimistic-concurrency stamp. Save succeeds only when the
// persisted version still equals Snapshot.Version, and bumps it by one.
type Snapshot struct {
	Version uint64          `json:"version"`
	Records []models.Record `json:"records"`
}

// Clone returns a copy whose record slice is independent of the original
func (s *Snapshot) Clone() *Snapshot {
	records := make([]models.Record, len(s.Records))
	copy(records, s.Records)
	return &Snapshot{
		Version: s.Version,
		Records: records,
	}
}

// Store is the durable, whole-list-replace persistence abstraction
// underlying the ledger.
//
// Load returns the current snapshot, or an empty one if no prior data
// exists. Corrupt persisted data is swallowed and treated as empty: the
// store is a best-effort local cache, availability wins over strict
// durability. The corruption is warn-logged, never escalated.
//
// Save overwrites the entire persisted representation. No partial or
// incremental write exists.
type Store interface {
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, snap *Snapshot) error
}
