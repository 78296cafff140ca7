package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/medgenius/ledger/common/logger"
)

// FileStore persists the snapshot as a single JSON file. This is the
// default backend: a single-user local ledger rewritten in full on every
// mutation, a deliberate simplicity-over-efficiency trade-off.
//
// The mutex serializes writers within this process. Writers in other
// processes are caught by the version stamp on Save.
type FileStore struct {
	path string
	log  *logger.Logger
	mu   sync.Mutex
}

// NewFileStore creates a file-backed store at the given path
func NewFileStore(path string, log *logger.Logger) *FileStore {
	return &FileStore{
		path: path,
		log:  log,
	}
}

// Load reads the snapshot from disk. A missing or unparseable file yields
// an empty snapshot.
func (s *FileStore) Load(ctx context.Context) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.read(), nil
}

// Save atomically rewrites the snapshot file if the version still matches
func (s *FileStore) Save(ctx context.Context, snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.read()
	if snap.Version != current.Version {
		return ErrConcurrentModification
	}

	next := Snapshot{
		Version: snap.Version + 1,
		Records: snap.Records,
	}

	data, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	// Write-then-rename so readers never observe a partial file
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".ledger-*.json")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close snapshot: %w", err)
	}

	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace snapshot: %w", err)
	}

	return nil
}

func (s *FileStore) read() *Snapshot {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.log.Warn("failed to read snapshot file, treating store as empty", "path", s.path, "error", err)
		}
		return &Snapshot{}
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		s.log.Warn("snapshot file is corrupt, treating store as empty", "path", s.path, "error", err)
		return &Snapshot{}
	}

	return &snap
}
