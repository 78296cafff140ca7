package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/medgenius/ledger/common/logger"
)

// SQLiteStore persists the snapshot in a single-row sqlite table. It keeps
// the whole-list-replace contract: the record list is stored as one JSON
// document and rewritten in full on every Save.
type SQLiteStore struct {
	db  *sql.DB
	log *logger.Logger
}

// NewSQLiteStore opens (or creates) the sqlite database at path
func NewSQLiteStore(path string, log *logger.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	// The snapshot row is a single point of contention; one connection
	// avoids SQLITE_BUSY churn between pool members.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, log: log}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *SQLiteStore) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS ledger_snapshot (
			id      INTEGER PRIMARY KEY CHECK (id = 1),
			version INTEGER NOT NULL,
			records TEXT    NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("create snapshot table: %w", err)
	}
	return nil
}

// Close closes the underlying database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Load reads the snapshot row. A missing row or unparseable record list
// yields an empty snapshot.
func (s *SQLiteStore) Load(ctx context.Context) (*Snapshot, error) {
	var version uint64
	var records []byte

	err := s.db.QueryRowContext(ctx,
		`SELECT version, records FROM ledger_snapshot WHERE id = 1`,
	).Scan(&version, &records)
	if errors.Is(err, sql.ErrNoRows) {
		return &Snapshot{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	snap := &Snapshot{Version: version}
	if err := json.Unmarshal(records, &snap.Records); err != nil {
		// Keep the version so the next Save still races correctly
		s.log.Warn("snapshot row is corrupt, treating store as empty", "error", err)
		snap.Records = nil
	}

	return snap, nil
}

// Save replaces the snapshot row if the version still matches
func (s *SQLiteStore) Save(ctx context.Context, snap *Snapshot) error {
	records, err := json.Marshal(snap.Records)
	if err != nil {
		return fmt.Errorf("marshal records: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE ledger_snapshot SET version = ?, records = ? WHERE id = 1 AND version = ?`,
		snap.Version+1, records, snap.Version,
	)
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	if affected == 1 {
		return nil
	}

	// No row updated: either the store is brand new or another writer won
	if snap.Version == 0 {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO ledger_snapshot (id, version, records) VALUES (1, ?, ?)`,
			snap.Version+1, records,
		)
		if err == nil {
			return nil
		}
		// Row appeared between UPDATE and INSERT
		return ErrConcurrentModification
	}

	return ErrConcurrentModification
}
