package service

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medgenius/ledger/common/hash"
	"github.com/medgenius/ledger/common/logger"
	"github.com/medgenius/ledger/common/models"
	"github.com/medgenius/ledger/common/store"
)

func strPtr(s string) *string { return &s }

func newTestLedger(t *testing.T, opts ...LedgerOption) (*Ledger, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	l := NewLedger(st, nil, logger.New("error", "text"), opts...)
	return l, st
}

func TestMint_PopulatesRecord(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)

	payload := json.RawMessage(`{"diagnosis":["flu"]}`)
	record, err := l.Mint(ctx, "PAT-001", strPtr("DOC-001"), payload, "lab-1")
	require.NoError(t, err)

	assert.NotEmpty(t, record.RecordID)
	assert.Equal(t, "PAT-001", record.PatientID)
	require.NotNil(t, record.DoctorID)
	assert.Equal(t, "DOC-001", *record.DoctorID)
	assert.Equal(t, models.RecordStatusVerified, record.Status)
	assert.Equal(t, uint64(1), record.Sequence)
	assert.False(t, record.CreatedAt.IsZero())

	expected, err := hash.Canonical(payload)
	require.NoError(t, err)
	assert.Equal(t, expected, record.ContentHash)
}

func TestMint_AppendOnly(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)

	const n = 5
	for i := 0; i < n; i++ {
		payload := json.RawMessage(fmt.Sprintf(`{"note":"visit %d"}`, i))
		_, err := l.Mint(ctx, "PAT-001", nil, payload, "")
		require.NoError(t, err)
	}

	records, err := l.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, records, n)

	// Insertion order, monotonically increasing sequence
	for i := 1; i < n; i++ {
		assert.Greater(t, records[i].Sequence, records[i-1].Sequence)
	}
}

func TestMint_InvalidPayloadWritesNothing(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)

	_, err := l.Mint(ctx, "PAT-001", nil, json.RawMessage(`{broken`), "")
	require.ErrorIs(t, err, hash.ErrSerialization)

	records, err := l.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestMint_UniqueRecordIDs(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)

	seen := make(map[string]bool)
	for i := 0; i < 20; i++ {
		record, err := l.Mint(ctx, "PAT-001", nil, json.RawMessage(`{"a":1}`), "")
		require.NoError(t, err)
		assert.False(t, seen[record.RecordID], "duplicate record id %s", record.RecordID)
		seen[record.RecordID] = true
	}
}

func TestGetByID(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)

	minted, err := l.Mint(ctx, "PAT-001", nil, json.RawMessage(`{"a":1}`), "")
	require.NoError(t, err)

	found, err := l.GetByID(ctx, minted.RecordID)
	require.NoError(t, err)
	assert.Equal(t, minted.RecordID, found.RecordID)
	assert.Equal(t, minted.ContentHash, found.ContentHash)
}

func TestGetByID_NotFound(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)

	_, err := l.GetByID(ctx, "nonexistent")
	require.ErrorIs(t, err, ErrRecordNotFound)
}

func TestGetByPatient_FilterAndOrder(t *testing.T) {
	ctx := context.Background()

	// Deterministic clock: each mint happens one minute after the previous
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	l, _ := newTestLedger(t, WithClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}))

	first, err := l.Mint(ctx, "PAT-001", nil, json.RawMessage(`{"visit":1}`), "")
	require.NoError(t, err)
	_, err = l.Mint(ctx, "PAT-002", nil, json.RawMessage(`{"visit":1}`), "")
	require.NoError(t, err)
	second, err := l.Mint(ctx, "PAT-001", nil, json.RawMessage(`{"visit":2}`), "")
	require.NoError(t, err)

	records, err := l.GetByPatient(ctx, "PAT-001")
	require.NoError(t, err)

	// Most recent first, no other patient's records
	require.Len(t, records, 2)
	assert.Equal(t, second.RecordID, records[0].RecordID)
	assert.Equal(t, first.RecordID, records[1].RecordID)

	other, err := l.GetByPatient(ctx, "PAT-003")
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestGetByPatient_NonIncreasingTimestamps(t *testing.T) {
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tick := 0
	l, _ := newTestLedger(t, WithClock(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}))

	for i := 0; i < 6; i++ {
		_, err := l.Mint(ctx, "PAT-001", nil, json.RawMessage(fmt.Sprintf(`{"i":%d}`, i)), "")
		require.NoError(t, err)
	}

	records, err := l.GetByPatient(ctx, "PAT-001")
	require.NoError(t, err)
	require.Len(t, records, 6)

	for i := 1; i < len(records); i++ {
		assert.False(t, records[i].CreatedAt.After(records[i-1].CreatedAt),
			"records must be ordered by created_at descending")
	}
}

func TestGetByDoctor_ExcludesUnassigned(t *testing.T) {
	ctx := context.Background()
	l, _ := newTestLedger(t)

	assigned, err := l.Mint(ctx, "PAT-001", strPtr("DOC-001"), json.RawMessage(`{"a":1}`), "")
	require.NoError(t, err)
	unassigned, err := l.Mint(ctx, "PAT-001", nil, json.RawMessage(`{"b":2}`), "")
	require.NoError(t, err)

	byDoctor, err := l.GetByDoctor(ctx, "DOC-001")
	require.NoError(t, err)
	require.Len(t, byDoctor, 1)
	assert.Equal(t, assigned.RecordID, byDoctor[0].RecordID)

	// The unassigned record still shows up in the patient view
	byPatient, err := l.GetByPatient(ctx, "PAT-001")
	require.NoError(t, err)
	require.Len(t, byPatient, 2)

	ids := []string{byPatient[0].RecordID, byPatient[1].RecordID}
	assert.Contains(t, ids, unassigned.RecordID)
}

func TestVerifyOnRead_TamperedRecordRejected(t *testing.T) {
	ctx := context.Background()
	l, st := newTestLedger(t)

	minted, err := l.Mint(ctx, "PAT-001", nil, json.RawMessage(`{"diagnosis":["flu"]}`), "")
	require.NoError(t, err)

	// Tamper with the payload behind the ledger's back
	snap, err := st.Load(ctx)
	require.NoError(t, err)
	snap.Records[0].Payload = json.RawMessage(`{"diagnosis":["nothing to see"]}`)
	require.NoError(t, st.Save(ctx, snap))

	_, err = l.GetByID(ctx, minted.RecordID)
	require.ErrorIs(t, err, ErrTampered)

	// List reads drop the tampered record rather than failing outright
	records, err := l.GetByPatient(ctx, "PAT-001")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestVerifyOnRead_Disabled(t *testing.T) {
	ctx := context.Background()
	l, st := newTestLedger(t, WithVerifyOnRead(false))

	minted, err := l.Mint(ctx, "PAT-001", nil, json.RawMessage(`{"diagnosis":["flu"]}`), "")
	require.NoError(t, err)

	snap, err := st.Load(ctx)
	require.NoError(t, err)
	snap.Records[0].Payload = json.RawMessage(`{"diagnosis":["altered"]}`)
	require.NoError(t, st.Save(ctx, snap))

	// Strict-parity mode: no re-verification on read
	found, err := l.GetByID(ctx, minted.RecordID)
	require.NoError(t, err)
	assert.Equal(t, minted.RecordID, found.RecordID)
}

// conflictingStore fails the first n saves with a version conflict
type conflictingStore struct {
	*store.MemoryStore
	conflicts int
}

func (s *conflictingStore) Save(ctx context.Context, snap *store.Snapshot) error {
	if s.conflicts > 0 {
		s.conflicts--
		return store.ErrConcurrentModification
	}
	return s.MemoryStore.Save(ctx, snap)
}

func TestMint_RetriesVersionConflicts(t *testing.T) {
	ctx := context.Background()
	st := &conflictingStore{MemoryStore: store.NewMemoryStore(), conflicts: 2}
	l := NewLedger(st, nil, logger.New("error", "text"))

	record, err := l.Mint(ctx, "PAT-001", nil, json.RawMessage(`{"a":1}`), "")
	require.NoError(t, err)
	assert.NotEmpty(t, record.RecordID)
}

func TestMint_GivesUpAfterRepeatedConflicts(t *testing.T) {
	ctx := context.Background()
	st := &conflictingStore{MemoryStore: store.NewMemoryStore(), conflicts: 10}
	l := NewLedger(st, nil, logger.New("error", "text"))

	_, err := l.Mint(ctx, "PAT-001", nil, json.RawMessage(`{"a":1}`), "")
	require.ErrorIs(t, err, store.ErrConcurrentModification)
}
