package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medgenius/ledger/common/logger"
)

func newTestFileStore(t *testing.T) (*FileStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "records.json")
	return NewFileStore(path, logger.New("error", "text")), path
}

func TestFileStore_MissingFileIsEmpty(t *testing.T) {
	s, _ := newTestFileStore(t)

	snap, err := s.Load(context.Background())
	require.NoError(t, err)

	assert.Empty(t, snap.Records)
	assert.Equal(t, uint64(0), snap.Version)
}

func TestFileStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestFileStore(t)

	snap, err := s.Load(ctx)
	require.NoError(t, err)
	snap.Records = append(snap.Records, testRecord("R1", "P1"))
	require.NoError(t, s.Save(ctx, snap))

	reloaded, err := s.Load(ctx)
	require.NoError(t, err)

	require.Len(t, reloaded.Records, 1)
	assert.Equal(t, "R1", reloaded.Records[0].RecordID)
	assert.Equal(t, "P1", reloaded.Records[0].PatientID)
	assert.JSONEq(t, `{"diagnosis":["flu"]}`, string(reloaded.Records[0].Payload))
	assert.True(t, snap.Records[0].CreatedAt.Equal(reloaded.Records[0].CreatedAt))
}

func TestFileStore_CorruptFileIsEmpty(t *testing.T) {
	ctx := context.Background()
	s, path := newTestFileStore(t)

	require.NoError(t, os.WriteFile(path, []byte("{{{ not json"), 0o644))

	snap, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, snap.Records)

	// The store stays usable after recovery
	snap.Records = append(snap.Records, testRecord("R1", "P1"))
	require.NoError(t, s.Save(ctx, snap))

	reloaded, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, reloaded.Records, 1)
}

func TestFileStore_StaleVersionRejected(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestFileStore(t)

	a, err := s.Load(ctx)
	require.NoError(t, err)
	b, err := s.Load(ctx)
	require.NoError(t, err)

	a.Records = append(a.Records, testRecord("R1", "P1"))
	require.NoError(t, s.Save(ctx, a))

	b.Records = append(b.Records, testRecord("R2", "P2"))
	require.ErrorIs(t, s.Save(ctx, b), ErrConcurrentModification)
}

func TestFileStore_SecondProcessSeesWrites(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "records.json")
	log := logger.New("error", "text")

	writer := NewFileStore(path, log)
	snap, err := writer.Load(ctx)
	require.NoError(t, err)
	snap.Records = append(snap.Records, testRecord("R1", "P1"))
	require.NoError(t, writer.Save(ctx, snap))

	// A fresh store over the same file observes the committed snapshot
	reader := NewFileStore(path, log)
	reloaded, err := reader.Load(ctx)
	require.NoError(t, err)
	require.Len(t, reloaded.Records, 1)
	assert.Equal(t, uint64(1), reloaded.Version)
}
