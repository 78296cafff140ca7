package service

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medgenius/ledger/common/models"
)

func queryRecords() []models.Record {
	doc := "DOC-001"
	return []models.Record{
		{
			RecordID:    "R1",
			PatientID:   "PAT-001",
			DoctorID:    &doc,
			ContentHash: "sha256:aaa",
			CreatedAt:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
			Status:      models.RecordStatusVerified,
			Sequence:    1,
			Payload:     json.RawMessage(`{"diagnosis":["flu"]}`),
		},
		{
			RecordID:    "R2",
			PatientID:   "PAT-002",
			ContentHash: "sha256:bbb",
			CreatedAt:   time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC),
			Status:      models.RecordStatusVerified,
			Sequence:    2,
			Payload:     json.RawMessage(`{"diagnosis":["cold"]}`),
		},
	}
}

func TestQueryFilter_ByPatient(t *testing.T) {
	e := NewQueryEvaluator()

	matched, err := e.Filter(queryRecords(), `record.patient_id == "PAT-001"`)
	require.NoError(t, err)

	require.Len(t, matched, 1)
	assert.Equal(t, "R1", matched[0].RecordID)
}

func TestQueryFilter_BySequence(t *testing.T) {
	e := NewQueryEvaluator()

	matched, err := e.Filter(queryRecords(), `record.sequence > 1`)
	require.NoError(t, err)

	require.Len(t, matched, 1)
	assert.Equal(t, "R2", matched[0].RecordID)
}

func TestQueryFilter_NoMatches(t *testing.T) {
	e := NewQueryEvaluator()

	matched, err := e.Filter(queryRecords(), `record.patient_id == "PAT-999"`)
	require.NoError(t, err)
	assert.Empty(t, matched)
}

func TestQueryFilter_InvalidExpression(t *testing.T) {
	e := NewQueryEvaluator()

	_, err := e.Filter(queryRecords(), `record.patient_id ==`)
	require.Error(t, err)
}

func TestQueryFilter_NonBooleanExpression(t *testing.T) {
	e := NewQueryEvaluator()

	_, err := e.Filter(queryRecords(), `record.patient_id`)
	require.Error(t, err)
}

func TestQueryFilter_CachesPrograms(t *testing.T) {
	e := NewQueryEvaluator()

	expr := `record.status == "Verified"`
	for i := 0; i < 3; i++ {
		matched, err := e.Filter(queryRecords(), expr)
		require.NoError(t, err)
		assert.Len(t, matched, 2)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	assert.Len(t, e.cache, 1)
}
