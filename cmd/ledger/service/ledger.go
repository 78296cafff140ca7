package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/medgenius/ledger/common/hash"
	"github.com/medgenius/ledger/common/logger"
	"github.com/medgenius/ledger/common/models"
	"github.com/medgenius/ledger/common/queue"
	"github.com/medgenius/ledger/common/store"
)

// ErrRecordNotFound indicates no record matched the given id
var ErrRecordNotFound = errors.New("record not found")

// ErrTampered indicates a record's payload no longer matches its content
// hash. Only surfaced when read-time verification is enabled.
var ErrTampered = errors.New("record payload does not match its content hash")

// mintAttempts bounds the read-modify-write retry loop on version conflicts
const mintAttempts = 3

// MintedEvent is the audit message published after a successful mint
type MintedEvent struct {
	RecordID  string    `json:"record_id"`
	PatientID string    `json:"patient_id"`
	DoctorID  string    `json:"doctor_id,omitempty"`
	Actor     string    `json:"actor,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Ledger is the append-only, content-hashed record ledger. Records are
// minted once, never updated or deleted, and read back by id, patient or
// doctor.
type Ledger struct {
	store        store.Store
	queue        queue.Queue
	log          *logger.Logger
	verifyOnRead bool

	now   func() time.Time
	newID func() string
}

// LedgerOption configures a Ledger
type LedgerOption func(*Ledger)

// WithClock overrides the mint timestamp source (tests)
func WithClock(now func() time.Time) LedgerOption {
	return func(l *Ledger) {
		l.now = now
	}
}

// WithIDGenerator overrides record id generation (tests)
func WithIDGenerator(newID func() string) LedgerOption {
	return func(l *Ledger) {
		l.newID = newID
	}
}

// WithVerifyOnRead toggles content-hash verification on every read
func WithVerifyOnRead(enabled bool) LedgerOption {
	return func(l *Ledger) {
		l.verifyOnRead = enabled
	}
}

// NewLedger creates a ledger service over the given store. The queue is
// optional; when present, every successful mint publishes a MintedEvent.
func NewLedger(st store.Store, q queue.Queue, log *logger.Logger, opts ...LedgerOption) *Ledger {
	l := &Ledger{
		store:        st,
		queue:        q,
		log:          log,
		verifyOnRead: true,
		now:          func() time.Time { return time.Now().UTC() },
		newID:        func() string { return uuid.NewString() },
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Mint creates and persists a new record for the given patient. The content
// hash is computed before anything is written, so a non-serializable payload
// aborts the whole operation with no partial append. doctorID may be nil.
func (l *Ledger) Mint(ctx context.Context, patientID string, doctorID *string, payload json.RawMessage, actor string) (*models.Record, error) {
	contentHash, err := hash.Canonical(payload)
	if err != nil {
		return nil, err
	}

	var record models.Record

	for attempt := 1; ; attempt++ {
		snap, err := l.store.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("load store: %w", err)
		}

		record = models.Record{
			RecordID:    l.newID(),
			PatientID:   patientID,
			DoctorID:    doctorID,
			ContentHash: contentHash,
			CreatedAt:   l.now(),
			Status:      models.RecordStatusVerified,
			Sequence:    nextSequence(snap.Records),
			Payload:     payload,
		}

		snap.Records = append(snap.Records, record)

		err = l.store.Save(ctx, snap)
		if err == nil {
			break
		}
		if errors.Is(err, store.ErrConcurrentModification) && attempt < mintAttempts {
			l.log.Warn("mint lost a version race, retrying", "attempt", attempt)
			continue
		}
		return nil, fmt.Errorf("save store: %w", err)
	}

	l.log.Info("record minted",
		"record_id", record.RecordID,
		"patient_id", record.PatientID,
		"doctor_id", record.Doctor(),
		"sequence", record.Sequence,
	)

	l.publishMinted(ctx, &record, actor)

	return &record, nil
}

// GetByID returns the record with the given id, or ErrRecordNotFound
func (l *Ledger) GetByID(ctx context.Context, recordID string) (*models.Record, error) {
	snap, err := l.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load store: %w", err)
	}

	for i := range snap.Records {
		if snap.Records[i].RecordID != recordID {
			continue
		}
		r := snap.Records[i]
		if l.verifyOnRead && !l.verify(&r) {
			return nil, fmt.Errorf("%w: %s", ErrTampered, recordID)
		}
		return &r, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, recordID)
}

// GetAll returns every record in insertion order
func (l *Ledger) GetAll(ctx context.Context) ([]models.Record, error) {
	snap, err := l.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load store: %w", err)
	}

	return l.screen(snap.Records), nil
}

// GetByPatient returns the patient's records, most recent first
func (l *Ledger) GetByPatient(ctx context.Context, patientID string) ([]models.Record, error) {
	snap, err := l.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load store: %w", err)
	}

	var matched []models.Record
	for _, r := range snap.Records {
		if r.PatientID == patientID {
			matched = append(matched, r)
		}
	}

	return sortRecent(l.screen(matched)), nil
}

// GetByDoctor returns the doctor's records, most recent first. Records with
// no assigned doctor never match.
func (l *Ledger) GetByDoctor(ctx context.Context, doctorID string) ([]models.Record, error) {
	snap, err := l.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load store: %w", err)
	}

	var matched []models.Record
	for _, r := range snap.Records {
		if r.DoctorID != nil && *r.DoctorID == doctorID {
			matched = append(matched, r)
		}
	}

	return sortRecent(l.screen(matched)), nil
}

// screen drops records that fail integrity verification from list reads.
// A tampered record is warn-logged, not served.
func (l *Ledger) screen(records []models.Record) []models.Record {
	if !l.verifyOnRead {
		return records
	}

	kept := records[:0:len(records)]
	for i := range records {
		if l.verify(&records[i]) {
			kept = append(kept, records[i])
			continue
		}
		l.log.Warn("dropping tampered record from read",
			"record_id", records[i].RecordID,
			"patient_id", records[i].PatientID,
		)
	}
	return kept
}

func (l *Ledger) verify(r *models.Record) bool {
	h, err := hash.Canonical(r.Payload)
	if err != nil {
		return false
	}
	return h == r.ContentHash
}

func (l *Ledger) publishMinted(ctx context.Context, r *models.Record, actor string) {
	if l.queue == nil {
		return
	}

	event := MintedEvent{
		RecordID:  r.RecordID,
		PatientID: r.PatientID,
		DoctorID:  r.Doctor(),
		Actor:     actor,
		CreatedAt: r.CreatedAt,
	}

	data, err := json.Marshal(&event)
	if err != nil {
		l.log.Error("failed to marshal minted event", "record_id", r.RecordID, "error", err)
		return
	}

	if err := l.queue.Publish(ctx, queue.TopicRecordMinted, r.RecordID, data); err != nil {
		l.log.Warn("failed to publish minted event", "record_id", r.RecordID, "error", err)
	}
}

// nextSequence returns one past the highest sequence in the ledger.
// Sequences restart from the observed maximum after corruption recovery.
func nextSequence(records []models.Record) uint64 {
	var max uint64
	for i := range records {
		if records[i].Sequence > max {
			max = records[i].Sequence
		}
	}
	return max + 1
}

// sortRecent orders records by CreatedAt descending, sequence descending as
// the tie-break so same-timestamp records keep a stable, newest-first order
func sortRecent(records []models.Record) []models.Record {
	sort.SliceStable(records, func(i, j int) bool {
		if !records[i].CreatedAt.Equal(records[j].CreatedAt) {
			return records[i].CreatedAt.After(records[j].CreatedAt)
		}
		return records[i].Sequence > records[j].Sequence
	})
	return records
}
