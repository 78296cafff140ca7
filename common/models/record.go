package models

import (
	"encoding/json"
	"time"
)

// RecordStatus is the lifecycle state of a ledger record
type RecordStatus string

// Records are verified synchronously at mint time. There is no asynchronous
// confirmation step, so Verified is the only status a stored record can carry.
const RecordStatusVerified RecordStatus = "Verified"

// Record is one immutable, content-hashed clinical analysis entry in the
// ledger. Records are created by mint, read by id/patient/doctor queries,
// and never updated or deleted.
type Record struct {
	// Assigned by the ledger at mint time, never supplied by the caller
	RecordID string `db:"record_id" json:"record_id"`

	// Foreign reference to an external patient identity
	PatientID string `db:"patient_id" json:"patient_id"`

	// Foreign reference to an external doctor identity; nil means unassigned
	DoctorID *string `db:"doctor_id" json:"doctor_id,omitempty"`

	// Content hash of Payload at mint time (sha256:abc123...).
	// Integrity fingerprint, never the primary key.
	ContentHash string `db:"content_hash" json:"content_hash"`

	// Mint timestamp, immutable
	CreatedAt time.Time `db:"created_at" json:"created_at"`

	Status RecordStatus `db:"status" json:"status"`

	// Position in the ledger, monotonically increasing across mints
	Sequence uint64 `db:"sequence" json:"sequence"`

	// The clinical analysis result being stored; opaque to the ledger
	Payload json.RawMessage `db:"payload" json:"payload"`
}

// Doctor reports the assigned doctor id, or "" when unassigned
func (r *Record) Doctor() string {
	if r.DoctorID == nil {
		return ""
	}
	return *r.DoctorID
}
