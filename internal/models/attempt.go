package models

import (
	"time"

	"github.com/google/uuid"
)

type Decision string

const (
	DecisionMatched        Decision = "matched"
	DecisionNoMatch        Decision = "no_match"
	DecisionNoFaceDetected Decision = "no_face_detected"
)

// MatchResult is the outcome of comparing one probe signature against the
// gallery. Distance is meaningful only when Nearest is set; Skipped counts
// gallery signatures ignored because their dimension differed from the probe.
type MatchResult struct {
	Decision   Decision `json:"decision"`
	Identity   string   `json:"identity,omitempty"`
	Nearest    string   `json:"nearest,omitempty"`
	Distance   float64  `json:"distance"`
	Confidence float64  `json:"confidence"`
	Threshold  float64  `json:"threshold"`
	Skipped    int      `json:"skipped,omitempty"`
}

// MethodFace marks log entries produced by the face verification path.
const MethodFace = "face_recognition"

// Attempt is one entry of the append-only recognition log. Every
// verification attempt is recorded, whatever its outcome. IdentityID is the
// identity the caller claimed to be, if any; MatchedID is who the gallery
// actually resolved.
type Attempt struct {
	ID          uuid.UUID `json:"id" db:"id"`
	Decision    Decision  `json:"decision" db:"decision"`
	IdentityID  *string   `json:"identity_id,omitempty" db:"identity_id"`
	MatchedID   *string   `json:"matched_id,omitempty" db:"matched_id"`
	NearestID   *string   `json:"nearest_id,omitempty" db:"nearest_id"`
	Distance    float64   `json:"distance" db:"distance"`
	Confidence  float64   `json:"confidence" db:"confidence"`
	Threshold   float64   `json:"threshold" db:"threshold"`
	Source      string    `json:"source" db:"source"`
	Method      string    `json:"method" db:"method"`
	IP          string    `json:"ip,omitempty" db:"ip"`
	UserAgent   string    `json:"user_agent,omitempty" db:"user_agent"`
	SnapshotKey string    `json:"snapshot_key,omitempty" db:"snapshot_key"` // MinIO key of the archived probe
	Embedding   []float32 `json:"-" db:"embedding"`
	Notes       string    `json:"notes,omitempty" db:"notes"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// DeliveryTask is the message published to NATS when the first delivery of a
// one-time code fails. The notifier worker redrives it against the stored
// record, skipping tasks whose issuance has since been superseded.
type DeliveryTask struct {
	Identity string    `json:"identity"`
	Contact  string    `json:"contact"`
	Purpose  string    `json:"purpose"`
	IssuedAt time.Time `json:"issued_at"`
}
