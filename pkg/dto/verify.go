package dto

import "github.com/google/uuid"

// VerifyResponse reports one verification attempt. Identity is set only on
// a match; Nearest names the best candidate that failed the threshold.
type VerifyResponse struct {
	AttemptID   uuid.UUID `json:"attempt_id"`
	Decision    string    `json:"decision"`
	Identity    string    `json:"identity,omitempty"`
	Name        string    `json:"name,omitempty"`
	Nearest     string    `json:"nearest,omitempty"`
	Distance    float64   `json:"distance"`
	Confidence  float64   `json:"confidence"`
	Threshold   float64   `json:"threshold"`
	Skipped     int       `json:"skipped,omitempty"`
	SnapshotURL string    `json:"snapshot_url,omitempty"`
	CreatedAt   string    `json:"created_at"`
}

type GalleryStatsResponse struct {
	Identities int `json:"identities"`
	Signatures int `json:"signatures"`
}
