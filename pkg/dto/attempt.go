package dto

import "github.com/google/uuid"

// AttemptResponse is one recognition log entry. IdentityID is the identity
// the caller claimed; MatchedID is who the gallery resolved.
type AttemptResponse struct {
	ID          uuid.UUID `json:"id"`
	Decision    string    `json:"decision"`
	IdentityID  *string   `json:"identity_id,omitempty"`
	MatchedID   *string   `json:"matched_id,omitempty"`
	NearestID   *string   `json:"nearest_id,omitempty"`
	Distance    float64   `json:"distance"`
	Confidence  float64   `json:"confidence"`
	Threshold   float64   `json:"threshold"`
	Source      string    `json:"source,omitempty"`
	Method      string    `json:"method,omitempty"`
	IP          string    `json:"ip,omitempty"`
	SnapshotURL string    `json:"snapshot_url,omitempty"`
	CreatedAt   string    `json:"created_at"`
}

type AttemptListResponse struct {
	Attempts []AttemptResponse `json:"attempts"`
	Total    int               `json:"total"`
}

// SimilarAttemptResult is one result from POST /v1/attempts/similar.
type SimilarAttemptResult struct {
	AttemptID uuid.UUID `json:"attempt_id"`
	Decision  string    `json:"decision"`
	MatchedID *string   `json:"matched_id,omitempty"`
	Distance  float64   `json:"distance"`
	CreatedAt string    `json:"created_at"`
}

// WSAttempt is a WebSocket message for real-time attempt delivery. Identity
// is duplicated at the top level so the hub can filter without unpacking Data.
type WSAttempt struct {
	Type     string          `json:"type"` // attempt
	Identity string          `json:"identity,omitempty"`
	Data     AttemptResponse `json:"data"`
}
