package dto

import (
	"encoding/json"

	"github.com/google/uuid"
)

// CreateIdentityRequest enrolls an identity. ID is the caller's opaque key
// (student number, account ID); when omitted a UUID is assigned.
type CreateIdentityRequest struct {
	ID       string          `json:"id"`
	Name     string          `json:"name" binding:"required"`
	Contact  string          `json:"contact"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// UpdateIdentityRequest carries a partial update; nil fields keep their
// current value.
type UpdateIdentityRequest struct {
	Name     *string         `json:"name,omitempty"`
	Contact  *string         `json:"contact,omitempty"`
	Active   *bool           `json:"active,omitempty"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

type IdentityResponse struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Contact        string          `json:"contact,omitempty"`
	Active         bool            `json:"active"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
	SignatureCount int             `json:"signature_count"`
	CreatedAt      string          `json:"created_at"`
}

type SignatureResponse struct {
	ID         uuid.UUID `json:"id"`
	IdentityID string    `json:"identity_id"`
	Quality    float32   `json:"quality"`
	SourceKey  string    `json:"source_key"`
	CreatedAt  string    `json:"created_at"`
}
