package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Identity is an enrolled subject. The ID is an opaque caller-supplied key
// (student number, account ID); Contact is where one-time codes are sent.
type Identity struct {
	ID        string          `json:"id" db:"id"`
	Name      string          `json:"name" db:"name"`
	Contact   string          `json:"contact" db:"contact"`
	Active    bool            `json:"active" db:"active"`
	Metadata  json.RawMessage `json:"metadata" db:"metadata"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// Signature is one stored face embedding for an identity. An identity may
// hold any number of signatures; removal of the identity removes them all.
type Signature struct {
	ID         uuid.UUID `json:"id" db:"id"`
	IdentityID string    `json:"identity_id" db:"identity_id"`
	Embedding  []float32 `json:"embedding" db:"embedding"`
	Quality    float32   `json:"quality" db:"quality"`
	SourceKey  string    `json:"source_key" db:"source_key"` // MinIO key of the enrollment photo
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
