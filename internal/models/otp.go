package models

import "time"

// OtpRecord is the single active code for an (identity, purpose) pair.
// Issuing a new code replaces the record outright; mutations (attempt
// counting, consumption) go through the store's revision-checked update.
type OtpRecord struct {
	Identity   string     `json:"identity"`
	Purpose    string     `json:"purpose"`
	Code       string     `json:"code"`
	Contact    string     `json:"contact"`
	IssuedAt   time.Time  `json:"issued_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
	Consumed   bool       `json:"consumed"`
	ConsumedAt *time.Time `json:"consumed_at,omitempty"`
	Attempts   int        `json:"attempts"`
	Rev        int64      `json:"rev"` // store-maintained mutation counter
}

// Expired reports whether the record's lifetime has elapsed at the given
// instant. Expiry is strict: a code is still valid at exactly ExpiresAt.
func (r *OtpRecord) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}
