package otp

import (
	"context"

	"github.com/your-org/facegate/internal/models"
)

// Store is the key/value contract for OTP records, keyed by
// (identity, purpose).
//
// Get returns (nil, nil) when no record exists. Put replaces the record
// unconditionally: issuing a new code supersedes the old one. Update is
// revision-checked against OtpRecord.Rev and fails with ErrConflict when
// the stored revision differs; both manager paths hold the per-key lock, so
// a conflict indicates broken serialization, never normal contention.
// Successful writes bump rec.Rev to the stored revision.
type Store interface {
	Get(ctx context.Context, identity, purpose string) (*models.OtpRecord, error)
	Put(ctx context.Context, rec *models.OtpRecord) error
	Update(ctx context.Context, rec *models.OtpRecord) error
}

func storeKey(identity, purpose string) string {
	return identity + "\x00" + purpose
}
