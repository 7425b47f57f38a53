// Package otp implements the one-time passcode lifecycle: issuance with
// out-of-band delivery, supersession of prior codes, and atomic
// at-most-once verification keyed by (identity, purpose).
package otp

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
)

// Purposes in common use. Purpose strings are free-form; these constants
// cover the flows the service gates today.
const (
	PurposeRegistration  = "registration"
	PurposeLogin         = "login"
	PurposeExamVerify    = "exam_verification"
	PurposePasswordReset = "password_reset"
)

// Verdict classifies one code submission. Verdicts are ordinary values;
// only infrastructure failures (store unreachable, serialization violated)
// surface as errors.
type Verdict string

const (
	VerdictAccepted        Verdict = "accepted"
	VerdictExpired         Verdict = "expired"
	VerdictMismatch        Verdict = "mismatch"
	VerdictAlreadyConsumed Verdict = "already_consumed"
	VerdictNotFound        Verdict = "not_found"
)

// Result pairs a verdict with the record's failed-attempt counter so the
// caller can apply its own lockout policy; the verifier itself never locks
// anyone out.
type Result struct {
	Verdict  Verdict `json:"verdict"`
	Attempts int     `json:"attempts"`
}

var (
	// ErrConflict reports a revision mismatch on a store update. Per-key
	// locking makes this unreachable in a correct deployment, so seeing it
	// means a locking bug rather than a user error.
	ErrConflict = errors.New("otp: record modified concurrently")

	// ErrCooldown reports a re-issue attempt inside the configured
	// cooldown window for an identity/purpose pair.
	ErrCooldown = errors.New("otp: re-issue within cooldown window")
)

// GenerateCode returns a uniformly random decimal code with the given
// number of digits, leading zeros preserved. Non-positive digit counts fall
// back to six.
func GenerateCode(digits int) (string, error) {
	if digits <= 0 {
		digits = 6
	}
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", digits, n), nil
}
