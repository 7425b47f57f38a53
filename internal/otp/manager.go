package otp

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/your-org/facegate/internal/models"
)

// DefaultTTL is the code lifetime applied when the caller passes none.
const DefaultTTL = 10 * time.Minute

// Dispatcher delivers a code out of band. A nil error means delivered; any
// error means the code was not sent, which never fails issuance.
type Dispatcher interface {
	Send(ctx context.Context, contact, purpose, code string) error
}

// Options tunes a Manager. Zero values select the defaults.
type Options struct {
	Digits   int           // code length, default 6
	TTL      time.Duration // default code lifetime, default 10 minutes
	Cooldown time.Duration // minimum spacing between issues per key, 0 disables
}

// Manager owns the OTP lifecycle for every (identity, purpose) pair. All
// check-then-set windows run under that pair's lock, so unrelated keys
// proceed in parallel while a single key is strictly serialized.
type Manager struct {
	store      Store
	dispatcher Dispatcher
	locks      *lockTable
	opts       Options

	// Now is the clock; tests substitute a simulated one.
	Now func() time.Time
}

func NewManager(store Store, dispatcher Dispatcher, opts Options) *Manager {
	if opts.Digits <= 0 {
		opts.Digits = 6
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	return &Manager{
		store:      store,
		dispatcher: dispatcher,
		locks:      newLockTable(),
		opts:       opts,
		Now:        time.Now,
	}
}

// IssueResult reports one issuance. Delivered=false with a non-empty
// DeliveryError means the code was stored but not sent; the record stays
// valid, so a retry path may redeliver it.
type IssueResult struct {
	Code          string
	IssuedAt      time.Time
	ExpiresAt     time.Time
	Delivered     bool
	DeliveryError string
}

// Issue generates a fresh code for (identity, purpose), replacing any prior
// record for the pair, and dispatches it to the contact. The record is
// persisted before dispatch: a delivery failure is reported in the result
// and never rolls issuance back. ttl <= 0 selects the default lifetime.
func (m *Manager) Issue(ctx context.Context, identity, contact, purpose string, ttl time.Duration) (IssueResult, error) {
	if ttl <= 0 {
		ttl = m.opts.TTL
	}

	release := m.locks.acquire(storeKey(identity, purpose))
	defer release()

	now := m.Now()
	if m.opts.Cooldown > 0 {
		prev, err := m.store.Get(ctx, identity, purpose)
		if err != nil {
			return IssueResult{}, fmt.Errorf("load active record: %w", err)
		}
		if prev != nil && !prev.Consumed && now.Sub(prev.IssuedAt) < m.opts.Cooldown {
			return IssueResult{}, ErrCooldown
		}
	}

	code, err := GenerateCode(m.opts.Digits)
	if err != nil {
		return IssueResult{}, err
	}
	rec := &models.OtpRecord{
		Identity:  identity,
		Purpose:   purpose,
		Code:      code,
		Contact:   contact,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
	// Persist before dispatch: the code must survive a delivery failure.
	if err := m.store.Put(ctx, rec); err != nil {
		return IssueResult{}, fmt.Errorf("store record: %w", err)
	}

	res := IssueResult{Code: code, IssuedAt: now, ExpiresAt: rec.ExpiresAt, Delivered: true}
	if err := m.dispatcher.Send(ctx, contact, purpose, code); err != nil {
		res.Delivered = false
		res.DeliveryError = err.Error()
		slog.Warn("otp delivery failed",
			"identity", identity,
			"purpose", purpose,
			"error", err)
	}
	return res, nil
}

// Verify submits a code for (identity, purpose) and returns a verdict. The
// whole check-then-set runs under the pair's lock, so at most one accepted
// verdict can ever be produced per issuance; concurrent duplicates observe
// the consumed record.
func (m *Manager) Verify(ctx context.Context, identity, purpose, code string) (Result, error) {
	release := m.locks.acquire(storeKey(identity, purpose))
	defer release()

	rec, err := m.store.Get(ctx, identity, purpose)
	if err != nil {
		return Result{}, fmt.Errorf("load record: %w", err)
	}
	if rec == nil {
		return Result{Verdict: VerdictNotFound}, nil
	}
	if rec.Consumed {
		return Result{Verdict: VerdictAlreadyConsumed, Attempts: rec.Attempts}, nil
	}
	if rec.Expired(m.Now()) {
		// The record is kept for audit; it can never be consumed.
		return Result{Verdict: VerdictExpired, Attempts: rec.Attempts}, nil
	}
	if subtle.ConstantTimeCompare([]byte(code), []byte(rec.Code)) != 1 {
		rec.Attempts++
		if err := m.store.Update(ctx, rec); err != nil {
			return Result{}, m.storeFailure("count mismatch", err)
		}
		return Result{Verdict: VerdictMismatch, Attempts: rec.Attempts}, nil
	}

	now := m.Now()
	rec.Consumed = true
	rec.ConsumedAt = &now
	if err := m.store.Update(ctx, rec); err != nil {
		return Result{}, m.storeFailure("consume record", err)
	}
	return Result{Verdict: VerdictAccepted, Attempts: rec.Attempts}, nil
}

// storeFailure wraps update errors. A revision conflict while holding the
// key lock means per-key serialization is broken somewhere; that is an
// internal fault worth shouting about, never a verdict.
func (m *Manager) storeFailure(op string, err error) error {
	if errors.Is(err, ErrConflict) {
		slog.Error("otp record changed inside critical section",
			"op", op,
			"error", err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
