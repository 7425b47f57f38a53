package otp

import (
	"context"
	"sync"

	"github.com/your-org/facegate/internal/models"
)

// MemoryStore keeps records in a process-local map. It serves tests and
// single-node deployments; RedisStore is its shared twin. Expired records
// stay until superseded so they keep answering with the expired verdict.
type MemoryStore struct {
	mu   sync.RWMutex
	recs map[string]models.OtpRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{recs: make(map[string]models.OtpRecord)}
}

func (s *MemoryStore) Get(ctx context.Context, identity, purpose string) (*models.OtpRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.recs[storeKey(identity, purpose)]
	if !ok {
		return nil, nil
	}
	cp := rec
	return &cp, nil
}

func (s *MemoryStore) Put(ctx context.Context, rec *models.OtpRecord) error {
	key := storeKey(rec.Identity, rec.Purpose)

	s.mu.Lock()
	defer s.mu.Unlock()

	// The revision counter survives supersession so a stale Update from a
	// previous issuance can never pass the check.
	rec.Rev = s.recs[key].Rev + 1
	s.recs[key] = *rec
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, rec *models.OtpRecord) error {
	key := storeKey(rec.Identity, rec.Purpose)

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.recs[key]
	if !ok || cur.Rev != rec.Rev {
		return ErrConflict
	}
	rec.Rev++
	s.recs[key] = *rec
	return nil
}
