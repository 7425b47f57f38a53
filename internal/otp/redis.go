package otp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/your-org/facegate/internal/models"
)

// DefaultRetention is how long a record outlives its logical expiry. The
// physical redis TTL is lifetime + retention, so an expired code still
// answers with the expired verdict instead of vanishing into not_found.
const DefaultRetention = 24 * time.Hour

// RedisStore persists records as JSON values under otp:<identity>:<purpose>.
// Writes run inside WATCH transactions: the per-key lock already serializes
// a single process, and the transaction catches cross-process interleaving.
type RedisStore struct {
	client    *redis.Client
	retention time.Duration
}

func NewRedisStore(client *redis.Client, retention time.Duration) *RedisStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &RedisStore{client: client, retention: retention}
}

func redisKey(identity, purpose string) string {
	return fmt.Sprintf("otp:%s:%s", identity, purpose)
}

func (s *RedisStore) Get(ctx context.Context, identity, purpose string) (*models.OtpRecord, error) {
	raw, err := s.client.Get(ctx, redisKey(identity, purpose)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get otp record: %w", err)
	}

	var rec models.OtpRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode otp record: %w", err)
	}
	return &rec, nil
}

func (s *RedisStore) Put(ctx context.Context, rec *models.OtpRecord) error {
	key := redisKey(rec.Identity, rec.Purpose)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		var prevRev int64
		raw, err := tx.Get(ctx, key).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
			// first issuance for this key
		case err != nil:
			return err
		default:
			var prev models.OtpRecord
			if jerr := json.Unmarshal(raw, &prev); jerr == nil {
				prevRev = prev.Rev
			}
		}
		rec.Rev = prevRev + 1
		return s.write(ctx, tx, key, rec)
	}, key)
	if err != nil {
		return fmt.Errorf("put otp record: %w", err)
	}
	return nil
}

func (s *RedisStore) Update(ctx context.Context, rec *models.OtpRecord) error {
	key := redisKey(rec.Identity, rec.Purpose)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrConflict
		}
		if err != nil {
			return err
		}
		var cur models.OtpRecord
		if err := json.Unmarshal(raw, &cur); err != nil {
			return fmt.Errorf("decode otp record: %w", err)
		}
		if cur.Rev != rec.Rev {
			return ErrConflict
		}
		rec.Rev++
		return s.write(ctx, tx, key, rec)
	}, key)
	if errors.Is(err, ErrConflict) {
		return ErrConflict
	}
	if errors.Is(err, redis.TxFailedErr) {
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("update otp record: %w", err)
	}
	return nil
}

func (s *RedisStore) write(ctx context.Context, tx *redis.Tx, key string, rec *models.OtpRecord) error {
	buf, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	ttl := time.Until(rec.ExpiresAt) + s.retention
	if ttl <= 0 {
		ttl = time.Minute
	}
	_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, buf, ttl)
		return nil
	})
	return err
}

// Ping reports store reachability for readiness checks.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
