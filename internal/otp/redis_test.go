package otp

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/facegate/internal/models"
)

func setupRedisStore(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return mr, NewRedisStore(client, 0)
}

func testRecord(now time.Time) *models.OtpRecord {
	return &models.OtpRecord{
		Identity:  "s1",
		Purpose:   PurposeLogin,
		Code:      "042137",
		Contact:   "s1@example.com",
		IssuedAt:  now,
		ExpiresAt: now.Add(DefaultTTL),
	}
}

func TestRedisStorePutGet(t *testing.T) {
	ctx := context.Background()
	mr, s := setupRedisStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	rec := testRecord(now)
	require.NoError(t, s.Put(ctx, rec))
	assert.Equal(t, int64(1), rec.Rev)

	got, err := s.Get(ctx, "s1", PurposeLogin)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "042137", got.Code)
	assert.Equal(t, "s1@example.com", got.Contact)
	assert.True(t, got.ExpiresAt.Equal(rec.ExpiresAt))

	// Physical TTL covers the lifetime plus the retention window.
	ttl := mr.TTL(redisKey("s1", PurposeLogin))
	assert.Greater(t, ttl, DefaultRetention)
	assert.LessOrEqual(t, ttl, DefaultRetention+DefaultTTL)
}

func TestRedisStoreGetMissing(t *testing.T) {
	ctx := context.Background()
	_, s := setupRedisStore(t)

	got, err := s.Get(ctx, "nobody", PurposeLogin)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisStorePutSupersedes(t *testing.T) {
	ctx := context.Background()
	_, s := setupRedisStore(t)
	now := time.Now().UTC()

	old := testRecord(now)
	require.NoError(t, s.Put(ctx, old))

	replacement := testRecord(now)
	replacement.Code = "777777"
	require.NoError(t, s.Put(ctx, replacement))
	assert.Equal(t, int64(2), replacement.Rev, "revision chain survives supersession")

	got, err := s.Get(ctx, "s1", PurposeLogin)
	require.NoError(t, err)
	assert.Equal(t, "777777", got.Code)

	// The superseded issuance can no longer push updates.
	old.Attempts = 3
	assert.ErrorIs(t, s.Update(ctx, old), ErrConflict)
}

func TestRedisStoreUpdate(t *testing.T) {
	ctx := context.Background()
	_, s := setupRedisStore(t)
	now := time.Now().UTC()

	rec := testRecord(now)
	require.NoError(t, s.Put(ctx, rec))

	rec.Attempts = 1
	require.NoError(t, s.Update(ctx, rec))
	assert.Equal(t, int64(2), rec.Rev)

	stale := testRecord(now)
	stale.Rev = 1
	assert.ErrorIs(t, s.Update(ctx, stale), ErrConflict)

	missing := testRecord(now)
	missing.Identity = "nobody"
	missing.Rev = 1
	assert.ErrorIs(t, s.Update(ctx, missing), ErrConflict)
}

func TestRedisStoreRetainsExpiredRecords(t *testing.T) {
	ctx := context.Background()
	mr, s := setupRedisStore(t)
	now := time.Now().UTC()

	rec := testRecord(now)
	rec.ExpiresAt = now.Add(time.Minute)
	require.NoError(t, s.Put(ctx, rec))

	// Logically expired but inside the retention window: still readable,
	// so the verifier can answer expired instead of not_found.
	mr.FastForward(2 * time.Minute)
	got, err := s.Get(ctx, "s1", PurposeLogin)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Expired(now.Add(2*time.Minute)))

	// Past the retention window the key is gone.
	mr.FastForward(25 * time.Hour)
	got, err = s.Get(ctx, "s1", PurposeLogin)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestManagerOnRedisStore(t *testing.T) {
	ctx := context.Background()
	_, s := setupRedisStore(t)

	m := NewManager(s, &fakeDispatcher{}, Options{})
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m.Now = func() time.Time { return clock }

	res, err := m.Issue(ctx, "s1", "s1@example.com", PurposeExamVerify, 0)
	require.NoError(t, err)
	require.True(t, res.Delivered)

	got, err := m.Verify(ctx, "s1", PurposeExamVerify, wrongCode(res.Code))
	require.NoError(t, err)
	assert.Equal(t, VerdictMismatch, got.Verdict)
	assert.Equal(t, 1, got.Attempts)

	got, err = m.Verify(ctx, "s1", PurposeExamVerify, res.Code)
	require.NoError(t, err)
	assert.Equal(t, VerdictAccepted, got.Verdict)

	got, err = m.Verify(ctx, "s1", PurposeExamVerify, res.Code)
	require.NoError(t, err)
	assert.Equal(t, VerdictAlreadyConsumed, got.Verdict)
}

func TestManagerOnRedisStoreExpiry(t *testing.T) {
	ctx := context.Background()
	_, s := setupRedisStore(t)

	m := NewManager(s, &fakeDispatcher{}, Options{})
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m.Now = func() time.Time { return clock }

	res, err := m.Issue(ctx, "s1", "s1@example.com", PurposeLogin, 0)
	require.NoError(t, err)

	clock = clock.Add(DefaultTTL + time.Second)
	got, err := m.Verify(ctx, "s1", PurposeLogin, res.Code)
	require.NoError(t, err)
	assert.Equal(t, VerdictExpired, got.Verdict, "retention keeps expired records answerable")
}
