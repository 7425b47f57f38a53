package otp

import (
	"context"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/facegate/internal/models"
)

func TestGenerateCodeFormat(t *testing.T) {
	testCases := []struct {
		name   string
		digits int
		want   *regexp.Regexp
	}{
		{name: "six digits", digits: 6, want: regexp.MustCompile(`^\d{6}$`)},
		{name: "four digits", digits: 4, want: regexp.MustCompile(`^\d{4}$`)},
		{name: "eight digits", digits: 8, want: regexp.MustCompile(`^\d{8}$`)},
		{name: "zero falls back to six", digits: 0, want: regexp.MustCompile(`^\d{6}$`)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			for i := 0; i < 100; i++ {
				code, err := GenerateCode(tc.digits)
				require.NoError(t, err)
				// Leading zeros must be preserved: length is fixed.
				assert.Regexp(t, tc.want, code)
			}
		})
	}
}

func TestGenerateCodeVaries(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		code, err := GenerateCode(6)
		require.NoError(t, err)
		seen[code] = true
	}
	assert.Greater(t, len(seen), 1, "fifty draws should not collapse to one code")
}

func TestLockTableSerializesOneKey(t *testing.T) {
	table := newLockTable()
	counter := 0

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release := table.acquire("s1\x00login")
			counter++ // safe only if the lock serializes us
			release()
		}()
	}
	wg.Wait()

	assert.Equal(t, 64, counter)
	assert.Empty(t, table.locks, "entries must be reclaimed after the last release")
}

func TestLockTableKeysAreIndependent(t *testing.T) {
	table := newLockTable()
	releaseA := table.acquire("a")
	defer releaseA()

	got := make(chan struct{})
	go func() {
		release := table.acquire("b")
		release()
		close(got)
	}()

	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("acquiring an unrelated key blocked behind another key's holder")
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	rec, err := s.Get(ctx, "s1", "login")
	require.NoError(t, err)
	assert.Nil(t, rec, "missing records read as nil, nil")

	first := &models.OtpRecord{Identity: "s1", Purpose: "login", Code: "123456"}
	require.NoError(t, s.Put(ctx, first))
	assert.Equal(t, int64(1), first.Rev)

	got, err := s.Get(ctx, "s1", "login")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "123456", got.Code)

	// Get hands out copies: mutating one must not leak into the store.
	got.Code = "mutated"
	again, err := s.Get(ctx, "s1", "login")
	require.NoError(t, err)
	assert.Equal(t, "123456", again.Code)
}

func TestMemoryStoreUpdateIsRevisionChecked(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	rec := &models.OtpRecord{Identity: "s1", Purpose: "login", Code: "123456"}
	require.NoError(t, s.Put(ctx, rec))

	fresh, err := s.Get(ctx, "s1", "login")
	require.NoError(t, err)
	fresh.Attempts = 1
	require.NoError(t, s.Update(ctx, fresh))
	assert.Equal(t, int64(2), fresh.Rev)

	stale := &models.OtpRecord{Identity: "s1", Purpose: "login", Rev: 1}
	assert.ErrorIs(t, s.Update(ctx, stale), ErrConflict)

	ghost := &models.OtpRecord{Identity: "nobody", Purpose: "login", Rev: 1}
	assert.ErrorIs(t, s.Update(ctx, ghost), ErrConflict)
}

func TestMemoryStorePutSupersedesAndKeepsRevisionChain(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	old := &models.OtpRecord{Identity: "s1", Purpose: "login", Code: "111111"}
	require.NoError(t, s.Put(ctx, old))

	replacement := &models.OtpRecord{Identity: "s1", Purpose: "login", Code: "222222"}
	require.NoError(t, s.Put(ctx, replacement))
	assert.Equal(t, int64(2), replacement.Rev, "revisions must survive supersession")

	got, err := s.Get(ctx, "s1", "login")
	require.NoError(t, err)
	assert.Equal(t, "222222", got.Code)

	// An update carried over from the superseded issuance must fail.
	old.Attempts = 5
	assert.ErrorIs(t, s.Update(ctx, old), ErrConflict)
}
