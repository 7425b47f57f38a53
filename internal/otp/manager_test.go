package otp

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/facegate/internal/models"
)

type sentCode struct {
	contact string
	purpose string
	code    string
}

type fakeDispatcher struct {
	mu   sync.Mutex
	err  error
	sent []sentCode
}

func (d *fakeDispatcher) Send(_ context.Context, contact, purpose, code string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.sent = append(d.sent, sentCode{contact: contact, purpose: purpose, code: code})
	return nil
}

// newTestManager wires a manager to a memory store, a recording dispatcher
// and a simulated clock the test can move.
func newTestManager(opts Options) (*Manager, *fakeDispatcher, *time.Time) {
	d := &fakeDispatcher{}
	m := NewManager(NewMemoryStore(), d, opts)
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m.Now = func() time.Time { return clock }
	return m, d, &clock
}

// wrongCode returns a same-length code guaranteed to differ from code.
func wrongCode(code string) string {
	b := []byte(code)
	if b[0] == '9' {
		b[0] = '0'
	} else {
		b[0]++
	}
	return string(b)
}

func TestIssueStoresAndDelivers(t *testing.T) {
	ctx := context.Background()
	m, d, clock := newTestManager(Options{})

	res, err := m.Issue(ctx, "s1", "s1@example.com", PurposeLogin, 0)
	require.NoError(t, err)

	assert.True(t, res.Delivered)
	assert.Empty(t, res.DeliveryError)
	assert.Regexp(t, `^\d{6}$`, res.Code)
	assert.Equal(t, clock.Add(DefaultTTL), res.ExpiresAt, "zero ttl selects the ten-minute default")

	require.Len(t, d.sent, 1)
	assert.Equal(t, sentCode{contact: "s1@example.com", purpose: PurposeLogin, code: res.Code}, d.sent[0])
}

func TestIssueCustomTTL(t *testing.T) {
	ctx := context.Background()
	m, _, clock := newTestManager(Options{})

	res, err := m.Issue(ctx, "s1", "s1@example.com", PurposeLogin, 90*time.Second)
	require.NoError(t, err)
	assert.Equal(t, clock.Add(90*time.Second), res.ExpiresAt)
}

func TestIssueDeliveryFailureKeepsRecordValid(t *testing.T) {
	ctx := context.Background()
	m, d, _ := newTestManager(Options{})
	d.err = errors.New("smtp connect: connection refused")

	res, err := m.Issue(ctx, "s1", "s1@example.com", PurposeLogin, 0)
	require.NoError(t, err, "delivery failure must not fail issuance")
	assert.False(t, res.Delivered)
	assert.Contains(t, res.DeliveryError, "connection refused")

	// The stored code still verifies: the record was not rolled back.
	got, err := m.Verify(ctx, "s1", PurposeLogin, res.Code)
	require.NoError(t, err)
	assert.Equal(t, VerdictAccepted, got.Verdict)
}

func TestIssueSupersedesPriorCode(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(Options{})

	first, err := m.Issue(ctx, "s1", "s1@example.com", PurposeLogin, 0)
	require.NoError(t, err)
	second, err := m.Issue(ctx, "s1", "s1@example.com", PurposeLogin, 0)
	require.NoError(t, err)

	if first.Code != second.Code {
		got, err := m.Verify(ctx, "s1", PurposeLogin, first.Code)
		require.NoError(t, err)
		assert.Equal(t, VerdictMismatch, got.Verdict, "a superseded code must stop verifying")
	}

	got, err := m.Verify(ctx, "s1", PurposeLogin, second.Code)
	require.NoError(t, err)
	assert.Equal(t, VerdictAccepted, got.Verdict)
}

func TestIssueCooldown(t *testing.T) {
	ctx := context.Background()
	m, _, clock := newTestManager(Options{Cooldown: time.Minute})

	res, err := m.Issue(ctx, "s1", "s1@example.com", PurposeLogin, 0)
	require.NoError(t, err)

	_, err = m.Issue(ctx, "s1", "s1@example.com", PurposeLogin, 0)
	assert.ErrorIs(t, err, ErrCooldown)

	// A consumed code lifts the cooldown immediately.
	_, err = m.Verify(ctx, "s1", PurposeLogin, res.Code)
	require.NoError(t, err)
	_, err = m.Issue(ctx, "s1", "s1@example.com", PurposeLogin, 0)
	assert.NoError(t, err)

	// Otherwise the window has to pass.
	_, err = m.Issue(ctx, "s1", "s1@example.com", PurposeLogin, 0)
	assert.ErrorIs(t, err, ErrCooldown)
	*clock = clock.Add(61 * time.Second)
	_, err = m.Issue(ctx, "s1", "s1@example.com", PurposeLogin, 0)
	assert.NoError(t, err)
}

func TestVerifyVerdicts(t *testing.T) {
	testCases := []struct {
		name         string
		setup        func(t *testing.T, m *Manager, clock *time.Time) (identity, purpose, code string)
		wantVerdict  Verdict
		wantAttempts int
	}{
		{
			name: "unknown key is not found",
			setup: func(t *testing.T, m *Manager, clock *time.Time) (string, string, string) {
				return "ghost", PurposeLogin, "123456"
			},
			wantVerdict: VerdictNotFound,
		},
		{
			name: "correct code is accepted",
			setup: func(t *testing.T, m *Manager, clock *time.Time) (string, string, string) {
				res, err := m.Issue(context.Background(), "s1", "s1@example.com", PurposeLogin, 0)
				require.NoError(t, err)
				return "s1", PurposeLogin, res.Code
			},
			wantVerdict: VerdictAccepted,
		},
		{
			name: "correct code after ttl is expired",
			setup: func(t *testing.T, m *Manager, clock *time.Time) (string, string, string) {
				res, err := m.Issue(context.Background(), "s1", "s1@example.com", PurposeLogin, 0)
				require.NoError(t, err)
				*clock = clock.Add(DefaultTTL + time.Second)
				return "s1", PurposeLogin, res.Code
			},
			wantVerdict: VerdictExpired,
		},
		{
			name: "wrong code is a mismatch and counts",
			setup: func(t *testing.T, m *Manager, clock *time.Time) (string, string, string) {
				res, err := m.Issue(context.Background(), "s1", "s1@example.com", PurposeLogin, 0)
				require.NoError(t, err)
				return "s1", PurposeLogin, wrongCode(res.Code)
			},
			wantVerdict:  VerdictMismatch,
			wantAttempts: 1,
		},
		{
			name: "consumed code is already consumed",
			setup: func(t *testing.T, m *Manager, clock *time.Time) (string, string, string) {
				res, err := m.Issue(context.Background(), "s1", "s1@example.com", PurposeLogin, 0)
				require.NoError(t, err)
				got, err := m.Verify(context.Background(), "s1", PurposeLogin, res.Code)
				require.NoError(t, err)
				require.Equal(t, VerdictAccepted, got.Verdict)
				return "s1", PurposeLogin, res.Code
			},
			wantVerdict: VerdictAlreadyConsumed,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m, _, clock := newTestManager(Options{})
			identity, purpose, code := tc.setup(t, m, clock)

			got, err := m.Verify(context.Background(), identity, purpose, code)
			require.NoError(t, err)
			assert.Equal(t, tc.wantVerdict, got.Verdict)
			assert.Equal(t, tc.wantAttempts, got.Attempts)
		})
	}
}

func TestVerifyMismatchAccumulatesAttempts(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(Options{})

	res, err := m.Issue(ctx, "s1", "s1@example.com", PurposeExamVerify, 0)
	require.NoError(t, err)
	bad := wrongCode(res.Code)

	for i := 1; i <= 3; i++ {
		got, err := m.Verify(ctx, "s1", PurposeExamVerify, bad)
		require.NoError(t, err)
		assert.Equal(t, VerdictMismatch, got.Verdict)
		assert.Equal(t, i, got.Attempts)
	}

	// Mismatches never consume the code.
	got, err := m.Verify(ctx, "s1", PurposeExamVerify, res.Code)
	require.NoError(t, err)
	assert.Equal(t, VerdictAccepted, got.Verdict)
	assert.Equal(t, 3, got.Attempts)
}

func TestVerifyAtMostOnce(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(Options{})

	res, err := m.Issue(ctx, "s1", "s1@example.com", PurposeLogin, 0)
	require.NoError(t, err)

	const submitters = 25
	verdicts := make(chan Verdict, submitters)
	var wg sync.WaitGroup
	for i := 0; i < submitters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := m.Verify(ctx, "s1", PurposeLogin, res.Code)
			require.NoError(t, err)
			verdicts <- got.Verdict
		}()
	}
	wg.Wait()
	close(verdicts)

	accepted, consumed := 0, 0
	for v := range verdicts {
		switch v {
		case VerdictAccepted:
			accepted++
		case VerdictAlreadyConsumed:
			consumed++
		default:
			t.Fatalf("unexpected verdict %q", v)
		}
	}
	assert.Equal(t, 1, accepted, "exactly one concurrent submission may win")
	assert.Equal(t, submitters-1, consumed)
}

func TestVerifyKeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(Options{})

	login, err := m.Issue(ctx, "s1", "s1@example.com", PurposeLogin, 0)
	require.NoError(t, err)
	exam, err := m.Issue(ctx, "s1", "s1@example.com", PurposeExamVerify, 0)
	require.NoError(t, err)

	// Burning attempts on one purpose leaves the other untouched.
	for i := 0; i < 2; i++ {
		got, err := m.Verify(ctx, "s1", PurposeLogin, wrongCode(login.Code))
		require.NoError(t, err)
		require.Equal(t, VerdictMismatch, got.Verdict)
	}

	got, err := m.Verify(ctx, "s1", PurposeExamVerify, exam.Code)
	require.NoError(t, err)
	assert.Equal(t, VerdictAccepted, got.Verdict)
	assert.Equal(t, 0, got.Attempts)

	got, err = m.Verify(ctx, "s1", PurposeLogin, login.Code)
	require.NoError(t, err)
	assert.Equal(t, VerdictAccepted, got.Verdict)
	assert.Equal(t, 2, got.Attempts)
}

// conflictStore forces Update to fail the revision check, standing in for a
// serialization bug.
type conflictStore struct{ Store }

func (s conflictStore) Update(ctx context.Context, rec *models.OtpRecord) error {
	return ErrConflict
}

func TestVerifySurfacesStoreConflictAsError(t *testing.T) {
	ctx := context.Background()
	base := NewMemoryStore()
	m := NewManager(conflictStore{base}, &fakeDispatcher{}, Options{})

	res, err := m.Issue(ctx, "s1", "s1@example.com", PurposeLogin, 0)
	require.NoError(t, err)

	_, err = m.Verify(ctx, "s1", PurposeLogin, res.Code)
	assert.ErrorIs(t, err, ErrConflict, "an invariant failure is an error, never a verdict")
}
