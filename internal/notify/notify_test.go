package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	msg := Render("s1@example.com", "exam_verification", "042137", 10*time.Minute)

	assert.Equal(t, "s1@example.com", msg.To)
	assert.Equal(t, "Your exam verification code", msg.Subject)
	assert.Contains(t, msg.Body, "042137")
	assert.Contains(t, msg.Body, "exam verification")
	assert.Contains(t, msg.Body, "expire in 10 minutes")
}

func TestRenderDefaultsExpiry(t *testing.T) {
	msg := Render("s1@example.com", "login", "000042", 0)
	assert.Contains(t, msg.Body, "expire in 10 minutes")

	msg = Render("s1@example.com", "login", "000042", 30*time.Second)
	assert.Contains(t, msg.Body, "expire in 1 minute.")
}

func TestRenderSingularMinute(t *testing.T) {
	msg := Render("s1@example.com", "login", "000042", time.Minute)
	assert.Contains(t, msg.Body, "expire in 1 minute.")
	assert.NotContains(t, msg.Body, "1 minutes")
}

func TestLogDispatcherReportsFailure(t *testing.T) {
	err := LogDispatcher{}.Send(context.Background(), "s1@example.com", "login", "123456")
	assert.ErrorIs(t, err, ErrNoTransport, "the fallback must not pretend delivery succeeded")
}

func TestNewSMTPDispatcher(t *testing.T) {
	testCases := []struct {
		name     string
		opts     SMTPOptions
		wantAddr string
		wantErr  bool
	}{
		{
			name:     "gmail preset",
			opts:     SMTPOptions{Preset: "gmail", Username: "svc@gmail.com", Password: "pw"},
			wantAddr: "smtp.gmail.com:587",
		},
		{
			name:     "outlook preset",
			opts:     SMTPOptions{Preset: "outlook", Username: "svc@outlook.com"},
			wantAddr: "smtp-mail.outlook.com:587",
		},
		{
			name:     "custom host overrides preset",
			opts:     SMTPOptions{Preset: "gmail", Host: "mail.corp.internal", Port: 2525, Username: "svc"},
			wantAddr: "mail.corp.internal:2525",
		},
		{
			name:     "custom host defaults to 587",
			opts:     SMTPOptions{Host: "mail.corp.internal", Username: "svc"},
			wantAddr: "mail.corp.internal:587",
		},
		{
			name:    "unknown preset without host fails",
			opts:    SMTPOptions{Preset: "pigeon", Username: "svc"},
			wantErr: true,
		},
		{
			name:    "missing from and username fails",
			opts:    SMTPOptions{Preset: "gmail"},
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			d, err := NewSMTPDispatcher(tc.opts)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantAddr, d.addr)
		})
	}
}

func TestSMTPDispatcherHonorsContext(t *testing.T) {
	d, err := NewSMTPDispatcher(SMTPOptions{Host: "192.0.2.1", Port: 587, Username: "svc", From: "svc@example.com"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err = d.Send(ctx, "s1@example.com", "login", "123456")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
