// Package notify delivers one-time codes to contacts. Every dispatcher
// reports delivery through its error: nil means sent, anything else means
// the code stayed stored but unsent. Issuance never depends on the outcome.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ErrNoTransport reports that no delivery transport is configured.
var ErrNoTransport = errors.New("notify: no delivery transport configured")

// Message is a rendered code delivery.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Render builds the subject and plain-text body for a code. expiresIn tells
// the recipient how long the code stays valid; non-positive values fall
// back to ten minutes to match the default lifetime.
func Render(contact, purpose, code string, expiresIn time.Duration) Message {
	if expiresIn <= 0 {
		expiresIn = 10 * time.Minute
	}
	label := strings.ReplaceAll(purpose, "_", " ")
	minutes := int(expiresIn.Round(time.Minute) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	unit := "minutes"
	if minutes == 1 {
		unit = "minute"
	}
	return Message{
		To:      contact,
		Subject: fmt.Sprintf("Your %s code", label),
		Body: fmt.Sprintf(
			"Your verification code for %s is: %s\n\nThis code will expire in %d %s. If you did not request it, you can ignore this message.\n",
			label, code, minutes, unit),
	}
}

// LogDispatcher is the fallback when no transport is configured: it logs
// the code for operators and reports the send as failed, so issuance
// proceeds with delivered=false instead of pretending mail went out.
type LogDispatcher struct{}

func (LogDispatcher) Send(_ context.Context, contact, purpose, code string) error {
	slog.Warn("otp delivery skipped, logging code instead",
		"contact", contact,
		"purpose", purpose,
		"code", code)
	return ErrNoTransport
}
