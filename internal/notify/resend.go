package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/resend/resend-go/v2"
)

// ResendDispatcher delivers codes through the Resend HTTP API.
type ResendDispatcher struct {
	client *resend.Client
	from   string
	ttl    time.Duration
}

func NewResendDispatcher(apiKey, from string, codeTTL time.Duration) *ResendDispatcher {
	return &ResendDispatcher{
		client: resend.NewClient(apiKey),
		from:   from,
		ttl:    codeTTL,
	}
}

func (d *ResendDispatcher) Send(ctx context.Context, contact, purpose, code string) error {
	msg := Render(contact, purpose, code, d.ttl)
	_, err := d.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    d.from,
		To:      []string{contact},
		Subject: msg.Subject,
		Text:    msg.Body,
	})
	if err != nil {
		return fmt.Errorf("resend send: %w", err)
	}
	return nil
}
