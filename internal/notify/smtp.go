package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"
)

// smtpPresets are the provider endpoints the service historically supported.
// All of them speak STARTTLS on the submission port.
var smtpPresets = map[string]string{
	"gmail":   "smtp.gmail.com:587",
	"outlook": "smtp-mail.outlook.com:587",
	"yahoo":   "smtp.mail.yahoo.com:587",
}

// SMTPOptions configures the dispatcher. Preset picks a known provider;
// Host/Port take precedence for custom servers. From defaults to Username.
type SMTPOptions struct {
	Preset   string
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
	CodeTTL  time.Duration
}

// SMTPDispatcher sends codes over authenticated SMTP. STARTTLS is
// negotiated by the transport when the server offers it, which every preset
// does.
type SMTPDispatcher struct {
	addr     string
	host     string
	username string
	password string
	from     string
	fromName string
	ttl      time.Duration
}

func NewSMTPDispatcher(opts SMTPOptions) (*SMTPDispatcher, error) {
	addr := ""
	switch {
	case opts.Host != "":
		port := opts.Port
		if port == 0 {
			port = 587
		}
		addr = fmt.Sprintf("%s:%d", opts.Host, port)
	default:
		preset, ok := smtpPresets[opts.Preset]
		if !ok {
			return nil, fmt.Errorf("unknown smtp preset %q and no host configured", opts.Preset)
		}
		addr = preset
	}
	if opts.From == "" {
		opts.From = opts.Username
	}
	if opts.From == "" {
		return nil, fmt.Errorf("smtp dispatcher needs a from address")
	}
	return &SMTPDispatcher{
		addr:     addr,
		host:     addr[:strings.LastIndex(addr, ":")],
		username: opts.Username,
		password: opts.Password,
		from:     opts.From,
		fromName: opts.FromName,
		ttl:      opts.CodeTTL,
	}, nil
}

func (d *SMTPDispatcher) Send(ctx context.Context, contact, purpose, code string) error {
	msg := Render(contact, purpose, code, d.ttl)

	from := d.from
	if d.fromName != "" {
		from = fmt.Sprintf("%s <%s>", d.fromName, d.from)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", contact)
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.Body)

	// net/smtp has no context support; run the exchange in a goroutine so
	// the caller's deadline still bounds the wait.
	done := make(chan error, 1)
	go func() {
		auth := smtp.PlainAuth("", d.username, d.password, d.host)
		done <- smtp.SendMail(d.addr, auth, d.from, []string{contact}, []byte(b.String()))
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send: %w", err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("smtp send: %w", ctx.Err())
	}
}
