package steps

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strings"

	"github.com/micromdm/nanorpa/log/logkeys"
	"github.com/micromdm/nanorpa/rpa"

	"github.com/micromdm/nanolib/log"
	"github.com/micromdm/nanolib/log/ctxlog"
)

// Message is an email message.
type Message struct {
	To      []string
	Subject string
	Body    string
}

// Mailer sends email.
type Mailer interface {
	Send(ctx context.Context, msg *Message) error
}

// LogMailer logs messages instead of sending them.
type LogMailer struct {
	logger log.Logger
}

// NewLogMailer creates a new mailer that only logs.
func NewLogMailer(logger log.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(ctx context.Context, msg *Message) error {
	ctxlog.Logger(ctx, m.logger).Info(
		logkeys.Message, "email not sent: no smtp server configured",
		"to", strings.Join(msg.To, ","),
		"subject", msg.Subject,
	)
	return nil
}

// SMTPMailer sends email using an SMTP server.
type SMTPMailer struct {
	addr string
	from string
	auth smtp.Auth
}

// NewSMTPMailer creates a new SMTP mailer.
// If username is not empty PLAIN authentication is used.
func NewSMTPMailer(addr, from, username, password string) (*SMTPMailer, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("smtp address: %w", err)
	}
	if from == "" {
		return nil, errors.New("smtp: missing from address")
	}
	m := &SMTPMailer{addr: addr, from: from}
	if username != "" {
		m.auth = smtp.PlainAuth("", username, password, host)
	}
	return m, nil
}

func (m *SMTPMailer) Send(_ context.Context, msg *Message) error {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", m.from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(msg.To, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n\r\n")
	b.WriteString(msg.Body)
	return smtp.SendMail(m.addr, m.auth, m.from, msg.To, []byte(b.String()))
}

// emailSend sends an email. Config: "to" (comma separated), "subject", and "body".
func (b *Builtins) emailSend(ctx context.Context, step *rpa.Step, ec *rpa.ExecutionContext) (map[string]interface{}, error) {
	to, err := requireStr(step, ec, "to")
	if err != nil {
		return nil, err
	}
	msg := &Message{
		Subject: str(step, ec, "subject"),
		Body:    str(step, ec, "body"),
	}
	for _, addr := range strings.Split(to, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			msg.To = append(msg.To, addr)
		}
	}
	if len(msg.To) < 1 {
		return nil, rpa.NewValidationError("step %s: no recipients", step.ID)
	}
	if err = b.mailer.Send(ctx, msg); err != nil {
		return nil, fmt.Errorf("sending email: %w", err)
	}
	return map[string]interface{}{
		"email_sent":       true,
		"email_recipients": len(msg.To),
	}, nil
}
