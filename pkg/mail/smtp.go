package mail

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
)

// SMTPMailer delivers mail through a plain SMTP relay.
type SMTPMailer struct {
	Host string
	Port int
	From string
}

// NewSMTPMailer creates a mailer for the given relay.
func NewSMTPMailer(host string, port int, from string) *SMTPMailer {
	return &SMTPMailer{Host: host, Port: port, From: from}
}

// Send delivers one message. The context is accepted for interface
// symmetry; net/smtp does not support cancellation mid-delivery.
func (m *SMTPMailer) Send(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", m.From)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n")
	msg.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))

	addr := fmt.Sprintf("%s:%d", m.Host, m.Port)
	if err := smtp.SendMail(addr, nil, m.From, []string{to}, []byte(msg.String())); err != nil {
		return fmt.Errorf("sending mail to %s via %s: %w", to, addr, err)
	}
	return nil
}
