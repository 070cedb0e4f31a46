package mail

import (
	"context"

	"github.com/corralhq/corral/pkg/log"
)

// Mailer delivers notification mail. Delivery failures are never
// critical: callers log and continue.
type Mailer interface {
	Send(ctx context.Context, to, subject, body string) error
}

// LogMailer logs every message instead of delivering it. Used when
// email is disabled or in tests.
type LogMailer struct{}

// Send logs the message and reports success.
func (LogMailer) Send(ctx context.Context, to, subject, body string) error {
	logger := log.WithComponent("mail")
	logger.Info().
		Str("to", to).
		Str("subject", subject).
		Msg("email delivery disabled, message dropped")
	return nil
}

// Disabled is a no-op mailer.
type Disabled struct{}

// Send drops the message silently.
func (Disabled) Send(ctx context.Context, to, subject, body string) error {
	return nil
}
