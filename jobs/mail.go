package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"

	"github.com/hibiken/asynq"
)

// Mailer delivers queued emails over SMTP. With no address configured it
// logs instead of sending, which is what dev and CI want.
type Mailer struct {
	addr   string
	from   string
	logger *slog.Logger
}

// NewMailer creates a mailer. addr is host:port of the SMTP relay.
func NewMailer(addr, from string, logger *slog.Logger) *Mailer {
	return &Mailer{addr: addr, from: from, logger: logger}
}

// HandleSendEmail processes TaskTypeSendEmail tasks.
func (m *Mailer) HandleSendEmail(ctx context.Context, t *asynq.Task) error {
	var payload SendEmailPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if len(payload.To) == 0 {
		return asynq.SkipRetry
	}
	return m.Send(ctx, payload)
}

// Send delivers one email.
func (m *Mailer) Send(_ context.Context, payload SendEmailPayload) error {
	if m.addr == "" {
		m.logger.Info("email suppressed, no smtp relay configured",
			slog.String("subject", payload.Subject),
			slog.Int("recipients", len(payload.To)))
		return nil
	}
	msg := strings.Join([]string{
		"From: " + m.from,
		"To: " + strings.Join(payload.To, ", "),
		"Subject: " + payload.Subject,
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=utf-8",
		"",
		payload.Body,
	}, "\r\n")
	if err := smtp.SendMail(m.addr, nil, m.from, payload.To, []byte(msg)); err != nil {
		return fmt.Errorf("jobs: send mail: %w", err)
	}
	return nil
}
