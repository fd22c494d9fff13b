package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian/internal/payment"
	"github.com/meridian-erp/meridian/internal/shared"
)

// RecipientSource resolves who should hear about a workflow event.
type RecipientSource interface {
	GroupEmails(ctx context.Context, group string) ([]string, error)
	UserEmail(ctx context.Context, userID int64) (string, error)
}

// Enqueuer is the queue surface the notifier needs.
type Enqueuer interface {
	SendEmail(ctx context.Context, payload SendEmailPayload) error
}

// Notifier turns workflow events into queued emails.
type Notifier struct {
	queue      Enqueuer
	recipients RecipientSource
	logger     *slog.Logger
}

// NewNotifier creates a notifier.
func NewNotifier(queue Enqueuer, recipients RecipientSource, logger *slog.Logger) *Notifier {
	return &Notifier{queue: queue, recipients: recipients, logger: logger}
}

// Notify fans a workflow event out to the people who should act on it.
func (n *Notifier) Notify(ctx context.Context, ev payment.Event) error {
	to, subject, body, ok := n.compose(ctx, ev)
	if !ok || len(to) == 0 {
		return nil
	}
	return n.queue.SendEmail(ctx, SendEmailPayload{To: to, Subject: subject, Body: body})
}

func (n *Notifier) compose(ctx context.Context, ev payment.Event) (to []string, subject, body string, ok bool) {
	p := ev.Payment
	switch {
	case ev.Action == payment.ActionSubmit:
		to = n.groupEmails(ctx, shared.GroupPaymentReviewer)
		subject = fmt.Sprintf("Payment %s awaits review", p.VoucherNumber)
		body = fmt.Sprintf("Payment %s (%s %s) was submitted and is waiting for review.",
			p.VoucherNumber, p.Amount.String(), p.Currency)
		return to, subject, body, true
	case ev.Action == payment.ActionApprove && ev.Heightened:
		to = n.groupEmails(ctx, shared.GroupPaymentAuthorizer)
		subject = fmt.Sprintf("High-value payment %s needs authorization", p.VoucherNumber)
		body = fmt.Sprintf("Payment %s (%s %s) crossed the heightened scrutiny threshold and requires authorization.",
			p.VoucherNumber, p.Amount.String(), p.Currency)
		return to, subject, body, true
	case ev.Action == payment.ActionReject:
		if p.SubmitterID == nil {
			return nil, "", "", false
		}
		email, err := n.recipients.UserEmail(ctx, *p.SubmitterID)
		if err != nil {
			n.logger.Warn("rejection notice recipient lookup failed",
				slog.Int64("user_id", *p.SubmitterID), slog.Any("error", err))
			return nil, "", "", false
		}
		subject = fmt.Sprintf("Payment %s was rejected", p.VoucherNumber)
		body = fmt.Sprintf("Payment %s (%s %s) was rejected. Correct it and resubmit.",
			p.VoucherNumber, p.Amount.String(), p.Currency)
		return []string{email}, subject, body, true
	default:
		return nil, "", "", false
	}
}

func (n *Notifier) groupEmails(ctx context.Context, group string) []string {
	emails, err := n.recipients.GroupEmails(ctx, group)
	if err != nil {
		n.logger.Warn("recipient lookup failed", slog.String("group", group), slog.Any("error", err))
		return nil
	}
	return emails
}

// PGRecipients resolves recipients from the user and membership tables.
type PGRecipients struct {
	pool *pgxpool.Pool
}

// NewPGRecipients creates a postgres-backed recipient source.
func NewPGRecipients(pool *pgxpool.Pool) *PGRecipients {
	return &PGRecipients{pool: pool}
}

// GroupEmails returns the emails of every active member of a group.
func (r *PGRecipients) GroupEmails(ctx context.Context, group string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT u.email
		FROM users u
		INNER JOIN user_groups ug ON ug.user_id = u.id
		WHERE ug.group_name = $1 AND u.is_active
		ORDER BY u.email`, group)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var emails []string
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, err
		}
		emails = append(emails, email)
	}
	return emails, rows.Err()
}

// UserEmail returns one user's email.
func (r *PGRecipients) UserEmail(ctx context.Context, userID int64) (string, error) {
	var email string
	err := r.pool.QueryRow(ctx, `SELECT email FROM users WHERE id = $1`, userID).Scan(&email)
	return email, err
}
