package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/meridian-erp/meridian/internal/jobs"
	"github.com/meridian-erp/meridian/internal/payment"
	"github.com/meridian-erp/meridian/internal/policy"
	"github.com/meridian-erp/meridian/internal/shared"
)

// PaymentSource lists payments waiting in deadline-bound stages.
type PaymentSource interface {
	ListInStates(ctx context.Context, states []payment.State) ([]payment.Payment, error)
}

// PolicySource resolves the active configuration per company.
type PolicySource interface {
	Active(ctx context.Context, companyID int64) (policy.Config, error)
}

// OverdueGauge receives the overdue count after each scan.
type OverdueGauge interface {
	SetOverdue(n int)
}

// AuditPort records audit trail entries for flagged payments.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// DeadlineScanner flags payments that sat in a stage past its configured
// deadline. Deadlines are informational: nothing auto-escalates, the scan
// logs and gauges so humans can chase the backlog.
type DeadlineScanner struct {
	payments PaymentSource
	policies PolicySource
	gauge    OverdueGauge
	metrics  *jobmetrics.Metrics
	audit    AuditPort
	logger   *slog.Logger
	now      func() time.Time
}

// NewDeadlineScanner creates a scanner. metrics may be nil.
func NewDeadlineScanner(payments PaymentSource, policies PolicySource, gauge OverdueGauge, metrics *jobmetrics.Metrics, logger *slog.Logger) *DeadlineScanner {
	return &DeadlineScanner{payments: payments, policies: policies, gauge: gauge, metrics: metrics, logger: logger, now: time.Now}
}

// WithAudit makes the scanner write an audit entry per overdue payment.
func (s *DeadlineScanner) WithAudit(audit AuditPort) *DeadlineScanner {
	s.audit = audit
	return s
}

// Scan walks the waiting payments and returns how many are overdue.
func (s *DeadlineScanner) Scan(ctx context.Context, asOf time.Time) (int, error) {
	if asOf.IsZero() {
		asOf = s.now()
	}
	waiting, err := s.payments.ListInStates(ctx, []payment.State{
		payment.StateSubmitted, payment.StateUnderReview, payment.StateApproved,
	})
	if err != nil {
		return 0, err
	}

	configs := make(map[int64]policy.Config)
	overdue := 0
	for _, p := range waiting {
		cfg, ok := configs[p.CompanyID]
		if !ok {
			cfg, err = s.policies.Active(ctx, p.CompanyID)
			if err != nil {
				s.logger.Warn("deadline scan skipped company",
					slog.Int64("company_id", p.CompanyID), slog.Any("error", err))
				continue
			}
			configs[p.CompanyID] = cfg
		}
		if late, deadline := payment.Overdue(p, cfg, asOf); late {
			overdue++
			s.logger.Warn("payment overdue in stage",
				slog.Int64("payment_id", p.ID),
				slog.String("voucher", p.VoucherNumber),
				slog.String("state", string(p.State)),
				slog.Time("deadline", deadline))
			if s.audit != nil {
				err := s.audit.Record(ctx, shared.AuditLog{
					Action:   "PAYMENT_OVERDUE",
					Entity:   "payment",
					EntityID: strconv.FormatInt(p.ID, 10),
					Meta: map[string]any{
						"voucher":  p.VoucherNumber,
						"state":    string(p.State),
						"deadline": deadline.UTC().Format(time.RFC3339),
					},
					At: asOf,
				})
				if err != nil {
					s.logger.Warn("audit write failed for overdue payment",
						slog.Int64("payment_id", p.ID), slog.Any("error", err))
				}
			}
		}
	}

	if s.gauge != nil {
		s.gauge.SetOverdue(overdue)
	}
	return overdue, nil
}

// HandleTask adapts the scanner into an Asynq handler.
func (s *DeadlineScanner) HandleTask(ctx context.Context, t *asynq.Task) error {
	var payload DeadlineScanPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}
	tracker := s.metrics.Track("deadline_scan")
	overdue, err := s.Scan(ctx, payload.AsOf)
	if err != nil {
		return tracker.End(err)
	}
	s.logger.Info("deadline scan finished", slog.Int("overdue", overdue))
	return tracker.End(nil)
}
