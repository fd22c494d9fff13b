package jobs

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian/internal/payment"
	"github.com/meridian-erp/meridian/internal/policy"
	"github.com/meridian-erp/meridian/internal/shared"
)

type staticPayments struct {
	payments []payment.Payment
}

func (s staticPayments) ListInStates(_ context.Context, states []payment.State) ([]payment.Payment, error) {
	var out []payment.Payment
	for _, p := range s.payments {
		for _, st := range states {
			if p.State == st {
				out = append(out, p)
				break
			}
		}
	}
	return out, nil
}

type staticPolicies struct{ cfg policy.Config }

func (s staticPolicies) Active(context.Context, int64) (policy.Config, error) { return s.cfg, nil }

type gaugeSpy struct{ value int }

func (g *gaugeSpy) SetOverdue(n int) { g.value = n }

func TestDeadlineScanCountsOverduePayments(t *testing.T) {
	cfg := policy.Config{ReviewHours: 24, ApprovalHours: 48, AuthorizationHours: 72}
	asOf := time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)

	fresh := asOf.Add(-time.Hour)
	stale := asOf.Add(-30 * time.Hour)
	veryStale := asOf.Add(-80 * time.Hour)

	source := staticPayments{payments: []payment.Payment{
		{ID: 1, CompanyID: 1, State: payment.StateSubmitted, SubmittedAt: &fresh, Amount: decimal.NewFromInt(10)},
		{ID: 2, CompanyID: 1, State: payment.StateSubmitted, SubmittedAt: &stale, Amount: decimal.NewFromInt(10)},
		{ID: 3, CompanyID: 1, State: payment.StateUnderReview, ReviewedAt: &stale, Amount: decimal.NewFromInt(10)},
		{ID: 4, CompanyID: 1, State: payment.StateApproved, ApprovedAt: &veryStale, Amount: decimal.NewFromInt(10)},
		{ID: 5, CompanyID: 1, State: payment.StatePosted, Amount: decimal.NewFromInt(10)},
	}}

	gauge := &gaugeSpy{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	scanner := NewDeadlineScanner(source, staticPolicies{cfg: cfg}, gauge, nil, logger)

	overdue, err := scanner.Scan(context.Background(), asOf)
	require.NoError(t, err)
	// Payment 2 passed the 24h review deadline, payment 4 the 72h
	// authorization deadline. Payment 3 is inside its 48h window.
	require.Equal(t, 2, overdue)
	require.Equal(t, 2, gauge.value)
}

type auditSpy struct{ entries []shared.AuditLog }

func (a *auditSpy) Record(_ context.Context, log shared.AuditLog) error {
	a.entries = append(a.entries, log)
	return nil
}

func TestDeadlineScanWritesAuditTrail(t *testing.T) {
	cfg := policy.Config{ReviewHours: 24, ApprovalHours: 48, AuthorizationHours: 72}
	asOf := time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)
	stale := asOf.Add(-30 * time.Hour)

	source := staticPayments{payments: []payment.Payment{
		{ID: 2, CompanyID: 1, VoucherNumber: "PV/2026/00002", State: payment.StateSubmitted, SubmittedAt: &stale, Amount: decimal.NewFromInt(10)},
	}}

	audit := &auditSpy{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	scanner := NewDeadlineScanner(source, staticPolicies{cfg: cfg}, &gaugeSpy{}, nil, logger).WithAudit(audit)

	overdue, err := scanner.Scan(context.Background(), asOf)
	require.NoError(t, err)
	require.Equal(t, 1, overdue)
	require.Len(t, audit.entries, 1)
	require.Equal(t, "PAYMENT_OVERDUE", audit.entries[0].Action)
	require.Equal(t, "2", audit.entries[0].EntityID)
	require.Equal(t, "PV/2026/00002", audit.entries[0].Meta["voucher"])
}

func TestDeadlineScanTaskPayloadRoundTrip(t *testing.T) {
	asOf := time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)
	task, err := NewDeadlineScanTask(DeadlineScanPayload{AsOf: asOf})
	require.NoError(t, err)
	require.Equal(t, TaskTypeDeadlineScan, task.Type())

	gauge := &gaugeSpy{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	scanner := NewDeadlineScanner(staticPayments{}, staticPolicies{}, gauge, nil, logger)
	require.NoError(t, scanner.HandleTask(context.Background(), task))
}
