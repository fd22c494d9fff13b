package cli

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian/internal/payment"
	"github.com/meridian-erp/meridian/internal/rbac"
	"github.com/meridian-erp/meridian/internal/shared"
)

type stubPaymentService struct {
	payment *payment.Payment
	history []payment.HistoryEntry
	applied *payment.ActionRequest
	actor   rbac.Actor
	err     error
}

func (s *stubPaymentService) Get(_ context.Context, id int64) (*payment.Payment, error) {
	if s.payment == nil || s.payment.ID != id {
		return nil, shared.ErrNotFound
	}
	return s.payment, nil
}

func (s *stubPaymentService) History(_ context.Context, _ int64) ([]payment.HistoryEntry, error) {
	return s.history, nil
}

func (s *stubPaymentService) Apply(_ context.Context, _ int64, req payment.ActionRequest, actor rbac.Actor) (*payment.Payment, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.applied = &req
	s.actor = actor
	return s.payment, nil
}

func samplePayment() *payment.Payment {
	return &payment.Payment{
		ID:            42,
		VoucherNumber: "PV/2026/00042",
		CompanyID:     1,
		Kind:          payment.KindOutbound,
		Amount:        decimal.RequireFromString("1250.50"),
		Currency:      "EUR",
		Priority:      payment.PriorityMedium,
		State:         payment.StateSubmitted,
	}
}

func TestShowCommandPrintsPaymentAndTrail(t *testing.T) {
	service := &stubPaymentService{
		payment: samplePayment(),
		history: []payment.HistoryEntry{
			{FromState: payment.StateDraft, ToState: payment.StateSubmitted, ActorID: 7, Comment: "ready", At: time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)},
		},
	}
	cli := NewPaymentsCLI(service)

	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	exitCode := cli.ShowCommand(context.Background(), PaymentShowOptions{ID: 42, Stdout: stdout, Stderr: stderr})

	require.Equal(t, 0, exitCode)
	require.Contains(t, stdout.String(), "PV/2026/00042")
	require.Contains(t, stdout.String(), "state=submitted")
	require.Contains(t, stdout.String(), "draft -> submitted")
	require.Empty(t, stderr.String())
}

func TestShowCommandUnknownPayment(t *testing.T) {
	cli := NewPaymentsCLI(&stubPaymentService{})

	stderr := new(bytes.Buffer)
	exitCode := cli.ShowCommand(context.Background(), PaymentShowOptions{ID: 99, Stdout: new(bytes.Buffer), Stderr: stderr})

	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "payments show")
}

func TestActionCommandAppliesWithActor(t *testing.T) {
	service := &stubPaymentService{payment: samplePayment()}
	cli := NewPaymentsCLI(service)

	stdout := new(bytes.Buffer)
	exitCode := cli.ActionCommand(context.Background(), PaymentActionOptions{
		ID:      42,
		Action:  "start_review",
		Comment: "looks fine",
		ActorID: 9,
		Groups:  []string{shared.GroupPaymentReviewer},
		Stdout:  stdout,
		Stderr:  new(bytes.Buffer),
	})

	require.Equal(t, 0, exitCode)
	require.NotNil(t, service.applied)
	require.Equal(t, payment.ActionStartReview, service.applied.Action)
	require.Equal(t, "looks fine", service.applied.Comment)
	require.Equal(t, int64(9), service.actor.ID)
	require.Contains(t, stdout.String(), "PV/2026/00042 now")
}

func TestActionCommandRefusalExitCode(t *testing.T) {
	service := &stubPaymentService{err: payment.ErrStateConflict}
	cli := NewPaymentsCLI(service)

	stderr := new(bytes.Buffer)
	exitCode := cli.ActionCommand(context.Background(), PaymentActionOptions{
		ID:      42,
		Action:  "approve",
		ActorID: 9,
		Groups:  []string{shared.GroupPaymentApprover},
		Stdout:  new(bytes.Buffer),
		Stderr:  stderr,
	})

	require.Equal(t, 10, exitCode)
	require.Contains(t, stderr.String(), "state changed concurrently")
}

func TestActionCommandUnknownAction(t *testing.T) {
	cli := NewPaymentsCLI(&stubPaymentService{payment: samplePayment()})

	stderr := new(bytes.Buffer)
	exitCode := cli.ActionCommand(context.Background(), PaymentActionOptions{
		ID:      42,
		Action:  "teleport",
		ActorID: 9,
		Stdout:  new(bytes.Buffer),
		Stderr:  stderr,
	})

	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "unknown action")
}

type stubAllocator struct {
	number string
	kind   string
}

func (s *stubAllocator) Allocate(_ context.Context, _ int64, kind string, _ int) (string, error) {
	s.kind = kind
	return s.number, nil
}

func TestSequenceNextCommand(t *testing.T) {
	allocator := &stubAllocator{number: "PV/2026/00117"}
	cli := NewSequencesCLI(allocator)

	stdout := new(bytes.Buffer)
	exitCode := cli.NextCommand(context.Background(), SequenceNextOptions{
		CompanyID: 1,
		Kind:      "outbound",
		Year:      2026,
		Stdout:    stdout,
		Stderr:    new(bytes.Buffer),
	})

	require.Equal(t, 0, exitCode)
	require.Equal(t, "PV/2026/00117\n", stdout.String())
	require.Equal(t, "outbound", allocator.kind)
}
