package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/meridian-erp/meridian/internal/payment"
	"github.com/meridian-erp/meridian/internal/rbac"
	"github.com/meridian-erp/meridian/internal/shared"
)

// PaymentService is the slice of the workflow engine the CLI drives.
type PaymentService interface {
	Get(ctx context.Context, id int64) (*payment.Payment, error)
	History(ctx context.Context, id int64) ([]payment.HistoryEntry, error)
	Apply(ctx context.Context, id int64, req payment.ActionRequest, actor rbac.Actor) (*payment.Payment, error)
}

// PaymentsCLI offers operational helpers for individual payments.
type PaymentsCLI struct {
	service PaymentService
}

// NewPaymentsCLI constructs the helper around a wired payment service.
func NewPaymentsCLI(service PaymentService) *PaymentsCLI {
	return &PaymentsCLI{service: service}
}

// PaymentShowOptions defines available flags for the payments show command.
type PaymentShowOptions struct {
	ID         int64
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// ShowCommand prints a payment and its approval trail.
func (c *PaymentsCLI) ShowCommand(ctx context.Context, opts PaymentShowOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.ID <= 0 {
		_, _ = fmt.Fprintln(opts.Stderr, "payments show: --id is required and must be positive")
		return 1
	}

	p, err := c.service.Get(ctx, opts.ID)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "payments show: %v\n", err)
		return 1
	}
	history, err := c.service.History(ctx, opts.ID)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "payments show: history: %v\n", err)
		return 1
	}

	if opts.JSONOutput {
		out := struct {
			Payment *payment.Payment       `json:"payment"`
			History []payment.HistoryEntry `json:"history"`
		}{Payment: p, History: history}
		if err := json.NewEncoder(opts.Stdout).Encode(out); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "payments show: encode json: %v\n", err)
			return 1
		}
		return 0
	}

	_, _ = fmt.Fprintf(opts.Stdout, "%s  %s %s  %s  state=%s\n",
		p.VoucherNumber, p.Amount.StringFixed(2), p.Currency, p.Kind, p.State)
	for _, entry := range history {
		line := fmt.Sprintf(" - %s  %s -> %s  actor=%d", entry.At.Format(time.RFC3339), entry.FromState, entry.ToState, entry.ActorID)
		if entry.Comment != "" {
			line += fmt.Sprintf("  %q", entry.Comment)
		}
		_, _ = fmt.Fprintln(opts.Stdout, line)
	}
	return 0
}

// PaymentActionOptions defines available flags for the payments action command.
type PaymentActionOptions struct {
	ID      int64
	Action  string
	Comment string
	ActorID int64
	Groups  []string
	Stdout  io.Writer
	Stderr  io.Writer
}

// ActionCommand applies a workflow action on behalf of the given actor. The
// engine enforces the same capability and segregation rules as the HTTP API.
func (c *PaymentsCLI) ActionCommand(ctx context.Context, opts PaymentActionOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.ID <= 0 || opts.ActorID <= 0 {
		_, _ = fmt.Fprintln(opts.Stderr, "payments action: --id and --actor are required and must be positive")
		return 1
	}
	action := payment.Action(strings.TrimSpace(opts.Action))
	if !action.IsValid() {
		_, _ = fmt.Fprintf(opts.Stderr, "payments action: unknown action %q\n", opts.Action)
		return 1
	}
	for _, g := range opts.Groups {
		if !shared.IsKnownGroup(g) {
			_, _ = fmt.Fprintf(opts.Stderr, "payments action: unknown group %q\n", g)
			return 1
		}
	}

	actor := rbac.Actor{ID: opts.ActorID, Groups: opts.Groups}
	p, err := c.service.Apply(ctx, opts.ID, payment.ActionRequest{Action: action, Comment: opts.Comment}, actor)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "payments action: %v\n", err)
		if isWorkflowRefusal(err) {
			return 10
		}
		return 1
	}
	_, _ = fmt.Fprintf(opts.Stdout, "%s now %s\n", p.VoucherNumber, p.State)
	return 0
}

func isWorkflowRefusal(err error) bool {
	return errors.Is(err, payment.ErrInvalidTransition) ||
		errors.Is(err, payment.ErrStateConflict) ||
		errors.Is(err, payment.ErrUnauthorized) ||
		errors.Is(err, payment.ErrSegregationOfDuties)
}

// SequenceAllocator hands out the next voucher number for a kind.
type SequenceAllocator interface {
	Allocate(ctx context.Context, companyID int64, kind string, period int) (string, error)
}

// SequencesCLI offers helpers for voucher sequences.
type SequencesCLI struct {
	sequences SequenceAllocator
}

// NewSequencesCLI constructs the helper around the numbering service.
func NewSequencesCLI(sequences SequenceAllocator) *SequencesCLI {
	return &SequencesCLI{sequences: sequences}
}

// SequenceNextOptions defines available flags for the sequences next command.
type SequenceNextOptions struct {
	CompanyID int64
	Kind      string
	Year      int
	Stdout    io.Writer
	Stderr    io.Writer
}

// NextCommand allocates and prints the next voucher number. Allocation is
// permanent: a number handed out here is consumed like any other.
func (c *SequencesCLI) NextCommand(ctx context.Context, opts SequenceNextOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.CompanyID <= 0 {
		_, _ = fmt.Fprintln(opts.Stderr, "sequences next: --company is required and must be positive")
		return 1
	}
	year := opts.Year
	if year == 0 {
		year = time.Now().Year()
	}

	number, err := c.sequences.Allocate(ctx, opts.CompanyID, strings.TrimSpace(opts.Kind), year)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "sequences next: %v\n", err)
		return 1
	}
	_, _ = fmt.Fprintln(opts.Stdout, number)
	return 0
}
