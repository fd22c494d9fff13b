// Package gate guards the accounting host against payment documents that
// bypass the approval workflow, and makes host-side completion callbacks
// replay-safe.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/meridian-erp/meridian/internal/payment"
	"github.com/meridian-erp/meridian/internal/shared"
)

var (
	// ErrApprovalRequired is returned when the host attempts to post a
	// payment document the engine has not driven to posted.
	ErrApprovalRequired = errors.New("gate: payment must be posted through the approval workflow")
	// ErrUnknownPayment is returned when the host references a voucher the
	// engine does not know.
	ErrUnknownPayment = errors.New("gate: voucher is not registered with the approval engine")
)

type engineOriginKey struct{}

// WithEngineOrigin marks the context as originating from the approval
// engine. Host writes carrying this marker pass the gate.
func WithEngineOrigin(ctx context.Context) context.Context {
	return context.WithValue(ctx, engineOriginKey{}, true)
}

// FromEngine reports whether the context carries the engine origin marker.
func FromEngine(ctx context.Context) bool {
	v, _ := ctx.Value(engineOriginKey{}).(bool)
	return v
}

// Ledger is the host accounting surface the gate mediates.
type Ledger interface {
	RegisterPayment(ctx context.Context, p payment.Payment) error
	Post(ctx context.Context, companyID int64, voucherNumber string) error
	Cancel(ctx context.Context, companyID int64, voucherNumber string) error
}

// EngineLookup resolves host vouchers back to engine payments.
type EngineLookup interface {
	GetByVoucher(ctx context.Context, companyID int64, voucherNumber string) (*payment.Payment, error)
}

// IdempotencyPort deduplicates completion callbacks.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
}

// Gate mediates between the approval engine and the accounting host.
type Gate struct {
	ledger Ledger
	engine EngineLookup
	idem   IdempotencyPort
	logger *slog.Logger
}

// New creates a gate.
func New(ledger Ledger, engine EngineLookup, idem IdempotencyPort, logger *slog.Logger) *Gate {
	return &Gate{ledger: ledger, engine: engine, idem: idem, logger: logger}
}

// InterceptRegister admits a new payment document into the host in draft
// state. Registration is always permitted: only posting is gated.
func (g *Gate) InterceptRegister(ctx context.Context, p payment.Payment) error {
	return g.ledger.RegisterPayment(ctx, p)
}

// InterceptPost is called on every host attempt to post a payment document.
// Posts initiated by the engine pass. Anything else must already be posted
// in the engine, which only happens through the workflow.
func (g *Gate) InterceptPost(ctx context.Context, companyID int64, voucherNumber string) error {
	if FromEngine(ctx) {
		return g.ledger.Post(ctx, companyID, voucherNumber)
	}
	p, err := g.engine.GetByVoucher(ctx, companyID, voucherNumber)
	if err != nil {
		if errors.Is(err, payment.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrUnknownPayment, voucherNumber)
		}
		return err
	}
	if p.State != payment.StatePosted {
		return fmt.Errorf("%w: voucher %s is %s", ErrApprovalRequired, voucherNumber, p.State)
	}
	return g.ledger.Post(ctx, companyID, voucherNumber)
}

// OnHostPostComplete records a completion callback from the host. Callbacks
// may be delivered more than once; every delivery after the first is a no-op.
func (g *Gate) OnHostPostComplete(ctx context.Context, eventID string, companyID int64, voucherNumber string) error {
	if eventID == "" {
		return errors.New("gate: completion event id required")
	}
	key := fmt.Sprintf("host_post:%d:%s:%s", companyID, voucherNumber, eventID)
	if err := g.idem.CheckAndInsert(ctx, key, "gate"); err != nil {
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			g.logger.Debug("duplicate host post completion ignored",
				slog.String("voucher", voucherNumber), slog.String("event_id", eventID))
			return nil
		}
		return err
	}
	g.logger.Info("host post completed",
		slog.Int64("company_id", companyID), slog.String("voucher", voucherNumber))
	return nil
}

// Poster adapts the gate into the engine's host registration and posting
// ports. Engine posts carry the origin marker so they pass the gate's own
// checks.
type Poster struct {
	gate *Gate
}

// NewPoster creates the engine-side host adapter.
func NewPoster(g *Gate) *Poster {
	return &Poster{gate: g}
}

// Register mirrors a newly created payment into the host ledger.
func (p *Poster) Register(ctx context.Context, pay payment.Payment) error {
	return p.gate.InterceptRegister(WithEngineOrigin(ctx), pay)
}

// Post posts the payment in the host on behalf of the engine. The document
// is registered first, so a payment whose creation-time mirror was lost
// still posts; registration is a no-op when the document already exists.
func (p *Poster) Post(ctx context.Context, pay payment.Payment) error {
	ctx = WithEngineOrigin(ctx)
	if err := p.gate.InterceptRegister(ctx, pay); err != nil {
		return err
	}
	return p.gate.InterceptPost(ctx, pay.CompanyID, pay.VoucherNumber)
}
