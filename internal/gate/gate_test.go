package gate

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian/internal/payment"
	"github.com/meridian-erp/meridian/internal/shared"
)

type memoryLedger struct {
	mu     sync.Mutex
	states map[string]string
	posts  int
}

func newMemoryLedger() *memoryLedger {
	return &memoryLedger{states: make(map[string]string)}
}

func (m *memoryLedger) RegisterPayment(_ context.Context, p payment.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.states[p.VoucherNumber]; !ok {
		m.states[p.VoucherNumber] = "draft"
	}
	return nil
}

// Post mirrors the strictness of the real ledger: only a registered draft
// document can be posted, and replaying a completed posting is harmless.
func (m *memoryLedger) Post(_ context.Context, _ int64, voucher string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.states[voucher]
	if !ok {
		return fmt.Errorf("%w: document %s not registered", ErrHostRejected, voucher)
	}
	if state == "posted" {
		return nil
	}
	if state != "draft" {
		return fmt.Errorf("%w: document %s is %s", ErrHostRejected, voucher, state)
	}
	m.posts++
	m.states[voucher] = "posted"
	return nil
}

func (m *memoryLedger) Cancel(_ context.Context, _ int64, voucher string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[voucher] = "cancelled"
	return nil
}

type memoryEngine struct {
	payments map[string]*payment.Payment
}

func (m *memoryEngine) GetByVoucher(_ context.Context, _ int64, voucher string) (*payment.Payment, error) {
	p, ok := m.payments[voucher]
	if !ok {
		return nil, payment.ErrNotFound
	}
	return p, nil
}

type memoryIdem struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (m *memoryIdem) CheckAndInsert(_ context.Context, key, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen == nil {
		m.seen = make(map[string]bool)
	}
	if m.seen[key] {
		return shared.ErrIdempotencyConflict
	}
	m.seen[key] = true
	return nil
}

func newTestGate(engine *memoryEngine) (*Gate, *memoryLedger, *memoryIdem) {
	ledger := newMemoryLedger()
	idem := &memoryIdem{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(ledger, engine, idem, logger), ledger, idem
}

func TestInterceptPostRejectsUnapprovedHostPosting(t *testing.T) {
	engine := &memoryEngine{payments: map[string]*payment.Payment{
		"PV/2026/00001": {VoucherNumber: "PV/2026/00001", State: payment.StateUnderReview},
	}}
	g, ledger, _ := newTestGate(engine)

	err := g.InterceptPost(context.Background(), 1, "PV/2026/00001")
	require.ErrorIs(t, err, ErrApprovalRequired)
	require.Zero(t, ledger.posts)
}

func TestInterceptPostRejectsUnknownVoucher(t *testing.T) {
	g, _, _ := newTestGate(&memoryEngine{payments: map[string]*payment.Payment{}})
	err := g.InterceptPost(context.Background(), 1, "PV/2026/09999")
	require.ErrorIs(t, err, ErrUnknownPayment)
}

func TestInterceptPostAllowsEngineOrigin(t *testing.T) {
	engine := &memoryEngine{payments: map[string]*payment.Payment{}}
	g, ledger, _ := newTestGate(engine)

	doc := payment.Payment{CompanyID: 1, VoucherNumber: "PV/2026/00002"}
	require.NoError(t, g.InterceptRegister(context.Background(), doc))

	// The engine posts before its own record reads posted, so the marker,
	// not the engine state, is what admits the write.
	err := g.InterceptPost(WithEngineOrigin(context.Background()), 1, "PV/2026/00002")
	require.NoError(t, err)
	require.Equal(t, 1, ledger.posts)
}

func TestPosterCarriesEngineOrigin(t *testing.T) {
	engine := &memoryEngine{payments: map[string]*payment.Payment{}}
	g, ledger, _ := newTestGate(engine)

	poster := NewPoster(g)
	doc := payment.Payment{CompanyID: 1, VoucherNumber: "PV/2026/00003"}
	require.NoError(t, poster.Register(context.Background(), doc))
	require.NoError(t, poster.Post(context.Background(), doc))
	require.Equal(t, 1, ledger.posts)
}

func TestPosterRegistersDocumentOnDemand(t *testing.T) {
	engine := &memoryEngine{payments: map[string]*payment.Payment{}}
	g, ledger, _ := newTestGate(engine)

	// No creation-time registration happened: the poster must still be able
	// to drive the document to posted, not fail on a missing host row.
	poster := NewPoster(g)
	err := poster.Post(context.Background(), payment.Payment{CompanyID: 1, VoucherNumber: "PV/2026/00006"})
	require.NoError(t, err)
	require.Equal(t, 1, ledger.posts)
	require.Equal(t, "posted", ledger.states["PV/2026/00006"])
}

func TestInterceptPostAllowsEnginePostedVoucher(t *testing.T) {
	engine := &memoryEngine{payments: map[string]*payment.Payment{
		"PV/2026/00004": {VoucherNumber: "PV/2026/00004", State: payment.StatePosted},
	}}
	g, ledger, _ := newTestGate(engine)

	doc := payment.Payment{CompanyID: 1, VoucherNumber: "PV/2026/00004"}
	require.NoError(t, g.InterceptRegister(context.Background(), doc))

	err := g.InterceptPost(context.Background(), 1, "PV/2026/00004")
	require.NoError(t, err)
	require.Equal(t, 1, ledger.posts)
}

func TestOnHostPostCompleteIsIdempotent(t *testing.T) {
	g, _, _ := newTestGate(&memoryEngine{})

	require.NoError(t, g.OnHostPostComplete(context.Background(), "evt-1", 1, "PV/2026/00005"))
	// Redelivery of the same event is absorbed.
	require.NoError(t, g.OnHostPostComplete(context.Background(), "evt-1", 1, "PV/2026/00005"))
	// A different event for the same voucher is its own delivery.
	require.NoError(t, g.OnHostPostComplete(context.Background(), "evt-2", 1, "PV/2026/00005"))

	require.Error(t, g.OnHostPostComplete(context.Background(), "", 1, "PV/2026/00005"))
}
