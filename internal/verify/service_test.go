package verify

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian/internal/payment"
	"github.com/meridian-erp/meridian/internal/policy"
)

type memoryLookup struct {
	mu       sync.Mutex
	payments map[string]*payment.Payment
}

func newMemoryLookup() *memoryLookup {
	return &memoryLookup{payments: make(map[string]*payment.Payment)}
}

func (m *memoryLookup) put(p payment.Payment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.payments[*p.VerificationToken] = &p
}

func (m *memoryLookup) GetByToken(_ context.Context, token string) (*payment.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[token]
	if !ok {
		return nil, payment.ErrNotFound
	}
	clone := *p
	return &clone, nil
}

func (m *memoryLookup) RecordScan(_ context.Context, token string, at time.Time, maxScans int) (*payment.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[token]
	if !ok || p.QRScanCount >= maxScans {
		return nil, payment.ErrNotFound
	}
	p.QRScanCount++
	scanAt := at
	p.LastScanAt = &scanAt
	clone := *p
	return &clone, nil
}

type fixedPolicies struct{ cfg policy.Config }

func (f fixedPolicies) Active(context.Context, int64) (policy.Config, error) { return f.cfg, nil }

func testPayment(token string, approvedAt time.Time) payment.Payment {
	return payment.Payment{
		ID:                1,
		VoucherNumber:     "PV/2026/00042",
		CompanyID:         1,
		Kind:              payment.KindOutbound,
		Amount:            decimal.RequireFromString("1250.50"),
		Currency:          "USD",
		State:             payment.StatePosted,
		ApprovedAt:        &approvedAt,
		VerificationToken: &token,
		CreatedAt:         approvedAt.Add(-time.Hour),
	}
}

func newService(lookup *memoryLookup, cfg policy.Config, now time.Time) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(lookup, fixedPolicies{cfg: cfg}, logger, WithClock(func() time.Time { return now }))
}

func baseConfig() policy.Config {
	return policy.Config{TokenLifetimeDays: 90, MaxVerifications: 3}
}

func TestVerifyReturnsSnapshotAndCountsScan(t *testing.T) {
	approved := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	lookup := newMemoryLookup()
	lookup.put(testPayment("tok-1", approved))
	svc := newService(lookup, baseConfig(), approved.Add(24*time.Hour))

	res, err := svc.Verify(context.Background(), "tok-1")
	require.NoError(t, err)
	require.Equal(t, "PV/2026/00042", res.VoucherNumber)
	require.Equal(t, payment.StatePosted, res.State)
	require.True(t, res.Amount.Equal(decimal.RequireFromString("1250.50")))
	require.Equal(t, 1, res.ScanCount)
	require.Equal(t, 2, res.ScansRemaining)

	res, err = svc.Verify(context.Background(), "tok-1")
	require.NoError(t, err)
	require.Equal(t, 2, res.ScanCount)
}

func TestVerifyUnknownToken(t *testing.T) {
	svc := newService(newMemoryLookup(), baseConfig(), time.Now())
	_, err := svc.Verify(context.Background(), "missing")
	require.ErrorIs(t, err, ErrTokenNotFound)

	_, err = svc.Verify(context.Background(), "")
	require.ErrorIs(t, err, ErrTokenNotFound)
}

func TestVerifyExpiredTokenBeforeQuota(t *testing.T) {
	approved := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	lookup := newMemoryLookup()
	p := testPayment("tok-old", approved)
	p.QRScanCount = 3 // quota also exhausted
	lookup.put(p)
	svc := newService(lookup, baseConfig(), approved.Add(91*24*time.Hour))

	// Lifetime wins over quota.
	_, err := svc.Verify(context.Background(), "tok-old")
	require.ErrorIs(t, err, ErrTokenExpired)
}

func TestVerifyQuotaExhaustion(t *testing.T) {
	approved := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	lookup := newMemoryLookup()
	lookup.put(testPayment("tok-q", approved))
	svc := newService(lookup, baseConfig(), approved.Add(time.Hour))

	for i := 0; i < 3; i++ {
		_, err := svc.Verify(context.Background(), "tok-q")
		require.NoError(t, err)
	}
	_, err := svc.Verify(context.Background(), "tok-q")
	require.ErrorIs(t, err, ErrQuotaExceeded)
}

func TestConcurrentScansNeverExceedQuota(t *testing.T) {
	approved := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	lookup := newMemoryLookup()
	lookup.put(testPayment("tok-c", approved))
	svc := newService(lookup, baseConfig(), approved.Add(time.Hour))

	const n = 10
	results := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, results[i] = svc.Verify(context.Background(), "tok-c")
		}()
	}
	wg.Wait()

	succeeded := 0
	for _, err := range results {
		if err == nil {
			succeeded++
		} else {
			require.ErrorIs(t, err, ErrQuotaExceeded)
		}
	}
	require.Equal(t, 3, succeeded)

	p, err := lookup.GetByToken(context.Background(), "tok-c")
	require.NoError(t, err)
	require.Equal(t, 3, p.QRScanCount)
}
