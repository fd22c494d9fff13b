package perf

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian/internal/payment"
	"github.com/meridian-erp/meridian/internal/policy"
	"github.com/meridian-erp/meridian/internal/verify"
)

// The verification endpoint sits on printed vouchers, so scans arrive in
// bursts when documents circulate. The budget keeps a single scan cheap
// enough that a burst stays interactive.
func TestVerificationScanLatencyBudget(t *testing.T) {
	lookup := newBenchLookup(200)
	svc := verify.NewService(lookup, benchPolicies{}, slog.Default())

	const samples = 200
	durations := make([]time.Duration, 0, samples)
	for i := 0; i < samples; i++ {
		token := fmt.Sprintf("bench-token-%03d", i%200)
		start := time.Now()
		if _, err := svc.Verify(context.Background(), token); err != nil {
			t.Fatalf("verify %s: %v", token, err)
		}
		durations = append(durations, time.Since(start))
	}

	p95 := percentile95(durations)
	if p95 > 50*time.Millisecond {
		t.Fatalf("verification scan latency regression: p95=%s budget=50ms", p95)
	}
}

func percentile95(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	index := int(float64(len(sorted)-1) * 0.95)
	return sorted[index]
}

type benchLookup struct {
	mu       sync.Mutex
	payments map[string]payment.Payment
}

func newBenchLookup(n int) *benchLookup {
	approved := time.Now().Add(-time.Hour)
	payments := make(map[string]payment.Payment, n)
	for i := 0; i < n; i++ {
		token := fmt.Sprintf("bench-token-%03d", i)
		tok := token
		payments[token] = payment.Payment{
			ID:                int64(i + 1),
			VoucherNumber:     fmt.Sprintf("PV/2026/%05d", i+1),
			CompanyID:         1,
			Kind:              payment.KindOutbound,
			Amount:            decimal.RequireFromString("1250.50"),
			Currency:          "USD",
			State:             payment.StatePosted,
			ApprovedAt:        &approved,
			VerificationToken: &tok,
		}
	}
	return &benchLookup{payments: payments}
}

func (l *benchLookup) GetByToken(_ context.Context, token string) (*payment.Payment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.payments[token]
	if !ok {
		return nil, payment.ErrNotFound
	}
	copied := p
	return &copied, nil
}

func (l *benchLookup) RecordScan(_ context.Context, token string, at time.Time, maxScans int) (*payment.Payment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	p, ok := l.payments[token]
	if !ok || p.QRScanCount >= maxScans {
		return nil, payment.ErrNotFound
	}
	p.QRScanCount++
	scanAt := at
	p.LastScanAt = &scanAt
	l.payments[token] = p
	copied := p
	return &copied, nil
}

type benchPolicies struct{}

func (benchPolicies) Active(_ context.Context, _ int64) (policy.Config, error) {
	return policy.Config{
		EnableQRVerification: true,
		TokenLifetimeDays:    90,
		MaxVerifications:     1000,
	}, nil
}
