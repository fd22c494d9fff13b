// Package verify serves public QR verification of approved payments.
package verify

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian/internal/payment"
	"github.com/meridian-erp/meridian/internal/policy"
)

var (
	// ErrTokenNotFound is returned for unknown tokens. Deliberately
	// indistinguishable from revoked ones.
	ErrTokenNotFound = errors.New("verify: token not found")
	// ErrTokenExpired is returned once the configured lifetime has passed.
	ErrTokenExpired = errors.New("verify: token expired")
	// ErrQuotaExceeded is returned once the scan allowance is used up.
	ErrQuotaExceeded = errors.New("verify: scan quota exceeded")
)

// PaymentLookup is the slice of payment persistence verification needs.
type PaymentLookup interface {
	GetByToken(ctx context.Context, token string) (*payment.Payment, error)
	RecordScan(ctx context.Context, token string, at time.Time, maxScans int) (*payment.Payment, error)
}

// PolicyPort provides the active configuration for a company.
type PolicyPort interface {
	Active(ctx context.Context, companyID int64) (policy.Config, error)
}

// MetricsPort counts verification attempts by result.
type MetricsPort interface {
	ObserveScan(result string)
}

// Result is the public snapshot returned for a valid token. It exposes only
// what a printed voucher already shows.
type Result struct {
	VoucherNumber  string          `json:"voucher_number"`
	Kind           payment.Kind    `json:"kind"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	State          payment.State   `json:"approval_state"`
	ApprovedAt     *time.Time      `json:"approved_at,omitempty"`
	PostedAt       *time.Time      `json:"posting_time,omitempty"`
	ScanCount      int             `json:"scan_count"`
	ScansRemaining int             `json:"scans_remaining"`
	VerifiedAt     time.Time       `json:"verified_at"`
}

// Service resolves verification tokens and enforces lifetime and quota.
type Service struct {
	payments PaymentLookup
	policies PolicyPort
	metrics  MetricsPort
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures optional collaborators.
type Option func(*Service)

// WithMetrics wires scan counters.
func WithMetrics(m MetricsPort) Option { return func(s *Service) { s.metrics = m } }

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

// NewService creates a verification service.
func NewService(payments PaymentLookup, policies PolicyPort, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{payments: payments, policies: policies, logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Verify resolves a token and records the scan. Lifetime is checked before
// quota, so an expired token reports expiry even when its allowance is also
// used up. A failed lookup never consumes quota.
func (s *Service) Verify(ctx context.Context, token string) (*Result, error) {
	res, err := s.verify(ctx, token)
	s.observe(err)
	return res, err
}

func (s *Service) verify(ctx context.Context, token string) (*Result, error) {
	if token == "" {
		return nil, ErrTokenNotFound
	}
	p, err := s.payments.GetByToken(ctx, token)
	if err != nil {
		if errors.Is(err, payment.ErrNotFound) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}
	cfg, err := s.policies.Active(ctx, p.CompanyID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if now.After(s.expiry(p, cfg)) {
		return nil, ErrTokenExpired
	}
	if p.QRScanCount >= cfg.MaxVerifications {
		return nil, ErrQuotaExceeded
	}

	scanned, err := s.payments.RecordScan(ctx, token, now, cfg.MaxVerifications)
	if err != nil {
		if errors.Is(err, payment.ErrNotFound) {
			// Lost the race for the final scan.
			return nil, ErrQuotaExceeded
		}
		return nil, err
	}

	return &Result{
		VoucherNumber:  scanned.VoucherNumber,
		Kind:           scanned.Kind,
		Amount:         scanned.Amount,
		Currency:       scanned.Currency,
		State:          scanned.State,
		ApprovedAt:     scanned.ApprovedAt,
		PostedAt:       scanned.PostedAt,
		ScanCount:      scanned.QRScanCount,
		ScansRemaining: cfg.MaxVerifications - scanned.QRScanCount,
		VerifiedAt:     now,
	}, nil
}

// expiry computes when the token stops resolving. Tokens are issued at
// approval time.
func (s *Service) expiry(p *payment.Payment, cfg policy.Config) time.Time {
	issued := p.CreatedAt
	if p.ApprovedAt != nil {
		issued = *p.ApprovedAt
	}
	return issued.Add(time.Duration(cfg.TokenLifetimeDays) * 24 * time.Hour)
}

func (s *Service) observe(err error) {
	if s.metrics == nil {
		return
	}
	switch {
	case err == nil:
		s.metrics.ObserveScan("ok")
	case errors.Is(err, ErrTokenNotFound):
		s.metrics.ObserveScan("not_found")
	case errors.Is(err, ErrTokenExpired):
		s.metrics.ObserveScan("expired")
	case errors.Is(err, ErrQuotaExceeded):
		s.metrics.ObserveScan("quota_exceeded")
	default:
		s.metrics.ObserveScan("error")
	}
}
