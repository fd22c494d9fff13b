// Package policy stores and evaluates per-company approval configuration.
package policy

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrNoActiveConfig indicates no active configuration exists for the
	// company. The workflow engine refuses to act without one.
	ErrNoActiveConfig = errors.New("policy: no active configuration")
	// ErrInvalidConfiguration indicates a validation failure on save.
	ErrInvalidConfiguration = errors.New("policy: invalid configuration")
	// ErrUnknownPriority indicates a priority outside the known set.
	ErrUnknownPriority = errors.New("policy: unknown priority")
	// ErrUnknownKind indicates a payment kind outside the known set.
	ErrUnknownKind = errors.New("policy: unknown payment kind")
)

// Approval stages with configurable time limits.
const (
	StageReview        = "review"
	StageApproval      = "approval"
	StageAuthorization = "authorization"
)

// Config is the active approval policy for a company. The engine references
// it on every decision; it is never copied onto payments.
type Config struct {
	ID        int64
	CompanyID int64

	OutboundThreshold decimal.Decimal
	InboundThreshold  decimal.Decimal
	TransferThreshold decimal.Decimal
	Tier2Threshold    decimal.Decimal
	Tier3Threshold    decimal.Decimal

	UrgentMultiplier decimal.Decimal
	HighMultiplier   decimal.Decimal
	MediumMultiplier decimal.Decimal
	LowMultiplier    decimal.Decimal

	ReviewHours        int
	ApprovalHours      int
	AuthorizationHours int

	AutoSubmitOnCreate        bool
	RequireSignatureAllStages bool
	EnableQRVerification      bool
	EnableEmailNotifications  bool
	EnableBulkApproval        bool
	AllowSubmitterApprove     bool

	BulkCap           int
	QRSize            int
	QRErrorCorrection string
	TokenLifetimeDays int
	MaxVerifications  int

	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Tier is the approval routing decision for a payment.
type Tier struct {
	// Level is the number of distinct human approvals required (1..3).
	Level int
	// Heightened marks amounts at or above the tier-3 threshold, which
	// trigger notification to all authorizers.
	Heightened bool
}

var (
	multiplierFloor   = decimal.RequireFromString("0.1")
	multiplierCeiling = decimal.RequireFromString("2.0")
)

// Validate checks the invariants enforced on save.
func (c Config) Validate() error {
	for _, base := range []struct {
		name  string
		value decimal.Decimal
	}{
		{"outbound_threshold", c.OutboundThreshold},
		{"inbound_threshold", c.InboundThreshold},
		{"transfer_threshold", c.TransferThreshold},
	} {
		if base.value.IsNegative() {
			return fmt.Errorf("%w: %s must be non-negative", ErrInvalidConfiguration, base.name)
		}
		if base.value.GreaterThanOrEqual(c.Tier2Threshold) {
			return fmt.Errorf("%w: %s must be below tier_2_threshold", ErrInvalidConfiguration, base.name)
		}
	}
	if c.Tier2Threshold.GreaterThanOrEqual(c.Tier3Threshold) {
		return fmt.Errorf("%w: tier_2_threshold must be below tier_3_threshold", ErrInvalidConfiguration)
	}
	for _, m := range []struct {
		name  string
		value decimal.Decimal
	}{
		{"urgent_multiplier", c.UrgentMultiplier},
		{"high_multiplier", c.HighMultiplier},
		{"medium_multiplier", c.MediumMultiplier},
		{"low_multiplier", c.LowMultiplier},
	} {
		if m.value.LessThan(multiplierFloor) || m.value.GreaterThan(multiplierCeiling) {
			return fmt.Errorf("%w: %s must be within [0.1, 2.0]", ErrInvalidConfiguration, m.name)
		}
	}
	if c.ReviewHours <= 0 || c.ApprovalHours <= 0 || c.AuthorizationHours <= 0 {
		return fmt.Errorf("%w: time limits must be positive", ErrInvalidConfiguration)
	}
	if c.BulkCap <= 0 {
		return fmt.Errorf("%w: bulk cap must be positive", ErrInvalidConfiguration)
	}
	if c.TokenLifetimeDays <= 0 {
		return fmt.Errorf("%w: token lifetime must be positive", ErrInvalidConfiguration)
	}
	if c.MaxVerifications <= 0 {
		return fmt.Errorf("%w: max verifications must be positive", ErrInvalidConfiguration)
	}
	return nil
}

// Multiplier returns the priority multiplier.
func (c Config) Multiplier(priority string) (decimal.Decimal, error) {
	switch priority {
	case "urgent":
		return c.UrgentMultiplier, nil
	case "high":
		return c.HighMultiplier, nil
	case "medium":
		return c.MediumMultiplier, nil
	case "low":
		return c.LowMultiplier, nil
	default:
		return decimal.Decimal{}, fmt.Errorf("%w: %s", ErrUnknownPriority, priority)
	}
}

// BaseThreshold returns the per-kind tier-1 approval threshold.
func (c Config) BaseThreshold(kind string) (decimal.Decimal, error) {
	switch kind {
	case "outbound":
		return c.OutboundThreshold, nil
	case "inbound":
		return c.InboundThreshold, nil
	case "internal_transfer":
		return c.TransferThreshold, nil
	default:
		return decimal.Decimal{}, fmt.Errorf("%w: %s", ErrUnknownKind, kind)
	}
}

// RequiredTier derives the approval tier for an amount. The effective amount
// is the raw amount scaled by the priority multiplier, then compared against
// the thresholds.
func (c Config) RequiredTier(kind string, amount decimal.Decimal, priority string) (Tier, error) {
	multiplier, err := c.Multiplier(priority)
	if err != nil {
		return Tier{}, err
	}
	base, err := c.BaseThreshold(kind)
	if err != nil {
		return Tier{}, err
	}
	effective := amount.Mul(multiplier)
	switch {
	case effective.LessThan(base):
		return Tier{Level: 1}, nil
	case effective.LessThan(c.Tier2Threshold):
		return Tier{Level: 2}, nil
	default:
		return Tier{Level: 3, Heightened: effective.GreaterThanOrEqual(c.Tier3Threshold)}, nil
	}
}

// StageDeadline computes when a stage times out, given when the payment
// entered the stage. Expiry is informational; the engine never auto-advances.
func (c Config) StageDeadline(stage string, enteredAt time.Time) (time.Time, error) {
	var hours int
	switch stage {
	case StageReview:
		hours = c.ReviewHours
	case StageApproval:
		hours = c.ApprovalHours
	case StageAuthorization:
		hours = c.AuthorizationHours
	default:
		return time.Time{}, fmt.Errorf("policy: unknown stage %s", stage)
	}
	return enteredAt.Add(time.Duration(hours) * time.Hour), nil
}

// Flag answers a named feature toggle.
func (c Config) Flag(name string) bool {
	switch name {
	case "auto_submit_on_create":
		return c.AutoSubmitOnCreate
	case "require_signature_all_stages":
		return c.RequireSignatureAllStages
	case "enable_qr_verification":
		return c.EnableQRVerification
	case "enable_email_notifications":
		return c.EnableEmailNotifications
	case "enable_bulk_approval":
		return c.EnableBulkApproval
	case "allow_submitter_approve":
		return c.AllowSubmitterApprove
	default:
		return false
	}
}
