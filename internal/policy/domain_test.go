package policy

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		CompanyID:          1,
		OutboundThreshold:  decimal.NewFromInt(1000),
		InboundThreshold:   decimal.NewFromInt(1000),
		TransferThreshold:  decimal.NewFromInt(2000),
		Tier2Threshold:     decimal.NewFromInt(10000),
		Tier3Threshold:     decimal.NewFromInt(50000),
		UrgentMultiplier:   decimal.RequireFromString("0.5"),
		HighMultiplier:     decimal.RequireFromString("0.8"),
		MediumMultiplier:   decimal.NewFromInt(1),
		LowMultiplier:      decimal.RequireFromString("1.2"),
		ReviewHours:        24,
		ApprovalHours:      48,
		AuthorizationHours: 72,
		BulkCap:            25,
		TokenLifetimeDays:  90,
		MaxVerifications:   10,
	}
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidateRejectsThresholdOrdering(t *testing.T) {
	cfg := validConfig()
	cfg.Tier2Threshold = decimal.NewFromInt(500)
	require.ErrorIs(t, cfg.Validate(), ErrInvalidConfiguration)

	cfg = validConfig()
	cfg.Tier3Threshold = cfg.Tier2Threshold
	require.ErrorIs(t, cfg.Validate(), ErrInvalidConfiguration)
}

func TestValidateRejectsMultiplierRange(t *testing.T) {
	cfg := validConfig()
	cfg.UrgentMultiplier = decimal.RequireFromString("0.05")
	require.ErrorIs(t, cfg.Validate(), ErrInvalidConfiguration)

	cfg = validConfig()
	cfg.LowMultiplier = decimal.RequireFromString("2.5")
	require.ErrorIs(t, cfg.Validate(), ErrInvalidConfiguration)
}

func TestValidateRejectsNonPositiveTimeLimits(t *testing.T) {
	cfg := validConfig()
	cfg.ApprovalHours = 0
	require.ErrorIs(t, cfg.Validate(), ErrInvalidConfiguration)
}

func TestRequiredTierByAmount(t *testing.T) {
	cfg := validConfig()

	tier, err := cfg.RequiredTier("outbound", decimal.NewFromInt(500), "medium")
	require.NoError(t, err)
	require.Equal(t, Tier{Level: 1}, tier)

	tier, err = cfg.RequiredTier("outbound", decimal.NewFromInt(5000), "medium")
	require.NoError(t, err)
	require.Equal(t, Tier{Level: 2}, tier)

	tier, err = cfg.RequiredTier("outbound", decimal.NewFromInt(20000), "medium")
	require.NoError(t, err)
	require.Equal(t, Tier{Level: 3}, tier)

	tier, err = cfg.RequiredTier("outbound", decimal.NewFromInt(75000), "medium")
	require.NoError(t, err)
	require.Equal(t, Tier{Level: 3, Heightened: true}, tier)
}

func TestRequiredTierAppliesPriorityMultiplier(t *testing.T) {
	cfg := validConfig()

	// Urgent multiplier 0.5: 600 becomes effective 300, below base.
	tier, err := cfg.RequiredTier("outbound", decimal.NewFromInt(600), "urgent")
	require.NoError(t, err)
	require.Equal(t, 1, tier.Level)

	// 2100 urgent becomes effective 1050, at or above base.
	tier, err = cfg.RequiredTier("outbound", decimal.NewFromInt(2100), "urgent")
	require.NoError(t, err)
	require.Equal(t, 2, tier.Level)
}

func TestRequiredTierUnknownInputs(t *testing.T) {
	cfg := validConfig()

	_, err := cfg.RequiredTier("outbound", decimal.NewFromInt(500), "asap")
	require.ErrorIs(t, err, ErrUnknownPriority)

	_, err = cfg.RequiredTier("refund", decimal.NewFromInt(500), "medium")
	require.ErrorIs(t, err, ErrUnknownKind)
}

func TestStageDeadline(t *testing.T) {
	cfg := validConfig()
	entered := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	deadline, err := cfg.StageDeadline(StageReview, entered)
	require.NoError(t, err)
	require.Equal(t, entered.Add(24*time.Hour), deadline)

	deadline, err = cfg.StageDeadline(StageAuthorization, entered)
	require.NoError(t, err)
	require.Equal(t, entered.Add(72*time.Hour), deadline)

	_, err = cfg.StageDeadline("settlement", entered)
	require.Error(t, err)
}

func TestFlagLookup(t *testing.T) {
	cfg := validConfig()
	cfg.EnableQRVerification = true

	require.True(t, cfg.Flag("enable_qr_verification"))
	require.False(t, cfg.Flag("enable_bulk_approval"))
	require.False(t, cfg.Flag("unknown_flag"))
}
