package policy

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for approval configs.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const configColumns = `id, company_id,
outbound_threshold, inbound_threshold, transfer_threshold,
tier2_threshold, tier3_threshold,
urgent_multiplier, high_multiplier, medium_multiplier, low_multiplier,
review_hours, approval_hours, authorization_hours,
auto_submit_on_create, require_signature_all_stages, enable_qr_verification,
enable_email_notifications, enable_bulk_approval, allow_submitter_approve,
bulk_cap, qr_size, qr_error_correction, token_lifetime_days, max_verifications,
active, created_at, updated_at`

func scanConfig(row pgx.Row) (Config, error) {
	var c Config
	err := row.Scan(
		&c.ID, &c.CompanyID,
		&c.OutboundThreshold, &c.InboundThreshold, &c.TransferThreshold,
		&c.Tier2Threshold, &c.Tier3Threshold,
		&c.UrgentMultiplier, &c.HighMultiplier, &c.MediumMultiplier, &c.LowMultiplier,
		&c.ReviewHours, &c.ApprovalHours, &c.AuthorizationHours,
		&c.AutoSubmitOnCreate, &c.RequireSignatureAllStages, &c.EnableQRVerification,
		&c.EnableEmailNotifications, &c.EnableBulkApproval, &c.AllowSubmitterApprove,
		&c.BulkCap, &c.QRSize, &c.QRErrorCorrection, &c.TokenLifetimeDays, &c.MaxVerifications,
		&c.Active, &c.CreatedAt, &c.UpdatedAt,
	)
	return c, err
}

// GetActive returns the active configuration for a company.
func (r *Repository) GetActive(ctx context.Context, companyID int64) (Config, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+configColumns+`
FROM approval_configs WHERE company_id=$1 AND active`, companyID)
	cfg, err := scanConfig(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Config{}, ErrNoActiveConfig
		}
		return Config{}, err
	}
	return cfg, nil
}

// Install deactivates the current configuration and inserts cfg as the new
// active record. In-flight requests keep the config they already read.
func (r *Repository) Install(ctx context.Context, cfg Config) (Config, error) {
	var installed Config
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `UPDATE approval_configs SET active=false, updated_at=NOW()
WHERE company_id=$1 AND active`, cfg.CompanyID); err != nil {
			return err
		}
		row := tx.QueryRow(ctx, `INSERT INTO approval_configs (company_id,
outbound_threshold, inbound_threshold, transfer_threshold,
tier2_threshold, tier3_threshold,
urgent_multiplier, high_multiplier, medium_multiplier, low_multiplier,
review_hours, approval_hours, authorization_hours,
auto_submit_on_create, require_signature_all_stages, enable_qr_verification,
enable_email_notifications, enable_bulk_approval, allow_submitter_approve,
bulk_cap, qr_size, qr_error_correction, token_lifetime_days, max_verifications,
active)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,true)
RETURNING `+configColumns,
			cfg.CompanyID,
			cfg.OutboundThreshold, cfg.InboundThreshold, cfg.TransferThreshold,
			cfg.Tier2Threshold, cfg.Tier3Threshold,
			cfg.UrgentMultiplier, cfg.HighMultiplier, cfg.MediumMultiplier, cfg.LowMultiplier,
			cfg.ReviewHours, cfg.ApprovalHours, cfg.AuthorizationHours,
			cfg.AutoSubmitOnCreate, cfg.RequireSignatureAllStages, cfg.EnableQRVerification,
			cfg.EnableEmailNotifications, cfg.EnableBulkApproval, cfg.AllowSubmitterApprove,
			cfg.BulkCap, cfg.QRSize, cfg.QRErrorCorrection, cfg.TokenLifetimeDays, cfg.MaxVerifications,
		)
		stored, err := scanConfig(row)
		if err != nil {
			return err
		}
		installed = stored
		return nil
	})
	if err != nil {
		return Config{}, err
	}
	return installed, nil
}
