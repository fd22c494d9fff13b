package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	jobmetrics "github.com/meridian-erp/meridian/internal/jobs"
)

// TokenStore voids verification tokens that outlived their per-company
// lifetime.
type TokenStore interface {
	ExpireTokens(ctx context.Context, asOf time.Time) (int64, error)
}

// TokenCleaner voids stale verification tokens. Once a token is cleared the
// printed QR code resolves to not-found rather than expired, which is the
// desired end state for documents past their audit window.
type TokenCleaner struct {
	store   TokenStore
	metrics *jobmetrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewTokenCleaner creates a cleaner. metrics may be nil.
func NewTokenCleaner(store TokenStore, metrics *jobmetrics.Metrics, logger *slog.Logger) *TokenCleaner {
	return &TokenCleaner{store: store, metrics: metrics, logger: logger, now: time.Now}
}

// HandleTask processes TaskTypeTokenCleanup tasks.
func (c *TokenCleaner) HandleTask(ctx context.Context, _ *asynq.Task) error {
	tracker := c.metrics.Track("token_cleanup")
	cleared, err := c.store.ExpireTokens(ctx, c.now())
	if err != nil {
		c.logger.Error("token cleanup failed", slog.Any("error", err))
		return tracker.End(err)
	}
	if cleared > 0 {
		c.logger.Info("verification tokens voided", slog.Int64("count", cleared))
	}
	return tracker.End(nil)
}

// PGTokenStore clears tokens directly in Postgres, joining each payment
// against its company's active configuration for the lifetime.
type PGTokenStore struct {
	pool *pgxpool.Pool
}

// NewPGTokenStore returns a Postgres-backed token store.
func NewPGTokenStore(pool *pgxpool.Pool) *PGTokenStore {
	return &PGTokenStore{pool: pool}
}

// ExpireTokens nulls verification_token on payments whose token aged past the
// company lifetime. The lifetime anchors at approved_at, falling back to
// created_at for payments that never reached approval.
func (s *PGTokenStore) ExpireTokens(ctx context.Context, asOf time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE payments p
		SET verification_token = NULL, updated_at = NOW()
		FROM approval_configs c
		WHERE c.company_id = p.company_id AND c.active
		  AND p.verification_token IS NOT NULL
		  AND COALESCE(p.approved_at, p.created_at)
		      < $1::timestamptz - make_interval(days => c.token_lifetime_days)`,
		asOf)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
