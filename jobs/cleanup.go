package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-erp/meridian/internal/shared"
)

// IdempotencyCleaner prunes old idempotency keys so the table stays small.
type IdempotencyCleaner struct {
	store     *shared.IdempotencyStore
	retention time.Duration
	logger    *slog.Logger
}

// NewIdempotencyCleaner creates a cleaner with the given retention window.
func NewIdempotencyCleaner(store *shared.IdempotencyStore, retention time.Duration, logger *slog.Logger) *IdempotencyCleaner {
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	return &IdempotencyCleaner{store: store, retention: retention, logger: logger}
}

// HandleTask processes TaskTypeIdempotencyCleanup tasks.
func (c *IdempotencyCleaner) HandleTask(ctx context.Context, _ *asynq.Task) error {
	if err := c.store.Cleanup(ctx, c.retention); err != nil {
		c.logger.Error("idempotency cleanup failed", slog.Any("error", err))
		return err
	}
	return nil
}
