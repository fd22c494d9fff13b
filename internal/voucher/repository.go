package voucher

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian/internal/platform/db"
)

// Repository provides PostgreSQL backed sequence counters.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// NextValue increments and returns the sequence counter for the tuple under
// serializable isolation. The first allocation for a tuple creates the row.
func (r *Repository) NextValue(ctx context.Context, companyID int64, kind string, period int) (int64, error) {
	var value int64
	err := db.WithSerializableTx(ctx, r.pool, func(tx pgx.Tx) error {
		return tx.QueryRow(ctx, `INSERT INTO voucher_sequences (company_id, kind, period, next_value)
VALUES ($1, $2, $3, 1)
ON CONFLICT (company_id, kind, period)
DO UPDATE SET next_value = voucher_sequences.next_value + 1
RETURNING next_value`, companyID, kind, period).Scan(&value)
	})
	if err != nil {
		return 0, err
	}
	return value, nil
}

var _ SequencePort = (*Repository)(nil)
