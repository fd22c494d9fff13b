package gate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian/internal/payment"
)

// ErrHostRejected is returned when the host refuses a ledger operation.
var ErrHostRejected = errors.New("gate: host rejected operation")

// PGLedger implements Ledger over the host's payment document table.
type PGLedger struct {
	pool *pgxpool.Pool
}

// NewPGLedger creates the postgres-backed host ledger adapter.
func NewPGLedger(pool *pgxpool.Pool) *PGLedger {
	return &PGLedger{pool: pool}
}

// RegisterPayment inserts the host-side document in draft state. Re-running
// the registration for an existing voucher is a no-op.
func (l *PGLedger) RegisterPayment(ctx context.Context, p payment.Payment) error {
	_, err := l.pool.Exec(ctx, `
		INSERT INTO host_payments (company_id, voucher_number, amount, currency, state, created_at)
		VALUES ($1, $2, $3, $4, 'draft', $5)
		ON CONFLICT (company_id, voucher_number) DO NOTHING`,
		p.CompanyID, p.VoucherNumber, p.Amount, p.Currency, time.Now())
	return err
}

// Post marks the host document posted. It fails when the document is missing
// or already left draft, which the engine treats as a host posting failure.
func (l *PGLedger) Post(ctx context.Context, companyID int64, voucherNumber string) error {
	tag, err := l.pool.Exec(ctx, `
		UPDATE host_payments
		SET state = 'posted', posted_at = $3
		WHERE company_id = $1 AND voucher_number = $2 AND state = 'draft'`,
		companyID, voucherNumber, time.Now())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		state, err := l.state(ctx, companyID, voucherNumber)
		if err != nil {
			return err
		}
		if state == "posted" {
			// Already posted: replaying a completed posting is harmless.
			return nil
		}
		return fmt.Errorf("%w: document %s is %s", ErrHostRejected, voucherNumber, state)
	}
	return nil
}

// Cancel marks the host document cancelled.
func (l *PGLedger) Cancel(ctx context.Context, companyID int64, voucherNumber string) error {
	tag, err := l.pool.Exec(ctx, `
		UPDATE host_payments
		SET state = 'cancelled'
		WHERE company_id = $1 AND voucher_number = $2 AND state <> 'posted'`,
		companyID, voucherNumber)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: cannot cancel %s", ErrHostRejected, voucherNumber)
	}
	return nil
}

func (l *PGLedger) state(ctx context.Context, companyID int64, voucherNumber string) (string, error) {
	var state string
	err := l.pool.QueryRow(ctx,
		`SELECT state FROM host_payments WHERE company_id = $1 AND voucher_number = $2`,
		companyID, voucherNumber).Scan(&state)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", fmt.Errorf("%w: document %s not registered", ErrHostRejected, voucherNumber)
		}
		return "", err
	}
	return state, nil
}
