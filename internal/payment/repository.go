package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const paymentColumns = `
	id, voucher_number, company_id, kind, amount, currency, counterparty_id,
	priority, state, host_state, notes, created_by,
	submitter_id, submitted_at, reviewer_id, reviewed_at,
	approver_id, approved_at, authorizer_id, authorized_at, posted_at,
	verification_token, qr_scan_count, last_scan_at,
	created_at, updated_at`

// TransitionInput carries everything one atomic state change needs. From is
// the state the caller observed; if the row holds a different state by the
// time the lock is acquired the transition fails with ErrStateConflict.
type TransitionInput struct {
	PaymentID int64
	From      State
	To        State
	ActorID   int64
	Comment   string
	Signature []byte
	At        time.Time

	// Updates holds extra column assignments applied alongside the state
	// change (stage actor ids, timestamps, verification token).
	Updates map[string]interface{}

	// During, when set, runs inside the transaction after the row lock and
	// state check but before the update. Returning an error aborts the
	// transition. Used to keep host posting atomic with the state change.
	During func(ctx context.Context, p Payment) error
}

// ListRequest filters and paginates the payment list.
type ListRequest struct {
	CompanyID int64
	State     State
	Kind      Kind
	Priority  Priority
	Limit     int
	Offset    int
}

// Repository defines the interface for payment persistence.
type Repository interface {
	GetByID(ctx context.Context, id int64) (*Payment, error)
	GetByVoucher(ctx context.Context, companyID int64, voucherNumber string) (*Payment, error)
	GetByToken(ctx context.Context, token string) (*Payment, error)
	List(ctx context.Context, req ListRequest) ([]Payment, int, error)
	ListInStates(ctx context.Context, states []State) ([]Payment, error)
	History(ctx context.Context, paymentID int64) ([]HistoryEntry, error)

	Create(ctx context.Context, p Payment) (*Payment, error)
	Transition(ctx context.Context, in TransitionInput) (*Payment, error)
	RecordScan(ctx context.Context, token string, at time.Time, maxScans int) (*Payment, error)
}

// repository implements Repository using pgxpool.
type repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	err := row.Scan(
		&p.ID, &p.VoucherNumber, &p.CompanyID, &p.Kind, &p.Amount, &p.Currency,
		&p.CounterpartyID, &p.Priority, &p.State, &p.HostState, &p.Notes,
		&p.CreatedBy, &p.SubmitterID, &p.SubmittedAt, &p.ReviewerID, &p.ReviewedAt,
		&p.ApproverID, &p.ApprovedAt, &p.AuthorizerID, &p.AuthorizedAt, &p.PostedAt,
		&p.VerificationToken, &p.QRScanCount, &p.LastScanAt,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

// GetByID retrieves a payment by ID.
func (r *repository) GetByID(ctx context.Context, id int64) (*Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	return scanPayment(r.pool.QueryRow(ctx, query, id))
}

// GetByVoucher retrieves a payment by voucher number within a company.
func (r *repository) GetByVoucher(ctx context.Context, companyID int64, voucherNumber string) (*Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE company_id = $1 AND voucher_number = $2`
	return scanPayment(r.pool.QueryRow(ctx, query, companyID, voucherNumber))
}

// GetByToken retrieves a payment by verification token. The unique index on
// verification_token makes the lookup constant-time regardless of volume.
func (r *repository) GetByToken(ctx context.Context, token string) (*Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE verification_token = $1`
	return scanPayment(r.pool.QueryRow(ctx, query, token))
}

// List retrieves payments with filtering and pagination.
func (r *repository) List(ctx context.Context, req ListRequest) ([]Payment, int, error) {
	var conds []string
	var args []interface{}
	argPos := 1

	if req.CompanyID != 0 {
		conds = append(conds, fmt.Sprintf("company_id = $%d", argPos))
		args = append(args, req.CompanyID)
		argPos++
	}
	if req.State != "" {
		conds = append(conds, fmt.Sprintf("state = $%d", argPos))
		args = append(args, req.State)
		argPos++
	}
	if req.Kind != "" {
		conds = append(conds, fmt.Sprintf("kind = $%d", argPos))
		args = append(args, req.Kind)
		argPos++
	}
	if req.Priority != "" {
		conds = append(conds, fmt.Sprintf("priority = $%d", argPos))
		args = append(args, req.Priority)
		argPos++
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM payments`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + paymentColumns + ` FROM payments` + where +
		fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d", argPos, argPos+1)
	args = append(args, req.Limit, req.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var payments []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, 0, err
		}
		payments = append(payments, *p)
	}
	return payments, total, rows.Err()
}

// ListInStates retrieves every payment currently in one of the given states.
// Used by the deadline scan job.
func (r *repository) ListInStates(ctx context.Context, states []State) ([]Payment, error) {
	if len(states) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(states))
	args := make([]interface{}, len(states))
	for i, s := range states {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = s
	}
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE state IN (` +
		strings.Join(placeholders, ", ") + `) ORDER BY id`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, *p)
	}
	return payments, rows.Err()
}

// History retrieves the full transition trail ordered oldest first.
func (r *repository) History(ctx context.Context, paymentID int64) ([]HistoryEntry, error) {
	query := `
		SELECT id, payment_id, from_state, to_state, actor_id, comment, signature, created_at
		FROM payment_history
		WHERE payment_id = $1
		ORDER BY id
	`
	rows, err := r.pool.Query(ctx, query, paymentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []HistoryEntry
	for rows.Next() {
		var e HistoryEntry
		err := rows.Scan(&e.ID, &e.PaymentID, &e.FromState, &e.ToState, &e.ActorID,
			&e.Comment, &e.Signature, &e.At)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Create inserts a new payment in draft state.
func (r *repository) Create(ctx context.Context, p Payment) (*Payment, error) {
	query := `
		INSERT INTO payments (
			voucher_number, company_id, kind, amount, currency, counterparty_id,
			priority, state, host_state, notes, created_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING ` + paymentColumns
	return scanPayment(r.pool.QueryRow(ctx, query,
		p.VoucherNumber, p.CompanyID, p.Kind, p.Amount, p.Currency, p.CounterpartyID,
		p.Priority, p.State, p.HostState, p.Notes, p.CreatedBy,
	))
}

// Transition performs an atomic state change: it locks the row, verifies the
// state the caller observed still holds, runs the optional During callback,
// applies the update and appends the history entry, all in one transaction.
func (r *repository) Transition(ctx context.Context, in TransitionInput) (*Payment, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	current, err := scanPayment(tx.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1 FOR UPDATE`, in.PaymentID))
	if err != nil {
		return nil, err
	}
	if current.State != in.From {
		return nil, fmt.Errorf("%w: expected %s, found %s", ErrStateConflict, in.From, current.State)
	}
	if !ValidTransition(in.From, in.To) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, in.From, in.To)
	}

	if in.During != nil {
		if err := in.During(ctx, *current); err != nil {
			return nil, err
		}
	}

	updates := in.Updates
	if updates == nil {
		updates = make(map[string]interface{})
	}
	updates["state"] = in.To

	var setClauses []string
	var args []interface{}
	argPos := 1
	for field, value := range updates {
		setClauses = append(setClauses, fmt.Sprintf("%s = $%d", field, argPos))
		args = append(args, value)
		argPos++
	}
	setClauses = append(setClauses, fmt.Sprintf("updated_at = $%d", argPos))
	args = append(args, in.At)
	argPos++
	args = append(args, in.PaymentID)

	query := fmt.Sprintf(`UPDATE payments SET %s WHERE id = $%d RETURNING `+paymentColumns,
		strings.Join(setClauses, ", "), argPos)

	updated, err := scanPayment(tx.QueryRow(ctx, query, args...))
	if err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO payment_history (payment_id, from_state, to_state, actor_id, comment, signature, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		in.PaymentID, in.From, in.To, in.ActorID, in.Comment, in.Signature, in.At)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return updated, nil
}

// RecordScan increments the scan counter for a token if the quota allows it.
// The conditional update makes concurrent scans race safely: exactly as many
// succeed as the quota permits.
func (r *repository) RecordScan(ctx context.Context, token string, at time.Time, maxScans int) (*Payment, error) {
	query := `
		UPDATE payments
		SET qr_scan_count = qr_scan_count + 1, last_scan_at = $2, updated_at = $2
		WHERE verification_token = $1 AND qr_scan_count < $3
		RETURNING ` + paymentColumns
	return scanPayment(r.pool.QueryRow(ctx, query, token, at, maxScans))
}
