package payment

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/cargodesk/cargodesk/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for payments.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx wraps callback in a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const paymentColumns = `
	id, booking_id, user_id, amount, method, status,
	provider_link_id, checkout_url, paid_at, failed_at, cancelled_at,
	created_at, updated_at`

// Create inserts a pending payment row.
func (r *Repository) Create(ctx context.Context, input InitiateInput) (Payment, error) {
	query := `
		INSERT INTO payments (booking_id, user_id, amount, method, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 'pending', NOW(), NOW())
		RETURNING` + paymentColumns

	row := r.pool.QueryRow(ctx, query,
		input.BookingID, input.UserID, input.Amount.Round(2).String(), string(input.Method))
	return scanPayment(row)
}

// Get retrieves a payment by id.
func (r *Repository) Get(ctx context.Context, id int64) (Payment, error) {
	query := `SELECT` + paymentColumns + ` FROM payments WHERE id = $1`
	return scanPayment(r.pool.QueryRow(ctx, query, id))
}

// SetCheckout stores the provider link and moves the row to processing.
func (r *Repository) SetCheckout(ctx context.Context, id int64, linkID, checkoutURL string) error {
	query := `
		UPDATE payments
		SET provider_link_id = $2, checkout_url = $3, status = 'processing', updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`

	result, err := r.pool.Exec(ctx, query, id, linkID, checkoutURL)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListProcessing returns processing payments, oldest first.
func (r *Repository) ListProcessing(ctx context.Context, limit int) ([]Payment, error) {
	query := `SELECT` + paymentColumns + `
		FROM payments
		WHERE status = 'processing'
		ORDER BY created_at
		LIMIT $1`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ListUnsettledCompleted returns completed payments whose receivable is still
// unpaid, oldest first. These are reconciliations whose paid transition was
// lost to a transient failure after the payment row committed.
func (r *Repository) ListUnsettledCompleted(ctx context.Context, limit int) ([]Payment, error) {
	query := `
		SELECT p.id, p.booking_id, p.user_id, p.amount, p.method, p.status,
			p.provider_link_id, p.checkout_url, p.paid_at, p.failed_at, p.cancelled_at,
			p.created_at, p.updated_at
		FROM payments p
		JOIN accounts_receivable ar ON ar.booking_id = p.booking_id
		WHERE p.status = 'completed' AND NOT ar.is_paid
		ORDER BY p.created_at
		LIMIT $1`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// CancelPendingBefore cancels pending payments created before the cutoff.
func (r *Repository) CancelPendingBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		UPDATE payments
		SET status = 'cancelled', cancelled_at = NOW(), updated_at = NOW()
		WHERE status = 'pending' AND created_at < $1`

	result, err := r.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

type txRepo struct {
	tx pgx.Tx
}

func (t *txRepo) GetByProviderLinkForUpdate(ctx context.Context, linkID string) (Payment, error) {
	query := `SELECT` + paymentColumns + ` FROM payments WHERE provider_link_id = $1 FOR UPDATE`
	return scanPayment(t.tx.QueryRow(ctx, query, linkID))
}

func (t *txRepo) SetStatus(ctx context.Context, id int64, status Status, at time.Time) error {
	var stampColumn string
	switch status {
	case StatusCompleted:
		stampColumn = "paid_at"
	case StatusFailed:
		stampColumn = "failed_at"
	case StatusCancelled:
		stampColumn = "cancelled_at"
	}

	query := `UPDATE payments SET status = $2, updated_at = NOW()`
	if stampColumn != "" {
		query += `, ` + stampColumn + ` = $3`
	}
	query += ` WHERE id = $1`

	args := []any{id, string(status)}
	if stampColumn != "" {
		args = append(args, at)
	}
	result, err := t.tx.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanPayment(row pgx.Row) (Payment, error) {
	var p Payment
	var amount pgtype.Numeric
	var linkID, checkoutURL pgtype.Text
	var paidAt, failedAt, cancelledAt pgtype.Timestamptz

	err := row.Scan(
		&p.ID, &p.BookingID, &p.UserID, &amount, &p.Method, &p.Status,
		&linkID, &checkoutURL, &paidAt, &failedAt, &cancelledAt,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Payment{}, ErrNotFound
	}
	if err != nil {
		return Payment{}, err
	}

	if amount.Valid && amount.Int != nil {
		p.Amount = decimal.NewFromBigInt(amount.Int, amount.Exp)
	}
	if linkID.Valid {
		p.ProviderLinkID = &linkID.String
	}
	if checkoutURL.Valid {
		p.CheckoutURL = &checkoutURL.String
	}
	if paidAt.Valid {
		p.PaidAt = &paidAt.Time
	}
	if failedAt.Valid {
		p.FailedAt = &failedAt.Time
	}
	if cancelledAt.Valid {
		p.CancelledAt = &cancelledAt.Time
	}
	return p, nil
}
