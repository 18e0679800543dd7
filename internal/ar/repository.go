package ar

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/cargodesk/cargodesk/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for receivables.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// querier is satisfied by both pgxpool.Pool and pgx.Tx.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const receivableColumns = `
	id, booking_id, total_expenses, total_payment, collectible_amount,
	gross_income, net_revenue, profit, invoice_date, due_date,
	aging_days, aging_bucket, is_overdue, is_paid, deleted_at,
	created_at, updated_at`

// WithTx wraps callback in a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

// GetByBooking retrieves the receivable for a booking.
func (r *Repository) GetByBooking(ctx context.Context, bookingID int64) (Receivable, error) {
	return getByBooking(ctx, r.pool, bookingID, "")
}

type txRepo struct {
	tx pgx.Tx
}

// GetByBookingForUpdate locks the receivable row for the transaction.
func (t *txRepo) GetByBookingForUpdate(ctx context.Context, bookingID int64) (Receivable, error) {
	return getByBooking(ctx, t.tx, bookingID, " FOR UPDATE")
}

func (t *txRepo) Insert(ctx context.Context, rec *Receivable) error {
	query := `
		INSERT INTO accounts_receivable (
			booking_id, total_expenses, total_payment, collectible_amount,
			gross_income, net_revenue, profit, invoice_date, due_date,
			aging_days, aging_bucket, is_overdue, is_paid, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW(), NOW())
		RETURNING id, created_at, updated_at`

	return t.tx.QueryRow(ctx, query,
		rec.BookingID,
		rec.TotalExpenses.String(),
		rec.TotalPayment.String(),
		rec.CollectibleAmount.String(),
		rec.GrossIncome.String(),
		rec.NetRevenue.String(),
		rec.Profit.String(),
		tsOrNil(rec.InvoiceDate),
		tsOrNil(rec.DueDate),
		rec.AgingDays,
		string(rec.AgingBucket),
		rec.IsOverdue,
		rec.IsPaid,
	).Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
}

func (t *txRepo) Update(ctx context.Context, rec Receivable) error {
	query := `
		UPDATE accounts_receivable
		SET total_expenses = $2, total_payment = $3, collectible_amount = $4,
			gross_income = $5, net_revenue = $6, profit = $7,
			invoice_date = $8, due_date = $9, aging_days = $10,
			aging_bucket = $11, is_overdue = $12, is_paid = $13, updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`

	result, err := t.tx.Exec(ctx, query,
		rec.ID,
		rec.TotalExpenses.String(),
		rec.TotalPayment.String(),
		rec.CollectibleAmount.String(),
		rec.GrossIncome.String(),
		rec.NetRevenue.String(),
		rec.Profit.String(),
		tsOrNil(rec.InvoiceDate),
		tsOrNil(rec.DueDate),
		rec.AgingDays,
		string(rec.AgingBucket),
		rec.IsOverdue,
		rec.IsPaid,
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ReplaceCharges swaps the charge lines wholesale, preserving their order.
func (t *txRepo) ReplaceCharges(ctx context.Context, receivableID int64, lines []ChargeLine) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM ar_charges WHERE receivable_id = $1`, receivableID); err != nil {
		return err
	}
	query := `
		INSERT INTO ar_charges (
			receivable_id, position, description, kind,
			amount, markup, markup_amount, total
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	for i, line := range lines {
		_, err := t.tx.Exec(ctx, query,
			receivableID,
			i,
			line.Description,
			string(line.Kind),
			line.Amount.String(),
			line.Markup.String(),
			line.MarkupAmount.String(),
			line.Total.String(),
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func getByBooking(ctx context.Context, q querier, bookingID int64, suffix string) (Receivable, error) {
	query := `
		SELECT ` + receivableColumns + `
		FROM accounts_receivable
		WHERE booking_id = $1 AND deleted_at IS NULL` + suffix

	var rec Receivable
	var totalExpenses, totalPayment, collectible, grossIncome, netRevenue, profit pgtype.Numeric
	var invoiceDate, dueDate, deletedAt pgtype.Timestamptz

	err := q.QueryRow(ctx, query, bookingID).Scan(
		&rec.ID, &rec.BookingID, &totalExpenses, &totalPayment, &collectible,
		&grossIncome, &netRevenue, &profit, &invoiceDate, &dueDate,
		&rec.AgingDays, &rec.AgingBucket, &rec.IsOverdue, &rec.IsPaid, &deletedAt,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Receivable{}, ErrNotFound
	}
	if err != nil {
		return Receivable{}, err
	}

	rec.TotalExpenses = numericToDecimal(totalExpenses)
	rec.TotalPayment = numericToDecimal(totalPayment)
	rec.CollectibleAmount = numericToDecimal(collectible)
	rec.GrossIncome = numericToDecimal(grossIncome)
	rec.NetRevenue = numericToDecimal(netRevenue)
	rec.Profit = numericToDecimal(profit)
	if invoiceDate.Valid {
		rec.InvoiceDate = &invoiceDate.Time
	}
	if dueDate.Valid {
		rec.DueDate = &dueDate.Time
	}
	if deletedAt.Valid {
		rec.DeletedAt = &deletedAt.Time
	}

	lines, err := listCharges(ctx, q, rec.ID)
	if err != nil {
		return Receivable{}, err
	}
	rec.Charges = lines
	return rec, nil
}

func listCharges(ctx context.Context, q querier, receivableID int64) ([]ChargeLine, error) {
	query := `
		SELECT description, kind, amount, markup, markup_amount, total
		FROM ar_charges
		WHERE receivable_id = $1
		ORDER BY position`

	rows, err := q.Query(ctx, query, receivableID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []ChargeLine
	for rows.Next() {
		var line ChargeLine
		var amount, markup, markupAmount, total pgtype.Numeric
		if err := rows.Scan(&line.Description, &line.Kind, &amount, &markup, &markupAmount, &total); err != nil {
			return nil, err
		}
		line.Amount = numericToDecimal(amount)
		line.Markup = numericToDecimal(markup)
		line.MarkupAmount = numericToDecimal(markupAmount)
		line.Total = numericToDecimal(total)
		lines = append(lines, line)
	}
	return lines, rows.Err()
}

func numericToDecimal(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid || n.Int == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(n.Int, n.Exp)
}

func tsOrNil(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: *t, Valid: true}
}
