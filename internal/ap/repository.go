package ap

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

// Repository provides PostgreSQL backed persistence for payables.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// WithTx wraps callback in a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

// GetByBooking retrieves the payable for a booking.
func (r *Repository) GetByBooking(ctx context.Context, bookingID int64) (Payable, error) {
	return getPayable(ctx, r.pool, "booking_id", bookingID, "")
}

// GetByID retrieves a payable by id.
func (r *Repository) GetByID(ctx context.Context, id int64) (Payable, error) {
	return getPayable(ctx, r.pool, "id", id, "")
}

type txRepo struct {
	tx pgx.Tx
}

func (t *txRepo) GetByBookingForUpdate(ctx context.Context, bookingID int64) (Payable, error) {
	return getPayable(ctx, t.tx, "booking_id", bookingID, " FOR UPDATE")
}

func (t *txRepo) GetByIDForUpdate(ctx context.Context, id int64) (Payable, error) {
	return getPayable(ctx, t.tx, "id", id, " FOR UPDATE")
}

// CreatePayable inserts the payable row. A voucher collision surfaces as
// ErrDuplicateVoucher so the caller can retry with a fresh number.
func (t *txRepo) CreatePayable(ctx context.Context, bookingID int64, voucher string) (int64, error) {
	query := `
		INSERT INTO accounts_payable (booking_id, voucher_number, is_paid, created_at, updated_at)
		VALUES ($1, $2, FALSE, NOW(), NOW())
		RETURNING id`

	var id int64
	err := t.tx.QueryRow(ctx, query, bookingID, voucher).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, ErrDuplicateVoucher
		}
		return 0, err
	}
	return id, nil
}

func (t *txRepo) InsertCharge(ctx context.Context, payableID int64, c Charge) error {
	query := `
		INSERT INTO ap_charges (
			payable_id, category, type, amount, payee, check_date, voucher, is_paid, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())`

	_, err := t.tx.Exec(ctx, query,
		payableID,
		string(c.Category),
		c.Type,
		c.Amount.String(),
		c.Payee,
		tsOrNil(c.CheckDate),
		c.Voucher,
		c.IsPaid,
	)
	return err
}

func (t *txRepo) UpdateCharge(ctx context.Context, c Charge) error {
	query := `
		UPDATE ap_charges
		SET amount = $2, payee = $3, check_date = $4, voucher = $5, is_paid = $6, updated_at = NOW()
		WHERE id = $1`

	result, err := t.tx.Exec(ctx, query,
		c.ID,
		c.Amount.String(),
		c.Payee,
		tsOrNil(c.CheckDate),
		c.Voucher,
		c.IsPaid,
	)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrChargeNotFound
	}
	return nil
}

func (t *txRepo) SetPaid(ctx context.Context, payableID int64, isPaid bool) error {
	_, err := t.tx.Exec(ctx,
		`UPDATE accounts_payable SET is_paid = $2, updated_at = NOW() WHERE id = $1`,
		payableID, isPaid)
	return err
}

func getPayable(ctx context.Context, q querier, column string, value int64, suffix string) (Payable, error) {
	query := `
		SELECT id, booking_id, voucher_number, is_paid, deleted_at, created_at, updated_at
		FROM accounts_payable
		WHERE ` + column + ` = $1 AND deleted_at IS NULL` + suffix

	var p Payable
	var deletedAt pgtype.Timestamptz
	err := q.QueryRow(ctx, query, value).Scan(
		&p.ID, &p.BookingID, &p.VoucherNumber, &p.IsPaid, &deletedAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Payable{}, ErrNotFound
	}
	if err != nil {
		return Payable{}, err
	}
	if deletedAt.Valid {
		p.DeletedAt = &deletedAt.Time
	}

	if err := loadCharges(ctx, q, &p); err != nil {
		return Payable{}, err
	}
	return p, nil
}

func loadCharges(ctx context.Context, q querier, p *Payable) error {
	query := `
		SELECT id, category, type, amount, payee, check_date, voucher, is_paid, created_at, updated_at
		FROM ap_charges
		WHERE payable_id = $1
		ORDER BY id`

	rows, err := q.Query(ctx, query, p.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var c Charge
		var amount pgtype.Numeric
		var payee, voucher pgtype.Text
		var checkDate pgtype.Timestamptz
		if err := rows.Scan(&c.ID, &c.Category, &c.Type, &amount, &payee, &checkDate, &voucher, &c.IsPaid, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return err
		}
		c.Amount = numericToDecimal(amount)
		if payee.Valid {
			c.Payee = &payee.String
		}
		if voucher.Valid {
			c.Voucher = &voucher.String
		}
		if checkDate.Valid {
			c.CheckDate = &checkDate.Time
		}

		switch c.Category {
		case CategoryFreight:
			freight := c
			p.Freight = &freight
		case CategoryTrucking:
			p.Trucking = append(p.Trucking, c)
		case CategoryPort:
			p.Port = append(p.Port, c)
		case CategoryMisc:
			p.Misc = append(p.Misc, c)
		}
	}
	return rows.Err()
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
