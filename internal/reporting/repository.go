package reporting

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository runs the read-only aggregates behind the dashboard.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// BookingCounts counts live bookings per status.
func (r *Repository) BookingCounts(ctx context.Context) (BookingCounts, error) {
	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'in_transit'),
			COUNT(*) FILTER (WHERE status = 'delivered')
		FROM bookings
		WHERE deleted_at IS NULL`

	var c BookingCounts
	err := r.pool.QueryRow(ctx, query).Scan(&c.Total, &c.Pending, &c.InTransit, &c.Delivered)
	return c, err
}

// ReceivableSummary aggregates billing, collectibles and aging buckets.
func (r *Repository) ReceivableSummary(ctx context.Context) (ReceivableSummary, error) {
	query := `
		SELECT
			COALESCE(SUM(total_payment), 0),
			COALESCE(SUM(collectible_amount), 0),
			COALESCE(SUM(total_expenses), 0),
			COALESCE(SUM(net_revenue), 0),
			COUNT(*) FILTER (WHERE is_paid),
			COUNT(*) FILTER (WHERE is_overdue)
		FROM accounts_receivable
		WHERE deleted_at IS NULL`

	var s ReceivableSummary
	var billed, collectible, expenses, revenue pgtype.Numeric
	err := r.pool.QueryRow(ctx, query).Scan(
		&billed, &collectible, &expenses, &revenue, &s.PaidCount, &s.OverdueCount)
	if err != nil {
		return ReceivableSummary{}, err
	}
	s.TotalBilled = numericToDecimal(billed)
	s.TotalCollectible = numericToDecimal(collectible)
	s.TotalExpenses = numericToDecimal(expenses)
	s.NetRevenue = numericToDecimal(revenue)

	s.AgingBuckets = map[string]int64{}
	rows, err := r.pool.Query(ctx, `
		SELECT aging_bucket, COUNT(*)
		FROM accounts_receivable
		WHERE deleted_at IS NULL AND NOT is_paid
		GROUP BY aging_bucket`)
	if err != nil {
		return ReceivableSummary{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var bucket string
		var count int64
		if err := rows.Scan(&bucket, &count); err != nil {
			return ReceivableSummary{}, err
		}
		s.AgingBuckets[bucket] = count
	}
	return s, rows.Err()
}

// PayableSummary aggregates the vendor ledger.
func (r *Repository) PayableSummary(ctx context.Context) (PayableSummary, error) {
	query := `
		SELECT
			COALESCE((SELECT SUM(c.amount) FROM ap_charges c
				JOIN accounts_payable p ON p.id = c.payable_id
				WHERE p.deleted_at IS NULL), 0),
			COUNT(*) FILTER (WHERE NOT is_paid),
			COUNT(*) FILTER (WHERE is_paid)
		FROM accounts_payable
		WHERE deleted_at IS NULL`

	var s PayableSummary
	var expenses pgtype.Numeric
	err := r.pool.QueryRow(ctx, query).Scan(&expenses, &s.UnpaidCount, &s.PaidCount)
	if err != nil {
		return PayableSummary{}, err
	}
	s.TotalExpenses = numericToDecimal(expenses)
	return s, nil
}

// PaymentSummary aggregates payment attempts per status.
func (r *Repository) PaymentSummary(ctx context.Context) (PaymentSummary, error) {
	s := PaymentSummary{StatusCounts: map[string]int64{}}

	var completed pgtype.Numeric
	err := r.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(amount), 0) FROM payments WHERE status = 'completed'`).Scan(&completed)
	if err != nil {
		return PaymentSummary{}, err
	}
	s.CompletedAmount = numericToDecimal(completed)

	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM payments GROUP BY status`)
	if err != nil {
		return PaymentSummary{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var count int64
		if err := rows.Scan(&status, &count); err != nil {
			return PaymentSummary{}, err
		}
		s.StatusCounts[status] = count
	}
	return s, rows.Err()
}

func numericToDecimal(n pgtype.Numeric) decimal.Decimal {
	if !n.Valid || n.Int == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(n.Int, n.Exp)
}
