package reporting

import (
	"time"

	"github.com/shopspring/decimal"
)

// BookingCounts breaks bookings down by status.
type BookingCounts struct {
	Total     int64 `json:"total"`
	Pending   int64 `json:"pending"`
	InTransit int64 `json:"in_transit"`
	Delivered int64 `json:"delivered"`
}

// ReceivableSummary aggregates the receivable ledger.
type ReceivableSummary struct {
	TotalBilled      decimal.Decimal  `json:"total_billed"`
	TotalCollectible decimal.Decimal  `json:"total_collectible"`
	TotalExpenses    decimal.Decimal  `json:"total_expenses"`
	NetRevenue       decimal.Decimal  `json:"net_revenue"`
	PaidCount        int64            `json:"paid_count"`
	OverdueCount     int64            `json:"overdue_count"`
	AgingBuckets     map[string]int64 `json:"aging_buckets"`
}

// PayableSummary aggregates the vendor charge ledger.
type PayableSummary struct {
	TotalExpenses decimal.Decimal `json:"total_expenses"`
	UnpaidCount   int64           `json:"unpaid_count"`
	PaidCount     int64           `json:"paid_count"`
}

// PaymentSummary aggregates payment attempts.
type PaymentSummary struct {
	CompletedAmount decimal.Decimal  `json:"completed_amount"`
	StatusCounts    map[string]int64 `json:"status_counts"`
}

// Dashboard is the back-office overview, assembled from the four ledgers in
// one pass and cached briefly.
type Dashboard struct {
	GeneratedAt  time.Time         `json:"generated_at"`
	Bookings     BookingCounts     `json:"bookings"`
	Receivables  ReceivableSummary `json:"receivables"`
	Payables     PayableSummary    `json:"payables"`
	Payments     PaymentSummary    `json:"payments"`
	DisplayTotal string            `json:"display_total"`
}
