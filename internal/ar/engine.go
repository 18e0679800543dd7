package ar

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/cargodesk/cargodesk/internal/booking"
)

// The recompute pipeline runs in a fixed order on every save: invoice dates
// feed aging, aging feeds nothing, financials read is_paid. Reordering the
// steps breaks the aging and collectible invariants.

// Recompute runs the full pipeline against the owning booking.
func (rec *Receivable) Recompute(b booking.Booking, now time.Time) {
	rec.setInvoiceDates(b)
	rec.calculateAging(now)
	rec.calculateFinancials()
}

// setInvoiceDates derives invoice and due dates once the booking is
// delivered. Dates are forward-only: an undelivered booking never clears
// previously computed dates.
func (rec *Receivable) setInvoiceDates(b booking.Booking) {
	if b.Status != booking.StatusDelivered {
		return
	}
	invoiceDate := b.UpdatedAt
	if b.DeliveryDate != nil {
		invoiceDate = *b.DeliveryDate
	}
	dueDate := invoiceDate.AddDate(0, 0, b.TermsDays)
	rec.InvoiceDate = &invoiceDate
	rec.DueDate = &dueDate
}

// calculateAging buckets the receivable by whole days past due.
func (rec *Receivable) calculateAging(now time.Time) {
	if rec.IsPaid || rec.DueDate == nil || !now.After(*rec.DueDate) {
		rec.AgingDays = 0
		rec.AgingBucket = BucketCurrent
		rec.IsOverdue = false
		return
	}

	days := int(now.Sub(*rec.DueDate).Hours() / 24)
	rec.AgingDays = days
	rec.IsOverdue = true
	switch {
	case days <= 30:
		rec.AgingBucket = Bucket1To30
	case days <= 60:
		rec.AgingBucket = Bucket31To60
	case days <= 90:
		rec.AgingBucket = Bucket61To90
	default:
		rec.AgingBucket = BucketOver90
	}
}

// calculateFinancials derives income figures from the billed and expense
// totals. Collectible is all-or-nothing: the system only accepts payments
// for the full billed amount.
func (rec *Receivable) calculateFinancials() {
	rec.GrossIncome = rec.TotalPayment.Round(2)
	rec.NetRevenue = rec.GrossIncome.Sub(rec.TotalExpenses).Round(2)
	rec.Profit = rec.NetRevenue
	if rec.IsPaid {
		rec.CollectibleAmount = decimal.Zero
	} else {
		rec.CollectibleAmount = rec.TotalPayment.Round(2)
	}
}

// markPaid settles the receivable and re-derives financials. Calling it on
// an already paid receivable changes nothing.
func (rec *Receivable) markPaid() {
	rec.IsPaid = true
	rec.AgingDays = 0
	rec.AgingBucket = BucketCurrent
	rec.IsOverdue = false
	rec.calculateFinancials()
}
