package ar

import (
	"time"

	"github.com/shopspring/decimal"
)

// AgingBucket categorises how overdue an unpaid receivable is.
type AgingBucket string

const (
	BucketCurrent AgingBucket = "current"
	Bucket1To30   AgingBucket = "1-30"
	Bucket31To60  AgingBucket = "31-60"
	Bucket61To90  AgingBucket = "61-90"
	BucketOver90  AgingBucket = "over_90"
)

// ChargeKind is the closed set of billable charge categories.
type ChargeKind string

const (
	ChargeFreight  ChargeKind = "freight"
	ChargeTrucking ChargeKind = "trucking"
	ChargePort     ChargeKind = "port"
	ChargeMisc     ChargeKind = "misc"
)

// Valid reports whether the kind is a known charge category.
func (k ChargeKind) Valid() bool {
	switch k {
	case ChargeFreight, ChargeTrucking, ChargePort, ChargeMisc:
		return true
	}
	return false
}

// ChargeLine is one billed item on a receivable. Lines are replaced wholesale
// on every charge-set; they never merge.
type ChargeLine struct {
	Description  string
	Kind         ChargeKind
	Amount       decimal.Decimal
	Markup       decimal.Decimal
	MarkupAmount decimal.Decimal
	Total        decimal.Decimal
}

// Receivable is the financial state of a booking from the collection side.
// All derived fields are recomputed by the pipeline in engine.go on every
// save; none of them is ever written independently.
type Receivable struct {
	ID                int64
	BookingID         int64
	TotalExpenses     decimal.Decimal
	TotalPayment      decimal.Decimal
	Charges           []ChargeLine
	CollectibleAmount decimal.Decimal
	GrossIncome       decimal.Decimal
	NetRevenue        decimal.Decimal
	Profit            decimal.Decimal
	InvoiceDate       *time.Time
	DueDate           *time.Time
	AgingDays         int
	AgingBucket       AgingBucket
	IsOverdue         bool
	IsPaid            bool
	DeletedAt         *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// SetChargesInput replaces the billed amount and charge lines of a booking.
type SetChargesInput struct {
	BookingID    int64
	TotalPayment decimal.Decimal
	Charges      []ChargeLine
	ActorID      int64
}
