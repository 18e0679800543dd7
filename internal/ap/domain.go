package ap

import (
	"time"

	"github.com/shopspring/decimal"
)

// ChargeCategory is the closed set of payable charge categories. Freight is
// a singleton per payable; the other three allow multiple rows keyed by type.
type ChargeCategory string

const (
	CategoryFreight  ChargeCategory = "freight"
	CategoryTrucking ChargeCategory = "trucking"
	CategoryPort     ChargeCategory = "port"
	CategoryMisc     ChargeCategory = "misc"
)

// Valid reports whether the category is a known charge category.
func (c ChargeCategory) Valid() bool {
	switch c {
	case CategoryFreight, CategoryTrucking, CategoryPort, CategoryMisc:
		return true
	}
	return false
}

// Charge is a single vendor charge row in the ledger.
type Charge struct {
	ID        int64
	Category  ChargeCategory
	Type      string
	Amount    decimal.Decimal
	IsPaid    bool
	Voucher   *string
	CheckDate *time.Time
	Payee     *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Payable accumulates vendor charges for a booking. Unlike the receivable,
// repeated submissions merge into existing rows instead of replacing them.
type Payable struct {
	ID            int64
	BookingID     int64
	VoucherNumber string
	IsPaid        bool
	Freight       *Charge
	Trucking      []Charge
	Port          []Charge
	Misc          []Charge
	DeletedAt     *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// AllCharges flattens the four categories in a stable order.
func (p Payable) AllCharges() []Charge {
	var out []Charge
	if p.Freight != nil {
		out = append(out, *p.Freight)
	}
	out = append(out, p.Trucking...)
	out = append(out, p.Port...)
	out = append(out, p.Misc...)
	return out
}

// TotalExpenses sums every charge row. Computed on read; the receivable
// snapshots it at charge-set time rather than tracking it live.
func (p Payable) TotalExpenses() decimal.Decimal {
	total := decimal.Zero
	for _, c := range p.AllCharges() {
		total = total.Add(c.Amount)
	}
	return total.Round(2)
}

// AllChargesPaid reports whether every charge row is settled. A payable with
// zero charges is never fully paid; the empty set is deliberately false
// rather than vacuously true.
func (p Payable) AllChargesPaid() bool {
	charges := p.AllCharges()
	if len(charges) == 0 {
		return false
	}
	for _, c := range charges {
		if !c.IsPaid {
			return false
		}
	}
	return true
}

// ChargeEntry is one submitted charge in a charge set. Entries with a
// non-positive amount are ignored, not rejected.
type ChargeEntry struct {
	Type      string
	Amount    decimal.Decimal
	CheckDate *time.Time
	Payee     *string
}

// ChargeSetInput carries one submission against the ledger.
type ChargeSetInput struct {
	BookingID int64
	Freight   *ChargeEntry
	Trucking  []ChargeEntry
	Port      []ChargeEntry
	Misc      []ChargeEntry
	ActorID   int64
}

// ChargeStatusPatch updates settlement fields on a single charge row.
type ChargeStatusPatch struct {
	IsPaid    *bool
	Voucher   *string
	CheckDate *time.Time
}
