package payment

import (
	"time"

	"github.com/shopspring/decimal"
)

// Method is the customer-facing payment channel.
type Method string

const (
	MethodGCash        Method = "gcash"
	MethodPayMongo     Method = "paymongo"
	MethodBankTransfer Method = "bank_transfer"
)

// Valid reports whether the method is a known payment channel.
func (m Method) Valid() bool {
	switch m {
	case MethodGCash, MethodPayMongo, MethodBankTransfer:
		return true
	}
	return false
}

// UsesProvider reports whether the method goes through the payment-link
// provider. Bank transfers are settled manually out of band.
func (m Method) UsesProvider() bool {
	return m == MethodGCash || m == MethodPayMongo
}

// Status is the payment lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// providerStatusMap translates provider-reported link statuses into the
// internal state machine. Anything outside this table is ignored.
var providerStatusMap = map[string]Status{
	"pending":    StatusPending,
	"processing": StatusProcessing,
	"paid":       StatusCompleted,
	"unpaid":     StatusFailed,
	"expired":    StatusFailed,
}

// MapProviderStatus resolves a provider status string to an internal status.
func MapProviderStatus(providerStatus string) (Status, bool) {
	s, ok := providerStatusMap[providerStatus]
	return s, ok
}

// Payment is one payment attempt against a booking's receivable.
type Payment struct {
	ID             int64
	BookingID      int64
	UserID         int64
	Amount         decimal.Decimal
	Method         Method
	Status         Status
	ProviderLinkID *string
	CheckoutURL    *string
	PaidAt         *time.Time
	FailedAt       *time.Time
	CancelledAt    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// InitiateInput carries a payment initiation request.
type InitiateInput struct {
	BookingID int64
	UserID    int64
	Method    Method
	Amount    decimal.Decimal
}

// InitiateResult is the initiation outcome. CheckoutWarning is set when the
// provider call failed; the payment row still exists in pending so the
// checkout can be retried.
type InitiateResult struct {
	Payment         Payment
	CheckoutWarning string
}

// ReconcileOutcome describes what a reconciliation pass did.
type ReconcileOutcome string

const (
	OutcomeCompleted ReconcileOutcome = "completed"
	OutcomeFailed    ReconcileOutcome = "failed"
	OutcomeSynced    ReconcileOutcome = "synced"
	OutcomeNoop      ReconcileOutcome = "noop"
	OutcomeUnknown   ReconcileOutcome = "unknown"
)
