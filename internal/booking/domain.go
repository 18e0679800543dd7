package booking

import (
	"context"
	"time"
)

// Status enumerates booking lifecycle states.
type Status string

const (
	StatusPending   Status = "pending"
	StatusInTransit Status = "in_transit"
	StatusDelivered Status = "delivered"
)

// Valid reports whether the status is a known lifecycle state.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInTransit, StatusDelivered:
		return true
	}
	return false
}

// Booking is a shipment order. It is the source of truth for route, payment
// terms and delivery status; the receivables engine only ever reads it.
type Booking struct {
	ID                int64
	Number            string
	UserID            int64
	OriginPortID      int64
	DestinationPortID int64
	TermsDays         int
	Status            Status
	DeliveryDate      *time.Time
	DeletedAt         *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// DeliveredEvent is emitted when a booking transitions to delivered.
type DeliveredEvent struct {
	BookingID   int64
	DeliveredAt time.Time
}

// IntegrationHandler receives booking lifecycle events. The receivables
// engine implements it; Booking stays ignorant of who listens.
type IntegrationHandler interface {
	HandleBookingDelivered(ctx context.Context, evt DeliveredEvent) error
}

// CreateBookingInput for creating bookings.
type CreateBookingInput struct {
	UserID            int64
	OriginPortID      int64
	DestinationPortID int64
	TermsDays         int
}

// UpdateStatusInput for booking status transitions.
type UpdateStatusInput struct {
	BookingID    int64
	Status       Status
	DeliveryDate *time.Time
}
