package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cargodesk/cargodesk/internal/shared"
)

var (
	// ErrNotFound indicates the booking does not exist or is soft-deleted.
	ErrNotFound = errors.New("booking not found")
	// ErrInvalidTransition indicates a backwards status move.
	ErrInvalidTransition = errors.New("invalid booking status transition")
	// ErrDuplicateNumber indicates a booking number collision.
	ErrDuplicateNumber = errors.New("booking number already taken")
	// ErrInvalidInput indicates malformed booking input.
	ErrInvalidInput = errors.New("invalid booking input")
)

// RepositoryPort defines data access methods for bookings.
type RepositoryPort interface {
	Create(ctx context.Context, input CreateBookingInput, number string) (Booking, error)
	Get(ctx context.Context, id int64) (Booking, error)
	UpdateStatus(ctx context.Context, input UpdateStatusInput) (Booking, error)
	SoftDelete(ctx context.Context, id int64) error
}

// Service handles booking business logic.
type Service struct {
	repo        RepositoryPort
	clock       shared.Clock
	logger      *slog.Logger
	integration IntegrationHandler
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, clock shared.Clock, logger *slog.Logger) *Service {
	return &Service{repo: repo, clock: clock, logger: logger}
}

// SetIntegrationHandler injects the receivables integration hook.
func (s *Service) SetIntegrationHandler(handler IntegrationHandler) {
	s.integration = handler
}

const numberAttempts = 5

// Create registers a new booking in pending status.
func (s *Service) Create(ctx context.Context, input CreateBookingInput) (Booking, error) {
	if input.UserID == 0 {
		return Booking{}, fmt.Errorf("%w: user required", ErrInvalidInput)
	}
	if input.TermsDays < 0 {
		return Booking{}, fmt.Errorf("%w: terms must be zero or more days", ErrInvalidInput)
	}
	if input.OriginPortID == 0 || input.DestinationPortID == 0 {
		return Booking{}, fmt.Errorf("%w: origin and destination ports required", ErrInvalidInput)
	}

	// The number column carries a unique constraint; on collision we draw a
	// fresh number and retry rather than pre-checking existence.
	var lastErr error
	for attempt := 0; attempt < numberAttempts; attempt++ {
		number := NewBookingNumber()
		b, err := s.repo.Create(ctx, input, number)
		if err == nil {
			return b, nil
		}
		if !errors.Is(err, ErrDuplicateNumber) {
			return Booking{}, err
		}
		lastErr = err
	}
	return Booking{}, lastErr
}

// Get returns a booking by id, excluding soft-deleted rows.
func (s *Service) Get(ctx context.Context, id int64) (Booking, error) {
	return s.repo.Get(ctx, id)
}

var statusRank = map[Status]int{
	StatusPending:   0,
	StatusInTransit: 1,
	StatusDelivered: 2,
}

// UpdateStatus advances the booking through its lifecycle. Transitions only
// move forward; re-entering delivered is allowed and re-runs the receivables
// recompute, which is idempotent.
func (s *Service) UpdateStatus(ctx context.Context, input UpdateStatusInput) (Booking, error) {
	if !input.Status.Valid() {
		return Booking{}, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, input.Status)
	}

	current, err := s.repo.Get(ctx, input.BookingID)
	if err != nil {
		return Booking{}, err
	}

	fromRank := statusRank[current.Status]
	toRank := statusRank[input.Status]
	if toRank < fromRank {
		return Booking{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, input.Status)
	}
	if toRank == fromRank && input.Status != StatusDelivered {
		return current, nil
	}

	if input.Status == StatusDelivered && input.DeliveryDate == nil {
		if current.DeliveryDate != nil {
			input.DeliveryDate = current.DeliveryDate
		} else {
			now := s.clock.Now()
			input.DeliveryDate = &now
		}
	}

	updated, err := s.repo.UpdateStatus(ctx, input)
	if err != nil {
		return Booking{}, err
	}

	if updated.Status == StatusDelivered && s.integration != nil {
		evt := DeliveredEvent{BookingID: updated.ID, DeliveredAt: *updated.DeliveryDate}
		if err := s.integration.HandleBookingDelivered(ctx, evt); err != nil {
			// Delivery already committed; the receivables recompute will run
			// again on the next save, so log instead of failing the request.
			s.logger.Error("booking delivered hook", slog.Any("error", err), slog.Int64("booking_id", updated.ID))
		}
	}

	return updated, nil
}

// Delete soft-deletes a booking. Rows are never physically removed.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if _, err := s.repo.Get(ctx, id); err != nil {
		return err
	}
	return s.repo.SoftDelete(ctx, id)
}
