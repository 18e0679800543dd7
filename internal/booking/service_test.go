package booking

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cargodesk/cargodesk/internal/shared"
)

type memoryBookingRepo struct {
	bookings map[int64]Booking
	numbers  map[string]bool
	nextID   int64
}

func newMemoryBookingRepo() *memoryBookingRepo {
	return &memoryBookingRepo{
		bookings: make(map[int64]Booking),
		numbers:  make(map[string]bool),
	}
}

func (r *memoryBookingRepo) Create(ctx context.Context, input CreateBookingInput, number string) (Booking, error) {
	if r.numbers[number] {
		return Booking{}, ErrDuplicateNumber
	}
	r.numbers[number] = true
	r.nextID++
	b := Booking{
		ID:                r.nextID,
		Number:            number,
		UserID:            input.UserID,
		OriginPortID:      input.OriginPortID,
		DestinationPortID: input.DestinationPortID,
		TermsDays:         input.TermsDays,
		Status:            StatusPending,
		CreatedAt:         time.Now(),
		UpdatedAt:         time.Now(),
	}
	r.bookings[b.ID] = b
	return b, nil
}

func (r *memoryBookingRepo) Get(ctx context.Context, id int64) (Booking, error) {
	b, ok := r.bookings[id]
	if !ok || b.DeletedAt != nil {
		return Booking{}, ErrNotFound
	}
	return b, nil
}

func (r *memoryBookingRepo) UpdateStatus(ctx context.Context, input UpdateStatusInput) (Booking, error) {
	b, ok := r.bookings[input.BookingID]
	if !ok {
		return Booking{}, ErrNotFound
	}
	b.Status = input.Status
	if input.DeliveryDate != nil {
		b.DeliveryDate = input.DeliveryDate
	}
	b.UpdatedAt = time.Now()
	r.bookings[b.ID] = b
	return b, nil
}

func (r *memoryBookingRepo) SoftDelete(ctx context.Context, id int64) error {
	b, ok := r.bookings[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now()
	b.DeletedAt = &now
	r.bookings[id] = b
	return nil
}

type recordingHook struct {
	events []DeliveredEvent
	err    error
}

func (h *recordingHook) HandleBookingDelivered(ctx context.Context, evt DeliveredEvent) error {
	h.events = append(h.events, evt)
	return h.err
}

func validInput() CreateBookingInput {
	return CreateBookingInput{UserID: 7, OriginPortID: 1, DestinationPortID: 2, TermsDays: 30}
}

func newBookingFixture(t *testing.T) (*Service, *memoryBookingRepo, *recordingHook) {
	t.Helper()
	repo := newMemoryBookingRepo()
	svc := NewService(repo, shared.SystemClock{}, slog.Default())
	hook := &recordingHook{}
	svc.SetIntegrationHandler(hook)
	return svc, repo, hook
}

func TestCreateBooking(t *testing.T) {
	svc, _, _ := newBookingFixture(t)

	b, err := svc.Create(context.Background(), validInput())
	require.NoError(t, err)
	require.Equal(t, StatusPending, b.Status)
	require.True(t, strings.HasPrefix(b.Number, "BKG-"))
	require.Len(t, b.Number, 10)
}

func TestCreateBookingValidation(t *testing.T) {
	svc, _, _ := newBookingFixture(t)

	cases := []CreateBookingInput{
		{OriginPortID: 1, DestinationPortID: 2, TermsDays: 30},
		{UserID: 7, DestinationPortID: 2},
		{UserID: 7, OriginPortID: 1},
		{UserID: 7, OriginPortID: 1, DestinationPortID: 2, TermsDays: -1},
	}
	for _, input := range cases {
		_, err := svc.Create(context.Background(), input)
		require.ErrorIs(t, err, ErrInvalidInput)
	}
}

func TestStatusTransitionsForwardOnly(t *testing.T) {
	svc, _, _ := newBookingFixture(t)

	b, err := svc.Create(context.Background(), validInput())
	require.NoError(t, err)

	b, err = svc.UpdateStatus(context.Background(), UpdateStatusInput{BookingID: b.ID, Status: StatusInTransit})
	require.NoError(t, err)
	require.Equal(t, StatusInTransit, b.Status)

	_, err = svc.UpdateStatus(context.Background(), UpdateStatusInput{BookingID: b.ID, Status: StatusPending})
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestDeliveredFiresIntegrationHook(t *testing.T) {
	svc, _, hook := newBookingFixture(t)

	b, err := svc.Create(context.Background(), validInput())
	require.NoError(t, err)

	b, err = svc.UpdateStatus(context.Background(), UpdateStatusInput{BookingID: b.ID, Status: StatusDelivered})
	require.NoError(t, err)
	require.Equal(t, StatusDelivered, b.Status)
	require.NotNil(t, b.DeliveryDate)

	require.Len(t, hook.events, 1)
	require.Equal(t, b.ID, hook.events[0].BookingID)
	require.True(t, hook.events[0].DeliveredAt.Equal(*b.DeliveryDate))
}

func TestDeliveredHookErrorDoesNotFailUpdate(t *testing.T) {
	svc, _, hook := newBookingFixture(t)
	hook.err = errors.New("receivables down")

	b, err := svc.Create(context.Background(), validInput())
	require.NoError(t, err)

	b, err = svc.UpdateStatus(context.Background(), UpdateStatusInput{BookingID: b.ID, Status: StatusDelivered})
	require.NoError(t, err)
	require.Equal(t, StatusDelivered, b.Status)
}

func TestDeliveredReentryKeepsOriginalDeliveryDate(t *testing.T) {
	svc, _, hook := newBookingFixture(t)

	b, err := svc.Create(context.Background(), validInput())
	require.NoError(t, err)

	delivered := time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)
	b, err = svc.UpdateStatus(context.Background(), UpdateStatusInput{BookingID: b.ID, Status: StatusDelivered, DeliveryDate: &delivered})
	require.NoError(t, err)

	b, err = svc.UpdateStatus(context.Background(), UpdateStatusInput{BookingID: b.ID, Status: StatusDelivered})
	require.NoError(t, err)
	require.True(t, b.DeliveryDate.Equal(delivered))
	require.Len(t, hook.events, 2)
}

func TestDeleteSoftDeletes(t *testing.T) {
	svc, _, _ := newBookingFixture(t)

	b, err := svc.Create(context.Background(), validInput())
	require.NoError(t, err)

	require.NoError(t, svc.Delete(context.Background(), b.ID))

	_, err = svc.Get(context.Background(), b.ID)
	require.ErrorIs(t, err, ErrNotFound)

	require.ErrorIs(t, svc.Delete(context.Background(), b.ID), ErrNotFound)
}
