package ar

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/cargodesk/cargodesk/internal/booking"
)

type memoryARRepo struct {
	recs    map[int64]Receivable
	charges map[int64][]ChargeLine
	nextID  int64
}

func newMemoryARRepo() *memoryARRepo {
	return &memoryARRepo{
		recs:    make(map[int64]Receivable),
		charges: make(map[int64][]ChargeLine),
	}
}

func (r *memoryARRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryARTx{repo: r})
}

func (r *memoryARRepo) GetByBooking(ctx context.Context, bookingID int64) (Receivable, error) {
	rec, ok := r.recs[bookingID]
	if !ok {
		return Receivable{}, ErrNotFound
	}
	rec.Charges = append([]ChargeLine(nil), r.charges[rec.ID]...)
	return rec, nil
}

type memoryARTx struct {
	repo *memoryARRepo
}

func (t *memoryARTx) GetByBookingForUpdate(ctx context.Context, bookingID int64) (Receivable, error) {
	return t.repo.GetByBooking(ctx, bookingID)
}

func (t *memoryARTx) Insert(ctx context.Context, rec *Receivable) error {
	t.repo.nextID++
	rec.ID = t.repo.nextID
	t.repo.recs[rec.BookingID] = *rec
	return nil
}

func (t *memoryARTx) Update(ctx context.Context, rec Receivable) error {
	if _, ok := t.repo.recs[rec.BookingID]; !ok {
		return ErrNotFound
	}
	t.repo.recs[rec.BookingID] = rec
	return nil
}

func (t *memoryARTx) ReplaceCharges(ctx context.Context, receivableID int64, lines []ChargeLine) error {
	t.repo.charges[receivableID] = append([]ChargeLine(nil), lines...)
	return nil
}

type stubBookings struct {
	bookings map[int64]booking.Booking
}

func (s *stubBookings) Get(ctx context.Context, id int64) (booking.Booking, error) {
	b, ok := s.bookings[id]
	if !ok {
		return booking.Booking{}, booking.ErrNotFound
	}
	return b, nil
}

type stubExpenses struct {
	total decimal.Decimal
}

func (s *stubExpenses) TotalExpenses(ctx context.Context, bookingID int64) (decimal.Decimal, error) {
	return s.total, nil
}

type testClock struct {
	at time.Time
}

func (c *testClock) Now() time.Time { return c.at }

var day0 = time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)

func deliveredBooking(id int64, terms int) booking.Booking {
	delivered := day0
	return booking.Booking{
		ID:           id,
		Number:       "BKG-TEST01",
		UserID:       7,
		TermsDays:    terms,
		Status:       booking.StatusDelivered,
		DeliveryDate: &delivered,
		UpdatedAt:    day0,
	}
}

func newARFixture(t *testing.T, b booking.Booking, expenses decimal.Decimal) (*Service, *memoryARRepo, *testClock) {
	t.Helper()
	repo := newMemoryARRepo()
	clock := &testClock{at: day0}
	svc := NewService(
		repo,
		&stubBookings{bookings: map[int64]booking.Booking{b.ID: b}},
		&stubExpenses{total: expenses},
		clock,
		nil,
		slog.Default(),
	)
	return svc, repo, clock
}

func TestSetChargesCreatesReceivable(t *testing.T) {
	svc, _, _ := newARFixture(t, deliveredBooking(1, 30), decimal.NewFromInt(300))

	rec, err := svc.SetCharges(context.Background(), SetChargesInput{
		BookingID:    1,
		TotalPayment: decimal.NewFromInt(10000),
		Charges: []ChargeLine{
			{Description: "Ocean freight", Kind: ChargeFreight, Amount: decimal.NewFromInt(8000), Markup: decimal.NewFromInt(10), MarkupAmount: decimal.NewFromInt(800), Total: decimal.NewFromInt(8800)},
			{Description: "Trucking MNL", Kind: ChargeTrucking, Amount: decimal.NewFromInt(1200), Total: decimal.NewFromInt(1200)},
		},
	})
	require.NoError(t, err)

	require.NotNil(t, rec.InvoiceDate)
	require.NotNil(t, rec.DueDate)
	require.True(t, rec.InvoiceDate.Equal(day0))
	require.True(t, rec.DueDate.Equal(day0.AddDate(0, 0, 30)))

	require.True(t, rec.TotalPayment.Equal(decimal.NewFromInt(10000)))
	require.True(t, rec.CollectibleAmount.Equal(decimal.NewFromInt(10000)))
	require.True(t, rec.GrossIncome.Equal(decimal.NewFromInt(10000)))
	require.True(t, rec.NetRevenue.Equal(decimal.NewFromInt(9700)))
	require.True(t, rec.Profit.Equal(rec.NetRevenue))
	require.Equal(t, BucketCurrent, rec.AgingBucket)
	require.False(t, rec.IsOverdue)
	require.Len(t, rec.Charges, 2)
}

func TestFinancialIdentityHolds(t *testing.T) {
	svc, _, _ := newARFixture(t, deliveredBooking(1, 15), decimal.NewFromFloat(1234.56))

	rec, err := svc.SetCharges(context.Background(), SetChargesInput{
		BookingID:    1,
		TotalPayment: decimal.NewFromFloat(9999.99),
	})
	require.NoError(t, err)

	require.True(t, rec.NetRevenue.Equal(rec.TotalPayment.Sub(rec.TotalExpenses)))
	require.True(t, rec.Profit.Equal(rec.NetRevenue))
}

func TestAgingAfterDueDate(t *testing.T) {
	svc, _, clock := newARFixture(t, deliveredBooking(1, 30), decimal.Zero)

	_, err := svc.SetCharges(context.Background(), SetChargesInput{
		BookingID:    1,
		TotalPayment: decimal.NewFromInt(10000),
	})
	require.NoError(t, err)

	// Day 45: due date was day 30, so the receivable is 15 days past due.
	clock.at = day0.AddDate(0, 0, 45)
	err = svc.HandleBookingDelivered(context.Background(), booking.DeliveredEvent{BookingID: 1, DeliveredAt: day0})
	require.NoError(t, err)

	rec, err := svc.Get(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, 15, rec.AgingDays)
	require.Equal(t, Bucket1To30, rec.AgingBucket)
	require.True(t, rec.IsOverdue)
}

func TestAgingBucketBoundaries(t *testing.T) {
	cases := []struct {
		daysAfterDelivery int
		wantDays          int
		wantBucket        AgingBucket
	}{
		{30, 0, BucketCurrent},
		{31, 1, Bucket1To30},
		{75, 45, Bucket31To60},
		{100, 70, Bucket61To90},
		{125, 95, BucketOver90},
	}

	for _, tc := range cases {
		svc, _, clock := newARFixture(t, deliveredBooking(1, 30), decimal.Zero)
		_, err := svc.SetCharges(context.Background(), SetChargesInput{
			BookingID:    1,
			TotalPayment: decimal.NewFromInt(500),
		})
		require.NoError(t, err)

		clock.at = day0.AddDate(0, 0, tc.daysAfterDelivery)
		require.NoError(t, svc.HandleBookingDelivered(context.Background(), booking.DeliveredEvent{BookingID: 1, DeliveredAt: day0}))

		rec, err := svc.Get(context.Background(), 1)
		require.NoError(t, err)
		require.Equal(t, tc.wantDays, rec.AgingDays, "days after delivery: %d", tc.daysAfterDelivery)
		require.Equal(t, tc.wantBucket, rec.AgingBucket, "days after delivery: %d", tc.daysAfterDelivery)
	}
}

func TestSetChargesReplacesNotMerges(t *testing.T) {
	svc, _, _ := newARFixture(t, deliveredBooking(1, 30), decimal.NewFromInt(100))

	_, err := svc.SetCharges(context.Background(), SetChargesInput{
		BookingID:    1,
		TotalPayment: decimal.NewFromInt(10000),
		Charges: []ChargeLine{
			{Description: "Ocean freight", Kind: ChargeFreight, Amount: decimal.NewFromInt(10000), Total: decimal.NewFromInt(10000)},
		},
	})
	require.NoError(t, err)

	rec, err := svc.SetCharges(context.Background(), SetChargesInput{
		BookingID:    1,
		TotalPayment: decimal.NewFromInt(4000),
		Charges: []ChargeLine{
			{Description: "Port handling", Kind: ChargePort, Amount: decimal.NewFromInt(4000), Total: decimal.NewFromInt(4000)},
		},
	})
	require.NoError(t, err)

	require.True(t, rec.TotalPayment.Equal(decimal.NewFromInt(4000)))
	require.True(t, rec.CollectibleAmount.Equal(decimal.NewFromInt(4000)))
	require.Len(t, rec.Charges, 1)
	require.Equal(t, ChargePort, rec.Charges[0].Kind)
}

func TestSetChargesKeepsExpenseSnapshot(t *testing.T) {
	repo := newMemoryARRepo()
	clock := &testClock{at: day0}
	expenses := &stubExpenses{total: decimal.NewFromInt(300)}
	b := deliveredBooking(1, 30)
	svc := NewService(repo, &stubBookings{bookings: map[int64]booking.Booking{1: b}}, expenses, clock, nil, slog.Default())

	_, err := svc.SetCharges(context.Background(), SetChargesInput{BookingID: 1, TotalPayment: decimal.NewFromInt(1000)})
	require.NoError(t, err)

	// Payables grew afterwards; the snapshot must not move.
	expenses.total = decimal.NewFromInt(900)
	rec, err := svc.SetCharges(context.Background(), SetChargesInput{BookingID: 1, TotalPayment: decimal.NewFromInt(2000)})
	require.NoError(t, err)
	require.True(t, rec.TotalExpenses.Equal(decimal.NewFromInt(300)))
	require.True(t, rec.NetRevenue.Equal(decimal.NewFromInt(1700)))
}

func TestSetChargesRejectsUnknownKind(t *testing.T) {
	svc, _, _ := newARFixture(t, deliveredBooking(1, 30), decimal.Zero)

	_, err := svc.SetCharges(context.Background(), SetChargesInput{
		BookingID:    1,
		TotalPayment: decimal.NewFromInt(100),
		Charges: []ChargeLine{
			{Description: "Mystery", Kind: ChargeKind("handling"), Amount: decimal.NewFromInt(100), Total: decimal.NewFromInt(100)},
		},
	})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestSetChargesResetsPaidFlag(t *testing.T) {
	svc, _, _ := newARFixture(t, deliveredBooking(1, 30), decimal.Zero)

	_, err := svc.SetCharges(context.Background(), SetChargesInput{BookingID: 1, TotalPayment: decimal.NewFromInt(500)})
	require.NoError(t, err)
	_, err = svc.MarkAsPaid(context.Background(), 1)
	require.NoError(t, err)

	rec, err := svc.SetCharges(context.Background(), SetChargesInput{BookingID: 1, TotalPayment: decimal.NewFromInt(800)})
	require.NoError(t, err)
	require.False(t, rec.IsPaid)
	require.True(t, rec.CollectibleAmount.Equal(decimal.NewFromInt(800)))
}

func TestMarkAsPaidIdempotent(t *testing.T) {
	svc, _, _ := newARFixture(t, deliveredBooking(1, 30), decimal.Zero)

	_, err := svc.SetCharges(context.Background(), SetChargesInput{BookingID: 1, TotalPayment: decimal.NewFromInt(5000)})
	require.NoError(t, err)

	rec, err := svc.MarkAsPaid(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, rec.IsPaid)
	require.True(t, rec.CollectibleAmount.IsZero())
	require.Equal(t, 0, rec.AgingDays)
	require.Equal(t, BucketCurrent, rec.AgingBucket)
	require.False(t, rec.IsOverdue)

	again, err := svc.MarkAsPaid(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, again.IsPaid)
	require.True(t, again.CollectibleAmount.IsZero())
}

func TestMarkAsPaidMissingReceivable(t *testing.T) {
	svc, _, _ := newARFixture(t, deliveredBooking(1, 30), decimal.Zero)

	_, err := svc.MarkAsPaid(context.Background(), 42)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeliveredHookWithoutReceivableIsNoop(t *testing.T) {
	svc, repo, _ := newARFixture(t, deliveredBooking(1, 30), decimal.Zero)

	err := svc.HandleBookingDelivered(context.Background(), booking.DeliveredEvent{BookingID: 1, DeliveredAt: day0})
	require.NoError(t, err)
	require.Empty(t, repo.recs)
}

func TestPendingBookingHasNoInvoiceDates(t *testing.T) {
	b := booking.Booking{ID: 1, UserID: 7, TermsDays: 30, Status: booking.StatusPending, UpdatedAt: day0}
	svc, _, _ := newARFixture(t, b, decimal.Zero)

	rec, err := svc.SetCharges(context.Background(), SetChargesInput{BookingID: 1, TotalPayment: decimal.NewFromInt(100)})
	require.NoError(t, err)
	require.Nil(t, rec.InvoiceDate)
	require.Nil(t, rec.DueDate)
	require.Equal(t, BucketCurrent, rec.AgingBucket)
}

func TestCollectibleAmount(t *testing.T) {
	svc, _, _ := newARFixture(t, deliveredBooking(1, 30), decimal.Zero)

	_, err := svc.SetCharges(context.Background(), SetChargesInput{BookingID: 1, TotalPayment: decimal.NewFromInt(5000)})
	require.NoError(t, err)

	amount, err := svc.CollectibleAmount(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, amount.Equal(decimal.NewFromInt(5000)))

	_, err = svc.MarkAsPaid(context.Background(), 1)
	require.NoError(t, err)

	amount, err = svc.CollectibleAmount(context.Background(), 1)
	require.NoError(t, err)
	require.True(t, amount.IsZero())
}

type recordingInvalidator struct {
	calls int
}

func (r *recordingInvalidator) InvalidateDashboard(ctx context.Context) { r.calls++ }

func TestFinancialMutationsInvalidateDashboard(t *testing.T) {
	svc, _, _ := newARFixture(t, deliveredBooking(1, 30), decimal.Zero)
	reports := &recordingInvalidator{}
	svc.SetReportInvalidator(reports)

	_, err := svc.SetCharges(context.Background(), SetChargesInput{BookingID: 1, TotalPayment: decimal.NewFromInt(5000)})
	require.NoError(t, err)
	require.Equal(t, 1, reports.calls)

	_, err = svc.MarkAsPaid(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, 2, reports.calls)

	// A repeated settlement is a no-op and leaves the cache alone.
	_, err = svc.MarkAsPaid(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, 2, reports.calls)
}
