package payment

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/cargodesk/cargodesk/internal/ar"
	"github.com/cargodesk/cargodesk/internal/booking"
)

type memoryPaymentRepo struct {
	payments map[int64]Payment
	nextID   int64
	now      func() time.Time
	// unsettled stands in for the join against unpaid receivables.
	unsettled func(Payment) bool
}

func newMemoryPaymentRepo() *memoryPaymentRepo {
	return &memoryPaymentRepo{payments: make(map[int64]Payment), now: time.Now}
}

func (r *memoryPaymentRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryPaymentTx{repo: r})
}

func (r *memoryPaymentRepo) Create(ctx context.Context, input InitiateInput) (Payment, error) {
	r.nextID++
	p := Payment{
		ID:        r.nextID,
		BookingID: input.BookingID,
		UserID:    input.UserID,
		Amount:    input.Amount.Round(2),
		Method:    input.Method,
		Status:    StatusPending,
		CreatedAt: r.now(),
		UpdatedAt: r.now(),
	}
	r.payments[p.ID] = p
	return p, nil
}

func (r *memoryPaymentRepo) Get(ctx context.Context, id int64) (Payment, error) {
	p, ok := r.payments[id]
	if !ok {
		return Payment{}, ErrNotFound
	}
	return p, nil
}

func (r *memoryPaymentRepo) SetCheckout(ctx context.Context, id int64, linkID, checkoutURL string) error {
	p, ok := r.payments[id]
	if !ok || p.Status != StatusPending {
		return ErrNotFound
	}
	p.Status = StatusProcessing
	p.ProviderLinkID = &linkID
	p.CheckoutURL = &checkoutURL
	r.payments[id] = p
	return nil
}

func (r *memoryPaymentRepo) ListProcessing(ctx context.Context, limit int) ([]Payment, error) {
	var out []Payment
	for _, p := range r.payments {
		if p.Status == StatusProcessing {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *memoryPaymentRepo) ListUnsettledCompleted(ctx context.Context, limit int) ([]Payment, error) {
	var out []Payment
	for _, p := range r.payments {
		if p.Status == StatusCompleted && r.unsettled != nil && r.unsettled(p) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (r *memoryPaymentRepo) CancelPendingBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var count int64
	for id, p := range r.payments {
		if p.Status == StatusPending && p.CreatedAt.Before(cutoff) {
			now := r.now()
			p.Status = StatusCancelled
			p.CancelledAt = &now
			r.payments[id] = p
			count++
		}
	}
	return count, nil
}

type memoryPaymentTx struct {
	repo *memoryPaymentRepo
}

func (t *memoryPaymentTx) GetByProviderLinkForUpdate(ctx context.Context, linkID string) (Payment, error) {
	for _, p := range t.repo.payments {
		if p.ProviderLinkID != nil && *p.ProviderLinkID == linkID {
			return p, nil
		}
	}
	return Payment{}, ErrNotFound
}

func (t *memoryPaymentTx) SetStatus(ctx context.Context, id int64, status Status, at time.Time) error {
	p, ok := t.repo.payments[id]
	if !ok {
		return ErrNotFound
	}
	p.Status = status
	switch status {
	case StatusCompleted:
		p.PaidAt = &at
	case StatusFailed:
		p.FailedAt = &at
	case StatusCancelled:
		p.CancelledAt = &at
	}
	t.repo.payments[id] = p
	return nil
}

type stubBookingPort struct {
	bookings map[int64]booking.Booking
}

func (s *stubBookingPort) Get(ctx context.Context, id int64) (booking.Booking, error) {
	b, ok := s.bookings[id]
	if !ok {
		return booking.Booking{}, booking.ErrNotFound
	}
	return b, nil
}

type stubReceivables struct {
	collectible decimal.Decimal
	paidCalls   []int64
	markErr     error
}

func (s *stubReceivables) CollectibleAmount(ctx context.Context, bookingID int64) (decimal.Decimal, error) {
	return s.collectible, nil
}

func (s *stubReceivables) MarkAsPaid(ctx context.Context, bookingID int64) (ar.Receivable, error) {
	if s.markErr != nil {
		return ar.Receivable{}, s.markErr
	}
	s.paidCalls = append(s.paidCalls, bookingID)
	return ar.Receivable{BookingID: bookingID, IsPaid: true}, nil
}

type stubProvider struct {
	link      PaymentLink
	createErr error
	status    string
	statusErr error
	created   int
}

func (s *stubProvider) CreatePaymentLink(ctx context.Context, amountMinorUnits int64, description string) (PaymentLink, error) {
	s.created++
	if s.createErr != nil {
		return PaymentLink{}, s.createErr
	}
	return s.link, nil
}

func (s *stubProvider) GetPaymentLinkStatus(ctx context.Context, linkID string) (string, error) {
	return s.status, s.statusErr
}

type stubNotifier struct {
	payments []Payment
}

func (s *stubNotifier) NotifyBankInstructions(ctx context.Context, p Payment) error {
	s.payments = append(s.payments, p)
	return nil
}

type testClock struct {
	at time.Time
}

func (c *testClock) Now() time.Time { return c.at }

type paymentFixture struct {
	svc         *Service
	repo        *memoryPaymentRepo
	receivables *stubReceivables
	provider    *stubProvider
	notifier    *stubNotifier
	clock       *testClock
}

func newPaymentFixture(t *testing.T) *paymentFixture {
	t.Helper()
	repo := newMemoryPaymentRepo()
	clock := &testClock{at: time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC)}
	repo.now = clock.Now
	receivables := &stubReceivables{collectible: decimal.NewFromInt(5000)}
	provider := &stubProvider{link: PaymentLink{ID: "link_123", CheckoutURL: "https://pay.example/link_123"}}
	notifier := &stubNotifier{}
	bookings := &stubBookingPort{bookings: map[int64]booking.Booking{
		1: {ID: 1, Number: "BKG-TEST01", UserID: 7},
	}}
	repo.unsettled = func(p Payment) bool {
		for _, bookingID := range receivables.paidCalls {
			if bookingID == p.BookingID {
				return false
			}
		}
		return true
	}
	svc := NewService(repo, bookings, receivables, provider, notifier, clock, nil, slog.Default())
	return &paymentFixture{svc: svc, repo: repo, receivables: receivables, provider: provider, notifier: notifier, clock: clock}
}

func TestInitiateRejectsAmountMismatch(t *testing.T) {
	f := newPaymentFixture(t)

	_, err := f.svc.Initiate(context.Background(), InitiateInput{
		BookingID: 1, UserID: 7, Method: MethodGCash, Amount: decimal.NewFromInt(4999),
	})

	var mismatch *AmountMismatchError
	require.ErrorAs(t, err, &mismatch)
	require.True(t, mismatch.Required.Equal(decimal.NewFromInt(5000)))
	require.True(t, mismatch.Submitted.Equal(decimal.NewFromInt(4999)))
}

func TestInitiateCreatesCheckout(t *testing.T) {
	f := newPaymentFixture(t)

	result, err := f.svc.Initiate(context.Background(), InitiateInput{
		BookingID: 1, UserID: 7, Method: MethodGCash, Amount: decimal.NewFromInt(5000),
	})
	require.NoError(t, err)
	require.Empty(t, result.CheckoutWarning)
	require.Equal(t, StatusProcessing, result.Payment.Status)
	require.NotNil(t, result.Payment.ProviderLinkID)
	require.Equal(t, "link_123", *result.Payment.ProviderLinkID)
	require.NotNil(t, result.Payment.CheckoutURL)
}

func TestInitiateCheckoutFailureLeavesPending(t *testing.T) {
	f := newPaymentFixture(t)
	f.provider.createErr = errors.New("provider unavailable")

	result, err := f.svc.Initiate(context.Background(), InitiateInput{
		BookingID: 1, UserID: 7, Method: MethodPayMongo, Amount: decimal.NewFromInt(5000),
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.CheckoutWarning)
	require.Equal(t, StatusPending, result.Payment.Status)

	stored, err := f.repo.Get(context.Background(), result.Payment.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPending, stored.Status)
}

func TestInitiateBankTransferNotifies(t *testing.T) {
	f := newPaymentFixture(t)

	result, err := f.svc.Initiate(context.Background(), InitiateInput{
		BookingID: 1, UserID: 7, Method: MethodBankTransfer, Amount: decimal.NewFromInt(5000),
	})
	require.NoError(t, err)
	require.Equal(t, StatusPending, result.Payment.Status)
	require.Zero(t, f.provider.created)
	require.Len(t, f.notifier.payments, 1)
	require.Equal(t, result.Payment.ID, f.notifier.payments[0].ID)
}

func TestInitiateRejectsForeignBooking(t *testing.T) {
	f := newPaymentFixture(t)

	_, err := f.svc.Initiate(context.Background(), InitiateInput{
		BookingID: 1, UserID: 99, Method: MethodGCash, Amount: decimal.NewFromInt(5000),
	})
	require.ErrorIs(t, err, ErrForbidden)
}

func TestInitiateUnknownMethod(t *testing.T) {
	f := newPaymentFixture(t)

	_, err := f.svc.Initiate(context.Background(), InitiateInput{
		BookingID: 1, UserID: 7, Method: Method("cheque"), Amount: decimal.NewFromInt(5000),
	})
	require.ErrorIs(t, err, ErrInvalidInput)
}

func initiateProcessing(t *testing.T, f *paymentFixture) Payment {
	t.Helper()
	result, err := f.svc.Initiate(context.Background(), InitiateInput{
		BookingID: 1, UserID: 7, Method: MethodGCash, Amount: decimal.NewFromInt(5000),
	})
	require.NoError(t, err)
	require.Equal(t, StatusProcessing, result.Payment.Status)
	return result.Payment
}

func TestReconcilePaidCompletesOnce(t *testing.T) {
	f := newPaymentFixture(t)
	p := initiateProcessing(t, f)

	outcome, err := f.svc.Reconcile(context.Background(), "link_123", "paid")
	require.NoError(t, err)
	require.Equal(t, OutcomeCompleted, outcome)
	require.Len(t, f.receivables.paidCalls, 1)
	require.Equal(t, p.BookingID, f.receivables.paidCalls[0])

	stored, err := f.repo.Get(context.Background(), p.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, stored.Status)
	require.NotNil(t, stored.PaidAt)

	// Redelivery of the same event converges to a no-op.
	outcome, err = f.svc.Reconcile(context.Background(), "link_123", "paid")
	require.NoError(t, err)
	require.Equal(t, OutcomeNoop, outcome)
	require.Len(t, f.receivables.paidCalls, 1)
}

func TestReconcileUnknownLinkIsNoop(t *testing.T) {
	f := newPaymentFixture(t)

	outcome, err := f.svc.Reconcile(context.Background(), "link_missing", "paid")
	require.NoError(t, err)
	require.Equal(t, OutcomeUnknown, outcome)
	require.Empty(t, f.receivables.paidCalls)
}

func TestReconcileUnmappedStatusIgnored(t *testing.T) {
	f := newPaymentFixture(t)
	initiateProcessing(t, f)

	outcome, err := f.svc.Reconcile(context.Background(), "link_123", "refunded")
	require.NoError(t, err)
	require.Equal(t, OutcomeNoop, outcome)
}

func TestReconcileExpiredFails(t *testing.T) {
	f := newPaymentFixture(t)
	p := initiateProcessing(t, f)

	outcome, err := f.svc.Reconcile(context.Background(), "link_123", "expired")
	require.NoError(t, err)
	require.Equal(t, OutcomeFailed, outcome)
	require.Empty(t, f.receivables.paidCalls)

	stored, err := f.repo.Get(context.Background(), p.ID)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, stored.Status)
	require.NotNil(t, stored.FailedAt)

	// Terminal states absorb later events.
	outcome, err = f.svc.Reconcile(context.Background(), "link_123", "paid")
	require.NoError(t, err)
	require.Equal(t, OutcomeNoop, outcome)
	require.Empty(t, f.receivables.paidCalls)
}

func TestPollReconcilesFromProvider(t *testing.T) {
	f := newPaymentFixture(t)
	p := initiateProcessing(t, f)
	f.provider.status = "paid"

	updated, outcome, err := f.svc.Poll(context.Background(), p.ID)
	require.NoError(t, err)
	require.Equal(t, OutcomeCompleted, outcome)
	require.Equal(t, StatusCompleted, updated.Status)
	require.Len(t, f.receivables.paidCalls, 1)
}

func TestPollWithoutProviderLink(t *testing.T) {
	f := newPaymentFixture(t)
	f.provider.createErr = errors.New("down")
	result, err := f.svc.Initiate(context.Background(), InitiateInput{
		BookingID: 1, UserID: 7, Method: MethodGCash, Amount: decimal.NewFromInt(5000),
	})
	require.NoError(t, err)

	_, _, err = f.svc.Poll(context.Background(), result.Payment.ID)
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestSweepStaleCancelsOldPending(t *testing.T) {
	f := newPaymentFixture(t)
	f.provider.createErr = errors.New("down")
	result, err := f.svc.Initiate(context.Background(), InitiateInput{
		BookingID: 1, UserID: 7, Method: MethodGCash, Amount: decimal.NewFromInt(5000),
	})
	require.NoError(t, err)

	f.clock.at = f.clock.at.Add(8 * 24 * time.Hour)
	require.NoError(t, f.svc.SweepStale(context.Background(), 7*24*time.Hour))

	stored, err := f.repo.Get(context.Background(), result.Payment.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, stored.Status)
	require.NotNil(t, stored.CancelledAt)
}

func TestSweepStaleSettlesLostReceivableUpdate(t *testing.T) {
	f := newPaymentFixture(t)
	p := initiateProcessing(t, f)

	f.receivables.markErr = errors.New("receivables down")
	_, err := f.svc.Reconcile(context.Background(), "link_123", "paid")
	require.Error(t, err)

	stored, err := f.repo.Get(context.Background(), p.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, stored.Status)
	require.Empty(t, f.receivables.paidCalls)

	// Redelivery hits the terminal guard; recovery belongs to the sweep.
	outcome, err := f.svc.Reconcile(context.Background(), "link_123", "paid")
	require.NoError(t, err)
	require.Equal(t, OutcomeNoop, outcome)
	require.Empty(t, f.receivables.paidCalls)

	f.receivables.markErr = nil
	require.NoError(t, f.svc.SweepStale(context.Background(), 7*24*time.Hour))
	require.Len(t, f.receivables.paidCalls, 1)
	require.Equal(t, p.BookingID, f.receivables.paidCalls[0])
}

func TestSweepStalePollsProcessing(t *testing.T) {
	f := newPaymentFixture(t)
	p := initiateProcessing(t, f)
	f.provider.status = "paid"

	require.NoError(t, f.svc.SweepStale(context.Background(), 7*24*time.Hour))

	stored, err := f.repo.Get(context.Background(), p.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, stored.Status)
	require.Len(t, f.receivables.paidCalls, 1)
}

type recordingInvalidator struct {
	calls int
}

func (r *recordingInvalidator) InvalidateDashboard(ctx context.Context) { r.calls++ }

func TestPaymentMutationsInvalidateDashboard(t *testing.T) {
	f := newPaymentFixture(t)
	reports := &recordingInvalidator{}
	f.svc.SetReportInvalidator(reports)

	initiateProcessing(t, f)
	require.Equal(t, 1, reports.calls)

	_, err := f.svc.Reconcile(context.Background(), "link_123", "paid")
	require.NoError(t, err)
	require.Equal(t, 2, reports.calls)

	// Redelivery converges to a no-op and leaves the cache alone.
	_, err = f.svc.Reconcile(context.Background(), "link_123", "paid")
	require.NoError(t, err)
	require.Equal(t, 2, reports.calls)
}
