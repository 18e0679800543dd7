package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cargodesk/cargodesk/internal/ar"
	"github.com/cargodesk/cargodesk/internal/booking"
	"github.com/cargodesk/cargodesk/internal/shared"
)

var (
	// ErrNotFound indicates the payment does not exist.
	ErrNotFound = errors.New("payment not found")
	// ErrForbidden indicates the booking belongs to another user.
	ErrForbidden = errors.New("booking does not belong to user")
	// ErrInvalidInput indicates malformed payment input.
	ErrInvalidInput = errors.New("invalid payment input")
)

// AmountMismatchError rejects a payment whose amount differs from the
// receivable's collectible balance. Full-amount payments only.
type AmountMismatchError struct {
	Required  decimal.Decimal
	Submitted decimal.Decimal
}

func (e *AmountMismatchError) Error() string {
	return fmt.Sprintf("payment amount must equal collectible amount: required %s, submitted %s",
		e.Required.StringFixed(2), e.Submitted.StringFixed(2))
}

// BookingPort exposes the booking lookup used for ownership checks.
type BookingPort interface {
	Get(ctx context.Context, id int64) (booking.Booking, error)
}

// ReceivablePort is the slice of the receivable service a payment needs:
// the collectible balance to validate against and the paid transition to
// apply on completion.
type ReceivablePort interface {
	CollectibleAmount(ctx context.Context, bookingID int64) (decimal.Decimal, error)
	MarkAsPaid(ctx context.Context, bookingID int64) (ar.Receivable, error)
}

// ReportInvalidator drops cached reporting aggregates after a financial
// mutation so the dashboard does not serve stale totals for a full TTL.
type ReportInvalidator interface {
	InvalidateDashboard(ctx context.Context)
}

// Notifier dispatches out-of-band payment instructions.
type Notifier interface {
	NotifyBankInstructions(ctx context.Context, p Payment) error
}

// RepositoryPort defines data access methods for payments.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error
	Create(ctx context.Context, input InitiateInput) (Payment, error)
	Get(ctx context.Context, id int64) (Payment, error)
	SetCheckout(ctx context.Context, id int64, linkID, checkoutURL string) error
	ListProcessing(ctx context.Context, limit int) ([]Payment, error)
	ListUnsettledCompleted(ctx context.Context, limit int) ([]Payment, error)
	CancelPendingBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// TxRepository exposes the transactional reconciliation path. The row lock
// makes the already-terminal guard and the status write atomic, which is what
// resolves the webhook-vs-poll race.
type TxRepository interface {
	GetByProviderLinkForUpdate(ctx context.Context, linkID string) (Payment, error)
	SetStatus(ctx context.Context, id int64, status Status, at time.Time) error
}

// Service owns payment attempts and their reconciliation with the provider.
type Service struct {
	repo        RepositoryPort
	bookings    BookingPort
	receivables ReceivablePort
	provider    Provider
	notifier    Notifier
	clock       shared.Clock
	audit       *shared.AuditLogger
	logger      *slog.Logger
	reports     ReportInvalidator
}

// SetReportInvalidator attaches the reporting cache invalidation hook.
func (s *Service) SetReportInvalidator(reports ReportInvalidator) {
	s.reports = reports
}

func (s *Service) invalidateReports(ctx context.Context) {
	if s.reports != nil {
		s.reports.InvalidateDashboard(ctx)
	}
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, bookings BookingPort, receivables ReceivablePort, provider Provider, notifier Notifier, clock shared.Clock, audit *shared.AuditLogger, logger *slog.Logger) *Service {
	return &Service{
		repo:        repo,
		bookings:    bookings,
		receivables: receivables,
		provider:    provider,
		notifier:    notifier,
		clock:       clock,
		audit:       audit,
		logger:      logger,
	}
}

// Initiate creates a payment attempt. The amount must equal the receivable's
// collectible balance exactly. Provider checkout failure is surfaced as a
// warning, not an error: the pending row survives so checkout can be retried.
func (s *Service) Initiate(ctx context.Context, input InitiateInput) (InitiateResult, error) {
	if !input.Method.Valid() {
		return InitiateResult{}, fmt.Errorf("%w: unknown payment method %q", ErrInvalidInput, input.Method)
	}

	b, err := s.bookings.Get(ctx, input.BookingID)
	if err != nil {
		return InitiateResult{}, err
	}
	if input.UserID != 0 && b.UserID != input.UserID {
		return InitiateResult{}, ErrForbidden
	}

	required, err := s.receivables.CollectibleAmount(ctx, input.BookingID)
	if err != nil {
		return InitiateResult{}, err
	}
	if !input.Amount.Equal(required) {
		return InitiateResult{}, &AmountMismatchError{Required: required, Submitted: input.Amount}
	}

	p, err := s.repo.Create(ctx, input)
	if err != nil {
		return InitiateResult{}, err
	}
	s.recordAudit(ctx, input.UserID, "payment.initiate", p, nil)
	s.invalidateReports(ctx)

	if !input.Method.UsesProvider() {
		if s.notifier != nil {
			if err := s.notifier.NotifyBankInstructions(ctx, p); err != nil {
				s.logger.Warn("bank instructions notify", slog.Int64("payment_id", p.ID), slog.Any("error", err))
			}
		}
		return InitiateResult{Payment: p}, nil
	}

	// The provider call runs outside any transaction; nothing is locked
	// while we wait on the network.
	link, err := s.provider.CreatePaymentLink(ctx, p.Amount.Mul(decimal.NewFromInt(100)).IntPart(), "CargoDesk booking "+b.Number)
	if err != nil {
		s.logger.Error("checkout creation", slog.Int64("payment_id", p.ID), slog.Any("error", err))
		return InitiateResult{Payment: p, CheckoutWarning: "checkout link creation failed, payment stays pending: " + err.Error()}, nil
	}

	if err := s.repo.SetCheckout(ctx, p.ID, link.ID, link.CheckoutURL); err != nil {
		return InitiateResult{}, err
	}
	p.Status = StatusProcessing
	p.ProviderLinkID = &link.ID
	p.CheckoutURL = &link.CheckoutURL
	return InitiateResult{Payment: p}, nil
}

// Get returns one payment by id.
func (s *Service) Get(ctx context.Context, id int64) (Payment, error) {
	return s.repo.Get(ctx, id)
}

// Reconcile converges a payment onto a provider-reported status. Webhook
// push and manual poll both land here; whichever arrives first wins the
// terminal transition and the loser is a no-op.
func (s *Service) Reconcile(ctx context.Context, providerLinkID, providerStatus string) (ReconcileOutcome, error) {
	mapped, ok := MapProviderStatus(providerStatus)
	if !ok {
		s.logger.Info("unmapped provider status ignored",
			slog.String("provider_link_id", providerLinkID), slog.String("status", providerStatus))
		return OutcomeNoop, nil
	}

	outcome := OutcomeNoop
	var completed Payment

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetByProviderLinkForUpdate(ctx, providerLinkID)
		if errors.Is(err, ErrNotFound) {
			// At-least-once delivery means stale or foreign link ids
			// show up here. Acknowledge and move on.
			s.logger.Info("reconcile for unknown provider link",
				slog.String("provider_link_id", providerLinkID))
			outcome = OutcomeUnknown
			return nil
		}
		if err != nil {
			return err
		}
		if p.Status.Terminal() {
			outcome = OutcomeNoop
			return nil
		}

		now := s.clock.Now()
		switch mapped {
		case StatusCompleted:
			if err := tx.SetStatus(ctx, p.ID, StatusCompleted, now); err != nil {
				return err
			}
			completed = p
			outcome = OutcomeCompleted
		case StatusFailed:
			if err := tx.SetStatus(ctx, p.ID, StatusFailed, now); err != nil {
				return err
			}
			outcome = OutcomeFailed
		case StatusProcessing:
			if p.Status == StatusPending {
				if err := tx.SetStatus(ctx, p.ID, StatusProcessing, now); err != nil {
					return err
				}
				outcome = OutcomeSynced
			}
		}
		return nil
	})
	if err != nil {
		return OutcomeNoop, err
	}

	if outcome == OutcomeCompleted {
		if _, err := s.receivables.MarkAsPaid(ctx, completed.BookingID); err != nil {
			// The payment row is already completed and a redelivered event
			// hits the terminal guard, so surface the failure; the sweep
			// re-applies the paid transition for completed payments whose
			// receivable is still unpaid.
			return outcome, fmt.Errorf("mark receivable paid for booking %d: %w", completed.BookingID, err)
		}
		s.recordAudit(ctx, 0, "payment.completed", completed, map[string]any{"provider_link_id": providerLinkID})
	}
	if outcome == OutcomeCompleted || outcome == OutcomeFailed || outcome == OutcomeSynced {
		s.invalidateReports(ctx)
	}
	return outcome, nil
}

// Poll asks the provider for the link's current status and reconciles it.
func (s *Service) Poll(ctx context.Context, paymentID int64) (Payment, ReconcileOutcome, error) {
	p, err := s.repo.Get(ctx, paymentID)
	if err != nil {
		return Payment{}, OutcomeNoop, err
	}
	if p.ProviderLinkID == nil {
		return p, OutcomeNoop, fmt.Errorf("%w: payment has no provider link", ErrInvalidInput)
	}
	if p.Status.Terminal() {
		return p, OutcomeNoop, nil
	}

	status, err := s.provider.GetPaymentLinkStatus(ctx, *p.ProviderLinkID)
	if err != nil {
		return Payment{}, OutcomeNoop, fmt.Errorf("poll provider: %w", err)
	}

	outcome, err := s.Reconcile(ctx, *p.ProviderLinkID, status)
	if err != nil {
		return Payment{}, outcome, err
	}
	p, err = s.repo.Get(ctx, paymentID)
	return p, outcome, err
}

// SweepStale polls every processing payment against the provider, re-applies
// the paid transition for completed payments whose receivable update was lost
// to a transient failure, and cancels pending attempts older than the TTL
// that never reached checkout.
func (s *Service) SweepStale(ctx context.Context, pendingTTL time.Duration) error {
	processing, err := s.repo.ListProcessing(ctx, 200)
	if err != nil {
		return err
	}
	for _, p := range processing {
		if p.ProviderLinkID == nil {
			continue
		}
		if _, _, err := s.Poll(ctx, p.ID); err != nil {
			s.logger.Warn("sweep poll", slog.Int64("payment_id", p.ID), slog.Any("error", err))
		}
	}

	unsettled, err := s.repo.ListUnsettledCompleted(ctx, 200)
	if err != nil {
		return err
	}
	for _, p := range unsettled {
		if _, err := s.receivables.MarkAsPaid(ctx, p.BookingID); err != nil {
			s.logger.Warn("sweep settle receivable",
				slog.Int64("payment_id", p.ID), slog.Int64("booking_id", p.BookingID), slog.Any("error", err))
		}
	}

	cutoff := s.clock.Now().Add(-pendingTTL)
	cancelled, err := s.repo.CancelPendingBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	if cancelled > 0 {
		s.logger.Info("stale pending payments cancelled", slog.Int64("count", cancelled))
		s.invalidateReports(ctx)
	}
	return nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, p Payment, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["booking_id"] = p.BookingID
	meta["amount"] = p.Amount.String()
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "payment",
		EntityID: strconv.FormatInt(p.ID, 10),
		Meta:     meta,
	})
	if err != nil {
		s.logger.Warn("audit record", slog.Any("error", err), slog.String("action", action))
	}
}
