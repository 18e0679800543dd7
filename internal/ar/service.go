package ar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/cargodesk/cargodesk/internal/booking"
	"github.com/cargodesk/cargodesk/internal/shared"
)

var (
	// ErrNotFound indicates no receivable exists for the booking.
	ErrNotFound = errors.New("receivable not found")
	// ErrInvalidInput indicates malformed charge-set input.
	ErrInvalidInput = errors.New("invalid receivable input")
)

// BookingPort exposes the read-only booking lookups the engine needs.
type BookingPort interface {
	Get(ctx context.Context, id int64) (booking.Booking, error)
}

// ExpensePort exposes the payables total for expense snapshotting.
type ExpensePort interface {
	TotalExpenses(ctx context.Context, bookingID int64) (decimal.Decimal, error)
}

// ReportInvalidator drops cached reporting aggregates after a financial
// mutation so the dashboard does not serve stale totals for a full TTL.
type ReportInvalidator interface {
	InvalidateDashboard(ctx context.Context)
}

// RepositoryPort defines data access methods for receivables.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error
	GetByBooking(ctx context.Context, bookingID int64) (Receivable, error)
}

// TxRepository exposes transactional operations. GetByBookingForUpdate takes
// a row lock so concurrent charge-set calls for one booking serialize.
type TxRepository interface {
	GetByBookingForUpdate(ctx context.Context, bookingID int64) (Receivable, error)
	Insert(ctx context.Context, rec *Receivable) error
	Update(ctx context.Context, rec Receivable) error
	ReplaceCharges(ctx context.Context, receivableID int64, lines []ChargeLine) error
}

// Service owns invoicing, aging and collectible-balance computation.
type Service struct {
	repo     RepositoryPort
	bookings BookingPort
	expenses ExpensePort
	clock    shared.Clock
	audit    *shared.AuditLogger
	logger   *slog.Logger
	reports  ReportInvalidator
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
func NewService(repo RepositoryPort, bookings BookingPort, expenses ExpensePort, clock shared.Clock, audit *shared.AuditLogger, logger *slog.Logger) *Service {
	return &Service{repo: repo, bookings: bookings, expenses: expenses, clock: clock, audit: audit, logger: logger}
}

// SetCharges replaces the billed amount and charge lines for a booking. The
// receivable is created lazily on the first call; later calls reuse the row
// and overwrite total_payment and charges outright. This is the opposite of
// the payables ledger, which merges amounts cumulatively.
func (s *Service) SetCharges(ctx context.Context, input SetChargesInput) (Receivable, error) {
	if input.TotalPayment.IsNegative() {
		return Receivable{}, fmt.Errorf("%w: total payment must not be negative", ErrInvalidInput)
	}
	for i, line := range input.Charges {
		if !line.Kind.Valid() {
			return Receivable{}, fmt.Errorf("%w: charge %d has unknown type %q", ErrInvalidInput, i, line.Kind)
		}
		if line.Amount.IsNegative() {
			return Receivable{}, fmt.Errorf("%w: charge %d amount must not be negative", ErrInvalidInput, i)
		}
	}

	b, err := s.bookings.Get(ctx, input.BookingID)
	if err != nil {
		return Receivable{}, err
	}

	var rec Receivable
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		existing, err := tx.GetByBookingForUpdate(ctx, input.BookingID)
		created := false
		switch {
		case errors.Is(err, ErrNotFound):
			// Expenses are snapshotted once, when the receivable is born.
			snapshot, err := s.expenses.TotalExpenses(ctx, input.BookingID)
			if err != nil {
				return err
			}
			existing = Receivable{BookingID: input.BookingID, TotalExpenses: snapshot.Round(2)}
			created = true
		case err != nil:
			return err
		}

		existing.TotalPayment = input.TotalPayment.Round(2)
		existing.Charges = roundCharges(input.Charges)
		existing.IsPaid = false
		existing.Recompute(b, s.clock.Now())

		if created {
			if err := tx.Insert(ctx, &existing); err != nil {
				return err
			}
		} else if err := tx.Update(ctx, existing); err != nil {
			return err
		}
		if err := tx.ReplaceCharges(ctx, existing.ID, existing.Charges); err != nil {
			return err
		}
		rec = existing
		return nil
	})
	if err != nil {
		return Receivable{}, err
	}

	s.recordAudit(ctx, input.ActorID, "ar.set_charges", rec.BookingID, map[string]any{
		"total_payment": rec.TotalPayment.String(),
		"charge_lines":  len(rec.Charges),
	})
	s.invalidateReports(ctx)
	return rec, nil
}

// MarkAsPaid settles the receivable for a booking. Idempotent: a second call
// observes is_paid and leaves the row untouched.
func (s *Service) MarkAsPaid(ctx context.Context, bookingID int64) (Receivable, error) {
	var rec Receivable
	var alreadyPaid bool
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		existing, err := tx.GetByBookingForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		if existing.IsPaid {
			rec = existing
			alreadyPaid = true
			return nil
		}
		existing.markPaid()
		if err := tx.Update(ctx, existing); err != nil {
			return err
		}
		rec = existing
		return nil
	})
	if err != nil {
		return Receivable{}, err
	}

	if !alreadyPaid {
		s.recordAudit(ctx, 0, "ar.mark_paid", bookingID, nil)
		s.invalidateReports(ctx)
	}
	return rec, nil
}

// HandleBookingDelivered re-runs the full recompute pipeline when a booking
// reaches delivered. Bookings without a receivable yet are a no-op: the row
// only ever comes into existence through SetCharges.
func (s *Service) HandleBookingDelivered(ctx context.Context, evt booking.DeliveredEvent) error {
	b, err := s.bookings.Get(ctx, evt.BookingID)
	if err != nil {
		return err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		rec, err := tx.GetByBookingForUpdate(ctx, evt.BookingID)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		rec.Recompute(b, s.clock.Now())
		return tx.Update(ctx, rec)
	})
	return err
}

// Get returns the receivable for a booking.
func (s *Service) Get(ctx context.Context, bookingID int64) (Receivable, error) {
	return s.repo.GetByBooking(ctx, bookingID)
}

// CollectibleAmount returns the amount still owed for a booking.
func (s *Service) CollectibleAmount(ctx context.Context, bookingID int64) (decimal.Decimal, error) {
	rec, err := s.repo.GetByBooking(ctx, bookingID)
	if err != nil {
		return decimal.Zero, err
	}
	return rec.CollectibleAmount, nil
}

func roundCharges(lines []ChargeLine) []ChargeLine {
	out := make([]ChargeLine, len(lines))
	for i, line := range lines {
		line.Amount = line.Amount.Round(2)
		line.Markup = line.Markup.Round(2)
		line.MarkupAmount = line.MarkupAmount.Round(2)
		line.Total = line.Total.Round(2)
		out[i] = line
	}
	return out
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, bookingID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "receivable",
		EntityID: strconv.FormatInt(bookingID, 10),
		Meta:     meta,
	})
	if err != nil {
		s.logger.Warn("audit record", slog.Any("error", err), slog.String("action", action))
	}
}
