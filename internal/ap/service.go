package ap

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
	// ErrNotFound indicates no payable exists for the booking.
	ErrNotFound = errors.New("payable not found")
	// ErrChargeNotFound indicates the charge row does not exist.
	ErrChargeNotFound = errors.New("charge not found")
	// ErrDuplicateVoucher indicates a voucher number collision.
	ErrDuplicateVoucher = errors.New("voucher number already taken")
	// ErrInvalidInput indicates malformed charge input.
	ErrInvalidInput = errors.New("invalid payable input")
)

// BookingPort exposes the booking lookup needed before accepting charges.
type BookingPort interface {
	Get(ctx context.Context, id int64) (booking.Booking, error)
}

// RepositoryPort defines data access methods for payables.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error
	GetByBooking(ctx context.Context, bookingID int64) (Payable, error)
	GetByID(ctx context.Context, id int64) (Payable, error)
}

// TxRepository exposes transactional operations. The payable row lock
// serializes concurrent charge submissions for one booking so the
// merge-then-write of each category cannot lose updates.
type TxRepository interface {
	GetByBookingForUpdate(ctx context.Context, bookingID int64) (Payable, error)
	GetByIDForUpdate(ctx context.Context, id int64) (Payable, error)
	CreatePayable(ctx context.Context, bookingID int64, voucher string) (int64, error)
	InsertCharge(ctx context.Context, payableID int64, c Charge) error
	UpdateCharge(ctx context.Context, c Charge) error
	SetPaid(ctx context.Context, payableID int64, isPaid bool) error
}

// ReportInvalidator drops cached reporting aggregates after a financial
// mutation so the dashboard does not serve stale totals for a full TTL.
type ReportInvalidator interface {
	InvalidateDashboard(ctx context.Context)
}

// Service owns the vendor charge ledger.
type Service struct {
	repo     RepositoryPort
	bookings BookingPort
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
func NewService(repo RepositoryPort, bookings BookingPort, audit *shared.AuditLogger, logger *slog.Logger) *Service {
	return &Service{repo: repo, bookings: bookings, audit: audit, logger: logger}
}

const voucherAttempts = 5

// AddCharges merges a charge set into the booking's ledger. The first call
// creates the payable with a fresh voucher number; later calls add amounts
// to existing rows of the same category and type. Returns the full payable
// and whether the record was created by this call.
func (s *Service) AddCharges(ctx context.Context, input ChargeSetInput) (Payable, bool, error) {
	if _, err := s.bookings.Get(ctx, input.BookingID); err != nil {
		return Payable{}, false, err
	}

	var created bool
	var payableID int64

	// Voucher uniqueness lives in the database; a collision aborts the
	// transaction and we retry with a fresh number.
	var lastErr error
	for attempt := 0; attempt < voucherAttempts; attempt++ {
		created = false
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			p, err := tx.GetByBookingForUpdate(ctx, input.BookingID)
			switch {
			case errors.Is(err, ErrNotFound):
				id, err := tx.CreatePayable(ctx, input.BookingID, NewVoucherNumber())
				if err != nil {
					return err
				}
				p = Payable{ID: id, BookingID: input.BookingID}
				created = true
			case err != nil:
				return err
			}
			payableID = p.ID

			if err := s.mergeFreight(ctx, tx, &p, input.Freight); err != nil {
				return err
			}
			if err := s.mergeKeyed(ctx, tx, &p, CategoryTrucking, input.Trucking); err != nil {
				return err
			}
			if err := s.mergeKeyed(ctx, tx, &p, CategoryPort, input.Port); err != nil {
				return err
			}
			if err := s.mergeKeyed(ctx, tx, &p, CategoryMisc, input.Misc); err != nil {
				return err
			}

			return tx.SetPaid(ctx, p.ID, p.AllChargesPaid())
		})
		if errors.Is(err, ErrDuplicateVoucher) {
			lastErr = err
			continue
		}
		if err != nil {
			return Payable{}, false, err
		}
		lastErr = nil
		break
	}
	if lastErr != nil {
		return Payable{}, false, lastErr
	}

	p, err := s.repo.GetByID(ctx, payableID)
	if err != nil {
		return Payable{}, false, err
	}

	s.recordAudit(ctx, input.ActorID, "ap.add_charges", p.BookingID, map[string]any{
		"voucher":        p.VoucherNumber,
		"total_expenses": p.TotalExpenses().String(),
		"created":        created,
	})
	s.invalidateReports(ctx)
	return p, created, nil
}

func (s *Service) mergeFreight(ctx context.Context, tx TxRepository, p *Payable, entry *ChargeEntry) error {
	if entry == nil || !entry.Amount.IsPositive() {
		return nil
	}
	if p.Freight == nil {
		c := newCharge(CategoryFreight, "", *entry)
		if err := tx.InsertCharge(ctx, p.ID, c); err != nil {
			return err
		}
		p.Freight = &c
		return nil
	}
	merged := mergeEntry(*p.Freight, *entry)
	if err := tx.UpdateCharge(ctx, merged); err != nil {
		return err
	}
	p.Freight = &merged
	return nil
}

func (s *Service) mergeKeyed(ctx context.Context, tx TxRepository, p *Payable, category ChargeCategory, entries []ChargeEntry) error {
	rows := p.categoryRows(category)
	for _, entry := range entries {
		if !entry.Amount.IsPositive() {
			continue
		}
		if entry.Type == "" {
			return fmt.Errorf("%w: %s charge requires a type", ErrInvalidInput, category)
		}
		idx := -1
		for i, c := range *rows {
			if c.Type == entry.Type {
				idx = i
				break
			}
		}
		if idx < 0 {
			c := newCharge(category, entry.Type, entry)
			if err := tx.InsertCharge(ctx, p.ID, c); err != nil {
				return err
			}
			*rows = append(*rows, c)
			continue
		}
		merged := mergeEntry((*rows)[idx], entry)
		if err := tx.UpdateCharge(ctx, merged); err != nil {
			return err
		}
		(*rows)[idx] = merged
	}
	return nil
}

func (p *Payable) categoryRows(category ChargeCategory) *[]Charge {
	switch category {
	case CategoryTrucking:
		return &p.Trucking
	case CategoryPort:
		return &p.Port
	case CategoryMisc:
		return &p.Misc
	default:
		return &[]Charge{}
	}
}

func newCharge(category ChargeCategory, typ string, entry ChargeEntry) Charge {
	return Charge{
		Category:  category,
		Type:      typ,
		Amount:    entry.Amount.Round(2),
		CheckDate: entry.CheckDate,
		Payee:     entry.Payee,
	}
}

// mergeEntry adds the new amount onto the existing row. Check date and payee
// are only overwritten when the submission carries a value.
func mergeEntry(existing Charge, entry ChargeEntry) Charge {
	existing.Amount = existing.Amount.Add(entry.Amount).Round(2)
	if entry.CheckDate != nil {
		existing.CheckDate = entry.CheckDate
	}
	if entry.Payee != nil {
		existing.Payee = entry.Payee
	}
	return existing
}

// UpdateChargeStatus patches settlement fields on one charge row, then
// re-derives the parent payable's is_paid from the full charge set.
func (s *Service) UpdateChargeStatus(ctx context.Context, payableID int64, category ChargeCategory, chargeID int64, patch ChargeStatusPatch) (Payable, error) {
	if !category.Valid() {
		return Payable{}, fmt.Errorf("%w: unknown charge category %q", ErrInvalidInput, category)
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		p, err := tx.GetByIDForUpdate(ctx, payableID)
		if err != nil {
			return err
		}

		var target *Charge
		switch category {
		case CategoryFreight:
			// Freight is a singleton; the payable id alone identifies it.
			target = p.Freight
		case CategoryTrucking:
			target = findCharge(p.Trucking, chargeID)
		case CategoryPort:
			target = findCharge(p.Port, chargeID)
		case CategoryMisc:
			target = findCharge(p.Misc, chargeID)
		}
		if target == nil {
			return ErrChargeNotFound
		}

		if patch.IsPaid != nil {
			target.IsPaid = *patch.IsPaid
		}
		if patch.Voucher != nil {
			target.Voucher = patch.Voucher
		}
		if patch.CheckDate != nil {
			target.CheckDate = patch.CheckDate
		}
		if err := tx.UpdateCharge(ctx, *target); err != nil {
			return err
		}
		return tx.SetPaid(ctx, p.ID, p.AllChargesPaid())
	})
	if err != nil {
		return Payable{}, err
	}

	p, err := s.repo.GetByID(ctx, payableID)
	if err != nil {
		return Payable{}, err
	}
	s.recordAudit(ctx, 0, "ap.update_charge_status", p.BookingID, map[string]any{
		"category":  string(category),
		"charge_id": chargeID,
	})
	s.invalidateReports(ctx)
	return p, nil
}

func findCharge(charges []Charge, id int64) *Charge {
	for i := range charges {
		if charges[i].ID == id {
			return &charges[i]
		}
	}
	return nil
}

// GetByBooking returns the payable for a booking.
func (s *Service) GetByBooking(ctx context.Context, bookingID int64) (Payable, error) {
	return s.repo.GetByBooking(ctx, bookingID)
}

// TotalExpenses returns the current expense total for a booking, zero when
// no payable exists yet. The receivable engine snapshots this value.
func (s *Service) TotalExpenses(ctx context.Context, bookingID int64) (decimal.Decimal, error) {
	p, err := s.repo.GetByBooking(ctx, bookingID)
	if errors.Is(err, ErrNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	return p.TotalExpenses(), nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, bookingID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "payable",
		EntityID: strconv.FormatInt(bookingID, 10),
		Meta:     meta,
	})
	if err != nil {
		s.logger.Warn("audit record", slog.Any("error", err), slog.String("action", action))
	}
}
