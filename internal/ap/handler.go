package ap

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/cargodesk/cargodesk/internal/booking"
	"github.com/cargodesk/cargodesk/internal/platform/httpx"
	"github.com/cargodesk/cargodesk/internal/shared"
)

// Handler manages payable endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers payable routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/charges", h.addCharges)
	r.Get("/{bookingID}", h.getPayable)
	r.Patch("/{payableID}/charges/{category}/{chargeID}", h.updateChargeStatus)
}

type chargeEntryRequest struct {
	Type      string          `json:"type,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	CheckDate *string         `json:"check_date,omitempty"`
	Payee     *string         `json:"payee,omitempty"`
}

type addChargesRequest struct {
	BookingID int64                `json:"booking_id" validate:"required"`
	Freight   *chargeEntryRequest  `json:"freight,omitempty"`
	Trucking  []chargeEntryRequest `json:"trucking,omitempty"`
	Port      []chargeEntryRequest `json:"port,omitempty"`
	Misc      []chargeEntryRequest `json:"misc,omitempty"`
	ActorID   int64                `json:"actor_id"`
}

type chargeResponse struct {
	ID        int64           `json:"id"`
	Category  string          `json:"category"`
	Type      string          `json:"type,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	IsPaid    bool            `json:"is_paid"`
	Voucher   *string         `json:"voucher,omitempty"`
	CheckDate *time.Time      `json:"check_date,omitempty"`
	Payee     *string         `json:"payee,omitempty"`
}

type payableResponse struct {
	ID             int64            `json:"id"`
	BookingID      int64            `json:"booking_id"`
	VoucherNumber  string           `json:"voucher_number"`
	IsPaid         bool             `json:"is_paid"`
	Charges        []chargeResponse `json:"charges"`
	TotalExpenses  decimal.Decimal  `json:"total_expenses"`
	AllChargesPaid bool             `json:"all_charges_paid"`
}

func toPayableResponse(p Payable) payableResponse {
	var charges []chargeResponse
	for _, c := range p.AllCharges() {
		charges = append(charges, chargeResponse{
			ID:        c.ID,
			Category:  string(c.Category),
			Type:      c.Type,
			Amount:    c.Amount,
			IsPaid:    c.IsPaid,
			Voucher:   c.Voucher,
			CheckDate: c.CheckDate,
			Payee:     c.Payee,
		})
	}
	return payableResponse{
		ID:             p.ID,
		BookingID:      p.BookingID,
		VoucherNumber:  p.VoucherNumber,
		IsPaid:         p.IsPaid,
		Charges:        charges,
		TotalExpenses:  p.TotalExpenses(),
		AllChargesPaid: p.AllChargesPaid(),
	}
}

func (h *Handler) addCharges(w http.ResponseWriter, r *http.Request) {
	var req addChargesRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := shared.Validate(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	input := ChargeSetInput{BookingID: req.BookingID, ActorID: req.ActorID}
	if req.Freight != nil {
		entry, err := toChargeEntry(*req.Freight)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
			return
		}
		input.Freight = &entry
	}
	var err error
	if input.Trucking, err = toChargeEntries(req.Trucking); err == nil {
		if input.Port, err = toChargeEntries(req.Port); err == nil {
			input.Misc, err = toChargeEntries(req.Misc)
		}
	}
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	p, created, err := h.service.AddCharges(r.Context(), input)
	if err != nil {
		h.respondError(w, err, "add charges")
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	httpx.JSON(w, status, toPayableResponse(p))
}

func toChargeEntries(reqs []chargeEntryRequest) ([]ChargeEntry, error) {
	var out []ChargeEntry
	for _, r := range reqs {
		entry, err := toChargeEntry(r)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	return out, nil
}

func toChargeEntry(r chargeEntryRequest) (ChargeEntry, error) {
	entry := ChargeEntry{Type: r.Type, Amount: r.Amount, Payee: r.Payee}
	if r.CheckDate != nil {
		d, err := time.Parse("2006-01-02", *r.CheckDate)
		if err != nil {
			return ChargeEntry{}, errors.New("check_date must be YYYY-MM-DD")
		}
		entry.CheckDate = &d
	}
	return entry, nil
}

func (h *Handler) getPayable(w http.ResponseWriter, r *http.Request) {
	bookingID, err := strconv.ParseInt(chi.URLParam(r, "bookingID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid booking id")
		return
	}
	p, err := h.service.GetByBooking(r.Context(), bookingID)
	if err != nil {
		h.respondError(w, err, "get payable")
		return
	}
	httpx.JSON(w, http.StatusOK, toPayableResponse(p))
}

type updateChargeStatusRequest struct {
	IsPaid    *bool   `json:"is_paid,omitempty"`
	Voucher   *string `json:"voucher,omitempty"`
	CheckDate *string `json:"check_date,omitempty"`
}

func (h *Handler) updateChargeStatus(w http.ResponseWriter, r *http.Request) {
	payableID, err := strconv.ParseInt(chi.URLParam(r, "payableID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid payable id")
		return
	}
	category := ChargeCategory(chi.URLParam(r, "category"))
	chargeID, _ := strconv.ParseInt(chi.URLParam(r, "chargeID"), 10, 64)

	var req updateChargeStatusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}

	patch := ChargeStatusPatch{IsPaid: req.IsPaid, Voucher: req.Voucher}
	if req.CheckDate != nil {
		d, err := time.Parse("2006-01-02", *req.CheckDate)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "check_date must be YYYY-MM-DD")
			return
		}
		patch.CheckDate = &d
	}

	p, err := h.service.UpdateChargeStatus(r.Context(), payableID, category, chargeID, patch)
	if err != nil {
		h.respondError(w, err, "update charge status")
		return
	}
	httpx.JSON(w, http.StatusOK, toPayableResponse(p))
}

func (h *Handler) respondError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrChargeNotFound), errors.Is(err, booking.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidInput):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrDuplicateVoucher):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
