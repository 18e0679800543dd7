package ar

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

// Handler manages receivable endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers receivable routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/charges", h.setCharges)
	r.Get("/{bookingID}", h.getReceivable)
	r.Post("/{bookingID}/mark-paid", h.markAsPaid)
}

type chargeLineRequest struct {
	Description  string          `json:"description" validate:"required"`
	Type         string          `json:"type" validate:"required"`
	Amount       decimal.Decimal `json:"amount"`
	Markup       decimal.Decimal `json:"markup"`
	MarkupAmount decimal.Decimal `json:"markup_amount"`
	Total        decimal.Decimal `json:"total"`
}

type setChargesRequest struct {
	BookingID    int64               `json:"booking_id" validate:"required"`
	TotalPayment decimal.Decimal     `json:"total_payment"`
	Charges      []chargeLineRequest `json:"charges" validate:"dive"`
	ActorID      int64               `json:"actor_id"`
}

type chargeLineResponse struct {
	Description  string          `json:"description"`
	Type         string          `json:"type"`
	Amount       decimal.Decimal `json:"amount"`
	Markup       decimal.Decimal `json:"markup"`
	MarkupAmount decimal.Decimal `json:"markup_amount"`
	Total        decimal.Decimal `json:"total"`
}

type receivableResponse struct {
	ID                int64                `json:"id"`
	BookingID         int64                `json:"booking_id"`
	TotalExpenses     decimal.Decimal      `json:"total_expenses"`
	TotalPayment      decimal.Decimal      `json:"total_payment"`
	Charges           []chargeLineResponse `json:"charges"`
	CollectibleAmount decimal.Decimal      `json:"collectible_amount"`
	GrossIncome       decimal.Decimal      `json:"gross_income"`
	NetRevenue        decimal.Decimal      `json:"net_revenue"`
	Profit            decimal.Decimal      `json:"profit"`
	InvoiceDate       *time.Time           `json:"invoice_date,omitempty"`
	DueDate           *time.Time           `json:"due_date,omitempty"`
	AgingDays         int                  `json:"aging_days"`
	AgingBucket       string               `json:"aging_bucket"`
	IsOverdue         bool                 `json:"is_overdue"`
	IsPaid            bool                 `json:"is_paid"`
}

func toReceivableResponse(rec Receivable) receivableResponse {
	lines := make([]chargeLineResponse, len(rec.Charges))
	for i, line := range rec.Charges {
		lines[i] = chargeLineResponse{
			Description:  line.Description,
			Type:         string(line.Kind),
			Amount:       line.Amount,
			Markup:       line.Markup,
			MarkupAmount: line.MarkupAmount,
			Total:        line.Total,
		}
	}
	return receivableResponse{
		ID:                rec.ID,
		BookingID:         rec.BookingID,
		TotalExpenses:     rec.TotalExpenses,
		TotalPayment:      rec.TotalPayment,
		Charges:           lines,
		CollectibleAmount: rec.CollectibleAmount,
		GrossIncome:       rec.GrossIncome,
		NetRevenue:        rec.NetRevenue,
		Profit:            rec.Profit,
		InvoiceDate:       rec.InvoiceDate,
		DueDate:           rec.DueDate,
		AgingDays:         rec.AgingDays,
		AgingBucket:       string(rec.AgingBucket),
		IsOverdue:         rec.IsOverdue,
		IsPaid:            rec.IsPaid,
	}
}

func (h *Handler) setCharges(w http.ResponseWriter, r *http.Request) {
	var req setChargesRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := shared.Validate(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	input := SetChargesInput{
		BookingID:    req.BookingID,
		TotalPayment: req.TotalPayment,
		ActorID:      req.ActorID,
	}
	for _, line := range req.Charges {
		input.Charges = append(input.Charges, ChargeLine{
			Description:  line.Description,
			Kind:         ChargeKind(line.Type),
			Amount:       line.Amount,
			Markup:       line.Markup,
			MarkupAmount: line.MarkupAmount,
			Total:        line.Total,
		})
	}

	rec, err := h.service.SetCharges(r.Context(), input)
	if err != nil {
		h.respondError(w, err, "set charges")
		return
	}
	httpx.JSON(w, http.StatusOK, toReceivableResponse(rec))
}

func (h *Handler) getReceivable(w http.ResponseWriter, r *http.Request) {
	bookingID, err := strconv.ParseInt(chi.URLParam(r, "bookingID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid booking id")
		return
	}
	rec, err := h.service.Get(r.Context(), bookingID)
	if err != nil {
		h.respondError(w, err, "get receivable")
		return
	}
	httpx.JSON(w, http.StatusOK, toReceivableResponse(rec))
}

func (h *Handler) markAsPaid(w http.ResponseWriter, r *http.Request) {
	bookingID, err := strconv.ParseInt(chi.URLParam(r, "bookingID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid booking id")
		return
	}
	rec, err := h.service.MarkAsPaid(r.Context(), bookingID)
	if err != nil {
		h.respondError(w, err, "mark receivable paid")
		return
	}
	httpx.JSON(w, http.StatusOK, toReceivableResponse(rec))
}

func (h *Handler) respondError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, booking.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidInput):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
