package payment

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/cargodesk/cargodesk/internal/ar"
	"github.com/cargodesk/cargodesk/internal/booking"
	"github.com/cargodesk/cargodesk/internal/platform/httpx"
	"github.com/cargodesk/cargodesk/internal/shared"
)

// Handler manages payment endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers payment routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.initiate)
	r.Get("/{id}", h.get)
	r.Post("/{id}/poll", h.poll)
}

type initiateRequest struct {
	BookingID int64           `json:"booking_id" validate:"required"`
	UserID    int64           `json:"user_id"`
	Method    string          `json:"method" validate:"required,oneof=gcash paymongo bank_transfer"`
	Amount    decimal.Decimal `json:"amount" validate:"required"`
}

type paymentResponse struct {
	ID             int64           `json:"id"`
	BookingID      int64           `json:"booking_id"`
	Amount         decimal.Decimal `json:"amount"`
	Method         string          `json:"method"`
	Status         string          `json:"status"`
	CheckoutURL    *string         `json:"checkout_url,omitempty"`
	ProviderLinkID *string         `json:"provider_link_id,omitempty"`
	PaidAt         *time.Time      `json:"paid_at,omitempty"`
	FailedAt       *time.Time      `json:"failed_at,omitempty"`
	CancelledAt    *time.Time      `json:"cancelled_at,omitempty"`
	Warning        string          `json:"warning,omitempty"`
}

func toPaymentResponse(p Payment, warning string) paymentResponse {
	return paymentResponse{
		ID:             p.ID,
		BookingID:      p.BookingID,
		Amount:         p.Amount,
		Method:         string(p.Method),
		Status:         string(p.Status),
		CheckoutURL:    p.CheckoutURL,
		ProviderLinkID: p.ProviderLinkID,
		PaidAt:         p.PaidAt,
		FailedAt:       p.FailedAt,
		CancelledAt:    p.CancelledAt,
		Warning:        warning,
	}
}

func (h *Handler) initiate(w http.ResponseWriter, r *http.Request) {
	var req initiateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := shared.Validate(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	result, err := h.service.Initiate(r.Context(), InitiateInput{
		BookingID: req.BookingID,
		UserID:    req.UserID,
		Method:    Method(req.Method),
		Amount:    req.Amount,
	})
	if err != nil {
		h.respondError(w, err, "initiate payment")
		return
	}
	httpx.JSON(w, http.StatusCreated, toPaymentResponse(result.Payment, result.CheckoutWarning))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid payment id")
		return
	}
	p, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err, "get payment")
		return
	}
	httpx.JSON(w, http.StatusOK, toPaymentResponse(p, ""))
}

func (h *Handler) poll(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid payment id")
		return
	}
	p, _, err := h.service.Poll(r.Context(), id)
	if err != nil {
		h.respondError(w, err, "poll payment")
		return
	}
	httpx.JSON(w, http.StatusOK, toPaymentResponse(p, ""))
}

func (h *Handler) respondError(w http.ResponseWriter, err error, op string) {
	var mismatch *AmountMismatchError
	switch {
	case errors.As(err, &mismatch):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", mismatch.Error())
	case errors.Is(err, ErrInvalidInput):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrForbidden):
		httpx.Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, ErrNotFound), errors.Is(err, booking.ErrNotFound), errors.Is(err, ar.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
