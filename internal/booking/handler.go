package booking

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cargodesk/cargodesk/internal/platform/httpx"
	"github.com/cargodesk/cargodesk/internal/shared"
)

// Handler manages booking endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers booking routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.createBooking)
	r.Get("/{id}", h.getBooking)
	r.Post("/{id}/status", h.updateStatus)
	r.Delete("/{id}", h.deleteBooking)
}

type createBookingRequest struct {
	UserID            int64 `json:"user_id" validate:"required"`
	OriginPortID      int64 `json:"origin_port_id" validate:"required"`
	DestinationPortID int64 `json:"destination_port_id" validate:"required"`
	TermsDays         int   `json:"terms_days" validate:"gte=0"`
}

type updateStatusRequest struct {
	Status       string `json:"status" validate:"required,oneof=pending in_transit delivered"`
	DeliveryDate string `json:"delivery_date,omitempty"`
}

type bookingResponse struct {
	ID                int64      `json:"id"`
	Number            string     `json:"number"`
	UserID            int64      `json:"user_id"`
	OriginPortID      int64      `json:"origin_port_id"`
	DestinationPortID int64      `json:"destination_port_id"`
	TermsDays         int        `json:"terms_days"`
	Status            string     `json:"status"`
	DeliveryDate      *time.Time `json:"delivery_date,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

func toBookingResponse(b Booking) bookingResponse {
	return bookingResponse{
		ID:                b.ID,
		Number:            b.Number,
		UserID:            b.UserID,
		OriginPortID:      b.OriginPortID,
		DestinationPortID: b.DestinationPortID,
		TermsDays:         b.TermsDays,
		Status:            string(b.Status),
		DeliveryDate:      b.DeliveryDate,
		CreatedAt:         b.CreatedAt,
		UpdatedAt:         b.UpdatedAt,
	}
}

func (h *Handler) createBooking(w http.ResponseWriter, r *http.Request) {
	var req createBookingRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := shared.Validate(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	b, err := h.service.Create(r.Context(), CreateBookingInput{
		UserID:            req.UserID,
		OriginPortID:      req.OriginPortID,
		DestinationPortID: req.DestinationPortID,
		TermsDays:         req.TermsDays,
	})
	if err != nil {
		h.respondError(w, err, "create booking")
		return
	}
	httpx.JSON(w, http.StatusCreated, toBookingResponse(b))
}

func (h *Handler) getBooking(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid booking id")
		return
	}
	b, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err, "get booking")
		return
	}
	httpx.JSON(w, http.StatusOK, toBookingResponse(b))
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid booking id")
		return
	}
	var req updateStatusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := shared.Validate(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	input := UpdateStatusInput{BookingID: id, Status: Status(req.Status)}
	if req.DeliveryDate != "" {
		d, err := time.Parse("2006-01-02", req.DeliveryDate)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "delivery_date must be YYYY-MM-DD")
			return
		}
		input.DeliveryDate = &d
	}

	b, err := h.service.UpdateStatus(r.Context(), input)
	if err != nil {
		h.respondError(w, err, "update booking status")
		return
	}
	httpx.JSON(w, http.StatusOK, toBookingResponse(b))
}

func (h *Handler) deleteBooking(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid booking id")
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		h.respondError(w, err, "delete booking")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) respondError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrInvalidTransition):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrDuplicateNumber):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
