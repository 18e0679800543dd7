package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cargodesk/cargodesk/internal/observability"
	"github.com/cargodesk/cargodesk/internal/platform/httpx"
	"github.com/cargodesk/cargodesk/internal/shared"
)

// webhookEventStatus maps consumed event types onto the provider status the
// reconciler understands. Every other event type is logged and acknowledged.
var webhookEventStatus = map[string]string{
	"link.payment.paid":    "paid",
	"link.payment.failed":  "unpaid",
	"link.payment.expired": "expired",
}

// WebhookHandler consumes signed provider callbacks. Signature verification
// is enforced outside of non-production environments only.
type WebhookHandler struct {
	logger      *slog.Logger
	service     *Service
	secret      []byte
	enforce     bool
	idempotency *shared.IdempotencyStore
	metrics     *observability.Metrics
}

// NewWebhookHandler builds WebhookHandler instance.
func NewWebhookHandler(logger *slog.Logger, service *Service, secret string, enforce bool, idempotency *shared.IdempotencyStore, metrics *observability.Metrics) *WebhookHandler {
	return &WebhookHandler{
		logger:      logger,
		service:     service,
		secret:      []byte(secret),
		enforce:     enforce,
		idempotency: idempotency,
		metrics:     metrics,
	}
}

// MountRoutes registers webhook routes.
func (h *WebhookHandler) MountRoutes(r chi.Router) {
	r.Post("/paymongo", h.paymongo)
}

type webhookPayload struct {
	ID        string `json:"id"`
	EventType string `json:"event_type"`
	Data      struct {
		ID         string `json:"id"`
		Attributes struct {
			Status string `json:"status"`
		} `json:"attributes"`
	} `json:"data"`
}

func (h *WebhookHandler) paymongo(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "unreadable body")
		return
	}

	if h.enforce && !h.verifySignature(body, r.Header.Get("Signature")) {
		h.logger.Warn("webhook signature rejected")
		h.observe("unknown", "signature_rejected")
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid signature")
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}

	status, consumed := webhookEventStatus[payload.EventType]
	if !consumed {
		h.logger.Info("webhook event ignored", slog.String("event_type", payload.EventType))
		h.observe(payload.EventType, "ignored")
		h.ack(w)
		return
	}

	// Provider retries carry the same event id; a seen id is acknowledged
	// without touching the payment.
	if payload.ID != "" && h.idempotency != nil {
		err := h.idempotency.CheckAndInsert(r.Context(), payload.ID, "webhook.paymongo")
		if errors.Is(err, shared.ErrIdempotencyConflict) {
			h.observe(payload.EventType, "duplicate")
			h.ack(w)
			return
		}
		if err != nil {
			h.logger.Error("webhook idempotency", slog.Any("error", err))
			httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
			return
		}
	}

	outcome, err := h.service.Reconcile(r.Context(), payload.Data.ID, status)
	if err != nil {
		// Drop the key so the provider's redelivery gets another attempt.
		if payload.ID != "" && h.idempotency != nil {
			if delErr := h.idempotency.Delete(r.Context(), payload.ID); delErr != nil {
				h.logger.Warn("webhook idempotency rollback", slog.Any("error", delErr))
			}
		}
		h.logger.Error("webhook reconcile", slog.String("event_type", payload.EventType), slog.Any("error", err))
		h.observe(payload.EventType, "error")
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", "")
		return
	}

	h.observe(payload.EventType, string(outcome))
	h.ack(w)
}

func (h *WebhookHandler) verifySignature(body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, h.secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

func (h *WebhookHandler) ack(w http.ResponseWriter) {
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (h *WebhookHandler) observe(event, outcome string) {
	if h.metrics == nil {
		return
	}
	h.metrics.ObserveWebhookEvent(event, outcome)
	if outcome == string(OutcomeCompleted) || outcome == string(OutcomeFailed) {
		h.metrics.ObserveReconciliation(outcome)
	}
}
