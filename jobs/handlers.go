package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/cargodesk/cargodesk/internal/jobs"
	"github.com/cargodesk/cargodesk/internal/payment"
	"github.com/cargodesk/cargodesk/internal/shared"
)

// NewPaymentSweepHandler builds the handler that polls processing payments
// and cancels pending ones older than the TTL.
func NewPaymentSweepHandler(svc *payment.Service, pendingTTL time.Duration, metrics *jobmetrics.Metrics, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		tracker := metrics.Track("payment_sweep")
		err := svc.SweepStale(ctx, pendingTTL)
		if err != nil {
			logger.Error("payment sweep", slog.Any("error", err))
		}
		return tracker.End(err)
	}
}

// NewBankInstructionsHandler builds the handler that delivers bank-transfer
// settlement instructions.
func NewBankInstructionsHandler(metrics *jobmetrics.Metrics, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		tracker := metrics.Track("bank_instructions")
		var payload BankInstructionsPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			_ = tracker.End(err)
			return asynq.SkipRetry
		}
		// Placeholder delivery channel: logged until the mail integration
		// lands. The payment stays pending until a manual reconcile.
		logger.Info("bank transfer instructions",
			slog.Int64("payment_id", payload.PaymentID),
			slog.Int64("booking_id", payload.BookingID),
			slog.Int64("user_id", payload.UserID),
			slog.String("amount", payload.Amount),
		)
		return tracker.End(nil)
	}
}

// NewIdempotencyCleanupHandler prunes webhook idempotency keys past retention.
func NewIdempotencyCleanupHandler(store *shared.IdempotencyStore, retention time.Duration, metrics *jobmetrics.Metrics, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		tracker := metrics.Track("idempotency_cleanup")
		err := store.Cleanup(ctx, retention)
		if err != nil {
			logger.Error("idempotency cleanup", slog.Any("error", err))
		}
		return tracker.End(err)
	}
}
