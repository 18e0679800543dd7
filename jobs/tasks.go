package jobs

import (
	"context"
	"encoding/json"

	"github.com/hibiken/asynq"

	"github.com/cargodesk/cargodesk/internal/payment"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskNotifyBankInstructions dispatches manual settlement instructions
	// for bank-transfer payments.
	TaskNotifyBankInstructions = "notify:bank_instructions"
	// TaskPaymentSweep polls processing payments against the provider and
	// cancels stale pending attempts.
	TaskPaymentSweep = "payment:sweep"
	// TaskIdempotencyCleanup prunes old webhook idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// BankInstructionsPayload identifies the payment awaiting manual transfer.
type BankInstructionsPayload struct {
	PaymentID int64  `json:"payment_id"`
	BookingID int64  `json:"booking_id"`
	UserID    int64  `json:"user_id"`
	Amount    string `json:"amount"`
}

// NewBankInstructionsTask constructs an Asynq task.
func NewBankInstructionsTask(payload BankInstructionsPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskNotifyBankInstructions, data), nil
}

// NewPaymentSweepTask constructs the scheduled sweep task.
func NewPaymentSweepTask() *asynq.Task {
	return asynq.NewTask(TaskPaymentSweep, nil)
}

// NewIdempotencyCleanupTask constructs the scheduled cleanup task.
func NewIdempotencyCleanupTask() *asynq.Task {
	return asynq.NewTask(TaskIdempotencyCleanup, nil)
}

// NotifyBankInstructions enqueues settlement instructions for a payment.
// Satisfies the payment service's notifier port.
func (c *Client) NotifyBankInstructions(ctx context.Context, p payment.Payment) error {
	task, err := NewBankInstructionsTask(BankInstructionsPayload{
		PaymentID: p.ID,
		BookingID: p.BookingID,
		UserID:    p.UserID,
		Amount:    p.Amount.StringFixed(2),
	})
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task, asynq.Queue(QueueDefault))
	return err
}
