package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/eduforum/forum/internal/models"
	"github.com/eduforum/forum/internal/repository"
)

// TaskNotifyMessage is the queue task type for outbound message
// notifications.
const TaskNotifyMessage = "notify:message"

const maxExcerptRunes = 200

// taskPayload is the JSON carried by the queue task. It is
// self-contained so the worker binary needs no access to rooms or
// participants.
type taskPayload struct {
	AttemptID    int64       `json:"attempt_id"`
	MessageID    int64       `json:"message_id"`
	RoomID       uuid.UUID   `json:"room_id"`
	SenderID     uuid.UUID   `json:"sender_id"`
	RecipientIDs []uuid.UUID `json:"recipient_ids"`
	BodyExcerpt  string      `json:"body_excerpt"`
}

// Enqueuer abstracts the task queue client so the dispatcher can be
// tested without Redis.
type Enqueuer interface {
	Enqueue(ctx context.Context, taskType string, payload []byte) error
}

// AsynqEnqueuer adapts *asynq.Client to Enqueuer, attaching the retry
// budget to every task.
type AsynqEnqueuer struct {
	client   *asynq.Client
	maxRetry int
}

func NewAsynqEnqueuer(client *asynq.Client, maxRetry int) *AsynqEnqueuer {
	return &AsynqEnqueuer{client: client, maxRetry: maxRetry}
}

func (a *AsynqEnqueuer) Enqueue(ctx context.Context, taskType string, payload []byte) error {
	task := asynq.NewTask(taskType, payload)
	_, err := a.client.EnqueueContext(ctx, task, asynq.MaxRetry(a.maxRetry), asynq.Queue("notify"))
	return err
}

// Dispatcher is the send-path half of outbound notification: it records
// a pending delivery attempt and hands the work to the queue. It
// implements forum.Notifier.
//
// Notify runs after message persistence and must never undo it, so every
// failure here is logged and swallowed by the caller.
type Dispatcher struct {
	deliveries repository.DeliveryRepository
	enqueuer   Enqueuer
	logger     *zap.Logger
}

func NewDispatcher(deliveries repository.DeliveryRepository, enqueuer Enqueuer, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		deliveries: deliveries,
		enqueuer:   enqueuer,
		logger:     logger,
	}
}

func (d *Dispatcher) Notify(ctx context.Context, msg models.Message, room models.ChatRoom, recipientIDs []uuid.UUID) error {
	attempt, err := d.deliveries.Create(ctx, msg.ID)
	if err != nil {
		return fmt.Errorf("create delivery attempt: %w", err)
	}

	payload, err := json.Marshal(taskPayload{
		AttemptID:    attempt.ID,
		MessageID:    msg.ID,
		RoomID:       room.ID,
		SenderID:     msg.SenderID,
		RecipientIDs: recipientIDs,
		BodyExcerpt:  excerpt(msg.Body),
	})
	if err != nil {
		return fmt.Errorf("encode task payload: %w", err)
	}

	if err := d.enqueuer.Enqueue(ctx, TaskNotifyMessage, payload); err != nil {
		// Nothing will ever pull the task, so close the attempt now
		// instead of leaving it pending forever.
		if merr := d.deliveries.MarkFailed(ctx, attempt.ID, err.Error()); merr != nil {
			d.logger.Warn("marking attempt failed errored",
				zap.Int64("attempt_id", attempt.ID),
				zap.Error(merr),
			)
		}
		return fmt.Errorf("enqueue notification: %w", err)
	}

	d.logger.Debug("notification enqueued",
		zap.Int64("message_id", msg.ID),
		zap.Int64("attempt_id", attempt.ID),
		zap.Int("recipients", len(recipientIDs)),
	)
	return nil
}

// excerpt truncates on rune boundaries so multi-byte content survives.
func excerpt(body string) string {
	runes := []rune(body)
	if len(runes) <= maxExcerptRunes {
		return body
	}
	return string(runes[:maxExcerptRunes]) + "…"
}

// Worker is the consume-path half: it executes delivery attempts pulled
// off the queue, with the persisted attempt status as idempotency guard.
type Worker struct {
	deliveries repository.DeliveryRepository
	webhook    *WebhookClient
	logger     *zap.Logger
}

func NewWorker(deliveries repository.DeliveryRepository, webhook *WebhookClient, logger *zap.Logger) *Worker {
	return &Worker{
		deliveries: deliveries,
		webhook:    webhook,
		logger:     logger,
	}
}

// HandleTask processes one notify:message task.
//
// Returning an error asks asynq to retry with its exponential backoff;
// wrapping asynq.SkipRetry makes the failure terminal regardless of the
// retry budget. The attempt row is checked first so a task redelivered
// after a worker restart cannot re-send an already-delivered
// notification.
func (w *Worker) HandleTask(ctx context.Context, task *asynq.Task) error {
	var p taskPayload
	if err := json.Unmarshal(task.Payload(), &p); err != nil {
		return fmt.Errorf("malformed payload: %v: %w", err, asynq.SkipRetry)
	}

	attempt, err := w.deliveries.GetByID(ctx, p.AttemptID)
	if err != nil {
		return fmt.Errorf("load attempt: %w", err)
	}
	if attempt == nil {
		w.logger.Warn("delivery attempt vanished", zap.Int64("attempt_id", p.AttemptID))
		return nil
	}
	if attempt.Status != models.DeliveryPending {
		// Already terminal. Succeeded: duplicate task, drop it.
		// Failed: never resurrect automatically.
		return nil
	}

	// No endpoint configured: the message flow is unaffected and the
	// attempt completes as a no-op success.
	if !w.webhook.Configured() {
		return w.deliveries.MarkSucceeded(ctx, p.AttemptID)
	}

	err = w.webhook.Deliver(ctx, WebhookPayload{
		MessageID:    p.MessageID,
		RoomID:       p.RoomID,
		SenderID:     p.SenderID,
		RecipientIDs: p.RecipientIDs,
		BodyExcerpt:  p.BodyExcerpt,
	})
	if err == nil {
		w.logger.Info("notification delivered",
			zap.Int64("message_id", p.MessageID),
			zap.Int64("attempt_id", p.AttemptID),
		)
		return w.deliveries.MarkSucceeded(ctx, p.AttemptID)
	}

	if !IsTransient(err) {
		w.fail(ctx, p.AttemptID, err)
		return fmt.Errorf("permanent delivery failure: %v: %w", err, asynq.SkipRetry)
	}

	retried, rok := asynq.GetRetryCount(ctx)
	maxRetry, mok := asynq.GetMaxRetry(ctx)
	if rok && mok && retried >= maxRetry {
		w.fail(ctx, p.AttemptID, err)
		return fmt.Errorf("retries exhausted: %v: %w", err, asynq.SkipRetry)
	}

	if rerr := w.deliveries.RecordAttempt(ctx, p.AttemptID, backoffSeconds(retried), err.Error()); rerr != nil {
		w.logger.Warn("recording attempt failed",
			zap.Int64("attempt_id", p.AttemptID),
			zap.Error(rerr),
		)
	}
	return err
}

// fail marks the attempt permanently failed. The failure surfaces only
// in the logs and the attempts table, never to the user who sent the
// message.
func (w *Worker) fail(ctx context.Context, attemptID int64, cause error) {
	w.logger.Error("notification permanently failed",
		zap.Int64("attempt_id", attemptID),
		zap.Error(cause),
	)
	if err := w.deliveries.MarkFailed(ctx, attemptID, cause.Error()); err != nil {
		w.logger.Warn("marking attempt failed errored",
			zap.Int64("attempt_id", attemptID),
			zap.Error(err),
		)
	}
}

// backoffSeconds mirrors the queue's exponential backoff closely enough
// for the next_retry_at bookkeeping column: 30s, 60s, 120s... capped at
// an hour.
func backoffSeconds(retried int) int {
	secs := 30
	for i := 0; i < retried && secs < 3600; i++ {
		secs *= 2
	}
	if secs > 3600 {
		secs = 3600
	}
	return secs
}
