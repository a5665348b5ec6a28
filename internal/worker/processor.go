package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Alexander76Kuznetsov/mfdp/internal/domain"
	"github.com/Alexander76Kuznetsov/mfdp/internal/queue"
)

// process runs one delivery and settles it. A non-nil return is fatal: the
// delivery has been requeued and the consumer must stop.
func (w *Worker) process(ctx context.Context, h Handler, d queue.Delivery) error {
	msg := d.Message()
	log := w.logger.With(
		slog.String("queue", d.Queue()),
		slog.Int("retry_count", msg.RetryCount),
	)

	// an in-flight job finishes even when shutdown has begun
	jobCtx := context.WithoutCancel(ctx)

	err := h.Handle(jobCtx, msg)
	switch {
	case err == nil:
		w.ack(d, log)
		return nil

	case domain.IsRetryable(err) && msg.RetryCount < w.config.MaxRetries:
		return w.retry(ctx, d, err, log)

	case errors.Is(err, domain.ErrPersistence):
		log.Error("Job outcome could not be stored", slog.String("error", err.Error()))
		w.nack(d, true, log)
		return fmt.Errorf("failed to process message from %s: %w", d.Queue(), err)

	default:
		return w.fail(jobCtx, h, d, err, log)
	}
}

// retry republishes the body with an incremented retry count after a backoff
func (w *Worker) retry(ctx context.Context, d queue.Delivery, cause error, log *slog.Logger) error {
	msg := d.Message()
	delay := w.backoff(msg.RetryCount)

	log.Warn("Job failed, will be retried",
		slog.String("error", cause.Error()),
		slog.Int("max_retries", w.config.MaxRetries),
		slog.Duration("backoff", delay),
	)

	if err := w.sleep(ctx, delay); err != nil {
		log.Info("Shutdown during retry backoff, returning message to queue")
		w.nack(d, true, log)
		return nil
	}

	next := queue.Message{
		Body:       msg.Body,
		RetryCount: msg.RetryCount + 1,
		Error:      cause.Error(),
	}
	if err := w.broker.Publish(context.WithoutCancel(ctx), d.Queue(), next); err != nil {
		w.nack(d, true, log)
		return fmt.Errorf("failed to republish message to %s: %w", d.Queue(), err)
	}

	w.ack(d, log)
	return nil
}

// fail records a permanent failure and moves the message to the dead-letter queue
func (w *Worker) fail(ctx context.Context, h Handler, d queue.Delivery, cause error, log *slog.Logger) error {
	msg := d.Message()
	attempts := msg.RetryCount + 1

	log.Error("Job failed permanently",
		slog.String("error", cause.Error()),
		slog.Int("attempts", attempts),
	)

	if err := h.RecordFailure(ctx, msg.Body, cause, attempts); err != nil {
		w.nack(d, true, log)
		return fmt.Errorf("failed to record job failure from %s: %w", d.Queue(), err)
	}

	if w.config.DeadLetterQueue == "" {
		w.ack(d, log)
		return nil
	}

	dead := queue.Message{
		Body:        msg.Body,
		RetryCount:  msg.RetryCount,
		Error:       cause.Error(),
		SourceQueue: d.Queue(),
	}
	if err := w.broker.Publish(ctx, w.config.DeadLetterQueue, dead); err != nil {
		log.Error("Failed to publish to dead letter queue",
			slog.String("dead_letter_queue", w.config.DeadLetterQueue),
			slog.String("error", err.Error()),
		)
		// the broker's dead-letter exchange takes rejected messages
		w.nack(d, false, log)
		return nil
	}

	w.ack(d, log)
	log.Info("Message moved to dead letter queue",
		slog.String("dead_letter_queue", w.config.DeadLetterQueue),
	)
	return nil
}

func (w *Worker) ack(d queue.Delivery, log *slog.Logger) {
	if err := d.Ack(); err != nil {
		log.Error("Failed to ACK message", slog.String("error", err.Error()))
		return
	}
	log.Debug("Message ACKed")
}

func (w *Worker) nack(d queue.Delivery, requeue bool, log *slog.Logger) {
	if err := d.Nack(requeue); err != nil {
		log.Error("Failed to NACK message",
			slog.Bool("requeue", requeue),
			slog.String("error", err.Error()),
		)
		return
	}
	log.Info("Message NACKed", slog.Bool("requeue", requeue))
}
