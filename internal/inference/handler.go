// Package inference executes inference tasks taken from the queue.
package inference

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Alexander76Kuznetsov/mfdp/internal/domain"
	"github.com/Alexander76Kuznetsov/mfdp/internal/queue"
	"github.com/Alexander76Kuznetsov/mfdp/internal/storage"
)

// Handler runs one inference task per message
type Handler struct {
	store    storage.Store
	registry *Registry
	logger   *slog.Logger
}

// NewHandler creates a Handler
func NewHandler(store storage.Store, registry *Registry, logger *slog.Logger) *Handler {
	return &Handler{
		store:    store,
		registry: registry,
		logger:   logger,
	}
}

// Handle computes and stores the prediction of the task named in the
// message. A nil return means the prediction is durably stored.
func (h *Handler) Handle(ctx context.Context, delivery queue.Message) error {
	msg, err := domain.ParseInferenceMessage(delivery.Body)
	if err != nil {
		return err
	}

	log := h.logger.With(
		slog.Int64("task_id", msg.TaskID),
		slog.String("request_id", msg.RequestID),
	)

	task, err := h.store.GetTask(ctx, msg.TaskID)
	if err != nil {
		// tasks are committed before publish, so this is a store outage or a lagging replica
		return transient(fmt.Errorf("failed to load task %d: %w", msg.TaskID, err))
	}

	if existing, err := h.store.GetPredictionByTask(ctx, task.ID); err == nil {
		log.Info("Prediction already stored, skipping",
			slog.Int64("prediction_id", existing.ID),
		)
		return nil
	} else if !errors.Is(err, domain.ErrPredictionNotFound) {
		return transient(fmt.Errorf("failed to check prediction of task %d: %w", task.ID, err))
	}

	model, err := h.registry.Get(ctx, task.ModelID)
	if err != nil {
		if errors.Is(err, domain.ErrModelNotFound) {
			return err
		}
		return transient(err)
	}

	features, err := h.store.GetUserFeatures(ctx, task.UserID)
	if err != nil {
		if errors.Is(err, domain.ErrFeaturesNotFound) {
			return fmt.Errorf("user %d: %w", task.UserID, err)
		}
		return transient(err)
	}

	output, err := model.Predict(features)
	if err != nil {
		return fmt.Errorf("failed to predict task %d: %w", task.ID, err)
	}

	prediction := &domain.Prediction{TaskID: task.ID, Output: &output}
	created, err := h.store.CreatePrediction(ctx, prediction)
	if err != nil {
		return err
	}

	log.Info("Prediction stored",
		slog.Int64("prediction_id", prediction.ID),
		slog.Bool("created", created),
	)
	return nil
}

// RecordFailure stores why the task could not be executed
func (h *Handler) RecordFailure(ctx context.Context, body []byte, cause error, attempts int) error {
	msg, _ := domain.ParseInferenceMessage(body)
	if msg == nil {
		h.logger.Warn("No task id in failed message, nothing to record",
			slog.Any("cause", cause),
		)
		return nil
	}

	failure := &domain.JobFailure{
		Kind:      domain.JobKindInference,
		JobID:     msg.TaskID,
		RequestID: msg.RequestID,
		Reason:    cause.Error(),
		Attempts:  attempts,
	}
	if err := h.store.RecordFailure(ctx, failure); err != nil {
		return err
	}

	h.logger.Warn("Inference task failed",
		slog.Int64("task_id", msg.TaskID),
		slog.String("request_id", msg.RequestID),
		slog.Int("attempts", attempts),
		slog.String("reason", failure.Reason),
	)
	return nil
}

// transient marks a lookup failure as worth another attempt
func transient(err error) error {
	if domain.IsRetryable(err) {
		return err
	}
	return domain.NewRetryableError(err)
}
