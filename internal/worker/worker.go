// Package worker consumes job queues and settles every delivery according to
// the outcome its handler reports.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/Alexander76Kuznetsov/mfdp/internal/queue"
)

// maxBackoff caps the delay before a retry is republished
const maxBackoff = time.Minute

// Handler executes one kind of job body.
//
// Handle receives the message with its delivery metadata and returns nil
// once the outcome is durably stored, a
// *domain.RetryableError for conditions that may clear on redelivery, and
// any other error for failures that will not. RecordFailure persists a
// permanent failure so pollers stop seeing the job as pending.
type Handler interface {
	Handle(ctx context.Context, msg queue.Message) error
	RecordFailure(ctx context.Context, body []byte, cause error, attempts int) error
}

// Config holds worker configuration
type Config struct {
	WorkerID        string
	Consumers       int
	MaxRetries      int
	RetryBackoff    time.Duration
	DeadLetterQueue string
}

// Worker runs consumers for every registered queue
type Worker struct {
	broker   queue.Broker
	handlers map[string]Handler
	config   Config
	logger   *slog.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// New creates a worker over broker
func New(broker queue.Broker, config Config, logger *slog.Logger) *Worker {
	if config.Consumers <= 0 {
		config.Consumers = 1
	}
	return &Worker{
		broker:   broker,
		handlers: make(map[string]Handler),
		config:   config,
		logger:   logger.With(slog.String("worker_id", config.WorkerID)),
		sleep:    sleepContext,
	}
}

// Register routes deliveries from queueName to h
func (w *Worker) Register(queueName string, h Handler) {
	w.handlers[queueName] = h
}

// queues returns the registered queue names in a stable order
func (w *Worker) queues() []string {
	names := make([]string, 0, len(w.handlers))
	for name := range w.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// backoff doubles the base delay per previous attempt
func (w *Worker) backoff(retryCount int) time.Duration {
	delay := w.config.RetryBackoff
	for i := 0; i < retryCount && delay < maxBackoff; i++ {
		delay *= 2
	}
	return min(delay, maxBackoff)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (w *Worker) consumerTag(queueName string, n int) string {
	return fmt.Sprintf("%s-%s-%d", w.config.WorkerID, queueName, n)
}
