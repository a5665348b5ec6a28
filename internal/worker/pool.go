package worker

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Run starts the configured number of consumers on each registered queue and
// blocks until ctx is canceled or one of them hits a fatal error, which
// stops the rest and is returned.
func (w *Worker) Run(ctx context.Context) error {
	if len(w.handlers) == 0 {
		return errors.New("no queue handlers registered")
	}

	w.logger.Info("Starting worker",
		slog.Any("queues", w.queues()),
		slog.Int("consumers", w.config.Consumers),
		slog.Int("max_retries", w.config.MaxRetries),
		slog.Duration("retry_backoff", w.config.RetryBackoff),
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range w.queues() {
		handler := w.handlers[name]
		for i := 0; i < w.config.Consumers; i++ {
			tag := w.consumerTag(name, i)
			g.Go(func() error {
				return w.consume(gctx, name, tag, handler)
			})
		}
	}

	err := g.Wait()
	if err != nil {
		w.logger.Error("Worker stopped on fatal error", slog.String("error", err.Error()))
		return err
	}

	w.logger.Info("Worker stopped")
	return nil
}
