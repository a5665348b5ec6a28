package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Alexander76Kuznetsov/mfdp/internal/domain"
)

// consume handles deliveries from one queue strictly one at a time
func (w *Worker) consume(ctx context.Context, queueName, tag string, h Handler) error {
	deliveries, err := w.broker.Consume(ctx, queueName, tag)
	if err != nil {
		return fmt.Errorf("failed to start consumer %s: %w", tag, err)
	}

	w.logger.Info("Consumer started",
		slog.String("consumer_tag", tag),
		slog.String("queue", queueName),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Consumer stopped - context canceled",
				slog.String("consumer_tag", tag),
			)
			return nil

		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("%w: delivery channel closed for %s", domain.ErrTransport, tag)
			}

			if err := w.process(ctx, h, d); err != nil {
				return err
			}
		}
	}
}
