package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/Alexander76Kuznetsov/mfdp/internal/domain"
	"github.com/Alexander76Kuznetsov/mfdp/shared/rabbitmq"
	amqp "github.com/rabbitmq/amqp091-go"
)

// RabbitBroker adapts the shared RabbitMQ client to Broker
type RabbitBroker struct {
	client   *rabbitmq.Client
	prefetch int
	logger   *slog.Logger
}

// NewRabbitBroker creates a Broker on top of an established client
func NewRabbitBroker(client *rabbitmq.Client, prefetch int, logger *slog.Logger) *RabbitBroker {
	if prefetch <= 0 {
		prefetch = 1
	}
	return &RabbitBroker{
		client:   client,
		prefetch: prefetch,
		logger:   logger,
	}
}

// Publish sends msg to queue and waits for the broker confirm
func (b *RabbitBroker) Publish(ctx context.Context, queue string, msg Message) error {
	if err := b.client.PublishWithRetry(ctx, queue, msg.Body, encodeHeaders(msg)); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrTransport, err)
	}
	return nil
}

// Consume starts a consumer on queue. The returned channel is closed when
// ctx is canceled or the broker connection drops.
func (b *RabbitBroker) Consume(ctx context.Context, queue, consumerTag string) (<-chan Delivery, error) {
	sub, err := b.client.Consume(queue, consumerTag, b.prefetch)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrTransport, err)
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		defer sub.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-sub.Deliveries:
				if !ok {
					b.logger.Warn("RabbitMQ delivery channel closed",
						slog.String("queue", queue),
						slog.String("consumer_tag", consumerTag),
					)
					return
				}

				select {
				case out <- &rabbitDelivery{queue: queue, delivery: d}:
				case <-ctx.Done():
					if err := d.Nack(false, true); err != nil {
						b.logger.Error("Failed to NACK message on shutdown",
							slog.String("queue", queue),
							slog.Any("error", err),
						)
					}
					return
				}
			}
		}
	}()

	return out, nil
}

// Close closes the underlying connection
func (b *RabbitBroker) Close() error {
	return b.client.Close()
}

type rabbitDelivery struct {
	queue    string
	delivery amqp.Delivery
	settled  atomic.Bool
}

func (d *rabbitDelivery) Queue() string {
	return d.queue
}

func (d *rabbitDelivery) Message() Message {
	msg := decodeMessage(d.delivery.Body, d.delivery.Headers)
	msg.Redelivered = d.delivery.Redelivered
	return msg
}

func (d *rabbitDelivery) Ack() error {
	if !d.settled.CompareAndSwap(false, true) {
		return ErrAlreadySettled
	}
	if err := d.delivery.Ack(false); err != nil {
		return fmt.Errorf("%w: failed to ack: %w", domain.ErrTransport, err)
	}
	return nil
}

func (d *rabbitDelivery) Nack(requeue bool) error {
	if !d.settled.CompareAndSwap(false, true) {
		return ErrAlreadySettled
	}
	if err := d.delivery.Nack(false, requeue); err != nil {
		return fmt.Errorf("%w: failed to nack: %w", domain.ErrTransport, err)
	}
	return nil
}
