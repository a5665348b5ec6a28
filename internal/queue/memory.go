package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/Alexander76Kuznetsov/mfdp/internal/domain"
)

const memoryQueueCapacity = 100

// errQueueFull is returned when an in-memory queue has no room left
var errQueueFull = errors.New("queue is full")

// MemoryBroker is an in-process Broker with the same settlement rules as
// the RabbitMQ topology: Nack without requeue dead-letters the message.
type MemoryBroker struct {
	mu         sync.Mutex
	queues     map[string]chan Message
	deadLetter string
	publishErr error
	done       chan struct{}
	closeOnce  sync.Once
}

// NewMemoryBroker creates a MemoryBroker that dead-letters into deadLetterQueue
func NewMemoryBroker(deadLetterQueue string) *MemoryBroker {
	return &MemoryBroker{
		queues:     make(map[string]chan Message),
		deadLetter: deadLetterQueue,
		done:       make(chan struct{}),
	}
}

func (b *MemoryBroker) queue(name string) chan Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	q, ok := b.queues[name]
	if !ok {
		q = make(chan Message, memoryQueueCapacity)
		b.queues[name] = q
	}
	return q
}

// SetPublishError makes every following Publish fail with err; nil restores it
func (b *MemoryBroker) SetPublishError(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.publishErr = err
}

func (b *MemoryBroker) Publish(ctx context.Context, queue string, msg Message) error {
	b.mu.Lock()
	publishErr := b.publishErr
	b.mu.Unlock()

	if publishErr != nil {
		return fmt.Errorf("%w: %w", domain.ErrTransport, publishErr)
	}

	select {
	case <-b.done:
		return fmt.Errorf("%w: broker closed", domain.ErrTransport)
	default:
	}

	msg.Redelivered = false
	select {
	case b.queue(queue) <- msg:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", domain.ErrTransport, ctx.Err())
	}
}

func (b *MemoryBroker) Consume(ctx context.Context, queue, consumerTag string) (<-chan Delivery, error) {
	select {
	case <-b.done:
		return nil, fmt.Errorf("%w: broker closed", domain.ErrTransport)
	default:
	}

	q := b.queue(queue)
	out := make(chan Delivery)

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case <-b.done:
				return
			case msg := <-q:
				d := &memoryDelivery{broker: b, queue: queue, msg: msg}
				select {
				case out <- d:
				case <-ctx.Done():
					b.requeue(queue, msg)
					return
				case <-b.done:
					b.requeue(queue, msg)
					return
				}
			}
		}
	}()

	return out, nil
}

func (b *MemoryBroker) requeue(queue string, msg Message) error {
	msg.Redelivered = true
	select {
	case b.queue(queue) <- msg:
		return nil
	default:
		return fmt.Errorf("%w: %s: %w", domain.ErrTransport, queue, errQueueFull)
	}
}

func (b *MemoryBroker) deadLetterMessage(msg Message) error {
	msg.Redelivered = false
	select {
	case b.queue(b.deadLetter) <- msg:
		return nil
	default:
		return fmt.Errorf("%w: %s: %w", domain.ErrTransport, b.deadLetter, errQueueFull)
	}
}

// Len reports how many messages wait in queue
func (b *MemoryBroker) Len(queue string) int {
	return len(b.queue(queue))
}

// Drain removes and returns every message waiting in queue
func (b *MemoryBroker) Drain(queue string) []Message {
	q := b.queue(queue)

	var msgs []Message
	for {
		select {
		case msg := <-q:
			msgs = append(msgs, msg)
		default:
			return msgs
		}
	}
}

// Close stops all consumers; closing twice is a no-op
func (b *MemoryBroker) Close() error {
	b.closeOnce.Do(func() { close(b.done) })
	return nil
}

type memoryDelivery struct {
	broker  *MemoryBroker
	queue   string
	msg     Message
	settled atomic.Bool
}

func (d *memoryDelivery) Queue() string {
	return d.queue
}

func (d *memoryDelivery) Message() Message {
	return d.msg
}

func (d *memoryDelivery) Ack() error {
	if !d.settled.CompareAndSwap(false, true) {
		return ErrAlreadySettled
	}
	return nil
}

func (d *memoryDelivery) Nack(requeue bool) error {
	if !d.settled.CompareAndSwap(false, true) {
		return ErrAlreadySettled
	}
	if requeue {
		return d.broker.requeue(d.queue, d.msg)
	}
	if d.broker.deadLetter == "" {
		return nil
	}

	dead := d.msg
	if dead.SourceQueue == "" {
		dead.SourceQueue = d.queue
	}
	return d.broker.deadLetterMessage(dead)
}
