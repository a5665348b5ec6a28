// Package queue carries job messages between the dispatcher and the workers.
// Delivery is at-least-once: a message is removed only after Ack.
package queue

import (
	"context"
	"errors"
	"strconv"

	"github.com/Alexander76Kuznetsov/mfdp/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrAlreadySettled is returned when a delivery is acked or nacked twice
var ErrAlreadySettled = errors.New("delivery already settled")

// Message is a queued job body plus its delivery metadata
type Message struct {
	Body        []byte
	RetryCount  int
	Error       string
	SourceQueue string

	// Redelivered is set by the broker on a message that was handed to a
	// consumer before and returned unsettled. Publish ignores it.
	Redelivered bool
}

// Delivery is one received message awaiting settlement
type Delivery interface {
	Queue() string
	Message() Message
	Ack() error
	// Nack with requeue returns the message to its queue; without requeue
	// it goes to the dead-letter queue.
	Nack(requeue bool) error
}

// Publisher enqueues messages by queue name
type Publisher interface {
	Publish(ctx context.Context, queue string, msg Message) error
}

// Consumer yields deliveries until ctx is canceled or the transport closes
type Consumer interface {
	Consume(ctx context.Context, queue, consumerTag string) (<-chan Delivery, error)
}

// Broker is a full queue transport
type Broker interface {
	Publisher
	Consumer
	Close() error
}

func encodeHeaders(msg Message) amqp.Table {
	headers := amqp.Table{}
	if msg.RetryCount > 0 {
		headers[domain.HeaderRetryCount] = int32(msg.RetryCount)
	}
	if msg.Error != "" {
		headers[domain.HeaderError] = msg.Error
	}
	if msg.SourceQueue != "" {
		headers[domain.HeaderSourceQueue] = msg.SourceQueue
	}
	return headers
}

func decodeMessage(body []byte, headers amqp.Table) Message {
	msg := Message{Body: body}
	if headers == nil {
		return msg
	}

	msg.RetryCount = retryCount(headers[domain.HeaderRetryCount])
	if v, ok := headers[domain.HeaderError].(string); ok {
		msg.Error = v
	}
	if v, ok := headers[domain.HeaderSourceQueue].(string); ok {
		msg.SourceQueue = v
	}
	return msg
}

// retryCount accepts the integer encodings other AMQP clients produce
func retryCount(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int8:
		return int(n)
	case int16:
		return int(n)
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float32:
		return int(n)
	case float64:
		return int(n)
	case string:
		parsed, err := strconv.Atoi(n)
		if err != nil {
			return 0
		}
		return parsed
	default:
		return 0
	}
}
