package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Alexander76Kuznetsov/mfdp/internal/domain"
	"github.com/Alexander76Kuznetsov/mfdp/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testQueue = "ml_tasks"
	testDLQ   = "ml_dead_letter"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeDelivery records how it was settled
type fakeDelivery struct {
	queue    string
	msg      queue.Message
	acked    bool
	nacked   bool
	requeued bool
}

func (d *fakeDelivery) Queue() string { return d.queue }
func (d *fakeDelivery) Message() queue.Message { return d.msg }

func (d *fakeDelivery) Ack() error {
	if d.acked || d.nacked {
		return queue.ErrAlreadySettled
	}
	d.acked = true
	return nil
}

func (d *fakeDelivery) Nack(requeue bool) error {
	if d.acked || d.nacked {
		return queue.ErrAlreadySettled
	}
	d.nacked = true
	d.requeued = requeue
	return nil
}

type recordedFailure struct {
	cause    error
	attempts int
}

// fakeHandler returns handleErr and records failures
type fakeHandler struct {
	mu        sync.Mutex
	handleErr error
	recordErr error
	handled   int
	failures  []recordedFailure
}

func (h *fakeHandler) Handle(ctx context.Context, msg queue.Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handled++
	return h.handleErr
}

func (h *fakeHandler) RecordFailure(ctx context.Context, body []byte, cause error, attempts int) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failures = append(h.failures, recordedFailure{cause: cause, attempts: attempts})
	return h.recordErr
}

func newTestWorker(broker queue.Broker) (*Worker, *[]time.Duration) {
	w := New(broker, Config{
		WorkerID:        "test",
		Consumers:       1,
		MaxRetries:      3,
		RetryBackoff:    time.Second,
		DeadLetterQueue: testDLQ,
	}, discardLogger())

	var delays []time.Duration
	w.sleep = func(ctx context.Context, d time.Duration) error {
		delays = append(delays, d)
		return ctx.Err()
	}
	return w, &delays
}

func TestProcess(t *testing.T) {
	body := []byte(`{"task_id":1,"request_id":"tok"}`)
	retryable := domain.NewRetryableError(domain.ErrTaskNotFound)

	tests := []struct {
		name       string
		retryCount int
		handleErr  error
		recordErr  error
		publishErr error

		wantFatal    error
		wantAcked    bool
		wantRequeued bool
		wantNacked   bool
		wantRetry    *queue.Message
		wantDead     *queue.Message
		wantFailures []int
	}{
		{
			name:      "success acks",
			wantAcked: true,
		},
		{
			name:      "retryable error is republished",
			handleErr: retryable,
			wantAcked: true,
			wantRetry: &queue.Message{Body: body, RetryCount: 1, Error: retryable.Error()},
		},
		{
			name:         "retries exhausted",
			retryCount:   3,
			handleErr:    retryable,
			wantAcked:    true,
			wantDead:     &queue.Message{Body: body, RetryCount: 3, Error: retryable.Error(), SourceQueue: testQueue},
			wantFailures: []int{4},
		},
		{
			name:         "permanent error dead-letters",
			handleErr:    domain.ErrFeaturesNotFound,
			wantAcked:    true,
			wantDead:     &queue.Message{Body: body, Error: domain.ErrFeaturesNotFound.Error(), SourceQueue: testQueue},
			wantFailures: []int{1},
		},
		{
			name:         "persistence error is fatal",
			handleErr:    fmt.Errorf("failed to create prediction: %w", domain.ErrPersistence),
			wantFatal:    domain.ErrPersistence,
			wantNacked:   true,
			wantRequeued: true,
		},
		{
			name:         "failure that cannot be recorded is fatal",
			handleErr:    domain.ErrInvalidPayload,
			recordErr:    domain.ErrPersistence,
			wantFatal:    domain.ErrPersistence,
			wantNacked:   true,
			wantRequeued: true,
			wantFailures: []int{1},
		},
		{
			name:         "republish failure is fatal",
			handleErr:    retryable,
			publishErr:   errors.New("connection reset"),
			wantFatal:    domain.ErrTransport,
			wantNacked:   true,
			wantRequeued: true,
		},
		{
			name:         "dead letter publish failure rejects",
			handleErr:    domain.ErrInvalidPayload,
			publishErr:   errors.New("connection reset"),
			wantNacked:   true,
			wantFailures: []int{1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			broker := queue.NewMemoryBroker(testDLQ)
			broker.SetPublishError(tt.publishErr)
			w, _ := newTestWorker(broker)

			h := &fakeHandler{handleErr: tt.handleErr, recordErr: tt.recordErr}
			d := &fakeDelivery{queue: testQueue, msg: queue.Message{Body: body, RetryCount: tt.retryCount}}

			err := w.process(context.Background(), h, d)
			if tt.wantFatal != nil {
				require.ErrorIs(t, err, tt.wantFatal)
			} else {
				require.NoError(t, err)
			}

			assert.Equal(t, tt.wantAcked, d.acked)
			assert.Equal(t, tt.wantNacked, d.nacked)
			assert.Equal(t, tt.wantRequeued, d.requeued)

			broker.SetPublishError(nil)
			retries := broker.Drain(testQueue)
			if tt.wantRetry != nil {
				assert.Equal(t, []queue.Message{*tt.wantRetry}, retries)
			} else {
				assert.Empty(t, retries)
			}

			dead := broker.Drain(testDLQ)
			if tt.wantDead != nil {
				assert.Equal(t, []queue.Message{*tt.wantDead}, dead)
			} else {
				assert.Empty(t, dead)
			}

			var attempts []int
			for _, f := range h.failures {
				attempts = append(attempts, f.attempts)
				assert.ErrorIs(t, f.cause, tt.handleErr)
			}
			assert.Equal(t, tt.wantFailures, attempts)
		})
	}
}

func TestProcess_ShutdownDuringBackoff(t *testing.T) {
	broker := queue.NewMemoryBroker(testDLQ)
	w, _ := newTestWorker(broker)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	h := &fakeHandler{handleErr: domain.NewRetryableError(domain.ErrTaskNotFound)}
	d := &fakeDelivery{queue: testQueue, msg: queue.Message{Body: []byte(`{}`)}}

	require.NoError(t, w.process(ctx, h, d))
	assert.True(t, d.nacked)
	assert.True(t, d.requeued)
	assert.Zero(t, broker.Len(testQueue))
	assert.Equal(t, 1, h.handled)
}

func TestProcess_BackoffGrows(t *testing.T) {
	broker := queue.NewMemoryBroker(testDLQ)
	w, delays := newTestWorker(broker)
	w.sleep = func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}

	h := &fakeHandler{handleErr: domain.NewRetryableError(domain.ErrTaskNotFound)}
	for retry := 0; retry < 3; retry++ {
		d := &fakeDelivery{queue: testQueue, msg: queue.Message{Body: []byte(`{}`), RetryCount: retry}}
		require.NoError(t, w.process(context.Background(), h, d))
	}

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, *delays)
}

func TestBackoff_Capped(t *testing.T) {
	w, _ := newTestWorker(queue.NewMemoryBroker(testDLQ))
	assert.Equal(t, maxBackoff, w.backoff(20))
}
