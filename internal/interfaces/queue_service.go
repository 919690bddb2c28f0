package interfaces

import (
	"context"
	"time"

	"github.com/ternarybob/caseflow/internal/models"
)

// BackoffPolicy controls redelivery delay growth for a message.
type BackoffPolicy struct {
	Initial time.Duration
	Factor  float64
	Max     time.Duration
}

// EnqueueOptions carries per-message queue options.
type EnqueueOptions struct {
	// DedupID makes enqueue idempotent: a second enqueue with the same id
	// is a no-op while the original message is live.
	DedupID string

	// MaxAttempts overrides the queue default when > 0.
	MaxAttempts int

	Backoff *BackoffPolicy
}

// QueueManager manages named persistent queues.
type QueueManager interface {
	Enqueue(ctx context.Context, queueName string, msg *models.QueueMessage, opts *EnqueueOptions) error
	Receive(ctx context.Context, queueName string) (*ReceivedMessage, error)
	Extend(ctx context.Context, queueName, messageID string, duration time.Duration) error
	QueueLength(ctx context.Context, queueName string) (int, error)
}

// ReceivedMessage is a claimed message plus its settlement callbacks.
type ReceivedMessage struct {
	ID       string
	Attempts int
	Message  *models.QueueMessage

	// Ack removes the message from the queue after successful processing.
	Ack func() error

	// Nack schedules redelivery with backoff, or dead-letters the message
	// when attempts are exhausted.
	Nack func(reason string) error
}

// Processor handles messages of one queue.
type Processor func(ctx context.Context, msg *models.QueueMessage) error

// WorkerPool binds processors to queues with bounded concurrency.
type WorkerPool interface {
	RegisterProcessor(queueName string, processor Processor)
	Start() error
	Stop()
}
