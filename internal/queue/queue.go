package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/kursadbilgin/docflow-engine/internal/domain"
)

// Publisher publishes file-processing messages to a queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, msg FileMessage) error
	Close() error
}

// MessageHandler handles a consumed queue message.
type MessageHandler func(ctx context.Context, msg FileMessage) error

// Consumer consumes file-processing messages from a queue.
type Consumer interface {
	Consume(ctx context.Context, queue string, handler MessageHandler) error
	Close() error
}

const (
	// FileProcessingQueue carries one message per file awaiting processing.
	FileProcessingQueue = "file.processing"
)

// DLQName returns the dead-letter queue name for a work queue, e.g. dlq.file.processing.
func DLQName(queue string) string {
	return fmt.Sprintf("dlq.%s", queue)
}

// WorkQueueNames returns all work queues declared by the topology.
func WorkQueueNames() []string {
	return []string{FileProcessingQueue}
}

// DLQNames returns the dead-letter queue of every work queue.
func DLQNames() []string {
	work := WorkQueueNames()
	queues := make([]string, 0, len(work))
	for _, name := range work {
		queues = append(queues, DLQName(name))
	}
	return queues
}

type disposition int

const (
	dispositionAck disposition = iota
	dispositionReject
	dispositionRequeue
)

// dispositionFor maps a handler result to the broker action. Messages that reference
// records that no longer exist go to the DLQ; every other failure is redelivered.
func dispositionFor(err error) disposition {
	switch {
	case err == nil:
		return dispositionAck
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrValidation):
		return dispositionReject
	default:
		return dispositionRequeue
	}
}
