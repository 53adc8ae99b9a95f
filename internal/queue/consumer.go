package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kursadbilgin/docflow-engine/internal/observability"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// RabbitMQConsumer runs a handler over a work queue with manual acknowledgements.
// The handler result picks the settlement, see dispositionFor.
type RabbitMQConsumer struct {
	client   *RabbitMQ
	prefetch int
	logger   *zap.Logger
}

func NewRabbitMQConsumer(client *RabbitMQ, prefetch int, logger *zap.Logger) *RabbitMQConsumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RabbitMQConsumer{
		client:   client,
		prefetch: max(prefetch, 1),
		logger:   logger,
	}
}

// Consume blocks until ctx is cancelled, resubscribing with backoff whenever the
// channel or connection drops.
func (c *RabbitMQConsumer) Consume(ctx context.Context, queue string, handler MessageHandler) error {
	if c == nil || c.client == nil {
		return fmt.Errorf("consumer is not initialized")
	}
	if queue == "" {
		return fmt.Errorf("queue name is required")
	}
	if handler == nil {
		return fmt.Errorf("message handler is required")
	}

	wait := minRedialWait
	for {
		err := c.subscribe(ctx, queue, handler)
		if ctx.Err() != nil {
			return nil
		}
		c.logger.Warn("consumer subscription ended, resubscribing",
			zap.String("queue", queue),
			zap.Duration("wait", wait),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
		wait = min(wait*2, maxRedialWait)
	}
}

func (c *RabbitMQConsumer) subscribe(ctx context.Context, queue string, handler MessageHandler) error {
	ch, err := c.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set qos: %w", err)
	}

	deliveries, err := ch.ConsumeWithContext(ctx, queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume queue %q: %w", queue, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel of %q closed", queue)
			}
			if err := c.settle(d, c.dispatch(ctx, d, handler)); err != nil {
				return err
			}
		}
	}
}

// dispatch decodes one delivery and runs the handler with the message's correlation id
// in the context. Undecodable payloads are dead-lettered without reaching the handler.
func (c *RabbitMQConsumer) dispatch(ctx context.Context, d amqp.Delivery, handler MessageHandler) disposition {
	var msg FileMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		c.logger.Warn("dead-lettering undecodable message", zap.String("messageId", d.MessageId), zap.Error(err))
		return dispositionReject
	}
	if err := msg.Validate(); err != nil {
		c.logger.Warn("dead-lettering invalid message", zap.String("messageId", d.MessageId), zap.Error(err))
		return dispositionReject
	}

	if msg.CorrelationID == "" {
		msg.CorrelationID = d.CorrelationId
	}
	if msg.CorrelationID != "" {
		ctx = observability.WithCorrelationID(ctx, msg.CorrelationID)
	}

	err := handler(ctx, msg)
	verdict := dispositionFor(err)
	switch verdict {
	case dispositionReject:
		c.logger.Warn("dead-lettering message after handler failure",
			zap.String("fileId", msg.FileID),
			zap.Error(err),
		)
	case dispositionRequeue:
		c.logger.Warn("requeueing message after handler failure",
			zap.String("fileId", msg.FileID),
			zap.Bool("redelivered", d.Redelivered),
			zap.Error(err),
		)
	}
	return verdict
}

func (c *RabbitMQConsumer) settle(d amqp.Delivery, verdict disposition) error {
	var err error
	switch verdict {
	case dispositionReject:
		err = d.Reject(false)
	case dispositionRequeue:
		err = d.Nack(false, true)
	default:
		err = d.Ack(false)
	}
	if err != nil {
		return fmt.Errorf("failed to settle delivery %d: %w", d.DeliveryTag, err)
	}
	return nil
}

// Close is a no-op: the shared RabbitMQ connection is closed by its owner.
func (c *RabbitMQConsumer) Close() error {
	return nil
}
