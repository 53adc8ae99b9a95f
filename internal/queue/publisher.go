package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrPublishNacked is returned when the broker refuses to take ownership of a message.
var ErrPublishNacked = errors.New("broker did not confirm message")

// RabbitMQPublisher publishes persistent file messages and waits for the broker's
// publisher confirm, so a nil error means the message is durably queued.
type RabbitMQPublisher struct {
	client *RabbitMQ
	now    func() time.Time
}

func NewRabbitMQPublisher(client *RabbitMQ) *RabbitMQPublisher {
	return &RabbitMQPublisher{client: client, now: time.Now}
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, queue string, msg FileMessage) error {
	if p == nil || p.client == nil {
		return fmt.Errorf("publisher is not initialized")
	}
	if queue == "" {
		return fmt.Errorf("queue name is required")
	}
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid file message: %w", err)
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal file message: %w", err)
	}

	ch, err := p.client.channel(ctx)
	if err != nil {
		return err
	}
	defer ch.Close() //nolint:errcheck

	if err := ch.Confirm(false); err != nil {
		return fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	confirmation, err := ch.PublishWithDeferredConfirmWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		Timestamp:     p.now().UTC(),
		MessageId:     msg.FileID,
		CorrelationId: msg.CorrelationID,
		Body:          body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish to queue %q: %w", queue, err)
	}

	acked, err := confirmation.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("waiting for publish confirm on %q: %w", queue, err)
	}
	if !acked {
		return fmt.Errorf("%w: queue %q, file %s", ErrPublishNacked, queue, msg.FileID)
	}
	return nil
}

// Close is a no-op: the shared RabbitMQ connection is closed by its owner.
func (p *RabbitMQPublisher) Close() error {
	return nil
}
