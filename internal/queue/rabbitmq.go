package queue

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	deadLetterExchange = "docflow.dlx"
	dialTimeout        = 15 * time.Second
	minRedialWait      = time.Second
	maxRedialWait      = 30 * time.Second
)

// RabbitMQ owns the broker connection shared by the publisher and consumers of one
// process. A dropped connection is re-dialed on the next use and the topology is
// declared once per connection.
type RabbitMQ struct {
	url  string
	dial func(url string) (*amqp.Connection, error)

	// slot serializes access to conn; it is a channel so waiting honours ctx.
	slot       chan struct{}
	conn       *amqp.Connection
	declaredOn atomic.Pointer[amqp.Connection]
}

func NewRabbitMQ(url string) (*RabbitMQ, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("rabbitmq url is required")
	}

	r := &RabbitMQ{
		url:  url,
		dial: amqp.Dial,
		slot: make(chan struct{}, 1),
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	if _, err := r.connection(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

// Ping reports whether a broker connection is open, re-dialing if needed.
func (r *RabbitMQ) Ping(ctx context.Context) error {
	_, err := r.connection(ctx)
	return err
}

func (r *RabbitMQ) Close() error {
	r.slot <- struct{}{}
	defer func() { <-r.slot }()

	conn := r.conn
	r.conn = nil
	if conn == nil || conn.IsClosed() {
		return nil
	}
	return conn.Close()
}

func (r *RabbitMQ) connection(ctx context.Context) (*amqp.Connection, error) {
	select {
	case r.slot <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("rabbitmq connect canceled: %w", ctx.Err())
	}
	defer func() { <-r.slot }()

	if r.conn != nil && !r.conn.IsClosed() {
		return r.conn, nil
	}

	conn, err := r.redial(ctx)
	if err != nil {
		return nil, err
	}
	r.conn = conn
	return conn, nil
}

func (r *RabbitMQ) redial(ctx context.Context) (*amqp.Connection, error) {
	wait := minRedialWait
	for {
		conn, err := r.dial(r.url)
		if err == nil {
			return conn, nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("rabbitmq dial canceled: %w (last error: %v)", ctx.Err(), err)
		case <-time.After(wait):
		}
		wait = min(wait*2, maxRedialWait)
	}
}

// discard drops conn so the next caller dials a fresh one.
func (r *RabbitMQ) discard(conn *amqp.Connection) {
	r.slot <- struct{}{}
	defer func() { <-r.slot }()

	if r.conn == conn {
		_ = conn.Close()
		r.conn = nil
	}
}

// channel opens a channel on the current connection. A connection that refuses new
// channels is discarded and re-dialed once.
func (r *RabbitMQ) channel(ctx context.Context) (*amqp.Channel, error) {
	for attempt := 0; ; attempt++ {
		conn, err := r.connection(ctx)
		if err != nil {
			return nil, err
		}

		ch, err := conn.Channel()
		if err != nil {
			if attempt > 0 {
				return nil, fmt.Errorf("failed to open rabbitmq channel: %w", err)
			}
			r.discard(conn)
			continue
		}

		if r.declaredOn.Load() != conn {
			if err := declareTopology(ch); err != nil {
				_ = ch.Close()
				return nil, err
			}
			r.declaredOn.Store(conn)
		}
		return ch, nil
	}
}

type queueSpec struct {
	name string
	args amqp.Table
	// bindKey binds the queue to the dead-letter exchange when set.
	bindKey string
}

// topology lists every queue to declare: each work queue dead-letters into its own
// DLQ through the shared exchange.
func topology() []queueSpec {
	specs := make([]queueSpec, 0, 2*len(WorkQueueNames()))
	for _, name := range WorkQueueNames() {
		specs = append(specs,
			queueSpec{name: DLQName(name), bindKey: name},
			queueSpec{name: name, args: amqp.Table{
				"x-dead-letter-exchange":    deadLetterExchange,
				"x-dead-letter-routing-key": name,
			}},
		)
	}
	return specs
}

func declareTopology(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(deadLetterExchange, amqp.ExchangeDirect, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %q: %w", deadLetterExchange, err)
	}

	for _, spec := range topology() {
		if _, err := ch.QueueDeclare(spec.name, true, false, false, false, spec.args); err != nil {
			return fmt.Errorf("failed to declare queue %q: %w", spec.name, err)
		}
		if spec.bindKey == "" {
			continue
		}
		if err := ch.QueueBind(spec.name, spec.bindKey, deadLetterExchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue %q: %w", spec.name, err)
		}
	}
	return nil
}
