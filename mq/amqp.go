// Package mq wraps the AMQP broker behind the small surface the audit
// pipeline needs: a named durable queue with persistent publishing and
// pull-based consumption under manual acknowledgment.
package mq

import (
	"context"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const AuditQueue = "audit_queue"

type Config struct {
	URL         string        `envconfig:"AMQP_URL" required:"true"`
	DialTimeout time.Duration `envconfig:"AMQP_DIAL_TIMEOUT" default:"3s"`
}

// Message is one delivery plus its acknowledgment handle. Ack must be called
// only after the message's effects are durably applied.
type Message struct {
	Body []byte
	Ack  func() error
}

// Channel is one open connection + channel pair. It is not safe for
// concurrent use; each producer call and each consumer owns its own.
type Channel struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

func Dial(cfg Config) (*Channel, error) {
	conn, err := amqp.DialConfig(cfg.URL, amqp.Config{
		Dial: amqp.DefaultDial(cfg.DialTimeout),
	})
	if err != nil {
		return nil, fmt.Errorf("mq: dial %s: %w", cfg.URL, err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("mq: open channel: %w", err)
	}

	return &Channel{conn: conn, ch: ch}, nil
}

// Declare ensures the named queue exists and survives a broker restart.
func (c *Channel) Declare(queue string) error {
	_, err := c.ch.QueueDeclare(
		queue,
		true,  // durable
		false, // auto-delete
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("mq: declare %s: %w", queue, err)
	}
	return nil
}

// Publish sends one persistent message to the queue. Once it returns nil the
// broker owns the message until a consumer acknowledges it.
func (c *Channel) Publish(ctx context.Context, queue string, body []byte) error {
	err := c.ch.PublishWithContext(ctx,
		"",    // default exchange
		queue, // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("mq: publish to %s: %w", queue, err)
	}
	return nil
}

// Consume starts pull-based delivery from the queue. prefetch bounds the
// number of in-flight unacknowledged messages for this channel; the returned
// stream closes when the connection or channel dies, which is the consumer's
// signal to reconnect. Unacked messages are then redelivered by the broker.
func (c *Channel) Consume(queue string, prefetch int) (<-chan Message, error) {
	if err := c.ch.Qos(prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("mq: set prefetch: %w", err)
	}

	deliveries, err := c.ch.Consume(
		queue,
		"",    // consumer tag (server-assigned)
		false, // auto-ack off: acknowledgment is explicit
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("mq: consume %s: %w", queue, err)
	}

	out := make(chan Message)
	go func() {
		defer close(out)
		for d := range deliveries {
			d := d
			out <- Message{
				Body: d.Body,
				Ack:  func() error { return d.Ack(false) },
			}
		}
	}()

	return out, nil
}

func (c *Channel) Close() error {
	if err := c.ch.Close(); err != nil {
		_ = c.conn.Close()
		return err
	}
	return c.conn.Close()
}
