package trigger

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	// Exchange is a delayed-message exchange; it needs the
	// rabbitmq_delayed_message_exchange plugin on the broker.
	Exchange   = "prebooking.delayed"
	ReadyQueue = "prebooking.ready"
	routingKey = "prebooking.ready"
)

// Declare sets up the delayed exchange and the ready queue. It is idempotent.
func Declare(ch *amqp.Channel) error {
	if err := ch.ExchangeDeclare(
		Exchange,
		"x-delayed-message",
		true,  // durable
		false, // autoDelete
		false, // internal
		false, // noWait
		amqp.Table{"x-delayed-type": "direct"},
	); err != nil {
		return fmt.Errorf("exchange declare: %w", err)
	}
	if _, err := ch.QueueDeclare(ReadyQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	if err := ch.QueueBind(ReadyQueue, routingKey, Exchange, false, nil); err != nil {
		return fmt.Errorf("queue bind: %w", err)
	}
	return nil
}

// AMQPBroker publishes triggers over one long-lived connection.
type AMQPBroker struct {
	url string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

func NewAMQPBroker(url string) *AMQPBroker {
	return &AMQPBroker{url: url}
}

// channel returns the open channel, redialing after a broker restart.
func (b *AMQPBroker) channel() (*amqp.Channel, error) {
	if b.ch != nil && !b.ch.IsClosed() {
		return b.ch, nil
	}
	if b.conn == nil || b.conn.IsClosed() {
		conn, err := amqp.Dial(b.url)
		if err != nil {
			return nil, fmt.Errorf("dial broker: %w", err)
		}
		b.conn = conn
	}
	ch, err := b.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("channel open: %w", err)
	}
	if err := Declare(ch); err != nil {
		_ = ch.Close()
		return nil, err
	}
	b.ch = ch
	return ch, nil
}

func (b *AMQPBroker) Publish(ctx context.Context, m Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch, err := b.channel()
	if err != nil {
		return err
	}
	return ch.PublishWithContext(ctx, Exchange, routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    m.Handle,
		Timestamp:    time.Now().UTC(),
		Headers:      amqp.Table{"x-delay": m.Delay.Milliseconds()},
		Body:         m.Body,
	})
}

func (b *AMQPBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ch != nil {
		_ = b.ch.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}
