package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrNotConfirmed is returned when the broker nacks a published message.
var ErrNotConfirmed = errors.New("broker did not confirm message")

// RabbitMQPublisher implements EventPublisher on a confirm-mode channel.
type RabbitMQPublisher struct {
	mu      sync.Mutex
	channel *amqp.Channel
}

// NewRabbitMQPublisher opens a channel, declares the topic exchange, and enables publisher confirms.
func NewRabbitMQPublisher(conn *amqp.Connection, exchange string) (*RabbitMQPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	return &RabbitMQPublisher{channel: ch}, nil
}

// Close closes the channel
func (p *RabbitMQPublisher) Close() error {
	return p.channel.Close()
}

// Publish sends msg and waits for the broker confirm, so the relay only marks events
// published once RabbitMQ has taken responsibility for them.
func (p *RabbitMQPublisher) Publish(ctx context.Context, exchange, routingKey string, msg Message) error {
	p.mu.Lock()
	confirm, err := p.channel.PublishWithDeferredConfirmWithContext(ctx,
		exchange,   // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			MessageId:    msg.ID.String(),
			ContentType:  msg.ContentType,
			DeliveryMode: amqp.Persistent,
			Timestamp:    msg.Timestamp,
			Headers:      amqp.Table{"aggregate_id": msg.AggregateID.String()},
			Body:         msg.Body,
		},
	)
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to publish: %w", err)
	}

	ok, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("failed waiting for confirm: %w", err)
	}
	if !ok {
		return ErrNotConfirmed
	}
	return nil
}
