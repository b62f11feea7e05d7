package testhelpers

import (
	"context"
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
)

// TestBroker is a RabbitMQ container with an open connection.
type TestBroker struct {
	Container *rabbitmq.RabbitMQContainer
	Conn      *amqp.Connection
	URL       string
}

// NewTestBroker starts RabbitMQ and registers cleanup on t.
func NewTestBroker(t *testing.T) *TestBroker {
	t.Helper()
	ctx := context.Background()

	container, err := rabbitmq.Run(ctx,
		"rabbitmq:3.12-management-alpine",
		rabbitmq.WithAdminPassword("password"),
	)
	require.NoError(t, err, "failed to start rabbitmq container")

	url, err := container.AmqpURL(ctx)
	require.NoError(t, err)

	conn, err := amqp.Dial(url)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close()
		_ = container.Terminate(context.Background())
	})

	return &TestBroker{Container: container, Conn: conn, URL: url}
}

// BindQueue declares an exclusive queue bound to exchange for routingKey and returns its deliveries.
func (b *TestBroker) BindQueue(t *testing.T, exchange, routingKey string) <-chan amqp.Delivery {
	t.Helper()

	ch, err := b.Conn.Channel()
	require.NoError(t, err)
	t.Cleanup(func() { _ = ch.Close() })

	require.NoError(t, ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil))
	q, err := ch.QueueDeclare("", false, false, true, false, nil)
	require.NoError(t, err)
	require.NoError(t, ch.QueueBind(q.Name, routingKey, exchange, false, nil))

	msgs, err := ch.Consume(q.Name, "", true, false, false, false, nil)
	require.NoError(t, err)
	return msgs
}
