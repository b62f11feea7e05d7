package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"

	pkgdb "github.com/floroz/gavel-estates/pkg/database"
	pkgevents "github.com/floroz/gavel-estates/pkg/events"
	"github.com/floroz/gavel-estates/services/bid-service/internal/adapters/database"
	"github.com/floroz/gavel-estates/services/bid-service/internal/config"
)

// IntegrationEventsProducer relays the bid service outbox (bid.placed, auction.* events) to RabbitMQ.
type IntegrationEventsProducer struct {
	relay     *pkgevents.OutboxRelay
	publisher *pkgevents.RabbitMQPublisher
}

// NewIntegrationEventsProducer wires the Postgres outbox to a confirm-mode publisher on exchange.
func NewIntegrationEventsProducer(
	pool *pgxpool.Pool,
	conn *amqp.Connection,
	exchange string,
	cfg config.OutboxConfig,
	lockTimeout time.Duration,
	logger *slog.Logger,
) (*IntegrationEventsProducer, error) {
	publisher, err := pkgevents.NewRabbitMQPublisher(conn, exchange)
	if err != nil {
		return nil, fmt.Errorf("failed to create publisher: %w", err)
	}

	txManager := pkgdb.NewPostgresTransactionManager(pool, lockTimeout)
	outboxRepo := database.NewPostgresOutboxRepository(pool)

	relay := pkgevents.NewOutboxRelay(
		outboxRepo,
		publisher,
		txManager,
		cfg.BatchSize,
		cfg.Interval,
		exchange,
		cfg.MaxAttempts,
		logger.With("component", "outbox_relay"),
	)

	return &IntegrationEventsProducer{
		relay:     relay,
		publisher: publisher,
	}, nil
}

// Run starts the relay loop
func (p *IntegrationEventsProducer) Run(ctx context.Context) error {
	return p.relay.Run(ctx)
}

// Close closes the publisher channel
func (p *IntegrationEventsProducer) Close() error {
	return p.publisher.Close()
}
