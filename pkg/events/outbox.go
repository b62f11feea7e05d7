package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/floroz/gavel-estates/pkg/database"
)

// OutboxStatus defines the status of an event in the outbox
type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusPublished OutboxStatus = "published"
	OutboxStatusFailed    OutboxStatus = "failed"
)

// OutboxEvent is an integration event written in the same transaction as the state change it describes.
type OutboxEvent struct {
	ID          uuid.UUID    `db:"id"`
	AggregateID uuid.UUID    `db:"aggregate_id"`
	EventType   string       `db:"event_type"`
	Payload     []byte       `db:"payload"`
	Status      OutboxStatus `db:"status"`
	Attempts    int          `db:"attempts"`
	CreatedAt   time.Time    `db:"created_at"`
	ProcessedAt *time.Time   `db:"processed_at"`
}

// NewOutboxEvent encodes payload and returns a pending event for aggregateID.
func NewOutboxEvent(aggregateID uuid.UUID, eventType string, payload map[string]any, now time.Time) (*OutboxEvent, error) {
	body, err := EncodePayload(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", eventType, err)
	}
	return &OutboxEvent{
		ID:          uuid.New(),
		AggregateID: aggregateID,
		EventType:   eventType,
		Payload:     body,
		Status:      OutboxStatusPending,
		CreatedAt:   now,
	}, nil
}

// OutboxRepository is the part of the outbox table the relay needs.
type OutboxRepository interface {
	GetPendingEvents(ctx context.Context, tx pgx.Tx, limit int) ([]*OutboxEvent, error)
	UpdateEventStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status OutboxStatus) error
	IncrementAttempts(ctx context.Context, tx pgx.Tx, id uuid.UUID) (int, error)
}

// Message is what the relay hands to a broker.
type Message struct {
	ID          uuid.UUID
	AggregateID uuid.UUID
	ContentType string
	Body        []byte
	Timestamp   time.Time
}

// EventPublisher defines the interface for publishing events to a broker
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, msg Message) error
}

// OutboxRelay polls the outbox for pending events and publishes them in creation order.
type OutboxRelay struct {
	outboxRepo  OutboxRepository
	publisher   EventPublisher
	txManager   database.TransactionManager
	batchSize   int
	interval    time.Duration
	exchange    string
	maxAttempts int
	logger      *slog.Logger
}

// NewOutboxRelay creates a new outbox relay.
// An event whose publish fails maxAttempts times is marked failed so it stops blocking the queue.
func NewOutboxRelay(
	outboxRepo OutboxRepository,
	publisher EventPublisher,
	txManager database.TransactionManager,
	batchSize int,
	interval time.Duration,
	exchange string,
	maxAttempts int,
	logger *slog.Logger,
) *OutboxRelay {
	return &OutboxRelay{
		outboxRepo:  outboxRepo,
		publisher:   publisher,
		txManager:   txManager,
		batchSize:   batchSize,
		interval:    interval,
		exchange:    exchange,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// Run starts the polling loop; it returns nil when ctx is cancelled.
func (r *OutboxRelay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		if _, err := r.ProcessBatch(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("Error processing outbox batch", "error", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// ProcessBatch publishes up to batchSize pending events and reports how many were published.
func (r *OutboxRelay) ProcessBatch(ctx context.Context) (int, error) {
	tx, err := r.txManager.BeginTx(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	// Rows stay locked (FOR UPDATE SKIP LOCKED) until commit so relays can run side by side.
	pending, err := r.outboxRepo.GetPendingEvents(ctx, tx, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch pending events: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	published := 0
	for _, event := range pending {
		msg := Message{
			ID:          event.ID,
			AggregateID: event.AggregateID,
			ContentType: PayloadContentType,
			Body:        event.Payload,
			Timestamp:   event.CreatedAt,
		}
		if pubErr := r.publisher.Publish(ctx, r.exchange, event.EventType, msg); pubErr != nil {
			attempts, incErr := r.outboxRepo.IncrementAttempts(ctx, tx, event.ID)
			if incErr != nil {
				return published, fmt.Errorf("failed to record attempt for event %s: %w", event.ID, incErr)
			}
			if r.maxAttempts > 0 && attempts >= r.maxAttempts {
				r.logger.Error("Giving up on outbox event", "event_id", event.ID, "event_type", event.EventType, "attempts", attempts, "error", pubErr)
				if updErr := r.outboxRepo.UpdateEventStatus(ctx, tx, event.ID, OutboxStatusFailed); updErr != nil {
					return published, fmt.Errorf("failed to mark event %s failed: %w", event.ID, updErr)
				}
				continue
			}
			// Later events for the same aggregate must not overtake this one; stop the batch here.
			if commitErr := tx.Commit(ctx); commitErr != nil {
				return published, fmt.Errorf("failed to commit transaction: %w", commitErr)
			}
			return published, fmt.Errorf("failed to publish event %s: %w", event.ID, pubErr)
		}

		if updErr := r.outboxRepo.UpdateEventStatus(ctx, tx, event.ID, OutboxStatusPublished); updErr != nil {
			return published, fmt.Errorf("failed to update event status %s: %w", event.ID, updErr)
		}
		published++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	r.logger.Info("Published outbox events", "count", published)
	return published, nil
}
