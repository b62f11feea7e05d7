package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/gammazero/deque"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/floroz/gavel-estates/services/bid-service/internal/domain/bids"
	"github.com/floroz/gavel-estates/services/bid-service/internal/metrics"
)

const defaultBridgeBacklog = 10000

// envelope is the Redis wire format of a bridged message.
type envelope struct {
	Origin   string          `json:"origin"`
	Topic    string          `json:"topic"`
	Type     bids.EventType  `json:"type"`
	Sequence int64           `json:"sequence"`
	Body     json.RawMessage `json:"body"`
}

// RedisBridge mirrors hub traffic across instances over Redis pub/sub. Local messages are
// published by a single goroutine in the order they were forwarded; remote messages are
// delivered to the local hub. Messages from this instance are ignored on the way back.
//
// Redis orders messages per publisher only, so two instances committing bids on the same
// auction can reach a third out of order. Subscribers drop late arrivals with SequenceFilter.
type RedisBridge struct {
	client     redis.UniversalClient
	hub        *Hub
	prefix     string
	instanceID string
	backlog    int
	logger     *slog.Logger

	mu      sync.Mutex
	pending *deque.Deque[Message]
	notify  chan struct{}
}

// NewRedisBridge creates a bridge and registers it as the hub's forwarder.
func NewRedisBridge(client redis.UniversalClient, hub *Hub, prefix, instanceID string, logger *slog.Logger) *RedisBridge {
	b := &RedisBridge{
		client:     client,
		hub:        hub,
		prefix:     prefix,
		instanceID: instanceID,
		backlog:    defaultBridgeBacklog,
		logger:     logger.With("component", "redis_bridge", "instance_id", instanceID),
		pending:    deque.New[Message](),
		notify:     make(chan struct{}, 1),
	}
	hub.SetForwarder(b)
	return b
}

// Forward queues msg for publishing. It never blocks; when the backlog is full the message
// is dropped and counted.
func (b *RedisBridge) Forward(msg Message) {
	b.mu.Lock()
	if b.pending.Len() >= b.backlog {
		b.mu.Unlock()
		metrics.BridgeErrors.WithLabelValues("overflow").Inc()
		b.logger.Warn("Bridge backlog full, dropping message", "topic", msg.Topic)
		return
	}
	b.pending.PushBack(msg)
	b.mu.Unlock()

	select {
	case b.notify <- struct{}{}:
	default:
	}
}

// Run subscribes to the bridge channels and forwards local messages until ctx is cancelled.
func (b *RedisBridge) Run(ctx context.Context) error {
	pubsub := b.client.PSubscribe(ctx, b.prefix+"*")
	defer pubsub.Close()

	// Wait for the subscription confirmation so nothing published afterwards is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("failed to subscribe to %s*: %w", b.prefix, err)
	}
	b.logger.Info("Redis bridge subscribed", "pattern", b.prefix+"*")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		b.receiveLoop(ctx, pubsub.Channel())
		return nil
	})
	g.Go(func() error {
		b.publishLoop(ctx)
		return nil
	})
	return g.Wait()
}

func (b *RedisBridge) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-b.notify:
		}
		for {
			b.mu.Lock()
			if b.pending.Len() == 0 {
				b.mu.Unlock()
				break
			}
			msg := b.pending.PopFront()
			b.mu.Unlock()

			if err := b.publish(ctx, msg); err != nil {
				metrics.BridgeErrors.WithLabelValues("publish").Inc()
				b.logger.Error("Failed to publish to redis", "topic", msg.Topic, "error", err)
				continue
			}
			metrics.BridgeMessages.WithLabelValues("out").Inc()
		}
	}
}

func (b *RedisBridge) publish(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(envelope{
		Origin:   b.instanceID,
		Topic:    msg.Topic,
		Type:     msg.Type,
		Sequence: msg.Sequence,
		Body:     msg.Body,
	})
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.prefix+msg.Topic, payload).Err()
}

func (b *RedisBridge) receiveLoop(ctx context.Context, ch <-chan *redis.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			b.handle(m)
		}
	}
}

func (b *RedisBridge) handle(m *redis.Message) {
	var env envelope
	if err := json.Unmarshal([]byte(m.Payload), &env); err != nil {
		metrics.BridgeErrors.WithLabelValues("decode").Inc()
		b.logger.Warn("Dropping malformed bridge message", "channel", m.Channel, "error", err)
		return
	}
	if env.Origin == b.instanceID {
		return
	}
	if env.Topic != strings.TrimPrefix(m.Channel, b.prefix) {
		metrics.BridgeErrors.WithLabelValues("decode").Inc()
		b.logger.Warn("Bridge message topic does not match channel", "channel", m.Channel, "topic", env.Topic)
		return
	}
	metrics.BridgeMessages.WithLabelValues("in").Inc()
	b.hub.Deliver(Message{Topic: env.Topic, Type: env.Type, Sequence: env.Sequence, Body: env.Body})
}
