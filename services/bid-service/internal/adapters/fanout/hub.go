// Package fanout delivers committed auction events to subscribers on this instance and,
// through the Redis bridge, to subscribers on other instances.
package fanout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gammazero/deque"

	"github.com/floroz/gavel-estates/services/bid-service/internal/domain/bids"
	"github.com/floroz/gavel-estates/services/bid-service/internal/metrics"
)

// ErrHubClosed is returned by Subscribe after the hub shut down.
var ErrHubClosed = errors.New("fanout hub closed")

// Message is an encoded event addressed to one topic.
type Message struct {
	Topic string
	Type  bids.EventType
	// Sequence is the auction's bid sequence the event was produced at.
	Sequence int64
	Body     []byte
}

// Forwarder receives every locally published message, in publish order.
type Forwarder interface {
	Forward(msg Message)
}

// Hub is an in-process topic broker. Publish never blocks: each subscriber has a bounded
// FIFO mailbox and a subscriber whose mailbox overflows is dropped.
type Hub struct {
	mu          sync.RWMutex
	topics      map[string]map[*Subscription]struct{}
	mailboxSize int
	forwarder   Forwarder
	closed      bool
	logger      *slog.Logger
}

// NewHub creates a hub whose subscriber mailboxes hold at most mailboxSize messages.
func NewHub(mailboxSize int, logger *slog.Logger) *Hub {
	if mailboxSize <= 0 {
		mailboxSize = 256
	}
	return &Hub{
		topics:      make(map[string]map[*Subscription]struct{}),
		mailboxSize: mailboxSize,
		logger:      logger,
	}
}

// SetForwarder registers f to receive local publishes. Call before Run.
func (h *Hub) SetForwarder(f Forwarder) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.forwarder = f
}

// Run blocks until ctx is cancelled, then closes the hub.
func (h *Hub) Run(ctx context.Context) error {
	<-ctx.Done()
	h.Close()
	return nil
}

// Close drops every subscriber. It is safe to call more than once.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	subs := make(map[*Subscription]struct{})
	for _, set := range h.topics {
		for s := range set {
			subs[s] = struct{}{}
		}
	}
	h.topics = make(map[string]map[*Subscription]struct{})
	h.mu.Unlock()

	for s := range subs {
		s.close(false)
	}
	h.logger.Info("Fan-out hub closed", "subscribers", len(subs))
}

// Subscribe registers a subscription for topics. The subscription receives every message
// published to any of them after Subscribe returns.
func (h *Hub) Subscribe(topics ...string) (*Subscription, error) {
	s := &Subscription{
		hub:    h,
		topics: topics,
		queue:  deque.New[Message](),
		limit:  h.mailboxSize,
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHubClosed
	}
	for _, t := range topics {
		set, ok := h.topics[t]
		if !ok {
			set = make(map[*Subscription]struct{})
			h.topics[t] = set
		}
		set[s] = struct{}{}
	}
	metrics.Subscribers.Inc()
	return s, nil
}

func (h *Hub) unsubscribe(s *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, t := range s.topics {
		set, ok := h.topics[t]
		if !ok {
			continue
		}
		delete(set, s)
		if len(set) == 0 {
			delete(h.topics, t)
		}
	}
}

// Publish implements bids.Publisher. It encodes the event once, delivers it to local
// subscribers and hands it to the forwarder.
func (h *Hub) Publish(ctx context.Context, ev bids.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", ev.Type, err)
	}
	msg := Message{Topic: ev.Topic, Type: ev.Type, Sequence: ev.Sequence, Body: body}

	h.Deliver(msg)

	h.mu.RLock()
	f := h.forwarder
	h.mu.RUnlock()
	if f != nil {
		f.Forward(msg)
	}
	return nil
}

// Deliver enqueues msg for local subscribers of its topic only.
func (h *Hub) Deliver(msg Message) {
	h.mu.RLock()
	set := h.topics[msg.Topic]
	var overflow []*Subscription
	for s := range set {
		if !s.push(msg) {
			overflow = append(overflow, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range overflow {
		h.logger.Warn("Dropping slow subscriber", "topic", msg.Topic, "mailbox_size", h.mailboxSize)
		metrics.SubscribersDropped.Inc()
		s.close(true)
	}
}

// Subscribers returns the number of subscriptions on topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Subscription is one consumer's view of the hub. Messages arrive in publish order per topic.
type Subscription struct {
	hub    *Hub
	topics []string

	mu      sync.Mutex
	queue   *deque.Deque[Message]
	limit   int
	dropped bool

	notify    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func (s *Subscription) push(msg Message) bool {
	s.mu.Lock()
	if s.dropped || s.queue.Len() >= s.limit {
		s.mu.Unlock()
		return false
	}
	s.queue.PushBack(msg)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return true
}

// C signals that messages may be waiting. Drain with Next until it reports false.
func (s *Subscription) C() <-chan struct{} { return s.notify }

// Done is closed when the subscription ends, by Close, hub shutdown or overflow.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Next pops the oldest queued message.
func (s *Subscription) Next() (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue.Len() == 0 {
		return Message{}, false
	}
	return s.queue.PopFront(), true
}

// Dropped reports whether the hub dropped this subscription because its mailbox overflowed.
// A dropped subscriber has missed messages and must resynchronize.
func (s *Subscription) Dropped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Close unsubscribes. It is idempotent.
func (s *Subscription) Close() {
	s.close(false)
}

func (s *Subscription) close(dropped bool) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.dropped = dropped
		s.mu.Unlock()
		s.hub.unsubscribe(s)
		metrics.Subscribers.Dec()
		close(s.done)
	})
}
