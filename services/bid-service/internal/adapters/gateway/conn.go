package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/floroz/gavel-estates/pkg/auth"
	"github.com/floroz/gavel-estates/services/bid-service/internal/adapters/fanout"
	"github.com/floroz/gavel-estates/services/bid-service/internal/domain/auctions"
	"github.com/floroz/gavel-estates/services/bid-service/internal/domain/bids"
	"github.com/floroz/gavel-estates/services/bid-service/internal/metrics"
)

// conn is one Subscribed connection. The read pump handles inbound actions; the write pump
// is the only writer of data frames once it runs.
type conn struct {
	g         *Gateway
	ws        *websocket.Conn
	channel   channel
	identity  *auth.Identity
	auctionID uuid.UUID
	sub       *fanout.Subscription
	seq       *fanout.SequenceFilter
	ip        string
	userAgent string

	send      chan []byte
	limiter   *rate.Limiter
	done      chan struct{}
	closeOnce sync.Once
}

func (c *conn) writeInitialState(ctx context.Context) error {
	var body []byte
	if c.channel == channelNotifications {
		var err error
		body, err = json.Marshal(envelope{
			Type:      TypeInitialState,
			Timestamp: time.Now(),
			Data:      map[string]any{"user_id": c.identity.UserID},
		})
		if err != nil {
			return err
		}
	} else {
		snap, err := c.g.ledger.Snapshot(ctx, c.auctionID)
		if err != nil {
			return err
		}
		if body, err = encodeState(TypeInitialState, snap); err != nil {
			return err
		}
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.g.cfg.WriteWait))
	return c.ws.WriteMessage(websocket.TextMessage, body)
}

// run starts the pumps and blocks until the connection is closed.
func (c *conn) run() {
	c.send = make(chan []byte, c.g.cfg.SendBuffer)
	c.limiter = rate.NewLimiter(rate.Limit(c.g.cfg.RateLimit), c.g.cfg.RateBurst)
	c.done = make(chan struct{})

	label := string(c.channel)
	metrics.Connections.WithLabelValues(label).Inc()
	defer metrics.Connections.WithLabelValues(label).Dec()

	c.g.logger.Debug("Connection subscribed", "channel", c.channel, "auction_id", c.auctionID, "user_id", c.userID())

	go c.writePump()
	c.readPump()
}

func (c *conn) userID() string {
	if c.identity == nil {
		return ""
	}
	return c.identity.UserID.String()
}

// close tears the connection down once. It always releases the hub subscription.
func (c *conn) close(code int, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		c.sub.Close()
		closeWith(c.ws, code, reason, c.g.cfg.WriteWait)
	})
}

func (c *conn) readPump() {
	defer c.close(websocket.CloseNormalClosure, "")

	c.ws.SetReadLimit(c.g.cfg.MaxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.g.cfg.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.g.cfg.PongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.g.logger.Debug("WebSocket read error", "channel", c.channel, "error", err)
			}
			return
		}
		c.handle(data)
	}
}

func (c *conn) writePump() {
	ticker := time.NewTicker(c.g.cfg.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-c.sub.C():
			for {
				msg, ok := c.sub.Next()
				if !ok {
					break
				}
				if !c.seq.Admit(msg) {
					continue
				}
				if !c.write(msg.Body) {
					return
				}
			}
		case body := <-c.send:
			if !c.write(body) {
				return
			}
		case <-c.sub.Done():
			if c.sub.Dropped() {
				c.close(websocket.CloseTryAgainLater, "too slow, reconnect to resync")
			} else {
				c.close(websocket.CloseGoingAway, "server shutting down")
			}
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.g.cfg.WriteWait)); err != nil {
				c.close(websocket.CloseGoingAway, "")
				return
			}
		}
	}
}

func (c *conn) write(body []byte) bool {
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.g.cfg.WriteWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, body); err != nil {
		c.close(websocket.CloseGoingAway, "")
		return false
	}
	return true
}

// reply queues a direct response for the write pump.
func (c *conn) reply(body []byte) {
	select {
	case c.send <- body:
	case <-c.done:
	default:
		c.g.logger.Warn("Reply buffer full, closing connection", "channel", c.channel, "user_id", c.userID())
		c.close(websocket.CloseTryAgainLater, "too slow")
	}
}

func (c *conn) replyError(code, message, clientID string) {
	c.reply(encodeError(code, message, clientID, nil))
}

func (c *conn) handle(data []byte) {
	var msg inboundMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		metrics.InboundMessages.WithLabelValues("malformed").Inc()
		c.replyError(CodeInvalidMessage, "malformed JSON", "")
		return
	}
	if !c.limiter.Allow() {
		metrics.InboundMessages.WithLabelValues("rate_limited").Inc()
		c.replyError(CodeRateLimited, "too many messages", msg.ClientID)
		return
	}

	switch msg.Action {
	case ActionPlaceBid, ActionGetState, ActionPing:
		metrics.InboundMessages.WithLabelValues(msg.Action).Inc()
	default:
		metrics.InboundMessages.WithLabelValues("unknown").Inc()
		c.replyError(CodeUnknownAction, "unknown action", msg.ClientID)
		return
	}
	if err := validate.Struct(msg); err != nil {
		c.replyError(CodeInvalidMessage, "invalid message: "+err.Error(), msg.ClientID)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch msg.Action {
	case ActionPing:
		body, _ := json.Marshal(envelope{Type: TypePong, Timestamp: time.Now()})
		c.reply(body)
	case ActionGetState:
		c.handleGetState(ctx, msg)
	case ActionPlaceBid:
		c.handlePlaceBid(ctx, msg)
	}
}

func (c *conn) handleGetState(ctx context.Context, msg inboundMessage) {
	if c.channel == channelNotifications {
		c.replyError(CodeNotAllowed, "get_state is not available on this channel", msg.ClientID)
		return
	}
	snap, err := c.g.ledger.Snapshot(ctx, c.auctionID)
	if err != nil {
		c.replyFailure(err, msg.ClientID)
		return
	}
	body, err := encodeState(TypeAuctionState, snap)
	if err != nil {
		c.replyFailure(err, msg.ClientID)
		return
	}
	c.reply(body)
}

// handlePlaceBid forwards a bid to the ledger. Success is not acknowledged: the accepted
// bid reaches this client through the same event stream as everyone else.
func (c *conn) handlePlaceBid(ctx context.Context, msg inboundMessage) {
	if c.channel != channelBidding {
		c.replyError(CodeNotAllowed, "bids can only be placed on the bidding channel", msg.ClientID)
		return
	}
	_, err := c.g.ledger.PlaceBid(ctx, bids.PlaceBidCommand{
		AuctionID:    c.auctionID,
		BidderID:     c.identity.UserID,
		Amount:       *msg.Amount,
		AutoBidLimit: msg.AutoBidLimit,
		IsStaff:      c.identity.IsStaff(),
		IPAddress:    c.ip,
		UserAgent:    c.userAgent,
	})
	if err != nil {
		c.replyFailure(err, msg.ClientID)
	}
}

func (c *conn) replyFailure(err error, clientID string) {
	if rej, ok := bids.AsRejection(err); ok {
		c.reply(encodeError(string(rej.Code), rej.Message, clientID, rej.MinAmount))
		return
	}
	if errors.Is(err, auctions.ErrAuctionNotFound) {
		c.replyError(CodeAuctionNotFound, "auction not found", clientID)
		return
	}
	c.g.logger.Error("Failed to handle message", "channel", c.channel, "auction_id", c.auctionID, "error", err)
	c.replyError(CodeServerError, "internal error", clientID)
}
