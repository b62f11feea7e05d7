// Package gateway serves the WebSocket channels of the bidding service.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jackc/pgx/v5"

	"github.com/floroz/gavel-estates/pkg/auth"
	"github.com/floroz/gavel-estates/services/bid-service/internal/adapters/fanout"
	"github.com/floroz/gavel-estates/services/bid-service/internal/domain/auctions"
	"github.com/floroz/gavel-estates/services/bid-service/internal/domain/bids"
	"github.com/floroz/gavel-estates/services/bid-service/internal/metrics"
)

// Ledger is the part of the bid ledger the gateway calls.
type Ledger interface {
	PlaceBid(ctx context.Context, cmd bids.PlaceBidCommand) (*bids.PlaceBidResult, error)
	Snapshot(ctx context.Context, auctionID uuid.UUID) (*bids.Snapshot, error)
}

// InvitationChecker answers private auction membership.
type InvitationChecker interface {
	IsInvited(ctx context.Context, tx pgx.Tx, auctionID, userID uuid.UUID) (bool, error)
}

// Broker hands out hub subscriptions.
type Broker interface {
	Subscribe(topics ...string) (*fanout.Subscription, error)
}

// Config tunes connections.
type Config struct {
	WriteWait      time.Duration
	PongWait       time.Duration
	PingPeriod     time.Duration
	MaxMessageSize int64
	SendBuffer     int
	RateLimit      float64
	RateBurst      int
	// AllowedOrigins restricts browser origins; empty allows any.
	AllowedOrigins []string
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingPeriod:     54 * time.Second,
		MaxMessageSize: 4096,
		SendBuffer:     32,
		RateLimit:      5,
		RateBurst:      10,
	}
}

type channel string

const (
	channelAuction       channel = "auctions"
	channelBidding       channel = "bidding"
	channelNotifications channel = "notifications"
)

// Gateway upgrades HTTP requests to subscribed WebSocket connections.
type Gateway struct {
	ledger   Ledger
	invites  InvitationChecker
	broker   Broker
	resolver auth.IdentityResolver
	cfg      Config
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// New creates a gateway.
func New(ledger Ledger, invites InvitationChecker, broker Broker, resolver auth.IdentityResolver, cfg Config, logger *slog.Logger) *Gateway {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 32
	}
	g := &Gateway{
		ledger:   ledger,
		invites:  invites,
		broker:   broker,
		resolver: resolver,
		cfg:      cfg,
		logger:   logger.With("component", "gateway"),
	}
	g.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     g.checkOrigin,
	}
	return g
}

// RegisterRoutes mounts the WebSocket channels.
func (g *Gateway) RegisterRoutes(r gin.IRoutes) {
	r.GET("/ws/auctions/:id", g.serve(channelAuction))
	r.GET("/ws/bidding/:id", g.serve(channelBidding))
	r.GET("/ws/notifications/:id", g.serve(channelNotifications))
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(g.cfg.AllowedOrigins) == 0 {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return slices.Contains(g.cfg.AllowedOrigins, origin) || slices.Contains(g.cfg.AllowedOrigins, u.Host)
}

// rejectError closes a connection during the handshake.
type rejectError struct {
	code   int
	reason string
	err    error
}

func (e *rejectError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.reason, e.err)
	}
	return e.reason
}

func reject(code int, reason string) *rejectError {
	return &rejectError{code: code, reason: reason}
}

func (g *Gateway) serve(ch channel) gin.HandlerFunc {
	return func(c *gin.Context) {
		ws, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			// Upgrade already replied with an HTTP error.
			g.logger.Warn("WebSocket upgrade failed", "channel", ch, "error", err)
			return
		}

		conn, err := g.authorize(c, ws, ch)
		if err != nil {
			var rej *rejectError
			if !errors.As(err, &rej) {
				rej = &rejectError{code: websocket.CloseInternalServerErr, reason: "server error", err: err}
			}
			if rej.code == websocket.CloseInternalServerErr {
				g.logger.Error("WebSocket handshake failed", "channel", ch, "error", err)
			}
			metrics.ConnectionsRejected.WithLabelValues(fmt.Sprint(rej.code)).Inc()
			closeWith(ws, rej.code, rej.reason, g.cfg.WriteWait)
			return
		}
		conn.run()
	}
}

// authorize runs the Authenticating state: it resolves the identity, checks access to the
// topic, subscribes, and writes the initial state. On success the connection is Subscribed.
func (g *Gateway) authorize(gc *gin.Context, ws *websocket.Conn, ch channel) (*conn, error) {
	r := gc.Request
	ctx := r.Context()

	var identity *auth.Identity
	if token := auth.TokenFromRequest(r); token != "" {
		id, err := g.resolver.ResolveIdentity(token)
		if err != nil {
			return nil, reject(CloseUnauthenticated, "invalid token")
		}
		identity = id
	}

	id, err := uuid.Parse(gc.Param("id"))
	if err != nil {
		return nil, reject(CloseNotFound, "not found")
	}

	c := &conn{
		g:         g,
		ws:        ws,
		channel:   ch,
		identity:  identity,
		ip:        gc.ClientIP(),
		userAgent: r.UserAgent(),
	}

	var topic string
	switch ch {
	case channelNotifications:
		if identity == nil {
			return nil, reject(CloseUnauthenticated, "authentication required")
		}
		if identity.UserID != id && !identity.IsStaff() {
			return nil, reject(CloseForbidden, "forbidden")
		}
		topic = bids.NotificationTopic(id)
	case channelBidding:
		if identity == nil {
			return nil, reject(CloseUnauthenticated, "authentication required")
		}
		if err := g.checkAuction(ctx, id, identity); err != nil {
			return nil, err
		}
		topic = bids.BiddingTopic(id)
		c.auctionID = id
	default:
		if err := g.checkAuction(ctx, id, identity); err != nil {
			return nil, err
		}
		topic = bids.AuctionTopic(id)
		c.auctionID = id
	}

	// Subscribe before reading the state: an event committed in between may repeat state the
	// client already has, but none can be missed.
	sub, err := g.broker.Subscribe(topic)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}
	c.sub = sub
	c.seq = fanout.NewSequenceFilter()

	if err := c.writeInitialState(ctx); err != nil {
		sub.Close()
		return nil, err
	}
	return c, nil
}

func (g *Gateway) checkAuction(ctx context.Context, auctionID uuid.UUID, identity *auth.Identity) error {
	snap, err := g.ledger.Snapshot(ctx, auctionID)
	if err != nil {
		if errors.Is(err, auctions.ErrAuctionNotFound) {
			return reject(CloseNotFound, "auction not found")
		}
		return fmt.Errorf("failed to load auction: %w", err)
	}
	a := snap.Auction
	var v *auctions.Viewer
	if identity != nil {
		v = &auctions.Viewer{UserID: identity.UserID, IsStaff: identity.IsStaff()}
	}
	access, err := a.AccessFor(v, func(userID uuid.UUID) (bool, error) {
		return g.invites.IsInvited(ctx, nil, a.ID, userID)
	})
	if err != nil {
		return fmt.Errorf("failed to check invitation: %w", err)
	}
	switch access {
	case auctions.AccessHidden:
		return reject(CloseNotFound, "auction not found")
	case auctions.AccessNeedsIdentity:
		return reject(CloseUnauthenticated, "authentication required")
	case auctions.AccessForbidden:
		return reject(CloseForbidden, "not invited")
	}
	return nil
}

func closeWith(ws *websocket.Conn, code int, reason string, wait time.Duration) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wait))
	_ = ws.Close()
}
