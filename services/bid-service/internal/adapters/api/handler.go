package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/floroz/gavel-estates/pkg/auth"
	"github.com/floroz/gavel-estates/services/bid-service/internal/domain/auctions"
	"github.com/floroz/gavel-estates/services/bid-service/internal/domain/bids"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200

	defaultExtensionWindow = 5 * time.Minute
	defaultExtensionLength = 10 * time.Minute
)

// AuctionService is the auction setup surface used by the handler.
type AuctionService interface {
	CreateAuction(ctx context.Context, cmd auctions.CreateAuctionCommand) (*auctions.Auction, error)
	GetAuction(ctx context.Context, auctionID uuid.UUID) (*auctions.Auction, error)
	Schedule(ctx context.Context, auctionID, userID uuid.UUID) (*auctions.Auction, error)
	Invite(ctx context.Context, cmd auctions.InviteCommand) error
	Watch(ctx context.Context, auctionID, userID uuid.UUID) error
	Unwatch(ctx context.Context, auctionID, userID uuid.UUID) error
}

// Ledger is the bidding surface used by the handler.
type Ledger interface {
	PlaceBid(ctx context.Context, cmd bids.PlaceBidCommand) (*bids.PlaceBidResult, error)
	CancelAuction(ctx context.Context, cmd bids.CancelAuctionCommand) (*auctions.Auction, error)
	Snapshot(ctx context.Context, auctionID uuid.UUID) (*bids.Snapshot, error)
	History(ctx context.Context, auctionID uuid.UUID, limit int, beforeSequence int64) ([]*bids.Bid, error)
}

// InvitationChecker answers private-auction membership.
type InvitationChecker interface {
	IsInvited(ctx context.Context, tx pgx.Tx, auctionID, userID uuid.UUID) (bool, error)
}

// Handler serves the REST surface of the bid service.
type Handler struct {
	auctions AuctionService
	ledger   Ledger
	invites  InvitationChecker
	logger   *slog.Logger
}

func NewHandler(auctionService AuctionService, ledger Ledger, invites InvitationChecker, logger *slog.Logger) *Handler {
	return &Handler{
		auctions: auctionService,
		ledger:   ledger,
		invites:  invites,
		logger:   logger,
	}
}

// fail writes err to the client, logging unexpected failures.
func (h *Handler) fail(c *gin.Context, op string, err error) {
	if respondError(c, err) {
		h.logger.Error("Request failed", "op", op, "path", c.FullPath(), "error", err)
	}
}

func identity(c *gin.Context) *auth.Identity {
	id, _ := auth.IdentityFromContext(c.Request.Context())
	return id
}

func auctionIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		JSONError(c, http.StatusBadRequest, "invalid auction id")
		return uuid.Nil, false
	}
	return id, true
}

// viewer adapts a resolved identity to the auction read rules.
func viewer(id *auth.Identity) *auctions.Viewer {
	if id == nil {
		return nil
	}
	return &auctions.Viewer{UserID: id.UserID, IsStaff: id.IsStaff()}
}

// authorizeRead loads the auction and applies its read rules. A hidden draft reads as
// not found, a private auction the caller may not see as forbidden.
func (h *Handler) authorizeRead(c *gin.Context, auctionID uuid.UUID) bool {
	ctx := c.Request.Context()
	a, err := h.auctions.GetAuction(ctx, auctionID)
	if err != nil {
		h.fail(c, "authorize", err)
		return false
	}
	access, err := a.AccessFor(viewer(identity(c)), func(userID uuid.UUID) (bool, error) {
		return h.invites.IsInvited(ctx, nil, a.ID, userID)
	})
	if err != nil {
		h.fail(c, "authorize", err)
		return false
	}
	switch access {
	case auctions.AccessGranted:
		return true
	case auctions.AccessHidden:
		h.fail(c, "authorize", auctions.ErrAuctionNotFound)
	default:
		h.fail(c, "authorize", errForbidden)
	}
	return false
}

// CreateAuction handles POST /api/v1/auctions
func (h *Handler) CreateAuction(c *gin.Context) {
	var req CreateAuctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		JSONError(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	cmd := auctions.CreateAuctionCommand{
		PropertyID:      req.PropertyID,
		OwnerID:         identity(c).UserID,
		Title:           req.Title,
		StartDate:       req.StartDate,
		EndDate:         req.EndDate,
		StartingBid:     req.StartingBid,
		ReservePrice:    req.ReservePrice,
		MinIncrement:    req.MinIncrement,
		AutoExtend:      true,
		ExtensionWindow: defaultExtensionWindow,
		ExtensionLength: defaultExtensionLength,
		MaxExtensions:   req.MaxExtensions,
		IsPrivate:       req.IsPrivate,
	}
	if req.AutoExtend != nil {
		cmd.AutoExtend = *req.AutoExtend
	}
	if req.ExtensionWindowMinutes != nil {
		cmd.ExtensionWindow = time.Duration(*req.ExtensionWindowMinutes) * time.Minute
	}
	if req.ExtensionLengthMinutes != nil {
		cmd.ExtensionLength = time.Duration(*req.ExtensionLengthMinutes) * time.Minute
	}

	auction, err := h.auctions.CreateAuction(c.Request.Context(), cmd)
	if err != nil {
		h.fail(c, "create_auction", err)
		return
	}

	h.logger.Info("Auction created", "auction_id", auction.ID, "owner_id", auction.OwnerID)
	JSONResponse(c, http.StatusCreated, mapAuction(auction), "auction created")
}

// GetAuction handles GET /api/v1/auctions/:id and returns the bidding snapshot.
func (h *Handler) GetAuction(c *gin.Context) {
	auctionID, ok := auctionIDParam(c)
	if !ok || !h.authorizeRead(c, auctionID) {
		return
	}

	snap, err := h.ledger.Snapshot(c.Request.Context(), auctionID)
	if err != nil {
		h.fail(c, "snapshot", err)
		return
	}
	JSONResponse(c, http.StatusOK, bids.NewSnapshotView(snap), "")
}

// ListBids handles GET /api/v1/auctions/:id/bids?limit=&before=
func (h *Handler) ListBids(c *gin.Context) {
	auctionID, ok := auctionIDParam(c)
	if !ok {
		return
	}

	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			JSONError(c, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}
	var before int64
	if raw := c.Query("before"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 {
			JSONError(c, http.StatusBadRequest, "before must be a positive sequence number")
			return
		}
		before = n
	}

	if !h.authorizeRead(c, auctionID) {
		return
	}

	list, err := h.ledger.History(c.Request.Context(), auctionID, limit, before)
	if err != nil {
		h.fail(c, "list_bids", err)
		return
	}
	JSONResponse(c, http.StatusOK, bids.NewBidViews(list), "")
}

// ScheduleAuction handles POST /api/v1/auctions/:id/schedule
func (h *Handler) ScheduleAuction(c *gin.Context) {
	auctionID, ok := auctionIDParam(c)
	if !ok {
		return
	}

	auction, err := h.auctions.Schedule(c.Request.Context(), auctionID, identity(c).UserID)
	if err != nil {
		h.fail(c, "schedule", err)
		return
	}

	h.logger.Info("Auction scheduled", "auction_id", auction.ID, "start_date", auction.StartDate)
	JSONResponse(c, http.StatusOK, mapAuction(auction), "auction scheduled")
}

// InviteBidders handles POST /api/v1/auctions/:id/invitations
func (h *Handler) InviteBidders(c *gin.Context) {
	auctionID, ok := auctionIDParam(c)
	if !ok {
		return
	}
	var req InviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		JSONError(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	err := h.auctions.Invite(c.Request.Context(), auctions.InviteCommand{
		AuctionID: auctionID,
		OwnerID:   identity(c).UserID,
		UserIDs:   req.UserIDs,
	})
	if err != nil {
		h.fail(c, "invite", err)
		return
	}
	JSONResponse(c, http.StatusOK, gin.H{"invited": len(req.UserIDs)}, "bidders invited")
}

// Watch handles POST /api/v1/auctions/:id/watch
func (h *Handler) Watch(c *gin.Context) {
	auctionID, ok := auctionIDParam(c)
	if !ok || !h.authorizeRead(c, auctionID) {
		return
	}
	if err := h.auctions.Watch(c.Request.Context(), auctionID, identity(c).UserID); err != nil {
		h.fail(c, "watch", err)
		return
	}
	JSONResponse(c, http.StatusOK, nil, "watching auction")
}

// Unwatch handles DELETE /api/v1/auctions/:id/watch
func (h *Handler) Unwatch(c *gin.Context) {
	auctionID, ok := auctionIDParam(c)
	if !ok {
		return
	}
	if err := h.auctions.Unwatch(c.Request.Context(), auctionID, identity(c).UserID); err != nil {
		h.fail(c, "unwatch", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// PlaceBid handles POST /api/v1/auctions/:id/bids
func (h *Handler) PlaceBid(c *gin.Context) {
	auctionID, ok := auctionIDParam(c)
	if !ok {
		return
	}
	var req PlaceBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		JSONError(c, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	id := identity(c)
	result, err := h.ledger.PlaceBid(c.Request.Context(), bids.PlaceBidCommand{
		AuctionID:    auctionID,
		BidderID:     id.UserID,
		Amount:       req.Amount,
		AutoBidLimit: req.AutoBidLimit,
		IsStaff:      id.IsStaff(),
		IPAddress:    c.ClientIP(),
		UserAgent:    c.Request.UserAgent(),
	})
	if err != nil {
		if rej, ok := bids.AsRejection(err); ok {
			h.logger.Debug("Bid rejected", "auction_id", auctionID, "bidder_id", id.UserID, "code", rej.Code)
		}
		h.fail(c, "place_bid", err)
		return
	}

	JSONResponse(c, http.StatusCreated, gin.H{
		"bid":      bids.NewBidView(result.Bid),
		"extended": result.Extended,
		"end_date": result.Auction.EndDate,
	}, "bid accepted")
}

// CancelAuction handles POST /api/v1/auctions/:id/cancel
func (h *Handler) CancelAuction(c *gin.Context) {
	auctionID, ok := auctionIDParam(c)
	if !ok {
		return
	}

	id := identity(c)
	auction, err := h.ledger.CancelAuction(c.Request.Context(), bids.CancelAuctionCommand{
		AuctionID: auctionID,
		ActorID:   id.UserID,
		IsStaff:   id.IsStaff(),
	})
	if err != nil {
		h.fail(c, "cancel", err)
		return
	}

	h.logger.Info("Auction cancelled", "auction_id", auction.ID, "actor_id", id.UserID)
	JSONResponse(c, http.StatusOK, mapAuction(auction), "auction cancelled")
}

// Health handles GET /health
func (h *Handler) Health(c *gin.Context) {
	JSONResponse(c, http.StatusOK, gin.H{"state": "ok"}, "healthy")
}
