package bids

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/floroz/gavel-estates/pkg/events"
	"github.com/floroz/gavel-estates/services/bid-service/internal/domain/auctions"
)

// AuctionRepository is the part of auction storage the ledger needs.
// Methods taking a tx accept nil to run outside a transaction.
type AuctionRepository interface {
	// GetAuctionByID retrieves an auction by its ID
	GetAuctionByID(ctx context.Context, auctionID uuid.UUID) (*auctions.Auction, error)

	// GetAuctionByIDForUpdate retrieves an auction and locks its row until the transaction ends
	GetAuctionByIDForUpdate(ctx context.Context, tx pgx.Tx, auctionID uuid.UUID) (*auctions.Auction, error)

	// UpdateAuction persists every mutable field of the auction
	UpdateAuction(ctx context.Context, tx pgx.Tx, auction *auctions.Auction) error

	// IsInvited reports whether userID is in the auction's invited set
	IsInvited(ctx context.Context, tx pgx.Tx, auctionID, userID uuid.UUID) (bool, error)

	// ListWatchers returns the user IDs watching an auction
	ListWatchers(ctx context.Context, tx pgx.Tx, auctionID uuid.UUID) ([]uuid.UUID, error)
}

// BidRepository defines the interface for bid persistence
type BidRepository interface {
	// AppendBid inserts a new bid within a transaction
	AppendBid(ctx context.Context, tx pgx.Tx, bid *Bid) error

	// LastSequence returns the highest bid sequence of an auction, 0 when it has no bids
	LastSequence(ctx context.Context, tx pgx.Tx, auctionID uuid.UUID) (int64, error)

	// GetWinningBid returns the auction's winning bid, or nil when there is none
	GetWinningBid(ctx context.Context, tx pgx.Tx, auctionID uuid.UUID) (*Bid, error)

	// UpdateBidStatus transitions a bid to a new status
	UpdateBidStatus(ctx context.Context, tx pgx.Tx, bidID uuid.UUID, status Status) error

	// CancelOpenBids marks the auction's pending and winning bids cancelled
	CancelOpenBids(ctx context.Context, tx pgx.Tx, auctionID uuid.UUID) (int64, error)

	// ListBids returns up to limit bids newest first, starting below beforeSequence (0 for the newest)
	ListBids(ctx context.Context, auctionID uuid.UUID, limit int, beforeSequence int64) ([]*Bid, error)
}

// OutboxRepository defines the interface for outbox event persistence
type OutboxRepository interface {
	// SaveEvent saves an outbox event within a transaction
	SaveEvent(ctx context.Context, tx pgx.Tx, event *events.OutboxEvent) error
}

// Publisher hands events to the fan-out. Implementations must not block on network I/O.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}
