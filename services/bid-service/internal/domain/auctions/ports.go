package auctions

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Repository defines the interface for auction persistence.
// Methods taking a tx accept nil to run outside a transaction.
type Repository interface {
	// CreateAuction inserts a new auction
	CreateAuction(ctx context.Context, tx pgx.Tx, auction *Auction) error

	// GetAuctionByID retrieves an auction by its ID
	GetAuctionByID(ctx context.Context, auctionID uuid.UUID) (*Auction, error)

	// GetAuctionByIDForUpdate retrieves an auction and locks its row until the transaction ends
	GetAuctionByIDForUpdate(ctx context.Context, tx pgx.Tx, auctionID uuid.UUID) (*Auction, error)

	// UpdateAuction persists every mutable field of the auction
	UpdateAuction(ctx context.Context, tx pgx.Tx, auction *Auction) error

	// AddInvitations adds users to a private auction's invited set; existing entries are kept
	AddInvitations(ctx context.Context, tx pgx.Tx, auctionID uuid.UUID, userIDs []uuid.UUID) error

	// IsInvited reports whether userID is in the auction's invited set
	IsInvited(ctx context.Context, tx pgx.Tx, auctionID, userID uuid.UUID) (bool, error)

	// AddWatcher registers a watcher; watching twice is not an error
	AddWatcher(ctx context.Context, watcher *Watcher) error

	// RemoveWatcher deletes a watcher; removing a missing watcher is not an error
	RemoveWatcher(ctx context.Context, auctionID, userID uuid.UUID) error

	// ListWatchers returns the user IDs watching an auction
	ListWatchers(ctx context.Context, tx pgx.Tx, auctionID uuid.UUID) ([]uuid.UUID, error)

	// ListDueAuctions returns auctions whose time-driven transition is overdue at now
	ListDueAuctions(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)

	// ListActiveAuctions returns live and extended auction IDs
	ListActiveAuctions(ctx context.Context, limit int) ([]uuid.UUID, error)
}
