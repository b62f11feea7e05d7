package bids

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/floroz/gavel-estates/services/bid-service/internal/domain/auctions"
)

// Status is the state of a bid in the ledger.
type Status string

const (
	StatusPending   Status = "pending"
	StatusWinning   Status = "winning"
	StatusOutbid    Status = "outbid"
	StatusRejected  Status = "rejected"
	StatusCancelled Status = "cancelled"
)

// Bid is an accepted bid. Bids are append-only; only Status changes after insert.
type Bid struct {
	ID          uuid.UUID        `db:"id"`
	AuctionID   uuid.UUID        `db:"auction_id"`
	BidderID    uuid.UUID        `db:"bidder_id"`
	Sequence    int64            `db:"sequence"`
	Amount      decimal.Decimal  `db:"amount"`
	Status      Status           `db:"status"`
	IsAutoBid   bool             `db:"is_auto_bid"`
	MaxAutoBid  *decimal.Decimal `db:"max_auto_bid"`
	IPAddress   string           `db:"ip_address"`
	UserAgent   string           `db:"user_agent"`
	SubmittedAt time.Time        `db:"submitted_at"`
}

// Clone returns a deep copy.
func (b *Bid) Clone() *Bid {
	c := *b
	if b.MaxAutoBid != nil {
		v := *b.MaxAutoBid
		c.MaxAutoBid = &v
	}
	return &c
}

// PlaceBidCommand represents the command to place a bid
type PlaceBidCommand struct {
	AuctionID    uuid.UUID
	BidderID     uuid.UUID
	Amount       decimal.Decimal
	AutoBidLimit *decimal.Decimal
	// IsStaff lets staff bid on private auctions they were not invited to.
	IsStaff   bool
	IPAddress string
	UserAgent string
}

// PlaceBidResult is the outcome of an accepted bid.
type PlaceBidResult struct {
	Bid      *Bid
	Auction  *auctions.Auction
	Outbid   *Bid
	Extended bool
	Events   []Event
}

// CancelAuctionCommand represents the command to cancel an auction
type CancelAuctionCommand struct {
	AuctionID uuid.UUID
	ActorID   uuid.UUID
	IsStaff   bool
}

// Snapshot is a consistent read of an auction's bidding state.
type Snapshot struct {
	Auction       *auctions.Auction
	Status        auctions.Status
	WinningBid    *Bid
	RecentBids    []*Bid
	MinNextBid    decimal.Decimal
	TimeRemaining time.Duration
	ServerTime    time.Time
}
