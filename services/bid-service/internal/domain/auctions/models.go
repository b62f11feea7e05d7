package auctions

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of an auction.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusScheduled Status = "scheduled"
	StatusLive      Status = "live"
	StatusExtended  Status = "extended"
	StatusEnded     Status = "ended"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

// IsActive reports whether bids may be accepted in this status.
func (s Status) IsActive() bool {
	return s == StatusLive || s == StatusExtended
}

// IsTerminal reports whether the status accepts no further transitions.
func (s Status) IsTerminal() bool {
	return s == StatusEnded || s == StatusCancelled || s == StatusCompleted
}

// Label is the human-readable status shown to clients.
func (s Status) Label() string {
	switch s {
	case StatusDraft:
		return "Draft"
	case StatusScheduled:
		return "Scheduled"
	case StatusLive:
		return "Live"
	case StatusExtended:
		return "Extended"
	case StatusEnded:
		return "Ended"
	case StatusCancelled:
		return "Cancelled"
	case StatusCompleted:
		return "Completed"
	default:
		return string(s)
	}
}

// Auction is the bidding state of one property sale.
// CurrentBid, BidCount, Status and EndDate are mutated only by the bid ledger.
type Auction struct {
	ID              uuid.UUID        `db:"id"`
	PropertyID      uuid.UUID        `db:"property_id"`
	OwnerID         uuid.UUID        `db:"owner_id"`
	Title           string           `db:"title"`
	Status          Status           `db:"status"`
	StartDate       time.Time        `db:"start_date"`
	EndDate         time.Time        `db:"end_date"`
	StartingBid     decimal.Decimal  `db:"starting_bid"`
	ReservePrice    *decimal.Decimal `db:"reserve_price"`
	MinIncrement    decimal.Decimal  `db:"min_increment"`
	CurrentBid      *decimal.Decimal `db:"current_bid"`
	BidCount        int64            `db:"bid_count"`
	AutoExtend      bool             `db:"auto_extend"`
	ExtensionWindow time.Duration    `db:"extension_window_minutes"`
	ExtensionLength time.Duration    `db:"extension_length_minutes"`
	ExtensionCount  int              `db:"extension_count"`
	MaxExtensions   int              `db:"max_extensions"`
	IsPrivate       bool             `db:"is_private"`
	CreatedAt       time.Time        `db:"created_at"`
	UpdatedAt       time.Time        `db:"updated_at"`
}

// IsOwnedBy checks if the given user owns the auctioned property
func (a *Auction) IsOwnedBy(userID uuid.UUID) bool {
	return a.OwnerID == userID
}

// Label returns the human label of the current status.
func (a *Auction) Label() string {
	return a.Status.Label()
}

// MinimumNextBid is the lowest amount the next bid may have.
func (a *Auction) MinimumNextBid() decimal.Decimal {
	base := a.StartingBid
	if a.CurrentBid != nil {
		base = *a.CurrentBid
	}
	return base.Add(a.MinIncrement).Round(2)
}

// ReserveMet reports whether the current bid satisfies the reserve price.
func (a *Auction) ReserveMet() bool {
	if a.CurrentBid == nil {
		return false
	}
	return a.ReservePrice == nil || a.CurrentBid.GreaterThanOrEqual(*a.ReservePrice)
}

// TimeRemaining is the time left until EndDate, never negative.
func (a *Auction) TimeRemaining(now time.Time) time.Duration {
	if d := a.EndDate.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Clone returns a deep copy.
func (a *Auction) Clone() *Auction {
	c := *a
	if a.ReservePrice != nil {
		v := *a.ReservePrice
		c.ReservePrice = &v
	}
	if a.CurrentBid != nil {
		v := *a.CurrentBid
		c.CurrentBid = &v
	}
	return &c
}

// Watcher is a user following an auction's status changes.
type Watcher struct {
	AuctionID uuid.UUID `db:"auction_id"`
	UserID    uuid.UUID `db:"user_id"`
	CreatedAt time.Time `db:"created_at"`
}
