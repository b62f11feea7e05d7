package bids

import (
	"time"

	"github.com/google/uuid"

	"github.com/floroz/gavel-estates/services/bid-service/internal/domain/auctions"
)

// BidView is the client representation of a bid. Amounts are decimal strings.
type BidView struct {
	ID          uuid.UUID `json:"id"`
	BidderID    uuid.UUID `json:"bidder_id"`
	Sequence    int64     `json:"sequence"`
	Amount      string    `json:"amount"`
	Status      Status    `json:"status"`
	IsAutoBid   bool      `json:"is_auto_bid"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// NewBidView converts a bid for clients.
func NewBidView(b *Bid) BidView {
	return BidView{
		ID:          b.ID,
		BidderID:    b.BidderID,
		Sequence:    b.Sequence,
		Amount:      b.Amount.StringFixed(2),
		Status:      b.Status,
		IsAutoBid:   b.IsAutoBid,
		SubmittedAt: b.SubmittedAt,
	}
}

// NewBidViews converts a list of bids for clients.
func NewBidViews(list []*Bid) []BidView {
	out := make([]BidView, 0, len(list))
	for _, b := range list {
		out = append(out, NewBidView(b))
	}
	return out
}

// SnapshotView is the client representation of a snapshot, sent as initial_state and auction_state.
type SnapshotView struct {
	AuctionID      uuid.UUID       `json:"auction_id"`
	Title          string          `json:"title"`
	Status         auctions.Status `json:"status"`
	Label          string          `json:"label"`
	IsPrivate      bool            `json:"is_private"`
	StartDate      time.Time       `json:"start_date"`
	EndDate        time.Time       `json:"end_date"`
	StartingBid    string          `json:"starting_bid"`
	MinIncrement   string          `json:"min_increment"`
	CurrentBid     *string         `json:"current_bid"`
	MinNextBid     string          `json:"min_next_bid"`
	BidCount       int64           `json:"bid_count"`
	ReserveMet     bool            `json:"reserve_met"`
	AutoExtend     bool            `json:"auto_extend"`
	ExtensionCount int             `json:"extension_count"`
	TimeRemaining  int64           `json:"time_remaining"`
	WinningBid     *BidView        `json:"winning_bid"`
	RecentBids     []BidView       `json:"recent_bids"`
	ServerTime     time.Time       `json:"server_time"`
}

// NewSnapshotView converts a snapshot for clients. The reserve price itself is never exposed.
func NewSnapshotView(s *Snapshot) SnapshotView {
	a := s.Auction
	v := SnapshotView{
		AuctionID:      a.ID,
		Title:          a.Title,
		Status:         s.Status,
		Label:          s.Status.Label(),
		IsPrivate:      a.IsPrivate,
		StartDate:      a.StartDate,
		EndDate:        a.EndDate,
		StartingBid:    a.StartingBid.StringFixed(2),
		MinIncrement:   a.MinIncrement.StringFixed(2),
		MinNextBid:     s.MinNextBid.StringFixed(2),
		BidCount:       a.BidCount,
		ReserveMet:     a.ReserveMet(),
		AutoExtend:     a.AutoExtend,
		ExtensionCount: a.ExtensionCount,
		TimeRemaining:  int64(s.TimeRemaining.Seconds()),
		RecentBids:     NewBidViews(s.RecentBids),
		ServerTime:     s.ServerTime,
	}
	if a.CurrentBid != nil {
		current := a.CurrentBid.StringFixed(2)
		v.CurrentBid = &current
	}
	if s.WinningBid != nil {
		w := NewBidView(s.WinningBid)
		v.WinningBid = &w
	}
	return v
}
