package bids

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/floroz/gavel-estates/services/bid-service/internal/domain/auctions"
)

// EventType tags fan-out events delivered to connected clients.
type EventType string

const (
	EventNewBid       EventType = "new_bid"
	EventPriceUpdate  EventType = "price_update"
	EventStatusUpdate EventType = "status_update"
	EventTimeUpdate   EventType = "time_update"
	EventOutbid       EventType = "outbid"
	EventAuctionWon   EventType = "auction_won"
	EventAuctionEnded EventType = "auction_ended"
)

// Integration event types written to the outbox.
const (
	OutboxBidPlaced        = "bid.placed"
	OutboxAuctionExtended  = "auction.extended"
	OutboxAuctionStarted   = "auction.started"
	OutboxAuctionEnded     = "auction.ended"
	OutboxAuctionCancelled = "auction.cancelled"
)

const (
	auctionTopicPrefix      = "auction."
	biddingTopicPrefix      = "bidding."
	notificationTopicPrefix = "notifications."
)

// AuctionTopic carries headline status, time and price events.
func AuctionTopic(auctionID uuid.UUID) string { return auctionTopicPrefix + auctionID.String() }

// BiddingTopic carries full bid detail plus everything on the auction topic.
func BiddingTopic(auctionID uuid.UUID) string { return biddingTopicPrefix + auctionID.String() }

// NotificationTopic carries per-user notifications.
func NotificationTopic(userID uuid.UUID) string { return notificationTopicPrefix + userID.String() }

// IsNotificationTopic reports whether topic is a per-user notification topic.
func IsNotificationTopic(topic string) bool { return strings.HasPrefix(topic, notificationTopicPrefix) }

// Event is one fan-out message. Data is JSON-encodable.
type Event struct {
	Topic     string    `json:"-"`
	Type      EventType `json:"type"`
	AuctionID uuid.UUID `json:"auction_id"`
	// Sequence is the auction's latest bid sequence when the event was produced.
	Sequence  int64     `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
}

type NewBidData struct {
	BidID       uuid.UUID `json:"bid_id"`
	BidderID    uuid.UUID `json:"bidder_id"`
	Amount      string    `json:"amount"`
	Sequence    int64     `json:"sequence"`
	Status      Status    `json:"status"`
	IsAutoBid   bool      `json:"is_auto_bid"`
	SubmittedAt time.Time `json:"submitted_at"`
}

type PriceUpdateData struct {
	CurrentBid    string    `json:"current_bid"`
	BidCount      int64     `json:"bid_count"`
	HighestBidder uuid.UUID `json:"highest_bidder"`
	MinNextBid    string    `json:"min_next_bid"`
	ReserveMet    bool      `json:"reserve_met"`
}

type StatusUpdateData struct {
	Status         auctions.Status `json:"status"`
	Label          string          `json:"label"`
	PreviousStatus auctions.Status `json:"previous_status"`
}

type TimeUpdateData struct {
	TimeRemaining int64     `json:"time_remaining"`
	EndDate       time.Time `json:"end_date"`
	Extended      bool      `json:"extended"`
	Extensions    int       `json:"extensions"`
}

type NotificationData struct {
	Title      string          `json:"title"`
	Message    string          `json:"message"`
	Status     auctions.Status `json:"status"`
	Amount     string          `json:"amount,omitempty"`
	CurrentBid string          `json:"current_bid,omitempty"`
	MinNextBid string          `json:"min_next_bid,omitempty"`
	ReserveMet bool            `json:"reserve_met"`
}

func newEvent(topic string, typ EventType, a *auctions.Auction, seq int64, now time.Time, data any) Event {
	return Event{Topic: topic, Type: typ, AuctionID: a.ID, Sequence: seq, Timestamp: now, Data: data}
}

func bothTopics(typ EventType, a *auctions.Auction, seq int64, now time.Time, data any) []Event {
	return []Event{
		newEvent(AuctionTopic(a.ID), typ, a, seq, now, data),
		newEvent(BiddingTopic(a.ID), typ, a, seq, now, data),
	}
}

func priceUpdate(a *auctions.Auction, highest uuid.UUID) PriceUpdateData {
	return PriceUpdateData{
		CurrentBid:    a.CurrentBid.StringFixed(2),
		BidCount:      a.BidCount,
		HighestBidder: highest,
		MinNextBid:    a.MinimumNextBid().StringFixed(2),
		ReserveMet:    a.ReserveMet(),
	}
}

func timeUpdate(a *auctions.Auction, now time.Time, extended bool) TimeUpdateData {
	return TimeUpdateData{
		TimeRemaining: int64(a.TimeRemaining(now).Seconds()),
		EndDate:       a.EndDate,
		Extended:      extended,
		Extensions:    a.ExtensionCount,
	}
}

// bidAcceptedEvents lists the fan-out for one accepted bid in publish order.
func bidAcceptedEvents(a *auctions.Auction, bid, outbid *Bid, prevStatus auctions.Status, extended bool, now time.Time) []Event {
	seq := bid.Sequence
	evs := []Event{
		newEvent(BiddingTopic(a.ID), EventNewBid, a, seq, now, NewBidData{
			BidID:       bid.ID,
			BidderID:    bid.BidderID,
			Amount:      bid.Amount.StringFixed(2),
			Sequence:    bid.Sequence,
			Status:      bid.Status,
			IsAutoBid:   bid.IsAutoBid,
			SubmittedAt: bid.SubmittedAt,
		}),
	}
	evs = append(evs, bothTopics(EventPriceUpdate, a, seq, now, priceUpdate(a, bid.BidderID))...)

	if extended {
		if prevStatus != a.Status {
			evs = append(evs, bothTopics(EventStatusUpdate, a, seq, now, StatusUpdateData{
				Status:         a.Status,
				Label:          a.Label(),
				PreviousStatus: prevStatus,
			})...)
		}
		evs = append(evs, bothTopics(EventTimeUpdate, a, seq, now, timeUpdate(a, now, true))...)
	}

	if outbid != nil && outbid.BidderID != bid.BidderID {
		evs = append(evs, newEvent(NotificationTopic(outbid.BidderID), EventOutbid, a, seq, now, NotificationData{
			Title:      a.Title,
			Message:    "You have been outbid",
			Status:     a.Status,
			Amount:     outbid.Amount.StringFixed(2),
			CurrentBid: a.CurrentBid.StringFixed(2),
			MinNextBid: a.MinimumNextBid().StringFixed(2),
			ReserveMet: a.ReserveMet(),
		}))
	}
	return evs
}

// statusChangeEvents lists the fan-out for lifecycle transitions applied in one step.
func statusChangeEvents(a *auctions.Auction, from auctions.Status, steps []auctions.Status, now time.Time) []Event {
	var evs []Event
	prev := from
	for _, next := range steps {
		evs = append(evs, bothTopics(EventStatusUpdate, a, a.BidCount, now, StatusUpdateData{
			Status:         next,
			Label:          next.Label(),
			PreviousStatus: prev,
		})...)
		prev = next
	}
	if len(steps) > 0 {
		evs = append(evs, bothTopics(EventTimeUpdate, a, a.BidCount, now, timeUpdate(a, now, false))...)
	}
	return evs
}

// closingNotifications notifies the winner and watchers that an auction ended or was cancelled.
func closingNotifications(a *auctions.Auction, winner *Bid, watchers []uuid.UUID, now time.Time) []Event {
	var evs []Event
	notified := make(map[uuid.UUID]struct{}, len(watchers)+1)

	final := ""
	if a.CurrentBid != nil {
		final = a.CurrentBid.StringFixed(2)
	}

	if winner != nil && a.Status == auctions.StatusEnded && a.ReserveMet() {
		notified[winner.BidderID] = struct{}{}
		evs = append(evs, newEvent(NotificationTopic(winner.BidderID), EventAuctionWon, a, a.BidCount, now, NotificationData{
			Title:      a.Title,
			Message:    "Congratulations, you won the auction",
			Status:     a.Status,
			Amount:     winner.Amount.StringFixed(2),
			CurrentBid: final,
			ReserveMet: true,
		}))
	}

	recipients := watchers
	if winner != nil {
		recipients = append([]uuid.UUID{winner.BidderID}, watchers...)
	}
	for _, userID := range recipients {
		if _, ok := notified[userID]; ok {
			continue
		}
		notified[userID] = struct{}{}
		evs = append(evs, newEvent(NotificationTopic(userID), EventAuctionEnded, a, a.BidCount, now, NotificationData{
			Title:      a.Title,
			Message:    "Auction " + a.Label(),
			Status:     a.Status,
			CurrentBid: final,
			ReserveMet: a.ReserveMet(),
		}))
	}
	return evs
}
