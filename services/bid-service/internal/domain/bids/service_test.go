package bids_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/floroz/gavel-estates/pkg/keylock"
	"github.com/floroz/gavel-estates/services/bid-service/internal/adapters/memory"
	"github.com/floroz/gavel-estates/services/bid-service/internal/domain/auctions"
	"github.com/floroz/gavel-estates/services/bid-service/internal/domain/bids"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []bids.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev bids.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) onTopic(topic string) []bids.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []bids.Event
	for _, ev := range p.events {
		if ev.Topic == topic {
			out = append(out, ev)
		}
	}
	return out
}

type fixture struct {
	store  *memory.Store
	locks  *keylock.Registry
	pub    *recordingPublisher
	ledger *bids.Ledger
	now    time.Time
	owner  uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store: memory.NewStore(),
		locks: keylock.New(),
		pub:   &recordingPublisher{},
		now:   time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC),
		owner: uuid.New(),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.ledger = bids.NewLedger(f.store, f.locks, f.store, f.store, f.store, f.pub,
		bids.LedgerConfig{LockTimeout: 2 * time.Second, RecentBids: 10}, logger).
		WithClock(func() time.Time { return f.now })
	return f
}

func (f *fixture) liveAuction(t *testing.T, mutate func(*auctions.Auction)) *auctions.Auction {
	t.Helper()
	a := &auctions.Auction{
		ID:              uuid.New(),
		OwnerID:         f.owner,
		Title:           "Harbour view apartment",
		Status:          auctions.StatusLive,
		StartDate:       f.now.Add(-time.Hour),
		EndDate:         f.now.Add(time.Hour),
		StartingBid:     decimal.NewFromInt(900),
		MinIncrement:    decimal.NewFromInt(100),
		AutoExtend:      true,
		ExtensionWindow: 5 * time.Minute,
		ExtensionLength: 10 * time.Minute,
		MaxExtensions:   10,
	}
	if mutate != nil {
		mutate(a)
	}
	require.NoError(t, f.store.CreateAuction(context.Background(), nil, a))
	return a
}

func (f *fixture) place(t *testing.T, auctionID, bidder uuid.UUID, amount string) (*bids.PlaceBidResult, error) {
	t.Helper()
	return f.ledger.PlaceBid(context.Background(), bids.PlaceBidCommand{
		AuctionID: auctionID,
		BidderID:  bidder,
		Amount:    decimal.RequireFromString(amount),
	})
}

func requireRejection(t *testing.T, err error, code bids.RejectionCode) *bids.Rejection {
	t.Helper()
	rej, ok := bids.AsRejection(err)
	require.True(t, ok, "expected rejection %s, got %v", code, err)
	assert.Equal(t, code, rej.Code)
	return rej
}

func winningBids(t *testing.T, f *fixture, auctionID uuid.UUID) []*bids.Bid {
	t.Helper()
	all, err := f.store.ListBids(context.Background(), auctionID, 1000, 0)
	require.NoError(t, err)
	var out []*bids.Bid
	for _, b := range all {
		if b.Status == bids.StatusWinning {
			out = append(out, b)
		}
	}
	return out
}

func TestLedger_PlaceBid_PromotesAndDemotes(t *testing.T) {
	f := newFixture(t)
	a := f.liveAuction(t, nil)
	alice, bob := uuid.New(), uuid.New()

	first, err := f.place(t, a.ID, alice, "1000")
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Bid.Sequence)
	assert.Equal(t, bids.StatusWinning, first.Bid.Status)
	assert.Nil(t, first.Outbid)

	second, err := f.place(t, a.ID, bob, "1100")
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.Bid.Sequence)
	require.NotNil(t, second.Outbid)
	assert.Equal(t, first.Bid.ID, second.Outbid.ID)
	assert.Equal(t, bids.StatusOutbid, second.Outbid.Status)

	stored, err := f.store.GetAuctionByID(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, "1100.00", stored.CurrentBid.StringFixed(2))
	assert.Equal(t, int64(2), stored.BidCount)

	winners := winningBids(t, f, a.ID)
	require.Len(t, winners, 1)
	assert.Equal(t, second.Bid.ID, winners[0].ID)
	assert.True(t, stored.CurrentBid.Equal(winners[0].Amount))

	notifications := f.pub.onTopic(bids.NotificationTopic(alice))
	require.Len(t, notifications, 1)
	assert.Equal(t, bids.EventOutbid, notifications[0].Type)

	outbox := f.store.OutboxEvents()
	require.Len(t, outbox, 2)
	assert.Equal(t, bids.OutboxBidPlaced, outbox[0].EventType)
	assert.Equal(t, a.ID, outbox[0].AggregateID)
}

func TestLedger_MinimumIncrementBoundary(t *testing.T) {
	f := newFixture(t)
	a := f.liveAuction(t, func(a *auctions.Auction) {
		current := decimal.NewFromInt(1000)
		a.CurrentBid = &current
	})

	_, err := f.place(t, a.ID, uuid.New(), "1099.99")
	rej := requireRejection(t, err, bids.CodeBidTooLow)
	require.NotNil(t, rej.MinAmount)
	assert.Equal(t, "1100.00", rej.MinAmount.StringFixed(2))

	_, err = f.place(t, a.ID, uuid.New(), "1100")
	require.NoError(t, err)
}

func TestLedger_RejectionLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	a := f.liveAuction(t, nil)
	_, err := f.place(t, a.ID, uuid.New(), "1000")
	require.NoError(t, err)

	before, err := f.store.GetAuctionByID(context.Background(), a.ID)
	require.NoError(t, err)
	outboxBefore := len(f.store.OutboxEvents())
	eventsBefore := len(f.pub.events)

	rejected := []struct {
		bidder uuid.UUID
		amount string
		code   bids.RejectionCode
	}{
		{uuid.New(), "1050", bids.CodeBidTooLow},
		{f.owner, "5000", bids.CodeSelfBidForbidden},
		{uuid.New(), "-1", bids.CodeInvalidAmount},
	}
	for _, r := range rejected {
		_, err := f.place(t, a.ID, r.bidder, r.amount)
		requireRejection(t, err, r.code)
	}

	after, err := f.store.GetAuctionByID(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	last, err := f.store.LastSequence(context.Background(), nil, a.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), last)
	assert.Len(t, f.store.OutboxEvents(), outboxBefore)
	assert.Len(t, f.pub.events, eventsBefore, "rejections are never broadcast")
}

func TestLedger_ConcurrentRace(t *testing.T) {
	for i := 0; i < 50; i++ {
		f := newFixture(t)
		a := f.liveAuction(t, func(a *auctions.Auction) {
			current := decimal.NewFromInt(1000)
			a.CurrentBid = &current
			a.MinIncrement = decimal.NewFromInt(50)
		})

		var wg sync.WaitGroup
		errs := make([]error, 2)
		for j, amount := range []string{"1100", "1150"} {
			wg.Add(1)
			go func(j int, amount string) {
				defer wg.Done()
				_, errs[j] = f.place(t, a.ID, uuid.New(), amount)
			}(j, amount)
		}
		wg.Wait()

		require.NoError(t, errs[1], "1150 is always acceptable")
		if errs[0] != nil {
			requireRejection(t, errs[0], bids.CodeBidTooLow)
		}

		winners := winningBids(t, f, a.ID)
		require.Len(t, winners, 1)
		assert.Equal(t, "1150.00", winners[0].Amount.StringFixed(2))

		all, err := f.store.ListBids(context.Background(), a.ID, 10, 0)
		require.NoError(t, err)
		for _, b := range all {
			assert.True(t, winners[0].Amount.GreaterThanOrEqual(b.Amount))
			if b.ID != winners[0].ID {
				assert.Equal(t, bids.StatusOutbid, b.Status)
			}
		}
	}
}

func TestLedger_ConcurrentBidsKeepTotalOrder(t *testing.T) {
	f := newFixture(t)
	a := f.liveAuction(t, func(a *auctions.Auction) { a.AutoExtend = false })

	const bidders = 40
	var wg sync.WaitGroup
	for range bidders {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bidder := uuid.New()
			// Each bidder retries at the current minimum until accepted.
			for attempt := 0; attempt < 20; attempt++ {
				snap, err := f.ledger.Snapshot(context.Background(), a.ID)
				if err != nil {
					return
				}
				_, err = f.ledger.PlaceBid(context.Background(), bids.PlaceBidCommand{
					AuctionID: a.ID,
					BidderID:  bidder,
					Amount:    snap.MinNextBid,
				})
				if err == nil {
					return
				}
			}
		}()
	}
	wg.Wait()

	all, err := f.store.ListBids(context.Background(), a.ID, 1000, 0)
	require.NoError(t, err)
	require.NotEmpty(t, all)

	// Newest first: sequences n..1 without gaps, amounts strictly decreasing.
	for i, b := range all {
		assert.Equal(t, int64(len(all)-i), b.Sequence)
		if i > 0 {
			assert.True(t, all[i-1].Amount.GreaterThan(b.Amount))
		}
	}
	winners := winningBids(t, f, a.ID)
	require.Len(t, winners, 1)
	assert.Equal(t, all[0].ID, winners[0].ID)

	// Fan-out order matches sequence order.
	var seqs []int64
	for _, ev := range f.pub.onTopic(bids.BiddingTopic(a.ID)) {
		if ev.Type == bids.EventNewBid {
			seqs = append(seqs, ev.Data.(bids.NewBidData).Sequence)
		}
	}
	require.Len(t, seqs, len(all))
	for i := range seqs {
		assert.Equal(t, int64(i+1), seqs[i])
	}
}

func TestLedger_ExtensionScenario(t *testing.T) {
	f := newFixture(t)
	end := f.now.Add(time.Hour)
	a := f.liveAuction(t, func(a *auctions.Auction) { a.EndDate = end })

	f.now = end.Add(-10 * time.Minute)
	res, err := f.place(t, a.ID, uuid.New(), "1000")
	require.NoError(t, err)
	assert.False(t, res.Extended)
	assert.Equal(t, end, res.Auction.EndDate)
	assert.Equal(t, auctions.StatusLive, res.Auction.Status)

	f.now = end.Add(-3 * time.Minute)
	res, err = f.place(t, a.ID, uuid.New(), "1100")
	require.NoError(t, err)
	assert.True(t, res.Extended)
	assert.Equal(t, end.Add(10*time.Minute), res.Auction.EndDate)
	assert.Equal(t, auctions.StatusExtended, res.Auction.Status)

	var types []bids.EventType
	for _, ev := range res.Events {
		if ev.Topic == bids.AuctionTopic(a.ID) {
			types = append(types, ev.Type)
		}
	}
	assert.Equal(t, []bids.EventType{bids.EventPriceUpdate, bids.EventStatusUpdate, bids.EventTimeUpdate}, types)

	outbox := f.store.OutboxEvents()
	assert.Equal(t, bids.OutboxAuctionExtended, outbox[len(outbox)-1].EventType)
}

func TestLedger_EndDateNeverRegresses(t *testing.T) {
	f := newFixture(t)
	end := f.now.Add(time.Hour)
	a := f.liveAuction(t, func(a *auctions.Auction) { a.EndDate = end; a.MaxExtensions = 0 })

	prevEnd := end
	amount := decimal.NewFromInt(1000)
	for i := 0; i < 30; i++ {
		f.now = prevEnd.Add(-time.Duration(i%7+1) * time.Minute)
		res, err := f.ledger.PlaceBid(context.Background(), bids.PlaceBidCommand{AuctionID: a.ID, BidderID: uuid.New(), Amount: amount})
		require.NoError(t, err)
		assert.False(t, res.Auction.EndDate.Before(prevEnd))
		prevEnd = res.Auction.EndDate
		amount = amount.Add(decimal.NewFromInt(100))
	}
}

func TestLedger_PrivateAuction(t *testing.T) {
	f := newFixture(t)
	a := f.liveAuction(t, func(a *auctions.Auction) { a.IsPrivate = true })
	invited := uuid.New()
	require.NoError(t, f.store.AddInvitations(context.Background(), nil, a.ID, []uuid.UUID{invited}))

	_, err := f.place(t, a.ID, uuid.New(), "1000000")
	requireRejection(t, err, bids.CodeNotInvited)

	_, err = f.place(t, a.ID, invited, "1000")
	require.NoError(t, err)

	_, err = f.ledger.PlaceBid(context.Background(), bids.PlaceBidCommand{
		AuctionID: a.ID,
		BidderID:  uuid.New(),
		Amount:    decimal.NewFromInt(1100),
		IsStaff:   true,
	})
	require.NoError(t, err)
}

func TestLedger_StorageFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	a := f.liveAuction(t, nil)
	first, err := f.place(t, a.ID, uuid.New(), "1000")
	require.NoError(t, err)

	for _, method := range []string{"AppendBid", "UpdateBidStatus", "UpdateAuction", "SaveEvent", "Commit"} {
		t.Run(method, func(t *testing.T) {
			boom := errors.New(method + " failed")
			f.store.FailOn(method, boom)
			defer f.store.FailOn(method, nil)

			_, err := f.place(t, a.ID, uuid.New(), "2000")
			require.ErrorIs(t, err, boom)
			_, isRejection := bids.AsRejection(err)
			assert.False(t, isRejection)

			stored, err := f.store.GetAuctionByID(context.Background(), a.ID)
			require.NoError(t, err)
			assert.Equal(t, "1000.00", stored.CurrentBid.StringFixed(2))
			assert.Equal(t, int64(1), stored.BidCount)

			winners := winningBids(t, f, a.ID)
			require.Len(t, winners, 1)
			assert.Equal(t, first.Bid.ID, winners[0].ID)
			assert.Len(t, f.store.OutboxEvents(), 1)
		})
	}
}

func TestLedger_BusyWhenSlotHeld(t *testing.T) {
	f := newFixture(t)
	a := f.liveAuction(t, nil)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ledger := bids.NewLedger(f.store, f.locks, f.store, f.store, f.store, f.pub,
		bids.LedgerConfig{LockTimeout: 20 * time.Millisecond}, logger).
		WithClock(func() time.Time { return f.now })

	release, err := f.locks.Acquire(context.Background(), a.ID, time.Second)
	require.NoError(t, err)
	defer release()

	_, err = ledger.PlaceBid(context.Background(), bids.PlaceBidCommand{AuctionID: a.ID, BidderID: uuid.New(), Amount: decimal.NewFromInt(1000)})
	requireRejection(t, err, bids.CodeBusy)
}

func TestLedger_UnknownAuction(t *testing.T) {
	f := newFixture(t)
	_, err := f.place(t, uuid.New(), uuid.New(), "1000")
	assert.ErrorIs(t, err, auctions.ErrAuctionNotFound)
}

func TestLedger_FanOutOrder(t *testing.T) {
	f := newFixture(t)
	a := f.liveAuction(t, nil)

	resA, err := f.place(t, a.ID, uuid.New(), "1000")
	require.NoError(t, err)
	resB, err := f.place(t, a.ID, uuid.New(), "1100")
	require.NoError(t, err)

	var got []uuid.UUID
	for _, ev := range f.pub.onTopic(bids.BiddingTopic(a.ID)) {
		if ev.Type == bids.EventNewBid {
			got = append(got, ev.Data.(bids.NewBidData).BidID)
		}
	}
	assert.Equal(t, []uuid.UUID{resA.Bid.ID, resB.Bid.ID}, got)

	var prices []string
	for _, ev := range f.pub.onTopic(bids.AuctionTopic(a.ID)) {
		if ev.Type == bids.EventPriceUpdate {
			prices = append(prices, ev.Data.(bids.PriceUpdateData).CurrentBid)
		}
	}
	assert.Equal(t, []string{"1000.00", "1100.00"}, prices)
}

func TestLedger_AdvanceLifecycle(t *testing.T) {
	f := newFixture(t)
	winner, watcher := uuid.New(), uuid.New()
	a := f.liveAuction(t, func(a *auctions.Auction) {
		a.Status = auctions.StatusScheduled
		a.StartDate = f.now.Add(time.Minute)
	})
	require.NoError(t, f.store.AddWatcher(context.Background(), &auctions.Watcher{AuctionID: a.ID, UserID: watcher, CreatedAt: f.now}))

	steps, err := f.ledger.AdvanceLifecycle(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Empty(t, steps)

	f.now = a.StartDate
	steps, err = f.ledger.AdvanceLifecycle(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, []auctions.Status{auctions.StatusLive}, steps)

	_, err = f.place(t, a.ID, winner, "1000")
	require.NoError(t, err)

	f.now = a.EndDate
	steps, err = f.ledger.AdvanceLifecycle(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, []auctions.Status{auctions.StatusEnded}, steps)

	won := f.pub.onTopic(bids.NotificationTopic(winner))
	require.NotEmpty(t, won)
	assert.Equal(t, bids.EventAuctionWon, won[len(won)-1].Type)

	ended := f.pub.onTopic(bids.NotificationTopic(watcher))
	require.Len(t, ended, 1)
	assert.Equal(t, bids.EventAuctionEnded, ended[0].Type)

	_, err = f.place(t, a.ID, uuid.New(), "5000")
	requireRejection(t, err, bids.CodeAuctionNotActive)

	var outboxTypes []string
	for _, ev := range f.store.OutboxEvents() {
		outboxTypes = append(outboxTypes, ev.EventType)
	}
	assert.Equal(t, []string{bids.OutboxAuctionStarted, bids.OutboxBidPlaced, bids.OutboxAuctionEnded}, outboxTypes)
}

func TestLedger_ReserveNotMet(t *testing.T) {
	f := newFixture(t)
	bidder := uuid.New()
	a := f.liveAuction(t, func(a *auctions.Auction) {
		reserve := decimal.NewFromInt(5000)
		a.ReservePrice = &reserve
	})
	_, err := f.place(t, a.ID, bidder, "1000")
	require.NoError(t, err)

	f.now = a.EndDate
	_, err = f.ledger.AdvanceLifecycle(context.Background(), a.ID)
	require.NoError(t, err)

	notes := f.pub.onTopic(bids.NotificationTopic(bidder))
	require.NotEmpty(t, notes)
	last := notes[len(notes)-1]
	assert.Equal(t, bids.EventAuctionEnded, last.Type)
	assert.False(t, last.Data.(bids.NotificationData).ReserveMet)
}

func TestLedger_CancelAuction(t *testing.T) {
	f := newFixture(t)
	a := f.liveAuction(t, nil)
	bidder := uuid.New()
	_, err := f.place(t, a.ID, bidder, "1000")
	require.NoError(t, err)

	_, err = f.ledger.CancelAuction(context.Background(), bids.CancelAuctionCommand{AuctionID: a.ID, ActorID: uuid.New()})
	assert.ErrorIs(t, err, auctions.ErrUnauthorized)

	cancelled, err := f.ledger.CancelAuction(context.Background(), bids.CancelAuctionCommand{AuctionID: a.ID, ActorID: f.owner})
	require.NoError(t, err)
	assert.Equal(t, auctions.StatusCancelled, cancelled.Status)
	assert.Empty(t, winningBids(t, f, a.ID))

	all, err := f.store.ListBids(context.Background(), a.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, all, 1, "history is kept")
	assert.Equal(t, bids.StatusCancelled, all[0].Status)

	_, err = f.ledger.CancelAuction(context.Background(), bids.CancelAuctionCommand{AuctionID: a.ID, ActorID: uuid.New(), IsStaff: true})
	assert.ErrorIs(t, err, auctions.ErrInvalidTransition)

	statuses := f.pub.onTopic(bids.AuctionTopic(a.ID))
	var sawCancel bool
	for _, ev := range statuses {
		if ev.Type == bids.EventStatusUpdate && ev.Data.(bids.StatusUpdateData).Status == auctions.StatusCancelled {
			sawCancel = true
		}
	}
	assert.True(t, sawCancel)
}

func TestLedger_Snapshot(t *testing.T) {
	f := newFixture(t)
	a := f.liveAuction(t, nil)
	_, err := f.place(t, a.ID, uuid.New(), "1000")
	require.NoError(t, err)
	res, err := f.place(t, a.ID, uuid.New(), "1250")
	require.NoError(t, err)

	snap, err := f.ledger.Snapshot(context.Background(), a.ID)
	require.NoError(t, err)
	require.NotNil(t, snap.WinningBid)
	assert.Equal(t, res.Bid.ID, snap.WinningBid.ID)
	assert.Len(t, snap.RecentBids, 2)
	assert.Equal(t, "1350.00", snap.MinNextBid.StringFixed(2))
	assert.Equal(t, auctions.StatusLive, snap.Status)

	f.now = a.EndDate.Add(time.Second)
	snap, err = f.ledger.Snapshot(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, auctions.StatusEnded, snap.Status, "effective status never lags")
	assert.Zero(t, snap.TimeRemaining)

	history, err := f.ledger.History(context.Background(), a.ID, 1, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, res.Bid.ID, history[0].ID)
}

func TestLedger_BroadcastTime(t *testing.T) {
	f := newFixture(t)
	a := f.liveAuction(t, nil)

	require.NoError(t, f.ledger.BroadcastTime(context.Background(), a.ID))
	ticks := f.pub.onTopic(bids.AuctionTopic(a.ID))
	require.Len(t, ticks, 1)
	assert.Equal(t, bids.EventTimeUpdate, ticks[0].Type)
	assert.Equal(t, int64(3600), ticks[0].Data.(bids.TimeUpdateData).TimeRemaining)

	f.now = a.EndDate
	require.NoError(t, f.ledger.BroadcastTime(context.Background(), a.ID))
	assert.Len(t, f.pub.onTopic(bids.AuctionTopic(a.ID)), 1, "no ticks once the end date passed")
}

func TestLedger_SnapshotDoesNotWaitForSlot(t *testing.T) {
	f := newFixture(t)
	a := f.liveAuction(t, nil)
	placed, err := f.place(t, a.ID, uuid.New(), "1000")
	require.NoError(t, err)

	release, err := f.locks.Acquire(context.Background(), a.ID, time.Second)
	require.NoError(t, err)
	defer release()

	start := time.Now()
	snap, err := f.ledger.Snapshot(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond, "reads must not queue behind the writer slot")
	require.NotNil(t, snap.WinningBid)
	assert.Equal(t, placed.Bid.ID, snap.WinningBid.ID)
	assert.Equal(t, int64(1), snap.Auction.BidCount)
}

func TestLedger_SnapshotConsistentUnderWrites(t *testing.T) {
	f := newFixture(t)
	a := f.liveAuction(t, func(a *auctions.Auction) { a.MinIncrement = decimal.NewFromInt(1) })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ctx.Err() == nil && i < 200; i++ {
			_, _ = f.place(t, a.ID, uuid.New(), decimal.NewFromInt(int64(1000+i)).String())
		}
	}()

	for range 100 {
		snap, err := f.ledger.Snapshot(context.Background(), a.ID)
		require.NoError(t, err)
		if snap.WinningBid == nil {
			assert.Nil(t, snap.Auction.CurrentBid)
			continue
		}
		require.NotNil(t, snap.Auction.CurrentBid)
		assert.True(t, snap.WinningBid.Amount.Equal(*snap.Auction.CurrentBid),
			"winning bid %s does not match current bid %s", snap.WinningBid.Amount, snap.Auction.CurrentBid)
	}
	cancel()
	wg.Wait()
}

func TestLedger_BroadcastTimeSkipsBusyAuction(t *testing.T) {
	f := newFixture(t)
	a := f.liveAuction(t, nil)

	release, err := f.locks.Acquire(context.Background(), a.ID, time.Second)
	require.NoError(t, err)
	defer release()

	start := time.Now()
	require.NoError(t, f.ledger.BroadcastTime(context.Background(), a.ID))
	assert.Less(t, time.Since(start), 500*time.Millisecond, "a busy auction must not stall the tick")
	assert.Empty(t, f.pub.onTopic(bids.AuctionTopic(a.ID)))
}
