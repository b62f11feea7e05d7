package bids

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/floroz/gavel-estates/pkg/database"
	"github.com/floroz/gavel-estates/pkg/events"
	"github.com/floroz/gavel-estates/pkg/keylock"
	"github.com/floroz/gavel-estates/services/bid-service/internal/domain/auctions"
	"github.com/floroz/gavel-estates/services/bid-service/internal/metrics"
)

const (
	// broadcastWait bounds how long a time_update waits for a busy auction's slot.
	broadcastWait = 50 * time.Millisecond
	// snapshotAttempts bounds the optimistic reads of a snapshot racing with commits.
	snapshotAttempts = 3
)

// LedgerConfig tunes the ledger.
type LedgerConfig struct {
	// LockTimeout bounds the wait for the per-auction slot; exceeding it rejects with Busy.
	LockTimeout time.Duration
	// RecentBids is how many bids a snapshot carries.
	RecentBids int
}

// Ledger is the single writer of auction bidding state. Every mutation of an auction runs
// while holding that auction's slot in the lock registry and inside one database transaction;
// fan-out events are handed to the publisher after commit, before the slot is released,
// so per-auction publish order equals commit order.
type Ledger struct {
	txManager   database.TransactionManager
	locks       *keylock.Registry
	auctionRepo AuctionRepository
	bidRepo     BidRepository
	outboxRepo  OutboxRepository
	publisher   Publisher
	cfg         LedgerConfig
	now         func() time.Time
	logger      *slog.Logger
}

// NewLedger creates a new bid ledger
func NewLedger(
	txManager database.TransactionManager,
	locks *keylock.Registry,
	auctionRepo AuctionRepository,
	bidRepo BidRepository,
	outboxRepo OutboxRepository,
	publisher Publisher,
	cfg LedgerConfig,
	logger *slog.Logger,
) *Ledger {
	if cfg.RecentBids <= 0 {
		cfg.RecentBids = 20
	}
	return &Ledger{
		txManager:   txManager,
		locks:       locks,
		auctionRepo: auctionRepo,
		bidRepo:     bidRepo,
		outboxRepo:  outboxRepo,
		publisher:   publisher,
		cfg:         cfg,
		now:         time.Now,
		logger:      logger,
	}
}

// WithClock replaces the time source.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

func (l *Ledger) acquire(ctx context.Context, auctionID uuid.UUID) (func(), error) {
	start := time.Now()
	release, err := l.locks.Acquire(ctx, auctionID, l.cfg.LockTimeout)
	metrics.LockWait.Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, keylock.ErrTimeout) {
			return nil, NewRejection(CodeBusy)
		}
		return nil, err
	}
	return release, nil
}

// busyOr maps a Postgres lock timeout to the Busy rejection.
func busyOr(err error) error {
	if errors.Is(database.TranslateError(err), database.ErrLockTimeout) {
		return NewRejection(CodeBusy)
	}
	return err
}

func (l *Ledger) publish(ctx context.Context, evs []Event) {
	for _, ev := range evs {
		if err := l.publisher.Publish(ctx, ev); err != nil {
			l.logger.Warn("Failed to publish event", "topic", ev.Topic, "type", ev.Type, "auction_id", ev.AuctionID, "error", err)
			continue
		}
		metrics.EventsPublished.WithLabelValues(string(ev.Type)).Inc()
	}
}

func (l *Ledger) saveOutbox(ctx context.Context, tx pgx.Tx, auctionID uuid.UUID, eventType string, payload map[string]any, now time.Time) error {
	ev, err := events.NewOutboxEvent(auctionID, eventType, payload, now)
	if err != nil {
		return err
	}
	if err := l.outboxRepo.SaveEvent(ctx, tx, ev); err != nil {
		return fmt.Errorf("failed to save outbox event: %w", err)
	}
	return nil
}

// PlaceBid validates and records a bid. A rejected bid is returned as a *Rejection error and
// leaves no trace in storage.
func (l *Ledger) PlaceBid(ctx context.Context, cmd PlaceBidCommand) (*PlaceBidResult, error) {
	start := time.Now()
	res, err := l.placeBid(ctx, cmd)

	metrics.BidLatency.Observe(time.Since(start).Seconds())
	switch rej, ok := AsRejection(err); {
	case err == nil:
		metrics.BidsPlaced.WithLabelValues("accepted").Inc()
	case ok:
		metrics.BidsPlaced.WithLabelValues(string(rej.Code)).Inc()
	default:
		metrics.BidsPlaced.WithLabelValues("error").Inc()
	}
	return res, err
}

func (l *Ledger) placeBid(ctx context.Context, cmd PlaceBidCommand) (*PlaceBidResult, error) {
	release, err := l.acquire(ctx, cmd.AuctionID)
	if err != nil {
		return nil, err
	}
	defer release()

	res, err := l.placeBidTx(ctx, cmd)
	if err != nil {
		return nil, busyOr(err)
	}

	l.publish(ctx, res.Events)
	return res, nil
}

func (l *Ledger) placeBidTx(ctx context.Context, cmd PlaceBidCommand) (*PlaceBidResult, error) {
	tx, err := l.txManager.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx) // Rollback if commit is not called
	}()

	auction, err := l.auctionRepo.GetAuctionByIDForUpdate(ctx, tx, cmd.AuctionID)
	if err != nil {
		return nil, err
	}

	now := l.now()
	invited := false
	if auction.IsPrivate && !cmd.IsStaff {
		if invited, err = l.auctionRepo.IsInvited(ctx, tx, auction.ID, cmd.BidderID); err != nil {
			return nil, fmt.Errorf("failed to check invitation: %w", err)
		}
	}

	if rej := Validate(ValidationInput{
		Auction:      auction,
		BidderID:     cmd.BidderID,
		Amount:       cmd.Amount,
		AutoBidLimit: cmd.AutoBidLimit,
		Now:          now,
		Invited:      invited,
		IsStaff:      cmd.IsStaff,
	}); rej != nil {
		return nil, rej
	}

	lastSeq, err := l.bidRepo.LastSequence(ctx, tx, auction.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to read last sequence: %w", err)
	}

	bid := &Bid{
		ID:          uuid.New(),
		AuctionID:   auction.ID,
		BidderID:    cmd.BidderID,
		Sequence:    lastSeq + 1,
		Amount:      cmd.Amount,
		Status:      StatusPending,
		IsAutoBid:   cmd.AutoBidLimit != nil,
		MaxAutoBid:  cmd.AutoBidLimit,
		IPAddress:   cmd.IPAddress,
		UserAgent:   cmd.UserAgent,
		SubmittedAt: now,
	}
	if err := l.bidRepo.AppendBid(ctx, tx, bid); err != nil {
		return nil, fmt.Errorf("failed to append bid: %w", err)
	}

	// Demote before promoting: at most one bid per auction may be winning at any point.
	outbid, err := l.bidRepo.GetWinningBid(ctx, tx, auction.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get winning bid: %w", err)
	}
	if outbid != nil {
		if err := l.bidRepo.UpdateBidStatus(ctx, tx, outbid.ID, StatusOutbid); err != nil {
			return nil, fmt.Errorf("failed to demote winning bid: %w", err)
		}
		outbid.Status = StatusOutbid
	}
	if err := l.bidRepo.UpdateBidStatus(ctx, tx, bid.ID, StatusWinning); err != nil {
		return nil, fmt.Errorf("failed to promote bid: %w", err)
	}
	bid.Status = StatusWinning

	prevStatus := auction.Status
	amount := cmd.Amount
	auction.CurrentBid = &amount
	auction.BidCount++
	auction.UpdatedAt = now

	extended := false
	if ok, newEnd := auctions.ShouldExtend(auction, now); ok {
		auction.ApplyExtension(newEnd, now)
		extended = true
	}

	if err := l.auctionRepo.UpdateAuction(ctx, tx, auction); err != nil {
		return nil, fmt.Errorf("failed to update auction: %w", err)
	}

	if err := l.saveOutbox(ctx, tx, auction.ID, OutboxBidPlaced, map[string]any{
		"bid_id":       bid.ID.String(),
		"auction_id":   auction.ID.String(),
		"bidder_id":    bid.BidderID.String(),
		"amount":       bid.Amount.StringFixed(2),
		"sequence":     bid.Sequence,
		"is_auto_bid":  bid.IsAutoBid,
		"submitted_at": bid.SubmittedAt.Format(time.RFC3339Nano),
	}, now); err != nil {
		return nil, err
	}
	if extended {
		if err := l.saveOutbox(ctx, tx, auction.ID, OutboxAuctionExtended, map[string]any{
			"auction_id":      auction.ID.String(),
			"end_date":        auction.EndDate.Format(time.RFC3339Nano),
			"extension_count": auction.ExtensionCount,
		}, now); err != nil {
			return nil, err
		}
		metrics.AuctionsExtended.Inc()
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	l.logger.Info("Bid accepted",
		"auction_id", auction.ID,
		"bid_id", bid.ID,
		"sequence", bid.Sequence,
		"amount", bid.Amount.StringFixed(2),
		"extended", extended,
	)

	return &PlaceBidResult{
		Bid:      bid,
		Auction:  auction,
		Outbid:   outbid,
		Extended: extended,
		Events:   bidAcceptedEvents(auction, bid, outbid, prevStatus, extended, now),
	}, nil
}

// AdvanceLifecycle applies the time-driven transitions that are due for an auction and
// returns them in order. It is a no-op when nothing is due.
func (l *Ledger) AdvanceLifecycle(ctx context.Context, auctionID uuid.UUID) ([]auctions.Status, error) {
	release, err := l.acquire(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	defer release()

	tx, err := l.txManager.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	auction, err := l.auctionRepo.GetAuctionByIDForUpdate(ctx, tx, auctionID)
	if err != nil {
		return nil, busyOr(err)
	}

	now := l.now()
	from := auction.Status
	steps := auction.AdvanceStatus(now)
	if len(steps) == 0 {
		return nil, nil
	}

	if err := l.auctionRepo.UpdateAuction(ctx, tx, auction); err != nil {
		return nil, fmt.Errorf("failed to update auction: %w", err)
	}

	var closing []Event
	for _, step := range steps {
		eventType := OutboxAuctionStarted
		if step == auctions.StatusEnded {
			eventType = OutboxAuctionEnded
		}
		payload := map[string]any{
			"auction_id": auction.ID.String(),
			"status":     string(step),
			"bid_count":  auction.BidCount,
		}
		if step == auctions.StatusEnded && auction.CurrentBid != nil {
			payload["final_amount"] = auction.CurrentBid.StringFixed(2)
			payload["reserve_met"] = auction.ReserveMet()
		}
		if err := l.saveOutbox(ctx, tx, auction.ID, eventType, payload, now); err != nil {
			return nil, err
		}

		if step == auctions.StatusEnded {
			winner, err := l.bidRepo.GetWinningBid(ctx, tx, auction.ID)
			if err != nil {
				return nil, fmt.Errorf("failed to get winning bid: %w", err)
			}
			watchers, err := l.auctionRepo.ListWatchers(ctx, tx, auction.ID)
			if err != nil {
				return nil, fmt.Errorf("failed to list watchers: %w", err)
			}
			closing = closingNotifications(auction, winner, watchers, now)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	for _, step := range steps {
		metrics.LifecycleTransitions.WithLabelValues(string(step)).Inc()
	}
	l.logger.Info("Auction status advanced", "auction_id", auction.ID, "from", from, "to", auction.Status)

	l.publish(ctx, append(statusChangeEvents(auction, from, steps, now), closing...))
	return steps, nil
}

// CancelAuction cancels a non-terminal auction on behalf of its owner or staff.
// Open bids are marked cancelled; the bid history is kept.
func (l *Ledger) CancelAuction(ctx context.Context, cmd CancelAuctionCommand) (*auctions.Auction, error) {
	release, err := l.acquire(ctx, cmd.AuctionID)
	if err != nil {
		return nil, err
	}
	defer release()

	tx, err := l.txManager.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	auction, err := l.auctionRepo.GetAuctionByIDForUpdate(ctx, tx, cmd.AuctionID)
	if err != nil {
		return nil, busyOr(err)
	}
	if !auction.IsOwnedBy(cmd.ActorID) && !cmd.IsStaff {
		return nil, auctions.ErrUnauthorized
	}
	if !auction.CanTransitionTo(auctions.StatusCancelled) {
		return nil, auctions.ErrInvalidTransition
	}

	winner, err := l.bidRepo.GetWinningBid(ctx, tx, auction.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get winning bid: %w", err)
	}
	cancelled, err := l.bidRepo.CancelOpenBids(ctx, tx, auction.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to cancel bids: %w", err)
	}

	now := l.now()
	from := auction.Status
	auction.Status = auctions.StatusCancelled
	auction.UpdatedAt = now
	if err := l.auctionRepo.UpdateAuction(ctx, tx, auction); err != nil {
		return nil, fmt.Errorf("failed to update auction: %w", err)
	}

	if err := l.saveOutbox(ctx, tx, auction.ID, OutboxAuctionCancelled, map[string]any{
		"auction_id":     auction.ID.String(),
		"cancelled_by":   cmd.ActorID.String(),
		"cancelled_bids": cancelled,
	}, now); err != nil {
		return nil, err
	}

	watchers, err := l.auctionRepo.ListWatchers(ctx, tx, auction.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list watchers: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	metrics.LifecycleTransitions.WithLabelValues(string(auctions.StatusCancelled)).Inc()
	l.logger.Info("Auction cancelled", "auction_id", auction.ID, "actor_id", cmd.ActorID, "cancelled_bids", cancelled)

	evs := statusChangeEvents(auction, from, []auctions.Status{auctions.StatusCancelled}, now)
	evs = append(evs, closingNotifications(auction, winner, watchers, now)...)
	l.publish(ctx, evs)
	return auction, nil
}

// BroadcastTime publishes a time_update for an active auction. It skips silently when the
// auction's slot is not free within broadcastWait, since the next tick carries the same information.
func (l *Ledger) BroadcastTime(ctx context.Context, auctionID uuid.UUID) error {
	release, err := l.locks.Acquire(ctx, auctionID, broadcastWait)
	if err != nil {
		if errors.Is(err, keylock.ErrTimeout) {
			return nil
		}
		return err
	}
	defer release()

	auction, err := l.auctionRepo.GetAuctionByID(ctx, auctionID)
	if err != nil {
		return err
	}
	now := l.now()
	if !auction.Status.IsActive() || !now.Before(auction.EndDate) {
		return nil
	}

	l.publish(ctx, bothTopics(EventTimeUpdate, auction, auction.BidCount, now,
		timeUpdate(auction, now, auction.Status == auctions.StatusExtended)))
	return nil
}

// Snapshot reads the current bidding state of an auction. Reads are optimistic and only fall back
// to the auction's slot when they keep racing with commits. The status is the effective one,
// so a lagging stored status is never shown.
func (l *Ledger) Snapshot(ctx context.Context, auctionID uuid.UUID) (*Snapshot, error) {
	for range snapshotAttempts {
		snap, consistent, err := l.readSnapshot(ctx, auctionID)
		if err != nil || consistent {
			return snap, err
		}
	}

	release, err := l.acquire(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	defer release()
	snap, _, err := l.readSnapshot(ctx, auctionID)
	return snap, err
}

// readSnapshot reads the auction around its bids. Every ledger mutation rewrites the auction row
// in the same commit as its bids, so equal reads before and after mean the bids match the auction.
func (l *Ledger) readSnapshot(ctx context.Context, auctionID uuid.UUID) (*Snapshot, bool, error) {
	before, err := l.auctionRepo.GetAuctionByID(ctx, auctionID)
	if err != nil {
		return nil, false, err
	}
	winning, err := l.bidRepo.GetWinningBid(ctx, nil, auctionID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to get winning bid: %w", err)
	}
	recent, err := l.bidRepo.ListBids(ctx, auctionID, l.cfg.RecentBids, 0)
	if err != nil {
		return nil, false, fmt.Errorf("failed to list bids: %w", err)
	}
	auction, err := l.auctionRepo.GetAuctionByID(ctx, auctionID)
	if err != nil {
		return nil, false, err
	}

	now := l.now()
	return &Snapshot{
		Auction:       auction,
		Status:        auctions.EffectiveStatus(auction, now),
		WinningBid:    winning,
		RecentBids:    recent,
		MinNextBid:    auction.MinimumNextBid(),
		TimeRemaining: auction.TimeRemaining(now),
		ServerTime:    now,
	}, sameState(before, auction), nil
}

func sameState(a, b *auctions.Auction) bool {
	return a.BidCount == b.BidCount &&
		a.Status == b.Status &&
		a.EndDate.Equal(b.EndDate) &&
		a.UpdatedAt.Equal(b.UpdatedAt)
}

// History returns bids of an auction newest first.
func (l *Ledger) History(ctx context.Context, auctionID uuid.UUID, limit int, beforeSequence int64) ([]*Bid, error) {
	if _, err := l.auctionRepo.GetAuctionByID(ctx, auctionID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	bids, err := l.bidRepo.ListBids(ctx, auctionID, limit, beforeSequence)
	if err != nil {
		return nil, fmt.Errorf("failed to list bids: %w", err)
	}
	return bids, nil
}
