// Package scheduler drives time-based auction transitions and periodic time_update broadcasts.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/floroz/gavel-estates/services/bid-service/internal/domain/auctions"
	"github.com/floroz/gavel-estates/services/bid-service/internal/domain/bids"
)

const (
	batchSize   = 100
	activeLimit = 5000
)

// AuctionLister finds auctions the scheduler must visit.
type AuctionLister interface {
	ListDueAuctions(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
	ListActiveAuctions(ctx context.Context, limit int) ([]uuid.UUID, error)
}

// Lifecycle is the part of the ledger the scheduler drives.
type Lifecycle interface {
	AdvanceLifecycle(ctx context.Context, auctionID uuid.UUID) ([]auctions.Status, error)
	BroadcastTime(ctx context.Context, auctionID uuid.UUID) error
}

// Scheduler advances due auctions every interval and broadcasts the remaining time of
// active auctions every timeInterval.
type Scheduler struct {
	lister       AuctionLister
	ledger       Lifecycle
	interval     time.Duration
	timeInterval time.Duration
	now          func() time.Time
	logger       *slog.Logger
}

func New(lister AuctionLister, ledger Lifecycle, interval, timeInterval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		lister:       lister,
		ledger:       ledger,
		interval:     interval,
		timeInterval: timeInterval,
		now:          time.Now,
		logger:       logger,
	}
}

// WithClock replaces the time source.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Run loops until ctx is cancelled; it always returns nil.
func (s *Scheduler) Run(ctx context.Context) error {
	advance := time.NewTicker(s.interval)
	defer advance.Stop()
	broadcast := time.NewTicker(s.timeInterval)
	defer broadcast.Stop()

	s.logger.Info("Scheduler started", "interval", s.interval, "time_update_interval", s.timeInterval)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-advance.C:
			s.AdvanceDue(ctx)
		case <-broadcast.C:
			s.BroadcastActive(ctx)
		}
	}
}

// AdvanceDue applies pending transitions to every due auction and reports how many changed status.
// A due batch that fills up is followed by another pass in the same call.
func (s *Scheduler) AdvanceDue(ctx context.Context) int {
	advanced := 0
	for ctx.Err() == nil {
		ids, err := s.lister.ListDueAuctions(ctx, s.now(), batchSize)
		if err != nil {
			s.logger.Error("Failed to list due auctions", "error", err)
			return advanced
		}

		progressed := 0
		for _, id := range ids {
			steps, err := s.ledger.AdvanceLifecycle(ctx, id)
			if err != nil {
				if _, busy := bids.AsRejection(err); !busy {
					s.logger.Error("Failed to advance auction", "auction_id", id, "error", err)
				}
				continue
			}
			if len(steps) > 0 {
				progressed++
			}
		}
		advanced += progressed

		// Stop when the batch was short, or nothing moved and another pass would see the same rows.
		if len(ids) < batchSize || progressed == 0 {
			return advanced
		}
	}
	return advanced
}

// BroadcastActive sends a time_update for every active auction.
func (s *Scheduler) BroadcastActive(ctx context.Context) {
	ids, err := s.lister.ListActiveAuctions(ctx, activeLimit)
	if err != nil {
		s.logger.Error("Failed to list active auctions", "error", err)
		return
	}
	for _, id := range ids {
		if ctx.Err() != nil {
			return
		}
		if err := s.ledger.BroadcastTime(ctx, id); err != nil {
			s.logger.Warn("Failed to broadcast time", "auction_id", id, "error", err)
		}
	}
}
