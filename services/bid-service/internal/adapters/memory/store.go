// Package memory is an in-process implementation of the bid service storage ports.
//
// It backs local development without Postgres and the concurrency tests of the ledger.
// Transactions stage their writes and apply them atomically on Commit; reads inside a
// transaction see committed state only. Row locks are not emulated: callers serialize
// writers per auction with the lock registry, which the ledger always does.
package memory

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/floroz/gavel-estates/pkg/events"
	"github.com/floroz/gavel-estates/services/bid-service/internal/domain/auctions"
	"github.com/floroz/gavel-estates/services/bid-service/internal/domain/bids"
)

// ErrForeignTx is returned when a transaction from another store is passed in.
var ErrForeignTx = errors.New("memory: transaction does not belong to this store")

type state struct {
	auctions    map[uuid.UUID]*auctions.Auction
	invitations map[uuid.UUID]map[uuid.UUID]struct{}
	watchers    map[uuid.UUID]map[uuid.UUID]time.Time
	bids        map[uuid.UUID][]*bids.Bid
	bidIndex    map[uuid.UUID]*bids.Bid
	outbox      []*events.OutboxEvent
}

// Store is safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	st    state
	fault map[string]error
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		st: state{
			auctions:    make(map[uuid.UUID]*auctions.Auction),
			invitations: make(map[uuid.UUID]map[uuid.UUID]struct{}),
			watchers:    make(map[uuid.UUID]map[uuid.UUID]time.Time),
			bids:        make(map[uuid.UUID][]*bids.Bid),
			bidIndex:    make(map[uuid.UUID]*bids.Bid),
		},
		fault: make(map[string]error),
	}
}

// FailOn makes every later call of the named method return err. A nil err clears it.
func (s *Store) FailOn(method string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.fault, method)
		return
	}
	s.fault[method] = err
}

func (s *Store) injected(method string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fault[method]
}

// Tx is a staged transaction. Only Commit and Rollback are implemented.
type Tx struct {
	pgx.Tx
	store *Store
	mu    sync.Mutex
	ops   []func(*state)
	done  bool
}

// BeginTx implements database.TransactionManager.
func (s *Store) BeginTx(ctx context.Context) (pgx.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.injected("BeginTx"); err != nil {
		return nil, err
	}
	return &Tx{store: s}, nil
}

// Commit applies staged writes atomically.
func (t *Tx) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	if err := t.store.injected("Commit"); err != nil {
		t.ops = nil
		return err
	}

	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for _, op := range t.ops {
		op(&t.store.st)
	}
	t.ops = nil
	return nil
}

// Rollback discards staged writes.
func (t *Tx) Rollback(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return pgx.ErrTxClosed
	}
	t.done = true
	t.ops = nil
	return nil
}

// write applies op now when tx is nil, or stages it on tx.
func (s *Store) write(tx pgx.Tx, op func(*state)) error {
	if tx == nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		op(&s.st)
		return nil
	}
	t, ok := tx.(*Tx)
	if !ok || t.store != s {
		return ErrForeignTx
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return pgx.ErrTxClosed
	}
	t.ops = append(t.ops, op)
	return nil
}

// CreateAuction implements auctions.Repository.
func (s *Store) CreateAuction(ctx context.Context, tx pgx.Tx, auction *auctions.Auction) error {
	if err := s.injected("CreateAuction"); err != nil {
		return err
	}
	s.mu.RLock()
	_, exists := s.st.auctions[auction.ID]
	s.mu.RUnlock()
	if exists {
		return fmt.Errorf("auction %s already exists", auction.ID)
	}
	c := auction.Clone()
	return s.write(tx, func(st *state) { st.auctions[c.ID] = c })
}

// GetAuctionByID implements auctions.Repository.
func (s *Store) GetAuctionByID(ctx context.Context, auctionID uuid.UUID) (*auctions.Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.st.auctions[auctionID]
	if !ok {
		return nil, auctions.ErrAuctionNotFound
	}
	return a.Clone(), nil
}

// GetAuctionByIDForUpdate implements auctions.Repository.
func (s *Store) GetAuctionByIDForUpdate(ctx context.Context, tx pgx.Tx, auctionID uuid.UUID) (*auctions.Auction, error) {
	if err := s.injected("GetAuctionByIDForUpdate"); err != nil {
		return nil, err
	}
	return s.GetAuctionByID(ctx, auctionID)
}

// UpdateAuction implements auctions.Repository.
func (s *Store) UpdateAuction(ctx context.Context, tx pgx.Tx, auction *auctions.Auction) error {
	if err := s.injected("UpdateAuction"); err != nil {
		return err
	}
	c := auction.Clone()
	return s.write(tx, func(st *state) { st.auctions[c.ID] = c })
}

// AddInvitations implements auctions.Repository.
func (s *Store) AddInvitations(ctx context.Context, tx pgx.Tx, auctionID uuid.UUID, userIDs []uuid.UUID) error {
	ids := slices.Clone(userIDs)
	return s.write(tx, func(st *state) {
		set, ok := st.invitations[auctionID]
		if !ok {
			set = make(map[uuid.UUID]struct{}, len(ids))
			st.invitations[auctionID] = set
		}
		for _, id := range ids {
			set[id] = struct{}{}
		}
	})
}

// IsInvited implements auctions.Repository.
func (s *Store) IsInvited(ctx context.Context, tx pgx.Tx, auctionID, userID uuid.UUID) (bool, error) {
	if err := s.injected("IsInvited"); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.st.invitations[auctionID][userID]
	return ok, nil
}

// AddWatcher implements auctions.Repository.
func (s *Store) AddWatcher(ctx context.Context, watcher *auctions.Watcher) error {
	w := *watcher
	return s.write(nil, func(st *state) {
		set, ok := st.watchers[w.AuctionID]
		if !ok {
			set = make(map[uuid.UUID]time.Time)
			st.watchers[w.AuctionID] = set
		}
		if _, exists := set[w.UserID]; !exists {
			set[w.UserID] = w.CreatedAt
		}
	})
}

// RemoveWatcher implements auctions.Repository.
func (s *Store) RemoveWatcher(ctx context.Context, auctionID, userID uuid.UUID) error {
	return s.write(nil, func(st *state) { delete(st.watchers[auctionID], userID) })
}

// ListWatchers implements auctions.Repository. Watchers are returned oldest first.
func (s *Store) ListWatchers(ctx context.Context, tx pgx.Tx, auctionID uuid.UUID) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	set := s.st.watchers[auctionID]
	ids := make([]uuid.UUID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b uuid.UUID) int {
		if c := set[a].Compare(set[b]); c != 0 {
			return c
		}
		return slices.Compare(a[:], b[:])
	})
	return ids, nil
}

// ListDueAuctions implements auctions.Repository.
func (s *Store) ListDueAuctions(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []uuid.UUID
	for id, a := range s.st.auctions {
		if _, due := auctions.NextStatus(a, now); due {
			ids = append(ids, id)
			if len(ids) == limit {
				break
			}
		}
	}
	return ids, nil
}

// ListActiveAuctions implements auctions.Repository.
func (s *Store) ListActiveAuctions(ctx context.Context, limit int) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var ids []uuid.UUID
	for id, a := range s.st.auctions {
		if a.Status.IsActive() {
			ids = append(ids, id)
			if len(ids) == limit {
				break
			}
		}
	}
	return ids, nil
}

// AppendBid implements bids.BidRepository.
func (s *Store) AppendBid(ctx context.Context, tx pgx.Tx, bid *bids.Bid) error {
	if err := s.injected("AppendBid"); err != nil {
		return err
	}
	s.mu.RLock()
	for _, b := range s.st.bids[bid.AuctionID] {
		if b.Sequence == bid.Sequence {
			s.mu.RUnlock()
			return fmt.Errorf("duplicate sequence %d for auction %s", bid.Sequence, bid.AuctionID)
		}
	}
	s.mu.RUnlock()

	c := bid.Clone()
	return s.write(tx, func(st *state) {
		st.bids[c.AuctionID] = append(st.bids[c.AuctionID], c)
		st.bidIndex[c.ID] = c
	})
}

// LastSequence implements bids.BidRepository.
func (s *Store) LastSequence(ctx context.Context, tx pgx.Tx, auctionID uuid.UUID) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.st.bids[auctionID]
	if len(list) == 0 {
		return 0, nil
	}
	return list[len(list)-1].Sequence, nil
}

// GetWinningBid implements bids.BidRepository.
func (s *Store) GetWinningBid(ctx context.Context, tx pgx.Tx, auctionID uuid.UUID) (*bids.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.st.bids[auctionID] {
		if b.Status == bids.StatusWinning {
			return b.Clone(), nil
		}
	}
	return nil, nil
}

// UpdateBidStatus implements bids.BidRepository.
func (s *Store) UpdateBidStatus(ctx context.Context, tx pgx.Tx, bidID uuid.UUID, status bids.Status) error {
	if err := s.injected("UpdateBidStatus"); err != nil {
		return err
	}
	return s.write(tx, func(st *state) {
		if b, ok := st.bidIndex[bidID]; ok {
			b.Status = status
		}
	})
}

// CancelOpenBids implements bids.BidRepository.
func (s *Store) CancelOpenBids(ctx context.Context, tx pgx.Tx, auctionID uuid.UUID) (int64, error) {
	s.mu.RLock()
	var n int64
	for _, b := range s.st.bids[auctionID] {
		if b.Status == bids.StatusWinning || b.Status == bids.StatusPending {
			n++
		}
	}
	s.mu.RUnlock()

	return n, s.write(tx, func(st *state) {
		for _, b := range st.bids[auctionID] {
			if b.Status == bids.StatusWinning || b.Status == bids.StatusPending {
				b.Status = bids.StatusCancelled
			}
		}
	})
}

// ListBids implements bids.BidRepository.
func (s *Store) ListBids(ctx context.Context, auctionID uuid.UUID, limit int, beforeSequence int64) ([]*bids.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.st.bids[auctionID]
	out := make([]*bids.Bid, 0, min(limit, len(list)))
	for i := len(list) - 1; i >= 0 && len(out) < limit; i-- {
		if beforeSequence > 0 && list[i].Sequence >= beforeSequence {
			continue
		}
		out = append(out, list[i].Clone())
	}
	return out, nil
}

// SaveEvent implements bids.OutboxRepository.
func (s *Store) SaveEvent(ctx context.Context, tx pgx.Tx, event *events.OutboxEvent) error {
	if err := s.injected("SaveEvent"); err != nil {
		return err
	}
	c := *event
	return s.write(tx, func(st *state) { st.outbox = append(st.outbox, &c) })
}

// GetPendingEvents implements events.OutboxRepository.
func (s *Store) GetPendingEvents(ctx context.Context, tx pgx.Tx, limit int) ([]*events.OutboxEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*events.OutboxEvent
	for _, ev := range s.st.outbox {
		if ev.Status == events.OutboxStatusPending {
			c := *ev
			out = append(out, &c)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

// UpdateEventStatus implements events.OutboxRepository.
func (s *Store) UpdateEventStatus(ctx context.Context, tx pgx.Tx, id uuid.UUID, status events.OutboxStatus) error {
	now := time.Now()
	return s.write(tx, func(st *state) {
		for _, ev := range st.outbox {
			if ev.ID == id {
				ev.Status = status
				ev.ProcessedAt = &now
				return
			}
		}
	})
}

// IncrementAttempts implements events.OutboxRepository.
func (s *Store) IncrementAttempts(ctx context.Context, tx pgx.Tx, id uuid.UUID) (int, error) {
	s.mu.RLock()
	attempts := 0
	for _, ev := range s.st.outbox {
		if ev.ID == id {
			attempts = ev.Attempts + 1
		}
	}
	s.mu.RUnlock()
	return attempts, s.write(tx, func(st *state) {
		for _, ev := range st.outbox {
			if ev.ID == id {
				ev.Attempts = attempts
			}
		}
	})
}

// OutboxEvents returns a copy of every outbox event, oldest first.
func (s *Store) OutboxEvents() []events.OutboxEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]events.OutboxEvent, len(s.st.outbox))
	for i, ev := range s.st.outbox {
		out[i] = *ev
	}
	return out
}
