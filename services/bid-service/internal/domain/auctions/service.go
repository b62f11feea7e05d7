package auctions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/floroz/gavel-estates/pkg/database"
	"github.com/floroz/gavel-estates/pkg/keylock"
)

// Service errors
var (
	ErrAuctionNotFound     = errors.New("auction not found")
	ErrUnauthorized        = errors.New("unauthorized: only the owner can perform this action")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrInvalidStartingBid  = errors.New("starting bid must be greater than 0")
	ErrInvalidIncrement    = errors.New("minimum increment must be greater than 0")
	ErrInvalidReserve      = errors.New("reserve price must not be below the starting bid")
	ErrInvalidSchedule     = errors.New("auction must start in the future and end after it starts")
	ErrInvalidExtension    = errors.New("auto-extend requires a positive extension window and length")
	ErrNotPrivate          = errors.New("invitations only apply to private auctions")
	ErrAuctionBusy         = errors.New("auction is busy, retry")
	ErrInvalidMaxExtension = errors.New("max extensions must not be negative")
)

// CreateAuctionCommand represents the command to create a draft auction
type CreateAuctionCommand struct {
	PropertyID      uuid.UUID
	OwnerID         uuid.UUID
	Title           string
	StartDate       time.Time
	EndDate         time.Time
	StartingBid     decimal.Decimal
	ReservePrice    *decimal.Decimal
	MinIncrement    decimal.Decimal
	AutoExtend      bool
	ExtensionWindow time.Duration
	ExtensionLength time.Duration
	// MaxExtensions nil selects the service default.
	MaxExtensions *int
	IsPrivate     bool
}

// InviteCommand adds bidders to a private auction
type InviteCommand struct {
	AuctionID uuid.UUID
	OwnerID   uuid.UUID
	UserIDs   []uuid.UUID
}

// Service manages auction setup: drafts, scheduling, invitations and watchers.
// Bidding state is owned by the bid ledger.
type Service struct {
	txManager            database.TransactionManager
	repo                 Repository
	locks                *keylock.Registry
	lockTimeout          time.Duration
	defaultMaxExtensions int
	now                  func() time.Time
}

// NewService creates a new auction service
func NewService(
	txManager database.TransactionManager,
	repo Repository,
	locks *keylock.Registry,
	lockTimeout time.Duration,
	defaultMaxExtensions int,
) *Service {
	return &Service{
		txManager:            txManager,
		repo:                 repo,
		locks:                locks,
		lockTimeout:          lockTimeout,
		defaultMaxExtensions: defaultMaxExtensions,
		now:                  time.Now,
	}
}

// WithClock replaces the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func validateCreate(cmd CreateAuctionCommand, now time.Time) error {
	if !cmd.StartingBid.IsPositive() {
		return ErrInvalidStartingBid
	}
	if !cmd.MinIncrement.IsPositive() {
		return ErrInvalidIncrement
	}
	if cmd.ReservePrice != nil && cmd.ReservePrice.LessThan(cmd.StartingBid) {
		return ErrInvalidReserve
	}
	if !cmd.StartDate.After(now) || !cmd.EndDate.After(cmd.StartDate) {
		return ErrInvalidSchedule
	}
	if cmd.AutoExtend && (cmd.ExtensionWindow <= 0 || cmd.ExtensionLength <= 0) {
		return ErrInvalidExtension
	}
	if cmd.MaxExtensions != nil && *cmd.MaxExtensions < 0 {
		return ErrInvalidMaxExtension
	}
	return nil
}

// CreateAuction creates a new draft auction
func (s *Service) CreateAuction(ctx context.Context, cmd CreateAuctionCommand) (*Auction, error) {
	now := s.now()
	if err := validateCreate(cmd, now); err != nil {
		return nil, err
	}

	maxExt := s.defaultMaxExtensions
	if cmd.MaxExtensions != nil {
		maxExt = *cmd.MaxExtensions
	}

	auction := &Auction{
		ID:              uuid.New(),
		PropertyID:      cmd.PropertyID,
		OwnerID:         cmd.OwnerID,
		Title:           cmd.Title,
		Status:          StatusDraft,
		StartDate:       cmd.StartDate,
		EndDate:         cmd.EndDate,
		StartingBid:     cmd.StartingBid.Round(2),
		ReservePrice:    cmd.ReservePrice,
		MinIncrement:    cmd.MinIncrement.Round(2),
		AutoExtend:      cmd.AutoExtend,
		ExtensionWindow: cmd.ExtensionWindow,
		ExtensionLength: cmd.ExtensionLength,
		MaxExtensions:   maxExt,
		IsPrivate:       cmd.IsPrivate,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.repo.CreateAuction(ctx, nil, auction); err != nil {
		return nil, fmt.Errorf("failed to create auction: %w", err)
	}
	return auction, nil
}

// GetAuction retrieves an auction by ID
func (s *Service) GetAuction(ctx context.Context, auctionID uuid.UUID) (*Auction, error) {
	auction, err := s.repo.GetAuctionByID(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	return auction, nil
}

// Schedule moves a draft auction owned by userID to scheduled.
func (s *Service) Schedule(ctx context.Context, auctionID, userID uuid.UUID) (*Auction, error) {
	release, err := s.locks.Acquire(ctx, auctionID, s.lockTimeout)
	if err != nil {
		if errors.Is(err, keylock.ErrTimeout) {
			return nil, ErrAuctionBusy
		}
		return nil, err
	}
	defer release()

	tx, err := s.txManager.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	auction, err := s.repo.GetAuctionByIDForUpdate(ctx, tx, auctionID)
	if err != nil {
		return nil, err
	}
	if !auction.IsOwnedBy(userID) {
		return nil, ErrUnauthorized
	}
	if !auction.CanTransitionTo(StatusScheduled) {
		return nil, ErrInvalidTransition
	}
	now := s.now()
	if !auction.StartDate.After(now) {
		return nil, ErrInvalidSchedule
	}

	auction.Status = StatusScheduled
	auction.UpdatedAt = now
	if err := s.repo.UpdateAuction(ctx, tx, auction); err != nil {
		return nil, fmt.Errorf("failed to update auction: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return auction, nil
}

// Invite adds users to the invited set of a private auction.
func (s *Service) Invite(ctx context.Context, cmd InviteCommand) error {
	auction, err := s.repo.GetAuctionByID(ctx, cmd.AuctionID)
	if err != nil {
		return err
	}
	if !auction.IsOwnedBy(cmd.OwnerID) {
		return ErrUnauthorized
	}
	if !auction.IsPrivate {
		return ErrNotPrivate
	}
	if auction.Status.IsTerminal() {
		return ErrInvalidTransition
	}
	if len(cmd.UserIDs) == 0 {
		return nil
	}

	if err := s.repo.AddInvitations(ctx, nil, cmd.AuctionID, cmd.UserIDs); err != nil {
		return fmt.Errorf("failed to add invitations: %w", err)
	}
	return nil
}

// Watch subscribes userID to status notifications of an auction.
func (s *Service) Watch(ctx context.Context, auctionID, userID uuid.UUID) error {
	if _, err := s.repo.GetAuctionByID(ctx, auctionID); err != nil {
		return err
	}
	watcher := &Watcher{AuctionID: auctionID, UserID: userID, CreatedAt: s.now()}
	if err := s.repo.AddWatcher(ctx, watcher); err != nil {
		return fmt.Errorf("failed to add watcher: %w", err)
	}
	return nil
}

// Unwatch removes userID from the auction's watchers.
func (s *Service) Unwatch(ctx context.Context, auctionID, userID uuid.UUID) error {
	if err := s.repo.RemoveWatcher(ctx, auctionID, userID); err != nil {
		return fmt.Errorf("failed to remove watcher: %w", err)
	}
	return nil
}
