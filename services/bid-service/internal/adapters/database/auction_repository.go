package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	pkgdb "github.com/floroz/gavel-estates/pkg/database"
	"github.com/floroz/gavel-estates/services/bid-service/internal/domain/auctions"
)

const auctionColumns = `
	id, property_id, owner_id, title, status, start_date, end_date,
	starting_bid, reserve_price, min_increment, current_bid, bid_count,
	auto_extend, extension_window_minutes, extension_length_minutes,
	extension_count, max_extensions, is_private, created_at, updated_at`

// PostgresAuctionRepository implements auctions.Repository using pgx
type PostgresAuctionRepository struct {
	pool *pgxpool.Pool // Used when no transaction is given
}

// NewPostgresAuctionRepository creates a new PostgreSQL auction repository
func NewPostgresAuctionRepository(pool *pgxpool.Pool) *PostgresAuctionRepository {
	return &PostgresAuctionRepository{pool: pool}
}

func (r *PostgresAuctionRepository) db(tx pgx.Tx) pkgdb.DBTX {
	if tx == nil {
		return r.pool
	}
	return tx
}

// CreateAuction inserts a new auction
func (r *PostgresAuctionRepository) CreateAuction(ctx context.Context, tx pgx.Tx, a *auctions.Auction) error {
	query := `
		INSERT INTO auctions (` + auctionColumns + `)
		VALUES ($1, $2, $3, $4, $5::auction_status, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
	`
	_, err := r.db(tx).Exec(ctx, query,
		a.ID,
		a.PropertyID,
		a.OwnerID,
		a.Title,
		string(a.Status),
		a.StartDate,
		a.EndDate,
		a.StartingBid,
		a.ReservePrice,
		a.MinIncrement,
		a.CurrentBid,
		a.BidCount,
		a.AutoExtend,
		int(a.ExtensionWindow/time.Minute),
		int(a.ExtensionLength/time.Minute),
		a.ExtensionCount,
		a.MaxExtensions,
		a.IsPrivate,
		a.CreatedAt,
		a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert auction: %w", err)
	}
	return nil
}

// GetAuctionByID retrieves an auction by its ID (non-transactional read)
func (r *PostgresAuctionRepository) GetAuctionByID(ctx context.Context, auctionID uuid.UUID) (*auctions.Auction, error) {
	return r.getAuctionByID(ctx, r.pool, auctionID, false)
}

// GetAuctionByIDForUpdate retrieves an auction and locks its row until the transaction ends.
// With lock_timeout set on the transaction a contended lock fails with SQLSTATE 55P03.
func (r *PostgresAuctionRepository) GetAuctionByIDForUpdate(ctx context.Context, tx pgx.Tx, auctionID uuid.UUID) (*auctions.Auction, error) {
	return r.getAuctionByID(ctx, r.db(tx), auctionID, true)
}

func (r *PostgresAuctionRepository) getAuctionByID(ctx context.Context, db pkgdb.DBTX, auctionID uuid.UUID, forUpdate bool) (*auctions.Auction, error) {
	query := `SELECT ` + auctionColumns + ` FROM auctions WHERE id = $1`
	if forUpdate {
		query += " FOR UPDATE"
	}

	a, err := scanAuction(db.QueryRow(ctx, query, auctionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auctions.ErrAuctionNotFound
		}
		return nil, fmt.Errorf("failed to get auction: %w", err)
	}
	return a, nil
}

func scanAuction(row pgx.Row) (*auctions.Auction, error) {
	var (
		a                   auctions.Auction
		status              string
		reserve, current    decimal.NullDecimal
		windowMins, lenMins int
	)
	err := row.Scan(
		&a.ID,
		&a.PropertyID,
		&a.OwnerID,
		&a.Title,
		&status,
		&a.StartDate,
		&a.EndDate,
		&a.StartingBid,
		&reserve,
		&a.MinIncrement,
		&current,
		&a.BidCount,
		&a.AutoExtend,
		&windowMins,
		&lenMins,
		&a.ExtensionCount,
		&a.MaxExtensions,
		&a.IsPrivate,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.Status = auctions.Status(status)
	a.ExtensionWindow = time.Duration(windowMins) * time.Minute
	a.ExtensionLength = time.Duration(lenMins) * time.Minute
	if reserve.Valid {
		a.ReservePrice = &reserve.Decimal
	}
	if current.Valid {
		a.CurrentBid = &current.Decimal
	}
	return &a, nil
}

// UpdateAuction persists every mutable field of the auction
func (r *PostgresAuctionRepository) UpdateAuction(ctx context.Context, tx pgx.Tx, a *auctions.Auction) error {
	query := `
		UPDATE auctions
		SET status = $1::auction_status,
			start_date = $2,
			end_date = $3,
			current_bid = $4,
			bid_count = $5,
			extension_count = $6,
			updated_at = $7
		WHERE id = $8
	`
	result, err := r.db(tx).Exec(ctx, query,
		string(a.Status),
		a.StartDate,
		a.EndDate,
		a.CurrentBid,
		a.BidCount,
		a.ExtensionCount,
		a.UpdatedAt,
		a.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update auction: %w", err)
	}

	if result.RowsAffected() == 0 {
		return auctions.ErrAuctionNotFound
	}

	return nil
}

// AddInvitations adds users to a private auction's invited set
func (r *PostgresAuctionRepository) AddInvitations(ctx context.Context, tx pgx.Tx, auctionID uuid.UUID, userIDs []uuid.UUID) error {
	query := `
		INSERT INTO auction_invitations (auction_id, user_id)
		SELECT $1, unnest($2::uuid[])
		ON CONFLICT DO NOTHING
	`
	if _, err := r.db(tx).Exec(ctx, query, auctionID, userIDs); err != nil {
		return fmt.Errorf("failed to insert invitations: %w", err)
	}
	return nil
}

// IsInvited reports whether userID is in the auction's invited set
func (r *PostgresAuctionRepository) IsInvited(ctx context.Context, tx pgx.Tx, auctionID, userID uuid.UUID) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM auction_invitations WHERE auction_id = $1 AND user_id = $2)`
	var invited bool
	if err := r.db(tx).QueryRow(ctx, query, auctionID, userID).Scan(&invited); err != nil {
		return false, fmt.Errorf("failed to check invitation: %w", err)
	}
	return invited, nil
}

// AddWatcher registers a watcher
func (r *PostgresAuctionRepository) AddWatcher(ctx context.Context, w *auctions.Watcher) error {
	query := `
		INSERT INTO auction_watchers (auction_id, user_id, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT DO NOTHING
	`
	if _, err := r.pool.Exec(ctx, query, w.AuctionID, w.UserID, w.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert watcher: %w", err)
	}
	return nil
}

// RemoveWatcher deletes a watcher
func (r *PostgresAuctionRepository) RemoveWatcher(ctx context.Context, auctionID, userID uuid.UUID) error {
	query := `DELETE FROM auction_watchers WHERE auction_id = $1 AND user_id = $2`
	if _, err := r.pool.Exec(ctx, query, auctionID, userID); err != nil {
		return fmt.Errorf("failed to delete watcher: %w", err)
	}
	return nil
}

// ListWatchers returns the user IDs watching an auction, oldest first
func (r *PostgresAuctionRepository) ListWatchers(ctx context.Context, tx pgx.Tx, auctionID uuid.UUID) ([]uuid.UUID, error) {
	query := `SELECT user_id FROM auction_watchers WHERE auction_id = $1 ORDER BY created_at, user_id`
	return r.queryIDs(ctx, r.db(tx), "watchers", query, auctionID)
}

// ListDueAuctions returns auctions whose scheduled start or end has passed
func (r *PostgresAuctionRepository) ListDueAuctions(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	query := `
		SELECT id FROM auctions
		WHERE (status = 'scheduled' AND start_date <= $1)
		   OR (status IN ('live', 'extended') AND end_date <= $1)
		ORDER BY LEAST(start_date, end_date)
		LIMIT $2
	`
	return r.queryIDs(ctx, r.pool, "due auctions", query, now, limit)
}

// ListActiveAuctions returns live and extended auction IDs, soonest ending first
func (r *PostgresAuctionRepository) ListActiveAuctions(ctx context.Context, limit int) ([]uuid.UUID, error) {
	query := `
		SELECT id FROM auctions
		WHERE status IN ('live', 'extended')
		ORDER BY end_date
		LIMIT $1
	`
	return r.queryIDs(ctx, r.pool, "active auctions", query, limit)
}

func (r *PostgresAuctionRepository) queryIDs(ctx context.Context, db pkgdb.DBTX, what, query string, args ...any) ([]uuid.UUID, error) {
	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", what, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", what, err)
	}
	return ids, nil
}
