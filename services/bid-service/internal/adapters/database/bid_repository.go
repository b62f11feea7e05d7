package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	pkgdb "github.com/floroz/gavel-estates/pkg/database"
	"github.com/floroz/gavel-estates/services/bid-service/internal/domain/bids"
)

const bidColumns = `
	id, auction_id, bidder_id, sequence, amount, status,
	is_auto_bid, max_auto_bid, ip_address, user_agent, submitted_at`

// PostgresBidRepository implements bids.BidRepository using pgx
type PostgresBidRepository struct {
	pool *pgxpool.Pool // Keep pool for read-only operations
}

// NewPostgresBidRepository creates a new PostgreSQL bid repository
func NewPostgresBidRepository(pool *pgxpool.Pool) *PostgresBidRepository {
	return &PostgresBidRepository{pool: pool}
}

func (r *PostgresBidRepository) db(tx pgx.Tx) pkgdb.DBTX {
	if tx == nil {
		return r.pool
	}
	return tx
}

// AppendBid inserts a bid. The (auction_id, sequence) unique key rejects a duplicate sequence.
func (r *PostgresBidRepository) AppendBid(ctx context.Context, tx pgx.Tx, bid *bids.Bid) error {
	query := `
		INSERT INTO bids (` + bidColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6::bid_status, $7, $8, $9, $10, $11)
	`
	_, err := r.db(tx).Exec(ctx, query,
		bid.ID,
		bid.AuctionID,
		bid.BidderID,
		bid.Sequence,
		bid.Amount,
		string(bid.Status),
		bid.IsAutoBid,
		bid.MaxAutoBid,
		bid.IPAddress,
		bid.UserAgent,
		bid.SubmittedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert bid: %w", err)
	}
	return nil
}

// LastSequence returns the highest bid sequence of an auction, 0 when it has no bids
func (r *PostgresBidRepository) LastSequence(ctx context.Context, tx pgx.Tx, auctionID uuid.UUID) (int64, error) {
	query := `SELECT COALESCE(MAX(sequence), 0) FROM bids WHERE auction_id = $1`
	var seq int64
	if err := r.db(tx).QueryRow(ctx, query, auctionID).Scan(&seq); err != nil {
		return 0, fmt.Errorf("failed to get last sequence: %w", err)
	}
	return seq, nil
}

// GetWinningBid returns the auction's winning bid, or nil when there is none
func (r *PostgresBidRepository) GetWinningBid(ctx context.Context, tx pgx.Tx, auctionID uuid.UUID) (*bids.Bid, error) {
	query := `SELECT ` + bidColumns + ` FROM bids WHERE auction_id = $1 AND status = 'winning'`
	bid, err := scanBid(r.db(tx).QueryRow(ctx, query, auctionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get winning bid: %w", err)
	}
	return bid, nil
}

// UpdateBidStatus transitions a bid to a new status
func (r *PostgresBidRepository) UpdateBidStatus(ctx context.Context, tx pgx.Tx, bidID uuid.UUID, status bids.Status) error {
	query := `UPDATE bids SET status = $1::bid_status WHERE id = $2`
	result, err := r.db(tx).Exec(ctx, query, string(status), bidID)
	if err != nil {
		return fmt.Errorf("failed to update bid status: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("bid %s not found", bidID)
	}

	return nil
}

// CancelOpenBids marks the auction's pending and winning bids cancelled
func (r *PostgresBidRepository) CancelOpenBids(ctx context.Context, tx pgx.Tx, auctionID uuid.UUID) (int64, error) {
	query := `
		UPDATE bids
		SET status = 'cancelled'
		WHERE auction_id = $1 AND status IN ('pending', 'winning')
	`
	result, err := r.db(tx).Exec(ctx, query, auctionID)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel bids: %w", err)
	}
	return result.RowsAffected(), nil
}

// ListBids returns up to limit bids newest first, below beforeSequence when it is positive
func (r *PostgresBidRepository) ListBids(ctx context.Context, auctionID uuid.UUID, limit int, beforeSequence int64) ([]*bids.Bid, error) {
	query := `
		SELECT ` + bidColumns + `
		FROM bids
		WHERE auction_id = $1 AND ($2::bigint = 0 OR sequence < $2::bigint)
		ORDER BY sequence DESC
		LIMIT $3
	`
	rows, err := r.pool.Query(ctx, query, auctionID, beforeSequence, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query bids: %w", err)
	}
	defer rows.Close()

	var result []*bids.Bid
	for rows.Next() {
		bid, err := scanBid(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bid: %w", err)
		}
		result = append(result, bid)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bids: %w", err)
	}

	return result, nil
}

func scanBid(row pgx.Row) (*bids.Bid, error) {
	var (
		bid    bids.Bid
		status string
		maxBid decimal.NullDecimal
	)
	err := row.Scan(
		&bid.ID,
		&bid.AuctionID,
		&bid.BidderID,
		&bid.Sequence,
		&bid.Amount,
		&status,
		&bid.IsAutoBid,
		&maxBid,
		&bid.IPAddress,
		&bid.UserAgent,
		&bid.SubmittedAt,
	)
	if err != nil {
		return nil, err
	}
	bid.Status = bids.Status(status)
	if maxBid.Valid {
		bid.MaxAutoBid = &maxBid.Decimal
	}
	return &bid, nil
}
