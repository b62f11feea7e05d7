package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/floroz/gavel-estates/services/bid-service/internal/domain/auctions"
)

// CreateAuctionRequest is the body of POST /api/v1/auctions.
type CreateAuctionRequest struct {
	PropertyID             uuid.UUID        `json:"property_id" binding:"required"`
	Title                  string           `json:"title" binding:"required,max=200"`
	StartDate              time.Time        `json:"start_date" binding:"required"`
	EndDate                time.Time        `json:"end_date" binding:"required"`
	StartingBid            decimal.Decimal  `json:"starting_bid"`
	ReservePrice           *decimal.Decimal `json:"reserve_price"`
	MinIncrement           decimal.Decimal  `json:"min_increment"`
	AutoExtend             *bool            `json:"auto_extend"`
	ExtensionWindowMinutes *int             `json:"extension_window_minutes" binding:"omitempty,gte=0,lte=1440"`
	ExtensionLengthMinutes *int             `json:"extension_length_minutes" binding:"omitempty,gte=0,lte=1440"`
	MaxExtensions          *int             `json:"max_extensions"`
	IsPrivate              bool             `json:"is_private"`
}

// InviteRequest is the body of POST /api/v1/auctions/:id/invitations.
type InviteRequest struct {
	UserIDs []uuid.UUID `json:"user_ids" binding:"required,min=1,max=500"`
}

// PlaceBidRequest is the body of POST /api/v1/auctions/:id/bids.
type PlaceBidRequest struct {
	Amount       decimal.Decimal  `json:"amount"`
	AutoBidLimit *decimal.Decimal `json:"auto_bid_limit"`
}

// AuctionResponse is an auction as returned by the setup endpoints.
type AuctionResponse struct {
	ID                     uuid.UUID       `json:"id"`
	PropertyID             uuid.UUID       `json:"property_id"`
	OwnerID                uuid.UUID       `json:"owner_id"`
	Title                  string          `json:"title"`
	Status                 auctions.Status `json:"status"`
	Label                  string          `json:"label"`
	StartDate              time.Time       `json:"start_date"`
	EndDate                time.Time       `json:"end_date"`
	StartingBid            string          `json:"starting_bid"`
	MinIncrement           string          `json:"min_increment"`
	CurrentBid             *string         `json:"current_bid"`
	BidCount               int64           `json:"bid_count"`
	AutoExtend             bool            `json:"auto_extend"`
	ExtensionWindowMinutes int             `json:"extension_window_minutes"`
	ExtensionLengthMinutes int             `json:"extension_length_minutes"`
	ExtensionCount         int             `json:"extension_count"`
	MaxExtensions          int             `json:"max_extensions"`
	IsPrivate              bool            `json:"is_private"`
	CreatedAt              time.Time       `json:"created_at"`
	UpdatedAt              time.Time       `json:"updated_at"`
}

func mapAuction(a *auctions.Auction) AuctionResponse {
	resp := AuctionResponse{
		ID:                     a.ID,
		PropertyID:             a.PropertyID,
		OwnerID:                a.OwnerID,
		Title:                  a.Title,
		Status:                 a.Status,
		Label:                  a.Label(),
		StartDate:              a.StartDate,
		EndDate:                a.EndDate,
		StartingBid:            a.StartingBid.StringFixed(2),
		MinIncrement:           a.MinIncrement.StringFixed(2),
		BidCount:               a.BidCount,
		AutoExtend:             a.AutoExtend,
		ExtensionWindowMinutes: int(a.ExtensionWindow / time.Minute),
		ExtensionLengthMinutes: int(a.ExtensionLength / time.Minute),
		ExtensionCount:         a.ExtensionCount,
		MaxExtensions:          a.MaxExtensions,
		IsPrivate:              a.IsPrivate,
		CreatedAt:              a.CreatedAt,
		UpdatedAt:              a.UpdatedAt,
	}
	if a.CurrentBid != nil {
		current := a.CurrentBid.StringFixed(2)
		resp.CurrentBid = &current
	}
	return resp
}
