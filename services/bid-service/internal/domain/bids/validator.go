package bids

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/floroz/gavel-estates/services/bid-service/internal/domain/auctions"
)

// MaxAmount is the largest value a NUMERIC(14,2) amount column holds.
var MaxAmount = decimal.RequireFromString("999999999999.99")

// validMoney reports whether d is a positive amount with at most two decimals that fits MaxAmount.
func validMoney(d decimal.Decimal) bool {
	return d.IsPositive() && d.Equal(d.Round(2)) && d.LessThanOrEqual(MaxAmount)
}

// ValidationInput is everything Validate needs to decide on a bid.
type ValidationInput struct {
	Auction      *auctions.Auction
	BidderID     uuid.UUID
	Amount       decimal.Decimal
	AutoBidLimit *decimal.Decimal
	Now          time.Time
	Invited      bool
	IsStaff      bool
}

// Validate checks a proposed bid against the auction. The first failing check wins;
// a nil result means the bid is acceptable.
func Validate(in ValidationInput) *Rejection {
	a := in.Auction

	if !a.Status.IsActive() {
		return NewRejection(CodeAuctionNotActive)
	}

	// Status may lag behind the clock until the scheduler catches up.
	if in.Now.Before(a.StartDate) || in.Now.After(a.EndDate) {
		return NewRejection(CodeAuctionClosed)
	}

	if a.IsPrivate && !in.Invited && !in.IsStaff {
		return NewRejection(CodeNotInvited)
	}

	if a.IsOwnedBy(in.BidderID) {
		return NewRejection(CodeSelfBidForbidden)
	}

	if !validMoney(in.Amount) {
		return NewRejection(CodeInvalidAmount)
	}

	if minAmount := a.MinimumNextBid(); in.Amount.LessThan(minAmount) {
		rej := NewRejection(CodeBidTooLow)
		rej.MinAmount = &minAmount
		return rej
	}

	if in.AutoBidLimit != nil && (!validMoney(*in.AutoBidLimit) || in.AutoBidLimit.LessThan(in.Amount)) {
		return NewRejection(CodeInvalidAutoBidLimit)
	}

	return nil
}
