package bids

import (
	"errors"

	"github.com/shopspring/decimal"
)

// RejectionCode identifies why a bid was not accepted.
type RejectionCode string

const (
	CodeAuctionNotActive    RejectionCode = "AuctionNotActive"
	CodeAuctionClosed       RejectionCode = "AuctionClosed"
	CodeNotInvited          RejectionCode = "NotInvited"
	CodeSelfBidForbidden    RejectionCode = "SelfBidForbidden"
	CodeInvalidAmount       RejectionCode = "InvalidAmount"
	CodeBidTooLow           RejectionCode = "BidTooLow"
	CodeInvalidAutoBidLimit RejectionCode = "InvalidAutoBidLimit"
	CodeBusy                RejectionCode = "Busy"
)

var rejectionMessages = map[RejectionCode]string{
	CodeAuctionNotActive:    "auction is not accepting bids",
	CodeAuctionClosed:       "auction is outside its bidding window",
	CodeNotInvited:          "you are not invited to this private auction",
	CodeSelfBidForbidden:    "owners cannot bid on their own property",
	CodeInvalidAmount:       "bid amount must be a positive amount with at most two decimals",
	CodeBidTooLow:           "bid amount is below the minimum acceptable bid",
	CodeInvalidAutoBidLimit: "auto-bid limit must not be below the bid amount",
	CodeBusy:                "auction is busy, please retry",
}

// Rejection is an expected, user-facing refusal of a bid. Nothing is persisted for a rejected bid.
type Rejection struct {
	Code    RejectionCode
	Message string
	// MinAmount is set for BidTooLow.
	MinAmount *decimal.Decimal
}

// NewRejection creates a rejection with the standard message for code.
func NewRejection(code RejectionCode) *Rejection {
	return &Rejection{Code: code, Message: rejectionMessages[code]}
}

func (r *Rejection) Error() string {
	return string(r.Code) + ": " + r.Message
}

// AsRejection unwraps err into a *Rejection.
func AsRejection(err error) (*Rejection, bool) {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}
