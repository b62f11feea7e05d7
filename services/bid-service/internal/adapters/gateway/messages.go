package gateway

import (
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/floroz/gavel-estates/services/bid-service/internal/domain/bids"
)

// Inbound actions.
const (
	ActionPlaceBid = "place_bid"
	ActionGetState = "get_state"
	ActionPing     = "ping"
)

// Outbound message types written by the gateway itself. Event types come from the bids package.
const (
	TypeInitialState = "initial_state"
	TypeAuctionState = "auction_state"
	TypePong         = "pong"
	TypeError        = "error"
)

// Error codes on top of the rejection codes.
const (
	CodeInvalidMessage  = "InvalidMessage"
	CodeUnknownAction   = "UnknownAction"
	CodeRateLimited     = "RateLimited"
	CodeNotAllowed      = "NotAllowed"
	CodeAuctionNotFound = "AuctionNotFound"
	CodeServerError     = "ServerError"
)

// WebSocket close codes used before a subscription exists.
const (
	CloseUnauthenticated = 4001
	CloseForbidden       = 4003
	CloseNotFound        = 4004
)

type inboundMessage struct {
	Action       string           `json:"action" validate:"required"`
	Amount       *decimal.Decimal `json:"amount" validate:"required_if=Action place_bid"`
	AutoBidLimit *decimal.Decimal `json:"auto_bid_limit"`
	ClientID     string           `json:"client_id" validate:"max=128"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

type envelope struct {
	Type      string     `json:"type"`
	AuctionID *uuid.UUID `json:"auction_id,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
	Data      any        `json:"data,omitempty"`
}

type errorMessage struct {
	Type      string `json:"type"`
	Message   string `json:"message"`
	Code      string `json:"code,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	MinAmount string `json:"min_amount,omitempty"`
}

func encodeState(typ string, snap *bids.Snapshot) ([]byte, error) {
	id := snap.Auction.ID
	return json.Marshal(envelope{
		Type:      typ,
		AuctionID: &id,
		Timestamp: snap.ServerTime,
		Data:      bids.NewSnapshotView(snap),
	})
}

func encodeError(code, message, clientID string, minAmount *decimal.Decimal) []byte {
	msg := errorMessage{
		Type:     TypeError,
		Message:  message,
		Code:     code,
		ClientID: clientID,
	}
	if minAmount != nil {
		msg.MinAmount = minAmount.StringFixed(2)
	}
	body, _ := json.Marshal(msg)
	return body
}
