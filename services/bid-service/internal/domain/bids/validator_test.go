package bids

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/floroz/gavel-estates/services/bid-service/internal/domain/auctions"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func TestValidate(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	ownerID := uuid.New()
	bidderID := uuid.New()

	base := func() ValidationInput {
		return ValidationInput{
			Auction: &auctions.Auction{
				ID:           uuid.New(),
				OwnerID:      ownerID,
				Status:       auctions.StatusLive,
				StartDate:    now.Add(-time.Hour),
				EndDate:      now.Add(time.Hour),
				StartingBid:  dec("900"),
				MinIncrement: dec("100"),
				CurrentBid:   decPtr("1000"),
			},
			BidderID: bidderID,
			Amount:   dec("1100"),
			Now:      now,
		}
	}

	tests := []struct {
		name     string
		mutate   func(*ValidationInput)
		wantCode RejectionCode
		wantMin  string
	}{
		{name: "exact minimum accepted"},
		{name: "above minimum accepted", mutate: func(in *ValidationInput) { in.Amount = dec("5000") }},
		{
			name:     "scheduled auction not active",
			mutate:   func(in *ValidationInput) { in.Auction.Status = auctions.StatusScheduled },
			wantCode: CodeAuctionNotActive,
		},
		{
			name:     "ended auction not active even with valid amount",
			mutate:   func(in *ValidationInput) { in.Auction.Status = auctions.StatusEnded },
			wantCode: CodeAuctionNotActive,
		},
		{
			name:     "status lags but end date passed",
			mutate:   func(in *ValidationInput) { in.Now = in.Auction.EndDate.Add(time.Second) },
			wantCode: CodeAuctionClosed,
		},
		{
			name:     "before start date",
			mutate:   func(in *ValidationInput) { in.Now = in.Auction.StartDate.Add(-time.Second) },
			wantCode: CodeAuctionClosed,
		},
		{
			name:     "private and not invited",
			mutate:   func(in *ValidationInput) { in.Auction.IsPrivate = true; in.Amount = dec("1000000") },
			wantCode: CodeNotInvited,
		},
		{
			name:   "private and invited",
			mutate: func(in *ValidationInput) { in.Auction.IsPrivate = true; in.Invited = true },
		},
		{
			name:   "private and staff",
			mutate: func(in *ValidationInput) { in.Auction.IsPrivate = true; in.IsStaff = true },
		},
		{
			name:     "owner cannot bid",
			mutate:   func(in *ValidationInput) { in.BidderID = ownerID },
			wantCode: CodeSelfBidForbidden,
		},
		{
			name:     "zero amount",
			mutate:   func(in *ValidationInput) { in.Amount = decimal.Zero },
			wantCode: CodeInvalidAmount,
		},
		{
			name:     "negative amount",
			mutate:   func(in *ValidationInput) { in.Amount = dec("-1100") },
			wantCode: CodeInvalidAmount,
		},
		{
			name:     "sub-cent amount",
			mutate:   func(in *ValidationInput) { in.Amount = dec("1100.005") },
			wantCode: CodeInvalidAmount,
		},
		{
			name:   "largest storable amount",
			mutate: func(in *ValidationInput) { in.Amount = dec("999999999999.99") },
		},
		{
			name:     "amount overflows storage",
			mutate:   func(in *ValidationInput) { in.Amount = dec("1000000000000.00") },
			wantCode: CodeInvalidAmount,
		},
		{
			name:     "one cent below minimum",
			mutate:   func(in *ValidationInput) { in.Amount = dec("1099.99") },
			wantCode: CodeBidTooLow,
			wantMin:  "1100.00",
		},
		{
			name:     "first bid must clear starting bid plus increment",
			mutate:   func(in *ValidationInput) { in.Auction.CurrentBid = nil; in.Amount = dec("900") },
			wantCode: CodeBidTooLow,
			wantMin:  "1000.00",
		},
		{
			name:     "auto bid limit below amount",
			mutate:   func(in *ValidationInput) { in.AutoBidLimit = decPtr("1050") },
			wantCode: CodeInvalidAutoBidLimit,
		},
		{
			name:     "sub-cent auto bid limit",
			mutate:   func(in *ValidationInput) { in.AutoBidLimit = decPtr("2000.001") },
			wantCode: CodeInvalidAutoBidLimit,
		},
		{
			name:     "auto bid limit overflows storage",
			mutate:   func(in *ValidationInput) { in.AutoBidLimit = decPtr("1000000000000") },
			wantCode: CodeInvalidAutoBidLimit,
		},
		{
			name:   "auto bid limit at storage maximum",
			mutate: func(in *ValidationInput) { in.AutoBidLimit = decPtr("999999999999.99") },
		},
		{
			name:   "auto bid limit equal to amount",
			mutate: func(in *ValidationInput) { in.AutoBidLimit = decPtr("1100") },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := base()
			if tt.mutate != nil {
				tt.mutate(&in)
			}

			rej := Validate(in)

			if tt.wantCode == "" {
				assert.Nil(t, rej)
				return
			}
			require.NotNil(t, rej)
			assert.Equal(t, tt.wantCode, rej.Code)
			assert.NotEmpty(t, rej.Message)
			if tt.wantMin != "" {
				require.NotNil(t, rej.MinAmount)
				assert.Equal(t, tt.wantMin, rej.MinAmount.StringFixed(2))
			} else {
				assert.Nil(t, rej.MinAmount)
			}
		})
	}
}

func TestRejection_IsError(t *testing.T) {
	var err error = NewRejection(CodeBusy)
	rej, ok := AsRejection(err)
	require.True(t, ok)
	assert.Equal(t, CodeBusy, rej.Code)
	assert.Contains(t, err.Error(), "Busy")

	_, ok = AsRejection(assert.AnError)
	assert.False(t, ok)
}
