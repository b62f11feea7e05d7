package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/floroz/gavel-estates/services/bid-service/internal/domain/auctions"
	"github.com/floroz/gavel-estates/services/bid-service/internal/domain/bids"
)

var errForbidden = errors.New("forbidden")

var rejectionStatus = map[bids.RejectionCode]int{
	bids.CodeAuctionNotActive:    http.StatusConflict,
	bids.CodeAuctionClosed:       http.StatusConflict,
	bids.CodeBidTooLow:           http.StatusConflict,
	bids.CodeNotInvited:          http.StatusForbidden,
	bids.CodeSelfBidForbidden:    http.StatusForbidden,
	bids.CodeInvalidAmount:       http.StatusUnprocessableEntity,
	bids.CodeInvalidAutoBidLimit: http.StatusUnprocessableEntity,
	bids.CodeBusy:                http.StatusServiceUnavailable,
}

// mapErrorToHTTP converts domain errors to a status and a client-safe message.
func mapErrorToHTTP(err error) (int, string) {
	switch {
	case errors.Is(err, auctions.ErrAuctionNotFound):
		return http.StatusNotFound, "auction not found"
	case errors.Is(err, auctions.ErrUnauthorized), errors.Is(err, errForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, auctions.ErrInvalidTransition), errors.Is(err, auctions.ErrNotPrivate):
		return http.StatusConflict, err.Error()
	case errors.Is(err, auctions.ErrAuctionBusy):
		return http.StatusServiceUnavailable, err.Error()
	case errors.Is(err, auctions.ErrInvalidStartingBid),
		errors.Is(err, auctions.ErrInvalidIncrement),
		errors.Is(err, auctions.ErrInvalidReserve),
		errors.Is(err, auctions.ErrInvalidSchedule),
		errors.Is(err, auctions.ErrInvalidExtension),
		errors.Is(err, auctions.ErrInvalidMaxExtension):
		return http.StatusUnprocessableEntity, err.Error()
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// JSONResponse sends a structured JSON response
func JSONResponse(c *gin.Context, status int, data any, message string) {
	c.JSON(status, gin.H{
		"status":  status,
		"message": message,
		"data":    data,
	})
}

// JSONError sends a structured error response
func JSONError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{
		"status": status,
		"error":  message,
	})
}

// respondError writes err and reports whether it was a server error worth logging.
func respondError(c *gin.Context, err error) bool {
	if rej, ok := bids.AsRejection(err); ok {
		body := gin.H{
			"status": rejectionStatus[rej.Code],
			"error":  rej.Message,
			"code":   rej.Code,
		}
		if rej.MinAmount != nil {
			body["min_amount"] = rej.MinAmount.StringFixed(2)
		}
		c.JSON(rejectionStatus[rej.Code], body)
		return false
	}
	status, message := mapErrorToHTTP(err)
	JSONError(c, status, message)
	return status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable
}
