package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/vedagro/backend/internal/period"
	"github.com/vedagro/backend/internal/services/member"
	"github.com/vedagro/backend/internal/services/payout"
	"github.com/vedagro/backend/internal/services/points"
	"github.com/vedagro/backend/internal/services/wallet"
)

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, member.ErrSponsorNotFound),
		errors.Is(err, member.ErrMemberNotFound),
		errors.Is(err, payout.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, member.ErrSlotOccupied),
		errors.Is(err, member.ErrRootExists),
		errors.Is(err, points.ErrDuplicateOrder),
		errors.Is(err, wallet.ErrDuplicatePosting),
		errors.Is(err, payout.ErrRunAlreadyCompleted),
		errors.Is(err, payout.ErrRunInProgress):
		return http.StatusConflict
	case errors.Is(err, member.ErrInvalidRankTransition):
		return http.StatusUnprocessableEntity
	case errors.Is(err, wallet.ErrInsufficientBalance):
		return http.StatusPaymentRequired
	case errors.Is(err, member.ErrInvalidSide),
		errors.Is(err, points.ErrInvalidPoints),
		errors.Is(err, wallet.ErrInvalidAmount),
		errors.Is(err, wallet.ErrInvalidWalletKind),
		errors.Is(err, wallet.ErrSameWallet),
		errors.Is(err, wallet.ErrMissingReference),
		errors.Is(err, payout.ErrUnknownBonusType),
		errors.Is(err, period.ErrInvalidPeriodKey):
		return http.StatusBadRequest
	case errors.Is(err, payout.ErrRunTimeout):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// respondError writes err as a JSON error. Unexpected errors are logged and hidden.
func respondError(c *gin.Context, log logrus.FieldLogger, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.WithError(err).WithField("path", c.FullPath()).Error("request failed")
		c.JSON(status, gin.H{"error": "internal server error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
