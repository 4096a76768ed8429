package handlers

import (
	"errors"
	"net/http"

	"github.com/nkiryanov/creatorledger/internal/apperrors"
	"github.com/nkiryanov/creatorledger/internal/handlers/render"
	"github.com/nkiryanov/creatorledger/internal/logger"
)

// Status of every business and validation error the services return
// Messages of these errors are actionable and sent to the caller as is
var errorStatuses = []struct {
	err    error
	status int
}{
	{apperrors.ErrInvalidAmount, http.StatusUnprocessableEntity},
	{apperrors.ErrPayoutBelowMinimum, http.StatusUnprocessableEntity},
	{apperrors.ErrSelfPayment, http.StatusUnprocessableEntity},
	{apperrors.ErrSelfDonation, http.StatusUnprocessableEntity},
	{apperrors.ErrDonationContext, http.StatusUnprocessableEntity},
	{apperrors.ErrUnknownProcessor, http.StatusUnprocessableEntity},
	{apperrors.ErrInvalidBirthdate, http.StatusUnprocessableEntity},

	{apperrors.ErrBalanceInsufficient, http.StatusPaymentRequired},
	{apperrors.ErrStarsInsufficient, http.StatusPaymentRequired},
	{apperrors.ErrPaymentDeclined, http.StatusPaymentRequired},

	{apperrors.ErrNotEligible, http.StatusForbidden},
	{apperrors.ErrPayoutNoDestination, http.StatusForbidden},
	{apperrors.ErrForbidden, http.StatusForbidden},
	{apperrors.ErrUnauthorized, http.StatusUnauthorized},

	{apperrors.ErrUserNotFound, http.StatusNotFound},
	{apperrors.ErrPayoutNotFound, http.StatusNotFound},
	{apperrors.ErrTransactionNotFound, http.StatusNotFound},

	{apperrors.ErrPayoutConflict, http.StatusConflict},
	{apperrors.ErrTransactionConflict, http.StatusConflict},
	{apperrors.ErrTransactionNotRefundable, http.StatusConflict},
	{apperrors.ErrTransactionExists, http.StatusConflict},
	{apperrors.ErrBalancePendingInsufficient, http.StatusConflict},

	{apperrors.ErrProcessorUnavailable, http.StatusServiceUnavailable},
}

// Render service error with the status it maps to
// Unknown errors are logged and hidden behind 500
func serviceError(w http.ResponseWriter, err error, l logger.Logger, msg string) {
	for _, s := range errorStatuses {
		if errors.Is(err, s.err) {
			render.ServiceError(w, err.Error(), s.status)
			return
		}
	}

	l.Error(msg, "error", err)
	render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
}
