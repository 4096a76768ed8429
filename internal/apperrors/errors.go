package apperrors

import (
	"errors"
)

var (
	ErrUserNotFound  = errors.New("user not found")
	ErrUnauthorized  = errors.New("not authenticated")
	ErrForbidden     = errors.New("admin privileges required")
	ErrInvalidAmount = errors.New("amount must be positive with at most 2 decimal places")

	ErrBalanceNotFound            = errors.New("balance not found")
	ErrBalanceInsufficient        = errors.New("insufficient balance")
	ErrBalancePendingInsufficient = errors.New("pending balance is lower than the released amount")

	ErrTransactionNotFound      = errors.New("transaction not found")
	ErrTransactionExists        = errors.New("transaction with this reference already exists")
	ErrTransactionConflict      = errors.New("transaction already finalized with a different outcome")
	ErrTransactionNotRefundable = errors.New("transaction can not be refunded")
	ErrSelfPayment              = errors.New("payer and beneficiary must be different users")
	ErrUnknownProcessor         = errors.New("unknown payment processor")

	ErrStarsInsufficient = errors.New("insufficient stars")
	ErrSelfDonation      = errors.New("self donation is not allowed")
	ErrDonationContext   = errors.New("donation context does not belong to the creator")

	ErrPayoutNotFound      = errors.New("payout request not found")
	ErrPayoutBelowMinimum  = errors.New("requested amount is below the minimum withdrawal")
	ErrPayoutConflict      = errors.New("payout request is not in the expected state")
	ErrNotEligible         = errors.New("creator is not eligible to monetize")
	ErrPayoutNoDestination = errors.New("creator has no payout receiver")
	ErrInvalidBirthdate    = errors.New("birthdate must be in the past")

	ErrInvalidSignature     = errors.New("processor callback signature is invalid")
	ErrMalformedEvent       = errors.New("processor callback payload is malformed")
	ErrProcessorUnavailable = errors.New("payment processor is unavailable")
	ErrPaymentDeclined      = errors.New("payment processor declined the request")
)
