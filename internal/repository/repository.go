package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nkiryanov/creatorledger/internal/models"
)

// User mirror repository
type UserRepo interface {
	// Get the mirror of the external identity or create it on first sight
	// Non empty email overwrites the stored one
	GetOrCreateUser(ctx context.Context, externalID string, email string) (models.User, error)

	// If user not found must return apperrors.ErrUserNotFound
	GetUserByID(ctx context.Context, id uuid.UUID) (models.User, error)

	// Nil override clears it
	SetMonetizationOverride(ctx context.Context, id uuid.UUID, override *bool) (models.User, error)
	UpdateMonetizationProfile(ctx context.Context, id uuid.UUID, profile models.MonetizationProfile) (models.User, error)
	SetCardCustomer(ctx context.Context, id uuid.UUID, customerID string) (models.User, error)

	// Stars wallet
	// Debit must return apperrors.ErrStarsInsufficient and keep the wallet unchanged if it holds less than amount
	CreditStars(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (models.User, error)
	DebitStars(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (models.User, error)
}

// Creator balances
// Every mutation is a single conditional statement so concurrent callers never overdraw
type BalanceRepo interface {
	// If balance not created yet must return apperrors.ErrBalanceNotFound
	GetBalance(ctx context.Context, creatorID uuid.UUID) (models.Balance, error)

	// Create balance lazily and increase available and lifetime earned
	Credit(ctx context.Context, creatorID uuid.UUID, amount decimal.Decimal) (models.Balance, error)

	// Move amount from available to pending
	// Must return apperrors.ErrBalanceInsufficient if available is lower than amount
	Reserve(ctx context.Context, creatorID uuid.UUID, amount decimal.Decimal) (models.Balance, error)

	// Remove amount from pending, returning it to available when restore is true
	// Otherwise the amount left the platform and last payout time is updated
	// Must return apperrors.ErrBalancePendingInsufficient if pending is lower than amount
	ReleasePending(ctx context.Context, creatorID uuid.UUID, amount decimal.Decimal, restore bool) (models.Balance, error)

	// Take amount out of available without touching lifetime earned (refunds)
	// Must return apperrors.ErrBalanceInsufficient if available is lower than amount
	Debit(ctx context.Context, creatorID uuid.UUID, amount decimal.Decimal) (models.Balance, error)
}

type TransactionOption func(*models.Transaction)

func WithPayer(payerID uuid.UUID) TransactionOption {
	return func(t *models.Transaction) { t.PayerID = &payerID }
}

func WithContent(videoID string, streamID string) TransactionOption {
	return func(t *models.Transaction) {
		if videoID != "" {
			t.VideoID = &videoID
		}
		if streamID != "" {
			t.StreamID = &streamID
		}
	}
}

func WithStars(stars decimal.Decimal) TransactionOption {
	return func(t *models.Transaction) { t.StarsAmount = &stars }
}

func WithProcessor(processor string) TransactionOption {
	return func(t *models.Transaction) { t.Processor = &processor }
}

func WithExternalReference(ref string) TransactionOption {
	return func(t *models.Transaction) { t.ExternalReference = &ref }
}

func WithSubscriptionReference(ref string) TransactionOption {
	return func(t *models.Transaction) { t.SubscriptionReference = &ref }
}

func WithDirectPayout(direct bool) TransactionOption {
	return func(t *models.Transaction) { t.DirectPayout = direct }
}

func WithPayoutRequest(requestID uuid.UUID) TransactionOption {
	return func(t *models.Transaction) { t.PayoutRequestID = &requestID }
}

func WithStatus(status string) TransactionOption {
	return func(t *models.Transaction) { t.Status = status }
}

type ListTransactionsOpts struct {
	From   *time.Time // inclusive
	To     *time.Time // exclusive
	Kinds  []string
	Limit  int
	Offset int
}

type TransactionRepo interface {
	// Create transaction, pending by default
	// If a transaction with the same processor and external reference exists must return apperrors.ErrTransactionExists
	CreateTransaction(ctx context.Context, kind string, beneficiaryID uuid.UUID, amount decimal.Decimal, opts ...TransactionOption) (models.Transaction, error)

	// If transaction not found must return apperrors.ErrTransactionNotFound
	GetTransaction(ctx context.Context, id uuid.UUID) (models.Transaction, error)
	GetTransactionByReference(ctx context.Context, processor string, ref string) (models.Transaction, error)

	// The earliest transaction opened for the processor subscription
	GetSubscriptionOrigin(ctx context.Context, processor string, subscriptionRef string) (models.Transaction, error)

	// Attach processor references to a pending transaction
	SetReferences(ctx context.Context, id uuid.UUID, ref string, subscriptionRef *string) (models.Transaction, error)

	// Change status only if the current one is `from`
	// If current status differs must return current transaction and apperrors.ErrTransactionConflict
	UpdateStatus(ctx context.Context, id uuid.UUID, from string, to string) (models.Transaction, error)

	// Transactions where user is beneficiary or payer, newest first
	ListTransactions(ctx context.Context, userID uuid.UUID, opts ListTransactionsOpts) ([]models.Transaction, error)
}

type PayoutUpdate struct {
	ExternalBatchReference *string
	FailureReason          *string
	SubmittedAt            *time.Time
	CompletedAt            *time.Time
}

type PayoutRepo interface {
	CreatePayout(ctx context.Context, creatorID uuid.UUID, requested decimal.Decimal, fee decimal.Decimal, net decimal.Decimal) (models.PayoutRequest, error)

	// If request not found must return apperrors.ErrPayoutNotFound
	GetPayout(ctx context.Context, id uuid.UUID) (models.PayoutRequest, error)
	GetPayoutByBatch(ctx context.Context, batchRef string) (models.PayoutRequest, error)

	// Change status only if the current one is `from`, not nil update fields are stored too
	// If current status differs must return current request and apperrors.ErrPayoutConflict
	TransitPayout(ctx context.Context, id uuid.UUID, from string, to string, upd PayoutUpdate) (models.PayoutRequest, error)

	// Newest first. Zero creatorID lists every creator
	ListPayouts(ctx context.Context, creatorID uuid.UUID, statuses []string, limit int, offset int) ([]models.PayoutRequest, error)

	// Requests in processing submitted before the time, oldest first
	ListProcessingPayouts(ctx context.Context, submittedBefore time.Time, limit int) ([]models.PayoutRequest, error)
}

type EventRepo interface {
	// Remember the callback. Returns false if it was recorded before
	RecordEvent(ctx context.Context, event models.ProcessorEvent) (bool, error)
}

type Storage interface {
	User() UserRepo
	Balance() BalanceRepo
	Transaction() TransactionRepo
	Payout() PayoutRepo
	Event() EventRepo

	// Run fn in a database transaction. Nested calls use savepoints
	InTx(ctx context.Context, fn func(Storage) error) error
}
