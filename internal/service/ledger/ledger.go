// Package ledger owns creator balances and the transaction records.
// Every state change of a transaction and its balance effect commit together.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nkiryanov/creatorledger/internal/apperrors"
	"github.com/nkiryanov/creatorledger/internal/logger"
	"github.com/nkiryanov/creatorledger/internal/models"
	"github.com/nkiryanov/creatorledger/internal/money"
	"github.com/nkiryanov/creatorledger/internal/repository"
)

type Ledger struct {
	storage repository.Storage
	logger  logger.Logger
}

func NewService(storage repository.Storage, l logger.Logger) *Ledger {
	return &Ledger{
		storage: storage,
		logger:  l,
	}
}

// WithStorage returns the ledger bound to the storage, usually an opened transaction
func (l *Ledger) WithStorage(storage repository.Storage) *Ledger {
	return &Ledger{storage: storage, logger: l.logger}
}

// GetBalance returns zero balance for creators who never earned
func (l *Ledger) GetBalance(ctx context.Context, creatorID uuid.UUID) (models.Balance, error) {
	b, err := l.storage.Balance().GetBalance(ctx, creatorID)
	if errors.Is(err, apperrors.ErrBalanceNotFound) {
		return models.Balance{CreatorID: creatorID}, nil
	}
	return b, err
}

func (l *Ledger) Credit(ctx context.Context, creatorID uuid.UUID, amount decimal.Decimal) (models.Balance, error) {
	if err := money.Validate(amount); err != nil {
		return models.Balance{}, err
	}
	return l.storage.Balance().Credit(ctx, creatorID, amount)
}

// Reserve moves amount from available to pending for a payout
func (l *Ledger) Reserve(ctx context.Context, creatorID uuid.UUID, amount decimal.Decimal) (models.Balance, error) {
	if err := money.Validate(amount); err != nil {
		return models.Balance{}, err
	}

	b, err := l.storage.Balance().Reserve(ctx, creatorID, amount)
	if errors.Is(err, apperrors.ErrBalanceInsufficient) {
		return b, fmt.Errorf("%w, available %s", err, money.String(b.Available))
	}
	return b, err
}

// Release removes amount from pending. With restore the amount returns to available,
// otherwise it left the platform
func (l *Ledger) Release(ctx context.Context, creatorID uuid.UUID, amount decimal.Decimal, restore bool) (models.Balance, error) {
	if err := money.Validate(amount); err != nil {
		return models.Balance{}, err
	}

	b, err := l.storage.Balance().ReleasePending(ctx, creatorID, amount, restore)
	if errors.Is(err, apperrors.ErrBalancePendingInsufficient) {
		l.logger.Error("Pending balance is lower than released amount", "creator_id", creatorID, "amount", amount, "pending", b.Pending)
	}
	return b, err
}

type Entry struct {
	Kind          string
	BeneficiaryID uuid.UUID
	Amount        decimal.Decimal // settlement amount

	PayerID  uuid.UUID // zero if none
	Stars    *decimal.Decimal
	VideoID  string
	StreamID string

	Processor             string
	ExternalReference     string
	SubscriptionReference string
	DirectPayout          bool
	PayoutRequestID       uuid.UUID
}

func (e Entry) options() []repository.TransactionOption {
	var opts []repository.TransactionOption
	if e.PayerID != uuid.Nil {
		opts = append(opts, repository.WithPayer(e.PayerID))
	}
	if e.Stars != nil {
		opts = append(opts, repository.WithStars(*e.Stars))
	}
	if e.VideoID != "" || e.StreamID != "" {
		opts = append(opts, repository.WithContent(e.VideoID, e.StreamID))
	}
	if e.Processor != "" {
		opts = append(opts, repository.WithProcessor(e.Processor))
	}
	if e.ExternalReference != "" {
		opts = append(opts, repository.WithExternalReference(e.ExternalReference))
	}
	if e.SubscriptionReference != "" {
		opts = append(opts, repository.WithSubscriptionReference(e.SubscriptionReference))
	}
	if e.DirectPayout {
		opts = append(opts, repository.WithDirectPayout(true))
	}
	if e.PayoutRequestID != uuid.Nil {
		opts = append(opts, repository.WithPayoutRequest(e.PayoutRequestID))
	}
	return opts
}

func (e Entry) validate() error {
	switch e.Kind {
	case models.TransactionPayout:
		if !e.Amount.IsPositive() && !e.Amount.IsZero() {
			return apperrors.ErrInvalidAmount
		}
	default:
		if err := money.Validate(e.Amount); err != nil {
			return err
		}
	}

	switch e.Kind {
	case models.TransactionStarsDonation, models.TransactionStarsPurchase:
		if e.Stars == nil || money.Validate(*e.Stars) != nil {
			return apperrors.ErrInvalidAmount
		}
	}
	return nil
}

// Open records a pending transaction awaiting the processor outcome
func (l *Ledger) Open(ctx context.Context, e Entry) (models.Transaction, error) {
	if err := e.validate(); err != nil {
		return models.Transaction{}, err
	}

	t, err := l.storage.Transaction().CreateTransaction(ctx, e.Kind, e.BeneficiaryID, e.Amount, e.options()...)
	if err != nil {
		return t, fmt.Errorf("can't open transaction. Err: %w", err)
	}

	l.logger.Debug("Transaction opened", "transaction_id", t.ID, "kind", t.Kind, "amount", t.SettlementAmount)
	return t, nil
}

// Record stores an already settled transaction and applies its effect atomically
// Duplicate processor reference returns apperrors.ErrTransactionExists with nothing applied
func (l *Ledger) Record(ctx context.Context, e Entry) (models.Transaction, error) {
	if err := e.validate(); err != nil {
		return models.Transaction{}, err
	}

	var t models.Transaction
	err := l.storage.InTx(ctx, func(s repository.Storage) error {
		var err error
		opts := append(e.options(), repository.WithStatus(models.TransactionCompleted))

		t, err = s.Transaction().CreateTransaction(ctx, e.Kind, e.BeneficiaryID, e.Amount, opts...)
		if err != nil {
			return err
		}
		return applyCompletion(ctx, s, t)
	})
	if err != nil {
		return t, err
	}

	l.logger.Info("Transaction recorded", "transaction_id", t.ID, "kind", t.Kind, "amount", t.SettlementAmount)
	return t, nil
}

// AttachReferences stores processor identifiers of a pending transaction
func (l *Ledger) AttachReferences(ctx context.Context, id uuid.UUID, ref string, subscriptionRef string) (models.Transaction, error) {
	var sub *string
	if subscriptionRef != "" {
		sub = &subscriptionRef
	}
	return l.storage.Transaction().SetReferences(ctx, id, ref, sub)
}

// Finalize moves a pending transaction to completed or failed and applies the effect of completion
//
// Repeating the same outcome is a no-op reported with applied=false.
// A different outcome for an already final transaction returns apperrors.ErrTransactionConflict
func (l *Ledger) Finalize(ctx context.Context, id uuid.UUID, outcome string) (models.Transaction, bool, error) {
	if outcome != models.TransactionCompleted && outcome != models.TransactionFailed {
		return models.Transaction{}, false, fmt.Errorf("unknown transaction outcome %q", outcome)
	}

	var t models.Transaction
	err := l.storage.InTx(ctx, func(s repository.Storage) error {
		var err error
		t, err = s.Transaction().UpdateStatus(ctx, id, models.TransactionPending, outcome)
		if err != nil {
			return err
		}

		if outcome == models.TransactionCompleted {
			return applyCompletion(ctx, s, t)
		}
		return nil
	})

	switch {
	case err == nil:
		l.logger.Info("Transaction finalized", "transaction_id", t.ID, "kind", t.Kind, "status", t.Status)
		return t, true, nil

	case errors.Is(err, apperrors.ErrTransactionConflict):
		sameOutcome := t.Status == outcome || (outcome == models.TransactionCompleted && t.Status == models.TransactionRefunded)
		if sameOutcome {
			l.logger.Debug("Transaction already finalized", "transaction_id", t.ID, "status", t.Status)
			return t, false, nil
		}

		l.logger.Warn("Transaction finalized with a different outcome", "transaction_id", t.ID, "status", t.Status, "outcome", outcome)
		return t, false, err

	default:
		return t, false, err
	}
}

// Refund reverses a completed transaction
//
// The balance credit is taken back from available, lifetime earned stays.
// Refunding twice is a no-op reported with applied=false
func (l *Ledger) Refund(ctx context.Context, id uuid.UUID) (models.Transaction, bool, error) {
	var t models.Transaction
	err := l.storage.InTx(ctx, func(s repository.Storage) error {
		current, err := s.Transaction().GetTransaction(ctx, id)
		if err != nil {
			return err
		}
		if current.Kind == models.TransactionPayout {
			t = current
			return apperrors.ErrTransactionNotRefundable
		}

		t, err = s.Transaction().UpdateStatus(ctx, id, models.TransactionCompleted, models.TransactionRefunded)
		if err != nil {
			return err
		}
		return applyRefund(ctx, s, t)
	})

	switch {
	case err == nil:
		l.logger.Info("Transaction refunded", "transaction_id", t.ID, "kind", t.Kind, "amount", t.SettlementAmount)
		return t, true, nil
	case errors.Is(err, apperrors.ErrTransactionConflict) && t.Status == models.TransactionRefunded:
		return t, false, nil
	case errors.Is(err, apperrors.ErrTransactionConflict):
		return t, false, fmt.Errorf("%w: transaction is %s", apperrors.ErrTransactionNotRefundable, t.Status)
	default:
		return t, false, err
	}
}

func (l *Ledger) GetTransaction(ctx context.Context, id uuid.UUID) (models.Transaction, error) {
	return l.storage.Transaction().GetTransaction(ctx, id)
}

func (l *Ledger) GetByReference(ctx context.Context, processor string, ref string) (models.Transaction, error) {
	return l.storage.Transaction().GetTransactionByReference(ctx, processor, ref)
}

func (l *Ledger) GetSubscriptionOrigin(ctx context.Context, processor string, subscriptionRef string) (models.Transaction, error) {
	return l.storage.Transaction().GetSubscriptionOrigin(ctx, processor, subscriptionRef)
}

func (l *Ledger) ListTransactions(ctx context.Context, userID uuid.UUID, opts repository.ListTransactionsOpts) ([]models.Transaction, error) {
	return l.storage.Transaction().ListTransactions(ctx, userID, opts)
}

func applyCompletion(ctx context.Context, s repository.Storage, t models.Transaction) error {
	if t.CreditsBalance() {
		if _, err := s.Balance().Credit(ctx, t.BeneficiaryID, t.SettlementAmount); err != nil {
			return fmt.Errorf("can't credit balance. Err: %w", err)
		}
	}

	if t.Kind == models.TransactionStarsPurchase {
		if t.StarsAmount == nil {
			return fmt.Errorf("stars purchase %s has no stars amount", t.ID)
		}
		if _, err := s.User().CreditStars(ctx, t.BeneficiaryID, *t.StarsAmount); err != nil {
			return fmt.Errorf("can't credit stars. Err: %w", err)
		}
	}

	return nil
}

func applyRefund(ctx context.Context, s repository.Storage, t models.Transaction) error {
	if t.CreditsBalance() {
		if _, err := s.Balance().Debit(ctx, t.BeneficiaryID, t.SettlementAmount); err != nil {
			return fmt.Errorf("can't take refunded amount back. Err: %w", err)
		}
	}

	switch t.Kind {
	case models.TransactionStarsPurchase:
		if _, err := s.User().DebitStars(ctx, t.BeneficiaryID, *t.StarsAmount); err != nil {
			return fmt.Errorf("can't take refunded stars back. Err: %w", err)
		}
	case models.TransactionStarsDonation:
		if t.PayerID != nil {
			if _, err := s.User().CreditStars(ctx, *t.PayerID, *t.StarsAmount); err != nil {
				return fmt.Errorf("can't return donated stars. Err: %w", err)
			}
		}
	}

	return nil
}
