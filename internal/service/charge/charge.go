// Package charge opens the payer side transactions and hands them to a processor.
// Transactions stay pending until the processor confirms them.
package charge

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nkiryanov/creatorledger/internal/apperrors"
	"github.com/nkiryanov/creatorledger/internal/logger"
	"github.com/nkiryanov/creatorledger/internal/models"
	"github.com/nkiryanov/creatorledger/internal/money"
	"github.com/nkiryanov/creatorledger/internal/processor/apiclient"
	"github.com/nkiryanov/creatorledger/internal/processor/card"
	"github.com/nkiryanov/creatorledger/internal/processor/wallet"
	"github.com/nkiryanov/creatorledger/internal/repository"
	"github.com/nkiryanov/creatorledger/internal/service/ledger"
)

// Wallet capture error meaning the order was captured by an earlier attempt
const errOrderAlreadyCaptured = "ORDER_ALREADY_CAPTURED"

type cardProcessor interface {
	CreateCustomer(ctx context.Context, p card.CustomerParams) (card.Customer, error)
	CreatePaymentIntent(ctx context.Context, p card.PaymentIntentParams) (card.PaymentIntent, error)
	CreateSubscription(ctx context.Context, p card.SubscriptionParams) (card.Subscription, error)
}

type walletProcessor interface {
	CreateOrder(ctx context.Context, p wallet.OrderParams) (wallet.Order, error)
	CaptureOrder(ctx context.Context, orderID string, requestID string) (wallet.Order, error)
}

type Config struct {
	// Platform commission kept from charges split directly to a creator account, zero keeps nothing
	ApplicationFeeRate decimal.Decimal
}

// What the payer needs to confirm the charge with the processor
type Checkout struct {
	Transaction  models.Transaction
	ClientSecret string // card processor
	ApproveURL   string // wallet processor
}

type Service struct {
	storage repository.Storage
	ledger  *ledger.Ledger

	card   cardProcessor
	wallet walletProcessor

	feeRate decimal.Decimal
	logger  logger.Logger
}

func NewService(cfg Config, storage repository.Storage, card cardProcessor, wallet walletProcessor, l logger.Logger) *Service {
	return &Service{
		storage: storage,
		ledger:  ledger.NewService(storage, l),
		card:    card,
		wallet:  wallet,
		feeRate: cfg.ApplicationFeeRate,
		logger:  l,
	}
}

// WithStorage returns the service bound to the storage, usually an opened transaction
func (s *Service) WithStorage(storage repository.Storage) *Service {
	bound := *s
	bound.storage = storage
	bound.ledger = s.ledger.WithStorage(storage)
	return &bound
}

type TipParams struct {
	CreatorID uuid.UUID
	Amount    decimal.Decimal
	Processor string
	VideoID   string
	StreamID  string
}

func (s *Service) Tip(ctx context.Context, payer models.User, p TipParams) (Checkout, error) {
	creator, err := s.beneficiary(ctx, payer, p.CreatorID)
	if err != nil {
		return Checkout{}, err
	}

	return s.charge(ctx, creator, ledger.Entry{
		Kind:          models.TransactionTip,
		BeneficiaryID: creator.ID,
		PayerID:       payer.ID,
		Amount:        p.Amount,
		VideoID:       p.VideoID,
		StreamID:      p.StreamID,
		Processor:     p.Processor,
	})
}

// StarsPurchase opens a pending purchase, the stars are credited when the processor confirms it
func (s *Service) StarsPurchase(ctx context.Context, payer models.User, amount decimal.Decimal, stars decimal.Decimal, processor string) (Checkout, error) {
	return s.charge(ctx, payer, ledger.Entry{
		Kind:          models.TransactionStarsPurchase,
		BeneficiaryID: payer.ID,
		PayerID:       payer.ID,
		Amount:        amount,
		Stars:         &stars,
		Processor:     processor,
	})
}

// Subscribe creates a monthly card subscription to the creator.
// The first invoice is the reference of the opened transaction, renewals are recorded by Renew
func (s *Service) Subscribe(ctx context.Context, payer models.User, creatorID uuid.UUID, amount decimal.Decimal) (Checkout, error) {
	var c Checkout

	if err := money.Validate(amount); err != nil {
		return c, err
	}
	creator, err := s.beneficiary(ctx, payer, creatorID)
	if err != nil {
		return c, err
	}

	customerID, err := s.cardCustomer(ctx, payer)
	if err != nil {
		return c, err
	}

	tx, err := s.ledger.Open(ctx, ledger.Entry{
		Kind:          models.TransactionSubscription,
		BeneficiaryID: creator.ID,
		PayerID:       payer.ID,
		Amount:        amount,
		Processor:     models.ProcessorCard,
		DirectPayout:  creator.CardAccountID != "",
	})
	if err != nil {
		return c, err
	}

	sub, err := s.card.CreateSubscription(ctx, card.SubscriptionParams{
		Customer:       customerID,
		Amount:         amount,
		Destination:    creator.CardAccountID,
		FeePercent:     s.feeRate.Shift(2),
		Metadata:       metadata(tx),
		IdempotencyKey: tx.ID.String(),
	})
	if err != nil {
		return c, s.failCharge(ctx, tx, err)
	}

	tx, err = s.ledger.AttachReferences(ctx, tx.ID, sub.LatestInvoice.ID, sub.ID)
	if err != nil {
		return c, err
	}

	s.logger.Info("Subscription created", "transaction_id", tx.ID, "subscription", sub.ID, "invoice", sub.LatestInvoice.ID)
	return Checkout{Transaction: tx, ClientSecret: sub.LatestInvoice.PaymentIntent.ClientSecret}, nil
}

// Renew records a paid renewal invoice of a known subscription.
// A repeated invoice returns apperrors.ErrTransactionExists with nothing credited
func (s *Service) Renew(ctx context.Context, subscriptionRef string, invoiceRef string, amount decimal.Decimal) (models.Transaction, error) {
	origin, err := s.ledger.GetSubscriptionOrigin(ctx, models.ProcessorCard, subscriptionRef)
	if err != nil {
		return origin, err
	}

	if !amount.IsPositive() {
		amount = origin.SettlementAmount
	}
	entry := ledger.Entry{
		Kind:                  models.TransactionSubscription,
		BeneficiaryID:         origin.BeneficiaryID,
		Amount:                amount,
		Processor:             models.ProcessorCard,
		ExternalReference:     invoiceRef,
		SubscriptionReference: subscriptionRef,
		DirectPayout:          origin.DirectPayout,
	}
	if origin.PayerID != nil {
		entry.PayerID = *origin.PayerID
	}

	return s.ledger.Record(ctx, entry)
}

// CaptureWalletOrder takes the money of an order the payer approved.
// Returns applied=false while the outcome is left to the capture callback
func (s *Service) CaptureWalletOrder(ctx context.Context, tx models.Transaction) (models.Transaction, bool, error) {
	if tx.Status != models.TransactionPending || tx.ExternalReference == nil {
		return tx, false, nil
	}

	order, err := s.wallet.CaptureOrder(ctx, *tx.ExternalReference, tx.ID.String())

	switch {
	case err == nil:
	case apiclient.ErrorName(err) == errOrderAlreadyCaptured:
		return tx, false, nil
	case apiclient.IsTerminal(err):
		s.logger.Warn("Wallet order capture declined", "transaction_id", tx.ID, "error", err)
		return s.ledger.Finalize(ctx, tx.ID, models.TransactionFailed)
	default:
		return tx, false, fmt.Errorf("%w: %v", apperrors.ErrProcessorUnavailable, err)
	}

	switch order.CaptureStatus {
	case wallet.CaptureStatusCompleted:
		return s.ledger.Finalize(ctx, tx.ID, models.TransactionCompleted)
	case "DECLINED", "FAILED":
		return s.ledger.Finalize(ctx, tx.ID, models.TransactionFailed)
	default:
		// PENDING capture is settled by a later callback
		return tx, false, nil
	}
}

func (s *Service) charge(ctx context.Context, beneficiary models.User, e ledger.Entry) (Checkout, error) {
	var c Checkout

	switch e.Processor {
	case models.ProcessorCard:
		direct := beneficiary.CardAccountID != "" && e.Kind != models.TransactionStarsPurchase
		e.DirectPayout = direct

		tx, err := s.ledger.Open(ctx, e)
		if err != nil {
			return c, err
		}

		params := card.PaymentIntentParams{
			Amount:         e.Amount,
			Metadata:       metadata(tx),
			IdempotencyKey: tx.ID.String(),
		}
		if direct {
			params.Destination = beneficiary.CardAccountID
			params.ApplicationFee = money.Round(e.Amount.Mul(s.feeRate))
		}

		intent, err := s.card.CreatePaymentIntent(ctx, params)
		if err != nil {
			return c, s.failCharge(ctx, tx, err)
		}

		tx, err = s.ledger.AttachReferences(ctx, tx.ID, intent.ID, "")
		if err != nil {
			return c, err
		}
		s.logger.Info("Card payment created", "transaction_id", tx.ID, "kind", tx.Kind, "payment_intent", intent.ID, "direct", direct)
		return Checkout{Transaction: tx, ClientSecret: intent.ClientSecret}, nil

	case models.ProcessorWallet:
		tx, err := s.ledger.Open(ctx, e)
		if err != nil {
			return c, err
		}

		order, err := s.wallet.CreateOrder(ctx, wallet.OrderParams{Amount: e.Amount, TransactionID: tx.ID.String()})
		if err != nil {
			return c, s.failCharge(ctx, tx, err)
		}

		tx, err = s.ledger.AttachReferences(ctx, tx.ID, order.ID, "")
		if err != nil {
			return c, err
		}
		s.logger.Info("Wallet order created", "transaction_id", tx.ID, "kind", tx.Kind, "order", order.ID)
		return Checkout{Transaction: tx, ApproveURL: order.ApproveURL}, nil

	default:
		return c, apperrors.ErrUnknownProcessor
	}
}

// The processor did not take the charge, the transaction is failed so it never dangles in pending
func (s *Service) failCharge(ctx context.Context, tx models.Transaction, cause error) error {
	if _, _, err := s.ledger.Finalize(ctx, tx.ID, models.TransactionFailed); err != nil {
		s.logger.Error("Failed to mark charge failed", "transaction_id", tx.ID, "error", err)
	}

	if apiclient.IsTerminal(cause) {
		return fmt.Errorf("%w: %s", apperrors.ErrPaymentDeclined, apiclient.Reason(cause))
	}
	s.logger.Error("Processor unavailable", "transaction_id", tx.ID, "error", cause)
	return fmt.Errorf("%w: %v", apperrors.ErrProcessorUnavailable, cause)
}

func (s *Service) beneficiary(ctx context.Context, payer models.User, creatorID uuid.UUID) (models.User, error) {
	if payer.ID == creatorID {
		return models.User{}, apperrors.ErrSelfPayment
	}
	return s.storage.User().GetUserByID(ctx, creatorID)
}

func (s *Service) cardCustomer(ctx context.Context, payer models.User) (string, error) {
	if payer.CardCustomerID != "" {
		return payer.CardCustomerID, nil
	}

	customer, err := s.card.CreateCustomer(ctx, card.CustomerParams{Email: payer.Email, UserID: payer.ID.String()})
	if err != nil {
		if apiclient.IsTerminal(err) {
			return "", fmt.Errorf("%w: %s", apperrors.ErrPaymentDeclined, apiclient.Reason(err))
		}
		return "", fmt.Errorf("%w: %v", apperrors.ErrProcessorUnavailable, err)
	}

	if _, err := s.storage.User().SetCardCustomer(ctx, payer.ID, customer.ID); err != nil {
		return "", err
	}
	return customer.ID, nil
}

func metadata(tx models.Transaction) map[string]string {
	return map[string]string{
		card.MetadataTransactionID: tx.ID.String(),
		"kind":                     tx.Kind,
	}
}
