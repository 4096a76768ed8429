// Package reconciler applies processor callbacks to the ledger.
//
// Callbacks are delivered at least once. Each verified event is recorded by
// its id in the same database transaction as its effects, and every effect is
// guarded by the current state, so redelivery never applies an outcome twice.
package reconciler

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/nkiryanov/creatorledger/internal/apperrors"
	"github.com/nkiryanov/creatorledger/internal/logger"
	"github.com/nkiryanov/creatorledger/internal/metrics"
	"github.com/nkiryanov/creatorledger/internal/models"
	"github.com/nkiryanov/creatorledger/internal/processor/card"
	"github.com/nkiryanov/creatorledger/internal/processor/wallet"
	"github.com/nkiryanov/creatorledger/internal/repository"
	"github.com/nkiryanov/creatorledger/internal/service/charge"
	"github.com/nkiryanov/creatorledger/internal/service/ledger"
	"github.com/nkiryanov/creatorledger/internal/service/payout"
)

const payoutBatchDenied = "payout batch denied"

type cardWebhooks interface {
	ParseWebhook(payload []byte, header string) (card.Event, error)
}

type walletWebhooks interface {
	ParseWebhook(ctx context.Context, header http.Header, payload []byte) (wallet.Event, error)
}

type metricsRecorder interface {
	WebhookEvent(processor string, eventType string, outcome string)
}

// Errors that mean the callback disagrees with the ledger.
// They are logged for investigation and the callback is acknowledged
var anomalies = []error{
	apperrors.ErrTransactionConflict,
	apperrors.ErrTransactionNotFound,
	apperrors.ErrTransactionNotRefundable,
	apperrors.ErrPayoutConflict,
	apperrors.ErrPayoutNotFound,
	apperrors.ErrBalanceInsufficient,
	apperrors.ErrBalancePendingInsufficient,
	apperrors.ErrStarsInsufficient,
}

type Reconciler struct {
	storage repository.Storage
	ledger  *ledger.Ledger
	charges *charge.Service
	payouts *payout.Manager

	card    cardWebhooks
	wallet  walletWebhooks
	metrics metricsRecorder
	logger  logger.Logger
}

func New(storage repository.Storage, charges *charge.Service, payouts *payout.Manager, card cardWebhooks, wallet walletWebhooks, m metricsRecorder, l logger.Logger) *Reconciler {
	return &Reconciler{
		storage: storage,
		ledger:  ledger.NewService(storage, l),
		charges: charges,
		payouts: payouts,
		card:    card,
		wallet:  wallet,
		metrics: m,
		logger:  l,
	}
}

func (r *Reconciler) withStorage(s repository.Storage) *Reconciler {
	bound := *r
	bound.storage = s
	bound.ledger = r.ledger.WithStorage(s)
	bound.charges = r.charges.WithStorage(s)
	bound.payouts = r.payouts.WithStorage(s)
	return &bound
}

// HandleCard verifies and applies a card processor callback.
// Returned error wraps apperrors.ErrInvalidSignature or apperrors.ErrMalformedEvent
// when the callback must be rejected, any other error asks for redelivery
func (r *Reconciler) HandleCard(ctx context.Context, payload []byte, signature string) (string, error) {
	ev, err := r.card.ParseWebhook(payload, signature)
	if err != nil {
		r.reject(card.Name, err)
		return metrics.EventRejected, err
	}

	meta := ev.Meta()
	return r.apply(ctx, card.Name, meta.ID, meta.Type, func(bound *Reconciler) (string, error) {
		return bound.applyCard(ctx, ev)
	})
}

// HandleWallet verifies and applies a wallet processor callback, errors as HandleCard
func (r *Reconciler) HandleWallet(ctx context.Context, header http.Header, payload []byte) (string, error) {
	ev, err := r.wallet.ParseWebhook(ctx, header, payload)
	if err != nil {
		r.reject(wallet.Name, err)
		return metrics.EventRejected, err
	}

	meta := ev.Meta()
	return r.apply(ctx, wallet.Name, meta.ID, meta.Type, func(bound *Reconciler) (string, error) {
		return bound.applyWallet(ctx, ev)
	})
}

func (r *Reconciler) reject(processor string, err error) {
	outcome := metrics.EventRejected
	if !errors.Is(err, apperrors.ErrInvalidSignature) && !errors.Is(err, apperrors.ErrMalformedEvent) {
		outcome = metrics.EventError
	}
	r.logger.Warn("Processor callback rejected", "processor", processor, "error", err)
	r.metrics.WebhookEvent(processor, "unknown", outcome)
}

func (r *Reconciler) apply(ctx context.Context, processor string, eventID string, eventType string, fn func(*Reconciler) (string, error)) (string, error) {
	l := r.logger.With("processor", processor, "event_id", eventID, "event_type", eventType)

	var outcome string
	err := r.storage.InTx(ctx, func(s repository.Storage) error {
		recorded, err := s.Event().RecordEvent(ctx, models.ProcessorEvent{Processor: processor, EventID: eventID, EventType: eventType})
		if err != nil {
			return err
		}
		if !recorded {
			outcome = metrics.EventDuplicate
			return nil
		}

		outcome, err = fn(r.withStorage(s))
		if isAnomaly(err) {
			l.Warn("Callback does not match ledger state, acknowledged without changes", "error", err)
			outcome = metrics.EventAnomaly
			return nil
		}
		return err
	})
	if err != nil {
		l.Error("Failed to apply processor callback", "error", err)
		r.metrics.WebhookEvent(processor, eventType, metrics.EventError)
		return metrics.EventError, err
	}

	l.Info("Processor callback handled", "outcome", outcome)
	r.metrics.WebhookEvent(processor, eventType, outcome)
	return outcome, nil
}

func (r *Reconciler) applyCard(ctx context.Context, ev card.Event) (string, error) {
	switch e := ev.(type) {
	case card.PaymentSucceeded:
		return r.finalizeCharge(ctx, card.Name, e.PaymentIntentID, e.TransactionID, models.TransactionCompleted)

	case card.PaymentFailed:
		return r.finalizeCharge(ctx, card.Name, e.PaymentIntentID, e.TransactionID, models.TransactionFailed)

	case card.InvoicePaid:
		tx, err := r.ledger.GetByReference(ctx, card.Name, e.InvoiceID)
		switch {
		case err == nil:
			return r.finalize(ctx, tx, models.TransactionCompleted)
		case !errors.Is(err, apperrors.ErrTransactionNotFound):
			return "", err
		}

		// Invoice of a renewal period
		_, err = r.charges.Renew(ctx, e.SubscriptionID, e.InvoiceID, e.AmountPaid)
		switch {
		case err == nil:
			return metrics.EventApplied, nil
		case errors.Is(err, apperrors.ErrTransactionExists):
			return metrics.EventDuplicate, nil
		default:
			return "", err
		}

	case card.InvoicePaymentFailed:
		tx, err := r.ledger.GetByReference(ctx, card.Name, e.InvoiceID)
		switch {
		case err == nil:
			return r.finalize(ctx, tx, models.TransactionFailed)
		case errors.Is(err, apperrors.ErrTransactionNotFound):
			// Failed renewal, nothing was recorded for it
			return metrics.EventIgnored, nil
		default:
			return "", err
		}

	case card.ChargeRefunded:
		if !e.FullyRefunded {
			r.logger.Warn("Partial refund is not applied to the ledger", "payment_intent", e.PaymentIntentID)
			return metrics.EventAnomaly, nil
		}

		tx, err := r.ledger.GetByReference(ctx, card.Name, e.PaymentIntentID)
		if err != nil {
			return "", err
		}
		_, applied, err := r.ledger.Refund(ctx, tx.ID)
		return appliedOutcome(applied), err

	default:
		return metrics.EventIgnored, nil
	}
}

func (r *Reconciler) applyWallet(ctx context.Context, ev wallet.Event) (string, error) {
	switch e := ev.(type) {
	case wallet.OrderApproved:
		tx, err := r.lookup(ctx, wallet.Name, e.OrderID, e.TransactionID)
		if err != nil {
			return "", err
		}
		_, applied, err := r.charges.CaptureWalletOrder(ctx, tx)
		return appliedOutcome(applied), err

	case wallet.CaptureCompleted:
		return r.finalizeCharge(ctx, wallet.Name, e.OrderID, e.TransactionID, models.TransactionCompleted)

	case wallet.CaptureDenied:
		return r.finalizeCharge(ctx, wallet.Name, e.OrderID, e.TransactionID, models.TransactionFailed)

	case wallet.PayoutItemSucceeded:
		p, err := r.payouts.FindByBatch(ctx, e.BatchID, e.SenderBatchID)
		if err != nil {
			return "", err
		}
		_, applied, err := r.payouts.Complete(ctx, p.ID)
		return appliedOutcome(applied), err

	case wallet.PayoutItemFailed:
		p, err := r.payouts.FindByBatch(ctx, e.BatchID, e.SenderBatchID)
		if err != nil {
			return "", err
		}
		_, applied, err := r.payouts.Fail(ctx, p.ID, e.Reason)
		return appliedOutcome(applied), err

	case wallet.PayoutBatchDenied:
		p, err := r.payouts.FindByBatch(ctx, e.BatchID, e.SenderBatchID)
		if err != nil {
			return "", err
		}
		_, applied, err := r.payouts.Fail(ctx, p.ID, payoutBatchDenied)
		return appliedOutcome(applied), err

	default:
		return metrics.EventIgnored, nil
	}
}

// Charges not opened by the ledger carry no transaction id and are ignored
func (r *Reconciler) finalizeCharge(ctx context.Context, processor string, ref string, transactionID string, outcome string) (string, error) {
	tx, err := r.lookup(ctx, processor, ref, transactionID)
	switch {
	case errors.Is(err, apperrors.ErrTransactionNotFound) && transactionID == "":
		r.logger.Debug("Callback for a charge unknown to the ledger", "processor", processor, "reference", ref)
		return metrics.EventIgnored, nil
	case err != nil:
		return "", err
	}
	return r.finalize(ctx, tx, outcome)
}

func (r *Reconciler) finalize(ctx context.Context, tx models.Transaction, outcome string) (string, error) {
	_, applied, err := r.ledger.Finalize(ctx, tx.ID, outcome)
	return appliedOutcome(applied), err
}

// Find transaction by processor reference, falling back to the transaction id the
// processor echoes back. A callback may outrun storing of the reference
func (r *Reconciler) lookup(ctx context.Context, processor string, ref string, transactionID string) (models.Transaction, error) {
	tx, err := r.ledger.GetByReference(ctx, processor, ref)
	if !errors.Is(err, apperrors.ErrTransactionNotFound) || transactionID == "" {
		return tx, err
	}

	id, parseErr := uuid.Parse(transactionID)
	if parseErr != nil {
		return tx, err
	}
	tx, err = r.ledger.GetTransaction(ctx, id)
	if err != nil {
		return tx, err
	}
	if tx.Processor == nil || *tx.Processor != processor {
		return models.Transaction{}, apperrors.ErrTransactionNotFound
	}
	return tx, nil
}

func appliedOutcome(applied bool) string {
	if applied {
		return metrics.EventApplied
	}
	return metrics.EventDuplicate
}

func isAnomaly(err error) bool {
	for _, target := range anomalies {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
