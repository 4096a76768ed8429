// Package payout manages creator withdrawal requests from reservation until the
// wallet processor settles them.
package payout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nkiryanov/creatorledger/internal/apperrors"
	"github.com/nkiryanov/creatorledger/internal/logger"
	"github.com/nkiryanov/creatorledger/internal/models"
	"github.com/nkiryanov/creatorledger/internal/money"
	"github.com/nkiryanov/creatorledger/internal/processor/apiclient"
	"github.com/nkiryanov/creatorledger/internal/processor/wallet"
	"github.com/nkiryanov/creatorledger/internal/repository"
	"github.com/nkiryanov/creatorledger/internal/service/eligibility"
	"github.com/nkiryanov/creatorledger/internal/service/ledger"
)

type eligibilityGate interface {
	Check(ctx context.Context, user models.User) eligibility.Decision
}

type walletProcessor interface {
	CreatePayoutBatch(ctx context.Context, p wallet.PayoutParams) (wallet.PayoutBatch, error)
	GetPayoutBatch(ctx context.Context, batchID string) (wallet.PayoutBatch, error)
}

type metricsRecorder interface {
	PayoutTransition(status string)
}

// Zero values are used as is: no minimum, no fee
type Config struct {
	MinAmount decimal.Decimal
	FeeRate   decimal.Decimal // fraction of the requested amount, 0.05 is 5%
}

type Manager struct {
	storage repository.Storage
	ledger  *ledger.Ledger

	gate    eligibilityGate
	wallet  walletProcessor
	metrics metricsRecorder

	minAmount decimal.Decimal
	feeRate   decimal.Decimal

	now    func() time.Time
	logger logger.Logger
}

func NewManager(cfg Config, storage repository.Storage, gate eligibilityGate, wallet walletProcessor, m metricsRecorder, l logger.Logger) *Manager {
	return &Manager{
		storage:   storage,
		ledger:    ledger.NewService(storage, l),
		gate:      gate,
		wallet:    wallet,
		metrics:   m,
		minAmount: cfg.MinAmount,
		feeRate:   cfg.FeeRate,
		now:       time.Now,
		logger:    l,
	}
}

// WithStorage returns the manager bound to the storage, usually an opened transaction
func (m *Manager) WithStorage(storage repository.Storage) *Manager {
	bound := *m
	bound.storage = storage
	bound.ledger = m.ledger.WithStorage(storage)
	return &bound
}

// RequestPayout reserves the amount and files a pending request awaiting admin approval
func (m *Manager) RequestPayout(ctx context.Context, creatorID uuid.UUID, amount decimal.Decimal) (models.PayoutRequest, error) {
	var p models.PayoutRequest

	if err := money.Validate(amount); err != nil {
		return p, err
	}
	if amount.LessThan(m.minAmount) {
		return p, fmt.Errorf("%w, minimum %s", apperrors.ErrPayoutBelowMinimum, money.String(m.minAmount))
	}

	user, err := m.storage.User().GetUserByID(ctx, creatorID)
	if err != nil {
		return p, err
	}
	if d := m.gate.Check(ctx, user); !d.CanMonetize {
		return p, fmt.Errorf("%w: %s", apperrors.ErrNotEligible, strings.Join(d.Reasons, ", "))
	}
	if user.PayoutReceiver == "" {
		return p, apperrors.ErrPayoutNoDestination
	}

	fee, net := money.Split(amount, m.feeRate)

	err = m.storage.InTx(ctx, func(s repository.Storage) error {
		if _, err := m.ledger.WithStorage(s).Reserve(ctx, creatorID, amount); err != nil {
			return err
		}

		p, err = s.Payout().CreatePayout(ctx, creatorID, amount, fee, net)
		return err
	})
	if err != nil {
		return p, err
	}

	m.logger.Info("Payout requested", "payout_id", p.ID, "creator_id", creatorID, "amount", amount, "fee", fee)
	m.metrics.PayoutTransition(models.PayoutPending)
	return p, nil
}

// Submit sends an approved request to the wallet processor.
//
// The request is claimed as processing before the call so it is never submitted twice.
// A terminal rejection fails the request at once and restores the reserved funds.
// When the outcome is unknown (transient failure after the claim) the request
// stays processing without batch reference and needs manual reconciliation.
func (m *Manager) Submit(ctx context.Context, id uuid.UUID) (models.PayoutRequest, error) {
	p, err := m.storage.Payout().TransitPayout(ctx, id, models.PayoutPending, models.PayoutProcessing, repository.PayoutUpdate{
		SubmittedAt: ptr(m.now()),
	})
	if err != nil {
		return p, err
	}
	m.metrics.PayoutTransition(models.PayoutProcessing)

	user, err := m.storage.User().GetUserByID(ctx, p.CreatorID)
	if err != nil {
		return p, err
	}

	batch, err := m.wallet.CreatePayoutBatch(ctx, wallet.PayoutParams{
		SenderBatchID: p.ID.String(),
		Receiver:      user.PayoutReceiver,
		Amount:        p.NetAmount,
		Note:          "Creator earnings payout",
	})

	switch {
	case err == nil:
	case apiclient.IsTerminal(err):
		m.logger.Warn("Wallet processor rejected payout", "payout_id", p.ID, "error", err)
		p, _, err = m.Fail(ctx, p.ID, apiclient.Reason(err))
		return p, err
	default:
		m.logger.Error("Payout submission outcome unknown, reconcile manually", "payout_id", p.ID, "error", err)
		return p, fmt.Errorf("%w: %v", apperrors.ErrProcessorUnavailable, err)
	}

	p, err = m.storage.Payout().TransitPayout(ctx, p.ID, models.PayoutProcessing, models.PayoutProcessing, repository.PayoutUpdate{
		ExternalBatchReference: &batch.ID,
	})
	switch {
	case err == nil:
	case errors.Is(err, apperrors.ErrPayoutConflict) && p.IsFinal():
		// A callback settled the request before the call returned
		m.logger.Info("Payout settled before submission returned", "payout_id", p.ID, "batch_id", batch.ID, "status", p.Status)
		return p, nil
	default:
		return p, err
	}
	m.logger.Info("Payout submitted", "payout_id", p.ID, "batch_id", batch.ID, "net", p.NetAmount)

	p, _, err = m.applyOutcome(ctx, p, batch)
	return p, err
}

// Reject fails a request that was not submitted yet and restores the reserved funds
func (m *Manager) Reject(ctx context.Context, id uuid.UUID, reason string) (models.PayoutRequest, error) {
	var p models.PayoutRequest
	err := m.storage.InTx(ctx, func(s repository.Storage) error {
		var err error
		p, err = s.Payout().TransitPayout(ctx, id, models.PayoutPending, models.PayoutFailed, repository.PayoutUpdate{
			FailureReason: &reason,
		})
		if err != nil {
			return err
		}

		_, err = m.ledger.WithStorage(s).Release(ctx, p.CreatorID, p.RequestedAmount, true)
		return err
	})
	if err != nil {
		return p, err
	}

	m.logger.Info("Payout rejected", "payout_id", p.ID, "reason", reason)
	m.metrics.PayoutTransition(models.PayoutFailed)
	return p, nil
}

// Complete settles a processing request: the reserved amount leaves the platform
// and the payout transaction is recorded. Completing a completed request is a no-op
func (m *Manager) Complete(ctx context.Context, id uuid.UUID) (models.PayoutRequest, bool, error) {
	var p models.PayoutRequest
	err := m.storage.InTx(ctx, func(s repository.Storage) error {
		var err error
		p, err = s.Payout().TransitPayout(ctx, id, models.PayoutProcessing, models.PayoutCompleted, repository.PayoutUpdate{
			CompletedAt: ptr(m.now()),
		})
		if err != nil {
			return err
		}

		l := m.ledger.WithStorage(s)
		if _, err = l.Release(ctx, p.CreatorID, p.RequestedAmount, false); err != nil {
			return err
		}

		entry := ledger.Entry{
			Kind:            models.TransactionPayout,
			BeneficiaryID:   p.CreatorID,
			Amount:          p.NetAmount,
			Processor:       models.ProcessorWallet,
			PayoutRequestID: p.ID,
		}
		if p.ExternalBatchReference != nil {
			entry.ExternalReference = *p.ExternalBatchReference
		}
		_, err = l.Record(ctx, entry)
		return err
	})

	switch {
	case err == nil:
	case errors.Is(err, apperrors.ErrPayoutConflict) && p.Status == models.PayoutCompleted:
		return p, false, nil
	default:
		return p, false, err
	}

	m.logger.Info("Payout completed", "payout_id", p.ID, "creator_id", p.CreatorID, "net", p.NetAmount)
	m.metrics.PayoutTransition(models.PayoutCompleted)
	return p, true, nil
}

// Fail reverses a processing request, the reserved amount returns to available.
// Failing a failed request is a no-op so a duplicate failure never credits twice
func (m *Manager) Fail(ctx context.Context, id uuid.UUID, reason string) (models.PayoutRequest, bool, error) {
	var p models.PayoutRequest
	err := m.storage.InTx(ctx, func(s repository.Storage) error {
		var err error
		p, err = s.Payout().TransitPayout(ctx, id, models.PayoutProcessing, models.PayoutFailed, repository.PayoutUpdate{
			FailureReason: &reason,
		})
		if err != nil {
			return err
		}

		_, err = m.ledger.WithStorage(s).Release(ctx, p.CreatorID, p.RequestedAmount, true)
		return err
	})

	switch {
	case err == nil:
	case errors.Is(err, apperrors.ErrPayoutConflict) && p.Status == models.PayoutFailed:
		return p, false, nil
	default:
		return p, false, err
	}

	m.logger.Info("Payout failed", "payout_id", p.ID, "creator_id", p.CreatorID, "reason", reason)
	m.metrics.PayoutTransition(models.PayoutFailed)
	return p, true, nil
}

// Refresh re-queries the processor for a processing request and applies a final batch status.
// Never resubmits the request
func (m *Manager) Refresh(ctx context.Context, p models.PayoutRequest) (models.PayoutRequest, bool, error) {
	if p.Status != models.PayoutProcessing {
		return p, false, nil
	}
	if p.ExternalBatchReference == nil {
		m.logger.Warn("Processing payout has no batch reference, reconcile manually", "payout_id", p.ID, "submitted_at", p.SubmittedAt)
		return p, false, nil
	}

	batch, err := m.wallet.GetPayoutBatch(ctx, *p.ExternalBatchReference)
	if err != nil {
		return p, false, err
	}
	return m.applyOutcome(ctx, p, batch)
}

func (m *Manager) applyOutcome(ctx context.Context, p models.PayoutRequest, batch wallet.PayoutBatch) (models.PayoutRequest, bool, error) {
	outcome, reason := batch.Outcome()
	switch outcome {
	case wallet.OutcomeCompleted:
		return m.Complete(ctx, p.ID)
	case wallet.OutcomeFailed:
		return m.Fail(ctx, p.ID, reason)
	default:
		m.logger.Debug("Payout batch still pending", "payout_id", p.ID, "batch_id", batch.ID, "batch_status", batch.Status)
		return p, false, nil
	}
}

func (m *Manager) GetPayout(ctx context.Context, id uuid.UUID) (models.PayoutRequest, error) {
	return m.storage.Payout().GetPayout(ctx, id)
}

// FindByBatch finds the request a processor callback is about.
// A callback may outrun Submit storing the batch reference. Then the request is
// found by the sender batch id (the request id) and the reference is stored
func (m *Manager) FindByBatch(ctx context.Context, batchRef string, senderBatchID string) (models.PayoutRequest, error) {
	p, err := m.storage.Payout().GetPayoutByBatch(ctx, batchRef)
	if !errors.Is(err, apperrors.ErrPayoutNotFound) || senderBatchID == "" {
		return p, err
	}

	id, parseErr := uuid.Parse(senderBatchID)
	if parseErr != nil {
		return p, err
	}
	p, err = m.storage.Payout().GetPayout(ctx, id)
	switch {
	case err != nil:
		return p, err
	case p.ExternalBatchReference != nil:
		// Submitted under another batch
		return models.PayoutRequest{}, apperrors.ErrPayoutNotFound
	case p.Status != models.PayoutProcessing:
		return p, nil
	}

	m.logger.Info("Payout batch reference taken from callback", "payout_id", p.ID, "batch_id", batchRef)
	return m.storage.Payout().TransitPayout(ctx, p.ID, models.PayoutProcessing, models.PayoutProcessing, repository.PayoutUpdate{
		ExternalBatchReference: &batchRef,
	})
}

// ListPayouts of the creator, uuid.Nil lists every creator
func (m *Manager) ListPayouts(ctx context.Context, creatorID uuid.UUID, statuses []string, limit int, offset int) ([]models.PayoutRequest, error) {
	return m.storage.Payout().ListPayouts(ctx, creatorID, statuses, limit, offset)
}

// ListStale returns processing requests submitted longer than sla ago
func (m *Manager) ListStale(ctx context.Context, sla time.Duration, limit int) ([]models.PayoutRequest, error) {
	return m.storage.Payout().ListProcessingPayouts(ctx, m.now().Add(-sla), limit)
}

func ptr[T any](v T) *T {
	return &v
}
