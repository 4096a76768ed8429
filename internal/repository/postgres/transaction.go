package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/nkiryanov/creatorledger/internal/apperrors"
	"github.com/nkiryanov/creatorledger/internal/models"
	"github.com/nkiryanov/creatorledger/internal/repository"
)

type TransactionRepo struct {
	DB DBTX
}

const transactionColumns = `id, created_at, updated_at, kind, status, beneficiary_id, payer_id, video_id, stream_id,
	settlement_amount, stars_amount, processor, external_reference, subscription_reference, direct_payout, payout_request_id`

// Duplicate processor reference is not an error for postgres, nothing is returned instead.
// So the statement is safe inside a larger transaction
const createTransaction = `-- name: CreateTransaction
INSERT INTO transactions (` + transactionColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
ON CONFLICT DO NOTHING
RETURNING ` + transactionColumns

func (r *TransactionRepo) CreateTransaction(
	ctx context.Context,
	kind string,
	beneficiaryID uuid.UUID,
	amount decimal.Decimal,
	opts ...repository.TransactionOption,
) (models.Transaction, error) {
	now := time.Now()

	t := models.Transaction{
		ID:               uuid.New(),
		CreatedAt:        now,
		UpdatedAt:        now,
		Kind:             kind,
		Status:           models.TransactionPending,
		BeneficiaryID:    beneficiaryID,
		SettlementAmount: amount,
	}

	for _, option := range opts {
		option(&t)
	}

	rows, _ := r.DB.Query(ctx, createTransaction,
		t.ID, t.CreatedAt, t.UpdatedAt, t.Kind, t.Status, t.BeneficiaryID, t.PayerID, t.VideoID, t.StreamID,
		t.SettlementAmount, t.StarsAmount, t.Processor, t.ExternalReference, t.SubscriptionReference, t.DirectPayout, t.PayoutRequestID,
	)
	created, err := pgx.CollectOneRow(rows, rowToTransaction)

	switch {
	case err == nil:
		return created, nil
	case errors.Is(err, pgx.ErrNoRows):
		return t, apperrors.ErrTransactionExists
	default:
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return t, apperrors.ErrUserNotFound
		}
		return t, fmt.Errorf("db error: %w", err)
	}
}

const getTransaction = `-- name: GetTransaction
SELECT ` + transactionColumns + ` FROM transactions
WHERE id = $1
`

func (r *TransactionRepo) GetTransaction(ctx context.Context, id uuid.UUID) (models.Transaction, error) {
	rows, _ := r.DB.Query(ctx, getTransaction, id)
	return collectTransaction(rows)
}

const getTransactionByReference = `-- name: GetTransactionByReference
SELECT ` + transactionColumns + ` FROM transactions
WHERE processor = $1 AND external_reference = $2
`

func (r *TransactionRepo) GetTransactionByReference(ctx context.Context, processor string, ref string) (models.Transaction, error) {
	rows, _ := r.DB.Query(ctx, getTransactionByReference, processor, ref)
	return collectTransaction(rows)
}

const getSubscriptionOrigin = `-- name: GetSubscriptionOrigin
SELECT ` + transactionColumns + ` FROM transactions
WHERE processor = $1 AND subscription_reference = $2
ORDER BY created_at, id
LIMIT 1
`

func (r *TransactionRepo) GetSubscriptionOrigin(ctx context.Context, processor string, subscriptionRef string) (models.Transaction, error) {
	rows, _ := r.DB.Query(ctx, getSubscriptionOrigin, processor, subscriptionRef)
	return collectTransaction(rows)
}

const setReferences = `-- name: SetReferences
UPDATE transactions
SET external_reference = $2, subscription_reference = COALESCE($3, subscription_reference), updated_at = now()
WHERE id = $1
RETURNING ` + transactionColumns

func (r *TransactionRepo) SetReferences(ctx context.Context, id uuid.UUID, ref string, subscriptionRef *string) (models.Transaction, error) {
	rows, _ := r.DB.Query(ctx, setReferences, id, ref, subscriptionRef)
	t, err := collectTransaction(rows)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return t, apperrors.ErrTransactionExists
	}
	return t, err
}

const updateTransactionStatus = `-- name: UpdateTransactionStatus
UPDATE transactions
SET status = $3, updated_at = now()
WHERE id = $1 AND status = $2
RETURNING ` + transactionColumns

func (r *TransactionRepo) UpdateStatus(ctx context.Context, id uuid.UUID, from string, to string) (models.Transaction, error) {
	rows, _ := r.DB.Query(ctx, updateTransactionStatus, id, from, to)
	t, err := collectTransaction(rows)
	if !errors.Is(err, apperrors.ErrTransactionNotFound) {
		return t, err
	}

	t, err = r.GetTransaction(ctx, id)
	if err != nil {
		return t, err
	}
	return t, apperrors.ErrTransactionConflict
}

const listTransactions = `-- name: ListTransactions
SELECT ` + transactionColumns + ` FROM transactions
WHERE (beneficiary_id = $1 OR payer_id = $1)
	AND ($2::timestamptz IS NULL OR created_at >= $2)
	AND ($3::timestamptz IS NULL OR created_at < $3)
	AND (COALESCE(cardinality($4::text[]), 0) = 0 OR kind = ANY($4::text[]))
ORDER BY created_at DESC, id DESC
LIMIT $5 OFFSET $6
`

func (r *TransactionRepo) ListTransactions(ctx context.Context, userID uuid.UUID, opts repository.ListTransactionsOpts) ([]models.Transaction, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	kinds := opts.Kinds
	if kinds == nil {
		kinds = []string{}
	}

	rows, _ := r.DB.Query(ctx, listTransactions, userID, opts.From, opts.To, kinds, limit, opts.Offset)
	transactions, err := pgx.CollectRows(rows, rowToTransaction)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return transactions, nil
}

func collectTransaction(rows pgx.Rows) (models.Transaction, error) {
	t, err := pgx.CollectOneRow(rows, rowToTransaction)

	switch {
	case err == nil:
		return t, nil
	case errors.Is(err, pgx.ErrNoRows):
		return t, apperrors.ErrTransactionNotFound
	default:
		return t, fmt.Errorf("db error: %w", err)
	}
}

func rowToTransaction(row pgx.CollectableRow) (models.Transaction, error) {
	var t models.Transaction
	err := row.Scan(
		&t.ID, &t.CreatedAt, &t.UpdatedAt, &t.Kind, &t.Status, &t.BeneficiaryID, &t.PayerID, &t.VideoID, &t.StreamID,
		&t.SettlementAmount, &t.StarsAmount, &t.Processor, &t.ExternalReference, &t.SubscriptionReference, &t.DirectPayout, &t.PayoutRequestID,
	)
	return t, err
}
