package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/nkiryanov/creatorledger/internal/apperrors"
	"github.com/nkiryanov/creatorledger/internal/models"
	"github.com/nkiryanov/creatorledger/internal/repository"
)

type PayoutRepo struct {
	DB DBTX
}

const payoutColumns = `id, creator_id, created_at, updated_at, requested_amount, platform_fee_amount, net_amount,
	status, external_batch_reference, failure_reason, submitted_at, completed_at`

const createPayout = `-- name: CreatePayout
INSERT INTO payout_requests (id, creator_id, created_at, updated_at, requested_amount, platform_fee_amount, net_amount, status)
VALUES ($1, $2, $3, $3, $4, $5, $6, 'pending')
RETURNING ` + payoutColumns

func (r *PayoutRepo) CreatePayout(ctx context.Context, creatorID uuid.UUID, requested decimal.Decimal, fee decimal.Decimal, net decimal.Decimal) (models.PayoutRequest, error) {
	rows, _ := r.DB.Query(ctx, createPayout, uuid.New(), creatorID, time.Now(), requested, fee, net)
	p, err := pgx.CollectOneRow(rows, rowToPayout)
	if err != nil {
		return p, fmt.Errorf("db error: %w", err)
	}

	return p, nil
}

const getPayout = `-- name: GetPayout
SELECT ` + payoutColumns + ` FROM payout_requests
WHERE id = $1
`

func (r *PayoutRepo) GetPayout(ctx context.Context, id uuid.UUID) (models.PayoutRequest, error) {
	rows, _ := r.DB.Query(ctx, getPayout, id)
	return collectPayout(rows)
}

const getPayoutByBatch = `-- name: GetPayoutByBatch
SELECT ` + payoutColumns + ` FROM payout_requests
WHERE external_batch_reference = $1
`

func (r *PayoutRepo) GetPayoutByBatch(ctx context.Context, batchRef string) (models.PayoutRequest, error) {
	rows, _ := r.DB.Query(ctx, getPayoutByBatch, batchRef)
	return collectPayout(rows)
}

const transitPayout = `-- name: TransitPayout
UPDATE payout_requests
SET status = $3,
	external_batch_reference = COALESCE($4, external_batch_reference),
	failure_reason = COALESCE($5, failure_reason),
	submitted_at = COALESCE($6, submitted_at),
	completed_at = COALESCE($7, completed_at),
	updated_at = now()
WHERE id = $1 AND status = $2
RETURNING ` + payoutColumns

func (r *PayoutRepo) TransitPayout(ctx context.Context, id uuid.UUID, from string, to string, upd repository.PayoutUpdate) (models.PayoutRequest, error) {
	rows, _ := r.DB.Query(ctx, transitPayout, id, from, to, upd.ExternalBatchReference, upd.FailureReason, upd.SubmittedAt, upd.CompletedAt)
	p, err := collectPayout(rows)
	if !errors.Is(err, apperrors.ErrPayoutNotFound) {
		return p, err
	}

	p, err = r.GetPayout(ctx, id)
	if err != nil {
		return p, err
	}
	return p, apperrors.ErrPayoutConflict
}

const listPayouts = `-- name: ListPayouts
SELECT ` + payoutColumns + ` FROM payout_requests
WHERE ($1::uuid IS NULL OR creator_id = $1)
	AND (COALESCE(cardinality($2::text[]), 0) = 0 OR status = ANY($2::text[]))
ORDER BY created_at DESC, id DESC
LIMIT $3 OFFSET $4
`

func (r *PayoutRepo) ListPayouts(ctx context.Context, creatorID uuid.UUID, statuses []string, limit int, offset int) ([]models.PayoutRequest, error) {
	var creator *uuid.UUID
	if creatorID != uuid.Nil {
		creator = &creatorID
	}
	if statuses == nil {
		statuses = []string{}
	}
	if limit <= 0 {
		limit = 100
	}

	rows, _ := r.DB.Query(ctx, listPayouts, creator, statuses, limit, offset)
	payouts, err := pgx.CollectRows(rows, rowToPayout)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return payouts, nil
}

const listProcessingPayouts = `-- name: ListProcessingPayouts
SELECT ` + payoutColumns + ` FROM payout_requests
WHERE status = 'processing' AND submitted_at < $1
ORDER BY submitted_at
LIMIT $2
`

func (r *PayoutRepo) ListProcessingPayouts(ctx context.Context, submittedBefore time.Time, limit int) ([]models.PayoutRequest, error) {
	rows, _ := r.DB.Query(ctx, listProcessingPayouts, submittedBefore, limit)
	payouts, err := pgx.CollectRows(rows, rowToPayout)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	return payouts, nil
}

func collectPayout(rows pgx.Rows) (models.PayoutRequest, error) {
	p, err := pgx.CollectOneRow(rows, rowToPayout)

	switch {
	case err == nil:
		return p, nil
	case errors.Is(err, pgx.ErrNoRows):
		return p, apperrors.ErrPayoutNotFound
	default:
		return p, fmt.Errorf("db error: %w", err)
	}
}

func rowToPayout(row pgx.CollectableRow) (models.PayoutRequest, error) {
	var p models.PayoutRequest
	err := row.Scan(
		&p.ID, &p.CreatorID, &p.CreatedAt, &p.UpdatedAt, &p.RequestedAmount, &p.PlatformFeeAmount, &p.NetAmount,
		&p.Status, &p.ExternalBatchReference, &p.FailureReason, &p.SubmittedAt, &p.CompletedAt,
	)
	return p, err
}
