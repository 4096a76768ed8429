package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/nkiryanov/creatorledger/internal/apperrors"
	"github.com/nkiryanov/creatorledger/internal/models"
)

type BalanceRepo struct {
	DB DBTX
}

const balanceColumns = `creator_id, available, pending, lifetime_earned, last_payout_at, updated_at`

const getBalance = `-- name: GetBalance
SELECT ` + balanceColumns + ` FROM balances
WHERE creator_id = $1
`

func (r *BalanceRepo) GetBalance(ctx context.Context, creatorID uuid.UUID) (models.Balance, error) {
	rows, _ := r.DB.Query(ctx, getBalance, creatorID)
	balance, err := pgx.CollectOneRow(rows, rowToBalance)

	switch {
	case err == nil:
		return balance, nil
	case errors.Is(err, pgx.ErrNoRows):
		return balance, apperrors.ErrBalanceNotFound
	default:
		return balance, fmt.Errorf("db error: %w", err)
	}
}

const creditBalance = `-- name: CreditBalance
INSERT INTO balances AS b (creator_id, available, pending, lifetime_earned, updated_at)
VALUES ($1, $2, 0, $2, now())
ON CONFLICT (creator_id) DO UPDATE
SET available = b.available + EXCLUDED.available,
	lifetime_earned = b.lifetime_earned + EXCLUDED.lifetime_earned,
	updated_at = now()
RETURNING ` + balanceColumns

func (r *BalanceRepo) Credit(ctx context.Context, creatorID uuid.UUID, amount decimal.Decimal) (models.Balance, error) {
	rows, _ := r.DB.Query(ctx, creditBalance, creatorID, amount)
	balance, err := pgx.CollectOneRow(rows, rowToBalance)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return balance, apperrors.ErrUserNotFound
		}

		return balance, fmt.Errorf("db error: %w", err)
	}

	return balance, nil
}

const reserveBalance = `-- name: ReserveBalance
UPDATE balances
SET available = available - $2, pending = pending + $2, updated_at = now()
WHERE creator_id = $1 AND available >= $2
RETURNING ` + balanceColumns

func (r *BalanceRepo) Reserve(ctx context.Context, creatorID uuid.UUID, amount decimal.Decimal) (models.Balance, error) {
	rows, _ := r.DB.Query(ctx, reserveBalance, creatorID, amount)
	return r.collectConditional(ctx, rows, creatorID, apperrors.ErrBalanceInsufficient)
}

const releasePending = `-- name: ReleasePending
UPDATE balances
SET pending = pending - $2,
	available = CASE WHEN $3::boolean THEN available + $2 ELSE available END,
	last_payout_at = CASE WHEN $3::boolean THEN last_payout_at ELSE now() END,
	updated_at = now()
WHERE creator_id = $1 AND pending >= $2
RETURNING ` + balanceColumns

func (r *BalanceRepo) ReleasePending(ctx context.Context, creatorID uuid.UUID, amount decimal.Decimal, restore bool) (models.Balance, error) {
	rows, _ := r.DB.Query(ctx, releasePending, creatorID, amount, restore)
	return r.collectConditional(ctx, rows, creatorID, apperrors.ErrBalancePendingInsufficient)
}

const debitBalance = `-- name: DebitBalance
UPDATE balances
SET available = available - $2, updated_at = now()
WHERE creator_id = $1 AND available >= $2
RETURNING ` + balanceColumns

func (r *BalanceRepo) Debit(ctx context.Context, creatorID uuid.UUID, amount decimal.Decimal) (models.Balance, error) {
	rows, _ := r.DB.Query(ctx, debitBalance, creatorID, amount)
	return r.collectConditional(ctx, rows, creatorID, apperrors.ErrBalanceInsufficient)
}

// Collect the result of a guarded update
// No rows means the guard failed, current balance is returned with guardErr
func (r *BalanceRepo) collectConditional(ctx context.Context, rows pgx.Rows, creatorID uuid.UUID, guardErr error) (models.Balance, error) {
	balance, err := pgx.CollectOneRow(rows, rowToBalance)

	switch {
	case err == nil:
		return balance, nil
	case errors.Is(err, pgx.ErrNoRows):
		balance, err = r.GetBalance(ctx, creatorID)
		switch {
		case err == nil:
			return balance, guardErr
		case errors.Is(err, apperrors.ErrBalanceNotFound):
			return models.Balance{CreatorID: creatorID}, guardErr
		default:
			return balance, err
		}
	default:
		return balance, fmt.Errorf("db error: %w", err)
	}
}

func rowToBalance(row pgx.CollectableRow) (models.Balance, error) {
	var b models.Balance
	err := row.Scan(&b.CreatorID, &b.Available, &b.Pending, &b.LifetimeEarned, &b.LastPayoutAt, &b.UpdatedAt)
	return b, err
}
