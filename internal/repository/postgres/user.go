package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/nkiryanov/creatorledger/internal/apperrors"
	"github.com/nkiryanov/creatorledger/internal/models"
)

type UserRepo struct {
	DB DBTX
}

const userColumns = `id, external_id, email, created_at, birthdate, is_admin, monetization_override,
	stars_balance, payout_receiver, payout_verified, card_account_id, card_customer_id`

const getOrCreateUser = `-- name: GetOrCreateUser
INSERT INTO users (id, external_id, email)
VALUES ($1, $2, $3)
ON CONFLICT (external_id) DO UPDATE
SET email = CASE WHEN EXCLUDED.email <> '' THEN EXCLUDED.email ELSE users.email END
RETURNING ` + userColumns

func (r *UserRepo) GetOrCreateUser(ctx context.Context, externalID string, email string) (models.User, error) {
	rows, _ := r.DB.Query(ctx, getOrCreateUser, uuid.New(), externalID, email)
	user, err := pgx.CollectOneRow(rows, rowToUser)
	if err != nil {
		return user, fmt.Errorf("db error: %w", err)
	}

	return user, nil
}

const getUserByID = `-- name: GetUserByID
SELECT ` + userColumns + ` FROM users
WHERE id = $1
`

func (r *UserRepo) GetUserByID(ctx context.Context, id uuid.UUID) (models.User, error) {
	rows, _ := r.DB.Query(ctx, getUserByID, id)
	return collectUser(rows)
}

const setMonetizationOverride = `-- name: SetMonetizationOverride
UPDATE users SET monetization_override = $2
WHERE id = $1
RETURNING ` + userColumns

func (r *UserRepo) SetMonetizationOverride(ctx context.Context, id uuid.UUID, override *bool) (models.User, error) {
	rows, _ := r.DB.Query(ctx, setMonetizationOverride, id, override)
	return collectUser(rows)
}

const updateMonetizationProfile = `-- name: UpdateMonetizationProfile
UPDATE users
SET birthdate = $2, payout_receiver = $3, payout_verified = $4, card_account_id = $5
WHERE id = $1
RETURNING ` + userColumns

func (r *UserRepo) UpdateMonetizationProfile(ctx context.Context, id uuid.UUID, p models.MonetizationProfile) (models.User, error) {
	rows, _ := r.DB.Query(ctx, updateMonetizationProfile, id, p.Birthdate, p.PayoutReceiver, p.PayoutVerified, p.CardAccountID)
	return collectUser(rows)
}

const setCardCustomer = `-- name: SetCardCustomer
UPDATE users SET card_customer_id = $2
WHERE id = $1
RETURNING ` + userColumns

func (r *UserRepo) SetCardCustomer(ctx context.Context, id uuid.UUID, customerID string) (models.User, error) {
	rows, _ := r.DB.Query(ctx, setCardCustomer, id, customerID)
	return collectUser(rows)
}

const creditStars = `-- name: CreditStars
UPDATE users SET stars_balance = stars_balance + $2
WHERE id = $1
RETURNING ` + userColumns

func (r *UserRepo) CreditStars(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (models.User, error) {
	rows, _ := r.DB.Query(ctx, creditStars, id, amount)
	return collectUser(rows)
}

const debitStars = `-- name: DebitStars
UPDATE users SET stars_balance = stars_balance - $2
WHERE id = $1 AND stars_balance >= $2
RETURNING ` + userColumns

// Debit stars in one conditional statement
// If nothing updated tells apart missing user and insufficient wallet
func (r *UserRepo) DebitStars(ctx context.Context, id uuid.UUID, amount decimal.Decimal) (models.User, error) {
	rows, _ := r.DB.Query(ctx, debitStars, id, amount)
	user, err := collectUser(rows)
	if !errors.Is(err, apperrors.ErrUserNotFound) {
		return user, err
	}

	user, err = r.GetUserByID(ctx, id)
	if err != nil {
		return user, err
	}
	return user, apperrors.ErrStarsInsufficient
}

func collectUser(rows pgx.Rows) (models.User, error) {
	user, err := pgx.CollectOneRow(rows, rowToUser)

	switch {
	case err == nil:
		return user, nil
	case errors.Is(err, pgx.ErrNoRows):
		return user, apperrors.ErrUserNotFound
	default:
		return user, fmt.Errorf("db error: %w", err)
	}
}

func rowToUser(row pgx.CollectableRow) (models.User, error) {
	var u models.User
	err := row.Scan(
		&u.ID, &u.ExternalID, &u.Email, &u.CreatedAt, &u.Birthdate, &u.IsAdmin, &u.MonetizationOverride,
		&u.StarsBalance, &u.PayoutReceiver, &u.PayoutVerified, &u.CardAccountID, &u.CardCustomerID,
	)
	return u, err
}
