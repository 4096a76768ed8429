package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Balance is a creator account in the settlement currency
//
// Pending holds funds reserved by payout requests that are not resolved yet.
// LifetimeEarned only grows.
type Balance struct {
	CreatorID      uuid.UUID
	Available      decimal.Decimal
	Pending        decimal.Decimal
	LifetimeEarned decimal.Decimal
	LastPayoutAt   *time.Time
	UpdatedAt      time.Time
}
