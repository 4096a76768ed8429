package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// User is the local mirror of an externally authenticated identity
type User struct {
	ID         uuid.UUID
	ExternalID string // subject issued by the identity provider
	Email      string
	CreatedAt  time.Time
	Birthdate  *time.Time
	IsAdmin    bool

	// Set by admins and wins over computed eligibility when not nil
	MonetizationOverride *bool

	StarsBalance decimal.Decimal

	PayoutReceiver string // wallet processor receiver, empty if not linked
	PayoutVerified bool
	CardAccountID  string // connected card processor account for direct splits
	CardCustomerID string
}

// Profile fields set by the creator, the receiver verified by an admin
type MonetizationProfile struct {
	Birthdate      *time.Time
	PayoutReceiver string
	PayoutVerified bool
	CardAccountID  string
}
