package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	TransactionTip           = "tip"
	TransactionSubscription  = "subscription"
	TransactionStarsDonation = "stars_donation"
	TransactionStarsPurchase = "stars_purchase"
	TransactionPayout        = "payout"
)

const (
	TransactionPending   = "pending"
	TransactionCompleted = "completed"
	TransactionFailed    = "failed"
	TransactionRefunded  = "refunded"
)

const (
	ProcessorCard   = "card"
	ProcessorWallet = "wallet"
)

// Transaction is the record of one monetary event
type Transaction struct {
	ID        uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
	Kind      string
	Status    string

	BeneficiaryID uuid.UUID
	PayerID       *uuid.UUID
	VideoID       *string
	StreamID      *string

	SettlementAmount decimal.Decimal
	StarsAmount      *decimal.Decimal

	Processor             *string
	ExternalReference     *string
	SubscriptionReference *string

	// Funds were routed straight to the creator processor account,
	// so completion must not credit the internal balance
	DirectPayout bool

	PayoutRequestID *uuid.UUID
}

func (t Transaction) IsFinal() bool {
	return t.Status != TransactionPending
}

// Whether completion of the transaction credits beneficiary settlement balance
func (t Transaction) CreditsBalance() bool {
	switch t.Kind {
	case TransactionTip, TransactionSubscription:
		return !t.DirectPayout
	case TransactionStarsDonation:
		return true
	default:
		return false
	}
}
