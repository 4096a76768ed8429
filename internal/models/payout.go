package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	PayoutPending    = "pending"
	PayoutProcessing = "processing"
	PayoutCompleted  = "completed"
	PayoutFailed     = "failed"
)

type PayoutRequest struct {
	ID        uuid.UUID
	CreatorID uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time

	RequestedAmount   decimal.Decimal
	PlatformFeeAmount decimal.Decimal
	NetAmount         decimal.Decimal // always RequestedAmount - PlatformFeeAmount

	Status                 string
	ExternalBatchReference *string
	FailureReason          *string
	SubmittedAt            *time.Time
	CompletedAt            *time.Time
}

func (p PayoutRequest) IsFinal() bool {
	return p.Status == PayoutCompleted || p.Status == PayoutFailed
}
