package handlers

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nkiryanov/creatorledger/internal/models"
	"github.com/nkiryanov/creatorledger/internal/money"
	"github.com/nkiryanov/creatorledger/internal/service/charge"
)

// Amounts are rendered as strings with 2 fraction digits so clients never parse them as floats

type balanceView struct {
	Available      string     `json:"available"`
	Pending        string     `json:"pending"`
	LifetimeEarned string     `json:"lifetime_earned"`
	LastPayoutAt   *time.Time `json:"last_payout_at,omitempty"`
}

func newBalanceView(b models.Balance) balanceView {
	return balanceView{
		Available:      money.String(b.Available),
		Pending:        money.String(b.Pending),
		LifetimeEarned: money.String(b.LifetimeEarned),
		LastPayoutAt:   b.LastPayoutAt,
	}
}

type transactionView struct {
	ID                    uuid.UUID  `json:"id"`
	CreatedAt             time.Time  `json:"created_at"`
	UpdatedAt             time.Time  `json:"updated_at"`
	Kind                  string     `json:"kind"`
	Status                string     `json:"status"`
	BeneficiaryID         uuid.UUID  `json:"beneficiary_id"`
	PayerID               *uuid.UUID `json:"payer_id,omitempty"`
	VideoID               *string    `json:"video_id,omitempty"`
	StreamID              *string    `json:"stream_id,omitempty"`
	Amount                string     `json:"amount"`
	Stars                 *string    `json:"stars,omitempty"`
	Processor             *string    `json:"processor,omitempty"`
	ExternalReference     *string    `json:"external_reference,omitempty"`
	SubscriptionReference *string    `json:"subscription_reference,omitempty"`
	DirectPayout          bool       `json:"direct_payout"`
	PayoutRequestID       *uuid.UUID `json:"payout_request_id,omitempty"`
}

func newTransactionView(t models.Transaction) transactionView {
	v := transactionView{
		ID:                    t.ID,
		CreatedAt:             t.CreatedAt,
		UpdatedAt:             t.UpdatedAt,
		Kind:                  t.Kind,
		Status:                t.Status,
		BeneficiaryID:         t.BeneficiaryID,
		PayerID:               t.PayerID,
		VideoID:               t.VideoID,
		StreamID:              t.StreamID,
		Amount:                money.String(t.SettlementAmount),
		Processor:             t.Processor,
		ExternalReference:     t.ExternalReference,
		SubscriptionReference: t.SubscriptionReference,
		DirectPayout:          t.DirectPayout,
		PayoutRequestID:       t.PayoutRequestID,
	}
	if t.StarsAmount != nil {
		stars := starsString(*t.StarsAmount)
		v.Stars = &stars
	}
	return v
}

type payoutView struct {
	ID                     uuid.UUID  `json:"id"`
	CreatedAt              time.Time  `json:"created_at"`
	UpdatedAt              time.Time  `json:"updated_at"`
	Status                 string     `json:"status"`
	RequestedAmount        string     `json:"requested_amount"`
	PlatformFeeAmount      string     `json:"platform_fee_amount"`
	NetAmount              string     `json:"net_amount"`
	ExternalBatchReference *string    `json:"external_batch_reference,omitempty"`
	FailureReason          *string    `json:"failure_reason,omitempty"`
	SubmittedAt            *time.Time `json:"submitted_at,omitempty"`
	CompletedAt            *time.Time `json:"completed_at,omitempty"`
}

func newPayoutView(p models.PayoutRequest) payoutView {
	return payoutView{
		ID:                     p.ID,
		CreatedAt:              p.CreatedAt,
		UpdatedAt:              p.UpdatedAt,
		Status:                 p.Status,
		RequestedAmount:        money.String(p.RequestedAmount),
		PlatformFeeAmount:      money.String(p.PlatformFeeAmount),
		NetAmount:              money.String(p.NetAmount),
		ExternalBatchReference: p.ExternalBatchReference,
		FailureReason:          p.FailureReason,
		SubmittedAt:            p.SubmittedAt,
		CompletedAt:            p.CompletedAt,
	}
}

type checkoutView struct {
	Transaction  transactionView `json:"transaction"`
	ClientSecret string          `json:"client_secret,omitempty"`
	ApproveURL   string          `json:"approve_url,omitempty"`
}

func newCheckoutView(c charge.Checkout) checkoutView {
	return checkoutView{
		Transaction:  newTransactionView(c.Transaction),
		ClientSecret: c.ClientSecret,
		ApproveURL:   c.ApproveURL,
	}
}

func starsString(d decimal.Decimal) string {
	return d.StringFixed(money.Places)
}

func mapSlice[T any, V any](items []T, fn func(T) V) []V {
	views := make([]V, 0, len(items))
	for _, item := range items {
		views = append(views, fn(item))
	}
	return views
}
