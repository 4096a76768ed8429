package card

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/nkiryanov/creatorledger/internal/apperrors"
	"github.com/nkiryanov/creatorledger/internal/money"
)

// Callback types the ledger reacts to
const (
	EventPaymentSucceeded     = "payment_intent.succeeded"
	EventPaymentFailed        = "payment_intent.payment_failed"
	EventInvoicePaid          = "invoice.paid"
	EventInvoicePaymentFailed = "invoice.payment_failed"
	EventChargeRefunded       = "charge.refunded"
)

// Metadata key with the ledger transaction id, set on every payment intent the platform creates
const MetadataTransactionID = "transaction_id"

type Event interface {
	Meta() EventMeta
}

type EventMeta struct {
	ID   string
	Type string
}

func (m EventMeta) Meta() EventMeta {
	return m
}

type PaymentSucceeded struct {
	EventMeta
	PaymentIntentID string
	TransactionID   string // empty for intents not created by the ledger
}

type PaymentFailed struct {
	EventMeta
	PaymentIntentID string
	TransactionID   string
	Reason          string
}

type InvoicePaid struct {
	EventMeta
	InvoiceID      string
	SubscriptionID string
	AmountPaid     decimal.Decimal
}

type InvoicePaymentFailed struct {
	EventMeta
	InvoiceID      string
	SubscriptionID string
}

type ChargeRefunded struct {
	EventMeta
	PaymentIntentID string
	FullyRefunded   bool
}

// Acknowledged and ignored
type Unhandled struct {
	EventMeta
}

type envelope struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

type paymentIntentObject struct {
	ID               string            `json:"id"`
	Metadata         map[string]string `json:"metadata"`
	LastPaymentError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

type invoiceObject struct {
	ID           string `json:"id"`
	Subscription string `json:"subscription"`
	AmountPaid   int64  `json:"amount_paid"`
}

type chargeObject struct {
	ID            string `json:"id"`
	PaymentIntent string `json:"payment_intent"`
	Refunded      bool   `json:"refunded"`
}

// ParseEvent decodes a verified callback payload
// Unknown types are returned as Unhandled, known ones with missing identifiers are malformed
func ParseEvent(payload []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrMalformedEvent, err)
	}
	if env.ID == "" || env.Type == "" {
		return nil, fmt.Errorf("%w: event id and type are required", apperrors.ErrMalformedEvent)
	}
	meta := EventMeta{ID: env.ID, Type: env.Type}

	switch env.Type {
	case EventPaymentSucceeded, EventPaymentFailed:
		var pi paymentIntentObject
		if err := decodeObject(env, &pi); err != nil {
			return nil, err
		}
		if pi.ID == "" {
			return nil, fmt.Errorf("%w: payment intent id is required", apperrors.ErrMalformedEvent)
		}

		if env.Type == EventPaymentSucceeded {
			return PaymentSucceeded{EventMeta: meta, PaymentIntentID: pi.ID, TransactionID: pi.Metadata[MetadataTransactionID]}, nil
		}

		failed := PaymentFailed{EventMeta: meta, PaymentIntentID: pi.ID, TransactionID: pi.Metadata[MetadataTransactionID]}
		if pi.LastPaymentError != nil {
			failed.Reason = pi.LastPaymentError.Code
		}
		return failed, nil

	case EventInvoicePaid, EventInvoicePaymentFailed:
		var inv invoiceObject
		if err := decodeObject(env, &inv); err != nil {
			return nil, err
		}
		if inv.ID == "" {
			return nil, fmt.Errorf("%w: invoice id is required", apperrors.ErrMalformedEvent)
		}

		if env.Type == EventInvoicePaid {
			return InvoicePaid{EventMeta: meta, InvoiceID: inv.ID, SubscriptionID: inv.Subscription, AmountPaid: money.FromMinor(inv.AmountPaid)}, nil
		}
		return InvoicePaymentFailed{EventMeta: meta, InvoiceID: inv.ID, SubscriptionID: inv.Subscription}, nil

	case EventChargeRefunded:
		var ch chargeObject
		if err := decodeObject(env, &ch); err != nil {
			return nil, err
		}
		if ch.PaymentIntent == "" {
			return nil, fmt.Errorf("%w: refunded charge has no payment intent", apperrors.ErrMalformedEvent)
		}
		return ChargeRefunded{EventMeta: meta, PaymentIntentID: ch.PaymentIntent, FullyRefunded: ch.Refunded}, nil

	default:
		return Unhandled{EventMeta: meta}, nil
	}
}

func decodeObject(env envelope, v any) error {
	if len(env.Data.Object) == 0 {
		return fmt.Errorf("%w: event %s has no data object", apperrors.ErrMalformedEvent, env.ID)
	}
	if err := json.Unmarshal(env.Data.Object, v); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrMalformedEvent, err)
	}
	return nil
}
