package wallet

import (
	"encoding/json"
	"fmt"

	"github.com/nkiryanov/creatorledger/internal/apperrors"
)

const (
	EventOrderApproved       = "CHECKOUT.ORDER.APPROVED"
	EventCaptureCompleted    = "PAYMENT.CAPTURE.COMPLETED"
	EventCaptureDenied       = "PAYMENT.CAPTURE.DENIED"
	EventPayoutItemSucceeded = "PAYMENT.PAYOUTS-ITEM.SUCCEEDED"
	EventPayoutBatchDenied   = "PAYMENT.PAYOUTSBATCH.DENIED"
)

// Item callbacks that end the payout unsuccessfully
var payoutItemFailures = map[string]string{
	"PAYMENT.PAYOUTS-ITEM.FAILED":   "FAILED",
	"PAYMENT.PAYOUTS-ITEM.BLOCKED":  "BLOCKED",
	"PAYMENT.PAYOUTS-ITEM.RETURNED": "RETURNED",
	"PAYMENT.PAYOUTS-ITEM.REFUNDED": "REFUNDED",
	"PAYMENT.PAYOUTS-ITEM.DENIED":   "DENIED",
}

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

// Payer approved the order, it has to be captured
type OrderApproved struct {
	EventMeta
	OrderID       string
	TransactionID string
}

type CaptureCompleted struct {
	EventMeta
	CaptureID     string
	OrderID       string
	TransactionID string
}

type CaptureDenied struct {
	EventMeta
	CaptureID     string
	OrderID       string
	TransactionID string
}

// SenderBatchID of payout events echoes PayoutParams.SenderBatchID
type PayoutItemSucceeded struct {
	EventMeta
	BatchID       string
	SenderBatchID string
	ItemID        string
}

type PayoutItemFailed struct {
	EventMeta
	BatchID       string
	SenderBatchID string
	ItemID        string
	Reason        string
}

type PayoutBatchDenied struct {
	EventMeta
	BatchID       string
	SenderBatchID string
}

type Unhandled struct {
	EventMeta
}

type envelope struct {
	ID        string          `json:"id"`
	EventType string          `json:"event_type"`
	Resource  json.RawMessage `json:"resource"`
}

type orderResource struct {
	ID            string `json:"id"`
	PurchaseUnits []struct {
		CustomID string `json:"custom_id"`
	} `json:"purchase_units"`
}

type captureResource struct {
	ID                string `json:"id"`
	CustomID          string `json:"custom_id"`
	SupplementaryData struct {
		RelatedIDs struct {
			OrderID string `json:"order_id"`
		} `json:"related_ids"`
	} `json:"supplementary_data"`
}

type payoutItemResource struct {
	PayoutItemID      string `json:"payout_item_id"`
	PayoutBatchID     string `json:"payout_batch_id"`
	SenderBatchID     string `json:"sender_batch_id"`
	TransactionStatus string `json:"transaction_status"`
	PayoutItem        struct {
		SenderItemID string `json:"sender_item_id"`
	} `json:"payout_item"`
	Errors *struct {
		Name string `json:"name"`
	} `json:"errors"`
}

// Batches carry a single item whose sender item id is the sender batch id
func (r payoutItemResource) senderBatchID() string {
	if r.SenderBatchID != "" {
		return r.SenderBatchID
	}
	return r.PayoutItem.SenderItemID
}

type payoutBatchResource struct {
	BatchHeader struct {
		PayoutBatchID     string `json:"payout_batch_id"`
		SenderBatchHeader struct {
			SenderBatchID string `json:"sender_batch_id"`
		} `json:"sender_batch_header"`
	} `json:"batch_header"`
}

// ParseEvent decodes a verified callback payload
func ParseEvent(payload []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrMalformedEvent, err)
	}
	if env.ID == "" || env.EventType == "" {
		return nil, fmt.Errorf("%w: event id and type are required", apperrors.ErrMalformedEvent)
	}
	meta := EventMeta{ID: env.ID, Type: env.EventType}

	if status, ok := payoutItemFailures[env.EventType]; ok {
		var item payoutItemResource
		if err := decodeResource(env, &item); err != nil {
			return nil, err
		}
		if item.PayoutBatchID == "" {
			return nil, fmt.Errorf("%w: payout batch id is required", apperrors.ErrMalformedEvent)
		}
		errName := ""
		if item.Errors != nil {
			errName = item.Errors.Name
		}
		_, reason := ItemOutcome(status, errName)
		return PayoutItemFailed{
			EventMeta:     meta,
			BatchID:       item.PayoutBatchID,
			SenderBatchID: item.senderBatchID(),
			ItemID:        item.PayoutItemID,
			Reason:        reason,
		}, nil
	}

	switch env.EventType {
	case EventOrderApproved:
		var order orderResource
		if err := decodeResource(env, &order); err != nil {
			return nil, err
		}
		if order.ID == "" {
			return nil, fmt.Errorf("%w: order id is required", apperrors.ErrMalformedEvent)
		}
		approved := OrderApproved{EventMeta: meta, OrderID: order.ID}
		if len(order.PurchaseUnits) > 0 {
			approved.TransactionID = order.PurchaseUnits[0].CustomID
		}
		return approved, nil

	case EventCaptureCompleted, EventCaptureDenied:
		var capture captureResource
		if err := decodeResource(env, &capture); err != nil {
			return nil, err
		}
		orderID := capture.SupplementaryData.RelatedIDs.OrderID
		if orderID == "" {
			return nil, fmt.Errorf("%w: capture is not related to an order", apperrors.ErrMalformedEvent)
		}
		if env.EventType == EventCaptureCompleted {
			return CaptureCompleted{EventMeta: meta, CaptureID: capture.ID, OrderID: orderID, TransactionID: capture.CustomID}, nil
		}
		return CaptureDenied{EventMeta: meta, CaptureID: capture.ID, OrderID: orderID, TransactionID: capture.CustomID}, nil

	case EventPayoutItemSucceeded:
		var item payoutItemResource
		if err := decodeResource(env, &item); err != nil {
			return nil, err
		}
		if item.PayoutBatchID == "" {
			return nil, fmt.Errorf("%w: payout batch id is required", apperrors.ErrMalformedEvent)
		}
		return PayoutItemSucceeded{EventMeta: meta, BatchID: item.PayoutBatchID, SenderBatchID: item.senderBatchID(), ItemID: item.PayoutItemID}, nil

	case EventPayoutBatchDenied:
		var batch payoutBatchResource
		if err := decodeResource(env, &batch); err != nil {
			return nil, err
		}
		if batch.BatchHeader.PayoutBatchID == "" {
			return nil, fmt.Errorf("%w: payout batch id is required", apperrors.ErrMalformedEvent)
		}
		return PayoutBatchDenied{
			EventMeta:     meta,
			BatchID:       batch.BatchHeader.PayoutBatchID,
			SenderBatchID: batch.BatchHeader.SenderBatchHeader.SenderBatchID,
		}, nil

	default:
		return Unhandled{EventMeta: meta}, nil
	}
}

func decodeResource(env envelope, v any) error {
	if len(env.Resource) == 0 {
		return fmt.Errorf("%w: event %s has no resource", apperrors.ErrMalformedEvent, env.ID)
	}
	if err := json.Unmarshal(env.Resource, v); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrMalformedEvent, err)
	}
	return nil
}
