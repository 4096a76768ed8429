package wallet

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/creatorledger/internal/apperrors"
)

func transmissionHeaders() http.Header {
	h := http.Header{}
	h.Set(HeaderAuthAlgo, "SHA256withRSA")
	h.Set(HeaderCertURL, "https://wallet.example/cert.pem")
	h.Set(HeaderTransmissionID, "tr-1")
	h.Set(HeaderTransmissionSig, "sig")
	h.Set(HeaderTransmissionTime, "2026-01-10T12:00:00Z")
	return h
}

func TestClient_VerifyWebhook(t *testing.T) {
	payload := []byte(`{"id":"WH-1","event_type":"PAYMENT.CAPTURE.COMPLETED"}`)

	t.Run("verified", func(t *testing.T) {
		f, c := newFakeWallet(t)
		f.mux.HandleFunc("POST /v1/notifications/verify-webhook-signature", func(w http.ResponseWriter, r *http.Request) {
			body := decodeBody(t, r)
			require.Equal(t, "wh-1", body["webhook_id"])
			require.Equal(t, "tr-1", body["transmission_id"])
			require.Equal(t, "WH-1", body["webhook_event"].(map[string]any)["id"])
			_, _ = w.Write([]byte(`{"verification_status":"SUCCESS"}`))
		})

		err := c.VerifyWebhook(t.Context(), transmissionHeaders(), payload)

		require.NoError(t, err)
	})

	t.Run("verification failed", func(t *testing.T) {
		f, c := newFakeWallet(t)
		f.mux.HandleFunc("POST /v1/notifications/verify-webhook-signature", func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"verification_status":"FAILURE"}`))
		})

		err := c.VerifyWebhook(t.Context(), transmissionHeaders(), payload)

		require.ErrorIs(t, err, apperrors.ErrInvalidSignature)
	})

	t.Run("missing header", func(t *testing.T) {
		_, c := newFakeWallet(t)
		h := transmissionHeaders()
		h.Del(HeaderTransmissionSig)

		err := c.VerifyWebhook(t.Context(), h, payload)

		require.ErrorIs(t, err, apperrors.ErrInvalidSignature)
	})

	t.Run("processor unavailable", func(t *testing.T) {
		f, c := newFakeWallet(t)
		f.mux.HandleFunc("POST /v1/notifications/verify-webhook-signature", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})

		err := c.VerifyWebhook(t.Context(), transmissionHeaders(), payload)

		require.ErrorIs(t, err, apperrors.ErrProcessorUnavailable)
	})
}

func TestParseEvent(t *testing.T) {
	t.Run("order approved", func(t *testing.T) {
		event, err := ParseEvent([]byte(`{"id":"WH-1","event_type":"CHECKOUT.ORDER.APPROVED","resource":{"id":"order-1","purchase_units":[{"custom_id":"tx-1"}]}}`))

		require.NoError(t, err)
		require.Equal(t, OrderApproved{EventMeta: EventMeta{ID: "WH-1", Type: EventOrderApproved}, OrderID: "order-1", TransactionID: "tx-1"}, event)
	})

	t.Run("capture completed", func(t *testing.T) {
		event, err := ParseEvent([]byte(`{"id":"WH-2","event_type":"PAYMENT.CAPTURE.COMPLETED","resource":{"id":"cap-1","custom_id":"tx-1","supplementary_data":{"related_ids":{"order_id":"order-1"}}}}`))

		require.NoError(t, err)
		require.Equal(t, CaptureCompleted{EventMeta: EventMeta{ID: "WH-2", Type: EventCaptureCompleted}, CaptureID: "cap-1", OrderID: "order-1", TransactionID: "tx-1"}, event)
	})

	t.Run("payout item failed", func(t *testing.T) {
		event, err := ParseEvent([]byte(`{"id":"WH-3","event_type":"PAYMENT.PAYOUTS-ITEM.RETURNED","resource":{"payout_item_id":"item-1","payout_batch_id":"batch-1","transaction_status":"RETURNED","payout_item":{"sender_item_id":"payout-1"}}}`))

		require.NoError(t, err)
		failed, ok := event.(PayoutItemFailed)
		require.True(t, ok)
		require.Equal(t, "batch-1", failed.BatchID)
		require.Equal(t, "payout-1", failed.SenderBatchID, "taken from the single item")
		require.Equal(t, "returned", failed.Reason)
	})

	t.Run("payout item succeeded", func(t *testing.T) {
		event, err := ParseEvent([]byte(`{"id":"WH-4","event_type":"PAYMENT.PAYOUTS-ITEM.SUCCEEDED","resource":{"payout_item_id":"item-1","payout_batch_id":"batch-1","sender_batch_id":"payout-1"}}`))

		require.NoError(t, err)
		require.Equal(t, PayoutItemSucceeded{EventMeta: EventMeta{ID: "WH-4", Type: EventPayoutItemSucceeded}, BatchID: "batch-1", SenderBatchID: "payout-1", ItemID: "item-1"}, event)
	})

	t.Run("batch denied", func(t *testing.T) {
		event, err := ParseEvent([]byte(`{"id":"WH-5","event_type":"PAYMENT.PAYOUTSBATCH.DENIED","resource":{"batch_header":{"payout_batch_id":"batch-1","sender_batch_header":{"sender_batch_id":"payout-1"}}}}`))

		require.NoError(t, err)
		require.Equal(t, PayoutBatchDenied{EventMeta: EventMeta{ID: "WH-5", Type: EventPayoutBatchDenied}, BatchID: "batch-1", SenderBatchID: "payout-1"}, event)
	})

	t.Run("unhandled", func(t *testing.T) {
		event, err := ParseEvent([]byte(`{"id":"WH-6","event_type":"PAYMENT.PAYOUTS-ITEM.UNCLAIMED","resource":{}}`))

		require.NoError(t, err)
		require.IsType(t, Unhandled{}, event)
	})

	for name, payload := range map[string]string{
		"not json":         `nope`,
		"no type":          `{"id":"WH-7"}`,
		"no resource":      `{"id":"WH-7","event_type":"CHECKOUT.ORDER.APPROVED"}`,
		"capture no order": `{"id":"WH-7","event_type":"PAYMENT.CAPTURE.DENIED","resource":{"id":"cap-1"}}`,
		"item no batch":    `{"id":"WH-7","event_type":"PAYMENT.PAYOUTS-ITEM.FAILED","resource":{"payout_item_id":"item-1"}}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseEvent([]byte(payload))

			require.ErrorIs(t, err, apperrors.ErrMalformedEvent)
		})
	}
}
