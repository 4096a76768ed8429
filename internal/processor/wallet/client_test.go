package wallet

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/creatorledger/internal/logger"
	"github.com/nkiryanov/creatorledger/internal/processor/apiclient"
)

type fakeWallet struct {
	tokenCalls atomic.Int32
	mux        *http.ServeMux
}

// Wallet processor double with token endpoint wired, other routes are added by tests
func newFakeWallet(t *testing.T) (*fakeWallet, *Client) {
	f := &fakeWallet{mux: http.NewServeMux()}
	f.mux.HandleFunc("POST /v1/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		f.tokenCalls.Add(1)
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "client", user)
		require.Equal(t, "secret", pass)
		_, _ = w.Write([]byte(`{"access_token":"token-1","expires_in":3600}`))
	})

	srv := httptest.NewServer(f.mux)
	t.Cleanup(srv.Close)

	c := NewClient(Config{
		BaseURL:      srv.URL,
		ClientID:     "client",
		ClientSecret: "secret",
		WebhookID:    "wh-1",
		Transport:    apiclient.Config{MaxAttempts: 2, InitialInterval: time.Millisecond},
	}, logger.NewNoOpLogger())

	return f, c
}

func decodeBody(t *testing.T, r *http.Request) map[string]any {
	data, err := io.ReadAll(r.Body)
	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, json.Unmarshal(data, &body))
	return body
}

func TestClient_Orders(t *testing.T) {
	f, c := newFakeWallet(t)
	f.mux.HandleFunc("POST /v2/checkout/orders", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer token-1", r.Header.Get("Authorization"))
		require.Equal(t, "tx-1", r.Header.Get("Wallet-Request-Id"))
		body := decodeBody(t, r)
		unit := body["purchase_units"].([]any)[0].(map[string]any)
		require.Equal(t, "tx-1", unit["custom_id"])
		require.Equal(t, map[string]any{"currency_code": "USD", "value": "10.00"}, unit["amount"])

		_, _ = w.Write([]byte(`{"id":"order-1","status":"CREATED","links":[{"href":"https://wallet.example/approve/order-1","rel":"approve"}]}`))
	})
	f.mux.HandleFunc("POST /v2/checkout/orders/order-1/capture", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"order-1","status":"COMPLETED","purchase_units":[{"payments":{"captures":[{"id":"cap-1","status":"COMPLETED"}]}}]}`))
	})

	order, err := c.CreateOrder(t.Context(), OrderParams{Amount: decimal.NewFromInt(10), TransactionID: "tx-1"})
	require.NoError(t, err)
	require.Equal(t, "order-1", order.ID)
	require.Equal(t, "https://wallet.example/approve/order-1", order.ApproveURL)

	captured, err := c.CaptureOrder(t.Context(), "order-1", "tx-1")
	require.NoError(t, err)
	require.Equal(t, OrderCompleted, captured.Status)
	require.Equal(t, "cap-1", captured.CaptureID)
	require.Equal(t, CaptureStatusCompleted, captured.CaptureStatus)

	require.EqualValues(t, 1, f.tokenCalls.Load(), "token must be cached between calls")
}

func TestClient_Payouts(t *testing.T) {
	f, c := newFakeWallet(t)
	f.mux.HandleFunc("POST /v1/payments/payouts", func(w http.ResponseWriter, r *http.Request) {
		body := decodeBody(t, r)
		header := body["sender_batch_header"].(map[string]any)
		require.Equal(t, "payout-1", header["sender_batch_id"])
		item := body["items"].([]any)[0].(map[string]any)
		require.Equal(t, "creator@wallet.example", item["receiver"])
		require.Equal(t, map[string]any{"currency": "USD", "value": "95.00"}, item["amount"])

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"batch_header":{"payout_batch_id":"batch-1","batch_status":"PENDING"}}`))
	})
	f.mux.HandleFunc("GET /v1/payments/payouts/batch-1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"batch_header":{"payout_batch_id":"batch-1","batch_status":"SUCCESS"},"items":[{"payout_item_id":"item-1","transaction_status":"FAILED","errors":{"name":"RECEIVER_UNREGISTERED"}}]}`))
	})

	batch, err := c.CreatePayoutBatch(t.Context(), PayoutParams{
		SenderBatchID: "payout-1",
		Receiver:      "creator@wallet.example",
		Amount:        decimal.NewFromInt(95),
	})
	require.NoError(t, err)
	require.Equal(t, "batch-1", batch.ID)
	outcome, _ := batch.Outcome()
	require.Equal(t, OutcomePending, outcome)

	batch, err = c.GetPayoutBatch(t.Context(), "batch-1")
	require.NoError(t, err)
	outcome, reason := batch.Outcome()
	require.Equal(t, OutcomeFailed, outcome)
	require.Equal(t, "failed: RECEIVER_UNREGISTERED", reason)
}

func TestClient_DuplicateBatchIsTerminal(t *testing.T) {
	f, c := newFakeWallet(t)
	f.mux.HandleFunc("POST /v1/payments/payouts", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"name":"USER_BUSINESS_ERROR","message":"Batch with given sender_batch_id already exists","details":[{"issue":"DUPLICATE_SENDER_BATCH_ID"}]}`))
	})

	_, err := c.CreatePayoutBatch(t.Context(), PayoutParams{SenderBatchID: "payout-1", Amount: decimal.NewFromInt(1)})

	require.True(t, apiclient.IsTerminal(err))
	require.Equal(t, "DUPLICATE_SENDER_BATCH_ID", apiclient.ErrorName(err))
}

func TestClient_TokenResetOnUnauthorized(t *testing.T) {
	f, c := newFakeWallet(t)
	f.mux.HandleFunc("GET /v1/payments/payouts/batch-1", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := c.GetPayoutBatch(t.Context(), "batch-1")
	require.Error(t, err)
	_, err = c.GetPayoutBatch(t.Context(), "batch-1")
	require.Error(t, err)

	require.EqualValues(t, 2, f.tokenCalls.Load(), "rejected token must be requested again")
}

func TestItemOutcome(t *testing.T) {
	tests := []struct {
		status  string
		outcome string
	}{
		{"SUCCESS", OutcomeCompleted},
		{"FAILED", OutcomeFailed},
		{"RETURNED", OutcomeFailed},
		{"BLOCKED", OutcomeFailed},
		{"REFUNDED", OutcomeFailed},
		{"UNCLAIMED", OutcomePending},
		{"PENDING", OutcomePending},
		{"ONHOLD", OutcomePending},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			outcome, _ := ItemOutcome(tt.status, "")

			require.Equal(t, tt.outcome, outcome)
		})
	}

	denied, reason := PayoutBatch{Status: "DENIED"}.Outcome()
	require.Equal(t, OutcomeFailed, denied)
	require.NotEmpty(t, reason)
}
