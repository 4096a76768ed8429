package card

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/creatorledger/internal/logger"
	"github.com/nkiryanov/creatorledger/internal/processor/apiclient"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return NewClient(Config{
		BaseURL:             srv.URL,
		SecretKey:           "sk_test",
		WebhookSecret:       "whsec_test",
		SubscriptionProduct: "prod_creator",
		Transport:           apiclient.Config{MaxAttempts: 2, InitialInterval: time.Millisecond},
	}, logger.NewNoOpLogger())
}

func TestClient_CreatePaymentIntent(t *testing.T) {
	t.Run("platform charge", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			require.Equal(t, "/v1/payment_intents", r.URL.Path)
			require.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
			require.Equal(t, "tx-1", r.Header.Get("Idempotency-Key"))
			require.NoError(t, r.ParseForm())
			require.Equal(t, "1050", r.PostForm.Get("amount"))
			require.Equal(t, "usd", r.PostForm.Get("currency"))
			require.Equal(t, "tx-1", r.PostForm.Get("metadata[transaction_id]"))
			require.Empty(t, r.PostForm.Get("transfer_data[destination]"))

			_, _ = w.Write([]byte(`{"id":"pi_1","client_secret":"pi_1_secret","status":"requires_payment_method"}`))
		})

		intent, err := c.CreatePaymentIntent(t.Context(), PaymentIntentParams{
			Amount:         decimal.RequireFromString("10.50"),
			Metadata:       map[string]string{MetadataTransactionID: "tx-1"},
			IdempotencyKey: "tx-1",
		})

		require.NoError(t, err)
		require.Equal(t, "pi_1", intent.ID)
		require.Equal(t, "pi_1_secret", intent.ClientSecret)
	})

	t.Run("direct split", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseForm())
			require.Equal(t, "acct_1", r.PostForm.Get("transfer_data[destination]"))
			require.Equal(t, "50", r.PostForm.Get("application_fee_amount"))

			_, _ = w.Write([]byte(`{"id":"pi_2"}`))
		})

		_, err := c.CreatePaymentIntent(t.Context(), PaymentIntentParams{
			Amount:         decimal.NewFromInt(10),
			Destination:    "acct_1",
			ApplicationFee: decimal.RequireFromString("0.50"),
		})

		require.NoError(t, err)
	})

	t.Run("declined", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusPaymentRequired)
			_, _ = w.Write([]byte(`{"error":{"type":"card_error","code":"card_declined","decline_code":"insufficient_funds","message":"Your card has insufficient funds."}}`))
		})

		_, err := c.CreatePaymentIntent(t.Context(), PaymentIntentParams{Amount: decimal.NewFromInt(10)})

		require.True(t, apiclient.IsTerminal(err))
		require.Equal(t, "insufficient_funds", apiclient.ErrorName(err))
	})
}

func TestClient_CreateSubscription(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/subscriptions", r.URL.Path)
		require.NoError(t, r.ParseForm())
		require.Equal(t, "cus_1", r.PostForm.Get("customer"))
		require.Equal(t, "prod_creator", r.PostForm.Get("items[0][price_data][product]"))
		require.Equal(t, "500", r.PostForm.Get("items[0][price_data][unit_amount]"))
		require.Equal(t, "month", r.PostForm.Get("items[0][price_data][recurring][interval]"))
		require.Equal(t, "latest_invoice.payment_intent", r.PostForm.Get("expand[]"))

		_, _ = w.Write([]byte(`{"id":"sub_1","status":"incomplete","latest_invoice":{"id":"in_1","payment_intent":{"id":"pi_3","client_secret":"pi_3_secret"}}}`))
	})

	sub, err := c.CreateSubscription(t.Context(), SubscriptionParams{Customer: "cus_1", Amount: decimal.NewFromInt(5)})

	require.NoError(t, err)
	require.Equal(t, "sub_1", sub.ID)
	require.Equal(t, "in_1", sub.LatestInvoice.ID)
	require.Equal(t, "pi_3_secret", sub.LatestInvoice.PaymentIntent.ClientSecret)
}

func TestClient_CreateCustomer(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/customers", r.URL.Path)
		require.NoError(t, r.ParseForm())
		require.Equal(t, "fan@example.com", r.PostForm.Get("email"))
		require.Equal(t, "user-1", r.PostForm.Get("metadata[user_id]"))

		_, _ = w.Write([]byte(`{"id":"cus_1"}`))
	})

	customer, err := c.CreateCustomer(t.Context(), CustomerParams{Email: "fan@example.com", UserID: "user-1"})

	require.NoError(t, err)
	require.Equal(t, "cus_1", customer.ID)
}
