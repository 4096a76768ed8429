package reconciler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/creatorledger/internal/apperrors"
	"github.com/nkiryanov/creatorledger/internal/logger"
	"github.com/nkiryanov/creatorledger/internal/metrics"
	"github.com/nkiryanov/creatorledger/internal/models"
	"github.com/nkiryanov/creatorledger/internal/processor/card"
	"github.com/nkiryanov/creatorledger/internal/processor/wallet"
	"github.com/nkiryanov/creatorledger/internal/repository/postgres"
	"github.com/nkiryanov/creatorledger/internal/service/charge"
	"github.com/nkiryanov/creatorledger/internal/service/eligibility"
	"github.com/nkiryanov/creatorledger/internal/service/ledger"
	"github.com/nkiryanov/creatorledger/internal/service/payout"
	"github.com/nkiryanov/creatorledger/internal/testutil"
)

const webhookSecret = "whsec_test"

type fakeWalletHooks struct{}

func (fakeWalletHooks) ParseWebhook(_ context.Context, _ http.Header, payload []byte) (wallet.Event, error) {
	return wallet.ParseEvent(payload)
}

type fakeWallet struct {
	order     wallet.Order
	batch     wallet.PayoutBatch
	submitErr error
}

func (w *fakeWallet) CreateOrder(_ context.Context, p wallet.OrderParams) (wallet.Order, error) {
	return wallet.Order{ID: "ORDER-" + p.TransactionID}, nil
}

func (w *fakeWallet) CaptureOrder(_ context.Context, _ string, _ string) (wallet.Order, error) {
	return w.order, nil
}

func (w *fakeWallet) CreatePayoutBatch(_ context.Context, _ wallet.PayoutParams) (wallet.PayoutBatch, error) {
	return w.batch, w.submitErr
}

func (w *fakeWallet) GetPayoutBatch(_ context.Context, _ string) (wallet.PayoutBatch, error) {
	return w.batch, nil
}

type allowGate struct{}

func (allowGate) Check(_ context.Context, _ models.User) eligibility.Decision {
	return eligibility.Decision{CanMonetize: true}
}

func amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func cardEvent(id string, typ string, object string) ([]byte, string) {
	payload := []byte(fmt.Sprintf(`{"id":%q,"type":%q,"data":{"object":%s}}`, id, typ, object))
	return payload, card.SignatureHeaderValue([]byte(webhookSecret), time.Now(), payload)
}

func walletEvent(id string, typ string, resource string) []byte {
	return []byte(fmt.Sprintf(`{"id":%q,"event_type":%q,"resource":%s}`, id, typ, resource))
}

type env struct {
	reconciler *Reconciler
	ledger     *ledger.Ledger
	payouts    *payout.Manager
	wallet     *fakeWallet
	creator    models.User
	fan        models.User
}

func TestReconciler(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	withTx := func(t *testing.T, fn func(e env)) {
		testutil.InTx(pg.Pool, t, func(tx pgx.Tx) {
			storage := postgres.NewStorage(tx)
			l := logger.NewNoOpLogger()
			m := metrics.New()

			creator, err := storage.User().GetOrCreateUser(t.Context(), "creator", "creator@example.com")
			require.NoError(t, err)
			creator, err = storage.User().UpdateMonetizationProfile(t.Context(), creator.ID, models.MonetizationProfile{PayoutReceiver: "creator@example.com", PayoutVerified: true})
			require.NoError(t, err)
			fan, err := storage.User().GetOrCreateUser(t.Context(), "fan", "fan@example.com")
			require.NoError(t, err)

			w := &fakeWallet{batch: wallet.PayoutBatch{ID: "BATCH-1", Status: "PENDING"}}
			charges := charge.NewService(charge.Config{}, storage, nil, w, l)
			payouts := payout.NewManager(payout.Config{}, storage, allowGate{}, w, m, l)
			cardClient := card.NewClient(card.Config{WebhookSecret: webhookSecret}, l)

			fn(env{
				reconciler: New(storage, charges, payouts, cardClient, fakeWalletHooks{}, m, l),
				ledger:     ledger.NewService(storage, l),
				payouts:    payouts,
				wallet:     w,
				creator:    creator,
				fan:        fan,
			})
		})
	}

	openTip := func(t *testing.T, e env, processor string, ref string) models.Transaction {
		tx, err := e.ledger.Open(t.Context(), ledger.Entry{
			Kind:              models.TransactionTip,
			BeneficiaryID:     e.creator.ID,
			PayerID:           e.fan.ID,
			Amount:            amount("10"),
			Processor:         processor,
			ExternalReference: ref,
		})
		require.NoError(t, err)
		return tx
	}

	requireAvailable := func(t *testing.T, e env, want string) {
		t.Helper()

		b, err := e.ledger.GetBalance(t.Context(), e.creator.ID)
		require.NoError(t, err)
		require.True(t, b.Available.Equal(amount(want)), "available: want %s, got %s", want, b.Available)
	}

	requireStatus := func(t *testing.T, e env, tx models.Transaction, want string) {
		t.Helper()

		got, err := e.ledger.GetTransaction(t.Context(), tx.ID)
		require.NoError(t, err)
		require.Equal(t, want, got.Status)
	}

	t.Run("card", func(t *testing.T) {
		t.Run("duplicate delivery credits once", func(t *testing.T) {
			withTx(t, func(e env) {
				tx := openTip(t, e, models.ProcessorCard, "pi_1")
				payload, sig := cardEvent("evt_1", card.EventPaymentSucceeded, `{"id":"pi_1"}`)

				outcome, err := e.reconciler.HandleCard(t.Context(), payload, sig)
				require.NoError(t, err)
				require.Equal(t, metrics.EventApplied, outcome)

				outcome, err = e.reconciler.HandleCard(t.Context(), payload, sig)
				require.NoError(t, err)
				require.Equal(t, metrics.EventDuplicate, outcome, "same event id is recorded once")

				payload, sig = cardEvent("evt_2", card.EventPaymentSucceeded, `{"id":"pi_1"}`)
				outcome, err = e.reconciler.HandleCard(t.Context(), payload, sig)
				require.NoError(t, err)
				require.Equal(t, metrics.EventDuplicate, outcome, "redelivery under a new id finds the final transaction")

				requireStatus(t, e, tx, models.TransactionCompleted)
				requireAvailable(t, e, "10")
			})
		})

		t.Run("conflicting outcome is an anomaly", func(t *testing.T) {
			withTx(t, func(e env) {
				tx := openTip(t, e, models.ProcessorCard, "pi_1")
				payload, sig := cardEvent("evt_1", card.EventPaymentFailed, `{"id":"pi_1","last_payment_error":{"code":"card_declined"}}`)
				_, err := e.reconciler.HandleCard(t.Context(), payload, sig)
				require.NoError(t, err)

				payload, sig = cardEvent("evt_2", card.EventPaymentSucceeded, `{"id":"pi_1"}`)
				outcome, err := e.reconciler.HandleCard(t.Context(), payload, sig)

				require.NoError(t, err, "anomaly is acknowledged")
				require.Equal(t, metrics.EventAnomaly, outcome)
				requireStatus(t, e, tx, models.TransactionFailed)
				requireAvailable(t, e, "0")

				outcome, err = e.reconciler.HandleCard(t.Context(), payload, sig)
				require.NoError(t, err)
				require.Equal(t, metrics.EventDuplicate, outcome, "acknowledged anomaly is remembered")
			})
		})

		t.Run("fallback to transaction id from metadata", func(t *testing.T) {
			withTx(t, func(e env) {
				tx := openTip(t, e, models.ProcessorCard, "")
				payload, sig := cardEvent("evt_1", card.EventPaymentSucceeded, fmt.Sprintf(`{"id":"pi_9","metadata":{"transaction_id":%q}}`, tx.ID))

				outcome, err := e.reconciler.HandleCard(t.Context(), payload, sig)

				require.NoError(t, err)
				require.Equal(t, metrics.EventApplied, outcome)
				requireAvailable(t, e, "10")
			})
		})

		t.Run("foreign and unknown charges", func(t *testing.T) {
			withTx(t, func(e env) {
				payload, sig := cardEvent("evt_1", card.EventPaymentSucceeded, `{"id":"pi_foreign"}`)
				outcome, err := e.reconciler.HandleCard(t.Context(), payload, sig)
				require.NoError(t, err)
				require.Equal(t, metrics.EventIgnored, outcome)

				payload, sig = cardEvent("evt_2", card.EventPaymentSucceeded, `{"id":"pi_lost","metadata":{"transaction_id":"8d7e3c1e-7f0c-4d8e-9a55-3b1f2f7e9d10"}}`)
				outcome, err = e.reconciler.HandleCard(t.Context(), payload, sig)
				require.NoError(t, err)
				require.Equal(t, metrics.EventAnomaly, outcome)
			})
		})

		t.Run("unhandled type", func(t *testing.T) {
			withTx(t, func(e env) {
				payload, sig := cardEvent("evt_1", "customer.created", `{"id":"cus_1"}`)

				outcome, err := e.reconciler.HandleCard(t.Context(), payload, sig)

				require.NoError(t, err)
				require.Equal(t, metrics.EventIgnored, outcome)
			})
		})

		t.Run("invalid signature", func(t *testing.T) {
			withTx(t, func(e env) {
				tx := openTip(t, e, models.ProcessorCard, "pi_1")
				payload, _ := cardEvent("evt_1", card.EventPaymentSucceeded, `{"id":"pi_1"}`)
				sig := card.SignatureHeaderValue([]byte("wrong"), time.Now(), payload)

				_, err := e.reconciler.HandleCard(t.Context(), payload, sig)

				require.ErrorIs(t, err, apperrors.ErrInvalidSignature)
				requireStatus(t, e, tx, models.TransactionPending)
			})
		})

		t.Run("malformed payload", func(t *testing.T) {
			withTx(t, func(e env) {
				payload, sig := cardEvent("evt_1", card.EventPaymentSucceeded, `{"metadata":{}}`)

				_, err := e.reconciler.HandleCard(t.Context(), payload, sig)

				require.ErrorIs(t, err, apperrors.ErrMalformedEvent)
			})
		})

		t.Run("subscription invoices", func(t *testing.T) {
			withTx(t, func(e env) {
				first, err := e.ledger.Open(t.Context(), ledger.Entry{
					Kind:                  models.TransactionSubscription,
					BeneficiaryID:         e.creator.ID,
					PayerID:               e.fan.ID,
					Amount:                amount("5"),
					Processor:             models.ProcessorCard,
					ExternalReference:     "in_1",
					SubscriptionReference: "sub_1",
				})
				require.NoError(t, err)

				payload, sig := cardEvent("evt_1", card.EventInvoicePaid, `{"id":"in_1","subscription":"sub_1","amount_paid":500}`)
				outcome, err := e.reconciler.HandleCard(t.Context(), payload, sig)
				require.NoError(t, err)
				require.Equal(t, metrics.EventApplied, outcome)
				requireStatus(t, e, first, models.TransactionCompleted)

				payload, sig = cardEvent("evt_2", card.EventInvoicePaid, `{"id":"in_2","subscription":"sub_1","amount_paid":500}`)
				outcome, err = e.reconciler.HandleCard(t.Context(), payload, sig)
				require.NoError(t, err)
				require.Equal(t, metrics.EventApplied, outcome, "renewal is recorded")

				payload, sig = cardEvent("evt_3", card.EventInvoicePaid, `{"id":"in_2","subscription":"sub_1","amount_paid":500}`)
				outcome, err = e.reconciler.HandleCard(t.Context(), payload, sig)
				require.NoError(t, err)
				require.Equal(t, metrics.EventDuplicate, outcome)

				requireAvailable(t, e, "10")

				payload, sig = cardEvent("evt_4", card.EventInvoicePaid, `{"id":"in_9","subscription":"sub_unknown","amount_paid":500}`)
				outcome, err = e.reconciler.HandleCard(t.Context(), payload, sig)
				require.NoError(t, err)
				require.Equal(t, metrics.EventAnomaly, outcome)
			})
		})

		t.Run("full refund", func(t *testing.T) {
			withTx(t, func(e env) {
				tx := openTip(t, e, models.ProcessorCard, "pi_1")
				_, _, err := e.ledger.Finalize(t.Context(), tx.ID, models.TransactionCompleted)
				require.NoError(t, err)

				payload, sig := cardEvent("evt_1", card.EventChargeRefunded, `{"id":"ch_1","payment_intent":"pi_1","refunded":false}`)
				outcome, err := e.reconciler.HandleCard(t.Context(), payload, sig)
				require.NoError(t, err)
				require.Equal(t, metrics.EventAnomaly, outcome, "partial refund is not applied")
				requireAvailable(t, e, "10")

				payload, sig = cardEvent("evt_2", card.EventChargeRefunded, `{"id":"ch_1","payment_intent":"pi_1","refunded":true}`)
				outcome, err = e.reconciler.HandleCard(t.Context(), payload, sig)
				require.NoError(t, err)
				require.Equal(t, metrics.EventApplied, outcome)
				requireStatus(t, e, tx, models.TransactionRefunded)
				requireAvailable(t, e, "0")
			})
		})
	})

	t.Run("wallet", func(t *testing.T) {
		t.Run("approved order is captured", func(t *testing.T) {
			withTx(t, func(e env) {
				tx := openTip(t, e, models.ProcessorWallet, "ORDER-1")
				e.wallet.order = wallet.Order{ID: "ORDER-1", Status: wallet.OrderCompleted, CaptureID: "CAP-1", CaptureStatus: wallet.CaptureStatusCompleted}

				outcome, err := e.reconciler.HandleWallet(t.Context(), http.Header{}, walletEvent("WH-1", wallet.EventOrderApproved, `{"id":"ORDER-1"}`))
				require.NoError(t, err)
				require.Equal(t, metrics.EventApplied, outcome)
				requireStatus(t, e, tx, models.TransactionCompleted)

				capture := fmt.Sprintf(`{"id":"CAP-1","custom_id":%q,"supplementary_data":{"related_ids":{"order_id":"ORDER-1"}}}`, tx.ID)
				outcome, err = e.reconciler.HandleWallet(t.Context(), http.Header{}, walletEvent("WH-2", wallet.EventCaptureCompleted, capture))
				require.NoError(t, err)
				require.Equal(t, metrics.EventDuplicate, outcome)
				requireAvailable(t, e, "10")
			})
		})

		t.Run("denied capture", func(t *testing.T) {
			withTx(t, func(e env) {
				tx := openTip(t, e, models.ProcessorWallet, "ORDER-1")

				capture := `{"id":"CAP-1","supplementary_data":{"related_ids":{"order_id":"ORDER-1"}}}`
				outcome, err := e.reconciler.HandleWallet(t.Context(), http.Header{}, walletEvent("WH-1", wallet.EventCaptureDenied, capture))

				require.NoError(t, err)
				require.Equal(t, metrics.EventApplied, outcome)
				requireStatus(t, e, tx, models.TransactionFailed)
			})
		})

		submitPayout := func(t *testing.T, e env) models.PayoutRequest {
			_, err := e.ledger.Credit(t.Context(), e.creator.ID, amount("50"))
			require.NoError(t, err)
			p, err := e.payouts.RequestPayout(t.Context(), e.creator.ID, amount("50"))
			require.NoError(t, err)
			p, err = e.payouts.Submit(t.Context(), p.ID)
			require.NoError(t, err)
			require.Equal(t, models.PayoutProcessing, p.Status)
			return p
		}

		t.Run("payout succeeded", func(t *testing.T) {
			withTx(t, func(e env) {
				p := submitPayout(t, e)
				item := `{"payout_item_id":"ITEM-1","payout_batch_id":"BATCH-1","transaction_status":"SUCCESS"}`

				outcome, err := e.reconciler.HandleWallet(t.Context(), http.Header{}, walletEvent("WH-1", wallet.EventPayoutItemSucceeded, item))
				require.NoError(t, err)
				require.Equal(t, metrics.EventApplied, outcome)

				outcome, err = e.reconciler.HandleWallet(t.Context(), http.Header{}, walletEvent("WH-2", wallet.EventPayoutItemSucceeded, item))
				require.NoError(t, err)
				require.Equal(t, metrics.EventDuplicate, outcome)

				got, err := e.payouts.GetPayout(t.Context(), p.ID)
				require.NoError(t, err)
				require.Equal(t, models.PayoutCompleted, got.Status)

				b, err := e.ledger.GetBalance(t.Context(), e.creator.ID)
				require.NoError(t, err)
				require.True(t, b.Available.IsZero())
				require.True(t, b.Pending.IsZero())
			})
		})

		t.Run("payout failed twice restores once", func(t *testing.T) {
			withTx(t, func(e env) {
				p := submitPayout(t, e)
				item := `{"payout_item_id":"ITEM-1","payout_batch_id":"BATCH-1","transaction_status":"FAILED","errors":{"name":"RECEIVER_UNREGISTERED"}}`

				outcome, err := e.reconciler.HandleWallet(t.Context(), http.Header{}, walletEvent("WH-1", "PAYMENT.PAYOUTS-ITEM.FAILED", item))
				require.NoError(t, err)
				require.Equal(t, metrics.EventApplied, outcome)

				batch := `{"batch_header":{"payout_batch_id":"BATCH-1"}}`
				outcome, err = e.reconciler.HandleWallet(t.Context(), http.Header{}, walletEvent("WH-2", wallet.EventPayoutBatchDenied, batch))
				require.NoError(t, err)
				require.Equal(t, metrics.EventDuplicate, outcome)

				got, err := e.payouts.GetPayout(t.Context(), p.ID)
				require.NoError(t, err)
				require.Equal(t, models.PayoutFailed, got.Status)
				require.Equal(t, "failed: RECEIVER_UNREGISTERED", *got.FailureReason)
				requireAvailable(t, e, "50")
			})
		})

		t.Run("payout callback before batch reference is stored", func(t *testing.T) {
			withTx(t, func(e env) {
				_, err := e.ledger.Credit(t.Context(), e.creator.ID, amount("50"))
				require.NoError(t, err)
				p, err := e.payouts.RequestPayout(t.Context(), e.creator.ID, amount("50"))
				require.NoError(t, err)

				// Submission outcome is unknown, the request is claimed without reference
				e.wallet.submitErr = errors.New("connection reset")
				_, err = e.payouts.Submit(t.Context(), p.ID)
				require.ErrorIs(t, err, apperrors.ErrProcessorUnavailable)

				item := fmt.Sprintf(`{"payout_item_id":"ITEM-9","payout_batch_id":"BATCH-9","transaction_status":"SUCCESS","payout_item":{"sender_item_id":%q}}`, p.ID)
				outcome, err := e.reconciler.HandleWallet(t.Context(), http.Header{}, walletEvent("WH-1", wallet.EventPayoutItemSucceeded, item))
				require.NoError(t, err)
				require.Equal(t, metrics.EventApplied, outcome)

				got, err := e.payouts.GetPayout(t.Context(), p.ID)
				require.NoError(t, err)
				require.Equal(t, models.PayoutCompleted, got.Status)
				require.Equal(t, "BATCH-9", *got.ExternalBatchReference)
			})
		})

		t.Run("sender id of a request in another batch is an anomaly", func(t *testing.T) {
			withTx(t, func(e env) {
				p := submitPayout(t, e)
				item := fmt.Sprintf(`{"payout_item_id":"ITEM-9","payout_batch_id":"BATCH-9","transaction_status":"SUCCESS","sender_batch_id":%q}`, p.ID)

				outcome, err := e.reconciler.HandleWallet(t.Context(), http.Header{}, walletEvent("WH-1", wallet.EventPayoutItemSucceeded, item))
				require.NoError(t, err)
				require.Equal(t, metrics.EventAnomaly, outcome)

				got, err := e.payouts.GetPayout(t.Context(), p.ID)
				require.NoError(t, err)
				require.Equal(t, models.PayoutProcessing, got.Status)
			})
		})

		t.Run("unknown batch is an anomaly", func(t *testing.T) {
			withTx(t, func(e env) {
				item := `{"payout_item_id":"ITEM-1","payout_batch_id":"BATCH-UNKNOWN","transaction_status":"SUCCESS"}`

				outcome, err := e.reconciler.HandleWallet(t.Context(), http.Header{}, walletEvent("WH-1", wallet.EventPayoutItemSucceeded, item))

				require.NoError(t, err)
				require.Equal(t, metrics.EventAnomaly, outcome)
			})
		})
	})
}
