package charge

import (
	"context"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/creatorledger/internal/apperrors"
	"github.com/nkiryanov/creatorledger/internal/logger"
	"github.com/nkiryanov/creatorledger/internal/models"
	"github.com/nkiryanov/creatorledger/internal/processor/apiclient"
	"github.com/nkiryanov/creatorledger/internal/processor/card"
	"github.com/nkiryanov/creatorledger/internal/processor/wallet"
	"github.com/nkiryanov/creatorledger/internal/repository"
	"github.com/nkiryanov/creatorledger/internal/repository/postgres"
	"github.com/nkiryanov/creatorledger/internal/service/ledger"
	"github.com/nkiryanov/creatorledger/internal/testutil"
)

type fakeCard struct {
	customers     int
	intents       []card.PaymentIntentParams
	subscriptions []card.SubscriptionParams
	err           error
}

func (c *fakeCard) CreateCustomer(_ context.Context, _ card.CustomerParams) (card.Customer, error) {
	c.customers++
	return card.Customer{ID: "cus_1"}, c.err
}

func (c *fakeCard) CreatePaymentIntent(_ context.Context, p card.PaymentIntentParams) (card.PaymentIntent, error) {
	c.intents = append(c.intents, p)
	return card.PaymentIntent{ID: "pi_" + p.IdempotencyKey, ClientSecret: "secret_1", Status: "requires_payment_method"}, c.err
}

func (c *fakeCard) CreateSubscription(_ context.Context, p card.SubscriptionParams) (card.Subscription, error) {
	c.subscriptions = append(c.subscriptions, p)
	return card.Subscription{
		ID:     "sub_" + p.IdempotencyKey,
		Status: "incomplete",
		LatestInvoice: card.Invoice{
			ID:            "in_" + p.IdempotencyKey,
			PaymentIntent: card.PaymentIntent{ID: "pi_in", ClientSecret: "secret_in"},
		},
	}, c.err
}

type fakeWallet struct {
	order      wallet.Order
	err        error
	captureErr error
	captured   []string
}

func (w *fakeWallet) CreateOrder(_ context.Context, p wallet.OrderParams) (wallet.Order, error) {
	return wallet.Order{ID: "ORDER-" + p.TransactionID, Status: "CREATED", ApproveURL: "https://wallet.test/approve"}, w.err
}

func (w *fakeWallet) CaptureOrder(_ context.Context, orderID string, _ string) (wallet.Order, error) {
	w.captured = append(w.captured, orderID)
	return w.order, w.captureErr
}

func amount(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type env struct {
	service *Service
	ledger  *ledger.Ledger
	storage repository.Storage
	card    *fakeCard
	wallet  *fakeWallet
	creator models.User
	fan     models.User
}

func TestService(t *testing.T) {
	t.Parallel()

	pg := testutil.StartPostgresContainer(t)
	t.Cleanup(pg.Terminate)

	withTx := func(t *testing.T, fn func(e env)) {
		testutil.InTx(pg.Pool, t, func(tx pgx.Tx) {
			storage := postgres.NewStorage(tx)
			l := logger.NewNoOpLogger()

			creator, err := storage.User().GetOrCreateUser(t.Context(), "creator", "creator@example.com")
			require.NoError(t, err)
			fan, err := storage.User().GetOrCreateUser(t.Context(), "fan", "fan@example.com")
			require.NoError(t, err)

			c, w := &fakeCard{}, &fakeWallet{}
			fn(env{
				service: NewService(Config{ApplicationFeeRate: amount("0.10")}, storage, c, w, l),
				ledger:  ledger.NewService(storage, l),
				storage: storage,
				card:    c,
				wallet:  w,
				creator: creator,
				fan:     fan,
			})
		})
	}

	balance := func(t *testing.T, e env) models.Balance {
		b, err := e.ledger.GetBalance(t.Context(), e.creator.ID)
		require.NoError(t, err)
		return b
	}

	t.Run("Tip", func(t *testing.T) {
		t.Run("card payment through platform", func(t *testing.T) {
			withTx(t, func(e env) {
				checkout, err := e.service.Tip(t.Context(), e.fan, TipParams{
					CreatorID: e.creator.ID,
					Amount:    amount("12.50"),
					Processor: models.ProcessorCard,
					VideoID:   "video-1",
				})

				require.NoError(t, err)
				tx := checkout.Transaction
				require.Equal(t, models.TransactionPending, tx.Status)
				require.Equal(t, "secret_1", checkout.ClientSecret)
				require.Equal(t, "pi_"+tx.ID.String(), *tx.ExternalReference)
				require.Equal(t, "video-1", *tx.VideoID)
				require.False(t, tx.DirectPayout)

				require.Len(t, e.card.intents, 1)
				intent := e.card.intents[0]
				require.Empty(t, intent.Destination)
				require.Equal(t, tx.ID.String(), intent.Metadata[card.MetadataTransactionID])
				require.True(t, balance(t, e).Available.IsZero(), "nothing credited before confirmation")
			})
		})

		t.Run("direct split to linked account", func(t *testing.T) {
			withTx(t, func(e env) {
				creator, err := e.storage.User().UpdateMonetizationProfile(t.Context(), e.creator.ID, models.MonetizationProfile{CardAccountID: "acct_1"})
				require.NoError(t, err)

				checkout, err := e.service.Tip(t.Context(), e.fan, TipParams{CreatorID: creator.ID, Amount: amount("12.50"), Processor: models.ProcessorCard})

				require.NoError(t, err)
				require.True(t, checkout.Transaction.DirectPayout)
				require.Equal(t, "acct_1", e.card.intents[0].Destination)
				require.True(t, e.card.intents[0].ApplicationFee.Equal(amount("1.25")))
			})
		})

		t.Run("direct split with zero application fee", func(t *testing.T) {
			withTx(t, func(e env) {
				creator, err := e.storage.User().UpdateMonetizationProfile(t.Context(), e.creator.ID, models.MonetizationProfile{CardAccountID: "acct_1"})
				require.NoError(t, err)
				e.service.feeRate = decimal.Zero

				_, err = e.service.Tip(t.Context(), e.fan, TipParams{CreatorID: creator.ID, Amount: amount("12.50"), Processor: models.ProcessorCard})

				require.NoError(t, err)
				require.True(t, e.card.intents[0].ApplicationFee.IsZero(), "fee: got %s", e.card.intents[0].ApplicationFee)
			})
		})

		t.Run("wallet order", func(t *testing.T) {
			withTx(t, func(e env) {
				checkout, err := e.service.Tip(t.Context(), e.fan, TipParams{CreatorID: e.creator.ID, Amount: amount("5"), Processor: models.ProcessorWallet})

				require.NoError(t, err)
				require.Equal(t, "https://wallet.test/approve", checkout.ApproveURL)
				require.Equal(t, "ORDER-"+checkout.Transaction.ID.String(), *checkout.Transaction.ExternalReference)
			})
		})

		t.Run("self payment", func(t *testing.T) {
			withTx(t, func(e env) {
				_, err := e.service.Tip(t.Context(), e.creator, TipParams{CreatorID: e.creator.ID, Amount: amount("5"), Processor: models.ProcessorCard})

				require.ErrorIs(t, err, apperrors.ErrSelfPayment)
			})
		})

		t.Run("unknown processor", func(t *testing.T) {
			withTx(t, func(e env) {
				_, err := e.service.Tip(t.Context(), e.fan, TipParams{CreatorID: e.creator.ID, Amount: amount("5"), Processor: "cash"})

				require.ErrorIs(t, err, apperrors.ErrUnknownProcessor)
			})
		})

		t.Run("declined charge fails transaction", func(t *testing.T) {
			withTx(t, func(e env) {
				e.card.err = &apiclient.Error{Code: apiclient.CodeTerminal, Status: http.StatusPaymentRequired, Name: "card_declined"}

				_, err := e.service.Tip(t.Context(), e.fan, TipParams{CreatorID: e.creator.ID, Amount: amount("5"), Processor: models.ProcessorCard})

				require.ErrorIs(t, err, apperrors.ErrPaymentDeclined)
				require.Contains(t, err.Error(), "card_declined")

				txs, err := e.ledger.ListTransactions(t.Context(), e.fan.ID, repository.ListTransactionsOpts{})
				require.NoError(t, err)
				require.Len(t, txs, 1)
				require.Equal(t, models.TransactionFailed, txs[0].Status)
			})
		})

		t.Run("unavailable processor", func(t *testing.T) {
			withTx(t, func(e env) {
				e.wallet.err = &apiclient.Error{Code: apiclient.CodeTransient, Status: http.StatusBadGateway}

				_, err := e.service.Tip(t.Context(), e.fan, TipParams{CreatorID: e.creator.ID, Amount: amount("5"), Processor: models.ProcessorWallet})

				require.ErrorIs(t, err, apperrors.ErrProcessorUnavailable)
			})
		})
	})

	t.Run("StarsPurchase", func(t *testing.T) {
		withTx(t, func(e env) {
			checkout, err := e.service.StarsPurchase(t.Context(), e.fan, amount("10"), amount("1000"), models.ProcessorCard)

			require.NoError(t, err)
			tx := checkout.Transaction
			require.Equal(t, models.TransactionStarsPurchase, tx.Kind)
			require.Equal(t, e.fan.ID, tx.BeneficiaryID)
			require.True(t, tx.StarsAmount.Equal(amount("1000")))
			require.Empty(t, e.card.intents[0].Destination)
		})
	})

	t.Run("Subscribe", func(t *testing.T) {
		withTx(t, func(e env) {
			checkout, err := e.service.Subscribe(t.Context(), e.fan, e.creator.ID, amount("4.99"))

			require.NoError(t, err)
			tx := checkout.Transaction
			require.Equal(t, models.TransactionSubscription, tx.Kind)
			require.Equal(t, "in_"+tx.ID.String(), *tx.ExternalReference)
			require.Equal(t, "sub_"+tx.ID.String(), *tx.SubscriptionReference)
			require.Equal(t, "secret_in", checkout.ClientSecret)
			require.Equal(t, "cus_1", e.card.subscriptions[0].Customer)
			require.True(t, e.card.subscriptions[0].FeePercent.Equal(amount("10")))

			fan, err := e.storage.User().GetUserByID(t.Context(), e.fan.ID)
			require.NoError(t, err)
			require.Equal(t, "cus_1", fan.CardCustomerID, "customer is remembered")

			_, err = e.service.Subscribe(t.Context(), fan, e.creator.ID, amount("4.99"))
			require.NoError(t, err)
			require.Equal(t, 1, e.card.customers)
		})
	})

	t.Run("Renew", func(t *testing.T) {
		withTx(t, func(e env) {
			checkout, err := e.service.Subscribe(t.Context(), e.fan, e.creator.ID, amount("4.99"))
			require.NoError(t, err)
			sub := *checkout.Transaction.SubscriptionReference

			tx, err := e.service.Renew(t.Context(), sub, "in_2", amount("4.99"))

			require.NoError(t, err)
			require.Equal(t, models.TransactionCompleted, tx.Status)
			require.Equal(t, e.fan.ID, *tx.PayerID)
			require.True(t, balance(t, e).Available.Equal(amount("4.99")))

			_, err = e.service.Renew(t.Context(), sub, "in_2", amount("4.99"))
			require.ErrorIs(t, err, apperrors.ErrTransactionExists)
			require.True(t, balance(t, e).Available.Equal(amount("4.99")), "renewal credited once")

			_, err = e.service.Renew(t.Context(), "sub_unknown", "in_3", amount("4.99"))
			require.ErrorIs(t, err, apperrors.ErrTransactionNotFound)
		})
	})

	t.Run("CaptureWalletOrder", func(t *testing.T) {
		t.Run("completed capture", func(t *testing.T) {
			withTx(t, func(e env) {
				checkout, err := e.service.Tip(t.Context(), e.fan, TipParams{CreatorID: e.creator.ID, Amount: amount("5"), Processor: models.ProcessorWallet})
				require.NoError(t, err)
				e.wallet.order = wallet.Order{ID: "ORDER", Status: wallet.OrderCompleted, CaptureID: "CAP-1", CaptureStatus: wallet.CaptureStatusCompleted}

				tx, applied, err := e.service.CaptureWalletOrder(t.Context(), checkout.Transaction)

				require.NoError(t, err)
				require.True(t, applied)
				require.Equal(t, models.TransactionCompleted, tx.Status)
				require.True(t, balance(t, e).Available.Equal(amount("5")))

				_, applied, err = e.service.CaptureWalletOrder(t.Context(), tx)
				require.NoError(t, err)
				require.False(t, applied)
				require.Len(t, e.wallet.captured, 1, "final transaction is not captured again")
			})
		})

		t.Run("already captured waits for callback", func(t *testing.T) {
			withTx(t, func(e env) {
				checkout, err := e.service.Tip(t.Context(), e.fan, TipParams{CreatorID: e.creator.ID, Amount: amount("5"), Processor: models.ProcessorWallet})
				require.NoError(t, err)
				e.wallet.captureErr = &apiclient.Error{Code: apiclient.CodeTerminal, Status: http.StatusUnprocessableEntity, Name: "ORDER_ALREADY_CAPTURED"}

				tx, applied, err := e.service.CaptureWalletOrder(t.Context(), checkout.Transaction)

				require.NoError(t, err)
				require.False(t, applied)
				require.Equal(t, models.TransactionPending, tx.Status)
			})
		})

		t.Run("declined capture", func(t *testing.T) {
			withTx(t, func(e env) {
				checkout, err := e.service.Tip(t.Context(), e.fan, TipParams{CreatorID: e.creator.ID, Amount: amount("5"), Processor: models.ProcessorWallet})
				require.NoError(t, err)
				e.wallet.captureErr = &apiclient.Error{Code: apiclient.CodeTerminal, Status: http.StatusUnprocessableEntity, Name: "INSTRUMENT_DECLINED"}

				tx, applied, err := e.service.CaptureWalletOrder(t.Context(), checkout.Transaction)

				require.NoError(t, err)
				require.True(t, applied)
				require.Equal(t, models.TransactionFailed, tx.Status)
			})
		})
	})
}
