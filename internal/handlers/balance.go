package handlers

import (
	"net/http"

	"github.com/nkiryanov/creatorledger/internal/handlers/render"
	"github.com/nkiryanov/creatorledger/internal/handlers/userctx"
	"github.com/nkiryanov/creatorledger/internal/logger"
	"github.com/nkiryanov/creatorledger/internal/models"
	"github.com/nkiryanov/creatorledger/internal/repository"
)

func handleBalance(ledgerService ledgerService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		balance, err := ledgerService.GetBalance(r.Context(), user.ID)

		switch err {
		case nil:
			render.JSON(w, newBalanceView(balance))
		default:
			serviceError(w, err, l, "Failed to get balance")
		}
	})
}

// Transactions where user is beneficiary or payer, newest first
// Query: from, to (RFC 3339, to is exclusive), kind (repeated), limit, offset
func handleListTransactions(ledgerService ledgerService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		q := newQueryParser(r)
		opts := repository.ListTransactionsOpts{
			From: q.time("from"),
			To:   q.time("to"),
			Kinds: q.oneOf("kind",
				models.TransactionTip,
				models.TransactionSubscription,
				models.TransactionStarsDonation,
				models.TransactionStarsPurchase,
				models.TransactionPayout,
			),
			Limit:  q.int("limit", defaultPageLimit, 1, maxPageLimit),
			Offset: q.int("offset", 0, 0, 1<<31-1),
		}
		if q.failed(w) {
			return
		}
		if opts.From != nil && opts.To != nil && !opts.From.Before(*opts.To) {
			render.FieldErrors(w, map[string]string{"to": "Value must be after 'from'"})
			return
		}

		transactions, err := ledgerService.ListTransactions(r.Context(), user.ID, opts)

		switch err {
		case nil:
			render.JSON(w, mapSlice(transactions, newTransactionView))
		default:
			serviceError(w, err, l, "Failed to list transactions")
		}
	})
}

func handleRefund(ledgerService ledgerService, l logger.Logger) http.Handler {
	type response struct {
		Transaction transactionView `json:"transaction"`
		Applied     bool            `json:"applied"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		t, applied, err := ledgerService.Refund(r.Context(), id)

		switch err {
		case nil:
			l.Info("Transaction refunded by admin", "transaction_id", id, "applied", applied)
			render.JSON(w, response{Transaction: newTransactionView(t), Applied: applied})
		default:
			serviceError(w, err, l, "Failed to refund transaction")
		}
	})
}
