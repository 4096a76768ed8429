package handlers

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/nkiryanov/creatorledger/internal/handlers/render"
	"github.com/nkiryanov/creatorledger/internal/handlers/userctx"
	"github.com/nkiryanov/creatorledger/internal/logger"
	"github.com/nkiryanov/creatorledger/internal/models"
)

func handleListPayouts(payoutService payoutService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		q := newQueryParser(r)
		statuses := q.oneOf("status", models.PayoutPending, models.PayoutProcessing, models.PayoutCompleted, models.PayoutFailed)
		limit := q.int("limit", defaultPageLimit, 1, maxPageLimit)
		offset := q.int("offset", 0, 0, 1<<31-1)
		if q.failed(w) {
			return
		}

		payouts, err := payoutService.ListPayouts(r.Context(), user.ID, statuses, limit, offset)

		switch err {
		case nil:
			render.JSON(w, mapSlice(payouts, newPayoutView))
		default:
			serviceError(w, err, l, "Failed to list payouts")
		}
	})
}

func handleRequestPayout(payoutService payoutService, l logger.Logger) http.Handler {
	type request struct {
		Amount decimal.Decimal `json:"amount" validate:"money"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		p, err := payoutService.RequestPayout(r.Context(), user.ID, data.Amount)

		switch err {
		case nil:
			render.JSONStatus(w, newPayoutView(p), http.StatusCreated)
		default:
			serviceError(w, err, l, "Failed to request payout")
		}
	})
}

// A terminal processor refusal is not an endpoint failure: the request is returned failed with its reason
func handleApprovePayout(payoutService payoutService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		p, err := payoutService.Submit(r.Context(), id)

		switch err {
		case nil:
			render.JSON(w, newPayoutView(p))
		default:
			serviceError(w, err, l, "Failed to submit payout")
		}
	})
}

func handleRejectPayout(payoutService payoutService, l logger.Logger) http.Handler {
	type request struct {
		Reason string `json:"reason" validate:"required"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		data, err := render.BindAndValidate[request](w, r)
		if err != nil {
			return
		}

		p, err := payoutService.Reject(r.Context(), id, data.Reason)

		switch err {
		case nil:
			render.JSON(w, newPayoutView(p))
		default:
			serviceError(w, err, l, "Failed to reject payout")
		}
	})
}
