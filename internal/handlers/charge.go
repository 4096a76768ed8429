package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nkiryanov/creatorledger/internal/handlers/render"
	"github.com/nkiryanov/creatorledger/internal/handlers/userctx"
	"github.com/nkiryanov/creatorledger/internal/logger"
	"github.com/nkiryanov/creatorledger/internal/service/charge"
)

func handleTip(chargeService chargeService, l logger.Logger) http.Handler {
	type request struct {
		CreatorID uuid.UUID       `json:"creator_id" validate:"required"`
		Amount    decimal.Decimal `json:"amount" validate:"money"`
		Processor string          `json:"processor" validate:"required"`
		VideoID   string          `json:"video_id"`
		StreamID  string          `json:"stream_id"`
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

		checkout, err := chargeService.Tip(r.Context(), user, charge.TipParams{
			CreatorID: data.CreatorID,
			Amount:    data.Amount,
			Processor: data.Processor,
			VideoID:   data.VideoID,
			StreamID:  data.StreamID,
		})

		switch err {
		case nil:
			render.JSONStatus(w, newCheckoutView(checkout), http.StatusCreated)
		default:
			serviceError(w, err, l, "Failed to start tip")
		}
	})
}

// Subscriptions are charged by the card processor only
func handleSubscribe(chargeService chargeService, l logger.Logger) http.Handler {
	type request struct {
		CreatorID uuid.UUID       `json:"creator_id" validate:"required"`
		Amount    decimal.Decimal `json:"amount" validate:"money"`
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

		checkout, err := chargeService.Subscribe(r.Context(), user, data.CreatorID, data.Amount)

		switch err {
		case nil:
			render.JSONStatus(w, newCheckoutView(checkout), http.StatusCreated)
		default:
			serviceError(w, err, l, "Failed to start subscription")
		}
	})
}
