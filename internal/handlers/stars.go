package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nkiryanov/creatorledger/internal/handlers/render"
	"github.com/nkiryanov/creatorledger/internal/handlers/userctx"
	"github.com/nkiryanov/creatorledger/internal/logger"
	"github.com/nkiryanov/creatorledger/internal/money"
	"github.com/nkiryanov/creatorledger/internal/service/stars"
)

func handleStarsWallet(starsService starsService, l logger.Logger) http.Handler {
	type response struct {
		Stars           string `json:"stars"`
		SettlementValue string `json:"settlement_value"`
		StarsPerUnit    string `json:"stars_per_unit"`
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := userctx.FromContext(r.Context())
		if !ok {
			render.ServiceError(w, "Internal service error", http.StatusInternalServerError)
			return
		}

		wallet, err := starsService.GetWallet(r.Context(), user.ID)

		switch err {
		case nil:
			render.JSON(w, response{
				Stars:           starsString(wallet.Stars),
				SettlementValue: money.String(wallet.SettlementValue),
				StarsPerUnit:    wallet.StarsPerUnit.String(),
			})
		default:
			serviceError(w, err, l, "Failed to get stars wallet")
		}
	})
}

func handleStarsPurchase(starsService starsService, l logger.Logger) http.Handler {
	type request struct {
		Amount    decimal.Decimal `json:"amount" validate:"money"`
		Processor string          `json:"processor" validate:"required"`
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

		checkout, err := starsService.Purchase(r.Context(), user, data.Amount, data.Processor)

		switch err {
		case nil:
			render.JSONStatus(w, newCheckoutView(checkout), http.StatusCreated)
		default:
			serviceError(w, err, l, "Failed to start stars purchase")
		}
	})
}

func handleStarsDonate(starsService starsService, l logger.Logger) http.Handler {
	type request struct {
		CreatorID uuid.UUID       `json:"creator_id" validate:"required"`
		Stars     decimal.Decimal `json:"stars" validate:"money"`
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

		t, err := starsService.Donate(r.Context(), user, stars.DonateParams{
			CreatorID: data.CreatorID,
			Stars:     data.Stars,
			VideoID:   data.VideoID,
			StreamID:  data.StreamID,
		})

		switch err {
		case nil:
			render.JSONStatus(w, newTransactionView(t), http.StatusCreated)
		default:
			serviceError(w, err, l, "Failed to donate stars")
		}
	})
}
