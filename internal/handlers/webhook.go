package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/nkiryanov/creatorledger/internal/apperrors"
	"github.com/nkiryanov/creatorledger/internal/handlers/render"
	"github.com/nkiryanov/creatorledger/internal/logger"
	"github.com/nkiryanov/creatorledger/internal/processor/card"
	"github.com/nkiryanov/creatorledger/internal/processor/wallet"
)

// Processors send small JSON documents, anything larger is not a callback
const maxWebhookBody = 1 << 20

// 200 only after the callback was applied and committed (anomalies and unknown types included),
// 400 when it failed verification, 500 asks the processor to redeliver
func writeWebhookResult(w http.ResponseWriter, outcome string, err error, l logger.Logger, processor string) {
	type response struct {
		Outcome string `json:"outcome"`
	}

	switch {
	case err == nil:
		render.JSON(w, response{Outcome: outcome})
	case errors.Is(err, apperrors.ErrInvalidSignature):
		render.ServiceError(w, "Invalid signature", http.StatusBadRequest)
	case errors.Is(err, apperrors.ErrMalformedEvent):
		render.ServiceError(w, "Malformed event", http.StatusBadRequest)
	default:
		l.Error("Failed to handle processor callback", "processor", processor, "error", err)
		render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
	}
}

func readWebhookBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		render.ServiceError(w, "Failed to read callback body", http.StatusBadRequest)
		return nil, false
	}
	return payload, true
}

func handleCardWebhook(webhookService webhookService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload, ok := readWebhookBody(w, r)
		if !ok {
			return
		}

		outcome, err := webhookService.HandleCard(r.Context(), payload, r.Header.Get(card.SignatureHeader))
		writeWebhookResult(w, outcome, err, l, card.Name)
	})
}

func handleWalletWebhook(webhookService webhookService, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		payload, ok := readWebhookBody(w, r)
		if !ok {
			return
		}

		outcome, err := webhookService.HandleWallet(r.Context(), r.Header, payload)
		writeWebhookResult(w, outcome, err, l, wallet.Name)
	})
}
