package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/nkiryanov/creatorledger/internal/apperrors"
	"github.com/nkiryanov/creatorledger/internal/processor/apiclient"
)

// Transmission headers of a callback, all of them are required
const (
	HeaderAuthAlgo         = "Wallet-Auth-Algo"
	HeaderCertURL          = "Wallet-Cert-Url"
	HeaderTransmissionID   = "Wallet-Transmission-Id"
	HeaderTransmissionSig  = "Wallet-Transmission-Sig"
	HeaderTransmissionTime = "Wallet-Transmission-Time"
)

const verificationSuccess = "SUCCESS"

// VerifyWebhook asks the processor to verify the callback transmission
// Returns apperrors.ErrInvalidSignature if the callback is not authentic and
// apperrors.ErrProcessorUnavailable if the processor could not tell
func (c *Client) VerifyWebhook(ctx context.Context, header http.Header, payload []byte) error {
	body := map[string]any{
		"webhook_id":    c.webhookID,
		"webhook_event": json.RawMessage(payload),
	}
	for key, name := range map[string]string{
		"auth_algo":         HeaderAuthAlgo,
		"cert_url":          HeaderCertURL,
		"transmission_id":   HeaderTransmissionID,
		"transmission_sig":  HeaderTransmissionSig,
		"transmission_time": HeaderTransmissionTime,
	} {
		value := header.Get(name)
		if value == "" {
			return fmt.Errorf("%w: header %s is missing", apperrors.ErrInvalidSignature, name)
		}
		body[key] = value
	}
	if c.webhookID == "" {
		return fmt.Errorf("%w: webhook id is not configured", apperrors.ErrInvalidSignature)
	}
	if !json.Valid(payload) {
		return fmt.Errorf("%w: payload is not json", apperrors.ErrMalformedEvent)
	}

	var resp struct {
		VerificationStatus string `json:"verification_status"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/notifications/verify-webhook-signature", body, "", &resp)

	switch {
	case err == nil && resp.VerificationStatus == verificationSuccess:
		return nil
	case err == nil:
		return fmt.Errorf("%w: verification status %s", apperrors.ErrInvalidSignature, resp.VerificationStatus)
	case apiclient.IsTerminal(err):
		return fmt.Errorf("%w: %v", apperrors.ErrInvalidSignature, err)
	default:
		return fmt.Errorf("%w: %v", apperrors.ErrProcessorUnavailable, err)
	}
}

// Verify and parse a callback
func (c *Client) ParseWebhook(ctx context.Context, header http.Header, payload []byte) (Event, error) {
	if err := c.VerifyWebhook(ctx, header, payload); err != nil {
		return nil, err
	}
	return ParseEvent(payload)
}
