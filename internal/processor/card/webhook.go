package card

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nkiryanov/creatorledger/internal/apperrors"
)

// Header the processor puts the callback signature into: "t=<unix>,v1=<hex hmac>[,v1=...]"
const SignatureHeader = "Card-Signature"

// VerifySignature checks the HMAC-SHA256 of "<t>.<payload>" against every v1 signature
// and rejects callbacks signed too long ago
func (c *Client) VerifySignature(payload []byte, header string) error {
	if len(c.webhookSecret) == 0 {
		return fmt.Errorf("%w: webhook secret is not configured", apperrors.ErrInvalidSignature)
	}

	var timestamp string
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "t":
			timestamp = kv[1]
		case "v1":
			signatures = append(signatures, kv[1])
		}
	}

	if timestamp == "" || len(signatures) == 0 {
		return fmt.Errorf("%w: timestamp or signature missing", apperrors.ErrInvalidSignature)
	}

	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", apperrors.ErrInvalidSignature)
	}
	age := c.now().Sub(time.Unix(unix, 0))
	if age > c.tolerance || age < -c.tolerance {
		return fmt.Errorf("%w: timestamp outside tolerance", apperrors.ErrInvalidSignature)
	}

	expected := Sign(c.webhookSecret, timestamp, payload)
	for _, sig := range signatures {
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return nil
		}
	}

	return apperrors.ErrInvalidSignature
}

// Verify and parse a callback
func (c *Client) ParseWebhook(payload []byte, header string) (Event, error) {
	if err := c.VerifySignature(payload, header); err != nil {
		return nil, err
	}
	return ParseEvent(payload)
}

// Sign computes the v1 signature, the processor side of VerifySignature
func Sign(secret []byte, timestamp string, payload []byte) string {
	h := hmac.New(sha256.New, secret)
	h.Write([]byte(timestamp))
	h.Write([]byte("."))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// Header value for payload signed at the time
func SignatureHeaderValue(secret []byte, at time.Time, payload []byte) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	return "t=" + ts + ",v1=" + Sign(secret, ts, payload)
}
