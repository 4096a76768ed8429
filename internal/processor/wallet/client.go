// Package wallet is the client of the wallet payment processor.
// It accepts wallet payments through approved orders and sends creator payouts in batches.
package wallet

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nkiryanov/creatorledger/internal/logger"
	"github.com/nkiryanov/creatorledger/internal/money"
	"github.com/nkiryanov/creatorledger/internal/processor/apiclient"
)

const Name = "wallet"

const (
	defaultCurrency = "USD"

	// Token is refreshed a bit earlier than the processor expires it
	tokenExpirySlack = time.Minute
)

type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	WebhookID    string
	Currency     string

	Transport apiclient.Config
}

type Client struct {
	api *apiclient.Client

	clientID     string
	clientSecret string
	webhookID    string
	currency     string

	mu           sync.Mutex
	token        string
	tokenExpires time.Time

	now    func() time.Time
	logger logger.Logger
}

func NewClient(cfg Config, l logger.Logger) *Client {
	transport := cfg.Transport
	transport.Name = Name
	transport.BaseURL = cfg.BaseURL
	transport.DecodeError = decodeError

	c := &Client{
		api:          apiclient.New(transport, l),
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		webhookID:    cfg.WebhookID,
		currency:     cfg.Currency,
		now:          time.Now,
		logger:       l.With("processor", Name),
	}
	if c.currency == "" {
		c.currency = defaultCurrency
	}

	return c
}

type Amount struct {
	CurrencyCode string `json:"currency_code,omitempty"`
	Currency     string `json:"currency,omitempty"`
	Value        string `json:"value"`
}

type Link struct {
	Href string `json:"href"`
	Rel  string `json:"rel"`
}

type OrderParams struct {
	Amount        decimal.Decimal
	TransactionID string
}

type Order struct {
	ID            string
	Status        string
	ApproveURL    string
	CaptureID     string
	CaptureStatus string
}

const (
	OrderCompleted         = "COMPLETED"
	CaptureStatusCompleted = "COMPLETED"
)

type orderResponse struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	Links         []Link `json:"links"`
	PurchaseUnits []struct {
		Payments struct {
			Captures []struct {
				ID     string `json:"id"`
				Status string `json:"status"`
			} `json:"captures"`
		} `json:"payments"`
	} `json:"purchase_units"`
}

func (r orderResponse) order() Order {
	o := Order{ID: r.ID, Status: r.Status}
	for _, l := range r.Links {
		if l.Rel == "approve" || l.Rel == "payer-action" {
			o.ApproveURL = l.Href
		}
	}
	if len(r.PurchaseUnits) > 0 && len(r.PurchaseUnits[0].Payments.Captures) > 0 {
		o.CaptureID = r.PurchaseUnits[0].Payments.Captures[0].ID
		o.CaptureStatus = r.PurchaseUnits[0].Payments.Captures[0].Status
	}
	return o
}

// CreateOrder opens a wallet checkout the payer approves at ApproveURL
// The transaction id is the order custom id and the idempotency key
func (c *Client) CreateOrder(ctx context.Context, p OrderParams) (Order, error) {
	body := map[string]any{
		"intent": "CAPTURE",
		"purchase_units": []map[string]any{{
			"reference_id": p.TransactionID,
			"custom_id":    p.TransactionID,
			"amount":       Amount{CurrencyCode: c.currency, Value: money.String(p.Amount)},
		}},
	}

	var resp orderResponse
	if err := c.do(ctx, http.MethodPost, "/v2/checkout/orders", body, p.TransactionID, &resp); err != nil {
		return Order{}, err
	}
	return resp.order(), nil
}

// CaptureOrder takes the money of an approved order
func (c *Client) CaptureOrder(ctx context.Context, orderID string, requestID string) (Order, error) {
	var resp orderResponse
	if err := c.do(ctx, http.MethodPost, "/v2/checkout/orders/"+url.PathEscape(orderID)+"/capture", struct{}{}, requestID, &resp); err != nil {
		return Order{}, err
	}
	return resp.order(), nil
}

type PayoutParams struct {
	// Payout request id. The processor rejects a second batch with the same id
	SenderBatchID string
	Receiver      string
	Amount        decimal.Decimal
	Note          string
}

// Resolution of a payout batch
const (
	OutcomePending   = "pending"
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
)

type PayoutItem struct {
	ItemID string
	Status string
	Error  string
}

type PayoutBatch struct {
	ID     string
	Status string
	Items  []PayoutItem
}

// Outcome maps batch and item statuses on the payout request lifecycle.
// Every batch sent by the ledger holds exactly one item
func (b PayoutBatch) Outcome() (outcome string, reason string) {
	if b.Status == "DENIED" {
		return OutcomeFailed, "payout batch denied"
	}
	if len(b.Items) == 0 {
		return OutcomePending, ""
	}

	item := b.Items[0]
	return ItemOutcome(item.Status, item.Error)
}

func ItemOutcome(status string, errName string) (string, string) {
	switch status {
	case "SUCCESS":
		return OutcomeCompleted, ""
	case "FAILED", "RETURNED", "BLOCKED", "REFUNDED", "REVERSED", "DENIED":
		reason := strings.ToLower(status)
		if errName != "" {
			reason += ": " + errName
		}
		return OutcomeFailed, reason
	default:
		// PENDING, UNCLAIMED, ONHOLD, NEW
		return OutcomePending, ""
	}
}

type payoutBatchResponse struct {
	BatchHeader struct {
		PayoutBatchID string `json:"payout_batch_id"`
		BatchStatus   string `json:"batch_status"`
	} `json:"batch_header"`
	Items []struct {
		PayoutItemID      string `json:"payout_item_id"`
		TransactionStatus string `json:"transaction_status"`
		Errors            *struct {
			Name string `json:"name"`
		} `json:"errors"`
	} `json:"items"`
}

func (r payoutBatchResponse) batch() PayoutBatch {
	b := PayoutBatch{ID: r.BatchHeader.PayoutBatchID, Status: r.BatchHeader.BatchStatus}
	for _, it := range r.Items {
		item := PayoutItem{ItemID: it.PayoutItemID, Status: it.TransactionStatus}
		if it.Errors != nil {
			item.Error = it.Errors.Name
		}
		b.Items = append(b.Items, item)
	}
	return b
}

func (c *Client) CreatePayoutBatch(ctx context.Context, p PayoutParams) (PayoutBatch, error) {
	body := map[string]any{
		"sender_batch_header": map[string]string{
			"sender_batch_id": p.SenderBatchID,
			"email_subject":   "You have a payout",
		},
		"items": []map[string]any{{
			"recipient_type": "EMAIL",
			"receiver":       p.Receiver,
			"sender_item_id": p.SenderBatchID,
			"note":           p.Note,
			"amount":         Amount{Currency: c.currency, Value: money.String(p.Amount)},
		}},
	}

	var resp payoutBatchResponse
	if err := c.do(ctx, http.MethodPost, "/v1/payments/payouts", body, p.SenderBatchID, &resp); err != nil {
		return PayoutBatch{}, err
	}
	return resp.batch(), nil
}

func (c *Client) GetPayoutBatch(ctx context.Context, batchID string) (PayoutBatch, error) {
	var resp payoutBatchResponse
	if err := c.do(ctx, http.MethodGet, "/v1/payments/payouts/"+url.PathEscape(batchID), nil, "", &resp); err != nil {
		return PayoutBatch{}, err
	}
	return resp.batch(), nil
}

func (c *Client) do(ctx context.Context, method string, path string, body any, requestID string, out any) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}

	req := apiclient.Request{Method: method, Path: path, Header: http.Header{}}
	if body != nil {
		req, err = apiclient.NewJSONRequest(method, path, body)
		if err != nil {
			return err
		}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if requestID != "" {
		req.Header.Set("Wallet-Request-Id", requestID)
	}

	err = c.api.Do(ctx, req, out)
	var apiErr *apiclient.Error
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized {
		c.resetToken()
	}
	return err
}

// Client credentials token, cached until it expires
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && c.now().Before(c.tokenExpires) {
		return c.token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")

	h := http.Header{}
	h.Set("Content-Type", "application/x-www-form-urlencoded")
	h.Set("Authorization", "Basic "+basicAuth(c.clientID, c.clientSecret))

	var resp struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int64  `json:"expires_in"`
	}
	err := c.api.Do(ctx, apiclient.Request{Method: http.MethodPost, Path: "/v1/oauth2/token", Header: h, Body: []byte(form.Encode())}, &resp)
	if err != nil {
		c.logger.Error("Failed to obtain wallet access token", "error", err)
		return "", err
	}

	c.token = resp.AccessToken
	c.tokenExpires = c.now().Add(time.Duration(resp.ExpiresIn)*time.Second - tokenExpirySlack)
	return c.token, nil
}

func (c *Client) resetToken() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = ""
}

func basicAuth(user string, password string) string {
	return base64.StdEncoding.EncodeToString([]byte(user + ":" + password))
}

func decodeError(body []byte) (string, string) {
	var resp struct {
		Name    string `json:"name"`
		Message string `json:"message"`
		Error   string `json:"error"`
		Details []struct {
			Issue string `json:"issue"`
		} `json:"details"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", strings.TrimSpace(string(body))
	}

	name := resp.Name
	if len(resp.Details) > 0 && resp.Details[0].Issue != "" {
		name = resp.Details[0].Issue
	}
	if name == "" {
		name = resp.Error
	}
	return name, resp.Message
}
