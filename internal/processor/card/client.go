// Package card is the client of the card payment processor.
// Amounts travel in minor units and requests are form encoded.
package card

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/nkiryanov/creatorledger/internal/logger"
	"github.com/nkiryanov/creatorledger/internal/money"
	"github.com/nkiryanov/creatorledger/internal/processor/apiclient"
)

const Name = "card"

const (
	defaultCurrency  = "usd"
	defaultTolerance = 5 * time.Minute
)

type Config struct {
	BaseURL       string
	SecretKey     string
	WebhookSecret string
	Currency      string

	// Product the recurring subscription prices are attached to
	SubscriptionProduct string

	// Maximum age of a signed callback
	SignatureTolerance time.Duration

	Transport apiclient.Config
}

type Client struct {
	api *apiclient.Client

	secretKey     string
	webhookSecret []byte
	currency      string
	product       string
	tolerance     time.Duration

	now func() time.Time
}

func NewClient(cfg Config, l logger.Logger) *Client {
	transport := cfg.Transport
	transport.Name = Name
	transport.BaseURL = cfg.BaseURL
	transport.DecodeError = decodeError

	c := &Client{
		api:           apiclient.New(transport, l),
		secretKey:     cfg.SecretKey,
		webhookSecret: []byte(cfg.WebhookSecret),
		currency:      cfg.Currency,
		product:       cfg.SubscriptionProduct,
		tolerance:     cfg.SignatureTolerance,
		now:           time.Now,
	}

	if c.currency == "" {
		c.currency = defaultCurrency
	}
	if c.tolerance <= 0 {
		c.tolerance = defaultTolerance
	}

	return c
}

type CustomerParams struct {
	Email  string
	UserID string
}

type Customer struct {
	ID string `json:"id"`
}

func (c *Client) CreateCustomer(ctx context.Context, p CustomerParams) (Customer, error) {
	form := url.Values{}
	form.Set("email", p.Email)
	form.Set("metadata[user_id]", p.UserID)

	var customer Customer
	err := c.api.Do(ctx, c.formRequest("/v1/customers", form, "customer-"+p.UserID), &customer)
	return customer, err
}

type PaymentIntentParams struct {
	Amount decimal.Decimal

	// Connected account funds are routed to. Empty keeps funds on the platform
	Destination    string
	ApplicationFee decimal.Decimal

	Metadata       map[string]string
	IdempotencyKey string
}

type PaymentIntent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
}

func (c *Client) CreatePaymentIntent(ctx context.Context, p PaymentIntentParams) (PaymentIntent, error) {
	form := url.Values{}
	form.Set("amount", strconv.FormatInt(money.ToMinor(p.Amount), 10))
	form.Set("currency", c.currency)
	form.Set("automatic_payment_methods[enabled]", "true")
	if p.Destination != "" {
		form.Set("transfer_data[destination]", p.Destination)
		form.Set("application_fee_amount", strconv.FormatInt(money.ToMinor(p.ApplicationFee), 10))
	}
	setMetadata(form, p.Metadata)

	var intent PaymentIntent
	err := c.api.Do(ctx, c.formRequest("/v1/payment_intents", form, p.IdempotencyKey), &intent)
	return intent, err
}

type SubscriptionParams struct {
	Customer string
	Amount   decimal.Decimal // charged every month

	Destination string
	FeePercent  decimal.Decimal

	Metadata       map[string]string
	IdempotencyKey string
}

type Invoice struct {
	ID            string        `json:"id"`
	PaymentIntent PaymentIntent `json:"payment_intent"`
}

type Subscription struct {
	ID            string  `json:"id"`
	Status        string  `json:"status"`
	LatestInvoice Invoice `json:"latest_invoice"`
}

// Subscription is created incomplete, the payer confirms the first invoice
// with the client secret of its payment intent
func (c *Client) CreateSubscription(ctx context.Context, p SubscriptionParams) (Subscription, error) {
	form := url.Values{}
	form.Set("customer", p.Customer)
	form.Set("items[0][price_data][currency]", c.currency)
	form.Set("items[0][price_data][product]", c.product)
	form.Set("items[0][price_data][unit_amount]", strconv.FormatInt(money.ToMinor(p.Amount), 10))
	form.Set("items[0][price_data][recurring][interval]", "month")
	form.Set("payment_behavior", "default_incomplete")
	form.Add("expand[]", "latest_invoice.payment_intent")
	if p.Destination != "" {
		form.Set("transfer_data[destination]", p.Destination)
		form.Set("application_fee_percent", p.FeePercent.StringFixed(2))
	}
	setMetadata(form, p.Metadata)

	var sub Subscription
	err := c.api.Do(ctx, c.formRequest("/v1/subscriptions", form, p.IdempotencyKey), &sub)
	return sub, err
}

func (c *Client) formRequest(path string, form url.Values, idempotencyKey string) apiclient.Request {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+c.secretKey)
	h.Set("Content-Type", "application/x-www-form-urlencoded")
	if idempotencyKey != "" {
		h.Set("Idempotency-Key", idempotencyKey)
	}

	return apiclient.Request{
		Method: http.MethodPost,
		Path:   path,
		Header: h,
		Body:   []byte(form.Encode()),
	}
}

func setMetadata(form url.Values, metadata map[string]string) {
	for k, v := range metadata {
		form.Set("metadata["+k+"]", v)
	}
}

func decodeError(body []byte) (string, string) {
	var resp struct {
		Error struct {
			Type        string `json:"type"`
			Code        string `json:"code"`
			DeclineCode string `json:"decline_code"`
			Message     string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", strings.TrimSpace(string(body))
	}

	name := resp.Error.Code
	switch {
	case resp.Error.DeclineCode != "":
		name = resp.Error.DeclineCode
	case name == "":
		name = resp.Error.Type
	}
	return name, resp.Error.Message
}
