// Package apiclient is the HTTP transport shared by the payment processor clients.
// Every call is rate limited, bounded by a per attempt timeout and retried with
// exponential backoff while the failure is transient.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"github.com/nkiryanov/creatorledger/internal/logger"
)

const (
	defaultTimeout         = 10 * time.Second
	defaultMaxAttempts     = 3
	defaultInitialInterval = 200 * time.Millisecond
	defaultRatePerSecond   = 20
	defaultBurst           = 10
	defaultRetryAfter      = 5 * time.Second

	maxResponseSize = 1 << 20
)

// Call outcomes reported to Observer
const (
	OutcomeOK        = "ok"
	OutcomeTransient = "transient"
	OutcomeTerminal  = "terminal"
)

type Observer interface {
	ProcessorCall(processor string, outcome string, duration time.Duration)
}

type Config struct {
	Name    string // processor name used in logs and metrics
	BaseURL string

	Timeout         time.Duration // single attempt
	MaxAttempts     int
	InitialInterval time.Duration
	RatePerSecond   float64
	Burst           int

	// Extract the processor error name and message from a non 2xx response body
	DecodeError func(body []byte) (name string, message string)

	Observer   Observer
	HTTPClient *http.Client
}

type Client struct {
	name    string
	baseURL string

	timeout         time.Duration
	maxAttempts     int
	initialInterval time.Duration
	limiter         *rate.Limiter

	decodeError func(body []byte) (string, string)
	observer    Observer
	client      *http.Client
	logger      logger.Logger
}

func New(cfg Config, l logger.Logger) *Client {
	c := &Client{
		name:            cfg.Name,
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		timeout:         cfg.Timeout,
		maxAttempts:     cfg.MaxAttempts,
		initialInterval: cfg.InitialInterval,
		decodeError:     cfg.DecodeError,
		observer:        cfg.Observer,
		client:          cfg.HTTPClient,
		logger:          l.With("processor", cfg.Name),
	}

	if c.timeout <= 0 {
		c.timeout = defaultTimeout
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = defaultMaxAttempts
	}
	if c.initialInterval <= 0 {
		c.initialInterval = defaultInitialInterval
	}
	if c.client == nil {
		c.client = &http.Client{}
	}

	rps, burst := cfg.RatePerSecond, cfg.Burst
	if rps <= 0 {
		rps = defaultRatePerSecond
	}
	if burst <= 0 {
		burst = defaultBurst
	}
	c.limiter = rate.NewLimiter(rate.Limit(rps), burst)

	return c
}

type Request struct {
	Method string
	Path   string
	Header http.Header
	Body   []byte
}

// JSON request with the body marshalled from v
func NewJSONRequest(method string, path string, v any) (Request, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return Request{}, &Error{Code: CodeTerminal, Err: fmt.Errorf("failed to encode request: %w", err)}
	}

	h := http.Header{}
	h.Set("Content-Type", "application/json")
	return Request{Method: method, Path: path, Header: h, Body: body}, nil
}

// Do sends the request and decodes a successful JSON response into out (if not nil)
// Returned errors are always *Error
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initialInterval
	b.MaxElapsedTime = 0 // bounded by attempts

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.maxAttempts-1)), ctx)

	attempt := 0
	err := backoff.RetryNotify(
		func() error {
			attempt++
			return c.attempt(ctx, req, out)
		},
		policy,
		func(err error, next time.Duration) {
			c.logger.Warn("Processor call failed, retrying", "method", req.Method, "path", req.Path, "attempt", attempt, "retry_in", next, "error", err)
		},
	)

	var apiErr *Error
	switch {
	case err == nil:
		return nil
	case errors.As(err, &apiErr):
		return apiErr
	default:
		// Context is done while waiting for the next attempt
		return &Error{Code: CodeTransient, Err: err}
	}
}

func (c *Client) attempt(ctx context.Context, r Request, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return backoff.Permanent(&Error{Code: CodeTransient, Err: fmt.Errorf("rate limiter wait: %w", err)})
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if r.Body != nil {
		body = bytes.NewReader(r.Body)
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, c.baseURL+r.Path, body)
	if err != nil {
		return backoff.Permanent(&Error{Code: CodeTerminal, Err: fmt.Errorf("failed to create request: %w", err)})
	}
	for key, values := range r.Header {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	req.Header.Set("Accept", "application/json")

	started := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		c.observe(OutcomeTransient, started)
		return &Error{Code: CodeTransient, Err: fmt.Errorf("failed to send request: %w", err)}
	}
	defer resp.Body.Close() // nolint:errcheck

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		c.observe(OutcomeTransient, started)
		return &Error{Code: CodeTransient, Status: resp.StatusCode, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		c.observe(OutcomeOK, started)
		if out == nil || len(data) == 0 {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return backoff.Permanent(&Error{Code: CodeTerminal, Status: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)})
		}
		return nil

	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		c.observe(OutcomeTransient, started)
		apiErr := c.newError(CodeTransient, resp.StatusCode, data)
		if resp.StatusCode == http.StatusTooManyRequests {
			apiErr.RetryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		}
		return apiErr

	default:
		c.observe(OutcomeTerminal, started)
		apiErr := c.newError(CodeTerminal, resp.StatusCode, data)
		c.logger.Warn("Processor rejected request", "method", r.Method, "path", r.Path, "status_code", resp.StatusCode, "name", apiErr.Name)
		return backoff.Permanent(apiErr)
	}
}

func (c *Client) newError(code string, status int, body []byte) *Error {
	e := &Error{Code: code, Status: status}
	if c.decodeError != nil {
		e.Name, e.Message = c.decodeError(body)
	}
	return e
}

func (c *Client) observe(outcome string, started time.Time) {
	if c.observer != nil {
		c.observer.ProcessorCall(c.name, outcome, time.Since(started))
	}
}

func parseRetryAfter(header string) time.Duration {
	seconds, err := strconv.Atoi(strings.TrimSpace(header))
	if err != nil || seconds <= 0 {
		return defaultRetryAfter
	}
	return time.Duration(seconds) * time.Second
}
