package apiclient

import (
	"errors"
	"fmt"
	"time"
)

const (
	// Worth retrying: network failure, timeout, throttling or processor 5xx
	CodeTransient = "transient"
	// Processor rejected the request: validation, auth, declined payment
	CodeTerminal = "terminal"
)

type Error struct {
	Code    string
	Status  int    // HTTP status, zero if no response received
	Name    string // processor error name, e.g. "card_declined"
	Message string

	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("code: %s, status: %d, error: %v", e.Code, e.Status, e.Err)
	default:
		return fmt.Sprintf("code: %s, status: %d, name: %s, message: %s", e.Code, e.Status, e.Name, e.Message)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

func IsTerminal(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Code == CodeTerminal
}

// Processor error name or empty string
func ErrorName(err error) string {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Name
	}
	return ""
}

// Reason stored with failed records, short and safe to show to the creator
func Reason(err error) string {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		return err.Error()
	}

	switch {
	case apiErr.Name != "" && apiErr.Message != "":
		return apiErr.Name + ": " + apiErr.Message
	case apiErr.Name != "":
		return apiErr.Name
	case apiErr.Message != "":
		return apiErr.Message
	default:
		return fmt.Sprintf("processor responded with status %d", apiErr.Status)
	}
}
