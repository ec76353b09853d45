package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for common engine error conditions.
var (
	// ErrProfileMissing is returned when a record's profile no longer exists.
	ErrProfileMissing = errors.New("profile missing")

	// ErrRecordNotFound is returned when a pending record id is unknown.
	ErrRecordNotFound = errors.New("pending record not found")

	// ErrInvalidAction is returned for an unrecognized ActOnMissed action.
	ErrInvalidAction = errors.New("invalid action")

	// ErrInvalidInput is returned for malformed control-API input (missing id,
	// bad displayLimit, and similar).
	ErrInvalidInput = errors.New("invalid input")

	// ErrTerminalStatus is returned when an operation targets a record whose
	// status is already terminal for that operation (e.g. postNow on queued).
	ErrTerminalStatus = errors.New("record in terminal status for this action")

	// ErrCircuitOpen is returned when a target's circuit breaker is open; the
	// publish worker treats it as a transient failure (15 min retry).
	ErrCircuitOpen = errors.New("publisher circuit breaker open")
)

// RateLimitError reports that the remote endpoint signalled a rate limit.
// Code, Status and Message mirror the wire shape a Publisher reports back.
type RateLimitError struct {
	Code    string
	Status  int
	Message string
}

func (e *RateLimitError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("rate limited: %s", e.Message)
	}
	return fmt.Sprintf("rate limited: code=%s status=%d", e.Code, e.Status)
}

// TransientPublishError wraps a non-rate-limit failure from the Publisher
// (network errors, 5xx, timeouts). C7 schedules a single retry in 15 min.
type TransientPublishError struct {
	TargetID string
	Err      error
}

func (e *TransientPublishError) Error() string {
	return fmt.Sprintf("transient publish failure for target %s: %v", e.TargetID, e.Err)
}

func (e *TransientPublishError) Unwrap() error {
	return e.Err
}

// IsRateLimitError reports whether err is or wraps a *RateLimitError. The
// raw code/status/message checks that produce one live in
// ClassifyPublishError.
func IsRateLimitError(err error) bool {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return true
	}
	return false
}

// ClassifyPublishError builds the appropriate sentinel/typed error from the
// raw fields a Publisher reports on failure: code == "UPCOMING_LIMIT",
// status 429, or a message containing "rate limit" all classify as a
// *RateLimitError; anything else is a plain transient error.
func ClassifyPublishError(code string, status int, message string) error {
	if code == "UPCOMING_LIMIT" || status == 429 || strings.Contains(strings.ToLower(message), "rate limit") {
		return &RateLimitError{Code: code, Status: status, Message: message}
	}
	return errors.New(message)
}
