// Package apperr defines the error taxonomy shared by the notification engine.
package apperr

import (
	"errors"
	"fmt"
	"time"
)

type Code string

const (
	CodeFetchFailed    Code = "FETCH_FAILED"
	CodeParseFailed    Code = "PARSE_FAILED"
	CodeMalformedEntry Code = "MALFORMED_ENTRY"
	CodeNotifyFailed   Code = "NOTIFY_FAILED"
	CodeLedgerConflict Code = "LEDGER_CONFLICT"
	CodeNotConfigured  Code = "NOT_CONFIGURED"
	CodeStoreFailed    Code = "STORE_FAILED"
)

// Error is a structured application error. Retryable means the next
// scheduled cycle is expected to succeed where this one failed.
type Error struct {
	Code      Code      `json:"code"`
	Message   string    `json:"message"`
	Details   string    `json:"details,omitempty"`
	Retryable bool      `json:"retryable"`
	Timestamp time.Time `json:"timestamp"`
	Err       error     `json:"-"`
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(code Code, msg string, retryable bool, err error) *Error {
	e := &Error{
		Code:      code,
		Message:   msg,
		Retryable: retryable,
		Timestamp: time.Now().UTC(),
		Err:       err,
	}
	if err != nil {
		e.Details = err.Error()
	}
	return e
}

// NewFetchError covers transport failures, timeouts and non-2xx upstream responses.
func NewFetchError(err error) *Error {
	return newError(CodeFetchFailed, "fetching upstream listings failed", true, err)
}

// NewParseError is returned when the payload's top-level shape is unrecognized.
func NewParseError(details string) *Error {
	e := newError(CodeParseFailed, "unrecognized listings payload", true, nil)
	e.Details = details
	return e
}

func NewMalformedEntryError(details string) *Error {
	e := newError(CodeMalformedEntry, "malformed route entry", false, nil)
	e.Details = details
	return e
}

func NewNotifyError(err error) *Error {
	return newError(CodeNotifyFailed, "push dispatch failed", true, err)
}

func NewLedgerConflictError(rideID string) *Error {
	e := newError(CodeLedgerConflict, "ride already notified", false, nil)
	e.Details = "rideId: " + rideID
	return e
}

func NewNotConfiguredError(what string) *Error {
	e := newError(CodeNotConfigured, "not configured", false, nil)
	e.Details = what
	return e
}

func NewStoreError(op string, err error) *Error {
	e := newError(CodeStoreFailed, "store operation failed", true, err)
	e.Details = fmt.Sprintf("op: %s, error: %v", op, err)
	return e
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

func IsFetchError(err error) bool { return CodeOf(err) == CodeFetchFailed }
func IsParseError(err error) bool { return CodeOf(err) == CodeParseFailed }
func IsNotifyError(err error) bool { return CodeOf(err) == CodeNotifyFailed }
func IsLedgerConflict(err error) bool { return CodeOf(err) == CodeLedgerConflict }

func IsRetryable(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Retryable
}
