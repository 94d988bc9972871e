// Package domainerrors carries typed error codes from services to transport.
//
// Services return *Error values built with New or Wrap. Transport layers map
// the Code to a status (see pkg/platform/httputil) and never inspect messages.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code identifies a class of domain failure independent of transport.
type Code string

const (
	CodeBadRequest         Code = "bad_request"
	CodeValidation         Code = "validation_error"
	CodeInvalidInput       Code = "invalid_input"
	CodeInvariantViolation Code = "invariant_violation"
	CodeUnauthorized       Code = "unauthorized"
	CodeForbidden          Code = "forbidden"
	CodeNotFound           Code = "not_found"
	CodeConflict           Code = "conflict"
	CodeTimeout            Code = "timeout"
	CodeInternal           Code = "internal_error"

	// Issuance
	CodeNotVerified          Code = "not_verified"
	CodeNoActiveSubscription Code = "no_active_subscription"
	CodeQuotaExceeded        Code = "quota_exceeded"
	CodeMissingField         Code = "missing_field"
	CodeMissingArtifact      Code = "missing_artifact"

	// Minting
	CodeAlreadyMinted   Code = "already_minted"
	CodeAddressMismatch Code = "address_mismatch"

	// Collaborators
	CodeLedgerUnavailable  Code = "ledger_unavailable"
	CodeContentUnavailable Code = "content_unavailable"
	CodeStoreUnavailable   Code = "store_unavailable"
)

// Error is a domain error with a stable code and a client-safe message.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether the caller may retry the same request unchanged.
func (e *Error) Retryable() bool {
	switch e.Code {
	case CodeLedgerUnavailable, CodeContentUnavailable, CodeStoreUnavailable, CodeTimeout:
		return true
	default:
		return false
	}
}

// New creates a domain error with the given code and message.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Newf creates a domain error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap annotates err with a code and message. A nil err yields a plain New.
func Wrap(err error, code Code, msg string) error {
	if err == nil {
		return New(code, msg)
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// As returns the outermost domain error in err's chain.
func As(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// HasCode reports whether the outermost domain error carries code.
func HasCode(err error, code Code) bool {
	de, ok := As(err)
	return ok && de.Code == code
}

// CodeOf returns the code of the outermost domain error, or CodeInternal.
func CodeOf(err error) Code {
	if de, ok := As(err); ok {
		return de.Code
	}
	return CodeInternal
}

// Is reports whether err matches target anywhere in its chain.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// IsRetryable reports whether err is a retryable domain error.
func IsRetryable(err error) bool {
	de, ok := As(err)
	return ok && de.Retryable()
}
