// Package upstream normalizes failures from external collaborators (ledger
// gateway, content store) into one retry-aware taxonomy.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorCategory is the normalized failure class.
type ErrorCategory string

const (
	// ErrorTimeout: the collaborator took too long to respond.
	ErrorTimeout ErrorCategory = "timeout"

	// ErrorOutage: unreachable or 5xx.
	ErrorOutage ErrorCategory = "outage"

	// ErrorRateLimited: 429.
	ErrorRateLimited ErrorCategory = "rate_limited"

	// ErrorNotFound: the requested record does not exist.
	ErrorNotFound ErrorCategory = "not_found"

	// ErrorRejected: the collaborator refused the request (4xx).
	ErrorRejected ErrorCategory = "rejected"

	// ErrorAuthentication: credentials refused.
	ErrorAuthentication ErrorCategory = "authentication"

	// ErrorBadData: the response could not be decoded.
	ErrorBadData ErrorCategory = "bad_data"
)

// Error wraps a collaborator failure.
type Error struct {
	Category   ErrorCategory
	Upstream   string
	Message    string
	Underlying error
	Retryable  bool
}

func (e *Error) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("%s [%s]: %s: %v", e.Upstream, e.Category, e.Message, e.Underlying)
	}
	return fmt.Sprintf("%s [%s]: %s", e.Upstream, e.Category, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Underlying
}

// NewError builds an Error; timeouts, outages and rate limits are retryable.
func NewError(category ErrorCategory, upstreamName, message string, underlying error) *Error {
	retryable := category == ErrorTimeout ||
		category == ErrorOutage ||
		category == ErrorRateLimited

	return &Error{
		Category:   category,
		Upstream:   upstreamName,
		Message:    message,
		Underlying: underlying,
		Retryable:  retryable,
	}
}

// FromStatus maps a non-2xx HTTP status to an Error.
func FromStatus(upstreamName string, status int, body string) *Error {
	msg := fmt.Sprintf("unexpected status %d", status)
	if body != "" {
		msg += ": " + truncate(body, 256)
	}
	switch {
	case status == http.StatusNotFound:
		return NewError(ErrorNotFound, upstreamName, msg, nil)
	case status == http.StatusTooManyRequests:
		return NewError(ErrorRateLimited, upstreamName, msg, nil)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return NewError(ErrorAuthentication, upstreamName, msg, nil)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return NewError(ErrorTimeout, upstreamName, msg, nil)
	case status >= 500:
		return NewError(ErrorOutage, upstreamName, msg, nil)
	default:
		return NewError(ErrorRejected, upstreamName, msg, nil)
	}
}

// FromTransport classifies a transport-level error (no response received).
func FromTransport(upstreamName string, err error) *Error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return NewError(ErrorTimeout, upstreamName, "request timed out", err)
	}
	return NewError(ErrorOutage, upstreamName, "request failed", err)
}

// IsRetryable reports whether err is a retryable collaborator failure.
func IsRetryable(err error) bool {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Retryable
	}
	return false
}

// IsNotFound reports whether the collaborator said the record does not exist.
func IsNotFound(err error) bool {
	return GetCategory(err) == ErrorNotFound
}

// GetCategory extracts the category; unknown errors count as outages.
func GetCategory(err error) ErrorCategory {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Category
	}
	return ErrorOutage
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
