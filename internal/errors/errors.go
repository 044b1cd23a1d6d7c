// Package errors defines the closed error taxonomy surfaced by provider
// adapters and the classification rules that drive retry decisions.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
)

// Kind categorizes an adapter error.
type Kind string

const (
	// KindAuthentication indicates an invalid or rejected API credential.
	KindAuthentication Kind = "authentication"
	// KindRateLimit indicates the provider throttled the request.
	KindRateLimit Kind = "rate_limit"
	// KindQuotaExceeded indicates the account ran out of quota or balance.
	KindQuotaExceeded Kind = "quota_exceeded"
	// KindTimeout indicates the call exceeded its deadline.
	KindTimeout Kind = "timeout"
	// KindConnection indicates a network-level failure reaching the provider.
	KindConnection Kind = "connection"
	// KindResponse indicates a malformed or unparseable upstream payload.
	KindResponse Kind = "response"
	// KindModelNotFound indicates the requested model does not exist.
	KindModelNotFound Kind = "model_not_found"
	// KindContentFilter indicates the provider refused the content.
	KindContentFilter Kind = "content_filter"
	// KindAdapter is the catch-all for unexpected adapter failures.
	KindAdapter Kind = "adapter"
)

// AdapterError is the single error type crossing the adapter boundary.
// Unknown upstream failures are wrapped into it, never leaked raw.
type AdapterError struct {
	// Kind categorizes the error for retry classification
	Kind Kind
	// Provider names the adapter that produced the error
	Provider string
	// Message is a human-readable description
	Message string
	// StatusCode is the upstream HTTP status, 0 when not applicable
	StatusCode int
	// Cause is the underlying error (optional)
	Cause error
}

// Error implements the error interface.
func (e *AdapterError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Provider, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// Unwrap returns the underlying cause, enabling errors.Is and errors.As.
func (e *AdapterError) Unwrap() error {
	return e.Cause
}

// New creates an AdapterError of the given kind.
func New(kind Kind, provider, message string) *AdapterError {
	return &AdapterError{Kind: kind, Provider: provider, Message: message}
}

// Newf creates an AdapterError of the given kind with a formatted message.
func Newf(kind Kind, provider, format string, args ...any) *AdapterError {
	return &AdapterError{Kind: kind, Provider: provider, Message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an existing error into an AdapterError, preserving the cause.
// A nil err yields nil.
func Wrap(err error, kind Kind, provider, message string) *AdapterError {
	if err == nil {
		return nil
	}
	return &AdapterError{Kind: kind, Provider: provider, Message: message, Cause: err}
}

// WithStatus attaches an upstream HTTP status code.
func (e *AdapterError) WithStatus(code int) *AdapterError {
	e.StatusCode = code
	return e
}

// KindOf returns the Kind of err, or KindAdapter when err is not an
// AdapterError. A nil err returns the empty Kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ae *AdapterError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindAdapter
}

// Retryable reports whether err may be recovered by retrying. Only
// timeout, connection, and rate-limit failures are transient; everything
// else is permanent by construction.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTimeout, KindConnection, KindRateLimit:
		return true
	default:
		return false
	}
}

// isKind checks if an error has a specific kind.
func isKind(err error, kind Kind) bool {
	var ae *AdapterError
	return errors.As(err, &ae) && ae.Kind == kind
}

// IsAuthentication checks if an error is an authentication error.
func IsAuthentication(err error) bool { return isKind(err, KindAuthentication) }

// IsRateLimit checks if an error is a rate-limit error.
func IsRateLimit(err error) bool { return isKind(err, KindRateLimit) }

// IsQuotaExceeded checks if an error is a quota error.
func IsQuotaExceeded(err error) bool { return isKind(err, KindQuotaExceeded) }

// IsTimeout checks if an error is a timeout error.
func IsTimeout(err error) bool { return isKind(err, KindTimeout) }

// IsConnection checks if an error is a connection error.
func IsConnection(err error) bool { return isKind(err, KindConnection) }

// IsResponse checks if an error is a malformed-response error.
func IsResponse(err error) bool { return isKind(err, KindResponse) }

// IsModelNotFound checks if an error is a model-not-found error.
func IsModelNotFound(err error) bool { return isKind(err, KindModelNotFound) }

// IsContentFilter checks if an error is a content-filter error.
func IsContentFilter(err error) bool { return isKind(err, KindContentFilter) }

// FromTransport maps a transport-level failure from net/http into the
// taxonomy. Deadline and timeout failures become KindTimeout, everything
// else network-shaped becomes KindConnection.
func FromTransport(provider string, err error) *AdapterError {
	if err == nil {
		return nil
	}

	var ae *AdapterError
	if errors.As(err, &ae) {
		return ae
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(err, KindTimeout, provider, "request deadline exceeded")
	}
	if errors.Is(err, context.Canceled) {
		return Wrap(err, KindTimeout, provider, "request canceled")
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return Wrap(err, KindTimeout, provider, "request timed out")
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Wrap(err, KindTimeout, provider, "request timed out")
	}

	return Wrap(err, KindConnection, provider, "connection failed")
}

// FromStatus maps an upstream HTTP status code into the taxonomy. Adapters
// use it as the fallback when the wire body carries no recognizable error
// payload.
func FromStatus(provider string, status int) *AdapterError {
	var kind Kind
	var message string
	switch {
	case status == 401 || status == 403:
		kind, message = KindAuthentication, "authentication rejected"
	case status == 404:
		kind, message = KindModelNotFound, "model or endpoint not found"
	case status == 429:
		kind, message = KindRateLimit, "rate limited"
	case status == 402:
		kind, message = KindQuotaExceeded, "quota exceeded"
	case status >= 500:
		kind, message = KindConnection, "upstream server error"
	default:
		kind, message = KindAdapter, "unexpected upstream status"
	}
	return Newf(kind, provider, "%s (status %d)", message, status).WithStatus(status)
}

// Classify returns a normalized error type name suitable for tagging
// metrics, logs, and dead-letter entries.
func Classify(err error) string {
	if err == nil {
		return ""
	}
	var ae *AdapterError
	if errors.As(err, &ae) {
		return string(ae.Kind)
	}
	return "unknown"
}
