// ABOUTME: Structured error hierarchy for model provider calls with per-type retryability.
// ABOUTME: Classifies HTTP status codes and network failures into typed errors consumed by the retry wrapper.
package llm

import (
	"errors"
	"net"
	"syscall"
)

// SDKError is the base error type for this package. All other error types
// embed it directly or transitively.
type SDKError struct {
	Message string
	Cause   error
}

func (e *SDKError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *SDKError) Unwrap() error {
	return e.Cause
}

// IsRetryable returns false for the base SDKError. Subtypes override this.
func (e *SDKError) IsRetryable() bool {
	return false
}

// ProviderError is an error returned by a model provider's API.
type ProviderError struct {
	SDKError
	Provider   string
	StatusCode int
	ErrorCode  string
	Retryable  bool
}

func (e *ProviderError) Error() string { return e.SDKError.Error() }
func (e *ProviderError) Unwrap() error { return e.SDKError.Unwrap() }

// IsRetryable returns the Retryable flag set when the error was classified.
func (e *ProviderError) IsRetryable() bool { return e.Retryable }

// RateLimitError is a 429 Too Many Requests response. Retryable.
type RateLimitError struct {
	ProviderError
}

func (e *RateLimitError) IsRetryable() bool { return true }

// ServerError is a 5xx response. Only 503 Service Unavailable signals a
// transient overload worth retrying; other 5xx codes surface immediately.
type ServerError struct {
	ProviderError
}

func (e *ServerError) IsRetryable() bool { return e.StatusCode == 503 }

// AuthenticationError is a 401 response. Not retryable.
type AuthenticationError struct {
	ProviderError
}

func (e *AuthenticationError) IsRetryable() bool { return false }

// InvalidRequestError is a 400 or 422 response. Not retryable.
type InvalidRequestError struct {
	ProviderError
}

func (e *InvalidRequestError) IsRetryable() bool { return false }

// NetworkErrorCode names the network failure classes considered transient.
type NetworkErrorCode string

const (
	NetworkConnectionReset NetworkErrorCode = "connection_reset"
	NetworkTimeout         NetworkErrorCode = "timeout"
	NetworkDNSNotFound     NetworkErrorCode = "dns_not_found"
	NetworkOther           NetworkErrorCode = "other"
)

// NetworkError is a transport-level failure. Connection resets, timeouts, and
// DNS lookup failures are retryable; anything else is not.
type NetworkError struct {
	SDKError
	Code NetworkErrorCode
}

func (e *NetworkError) IsRetryable() bool {
	switch e.Code {
	case NetworkConnectionReset, NetworkTimeout, NetworkDNSNotFound:
		return true
	default:
		return false
	}
}

// ErrorFromStatusCode maps an HTTP status code to the matching typed error.
func ErrorFromStatusCode(statusCode int, message, provider, errorCode string) error {
	base := ProviderError{
		SDKError:   SDKError{Message: message},
		Provider:   provider,
		StatusCode: statusCode,
		ErrorCode:  errorCode,
	}

	switch {
	case statusCode == 400 || statusCode == 422:
		return &InvalidRequestError{ProviderError: base}
	case statusCode == 401:
		return &AuthenticationError{ProviderError: base}
	case statusCode == 429:
		base.Retryable = true
		return &RateLimitError{ProviderError: base}
	case statusCode >= 500 && statusCode <= 599:
		base.Retryable = statusCode == 503
		return &ServerError{ProviderError: base}
	default:
		return &base
	}
}

// ClassifyNetworkError wraps a transport error with its retryability class.
func ClassifyNetworkError(err error) error {
	code := NetworkOther

	var dnsErr *net.DNSError
	var netErr net.Error
	switch {
	case errors.As(err, &dnsErr) && dnsErr.IsNotFound:
		code = NetworkDNSNotFound
	case errors.As(err, &netErr) && netErr.Timeout():
		code = NetworkTimeout
	case errors.Is(err, syscall.ECONNRESET):
		code = NetworkConnectionReset
	}

	return &NetworkError{
		SDKError: SDKError{Message: "network error", Cause: err},
		Code:     code,
	}
}

// IsRetryable reports whether err (or anything it wraps) is a transient
// failure worth retrying.
func IsRetryable(err error) bool {
	type retryable interface {
		IsRetryable() bool
	}
	for e := err; e != nil; e = errors.Unwrap(e) {
		if r, ok := e.(retryable); ok {
			return r.IsRetryable()
		}
	}
	return false
}
