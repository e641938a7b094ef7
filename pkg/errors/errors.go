// Package errors defines unified error types for proxy operations.
// Failures from upstreams, rating providers, the cache store, and request
// validation are all mapped to these standard error types.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ProxyError represents a standardized error raised anywhere in the request
// pipeline. It contains all necessary information for error handling, logging,
// and client response.
type ProxyError struct {
	StatusCode     int    `json:"status_code"`
	Message        string `json:"message"`
	Type           string `json:"type"`
	Upstream       string `json:"upstream,omitempty"`
	UpstreamStatus int    `json:"upstream_status,omitempty"`
	RetryAfter     int    `json:"-"`
	Retryable      bool   `json:"-"`
}

// Error implements the error interface.
func (e *ProxyError) Error() string {
	if e.Upstream != "" {
		return fmt.Sprintf("[%s] %s (upstream=%s, code=%d)",
			e.Type, e.Message, e.Upstream, e.UpstreamStatus)
	}
	return fmt.Sprintf("[%s] %s (code=%d)", e.Type, e.Message, e.StatusCode)
}

// HTTPStatusCode returns the appropriate HTTP status code for the error.
func (e *ProxyError) HTTPStatusCode() int {
	if e.StatusCode > 0 {
		return e.StatusCode
	}
	return http.StatusInternalServerError
}

// Common error types as constants for consistency.
const (
	TypeConfigInvalid       = "config_invalid"
	TypeUpstreamTimeout     = "upstream_timeout"
	TypeUpstreamClient      = "upstream_client_error"
	TypeUpstreamServer      = "upstream_server_error"
	TypeCacheUnavailable    = "cache_unavailable"
	TypeProviderUnavailable = "provider_unavailable"
	TypeRateLimited         = "rate_limited"
	TypeInternal            = "internal_error"
)

// NewConfigInvalidError creates a config validation error (400). The field
// names the offending config key so clients can fix their installation.
func NewConfigInvalidError(field, message string) *ProxyError {
	if field != "" {
		message = fmt.Sprintf("%s: %s", field, message)
	}
	return &ProxyError{
		StatusCode: http.StatusBadRequest,
		Message:    message,
		Type:       TypeConfigInvalid,
		Retryable:  false,
	}
}

// NewUpstreamTimeoutError creates a timeout error (504) for an upstream
// request that exceeded its deadline.
func NewUpstreamTimeoutError(upstream, message string) *ProxyError {
	return &ProxyError{
		StatusCode: http.StatusGatewayTimeout,
		Message:    message,
		Type:       TypeUpstreamTimeout,
		Upstream:   upstream,
		Retryable:  true,
	}
}

// NewUpstreamClientError creates an error for an upstream 4xx response.
// The upstream status is passed through; these are never retried.
func NewUpstreamClientError(upstream string, upstreamStatus int, message string) *ProxyError {
	return &ProxyError{
		StatusCode:     upstreamStatus,
		Message:        message,
		Type:           TypeUpstreamClient,
		Upstream:       upstream,
		UpstreamStatus: upstreamStatus,
		Retryable:      false,
	}
}

// NewUpstreamServerError creates an error for an upstream 5xx response (502).
func NewUpstreamServerError(upstream string, upstreamStatus int, message string) *ProxyError {
	return &ProxyError{
		StatusCode:     http.StatusBadGateway,
		Message:        message,
		Type:           TypeUpstreamServer,
		Upstream:       upstream,
		UpstreamStatus: upstreamStatus,
		Retryable:      true,
	}
}

// NewCacheUnavailableError creates a cache store error (503). Callers on the
// serving path treat this as a miss rather than surfacing it.
func NewCacheUnavailableError(message string) *ProxyError {
	return &ProxyError{
		StatusCode: http.StatusServiceUnavailable,
		Message:    message,
		Type:       TypeCacheUnavailable,
		Retryable:  true,
	}
}

// NewProviderUnavailableError creates a rating provider error (503).
func NewProviderUnavailableError(provider, message string) *ProxyError {
	return &ProxyError{
		StatusCode: http.StatusServiceUnavailable,
		Message:    message,
		Type:       TypeProviderUnavailable,
		Upstream:   provider,
		Retryable:  true,
	}
}

// NewRateLimitedError creates a rate limit rejection (429). retryAfter is the
// number of seconds until the oldest counted request leaves the window.
func NewRateLimitedError(message string, retryAfter int) *ProxyError {
	return &ProxyError{
		StatusCode: http.StatusTooManyRequests,
		Message:    message,
		Type:       TypeRateLimited,
		RetryAfter: retryAfter,
		Retryable:  true,
	}
}

// NewInternalError creates an internal server error (500).
func NewInternalError(message string) *ProxyError {
	return &ProxyError{
		StatusCode: http.StatusInternalServerError,
		Message:    message,
		Type:       TypeInternal,
		Retryable:  false,
	}
}

// FromUpstreamStatus maps a non-2xx upstream status to the matching error
// type. 4xx responses are client errors and are never retried; everything
// else is treated as a server-side failure.
func FromUpstreamStatus(upstream string, status int, message string) *ProxyError {
	if status >= 400 && status < 500 {
		return NewUpstreamClientError(upstream, status, message)
	}
	return NewUpstreamServerError(upstream, status, message)
}

// From extracts a *ProxyError from err, wrapping unknown errors as internal.
func From(err error) *ProxyError {
	var pe *ProxyError
	if errors.As(err, &pe) {
		return pe
	}
	return NewInternalError(err.Error())
}

// IsRetryable reports whether err is a proxy error marked safe to retry.
// Unknown error values are not retried.
func IsRetryable(err error) bool {
	var pe *ProxyError
	if errors.As(err, &pe) {
		return pe.Retryable
	}
	return false
}

// IsType reports whether err is a proxy error of the given type.
func IsType(err error, errType string) bool {
	var pe *ProxyError
	if errors.As(err, &pe) {
		return pe.Type == errType
	}
	return false
}
