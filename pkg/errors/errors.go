package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents different types of errors that can occur
type ErrorType string

const (
	ErrorTypeNetwork    ErrorType = "network"
	ErrorTypeRateLimit  ErrorType = "rate_limit"
	ErrorTypeAuth       ErrorType = "auth"
	ErrorTypeAPI        ErrorType = "api"
	ErrorTypeDecode     ErrorType = "decode"
	ErrorTypeFilesystem ErrorType = "filesystem"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeUnknown    ErrorType = "unknown"
)

const (
	decodePreviewLimit = 2048
	apiPreviewLimit    = 512
)

// Error represents a typed archiver error
type Error struct {
	Type    ErrorType
	Message string
	Code    int
	// Body carries a truncated copy of the upstream response, when there is one
	Body string
	Err  error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s error (code %d): %s", e.Type, e.Code, e.Message)
	if e.Body != "" {
		msg += " - " + e.Body
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewAuthError reports a failed session login
func NewAuthError(status int, body []byte) *Error {
	return &Error{
		Type:    ErrorTypeAuth,
		Message: "login failed",
		Code:    status,
		Body:    Preview(body, apiPreviewLimit),
	}
}

// NewSessionExpired is returned when a fetch is started with an access token past its expiry
func NewSessionExpired(expiredAt string) *Error {
	return &Error{
		Type:    ErrorTypeAuth,
		Message: fmt.Sprintf("session expired at %s, log in again", expiredAt),
		Code:    401,
	}
}

// NewRateLimitExhausted is returned once the backoff policy gives up on a 429
func NewRateLimitExhausted(retries int) *Error {
	return &Error{
		Type:    ErrorTypeRateLimit,
		Message: fmt.Sprintf("Rate limited after %d retries. Try again later or use --delay flag", retries),
		Code:    429,
	}
}

// NewAPIError reports a non-success response that will not be retried
func NewAPIError(endpoint string, status int, body []byte) *Error {
	return &Error{
		Type:    ErrorTypeAPI,
		Message: fmt.Sprintf("request to %s failed", endpoint),
		Code:    status,
		Body:    Preview(body, apiPreviewLimit),
	}
}

// NewDecodeError keeps enough of the raw payload to diagnose schema drift
func NewDecodeError(endpoint string, err error, raw []byte) *Error {
	return &Error{
		Type:    ErrorTypeDecode,
		Message: fmt.Sprintf("failed to decode %s response: %v", endpoint, err),
		Code:    200,
		Body:    Preview(raw, decodePreviewLimit),
		Err:     err,
	}
}

// NewNetworkError wraps a transport failure
func NewNetworkError(err error) *Error {
	return &Error{
		Type:    ErrorTypeNetwork,
		Message: fmt.Sprintf("network error: %v", err),
		Err:     err,
	}
}

// NewFilesystemError wraps a failure to prepare the archive destination
func NewFilesystemError(op, path string, err error) *Error {
	return &Error{
		Type:    ErrorTypeFilesystem,
		Message: fmt.Sprintf("%s %s: %v", op, path, err),
		Err:     err,
	}
}

// IsType reports whether err, or anything it wraps, is an *Error of type t
func IsType(err error, t ErrorType) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Type == t
	}
	return false
}

// IsRateLimitExhausted reports whether the run failed because of repeated 429s
func IsRateLimitExhausted(err error) bool {
	return IsType(err, ErrorTypeRateLimit)
}

// IsRetryableStatusCode reports whether a status is worth a backoff-and-retry.
// Only 429 qualifies; every other failure is treated as non-transient.
func IsRetryableStatusCode(statusCode int) bool {
	return statusCode == 429
}

// Preview truncates a response body for inclusion in an error message
func Preview(body []byte, limit int) string {
	if len(body) <= limit {
		return string(body)
	}
	return string(body[:limit]) + "..."
}
