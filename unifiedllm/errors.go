package unifiedllm

import (
	"errors"
	"fmt"
	"strings"
)

// SDKError is the base error type for all unified LLM errors.
type SDKError struct {
	Message string
	Cause   error
}

func (e *SDKError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *SDKError) Unwrap() error {
	return e.Cause
}

// ProviderError represents an error returned by an LLM provider.
type ProviderError struct {
	SDKError
	Provider   string
	StatusCode int
	ErrorCode  string
	Retryable  bool
	RetryAfter *float64
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("[%s] %s (status=%d, retryable=%v)", e.Provider, e.Message, e.StatusCode, e.Retryable)
}

// Concrete provider error types.

type AuthenticationError struct{ ProviderError }
type AccessDeniedError struct{ ProviderError }
type NotFoundError struct{ ProviderError }
type InvalidRequestError struct{ ProviderError }
type RateLimitError struct{ ProviderError }
type ServerError struct{ ProviderError }
type ContentFilterError struct{ ProviderError }
type ContextLengthError struct{ ProviderError }
type QuotaExceededError struct{ ProviderError }

// Non-provider errors.

type RequestTimeoutError struct{ SDKError }
type AbortError struct{ SDKError }
type NetworkError struct{ SDKError }
type StreamErrorType struct{ SDKError }
type ConfigurationError struct{ SDKError }

// ErrorFromStatusCode maps an HTTP status code to the appropriate error type.
func ErrorFromStatusCode(statusCode int, message, provider, errorCode string, retryAfter *float64) error {
	pe := ProviderError{
		SDKError:   SDKError{Message: message},
		Provider:   provider,
		StatusCode: statusCode,
		ErrorCode:  errorCode,
		RetryAfter: retryAfter,
	}

	switch statusCode {
	case 400, 422:
		return &InvalidRequestError{ProviderError: pe}
	case 401:
		return &AuthenticationError{ProviderError: pe}
	case 403:
		return &AccessDeniedError{ProviderError: pe}
	case 404:
		return &NotFoundError{ProviderError: pe}
	case 408:
		return &RequestTimeoutError{SDKError: SDKError{Message: message}}
	case 413:
		return &ContextLengthError{ProviderError: pe}
	case 429:
		if matchesQuotaSignature(message) && !strings.Contains(strings.ToLower(message), "rate limit") {
			return &QuotaExceededError{ProviderError: pe}
		}
		pe.Retryable = true
		return &RateLimitError{ProviderError: pe}
	case 500, 502, 503, 504:
		pe.Retryable = true
		return &ServerError{ProviderError: pe}
	default:
		// Unknown errors default to retryable.
		pe.Retryable = true
		return &pe
	}
}

// IsRetryable returns true if the error is safe to retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	switch e := err.(type) {
	case *ProviderError:
		return e.Retryable
	case *AuthenticationError, *AccessDeniedError, *NotFoundError,
		*InvalidRequestError, *ContextLengthError, *QuotaExceededError,
		*ContentFilterError, *ConfigurationError, *AbortError:
		return false
	case *RateLimitError, *ServerError, *NetworkError, *StreamErrorType, *RequestTimeoutError:
		return true
	default:
		// Unknown errors default to retryable.
		return true
	}
}

// quotaSignatures are lower-cased fragments providers use when capacity,
// quota or rate limits are exhausted.
var quotaSignatures = []string{
	"quota",
	"rate limit",
	"rate_limit",
	"ratelimit",
	"resource_exhausted",
	"resource exhausted",
	"resource has been exhausted",
	"capacity exhausted",
	"exhausted your capacity",
	"too many requests",
}

func matchesQuotaSignature(msg string) bool {
	lower := strings.ToLower(msg)
	for _, sig := range quotaSignatures {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	return false
}

// IsQuotaError reports whether err signals exhausted provider capacity:
// a typed RateLimitError or QuotaExceededError anywhere in the chain, or an
// untyped error whose message carries a known quota signature. Cancellation
// and deadline errors are never quota errors.
func IsQuotaError(err error) bool {
	if err == nil {
		return false
	}
	var abort *AbortError
	if errors.As(err, &abort) {
		return false
	}
	var quota *QuotaExceededError
	if errors.As(err, &quota) {
		return true
	}
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return true
	}
	var auth *AuthenticationError
	if errors.As(err, &auth) {
		return false
	}
	return matchesQuotaSignature(err.Error())
}

// providerDetails returns the ProviderError embedded in any of the concrete
// provider error types, or nil.
func providerDetails(err error) *ProviderError {
	switch e := err.(type) {
	case *ProviderError:
		return e
	case *AuthenticationError:
		return &e.ProviderError
	case *AccessDeniedError:
		return &e.ProviderError
	case *NotFoundError:
		return &e.ProviderError
	case *InvalidRequestError:
		return &e.ProviderError
	case *RateLimitError:
		return &e.ProviderError
	case *ServerError:
		return &e.ProviderError
	case *ContentFilterError:
		return &e.ProviderError
	case *ContextLengthError:
		return &e.ProviderError
	case *QuotaExceededError:
		return &e.ProviderError
	}
	return nil
}
