package unifiedllm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorFromStatusCode(t *testing.T) {
	tests := []struct {
		status    int
		message   string
		retryable bool
		quota     bool
	}{
		{400, "bad request", false, false},
		{401, "unauthorized", false, false},
		{403, "forbidden", false, false},
		{404, "no such model", false, false},
		{408, "timeout", true, false},
		{413, "too long", false, false},
		{429, "rate limit exceeded", true, true},
		{429, "You exceeded your current quota", false, true},
		{500, "boom", true, false},
		{503, "unavailable", true, false},
	}

	for _, tt := range tests {
		err := ErrorFromStatusCode(tt.status, tt.message, "openai", "", nil)
		if got := IsRetryable(err); got != tt.retryable {
			t.Errorf("status %d %q: IsRetryable = %v, want %v", tt.status, tt.message, got, tt.retryable)
		}
		if got := IsQuotaError(err); got != tt.quota {
			t.Errorf("status %d %q: IsQuotaError = %v, want %v", tt.status, tt.message, got, tt.quota)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"nil", nil, false},
		{"auth error", &AuthenticationError{}, false},
		{"quota exceeded", &QuotaExceededError{}, false},
		{"abort", &AbortError{}, false},
		{"config error", &ConfigurationError{}, false},
		{"rate limit", &RateLimitError{ProviderError: ProviderError{Retryable: true}}, true},
		{"server error", &ServerError{ProviderError: ProviderError{Retryable: true}}, true},
		{"network error", &NetworkError{}, true},
		{"unknown error", errors.New("unknown"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.retryable {
				t.Errorf("IsRetryable(%T) = %v, want %v", tt.err, got, tt.retryable)
			}
		})
	}
}

func TestIsQuotaError(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		quota bool
	}{
		{"nil", nil, false},
		{"typed quota", &QuotaExceededError{}, true},
		{"typed rate limit", &RateLimitError{}, true},
		{"wrapped quota", fmt.Errorf("stream: %w", &QuotaExceededError{}), true},
		{"resource exhausted", errors.New("RESOURCE_EXHAUSTED: try again later"), true},
		{"capacity", errors.New("You have exhausted your capacity on this model"), true},
		{"too many requests", errors.New("429 Too Many Requests"), true},
		{"plain network", errors.New("connection reset by peer"), false},
		{"malformed", errors.New("invalid JSON in response"), false},
		{"cancelled", context.Canceled, false},
		{"abort wrapping quota text", &AbortError{SDKError: SDKError{Message: "quota check aborted"}}, false},
		{"auth", &AuthenticationError{ProviderError: ProviderError{SDKError: SDKError{Message: "bad key for quota project"}}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsQuotaError(tt.err); got != tt.quota {
				t.Errorf("IsQuotaError(%v) = %v, want %v", tt.err, got, tt.quota)
			}
		})
	}
}

func TestSDKErrorUnwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := &SDKError{Message: "wrapper", Cause: cause}
	if !errors.Is(err, cause) {
		t.Error("expected SDKError to unwrap to its cause")
	}
}

func TestProviderErrorMessage(t *testing.T) {
	err := &ProviderError{
		SDKError:   SDKError{Message: "rate limit exceeded"},
		Provider:   "openai",
		StatusCode: 429,
		Retryable:  true,
	}
	msg := err.Error()
	if !strings.Contains(msg, "openai") || !strings.Contains(msg, "rate limit") {
		t.Errorf("error message missing expected content: %q", msg)
	}
}
