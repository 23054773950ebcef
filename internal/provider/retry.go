package provider

import (
	"context"
	"time"
)

// RetryReason classifies a failed attempt for the retry policy.
type RetryReason string

const (
	ReasonRateLimited   RetryReason = "rate_limited"
	ReasonAuthError     RetryReason = "auth_error"
	ReasonServerError   RetryReason = "server_error"
	ReasonEmptyResponse RetryReason = "empty_response"
	ReasonNetworkError  RetryReason = "network_error"
	ReasonNonRetryable  RetryReason = "non_retryable"

	// reasonNone marks a successful attempt inside the retry loop.
	reasonNone RetryReason = ""
)

// Classify maps an HTTP status code to a retry reason. Transport-level
// failures never reach here; the call site classifies those as
// ReasonNetworkError directly.
func Classify(statusCode int) RetryReason {
	switch {
	case statusCode == 429:
		return ReasonRateLimited
	case statusCode == 401 || statusCode == 402 || statusCode == 403:
		return ReasonAuthError
	case statusCode >= 500 && statusCode < 600:
		return ReasonServerError
	default:
		return ReasonNonRetryable
	}
}

// Policy is the shared retry configuration. RetryDelay applies to server
// errors and empty responses; rate-limit and auth failures retry immediately
// on a fresh key and network errors wait a fixed second.
type Policy struct {
	MaxRetries        int
	RetryDelay        time.Duration
	NetworkErrorDelay time.Duration
}

// DefaultPolicy mirrors the engine defaults: 3 retries, 5s delay.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:        3,
		RetryDelay:        5 * time.Second,
		NetworkErrorDelay: 1 * time.Second,
	}
}

// ShouldRetry reports whether another attempt is allowed for the reason at
// the given zero-based attempt index.
func (p Policy) ShouldRetry(reason RetryReason, attempt int) bool {
	if reason == ReasonNonRetryable {
		return false
	}
	return attempt < p.MaxRetries
}

// Delay returns how long to sleep before the next attempt.
func (p Policy) Delay(reason RetryReason) time.Duration {
	switch reason {
	case ReasonServerError, ReasonEmptyResponse:
		return p.RetryDelay
	case ReasonNetworkError:
		return p.NetworkErrorDelay
	default:
		// Rate limit and auth errors rotate to a fresh key and go again.
		return 0
	}
}

// RotatesKey reports whether the failure is attributable to the key in use.
// Server errors are assumed backend-side and keep the current key.
func (p Policy) RotatesKey(reason RetryReason) bool {
	switch reason {
	case ReasonRateLimited, ReasonAuthError, ReasonEmptyResponse, ReasonNetworkError:
		return true
	}
	return false
}

// DetectEmptyResponse implements the empty-response predicate: a structurally
// successful reply reporting zero completion tokens with no text, reasoning,
// or tool calls.
func DetectEmptyResponse(content, thinking string, toolCalls []ToolCall, completionTokens int) bool {
	if completionTokens != 0 {
		return false
	}
	r := Result{Content: content, ThinkingContent: thinking, ToolCalls: toolCalls}
	return !r.HasContent()
}

// sleepCtx waits for d unless the context is cancelled first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
