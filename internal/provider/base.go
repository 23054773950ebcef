package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"modelgate/internal/keypool"
)

// Base carries the state every adapter shares: a name for logs, the key pool
// for its backend, and the retry policy. Adapters embed it and drive Execute
// with a per-attempt function.
type Base struct {
	name   string
	keys   *keypool.Pool
	policy Policy
}

// NewBase builds the shared adapter state.
func NewBase(name string, keys *keypool.Pool, policy Policy) Base {
	return Base{name: name, keys: keys, policy: policy}
}

// Name returns the adapter's log name.
func (b *Base) Name() string { return b.name }

// Keys exposes the backing key pool.
func (b *Base) Keys() *keypool.Pool { return b.keys }

// Policy exposes the retry policy.
func (b *Base) Policy() Policy { return b.policy }

// Outcome is the classified result of one request attempt.
type Outcome struct {
	Result Result
	Reason RetryReason
	Detail string
}

// Success wraps a completed result as a terminal outcome.
func Success(r Result) Outcome {
	return Outcome{Result: r, Reason: reasonNone}
}

// Failure wraps a classified failure with a short human-readable detail.
func Failure(reason RetryReason, detail string) Outcome {
	return Outcome{Reason: reason, Detail: detail}
}

// Execute runs the bounded retry loop around attempt. Each retryable failure
// rotates the key when the reason is key-attributable, sleeps per the delay
// schedule, and reissues the entire request. The loop always returns a Result
// value: success, a terminal non-retryable failure, or budget exhaustion.
// cb may be nil; when set, terminal failures emit an EventError before the
// result is returned.
func (b *Base) Execute(ctx context.Context, cb StreamCallback, attempt func(key string) Outcome) Result {
	// One id per top-level call ties the retry attempts together in logs.
	reqID := uuid.NewString()

	if b.keys == nil || !b.keys.HasKeys() {
		return b.fail(cb, reqID, 0, fmt.Sprintf("no API keys configured for %s", b.name))
	}

	for n := 0; ; n++ {
		key, ok := b.keys.Current()
		if !ok {
			return b.fail(cb, reqID, n, "no API key available")
		}

		out := attempt(key)
		if out.Reason == reasonNone {
			out.Result.RetryCount = n
			b.logSuccess(reqID)
			return out.Result
		}

		if !b.policy.ShouldRetry(out.Reason, n) {
			return b.fail(cb, reqID, n, out.Detail)
		}

		delay := b.policy.Delay(out.Reason)
		b.logRetry(reqID, out.Reason, n+1, delay, out.Detail)
		if b.policy.RotatesKey(out.Reason) {
			b.keys.Rotate(string(out.Reason))
		}
		if err := sleepCtx(ctx, delay); err != nil {
			return b.fail(cb, reqID, n, fmt.Sprintf("cancelled: %v", err))
		}
	}
}

func (b *Base) fail(cb StreamCallback, reqID string, retries int, detail string) Result {
	if detail == "" {
		detail = "request failed"
	}
	b.logError(reqID, detail)
	if cb != nil {
		cb(EventError, detail)
	}
	return Result{Success: false, Error: detail, RetryCount: retries}
}

// LogRequest records the start of one attempt against the backend.
func (b *Base) LogRequest(model string, thinking, streaming bool, attempt int) {
	fields := log.Fields{
		"provider": b.name,
		"model":    model,
		"key":      b.keys.Ordinal(),
		"thinking": thinking,
		"stream":   streaming,
	}
	if attempt > 0 {
		fields["retry"] = attempt
	}
	log.WithFields(fields).Info("upstream request")
}

func (b *Base) logSuccess(reqID string) {
	log.WithFields(log.Fields{
		"request_id": reqID,
		"provider":   b.name,
		"key":        b.keys.Ordinal(),
	}).Info("request completed")
}

func (b *Base) logRetry(reqID string, reason RetryReason, attempt int, delay time.Duration, detail string) {
	fields := log.Fields{
		"request_id": reqID,
		"provider":   b.name,
		"reason":     string(reason),
		"attempt":    attempt,
		"max":        b.policy.MaxRetries,
		"delay":      delay.String(),
	}
	if detail != "" {
		fields["detail"] = detail
	}
	log.WithFields(fields).Warn("retrying upstream request")
}

func (b *Base) logError(reqID, detail string) {
	log.WithFields(log.Fields{
		"request_id": reqID,
		"provider":   b.name,
		"error":      detail,
	}).Error("request failed")
}
