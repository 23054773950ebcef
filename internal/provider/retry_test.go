package provider

import (
	"context"
	"testing"
	"time"

	"modelgate/internal/keypool"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		status int
		want   RetryReason
	}{
		{429, ReasonRateLimited},
		{401, ReasonAuthError},
		{402, ReasonAuthError},
		{403, ReasonAuthError},
		{500, ReasonServerError},
		{503, ReasonServerError},
		{599, ReasonServerError},
		{400, ReasonNonRetryable},
		{404, ReasonNonRetryable},
		{418, ReasonNonRetryable},
	}
	for _, c := range cases {
		if got := Classify(c.status); got != c.want {
			t.Fatalf("Classify(%d) = %s, want %s", c.status, got, c.want)
		}
	}
}

func TestPolicyDelays(t *testing.T) {
	p := Policy{MaxRetries: 3, RetryDelay: 5 * time.Second, NetworkErrorDelay: time.Second}
	if d := p.Delay(ReasonRateLimited); d != 0 {
		t.Fatalf("rate limit delay = %v, want 0", d)
	}
	if d := p.Delay(ReasonAuthError); d != 0 {
		t.Fatalf("auth delay = %v, want 0", d)
	}
	if d := p.Delay(ReasonServerError); d != 5*time.Second {
		t.Fatalf("server delay = %v, want 5s", d)
	}
	if d := p.Delay(ReasonEmptyResponse); d != 5*time.Second {
		t.Fatalf("empty delay = %v, want 5s", d)
	}
	if d := p.Delay(ReasonNetworkError); d != time.Second {
		t.Fatalf("network delay = %v, want 1s", d)
	}
}

func TestPolicyRotation(t *testing.T) {
	p := DefaultPolicy()
	for _, r := range []RetryReason{ReasonRateLimited, ReasonAuthError, ReasonEmptyResponse, ReasonNetworkError} {
		if !p.RotatesKey(r) {
			t.Fatalf("%s should rotate the key", r)
		}
	}
	// A 5xx is assumed backend-side, not key-side.
	if p.RotatesKey(ReasonServerError) {
		t.Fatal("server error must not rotate the key")
	}
	if p.RotatesKey(ReasonNonRetryable) {
		t.Fatal("non-retryable must not rotate the key")
	}
}

func TestShouldRetry(t *testing.T) {
	p := Policy{MaxRetries: 3}
	if p.ShouldRetry(ReasonNonRetryable, 0) {
		t.Fatal("non-retryable should never retry")
	}
	if !p.ShouldRetry(ReasonRateLimited, 2) {
		t.Fatal("attempt 2 of 3 should retry")
	}
	if p.ShouldRetry(ReasonRateLimited, 3) {
		t.Fatal("attempt 3 of 3 exhausts the budget")
	}
}

func TestResultHasContent(t *testing.T) {
	if (Result{Content: " \n\t"}).HasContent() {
		t.Fatal("whitespace-only result has no content")
	}
	if !(Result{Content: "hi"}).HasContent() {
		t.Fatal("text counts as content")
	}
	if !(Result{ThinkingContent: "hm"}).HasContent() {
		t.Fatal("thinking counts as content")
	}
	if !(Result{ToolCalls: []ToolCall{{ID: "call_0"}}}).HasContent() {
		t.Fatal("tool calls count as content")
	}
}

func TestDetectEmptyResponse(t *testing.T) {
	if !DetectEmptyResponse("", "", nil, 0) {
		t.Fatal("zero tokens with no content is empty")
	}
	if !DetectEmptyResponse("  \n\t", "", nil, 0) {
		t.Fatal("whitespace-only content is empty")
	}
	if DetectEmptyResponse("hi", "", nil, 0) {
		t.Fatal("content present: not empty")
	}
	if DetectEmptyResponse("", "thought", nil, 0) {
		t.Fatal("thinking present: not empty")
	}
	if DetectEmptyResponse("", "", []ToolCall{{ID: "1"}}, 0) {
		t.Fatal("tool call present: not empty")
	}
	if DetectEmptyResponse("", "", nil, 12) {
		t.Fatal("nonzero completion tokens: not empty")
	}
}

func TestExecuteRetriesThenSucceeds(t *testing.T) {
	pool := keypool.New("exec", []string{"k1", "k2", "k3"})
	base := NewBase("test", pool, Policy{MaxRetries: 3})

	calls := 0
	res := base.Execute(context.Background(), nil, func(key string) Outcome {
		calls++
		if calls == 1 {
			return Failure(ReasonRateLimited, "429")
		}
		return Success(Result{Success: true, Content: "ok"})
	})

	if !res.Success || res.Content != "ok" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.RetryCount != 1 {
		t.Fatalf("retry count = %d, want 1", res.RetryCount)
	}
	// The rate-limit failure rotated away from k1.
	if k, _ := pool.Current(); k != "k2" {
		t.Fatalf("expected rotation to k2, got %q", k)
	}
}

func TestExecuteBudgetExhaustion(t *testing.T) {
	pool := keypool.New("exec", []string{"k1"})
	base := NewBase("test", pool, Policy{MaxRetries: 2, NetworkErrorDelay: time.Millisecond})

	calls := 0
	res := base.Execute(context.Background(), nil, func(key string) Outcome {
		calls++
		return Failure(ReasonNetworkError, "connection refused")
	})

	if res.Success {
		t.Fatal("expected terminal failure")
	}
	if res.RetryCount != 2 {
		t.Fatalf("retry count = %d, want 2", res.RetryCount)
	}
	if calls != 3 {
		t.Fatalf("attempts = %d, want 3 (initial + 2 retries)", calls)
	}
	if res.Error == "" {
		t.Fatal("terminal result must carry an error message")
	}
}

func TestExecuteNonRetryableStopsImmediately(t *testing.T) {
	pool := keypool.New("exec", []string{"k1", "k2"})
	base := NewBase("test", pool, DefaultPolicy())

	calls := 0
	var gotEvent EventType
	cb := func(ev EventType, payload any) { gotEvent = ev }
	res := base.Execute(context.Background(), cb, func(key string) Outcome {
		calls++
		return Failure(ReasonNonRetryable, "HTTP 404: model not found")
	})

	if res.Success || calls != 1 {
		t.Fatalf("expected single failed attempt, got calls=%d res=%+v", calls, res)
	}
	if gotEvent != EventError {
		t.Fatalf("expected error event, got %q", gotEvent)
	}
	// No rotation on a non-retryable failure.
	if k, _ := pool.Current(); k != "k1" {
		t.Fatalf("key should not rotate, got %q", k)
	}
}

func TestExecuteNoKeys(t *testing.T) {
	base := NewBase("test", keypool.New("empty", nil), DefaultPolicy())
	res := base.Execute(context.Background(), nil, func(key string) Outcome {
		t.Fatal("attempt must not run without keys")
		return Outcome{}
	})
	if res.Success || res.Error == "" {
		t.Fatalf("expected failure result, got %+v", res)
	}
}

func TestExecuteContextCancellation(t *testing.T) {
	pool := keypool.New("exec", []string{"k1"})
	base := NewBase("test", pool, Policy{MaxRetries: 3, RetryDelay: time.Minute})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	res := base.Execute(ctx, nil, func(key string) Outcome {
		return Failure(ReasonServerError, "500")
	})
	if res.Success {
		t.Fatal("expected failure after cancellation")
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("cancellation did not interrupt the retry sleep")
	}
}

func TestEstimateTokens(t *testing.T) {
	if EstimateTokens("") != 0 {
		t.Fatal("empty text estimates 0")
	}
	if got := EstimateTokens("ab"); got != 1 {
		t.Fatalf("short text estimates at least 1, got %d", got)
	}
	if got := EstimateTokens("12345678"); got != 2 {
		t.Fatalf("8 chars = 2 tokens, got %d", got)
	}
}

func TestEstimateMessageTokens(t *testing.T) {
	messages := []Message{
		{Role: RoleSystem, Content: "You are terse."}, // 14 chars -> 3 tokens + 4 overhead
		{Role: RoleUser, Parts: []Part{
			{Type: PartText, Text: "What is in this image?"}, // 22 chars -> 5 tokens
			{Type: PartImageURL, ImageURL: "data:image/png;base64,AAAA"},
		}}, // +85 image +4 overhead
	}
	got := EstimateMessageTokens(messages)
	want := 3 + 4 + 5 + 85 + 4
	if got != want {
		t.Fatalf("estimate = %d, want %d", got, want)
	}
}

func TestErrorBrief(t *testing.T) {
	body := `{"error":{"message":"Quota exceeded for requests per minute","status":"RESOURCE_EXHAUSTED"}}`
	got := ErrorBrief(body, 429)
	if got != "RESOURCE_EXHAUSTED: Quota exceeded for requests per minute" {
		t.Fatalf("unexpected brief: %q", got)
	}

	if got := ErrorBrief(`{"error":"flat message"}`, 0); got != "flat message" {
		t.Fatalf("string error object: %q", got)
	}

	if got := ErrorBrief("<html>gateway timeout</html>", 504); got != "HTTP 504: <html>gateway timeout</html>" {
		t.Fatalf("plain-text fallback: %q", got)
	}

	if got := ErrorBrief("", 502); got != "HTTP 502" {
		t.Fatalf("empty body fallback: %q", got)
	}

	long := `{"error":{"message":"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa","status":"INTERNAL"}}`
	if got := ErrorBrief(long, 500); len(got) > 100 {
		t.Fatalf("brief exceeds 100 chars: %d", len(got))
	}
}
