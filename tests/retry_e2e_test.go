package tests

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"modelgate/internal/config"
	"modelgate/internal/gateway"
	"modelgate/internal/keypool"
	"modelgate/internal/provider"
	"modelgate/internal/provider/openaicompat"
)

func fastPolicy() provider.Policy {
	policy := provider.DefaultPolicy()
	policy.RetryDelay = time.Millisecond
	policy.NetworkErrorDelay = time.Millisecond
	return policy
}

// Exhausting every key on rate limits must sweep the whole pool once, wrap
// back to the first key, and give up when the retry budget runs out.
func TestKeySweepOnPersistentRateLimit(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Header.Get("Authorization"))
		mu.Unlock()
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"quota exceeded","type":"rate_limit"}}`)
	}))
	defer upstream.Close()

	policy := fastPolicy()
	policy.MaxRetries = 3
	p := openaicompat.New(
		openaicompat.Config{Kind: openaicompat.KindCustom, BaseURL: upstream.URL},
		keypool.New("sweep", []string{"k1", "k2", "k3"}),
		policy,
	)

	res := p.Generate(context.Background(), []provider.Message{{Role: provider.RoleUser, Content: "hi"}},
		"m", provider.Params{})
	require.False(t, res.Success)
	require.Equal(t, 3, res.RetryCount)

	mu.Lock()
	defer mu.Unlock()
	// 4 attempts total: k1 then rotation through k2, k3, and back to k1.
	require.Equal(t, []string{"Bearer k1", "Bearer k2", "Bearer k3", "Bearer k1"}, seen)
}

// Auth failures on one key must not poison the pool: the next key serves the
// request and the result reports a single retry.
func TestAuthErrorRotatesToHealthyKey(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer revoked" {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error":{"message":"invalid api key","type":"auth"}}`)
			return
		}
		fmt.Fprint(w, `{"choices":[{"message":{"content":"served"}}],"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`)
	}))
	defer upstream.Close()

	p := openaicompat.New(
		openaicompat.Config{Kind: openaicompat.KindCustom, BaseURL: upstream.URL},
		keypool.New("auth", []string{"revoked", "good"}),
		fastPolicy(),
	)

	res := p.Generate(context.Background(), []provider.Message{{Role: provider.RoleUser, Content: "hi"}},
		"m", provider.Params{})
	require.True(t, res.Success, res.Error)
	require.Equal(t, "served", res.Content)
	require.Equal(t, 1, res.RetryCount)

	// Next call starts on the rotated-to key without another probe of the
	// revoked one.
	res = p.Generate(context.Background(), []provider.Message{{Role: provider.RoleUser, Content: "hi"}},
		"m", provider.Params{})
	require.True(t, res.Success)
	require.Equal(t, 0, res.RetryCount)
}

// Server errors retry on the same key; no rotation happens.
func TestServerErrorKeepsKey(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, r.Header.Get("Authorization"))
		calls := len(seen)
		mu.Unlock()
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, `{"error":{"message":"overloaded"}}`)
			return
		}
		fmt.Fprint(w, `{"choices":[{"message":{"content":"ok"}}],"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`)
	}))
	defer upstream.Close()

	p := openaicompat.New(
		openaicompat.Config{Kind: openaicompat.KindCustom, BaseURL: upstream.URL},
		keypool.New("srv", []string{"k1", "k2"}),
		fastPolicy(),
	)

	res := p.Generate(context.Background(), []provider.Message{{Role: provider.RoleUser, Content: "hi"}},
		"m", provider.Params{})
	require.True(t, res.Success, res.Error)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"Bearer k1", "Bearer k1"}, seen)
}

// End to end through the config file and factory: YAML in, streamed tokens
// out, usage reported by the upstream.
func TestConfigToStreamedCompletion(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"str\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"eamed\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[],\"usage\":{\"prompt_tokens\":2,\"completion_tokens\":2,\"total_tokens\":4}}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer upstream.Close()

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	content := fmt.Sprintf(`
retry_delay_seconds: 1
providers:
  local:
    kind: openai
    base_url: %s
    api_keys: [k1]
`, upstream.URL)
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))

	manager, err := config.NewManager(configPath)
	require.NoError(t, err)
	defer manager.Close()

	cfg := manager.Get()
	backend, err := gateway.ForProvider("local", cfg.Providers["local"], cfg)
	require.NoError(t, err)

	var streamed string
	res := backend.GenerateStream(context.Background(),
		[]provider.Message{{Role: provider.RoleUser, Content: "go"}},
		"m", provider.Params{}, func(ev provider.EventType, payload any) {
			if ev == provider.EventText {
				streamed += payload.(string)
			}
		})

	require.True(t, res.Success, res.Error)
	require.Equal(t, "streamed", streamed)
	require.Equal(t, "streamed", res.Content)
	require.NotNil(t, res.Usage)
	require.Equal(t, 4, res.Usage.TotalTokens)
	require.False(t, res.Usage.Estimated)
}

// Cancellation between attempts stops the retry loop promptly.
func TestCancellationStopsRetries(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"quota"}}`)
	}))
	defer upstream.Close()

	policy := provider.DefaultPolicy()
	policy.RetryDelay = 10 * time.Second
	p := openaicompat.New(
		openaicompat.Config{Kind: openaicompat.KindCustom, BaseURL: upstream.URL},
		keypool.New("cancel", []string{"k1"}),
		policy,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	res := p.Generate(ctx, []provider.Message{{Role: provider.RoleUser, Content: "hi"}},
		"m", provider.Params{})
	require.False(t, res.Success)
	require.Less(t, time.Since(start), 5*time.Second)
}
