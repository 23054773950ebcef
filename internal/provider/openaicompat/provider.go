// Package openaicompat adapts the canonical message format to OpenAI-wire
// chat-completion endpoints: custom deployments, the OpenRouter aggregator,
// and Google's OpenAI-compatibility endpoint.
package openaicompat

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"modelgate/internal/keypool"
	"modelgate/internal/provider"
)

// Endpoint kinds understood by the adapter.
const (
	KindCustom     = "custom"
	KindOpenRouter = "openrouter"
	KindGoogle     = "google"
)

// OpenRouter identifies callers through these two headers in addition to
// bearer auth.
const (
	openRouterReferer = "http://localhost"
	openRouterTitle   = "modelgate"
)

// Config carries the adapter's endpoint and reasoning settings.
type Config struct {
	Kind            string
	BaseURL         string
	ReasoningEffort string // default "high"
	RequestTimeout  time.Duration
	ListTimeout     time.Duration
}

// Provider is the OpenAI-wire adapter. It is safe for concurrent use; each
// call runs the shared retry loop on the caller's goroutine.
type Provider struct {
	provider.Base
	cfg    Config
	client *http.Client
	lister *http.Client
}

// New builds the adapter. The base URL is normalized so both the bare API
// root and a full .../chat/completions form are accepted.
func New(cfg Config, keys *keypool.Pool, policy provider.Policy) *Provider {
	if cfg.ReasoningEffort == "" {
		cfg.ReasoningEffort = "high"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 120 * time.Second
	}
	if cfg.ListTimeout <= 0 {
		cfg.ListTimeout = 30 * time.Second
	}
	cfg.BaseURL = normalizeBaseURL(cfg.BaseURL)

	tr := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
		MaxIdleConns:        16,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Provider{
		Base:   provider.NewBase("openai-compat/"+cfg.Kind, keys, policy),
		cfg:    cfg,
		client: &http.Client{Transport: tr, Timeout: cfg.RequestTimeout},
		lister: &http.Client{Transport: tr, Timeout: cfg.ListTimeout},
	}
}

// normalizeBaseURL strips trailing slashes and a trailing /chat/completions
// suffix from a configured base URL.
func normalizeBaseURL(url string) string {
	url = strings.TrimSpace(url)
	url = strings.TrimRight(url, "/")
	url = strings.TrimSuffix(url, "/chat/completions")
	return strings.TrimRight(url, "/")
}

func (p *Provider) completionsURL() string { return p.cfg.BaseURL + "/chat/completions" }
func (p *Provider) modelsURL() string      { return p.cfg.BaseURL + "/models" }

// isGoogleEndpoint reports whether the side-channel extension block must be
// attached. Detection is by explicit kind or by substring on the base URL.
func (p *Provider) isGoogleEndpoint() bool {
	if p.cfg.Kind == KindGoogle {
		return true
	}
	lower := strings.ToLower(p.cfg.BaseURL)
	return strings.Contains(lower, "googleapis.com") || strings.Contains(lower, "google")
}

func (p *Provider) headers(req *http.Request, apiKey string) {
	req.Header.Set("Authorization", "Bearer "+apiKey)
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.Kind == KindOpenRouter {
		req.Header.Set("HTTP-Referer", openRouterReferer)
		req.Header.Set("X-Title", openRouterTitle)
	}
}

// GenerateStream issues a streaming completion with the full retry loop.
func (p *Provider) GenerateStream(ctx context.Context, messages []provider.Message, model string, params provider.Params, cb provider.StreamCallback) provider.Result {
	attempt := 0
	return p.Execute(ctx, cb, func(key string) provider.Outcome {
		p.LogRequest(model, params.ThinkingEnabled, true, attempt)
		out := p.attemptStream(ctx, key, messages, model, params, cb)
		attempt++
		return out
	})
}

// Generate issues a non-streaming completion with the full retry loop.
func (p *Provider) Generate(ctx context.Context, messages []provider.Message, model string, params provider.Params) provider.Result {
	attempt := 0
	return p.Execute(ctx, nil, func(key string) provider.Outcome {
		p.LogRequest(model, params.ThinkingEnabled, false, attempt)
		out := p.attemptOnce(ctx, key, messages, model, params)
		attempt++
		return out
	})
}
