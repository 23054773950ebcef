// Package gemini adapts the canonical message format to the native
// generativelanguage API: camelCase request schema, thinkingConfig by model
// generation, SSE streaming, and the resumable Files upload sub-protocol.
package gemini

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"modelgate/internal/keypool"
	"modelgate/internal/provider"
)

const (
	defaultBaseURL       = "https://generativelanguage.googleapis.com/v1beta"
	defaultUploadBaseURL = "https://generativelanguage.googleapis.com/upload/v1beta"
)

// Config carries the adapter's endpoint and thinking settings.
type Config struct {
	BaseURL       string
	UploadBaseURL string

	// ThinkingBudget is the token budget for budget-generation models.
	// -1 means auto/unlimited.
	ThinkingBudget int
	// ThinkingLevel is "low" or "high" for level-generation models.
	ThinkingLevel string

	RequestTimeout time.Duration
	ListTimeout    time.Duration
}

// Provider is the native adapter. Safe for concurrent use.
type Provider struct {
	provider.Base
	cfg    Config
	client *http.Client
	lister *http.Client

	mu       sync.Mutex
	uploaded map[string]*FileHandle // keyed by absolute source path
}

// New builds the adapter with the standard endpoint defaults.
func New(cfg Config, keys *keypool.Pool, policy provider.Policy) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.UploadBaseURL == "" {
		cfg.UploadBaseURL = defaultUploadBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	cfg.UploadBaseURL = strings.TrimRight(cfg.UploadBaseURL, "/")
	if cfg.ThinkingBudget == 0 {
		cfg.ThinkingBudget = -1
	}
	if cfg.ThinkingLevel == "" {
		cfg.ThinkingLevel = "high"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 120 * time.Second
	}
	if cfg.ListTimeout <= 0 {
		cfg.ListTimeout = 30 * time.Second
	}

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
		Base:     provider.NewBase("gemini", keys, policy),
		cfg:      cfg,
		client:   &http.Client{Transport: tr, Timeout: cfg.RequestTimeout},
		lister:   &http.Client{Transport: tr, Timeout: cfg.ListTimeout},
		uploaded: make(map[string]*FileHandle),
	}
}

// generateURL builds the model invocation URL. The key travels as a query
// parameter, not a header.
func (p *Provider) generateURL(model, apiKey string, streaming bool) string {
	if streaming {
		return fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse&key=%s",
			p.cfg.BaseURL, url.PathEscape(model), url.QueryEscape(apiKey))
	}
	return fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		p.cfg.BaseURL, url.PathEscape(model), url.QueryEscape(apiKey))
}

// Model-family helpers. Detection is by substring so dated and -latest
// variants resolve with their base generation.

func isGemini3(model string) bool {
	return strings.Contains(strings.ToLower(model), "gemini-3")
}

func isGemma(model string) bool {
	return strings.Contains(strings.ToLower(model), "gemma")
}

// GenerateStream issues a streaming call with the full retry loop.
func (p *Provider) GenerateStream(ctx context.Context, messages []provider.Message, model string, params provider.Params, cb provider.StreamCallback) provider.Result {
	attempt := 0
	return p.Execute(ctx, cb, func(key string) provider.Outcome {
		p.LogRequest(model, params.ThinkingEnabled, true, attempt)
		out := p.attemptStream(ctx, key, messages, model, params, cb)
		attempt++
		return out
	})
}

// Generate issues a non-streaming call with the full retry loop.
func (p *Provider) Generate(ctx context.Context, messages []provider.Message, model string, params provider.Params) provider.Result {
	attempt := 0
	return p.Execute(ctx, nil, func(key string) provider.Outcome {
		p.LogRequest(model, params.ThinkingEnabled, false, attempt)
		out := p.attemptOnce(ctx, key, messages, model, params)
		attempt++
		return out
	})
}
