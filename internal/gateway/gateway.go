// Package gateway wires configuration into concrete provider adapters.
package gateway

import (
	"fmt"

	"modelgate/internal/config"
	"modelgate/internal/keypool"
	"modelgate/internal/provider"
	"modelgate/internal/provider/gemini"
	"modelgate/internal/provider/openaicompat"
)

// ForProvider builds the adapter for one named provider entry. The key pool
// is fresh per call; callers that want rotation state to persist across
// requests hold on to the returned provider.
func ForProvider(name string, pc config.ProviderConfig, cfg *config.FileConfig) (provider.Provider, error) {
	pool := keypool.New(name, pc.APIKeys)

	policy := provider.DefaultPolicy()
	if cfg != nil {
		if cfg.MaxRetries > 0 {
			policy.MaxRetries = cfg.MaxRetries
		}
		if cfg.RetryDelaySeconds > 0 {
			policy.RetryDelay = cfg.RetryDelay()
		}
	}

	switch pc.Kind {
	case "gemini":
		gcfg := gemini.Config{
			BaseURL:        pc.BaseURL,
			ThinkingBudget: pc.ThinkingBudget,
			ThinkingLevel:  pc.ThinkingLevel,
		}
		if cfg != nil && cfg.RequestTimeoutSeconds > 0 {
			gcfg.RequestTimeout = cfg.RequestTimeout()
		}
		return gemini.New(gcfg, pool, policy), nil

	case "openai", "custom":
		return newCompat(openaicompat.KindCustom, pc, cfg, pool, policy)
	case "openrouter":
		return newCompat(openaicompat.KindOpenRouter, pc, cfg, pool, policy)
	case "google":
		return newCompat(openaicompat.KindGoogle, pc, cfg, pool, policy)

	default:
		return nil, fmt.Errorf("unknown provider kind %q for %q", pc.Kind, name)
	}
}

func newCompat(kind string, pc config.ProviderConfig, cfg *config.FileConfig, pool *keypool.Pool, policy provider.Policy) (provider.Provider, error) {
	if pc.BaseURL == "" && kind == openaicompat.KindCustom {
		return nil, fmt.Errorf("provider kind %q requires base_url", pc.Kind)
	}
	ocfg := openaicompat.Config{
		Kind:            kind,
		BaseURL:         pc.BaseURL,
		ReasoningEffort: pc.ReasoningEffort,
	}
	if ocfg.BaseURL == "" && kind == openaicompat.KindOpenRouter {
		ocfg.BaseURL = "https://openrouter.ai/api/v1"
	}
	if ocfg.BaseURL == "" && kind == openaicompat.KindGoogle {
		ocfg.BaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"
	}
	if cfg != nil && cfg.RequestTimeoutSeconds > 0 {
		ocfg.RequestTimeout = cfg.RequestTimeout()
	}
	return openaicompat.New(ocfg, pool, policy), nil
}
