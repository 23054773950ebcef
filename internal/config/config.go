// Package config loads the runtime configuration from YAML or JSON, merges
// environment overrides, and hot-reloads the file on change.
package config

import "time"

// ProviderConfig describes one configured backend.
type ProviderConfig struct {
	// Kind selects the adapter: "openai", "openrouter", "google" (the
	// OpenAI-compatibility endpoint) or "gemini" (native).
	Kind    string   `yaml:"kind" json:"kind"`
	BaseURL string   `yaml:"base_url" json:"base_url"`
	APIKeys []string `yaml:"api_keys" json:"api_keys"`

	// Thinking settings. ReasoningEffort applies to OpenAI-wire backends,
	// ThinkingBudget/ThinkingLevel to the native backend.
	ReasoningEffort string `yaml:"reasoning_effort" json:"reasoning_effort"`
	ThinkingBudget  int    `yaml:"thinking_budget" json:"thinking_budget"`
	ThinkingLevel   string `yaml:"thinking_level" json:"thinking_level"`
}

// FileConfig is the on-disk configuration shape.
type FileConfig struct {
	Providers map[string]ProviderConfig `yaml:"providers" json:"providers"`

	MaxRetries            int `yaml:"max_retries" json:"max_retries"`
	RetryDelaySeconds     int `yaml:"retry_delay_seconds" json:"retry_delay_seconds"`
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds" json:"request_timeout_seconds"`

	Debug   bool   `yaml:"debug" json:"debug"`
	LogFile string `yaml:"log_file" json:"log_file"`
}

func defaultConfig() *FileConfig {
	return &FileConfig{
		Providers:             map[string]ProviderConfig{},
		MaxRetries:            3,
		RetryDelaySeconds:     5,
		RequestTimeoutSeconds: 120,
	}
}

// RetryDelay returns the configured per-retry delay.
func (c *FileConfig) RetryDelay() time.Duration {
	return time.Duration(c.RetryDelaySeconds) * time.Second
}

// RequestTimeout returns the configured generation timeout.
func (c *FileConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// clone returns a deep copy so callers never share mutable state with the
// manager.
func (c *FileConfig) clone() *FileConfig {
	out := *c
	out.Providers = make(map[string]ProviderConfig, len(c.Providers))
	for name, pc := range c.Providers {
		keys := make([]string, len(pc.APIKeys))
		copy(keys, pc.APIKeys)
		pc.APIKeys = keys
		out.Providers[name] = pc
	}
	return &out
}
