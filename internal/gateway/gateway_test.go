package gateway

import (
	"testing"

	"modelgate/internal/config"
)

func TestForProviderKinds(t *testing.T) {
	cfg := &config.FileConfig{MaxRetries: 2, RetryDelaySeconds: 1, RequestTimeoutSeconds: 30}

	cases := []struct {
		name string
		pc   config.ProviderConfig
		want string
	}{
		{"gem", config.ProviderConfig{Kind: "gemini", APIKeys: []string{"k"}}, "gemini"},
		{"router", config.ProviderConfig{Kind: "openrouter", APIKeys: []string{"k"}}, "openai-compat/openrouter"},
		{"goog", config.ProviderConfig{Kind: "google", APIKeys: []string{"k"}}, "openai-compat/google"},
		{"local", config.ProviderConfig{Kind: "openai", BaseURL: "http://localhost:8080/v1", APIKeys: []string{"k"}}, "openai-compat/custom"},
	}
	for _, tc := range cases {
		p, err := ForProvider(tc.name, tc.pc, cfg)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if p.Name() != tc.want {
			t.Errorf("%s: name = %q, want %q", tc.name, p.Name(), tc.want)
		}
	}
}

func TestForProviderUnknownKind(t *testing.T) {
	if _, err := ForProvider("x", config.ProviderConfig{Kind: "mystery"}, nil); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestForProviderCustomRequiresBaseURL(t *testing.T) {
	if _, err := ForProvider("x", config.ProviderConfig{Kind: "openai"}, nil); err == nil {
		t.Fatal("expected error for missing base_url")
	}
}
