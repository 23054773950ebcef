package gemini

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"modelgate/internal/provider"
)

// ListModels fetches the model catalog and keeps only generateContent-capable
// entries. Single best-effort call, no retry loop.
func (p *Provider) ListModels(ctx context.Context) ([]provider.ModelInfo, error) {
	apiKey, ok := p.Keys().Current()
	if !ok {
		return nil, fmt.Errorf("%s: no API keys configured", p.Name())
	}

	listURL := fmt.Sprintf("%s/models?key=%s&pageSize=1000", p.cfg.BaseURL, url.QueryEscape(apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, listURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := p.lister.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("list models: read body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list models: %s", provider.ErrorBrief(string(body), resp.StatusCode))
	}

	list := gjson.GetBytes(body, "models")
	if !list.IsArray() {
		return nil, fmt.Errorf("list models: unexpected response shape")
	}

	var models []provider.ModelInfo
	list.ForEach(func(_, item gjson.Result) bool {
		if !supportsGenerate(item) {
			return true
		}
		id := strings.TrimPrefix(item.Get("name").String(), "models/")
		if id == "" {
			return true
		}
		info := provider.ModelInfo{
			ID:               id,
			Name:             item.Get("displayName").String(),
			OwnedBy:          "google",
			ContextLength:    int(item.Get("inputTokenLimit").Int()),
			OutputTokenLimit: int(item.Get("outputTokenLimit").Int()),
			Thinking:         item.Get("thinking").Bool(),
			Description:      item.Get("description").String(),
			Version:          item.Get("version").String(),
		}
		if info.Name == "" {
			info.Name = id
		}
		models = append(models, info)
		return true
	})
	return models, nil
}

func supportsGenerate(item gjson.Result) bool {
	for _, m := range item.Get("supportedGenerationMethods").Array() {
		if m.String() == "generateContent" {
			return true
		}
	}
	return false
}
