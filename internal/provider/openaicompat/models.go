package openaicompat

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"

	"modelgate/internal/provider"
)

// Substrings that mark a model as reasoning-capable when the listing does
// not advertise supported_parameters.
var reasoningHints = []string{"thinking", "o1", "o3", "deepseek-r1", "-r1"}

// ListModels fetches the upstream model catalog. Listing is a single
// best-effort call with the current key; it does not go through the retry
// loop.
func (p *Provider) ListModels(ctx context.Context) ([]provider.ModelInfo, error) {
	apiKey, ok := p.Keys().Current()
	if !ok {
		return nil, fmt.Errorf("%s: no API keys configured", p.Name())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.modelsURL(), nil)
	if err != nil {
		return nil, err
	}
	p.headers(req, apiKey)

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

	// Either {"data": [...]} or a bare JSON array.
	list := gjson.GetBytes(body, "data")
	if !list.IsArray() {
		list = gjson.ParseBytes(body)
	}
	if !list.IsArray() {
		return nil, fmt.Errorf("list models: unexpected response shape")
	}

	var models []provider.ModelInfo
	list.ForEach(func(_, item gjson.Result) bool {
		id := item.Get("id").String()
		if id == "" {
			return true
		}
		info := provider.ModelInfo{
			ID:            id,
			Name:          item.Get("name").String(),
			OwnedBy:       item.Get("owned_by").String(),
			ContextLength: int(item.Get("context_length").Int()),
			Description:   item.Get("description").String(),
			Thinking:      modelSupportsReasoning(item),
		}
		if info.Name == "" {
			info.Name = id
		}
		models = append(models, info)
		return true
	})
	return models, nil
}

func modelSupportsReasoning(item gjson.Result) bool {
	if params := item.Get("supported_parameters"); params.IsArray() {
		for _, p := range params.Array() {
			if p.String() == "reasoning" || p.String() == "include_reasoning" {
				return true
			}
		}
		return false
	}
	id := strings.ToLower(item.Get("id").String())
	for _, hint := range reasoningHints {
		if strings.Contains(id, hint) {
			return true
		}
	}
	return false
}
