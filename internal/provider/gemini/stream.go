package gemini

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"modelgate/internal/provider"
)

const maxErrorBody = 64 * 1024

func (p *Provider) attemptStream(ctx context.Context, apiKey string, messages []provider.Message, model string, params provider.Params, cb provider.StreamCallback) provider.Outcome {
	body, err := p.buildBody(messages, model, params)
	if err != nil {
		return provider.Failure(provider.ReasonNonRetryable, fmt.Sprintf("encode request: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.generateURL(model, apiKey, true), bytes.NewReader(body))
	if err != nil {
		return provider.Failure(provider.ReasonNonRetryable, fmt.Sprintf("build request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return provider.Failure(provider.ReasonNetworkError, fmt.Sprintf("network error: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return classifyHTTPError(resp)
	}

	acc := newAccumulator(cb)
	if err := acc.consume(resp.Body); err != nil {
		return provider.Failure(provider.ReasonNetworkError, fmt.Sprintf("stream interrupted: %v", err))
	}
	acc.emit(provider.EventDone, nil)
	return finish(messages, acc, cb)
}

func (p *Provider) attemptOnce(ctx context.Context, apiKey string, messages []provider.Message, model string, params provider.Params) provider.Outcome {
	body, err := p.buildBody(messages, model, params)
	if err != nil {
		return provider.Failure(provider.ReasonNonRetryable, fmt.Sprintf("encode request: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.generateURL(model, apiKey, false), bytes.NewReader(body))
	if err != nil {
		return provider.Failure(provider.ReasonNonRetryable, fmt.Sprintf("build request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return provider.Failure(provider.ReasonNetworkError, fmt.Sprintf("network error: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return classifyHTTPError(resp)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return provider.Failure(provider.ReasonNetworkError, fmt.Sprintf("read response: %v", err))
	}

	acc := newAccumulator(nil)
	if gjson.ValidBytes(payload) {
		acc.absorbChunk(gjson.ParseBytes(payload))
	} else {
		log.Warn("malformed response body")
	}
	return finish(messages, acc, nil)
}

func finish(messages []provider.Message, acc *accumulator, cb provider.StreamCallback) provider.Outcome {
	completion := 0
	if acc.usage != nil {
		completion = acc.usage.CompletionTokens
	}
	if provider.DetectEmptyResponse(acc.content.String(), acc.thinking.String(), acc.toolCalls, completion) {
		return provider.Failure(provider.ReasonEmptyResponse, "empty response (0 completion tokens, no content)")
	}

	if acc.usage == nil {
		acc.usage = provider.EstimatedUsage(messages, acc.content.String(), acc.thinking.String())
		if cb != nil {
			cb(provider.EventUsage, acc.usage)
		}
	}

	return provider.Success(provider.Result{
		Success:         true,
		Content:         acc.content.String(),
		ThinkingContent: acc.thinking.String(),
		ToolCalls:       acc.toolCalls,
		Usage:           acc.usage,
	})
}

func classifyHTTPError(resp *http.Response) provider.Outcome {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	reason := provider.Classify(resp.StatusCode)
	brief := provider.ErrorBrief(string(raw), resp.StatusCode)
	return provider.Failure(reason, fmt.Sprintf("API error (%d): %s", resp.StatusCode, brief))
}

type accumulator struct {
	cb        provider.StreamCallback
	content   strings.Builder
	thinking  strings.Builder
	toolCalls []provider.ToolCall
	usage     *provider.Usage
}

func newAccumulator(cb provider.StreamCallback) *accumulator {
	return &accumulator{cb: cb}
}

func (a *accumulator) emit(ev provider.EventType, payload any) {
	if a.cb != nil {
		a.cb(ev, payload)
	}
}

func (a *accumulator) consume(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if !gjson.Valid(data) {
			log.WithField("chunk", truncateLine(data)).Warn("malformed stream chunk")
			continue
		}
		a.absorbChunk(gjson.Parse(data))
	}
	return scanner.Err()
}

// absorbChunk extracts parts and usage from one native response object,
// streaming or not. A part is thinking when thought is true, a tool call
// when it carries functionCall, and plain content otherwise.
func (a *accumulator) absorbChunk(data gjson.Result) {
	parts := data.Get("candidates.0.content.parts")
	parts.ForEach(func(_, part gjson.Result) bool {
		switch {
		case part.Get("thought").Bool() && part.Get("text").String() != "":
			text := part.Get("text").String()
			a.thinking.WriteString(text)
			a.emit(provider.EventThinking, text)

		case part.Get("functionCall").Exists():
			a.appendFunctionCall(part.Get("functionCall"))

		case part.Get("text").Exists() && !part.Get("thought").Bool():
			text := part.Get("text").String()
			if text != "" {
				a.content.WriteString(text)
				a.emit(provider.EventText, text)
			}
		}
		return true
	})

	if usage := data.Get("usageMetadata"); usage.IsObject() {
		a.usage = &provider.Usage{
			PromptTokens:     int(usage.Get("promptTokenCount").Int()),
			CompletionTokens: int(usage.Get("candidatesTokenCount").Int()),
			TotalTokens:      int(usage.Get("totalTokenCount").Int()),
		}
		a.emit(provider.EventUsage, a.usage)
	}
}

// appendFunctionCall converts a native functionCall into the canonical tool
// call, minting a sequential id when the backend supplies none.
func (a *accumulator) appendFunctionCall(fc gjson.Result) {
	id := fc.Get("id").String()
	if id == "" {
		id = fmt.Sprintf("call_%d", len(a.toolCalls))
	}
	args := fc.Get("args").Raw
	if args == "" {
		args = "{}"
	}
	// Re-encode args so the canonical form is always compact JSON.
	var decoded any
	if err := json.Unmarshal([]byte(args), &decoded); err == nil {
		if compact, err := json.Marshal(decoded); err == nil {
			args = string(compact)
		}
	}

	call := provider.ToolCall{
		ID:   id,
		Type: "function",
		Function: provider.FunctionCall{
			Name:      fc.Get("name").String(),
			Arguments: args,
		},
	}
	a.toolCalls = append(a.toolCalls, call)
	a.emit(provider.EventToolCalls, []provider.ToolCall{call})
}

func truncateLine(s string) string {
	if len(s) > 120 {
		return s[:120]
	}
	return s
}
