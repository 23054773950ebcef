package openaicompat

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

// attemptStream performs one streaming request. Classification of the
// outcome (including the empty-response predicate) is returned to the shared
// retry loop; the loop owns rotation and delays.
func (p *Provider) attemptStream(ctx context.Context, apiKey string, messages []provider.Message, model string, params provider.Params, cb provider.StreamCallback) provider.Outcome {
	body, err := p.buildBody(messages, model, params, true)
	if err != nil {
		return provider.Failure(provider.ReasonNonRetryable, fmt.Sprintf("encode request: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.completionsURL(), bytes.NewReader(body))
	if err != nil {
		return provider.Failure(provider.ReasonNonRetryable, fmt.Sprintf("build request: %v", err))
	}
	p.headers(req, apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return provider.Failure(provider.ReasonNetworkError, fmt.Sprintf("network error: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return p.classifyHTTPError(resp)
	}

	acc := newAccumulator(cb)
	if err := acc.consume(resp.Body); err != nil {
		return provider.Failure(provider.ReasonNetworkError, fmt.Sprintf("stream interrupted: %v", err))
	}
	return p.finish(messages, acc, cb)
}

// attemptOnce performs one non-streaming request.
func (p *Provider) attemptOnce(ctx context.Context, apiKey string, messages []provider.Message, model string, params provider.Params) provider.Outcome {
	body, err := p.buildBody(messages, model, params, false)
	if err != nil {
		return provider.Failure(provider.ReasonNonRetryable, fmt.Sprintf("encode request: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.completionsURL(), bytes.NewReader(body))
	if err != nil {
		return provider.Failure(provider.ReasonNonRetryable, fmt.Sprintf("build request: %v", err))
	}
	p.headers(req, apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return provider.Failure(provider.ReasonNetworkError, fmt.Sprintf("network error: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return p.classifyHTTPError(resp)
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return provider.Failure(provider.ReasonNetworkError, fmt.Sprintf("read response: %v", err))
	}

	acc := newAccumulator(nil)
	acc.absorbBody(payload)
	return p.finish(messages, acc, nil)
}

// finish applies the empty-response predicate and the usage-estimation
// fallback to an accumulated exchange.
func (p *Provider) finish(messages []provider.Message, acc *accumulator, cb provider.StreamCallback) provider.Outcome {
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

func (p *Provider) classifyHTTPError(resp *http.Response) provider.Outcome {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	reason := provider.Classify(resp.StatusCode)
	brief := provider.ErrorBrief(string(raw), resp.StatusCode)
	return provider.Failure(reason, fmt.Sprintf("API error (%d): %s", resp.StatusCode, brief))
}

// accumulator gathers streamed deltas into the final result while forwarding
// each increment to the callback.
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

// consume reads the SSE stream line by line. A literal "data: [DONE]"
// terminates, comment lines are heartbeats, and any other non-data line is
// tolerated with a log entry so non-conforming servers do not abort the call.
func (a *accumulator) consume(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "data: [DONE]" {
			a.emit(provider.EventDone, nil)
			return nil
		}
		if strings.HasPrefix(line, ":") {
			// SSE heartbeat comment.
			continue
		}
		if !strings.HasPrefix(line, "data: ") {
			log.WithField("line", truncateLine(line)).Debug("skipping non-SSE line")
			continue
		}
		a.absorbChunk(strings.TrimPrefix(line, "data: "))
	}
	return scanner.Err()
}

// absorbChunk extracts delta fields from one data line. Malformed chunks are
// logged and skipped rather than failing the call.
func (a *accumulator) absorbChunk(data string) {
	if !gjson.Valid(data) {
		log.WithField("chunk", truncateLine(data)).Warn("malformed stream chunk")
		return
	}

	delta := gjson.Get(data, "choices.0.delta")
	if delta.Exists() {
		if content := delta.Get("content").String(); content != "" {
			a.content.WriteString(content)
			a.emit(provider.EventText, content)
		}
		// Thinking text arrives as reasoning_content or reasoning,
		// depending on the backend.
		reasoning := delta.Get("reasoning_content").String()
		if reasoning == "" {
			reasoning = delta.Get("reasoning").String()
		}
		if reasoning != "" {
			a.thinking.WriteString(reasoning)
			a.emit(provider.EventThinking, reasoning)
		}
		if tc := delta.Get("tool_calls"); tc.IsArray() {
			a.appendToolCalls(tc.Raw)
		}
	}

	// A usage-only trailing chunk carries no choices at all.
	if usage := gjson.Get(data, "usage"); usage.IsObject() {
		a.usage = &provider.Usage{
			PromptTokens:     int(usage.Get("prompt_tokens").Int()),
			CompletionTokens: int(usage.Get("completion_tokens").Int()),
			TotalTokens:      int(usage.Get("total_tokens").Int()),
		}
		a.emit(provider.EventUsage, a.usage)
	}
}

// absorbBody applies the same field extraction to a single non-streaming
// JSON body, substituting empty structures for whatever is missing.
func (a *accumulator) absorbBody(body []byte) {
	data := string(body)
	if !gjson.Valid(data) {
		log.Warn("malformed response body")
		return
	}

	message := gjson.Get(data, "choices.0.message")
	if message.Exists() {
		a.content.WriteString(message.Get("content").String())
		reasoning := message.Get("reasoning_content").String()
		if reasoning == "" {
			reasoning = message.Get("reasoning").String()
		}
		a.thinking.WriteString(reasoning)
		if tc := message.Get("tool_calls"); tc.IsArray() {
			a.appendToolCalls(tc.Raw)
		}
	}

	if usage := gjson.Get(data, "usage"); usage.IsObject() {
		a.usage = &provider.Usage{
			PromptTokens:     int(usage.Get("prompt_tokens").Int()),
			CompletionTokens: int(usage.Get("completion_tokens").Int()),
			TotalTokens:      int(usage.Get("total_tokens").Int()),
		}
	}
}

func (a *accumulator) appendToolCalls(raw string) {
	var calls []provider.ToolCall
	if err := json.Unmarshal([]byte(raw), &calls); err != nil {
		log.WithError(err).Warn("skipping malformed tool_calls delta")
		return
	}
	if len(calls) == 0 {
		return
	}
	a.toolCalls = append(a.toolCalls, calls...)
	a.emit(provider.EventToolCalls, calls)
}

func truncateLine(s string) string {
	if len(s) > 120 {
		return s[:120]
	}
	return s
}
