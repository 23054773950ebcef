// Package provider defines the canonical message/result types shared by all
// backend adapters together with the retry policy every adapter runs under.
package provider

import "context"

// Message roles in the canonical conversation format.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Part types in a multi-part message.
const (
	PartText       = "text"
	PartImageURL   = "image_url"
	PartInlineData = "inline_data"
	PartFileData   = "file_data"
	PartFile       = "file"
)

// Message is one conversation turn. Content carries plain text; Parts carries
// an ordered multi-part body. Exactly one of the two is set, and part order
// is preserved end to end.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content,omitempty"`
	Parts   []Part `json:"parts,omitempty"`
}

// Part is a single typed element of a multi-part message body. Only the field
// matching Type is populated; Raw keeps unrecognized parts intact so they can
// pass through to the wire unchanged.
type Part struct {
	Type       string      `json:"type"`
	Text       string      `json:"text,omitempty"`
	ImageURL   string      `json:"image_url,omitempty"`
	InlineData *InlineData `json:"inline_data,omitempty"`
	FileData   *FileData   `json:"file_data,omitempty"`
	File       *FileRef    `json:"file,omitempty"`
	Raw        []byte      `json:"-"`
}

// InlineData is base64 binary content carried inside the request.
type InlineData struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

// FileData references a previously uploaded remote object.
type FileData struct {
	MIMEType string `json:"mime_type"`
	FileURI  string `json:"file_uri"`
}

// FileRef is a generic file attachment: either a URL (possibly a data URL) or
// raw base64 data, whichever the caller supplied.
type FileRef struct {
	URL  string `json:"url,omitempty"`
	Data string `json:"data,omitempty"`
}

// Params holds free-form generation knobs (temperature, top_p, top_k,
// max_tokens, ...) plus the flag that turns on backend-specific extended
// reasoning configuration.
type Params struct {
	Options         map[string]any
	ThinkingEnabled bool
}

// Get returns an option value, or nil when unset.
func (p Params) Get(key string) any {
	if p.Options == nil {
		return nil
	}
	return p.Options[key]
}

// Float returns a float option with a fallback default.
func (p Params) Float(key string, def float64) float64 {
	switch v := p.Get(key).(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}

// Int returns an integer option with a fallback default.
func (p Params) Int(key string, def int) int {
	switch v := p.Get(key).(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return def
}

// ToolCall is one structured function invocation requested by the model.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall carries the function name and its JSON-encoded arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Usage holds token accounting for one completed call. Estimated is true when
// the backend omitted real counts and the engine approximated them from
// character length.
type Usage struct {
	PromptTokens     int  `json:"prompt_tokens"`
	CompletionTokens int  `json:"completion_tokens"`
	TotalTokens      int  `json:"total_tokens"`
	Estimated        bool `json:"estimated"`
}

// Result is the terminal outcome of one top-level generation call. Retries
// happen inside the adapter; RetryCount reports how many were spent. A
// top-level call always returns a Result, never a panic or naked error.
type Result struct {
	Success         bool       `json:"success"`
	Content         string     `json:"content"`
	ThinkingContent string     `json:"thinking_content,omitempty"`
	ToolCalls       []ToolCall `json:"tool_calls,omitempty"`
	Usage           *Usage     `json:"usage,omitempty"`
	Error           string     `json:"error,omitempty"`
	RetryCount      int        `json:"retry_count"`
}

// HasContent reports whether the result carries any meaningful output.
func (r Result) HasContent() bool {
	return trimmed(r.Content) || trimmed(r.ThinkingContent) || len(r.ToolCalls) > 0
}

func trimmed(s string) bool {
	for _, c := range s {
		if c != ' ' && c != '\t' && c != '\n' && c != '\r' {
			return true
		}
	}
	return false
}

// EventType identifies a streaming callback event.
type EventType string

// Streaming event vocabulary. Text/Thinking carry the incremental chunk text,
// ToolCalls carries the new calls from that chunk, Usage a *Usage, Error the
// error string, Done nothing.
const (
	EventText      EventType = "text"
	EventThinking  EventType = "thinking"
	EventToolCalls EventType = "tool_calls"
	EventUsage     EventType = "usage"
	EventDone      EventType = "done"
	EventError     EventType = "error"
)

// StreamCallback receives streaming events synchronously, in arrival order,
// on the calling goroutine. It must not block indefinitely.
type StreamCallback func(event EventType, payload any)

// Provider is the capability set every backend adapter implements.
type Provider interface {
	Name() string
	Generate(ctx context.Context, messages []Message, model string, params Params) Result
	GenerateStream(ctx context.Context, messages []Message, model string, params Params, cb StreamCallback) Result
	ListModels(ctx context.Context) ([]ModelInfo, error)
}

// ModelInfo describes one entry of a backend's model catalog.
type ModelInfo struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	OwnedBy          string `json:"owned_by,omitempty"`
	ContextLength    int    `json:"context_length,omitempty"`
	OutputTokenLimit int    `json:"output_token_limit,omitempty"`
	Thinking         bool   `json:"thinking"`
	Description      string `json:"description,omitempty"`
	Version          string `json:"version,omitempty"`
}
