package openaicompat

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/sjson"

	"modelgate/internal/provider"
)

// Safety thresholds for Google's compatibility endpoint. The endpoint
// requires BLOCK_NONE (not OFF) and expects the block on every request,
// reasoning or not.
var googleSafetySettings = []map[string]string{
	{"category": "HARM_CATEGORY_HATE_SPEECH", "threshold": "BLOCK_NONE"},
	{"category": "HARM_CATEGORY_DANGEROUS_CONTENT", "threshold": "BLOCK_NONE"},
	{"category": "HARM_CATEGORY_SEXUALLY_EXPLICIT", "threshold": "BLOCK_NONE"},
	{"category": "HARM_CATEGORY_HARASSMENT", "threshold": "BLOCK_NONE"},
}

// Subtypes whose wire tag differs from the MIME subtype.
var audioFormatRemap = map[string]string{
	"mpeg":  "mp3",
	"mp4":   "m4a",
	"x-m4a": "m4a",
	"x-wav": "wav",
	"wave":  "wav",
}

// buildBody assembles the request body for both streaming and non-streaming
// calls. Generation params are copied through except the stream controls the
// adapter owns.
func (p *Provider) buildBody(messages []provider.Message, model string, params provider.Params, streaming bool) ([]byte, error) {
	body := map[string]any{
		"model":    model,
		"messages": translateMessages(messages),
	}
	if streaming {
		body["stream"] = true
		body["stream_options"] = map[string]any{"include_usage": true}
	}
	for k, v := range params.Options {
		if k == "stream" || k == "stream_options" || v == nil {
			continue
		}
		body[k] = v
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	if params.ThinkingEnabled {
		if raw, err = sjson.SetBytes(raw, "reasoning_effort", p.cfg.ReasoningEffort); err != nil {
			return nil, err
		}
	}
	// Safety thresholds are mandatory on the Google endpoint even with
	// reasoning off; include_thoughts only rides along when it is on.
	if p.isGoogleEndpoint() {
		if raw, err = sjson.SetBytes(raw, "extra_body.google.safety_settings", googleSafetySettings); err != nil {
			return nil, err
		}
		if params.ThinkingEnabled {
			if raw, err = sjson.SetBytes(raw, "extra_body.google.thinking_config.include_thoughts", true); err != nil {
				return nil, err
			}
		}
	}
	return raw, nil
}

// translateMessages converts canonical messages to the OpenAI wire shape.
func translateMessages(messages []provider.Message) []any {
	out := make([]any, 0, len(messages))
	for _, msg := range messages {
		if msg.Parts == nil {
			out = append(out, map[string]any{"role": msg.Role, "content": msg.Content})
			continue
		}
		parts := make([]any, 0, len(msg.Parts))
		for _, part := range msg.Parts {
			parts = append(parts, translatePart(part))
		}
		out = append(out, map[string]any{"role": msg.Role, "content": parts})
	}
	return out
}

// translatePart maps one canonical part to its wire form. Inline audio
// becomes a structured input_audio part, generic binary becomes a file
// reference, and anything unrecognized passes through unchanged.
func translatePart(part provider.Part) any {
	switch part.Type {
	case provider.PartText:
		return map[string]any{"type": "text", "text": part.Text}

	case provider.PartImageURL:
		return map[string]any{"type": "image_url", "image_url": map[string]any{"url": part.ImageURL}}

	case provider.PartInlineData:
		if part.InlineData != nil && strings.HasPrefix(part.InlineData.MIMEType, "audio/") {
			return map[string]any{
				"type": "input_audio",
				"input_audio": map[string]any{
					"data":   part.InlineData.Data,
					"format": audioFormat(part.InlineData.MIMEType),
				},
			}
		}
		if part.InlineData != nil {
			return map[string]any{
				"type": "file",
				"file": map[string]any{
					"file_data": "data:" + part.InlineData.MIMEType + ";base64," + part.InlineData.Data,
				},
			}
		}

	case provider.PartFile:
		if part.File != nil {
			if part.File.URL != "" {
				return map[string]any{"type": "file", "file": map[string]any{"url": part.File.URL}}
			}
			return map[string]any{"type": "file", "file": map[string]any{"file_data": part.File.Data}}
		}
	}

	// Forward compatibility: unknown parts go out as supplied.
	if len(part.Raw) > 0 {
		var raw any
		if json.Unmarshal(part.Raw, &raw) == nil {
			return raw
		}
	}
	return part
}

// audioFormat derives the wire format tag from an audio MIME type,
// remapping ambiguous subtypes.
func audioFormat(mimeType string) string {
	sub := strings.TrimPrefix(strings.ToLower(mimeType), "audio/")
	if mapped, ok := audioFormatRemap[sub]; ok {
		return mapped
	}
	return sub
}
