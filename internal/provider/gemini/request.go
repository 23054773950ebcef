package gemini

import (
	"encoding/json"
	"regexp"

	"modelgate/internal/provider"
)

// Safety thresholds sent on every request. The native endpoint expects
// BLOCK_NONE, not OFF.
var safetySettings = []map[string]string{
	{"category": "HARM_CATEGORY_HATE_SPEECH", "threshold": "BLOCK_NONE"},
	{"category": "HARM_CATEGORY_DANGEROUS_CONTENT", "threshold": "BLOCK_NONE"},
	{"category": "HARM_CATEGORY_SEXUALLY_EXPLICIT", "threshold": "BLOCK_NONE"},
	{"category": "HARM_CATEGORY_HARASSMENT", "threshold": "BLOCK_NONE"},
}

// Strict data-URL form; anything else in an image part is dropped rather
// than sent malformed.
var dataURLPattern = regexp.MustCompile(`^data:([^;]+);base64,(.+)$`)

// buildBody assembles the full camelCase request body. Gemma models get the
// system text prepended to the first user message because they reject the
// systemInstruction field.
func (p *Provider) buildBody(messages []provider.Message, model string, params provider.Params) ([]byte, error) {
	gemma := isGemma(model)
	contents, systemText := convertMessages(messages, gemma)

	body := map[string]any{
		"contents":         contents,
		"generationConfig": p.generationConfig(params, model),
		"safetySettings":   safetySettings,
	}
	// systemInstruction deliberately carries no role.
	if systemText != "" && !gemma {
		body["systemInstruction"] = map[string]any{
			"parts": []any{map[string]any{"text": systemText}},
		}
	}
	return json.Marshal(body)
}

// generationConfig maps caller params onto the native knobs, adding the
// thinking block appropriate for the model generation. thinkingBudget and
// thinkingLevel are mutually exclusive on the wire.
func (p *Provider) generationConfig(params provider.Params, model string) map[string]any {
	config := map[string]any{
		"temperature":     params.Float("temperature", 1.0),
		"topP":            params.Float("top_p", 0.95),
		"topK":            params.Int("top_k", 0),
		"maxOutputTokens": params.Int("max_tokens", 65536),
		"candidateCount":  1,
	}
	if params.ThinkingEnabled {
		if isGemini3(model) {
			config["thinkingConfig"] = map[string]any{
				"thinkingLevel":   p.cfg.ThinkingLevel,
				"includeThoughts": true,
			}
		} else {
			config["thinkingConfig"] = map[string]any{
				"thinkingBudget":  p.cfg.ThinkingBudget,
				"includeThoughts": true,
			}
		}
	}
	return config
}

// convertMessages renames assistant to model and lifts the system turn out
// of the content list. With prependSystem, the system text is instead glued
// onto the first user message, once.
func convertMessages(messages []provider.Message, prependSystem bool) ([]any, string) {
	var contents []any
	var systemText string
	var pendingSystem string

	for _, msg := range messages {
		if msg.Role == provider.RoleSystem {
			text := extractText(msg)
			if prependSystem {
				pendingSystem = text
			} else {
				systemText = text
			}
			continue
		}

		role := "user"
		if msg.Role == provider.RoleAssistant {
			role = "model"
		}

		parts := convertParts(msg)
		if pendingSystem != "" && role == "user" && len(parts) > 0 {
			parts = append([]any{map[string]any{"text": pendingSystem + "\n\n"}}, parts...)
			pendingSystem = ""
		}
		if len(parts) > 0 {
			contents = append(contents, map[string]any{"role": role, "parts": parts})
		}
	}
	return contents, systemText
}

func extractText(msg provider.Message) string {
	if msg.Parts == nil {
		return msg.Content
	}
	text := ""
	for _, part := range msg.Parts {
		if part.Type == provider.PartText {
			if text != "" {
				text += " "
			}
			text += part.Text
		}
	}
	return text
}

// convertParts maps canonical parts to native parts, preserving order.
func convertParts(msg provider.Message) []any {
	if msg.Parts == nil {
		if msg.Content == "" {
			return nil
		}
		return []any{map[string]any{"text": msg.Content}}
	}

	var parts []any
	for _, part := range msg.Parts {
		switch part.Type {
		case provider.PartText:
			parts = append(parts, map[string]any{"text": part.Text})

		case provider.PartImageURL:
			if m := dataURLPattern.FindStringSubmatch(part.ImageURL); m != nil {
				parts = append(parts, map[string]any{
					"inlineData": map[string]any{"mimeType": m[1], "data": m[2]},
				})
			}

		case provider.PartInlineData:
			if part.InlineData != nil {
				parts = append(parts, map[string]any{
					"inlineData": map[string]any{
						"mimeType": part.InlineData.MIMEType,
						"data":     part.InlineData.Data,
					},
				})
			}

		case provider.PartFileData:
			if part.FileData != nil {
				parts = append(parts, map[string]any{
					"fileData": map[string]any{
						"mimeType": part.FileData.MIMEType,
						"fileUri":  part.FileData.FileURI,
					},
				})
			}
		}
	}
	return parts
}
