package provider

// Token estimation fallback, used when a backend omits usage metadata on a
// successful response. Roughly 4 characters per token, a small fixed overhead
// per message, and a flat cost per embedded image.

const (
	charsPerToken      = 4
	perMessageOverhead = 4
	tokensPerImagePart = 85
)

// EstimateTokens approximates the token count of a text.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	n := len(text) / charsPerToken
	if n < 1 {
		n = 1
	}
	return n
}

// EstimateMessageTokens approximates the prompt token count of a message
// list, counting text parts by length and images at a flat rate.
func EstimateMessageTokens(messages []Message) int {
	total := 0
	for _, msg := range messages {
		if msg.Content != "" {
			total += EstimateTokens(msg.Content)
		}
		for _, part := range msg.Parts {
			switch part.Type {
			case PartText:
				total += EstimateTokens(part.Text)
			case PartImageURL:
				total += tokensPerImagePart
			}
		}
		total += perMessageOverhead
	}
	return total
}

// EstimatedUsage builds the flagged usage fallback from the conversation and
// the accumulated output.
func EstimatedUsage(messages []Message, content, thinking string) *Usage {
	in := EstimateMessageTokens(messages)
	out := EstimateTokens(content + thinking)
	return &Usage{
		PromptTokens:     in,
		CompletionTokens: out,
		TotalTokens:      in + out,
		Estimated:        true,
	}
}
