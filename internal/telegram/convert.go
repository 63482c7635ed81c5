package telegram

import (
	"strings"

	"chatkeeper/internal/history"
	"chatkeeper/internal/llm"
)

// toLLMMessages maps the history buffer onto the provider-neutral turn
// shape, handling each content variant explicitly.
func toLLMMessages(msgs []history.Message) []llm.Message {
	out := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		switch c := m.Content.(type) {
		case history.ImageContent:
			out = append(out, llm.Message{Role: m.Role, Content: c.Caption, ImageURL: c.URL})
		default:
			out = append(out, llm.Message{Role: m.Role, Content: m.Content.String()})
		}
	}
	return out
}

func containsName(text, name string) bool {
	return strings.Contains(strings.ToLower(text), strings.ToLower(name))
}
