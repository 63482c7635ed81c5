package history

import (
	"encoding/json"
	"fmt"
)

const (
	RoleSystem = "system"
	RoleHuman  = "user"
	RoleAI     = "assistant"
)

// Content is a tagged variant: a message carries either plain text or a
// vision payload. Keeping the shapes explicit lets the formatter and the
// completion-request builder handle each case exhaustively.
type Content interface {
	isContent()
	String() string
}

type TextContent struct {
	Text string
}

func (TextContent) isContent()       {}
func (c TextContent) String() string { return c.Text }

type ImageContent struct {
	Caption string
	URL     string
}

func (ImageContent) isContent()       {}
func (c ImageContent) String() string { return c.Caption }

type Message struct {
	Role    string
	Content Content
}

func (m Message) IsText() bool {
	_, ok := m.Content.(TextContent)
	return ok
}

func (m Message) IsImage() bool {
	_, ok := m.Content.(ImageContent)
	return ok
}

type messageJSON struct {
	Role    string `json:"role"`
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	Caption string `json:"caption,omitempty"`
	URL     string `json:"url,omitempty"`
}

func (m Message) MarshalJSON() ([]byte, error) {
	switch c := m.Content.(type) {
	case TextContent:
		return json.Marshal(messageJSON{Role: m.Role, Type: "text", Text: c.Text})
	case ImageContent:
		return json.Marshal(messageJSON{Role: m.Role, Type: "image", Caption: c.Caption, URL: c.URL})
	default:
		return nil, fmt.Errorf("unknown message content %T", m.Content)
	}
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var raw messageJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Role = raw.Role
	switch raw.Type {
	case "image":
		m.Content = ImageContent{Caption: raw.Caption, URL: raw.URL}
	case "text", "":
		m.Content = TextContent{Text: raw.Text}
	default:
		return fmt.Errorf("unknown message content type %q", raw.Type)
	}
	return nil
}
