package history

import (
	"errors"
	"fmt"
	"log"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"chatkeeper/internal/textutil"
)

const (
	defaultSystemPrompt = "You are a helpful assistant in a group chat."
	defaultVisionPrompt = "Describe the attached image for the conversation."

	// ExpiredImagePlaceholder replaces image payloads that aged out of the
	// trailing-message window on reconstruction.
	ExpiredImagePlaceholder = "[image no longer available]"

	// Three seed messages: system, human salutation, assistant salutation.
	seedMessages = 3
)

var timeMarkerRe = regexp.MustCompile(`\[\[.*?\]\]`)

// ErrEmptyBuffer is returned by Patch when there is no message to extend.
var ErrEmptyBuffer = errors.New("history buffer is empty")

type Options struct {
	// MaxMessages bounds the buffer length; the three seed messages are on
	// top of the configured conversational window.
	MaxMessages int
	// MaxTokens bounds the estimated token size of the linearized buffer.
	MaxTokens int

	SystemPrompt string
	HumanName    string
	BotName      string
	HumanGreet   string
	BotGreet     string

	// OverwriteSystemPrompt rewrites the stored system message with the
	// current default on reconstruction.
	OverwriteSystemPrompt bool
	// ImageExpiryAfter is the trailing-message threshold: human image
	// messages further than this from the tail are replaced with a
	// placeholder on reconstruction.
	ImageExpiryAfter int

	Debug bool
}

// Prompt is the ordered, budget-bounded message log for one tenant.
type Prompt struct {
	opts     Options
	messages []Message
}

func systemContent(opts Options) string {
	base := opts.SystemPrompt
	if base == "" {
		base = defaultSystemPrompt
	}
	return fmt.Sprintf(
		"Current time:[[%s]]. Always report the offset time accounting for user timezone.\n%s",
		time.Now().Format(time.RFC1123), base)
}

// New creates a prompt with the three seed messages.
func New(opts Options) *Prompt {
	p := &Prompt{opts: opts}
	humanGreet := opts.HumanGreet
	if humanGreet == "" {
		humanGreet = fmt.Sprintf("Hello, my name is %s.", nonEmpty(opts.HumanName, "a user"))
	}
	botGreet := opts.BotGreet
	if botGreet == "" {
		botGreet = fmt.Sprintf("Nice to meet you! I am %s, how can I help?", nonEmpty(opts.BotName, "AI"))
	}
	p.Write(RoleSystem, systemContent(opts)).
		Write(RoleHuman, humanGreet).
		Write(RoleAI, botGreet)
	return p
}

// Restore rebuilds a prompt from durably stored messages, applying the
// reconstruction transforms: optional system-prompt overwrite and
// trailing-image expiry.
func Restore(opts Options, msgs []Message) *Prompt {
	p := &Prompt{opts: opts, messages: make([]Message, 0, len(msgs))}
	for i, m := range msgs {
		if m.Role == RoleSystem && opts.OverwriteSystemPrompt {
			m.Content = TextContent{Text: systemContent(opts)}
		}
		if m.Role == RoleHuman && m.IsImage() && len(msgs)-i > opts.ImageExpiryAfter {
			m.Content = TextContent{Text: ExpiredImagePlaceholder}
		}
		p.messages = append(p.messages, m)
	}
	return p
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// Messages returns a copy of the buffer in conversational order.
func (p *Prompt) Messages() []Message {
	out := make([]Message, len(p.messages))
	copy(out, p.messages)
	return out
}

func (p *Prompt) Len() int { return len(p.messages) }

func (p *Prompt) LastMessage() (Message, bool) {
	if len(p.messages) == 0 {
		return Message{}, false
	}
	return p.messages[len(p.messages)-1], true
}

// Write appends a text message. When the buffer is at its message or token
// budget it first evicts the oldest non-system message, then refreshes the
// system message's time marker.
func (p *Prompt) Write(role, content string) *Prompt {
	if p.opts.Debug {
		log.Printf("history: %d message(s), ~%d token(s)", len(p.messages), p.TokenCount())
	}
	if (p.opts.MaxMessages > 0 && len(p.messages) >= p.opts.MaxMessages) ||
		(p.opts.MaxTokens > 0 && p.TokenCount() >= p.opts.MaxTokens) {
		p.evictOldest()
	}
	p.refreshTimeMarker()
	p.messages = append(p.messages, Message{
		Role:    role,
		Content: TextContent{Text: textutil.StripMarkdown(content)},
	})
	return p
}

// WriteImage appends a vision message. Image payloads bypass the eviction
// path: the token estimator does not account for them.
func (p *Prompt) WriteImage(role, caption, url string) *Prompt {
	if caption == "" {
		caption = defaultVisionPrompt
	}
	p.messages = append(p.messages, Message{
		Role:    role,
		Content: ImageContent{Caption: caption, URL: url},
	})
	return p
}

// Patch appends text to the last message, used to accumulate a streamed or
// continued completion without starting a new turn.
func (p *Prompt) Patch(content string) error {
	if len(p.messages) == 0 {
		return ErrEmptyBuffer
	}
	last := &p.messages[len(p.messages)-1]
	text, ok := last.Content.(TextContent)
	if !ok {
		return fmt.Errorf("cannot patch %q message with non-text content", last.Role)
	}
	text.Text += content
	last.Content = text
	return nil
}

// Erase drops the last message; on an empty buffer it is a no-op.
func (p *Prompt) Erase() *Prompt {
	if len(p.messages) > 0 {
		p.messages = p.messages[:len(p.messages)-1]
	}
	return p
}

func (p *Prompt) evictOldest() {
	for i, m := range p.messages {
		if m.Role != RoleSystem {
			p.messages = append(p.messages[:i], p.messages[i+1:]...)
			return
		}
	}
}

func (p *Prompt) refreshTimeMarker() {
	for i, m := range p.messages {
		if m.Role != RoleSystem {
			continue
		}
		if text, ok := m.Content.(TextContent); ok {
			now := time.Now().Format(time.RFC1123)
			text.Text = timeMarkerRe.ReplaceAllString(text.Text, "[["+now+"]]")
			p.messages[i].Content = text
		}
		// One system prompt per buffer.
		return
	}
}

// TokenCount estimates the provider-side token footprint of the linearized
// transcript. Roughly four characters per token; image payloads contribute
// only their caption.
func (p *Prompt) TokenCount() int {
	runes := utf8.RuneCountInString(p.String())
	return (runes + 3) / 4
}

func (p *Prompt) String() string {
	var b strings.Builder
	for _, m := range p.messages {
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content.String())
		b.WriteString("\n")
	}
	return b.String()
}
