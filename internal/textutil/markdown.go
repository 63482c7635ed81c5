package textutil

import (
	"regexp"
	"strings"
)

// Markdown constructs that should not survive into stored conversation text.
// Fenced code blocks are preserved verbatim.
var (
	fencedCodeRe     = regexp.MustCompile("(?s)```.+?```")
	horizontalRuleRe = regexp.MustCompile(`(?m)^ {0,3}((?:-[\t ]*){3,}|(?:_[ \t]*){3,}|(?:\*[ \t]*){3,})$`)
	setextHeaderRe   = regexp.MustCompile(`\n={2,}`)
	atxHeaderRe      = regexp.MustCompile(`(?m)^#{1,6}[ \t]+`)
	imageRe          = regexp.MustCompile(`!\[([^\]]*)\][\[(].*?[\])]`)
	linkRe           = regexp.MustCompile(`\[([^\]]*)\][\[(].*?[\])]`)
	emphasisRe       = regexp.MustCompile(`([*_]{1,3})(\S.*?\S?)([*_]{1,3})`)
	strikethroughRe  = regexp.MustCompile(`~~`)
	inlineCodeRe     = regexp.MustCompile("`([^`]+)`")
	blockquoteRe     = regexp.MustCompile(`(?m)^[ \t]*>[ \t]?`)
)

const codeBlockMark = "\x00CODEBLOCK\x00"

// StripMarkdown removes markdown markup from s, keeping the readable text.
// Fenced code blocks are carried through untouched.
func StripMarkdown(s string) string {
	if s == "" {
		return ""
	}

	var blocks []string
	out := fencedCodeRe.ReplaceAllStringFunc(s, func(m string) string {
		blocks = append(blocks, m)
		return codeBlockMark
	})

	out = horizontalRuleRe.ReplaceAllString(out, "")
	out = setextHeaderRe.ReplaceAllString(out, "\n")
	out = atxHeaderRe.ReplaceAllString(out, "")
	out = imageRe.ReplaceAllString(out, "$1")
	out = linkRe.ReplaceAllString(out, "$1")
	out = strikethroughRe.ReplaceAllString(out, "")
	out = emphasisRe.ReplaceAllString(out, "$2")
	out = inlineCodeRe.ReplaceAllString(out, "$1")
	out = blockquoteRe.ReplaceAllString(out, "")

	for _, b := range blocks {
		out = strings.Replace(out, codeBlockMark, b, 1)
	}
	return out
}

// Truncate shortens s to at most max characters, keeping the head and tail
// around a separator.
func Truncate(s string, max int, sep string) string {
	if s == "" || len(s) <= max {
		return s
	}
	if sep == "" {
		sep = "..."
	}
	charsToShow := max - len(sep)
	if charsToShow <= 0 {
		return sep[:max]
	}
	front := (charsToShow + 1) / 2
	back := charsToShow / 2
	return s[:front] + sep + s[len(s)-back:]
}
