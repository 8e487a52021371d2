package stage

import (
	"strings"
)

const fence = "```"

// PostProcessor transforms raw model text before it leaves a stage.
type PostProcessor func(string) string

// TrimSpace removes surrounding whitespace.
func TrimSpace(s string) string {
	return strings.TrimSpace(s)
}

// StripFences unwraps a Markdown fenced code block. When the reply holds
// several blocks only the first is kept, minus a leading language
// identifier line. Text without a fence is only trimmed, and the result
// never contains a fence, so applying it twice is a no-op.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	first := strings.Index(s, fence)
	if first < 0 {
		return s
	}

	body := s[first+len(fence):]
	if end := strings.Index(body, fence); end >= 0 {
		body = body[:end]
	}

	if nl := strings.IndexByte(body, '\n'); nl >= 0 && isLanguageTag(body[:nl]) {
		body = body[nl+1:]
	}
	return strings.TrimSpace(body)
}

func isLanguageTag(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return true
	}
	if len(line) > 20 {
		return false
	}
	for _, r := range line {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '+' || r == '#' || r == '-' || r == '_' || r == '.':
		default:
			return false
		}
	}
	return true
}

func applyPost(text string, steps []PostProcessor) string {
	for _, step := range steps {
		if step != nil {
			text = step(text)
		}
	}
	return text
}
