// Package jsonutil parses JSON out of model replies, which may wrap the
// payload in markdown fences or surround it with prose.
package jsonutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoJSON is returned when a reply contains no JSON object or array.
var ErrNoJSON = errors.New("no JSON content found")

// StripMarkdownFences returns the body of a ```-fenced block, or text
// unchanged when it is not fenced.
func StripMarkdownFences(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	// Drop the opening fence line, including any language tag.
	_, body, ok := strings.Cut(text, "\n")
	if !ok {
		return text
	}
	if i := strings.LastIndex(body, "```"); i >= 0 {
		body = body[:i]
	}
	return strings.TrimSpace(body)
}

// ExtractJSON returns the first balanced JSON object or array in text.
// Brackets inside string literals are ignored.
func ExtractJSON(text string) (string, error) {
	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return "", ErrNoJSON
	}

	var (
		stack    []byte
		inString bool
		escaped  bool
	)
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return "", fmt.Errorf("mismatched %q at offset %d", c, i)
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return text[start : i+1], nil
			}
		}
	}
	return "", fmt.Errorf("unterminated JSON starting at offset %d", start)
}

// ParseJSON strips fences, extracts the JSON payload and decodes it into T.
func ParseJSON[T any](raw string) (T, error) {
	var zero T
	payload, err := ExtractJSON(StripMarkdownFences(raw))
	if err != nil {
		return zero, fmt.Errorf("%w (raw length: %d)", err, len(raw))
	}

	var out T
	if err := json.Unmarshal([]byte(payload), &out); err != nil {
		preview := payload
		if len(preview) > 200 {
			preview = preview[:200] + "..."
		}
		return zero, fmt.Errorf("invalid JSON: %w (text: %s)", err, preview)
	}
	return out, nil
}
