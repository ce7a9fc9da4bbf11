package extract

import (
	"strings"
	"unicode/utf8"
)

// CountText fills the line, word and character counts of m from text.
func CountText(text string, m *Metrics) {
	m.CharacterCount = utf8.RuneCountInString(text)
	m.WordCount = len(strings.Fields(text))
	m.LineCount = LineCount(text)
}

// LineCount counts lines the way a line splitter would: a trailing newline
// does not start a new line and empty text has no lines.
func LineCount(text string) int {
	if text == "" {
		return 0
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	n := strings.Count(text, "\n") + strings.Count(text, "\r")
	if !strings.HasSuffix(text, "\n") && !strings.HasSuffix(text, "\r") {
		n++
	}
	return n
}

// IntPtr returns a pointer to v, for optional metrics.
func IntPtr(v int) *int {
	return &v
}

// FloatPtr returns a pointer to v, for optional metrics.
func FloatPtr(v float64) *float64 {
	return &v
}
