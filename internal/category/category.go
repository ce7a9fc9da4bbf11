// Package category maps declared content types onto the closed set of
// processing categories.
package category

import (
	"fmt"
	"path"
	"strings"
)

// Category is one member of the closed processing category set.
type Category string

const (
	Text        Category = "text"
	Document    Category = "document"
	Audio       Category = "audio"
	Archive     Category = "archive"
	Unsupported Category = "unsupported"
)

// All lists every category, terminal member last.
var All = []Category{Text, Document, Audio, Archive, Unsupported}

// Parse converts a category name to a Category.
func Parse(name string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range All {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown category %q", name)
}

// Terminal reports whether c is never dispatched to a handler.
func (c Category) Terminal() bool {
	return c == Unsupported
}

// Rule maps a content-type pattern to a category. Patterns are matched
// against the normalized content type: an exact type ("application/pdf"),
// a prefix ending in "/" ("text/"), or a glob ("application/vnd.oasis.*").
type Rule struct {
	Pattern  string   `yaml:"pattern" json:"pattern"`
	Category Category `yaml:"category" json:"category"`
}

func (r Rule) match(ct string) bool {
	switch {
	case strings.ContainsAny(r.Pattern, "*?["):
		ok, err := path.Match(r.Pattern, ct)
		return err == nil && ok
	case strings.HasSuffix(r.Pattern, "/"):
		return strings.HasPrefix(ct, r.Pattern)
	default:
		return ct == r.Pattern
	}
}

// DefaultRules is the built-in ordered rule table. Exact types precede the
// broad prefixes so that, for example, text/rtf is a document and not text.
var DefaultRules = []Rule{
	{"application/pdf", Document},
	{"application/rtf", Document},
	{"text/rtf", Document},
	{"application/vnd.openxmlformats-officedocument.wordprocessingml.document", Document},
	{"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", Document},
	{"application/vnd.openxmlformats-officedocument.presentationml.presentation", Document},
	{"application/vnd.oasis.opendocument.text", Document},
	{"application/vnd.oasis.opendocument.spreadsheet", Document},
	{"application/vnd.oasis.opendocument.presentation", Document},

	{"application/zip", Archive},
	{"application/x-zip-compressed", Archive},
	{"application/x-tar", Archive},
	{"application/gzip", Archive},
	{"application/x-gzip", Archive},
	{"application/x-gtar", Archive},
	{"application/x-bzip2", Archive},
	{"application/x-compressed-tar", Archive},
	{"application/zstd", Archive},
	{"application/x-zstd", Archive},

	{"application/json", Text},
	{"application/xml", Text},
	{"application/x-yaml", Text},
	{"application/yaml", Text},
	{"application/x-ndjson", Text},
	{"text/", Text},

	{"audio/", Audio},
}

// Classifier applies an ordered rule list. It is immutable after construction
// and safe for concurrent use.
type Classifier struct {
	rules []Rule
}

// New returns a Classifier over a copy of rules. A nil or empty rule list
// selects DefaultRules. Rules naming an unknown category are rejected.
func New(rules []Rule) (*Classifier, error) {
	if len(rules) == 0 {
		rules = DefaultRules
	}
	out := make([]Rule, 0, len(rules))
	for i, r := range rules {
		p := strings.ToLower(strings.TrimSpace(r.Pattern))
		if p == "" {
			return nil, fmt.Errorf("rule %d: empty pattern", i)
		}
		if _, err := path.Match(p, ""); err != nil {
			return nil, fmt.Errorf("rule %d: bad pattern %q: %w", i, r.Pattern, err)
		}
		c, err := Parse(string(r.Category))
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		out = append(out, Rule{Pattern: p, Category: c})
	}
	return &Classifier{rules: out}, nil
}

// Default returns a Classifier over DefaultRules.
func Default() *Classifier {
	c, err := New(nil)
	if err != nil {
		panic(err)
	}
	return c
}

// Rules returns a copy of the active rule table.
func (c *Classifier) Rules() []Rule {
	return append([]Rule(nil), c.rules...)
}

// Classify returns the category of the first rule matching contentType, or
// Unsupported when none matches.
func (c *Classifier) Classify(contentType string) Category {
	ct := Normalize(contentType)
	if ct == "" {
		return Unsupported
	}
	for _, r := range c.rules {
		if r.match(ct) {
			return r.Category
		}
	}
	return Unsupported
}

// Normalize lowercases a content type and strips any parameters.
func Normalize(contentType string) string {
	ct, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(ct))
}
