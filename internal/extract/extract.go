// Package extract defines the uniform handler contract every format handler
// implements and the dispatcher that routes a classified payload to exactly
// one of them.
package extract

import (
	"context"
	"time"

	"github.com/fpang/text-extract-pipeline/internal/category"
)

// Payload is a local copy of one object or archive entry awaiting extraction.
type Payload struct {
	// FileID is the identifier of the top-level upload the payload came from.
	FileID string
	// Path is the local filesystem path of the payload bytes.
	Path string
	// Name is the original filename, or the entry path inside an archive.
	Name        string
	ContentType string
	Category    category.Category
	Size        int64
}

// Metrics are the category-specific content metrics of one extracted unit.
// Optional counts are nil when they do not apply to the source format.
type Metrics struct {
	LineCount      int `json:"line_count" yaml:"line_count"`
	WordCount      int `json:"word_count" yaml:"word_count"`
	CharacterCount int `json:"character_count" yaml:"character_count"`

	PageCount  *int `json:"page_count,omitempty" yaml:"page_count,omitempty"`
	SheetCount *int `json:"sheet_count,omitempty" yaml:"sheet_count,omitempty"`
	SlideCount *int `json:"slide_count,omitempty" yaml:"slide_count,omitempty"`
	RowCount   *int `json:"row_count,omitempty" yaml:"row_count,omitempty"`

	DurationSeconds *float64 `json:"duration_seconds,omitempty" yaml:"duration_seconds,omitempty"`
	SampleRate      *int     `json:"sample_rate,omitempty" yaml:"sample_rate,omitempty"`
	Channels        *int     `json:"channels,omitempty" yaml:"channels,omitempty"`
	Confidence      *float64 `json:"confidence,omitempty" yaml:"confidence,omitempty"`
	Language        string   `json:"language,omitempty" yaml:"language,omitempty"`
}

// Result is what a format handler produces for one payload.
type Result struct {
	Text    string
	Metrics Metrics
	// Method names the extraction technique, e.g. "pdf", "utf-8", "gemini".
	Method   string
	Warnings []string
}

// Unit is one extracted text output with its provenance.
type Unit struct {
	SourceFileID string
	// SequenceIndex is 0 for a single-unit output and 1..N, in traversal
	// order, for archive-derived units.
	SequenceIndex int
	// EntryName is the path of the unit inside its archive, nested archives
	// joined with "/". Empty for non-archive sources.
	EntryName   string
	ContentType string
	Category    category.Category
	Size        int64
	Depth       int
	Duration    time.Duration
	ExtractedAt time.Time
	Result
}

// Batch is the outcome of dispatching one payload.
type Batch struct {
	Units []Unit
	// Warnings collects non-fatal problems, such as skipped archive entries.
	Warnings []string
	// Archive is true when the units were unpacked from an archive.
	Archive bool
}

// Handler extracts text from one non-archive payload.
type Handler interface {
	Extract(ctx context.Context, p Payload) (*Result, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, p Payload) (*Result, error)

// Extract calls f.
func (f HandlerFunc) Extract(ctx context.Context, p Payload) (*Result, error) {
	return f(ctx, p)
}

// Func classifies and dispatches a payload found at the given archive depth.
type Func func(ctx context.Context, p Payload, depth int) (*Batch, error)

// Unpacker extracts an archive payload, handing every surviving entry back to
// next at depth+1.
type Unpacker interface {
	Unpack(ctx context.Context, p Payload, depth int, next Func) (*Batch, error)
}
