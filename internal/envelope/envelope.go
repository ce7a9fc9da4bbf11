// Package envelope builds the provenance header written in front of every
// extracted text, and parses it back.
package envelope

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fpang/text-extract-pipeline/internal/category"
	"github.com/fpang/text-extract-pipeline/internal/extract"
	"github.com/fpang/text-extract-pipeline/internal/failure"
	"github.com/fpang/text-extract-pipeline/internal/identity"
)

// Delimiter opens and closes the front matter block.
const Delimiter = "---"

// Original describes the source object.
type Original struct {
	Filename    string `yaml:"filename"`
	ContentType string `yaml:"content_type,omitempty"`
	SizeBytes   int64  `yaml:"size_bytes"`
	Bucket      string `yaml:"bucket,omitempty"`
	ObjectPath  string `yaml:"object_path,omitempty"`
	UploadedAt  string `yaml:"uploaded_at,omitempty"`
}

// Extraction describes how one unit was produced.
type Extraction struct {
	Method     string   `yaml:"method"`
	Timestamp  string   `yaml:"timestamp"`
	DurationMS int64    `yaml:"duration_ms"`
	Success    bool     `yaml:"success"`
	Warnings   []string `yaml:"warnings,omitempty"`
}

// Content carries the counts every unit has.
type Content struct {
	TextLength     int `yaml:"text_length"`
	WordCount      int `yaml:"word_count"`
	CharacterCount int `yaml:"character_count"`
	LineCount      int `yaml:"line_count"`
}

// Document carries the structured document counts.
type Document struct {
	PageCount  *int `yaml:"page_count,omitempty"`
	SheetCount *int `yaml:"sheet_count,omitempty"`
	SlideCount *int `yaml:"slide_count,omitempty"`
	RowCount   *int `yaml:"row_count,omitempty"`
}

// Audio carries the transcription metrics.
type Audio struct {
	DurationSeconds *float64 `yaml:"duration_seconds,omitempty"`
	SampleRate      *int     `yaml:"sample_rate,omitempty"`
	Channels        *int     `yaml:"channels,omitempty"`
	Confidence      *float64 `yaml:"confidence,omitempty"`
	Language        string   `yaml:"language,omitempty"`
}

// Archive locates a unit inside its parent archive.
type Archive struct {
	EntryName     string `yaml:"entry_name"`
	SequenceIndex int    `yaml:"sequence_index"`
	Depth         int    `yaml:"depth"`
}

// Envelope is the metadata header of one extracted unit.
type Envelope struct {
	FileID       string     `yaml:"file_id"`
	RegionID     string     `yaml:"region_id"`
	TextURI      string     `yaml:"text_uri"`
	EventID      string     `yaml:"event_id,omitempty"`
	Original     Original   `yaml:"original"`
	FileCategory string     `yaml:"file_category"`
	Extraction   Extraction `yaml:"extraction"`
	Content      Content    `yaml:"content"`
	Document     *Document  `yaml:"document,omitempty"`
	Audio        *Audio     `yaml:"audio,omitempty"`
	Archive      *Archive   `yaml:"archive,omitempty"`
}

// Descriptor is everything about a unit that is not a content metric.
type Descriptor struct {
	TextURI    string
	EventID    string
	Category   category.Category
	Method     string
	At         time.Time
	Duration   time.Duration
	Warnings   []string
	Archive    *Archive
	// TextLength is the size of the text in bytes.
	TextLength int
}

// Build assembles and validates an envelope. It performs no I/O.
func Build(id identity.Identity, original Original, d Descriptor, m extract.Metrics) (*Envelope, error) {
	if original.Filename == "" {
		original.Filename = id.OriginalFilename
	}
	env := &Envelope{
		FileID:       id.FileID,
		RegionID:     id.RegionID,
		TextURI:      d.TextURI,
		EventID:      d.EventID,
		Original:     original,
		FileCategory: string(d.Category),
		Extraction: Extraction{
			Method:     d.Method,
			DurationMS: d.Duration.Milliseconds(),
			Success:    true,
			Warnings:   d.Warnings,
		},
		Content: Content{
			TextLength:     d.TextLength,
			WordCount:      m.WordCount,
			CharacterCount: m.CharacterCount,
			LineCount:      m.LineCount,
		},
		Archive: d.Archive,
	}
	if !d.At.IsZero() {
		env.Extraction.Timestamp = d.At.UTC().Format(time.RFC3339)
	}

	if m.PageCount != nil || m.SheetCount != nil || m.SlideCount != nil || m.RowCount != nil {
		env.Document = &Document{
			PageCount:  m.PageCount,
			SheetCount: m.SheetCount,
			SlideCount: m.SlideCount,
			RowCount:   m.RowCount,
		}
	}
	if m.DurationSeconds != nil || m.SampleRate != nil || m.Channels != nil || m.Confidence != nil || m.Language != "" {
		env.Audio = &Audio{
			DurationSeconds: m.DurationSeconds,
			SampleRate:      m.SampleRate,
			Channels:        m.Channels,
			Confidence:      m.Confidence,
			Language:        m.Language,
		}
	}

	if err := env.Validate(); err != nil {
		return nil, err
	}
	return env, nil
}

// Validate reports the first missing required field as a permanent
// InvalidEnvelope failure.
func (e *Envelope) Validate() error {
	var missing []string
	req := func(ok bool, field string) {
		if !ok {
			missing = append(missing, field)
		}
	}
	req(e.FileID != "", "file_id")
	req(e.RegionID != "", "region_id")
	req(e.TextURI != "", "text_uri")
	req(e.Original.Filename != "", "original.filename")
	req(e.Extraction.Method != "", "extraction.method")
	req(e.Extraction.Timestamp != "", "extraction.timestamp")

	c, err := category.Parse(e.FileCategory)
	req(err == nil && !c.Terminal() && c != category.Archive, "file_category")
	if e.Archive != nil {
		req(e.Archive.EntryName != "", "archive.entry_name")
		req(e.Archive.SequenceIndex > 0, "archive.sequence_index")
	}

	if len(missing) > 0 {
		return failure.New(failure.KindInvalidEnvelope, e.FileID,
			"missing required fields: "+strings.Join(missing, ", "))
	}
	return nil
}

// Header renders the front matter block followed by the blank separator
// line that precedes the text.
func (e *Envelope) Header() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(Delimiter + "\n")
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(e); err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	buf.WriteString(Delimiter + "\n\n")
	return buf.Bytes(), nil
}

// ErrNoFrontMatter is returned by Split when the document has no header.
var ErrNoFrontMatter = errors.New("envelope: no front matter")

// Split separates a stored document into its envelope and text.
func Split(doc []byte) (*Envelope, string, error) {
	s := string(doc)
	rest, ok := strings.CutPrefix(s, Delimiter+"\n")
	if !ok {
		return nil, s, ErrNoFrontMatter
	}
	head, body, ok := strings.Cut(rest, "\n"+Delimiter+"\n")
	if !ok {
		return nil, s, ErrNoFrontMatter
	}

	var env Envelope
	if err := yaml.Unmarshal([]byte(head), &env); err != nil {
		return nil, s, fmt.Errorf("decode envelope: %w", err)
	}
	return &env, strings.TrimPrefix(body, "\n"), nil
}
