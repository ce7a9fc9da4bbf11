package envelope

import (
	"strings"
	"testing"
	"time"

	"github.com/fpang/text-extract-pipeline/internal/category"
	"github.com/fpang/text-extract-pipeline/internal/extract"
	"github.com/fpang/text-extract-pipeline/internal/failure"
	"github.com/fpang/text-extract-pipeline/internal/identity"
)

var (
	testID = identity.Identity{RegionID: "r1", FileID: "f1", OriginalFilename: "report.pdf"}
	testAt = time.Date(2025, 1, 14, 10, 30, 10, 0, time.UTC)
)

func testDescriptor() Descriptor {
	return Descriptor{
		TextURI:    "s3://bucket/text/f1.txt",
		EventID:    "evt-1",
		Category:   category.Document,
		Method:     "pdf",
		At:         testAt,
		Duration:   1500 * time.Millisecond,
		TextLength: 11,
	}
}

func TestBuild_Document(t *testing.T) {
	m := extract.Metrics{LineCount: 1, WordCount: 2, CharacterCount: 11, PageCount: extract.IntPtr(2)}
	env, err := Build(testID, Original{ContentType: "application/pdf", SizeBytes: 2048, Bucket: "bucket", ObjectPath: "uploads/r1/f1_report.pdf"}, testDescriptor(), m)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	if env.Original.Filename != "report.pdf" {
		t.Errorf("original filename = %q, want identity filename", env.Original.Filename)
	}
	if env.Extraction.Timestamp != "2025-01-14T10:30:10Z" {
		t.Errorf("timestamp = %q", env.Extraction.Timestamp)
	}
	if env.Extraction.DurationMS != 1500 || !env.Extraction.Success {
		t.Errorf("extraction = %+v", env.Extraction)
	}
	if env.Document == nil || env.Document.PageCount == nil || *env.Document.PageCount != 2 {
		t.Errorf("document = %+v", env.Document)
	}
	if env.Audio != nil {
		t.Errorf("audio section present for a document: %+v", env.Audio)
	}
	if env.Archive != nil {
		t.Error("archive section present for a single file")
	}
}

func TestBuild_Audio(t *testing.T) {
	d := testDescriptor()
	d.Category = category.Audio
	d.Method = "gemini"
	m := extract.Metrics{DurationSeconds: extract.FloatPtr(3.5), SampleRate: extract.IntPtr(16000), Channels: extract.IntPtr(1), Language: "en-US"}

	env, err := Build(testID, Original{}, d, m)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if env.Audio == nil || *env.Audio.SampleRate != 16000 || env.Audio.Language != "en-US" {
		t.Errorf("audio = %+v", env.Audio)
	}
	if env.Document != nil {
		t.Error("document section present for audio")
	}
}

func TestBuild_MissingFields(t *testing.T) {
	tests := []struct {
		name   string
		id     identity.Identity
		mutate func(*Descriptor)
		field  string
	}{
		{"no file id", identity.Identity{RegionID: "r1", OriginalFilename: "a.txt"}, nil, "file_id"},
		{"no region", identity.Identity{FileID: "f1", OriginalFilename: "a.txt"}, nil, "region_id"},
		{"no filename", identity.Identity{FileID: "f1", RegionID: "r1"}, nil, "original.filename"},
		{"no uri", testID, func(d *Descriptor) { d.TextURI = "" }, "text_uri"},
		{"no method", testID, func(d *Descriptor) { d.Method = "" }, "extraction.method"},
		{"no timestamp", testID, func(d *Descriptor) { d.At = time.Time{} }, "extraction.timestamp"},
		{"unsupported category", testID, func(d *Descriptor) { d.Category = category.Unsupported }, "file_category"},
		{"archive category", testID, func(d *Descriptor) { d.Category = category.Archive }, "file_category"},
		{"archive without index", testID, func(d *Descriptor) { d.Archive = &Archive{EntryName: "a.txt"} }, "archive.sequence_index"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := testDescriptor()
			if tt.mutate != nil {
				tt.mutate(&d)
			}
			_, err := Build(tt.id, Original{}, d, extract.Metrics{})
			if failure.KindOf(err) != failure.KindInvalidEnvelope {
				t.Fatalf("Build() error = %v, want InvalidEnvelope", err)
			}
			if !failure.IsPermanent(err) {
				t.Error("envelope failure should be permanent")
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("error %q does not name %s", err, tt.field)
			}
		})
	}
}

func TestHeader_RoundTrip(t *testing.T) {
	d := testDescriptor()
	d.Category = category.Text
	d.Warnings = []string{"decoded with iso-8859-1"}
	d.Archive = &Archive{EntryName: "docs/a.txt", SequenceIndex: 3, Depth: 1}
	env, err := Build(testID, Original{SizeBytes: 10}, d, extract.Metrics{LineCount: 1, WordCount: 2, CharacterCount: 11})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	header, err := env.Header()
	if err != nil {
		t.Fatalf("Header() error = %v", err)
	}
	if !strings.HasPrefix(string(header), "---\nfile_id: f1\n") {
		t.Errorf("header does not open with the delimiter:\n%s", header)
	}
	if !strings.HasSuffix(string(header), "\n---\n\n") {
		t.Errorf("header does not close with delimiter and blank line:\n%s", header)
	}

	doc := append(header, "hello world"...)
	got, text, err := Split(doc)
	if err != nil {
		t.Fatalf("Split() error = %v", err)
	}
	if text != "hello world" {
		t.Errorf("text = %q", text)
	}
	if got.Archive == nil || got.Archive.SequenceIndex != 3 || got.Archive.EntryName != "docs/a.txt" {
		t.Errorf("archive = %+v", got.Archive)
	}
	if got.Extraction.Warnings[0] != "decoded with iso-8859-1" {
		t.Errorf("warnings = %v", got.Extraction.Warnings)
	}
	if got.Content.WordCount != 2 || got.FileCategory != "text" {
		t.Errorf("decoded envelope = %+v", got)
	}
}

func TestSplit_NoFrontMatter(t *testing.T) {
	_, text, err := Split([]byte("plain text"))
	if err != ErrNoFrontMatter {
		t.Fatalf("Split() error = %v, want ErrNoFrontMatter", err)
	}
	if text != "plain text" {
		t.Errorf("text = %q", text)
	}
}
