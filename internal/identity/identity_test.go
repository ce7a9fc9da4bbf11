package identity

import (
	"testing"

	"github.com/fpang/text-extract-pipeline/internal/failure"
)

func TestParse_Valid(t *testing.T) {
	tests := []struct {
		path string
		want Identity
	}{
		{"uploads/r1/f1_report.pdf", Identity{"r1", "f1", "report.pdf"}},
		{"uploads/eu-west/abc-123_my_file_v2.docx", Identity{"eu-west", "abc-123", "my_file_v2.docx"}},
		{"uploads/r1/f1_.hidden", Identity{"r1", "f1", ".hidden"}},
		{"uploads/r1/f1_a b c.txt", Identity{"r1", "f1", "a b c.txt"}},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := Parse(tt.path)
			if err != nil {
				t.Fatalf("Parse(%q) error: %v", tt.path, err)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %+v, want %+v", tt.path, got, tt.want)
			}
			again, _ := Parse(tt.path)
			if again != got {
				t.Errorf("Parse is not deterministic: %+v vs %+v", got, again)
			}
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	paths := []string{
		"",
		"junk/f1.pdf",
		"uploads/f1_report.pdf",
		"uploads//f1_report.pdf",
		"uploads/r1/report.pdf",
		"uploads/r1/_report.pdf",
		"uploads/r1/f1_",
		"uploads/r1/sub/f1_report.pdf",
		"text/f1.txt",
		"text/f1_001.txt",
		"Uploads/r1/f1_report.pdf",
		"/uploads/r1/f1_report.pdf",
		"uploads/../f1_report.pdf",
		"uploads/r1/f1_x\x00y",
	}
	for _, p := range paths {
		t.Run(p, func(t *testing.T) {
			_, err := Parse(p)
			if err == nil {
				t.Fatalf("Parse(%q) succeeded, want InvalidPath", p)
			}
			if got := failure.KindOf(err); got != failure.KindInvalidPath {
				t.Errorf("KindOf = %v, want InvalidPath", got)
			}
			if !failure.IsPermanent(err) {
				t.Error("InvalidPath must be permanent")
			}
			fe, _ := failure.As(err)
			if fe.Identifier != p {
				t.Errorf("Identifier = %q, want %q", fe.Identifier, p)
			}
		})
	}
}

func TestParse_Injective(t *testing.T) {
	a, _ := Parse("uploads/r1/f1_x_y.txt")
	b, _ := Parse("uploads/r1/f1_x.txt")
	c, _ := Parse("uploads/r2/f1_x_y.txt")
	if a == b || a == c {
		t.Errorf("distinct paths produced the same identity: %+v %+v %+v", a, b, c)
	}
}

func TestNewParser_CustomPrefix(t *testing.T) {
	p := NewParser("/inbox/")
	if p.Prefix() != "inbox" {
		t.Errorf("Prefix() = %q", p.Prefix())
	}
	if _, err := p.Parse("inbox/r1/f1_a.txt"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if _, err := p.Parse("uploads/r1/f1_a.txt"); err == nil {
		t.Error("expected default prefix to be rejected by custom parser")
	}
}
