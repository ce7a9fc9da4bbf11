package sink

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/fpang/text-extract-pipeline/internal/category"
	"github.com/fpang/text-extract-pipeline/internal/envelope"
	"github.com/fpang/text-extract-pipeline/internal/extract"
	"github.com/fpang/text-extract-pipeline/internal/failure"
	"github.com/fpang/text-extract-pipeline/internal/identity"
)

type fakeS3 struct {
	puts      map[string][]byte
	parts     [][]byte
	completed int
	aborted   int
	failPart  int32
	failPut   bool
}

func newFakeS3() *fakeS3 {
	return &fakeS3{puts: make(map[string][]byte)}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.failPut {
		return nil, errors.New("connection reset")
	}
	data, _ := io.ReadAll(in.Body)
	f.puts[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) CreateMultipartUpload(context.Context, *s3.CreateMultipartUploadInput, ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	return &s3.CreateMultipartUploadOutput{UploadId: aws.String("upload-1")}, nil
}

func (f *fakeS3) UploadPart(_ context.Context, in *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	if aws.ToInt32(in.PartNumber) == f.failPart {
		return nil, errors.New("slow down")
	}
	data, _ := io.ReadAll(in.Body)
	f.parts = append(f.parts, data)
	return &s3.UploadPartOutput{ETag: aws.String("etag")}, nil
}

func (f *fakeS3) CompleteMultipartUpload(_ context.Context, in *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	f.completed = len(in.MultipartUpload.Parts)
	return &s3.CompleteMultipartUploadOutput{}, nil
}

func (f *fakeS3) AbortMultipartUpload(context.Context, *s3.AbortMultipartUploadInput, ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	f.aborted++
	return &s3.AbortMultipartUploadOutput{}, nil
}

func testEnvelope(t *testing.T) *envelope.Envelope {
	t.Helper()
	env, err := envelope.Build(
		identity.Identity{RegionID: "r1", FileID: "f1", OriginalFilename: "a.txt"},
		envelope.Original{ContentType: "text/plain", SizeBytes: 5},
		envelope.Descriptor{TextURI: "s3://out/text/f1.txt", Category: category.Text, Method: "utf-8", At: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
		extract.Metrics{LineCount: 1, WordCount: 1, CharacterCount: 5},
	)
	if err != nil {
		t.Fatal(err)
	}
	return env
}

func expectedDoc(t *testing.T, env *envelope.Envelope, text string) []byte {
	t.Helper()
	header, err := env.Header()
	if err != nil {
		t.Fatal(err)
	}
	return append(header, text...)
}

func TestOutputName(t *testing.T) {
	tests := []struct {
		prefix  string
		seq     int
		archive bool
		want    string
	}{
		{"text", 0, false, "text/f1.txt"},
		{"text/", 0, false, "text/f1.txt"},
		{"text", 1, true, "text/f1_001.txt"},
		{"text", 42, true, "text/f1_042.txt"},
		{"out/text", 3, true, "out/text/f1_003.txt"},
	}
	for _, tt := range tests {
		if got := OutputName(tt.prefix, "f1", tt.seq, tt.archive); got != tt.want {
			t.Errorf("OutputName(%q, %d, %v) = %q, want %q", tt.prefix, tt.seq, tt.archive, got, tt.want)
		}
	}
}

func TestS3Sink_SinglePut(t *testing.T) {
	api := newFakeS3()
	s := NewS3Sink(api, 0)
	env := testEnvelope(t)

	loc, err := s.Write(context.Background(), Destination{Bucket: "out", Key: "text/f1.txt"}, env, "hello")
	if err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if loc != "s3://out/text/f1.txt" {
		t.Errorf("location = %q", loc)
	}
	got := api.puts["text/f1.txt"]
	if !bytes.Equal(got, expectedDoc(t, env, "hello")) {
		t.Errorf("object body =\n%s", got)
	}
	if len(api.parts) != 0 {
		t.Error("small output used multipart upload")
	}
}

func TestS3Sink_MultipartChunks(t *testing.T) {
	api := newFakeS3()
	const chunk = 64
	s := NewS3Sink(api, chunk)
	env := testEnvelope(t)
	text := strings.Repeat("0123456789", 50)

	if _, err := s.Write(context.Background(), Destination{Bucket: "out", Key: "text/f1.txt"}, env, text); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	want := expectedDoc(t, env, text)
	if got := bytes.Join(api.parts, nil); !bytes.Equal(got, want) {
		t.Errorf("reassembled parts differ from document (%d vs %d bytes)", len(got), len(want))
	}
	for i, p := range api.parts {
		if len(p) > chunk {
			t.Errorf("part %d has %d bytes, want at most %d", i+1, len(p), chunk)
		}
	}
	if wantParts := (len(want) + chunk - 1) / chunk; api.completed != wantParts {
		t.Errorf("completed parts = %d, want %d", api.completed, wantParts)
	}
	if api.aborted != 0 {
		t.Error("successful upload was aborted")
	}
}

func TestS3Sink_PartFailureAborts(t *testing.T) {
	api := newFakeS3()
	api.failPart = 2
	s := NewS3Sink(api, 64)

	_, err := s.Write(context.Background(), Destination{Bucket: "out", Key: "text/f1.txt"}, testEnvelope(t), strings.Repeat("x", 1000))
	if !failure.IsTransient(err) {
		t.Fatalf("Write() error = %v, want transient", err)
	}
	if api.aborted != 1 {
		t.Errorf("aborted = %d, want 1", api.aborted)
	}
	if api.completed != 0 {
		t.Error("failed upload was completed")
	}
}

func TestS3Sink_PutFailureTransient(t *testing.T) {
	api := newFakeS3()
	api.failPut = true
	s := NewS3Sink(api, 0)

	_, err := s.Write(context.Background(), Destination{Bucket: "out", Key: "text/f1.txt"}, testEnvelope(t), "hello")
	if !failure.IsTransient(err) {
		t.Fatalf("Write() error = %v, want transient", err)
	}
}

func TestFileSink_WriteAndOverwrite(t *testing.T) {
	root := t.TempDir()
	s := NewFileSink(root, 16)
	env := testEnvelope(t)
	dst := Destination{Bucket: "out", Key: "text/f1_001.txt"}

	for _, text := range []string{"first version", "second"} {
		loc, err := s.Write(context.Background(), dst, env, text)
		if err != nil {
			t.Fatalf("Write() error = %v", err)
		}
		if !strings.HasSuffix(loc, "/out/text/f1_001.txt") {
			t.Errorf("location = %q", loc)
		}
	}

	got, err := os.ReadFile(filepath.Join(root, "out", "text", "f1_001.txt"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, expectedDoc(t, env, "second")) {
		t.Errorf("file content =\n%s", got)
	}
	entries, _ := os.ReadDir(filepath.Join(root, "out", "text"))
	if len(entries) != 1 {
		t.Errorf("temporary files left behind: %d entries", len(entries))
	}
}
