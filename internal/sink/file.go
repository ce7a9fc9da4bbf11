package sink

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/fpang/text-extract-pipeline/internal/envelope"
	"github.com/fpang/text-extract-pipeline/internal/failure"
)

// FileSink writes units below a local directory. Bucket names become the
// first path element. Used for local runs.
type FileSink struct {
	root      string
	chunkSize int
}

// NewFileSink returns a FileSink rooted at root.
func NewFileSink(root string, chunkSize int) *FileSink {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &FileSink{root: root, chunkSize: chunkSize}
}

func (s *FileSink) path(dst Destination) string {
	return filepath.Join(s.root, dst.Bucket, filepath.FromSlash(dst.Key))
}

// URI returns the local path of dst.
func (s *FileSink) URI(dst Destination) string {
	return "file://" + filepath.ToSlash(s.path(dst))
}

// Write streams the document to a temporary file and renames it into place,
// so a reader never observes a partial output.
func (s *FileSink) Write(ctx context.Context, dst Destination, env *envelope.Envelope, text string) (string, error) {
	r, _, err := body(dst, env, text)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", failure.Transient(dst.Key, "write output", err)
	}

	target := s.path(dst)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", failure.Transient(dst.Key, "create output directory", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".partial-*")
	if err != nil {
		return "", failure.Transient(dst.Key, "create output file", err)
	}
	defer os.Remove(tmp.Name())

	_, copyErr := io.CopyBuffer(tmp, r, make([]byte, s.chunkSize))
	closeErr := tmp.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		return "", failure.Transient(dst.Key, "write output file", err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return "", failure.Transient(dst.Key, "commit output file", err)
	}
	return s.URI(dst), nil
}
