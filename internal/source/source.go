// Package source fetches the object named by an inbound event into the
// invocation's working directory.
package source

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog/log"

	"github.com/fpang/text-extract-pipeline/internal/failure"
)

// Object is the result of a successful fetch.
type Object struct {
	Path        string
	Size        int64
	ContentType string
}

// Source fetches one object, rejecting anything larger than maxBytes.
type Source interface {
	Fetch(ctx context.Context, bucket, key, dir string, maxBytes int64) (*Object, error)
}

// ObjectAPI is the subset of the S3 client used for downloads.
type ObjectAPI interface {
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, opts ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Source downloads objects from S3.
type S3Source struct {
	client ObjectAPI
}

// NewS3Source returns an S3Source.
func NewS3Source(client ObjectAPI) *S3Source {
	return &S3Source{client: client}
}

// Fetch checks the object size with HeadObject and streams the body to a
// file in dir. A missing object or one above the ceiling is permanent;
// everything else is transient.
func (s *S3Source) Fetch(ctx context.Context, bucket, key, dir string, maxBytes int64) (*Object, error) {
	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{Bucket: &bucket, Key: &key})
	if err != nil {
		return nil, classify(key, "S3 HeadObject", err)
	}
	size := aws.ToInt64(head.ContentLength)
	if size > maxBytes {
		return nil, failure.Newf(failure.KindCeilingExceeded, key,
			"object size %d exceeds the maximum of %d bytes", size, maxBytes)
	}

	log.Debug().Str("bucket", bucket).Str("key", key).Int64("size", size).Msg("Downloading from S3")
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &bucket, Key: &key})
	if err != nil {
		return nil, classify(key, "S3 GetObject", err)
	}
	defer result.Body.Close()

	path, n, err := save(dir, key, result.Body, maxBytes)
	if err != nil {
		return nil, err
	}

	ct := aws.ToString(result.ContentType)
	if ct == "" {
		ct = aws.ToString(head.ContentType)
	}
	return &Object{Path: path, Size: n, ContentType: ct}, nil
}

// save copies r to a new file in dir, stopping one byte past maxBytes.
func save(dir, key string, r io.Reader, maxBytes int64) (string, int64, error) {
	f, err := os.CreateTemp(dir, "source-*"+filepath.Ext(key))
	if err != nil {
		return "", 0, failure.Wrap(failure.KindInternalFault, key, "create download file", err)
	}
	n, copyErr := io.Copy(f, io.LimitReader(r, maxBytes+1))
	closeErr := f.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		os.Remove(f.Name())
		return "", 0, failure.Transient(key, "download", err)
	}
	if n > maxBytes {
		os.Remove(f.Name())
		return "", 0, failure.Newf(failure.KindCeilingExceeded, key,
			"object exceeds the maximum of %d bytes", maxBytes)
	}
	return f.Name(), n, nil
}

func classify(key, op string, err error) error {
	var nsk *s3types.NoSuchKey
	var nf *s3types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &nf) {
		return failure.Wrap(failure.KindCorruptSource, key, "source object does not exist", err)
	}
	return failure.Transient(key, op, err)
}

// LocalSource reads objects from the local filesystem. The bucket is a
// directory below root; an empty bucket makes key a path of its own.
type LocalSource struct {
	root string
}

// NewLocalSource returns a LocalSource rooted at root.
func NewLocalSource(root string) *LocalSource {
	return &LocalSource{root: root}
}

// Fetch returns the file in place; nothing is copied into dir.
func (s *LocalSource) Fetch(_ context.Context, bucket, key, _ string, maxBytes int64) (*Object, error) {
	p := filepath.FromSlash(key)
	if bucket != "" {
		p = filepath.Join(s.root, bucket, p)
	}
	fi, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, failure.Wrap(failure.KindCorruptSource, key, "source file does not exist", err)
		}
		return nil, failure.Transient(key, "stat source file", err)
	}
	if !fi.Mode().IsRegular() {
		return nil, failure.New(failure.KindCorruptSource, key, "source is not a regular file")
	}
	if fi.Size() > maxBytes {
		return nil, failure.Newf(failure.KindCeilingExceeded, key,
			"file size %d exceeds the maximum of %d bytes", fi.Size(), maxBytes)
	}
	return &Object{Path: p, Size: fi.Size()}, nil
}

var (
	_ Source = (*S3Source)(nil)
	_ Source = (*LocalSource)(nil)
)

