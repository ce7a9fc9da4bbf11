package sink

import (
	"bytes"
	"context"
	"errors"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog/log"

	"github.com/fpang/text-extract-pipeline/internal/envelope"
	"github.com/fpang/text-extract-pipeline/internal/failure"
)

// projectTag is the URL-encoded object tagging applied to every output.
const projectTag = "Project=text-extract-pipeline"

// ObjectAPI is the subset of the S3 client the sink uses.
type ObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, opts ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, in *s3.UploadPartInput, opts ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, opts ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, opts ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

// S3Sink writes units to S3. Outputs that fit in one chunk go up with a
// single PutObject, larger ones as a multipart upload of chunk-sized parts.
type S3Sink struct {
	client    ObjectAPI
	chunkSize int
}

// NewS3Sink returns an S3Sink. A non-positive chunkSize selects
// DefaultChunkSize.
func NewS3Sink(client ObjectAPI, chunkSize int) *S3Sink {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &S3Sink{client: client, chunkSize: chunkSize}
}

// URI returns the s3:// URI of dst.
func (s *S3Sink) URI(dst Destination) string {
	return "s3://" + dst.Bucket + "/" + dst.Key
}

// Write uploads the document. Every failure is transient.
func (s *S3Sink) Write(ctx context.Context, dst Destination, env *envelope.Envelope, text string) (string, error) {
	r, size, err := body(dst, env, text)
	if err != nil {
		return "", err
	}

	buf := make([]byte, s.chunkSize)
	n, err := io.ReadFull(r, buf)
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		if err := s.put(ctx, dst, buf[:n]); err != nil {
			return "", err
		}
		return s.URI(dst), nil
	}
	if err != nil {
		return "", failure.Transient(dst.Key, "read output stream", err)
	}

	if err := s.multipart(ctx, dst, r, buf, size); err != nil {
		return "", err
	}
	return s.URI(dst), nil
}

func (s *S3Sink) put(ctx context.Context, dst Destination, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        &dst.Bucket,
		Key:           &dst.Key,
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(ContentType),
		Tagging:       aws.String(projectTag),
	})
	if err != nil {
		return failure.Transient(dst.Key, "S3 PutObject", err)
	}
	log.Debug().Str("bucket", dst.Bucket).Str("key", dst.Key).Int("bytes", len(data)).Msg("Output written")
	return nil
}

// multipart uploads the stream in parts. buf holds the first, already
// filled part and is reused for every following one.
func (s *S3Sink) multipart(ctx context.Context, dst Destination, r io.Reader, buf []byte, size int64) error {
	created, err := s.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:      &dst.Bucket,
		Key:         &dst.Key,
		ContentType: aws.String(ContentType),
		Tagging:     aws.String(projectTag),
	})
	if err != nil {
		return failure.Transient(dst.Key, "S3 CreateMultipartUpload", err)
	}
	uploadID := aws.ToString(created.UploadId)

	abort := func(cause error) error {
		// The caller's context may already be done; the abort must still run.
		actx := context.WithoutCancel(ctx)
		_, aerr := s.client.AbortMultipartUpload(actx, &s3.AbortMultipartUploadInput{
			Bucket:   &dst.Bucket,
			Key:      &dst.Key,
			UploadId: &uploadID,
		})
		if aerr != nil {
			log.Warn().Err(aerr).Str("key", dst.Key).Str("uploadId", uploadID).Msg("Failed to abort multipart upload")
		}
		return cause
	}

	var parts []s3types.CompletedPart
	chunk := buf
	for partNum := int32(1); ; partNum++ {
		out, err := s.client.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:        &dst.Bucket,
			Key:           &dst.Key,
			UploadId:      &uploadID,
			PartNumber:    aws.Int32(partNum),
			Body:          bytes.NewReader(chunk),
			ContentLength: aws.Int64(int64(len(chunk))),
		})
		if err != nil {
			return abort(failure.Transient(dst.Key, "S3 UploadPart", err))
		}
		parts = append(parts, s3types.CompletedPart{ETag: out.ETag, PartNumber: aws.Int32(partNum)})

		n, err := io.ReadFull(r, buf)
		if n == 0 && (errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)) {
			break
		}
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
			return abort(failure.Transient(dst.Key, "read output stream", err))
		}
		chunk = buf[:n]
	}

	_, err = s.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          &dst.Bucket,
		Key:             &dst.Key,
		UploadId:        &uploadID,
		MultipartUpload: &s3types.CompletedMultipartUpload{Parts: parts},
	})
	if err != nil {
		return abort(failure.Transient(dst.Key, "S3 CompleteMultipartUpload", err))
	}

	log.Debug().
		Str("bucket", dst.Bucket).
		Str("key", dst.Key).
		Int64("bytes", size).
		Int("parts", len(parts)).
		Msg("Output written with multipart upload")
	return nil
}
