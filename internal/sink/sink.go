// Package sink persists extracted units. Every write emits the envelope
// header, a blank separator line and the text as a sequence of bounded
// chunks, and is idempotent by overwrite.
package sink

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/fpang/text-extract-pipeline/internal/envelope"
	"github.com/fpang/text-extract-pipeline/internal/failure"
)

// ContentType is the content type of every written object.
const ContentType = "text/plain; charset=utf-8"

// DefaultChunkSize is the S3 multipart minimum part size.
const DefaultChunkSize = 5 << 20

// Destination addresses one output object.
type Destination struct {
	Bucket string
	Key    string
}

// Sink writes one unit and reports its committed location.
type Sink interface {
	// URI returns the location dst will have once written.
	URI(dst Destination) string
	Write(ctx context.Context, dst Destination, env *envelope.Envelope, text string) (string, error)
}

// OutputName returns the object key for a unit: "{prefix}/{fileID}.txt" for
// single-unit outputs and "{prefix}/{fileID}_{NNN}.txt" for archive units,
// numbered from 001.
func OutputName(prefix, fileID string, seq int, archive bool) string {
	prefix = strings.Trim(prefix, "/")
	if archive {
		return fmt.Sprintf("%s/%s_%03d.txt", prefix, fileID, seq)
	}
	return fmt.Sprintf("%s/%s.txt", prefix, fileID)
}

// body returns the full document stream for env and text.
func body(dst Destination, env *envelope.Envelope, text string) (io.Reader, int64, error) {
	header, err := env.Header()
	if err != nil {
		return nil, 0, failure.Wrap(failure.KindInternalFault, dst.Key, "render envelope", err)
	}
	size := int64(len(header) + len(text))
	return io.MultiReader(bytes.NewReader(header), strings.NewReader(text)), size, nil
}
