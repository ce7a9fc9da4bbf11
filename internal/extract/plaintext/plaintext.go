// Package plaintext extracts text files verbatim. Bytes are decoded as UTF-8,
// falling back to a configured legacy single-byte encoding; the content itself
// is never re-serialized.
package plaintext

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/ianaindex"

	"github.com/fpang/text-extract-pipeline/internal/extract"
	"github.com/fpang/text-extract-pipeline/internal/failure"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Handler is the plain-text format handler.
type Handler struct {
	legacy     encoding.Encoding
	legacyName string
}

// New returns a Handler whose fallback decoder is the named IANA encoding.
// An empty name selects ISO-8859-1.
func New(legacyEncoding string) (*Handler, error) {
	if legacyEncoding == "" {
		legacyEncoding = "iso-8859-1"
	}
	enc, err := ianaindex.IANA.Encoding(legacyEncoding)
	if err != nil {
		return nil, fmt.Errorf("unknown legacy encoding %q: %w", legacyEncoding, err)
	}
	if enc == nil {
		return nil, fmt.Errorf("legacy encoding %q is not supported", legacyEncoding)
	}
	name, err := ianaindex.IANA.Name(enc)
	if err != nil {
		name = strings.ToLower(legacyEncoding)
	}
	return &Handler{legacy: enc, legacyName: strings.ToLower(name)}, nil
}

// Default returns a Handler with an ISO-8859-1 fallback.
func Default() *Handler {
	return &Handler{legacy: charmap.ISO8859_1, legacyName: "iso-8859-1"}
}

// Extract reads the payload and decodes it.
func (h *Handler) Extract(ctx context.Context, p extract.Payload) (*extract.Result, error) {
	data, err := os.ReadFile(p.Path)
	if err != nil {
		return nil, failure.Transient(p.Name, "failed to read text payload", err)
	}

	text, method, err := h.Decode(data)
	if err != nil {
		return nil, failure.Wrap(failure.KindCorruptSource, p.Name, "text is not decodable", err)
	}

	res := &extract.Result{Text: text, Method: method}
	if method != "utf-8" {
		log.Debug().Str("name", p.Name).Str("encoding", method).Msg("Decoded text with legacy encoding")
		res.Warnings = append(res.Warnings, fmt.Sprintf("decoded as %s after UTF-8 failed", method))
	}

	if sep, ok := delimiterFor(p.ContentType, p.Name); ok {
		rows, err := countRows(text, sep)
		if err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("row count unavailable: %v", err))
		} else {
			res.Metrics.RowCount = extract.IntPtr(rows)
		}
	}
	return res, nil
}

// Decode returns data as a string and the encoding used. A leading UTF-8
// byte order mark is dropped.
func (h *Handler) Decode(data []byte) (string, string, error) {
	if utf8.Valid(data) {
		return string(bytes.TrimPrefix(data, utf8BOM)), "utf-8", nil
	}
	out, err := h.legacy.NewDecoder().Bytes(data)
	if err != nil {
		return "", "", err
	}
	return string(out), h.legacyName, nil
}

func delimiterFor(contentType, name string) (rune, bool) {
	lower := strings.ToLower(name)
	switch {
	case contentType == "text/csv" || strings.HasSuffix(lower, ".csv"):
		return ',', true
	case contentType == "text/tab-separated-values" || strings.HasSuffix(lower, ".tsv"):
		return '\t', true
	}
	return 0, false
}

// countRows counts CSV records, including any header row.
func countRows(text string, sep rune) (int, error) {
	r := csv.NewReader(strings.NewReader(text))
	r.Comma = sep
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.ReuseRecord = true

	n := 0
	for {
		_, err := r.Read()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		n++
	}
}
