// Package document extracts reading-order text from paginated, sheeted and
// slide-based documents: PDF, Office Open XML, OpenDocument and RTF.
//
// A payload whose leading bytes do not carry the signature of its declared
// format is rejected permanently. A payload with a valid signature that fails
// to parse is reported as transient, since truncation in transit produces
// exactly that shape.
package document

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/fpang/text-extract-pipeline/internal/extract"
	"github.com/fpang/text-extract-pipeline/internal/failure"
)

// Format is a supported document format.
type Format string

const (
	PDF  Format = "pdf"
	DOCX Format = "docx"
	XLSX Format = "xlsx"
	PPTX Format = "pptx"
	ODT  Format = "odt"
	ODS  Format = "ods"
	ODP  Format = "odp"
	RTF  Format = "rtf"
)

var formatsByType = map[string]Format{
	"application/pdf": PDF,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   DOCX,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         XLSX,
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": PPTX,
	"application/vnd.oasis.opendocument.text":                                   ODT,
	"application/vnd.oasis.opendocument.spreadsheet":                            ODS,
	"application/vnd.oasis.opendocument.presentation":                           ODP,
	"application/rtf": RTF,
	"text/rtf":        RTF,
}

var formatsByExt = map[string]Format{
	".pdf": PDF, ".docx": DOCX, ".xlsx": XLSX, ".pptx": PPTX,
	".odt": ODT, ".ods": ODS, ".odp": ODP, ".rtf": RTF,
}

var (
	sigPDF = []byte("%PDF-")
	sigZip = []byte("PK\x03\x04")
	sigRTF = []byte(`{\rtf`)
)

// DefaultMaxPartBytes bounds how much of one XML part inside an Office or
// OpenDocument container is read.
const DefaultMaxPartBytes = 128 << 20

// Handler is the structured-document format handler.
type Handler struct {
	maxPartBytes int64
}

// New returns a Handler. maxPartBytes <= 0 selects DefaultMaxPartBytes.
func New(maxPartBytes int64) *Handler {
	if maxPartBytes <= 0 {
		maxPartBytes = DefaultMaxPartBytes
	}
	return &Handler{maxPartBytes: maxPartBytes}
}

// FormatOf returns the document format of a content type, falling back to the
// file name extension.
func FormatOf(contentType, name string) (Format, bool) {
	if f, ok := formatsByType[contentType]; ok {
		return f, true
	}
	lower := strings.ToLower(name)
	if i := strings.LastIndexByte(lower, '.'); i >= 0 {
		if f, ok := formatsByExt[lower[i:]]; ok {
			return f, true
		}
	}
	return "", false
}

// Extract reads the payload according to its declared format.
func (h *Handler) Extract(ctx context.Context, p extract.Payload) (*extract.Result, error) {
	format, ok := FormatOf(p.ContentType, p.Name)
	if !ok {
		return nil, failure.Newf(failure.KindUnsupportedCategory, p.Name, "no document extractor for %q", p.ContentType)
	}

	if err := checkSignature(p.Path, format); err != nil {
		return nil, failure.Wrap(failure.KindCorruptSource, p.Name,
			fmt.Sprintf("file is not a valid %s document", format), err)
	}

	res, err := h.extract(format, p.Path)
	if err != nil {
		log.Warn().Err(err).Str("name", p.Name).Str("format", string(format)).Msg("Document parse failed")
		return nil, failure.Transient(p.Name, fmt.Sprintf("failed to parse %s document", format), err)
	}
	res.Method = string(format)
	if strings.TrimSpace(res.Text) == "" {
		res.Warnings = append(res.Warnings, "document contains no extractable text")
	}
	return res, nil
}

func (h *Handler) extract(format Format, path string) (res *extract.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parser panic: %v", r)
		}
	}()

	switch format {
	case PDF:
		return extractPDF(path)
	case DOCX:
		return h.extractDOCX(path)
	case XLSX:
		return h.extractXLSX(path)
	case PPTX:
		return h.extractPPTX(path)
	case ODT, ODS, ODP:
		return h.extractODF(path, format)
	case RTF:
		return h.extractRTF(path)
	}
	return nil, fmt.Errorf("unhandled format %s", format)
}

func checkSignature(path string, format Format) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	head := make([]byte, 8)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF {
		if err == io.EOF {
			return fmt.Errorf("file is empty")
		}
		return err
	}
	head = head[:n]

	var want []byte
	switch format {
	case PDF:
		want = sigPDF
	case RTF:
		want = sigRTF
	default:
		want = sigZip
	}
	if !bytes.HasPrefix(head, want) {
		return fmt.Errorf("missing %q signature", want)
	}
	return nil
}

// joinBlocks joins non-empty text blocks with a blank line between them.
func joinBlocks(blocks []string) string {
	var b strings.Builder
	for _, block := range blocks {
		block = strings.TrimSpace(block)
		if block == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(block)
	}
	return b.String()
}
