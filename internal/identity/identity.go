// Package identity derives the typed identity of an uploaded object from its
// storage path. It is the only place an untrusted object path is turned into
// region and file identifiers.
package identity

import (
	"fmt"
	"strings"

	"github.com/fpang/text-extract-pipeline/internal/failure"
)

// DefaultPrefix is the first path segment of accepted uploads.
const DefaultPrefix = "uploads"

// Identity is the structured identity of one uploaded object.
type Identity struct {
	RegionID         string `json:"region_id" yaml:"region_id"`
	FileID           string `json:"file_id" yaml:"file_id"`
	OriginalFilename string `json:"original_filename" yaml:"original_filename"`
}

// Parser matches object paths of the form <prefix>/{region_id}/{file_id}_{filename}.
type Parser struct {
	prefix string
}

// NewParser returns a Parser for the given first path segment. An empty prefix
// selects DefaultPrefix.
func NewParser(prefix string) *Parser {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Parser{prefix: prefix}
}

// Prefix returns the accepted first path segment.
func (p *Parser) Prefix() string {
	return p.prefix
}

// Parse splits objectPath into its identity. Any deviation from the pattern
// is a permanent InvalidPath failure; no component is ever defaulted.
//
// The region segment must be non-empty and contain no slash. The file id is
// everything before the first underscore of the final segment and must be
// non-empty; the filename is everything after it and must be non-empty. The
// filename may itself contain underscores.
func (p *Parser) Parse(objectPath string) (Identity, error) {
	reject := func(reason string) (Identity, error) {
		return Identity{}, failure.New(failure.KindInvalidPath, objectPath, reason)
	}

	if objectPath == "" {
		return reject("object path is empty")
	}
	if strings.ContainsRune(objectPath, '\x00') {
		return reject("object path contains a NUL byte")
	}

	parts := strings.Split(objectPath, "/")
	if len(parts) != 3 {
		return reject(fmt.Sprintf("expected %s/{region_id}/{file_id}_{filename}", p.prefix))
	}
	if parts[0] != p.prefix {
		return reject(fmt.Sprintf("first path segment %q is not %q", parts[0], p.prefix))
	}

	region, last := parts[1], parts[2]
	if region == "" {
		return reject("region segment is empty")
	}
	if region == "." || region == ".." {
		return reject("region segment is a relative path element")
	}

	fileID, filename, ok := strings.Cut(last, "_")
	if !ok {
		return reject("final segment has no {file_id}_ separator")
	}
	if fileID == "" {
		return reject("file id is empty")
	}
	if filename == "" {
		return reject("original filename is empty")
	}

	return Identity{RegionID: region, FileID: fileID, OriginalFilename: filename}, nil
}

// Parse parses objectPath with the default prefix.
func Parse(objectPath string) (Identity, error) {
	return NewParser(DefaultPrefix).Parse(objectPath)
}
