package category

import (
	"path/filepath"
	"strings"
)

// extensionTypes maps lowercase file extensions to content types. Used when an
// object or archive entry arrives without a meaningful declared type.
var extensionTypes = map[string]string{
	".txt":      "text/plain",
	".text":     "text/plain",
	".log":      "text/plain",
	".md":       "text/markdown",
	".markdown": "text/markdown",
	".csv":      "text/csv",
	".tsv":      "text/tab-separated-values",
	".html":     "text/html",
	".htm":      "text/html",
	".json":     "application/json",
	".ndjson":   "application/x-ndjson",
	".xml":      "application/xml",
	".yaml":     "application/x-yaml",
	".yml":      "application/x-yaml",

	".pdf":  "application/pdf",
	".rtf":  "application/rtf",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	".odt":  "application/vnd.oasis.opendocument.text",
	".ods":  "application/vnd.oasis.opendocument.spreadsheet",
	".odp":  "application/vnd.oasis.opendocument.presentation",
	".doc":  "application/msword",
	".xls":  "application/vnd.ms-excel",
	".ppt":  "application/vnd.ms-powerpoint",

	".mp3":  "audio/mpeg",
	".wav":  "audio/wav",
	".ogg":  "audio/ogg",
	".oga":  "audio/ogg",
	".opus": "audio/ogg",
	".flac": "audio/flac",
	".aac":  "audio/aac",
	".m4a":  "audio/mp4",
	".weba": "audio/webm",

	".zip":  "application/zip",
	".tar":  "application/x-tar",
	".gz":   "application/gzip",
	".tgz":  "application/gzip",
	".bz2":  "application/x-bzip2",
	".tbz2": "application/x-bzip2",
	".zst":  "application/zstd",
	".tzst": "application/zstd",

	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
}

// ContentTypeForName returns the content type implied by a file name's
// extension, or application/octet-stream when the extension is unknown.
func ContentTypeForName(name string) string {
	if ct, ok := extensionTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// IsGeneric reports whether contentType carries no useful format information
// and the file name should be consulted instead.
func IsGeneric(contentType string) bool {
	switch Normalize(contentType) {
	case "", "application/octet-stream", "binary/octet-stream", "application/x-download":
		return true
	}
	return false
}

// Resolve returns contentType unless it is generic, in which case the type
// implied by name is returned.
func Resolve(contentType, name string) string {
	if IsGeneric(contentType) {
		return ContentTypeForName(name)
	}
	return Normalize(contentType)
}
