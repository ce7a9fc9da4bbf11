package archive

import (
	"path"
	"path/filepath"
	"strings"
)

// safeRel normalizes an archive member name to a slash-separated path
// relative to the extraction root. It reports false for absolute paths,
// drive-letter paths and anything that climbs above the root.
func safeRel(name string) (string, bool) {
	n := strings.ReplaceAll(name, "\\", "/")
	if n == "" || strings.ContainsRune(n, 0) {
		return "", false
	}
	if strings.HasPrefix(n, "/") || hasDriveLetter(n) {
		return "", false
	}
	c := path.Clean(n)
	if c == "." || c == ".." || strings.HasPrefix(c, "../") {
		return "", false
	}
	return c, true
}

func hasDriveLetter(n string) bool {
	if len(n) < 2 || n[1] != ':' {
		return false
	}
	c := n[0]
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

// within joins rel onto root and confirms the result is still inside root.
func within(root, rel string) (string, bool) {
	dest := filepath.Join(root, filepath.FromSlash(rel))
	r, err := filepath.Rel(root, dest)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) || filepath.IsAbs(r) {
		return "", false
	}
	return dest, true
}
