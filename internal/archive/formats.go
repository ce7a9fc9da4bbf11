package archive

import (
	"archive/tar"
	"archive/zip"
	"bufio"
	"bytes"
	"compress/bzip2"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Format is a detected container format.
type Format string

const (
	FormatZip     Format = "zip"
	FormatTar     Format = "tar"
	FormatTarGzip Format = "tar.gz"
	FormatTarBz2  Format = "tar.bz2"
	FormatTarZstd Format = "tar.zst"
	FormatGzip    Format = "gz"
	FormatBzip2   Format = "bz2"
	FormatZstd    Format = "zst"
)

var (
	magicZip      = []byte("PK\x03\x04")
	magicZipEmpty = []byte("PK\x05\x06")
	magicGzip     = []byte{0x1f, 0x8b}
	magicBzip2    = []byte("BZh")
	magicZstd     = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

const tarMagicOffset = 257

// errUnknownFormat marks a payload that is none of the supported formats.
var errUnknownFormat = errors.New("unrecognized archive format")

type entryKind int

const (
	kindRegular entryKind = iota
	kindDir
	kindLink
	kindOther
)

// entry is one archive member as seen during traversal.
type entry struct {
	name string
	kind entryKind
	// size is the declared uncompressed size, or -1 when unknown.
	size      int64
	encrypted bool
	open      func() (io.ReadCloser, error)
}

// reader walks the members of one archive in table order.
type reader interface {
	// scan returns the declared or measured total uncompressed size of the
	// regular members, giving up once it exceeds limit.
	scan(limit int64) (int64, error)
	walk(fn func(e entry) error) error
	Close() error
}

// detect sniffs the container format from the leading bytes of path.
func detect(p string) (Format, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", err
	}
	defer f.Close()

	head := make([]byte, 8)
	n, _ := io.ReadFull(f, head)
	head = head[:n]

	switch {
	case bytes.HasPrefix(head, magicZip), bytes.HasPrefix(head, magicZipEmpty):
		return FormatZip, nil
	case bytes.HasPrefix(head, magicGzip):
		return compressedKind(p, FormatGzip, FormatTarGzip)
	case bytes.HasPrefix(head, magicBzip2):
		return compressedKind(p, FormatBzip2, FormatTarBz2)
	case bytes.HasPrefix(head, magicZstd):
		return compressedKind(p, FormatZstd, FormatTarZstd)
	}

	if isTar(f) {
		return FormatTar, nil
	}
	return "", errUnknownFormat
}

// compressedKind decides whether a compressed stream wraps a tar archive.
func compressedKind(p string, single, tarred Format) (Format, error) {
	rc, err := openStream(p, single)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	head := make([]byte, tarMagicOffset+8)
	n, err := io.ReadFull(rc, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read %s stream: %w", single, err)
	}
	if n >= tarMagicOffset+5 && string(head[tarMagicOffset:tarMagicOffset+5]) == "ustar" {
		return tarred, nil
	}
	return single, nil
}

func isTar(f *os.File) bool {
	buf := make([]byte, 5)
	if _, err := f.ReadAt(buf, tarMagicOffset); err != nil {
		return false
	}
	return string(buf) == "ustar"
}

// openStream opens p through the decompressor for a single-stream format.
func openStream(p string, format Format) (io.ReadCloser, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	br := bufio.NewReader(f)

	switch format {
	case FormatGzip, FormatTarGzip:
		zr, err := gzip.NewReader(br)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("gzip: %w", err)
		}
		return &stackedCloser{Reader: zr, closers: []io.Closer{zr, f}}, nil
	case FormatBzip2, FormatTarBz2:
		return &stackedCloser{Reader: bzip2.NewReader(br), closers: []io.Closer{f}}, nil
	case FormatZstd, FormatTarZstd:
		zr, err := zstd.NewReader(br, zstd.WithDecoderConcurrency(1))
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("zstd: %w", err)
		}
		return &stackedCloser{Reader: zr, closers: []io.Closer{zr.IOReadCloser(), f}}, nil
	case FormatTar:
		return f, nil
	}
	f.Close()
	return nil, fmt.Errorf("%s is not a stream format", format)
}

type stackedCloser struct {
	io.Reader
	closers []io.Closer
}

func (s *stackedCloser) Close() error {
	var errs []error
	for _, c := range s.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// openReader returns a member reader for an archive of the given format.
func openReader(p, name string, format Format) (reader, error) {
	switch format {
	case FormatZip:
		zr, err := zip.OpenReader(p)
		if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
			return nil, fmt.Errorf("zip: %w", err)
		}
		zr.RegisterDecompressor(zstd.ZipMethodWinZip, zstd.ZipDecompressor())
		zr.RegisterDecompressor(zstd.ZipMethodPKWare, zstd.ZipDecompressor())
		return &zipReader{zr: zr}, nil
	case FormatTar, FormatTarGzip, FormatTarBz2, FormatTarZstd:
		return &tarReader{path: p, format: format}, nil
	case FormatGzip, FormatBzip2, FormatZstd:
		return &singleReader{path: p, format: format, name: singleName(p, name, format)}, nil
	}
	return nil, errUnknownFormat
}

type zipReader struct {
	zr *zip.ReadCloser
}

func (z *zipReader) scan(limit int64) (int64, error) {
	var total uint64
	for _, f := range z.zr.File {
		if f.Mode().IsRegular() {
			total += f.UncompressedSize64
			if total > uint64(limit) {
				return int64(min(total, uint64(limit)+1)), nil
			}
		}
	}
	return int64(total), nil
}

func (z *zipReader) walk(fn func(e entry) error) error {
	for _, f := range z.zr.File {
		mode := f.Mode()
		e := entry{
			name:      f.Name,
			size:      int64(min(f.UncompressedSize64, 1<<62)),
			encrypted: f.Flags&0x1 != 0,
			open:      f.Open,
		}
		switch {
		case mode.IsDir() || strings.HasSuffix(f.Name, "/"):
			e.kind = kindDir
		case mode&fs.ModeSymlink != 0:
			e.kind = kindLink
		case mode.IsRegular():
			e.kind = kindRegular
		default:
			e.kind = kindOther
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}

func (z *zipReader) Close() error {
	return z.zr.Close()
}

type tarReader struct {
	path   string
	format Format
}

// scan sums declared sizes for plain tar. For compressed tar the stream is
// decompressed once and the bytes actually produced are counted.
func (t *tarReader) scan(limit int64) (int64, error) {
	rc, err := openStream(t.path, t.format)
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	if t.format == FormatTar {
		tr := tar.NewReader(rc)
		var total int64
		for {
			h, err := tr.Next()
			if errors.Is(err, io.EOF) {
				return total, nil
			}
			if err != nil && !errors.Is(err, tar.ErrInsecurePath) {
				return total, fmt.Errorf("tar: %w", err)
			}
			if h.Typeflag == tar.TypeReg {
				total += h.Size
				if total > limit {
					return total, nil
				}
			}
		}
	}

	n, err := io.Copy(io.Discard, io.LimitReader(rc, limit+1))
	if err != nil {
		return n, fmt.Errorf("%s: %w", t.format, err)
	}
	return n, nil
}

func (t *tarReader) walk(fn func(e entry) error) error {
	rc, err := openStream(t.path, t.format)
	if err != nil {
		return err
	}
	defer rc.Close()

	tr := tar.NewReader(rc)
	for {
		h, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		// Insecure names are still walked so the traversal check can
		// record and skip them.
		if err != nil && !errors.Is(err, tar.ErrInsecurePath) {
			return fmt.Errorf("tar: %w", err)
		}
		e := entry{name: h.Name, size: h.Size, open: func() (io.ReadCloser, error) { return io.NopCloser(tr), nil }}
		switch h.Typeflag {
		case tar.TypeReg:
			e.kind = kindRegular
		case tar.TypeDir:
			e.kind = kindDir
		case tar.TypeSymlink, tar.TypeLink:
			e.kind = kindLink
		default:
			e.kind = kindOther
		}
		if err := fn(e); err != nil {
			return err
		}
	}
}

func (t *tarReader) Close() error {
	return nil
}

// singleReader presents a compressed single file as a one-member archive.
type singleReader struct {
	path   string
	format Format
	name   string
}

func (s *singleReader) scan(limit int64) (int64, error) {
	rc, err := openStream(s.path, s.format)
	if err != nil {
		return 0, err
	}
	defer rc.Close()
	n, err := io.Copy(io.Discard, io.LimitReader(rc, limit+1))
	if err != nil {
		return n, fmt.Errorf("%s: %w", s.format, err)
	}
	return n, nil
}

func (s *singleReader) walk(fn func(e entry) error) error {
	return fn(entry{
		name: s.name,
		kind: kindRegular,
		size: -1,
		open: func() (io.ReadCloser, error) { return openStream(s.path, s.format) },
	})
}

func (s *singleReader) Close() error {
	return nil
}

// singleName derives the member name of a compressed single file from the
// gzip header, or from the archive name with its compression suffix removed.
func singleName(p, archiveName string, format Format) string {
	if format == FormatGzip {
		if f, err := os.Open(p); err == nil {
			defer f.Close()
			if zr, err := gzip.NewReader(f); err == nil {
				name := zr.Header.Name
				zr.Close()
				if name != "" {
					return path.Base(strings.ReplaceAll(name, "\\", "/"))
				}
			}
		}
	}
	base := path.Base(strings.ReplaceAll(archiveName, "\\", "/"))
	for _, suffix := range []string{".gz", ".gzip", ".bz2", ".zst", ".zstd"} {
		if strings.HasSuffix(strings.ToLower(base), suffix) {
			return base[:len(base)-len(suffix)]
		}
	}
	return base + ".out"
}
