// Package archive unpacks zip and tar family archives into a scoped working
// directory and hands every surviving entry back to the dispatcher one level
// deeper. Safety bounds come from config.ArchiveLimits.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/text-extract-pipeline/internal/config"
	"github.com/fpang/text-extract-pipeline/internal/extract"
	"github.com/fpang/text-extract-pipeline/internal/failure"
)

// Unpacker implements extract.Unpacker.
type Unpacker struct {
	limits  config.ArchiveLimits
	workDir string
}

var _ extract.Unpacker = (*Unpacker)(nil)

// New returns an Unpacker that extracts into temporary directories under
// workDir, or the OS temp directory when workDir is empty.
func New(limits config.ArchiveLimits, workDir string) *Unpacker {
	return &Unpacker{limits: limits, workDir: workDir}
}

// Unpack extracts p and dispatches each surviving entry through next at
// depth+1. Per-entry failures become warnings; the archive fails only when
// it cannot be opened, breaks a ceiling, or yields no units at all.
func (u *Unpacker) Unpack(ctx context.Context, p extract.Payload, depth int, next extract.Func) (*extract.Batch, error) {
	if depth >= u.limits.MaxDepth {
		return nil, failure.Newf(failure.KindCeilingExceeded, p.Name,
			"archive nesting level %d exceeds the maximum of %d", depth+1, u.limits.MaxDepth)
	}

	fi, err := os.Stat(p.Path)
	if err != nil {
		return nil, failure.Wrap(failure.KindInternalFault, p.Name, "stat archive", err)
	}
	compressed := fi.Size()
	if compressed > u.limits.MaxTotalBytes {
		return nil, failure.Newf(failure.KindCeilingExceeded, p.Name,
			"archive size %d exceeds the maximum of %d bytes", compressed, u.limits.MaxTotalBytes)
	}

	format, err := detect(p.Path)
	if err != nil {
		return nil, failure.Wrap(failure.KindCorruptSource, p.Name, "detect archive format", err)
	}
	r, err := openReader(p.Path, p.Name, format)
	if err != nil {
		return nil, failure.Wrap(failure.KindCorruptSource, p.Name, "open "+string(format)+" archive", err)
	}
	defer r.Close()

	if err := u.checkBomb(r, p.Name, compressed); err != nil {
		return nil, err
	}

	root, err := os.MkdirTemp(u.workDir, "unpack-*")
	if err != nil {
		return nil, failure.Wrap(failure.KindInternalFault, p.Name, "create working directory", err)
	}
	defer func() {
		if err := os.RemoveAll(root); err != nil {
			log.Warn().Err(err).Str("dir", root).Msg("Failed to remove archive working directory")
		}
	}()

	w := &walker{
		limits:  u.limits,
		root:    root,
		archive: p,
		depth:   depth,
		next:    next,
		batch:   &extract.Batch{Archive: true},
	}

	start := time.Now()
	if err := r.walk(func(e entry) error { return w.visit(ctx, e) }); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, failure.Transient(p.Name, "archive traversal interrupted", ctxErr)
		}
		var fe *failure.Error
		if errors.As(err, &fe) {
			return nil, fe
		}
		if len(w.batch.Units) == 0 {
			return nil, failure.Wrap(failure.KindCorruptSource, p.Name, "read "+string(format)+" archive", err)
		}
		w.warn(p.Name, "archive truncated: "+err.Error())
	}

	if len(w.batch.Units) == 0 {
		return nil, failure.Newf(failure.KindCorruptSource, p.Name,
			"no entry of the archive could be extracted (%d accepted, %d skipped)", w.accepted, w.skipped)
	}

	for i := range w.batch.Units {
		w.batch.Units[i].SequenceIndex = i + 1
	}

	log.Info().
		Str("archive", p.Name).
		Str("format", string(format)).
		Int("depth", depth).
		Int("units", len(w.batch.Units)).
		Int("skipped", w.skipped).
		Dur("took", time.Since(start)).
		Msg("Unpacked archive")

	return w.batch, nil
}

// checkBomb rejects the archive before anything is written when its declared
// or measured uncompressed size breaks the total ceiling or the bomb ratio.
func (u *Unpacker) checkBomb(r reader, name string, compressed int64) error {
	limit := u.limits.MaxTotalBytes
	if compressed > 0 && u.limits.BombRatio > 0 {
		if byRatio := int64(u.limits.BombRatio * float64(compressed)); byRatio < limit {
			limit = byRatio
		}
	}

	total, err := r.scan(limit)
	if err != nil {
		return failure.Wrap(failure.KindCorruptSource, name, "scan archive", err)
	}
	if total > u.limits.MaxTotalBytes {
		return failure.Newf(failure.KindCeilingExceeded, name,
			"uncompressed size exceeds the maximum of %d bytes", u.limits.MaxTotalBytes)
	}
	if compressed > 0 && float64(total)/float64(compressed) > u.limits.BombRatio {
		log.Warn().
			Bool("security", true).
			Str("archive", name).
			Int64("compressed", compressed).
			Int64("uncompressed", total).
			Msg("Archive rejected as decompression bomb")
		return failure.Newf(failure.KindCeilingExceeded, name,
			"compression ratio exceeds %.0f:1", u.limits.BombRatio)
	}
	return nil
}

// walker carries the state of one archive traversal.
type walker struct {
	limits  config.ArchiveLimits
	root    string
	archive extract.Payload
	depth   int
	next    extract.Func
	batch   *extract.Batch

	accepted int
	skipped  int
	written  int64
}

func (w *walker) warn(entryName, msg string) {
	w.batch.Warnings = append(w.batch.Warnings, fmt.Sprintf("%s: %s", entryName, msg))
}

func (w *walker) skip(e entry, reason string) {
	w.skipped++
	w.warn(e.name, "skipped, "+reason)
	log.Warn().
		Str("archive", w.archive.Name).
		Str("entry", e.name).
		Str("reason", reason).
		Msg("Archive entry skipped")
}

// visit applies the per-entry safety checks and dispatches a surviving entry.
// Only cancellation and request-level ceilings abort the traversal.
func (w *walker) visit(ctx context.Context, e entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	switch e.kind {
	case kindDir:
		return nil
	case kindLink:
		w.skip(e, "symbolic or hard link")
		return nil
	case kindOther:
		w.skip(e, "not a regular file")
		return nil
	}

	rel, ok := safeRel(e.name)
	var dest string
	if ok {
		dest, ok = within(w.root, rel)
	}
	if !ok {
		w.skipped++
		w.warn(e.name, "skipped, path escapes the extraction root")
		log.Warn().
			Bool("security", true).
			Str("archive", w.archive.Name).
			Str("entry", e.name).
			Msg("Archive entry escapes extraction root, skipped")
		return nil
	}

	if w.accepted >= w.limits.MaxEntries {
		w.skip(e, fmt.Sprintf("entry limit of %d reached", w.limits.MaxEntries))
		return nil
	}
	if e.encrypted {
		w.skip(e, "password protected")
		return nil
	}
	if e.size > w.limits.MaxEntryBytes {
		w.skip(e, fmt.Sprintf("size %d exceeds the per-entry maximum of %d bytes", e.size, w.limits.MaxEntryBytes))
		return nil
	}
	w.accepted++

	size, err := w.materialize(e, dest)
	if err != nil {
		_ = os.Remove(dest)
		var fe *failure.Error
		if errors.As(err, &fe) && fe.Kind == failure.KindCeilingExceeded && fe.Identifier == w.archive.Name {
			return fe
		}
		w.skip(e, err.Error())
		return nil
	}
	defer os.Remove(dest)

	batch, err := w.next(ctx, extract.Payload{
		FileID: w.archive.FileID,
		Path:   dest,
		Name:   rel,
		Size:   size,
	}, w.depth+1)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.skip(e, err.Error())
		return nil
	}

	for _, unit := range batch.Units {
		if unit.EntryName == "" {
			unit.EntryName = rel
		} else {
			unit.EntryName = rel + "/" + unit.EntryName
		}
		w.batch.Units = append(w.batch.Units, unit)
	}
	for _, warning := range batch.Warnings {
		w.warn(rel, warning)
	}
	return nil
}

// materialize copies one entry to dest, enforcing the per-entry and running
// total ceilings on the bytes actually produced.
func (w *walker) materialize(e entry, dest string) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o700); err != nil {
		return 0, fmt.Errorf("create entry directory: %w", err)
	}
	rc, err := e.open()
	if err != nil {
		return 0, fmt.Errorf("open entry: %w", err)
	}
	defer rc.Close()

	f, err := os.OpenFile(dest, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, fmt.Errorf("create entry file: %w", err)
	}
	n, copyErr := io.Copy(f, io.LimitReader(rc, w.limits.MaxEntryBytes+1))
	closeErr := f.Close()
	w.written += n

	switch {
	case copyErr != nil:
		return n, fmt.Errorf("read entry: %w", copyErr)
	case closeErr != nil:
		return n, fmt.Errorf("write entry: %w", closeErr)
	case n > w.limits.MaxEntryBytes:
		return n, fmt.Errorf("size exceeds the per-entry maximum of %d bytes", w.limits.MaxEntryBytes)
	case w.written > w.limits.MaxTotalBytes:
		return n, failure.Newf(failure.KindCeilingExceeded, w.archive.Name,
			"uncompressed size exceeds the maximum of %d bytes", w.limits.MaxTotalBytes)
	}
	return n, nil
}
