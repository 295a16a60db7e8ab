package archive

import (
	"archive/tar"
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/dustin/go-humanize"

	"github.com/driftlake/intake/internal/domain"
)

// Analyzer produces ArchiveInfo without extracting anything. ZIP is a
// central-directory pass; tar families are streamed entry by entry, so
// memory stays flat regardless of archive size.
type Analyzer struct {
	limits Limits
	logger *slog.Logger
}

// NewAnalyzer creates an Analyzer with the given caps.
func NewAnalyzer(limits Limits, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{limits: limits, logger: logger}
}

// Analyze inspects the archive at path. Findings that would make the
// extractor refuse are reported as warnings; analysis itself always
// completes on a readable archive.
func (a *Analyzer) Analyze(ctx context.Context, path string) (*domain.ArchiveInfo, error) {
	typ, err := DetectType(path)
	if err != nil {
		return nil, err
	}

	fi, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat archive: %w", err)
	}

	info := &domain.ArchiveInfo{
		Type:           string(typ),
		CompressedSize: fi.Size(),
		Files:          []string{},
	}

	if typ == TypeZip {
		err = a.walkZip(ctx, path, info)
	} else {
		err = a.walkTar(ctx, path, typ, info)
	}
	if err != nil {
		return nil, err
	}

	if info.CompressedSize > 0 {
		info.Ratio = float64(info.TotalSize) / float64(info.CompressedSize)
	} else {
		info.Ratio = float64(info.TotalSize)
	}

	if a.limits.MaxRatio > 0 && info.Ratio > a.limits.MaxRatio {
		a.warn(info, "compression ratio %.0fx exceeds %.0fx, possible archive bomb", info.Ratio, a.limits.MaxRatio)
	}
	if a.limits.MaxEntries > 0 && info.FileCount > a.limits.MaxEntries {
		a.warn(info, "entry count %d exceeds cap %d", info.FileCount, a.limits.MaxEntries)
	}
	if a.limits.MaxTotalSize > 0 && info.TotalSize > a.limits.MaxTotalSize {
		a.warn(info, "uncompressed size %s exceeds cap %s",
			humanize.IBytes(uint64(info.TotalSize)), humanize.IBytes(uint64(a.limits.MaxTotalSize)))
	}

	a.logger.Debug("archive analyzed",
		"path", path,
		"type", info.Type,
		"entries", info.FileCount,
		"uncompressed", info.TotalSize,
		"warnings", len(info.Warnings))
	return info, nil
}

func (a *Analyzer) walkZip(ctx context.Context, path string, info *domain.ArchiveInfo) error {
	zr, err := zip.OpenReader(path)
	// Insecure entry names are this package's concern, not a reason to
	// fail the open.
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return fmt.Errorf("open zip: %w", err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		a.noteEntry(info, f.Name, int64(f.UncompressedSize64), f.FileInfo().IsDir())
	}
	return nil
}

func (a *Analyzer) walkTar(ctx context.Context, path string, typ Type, info *domain.ArchiveInfo) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	r, err := decompress(f, typ)
	if err != nil {
		return err
	}

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		switch {
		case errors.Is(err, io.EOF):
			return nil
		case errors.Is(err, tar.ErrInsecurePath) && hdr != nil:
			// Keep going; the name checks below flag it.
		case err != nil:
			return fmt.Errorf("read tar: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		a.noteEntry(info, hdr.Name, hdr.Size, hdr.Typeflag == tar.TypeDir)
	}
}

func (a *Analyzer) noteEntry(info *domain.ArchiveInfo, name string, size int64, isDir bool) {
	info.Files = append(info.Files, name)
	if !isDir {
		info.FileCount++
		info.TotalSize += size
	}

	if DangerousName(name) {
		info.HasExecutable = true
	}
	if hiddenName(name) {
		info.HasHiddenFiles = true
	}
	if nestedArchiveName(name) {
		info.HasNestedArchives = true
	}

	if reason := TraversalReason(name); reason != "" {
		a.warn(info, "unsafe path %q: %s", name, reason)
	}
	if a.limits.MaxNameLen > 0 && len(name) > a.limits.MaxNameLen {
		a.warn(info, "entry name length %d exceeds cap %d", len(name), a.limits.MaxNameLen)
	}
	if !isDir && a.limits.MaxEntrySize > 0 && size > a.limits.MaxEntrySize {
		a.warn(info, "entry %q is %s, exceeds per-entry cap %s",
			name, humanize.IBytes(uint64(size)), humanize.IBytes(uint64(a.limits.MaxEntrySize)))
	}
}

func (a *Analyzer) warn(info *domain.ArchiveInfo, format string, args ...any) {
	info.Warnings = append(info.Warnings, fmt.Sprintf(format, args...))
}
