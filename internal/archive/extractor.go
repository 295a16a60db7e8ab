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
	"path"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/driftlake/intake/internal/domain"
)

// Extractor unpacks archives with safe-mode policy enforcement. Archive
// level violations refuse before any byte is written; per-entry
// violations skip that entry and continue.
type Extractor struct {
	limits   Limits
	analyzer *Analyzer
	logger   *slog.Logger

	// EntryObserver, when set, receives the byte size of every
	// successfully extracted entry.
	EntryObserver func(int64)
}

// NewExtractor creates an Extractor with the given caps.
func NewExtractor(limits Limits, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		limits:   limits,
		analyzer: NewAnalyzer(limits, logger),
		logger:   logger,
	}
}

// Extract unpacks the archive at archivePath into destDir. Under safe
// mode the archive is analyzed first and refused with
// ErrSecurityViolation before any write when it breaches the caps.
// Per-entry problems never fail the extraction; they are recorded on
// the result. The context is checked at entry boundaries.
func (e *Extractor) Extract(ctx context.Context, archivePath, destDir string, safeMode bool) (*domain.ExtractionResult, error) {
	typ, err := DetectType(archivePath)
	if err != nil {
		return nil, err
	}

	if safeMode {
		info, err := e.analyzer.Analyze(ctx, archivePath)
		if err != nil {
			return nil, err
		}
		if reason := e.refusalReason(info); reason != "" {
			return nil, fmt.Errorf("%w: %s", domain.ErrSecurityViolation, reason)
		}
	}

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return nil, fmt.Errorf("create extraction dir: %w", err)
	}

	res := &domain.ExtractionResult{
		Dir:       destDir,
		Extracted: []string{},
	}

	if typ == TypeZip {
		err = e.extractZip(ctx, archivePath, destDir, safeMode, res)
	} else {
		err = e.extractTar(ctx, archivePath, typ, destDir, safeMode, res)
	}
	if err != nil {
		return nil, err
	}

	res.Success = true
	e.logger.Info("archive extracted",
		"path", archivePath,
		"dir", destDir,
		"extracted", len(res.Extracted),
		"skipped", len(res.Skipped),
		"bytes", res.TotalBytes)
	return res, nil
}

// refusalReason applies the archive-level caps to an analysis.
func (e *Extractor) refusalReason(info *domain.ArchiveInfo) string {
	if e.limits.MaxTotalSize > 0 && info.TotalSize > e.limits.MaxTotalSize {
		return fmt.Sprintf("uncompressed size %s exceeds cap %s",
			humanize.IBytes(uint64(info.TotalSize)), humanize.IBytes(uint64(e.limits.MaxTotalSize)))
	}
	if e.limits.MaxEntries > 0 && info.FileCount > e.limits.MaxEntries {
		return fmt.Sprintf("entry count %d exceeds cap %d", info.FileCount, e.limits.MaxEntries)
	}
	if e.limits.MaxRatio > 0 && info.Ratio > e.limits.MaxRatio {
		return fmt.Sprintf("compression ratio %.0fx exceeds %.0fx", info.Ratio, e.limits.MaxRatio)
	}
	return ""
}

func (e *Extractor) extractZip(ctx context.Context, archivePath, root string, safeMode bool, res *domain.ExtractionResult) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return fmt.Errorf("open zip: %w", err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		if f.Mode()&os.ModeSymlink != 0 {
			res.Skipped = append(res.Skipped, f.Name)
			e.logger.Debug("skipping symlink entry", "entry", f.Name)
			continue
		}
		e.placeEntry(res, root, f.Name, f.Name, f.FileInfo().IsDir(), safeMode, f.Open)
	}
	return nil
}

func (e *Extractor) extractTar(ctx context.Context, archivePath string, typ Type, root string, safeMode bool, res *domain.ExtractionResult) error {
	f, err := os.Open(archivePath)
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
			// The per-entry checks below skip and record it.
		case err != nil:
			return fmt.Errorf("read tar: %w", err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		switch hdr.Typeflag {
		case tar.TypeReg, tar.TypeDir:
		default:
			// Symlinks, devices and the like are not reproduced.
			res.Skipped = append(res.Skipped, hdr.Name)
			e.logger.Debug("skipping non-regular entry", "entry", hdr.Name, "typeflag", hdr.Typeflag)
			continue
		}

		// A tar member claiming an absolute path lands under the root
		// instead of outside it.
		pathName := strings.TrimLeft(normalize(hdr.Name), "/")
		opener := func() (io.ReadCloser, error) { return io.NopCloser(tr), nil }
		e.placeEntry(res, root, hdr.Name, pathName, hdr.Typeflag == tar.TypeDir, safeMode, opener)
	}
}

// placeEntry runs the per-entry policy gauntlet and writes one entry.
// name is what results report; pathName is what placement uses (they
// differ for tar members with stripped absolute paths).
func (e *Extractor) placeEntry(res *domain.ExtractionResult, root, name, pathName string, isDir, safeMode bool, open func() (io.ReadCloser, error)) {
	clean := normalize(pathName)

	if reason := TraversalReason(clean); reason != "" {
		e.violation(res, name, reason)
		return
	}
	if safeMode && !isDir && DangerousName(clean) {
		e.violation(res, name, "dangerous extension")
		return
	}
	if e.limits.MaxNameLen > 0 && len(clean) > e.limits.MaxNameLen {
		e.violation(res, name, fmt.Sprintf("name length %d exceeds cap %d", len(clean), e.limits.MaxNameLen))
		return
	}

	rel := path.Clean(clean)
	if rel == "." || rel == "" {
		return
	}
	target := filepath.Join(root, filepath.FromSlash(rel))
	if !strings.HasPrefix(target, filepath.Clean(root)+string(os.PathSeparator)) {
		e.violation(res, name, "escapes extraction root")
		return
	}

	if isDir {
		if err := os.MkdirAll(target, 0755); err != nil {
			res.Skipped = append(res.Skipped, name)
			e.logger.Warn("create dir failed", "entry", name, "error", err)
		}
		return
	}

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		res.Skipped = append(res.Skipped, name)
		e.logger.Warn("create parent dir failed", "entry", name, "error", err)
		return
	}

	rc, err := open()
	if err != nil {
		res.Skipped = append(res.Skipped, name)
		e.logger.Warn("open entry failed", "entry", name, "error", err)
		return
	}
	defer rc.Close()

	written, oversized, err := e.writeEntry(target, rc)
	if err != nil {
		res.Skipped = append(res.Skipped, name)
		e.logger.Warn("write entry failed", "entry", name, "error", err)
		return
	}
	if oversized {
		e.violation(res, name, fmt.Sprintf("exceeds per-entry cap %s", humanize.IBytes(uint64(e.limits.MaxEntrySize))))
		return
	}

	res.Extracted = append(res.Extracted, name)
	res.TotalBytes += written
	if e.EntryObserver != nil {
		e.EntryObserver(written)
	}
}

// writeEntry copies with a hard byte bound. Oversized entries have
// their partial output deleted.
func (e *Extractor) writeEntry(target string, r io.Reader) (int64, bool, error) {
	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return 0, false, err
	}

	if e.limits.MaxEntrySize <= 0 {
		n, err := io.Copy(out, r)
		if err != nil {
			out.Close()
			os.Remove(target)
			return n, false, err
		}
		return n, false, out.Close()
	}

	n, err := io.CopyN(out, r, e.limits.MaxEntrySize+1)
	if err == nil {
		// The cap was reached with bytes still coming.
		out.Close()
		os.Remove(target)
		return n, true, nil
	}
	if !errors.Is(err, io.EOF) {
		out.Close()
		os.Remove(target)
		return n, false, err
	}
	return n, false, out.Close()
}

func (e *Extractor) violation(res *domain.ExtractionResult, name, reason string) {
	res.Skipped = append(res.Skipped, name)
	res.Violations = append(res.Violations, fmt.Sprintf("%s: %s", reason, name))
}
