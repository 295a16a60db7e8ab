// Package inventory classifies files in an extraction tree and pulls
// bounded text content and lightweight metadata out of them.
package inventory

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"

	"github.com/driftlake/intake/internal/domain"
	"github.com/driftlake/intake/internal/hashx"
)

const (
	// DefaultMaxContentChars caps extracted text per file.
	DefaultMaxContentChars = 1_000_000
	// DefaultMaxContentBytes is the file size above which content
	// extraction is skipped entirely.
	DefaultMaxContentBytes = 50 << 20
)

// Options controls which processing steps run during a walk.
type Options struct {
	Recursive      bool
	ExtractContent bool
	AnalyzeContent bool
}

// Inventory inspects files on disk and produces FileMetadata records.
type Inventory struct {
	maxChars int
	maxBytes int64
	logger   *slog.Logger
}

// New creates an Inventory. Non-positive caps fall back to the defaults.
func New(maxContentChars int, maxContentBytes int64, logger *slog.Logger) *Inventory {
	if maxContentChars <= 0 {
		maxContentChars = DefaultMaxContentChars
	}
	if maxContentBytes <= 0 {
		maxContentBytes = DefaultMaxContentBytes
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Inventory{maxChars: maxContentChars, maxBytes: maxContentBytes, logger: logger}
}

// ProcessFile inspects a single file. Failures along the way are
// recorded on the returned metadata rather than returned, so one broken
// file never aborts a directory walk.
func (inv *Inventory) ProcessFile(ctx context.Context, path string, extractContent, analyzeContent bool) *domain.FileMetadata {
	start := time.Now()
	meta := &domain.FileMetadata{
		Name:     filepath.Base(path),
		Path:     path,
		Category: domain.CategoryUnknown,
	}
	defer func() {
		meta.ProcessingMS = time.Since(start).Milliseconds()
	}()

	if err := ctx.Err(); err != nil {
		meta.Error = err.Error()
		return meta
	}

	fi, err := os.Stat(path)
	if err != nil {
		meta.Error = fmt.Sprintf("stat: %v", err)
		return meta
	}
	if !fi.Mode().IsRegular() {
		meta.Error = "not a regular file"
		return meta
	}
	meta.Size = fi.Size()

	meta.MIMEType = detectMIME(path)
	meta.Category = Categorize(meta.Name, meta.MIMEType)

	if hash, err := hashx.SumFile(path); err != nil {
		meta.Error = fmt.Sprintf("hash: %v", err)
	} else {
		meta.Hash = hash
	}

	if extractContent && meta.Category.TextLike() {
		if meta.Size > inv.maxBytes {
			inv.logger.Debug("skipping content extraction, file too large",
				"path", path, "size", meta.Size)
		} else if err := inv.extractText(meta, path); err != nil {
			meta.Error = fmt.Sprintf("read content: %v", err)
		}
	}

	if analyzeContent && meta.Content != "" {
		meta.Summary = summarize(meta.Content)
		meta.Entities = extractEntities(meta.Content)
		meta.Structured = parseStructured(meta.Name, meta.Content)
	}

	inv.logger.Debug("inventoried file",
		"path", path, "category", meta.Category, "mime", meta.MIMEType)
	return meta
}

// ProcessDirectory walks root and inventories every regular file.
// Per-file problems land on that file's metadata and the walk keeps
// going; only an unreadable root or a cancelled context abort it.
func (inv *Inventory) ProcessDirectory(ctx context.Context, root string, opts Options) ([]*domain.FileMetadata, error) {
	var out []*domain.FileMetadata

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if err != nil {
			if path == root {
				return err
			}
			out = append(out, &domain.FileMetadata{
				Name:     filepath.Base(path),
				Path:     path,
				Category: domain.CategoryUnknown,
				Error:    err.Error(),
			})
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != root && !opts.Recursive {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			inv.logger.Debug("skipping non-regular file", "path", path)
			return nil
		}
		out = append(out, inv.ProcessFile(ctx, path, opts.ExtractContent, opts.AnalyzeContent))
		return nil
	})
	if err != nil {
		return out, fmt.Errorf("walk %s: %w", root, err)
	}

	inv.logger.Info("inventory complete", "root", root, "files", len(out))
	return out, nil
}

// extractText reads the file, decodes it and fills the content fields.
// Counts are taken over the full decoded text before the cap applies,
// so line/word/char totals stay exact even when content is truncated.
func (inv *Inventory) extractText(meta *domain.FileMetadata, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	text, encoding := DecodeText(data)
	meta.Encoding = encoding
	meta.Lines, meta.Words, meta.Chars = textStats(text)
	meta.Content, meta.Truncated = TruncateRunes(text, inv.maxChars)
	return nil
}

// textStats counts lines, whitespace-delimited words and runes. A
// trailing fragment without a final newline still counts as a line.
func textStats(s string) (lines, words, chars int) {
	if s == "" {
		return 0, 0, 0
	}
	lines = strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		lines++
	}
	words = len(strings.Fields(s))
	chars = utf8.RuneCountInString(s)
	return lines, words, chars
}

// detectMIME sniffs file content, falling back to extension lookup and
// finally to application/octet-stream so the field is never empty.
func detectMIME(path string) string {
	if mtype, err := mimetype.DetectFile(path); err == nil {
		return mtype.String()
	}
	if byExt := mime.TypeByExtension(filepath.Ext(path)); byExt != "" {
		return byExt
	}
	return "application/octet-stream"
}
