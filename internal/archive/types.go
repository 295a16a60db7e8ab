// Package archive analyzes and safely extracts zip and tar archives.
// Analysis is diagnostic and read-only; the decision to refuse an
// archive lives in the extractor.
package archive

import (
	"compress/bzip2"
	"compress/gzip"
	"fmt"
	"io"
	"strings"

	"github.com/ulikunitz/xz"

	"github.com/driftlake/intake/internal/domain"
)

// Type is the closed set of supported archive families. Adding one
// means updating DetectType, the decompressor, and both walkers.
type Type string

const (
	TypeZip    Type = "zip"
	TypeTar    Type = "tar"
	TypeTarGz  Type = "tar.gz"
	TypeTarBz2 Type = "tar.bz2"
	TypeTarXz  Type = "tar.xz"
)

// DetectType resolves the archive family from the filename suffix.
// Unrecognized suffixes fail before any parsing is attempted.
func DetectType(filename string) (Type, error) {
	name := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(name, ".zip"):
		return TypeZip, nil
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return TypeTarGz, nil
	case strings.HasSuffix(name, ".tar.bz2"), strings.HasSuffix(name, ".tbz2"):
		return TypeTarBz2, nil
	case strings.HasSuffix(name, ".tar.xz"), strings.HasSuffix(name, ".txz"):
		return TypeTarXz, nil
	case strings.HasSuffix(name, ".tar"):
		return TypeTar, nil
	default:
		return "", fmt.Errorf("%w: %s", domain.ErrUnsupportedArchive, filename)
	}
}

// IsArchiveName reports whether the filename has a supported archive
// suffix.
func IsArchiveName(filename string) bool {
	_, err := DetectType(filename)
	return err == nil
}

// decompress wraps r with the decompressor for the tar family. TypeTar
// passes through.
func decompress(r io.Reader, typ Type) (io.Reader, error) {
	switch typ {
	case TypeTar:
		return r, nil
	case TypeTarGz:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("gzip: %w", err)
		}
		return zr, nil
	case TypeTarBz2:
		return bzip2.NewReader(r), nil
	case TypeTarXz:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("xz: %w", err)
		}
		return xr, nil
	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedArchive, typ)
	}
}
