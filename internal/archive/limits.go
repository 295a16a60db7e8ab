package archive

import (
	"path"
	"strings"
)

// Limits bound what the extractor will write and what the analyzer
// warns about.
type Limits struct {
	MaxTotalSize int64   // uncompressed bytes across all entries
	MaxEntries   int     // entry count
	MaxEntrySize int64   // uncompressed bytes per entry
	MaxRatio     float64 // uncompressed / compressed
	MaxNameLen   int     // entry name length
}

// DefaultLimits returns the stock caps: 10 GiB total, 100k entries,
// 1 GiB per entry, 1000x ratio, 255-char names.
func DefaultLimits() Limits {
	return Limits{
		MaxTotalSize: 10 << 30,
		MaxEntries:   100_000,
		MaxEntrySize: 1 << 30,
		MaxRatio:     1000,
		MaxNameLen:   255,
	}
}

// Executable and script suffixes skipped under safe mode. Windows
// script-host families plus unix script droppers.
var dangerousExts = map[string]struct{}{
	".exe": {}, ".bat": {}, ".cmd": {}, ".com": {}, ".scr": {},
	".pif": {}, ".vbs": {}, ".vbe": {}, ".jse": {}, ".wsf": {},
	".wsh": {}, ".msi": {}, ".dll": {}, ".jar": {}, ".ps1": {},
	".sh": {},
}

// Suffixes that mark an entry as itself an archive.
var nestedExts = map[string]struct{}{
	".zip": {}, ".tar": {}, ".gz": {}, ".tgz": {}, ".bz2": {},
	".tbz2": {}, ".xz": {}, ".txz": {}, ".rar": {}, ".7z": {},
}

// DangerousName reports whether the entry name carries an executable
// or script suffix.
func DangerousName(name string) bool {
	_, ok := dangerousExts[strings.ToLower(path.Ext(normalize(name)))]
	return ok
}

func nestedArchiveName(name string) bool {
	_, ok := nestedExts[strings.ToLower(path.Ext(normalize(name)))]
	return ok
}

func hiddenName(name string) bool {
	base := path.Base(normalize(name))
	return strings.HasPrefix(base, ".") && base != "." && base != ".."
}

// TraversalReason returns why the entry name could escape an extraction
// root, or "" when it cannot.
func TraversalReason(name string) string {
	n := normalize(name)
	if strings.HasPrefix(n, "/") {
		return "absolute path"
	}
	if len(n) >= 2 && n[1] == ':' {
		return "drive letter path"
	}
	for _, seg := range strings.Split(n, "/") {
		if seg == ".." {
			return "parent directory traversal"
		}
	}
	return ""
}

// normalize folds windows separators so every check sees slash paths.
func normalize(name string) string {
	return strings.ReplaceAll(name, `\`, "/")
}
