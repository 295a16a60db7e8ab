package inventory

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

var utf8BOM = []byte{0xef, 0xbb, 0xbf}

// DecodeText turns raw file bytes into a string, trying UTF-8, then
// UTF-16 when a byte order mark is present, then Windows-1252, then
// Latin-1. Latin-1 maps every byte to a rune, so the chain is total;
// the returned name identifies the encoding that was applied.
func DecodeText(data []byte) (string, string) {
	if trimmed := bytes.TrimPrefix(data, utf8BOM); utf8.Valid(trimmed) {
		return string(trimmed), "utf-8"
	}

	if hasUTF16BOM(data) {
		dec := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewDecoder()
		if out, err := dec.Bytes(data); err == nil && utf8.Valid(out) {
			return string(out), "utf-16"
		}
	}

	// Windows-1252 leaves a handful of bytes undefined; the decoder
	// turns those into replacement runes, which marks the attempt failed.
	if out, err := charmap.Windows1252.NewDecoder().Bytes(data); err == nil {
		if !strings.ContainsRune(string(out), utf8.RuneError) {
			return string(out), "windows-1252"
		}
	}

	if out, err := charmap.ISO8859_1.NewDecoder().Bytes(data); err == nil {
		return string(out), "latin-1"
	}
	return string(data), "latin-1"
}

func hasUTF16BOM(data []byte) bool {
	if len(data) < 2 {
		return false
	}
	return (data[0] == 0xff && data[1] == 0xfe) || (data[0] == 0xfe && data[1] == 0xff)
}

// TruncateRunes caps s at n runes. The second return reports whether
// anything was cut.
func TruncateRunes(s string, n int) (string, bool) {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s, false
	}
	runes := []rune(s)
	return string(runes[:n]), true
}
