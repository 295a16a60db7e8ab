// Package hashx provides streaming SHA-256 helpers. Files are fed
// through fixed-size copies so hashing a large download never buffers
// the whole file.
package hashx

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// SumFile computes the hex-encoded SHA-256 of the file at path.
func SumFile(path string) (string, error) {
	h := sha256.New()
	if _, err := FeedFile(h, path); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// FeedFile streams the file at path into w and returns the byte count.
// The downloader uses this to rebuild a running hash over the already
// downloaded prefix before resuming.
func FeedFile(w io.Writer, path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open for hashing: %w", err)
	}
	defer f.Close()

	n, err := io.Copy(w, f)
	if err != nil {
		return n, fmt.Errorf("hash %s: %w", path, err)
	}
	return n, nil
}
