package hashx

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
)

func TestSumFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "payload.bin")
	data := bytes.Repeat([]byte("intake"), 4096)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	want := sha256.Sum256(data)

	got, err := SumFile(path)
	if err != nil {
		t.Fatalf("SumFile() error = %v", err)
	}
	if got != hex.EncodeToString(want[:]) {
		t.Errorf("SumFile() = %s, want %s", got, hex.EncodeToString(want[:]))
	}
}

func TestSumFile_Missing(t *testing.T) {
	if _, err := SumFile(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Fatal("SumFile() on missing file returned nil error")
	}
}

func TestFeedFile_SeedsRunningHash(t *testing.T) {
	dir := t.TempDir()
	prefix := []byte("first half of the payload ")
	rest := []byte("and the remainder arriving later")

	path := filepath.Join(dir, "partial.bin")
	if err := os.WriteFile(path, prefix, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	h := sha256.New()
	n, err := FeedFile(h, path)
	if err != nil {
		t.Fatalf("FeedFile() error = %v", err)
	}
	if n != int64(len(prefix)) {
		t.Errorf("FeedFile() n = %d, want %d", n, len(prefix))
	}
	h.Write(rest)

	want := sha256.Sum256(append(append([]byte{}, prefix...), rest...))
	if got := hex.EncodeToString(h.Sum(nil)); got != hex.EncodeToString(want[:]) {
		t.Errorf("seeded hash = %s, want %s", got, hex.EncodeToString(want[:]))
	}
}
