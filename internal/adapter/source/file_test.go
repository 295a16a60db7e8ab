package source

import (
	"context"
	"errors"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/driftlake/intake/internal/domain"
)

func TestFileSource_ProbeAndOpen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "drop.bin")
	if err := os.WriteFile(path, []byte("0123456789"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	u, _ := url.Parse("file://" + path)
	src, err := NewFileFactory().New(u)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	size, err := src.Probe(context.Background())
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if size != 10 {
		t.Errorf("Probe() = %d, want 10", size)
	}

	rc, start, err := src.Open(context.Background(), 6)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer rc.Close()

	if start != 6 {
		t.Errorf("Open() start = %d, want 6", start)
	}
	got, _ := io.ReadAll(rc)
	if string(got) != "6789" {
		t.Errorf("tail = %q, want %q", got, "6789")
	}
}

func TestFileSource_ProbeMissing(t *testing.T) {
	u, _ := url.Parse("file://" + filepath.Join(t.TempDir(), "absent"))
	src, err := NewFileFactory().New(u)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := src.Probe(context.Background()); !errors.Is(err, domain.ErrTransport) {
		t.Errorf("Probe() error = %v, want %v", err, domain.ErrTransport)
	}
}

func TestFileFactory_Match(t *testing.T) {
	tests := []struct {
		rawURL string
		want   bool
	}{
		{"file:///tmp/x", true},
		{"/tmp/x", true},
		{"relative/path", true},
		{"https://example.com/x", false},
		{"s3://bucket/key", false},
	}

	f := NewFileFactory()
	for _, tt := range tests {
		u, err := url.Parse(tt.rawURL)
		if err != nil {
			t.Fatalf("parse %q: %v", tt.rawURL, err)
		}
		if got := f.Match(u); got != tt.want {
			t.Errorf("Match(%q) = %v, want %v", tt.rawURL, got, tt.want)
		}
	}
}
