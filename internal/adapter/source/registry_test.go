package source

import (
	"errors"
	"net/url"
	"testing"

	"github.com/driftlake/intake/internal/domain"
)

func TestRegistry_Resolve(t *testing.T) {
	reg := NewRegistry()
	reg.Register(NewHTTPFactory(0))
	reg.Register(NewFileFactory())

	tests := []struct {
		name    string
		rawURL  string
		wantErr error
	}{
		{"http URL", "http://example.com/data.zip", nil},
		{"https URL", "https://example.com/data.zip", nil},
		{"file URL", "file:///tmp/data.zip", nil},
		{"bare path", "/tmp/data.zip", nil},
		{"unknown scheme", "ftp://example.com/data.zip", domain.ErrInvalidURL},
		{"empty", "", domain.ErrInvalidURL},
		{"unparseable", "http://%zz", domain.ErrInvalidURL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src, err := reg.Resolve(tt.rawURL)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Resolve(%q) error = %v, want %v", tt.rawURL, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve(%q) error = %v", tt.rawURL, err)
			}
			if src == nil {
				t.Errorf("Resolve(%q) returned nil source", tt.rawURL)
			}
		})
	}
}

func TestRegistry_DispatchesByScheme(t *testing.T) {
	reg := NewRegistry()
	reg.Register(NewFileFactory())
	reg.Register(NewHTTPFactory(0))

	src, err := reg.Resolve("https://example.com/x")
	if err != nil {
		t.Fatalf("Resolve(https) error = %v", err)
	}
	if _, ok := src.(*httpSource); !ok {
		t.Errorf("Resolve(https) source type = %T, want *httpSource", src)
	}

	src, err = reg.Resolve("file:///data/x.zip")
	if err != nil {
		t.Fatalf("Resolve(file) error = %v", err)
	}
	if _, ok := src.(*fileSource); !ok {
		t.Errorf("Resolve(file) source type = %T, want *fileSource", src)
	}
}

func TestHTTPFactory_RejectsMissingHost(t *testing.T) {
	u, err := url.Parse("http:///no-host")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := NewHTTPFactory(0).New(u); !errors.Is(err, domain.ErrInvalidURL) {
		t.Errorf("New() error = %v, want %v", err, domain.ErrInvalidURL)
	}
}
