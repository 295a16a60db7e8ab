package source

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"

	"github.com/driftlake/intake/internal/domain"
)

// FileFactory serves file:// URLs and bare filesystem paths. Used for
// re-ingesting local drops and throughout the tests.
type FileFactory struct{}

func NewFileFactory() *FileFactory { return &FileFactory{} }

func (f *FileFactory) Name() string { return "file" }

func (f *FileFactory) Match(u *url.URL) bool {
	return u.Scheme == "file" || (u.Scheme == "" && u.Path != "")
}

func (f *FileFactory) New(u *url.URL) (domain.Source, error) {
	if u.Path == "" {
		return nil, fmt.Errorf("%w: empty file path", domain.ErrInvalidURL)
	}
	return &fileSource{path: u.Path}, nil
}

type fileSource struct {
	path string
}

func (s *fileSource) Probe(ctx context.Context) (int64, error) {
	fi, err := os.Stat(s.path)
	if err != nil {
		return 0, fmt.Errorf("%w: stat %s: %v", domain.ErrTransport, s.path, err)
	}
	return fi.Size(), nil
}

func (s *fileSource) Open(ctx context.Context, offset int64) (io.ReadCloser, int64, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: open %s: %v", domain.ErrTransport, s.path, err)
	}
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			f.Close()
			return nil, 0, fmt.Errorf("%w: seek %s: %v", domain.ErrTransport, s.path, err)
		}
	}
	return f, offset, nil
}
