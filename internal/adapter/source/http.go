package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/driftlake/intake/internal/domain"
)

const userAgent = "intaked/1.0"

// HTTPFactory serves http and https URLs.
type HTTPFactory struct {
	client      *http.Client
	readTimeout time.Duration
}

// NewHTTPFactory creates the factory. readTimeout bounds how long a
// single body read may stall; zero disables the watchdog.
func NewHTTPFactory(readTimeout time.Duration) *HTTPFactory {
	return &HTTPFactory{
		// No client-level timeout: it would cap the whole body read,
		// and a large download legitimately outlives any fixed total.
		// Cancellation comes from the request context and the per-read
		// watchdog instead.
		client:      &http.Client{Timeout: 0},
		readTimeout: readTimeout,
	}
}

func (f *HTTPFactory) Name() string { return "http" }

func (f *HTTPFactory) Match(u *url.URL) bool {
	return u.Scheme == "http" || u.Scheme == "https"
}

func (f *HTTPFactory) New(u *url.URL) (domain.Source, error) {
	if u.Host == "" {
		return nil, fmt.Errorf("%w: missing host in %q", domain.ErrInvalidURL, u.String())
	}
	return &httpSource{factory: f, url: u.String()}, nil
}

type httpSource struct {
	factory *HTTPFactory
	url     string
}

// Probe issues a HEAD request for the content length. Servers that do
// not report one yield 0 without error.
func (s *httpSource) Probe(ctx context.Context) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.url, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrInvalidURL, err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.factory.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: probe %s: %v", domain.ErrTransport, s.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("%w: probe %s: status %s", domain.ErrTransport, s.url, resp.Status)
	}
	if resp.ContentLength < 0 {
		return 0, nil
	}
	return resp.ContentLength, nil
}

// Open starts a GET, ranged when offset > 0. A 200 answer to a ranged
// request means the server ignored the Range header; the returned
// startOffset of 0 tells the caller to restart its accounting.
func (s *httpSource) Open(ctx context.Context, offset int64) (io.ReadCloser, int64, error) {
	reqCtx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, s.url, nil)
	if err != nil {
		cancel()
		return nil, 0, fmt.Errorf("%w: %v", domain.ErrInvalidURL, err)
	}
	req.Header.Set("User-Agent", userAgent)
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := s.factory.client.Do(req)
	if err != nil {
		cancel()
		return nil, 0, fmt.Errorf("%w: get %s: %v", domain.ErrTransport, s.url, err)
	}

	var start int64
	switch {
	case offset > 0 && resp.StatusCode == http.StatusPartialContent:
		start = offset
	case resp.StatusCode == http.StatusOK:
		start = 0
	default:
		resp.Body.Close()
		cancel()
		return nil, 0, fmt.Errorf("%w: get %s: status %s", domain.ErrTransport, s.url, resp.Status)
	}

	return newWatchdogReader(resp.Body, s.factory.readTimeout, cancel), start, nil
}
