package domain

import (
	"context"
	"io"
	"time"
)

// JobStore is the driven port for durable job persistence. It is a flat
// key/value arena: the manager owns serialization and treats stored
// records as opaque bytes.
type JobStore interface {
	// Get returns the record for id, or ErrJobNotFound when the key is
	// absent or past its expiry.
	Get(ctx context.Context, id string) ([]byte, error)
	// Set writes the record, replacing any previous value. A ttl of zero
	// stores without expiry.
	Set(ctx context.Context, id string, data []byte, ttl time.Duration) error
	// Delete removes the record. Deleting a missing key is not an error.
	Delete(ctx context.Context, id string) error
	// ListKeys returns all live keys with the given prefix.
	ListKeys(ctx context.Context, prefix string) ([]string, error)
}

// Source is the driven port for reading remote content. Implementations
// exist per URL scheme (http, file, s3).
type Source interface {
	// Probe returns the total content size in bytes, or 0 when the
	// source cannot report one.
	Probe(ctx context.Context) (int64, error)
	// Open returns a reader and the offset it actually starts at.
	// Sources that cannot honor the requested offset return a reader
	// from position 0 with startOffset 0; the caller must notice and
	// restart its accounting.
	Open(ctx context.Context, offset int64) (rc io.ReadCloser, startOffset int64, err error)
}

// SourceResolver maps a raw URL to a Source, or ErrInvalidURL when no
// registered scheme matches.
type SourceResolver interface {
	Resolve(rawURL string) (Source, error)
}
