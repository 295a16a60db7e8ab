// Package download implements chunked, resumable transfers with a
// running content hash. Memory stays bounded by the chunk size no
// matter how large the file is.
package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/driftlake/intake/internal/domain"
	"github.com/driftlake/intake/internal/hashx"
)

const (
	// DefaultChunkSize is 8 MiB.
	DefaultChunkSize = int64(8 << 20)
	// DefaultPersistEvery persists progress every 4 chunks.
	DefaultPersistEvery = 4
)

// ErrCancelled reports that the cancel flag stopped the transfer. The
// partial file and the job's progress counters stay valid for resume.
var ErrCancelled = errors.New("download cancelled")

// Downloader runs chunked transfers from a Source to local files.
type Downloader struct {
	chunkSize    int64
	persistEvery int
	logger       *slog.Logger
}

// New creates a Downloader. Zero arguments fall back to defaults.
func New(chunkSize int64, persistEvery int, logger *slog.Logger) *Downloader {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if persistEvery <= 0 {
		persistEvery = DefaultPersistEvery
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Downloader{chunkSize: chunkSize, persistEvery: persistEvery, logger: logger}
}

// ChunkCount returns how many chunks of the given size cover totalSize.
func ChunkCount(totalSize, chunkSize int64) int {
	if totalSize <= 0 || chunkSize <= 0 {
		return 0
	}
	return int((totalSize + chunkSize - 1) / chunkSize)
}

// ChunkSize returns the configured chunk size in bytes.
func (d *Downloader) ChunkSize() int64 {
	return d.chunkSize
}

// Run transfers the job's content from src into destPath, resuming from
// job.DownloadedSize when a partial file exists. It mutates the job's
// progress fields as chunks land and calls persist on a fixed cadence so
// a crash loses at most a few chunks of accounting, never file bytes.
// The cancelled probe is checked between chunks. On success the file's
// hex SHA-256 is returned; the hash always covers every byte on disk
// because resumed prefixes are re-read into the hasher.
func (d *Downloader) Run(
	ctx context.Context,
	src domain.Source,
	job *domain.Job,
	destPath string,
	persist func(*domain.Job) error,
	cancelled func() bool,
) (string, error) {
	log := d.logger.With("job_id", job.ID)

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return "", fmt.Errorf("create download dir: %w", err)
	}

	offset, err := resumeOffset(destPath, job.DownloadedSize)
	if err != nil {
		return "", err
	}

	// The file on disk may already hold the full content if the process
	// died between the last write and the status flip.
	if job.TotalSize > 0 && offset == job.TotalSize {
		log.Info("download already complete on disk", "size", offset)
		d.syncProgress(job, offset)
		return hashx.SumFile(destPath)
	}
	if job.TotalSize > 0 && offset > job.TotalSize {
		log.Warn("partial file larger than expected, restarting", "have", offset, "want", job.TotalSize)
		offset = 0
	}

	hasher := sha256.New()
	if offset > 0 {
		n, err := hashx.FeedFile(hasher, destPath)
		if err != nil {
			return "", err
		}
		// The file is the byte-level truth; stored accounting may lag
		// by up to a persist interval.
		offset = n
		log.Info("resuming download", "offset", offset)
	}

	rc, start, err := src.Open(ctx, offset)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	if start == 0 && offset > 0 {
		log.Warn("source restarted from zero, discarding partial file")
		offset = 0
		hasher = sha256.New()
	}

	file, err := openDest(destPath, offset)
	if err != nil {
		return "", err
	}
	defer file.Close()

	d.syncProgress(job, offset)

	hash, err := d.copyChunks(ctx, file, hasher, rc, job, persist, cancelled, log)
	if err != nil {
		return "", err
	}

	if err := file.Sync(); err != nil {
		return "", fmt.Errorf("sync %s: %w", destPath, err)
	}
	return hash, nil
}

func (d *Downloader) copyChunks(
	ctx context.Context,
	file *os.File,
	hasher hash.Hash,
	rc io.Reader,
	job *domain.Job,
	persist func(*domain.Job) error,
	cancelled func() bool,
	log *slog.Logger,
) (string, error) {
	mw := io.MultiWriter(file, hasher)
	sincePersist := 0

	for {
		if err := ctx.Err(); err != nil {
			d.flush(job, persist, log)
			return "", err
		}
		if cancelled != nil && cancelled() {
			d.flush(job, persist, log)
			log.Info("download cancelled", "downloaded", job.DownloadedSize)
			return "", ErrCancelled
		}

		n, err := io.CopyN(mw, rc, d.chunkSize)
		if n > 0 {
			d.syncProgress(job, job.DownloadedSize+n)
			sincePersist++
		}

		if err == io.EOF {
			break
		}
		if err != nil {
			d.flush(job, persist, log)
			return "", err
		}

		if sincePersist >= d.persistEvery {
			d.flush(job, persist, log)
			sincePersist = 0
		}
	}

	if job.TotalSize > 0 && job.DownloadedSize < job.TotalSize {
		d.flush(job, persist, log)
		return "", fmt.Errorf("%w: short body: got %d of %d bytes",
			domain.ErrTransport, job.DownloadedSize, job.TotalSize)
	}
	if job.TotalSize <= 0 {
		// Size was unknown up front; now it is exact.
		job.TotalSize = job.DownloadedSize
		d.syncProgress(job, job.DownloadedSize)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// syncProgress keeps the byte count and derived chunk counters coherent.
func (d *Downloader) syncProgress(job *domain.Job, downloaded int64) {
	job.DownloadedSize = downloaded
	job.ChunksCompleted = ChunkCount(downloaded, d.chunkSize)
	if job.TotalSize > 0 {
		job.TotalChunks = ChunkCount(job.TotalSize, d.chunkSize)
	} else if job.ChunksCompleted > job.TotalChunks {
		job.TotalChunks = job.ChunksCompleted
	}
}

// flush persists progress best-effort; mid-flight persistence is a
// checkpoint, not a transaction.
func (d *Downloader) flush(job *domain.Job, persist func(*domain.Job) error, log *slog.Logger) {
	if persist == nil {
		return
	}
	if err := persist(job); err != nil {
		log.Warn("persist progress failed", "error", err)
	}
}

// resumeOffset reconciles the stored byte count with the file actually
// on disk. Resume happens only when the store says bytes were
// downloaded; a leftover file with no accounting is overwritten. When
// resuming, the file's size wins over the stored count because stored
// progress may lag the last write by up to a persist interval, and the
// hash has to cover exactly what is on disk.
func resumeOffset(destPath string, stored int64) (int64, error) {
	if stored <= 0 {
		return 0, nil
	}
	fi, err := os.Stat(destPath)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", destPath, err)
	}
	return fi.Size(), nil
}

func openDest(destPath string, offset int64) (*os.File, error) {
	if offset > 0 {
		f, err := os.OpenFile(destPath, os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("open %s for append: %w", destPath, err)
		}
		return f, nil
	}
	f, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", destPath, err)
	}
	return f, nil
}
