// Package manager owns the job lifecycle: creating jobs, driving the
// download stage, and sequencing the archive stages that follow.
package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/driftlake/intake/internal/archive"
	"github.com/driftlake/intake/internal/domain"
	"github.com/driftlake/intake/internal/download"
	"github.com/driftlake/intake/internal/inventory"
	"github.com/driftlake/intake/internal/metrics"
)

const (
	// DefaultJobTTL is how long job records survive in the store.
	DefaultJobTTL = 7 * 24 * time.Hour

	jobKeyPrefix = "job:"
	probeTimeout = 10 * time.Second
)

// Config carries the manager's collaborators and tuning.
type Config struct {
	Store       domain.JobStore
	Resolver    domain.SourceResolver
	Downloader  *download.Downloader
	Analyzer    *archive.Analyzer
	Extractor   *archive.Extractor
	Inventory   *inventory.Inventory
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
	DownloadDir string
	ExtractDir  string
	JobTTL      time.Duration
}

// Manager coordinates all job operations. One goroutine owns a job's
// mutable fields per stage; the manager hands out that ownership and
// keeps the per-job cancel flags everything else polls.
type Manager struct {
	store      domain.JobStore
	resolver   domain.SourceResolver
	downloader *download.Downloader
	analyzer   *archive.Analyzer
	extractor  *archive.Extractor
	inventory  *inventory.Inventory
	metrics    *metrics.Metrics
	logger     *slog.Logger

	downloadDir string
	extractDir  string
	jobTTL      time.Duration

	mu      sync.Mutex
	handles map[string]*handle
}

// handle tracks one job's in-flight stage. The cancel flag is checked
// at chunk and entry boundaries; stop aborts the stage's context so a
// stalled read does not delay the flag taking effect.
type handle struct {
	cancelled atomic.Bool

	mu   sync.Mutex
	stop context.CancelFunc
}

// arm installs the stage's cancel func. A flag set before the stage
// got this far fires it immediately.
func (h *handle) arm(stop context.CancelFunc) {
	h.mu.Lock()
	h.stop = stop
	h.mu.Unlock()
	if h.cancelled.Load() {
		stop()
	}
}

func (h *handle) abort() {
	h.cancelled.Store(true)
	h.mu.Lock()
	stop := h.stop
	h.mu.Unlock()
	if stop != nil {
		stop()
	}
}

// New creates a Manager. Zero-value tuning fields fall back to defaults.
func New(cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New(prometheus.NewRegistry())
	}
	if cfg.JobTTL <= 0 {
		cfg.JobTTL = DefaultJobTTL
	}
	return &Manager{
		store:       cfg.Store,
		resolver:    cfg.Resolver,
		downloader:  cfg.Downloader,
		analyzer:    cfg.Analyzer,
		extractor:   cfg.Extractor,
		inventory:   cfg.Inventory,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
		downloadDir: cfg.DownloadDir,
		extractDir:  cfg.ExtractDir,
		jobTTL:      cfg.JobTTL,
		handles:     make(map[string]*handle),
	}
}

// StartDownload validates the URL, creates a pending job and persists
// it. The worker picks the job up asynchronously; the returned Job is
// the caller's snapshot.
func (m *Manager) StartDownload(ctx context.Context, rawURL, filename string) (*domain.Job, error) {
	src, err := m.resolver.Resolve(rawURL)
	if err != nil {
		return nil, err
	}

	job := domain.NewJob(rawURL, "")
	job.Filename = safeFilename(rawURL, filename, job.ID)

	// Size probe is best effort; an unreachable HEAD must not block
	// job creation.
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	if size, err := src.Probe(probeCtx); err != nil {
		m.logger.Debug("size probe failed", "job_id", job.ID, "url", rawURL, "error", err)
	} else if size > 0 {
		job.TotalSize = size
		job.TotalChunks = download.ChunkCount(size, m.downloader.ChunkSize())
	}

	if err := m.saveJob(ctx, job); err != nil {
		return nil, err
	}
	m.logger.Info("job created",
		"job_id", job.ID, "url", rawURL, "filename", job.Filename, "total_size", job.TotalSize)
	return job, nil
}

// RunDownload drives one job through the download stage. It claims the
// job (pending to downloading), streams it to disk and persists the
// outcome. Intended to be called from a worker goroutine.
func (m *Manager) RunDownload(ctx context.Context, id string) error {
	job, err := m.loadJob(ctx, id)
	if err != nil {
		return err
	}
	if job.Status != domain.StatusPending {
		// Claimed by someone else or cancelled since listing. A
		// terminal status also retires any handle Cancel parked for
		// this claim race.
		if job.Terminal() {
			m.release(id)
		}
		return nil
	}

	h := m.handle(id)
	defer m.release(id)

	log := m.logger.With("job_id", id)

	if h.cancelled.Load() {
		job.Status = domain.StatusCancelled
		if err := m.saveJob(context.WithoutCancel(ctx), job); err != nil {
			return err
		}
		log.Info("job cancelled before download started")
		return nil
	}

	if err := transition(job, domain.StatusDownloading); err != nil {
		return err
	}
	if err := m.saveJob(ctx, job); err != nil {
		return err
	}

	src, err := m.resolver.Resolve(job.URL)
	if err != nil {
		return m.finishDownload(ctx, job, h, 0, time.Now(), err)
	}

	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	h.arm(stop)

	m.metrics.DownloadStarted()
	start := time.Now()
	startBytes := job.DownloadedSize

	persist := func(j *domain.Job) error { return m.saveJob(ctx, j) }
	hash, err := m.downloader.Run(runCtx, src, job, m.downloadPath(job), persist, h.cancelled.Load)
	if err == nil {
		job.FileHash = hash
	}
	return m.finishDownload(ctx, job, h, startBytes, start, err)
}

// finishDownload maps the downloader's outcome onto job state and
// persists it. The final write survives a cancelled context so the
// record always reflects what happened.
func (m *Manager) finishDownload(ctx context.Context, job *domain.Job, h *handle, startBytes int64, start time.Time, runErr error) error {
	log := m.logger.With("job_id", job.ID)
	seconds := time.Since(start).Seconds()
	moved := job.DownloadedSize - startBytes

	var result string
	switch {
	case runErr == nil:
		job.Status = domain.StatusCompleted
		job.Error = ""
		result = "completed"
	case errors.Is(runErr, download.ErrCancelled) || h.cancelled.Load():
		job.Status = domain.StatusCancelled
		result = "cancelled"
	case ctx.Err() != nil && (errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded)):
		// Shutdown, not a user cancel. Back to pending so the next
		// poll resumes from DownloadedSize. A cancellation-shaped
		// error with the caller's context still live is a stage
		// failure, not a shutdown, and falls through to failed.
		job.Status = domain.StatusPending
		result = "requeued"
	default:
		job.Status = domain.StatusFailed
		job.Error = runErr.Error()
		result = "failed"
	}

	if result == "completed" && archive.IsArchiveName(job.Filename) {
		m.noteArchive(ctx, job)
	}

	m.metrics.DownloadFinished(result, moved, seconds)

	if err := m.saveJob(context.WithoutCancel(ctx), job); err != nil {
		log.Error("persist download outcome failed", "error", err)
		return err
	}

	switch result {
	case "completed":
		log.Info("download completed",
			"bytes", job.DownloadedSize, "chunks", job.ChunksCompleted, "hash", job.FileHash)
	case "failed":
		log.Warn("download failed", "error", runErr)
		return runErr
	default:
		log.Info("download stopped", "result", result, "bytes", job.DownloadedSize)
	}
	return nil
}

// noteArchive runs a best-effort analysis of a finished archive
// download and merges the highlights into the job metadata.
func (m *Manager) noteArchive(ctx context.Context, job *domain.Job) {
	info, err := m.analyzer.Analyze(ctx, m.downloadPath(job))
	if err != nil {
		m.logger.Warn("post-download analysis failed", "job_id", job.ID, "error", err)
		return
	}
	job.MergeMetadata(map[string]any{
		"archive": map[string]any{
			"type":       info.Type,
			"file_count": info.FileCount,
			"total_size": info.TotalSize,
			"ratio":      info.Ratio,
			"warnings":   info.Warnings,
		},
	})
}

// GetStatus returns the stored job.
func (m *Manager) GetStatus(ctx context.Context, id string) (*domain.Job, error) {
	return m.loadJob(ctx, id)
}

// List returns jobs ordered by creation time, oldest first. status
// filters when non-empty; limit caps the result when positive.
func (m *Manager) List(ctx context.Context, status domain.JobStatus, limit int) ([]*domain.Job, error) {
	keys, err := m.store.ListKeys(ctx, jobKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	jobs := make([]*domain.Job, 0, len(keys))
	for _, key := range keys {
		job, err := m.loadJob(ctx, strings.TrimPrefix(key, jobKeyPrefix))
		if err != nil {
			// Expired between listing and load, or a corrupt record.
			m.logger.Warn("skipping unreadable job record", "key", key, "error", err)
			continue
		}
		if status != "" && job.Status != status {
			continue
		}
		jobs = append(jobs, job)
	}

	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].CreatedAt.Equal(jobs[j].CreatedAt) {
			return jobs[i].ID < jobs[j].ID
		}
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// Cancel requests cancellation. Pending jobs flip immediately; jobs
// with a running stage get their flag set and the owning goroutine
// records the cancelled status when it observes it. Terminal jobs
// return ErrInvalidState.
func (m *Manager) Cancel(ctx context.Context, id string) error {
	job, err := m.loadJob(ctx, id)
	if err != nil {
		return err
	}

	switch job.Status {
	case domain.StatusPending:
		// The handle stays in the map so a worker that already listed
		// this job sees the flag instead of claiming it.
		m.handle(id).abort()
		job.Status = domain.StatusCancelled
		if err := m.saveJob(ctx, job); err != nil {
			return err
		}
		m.logger.Info("job cancelled", "job_id", id, "stage", "pending")
		return nil
	case domain.StatusDownloading, domain.StatusProcessing:
		m.handle(id).abort()
		m.logger.Info("cancellation requested", "job_id", id, "stage", job.Status)
		return nil
	default:
		return fmt.Errorf("%w: cannot cancel %s job", domain.ErrInvalidState, job.Status)
	}
}

// Resume puts a failed job back in the queue. DownloadedSize is kept,
// so the next download attempt continues where the failure cut it off.
func (m *Manager) Resume(ctx context.Context, id string) error {
	job, err := m.loadJob(ctx, id)
	if err != nil {
		return err
	}
	if job.Status != domain.StatusFailed {
		return fmt.Errorf("%w: cannot resume %s job", domain.ErrInvalidState, job.Status)
	}

	job.Status = domain.StatusPending
	job.Error = ""
	if err := m.saveJob(ctx, job); err != nil {
		return err
	}
	m.logger.Info("job requeued", "job_id", id, "downloaded", job.DownloadedSize)
	return nil
}

// Recover rehydrates in-flight jobs after a restart: interrupted
// downloads go back to pending with their progress intact, interrupted
// archive stages return to completed so the caller can re-trigger them.
func (m *Manager) Recover(ctx context.Context) (int, error) {
	jobs, err := m.List(ctx, "", 0)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, job := range jobs {
		switch job.Status {
		case domain.StatusDownloading:
			job.Status = domain.StatusPending
		case domain.StatusProcessing:
			job.Status = domain.StatusCompleted
			job.MergeMetadata(map[string]any{"recovery": "archive stage interrupted by restart"})
		default:
			continue
		}
		if err := m.saveJob(ctx, job); err != nil {
			return recovered, err
		}
		m.logger.Info("recovered stale job",
			"job_id", job.ID, "status", job.Status, "downloaded", job.DownloadedSize)
		recovered++
	}
	return recovered, nil
}

// CleanupOlderThan removes terminal jobs whose last update is older
// than age, together with their downloaded file and extraction dir.
// File removal is best effort; the record is deleted regardless.
func (m *Manager) CleanupOlderThan(ctx context.Context, age time.Duration) (int, error) {
	jobs, err := m.List(ctx, "", 0)
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().UTC().Add(-age)
	removed := 0
	for _, job := range jobs {
		if !job.Terminal() || !job.UpdatedAt.Before(cutoff) {
			continue
		}

		if err := os.Remove(m.downloadPath(job)); err != nil && !os.IsNotExist(err) {
			m.logger.Warn("remove download failed", "job_id", job.ID, "error", err)
		}
		if err := os.RemoveAll(m.extractionDir(job.ID)); err != nil {
			m.logger.Warn("remove extraction dir failed", "job_id", job.ID, "error", err)
		}
		if err := m.store.Delete(ctx, jobKey(job.ID)); err != nil {
			return removed, fmt.Errorf("delete job %s: %w", job.ID, err)
		}
		m.release(job.ID)
		removed++
	}

	if removed > 0 {
		m.logger.Info("cleanup removed jobs", "count", removed, "age", age)
	}
	return removed, nil
}

func (m *Manager) loadJob(ctx context.Context, id string) (*domain.Job, error) {
	data, err := m.store.Get(ctx, jobKey(id))
	if err != nil {
		return nil, err
	}
	job, err := domain.DecodeJob(data)
	if err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return job, nil
}

func (m *Manager) saveJob(ctx context.Context, job *domain.Job) error {
	job.UpdatedAt = time.Now().UTC()
	data, err := domain.EncodeJob(job)
	if err != nil {
		return fmt.Errorf("encode job %s: %w", job.ID, err)
	}
	if err := m.store.Set(ctx, jobKey(job.ID), data, m.jobTTL); err != nil {
		return fmt.Errorf("persist job %s: %w", job.ID, err)
	}
	return nil
}

// handle returns the job's in-flight handle, creating it on first use.
func (m *Manager) handle(id string) *handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.handles[id]
	if !ok {
		h = &handle{}
		m.handles[id] = h
	}
	return h
}

func (m *Manager) release(id string) {
	m.mu.Lock()
	delete(m.handles, id)
	m.mu.Unlock()
}

func (m *Manager) downloadPath(job *domain.Job) string {
	return filepath.Join(m.downloadDir, job.Filename)
}

func (m *Manager) extractionDir(id string) string {
	return filepath.Join(m.extractDir, "job_"+id)
}

func jobKey(id string) string {
	return jobKeyPrefix + id
}

func transition(job *domain.Job, to domain.JobStatus) error {
	if !domain.ValidTransition(job.Status, to) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidState, job.Status, to)
	}
	job.Status = to
	return nil
}

// safeFilename picks the on-disk name for a download: the caller's
// choice, else the URL path basename, else the job id. Directory
// components are stripped so the name cannot leave the download dir.
func safeFilename(rawURL, filename, fallback string) string {
	name := strings.TrimSpace(filename)
	if name == "" {
		if u, err := url.Parse(rawURL); err == nil {
			name = u.Path
		}
	}
	name = strings.ReplaceAll(name, `\`, "/")
	name = path.Base(name)
	if name == "" || name == "." || name == ".." || name == "/" {
		return fallback
	}
	return name
}
