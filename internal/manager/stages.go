package manager

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/driftlake/intake/internal/domain"
	"github.com/driftlake/intake/internal/inventory"
)

// Analyze runs a read-only archive analysis of the downloaded file. It
// is allowed any time after the download finished, including on jobs
// that later failed an extraction.
func (m *Manager) Analyze(ctx context.Context, id string) (*domain.ArchiveInfo, error) {
	job, err := m.loadJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.FileHash == "" {
		return nil, fmt.Errorf("%w: job %s has not finished downloading", domain.ErrInvalidState, id)
	}
	return m.analyzer.Analyze(ctx, m.downloadPath(job))
}

// Extract unpacks the downloaded archive into the job's extraction
// dir. The job moves completed -> processing -> completed; a security
// refusal keeps the record completed with the refusal noted, an IO
// failure marks it failed.
func (m *Manager) Extract(ctx context.Context, id string, safeMode bool) (*domain.ExtractionResult, error) {
	job, err := m.loadJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := transition(job, domain.StatusProcessing); err != nil {
		return nil, err
	}
	if err := m.saveJob(ctx, job); err != nil {
		return nil, err
	}

	h := m.handle(id)
	defer m.release(id)
	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	h.arm(stop)

	log := m.logger.With("job_id", id)
	res, runErr := m.extractor.Extract(runCtx, m.downloadPath(job), m.extractionDir(id), safeMode)

	switch {
	case runErr == nil:
		job.Status = domain.StatusCompleted
		job.MergeMetadata(map[string]any{
			"extraction": map[string]any{
				"dir":         res.Dir,
				"extracted":   len(res.Extracted),
				"skipped":     len(res.Skipped),
				"violations":  len(res.Violations),
				"total_bytes": res.TotalBytes,
				"safe_mode":   safeMode,
			},
		})
		m.metrics.ExtractionFinished("completed", len(res.Violations))
		log.Info("extraction finished",
			"extracted", len(res.Extracted), "skipped", len(res.Skipped), "violations", len(res.Violations))
	case errors.Is(runErr, domain.ErrSecurityViolation):
		// Fatal to this attempt, not to the job.
		job.Status = domain.StatusCompleted
		job.MergeMetadata(map[string]any{"extraction_refused": runErr.Error()})
		m.metrics.ExtractionFinished("refused", 1)
		log.Warn("extraction refused", "error", runErr)
	case h.cancelled.Load():
		job.Status = domain.StatusCancelled
		m.metrics.ExtractionFinished("cancelled", 0)
		log.Info("extraction cancelled")
	case errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded):
		job.Status = domain.StatusCompleted
		job.MergeMetadata(map[string]any{"recovery": "extraction interrupted by shutdown"})
		m.metrics.ExtractionFinished("interrupted", 0)
		log.Info("extraction interrupted")
	default:
		job.Status = domain.StatusFailed
		job.Error = runErr.Error()
		m.metrics.ExtractionFinished("failed", 0)
		log.Warn("extraction failed", "error", runErr)
	}

	if err := m.saveJob(context.WithoutCancel(ctx), job); err != nil {
		return res, err
	}
	return res, runErr
}

// AnalyzeFiles inventories the job's extraction dir. It requires a
// prior extraction and merges a category summary into the metadata.
func (m *Manager) AnalyzeFiles(ctx context.Context, id string, opts inventory.Options) ([]*domain.FileMetadata, error) {
	job, err := m.loadJob(ctx, id)
	if err != nil {
		return nil, err
	}

	dir := m.extractionDir(id)
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: job %s has no extraction to inventory", domain.ErrInvalidState, id)
		}
		return nil, fmt.Errorf("stat extraction dir: %w", err)
	}

	if err := transition(job, domain.StatusProcessing); err != nil {
		return nil, err
	}
	if err := m.saveJob(ctx, job); err != nil {
		return nil, err
	}

	h := m.handle(id)
	defer m.release(id)
	runCtx, stop := context.WithCancel(ctx)
	defer stop()
	h.arm(stop)

	log := m.logger.With("job_id", id)
	metas, runErr := m.inventory.ProcessDirectory(runCtx, dir, opts)

	switch {
	case runErr == nil:
		job.Status = domain.StatusCompleted
		job.MergeMetadata(map[string]any{"inventory": inventorySummary(metas)})
		m.metrics.FilesInventoried(len(metas))
		log.Info("inventory finished", "files", len(metas))
	case h.cancelled.Load():
		job.Status = domain.StatusCancelled
		log.Info("inventory cancelled")
	case errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded):
		job.Status = domain.StatusCompleted
		job.MergeMetadata(map[string]any{"recovery": "inventory interrupted by shutdown"})
		log.Info("inventory interrupted")
	default:
		job.Status = domain.StatusFailed
		job.Error = runErr.Error()
		log.Warn("inventory failed", "error", runErr)
	}

	if err := m.saveJob(context.WithoutCancel(ctx), job); err != nil {
		return metas, err
	}
	if runErr != nil {
		return nil, runErr
	}
	return metas, nil
}

func inventorySummary(metas []*domain.FileMetadata) map[string]any {
	byCategory := make(map[string]int)
	failed := 0
	for _, meta := range metas {
		byCategory[string(meta.Category)]++
		if meta.Error != "" {
			failed++
		}
	}
	return map[string]any{
		"files":       len(metas),
		"by_category": byCategory,
		"errors":      failed,
	}
}
