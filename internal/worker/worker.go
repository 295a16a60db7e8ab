package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/driftlake/intake/internal/domain"
	"github.com/driftlake/intake/internal/manager"
)

// pollBatch caps how many pending jobs one poll considers.
const pollBatch = 32

// Worker polls for pending jobs and runs their downloads, at most
// concurrency at a time. The manager owns all job state; the worker
// only decides when and how many downloads run.
type Worker struct {
	mgr          *manager.Manager
	pollInterval time.Duration
	slots        chan struct{}
	logger       *slog.Logger

	mu       sync.Mutex
	inFlight map[string]struct{}
	wg       sync.WaitGroup
}

// New creates a worker. Non-positive pollInterval and concurrency fall
// back to 2s and 3.
func New(mgr *manager.Manager, pollInterval time.Duration, concurrency int, logger *slog.Logger) *Worker {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	if concurrency <= 0 {
		concurrency = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		mgr:          mgr,
		pollInterval: pollInterval,
		slots:        make(chan struct{}, concurrency),
		logger:       logger,
		inFlight:     make(map[string]struct{}),
	}
}

// Active returns the number of downloads currently running.
func (w *Worker) Active() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.inFlight)
}

// Run polls until the context is cancelled, then waits for in-flight
// downloads to settle. Downloads interrupted by the cancellation are
// requeued by the manager, not lost.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("worker started",
		"poll_interval", w.pollInterval, "concurrency", cap(w.slots))
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	w.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker shutting down", "active", w.Active())
			w.wg.Wait()
			return
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

func (w *Worker) poll(ctx context.Context) {
	jobs, err := w.mgr.List(ctx, domain.StatusPending, pollBatch)
	if err != nil {
		w.logger.Warn("poll failed", "error", err)
		return
	}
	for _, job := range jobs {
		if ctx.Err() != nil {
			return
		}
		w.dispatch(ctx, job.ID)
	}
}

// dispatch starts a download goroutine for the job unless it is
// already in flight or the budget is spent. The manager re-checks the
// job status on claim, so a stale listing is harmless.
func (w *Worker) dispatch(ctx context.Context, id string) {
	w.mu.Lock()
	if _, busy := w.inFlight[id]; busy {
		w.mu.Unlock()
		return
	}
	select {
	case w.slots <- struct{}{}:
	default:
		w.mu.Unlock()
		return
	}
	w.inFlight[id] = struct{}{}
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer func() {
			w.mu.Lock()
			delete(w.inFlight, id)
			w.mu.Unlock()
			<-w.slots
			w.wg.Done()
		}()
		if err := w.mgr.RunDownload(ctx, id); err != nil {
			w.logger.Warn("download run failed", "job_id", id, "error", err)
		}
	}()
}
