package manager

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/driftlake/intake/internal/archive"
	"github.com/driftlake/intake/internal/domain"
	"github.com/driftlake/intake/internal/inventory"
)

// seedArchiveJob stores a completed download whose payload is a zip
// built from files, placed where the manager expects it.
func seedArchiveJob(t *testing.T, env *testEnv, files map[string][]byte) *domain.Job {
	t.Helper()
	job := domain.NewJob("https://example.com/drop.zip", "drop.zip")
	job.Status = domain.StatusCompleted
	job.FileHash = "deadbeef"
	env.seedJob(t, job)

	if err := os.MkdirAll(env.downloadDir, 0o755); err != nil {
		t.Fatal(err)
	}
	buildZip(t, filepath.Join(env.downloadDir, "drop.zip"), files)
	return job
}

func TestAnalyze(t *testing.T) {
	env := newTestEnv(t, archive.DefaultLimits())
	job := seedArchiveJob(t, env, map[string][]byte{
		"notes.txt":    []byte("plain text"),
		"sub/data.csv": []byte("a,b\n1,2\n"),
	})

	info, err := env.mgr.Analyze(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if info.Type != "zip" {
		t.Errorf("type = %s, want zip", info.Type)
	}
	if info.FileCount != 2 {
		t.Errorf("file count = %d, want 2", info.FileCount)
	}
}

func TestAnalyze_RequiresDownloadedFile(t *testing.T) {
	env := newTestEnv(t, archive.DefaultLimits())
	job := domain.NewJob("https://example.com/drop.zip", "drop.zip")
	env.seedJob(t, job)

	if _, err := env.mgr.Analyze(context.Background(), job.ID); !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("Analyze() error = %v, want ErrInvalidState", err)
	}
	if _, err := env.mgr.Analyze(context.Background(), "no-such-id"); !errors.Is(err, domain.ErrJobNotFound) {
		t.Errorf("Analyze(unknown) error = %v, want ErrJobNotFound", err)
	}
}

func TestExtract(t *testing.T) {
	env := newTestEnv(t, archive.DefaultLimits())
	job := seedArchiveJob(t, env, map[string][]byte{
		"notes.txt":    []byte("plain text"),
		"sub/data.csv": []byte("a,b\n1,2\n"),
	})

	res, err := env.mgr.Extract(context.Background(), job.ID, true)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if !res.Success {
		t.Error("result not marked successful")
	}
	if len(res.Extracted) != 2 {
		t.Errorf("extracted = %d entries, want 2", len(res.Extracted))
	}

	onDisk, err := os.ReadFile(filepath.Join(env.extractDir, "job_"+job.ID, "notes.txt"))
	if err != nil {
		t.Fatalf("read extracted file: %v", err)
	}
	if !bytes.Equal(onDisk, []byte("plain text")) {
		t.Errorf("extracted content = %q", onDisk)
	}

	got := env.reload(t, job.ID)
	if got.Status != domain.StatusCompleted {
		t.Errorf("status = %s, want %s", got.Status, domain.StatusCompleted)
	}
	summary, ok := got.Metadata["extraction"].(map[string]any)
	if !ok {
		t.Fatalf("metadata extraction = %T, want map", got.Metadata["extraction"])
	}
	if summary["extracted"] != float64(2) {
		t.Errorf("extracted count = %v, want 2", summary["extracted"])
	}
	if summary["safe_mode"] != true {
		t.Errorf("safe_mode = %v, want true", summary["safe_mode"])
	}
}

func TestExtract_WrongState(t *testing.T) {
	env := newTestEnv(t, archive.DefaultLimits())
	job := domain.NewJob("https://example.com/drop.zip", "drop.zip")
	env.seedJob(t, job)

	if _, err := env.mgr.Extract(context.Background(), job.ID, true); !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("Extract() error = %v, want ErrInvalidState", err)
	}
	if got := env.reload(t, job.ID); got.Status != domain.StatusPending {
		t.Errorf("status = %s, want untouched pending", got.Status)
	}
}

func TestExtract_RefusesCompressionBomb(t *testing.T) {
	limits := archive.DefaultLimits()
	limits.MaxRatio = 10
	env := newTestEnv(t, limits)
	job := seedArchiveJob(t, env, map[string][]byte{
		"zeros.dat": make([]byte, 64*1024),
	})

	_, err := env.mgr.Extract(context.Background(), job.ID, true)
	if !errors.Is(err, domain.ErrSecurityViolation) {
		t.Fatalf("Extract() error = %v, want ErrSecurityViolation", err)
	}

	// A refusal settles the job back to completed with the reason kept.
	got := env.reload(t, job.ID)
	if got.Status != domain.StatusCompleted {
		t.Errorf("status = %s, want %s", got.Status, domain.StatusCompleted)
	}
	if got.Metadata["extraction_refused"] == nil {
		t.Error("refusal reason missing from metadata")
	}
	if _, err := os.Stat(filepath.Join(env.extractDir, "job_"+job.ID)); !os.IsNotExist(err) {
		t.Error("no extraction dir should exist after a refusal")
	}
}

func TestExtract_UnsafeModeSkipsChecks(t *testing.T) {
	limits := archive.DefaultLimits()
	limits.MaxRatio = 10
	env := newTestEnv(t, limits)
	job := seedArchiveJob(t, env, map[string][]byte{
		"zeros.dat": make([]byte, 64*1024),
	})

	res, err := env.mgr.Extract(context.Background(), job.ID, false)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	if len(res.Extracted) != 1 {
		t.Errorf("extracted = %d entries, want 1", len(res.Extracted))
	}
	if res.TotalBytes != 64*1024 {
		t.Errorf("total bytes = %d, want %d", res.TotalBytes, 64*1024)
	}
}

func TestAnalyzeFiles(t *testing.T) {
	env := newTestEnv(t, archive.DefaultLimits())
	job := seedArchiveJob(t, env, map[string][]byte{
		"notes.txt":    []byte("reach admin@example.com for access"),
		"sub/data.csv": []byte("a,b\n1,2\n"),
	})
	if _, err := env.mgr.Extract(context.Background(), job.ID, true); err != nil {
		t.Fatalf("Extract() error = %v", err)
	}

	metas, err := env.mgr.AnalyzeFiles(context.Background(), job.ID, inventory.Options{
		Recursive:      true,
		ExtractContent: true,
		AnalyzeContent: true,
	})
	if err != nil {
		t.Fatalf("AnalyzeFiles() error = %v", err)
	}
	if len(metas) != 2 {
		t.Fatalf("inventoried %d files, want 2", len(metas))
	}

	var notes *domain.FileMetadata
	for _, m := range metas {
		if m.Name == "notes.txt" {
			notes = m
		}
	}
	if notes == nil {
		t.Fatal("notes.txt missing from inventory")
	}
	if notes.Content == "" {
		t.Error("text content not extracted")
	}
	if len(notes.Entities) == 0 || notes.Entities[0] != "admin@example.com" {
		t.Errorf("entities = %v, want the email", notes.Entities)
	}

	got := env.reload(t, job.ID)
	if got.Status != domain.StatusCompleted {
		t.Errorf("status = %s, want %s", got.Status, domain.StatusCompleted)
	}
	summary, ok := got.Metadata["inventory"].(map[string]any)
	if !ok {
		t.Fatalf("metadata inventory = %T, want map", got.Metadata["inventory"])
	}
	if summary["files"] != float64(2) {
		t.Errorf("files = %v, want 2", summary["files"])
	}
}

func TestAnalyzeFiles_RequiresExtraction(t *testing.T) {
	env := newTestEnv(t, archive.DefaultLimits())
	job := domain.NewJob("https://example.com/drop.zip", "drop.zip")
	job.Status = domain.StatusCompleted
	job.FileHash = "deadbeef"
	env.seedJob(t, job)

	if _, err := env.mgr.AnalyzeFiles(context.Background(), job.ID, inventory.Options{}); !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("AnalyzeFiles() error = %v, want ErrInvalidState", err)
	}
}
