package download

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/driftlake/intake/internal/domain"
)

// memSource serves a byte slice through the Source port. failAfter
// truncates the next stream early to simulate a dropped connection;
// honorRange false simulates a server that ignores resume offsets.
type memSource struct {
	data       []byte
	honorRange bool
	failAfter  int64
	opens      int
}

func newMemSource(data []byte) *memSource {
	return &memSource{data: data, honorRange: true}
}

func (m *memSource) Probe(ctx context.Context) (int64, error) {
	return int64(len(m.data)), nil
}

func (m *memSource) Open(ctx context.Context, offset int64) (io.ReadCloser, int64, error) {
	m.opens++
	start := offset
	if !m.honorRange {
		start = 0
	}
	if start > int64(len(m.data)) {
		return nil, 0, fmt.Errorf("%w: offset beyond content", domain.ErrTransport)
	}
	stream := m.data[start:]
	var r io.Reader = bytes.NewReader(stream)
	if m.failAfter > 0 && m.failAfter < int64(len(stream)) {
		r = io.MultiReader(bytes.NewReader(stream[:m.failAfter]), errReader{})
		m.failAfter = 0
	}
	return io.NopCloser(r), start, nil
}

type errReader struct{}

func (errReader) Read([]byte) (int, error) {
	return 0, fmt.Errorf("%w: connection reset", domain.ErrTransport)
}

func testPayload(t *testing.T, size int) []byte {
	t.Helper()
	data := make([]byte, size)
	rng := rand.New(rand.NewSource(42))
	rng.Read(data)
	return data
}

func sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func newTestJob(total int64) *domain.Job {
	j := domain.NewJob("mem://payload", "payload.bin")
	j.TotalSize = total
	return j
}

func TestRun_FullDownload(t *testing.T) {
	payload := testPayload(t, 100*1024)
	src := newMemSource(payload)
	dest := filepath.Join(t.TempDir(), "payload.bin")

	d := New(16*1024, 0, nil)
	job := newTestJob(int64(len(payload)))
	job.TotalChunks = ChunkCount(job.TotalSize, d.ChunkSize())

	hash, err := d.Run(context.Background(), src, job, dest, nil, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if hash != sum(payload) {
		t.Errorf("hash = %s, want %s", hash, sum(payload))
	}
	if job.DownloadedSize != int64(len(payload)) {
		t.Errorf("DownloadedSize = %d, want %d", job.DownloadedSize, len(payload))
	}
	if job.ChunksCompleted != job.TotalChunks {
		t.Errorf("ChunksCompleted = %d, want %d", job.ChunksCompleted, job.TotalChunks)
	}

	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("read dest: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("file content differs from payload")
	}
}

func TestRun_ResumeAfterDrop(t *testing.T) {
	// 50 MiB content, 8 MiB chunks, connection dropped after chunk 3.
	const chunk = 8 << 20
	payload := testPayload(t, 50<<20)
	src := newMemSource(payload)
	src.failAfter = 3 * chunk
	dest := filepath.Join(t.TempDir(), "payload.bin")

	d := New(chunk, 0, nil)
	job := newTestJob(int64(len(payload)))
	job.TotalChunks = ChunkCount(job.TotalSize, chunk)

	_, err := d.Run(context.Background(), src, job, dest, nil, nil)
	if !errors.Is(err, domain.ErrTransport) {
		t.Fatalf("first Run() error = %v, want %v", err, domain.ErrTransport)
	}
	if job.DownloadedSize != 3*chunk {
		t.Fatalf("DownloadedSize after drop = %d, want %d", job.DownloadedSize, 3*chunk)
	}
	if job.ChunksCompleted != 3 {
		t.Fatalf("ChunksCompleted after drop = %d, want 3", job.ChunksCompleted)
	}

	hash, err := d.Run(context.Background(), src, job, dest, nil, nil)
	if err != nil {
		t.Fatalf("resumed Run() error = %v", err)
	}

	if job.DownloadedSize != int64(len(payload)) {
		t.Errorf("DownloadedSize = %d, want %d", job.DownloadedSize, len(payload))
	}
	if job.ChunksCompleted != 7 {
		t.Errorf("ChunksCompleted = %d, want 7", job.ChunksCompleted)
	}
	if hash != sum(payload) {
		t.Errorf("hash after resume = %s, want hash of full content %s", hash, sum(payload))
	}

	// The resume request must have asked for the tail, not the start.
	if src.opens != 2 {
		t.Errorf("source opens = %d, want 2", src.opens)
	}
	got, _ := os.ReadFile(dest)
	if !bytes.Equal(got, payload) {
		t.Error("file content differs from payload after resume")
	}
}

func TestRun_ResumeIsIdempotentOnRerun(t *testing.T) {
	payload := testPayload(t, 64*1024)
	src := newMemSource(payload)
	dest := filepath.Join(t.TempDir(), "payload.bin")

	d := New(16*1024, 0, nil)
	job := newTestJob(int64(len(payload)))

	first, err := d.Run(context.Background(), src, job, dest, nil, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// Running again over the finished file re-hashes it and changes
	// nothing else.
	second, err := d.Run(context.Background(), src, job, dest, nil, nil)
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if first != second {
		t.Errorf("hash changed across idempotent rerun: %s vs %s", first, second)
	}
	if job.DownloadedSize != int64(len(payload)) {
		t.Errorf("DownloadedSize = %d, want %d", job.DownloadedSize, len(payload))
	}
	if src.opens != 1 {
		t.Errorf("source opens = %d, want 1 (no re-transfer)", src.opens)
	}
}

func TestRun_ServerIgnoresRange(t *testing.T) {
	payload := testPayload(t, 40*1024)
	src := newMemSource(payload)
	src.honorRange = false
	src.failAfter = 20 * 1024
	dest := filepath.Join(t.TempDir(), "payload.bin")

	d := New(8*1024, 0, nil)
	job := newTestJob(int64(len(payload)))

	if _, err := d.Run(context.Background(), src, job, dest, nil, nil); err == nil {
		t.Fatal("first Run() succeeded, want transport error")
	}

	hash, err := d.Run(context.Background(), src, job, dest, nil, nil)
	if err != nil {
		t.Fatalf("restarted Run() error = %v", err)
	}
	if hash != sum(payload) {
		t.Errorf("hash = %s, want %s", hash, sum(payload))
	}
	got, _ := os.ReadFile(dest)
	if !bytes.Equal(got, payload) {
		t.Error("file content differs after restart from zero")
	}
}

func TestRun_PersistCadence(t *testing.T) {
	payload := testPayload(t, 10*1024)
	src := newMemSource(payload)
	dest := filepath.Join(t.TempDir(), "payload.bin")

	d := New(1024, 3, nil)
	job := newTestJob(int64(len(payload)))

	var persisted []int64
	persist := func(j *domain.Job) error {
		persisted = append(persisted, j.DownloadedSize)
		return nil
	}

	if _, err := d.Run(context.Background(), src, job, dest, persist, nil); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []int64{3 * 1024, 6 * 1024, 9 * 1024}
	if len(persisted) != len(want) {
		t.Fatalf("persisted %d times (%v), want %d", len(persisted), persisted, len(want))
	}
	for i := range want {
		if persisted[i] != want[i] {
			t.Errorf("persist[%d] = %d, want %d", i, persisted[i], want[i])
		}
	}
}

func TestRun_CancelBetweenChunks(t *testing.T) {
	payload := testPayload(t, 32*1024)
	src := newMemSource(payload)
	dest := filepath.Join(t.TempDir(), "payload.bin")

	d := New(8*1024, 0, nil)
	job := newTestJob(int64(len(payload)))

	calls := 0
	cancelled := func() bool {
		calls++
		return calls > 1
	}

	_, err := d.Run(context.Background(), src, job, dest, nil, cancelled)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("Run() error = %v, want %v", err, ErrCancelled)
	}

	if job.DownloadedSize != 8*1024 {
		t.Errorf("DownloadedSize = %d, want one chunk (8192)", job.DownloadedSize)
	}
	fi, err := os.Stat(dest)
	if err != nil {
		t.Fatalf("partial file missing: %v", err)
	}
	if fi.Size() != 8*1024 {
		t.Errorf("partial file size = %d, want 8192", fi.Size())
	}
}

func TestRun_ContextCancelled(t *testing.T) {
	payload := testPayload(t, 8*1024)
	src := newMemSource(payload)
	dest := filepath.Join(t.TempDir(), "payload.bin")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := New(1024, 0, nil)
	job := newTestJob(int64(len(payload)))

	_, err := d.Run(ctx, src, job, dest, nil, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want %v", err, context.Canceled)
	}
}

func TestRun_UnknownSizeFilledAtCompletion(t *testing.T) {
	payload := testPayload(t, 24*1024)
	src := newMemSource(payload)
	dest := filepath.Join(t.TempDir(), "payload.bin")

	d := New(8*1024, 0, nil)
	job := newTestJob(0)

	hash, err := d.Run(context.Background(), src, job, dest, nil, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if hash != sum(payload) {
		t.Errorf("hash = %s, want %s", hash, sum(payload))
	}
	if job.TotalSize != int64(len(payload)) {
		t.Errorf("TotalSize = %d, want %d", job.TotalSize, len(payload))
	}
	if job.TotalChunks != 3 || job.ChunksCompleted != 3 {
		t.Errorf("chunks = %d/%d, want 3/3", job.ChunksCompleted, job.TotalChunks)
	}
}

func TestRun_ShortBody(t *testing.T) {
	payload := testPayload(t, 16*1024)
	src := newMemSource(payload[:8*1024])
	dest := filepath.Join(t.TempDir(), "payload.bin")

	d := New(4*1024, 0, nil)
	job := newTestJob(int64(len(payload)))

	_, err := d.Run(context.Background(), src, job, dest, nil, nil)
	if !errors.Is(err, domain.ErrTransport) {
		t.Fatalf("Run() error = %v, want %v", err, domain.ErrTransport)
	}
	if job.DownloadedSize != 8*1024 {
		t.Errorf("DownloadedSize = %d, want served 8192", job.DownloadedSize)
	}
}

func TestChunkCount(t *testing.T) {
	tests := []struct {
		total, chunk int64
		want         int
	}{
		{0, 8 << 20, 0},
		{1, 8 << 20, 1},
		{8 << 20, 8 << 20, 1},
		{(8 << 20) + 1, 8 << 20, 2},
		{50 << 20, 8 << 20, 7},
	}
	for _, tt := range tests {
		if got := ChunkCount(tt.total, tt.chunk); got != tt.want {
			t.Errorf("ChunkCount(%d, %d) = %d, want %d", tt.total, tt.chunk, got, tt.want)
		}
	}
}
