package sqlite

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/driftlake/intake/internal/domain"
)

func setupTestStore(t *testing.T) (*Store, func()) {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	store, err := New(dbPath)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	cleanup := func() {
		store.Close()
		os.Remove(dbPath)
	}
	return store, cleanup
}

func TestStore_SetGet(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()

	if err := store.Set(ctx, "job:a1", []byte(`{"id":"a1"}`), 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	data, err := store.Get(ctx, "job:a1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(data) != `{"id":"a1"}` {
		t.Errorf("Get() = %q, want %q", data, `{"id":"a1"}`)
	}
}

func TestStore_GetMissing(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	_, err := store.Get(context.Background(), "job:absent")
	if !errors.Is(err, domain.ErrJobNotFound) {
		t.Errorf("Get() error = %v, want %v", err, domain.ErrJobNotFound)
	}
}

func TestStore_SetOverwrites(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()

	store.Set(ctx, "job:a1", []byte("v1"), 0)
	if err := store.Set(ctx, "job:a1", []byte("v2"), 0); err != nil {
		t.Fatalf("Set() overwrite error = %v", err)
	}

	data, err := store.Get(ctx, "job:a1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(data) != "v2" {
		t.Errorf("Get() = %q, want latest write %q", data, "v2")
	}
}

func TestStore_TTL(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()

	// Already past expiry: unix-second granularity means a negative
	// ttl is the reliable way to plant an expired record.
	if err := store.Set(ctx, "job:old", []byte("stale"), -time.Hour); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := store.Set(ctx, "job:new", []byte("fresh"), time.Hour); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	if _, err := store.Get(ctx, "job:old"); !errors.Is(err, domain.ErrJobNotFound) {
		t.Errorf("Get() expired record error = %v, want %v", err, domain.ErrJobNotFound)
	}
	if _, err := store.Get(ctx, "job:new"); err != nil {
		t.Errorf("Get() live record error = %v", err)
	}
}

func TestStore_Delete(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()

	store.Set(ctx, "job:a1", []byte("x"), 0)
	if err := store.Delete(ctx, "job:a1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Get(ctx, "job:a1"); !errors.Is(err, domain.ErrJobNotFound) {
		t.Errorf("Get() after delete error = %v, want %v", err, domain.ErrJobNotFound)
	}

	// Deleting again is a no-op.
	if err := store.Delete(ctx, "job:a1"); err != nil {
		t.Errorf("Delete() missing key error = %v, want nil", err)
	}
}

func TestStore_ListKeys(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()

	store.Set(ctx, "job:a", []byte("1"), 0)
	store.Set(ctx, "job:b", []byte("2"), 0)
	store.Set(ctx, "job:c", []byte("3"), -time.Hour)
	store.Set(ctx, "lock:a", []byte("4"), 0)

	keys, err := store.ListKeys(ctx, "job:")
	if err != nil {
		t.Fatalf("ListKeys() error = %v", err)
	}

	want := []string{"job:a", "job:b"}
	if len(keys) != len(want) {
		t.Fatalf("ListKeys() = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("ListKeys()[%d] = %q, want %q", i, keys[i], want[i])
		}
	}
}

func TestStore_PurgeExpired(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()

	ctx := context.Background()

	store.Set(ctx, "job:a", []byte("1"), -time.Hour)
	store.Set(ctx, "job:b", []byte("2"), -time.Minute)
	store.Set(ctx, "job:c", []byte("3"), time.Hour)
	store.Set(ctx, "job:d", []byte("4"), 0)

	n, err := store.PurgeExpired(ctx)
	if err != nil {
		t.Fatalf("PurgeExpired() error = %v", err)
	}
	if n != 2 {
		t.Errorf("PurgeExpired() = %d, want 2", n)
	}

	keys, _ := store.ListKeys(ctx, "job:")
	if len(keys) != 2 {
		t.Errorf("ListKeys() after purge = %v, want 2 keys", keys)
	}
}

func TestNew_CreatesDirectory(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "subdir", "nested", "test.db")

	store, err := New(dbPath)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(filepath.Dir(dbPath)); os.IsNotExist(err) {
		t.Error("New() did not create parent directory")
	}
}

func TestStore_SurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")

	ctx := context.Background()

	store, err := New(dbPath)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := store.Set(ctx, "job:persist", []byte("durable"), 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	store.Close()

	reopened, err := New(dbPath)
	if err != nil {
		t.Fatalf("New() reopen error = %v", err)
	}
	defer reopened.Close()

	data, err := reopened.Get(ctx, "job:persist")
	if err != nil {
		t.Fatalf("Get() after reopen error = %v", err)
	}
	if string(data) != "durable" {
		t.Errorf("Get() after reopen = %q, want %q", data, "durable")
	}
}
