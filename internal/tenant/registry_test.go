package tenant

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"chatkeeper/internal/storage"
)

func newTestRegistry(t *testing.T) (*Registry, *storage.ChunkedStore) {
	t.Helper()
	conn := storage.Open(filepath.Join(t.TempDir(), "test.db"), false)
	t.Cleanup(func() { _ = conn.Shutdown() })
	blobs := storage.NewChunkedStore(conn)
	backups := storage.NewBackupManager(conn, 24*time.Hour, 7*24*time.Hour)
	return NewRegistry(blobs, backups, false), blobs
}

func TestGetStoreReturnsSameInstance(t *testing.T) {
	reg, _ := newTestRegistry(t)

	a := reg.GetStore("tenant-a")
	b := reg.GetStore("tenant-a")
	c := reg.GetStore("tenant-b")

	if a != b {
		t.Fatal("expected the same store instance for one tenant id")
	}
	if a == c {
		t.Fatal("expected distinct stores for distinct tenant ids")
	}
}

func TestInitializeSeedsEmptyState(t *testing.T) {
	ctx := context.Background()
	reg, blobs := newTestRegistry(t)

	store := reg.GetStore("fresh")
	if err := store.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if !store.Initialized() {
		t.Fatal("store should be initialized")
	}

	// The seed must be durable immediately.
	blob, err := blobs.Get(ctx, "fresh")
	if err != nil {
		t.Fatalf("get seeded blob: %v", err)
	}
	if blob != "{}" {
		t.Fatalf("unexpected seeded blob: %q", blob)
	}
}

func TestConcurrentInitializeCollapses(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	store := reg.GetStore("racy")
	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- store.Initialize(ctx)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent initialize: %v", err)
		}
	}
	if !store.Initialized() {
		t.Fatal("store should be initialized")
	}
}

func TestSetItemGetItemRoundTrip(t *testing.T) {
	ctx := context.Background()
	reg, _ := newTestRegistry(t)

	store := reg.GetStore("tenant")
	if err := store.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := store.SetItem(ctx, "greeting", "hello"); err != nil {
		t.Fatalf("set item: %v", err)
	}

	var got string
	found, err := store.GetItem("greeting", &got)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if !found || got != "hello" {
		t.Fatalf("unexpected item: found=%v got=%q", found, got)
	}
}

func TestStateSurvivesNewRegistry(t *testing.T) {
	ctx := context.Background()
	conn := storage.Open(filepath.Join(t.TempDir(), "test.db"), false)
	t.Cleanup(func() { _ = conn.Shutdown() })
	blobs := storage.NewChunkedStore(conn)

	first := NewRegistry(blobs, nil, false)
	store := first.GetStore("tenant")
	if err := store.Initialize(ctx); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if err := store.SetItem(ctx, "counter", 42); err != nil {
		t.Fatalf("set item: %v", err)
	}

	// A fresh registry over the same backing store sees the durable state.
	second := NewRegistry(blobs, nil, false)
	reloaded := second.GetStore("tenant")
	if err := reloaded.Initialize(ctx); err != nil {
		t.Fatalf("reload initialize: %v", err)
	}
	var got int
	found, err := reloaded.GetItem("counter", &got)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if !found || got != 42 {
		t.Fatalf("unexpected reloaded item: found=%v got=%d", found, got)
	}
}

func TestUninitializedGetItemIsMiss(t *testing.T) {
	reg, _ := newTestRegistry(t)

	store := reg.GetStore("never-initialized")
	var out string
	found, err := store.GetItem("anything", &out)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if found {
		t.Fatal("uninitialized store must report a miss, not confirmed-empty state")
	}
}
