package history

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"chatkeeper/internal/storage"
	"chatkeeper/internal/tenant"
)

func newTestCache(t *testing.T, opts Options) (*Cache, *tenant.Registry) {
	t.Helper()
	conn := storage.Open(filepath.Join(t.TempDir(), "test.db"), false)
	t.Cleanup(func() { _ = conn.Shutdown() })
	reg := tenant.NewRegistry(storage.NewChunkedStore(conn), nil, false)
	return NewCache(reg, opts), reg
}

func TestCacheGetSeedsNewTenant(t *testing.T) {
	ctx := context.Background()
	cache, reg := newTestCache(t, testOptions())

	p, err := cache.Get(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p.Len() != 3 {
		t.Fatalf("expected seeded prompt, got length %d", p.Len())
	}
	if !reg.GetStore("tenant-1").Initialized() {
		t.Fatal("tenant store should be initialized after prompt load")
	}
}

func TestCacheSaveAndReload(t *testing.T) {
	ctx := context.Background()
	opts := testOptions()
	cache, reg := newTestCache(t, opts)

	p, err := cache.Get(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	p.Write(RoleHuman, "what is the capital of France?")
	p.Write(RoleAI, "Paris.")
	if err := cache.Save(ctx, "tenant-1", p); err != nil {
		t.Fatalf("save: %v", err)
	}

	// A second cache over the same registry reconstructs from storage.
	fresh := NewCache(reg, opts)
	reloaded, err := fresh.Get(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Len() != p.Len() {
		t.Fatalf("expected %d messages after reload, got %d", p.Len(), reloaded.Len())
	}
	last, _ := reloaded.LastMessage()
	if !strings.Contains(last.Content.String(), "Paris") {
		t.Fatalf("unexpected reloaded tail: %q", last.Content.String())
	}
}

func TestCacheForgetResetsConversation(t *testing.T) {
	ctx := context.Background()
	cache, _ := newTestCache(t, testOptions())

	p, err := cache.Get(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	p.Write(RoleHuman, "remember this")
	if err := cache.Save(ctx, "tenant-1", p); err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := cache.Forget(ctx, "tenant-1"); err != nil {
		t.Fatalf("forget: %v", err)
	}
	p2, err := cache.Get(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("get after forget: %v", err)
	}
	if p2.Len() != 3 {
		t.Fatalf("expected fresh seed buffer after forget, got length %d", p2.Len())
	}
	for _, m := range p2.Messages() {
		if strings.Contains(m.Content.String(), "remember this") {
			t.Fatal("forgotten conversation leaked into the new prompt")
		}
	}
}
