package storage

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func newTestConn(t *testing.T) *Conn {
	t.Helper()
	conn := Open(filepath.Join(t.TempDir(), "test.db"), false)
	t.Cleanup(func() { _ = conn.Shutdown() })
	return conn
}

func TestSetGetRoundTripSmallValue(t *testing.T) {
	ctx := context.Background()
	store := NewChunkedStore(newTestConn(t))

	if err := store.Set(ctx, "tenant-1", `{"prompt":[]}`); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := store.Get(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != `{"prompt":[]}` {
		t.Fatalf("unexpected value: %q", got)
	}
}

func TestSetGetRoundTripMultiChunk(t *testing.T) {
	ctx := context.Background()
	store := NewChunkedStore(newTestConn(t), WithChunkSize(8))

	value := strings.Repeat("0123456789", 5) // 50 bytes -> 7 chunks of 8
	if err := store.Set(ctx, "big", value); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := store.Get(ctx, "big")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != value {
		t.Fatalf("round trip mismatch: got %d bytes, want %d", len(got), len(value))
	}
}

func TestSetReplacesPreviousChunks(t *testing.T) {
	ctx := context.Background()
	conn := newTestConn(t)
	store := NewChunkedStore(conn, WithChunkSize(4))

	if err := store.Set(ctx, "k", "a long value spanning many chunks"); err != nil {
		t.Fatalf("first set: %v", err)
	}
	if err := store.Set(ctx, "k", "tiny"); err != nil {
		t.Fatalf("second set: %v", err)
	}
	got, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "tiny" {
		t.Fatalf("expected replaced value, got %q", got)
	}

	db, err := conn.DB()
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM chunks WHERE key = 'k'`).Scan(&count); err != nil {
		t.Fatalf("count chunks: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 chunk after replace, found %d", count)
	}
}

func TestGetMissingKeyReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	store := NewChunkedStore(newTestConn(t))

	_, err := store.Get(ctx, "absent")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetDetectsMissingChunk(t *testing.T) {
	ctx := context.Background()
	conn := newTestConn(t)
	store := NewChunkedStore(conn, WithChunkSize(4))

	if err := store.Set(ctx, "k", "abcdefghijkl"); err != nil {
		t.Fatalf("set: %v", err)
	}

	db, err := conn.DB()
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	if _, err := db.Exec(`DELETE FROM chunks WHERE key = 'k' AND chunk_index = 1`); err != nil {
		t.Fatalf("drop chunk: %v", err)
	}

	_, err = store.Get(ctx, "k")
	if !errors.Is(err, ErrCorrupted) {
		t.Fatalf("expected ErrCorrupted, got %v", err)
	}
}

func TestGetDetectsTotalChunksMismatch(t *testing.T) {
	ctx := context.Background()
	conn := newTestConn(t)
	store := NewChunkedStore(conn, WithChunkSize(4))

	if err := store.Set(ctx, "k", "abcdefghijkl"); err != nil {
		t.Fatalf("set: %v", err)
	}

	db, err := conn.DB()
	if err != nil {
		t.Fatalf("db: %v", err)
	}
	if _, err := db.Exec(`UPDATE chunks SET total_chunks = 5 WHERE key = 'k' AND chunk_index = 2`); err != nil {
		t.Fatalf("corrupt chunk: %v", err)
	}

	_, err = store.Get(ctx, "k")
	if !errors.Is(err, ErrCorrupted) {
		t.Fatalf("expected ErrCorrupted, got %v", err)
	}
}

func TestDeleteRemovesAllChunks(t *testing.T) {
	ctx := context.Background()
	store := NewChunkedStore(newTestConn(t), WithChunkSize(4))

	if err := store.Set(ctx, "k", "abcdefghijkl"); err != nil {
		t.Fatalf("set: %v", err)
	}
	n, err := store.Delete(ctx, "k")
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 deleted chunks, got %d", n)
	}
	if _, err := store.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestListKeys(t *testing.T) {
	ctx := context.Background()
	store := NewChunkedStore(newTestConn(t), WithChunkSize(4))

	for _, k := range []string{"b", "a", "c"} {
		if err := store.Set(ctx, k, "some value here"); err != nil {
			t.Fatalf("set %q: %v", k, err)
		}
	}
	keys, err := store.ListKeys(ctx)
	if err != nil {
		t.Fatalf("list keys: %v", err)
	}
	if len(keys) != 3 || keys[0] != "a" || keys[1] != "b" || keys[2] != "c" {
		t.Fatalf("unexpected keys: %v", keys)
	}
}

func TestConnReinitializeAfterShutdown(t *testing.T) {
	ctx := context.Background()
	conn := newTestConn(t)
	store := NewChunkedStore(conn)

	if err := store.Set(ctx, "k", "v"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := conn.Shutdown(); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if err := conn.Shutdown(); err != nil {
		t.Fatalf("second shutdown should be a no-op: %v", err)
	}

	got, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get after reinitialize: %v", err)
	}
	if got != "v" {
		t.Fatalf("unexpected value after reinitialize: %q", got)
	}
}
