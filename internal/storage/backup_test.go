package storage

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeClock drives the backup manager's notion of time.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newFakeClock() *fakeClock { return &fakeClock{t: time.Unix(1_700_000_000, 0)} }

func newTestBackupManager(t *testing.T) (*ChunkedStore, *BackupManager, *fakeClock) {
	t.Helper()
	conn := newTestConn(t)
	store := NewChunkedStore(conn, WithChunkSize(8))
	mgr := NewBackupManager(conn, 24*time.Hour, 7*24*time.Hour)
	clock := newFakeClock()
	mgr.now = clock.now
	return store, mgr, clock
}

func TestBackupCadence(t *testing.T) {
	ctx := context.Background()
	store, mgr, clock := newTestBackupManager(t)

	if err := store.Set(ctx, "k", "value"); err != nil {
		t.Fatalf("set: %v", err)
	}

	// Two checks inside the interval create exactly one snapshot.
	if err := mgr.CheckAndBackup(ctx); err != nil {
		t.Fatalf("first check: %v", err)
	}
	clock.advance(time.Hour)
	if err := mgr.CheckAndBackup(ctx); err != nil {
		t.Fatalf("second check: %v", err)
	}
	backups, err := mgr.ListBackups(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(backups) != 1 {
		t.Fatalf("expected 1 backup, got %d", len(backups))
	}

	// A check after the interval elapses creates a second one.
	clock.advance(24 * time.Hour)
	if err := mgr.CheckAndBackup(ctx); err != nil {
		t.Fatalf("third check: %v", err)
	}
	backups, err = mgr.ListBackups(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(backups) != 2 {
		t.Fatalf("expected 2 backups, got %d", len(backups))
	}
}

func TestBackupRetention(t *testing.T) {
	ctx := context.Background()
	store, mgr, clock := newTestBackupManager(t)

	if err := store.Set(ctx, "k", "value"); err != nil {
		t.Fatalf("set: %v", err)
	}

	// Ten daily snapshots with a seven day retention window.
	for i := 0; i < 10; i++ {
		if err := mgr.CheckAndBackup(ctx); err != nil {
			t.Fatalf("check %d: %v", i, err)
		}
		clock.advance(24 * time.Hour)
	}

	backups, err := mgr.ListBackups(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	// Snapshots taken on days 0-9, each expiring seven days later; at day 10
	// only the day 4-9 snapshots are still inside the window.
	if len(backups) != 6 {
		t.Fatalf("expected 6 retained backups, got %d", len(backups))
	}
	for _, b := range backups {
		if !b.ExpiresAt.After(clock.now()) {
			t.Fatalf("expired backup listed: %+v", b)
		}
	}
}

func TestRestoreLatest(t *testing.T) {
	ctx := context.Background()
	store, mgr, _ := newTestBackupManager(t)

	if err := store.Set(ctx, "tenant", "original state"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := mgr.CheckAndBackup(ctx); err != nil {
		t.Fatalf("backup: %v", err)
	}

	// Corrupting overwrite, then restore.
	if err := store.Set(ctx, "tenant", "clobbered"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if _, err := store.Delete(ctx, "tenant"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := mgr.Restore(ctx, time.Time{}); err != nil {
		t.Fatalf("restore: %v", err)
	}

	got, err := store.Get(ctx, "tenant")
	if err != nil {
		t.Fatalf("get after restore: %v", err)
	}
	if got != "original state" {
		t.Fatalf("unexpected restored value: %q", got)
	}
}

func TestRestoreByTimestamp(t *testing.T) {
	ctx := context.Background()
	store, mgr, clock := newTestBackupManager(t)

	if err := store.Set(ctx, "k", "first"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := mgr.CheckAndBackup(ctx); err != nil {
		t.Fatalf("first backup: %v", err)
	}
	first := clock.now()

	clock.advance(25 * time.Hour)
	if err := store.Set(ctx, "k", "second"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := mgr.CheckAndBackup(ctx); err != nil {
		t.Fatalf("second backup: %v", err)
	}

	if err := mgr.Restore(ctx, first); err != nil {
		t.Fatalf("restore by timestamp: %v", err)
	}
	got, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "first" {
		t.Fatalf("expected first snapshot state, got %q", got)
	}
}

func TestRestoreWithoutBackupFails(t *testing.T) {
	ctx := context.Background()
	_, mgr, _ := newTestBackupManager(t)

	err := mgr.Restore(ctx, time.Time{})
	if !errors.Is(err, ErrNoBackup) {
		t.Fatalf("expected ErrNoBackup, got %v", err)
	}
}
