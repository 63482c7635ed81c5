package storage

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite"
)

// Conn owns the process-wide SQLite handle. Opening is lazy: the first
// Initialize call connects and migrates, concurrent callers wait for that
// single attempt, and Shutdown resets the state so a later Initialize can
// connect again without leaking the prior handle.
type Conn struct {
	mu          sync.Mutex
	path        string
	debug       bool
	db          *sql.DB
	initialized bool
}

func Open(path string, debug bool) *Conn {
	return &Conn{path: path, debug: debug}
}

func (c *Conn) Initialize(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initialized {
		return nil
	}

	if c.debug {
		log.Printf("opening sqlite database at %s", c.path)
	}
	if dir := filepath.Dir(c.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("ensure db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", c.path)
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL; PRAGMA foreign_keys=ON;`); err != nil {
		_ = db.Close()
		return fmt.Errorf("apply sqlite pragmas: %w", err)
	}
	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	c.db = db
	c.initialized = true
	if c.debug {
		log.Printf("sqlite database initialized")
	}
	return nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS chunks (
			key TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			value BLOB NOT NULL,
			total_chunks INTEGER NOT NULL,
			updated_at_unix INTEGER NOT NULL,
			PRIMARY KEY (key, chunk_index)
		);`,
		`CREATE TABLE IF NOT EXISTS backups (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			created_at_unix INTEGER NOT NULL,
			expires_at_unix INTEGER NOT NULL,
			total_documents INTEGER NOT NULL,
			data BLOB NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_backups_created ON backups(created_at_unix);`,
		`CREATE INDEX IF NOT EXISTS idx_backups_expires ON backups(expires_at_unix);`,
	}
	for _, q := range queries {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("migrate storage schema: %w", err)
		}
	}
	return nil
}

// DB returns the live handle or an error when the connection has not been
// initialized (or has been shut down).
func (c *Conn) DB() (*sql.DB, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return nil, fmt.Errorf("storage connection not initialized")
	}
	return c.db, nil
}

func (c *Conn) Shutdown() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return nil
	}
	err := c.db.Close()
	c.db = nil
	c.initialized = false
	if err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}
