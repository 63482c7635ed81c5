package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
)

var (
	// ErrNotFound reports that no chunks exist for a key.
	ErrNotFound = errors.New("key not found")
	// ErrCorrupted reports an incomplete or inconsistent chunk set. It is
	// distinct from ErrNotFound so callers can tell "absent" from
	// "present but unreadable".
	ErrCorrupted = errors.New("chunk data corrupted")
)

// The backing medium caps a single document at 16 MiB; chunks stay below that
// with headroom for the chunk metadata.
const defaultChunkSize = 15 * 1024 * 1024

// ChunkedStore persists string values of arbitrary size by splitting them
// into fixed-size ordered chunks. A value is replaced with a single
// delete-then-insert transaction, so readers never observe a partial chunk
// set for a key.
type ChunkedStore struct {
	conn      *Conn
	chunkSize int
	debug     bool
}

type ChunkedOption func(*ChunkedStore)

// WithChunkSize overrides the chunk payload size. Used by tests to exercise
// multi-chunk values without multi-megabyte fixtures.
func WithChunkSize(n int) ChunkedOption {
	return func(s *ChunkedStore) { s.chunkSize = n }
}

func NewChunkedStore(conn *Conn, opts ...ChunkedOption) *ChunkedStore {
	s := &ChunkedStore{conn: conn, chunkSize: defaultChunkSize, debug: conn.debug}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *ChunkedStore) splitIntoChunks(value string) []string {
	if value == "" {
		return []string{""}
	}
	var chunks []string
	for i := 0; i < len(value); i += s.chunkSize {
		end := i + s.chunkSize
		if end > len(value) {
			end = len(value)
		}
		chunks = append(chunks, value[i:end])
	}
	return chunks
}

// Set replaces the value stored under key. The delete and all chunk inserts
// commit as one transaction.
func (s *ChunkedStore) Set(ctx context.Context, key, value string) error {
	if err := s.conn.Initialize(ctx); err != nil {
		return err
	}
	db, err := s.conn.DB()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin set transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete stale chunks for %q: %w", key, err)
	}

	chunks := s.splitIntoChunks(value)
	now := time.Now().UnixMilli()
	for i, chunk := range chunks {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chunks (key, chunk_index, value, total_chunks, updated_at_unix)
			 VALUES (?, ?, ?, ?, ?)`,
			key, i, []byte(chunk), len(chunks), now,
		); err != nil {
			return fmt.Errorf("insert chunk %d/%d for %q: %w", i, len(chunks), key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit set for %q: %w", key, err)
	}
	if s.debug {
		log.Printf("stored %d chunk(s) for key %q (%d bytes)", len(chunks), key, len(value))
	}
	return nil
}

// Get reassembles the value stored under key. It returns ErrNotFound when no
// chunks exist and ErrCorrupted when the chunk set is incomplete or the
// recorded totals disagree.
func (s *ChunkedStore) Get(ctx context.Context, key string) (string, error) {
	if err := s.conn.Initialize(ctx); err != nil {
		return "", err
	}
	db, err := s.conn.DB()
	if err != nil {
		return "", err
	}

	rows, err := db.QueryContext(ctx,
		`SELECT chunk_index, value, total_chunks FROM chunks WHERE key = ? ORDER BY chunk_index`,
		key,
	)
	if err != nil {
		return "", fmt.Errorf("query chunks for %q: %w", key, err)
	}
	defer rows.Close()

	var (
		parts []string
		total = -1
	)
	for rows.Next() {
		var (
			index       int
			value       []byte
			totalChunks int
		)
		if err := rows.Scan(&index, &value, &totalChunks); err != nil {
			return "", fmt.Errorf("scan chunk for %q: %w", key, err)
		}
		if total == -1 {
			total = totalChunks
		} else if totalChunks != total {
			return "", fmt.Errorf("%w: key %q chunk %d records total %d, expected %d",
				ErrCorrupted, key, index, totalChunks, total)
		}
		if index != len(parts) {
			return "", fmt.Errorf("%w: key %q missing chunk %d", ErrCorrupted, key, len(parts))
		}
		parts = append(parts, string(value))
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("iterate chunks for %q: %w", key, err)
	}

	if len(parts) == 0 {
		return "", fmt.Errorf("%w: %q", ErrNotFound, key)
	}
	if len(parts) != total {
		return "", fmt.Errorf("%w: key %q expected %d chunks, found %d",
			ErrCorrupted, key, total, len(parts))
	}

	var out strings.Builder
	for _, p := range parts {
		out.WriteString(p)
	}
	return out.String(), nil
}

// Delete removes every chunk stored under key and reports how many rows went
// away.
func (s *ChunkedStore) Delete(ctx context.Context, key string) (int64, error) {
	if err := s.conn.Initialize(ctx); err != nil {
		return 0, err
	}
	db, err := s.conn.DB()
	if err != nil {
		return 0, err
	}
	res, err := db.ExecContext(ctx, `DELETE FROM chunks WHERE key = ?`, key)
	if err != nil {
		return 0, fmt.Errorf("delete chunks for %q: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected for %q: %w", key, err)
	}
	return n, nil
}

// ListKeys returns every distinct key with at least one chunk.
func (s *ChunkedStore) ListKeys(ctx context.Context) ([]string, error) {
	if err := s.conn.Initialize(ctx); err != nil {
		return nil, err
	}
	db, err := s.conn.DB()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `SELECT DISTINCT key FROM chunks ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keys: %w", err)
	}
	return keys, nil
}
