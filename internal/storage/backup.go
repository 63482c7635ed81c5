package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"
)

// ErrNoBackup reports that no snapshot matches a restore request.
var ErrNoBackup = errors.New("no backup found")

const (
	defaultBackupInterval  = 24 * time.Hour
	defaultBackupRetention = 7 * 24 * time.Hour
)

// chunkRecord mirrors a chunks row inside a snapshot payload.
type chunkRecord struct {
	Key         string `json:"key"`
	ChunkIndex  int    `json:"chunk_index"`
	Value       []byte `json:"value"`
	TotalChunks int    `json:"total_chunks"`
	UpdatedAt   int64  `json:"updated_at_unix"`
}

// BackupSummary describes a retained snapshot.
type BackupSummary struct {
	CreatedAt      time.Time
	ExpiresAt      time.Time
	TotalDocuments int
}

// BackupManager snapshots the entire chunk keyspace on a fixed cadence and
// prunes snapshots past their expiry. Snapshot creation and pruning share one
// transaction; restore clears and refills the keyspace in another.
type BackupManager struct {
	conn      *Conn
	interval  time.Duration
	retention time.Duration
	debug     bool

	// now is swappable so tests can advance time.
	now func() time.Time
}

func NewBackupManager(conn *Conn, interval, retention time.Duration) *BackupManager {
	if interval <= 0 {
		interval = defaultBackupInterval
	}
	if retention <= 0 {
		retention = defaultBackupRetention
	}
	return &BackupManager{
		conn:      conn,
		interval:  interval,
		retention: retention,
		debug:     conn.debug,
		now:       time.Now,
	}
}

// CheckAndBackup takes a new snapshot when none exists or the latest one is
// older than the backup interval. Snapshots whose expiry has passed are
// pruned in the same transaction.
func (m *BackupManager) CheckAndBackup(ctx context.Context) error {
	if err := m.conn.Initialize(ctx); err != nil {
		return err
	}
	db, err := m.conn.DB()
	if err != nil {
		return err
	}

	now := m.now()

	var latest sql.NullInt64
	if err := db.QueryRowContext(ctx, `SELECT MAX(created_at_unix) FROM backups`).Scan(&latest); err != nil {
		return fmt.Errorf("query latest backup: %w", err)
	}
	if latest.Valid {
		age := now.Sub(time.UnixMilli(latest.Int64))
		if age < m.interval {
			if m.debug {
				log.Printf("recent backup exists (age %s), skipping", age.Round(time.Second))
			}
			return nil
		}
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin backup transaction: %w", err)
	}
	defer tx.Rollback()

	records, err := readAllChunks(ctx, tx)
	if err != nil {
		return err
	}
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("marshal backup payload: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO backups (created_at_unix, expires_at_unix, total_documents, data)
		 VALUES (?, ?, ?, ?)`,
		now.UnixMilli(), now.Add(m.retention).UnixMilli(), len(records), data,
	); err != nil {
		return fmt.Errorf("insert backup: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM backups WHERE expires_at_unix <= ?`, now.UnixMilli(),
	); err != nil {
		return fmt.Errorf("prune expired backups: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit backup: %w", err)
	}
	if m.debug {
		log.Printf("backup created with %d document(s)", len(records))
	}
	return nil
}

func readAllChunks(ctx context.Context, tx *sql.Tx) ([]chunkRecord, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT key, chunk_index, value, total_chunks, updated_at_unix FROM chunks`)
	if err != nil {
		return nil, fmt.Errorf("read keyspace: %w", err)
	}
	defer rows.Close()

	records := make([]chunkRecord, 0)
	for rows.Next() {
		var r chunkRecord
		if err := rows.Scan(&r.Key, &r.ChunkIndex, &r.Value, &r.TotalChunks, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan keyspace row: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keyspace: %w", err)
	}
	return records, nil
}

// Restore replaces the live keyspace with the snapshot taken at the given
// time, or the most recent snapshot when at is the zero time.
func (m *BackupManager) Restore(ctx context.Context, at time.Time) error {
	if err := m.conn.Initialize(ctx); err != nil {
		return err
	}
	db, err := m.conn.DB()
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin restore transaction: %w", err)
	}
	defer tx.Rollback()

	var (
		createdAt int64
		data      []byte
	)
	if at.IsZero() {
		err = tx.QueryRowContext(ctx,
			`SELECT created_at_unix, data FROM backups ORDER BY created_at_unix DESC LIMIT 1`,
		).Scan(&createdAt, &data)
	} else {
		err = tx.QueryRowContext(ctx,
			`SELECT created_at_unix, data FROM backups WHERE created_at_unix = ?`,
			at.UnixMilli(),
		).Scan(&createdAt, &data)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNoBackup
	}
	if err != nil {
		return fmt.Errorf("select backup: %w", err)
	}

	var records []chunkRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return fmt.Errorf("unmarshal backup payload: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks`); err != nil {
		return fmt.Errorf("clear keyspace: %w", err)
	}
	for _, r := range records {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chunks (key, chunk_index, value, total_chunks, updated_at_unix)
			 VALUES (?, ?, ?, ?, ?)`,
			r.Key, r.ChunkIndex, r.Value, r.TotalChunks, r.UpdatedAt,
		); err != nil {
			return fmt.Errorf("restore chunk %q/%d: %w", r.Key, r.ChunkIndex, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit restore: %w", err)
	}
	log.Printf("restored %d document(s) from backup created at %s",
		len(records), time.UnixMilli(createdAt).Format(time.RFC3339))
	return nil
}

// ListBackups returns summaries of the retained, unexpired snapshots,
// oldest first.
func (m *BackupManager) ListBackups(ctx context.Context) ([]BackupSummary, error) {
	if err := m.conn.Initialize(ctx); err != nil {
		return nil, err
	}
	db, err := m.conn.DB()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx,
		`SELECT created_at_unix, expires_at_unix, total_documents FROM backups
		 WHERE expires_at_unix > ? ORDER BY created_at_unix`,
		m.now().UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("list backups: %w", err)
	}
	defer rows.Close()

	var out []BackupSummary
	for rows.Next() {
		var created, expires int64
		var docs int
		if err := rows.Scan(&created, &expires, &docs); err != nil {
			return nil, fmt.Errorf("scan backup row: %w", err)
		}
		out = append(out, BackupSummary{
			CreatedAt:      time.UnixMilli(created),
			ExpiresAt:      time.UnixMilli(expires),
			TotalDocuments: docs,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate backups: %w", err)
	}
	return out, nil
}
