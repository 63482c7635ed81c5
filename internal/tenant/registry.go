package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"chatkeeper/internal/storage"
)

const (
	initAttempts = 3
	retryDelay   = 200 * time.Millisecond
)

// Registry hands out one Store per tenant id. Stores are created on demand
// and never removed for the lifetime of the process.
type Registry struct {
	mu      sync.Mutex
	stores  map[string]*Store
	blobs   *storage.ChunkedStore
	backups *storage.BackupManager
	group   singleflight.Group
	debug   bool
}

func NewRegistry(blobs *storage.ChunkedStore, backups *storage.BackupManager, debug bool) *Registry {
	return &Registry{
		stores:  make(map[string]*Store),
		blobs:   blobs,
		backups: backups,
		debug:   debug,
	}
}

func (r *Registry) GetStore(tenantID string) *Store {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.stores[tenantID]; ok {
		return s
	}
	s := &Store{id: tenantID, reg: r}
	r.stores[tenantID] = s
	return s
}

// Store is the in-memory mirror of one tenant's durable blob. The whole
// mirror is serialized and persisted on every SetItem (last write wins; two
// concurrent events for the same tenant are not mutually excluded at this
// layer).
type Store struct {
	id  string
	reg *Registry

	mu          sync.RWMutex
	data        map[string]json.RawMessage
	initialized bool
}

func (s *Store) ID() string { return s.id }

func (s *Store) Initialized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initialized
}

// Initialize loads the tenant's durable blob, seeding and persisting an
// empty object when none exists. It is idempotent and concurrent callers
// collapse into a single underlying load.
func (s *Store) Initialize(ctx context.Context) error {
	if s.Initialized() {
		return nil
	}
	_, err, _ := s.reg.group.Do(s.id, func() (interface{}, error) {
		if s.Initialized() {
			return nil, nil
		}
		return nil, s.load(ctx)
	})
	return err
}

func (s *Store) load(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= initAttempts; attempt++ {
		value, err := s.reg.blobs.Get(ctx, s.id)
		switch {
		case err == nil:
			data := make(map[string]json.RawMessage)
			if err := json.Unmarshal([]byte(value), &data); err != nil {
				return fmt.Errorf("decode blob for tenant %q: %w", s.id, err)
			}
			s.finish(data)
			if s.reg.debug {
				log.Printf("tenant %q initialized with %d field(s)", s.id, len(data))
			}
			return nil
		case errors.Is(err, storage.ErrNotFound):
			if err := s.reg.blobs.Set(ctx, s.id, "{}"); err != nil {
				lastErr = err
				break
			}
			s.finish(make(map[string]json.RawMessage))
			if s.reg.debug {
				log.Printf("tenant %q seeded with empty state", s.id)
			}
			return nil
		case errors.Is(err, storage.ErrCorrupted):
			// Never mask corruption as an empty store.
			return err
		default:
			lastErr = err
		}

		log.Printf("tenant %q initialize attempt %d/%d failed: %v", s.id, attempt, initAttempts, lastErr)
		if attempt < initAttempts {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(retryDelay):
			}
		}
	}
	return fmt.Errorf("initialize tenant %q: %w", s.id, lastErr)
}

func (s *Store) finish(data map[string]json.RawMessage) {
	s.mu.Lock()
	s.data = data
	s.initialized = true
	s.mu.Unlock()
}

// GetItem decodes the value stored under key into out. An uninitialized
// store always reports a miss: failed initialization means state is unknown,
// not confirmed empty.
func (s *Store) GetItem(key string, out interface{}) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.initialized {
		return false, nil
	}
	raw, ok := s.data[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("decode field %q for tenant %q: %w", key, s.id, err)
	}
	return true, nil
}

// SetItem updates the mirror and persists the whole of it. The in-memory
// mutation stands even when persistence fails; the error is logged and
// returned so callers can decide whether continuity matters.
func (s *Store) SetItem(ctx context.Context, key string, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode field %q for tenant %q: %w", key, s.id, err)
	}

	s.mu.Lock()
	if s.data == nil {
		s.data = make(map[string]json.RawMessage)
	}
	s.data[key] = raw
	blob, err := json.Marshal(s.data)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("encode blob for tenant %q: %w", s.id, err)
	}

	// Snapshot freshness check runs first so a stale backup is taken before
	// the state it protects gets overwritten. Its failure never blocks the
	// primary write.
	if s.reg.backups != nil {
		if err := s.reg.backups.CheckAndBackup(ctx); err != nil {
			log.Printf("backup check for tenant %q failed: %v", s.id, err)
		}
	}

	if err := s.reg.blobs.Set(ctx, s.id, string(blob)); err != nil {
		log.Printf("persist tenant %q failed (in-memory state kept): %v", s.id, err)
		return fmt.Errorf("persist tenant %q: %w", s.id, err)
	}
	if s.reg.debug {
		log.Printf("tenant %q persisted (%d bytes)", s.id, len(blob))
	}
	return nil
}
