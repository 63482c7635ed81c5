package history

import (
	"context"
	"fmt"
	"log"
	"sync"

	"chatkeeper/internal/tenant"
)

// promptFieldKey is the field inside a tenant's persisted record that holds
// the message list.
const promptFieldKey = "prompt"

// Cache keeps one reconstructed Prompt per tenant in memory, backed by the
// tenant store registry. A miss loads (or seeds) the tenant's durable state;
// Save persists the buffer back after each externally visible turn.
type Cache struct {
	mu       sync.Mutex
	prompts  map[string]*Prompt
	registry *tenant.Registry
	opts     Options
}

func NewCache(registry *tenant.Registry, opts Options) *Cache {
	return &Cache{
		prompts:  make(map[string]*Prompt),
		registry: registry,
		opts:     opts,
	}
}

// Get returns the tenant's prompt, reconstructing it from durable storage on
// a cache miss. When the backing store cannot be initialized the returned
// prompt is a fresh, uncached seed buffer and the error reports the degraded
// state; the conversation can still proceed.
func (c *Cache) Get(ctx context.Context, tenantID string) (*Prompt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.prompts[tenantID]; ok {
		if c.opts.Debug {
			log.Printf("prompt for %q served from memory, length %d", tenantID, p.Len())
		}
		return p, nil
	}

	store := c.registry.GetStore(tenantID)
	if err := store.Initialize(ctx); err != nil {
		return New(c.opts), fmt.Errorf("degraded prompt for tenant %q: %w", tenantID, err)
	}

	var msgs []Message
	found, err := store.GetItem(promptFieldKey, &msgs)
	if err != nil {
		return New(c.opts), fmt.Errorf("degraded prompt for tenant %q: %w", tenantID, err)
	}

	var p *Prompt
	if found && len(msgs) > 0 {
		p = Restore(c.opts, msgs)
		if c.opts.Debug {
			log.Printf("prompt for %q reconstructed from storage, length %d", tenantID, p.Len())
		}
	} else {
		p = New(c.opts)
	}
	c.prompts[tenantID] = p
	return p, nil
}

// Save persists the prompt and caches it.
func (c *Cache) Save(ctx context.Context, tenantID string, p *Prompt) error {
	store := c.registry.GetStore(tenantID)
	if err := store.Initialize(ctx); err != nil {
		return err
	}
	if err := store.SetItem(ctx, promptFieldKey, p.Messages()); err != nil {
		return err
	}
	c.mu.Lock()
	c.prompts[tenantID] = p
	c.mu.Unlock()
	return nil
}

// Forget resets the tenant's conversation: a fresh seed buffer is persisted
// and the cached prompt is dropped so the next Get reloads it.
func (c *Cache) Forget(ctx context.Context, tenantID string) error {
	store := c.registry.GetStore(tenantID)
	if err := store.Initialize(ctx); err != nil {
		return err
	}
	if err := store.SetItem(ctx, promptFieldKey, New(c.opts).Messages()); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.prompts, tenantID)
	c.mu.Unlock()
	return nil
}
