// Package langcache keeps a small, bounded set of language packs resident,
// evicting the least recently used pack when a new one is requested.
// Recency survives restarts through a Store.
package langcache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/raulk/clock"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"artifactd/internal/manager"
	"artifactd/pkg/types"
)

// MaxCached is the default number of resident packs.
const MaxCached = 3

// ErrFull is returned when every slot is held by a pack that is still loading.
var ErrFull = errors.New("language cache full: all entries loading")

// Lookup resolves a pack id to its descriptor.
type Lookup func(id string) (types.Descriptor, bool)

type Config struct {
	Capacity int
	Loader   manager.Loader
	Lookup   Lookup
	// Store defaults to an in-memory store.
	Store  Store
	Clock  clock.Clock
	Logger *zerolog.Logger
}

type entry struct {
	loading    bool
	handle     manager.Handle
	lastUsedAt time.Time
}

// Cache is safe for concurrent use.
type Cache struct {
	capacity int
	loader   manager.Loader
	lookup   Lookup
	store    Store
	clock    clock.Clock
	log      zerolog.Logger
	flights  singleflight.Group

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
}

func New(cfg Config) *Cache {
	c := &Cache{
		capacity: cfg.Capacity,
		loader:   cfg.Loader,
		lookup:   cfg.Lookup,
		store:    cfg.Store,
		clock:    cfg.Clock,
		log:      zerolog.Nop(),
		entries:  make(map[string]*entry),
	}
	if c.capacity <= 0 {
		c.capacity = MaxCached
	}
	if c.store == nil {
		c.store = NewMemoryStore()
	}
	if c.clock == nil {
		c.clock = clock.New()
	}
	if cfg.Logger != nil {
		c.log = *cfg.Logger
	}
	return c
}

// EnsureLoaded makes pack id resident. When the cache is full the loaded
// pack with the oldest LastUsedAt is released first.
func (c *Cache) EnsureLoaded(ctx context.Context, id string) error {
	d, ok := c.lookup(id)
	if !ok {
		return manager.ErrArtifactNotFound(id)
	}
	if c.touch(id) {
		return nil
	}
	_, err, _ := c.flights.Do(id, func() (any, error) {
		return nil, c.load(ctx, d)
	})
	return err
}

func (c *Cache) touch(id string) bool {
	c.mu.Lock()
	e := c.entries[id]
	if e == nil || e.loading {
		c.mu.Unlock()
		return false
	}
	now := c.clock.Now()
	e.lastUsedAt = now
	c.mu.Unlock()
	c.record(id, now)
	return true
}

func (c *Cache) record(id string, at time.Time) {
	if _, err := c.store.Record(id, at); err != nil {
		c.log.Warn().Err(err).Str("pack", id).Msg("usage stats write failed")
	}
}

func (c *Cache) load(ctx context.Context, d types.Descriptor) error {
	if c.touch(d.ID) {
		return nil
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return manager.ErrClosed
	}
	var victim manager.Handle
	var victimID string
	if len(c.entries) >= c.capacity {
		victimID = c.oldestLocked()
		if victimID == "" {
			c.mu.Unlock()
			return ErrFull
		}
		victim = c.entries[victimID].handle
		delete(c.entries, victimID)
	}
	slot := &entry{loading: true}
	c.entries[d.ID] = slot
	c.mu.Unlock()

	if victim != nil {
		if err := victim.Close(); err != nil {
			c.log.Error().Err(err).Str("pack", victimID).Msg("release failed")
		}
		c.log.Info().Str("pack", victimID).Str("for", d.ID).Msg("language pack evicted")
	}

	h, err := c.loader.Load(ctx, d)
	c.mu.Lock()
	if c.closed || c.entries[d.ID] != slot {
		c.mu.Unlock()
		if h != nil {
			_ = h.Close()
		}
		c.log.Info().Str("pack", d.ID).Msg("load finished after close; released")
		return fmt.Errorf("load pack %s: %w", d.ID, manager.ErrClosed)
	}
	if err != nil {
		delete(c.entries, d.ID)
		c.mu.Unlock()
		return fmt.Errorf("load pack %s: %w", d.ID, err)
	}
	now := c.clock.Now()
	slot.loading = false
	slot.handle = h
	slot.lastUsedAt = now
	c.mu.Unlock()
	c.record(d.ID, now)
	c.log.Info().Str("pack", d.ID).Msg("language pack loaded")
	return nil
}

// oldestLocked returns the loaded id with the oldest LastUsedAt, skipping
// entries still loading.
func (c *Cache) oldestLocked() string {
	var id string
	var oldest time.Time
	for k, e := range c.entries {
		if e.loading {
			continue
		}
		if id == "" || e.lastUsedAt.Before(oldest) || (e.lastUsedAt.Equal(oldest) && k < id) {
			id, oldest = k, e.lastUsedAt
		}
	}
	return id
}

// GetHandle returns the handle of a resident pack and records the use.
func (c *Cache) GetHandle(id string) (manager.Handle, bool) {
	c.mu.Lock()
	e := c.entries[id]
	if e == nil || e.loading {
		c.mu.Unlock()
		return nil, false
	}
	now := c.clock.Now()
	e.lastUsedAt = now
	h := e.handle
	c.mu.Unlock()
	c.record(id, now)
	return h, true
}

// Loaded lists resident pack ids, most recently used first.
func (c *Cache) Loaded() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]string, 0, len(c.entries))
	for id, e := range c.entries {
		if !e.loading {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := c.entries[ids[i]].lastUsedAt, c.entries[ids[j]].lastUsedAt
		if !a.Equal(b) {
			return a.After(b)
		}
		return ids[i] < ids[j]
	})
	return ids
}

// Unload releases pack id if resident. A pack still loading is refused
// with a busy error.
func (c *Cache) Unload(id string) error {
	c.mu.Lock()
	e := c.entries[id]
	if e == nil {
		c.mu.Unlock()
		return nil
	}
	if e.loading {
		c.mu.Unlock()
		return manager.ErrBusy(id)
	}
	delete(c.entries, id)
	c.mu.Unlock()
	return e.handle.Close()
}

// Warm reloads the most recently used packs, up to capacity, from the
// persisted statistics. Packs no longer in the catalog are skipped and load
// failures are logged.
func (c *Cache) Warm(ctx context.Context) error {
	all, err := c.store.All()
	if err != nil {
		return err
	}
	type kv struct {
		id string
		st Stats
	}
	var ranked []kv
	for id, st := range all {
		if _, ok := c.lookup(id); ok {
			ranked = append(ranked, kv{id, st})
		}
	}
	sort.Slice(ranked, func(i, j int) bool {
		if !ranked[i].st.LastUsedAt.Equal(ranked[j].st.LastUsedAt) {
			return ranked[i].st.LastUsedAt.After(ranked[j].st.LastUsedAt)
		}
		return ranked[i].id < ranked[j].id
	})
	if len(ranked) > c.capacity {
		ranked = ranked[:c.capacity]
	}
	// least recent first so the most recent ends up freshest in memory
	for i := len(ranked) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.EnsureLoaded(ctx, ranked[i].id); err != nil {
			c.log.Warn().Err(err).Str("pack", ranked[i].id).Msg("warm failed")
		}
	}
	return nil
}

// Stats returns the persisted usage statistics.
func (c *Cache) Stats() (map[string]Stats, error) { return c.store.All() }

// Close releases every resident pack and closes the store. Loads still in
// flight release their handle when they finish.
func (c *Cache) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	var hs []manager.Handle
	for id, e := range c.entries {
		if !e.loading {
			hs = append(hs, e.handle)
		}
		delete(c.entries, id)
	}
	c.mu.Unlock()
	for _, h := range hs {
		_ = h.Close()
	}
	return c.store.Close()
}
