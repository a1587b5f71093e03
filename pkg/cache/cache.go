// Package cache provides the two enrichment caches: cell-level
// (rowID:field) and provider-response (rowID:provider). Both carry
// positive entries with a long TTL and negative entries ("known to be
// unenrichable") with a short TTL. Keys are versioned; bumping the
// version invalidates everything at once.
//
// A shared redis store is the primary backend; an in-process LRU is the
// fallback and becomes authoritative while the shared store is down.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// Entry is one cache record. Negative entries carry no value.
type Entry struct {
	Value     any       `json:"value,omitempty"`
	Negative  bool      `json:"negative,omitempty"`
	StoredAt  time.Time `json:"stored_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the entry must be treated as a miss.
func (e *Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && now.After(e.ExpiresAt)
}

// Hit is the result of a cache lookup.
type Hit struct {
	Found    bool
	Negative bool
	Value    any
}

// Store is a cache backend.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, bool, error)
	Set(ctx context.Context, key string, entry *Entry, ttl time.Duration) error
	GetMultiple(ctx context.Context, keys []string) (map[string]*Entry, error)
	SetMultiple(ctx context.Context, entries map[string]*Entry, ttl time.Duration) error
}

// Config tunes the cache layer.
type Config struct {
	Enabled          bool
	DefaultTTL       time.Duration
	NegativeTTL      time.Duration
	Version          int64
	MaxMemoryEntries int
}

// DefaultConfig returns production defaults: 1 hour positive TTL,
// 5 minute negative TTL.
func DefaultConfig() Config {
	return Config{
		Enabled:          true,
		DefaultTTL:       time.Hour,
		NegativeTTL:      5 * time.Minute,
		Version:          1,
		MaxMemoryEntries: 10000,
	}
}

// Cache is the versioned two-tier cache.
type Cache struct {
	cfg     Config
	shared  Store // optional; nil means memory only
	memory  *MemoryStore
	version atomic.Int64
	logger  *slog.Logger
	clock   func() time.Time
}

// New creates a cache. shared may be nil.
func New(cfg Config, shared Store, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{
		cfg:    cfg,
		shared: shared,
		memory: NewMemoryStore(cfg.MaxMemoryEntries),
		logger: logger.With("component", "cache"),
		clock:  time.Now,
	}
	c.version.Store(cfg.Version)
	return c
}

// WithClock overrides the clock for deterministic tests.
func (c *Cache) WithClock(clock func() time.Time) *Cache {
	c.clock = clock
	c.memory.clock = clock
	return c
}

// CellKey builds the versioned cell-level key for rowID:field.
func (c *Cache) CellKey(rowID, field string) string {
	return fmt.Sprintf("cell:v%d:%s:%s", c.version.Load(), rowID, field)
}

// ProviderKey builds the versioned provider-response key.
func (c *Cache) ProviderKey(rowID, providerName string) string {
	return fmt.Sprintf("prov:v%d:%s:%s", c.version.Load(), rowID, providerName)
}

// Get looks up a key, preferring the shared store and falling back to the
// in-process LRU on error.
func (c *Cache) Get(ctx context.Context, key string) Hit {
	if !c.cfg.Enabled {
		return Hit{}
	}
	now := c.clock()
	if c.shared != nil {
		entry, found, err := c.shared.Get(ctx, key)
		if err == nil {
			if !found || entry.Expired(now) {
				return Hit{}
			}
			return Hit{Found: true, Negative: entry.Negative, Value: entry.Value}
		}
		c.logger.Warn("shared cache get failed, using memory fallback", "error", err)
	}
	entry, found, _ := c.memory.Get(ctx, key)
	if !found || entry.Expired(now) {
		return Hit{}
	}
	return Hit{Found: true, Negative: entry.Negative, Value: entry.Value}
}

// Set stores a positive entry under the default TTL.
func (c *Cache) Set(ctx context.Context, key string, value any) {
	c.put(ctx, key, &Entry{Value: value}, c.cfg.DefaultTTL)
}

// SetNegative marks a key as known-unenrichable for the negative TTL.
func (c *Cache) SetNegative(ctx context.Context, key string) {
	c.put(ctx, key, &Entry{Negative: true}, c.cfg.NegativeTTL)
}

func (c *Cache) put(ctx context.Context, key string, entry *Entry, ttl time.Duration) {
	if !c.cfg.Enabled {
		return
	}
	now := c.clock()
	entry.StoredAt = now
	entry.ExpiresAt = now.Add(ttl)
	// Write-through to both tiers so the fallback stays warm.
	if c.shared != nil {
		if err := c.shared.Set(ctx, key, entry, ttl); err != nil {
			c.logger.Warn("shared cache set failed", "error", err)
		}
	}
	_ = c.memory.Set(ctx, key, entry, ttl)
}

// GetMultiple looks up many keys in one round trip.
func (c *Cache) GetMultiple(ctx context.Context, keys []string) map[string]Hit {
	hits := make(map[string]Hit, len(keys))
	if !c.cfg.Enabled {
		return hits
	}
	now := c.clock()
	var entries map[string]*Entry
	if c.shared != nil {
		var err error
		entries, err = c.shared.GetMultiple(ctx, keys)
		if err != nil {
			c.logger.Warn("shared cache mget failed, using memory fallback", "error", err)
			entries = nil
		}
	}
	if entries == nil {
		entries, _ = c.memory.GetMultiple(ctx, keys)
	}
	for key, entry := range entries {
		if entry == nil || entry.Expired(now) {
			continue
		}
		hits[key] = Hit{Found: true, Negative: entry.Negative, Value: entry.Value}
	}
	return hits
}

// SetMultiple stores many positive entries in one round trip.
func (c *Cache) SetMultiple(ctx context.Context, values map[string]any) {
	if !c.cfg.Enabled {
		return
	}
	now := c.clock()
	entries := make(map[string]*Entry, len(values))
	for key, v := range values {
		entries[key] = &Entry{Value: v, StoredAt: now, ExpiresAt: now.Add(c.cfg.DefaultTTL)}
	}
	if c.shared != nil {
		if err := c.shared.SetMultiple(ctx, entries, c.cfg.DefaultTTL); err != nil {
			c.logger.Warn("shared cache mset failed", "error", err)
		}
	}
	_ = c.memory.SetMultiple(ctx, entries, c.cfg.DefaultTTL)
}

// InvalidateAll bumps the key version, orphaning every prior entry.
func (c *Cache) InvalidateAll() {
	v := c.version.Add(1)
	c.logger.Info("cache invalidated", "version", v)
}

// Version returns the current key version.
func (c *Cache) Version() int64 {
	return c.version.Load()
}
