// Package cache provides the offline read cache: a namespaced map of
// application keys to cached payloads with lazy, read-time expiration.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vitalmed/vitalsync/internal/store"
)

const (
	// DefaultTTL is how long an entry stays readable after its last write.
	DefaultTTL = 7 * 24 * time.Hour
	// DefaultMaxEntryBytes is the serialized-size ceiling for a single entry.
	DefaultMaxEntryBytes = 5 * 1024 * 1024
)

var (
	// ErrEntryTooLarge is returned when a payload exceeds the entry ceiling.
	ErrEntryTooLarge = errors.New("cache entry exceeds size limit")
	// ErrNotSerializable is returned when a payload cannot be JSON-encoded.
	ErrNotSerializable = errors.New("cache payload is not serializable")
)

// Cache is the offline read cache. Entries are persisted through the slot
// store on every mutation; a failed save leaves the in-memory state
// untouched.
type Cache struct {
	store         *store.Store
	ttl           time.Duration
	maxEntryBytes int64
	logger        zerolog.Logger

	mu      sync.Mutex
	entries map[string]*store.OfflineEntry
}

// Config holds cache tuning knobs.
type Config struct {
	TTL           time.Duration
	MaxEntryBytes int64
}

// DefaultConfig returns the default cache configuration.
func DefaultConfig() Config {
	return Config{
		TTL:           DefaultTTL,
		MaxEntryBytes: DefaultMaxEntryBytes,
	}
}

// New creates a cache over the slot store, loading any persisted entries.
func New(ctx context.Context, st *store.Store, cfg Config, logger zerolog.Logger) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxEntryBytes <= 0 {
		cfg.MaxEntryBytes = DefaultMaxEntryBytes
	}
	return &Cache{
		store:         st,
		ttl:           cfg.TTL,
		maxEntryBytes: cfg.MaxEntryBytes,
		logger:        logger.With().Str("component", "offline_cache").Logger(),
		entries:       st.LoadCache(ctx),
	}
}

// Put caches a payload under key, replacing any previous entry wholesale.
// The payload must JSON-encode to at most the entry ceiling. On a store
// failure the previous entry is restored.
func (c *Cache) Put(ctx context.Context, key string, data any) error {
	if key == "" {
		return fmt.Errorf("cache key: %w", store.ErrInvalidSlotValue)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotSerializable, err)
	}
	if int64(len(raw)) > c.maxEntryBytes {
		return fmt.Errorf("%w: %d bytes", ErrEntryTooLarge, len(raw))
	}

	entry := &store.OfflineEntry{
		Key:       key,
		Data:      raw,
		Timestamp: time.Now(),
		Synced:    false,
		SizeBytes: int64(len(raw)),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	prev, hadPrev := c.entries[key]
	c.entries[key] = entry
	if err := c.store.SaveCache(ctx, c.entries); err != nil {
		if hadPrev {
			c.entries[key] = prev
		} else {
			delete(c.entries, key)
		}
		return fmt.Errorf("persist cache: %w", err)
	}
	return nil
}

// Get returns the entry for key, or nil if absent or expired. An expired
// entry is deleted as a side effect of the read.
func (c *Cache) Get(ctx context.Context, key string) *store.OfflineEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil
	}
	if c.expired(entry, time.Now()) {
		c.evictLocked(ctx, key)
		return nil
	}
	return entry
}

// MarkSynced flags an entry as confirmed by the remote service.
func (c *Cache) MarkSynced(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok || entry.Synced {
		return nil
	}
	entry.Synced = true
	if err := c.store.SaveCache(ctx, c.entries); err != nil {
		entry.Synced = false
		return fmt.Errorf("persist cache: %w", err)
	}
	return nil
}

// Sweep removes every expired entry and returns the number evicted. Reads
// already evict lazily; Sweep exists for housekeeping on idle clients.
func (c *Cache) Sweep(ctx context.Context) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	evicted := 0
	for key, entry := range c.entries {
		if c.expired(entry, now) {
			delete(c.entries, key)
			evicted++
		}
	}
	if evicted > 0 {
		if err := c.store.SaveCache(ctx, c.entries); err != nil {
			c.logger.Warn().Err(err).Msg("failed to persist cache after sweep")
		}
		c.logger.Debug().Int("evicted", evicted).Msg("swept expired cache entries")
	}
	return evicted
}

// Len returns the number of cached entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// TotalBytes returns the sum of serialized entry sizes.
func (c *Cache) TotalBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var total int64
	for _, entry := range c.entries {
		total += entry.SizeBytes
	}
	return total
}

// Clear drops every entry from memory. The caller is responsible for wiping
// the persisted slot (store.ClearAll).
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*store.OfflineEntry)
}

func (c *Cache) expired(entry *store.OfflineEntry, now time.Time) bool {
	return now.Sub(entry.Timestamp) > c.ttl
}

func (c *Cache) evictLocked(ctx context.Context, key string) {
	delete(c.entries, key)
	if err := c.store.SaveCache(ctx, c.entries); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("failed to persist cache after eviction")
	}
	c.logger.Debug().Str("key", key).Msg("expired cache entry evicted")
}
