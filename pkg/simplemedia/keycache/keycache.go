// Package keycache maps normalized storage keys to resolved URLs.
//
// Three tiers back each key: the primary cache (TTL per source type), a
// last-good table kept for a longer window, and an optional persisted store
// that survives restarts. Only Put writes to them, so a failed resolution
// never replaces a good value.
package keycache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/tendant/simple-media/pkg/simplemedia"
	"github.com/tendant/simple-media/pkg/simplemedia/metrics"
)

// Config holds cache lifetimes.
type Config struct {
	// SignTTL is the lifetime requested from the signing service.
	SignTTL time.Duration

	// SafetyMargin is subtracted from SignTTL so a cached signed URL expires
	// before the URL itself does.
	SafetyMargin time.Duration

	// ProxiedTTL bounds how long a materialized blob reference is served.
	ProxiedTTL time.Duration

	// RefreshThreshold marks an entry stale once it is this close to expiry.
	RefreshThreshold time.Duration

	// LastGoodWindow is how long a last-good value remains usable.
	LastGoodWindow time.Duration

	// MaxEntries bounds the primary and last-good tables each.
	MaxEntries int
}

// DefaultConfig returns the standard lifetimes.
func DefaultConfig() Config {
	return Config{
		SignTTL:          time.Hour,
		SafetyMargin:     time.Minute,
		ProxiedTTL:       30 * time.Minute,
		RefreshThreshold: 5 * time.Minute,
		LastGoodWindow:   24 * time.Hour,
		MaxEntries:       10000,
	}
}

// Stats is a point-in-time snapshot of cache activity.
type Stats struct {
	Entries  int    `json:"entries"`
	LastGood int    `json:"last_good"`
	Hits     uint64 `json:"hits"`
	Misses   uint64 `json:"misses"`
	Stale    uint64 `json:"stale"`
	Puts     uint64 `json:"puts"`
}

// Cache is the key cache. Safe for concurrent use.
type Cache struct {
	cfg        Config
	normalizer *simplemedia.KeyNormalizer
	entries    *lru.Cache[string, simplemedia.CacheEntry]
	lastGood   *lru.Cache[string, simplemedia.LastGoodEntry]
	store      simplemedia.PersistedStore
	now        func() time.Time
	logger     *slog.Logger
	metrics    *metrics.Metrics

	hits, misses, stale, puts atomic.Uint64
}

// Option configures a Cache
type Option func(*Cache)

// WithStore enables the persisted tier.
func WithStore(store simplemedia.PersistedStore) Option {
	return func(c *Cache) {
		c.store = store
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// WithNormalizer overrides key normalization.
func WithNormalizer(n *simplemedia.KeyNormalizer) Option {
	return func(c *Cache) {
		c.normalizer = n
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// WithMetrics records lookups and writes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) {
		c.metrics = m
	}
}

// New creates a Cache. Zero lifetimes and sizes take their defaults; a zero
// SafetyMargin or RefreshThreshold means none.
func New(cfg Config, opts ...Option) (*Cache, error) {
	def := DefaultConfig()
	if cfg.SignTTL <= 0 {
		cfg.SignTTL = def.SignTTL
	}
	if cfg.SafetyMargin < 0 || cfg.SafetyMargin >= cfg.SignTTL {
		return nil, fmt.Errorf("keycache: safety margin %s must be below sign ttl %s", cfg.SafetyMargin, cfg.SignTTL)
	}
	if cfg.ProxiedTTL <= 0 {
		cfg.ProxiedTTL = def.ProxiedTTL
	}
	if cfg.RefreshThreshold < 0 {
		cfg.RefreshThreshold = 0
	}
	if cfg.LastGoodWindow <= 0 {
		cfg.LastGoodWindow = def.LastGoodWindow
	}
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = def.MaxEntries
	}

	entries, err := lru.New[string, simplemedia.CacheEntry](cfg.MaxEntries)
	if err != nil {
		return nil, fmt.Errorf("keycache: %w", err)
	}
	lastGood, err := lru.New[string, simplemedia.LastGoodEntry](cfg.MaxEntries)
	if err != nil {
		return nil, fmt.Errorf("keycache: %w", err)
	}

	c := &Cache{
		cfg:        cfg,
		normalizer: simplemedia.NewKeyNormalizer(nil),
		entries:    entries,
		lastGood:   lastGood,
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Config returns the effective configuration.
func (c *Cache) Config() Config {
	return c.cfg
}

// Normalize returns the slot a key is cached under.
func (c *Cache) Normalize(key string) string {
	return c.normalizer.Normalize(key)
}

// Get returns a servable entry for key. Stale and expired entries are
// misses. Full URLs always hit as permanent legacy entries.
func (c *Cache) Get(key string) (simplemedia.CacheEntry, bool) {
	if simplemedia.IsFullURL(key) {
		c.metrics.CacheLookup("legacy")
		return simplemedia.CacheEntry{URL: c.normalizer.Normalize(key), SourceType: simplemedia.SourceLegacy}, true
	}

	nk := c.normalizer.Normalize(key)
	entry, ok := c.entries.Get(nk)
	if !ok {
		c.misses.Add(1)
		c.metrics.CacheLookup("miss")
		return simplemedia.CacheEntry{}, false
	}
	if !c.IsValid(entry) {
		if c.expired(entry) {
			c.entries.Remove(nk)
		}
		c.stale.Add(1)
		c.metrics.CacheLookup("stale")
		return simplemedia.CacheEntry{}, false
	}
	c.hits.Add(1)
	c.metrics.CacheLookup("hit")
	return entry, true
}

// IsValid reports whether entry may be served without refreshing: permanent,
// or more than RefreshThreshold away from expiry.
func (c *Cache) IsValid(entry simplemedia.CacheEntry) bool {
	if entry.Permanent() {
		return true
	}
	return entry.ExpiresAt.Sub(c.now()) > c.cfg.RefreshThreshold
}

func (c *Cache) expired(entry simplemedia.CacheEntry) bool {
	return !entry.Permanent() && c.now().After(entry.ExpiresAt)
}

// TTL returns the primary cache lifetime for a source type. Zero means
// permanent.
func (c *Cache) TTL(source simplemedia.SourceType) time.Duration {
	switch source {
	case simplemedia.SourceSigned:
		return c.cfg.SignTTL - c.cfg.SafetyMargin
	case simplemedia.SourceProxied:
		return c.cfg.ProxiedTTL
	}
	return 0
}

// Put records a successful resolution in every tier. Persistence failures
// are logged and otherwise ignored.
func (c *Cache) Put(ctx context.Context, key, url string, source simplemedia.SourceType) simplemedia.CacheEntry {
	now := c.now()
	nk := c.normalizer.Normalize(key)

	entry := simplemedia.CacheEntry{URL: url, SourceType: source}
	if ttl := c.TTL(source); ttl > 0 {
		entry.ExpiresAt = now.Add(ttl)
	}
	c.entries.Add(nk, entry)
	c.lastGood.Add(nk, simplemedia.LastGoodEntry{URL: url, SourceType: source, ObservedAt: now})
	c.puts.Add(1)
	c.metrics.CachePut(string(source))

	if c.store != nil {
		record := simplemedia.PersistedEntry{URL: url, SourceType: source, ObservedAt: now}
		if err := c.store.Save(ctx, nk, record); err != nil {
			c.logger.WarnContext(ctx, "failed to persist resolved url", "key", nk, "err", err)
		}
	}
	return entry
}

// LastGood returns the last successful value for key while it is within
// LastGoodWindow.
func (c *Cache) LastGood(key string) (simplemedia.LastGoodEntry, bool) {
	nk := c.normalizer.Normalize(key)
	entry, ok := c.lastGood.Get(nk)
	if !ok {
		return simplemedia.LastGoodEntry{}, false
	}
	if c.now().Sub(entry.ObservedAt) > c.cfg.LastGoodWindow {
		c.lastGood.Remove(nk)
		return simplemedia.LastGoodEntry{}, false
	}
	return entry, true
}

// Persisted loads the durable record for key. Store errors read as absent.
func (c *Cache) Persisted(ctx context.Context, key string) (simplemedia.PersistedEntry, bool) {
	if c.store == nil {
		return simplemedia.PersistedEntry{}, false
	}
	nk := c.normalizer.Normalize(key)
	record, err := c.store.Load(ctx, nk)
	if err != nil {
		if !errors.Is(err, simplemedia.ErrNotFound) {
			c.logger.WarnContext(ctx, "failed to load persisted url", "key", nk, "err", err)
		}
		return simplemedia.PersistedEntry{}, false
	}
	if record == nil || record.URL == "" {
		return simplemedia.PersistedEntry{}, false
	}
	return *record, true
}

// Clear drops key from every tier.
func (c *Cache) Clear(ctx context.Context, key string) {
	nk := c.normalizer.Normalize(key)
	c.entries.Remove(nk)
	c.lastGood.Remove(nk)
	if c.store != nil {
		if err := c.store.Delete(ctx, nk); err != nil && !errors.Is(err, simplemedia.ErrNotFound) {
			c.logger.WarnContext(ctx, "failed to delete persisted url", "key", nk, "err", err)
		}
	}
}

// ClearAll empties every tier.
func (c *Cache) ClearAll(ctx context.Context) {
	c.entries.Purge()
	c.lastGood.Purge()
	if c.store != nil {
		if err := c.store.Clear(ctx); err != nil {
			c.logger.WarnContext(ctx, "failed to clear persisted urls", "err", err)
		}
	}
}

// Stats returns counters and table sizes.
func (c *Cache) Stats() Stats {
	return Stats{
		Entries:  c.entries.Len(),
		LastGood: c.lastGood.Len(),
		Hits:     c.hits.Load(),
		Misses:   c.misses.Load(),
		Stale:    c.stale.Load(),
		Puts:     c.puts.Load(),
	}
}
