package resolver

import (
	"context"
	"strings"

	"github.com/tendant/simple-media/pkg/simplemedia"
	"github.com/tendant/simple-media/pkg/simplemedia/dedup"
	"github.com/tendant/simple-media/pkg/simplemedia/keycache"
	"github.com/tendant/simple-media/pkg/simplemedia/metrics"
)

// Client is the entry point for "give me a URL for this key". Cache hits
// return immediately; misses share one Resolver run per normalized key.
type Client struct {
	cache    *keycache.Cache
	resolver *Resolver
	group    *dedup.Group
	metrics  *metrics.Metrics
}

// NewClient wires a cache and resolver together.
func NewClient(cache *keycache.Cache, resolver *Resolver, m *metrics.Metrics) *Client {
	return &Client{cache: cache, resolver: resolver, group: dedup.New(), metrics: m}
}

// URL returns a renderable URL for key or a *simplemedia.ResolutionError.
func (c *Client) URL(ctx context.Context, key string) (string, error) {
	if simplemedia.IsFullURL(key) {
		return strings.TrimSpace(key), nil
	}
	if entry, ok := c.cache.Get(key); ok {
		return entry.URL, nil
	}

	nk := c.cache.Normalize(key)
	url, shared, err := c.group.Resolve(ctx, nk, func(ctx context.Context) (string, error) {
		res, err := c.resolver.Resolve(ctx, key)
		return res.URL, err
	})
	if shared {
		c.metrics.DedupShared()
	}
	return url, err
}

// Lookup is URL for rendering callers: failure is reported as absence.
func (c *Client) Lookup(ctx context.Context, key string) (string, bool) {
	url, err := c.URL(ctx, key)
	if err != nil || url == "" {
		return "", false
	}
	return url, true
}

// Clear forgets key in every cache tier.
func (c *Client) Clear(ctx context.Context, key string) {
	c.cache.Clear(ctx, key)
}

// ClearAll forgets every key.
func (c *Client) ClearAll(ctx context.Context) {
	c.cache.ClearAll(ctx)
}

// Stats reports cache counters.
func (c *Client) Stats() keycache.Stats {
	return c.cache.Stats()
}

// InFlight reports keys with a pending resolution.
func (c *Client) InFlight() int {
	return c.group.InFlight()
}

// Resolver returns the underlying chain.
func (c *Client) Resolver() *Resolver {
	return c.resolver
}
