package keycache

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-media/pkg/simplemedia"
	"github.com/tendant/simple-media/pkg/simplemedia/persist/file"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func testConfig() Config {
	return Config{
		SignTTL:          time.Hour,
		SafetyMargin:     time.Minute,
		ProxiedTTL:       10 * time.Minute,
		RefreshThreshold: 5 * time.Minute,
		LastGoodWindow:   24 * time.Hour,
		MaxEntries:       100,
	}
}

func TestCache_PutGet(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	c, err := New(testConfig(), WithClock(clk.Now))
	require.NoError(t, err)

	_, ok := c.Get("assets/a.jpg")
	assert.False(t, ok)

	entry := c.Put(ctx, "assets/a.jpg", "https://signed/a", simplemedia.SourceSigned)
	assert.Equal(t, clk.Now().Add(59*time.Minute), entry.ExpiresAt)

	got, ok := c.Get("assets/a.jpg")
	require.True(t, ok)
	assert.Equal(t, "https://signed/a", got.URL)
	assert.Equal(t, simplemedia.SourceSigned, got.SourceType)

	stats := c.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, uint64(1), stats.Puts)
	assert.Equal(t, 1, stats.Entries)
}

func TestCache_NormalizedSlots(t *testing.T) {
	ctx := context.Background()
	c, err := New(testConfig())
	require.NoError(t, err)

	c.Put(ctx, "/storage/v1/object/public/media/assets/a.jpg?token=1", "https://signed/a", simplemedia.SourceSigned)

	for _, k := range []string{"assets/a.jpg", "/assets/a.jpg", " public/media/assets/a.jpg ", "storage/v1/object/sign/media/assets/a.jpg"} {
		got, ok := c.Get(k)
		require.True(t, ok, k)
		assert.Equal(t, "https://signed/a", got.URL)
	}
	assert.Equal(t, 1, c.Stats().Entries)
}

func TestCache_StaleWithinRefreshThreshold(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	c, err := New(testConfig(), WithClock(clk.Now))
	require.NoError(t, err)

	c.Put(ctx, "k", "https://signed/k", simplemedia.SourceSigned)

	clk.Advance(53 * time.Minute) // 6m left
	_, ok := c.Get("k")
	assert.True(t, ok)

	clk.Advance(2 * time.Minute) // 4m left
	entry, ok := c.Get("k")
	assert.False(t, ok)
	assert.Empty(t, entry.URL)
	assert.Equal(t, uint64(1), c.Stats().Stale)

	// the stale value is still the last-good value
	lg, ok := c.LastGood("k")
	require.True(t, ok)
	assert.Equal(t, "https://signed/k", lg.URL)
}

func TestCache_IsValid(t *testing.T) {
	clk := newClock()
	c, err := New(testConfig(), WithClock(clk.Now))
	require.NoError(t, err)

	assert.True(t, c.IsValid(simplemedia.CacheEntry{URL: "x"}))
	assert.True(t, c.IsValid(simplemedia.CacheEntry{ExpiresAt: clk.Now().Add(6 * time.Minute)}))
	assert.False(t, c.IsValid(simplemedia.CacheEntry{ExpiresAt: clk.Now().Add(5 * time.Minute)}))
	assert.False(t, c.IsValid(simplemedia.CacheEntry{ExpiresAt: clk.Now().Add(-time.Second)}))
}

func TestCache_ProxiedTTL(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	c, err := New(testConfig(), WithClock(clk.Now))
	require.NoError(t, err)

	entry := c.Put(ctx, "k", "data:image/png;base64,AA==", simplemedia.SourceProxied)
	assert.Equal(t, clk.Now().Add(10*time.Minute), entry.ExpiresAt)

	clk.Advance(11 * time.Minute)
	_, ok := c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Stats().Entries, "expired entries are evicted")
}

func TestCache_LegacyURLAlwaysHits(t *testing.T) {
	clk := newClock()
	c, err := New(testConfig(), WithClock(clk.Now))
	require.NoError(t, err)

	got, ok := c.Get(" https://example.com/x.png ")
	require.True(t, ok)
	assert.Equal(t, "https://example.com/x.png", got.URL)
	assert.Equal(t, simplemedia.SourceLegacy, got.SourceType)
	assert.True(t, got.Permanent())

	clk.Advance(1000 * time.Hour)
	_, ok = c.Get("https://example.com/x.png")
	assert.True(t, ok)
}

func TestCache_LastGoodWindow(t *testing.T) {
	ctx := context.Background()
	clk := newClock()
	c, err := New(testConfig(), WithClock(clk.Now))
	require.NoError(t, err)

	c.Put(ctx, "k", "https://signed/k", simplemedia.SourceSigned)

	clk.Advance(23 * time.Hour)
	_, ok := c.LastGood("k")
	assert.True(t, ok)

	clk.Advance(2 * time.Hour)
	_, ok = c.LastGood("k")
	assert.False(t, ok)
}

func TestCache_PersistedTier(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "urls.json")
	store, err := file.New(path)
	require.NoError(t, err)

	c, err := New(testConfig(), WithStore(store))
	require.NoError(t, err)
	c.Put(ctx, "/assets/a.jpg", "https://signed/a", simplemedia.SourceSigned)

	// a fresh process only has the durable record
	reopened, err := file.New(path)
	require.NoError(t, err)
	fresh, err := New(testConfig(), WithStore(reopened))
	require.NoError(t, err)

	_, ok := fresh.Get("assets/a.jpg")
	assert.False(t, ok)
	_, ok = fresh.LastGood("assets/a.jpg")
	assert.False(t, ok)
	rec, ok := fresh.Persisted(ctx, "assets/a.jpg")
	require.True(t, ok)
	assert.Equal(t, "https://signed/a", rec.URL)
	assert.Equal(t, simplemedia.SourceSigned, rec.SourceType)
}

func TestCache_Clear(t *testing.T) {
	ctx := context.Background()
	store, err := file.New(filepath.Join(t.TempDir(), "urls.json"))
	require.NoError(t, err)
	c, err := New(testConfig(), WithStore(store))
	require.NoError(t, err)

	c.Put(ctx, "a", "u1", simplemedia.SourceSigned)
	c.Put(ctx, "b", "u2", simplemedia.SourceSigned)

	c.Clear(ctx, "a")
	_, ok := c.Get("a")
	assert.False(t, ok)
	_, ok = c.LastGood("a")
	assert.False(t, ok)
	_, ok = c.Persisted(ctx, "a")
	assert.False(t, ok)
	_, ok = c.Get("b")
	assert.True(t, ok)

	c.ClearAll(ctx)
	_, ok = c.Get("b")
	assert.False(t, ok)
	_, ok = c.Persisted(ctx, "b")
	assert.False(t, ok)
	assert.Equal(t, 0, store.Len())
}

type failingStore struct{}

func (failingStore) Load(context.Context, string) (*simplemedia.PersistedEntry, error) {
	return nil, errors.New("disk on fire")
}
func (failingStore) Save(context.Context, string, simplemedia.PersistedEntry) error {
	return errors.New("disk on fire")
}
func (failingStore) Delete(context.Context, string) error { return errors.New("disk on fire") }
func (failingStore) Clear(context.Context) error          { return errors.New("disk on fire") }

func TestCache_PersistenceErrorsAreSwallowed(t *testing.T) {
	ctx := context.Background()
	c, err := New(testConfig(), WithStore(failingStore{}))
	require.NoError(t, err)

	c.Put(ctx, "k", "u", simplemedia.SourceSigned)
	_, ok := c.Get("k")
	assert.True(t, ok)
	_, ok = c.Persisted(ctx, "k")
	assert.False(t, ok)
	assert.NotPanics(t, func() {
		c.Clear(ctx, "k")
		c.ClearAll(ctx)
	})
}

func TestNew_RejectsMarginAboveTTL(t *testing.T) {
	_, err := New(Config{SignTTL: time.Minute, SafetyMargin: 2 * time.Minute})
	assert.Error(t, err)

	c, err := New(Config{})
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().SignTTL, c.Config().SignTTL)
	assert.Equal(t, time.Duration(0), c.TTL(simplemedia.SourceLegacy))
}

func TestCache_ConcurrentAccess(t *testing.T) {
	ctx := context.Background()
	c, err := New(testConfig())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := []string{"a", "b", "c"}[i%3]
			c.Put(ctx, key, "u", simplemedia.SourceSigned)
			c.Get(key)
			c.LastGood(key)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 3, c.Stats().Entries)
}
