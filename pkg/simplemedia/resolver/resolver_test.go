package resolver

import (
	"context"
	"encoding/base64"
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-media/pkg/simplemedia"
	"github.com/tendant/simple-media/pkg/simplemedia/keycache"
	"github.com/tendant/simple-media/pkg/simplemedia/persist/file"
)

var errBackend = errors.New("backend unavailable")

type fakeSigner struct {
	calls   atomic.Int32
	mu      sync.Mutex
	err     error
	gate    chan struct{}
	lastTTL time.Duration
}

func (s *fakeSigner) Sign(ctx context.Context, key string, ttl time.Duration) (string, error) {
	s.calls.Add(1)
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastTTL = ttl
	if s.err != nil {
		return "", s.err
	}
	return "https://signed.example.com/" + key + "?sig=" + time.Now().Format("150405.000000000"), nil
}

func (s *fakeSigner) setErr(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

type fakeProxy struct {
	calls atomic.Int32
	err   error
}

func (p *fakeProxy) FetchBytes(ctx context.Context, key string) ([]byte, string, error) {
	p.calls.Add(1)
	if p.err != nil {
		return nil, "", p.err
	}
	return []byte("bytes-of-" + key), "image/png", nil
}

type recordingSink struct {
	mu    sync.Mutex
	diags []simplemedia.Diagnostic
}

func (s *recordingSink) Emit(ctx context.Context, d simplemedia.Diagnostic) {
	s.mu.Lock()
	s.diags = append(s.diags, d)
	s.mu.Unlock()
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	client *Client
	cache  *keycache.Cache
	signer *fakeSigner
	proxy  *fakeProxy
	sink   *recordingSink
	clock  *testClock
}

func newFixture(t *testing.T, cacheOpts ...keycache.Option) *fixture {
	t.Helper()
	clk := &testClock{t: time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)}
	cfg := keycache.Config{
		SignTTL:          time.Hour,
		SafetyMargin:     time.Minute,
		ProxiedTTL:       10 * time.Minute,
		RefreshThreshold: 5 * time.Minute,
		LastGoodWindow:   24 * time.Hour,
	}
	cache, err := keycache.New(cfg, append([]keycache.Option{keycache.WithClock(clk.Now)}, cacheOpts...)...)
	require.NoError(t, err)

	f := &fixture{cache: cache, signer: &fakeSigner{}, proxy: &fakeProxy{}, sink: &recordingSink{}, clock: clk}
	r := New(cache,
		WithSigner(f.signer),
		WithProxy(f.proxy),
		WithDiagnosticSink(f.sink),
		WithBreakerConfig(BreakerConfig{FailureThreshold: 100, OpenTimeout: time.Minute}),
		WithClock(clk.Now),
	)
	f.client = NewClient(cache, r, nil)
	return f
}

func TestClient_CacheHitAvoidsNetwork(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first, err := f.client.URL(ctx, "assets/o/avatar/a/small.jpg")
	require.NoError(t, err)
	second, err := f.client.URL(ctx, "assets/o/avatar/a/small.jpg")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), f.signer.calls.Load())
	assert.Equal(t, int32(0), f.proxy.calls.Load())
	assert.Equal(t, time.Hour, f.signer.lastTTL)
}

func TestClient_ConcurrentCallsSignOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.signer.gate = make(chan struct{})

	const callers = 10
	var wg sync.WaitGroup
	urls := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// mixed spellings of one object share a slot
			key := "assets/o/cover/c/large.jpg"
			if i%2 == 1 {
				key = "/storage/v1/object/public/media/assets/o/cover/c/large.jpg"
			}
			urls[i], errs[i] = f.client.URL(ctx, key)
		}(i)
	}

	require.Eventually(t, func() bool { return f.signer.calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(f.signer.gate)
	wg.Wait()

	assert.Equal(t, int32(1), f.signer.calls.Load())
	for i := range urls {
		require.NoError(t, errs[i])
		assert.Equal(t, urls[0], urls[i])
	}
	assert.Equal(t, 0, f.client.InFlight())
}

func TestClient_FallsBackToProxy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.signer.setErr(errBackend)

	got, err := f.client.URL(ctx, "assets/p.png")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(got, "data:image/png;base64,"))
	payload, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(got, "data:image/png;base64,"))
	require.NoError(t, err)
	assert.Equal(t, "bytes-of-assets/p.png", string(payload))

	entry, ok := f.cache.Get("assets/p.png")
	require.True(t, ok)
	assert.Equal(t, simplemedia.SourceProxied, entry.SourceType)

	again, err := f.client.URL(ctx, "assets/p.png")
	require.NoError(t, err)
	assert.Equal(t, got, again)
	assert.Equal(t, int32(1), f.signer.calls.Load())
	assert.Equal(t, int32(1), f.proxy.calls.Load())
}

func TestClient_StaleEntryTriggersFreshResolution(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.client.URL(ctx, "k.jpg")
	require.NoError(t, err)

	f.clock.Advance(55 * time.Minute) // 4m left of 59m, inside the 5m threshold
	_, err = f.client.URL(ctx, "k.jpg")
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.signer.calls.Load())
}

func TestClient_LegacyURLPassthrough(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	got, err := f.client.URL(ctx, "https://example.com/x.png")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/x.png", got)

	res, err := f.client.Resolver().Resolve(ctx, "https://example.com/x.png")
	require.NoError(t, err)
	assert.Equal(t, simplemedia.SourceLegacy, res.Source)

	assert.Equal(t, int32(0), f.signer.calls.Load())
	assert.Equal(t, int32(0), f.proxy.calls.Load())
}

func TestResolver_LastGoodFallback(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	good, err := f.client.URL(ctx, "k.jpg")
	require.NoError(t, err)

	f.clock.Advance(2 * time.Hour) // primary entry expired, last-good still inside 24h
	f.signer.setErr(errBackend)
	f.proxy.err = errBackend

	res, err := f.client.Resolver().Resolve(ctx, "k.jpg")
	require.NoError(t, err)
	assert.Equal(t, "last_good", res.Level)
	assert.Equal(t, good, res.URL)

	_, ok := f.cache.Get("k.jpg")
	assert.False(t, ok, "fallback values are not re-cached as fresh")
	assert.Empty(t, f.sink.diags)
}

func TestResolver_PersistedFallback(t *testing.T) {
	ctx := context.Background()
	store, err := file.New(filepath.Join(t.TempDir(), "urls.json"))
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, "k.jpg", simplemedia.PersistedEntry{
		URL: "https://signed.example.com/k.jpg?old", SourceType: simplemedia.SourceSigned, ObservedAt: time.Now(),
	}))

	f := newFixture(t, keycache.WithStore(store))
	f.signer.setErr(errBackend)
	f.proxy.err = errBackend

	res, err := f.client.Resolver().Resolve(ctx, "/k.jpg")
	require.NoError(t, err)
	assert.Equal(t, "persisted", res.Level)
	assert.Equal(t, "https://signed.example.com/k.jpg?old", res.URL)
}

func TestResolver_TotalFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.signer.setErr(errBackend)
	f.proxy.err = errBackend

	_, err := f.client.URL(ctx, "public/media/missing.jpg")
	require.Error(t, err)
	assert.ErrorIs(t, err, simplemedia.ErrResolution)
	assert.ErrorIs(t, err, errBackend)

	var rerr *simplemedia.ResolutionError
	require.True(t, errors.As(err, &rerr))
	assert.Equal(t, "missing.jpg", rerr.NormalizedKey)

	require.Len(t, f.sink.diags, 1)
	assert.Equal(t, "public/media/missing.jpg", f.sink.diags[0].Key)
	assert.Equal(t, "missing.jpg", f.sink.diags[0].NormalizedKey)

	_, ok := f.client.Lookup(ctx, "public/media/missing.jpg")
	assert.False(t, ok)

	_, ok = f.cache.Get("missing.jpg")
	assert.False(t, ok, "failures never write the cache")
}

func TestResolver_EmptyKeyEmitsDiagnostic(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	_, err := f.client.URL(ctx, "public/media/")
	require.Error(t, err)
	assert.ErrorIs(t, err, simplemedia.ErrResolution)
	assert.ErrorIs(t, err, simplemedia.ErrNotFound)

	require.Len(t, f.sink.diags, 1)
	assert.Equal(t, "public/media/", f.sink.diags[0].Key)
	assert.Empty(t, f.sink.diags[0].NormalizedKey)
	assert.Zero(t, f.proxy.calls.Load())
}

func TestResolver_FailureDoesNotOverwriteValidEntry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	good, err := f.client.URL(ctx, "k.jpg")
	require.NoError(t, err)

	f.signer.setErr(errBackend)
	f.proxy.err = errBackend
	_, _ = f.client.Resolver().Resolve(ctx, "k.jpg")

	entry, ok := f.cache.Get("k.jpg")
	require.True(t, ok)
	assert.Equal(t, good, entry.URL)
}

func TestResolver_OpenBreakerSkipsSigner(t *testing.T) {
	ctx := context.Background()
	cache, err := keycache.New(keycache.Config{})
	require.NoError(t, err)
	signer := &fakeSigner{err: errBackend}
	proxy := &fakeProxy{}
	r := New(cache, WithSigner(signer), WithProxy(proxy),
		WithBreakerConfig(BreakerConfig{FailureThreshold: 2, OpenTimeout: time.Hour}))

	for i := 0; i < 4; i++ {
		cache.ClearAll(ctx)
		res, err := r.Resolve(ctx, "k.jpg")
		require.NoError(t, err)
		assert.Equal(t, "proxied", res.Level)
	}
	assert.Equal(t, int32(2), signer.calls.Load())
	assert.Equal(t, gobreaker.StateOpen.String(), r.BreakerStates()["signer"])
}

func TestResolver_NoSignerConfigured(t *testing.T) {
	cache, err := keycache.New(keycache.Config{})
	require.NoError(t, err)
	r := New(cache, WithProxy(&fakeProxy{}))

	res, err := r.Resolve(context.Background(), "k.jpg")
	require.NoError(t, err)
	assert.Equal(t, simplemedia.SourceProxied, res.Source)
}

func TestFileMaterializer(t *testing.T) {
	dir := t.TempDir()
	m := FileMaterializer{Dir: dir}

	got, err := m.Materialize(context.Background(), "assets/a.png", []byte("png-bytes"), "image/png")
	require.NoError(t, err)

	u, err := url.Parse(got)
	require.NoError(t, err)
	assert.Equal(t, "file", u.Scheme)
	assert.Equal(t, ".png", filepath.Ext(u.Path))

	data, err := os.ReadFile(filepath.FromSlash(u.Path))
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(data))

	again, err := m.Materialize(context.Background(), "assets/a.png", []byte("v2"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, got, again)
}
