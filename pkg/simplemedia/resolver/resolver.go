// Package resolver turns storage keys into renderable URLs.
//
// On a cache miss the Resolver walks a fixed chain and stops at the first
// success:
//
//  1. signed URL from the signing service (cached as signed)
//  2. proxied bytes, materialized locally (cached as proxied)
//  3. last-good value within its window (returned, not re-cached)
//  4. persisted value (returned, not re-cached)
//
// Step 2 starts only after step 1 fails. When every step fails the caller
// gets a *simplemedia.ResolutionError and a diagnostic is emitted.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/tendant/simple-media/pkg/simplemedia"
	"github.com/tendant/simple-media/pkg/simplemedia/keycache"
	"github.com/tendant/simple-media/pkg/simplemedia/metrics"
)

// Resolution is the outcome of one walk of the chain.
type Resolution struct {
	URL    string
	Source simplemedia.SourceType

	// Level names the step that answered: signed, proxied, last_good,
	// persisted or legacy.
	Level string
}

type fetched struct {
	data        []byte
	contentType string
}

// Resolver walks the fallback chain.
type Resolver struct {
	cache        *keycache.Cache
	signer       simplemedia.Signer
	proxy        simplemedia.ProxyFetcher
	materializer simplemedia.BlobMaterializer
	sink         simplemedia.DiagnosticSink
	breakerCfg   BreakerConfig
	signBreaker  *gobreaker.CircuitBreaker[string]
	proxyBreaker *gobreaker.CircuitBreaker[fetched]
	logger       *slog.Logger
	metrics      *metrics.Metrics
	now          func() time.Time
}

// Option configures a Resolver
type Option func(*Resolver)

// WithSigner sets the signing service.
func WithSigner(s simplemedia.Signer) Option {
	return func(r *Resolver) {
		r.signer = s
	}
}

// WithProxy sets the proxy-fetch service.
func WithProxy(p simplemedia.ProxyFetcher) Option {
	return func(r *Resolver) {
		r.proxy = p
	}
}

// WithMaterializer sets how proxied bytes become a URL. Default is a data: URL.
func WithMaterializer(m simplemedia.BlobMaterializer) Option {
	return func(r *Resolver) {
		r.materializer = m
	}
}

// WithDiagnosticSink receives total-failure signals. Default logs them.
func WithDiagnosticSink(s simplemedia.DiagnosticSink) Option {
	return func(r *Resolver) {
		r.sink = s
	}
}

// WithBreakerConfig tunes the per-backend circuit breakers.
func WithBreakerConfig(cfg BreakerConfig) Option {
	return func(r *Resolver) {
		r.breakerCfg = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// WithMetrics records outcomes and breaker states.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Resolver) {
		r.metrics = m
	}
}

// WithClock overrides the time source used in diagnostics.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		r.now = now
	}
}

// New creates a Resolver writing successes into cache.
func New(cache *keycache.Cache, opts ...Option) *Resolver {
	r := &Resolver{
		cache:        cache,
		materializer: DataURLMaterializer{},
		breakerCfg:   DefaultBreakerConfig(),
		logger:       slog.Default(),
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.sink == nil {
		r.sink = LogSink{Logger: r.logger}
	}
	r.signBreaker = newBreaker[string]("signer", r.breakerCfg, r.metrics)
	r.proxyBreaker = newBreaker[fetched]("proxy", r.breakerCfg, r.metrics)
	return r
}

// Resolve walks the chain for key. Legacy full URLs are returned as-is
// without touching either backend.
func (r *Resolver) Resolve(ctx context.Context, key string) (Resolution, error) {
	start := time.Now()
	if simplemedia.IsFullURL(key) {
		return Resolution{URL: strings.TrimSpace(key), Source: simplemedia.SourceLegacy, Level: "legacy"}, nil
	}

	nk := r.cache.Normalize(key)
	if nk == "" {
		return Resolution{}, r.fail(ctx, key, nk, start, fmt.Errorf("empty key: %w", simplemedia.ErrNotFound))
	}

	signed, signErr := r.sign(ctx, nk)
	if signErr == nil {
		r.cache.Put(ctx, key, signed, simplemedia.SourceSigned)
		return r.done("signed", start, Resolution{URL: signed, Source: simplemedia.SourceSigned, Level: "signed"}), nil
	}
	r.logger.DebugContext(ctx, "signed url unavailable, trying proxy", "key", nk, "err", signErr)

	proxied, proxyErr := r.fetchProxied(ctx, nk)
	if proxyErr == nil {
		r.cache.Put(ctx, key, proxied, simplemedia.SourceProxied)
		return r.done("proxied", start, Resolution{URL: proxied, Source: simplemedia.SourceProxied, Level: "proxied"}), nil
	}
	r.logger.DebugContext(ctx, "proxy fetch failed, falling back to stored values", "key", nk, "err", proxyErr)

	if lg, ok := r.cache.LastGood(key); ok {
		return r.done("last_good", start, Resolution{URL: lg.URL, Source: lg.SourceType, Level: "last_good"}), nil
	}
	if rec, ok := r.cache.Persisted(ctx, key); ok {
		return r.done("persisted", start, Resolution{URL: rec.URL, Source: rec.SourceType, Level: "persisted"}), nil
	}

	cause := errors.Join(
		fmt.Errorf("sign: %w", signErr),
		fmt.Errorf("proxy: %w", proxyErr),
	)
	return Resolution{}, r.fail(ctx, key, nk, start, cause)
}

// fail emits the diagnostic for a key nothing could resolve.
func (r *Resolver) fail(ctx context.Context, key, nk string, start time.Time, cause error) error {
	r.sink.Emit(ctx, simplemedia.Diagnostic{Key: key, NormalizedKey: nk, Cause: cause.Error(), At: r.now()})
	r.metrics.Resolution("failed", time.Since(start))
	return &simplemedia.ResolutionError{Key: key, NormalizedKey: nk, Err: cause}
}

func (r *Resolver) done(level string, start time.Time, res Resolution) Resolution {
	r.metrics.Resolution(level, time.Since(start))
	return res
}

func (r *Resolver) sign(ctx context.Context, key string) (string, error) {
	if r.signer == nil {
		return "", simplemedia.ErrNoSigner
	}
	ttl := r.cache.Config().SignTTL
	url, err := r.signBreaker.Execute(func() (string, error) {
		return r.signer.Sign(ctx, key, ttl)
	})
	if err != nil {
		return "", err
	}
	if url == "" {
		return "", errors.New("signer returned an empty url")
	}
	return url, nil
}

func (r *Resolver) fetchProxied(ctx context.Context, key string) (string, error) {
	if r.proxy == nil {
		return "", errors.New("no proxy configured")
	}
	blob, err := r.proxyBreaker.Execute(func() (fetched, error) {
		data, contentType, err := r.proxy.FetchBytes(ctx, key)
		return fetched{data: data, contentType: contentType}, err
	})
	if err != nil {
		return "", err
	}
	if len(blob.data) == 0 {
		return "", errors.New("proxy returned no content")
	}
	return r.materializer.Materialize(ctx, key, blob.data, blob.contentType)
}

// BreakerStates reports the current signer and proxy breaker states.
func (r *Resolver) BreakerStates() map[string]string {
	return map[string]string{
		"signer": r.signBreaker.State().String(),
		"proxy":  r.proxyBreaker.State().String(),
	}
}
