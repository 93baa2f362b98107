package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/tendant/simple-media/pkg/simplemedia"
	"github.com/tendant/simple-media/pkg/simplemedia/api"
	"github.com/tendant/simple-media/pkg/simplemedia/backfill"
	"github.com/tendant/simple-media/pkg/simplemedia/keycache"
	"github.com/tendant/simple-media/pkg/simplemedia/metrics"
	filepersist "github.com/tendant/simple-media/pkg/simplemedia/persist/file"
	redispersist "github.com/tendant/simple-media/pkg/simplemedia/persist/redis"
	"github.com/tendant/simple-media/pkg/simplemedia/presigned"
	repomemory "github.com/tendant/simple-media/pkg/simplemedia/repo/memory"
	repopg "github.com/tendant/simple-media/pkg/simplemedia/repo/postgres"
	"github.com/tendant/simple-media/pkg/simplemedia/resolver"
	"github.com/tendant/simple-media/pkg/simplemedia/storage"
	fsstorage "github.com/tendant/simple-media/pkg/simplemedia/storage/fs"
	memorystorage "github.com/tendant/simple-media/pkg/simplemedia/storage/memory"
	s3storage "github.com/tendant/simple-media/pkg/simplemedia/storage/s3"
	"github.com/tendant/simple-media/pkg/simplemedia/upload"
	"github.com/tendant/simple-media/pkg/simplemedia/validation"
	"github.com/tendant/simple-media/pkg/simplemedia/variants"
)

// Server holds every component built from a ServerConfig.
type Server struct {
	Config *ServerConfig

	Store     simplemedia.BlobStore
	Repo      simplemedia.AssetRepository
	Signer    simplemedia.Signer // nil when SignerNone
	Proxy     *storage.ProxyFetcher
	Cache     *keycache.Cache
	Resolver  *resolver.Resolver
	URLs      *resolver.Client
	Validator *validation.Validator
	Generator *variants.Generator
	Uploads   *upload.Coordinator
	Backfill  *backfill.Orchestrator
	Handler   *api.Handler

	Metrics  *metrics.Metrics
	Registry *prometheus.Registry // nil when metrics are disabled

	closers []func()
}

// Close releases database pools and client connections.
func (s *Server) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
	s.closers = nil
}

// BuildServer connects the configured backends and wires the pipeline.
func (c *ServerConfig) BuildServer(ctx context.Context, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	srv := &Server{Config: c}
	ok := false
	defer func() {
		if !ok {
			srv.Close()
		}
	}()

	if c.MetricsEnabled {
		srv.Registry = prometheus.NewRegistry()
		srv.Metrics = metrics.New(c.MetricsNamespace, srv.Registry)
	}

	var err error
	if srv.Repo, err = c.buildRepository(ctx, srv); err != nil {
		return nil, fmt.Errorf("failed to build repository: %w", err)
	}
	if srv.Store, err = c.buildStore(); err != nil {
		return nil, fmt.Errorf("failed to build storage backend: %w", err)
	}

	var fileSigner *presigned.Signer
	switch c.EffectiveSigner() {
	case SignerS3:
		backend, isS3 := srv.Store.(*s3storage.Backend)
		if !isS3 {
			return nil, errors.New("s3 signer requires s3 storage")
		}
		srv.Signer = backend
	case SignerPresigned:
		if c.SigningSecret == "" {
			logger.Warn("no signing secret configured, /files URLs are served unsigned")
		}
		fileSigner = presigned.New(presigned.WithSecretKey(c.SigningSecret), presigned.WithDefaultExpiration(c.SignTTL))
		srv.Signer = presigned.NewStoreSigner(fileSigner, c.PublicBaseURL)
	}
	srv.Proxy = storage.NewProxyFetcher(srv.Store, c.MaxProxyBytes)

	cacheOpts := []keycache.Option{keycache.WithLogger(logger), keycache.WithMetrics(srv.Metrics)}
	persisted, err := c.buildPersistedStore(ctx, srv)
	if err != nil {
		return nil, fmt.Errorf("failed to build persisted store: %w", err)
	}
	if persisted != nil {
		cacheOpts = append(cacheOpts, keycache.WithStore(persisted))
	}
	cacheCfg := keycache.DefaultConfig()
	cacheCfg.SignTTL = c.SignTTL
	cacheCfg.SafetyMargin = c.SafetyMargin
	cacheCfg.ProxiedTTL = c.ProxiedTTL
	cacheCfg.LastGoodWindow = c.LastGoodWindow
	cacheCfg.MaxEntries = c.CacheEntries
	if srv.Cache, err = keycache.New(cacheCfg, cacheOpts...); err != nil {
		return nil, fmt.Errorf("failed to build url cache: %w", err)
	}

	resolverOpts := []resolver.Option{
		resolver.WithProxy(srv.Proxy),
		resolver.WithBreakerConfig(resolver.BreakerConfig{
			FailureThreshold:    c.BreakerFailures,
			OpenTimeout:         c.BreakerOpenTimeout,
			MaxHalfOpenRequests: 1,
		}),
		resolver.WithLogger(logger),
		resolver.WithMetrics(srv.Metrics),
	}
	if srv.Signer != nil {
		resolverOpts = append(resolverOpts, resolver.WithSigner(srv.Signer))
	}
	if c.MaterializeDir != "" {
		resolverOpts = append(resolverOpts, resolver.WithMaterializer(resolver.FileMaterializer{Dir: c.MaterializeDir}))
	}
	srv.Resolver = resolver.New(srv.Cache, resolverOpts...)
	srv.URLs = resolver.NewClient(srv.Cache, srv.Resolver, srv.Metrics)

	srv.Validator = validation.New(validation.WithLogger(logger))
	srv.Generator = variants.New(srv.Store, srv.Repo,
		variants.WithEncoding(variants.Encoding(c.VariantEncoding)),
		variants.WithJPEGQuality(c.JPEGQuality),
		variants.WithConcurrency(c.GenerationConcurrency),
		variants.WithLogger(logger),
		variants.WithMetrics(srv.Metrics),
	)
	srv.Uploads = upload.New(srv.Validator, srv.Store, srv.Repo, srv.Generator,
		upload.WithLogger(logger), upload.WithMetrics(srv.Metrics))
	srv.Backfill = backfill.New(srv.Repo, srv.Store, srv.Generator,
		backfill.WithLogger(logger), backfill.WithMetrics(srv.Metrics))

	handlerOpts := []api.Option{
		api.WithUploads(srv.Uploads),
		api.WithBackfill(srv.Backfill),
		api.WithProxy(srv.Proxy),
		api.WithURLClient(srv.URLs),
		api.WithMaxUploadBytes(c.MaxUploadBytes),
		api.WithLogger(logger),
	}
	if srv.Signer != nil {
		handlerOpts = append(handlerOpts, api.WithSigner(srv.Signer))
	}
	if fileSigner != nil {
		handlerOpts = append(handlerOpts, api.WithFileSigner(fileSigner))
	}
	srv.Handler = api.NewHandler(srv.Repo, srv.Store, handlerOpts...)

	ok = true
	return srv, nil
}

func (c *ServerConfig) buildRepository(ctx context.Context, srv *Server) (simplemedia.AssetRepository, error) {
	if !c.IsPostgres() {
		return repomemory.New(), nil
	}
	cfg, err := pgxpool.ParseConfig(c.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	schema := c.DBSchema
	if schema != "" {
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			_, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s", pgx.Identifier{schema}.Sanitize()))
			return err
		}
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	srv.closers = append(srv.closers, pool.Close)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("database ping failed: %w", err)
	}
	return repopg.NewWithPool(pool), nil
}

func (c *ServerConfig) buildStore() (simplemedia.BlobStore, error) {
	switch c.StorageScheme() {
	case "memory":
		return memorystorage.New(), nil
	case "file":
		return fsstorage.New(fsstorage.Config{BaseDir: strings.TrimPrefix(c.StorageURL, "file://")})
	case "s3":
		cfg, err := c.s3Config()
		if err != nil {
			return nil, err
		}
		return s3storage.New(cfg)
	default:
		return nil, fmt.Errorf("unsupported storage url: %s", c.StorageURL)
	}
}

// s3Config parses s3://bucket?region=&endpoint=&path_style=&sse=.
func (c *ServerConfig) s3Config() (s3storage.Config, error) {
	u, err := url.Parse(c.StorageURL)
	if err != nil {
		return s3storage.Config{}, fmt.Errorf("invalid storage url: %w", err)
	}
	q := u.Query()
	cfg := s3storage.Config{
		Bucket:          u.Host,
		Region:          q.Get("region"),
		Endpoint:        q.Get("endpoint"),
		AccessKeyID:     c.AWSAccessKeyID,
		SecretAccessKey: c.AWSSecretAccessKey,
		PresignDuration: int(c.SignTTL / time.Second),
		SSEAlgorithm:    q.Get("sse"),
		SSEKMSKeyID:     q.Get("kms_key_id"),
	}
	cfg.EnableSSE = cfg.SSEAlgorithm != ""
	if v := q.Get("path_style"); v != "" {
		if cfg.UsePathStyle, err = strconv.ParseBool(v); err != nil {
			return s3storage.Config{}, fmt.Errorf("invalid path_style: %w", err)
		}
	}
	if v := q.Get("create_bucket"); v != "" {
		if cfg.CreateBucketIfNotExist, err = strconv.ParseBool(v); err != nil {
			return s3storage.Config{}, fmt.Errorf("invalid create_bucket: %w", err)
		}
	}
	return cfg, nil
}

func (c *ServerConfig) buildPersistedStore(ctx context.Context, srv *Server) (simplemedia.PersistedStore, error) {
	if c.PersistURL == "" {
		return nil, nil
	}
	scheme, rest, _ := strings.Cut(c.PersistURL, "://")
	switch scheme {
	case "file":
		return filepersist.New(rest)
	case "redis":
		opts, err := goredis.ParseURL(c.PersistURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		client, err := redispersist.NewClient(ctx, redispersist.Config{
			Address:  opts.Addr,
			Password: opts.Password,
			DB:       opts.DB,
		})
		if err != nil {
			return nil, err
		}
		srv.closers = append(srv.closers, func() { client.Close() })
		return redispersist.New(client, redispersist.Config{TTL: c.PersistTTL}), nil
	default:
		return nil, errors.New("unsupported persist url: " + c.PersistURL)
	}
}
