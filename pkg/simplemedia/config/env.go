package config

import (
	"fmt"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// envConfig maps environment variables onto ServerConfig. Defaults mirror
// defaults().
type envConfig struct {
	Port        string `env:"PORT" env-default:"8080"`
	Environment string `env:"ENVIRONMENT" env-default:"development"`
	LogLevel    string `env:"LOG_LEVEL" env-default:"info"`
	LogFormat   string `env:"LOG_FORMAT" env-default:"text"`

	DatabaseURL string `env:"MEDIA_DATABASE_URL" env-default:"memory"`
	DBSchema    string `env:"MEDIA_DB_SCHEMA" env-default:"media"`

	StorageURL         string `env:"MEDIA_STORAGE_URL" env-default:"memory://"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`

	SignerType    string `env:"MEDIA_SIGNER" env-default:"auto"`
	SigningSecret string `env:"MEDIA_SIGNING_SECRET"`
	PublicBaseURL string `env:"MEDIA_PUBLIC_BASE_URL"`

	PersistURL     string        `env:"MEDIA_PERSIST_URL"`
	PersistTTL     time.Duration `env:"MEDIA_PERSIST_TTL" env-default:"0s"`
	MaterializeDir string        `env:"MEDIA_MATERIALIZE_DIR"`

	SignTTL        time.Duration `env:"MEDIA_SIGN_TTL" env-default:"1h"`
	SafetyMargin   time.Duration `env:"MEDIA_SIGN_SAFETY_MARGIN" env-default:"1m"`
	ProxiedTTL     time.Duration `env:"MEDIA_PROXIED_TTL" env-default:"30m"`
	LastGoodWindow time.Duration `env:"MEDIA_LAST_GOOD_WINDOW" env-default:"24h"`
	CacheEntries   int           `env:"MEDIA_CACHE_ENTRIES" env-default:"10000"`

	BreakerFailures    uint32        `env:"MEDIA_BREAKER_FAILURES" env-default:"5"`
	BreakerOpenTimeout time.Duration `env:"MEDIA_BREAKER_OPEN_TIMEOUT" env-default:"30s"`

	MaxUploadBytes        int64  `env:"MEDIA_MAX_UPLOAD_BYTES" env-default:"67108864"`
	MaxProxyBytes         int64  `env:"MEDIA_MAX_PROXY_BYTES" env-default:"67108864"`
	GenerationConcurrency int    `env:"MEDIA_GENERATION_CONCURRENCY" env-default:"5"`
	VariantEncoding       string `env:"MEDIA_VARIANT_ENCODING" env-default:"jpeg"`
	JPEGQuality           int    `env:"MEDIA_JPEG_QUALITY" env-default:"90"`

	MetricsEnabled   bool   `env:"MEDIA_METRICS_ENABLED" env-default:"true"`
	MetricsNamespace string `env:"MEDIA_METRICS_NAMESPACE" env-default:"simplemedia"`
}

// WithEnv reads the environment through cleanenv. Every field it covers is
// overwritten, so apply programmatic options after it.
//
// Server:
//
//	PORT, ENVIRONMENT, LOG_LEVEL, LOG_FORMAT
//
// Backends:
//
//	MEDIA_DATABASE_URL - "memory" or "postgresql://..."
//	MEDIA_STORAGE_URL  - "memory://", "file:///path" or "s3://bucket?region=us-east-1"
//	MEDIA_PERSIST_URL  - "", "file:///path/urls.json" or "redis://host:6379/0"
//	MEDIA_SIGNER       - auto, s3, presigned, none
func WithEnv() Option {
	return func(c *ServerConfig) error {
		var env envConfig
		if err := cleanenv.ReadEnv(&env); err != nil {
			return fmt.Errorf("read environment: %w", err)
		}
		env.apply(c)
		return nil
	}
}

func (e envConfig) apply(c *ServerConfig) {
	c.Port = e.Port
	c.Environment = e.Environment
	c.LogLevel = e.LogLevel
	c.LogFormat = e.LogFormat
	c.DatabaseURL = e.DatabaseURL
	c.DBSchema = e.DBSchema
	c.StorageURL = e.StorageURL
	c.AWSAccessKeyID = e.AWSAccessKeyID
	c.AWSSecretAccessKey = e.AWSSecretAccessKey
	c.SignerType = e.SignerType
	c.SigningSecret = e.SigningSecret
	c.PublicBaseURL = e.PublicBaseURL
	c.PersistURL = e.PersistURL
	c.PersistTTL = e.PersistTTL
	c.MaterializeDir = e.MaterializeDir
	c.SignTTL = e.SignTTL
	c.SafetyMargin = e.SafetyMargin
	c.ProxiedTTL = e.ProxiedTTL
	c.LastGoodWindow = e.LastGoodWindow
	c.CacheEntries = e.CacheEntries
	c.BreakerFailures = e.BreakerFailures
	c.BreakerOpenTimeout = e.BreakerOpenTimeout
	c.MaxUploadBytes = e.MaxUploadBytes
	c.MaxProxyBytes = e.MaxProxyBytes
	c.GenerationConcurrency = e.GenerationConcurrency
	c.VariantEncoding = e.VariantEncoding
	c.JPEGQuality = e.JPEGQuality
	c.MetricsEnabled = e.MetricsEnabled
	c.MetricsNamespace = e.MetricsNamespace
}
