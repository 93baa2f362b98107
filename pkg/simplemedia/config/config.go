package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Option applies configuration to a ServerConfig instance.
type Option func(*ServerConfig) error

// Load constructs a ServerConfig by applying the supplied options on top of
// library defaults, then validates it.
func Load(opts ...Option) (*ServerConfig, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func defaults() ServerConfig {
	return ServerConfig{
		Port:        "8080",
		Environment: "development",
		LogLevel:    "info",
		LogFormat:   "text",

		DatabaseURL: "memory",
		DBSchema:    "media",
		StorageURL:  "memory://",
		SignerType:  SignerAuto,

		SignTTL:        time.Hour,
		SafetyMargin:   time.Minute,
		ProxiedTTL:     30 * time.Minute,
		LastGoodWindow: 24 * time.Hour,
		CacheEntries:   10000,

		BreakerFailures:    5,
		BreakerOpenTimeout: 30 * time.Second,

		MaxUploadBytes:        64 << 20,
		MaxProxyBytes:         64 << 20,
		GenerationConcurrency: 5,
		VariantEncoding:       "jpeg",
		JPEGQuality:           90,

		MetricsEnabled:   true,
		MetricsNamespace: "simplemedia",
	}
}

// Signer types.
const (
	SignerAuto      = "auto"
	SignerS3        = "s3"
	SignerPresigned = "presigned"
	SignerNone      = "none"
)

// ServerConfig is the configuration of a media server and the CLI.
type ServerConfig struct {
	Port        string
	Environment string // development, production, testing
	LogLevel    string // debug, info, warn, error
	LogFormat   string // text, json

	// DatabaseURL is "memory" or a postgres:// connection string.
	DatabaseURL string
	DBSchema    string

	// StorageURL is "memory://", "file:///dir" or
	// "s3://bucket?region=&endpoint=&path_style=true".
	StorageURL         string
	AWSAccessKeyID     string
	AWSSecretAccessKey string

	// SignerType picks the URL signer. auto uses S3 presigning for s3
	// storage and HMAC-signed /files URLs otherwise.
	SignerType    string
	SigningSecret string
	PublicBaseURL string

	// PersistURL selects the durable URL record store: empty for none,
	// "file:///path.json" or "redis://[:password@]host:port/db".
	PersistURL string
	PersistTTL time.Duration

	// MaterializeDir holds proxied bytes as files; empty yields data: URLs.
	MaterializeDir string

	SignTTL        time.Duration
	SafetyMargin   time.Duration
	ProxiedTTL     time.Duration
	LastGoodWindow time.Duration
	CacheEntries   int

	BreakerFailures    uint32
	BreakerOpenTimeout time.Duration

	MaxUploadBytes        int64
	MaxProxyBytes         int64
	GenerationConcurrency int
	VariantEncoding       string // jpeg, png
	JPEGQuality           int

	MetricsEnabled   bool
	MetricsNamespace string
}

// IsPostgres reports whether assets live in Postgres.
func (c *ServerConfig) IsPostgres() bool {
	return strings.HasPrefix(c.DatabaseURL, "postgres://") || strings.HasPrefix(c.DatabaseURL, "postgresql://")
}

// StorageScheme returns the scheme of StorageURL.
func (c *ServerConfig) StorageScheme() string {
	scheme, _, _ := strings.Cut(c.StorageURL, "://")
	return scheme
}

// EffectiveSigner resolves SignerAuto.
func (c *ServerConfig) EffectiveSigner() string {
	if c.SignerType != SignerAuto {
		return c.SignerType
	}
	if c.StorageScheme() == "s3" {
		return SignerS3
	}
	return SignerPresigned
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}
	if c.DatabaseURL != "memory" && !c.IsPostgres() {
		return fmt.Errorf("unsupported database url %q (use 'memory' or 'postgresql://...')", c.DatabaseURL)
	}

	switch c.StorageScheme() {
	case "memory":
	case "file":
		if strings.TrimPrefix(c.StorageURL, "file://") == "" {
			return errors.New("filesystem path cannot be empty in storage url")
		}
	case "s3":
		u, err := url.Parse(c.StorageURL)
		if err != nil || u.Host == "" {
			return errors.New("S3 bucket name cannot be empty in storage url")
		}
	default:
		return fmt.Errorf("unsupported storage url %q (use 'memory://', 'file://...', or 's3://...')", c.StorageURL)
	}

	switch c.SignerType {
	case SignerAuto, SignerPresigned, SignerNone:
	case SignerS3:
		if c.StorageScheme() != "s3" {
			return errors.New("s3 signer requires s3 storage")
		}
	default:
		return fmt.Errorf("unsupported signer type %q", c.SignerType)
	}
	if c.EffectiveSigner() == SignerPresigned && c.SigningSecret == "" && c.Environment == "production" {
		return errors.New("signing secret is required for presigned URLs in production")
	}

	if c.PersistURL != "" {
		scheme, _, _ := strings.Cut(c.PersistURL, "://")
		if scheme != "file" && scheme != "redis" {
			return fmt.Errorf("unsupported persist url %q (use 'file://...' or 'redis://...')", c.PersistURL)
		}
	}

	if c.SignTTL <= c.SafetyMargin {
		return errors.New("sign ttl must exceed the safety margin")
	}
	if c.CacheEntries <= 0 {
		return errors.New("cache entries must be positive")
	}
	if c.VariantEncoding != "jpeg" && c.VariantEncoding != "png" {
		return fmt.Errorf("variant encoding must be 'jpeg' or 'png', got %q", c.VariantEncoding)
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return errors.New("jpeg quality must be between 1 and 100")
	}
	return nil
}
