package config

import (
	"fmt"
	"time"
)

// WithPort sets the server port
func WithPort(port string) Option {
	return func(c *ServerConfig) error {
		if port == "" {
			return fmt.Errorf("port cannot be empty")
		}
		c.Port = port
		return nil
	}
}

// WithDatabase sets the asset database ("memory" or a postgres URL).
func WithDatabase(url string) Option {
	return func(c *ServerConfig) error {
		if url == "" {
			return fmt.Errorf("database url cannot be empty")
		}
		c.DatabaseURL = url
		return nil
	}
}

// WithStorage sets the object store URL.
func WithStorage(url string) Option {
	return func(c *ServerConfig) error {
		if url == "" {
			return fmt.Errorf("storage url cannot be empty")
		}
		c.StorageURL = url
		return nil
	}
}

// WithSigner selects the URL signer and its HMAC secret.
func WithSigner(signerType, secret string) Option {
	return func(c *ServerConfig) error {
		c.SignerType = signerType
		c.SigningSecret = secret
		return nil
	}
}

// WithPublicBaseURL prefixes presigned /files URLs.
func WithPublicBaseURL(base string) Option {
	return func(c *ServerConfig) error {
		c.PublicBaseURL = base
		return nil
	}
}

// WithPersist sets the durable URL record store.
func WithPersist(url string, ttl time.Duration) Option {
	return func(c *ServerConfig) error {
		c.PersistURL = url
		c.PersistTTL = ttl
		return nil
	}
}

// WithCacheTTLs sets signed and proxied cache lifetimes.
func WithCacheTTLs(signTTL, safetyMargin, proxiedTTL time.Duration) Option {
	return func(c *ServerConfig) error {
		if signTTL <= 0 || proxiedTTL <= 0 {
			return fmt.Errorf("cache ttls must be positive")
		}
		c.SignTTL = signTTL
		c.SafetyMargin = safetyMargin
		c.ProxiedTTL = proxiedTTL
		return nil
	}
}

// WithVariantEncoding selects jpeg or png variant output.
func WithVariantEncoding(encoding string, quality int) Option {
	return func(c *ServerConfig) error {
		c.VariantEncoding = encoding
		if quality > 0 {
			c.JPEGQuality = quality
		}
		return nil
	}
}

// WithMetrics toggles Prometheus collection.
func WithMetrics(enabled bool) Option {
	return func(c *ServerConfig) error {
		c.MetricsEnabled = enabled
		return nil
	}
}
