package presigned

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const keyPlaceholder = "{key}"

// Signer produces and verifies HMAC-SHA256 signatures over
// METHOD|PATH|EXPIRES.
type Signer struct {
	secretKey         []byte
	defaultExpiration time.Duration
	urlPattern        string
	now               func() time.Time
}

// New creates a Signer. Without WithSecretKey the signer is disabled and
// every request validates.
func New(opts ...Option) *Signer {
	s := &Signer{
		defaultExpiration: time.Hour,
		urlPattern:        "/files/{key}",
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IsEnabled reports whether a secret key is configured.
func (s *Signer) IsEnabled() bool {
	return len(s.secretKey) > 0
}

// SignURL appends signature and expires parameters to path.
func (s *Signer) SignURL(method, path string, expiresIn time.Duration) (string, error) {
	if !s.IsEnabled() {
		return "", ErrNoSecretKey
	}
	if expiresIn <= 0 {
		expiresIn = s.defaultExpiration
	}
	expiresAt := s.now().Add(expiresIn).Unix()
	sig := s.sign(method, path, expiresAt)

	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return fmt.Sprintf("%s%ssignature=%s&expires=%d", path, sep, sig, expiresAt), nil
}

// PathForKey renders the URL pattern for an object key.
func (s *Signer) PathForKey(key string) string {
	return strings.Replace(s.urlPattern, keyPlaceholder, key, 1)
}

// ValidateRequest checks the signature and expiry carried by r. Query
// parameters other than signature and expires are part of the signed path.
func (s *Signer) ValidateRequest(r *http.Request) error {
	if !s.IsEnabled() {
		return nil
	}

	query := r.URL.Query()
	sig := query.Get("signature")
	if sig == "" {
		return ErrMissingSignature
	}
	rawExpires := query.Get("expires")
	if rawExpires == "" {
		return ErrMissingExpiration
	}
	expiresAt, err := strconv.ParseInt(rawExpires, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidExpiration, err)
	}

	signedPath := r.URL.Path
	rest := url.Values{}
	for k, v := range query {
		if k != "signature" && k != "expires" {
			rest[k] = v
		}
	}
	if len(rest) > 0 {
		signedPath += "?" + rest.Encode()
	}

	return s.Validate(r.Method, signedPath, sig, expiresAt)
}

// Validate checks one signature.
func (s *Signer) Validate(method, path, signature string, expiresAt int64) error {
	if s.now().Unix() > expiresAt {
		return ErrExpired
	}
	expected := s.sign(method, path, expiresAt)
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return ErrInvalidSignature
	}
	return nil
}

// ExtractObjectKey returns the {key} portion of path.
func (s *Signer) ExtractObjectKey(path string) (string, error) {
	idx := strings.Index(s.urlPattern, keyPlaceholder)
	if idx < 0 {
		return "", fmt.Errorf("%w: pattern %q has no %s placeholder", ErrPatternMismatch, s.urlPattern, keyPlaceholder)
	}
	prefix := s.urlPattern[:idx]
	suffix := s.urlPattern[idx+len(keyPlaceholder):]

	if !strings.HasPrefix(path, prefix) {
		return "", ErrPatternMismatch
	}
	key := strings.TrimPrefix(path, prefix)
	if suffix != "" {
		if !strings.HasSuffix(key, suffix) {
			return "", ErrPatternMismatch
		}
		key = strings.TrimSuffix(key, suffix)
	}
	if key == "" {
		return "", ErrPatternMismatch
	}
	return key, nil
}

func (s *Signer) sign(method, path string, expiresAt int64) string {
	h := hmac.New(sha256.New, s.secretKey)
	fmt.Fprintf(h, "%s|%s|%d", strings.ToUpper(method), path, expiresAt)
	return hex.EncodeToString(h.Sum(nil))
}
