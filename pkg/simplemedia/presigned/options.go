package presigned

import "time"

// Option configures a Signer
type Option func(*Signer)

// WithSecretKey sets the HMAC key. Use at least 32 bytes.
func WithSecretKey(key string) Option {
	return func(s *Signer) {
		s.secretKey = []byte(key)
	}
}

// WithDefaultExpiration sets the lifetime used when SignURL gets a zero
// duration. Default is 1 hour.
func WithDefaultExpiration(d time.Duration) Option {
	return func(s *Signer) {
		s.defaultExpiration = d
	}
}

// WithURLPattern sets the route whose {key} placeholder carries the object
// key, e.g. "/files/{key}".
func WithURLPattern(pattern string) Option {
	return func(s *Signer) {
		s.urlPattern = pattern
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Signer) {
		s.now = now
	}
}
