package presigned

import "errors"

var (
	// ErrNoSecretKey is returned when signing without a configured key
	ErrNoSecretKey = errors.New("presigned: no secret key configured")

	// ErrMissingSignature is returned when the signature parameter is absent
	ErrMissingSignature = errors.New("presigned: missing signature parameter")

	// ErrMissingExpiration is returned when the expires parameter is absent
	ErrMissingExpiration = errors.New("presigned: missing expires parameter")

	// ErrInvalidExpiration is returned when expires is not a unix timestamp
	ErrInvalidExpiration = errors.New("presigned: invalid expires parameter")

	// ErrExpired is returned once the URL's expiry has passed
	ErrExpired = errors.New("presigned: URL has expired")

	// ErrInvalidSignature is returned when the signature does not match
	ErrInvalidSignature = errors.New("presigned: invalid signature")

	// ErrPatternMismatch is returned when a path does not fit the URL pattern
	ErrPatternMismatch = errors.New("presigned: path does not match URL pattern")
)

// IsAuthError reports whether err is a signature validation failure.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrMissingSignature) ||
		errors.Is(err, ErrMissingExpiration) ||
		errors.Is(err, ErrInvalidExpiration) ||
		errors.Is(err, ErrExpired) ||
		errors.Is(err, ErrInvalidSignature)
}
