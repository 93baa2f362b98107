package presigned

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
)

type contextKey string

// ObjectKeyContextKey holds the validated object key in request contexts.
const ObjectKeyContextKey contextKey = "presigned:object_key"

// Middleware rejects requests whose signature fails validation and passes the
// validated object key downstream in the request context.
func Middleware(signer *Signer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if signer.IsEnabled() {
				if err := signer.ValidateRequest(r); err != nil {
					writeValidationError(w, err)
					return
				}
			}

			key, err := signer.ExtractObjectKey(r.URL.Path)
			if err != nil {
				slog.Warn("presigned: failed to extract object key", "path", r.URL.Path, "err", err)
				http.Error(w, "Invalid file URL", http.StatusBadRequest)
				return
			}

			ctx := context.WithValue(r.Context(), ObjectKeyContextKey, key)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ObjectKeyFromContext returns the key stored by Middleware, or "".
func ObjectKeyFromContext(ctx context.Context) string {
	key, _ := ctx.Value(ObjectKeyContextKey).(string)
	return key
}

func writeValidationError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrMissingSignature):
		http.Error(w, "Missing signature parameter", http.StatusUnauthorized)
	case errors.Is(err, ErrMissingExpiration):
		http.Error(w, "Missing expires parameter", http.StatusUnauthorized)
	case errors.Is(err, ErrInvalidExpiration):
		http.Error(w, "Invalid expires parameter", http.StatusBadRequest)
	case errors.Is(err, ErrExpired):
		http.Error(w, "Signed URL has expired", http.StatusForbidden)
	case errors.Is(err, ErrInvalidSignature):
		http.Error(w, "Invalid signature", http.StatusForbidden)
	default:
		slog.Warn("presigned: validation error", "err", err)
		http.Error(w, "Authentication failed", http.StatusForbidden)
	}
}
