// Package api exposes uploads, backfill, URL signing, proxy reads and signed
// file serving over HTTP.
package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/tendant/simple-media/pkg/simplemedia"
	"github.com/tendant/simple-media/pkg/simplemedia/backfill"
	"github.com/tendant/simple-media/pkg/simplemedia/presigned"
	"github.com/tendant/simple-media/pkg/simplemedia/resolver"
	"github.com/tendant/simple-media/pkg/simplemedia/upload"
)

// DefaultMaxUploadBytes caps multipart upload bodies.
const DefaultMaxUploadBytes int64 = 64 << 20

// Handler serves the media API. Endpoints whose dependency was not supplied
// respond 501.
type Handler struct {
	repo  simplemedia.AssetRepository
	store simplemedia.BlobStore

	uploads    *upload.Coordinator
	backfill   *backfill.Orchestrator
	signer     simplemedia.Signer
	proxy      simplemedia.ProxyFetcher
	urls       *resolver.Client
	fileSigner *presigned.Signer

	maxUploadBytes int64
	logger         *slog.Logger
}

// Option configures a Handler
type Option func(*Handler)

// WithUploads enables POST /api/v1/uploads.
func WithUploads(c *upload.Coordinator) Option {
	return func(h *Handler) {
		h.uploads = c
	}
}

// WithBackfill enables POST /api/v1/backfill.
func WithBackfill(o *backfill.Orchestrator) Option {
	return func(h *Handler) {
		h.backfill = o
	}
}

// WithSigner enables GET /api/v1/sign.
func WithSigner(s simplemedia.Signer) Option {
	return func(h *Handler) {
		h.signer = s
	}
}

// WithProxy enables GET /api/v1/proxy.
func WithProxy(p simplemedia.ProxyFetcher) Option {
	return func(h *Handler) {
		h.proxy = p
	}
}

// WithURLClient enables URL resolution and the cache endpoints.
func WithURLClient(c *resolver.Client) Option {
	return func(h *Handler) {
		h.urls = c
	}
}

// WithFileSigner mounts GET /files/* behind signature validation.
func WithFileSigner(s *presigned.Signer) Option {
	return func(h *Handler) {
		h.fileSigner = s
	}
}

// WithMaxUploadBytes caps upload request bodies.
func WithMaxUploadBytes(n int64) Option {
	return func(h *Handler) {
		h.maxUploadBytes = n
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// NewHandler creates a Handler.
func NewHandler(repo simplemedia.AssetRepository, store simplemedia.BlobStore, opts ...Option) *Handler {
	h := &Handler{
		repo:           repo,
		store:          store,
		maxUploadBytes: DefaultMaxUploadBytes,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns the router for every endpoint.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.With(maxBytes(h.maxUploadBytes)).Post("/uploads", h.Upload)
		r.Post("/backfill", h.Backfill)
		r.Get("/sign", h.Sign)
		r.Get("/proxy", h.Proxy)
		r.Get("/resolve", h.Resolve)
		r.Get("/assets/{id}", h.GetAsset)
		r.Get("/owners/{owner_id}/assets", h.ListOwnerAssets)
		r.Get("/cache/stats", h.CacheStats)
		r.Delete("/cache", h.ClearCache)
	})
	if h.fileSigner != nil {
		r.With(presigned.Middleware(h.fileSigner)).Get("/files/*", h.ServeFile)
	}
	return r
}

func maxBytes(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if n > 0 {
				r.Body = http.MaxBytesReader(w, r.Body, n)
			}
			next.ServeHTTP(w, r)
		})
	}
}
