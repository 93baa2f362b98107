package api

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/render"
	"github.com/tendant/simple-media/pkg/simplemedia"
	"github.com/tendant/simple-media/pkg/simplemedia/keycache"
	"github.com/tendant/simple-media/pkg/simplemedia/presigned"
)

// DefaultSignTTL is used when /sign is called without ttl.
const DefaultSignTTL = time.Hour

// SignResponse carries a signed URL.
type SignResponse struct {
	Key       string    `json:"key"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ResolveResponse carries a display URL.
type ResolveResponse struct {
	Key string `json:"key"`
	URL string `json:"url"`
}

// CacheStatsResponse reports URL cache state.
type CacheStatsResponse struct {
	Cache    keycache.Stats    `json:"cache"`
	InFlight int               `json:"in_flight"`
	Breakers map[string]string `json:"breakers"`
}

// parseTTL accepts seconds ("600") or a Go duration ("10m").
func parseTTL(v string) (time.Duration, bool) {
	if v == "" {
		return DefaultSignTTL, true
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, n > 0
	}
	d, err := time.ParseDuration(v)
	return d, err == nil && d > 0
}

// Sign returns a time-limited URL for ?key=, valid for ?ttl=.
func (h *Handler) Sign(w http.ResponseWriter, r *http.Request) {
	if h.signer == nil {
		notConfigured(w, r, "signer")
		return
	}
	key := simplemedia.NormalizeKey(r.URL.Query().Get("key"))
	if key == "" {
		badRequest(w, r, "Missing key")
		return
	}
	ttl, ok := parseTTL(r.URL.Query().Get("ttl"))
	if !ok {
		badRequest(w, r, "Invalid ttl")
		return
	}
	url, err := h.signer.Sign(r.Context(), key, ttl)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, SignResponse{Key: key, URL: url, ExpiresAt: time.Now().Add(ttl).UTC()})
}

// Proxy streams the bytes stored under ?key=.
func (h *Handler) Proxy(w http.ResponseWriter, r *http.Request) {
	if h.proxy == nil {
		notConfigured(w, r, "proxy")
		return
	}
	key := simplemedia.NormalizeKey(r.URL.Query().Get("key"))
	if key == "" {
		badRequest(w, r, "Missing key")
		return
	}
	data, contentType, err := h.proxy.FetchBytes(r.Context(), key)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("Cache-Control", "private, max-age=300")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// Resolve returns a display URL for ?key= through the cache and fallback
// chain.
func (h *Handler) Resolve(w http.ResponseWriter, r *http.Request) {
	if h.urls == nil {
		notConfigured(w, r, "resolver")
		return
	}
	key := r.URL.Query().Get("key")
	if key == "" {
		badRequest(w, r, "Missing key")
		return
	}
	url, err := h.urls.URL(r.Context(), key)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, ResolveResponse{Key: key, URL: url})
}

// CacheStats reports cache counters and breaker states.
func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.urls == nil {
		notConfigured(w, r, "resolver")
		return
	}
	render.JSON(w, r, CacheStatsResponse{
		Cache:    h.urls.Stats(),
		InFlight: h.urls.InFlight(),
		Breakers: h.urls.Resolver().BreakerStates(),
	})
}

// ClearCache drops ?key= from every cache tier, or everything without key.
func (h *Handler) ClearCache(w http.ResponseWriter, r *http.Request) {
	if h.urls == nil {
		notConfigured(w, r, "resolver")
		return
	}
	if key := r.URL.Query().Get("key"); key != "" {
		h.urls.Clear(r.Context(), key)
	} else {
		h.urls.ClearAll(r.Context())
	}
	w.WriteHeader(http.StatusNoContent)
}

// ServeFile writes the object named by a validated signed URL.
func (h *Handler) ServeFile(w http.ResponseWriter, r *http.Request) {
	key := presigned.ObjectKeyFromContext(r.Context())
	if key == "" {
		badRequest(w, r, "Invalid file URL")
		return
	}
	meta, err := h.store.Stat(r.Context(), key)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rc, err := h.store.Get(r.Context(), key)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer rc.Close()

	contentType := meta.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	if meta.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(meta.Size, 10))
	}
	if meta.ETag != "" {
		w.Header().Set("ETag", meta.ETag)
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.WarnContext(r.Context(), "file copy interrupted", "key", key, "err", err)
	}
}
