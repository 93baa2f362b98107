// Package storage holds object store backends and adapters shared by them.
package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/gabriel-vasile/mimetype"
	"github.com/tendant/simple-media/pkg/simplemedia"
)

// DefaultMaxProxyBytes caps what a proxied fetch reads into memory.
const DefaultMaxProxyBytes = 64 << 20

// ProxyFetcher serves object bytes straight from a BlobStore, playing the
// proxy backend's role in-process.
type ProxyFetcher struct {
	store    simplemedia.BlobStore
	maxBytes int64
}

// NewProxyFetcher wraps store. maxBytes <= 0 uses DefaultMaxProxyBytes.
func NewProxyFetcher(store simplemedia.BlobStore, maxBytes int64) *ProxyFetcher {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxProxyBytes
	}
	return &ProxyFetcher{store: store, maxBytes: maxBytes}
}

// FetchBytes reads the object under key and reports its content type,
// sniffing it when the store did not record one.
func (p *ProxyFetcher) FetchBytes(ctx context.Context, key string) ([]byte, string, error) {
	rc, err := p.store.Get(ctx, key)
	if err != nil {
		return nil, "", err
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, p.maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", key, err)
	}
	if int64(len(data)) > p.maxBytes {
		return nil, "", fmt.Errorf("object %s exceeds proxy limit of %d bytes", key, p.maxBytes)
	}

	contentType := ""
	if meta, err := p.store.Stat(ctx, key); err == nil {
		contentType = meta.ContentType
	}
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = mimetype.Detect(data).String()
	}
	return data, contentType, nil
}

var _ simplemedia.ProxyFetcher = (*ProxyFetcher)(nil)
