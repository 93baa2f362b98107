// Package variants derives the fixed family of resized images from one source
// and commits the resulting variant map all-or-nothing.
package variants

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/tendant/simple-media/pkg/simplemedia"
	"github.com/tendant/simple-media/pkg/simplemedia/metrics"
	"golang.org/x/sync/errgroup"
)

// Request describes one generation attempt.
type Request struct {
	AssetID uuid.UUID
	OwnerID uuid.UUID
	Kind    simplemedia.Kind

	// Source is the image to derive from.
	Source []byte

	// OriginalKey names an already stored original. When empty, Source is
	// uploaded as the original alongside the variants.
	OriginalKey string

	// SourceKey is the stored object Source was read from when it is not a
	// recorded original. It is never deleted, and when a variant would be
	// written over it, Source is saved as the original before anything else.
	SourceKey string

	// SourceContentType is used when uploading Source as the original.
	// Sniffed from Source when empty.
	SourceContentType string

	// Existing is the committed variant map, if any. Its objects are never
	// deleted by failure cleanup.
	Existing simplemedia.Variants
}

type upload struct {
	name        simplemedia.VariantName
	key         string
	data        []byte
	contentType string
}

// Generator renders, uploads and commits variant maps.
type Generator struct {
	store       simplemedia.BlobStore
	repo        simplemedia.AssetRepository
	specs       []simplemedia.VariantSpec
	encoding    Encoding
	quality     int
	concurrency int
	logger      *slog.Logger
	metrics     *metrics.Metrics
}

// Option configures a Generator
type Option func(*Generator)

// WithSpecs overrides the variant family.
func WithSpecs(specs []simplemedia.VariantSpec) Option {
	return func(g *Generator) {
		g.specs = specs
	}
}

// WithEncoding sets the output format. Default is JPEG.
func WithEncoding(enc Encoding) Option {
	return func(g *Generator) {
		g.encoding = enc
	}
}

// WithJPEGQuality sets JPEG quality (1-100).
func WithJPEGQuality(q int) Option {
	return func(g *Generator) {
		g.quality = q
	}
}

// WithConcurrency bounds parallel uploads per asset.
func WithConcurrency(n int) Option {
	return func(g *Generator) {
		g.concurrency = n
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Generator) {
		g.logger = logger
	}
}

// WithMetrics records generation outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Generator) {
		g.metrics = m
	}
}

// New creates a Generator. A nil repo skips the commit step.
func New(store simplemedia.BlobStore, repo simplemedia.AssetRepository, opts ...Option) *Generator {
	g := &Generator{
		store:       store,
		repo:        repo,
		specs:       simplemedia.DefaultVariantSpecs,
		encoding:    EncodingJPEG,
		quality:     DefaultJPEGQuality,
		concurrency: 5,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.quality < 1 || g.quality > 100 {
		g.quality = DefaultJPEGQuality
	}
	if g.concurrency < 1 {
		g.concurrency = 1
	}
	return g
}

// Specs returns the variant family.
func (g *Generator) Specs() []simplemedia.VariantSpec {
	return g.specs
}

// Generate derives every variant, uploads them with the original in
// parallel and replaces the asset's variant map once all uploads succeed.
// On failure nothing is committed and objects uploaded by this attempt are
// deleted.
func (g *Generator) Generate(ctx context.Context, req Request) (simplemedia.Variants, error) {
	start := time.Now()
	variants, err := g.generate(ctx, req)
	g.metrics.Generation(string(req.Kind), err == nil, time.Since(start))
	if err != nil {
		g.logger.WarnContext(ctx, "variant generation failed", "asset_id", req.AssetID, "kind", req.Kind, "err", err)
		return nil, err
	}
	g.logger.InfoContext(ctx, "variants generated", "asset_id", req.AssetID, "kind", req.Kind, "count", len(variants))
	return variants, nil
}

func (g *Generator) generate(ctx context.Context, req Request) (simplemedia.Variants, error) {
	if !req.Kind.IsImage() {
		return nil, &simplemedia.GenerationError{AssetID: req.AssetID, Op: "decode", Err: fmt.Errorf("%s assets have no variants", req.Kind)}
	}
	if len(req.Source) == 0 {
		return nil, &simplemedia.GenerationError{AssetID: req.AssetID, Op: "decode", Err: simplemedia.ErrSourceUnavailable}
	}

	src, err := Decode(req.Source)
	if err != nil {
		return nil, &simplemedia.GenerationError{AssetID: req.AssetID, Op: "decode", Err: err}
	}

	uploads, err := g.render(req, src)
	if err != nil {
		return nil, err
	}

	targets := make(map[string]bool, len(uploads))
	for _, u := range uploads {
		targets[u.key] = true
	}
	originalKey, sourceKey := req.OriginalKey, req.SourceKey
	if targets[originalKey] {
		originalKey, sourceKey = "", originalKey
	}

	variants := make(simplemedia.Variants, len(uploads)+1)
	for _, u := range uploads {
		variants[u.name] = u.key
	}
	variants[simplemedia.VariantOriginal] = originalKey

	keep := []string{req.OriginalKey, sourceKey}
	if originalKey == "" {
		original := g.original(req)
		variants[simplemedia.VariantOriginal] = original.key
		if targets[sourceKey] {
			if err := g.put(ctx, req.AssetID, original); err != nil {
				return nil, err
			}
			keep = append(keep, original.key)
		} else {
			uploads = append(uploads, original)
		}
	}

	uploaded, err := g.uploadAll(ctx, req.AssetID, uploads)
	if err != nil {
		g.removeOrphans(ctx, req, uploaded, keep)
		return nil, err
	}

	if g.repo != nil {
		if err := g.repo.ReplaceVariants(ctx, req.AssetID, variants); err != nil {
			g.removeOrphans(ctx, req, uploaded, keep)
			return nil, &simplemedia.GenerationError{AssetID: req.AssetID, Op: "commit", Err: err}
		}
	}
	return variants, nil
}

func (g *Generator) render(req Request, src image.Image) ([]upload, error) {
	out := make([]upload, 0, len(g.specs))
	for _, spec := range g.specs {
		img := Derive(src, req.Kind, spec.Size)
		data, err := encode(img, g.encoding, g.quality)
		if err != nil {
			return nil, &simplemedia.GenerationError{AssetID: req.AssetID, Variant: spec.Name, Op: "encode", Err: err}
		}
		out = append(out, upload{
			name:        spec.Name,
			key:         simplemedia.VariantKey(req.OwnerID, req.Kind, req.AssetID, spec.Name, g.encoding.extension()),
			data:        data,
			contentType: g.encoding.contentType(),
		})
	}
	return out, nil
}

func (g *Generator) original(req Request) upload {
	contentType := req.SourceContentType
	if contentType == "" {
		contentType = mimetype.Detect(req.Source).String()
	}
	key := simplemedia.VariantKey(req.OwnerID, req.Kind, req.AssetID, simplemedia.VariantOriginal, simplemedia.ExtensionForType(contentType))
	return upload{name: simplemedia.VariantOriginal, key: key, data: req.Source, contentType: contentType}
}

func (g *Generator) put(ctx context.Context, assetID uuid.UUID, u upload) error {
	if err := g.store.Put(ctx, u.key, bytes.NewReader(u.data), u.contentType); err != nil {
		return &simplemedia.GenerationError{AssetID: assetID, Variant: u.name, Op: "upload", Err: err}
	}
	return nil
}

// uploadAll stores every upload concurrently and returns the keys that were
// written, including on failure.
func (g *Generator) uploadAll(ctx context.Context, assetID uuid.UUID, uploads []upload) ([]string, error) {
	var (
		mu       sync.Mutex
		uploaded []string
	)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.concurrency)
	for _, u := range uploads {
		eg.Go(func() error {
			if err := g.put(egCtx, assetID, u); err != nil {
				return err
			}
			mu.Lock()
			uploaded = append(uploaded, u.key)
			mu.Unlock()
			return nil
		})
	}
	err := eg.Wait()
	return uploaded, err
}

// removeOrphans deletes keys written by a failed attempt. The committed map,
// the original and the source object survive.
func (g *Generator) removeOrphans(ctx context.Context, req Request, keys, protected []string) {
	keep := make(map[string]bool, len(req.Existing)+len(protected))
	for _, k := range req.Existing {
		keep[k] = true
	}
	for _, k := range protected {
		if k != "" {
			keep[k] = true
		}
	}
	cleanup := context.WithoutCancel(ctx)
	for _, key := range keys {
		if keep[key] {
			continue
		}
		if err := g.store.Delete(cleanup, key); err != nil && !errors.Is(err, simplemedia.ErrNotFound) {
			g.logger.WarnContext(ctx, "failed to delete orphaned variant", "asset_id", req.AssetID, "key", key, "err", err)
		}
	}
}
