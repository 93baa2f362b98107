// Package backfill derives missing variant maps for stored assets.
package backfill

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/tendant/simple-media/pkg/simplemedia"
	"github.com/tendant/simple-media/pkg/simplemedia/metrics"
	"github.com/tendant/simple-media/pkg/simplemedia/variants"
	"golang.org/x/sync/errgroup"
)

// Scope narrows a run. Nil fields match everything.
type Scope struct {
	OwnerID *uuid.UUID
	Kind    *simplemedia.Kind
}

// Options configures a run.
type Options struct {
	Scope Scope

	// BatchSize controls how many assets are listed per query (default: 100)
	BatchSize int

	// Concurrency bounds assets processed at once (default: 4)
	Concurrency int

	// DryRun reports candidates without generating anything
	DryRun bool

	// OnProgress is called after each asset finishes (optional)
	OnProgress func(done, total int64)
}

// AssetResult is the outcome for one asset.
type AssetResult struct {
	AssetID  uuid.UUID            `json:"asset_id"`
	OwnerID  uuid.UUID            `json:"owner_id"`
	Kind     simplemedia.Kind     `json:"kind"`
	Success  bool                 `json:"success"`
	Skipped  bool                 `json:"skipped,omitempty"`
	DryRun   bool                 `json:"dry_run,omitempty"`
	Variants simplemedia.Variants `json:"variants,omitempty"`
	Error    string               `json:"error,omitempty"`

	Err error `json:"-"`
}

// Result summarizes a run.
type Result struct {
	TotalFound     int64         `json:"total_found"`
	TotalSucceeded int64         `json:"total_succeeded"`
	TotalFailed    int64         `json:"total_failed"`
	TotalSkipped   int64         `json:"total_skipped"`
	FailedIDs      []string      `json:"failed_ids,omitempty"`
	Assets         []AssetResult `json:"assets"`
}

// Orchestrator runs backfills.
type Orchestrator struct {
	repo      simplemedia.AssetRepository
	store     simplemedia.BlobStore
	generator *variants.Generator
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithMetrics records per-asset outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// New creates an Orchestrator.
func New(repo simplemedia.AssetRepository, store simplemedia.BlobStore, generator *variants.Generator, opts ...Option) *Orchestrator {
	o := &Orchestrator{repo: repo, store: store, generator: generator, logger: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run processes every in-scope image asset with an empty variant map. One
// asset's failure is recorded and the run continues. Assets that already
// have variants are never regenerated, so re-running is a no-op for them.
func (o *Orchestrator) Run(ctx context.Context, opts Options) (*Result, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}

	candidates, err := o.candidates(ctx, opts)
	if err != nil {
		return &Result{}, err
	}

	result := &Result{
		TotalFound: int64(len(candidates)),
		Assets:     make([]AssetResult, len(candidates)),
	}
	o.logger.InfoContext(ctx, "backfill started", "candidates", len(candidates), "dry_run", opts.DryRun)

	var (
		mu   sync.Mutex
		done int64
	)
	var eg errgroup.Group
	eg.SetLimit(opts.Concurrency)
	for i, asset := range candidates {
		eg.Go(func() error {
			res := o.processAsset(ctx, asset, opts.DryRun)

			mu.Lock()
			defer mu.Unlock()
			result.Assets[i] = res
			switch {
			case res.DryRun:
			case res.Skipped:
				result.TotalSkipped++
				o.metrics.Backfill("skipped")
			case res.Success:
				result.TotalSucceeded++
				o.metrics.Backfill("success")
			default:
				result.TotalFailed++
				result.FailedIDs = append(result.FailedIDs, res.AssetID.String())
				o.metrics.Backfill("failed")
			}
			done++
			if opts.OnProgress != nil {
				opts.OnProgress(done, result.TotalFound)
			}
			return nil
		})
	}
	eg.Wait()

	o.logger.InfoContext(ctx, "backfill finished",
		"found", result.TotalFound,
		"succeeded", result.TotalSucceeded,
		"failed", result.TotalFailed,
		"skipped", result.TotalSkipped,
	)
	return result, nil
}

// candidates snapshots the work list before any asset changes, so pages are
// not shifted by assets leaving the missing-variants set mid-run.
func (o *Orchestrator) candidates(ctx context.Context, opts Options) ([]*simplemedia.MediaAsset, error) {
	var out []*simplemedia.MediaAsset
	offset := 0
	for {
		page, err := o.repo.ListAssets(ctx, simplemedia.AssetFilter{
			OwnerID:         opts.Scope.OwnerID,
			Kind:            opts.Scope.Kind,
			MissingVariants: true,
			Limit:           opts.BatchSize,
			Offset:          offset,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list assets: %w", err)
		}
		for _, a := range page {
			if a.Kind.IsImage() {
				out = append(out, a)
			}
		}
		if len(page) < opts.BatchSize {
			return out, nil
		}
		offset += opts.BatchSize
	}
}

func (o *Orchestrator) processAsset(ctx context.Context, candidate *simplemedia.MediaAsset, dryRun bool) AssetResult {
	res := AssetResult{AssetID: candidate.ID, OwnerID: candidate.OwnerID, Kind: candidate.Kind}

	asset, err := o.repo.GetAsset(ctx, candidate.ID)
	if err != nil {
		return o.fail(ctx, res, fmt.Errorf("reload asset: %w", err))
	}
	if asset.HasVariants() {
		res.Skipped = true
		res.Variants = asset.Variants
		return res
	}
	if dryRun {
		res.DryRun = true
		return res
	}

	src, err := o.source(ctx, asset)
	if err != nil {
		return o.fail(ctx, res, err)
	}

	req := variants.Request{
		AssetID:           asset.ID,
		OwnerID:           asset.OwnerID,
		Kind:              asset.Kind,
		Source:            src.data,
		SourceContentType: asset.ContentType,
	}
	if src.derived {
		req.SourceKey = src.key
		req.SourceContentType = ""
	} else {
		req.OriginalKey = src.key
	}
	generated, err := o.generator.Generate(ctx, req)
	if err != nil {
		return o.fail(ctx, res, err)
	}
	res.Success = true
	res.Variants = generated
	return res
}

func (o *Orchestrator) fail(ctx context.Context, res AssetResult, err error) AssetResult {
	res.Err = err
	res.Error = err.Error()
	o.logger.WarnContext(ctx, "backfill failed for asset", "asset_id", res.AssetID, "err", err)
	return res
}

type sourceObject struct {
	key  string
	data []byte

	// derived is set when the object is named like a variant, so the
	// generator must not treat it as the original.
	derived bool
}

// source returns the original, or the largest object stored under the
// asset's prefix when the original is unset or gone. Objects named like a
// variant are used only when nothing else is stored.
func (o *Orchestrator) source(ctx context.Context, asset *simplemedia.MediaAsset) (sourceObject, error) {
	if asset.OriginalKey != "" {
		data, err := o.read(ctx, asset.OriginalKey)
		if err == nil {
			return sourceObject{key: asset.OriginalKey, data: data, derived: o.isVariantObject(asset.OriginalKey)}, nil
		}
		if !errors.Is(err, simplemedia.ErrNotFound) {
			return sourceObject{}, err
		}
	}

	objects, err := o.store.List(ctx, simplemedia.AssetPrefix(asset.OwnerID, asset.Kind, asset.ID))
	if err != nil {
		return sourceObject{}, fmt.Errorf("list asset objects: %w", err)
	}
	var best, bestDerived *simplemedia.ObjectMeta
	for i := range objects {
		obj := &objects[i]
		if o.isVariantObject(obj.Key) {
			if bestDerived == nil || obj.Size > bestDerived.Size {
				bestDerived = obj
			}
			continue
		}
		if best == nil || obj.Size > best.Size {
			best = obj
		}
	}
	derived := false
	if best == nil {
		best, derived = bestDerived, true
	}
	if best == nil {
		return sourceObject{}, simplemedia.ErrSourceUnavailable
	}
	data, err := o.read(ctx, best.Key)
	if err != nil {
		return sourceObject{}, err
	}
	return sourceObject{key: best.Key, data: data, derived: derived}, nil
}

// isVariantObject reports whether key is named after one of the generated
// variants, whatever its extension.
func (o *Orchestrator) isVariantObject(key string) bool {
	base := path.Base(key)
	name := strings.TrimSuffix(base, path.Ext(base))
	for _, spec := range o.generator.Specs() {
		if name == string(spec.Name) {
			return true
		}
	}
	return false
}

func (o *Orchestrator) read(ctx context.Context, key string) ([]byte, error) {
	rc, err := o.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, rc); err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return buf.Bytes(), nil
}
