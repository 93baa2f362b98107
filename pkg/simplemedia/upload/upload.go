// Package upload accepts a file for an owner and kind, stores it and derives
// its variants.
package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"
	"github.com/tendant/simple-media/pkg/simplemedia"
	"github.com/tendant/simple-media/pkg/simplemedia/metrics"
	mediavalidation "github.com/tendant/simple-media/pkg/simplemedia/validation"
	"github.com/tendant/simple-media/pkg/simplemedia/variants"
)

// Request is one upload.
type Request struct {
	OwnerID uuid.UUID
	Kind    simplemedia.Kind
	File    simplemedia.File
}

// Validate checks the request shape. File contents are checked by the
// kind's rules afterwards.
func (r Request) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.OwnerID, validation.By(notNilUUID)),
		validation.Field(&r.Kind, validation.Required, validation.By(knownKind)),
	)
}

func notNilUUID(value any) error {
	id, _ := value.(uuid.UUID)
	if id == uuid.Nil {
		return validation.NewError("validation_owner_id", "must be a non-nil UUID")
	}
	return nil
}

func knownKind(value any) error {
	k, _ := value.(simplemedia.Kind)
	if _, err := simplemedia.ParseKind(string(k)); err != nil {
		return validation.NewError("validation_kind", "unknown media kind")
	}
	return nil
}

// Result reports an accepted upload. Success is false when the original was
// stored but variant generation failed; the asset remains and backfill can
// retry it.
type Result struct {
	AssetID     uuid.UUID            `json:"asset_id"`
	OriginalKey string               `json:"original_key"`
	Success     bool                 `json:"success"`
	Variants    simplemedia.Variants `json:"variants,omitempty"`
	Converted   bool                 `json:"converted,omitempty"`
	Passthrough bool                 `json:"passthrough,omitempty"`
	Error       string               `json:"error,omitempty"`
}

// Coordinator runs validation, storage and generation for uploads.
type Coordinator struct {
	validator *mediavalidation.Validator
	store     simplemedia.BlobStore
	repo      simplemedia.AssetRepository
	generator *variants.Generator
	logger    *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// WithMetrics records validation outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = m
	}
}

// WithClock overrides time.Now for asset timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// New creates a Coordinator.
func New(validator *mediavalidation.Validator, store simplemedia.BlobStore, repo simplemedia.AssetRepository, generator *variants.Generator, opts ...Option) *Coordinator {
	c := &Coordinator{
		validator: validator,
		store:     store,
		repo:      repo,
		generator: generator,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Upload validates the file, stores the original, records the asset and
// derives variants for image kinds. Rejected files return a
// *simplemedia.ValidationError and touch nothing else.
func (c *Coordinator) Upload(ctx context.Context, req Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		c.metrics.Validation(string(req.Kind), "rejected")
		return nil, &simplemedia.ValidationError{Kind: req.Kind, Rule: simplemedia.RuleRequest, Reason: err.Error()}
	}

	accepted, err := c.validator.Validate(ctx, req.File, req.Kind)
	if err != nil {
		c.metrics.Validation(string(req.Kind), "rejected")
		c.logger.InfoContext(ctx, "upload rejected", "owner_id", req.OwnerID, "kind", req.Kind, "name", req.File.Name, "err", err)
		return nil, err
	}
	c.metrics.Validation(string(req.Kind), "accepted")

	file := accepted.File
	assetID := uuid.New()
	originalKey := simplemedia.VariantKey(req.OwnerID, req.Kind, assetID, simplemedia.VariantOriginal, simplemedia.ExtensionForType(file.MimeType))

	if err := c.store.Put(ctx, originalKey, bytes.NewReader(file.Data), file.MimeType); err != nil {
		return nil, fmt.Errorf("failed to store original: %w", err)
	}

	now := c.now().UTC()
	asset := &simplemedia.MediaAsset{
		ID:          assetID,
		OwnerID:     req.OwnerID,
		Kind:        req.Kind,
		OriginalKey: originalKey,
		ContentType: file.MimeType,
		Size:        file.Size,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := c.repo.CreateAsset(ctx, asset); err != nil {
		if delErr := c.store.Delete(context.WithoutCancel(ctx), originalKey); delErr != nil && !errors.Is(delErr, simplemedia.ErrNotFound) {
			c.logger.WarnContext(ctx, "failed to remove original after create failure", "key", originalKey, "err", delErr)
		}
		return nil, fmt.Errorf("failed to create asset: %w", err)
	}

	result := &Result{
		AssetID:     assetID,
		OriginalKey: originalKey,
		Converted:   accepted.Converted,
		Passthrough: accepted.Passthrough,
	}

	// Videos and unconverted camera formats are stored as-is.
	if !req.Kind.IsImage() || accepted.Passthrough {
		result.Success = true
		c.logger.InfoContext(ctx, "upload stored", "asset_id", assetID, "kind", req.Kind, "key", originalKey)
		return result, nil
	}

	generated, err := c.generator.Generate(ctx, variants.Request{
		AssetID:           assetID,
		OwnerID:           req.OwnerID,
		Kind:              req.Kind,
		Source:            file.Data,
		OriginalKey:       originalKey,
		SourceContentType: file.MimeType,
	})
	if err != nil {
		result.Error = err.Error()
		return result, nil
	}
	result.Success = true
	result.Variants = generated
	c.logger.InfoContext(ctx, "upload processed", "asset_id", assetID, "kind", req.Kind, "variants", len(generated))
	return result, nil
}
