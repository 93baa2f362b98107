package validation

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"slices"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/tendant/simple-media/pkg/simplemedia"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// Result is an accepted upload, possibly re-encoded.
type Result struct {
	File simplemedia.File

	// Converted is set when a camera-native original was re-encoded.
	Converted bool

	// Passthrough is set when an unconverted camera format was admitted
	// through the kind's PassthroughMimeTypes.
	Passthrough bool

	Width  int
	Height int
}

// Validator gates uploads by the rules of their kind.
type Validator struct {
	rules     *RuleSet
	converter *Converter
	logger    *slog.Logger
}

// Option configures a Validator
type Option func(*Validator)

// WithRules sets the rule set. Default is DefaultRules.
func WithRules(rules *RuleSet) Option {
	return func(v *Validator) {
		v.rules = rules
	}
}

// WithConverter sets the camera-format converter.
func WithConverter(c *Converter) Option {
	return func(v *Validator) {
		v.converter = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(v *Validator) {
		v.logger = logger
	}
}

// New creates a Validator.
func New(opts ...Option) *Validator {
	v := &Validator{logger: slog.Default()}
	for _, opt := range opts {
		opt(v)
	}
	if v.rules == nil {
		// Defaults always pass CheckRules.
		v.rules, _ = NewRuleSet(nil)
	}
	if v.converter == nil {
		v.converter = NewConverter()
	}
	return v
}

// Rules exposes the active rule set.
func (v *Validator) Rules() *RuleSet {
	return v.rules
}

// Validate converts camera formats, then checks size, type and dimensions in
// that order. Rejections are *simplemedia.ValidationError.
func (v *Validator) Validate(ctx context.Context, f simplemedia.File, kind simplemedia.Kind) (*Result, error) {
	rules, err := v.rules.Get(kind)
	if err != nil {
		return nil, err
	}

	res := &Result{File: f}
	cameraFormat, isCamera := CameraFormat(f)
	if isCamera {
		converted, err := v.converter.Convert(f, cameraFormat)
		if err != nil {
			v.logger.DebugContext(ctx, "camera format conversion failed, validating original",
				"name", f.Name, "format", cameraFormat, "err", err)
		} else {
			res.File = converted
			res.Converted = true
		}
	}
	file := &res.File

	size := file.Size
	if size <= 0 {
		size = int64(len(file.Data))
	}
	file.Size = size
	if rules.MaxSizeBytes > 0 && size > rules.MaxSizeBytes {
		return nil, &simplemedia.ValidationError{
			Kind:   kind,
			Rule:   simplemedia.RuleSize,
			Reason: fmt.Sprintf("file is %s, limit is %s", humanBytes(size), humanBytes(rules.MaxSizeBytes)),
		}
	}

	mimeType := baseMime(file.MimeType)
	if (mimeType == "" || mimeType == "application/octet-stream") && len(file.Data) > 0 {
		mimeType = baseMime(mimetype.Detect(file.Data).String())
	}
	ext := extension(file.Name)
	if !slices.Contains(rules.AllowedMimeTypes, mimeType) && !slices.Contains(rules.AllowedExtensions, ext) {
		if !(isCamera && !res.Converted && slices.Contains(rules.PassthroughMimeTypes, cameraFormat)) {
			return nil, &simplemedia.ValidationError{
				Kind:   kind,
				Rule:   simplemedia.RuleType,
				Reason: fmt.Sprintf("type %q (extension %q) is not allowed; allowed types: %s", mimeType, ext, strings.Join(rules.AllowedMimeTypes, ", ")),
			}
		}
		res.Passthrough = true
		mimeType = cameraFormat
		v.logger.InfoContext(ctx, "admitting unconverted camera format", "kind", kind, "format", cameraFormat, "name", file.Name)
	}
	if mimeType != "" {
		file.MimeType = mimeType
	}

	if !kind.IsImage() || res.Passthrough {
		return res, nil
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(file.Data))
	if err != nil {
		if rules.Dimensions != nil {
			return nil, &simplemedia.ValidationError{
				Kind:   kind,
				Rule:   simplemedia.RuleDimensions,
				Reason: fmt.Sprintf("cannot read image dimensions: %v", err),
			}
		}
		return res, nil
	}
	res.Width, res.Height = cfg.Width, cfg.Height

	if b := rules.Dimensions; b != nil {
		if reason := checkDimensions(*b, cfg.Width, cfg.Height); reason != "" {
			return nil, &simplemedia.ValidationError{Kind: kind, Rule: simplemedia.RuleDimensions, Reason: reason}
		}
	}
	return res, nil
}

func checkDimensions(b simplemedia.DimensionBounds, w, h int) string {
	switch {
	case w < b.MinWidth || h < b.MinHeight:
		return fmt.Sprintf("image is %dx%d, minimum is %dx%d", w, h, b.MinWidth, b.MinHeight)
	case b.MaxWidth > 0 && w > b.MaxWidth, b.MaxHeight > 0 && h > b.MaxHeight:
		return fmt.Sprintf("image is %dx%d, maximum is %dx%d", w, h, b.MaxWidth, b.MaxHeight)
	}
	return ""
}

func humanBytes(n int64) string {
	switch {
	case n >= mib:
		return fmt.Sprintf("%.1f MB", float64(n)/mib)
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	}
	return fmt.Sprintf("%d bytes", n)
}
