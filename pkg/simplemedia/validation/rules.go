package validation

import (
	"fmt"
	"strings"
	"sync"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/tendant/simple-media/pkg/simplemedia"
)

const mib = 1 << 20

var stillImageTypes = []string{"image/jpeg", "image/png", "image/webp", "image/gif"}
var stillImageExtensions = []string{"jpg", "jpeg", "png", "webp", "gif"}

// DefaultRules returns the built-in rule set for every kind.
func DefaultRules() map[simplemedia.Kind]simplemedia.ValidationRules {
	return map[simplemedia.Kind]simplemedia.ValidationRules{
		simplemedia.KindAvatar: {
			MaxSizeBytes:      5 * mib,
			AllowedMimeTypes:  clone(stillImageTypes),
			AllowedExtensions: clone(stillImageExtensions),
			Dimensions:        &simplemedia.DimensionBounds{MinWidth: 64, MinHeight: 64, MaxWidth: 8192, MaxHeight: 8192},
		},
		simplemedia.KindCover: {
			MaxSizeBytes:      10 * mib,
			AllowedMimeTypes:  clone(stillImageTypes),
			AllowedExtensions: clone(stillImageExtensions),
			Dimensions:        &simplemedia.DimensionBounds{MinWidth: 320, MinHeight: 320, MaxWidth: 12000, MaxHeight: 12000},
		},
		simplemedia.KindPostImage: {
			MaxSizeBytes:         20 * mib,
			AllowedMimeTypes:     clone(stillImageTypes),
			AllowedExtensions:    clone(stillImageExtensions),
			PassthroughMimeTypes: []string{"image/heic", "image/heif"},
		},
		simplemedia.KindPostVideo: {
			MaxSizeBytes:      50 * mib,
			AllowedMimeTypes:  []string{"video/mp4", "video/quicktime", "video/webm"},
			AllowedExtensions: []string{"mp4", "mov", "webm"},
		},
	}
}

// CheckRules rejects rule sets that could never accept a file.
func CheckRules(r simplemedia.ValidationRules) error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.MaxSizeBytes, validation.Required, validation.Min(int64(1))),
		validation.Field(&r.AllowedMimeTypes, validation.Required, validation.Each(validation.Required, validation.By(isMimeType))),
		validation.Field(&r.PassthroughMimeTypes, validation.Each(validation.By(isMimeType))),
		validation.Field(&r.Dimensions, validation.By(checkBounds)),
	)
}

func isMimeType(value any) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	major, minor, ok := strings.Cut(s, "/")
	if !ok || major == "" || minor == "" {
		return validation.NewError("validation_mime_type", "must be a type/subtype MIME type")
	}
	return nil
}

func checkBounds(value any) error {
	b, _ := value.(*simplemedia.DimensionBounds)
	if b == nil {
		return nil
	}
	if b.MinWidth < 0 || b.MinHeight < 0 || b.MaxWidth < 0 || b.MaxHeight < 0 {
		return validation.NewError("validation_bounds_negative", "bounds must not be negative")
	}
	if b.MaxWidth > 0 && b.MinWidth > b.MaxWidth {
		return validation.NewError("validation_bounds_width", "min width exceeds max width")
	}
	if b.MaxHeight > 0 && b.MinHeight > b.MaxHeight {
		return validation.NewError("validation_bounds_height", "min height exceeds max height")
	}
	return nil
}

// RuleSet holds the active rules per kind. Safe for concurrent use.
type RuleSet struct {
	mu    sync.RWMutex
	rules map[simplemedia.Kind]simplemedia.ValidationRules
}

// NewRuleSet builds a rule set. A nil map starts from DefaultRules.
func NewRuleSet(rules map[simplemedia.Kind]simplemedia.ValidationRules) (*RuleSet, error) {
	if rules == nil {
		rules = DefaultRules()
	}
	s := &RuleSet{rules: make(map[simplemedia.Kind]simplemedia.ValidationRules, len(rules))}
	for kind, r := range rules {
		if err := s.Register(kind, r); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Register replaces the rules for kind.
func (s *RuleSet) Register(kind simplemedia.Kind, r simplemedia.ValidationRules) error {
	if _, err := simplemedia.ParseKind(string(kind)); err != nil {
		return fmt.Errorf("register rules for %q: %w", kind, err)
	}
	if err := CheckRules(r); err != nil {
		return fmt.Errorf("register rules for %s: %w", kind, err)
	}
	r.AllowedMimeTypes = lowerAll(r.AllowedMimeTypes)
	r.PassthroughMimeTypes = lowerAll(r.PassthroughMimeTypes)
	exts := make([]string, 0, len(r.AllowedExtensions))
	for _, e := range r.AllowedExtensions {
		exts = append(exts, strings.ToLower(strings.TrimPrefix(e, ".")))
	}
	r.AllowedExtensions = exts

	s.mu.Lock()
	s.rules[kind] = r
	s.mu.Unlock()
	return nil
}

// Get returns the rules for kind.
func (s *RuleSet) Get(kind simplemedia.Kind) (simplemedia.ValidationRules, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rules[kind]
	if !ok {
		return simplemedia.ValidationRules{}, fmt.Errorf("%w: %q", simplemedia.ErrUnknownKind, kind)
	}
	return r, nil
}

func clone(in []string) []string {
	return append([]string(nil), in...)
}

func lowerAll(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(strings.TrimSpace(s))
	}
	return out
}
