package simplemedia

import (
	"time"

	"github.com/google/uuid"
)

// Kind classifies a media asset. It selects validation rules and the variant
// geometry policy.
type Kind string

const (
	KindAvatar    Kind = "avatar"
	KindCover     Kind = "cover"
	KindPostImage Kind = "post-image"
	KindPostVideo Kind = "post-video"
)

// Kinds lists every supported kind.
var Kinds = []Kind{KindAvatar, KindCover, KindPostImage, KindPostVideo}

// ParseKind returns the Kind named by s.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == s {
			return k, nil
		}
	}
	return "", ErrUnknownKind
}

// IsImage reports whether assets of this kind are still images that get
// variants derived from them.
func (k Kind) IsImage() bool {
	return k == KindAvatar || k == KindCover || k == KindPostImage
}

// PreservesAspect reports whether variants keep the source aspect ratio.
// All other image kinds get centre-cropped squares.
func (k Kind) PreservesAspect() bool {
	return k == KindCover
}

// VariantName names one entry of an asset's variant map.
type VariantName string

const (
	VariantOriginal  VariantName = "original"
	VariantThumbnail VariantName = "thumbnail"
	VariantSmall     VariantName = "small"
	VariantMedium    VariantName = "medium"
	VariantLarge     VariantName = "large"
)

// VariantSpec is one tier of the fixed variant family. Size is the square
// edge for cropped kinds and the long edge for aspect-preserving kinds.
type VariantSpec struct {
	Name VariantName
	Size int
}

// DefaultVariantSpecs is the fixed variant family, smallest first.
var DefaultVariantSpecs = []VariantSpec{
	{Name: VariantThumbnail, Size: 150},
	{Name: VariantSmall, Size: 320},
	{Name: VariantMedium, Size: 640},
	{Name: VariantLarge, Size: 1280},
}

// Variants maps variant names to storage keys.
type Variants map[VariantName]string

// Complete reports whether v holds exactly original plus every name in specs.
func (v Variants) Complete(specs []VariantSpec) bool {
	if len(v) != len(specs)+1 {
		return false
	}
	if v[VariantOriginal] == "" {
		return false
	}
	for _, s := range specs {
		if v[s.Name] == "" {
			return false
		}
	}
	return true
}

// Clone returns a copy of v.
func (v Variants) Clone() Variants {
	if v == nil {
		return nil
	}
	out := make(Variants, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// MediaAsset is the server-side record of one uploaded media object.
type MediaAsset struct {
	ID          uuid.UUID `json:"id"`
	OwnerID     uuid.UUID `json:"owner_id"`
	Kind        Kind      `json:"kind"`
	OriginalKey string    `json:"original_key"`
	ContentType string    `json:"content_type,omitempty"`
	Size        int64     `json:"size,omitempty"`
	Variants    Variants  `json:"variants,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// HasVariants reports whether a variant map has been committed.
func (a *MediaAsset) HasVariants() bool {
	return len(a.Variants) > 0
}

// SourceType records how a cached URL was obtained.
type SourceType string

const (
	SourceSigned  SourceType = "signed"
	SourceProxied SourceType = "proxied"
	SourceLegacy  SourceType = "legacy"
)

// CacheEntry is a resolved URL held by the key cache. A zero ExpiresAt marks
// a permanent entry (legacy full URLs).
type CacheEntry struct {
	URL        string     `json:"url"`
	SourceType SourceType `json:"sourceType"`
	ExpiresAt  time.Time  `json:"expiresAt,omitzero"`
}

// Permanent reports whether the entry never expires.
func (e CacheEntry) Permanent() bool {
	return e.ExpiresAt.IsZero()
}

// LastGoodEntry is the most recent successful resolution for a key, kept
// beyond the primary cache TTL as a fallback.
type LastGoodEntry struct {
	URL        string     `json:"url"`
	SourceType SourceType `json:"sourceType"`
	ObservedAt time.Time  `json:"observedAt"`
}

// PersistedEntry is the durable form of a last-good value.
type PersistedEntry struct {
	URL        string     `json:"url"`
	SourceType SourceType `json:"sourceType"`
	ObservedAt time.Time  `json:"observedAt"`
}

// DimensionBounds constrains pixel dimensions of image uploads.
type DimensionBounds struct {
	MinWidth  int `json:"min_width"`
	MinHeight int `json:"min_height"`
	MaxWidth  int `json:"max_width"`
	MaxHeight int `json:"max_height"`
}

// ValidationRules gate uploads of one kind.
type ValidationRules struct {
	MaxSizeBytes      int64            `json:"max_size_bytes"`
	AllowedMimeTypes  []string         `json:"allowed_mime_types"`
	AllowedExtensions []string         `json:"allowed_extensions"`
	Dimensions        *DimensionBounds `json:"dimensions,omitempty"`

	// PassthroughMimeTypes are camera formats accepted without conversion
	// when client-side conversion fails. Anything not listed is rejected.
	PassthroughMimeTypes []string `json:"passthrough_mime_types,omitempty"`
}

// File is an upload candidate.
type File struct {
	Name     string
	Size     int64
	MimeType string
	Data     []byte
}

// AssetFilter scopes repository listings and backfill runs. Nil fields match
// everything.
type AssetFilter struct {
	OwnerID         *uuid.UUID
	Kind            *Kind
	MissingVariants bool
	Limit           int
	Offset          int
}

// Diagnostic is emitted when every resolution path for a key has failed.
type Diagnostic struct {
	Key           string    `json:"key"`
	NormalizedKey string    `json:"normalizedKey"`
	Cause         string    `json:"cause,omitempty"`
	At            time.Time `json:"at"`
}
