package simplemedia

import (
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
)

// DefaultLegacyPrefixes are path prefixes older records carry in front of the
// object key. They are stripped so every spelling shares one cache slot.
var DefaultLegacyPrefixes = []string{
	"/storage/v1/object/public/media/",
	"/storage/v1/object/sign/media/",
	"storage/v1/object/public/media/",
	"storage/v1/object/sign/media/",
	"public/media/",
}

// IsFullURL reports whether key is already a fully-qualified URL.
func IsFullURL(key string) bool {
	k := strings.ToLower(strings.TrimSpace(key))
	return strings.HasPrefix(k, "http://") || strings.HasPrefix(k, "https://")
}

// KeyNormalizer maps the many spellings of an object reference to one key.
type KeyNormalizer struct {
	prefixes []string
}

// NewKeyNormalizer creates a normalizer stripping the given prefixes. Nil
// means DefaultLegacyPrefixes.
func NewKeyNormalizer(prefixes []string) *KeyNormalizer {
	if prefixes == nil {
		prefixes = DefaultLegacyPrefixes
	}
	return &KeyNormalizer{prefixes: prefixes}
}

// Normalize returns the canonical cache key for key. Full URLs are returned
// trimmed but otherwise verbatim.
func (n *KeyNormalizer) Normalize(key string) string {
	k := strings.TrimSpace(key)
	if IsFullURL(k) {
		return k
	}
	if i := strings.IndexAny(k, "?#"); i >= 0 {
		k = k[:i]
	}
	for _, p := range n.prefixes {
		if strings.HasPrefix(k, p) {
			k = strings.TrimPrefix(k, p)
			break
		}
	}
	return strings.TrimLeft(k, "/")
}

// NormalizeKey normalizes with DefaultLegacyPrefixes.
func NormalizeKey(key string) string {
	return defaultNormalizer.Normalize(key)
}

var defaultNormalizer = NewKeyNormalizer(nil)

// AssetPrefix is the storage prefix holding every object of one asset:
// assets/{owner}/{kind}/{asset}/
func AssetPrefix(ownerID uuid.UUID, kind Kind, assetID uuid.UUID) string {
	return fmt.Sprintf("assets/%s/%s/%s/", ownerID, kind, assetID)
}

// VariantKey is the storage key of one variant of an asset.
func VariantKey(ownerID uuid.UUID, kind Kind, assetID uuid.UUID, name VariantName, ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		ext = "bin"
	}
	return path.Join(AssetPrefix(ownerID, kind, assetID), fmt.Sprintf("%s.%s", name, ext))
}

var typeExtensions = map[string]string{
	"image/jpeg":        "jpg",
	"image/png":         "png",
	"image/webp":        "webp",
	"image/gif":         "gif",
	"image/heic":        "heic",
	"image/heif":        "heif",
	"image/tiff":        "tiff",
	"image/x-adobe-dng": "dng",
	"video/mp4":         "mp4",
	"video/quicktime":   "mov",
	"video/webm":        "webm",
}

// ExtensionForType returns the storage extension for a MIME type, or "bin".
func ExtensionForType(contentType string) string {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	if ext, ok := typeExtensions[ct]; ok {
		return ext
	}
	return "bin"
}
