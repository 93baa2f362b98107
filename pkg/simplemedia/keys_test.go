package simplemedia

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeKey(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"Plain", "assets/o/avatar/a/small.jpg", "assets/o/avatar/a/small.jpg"},
		{"LeadingSlash", "/assets/a.jpg", "assets/a.jpg"},
		{"Whitespace", "  assets/a.jpg \n", "assets/a.jpg"},
		{"QueryDropped", "assets/a.jpg?token=abc", "assets/a.jpg"},
		{"FragmentDropped", "assets/a.jpg#frag", "assets/a.jpg"},
		{"PublicPrefix", "/storage/v1/object/public/media/assets/a.jpg", "assets/a.jpg"},
		{"SignPrefix", "storage/v1/object/sign/media/assets/a.jpg?token=x", "assets/a.jpg"},
		{"ShortPrefix", "public/media/assets/a.jpg", "assets/a.jpg"},
		{"OnlyFirstPrefix", "public/media/public/media/a.jpg", "public/media/a.jpg"},
		{"FullURLVerbatim", " https://cdn.example.com/a.jpg?x=1 ", "https://cdn.example.com/a.jpg?x=1"},
		{"Empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeKey(tt.in))
		})
	}
}

func TestNormalizeKey_Idempotent(t *testing.T) {
	for _, k := range []string{"/storage/v1/object/public/media/a/b.png?x", "a/b.png", "//a.png"} {
		once := NormalizeKey(k)
		assert.Equal(t, once, NormalizeKey(once), k)
	}
}

func TestKeyNormalizer_CustomPrefixes(t *testing.T) {
	n := NewKeyNormalizer([]string{"bucket/"})
	assert.Equal(t, "a.png", n.Normalize("bucket/a.png"))
	assert.Equal(t, "public/media/a.png", n.Normalize("public/media/a.png"))
}

func TestIsFullURL(t *testing.T) {
	assert.True(t, IsFullURL("https://x/y"))
	assert.True(t, IsFullURL("HTTP://x/y"))
	assert.False(t, IsFullURL("assets/http.png"))
	assert.False(t, IsFullURL("ftp://x/y"))
}

func TestVariantKey(t *testing.T) {
	owner := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	asset := uuid.MustParse("22222222-2222-2222-2222-222222222222")

	assert.Equal(t,
		"assets/11111111-1111-1111-1111-111111111111/cover/22222222-2222-2222-2222-222222222222/",
		AssetPrefix(owner, KindCover, asset))
	assert.Equal(t,
		"assets/11111111-1111-1111-1111-111111111111/cover/22222222-2222-2222-2222-222222222222/large.jpg",
		VariantKey(owner, KindCover, asset, VariantLarge, ".jpg"))
	assert.Equal(t,
		"assets/11111111-1111-1111-1111-111111111111/cover/22222222-2222-2222-2222-222222222222/original.bin",
		VariantKey(owner, KindCover, asset, VariantOriginal, ""))
}

func TestExtensionForType(t *testing.T) {
	assert.Equal(t, "jpg", ExtensionForType("image/jpeg"))
	assert.Equal(t, "png", ExtensionForType("image/png"))
	assert.Equal(t, "mov", ExtensionForType("video/quicktime"))
	assert.Equal(t, "heic", ExtensionForType("image/heic"))
	assert.Equal(t, "bin", ExtensionForType("application/x-unknown"))
}
