package validation

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-media/pkg/simplemedia"
	"golang.org/x/image/tiff"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func tiffBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	img.Set(1, 1, color.NRGBA{G: 200, A: 255})
	var buf bytes.Buffer
	require.NoError(t, tiff.Encode(&buf, img, nil))
	return buf.Bytes()
}

func requireRule(t *testing.T, err error, rule string) {
	t.Helper()
	require.Error(t, err)
	assert.True(t, simplemedia.IsValidation(err))
	var verr *simplemedia.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, rule, verr.Rule)
	assert.NotEmpty(t, verr.Reason)
}

func TestValidate_SizeRejection(t *testing.T) {
	v := New()
	video := simplemedia.File{
		Name:     "clip.mp4",
		Size:     60 << 20,
		MimeType: "video/mp4",
	}
	_, err := v.Validate(context.Background(), video, simplemedia.KindPostVideo)
	requireRule(t, err, simplemedia.RuleSize)
	assert.Contains(t, err.Error(), "60.0 MB")
	assert.Contains(t, err.Error(), "50.0 MB")

	t.Run("SizeCheckedBeforeType", func(t *testing.T) {
		f := simplemedia.File{Name: "doc.pdf", Size: 6 << 20, MimeType: "application/pdf"}
		_, err := v.Validate(context.Background(), f, simplemedia.KindAvatar)
		requireRule(t, err, simplemedia.RuleSize)
	})

	t.Run("WithinLimit", func(t *testing.T) {
		f := simplemedia.File{Name: "clip.mp4", Size: 49 << 20, MimeType: "video/mp4"}
		res, err := v.Validate(context.Background(), f, simplemedia.KindPostVideo)
		require.NoError(t, err)
		assert.Equal(t, "video/mp4", res.File.MimeType)
	})
}

func TestValidate_Type(t *testing.T) {
	ctx := context.Background()
	v := New()
	data := pngBytes(t, 100, 100)

	t.Run("DeclaredMime", func(t *testing.T) {
		_, err := v.Validate(ctx, simplemedia.File{Name: "a", MimeType: "image/png", Data: data}, simplemedia.KindAvatar)
		assert.NoError(t, err)
	})

	t.Run("ExtensionOnly", func(t *testing.T) {
		_, err := v.Validate(ctx, simplemedia.File{Name: "a.PNG", MimeType: "image/x-whatever", Data: data}, simplemedia.KindAvatar)
		assert.NoError(t, err)
	})

	t.Run("SniffedWhenGeneric", func(t *testing.T) {
		res, err := v.Validate(ctx, simplemedia.File{Name: "upload", MimeType: "application/octet-stream", Data: data}, simplemedia.KindAvatar)
		require.NoError(t, err)
		assert.Equal(t, "image/png", res.File.MimeType)
	})

	t.Run("Disallowed", func(t *testing.T) {
		_, err := v.Validate(ctx, simplemedia.File{Name: "a.pdf", MimeType: "application/pdf", Data: []byte("%PDF-1.4")}, simplemedia.KindAvatar)
		requireRule(t, err, simplemedia.RuleType)
	})

	t.Run("UnknownKind", func(t *testing.T) {
		_, err := v.Validate(ctx, simplemedia.File{Name: "a.png", Data: data}, simplemedia.Kind("banner"))
		assert.ErrorIs(t, err, simplemedia.ErrUnknownKind)
	})
}

func TestValidate_Dimensions(t *testing.T) {
	ctx := context.Background()
	v := New()

	_, err := v.Validate(ctx, simplemedia.File{Name: "tiny.png", MimeType: "image/png", Data: pngBytes(t, 32, 32)}, simplemedia.KindAvatar)
	requireRule(t, err, simplemedia.RuleDimensions)

	res, err := v.Validate(ctx, simplemedia.File{Name: "ok.png", MimeType: "image/png", Data: pngBytes(t, 100, 80)}, simplemedia.KindAvatar)
	require.NoError(t, err)
	assert.Equal(t, 100, res.Width)
	assert.Equal(t, 80, res.Height)

	_, err = v.Validate(ctx, simplemedia.File{Name: "narrow.png", MimeType: "image/png", Data: pngBytes(t, 200, 400)}, simplemedia.KindCover)
	requireRule(t, err, simplemedia.RuleDimensions)

	_, err = v.Validate(ctx, simplemedia.File{Name: "broken.png", MimeType: "image/png", Data: []byte("not an image")}, simplemedia.KindAvatar)
	requireRule(t, err, simplemedia.RuleDimensions)

	// post-image has no bounds, so any decodable size passes
	_, err = v.Validate(ctx, simplemedia.File{Name: "tiny.png", MimeType: "image/png", Data: pngBytes(t, 8, 8)}, simplemedia.KindPostImage)
	assert.NoError(t, err)
}

func TestValidate_CameraFormats(t *testing.T) {
	ctx := context.Background()

	t.Run("TIFFConvertedToPNG", func(t *testing.T) {
		v := New()
		src := simplemedia.File{Name: "scan.tif", MimeType: "image/tiff", Data: tiffBytes(t, 120, 90)}
		res, err := v.Validate(ctx, src, simplemedia.KindAvatar)
		require.NoError(t, err)
		assert.True(t, res.Converted)
		assert.False(t, res.Passthrough)
		assert.Equal(t, "scan.png", res.File.Name)
		assert.Equal(t, "image/png", res.File.MimeType)
		assert.Equal(t, int64(len(res.File.Data)), res.File.Size)

		img, err := png.Decode(bytes.NewReader(res.File.Data))
		require.NoError(t, err)
		assert.Equal(t, image.Rect(0, 0, 120, 90), img.Bounds())
		r, g, b, a := img.At(1, 1).RGBA()
		assert.Equal(t, []uint32{0, 200 * 0x101, 0, 0xffff}, []uint32{r, g, b, a})
	})

	t.Run("HEICPassthroughWhenListed", func(t *testing.T) {
		v := New()
		src := simplemedia.File{Name: "IMG_0001.HEIC", MimeType: "image/heic", Data: []byte("ftypheic-garbage")}
		res, err := v.Validate(ctx, src, simplemedia.KindPostImage)
		require.NoError(t, err)
		assert.False(t, res.Converted)
		assert.True(t, res.Passthrough)
		assert.Equal(t, "image/heic", res.File.MimeType)
	})

	t.Run("HEICRejectedWhenNotListed", func(t *testing.T) {
		v := New()
		src := simplemedia.File{Name: "IMG_0001.heic", MimeType: "image/heic", Data: []byte("ftypheic-garbage")}
		_, err := v.Validate(ctx, src, simplemedia.KindAvatar)
		requireRule(t, err, simplemedia.RuleType)
	})

	t.Run("PluggableDecoder", func(t *testing.T) {
		decode := func(r io.Reader) (image.Image, error) {
			return image.NewRGBA(image.Rect(0, 0, 128, 128)), nil
		}
		v := New(WithConverter(NewConverter(WithDecoder(MimeHEIC, decode))))
		src := simplemedia.File{Name: "IMG_0002.heic", MimeType: "image/heic", Data: []byte("ftypheic")}
		res, err := v.Validate(ctx, src, simplemedia.KindAvatar)
		require.NoError(t, err)
		assert.True(t, res.Converted)
		assert.Equal(t, 128, res.Width)
	})
}

func TestCameraFormat(t *testing.T) {
	format, ok := CameraFormat(simplemedia.File{Name: "raw.DNG"})
	assert.True(t, ok)
	assert.Equal(t, MimeDNG, format)

	format, ok = CameraFormat(simplemedia.File{Name: "x", MimeType: "image/heif; q=1"})
	assert.True(t, ok)
	assert.Equal(t, MimeHEIF, format)

	_, ok = CameraFormat(simplemedia.File{Name: "x.jpg", MimeType: "image/jpeg"})
	assert.False(t, ok)
}
