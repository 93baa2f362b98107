package variants

import (
	"bytes"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/jpegli"
	"github.com/tendant/simple-media/pkg/simplemedia"
)

// Encoding selects the output format of derived variants.
type Encoding string

const (
	// EncodingJPEG writes sequential JPEG at the configured quality with
	// unsubsampled (4:4:4) chroma.
	EncodingJPEG Encoding = "jpeg"

	// EncodingPNG writes lossless PNG.
	EncodingPNG Encoding = "png"
)

// ChromaSubsampling is the chroma layout of JPEG variants.
const ChromaSubsampling = image.YCbCrSubsampleRatio444

// DefaultJPEGQuality is the fixed quality used for photographic variants.
const DefaultJPEGQuality = 90

// Derive produces one variant of src. Aspect-preserving kinds scale so the
// long edge equals size. Other kinds get a centre-cropped size×size square.
func Derive(src image.Image, kind simplemedia.Kind, size int) *image.NRGBA {
	if kind.PreservesAspect() {
		b := src.Bounds()
		if b.Dx() >= b.Dy() {
			return imaging.Resize(src, size, 0, imaging.Lanczos)
		}
		return imaging.Resize(src, 0, size, imaging.Lanczos)
	}
	return imaging.Fill(src, size, size, imaging.Center, imaging.Lanczos)
}

// Decode reads an image and applies its EXIF orientation.
func Decode(data []byte) (image.Image, error) {
	return imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
}

func (e Encoding) extension() string {
	if e == EncodingPNG {
		return "png"
	}
	return "jpg"
}

func (e Encoding) contentType() string {
	if e == EncodingPNG {
		return "image/png"
	}
	return "image/jpeg"
}

func encode(img image.Image, enc Encoding, quality int) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch enc {
	case EncodingPNG:
		err = imaging.Encode(&buf, img, imaging.PNG)
	case EncodingJPEG:
		err = jpegli.Encode(&buf, img, &jpegli.EncodingOptions{
			Quality:           quality,
			ChromaSubsampling: ChromaSubsampling,
			OptimizeCoding:    true,
		})
	default:
		return nil, fmt.Errorf("unsupported encoding %q", enc)
	}
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
