package validation

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"io"
	"path"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/tendant/simple-media/pkg/simplemedia"
	"golang.org/x/image/tiff"
)

// DecodeFunc decodes one camera-native format.
type DecodeFunc func(r io.Reader) (image.Image, error)

// Camera-native formats that lack broad decode support.
const (
	MimeHEIC = "image/heic"
	MimeHEIF = "image/heif"
	MimeTIFF = "image/tiff"
	MimeDNG  = "image/x-adobe-dng"
)

var cameraExtensions = map[string]string{
	"heic": MimeHEIC,
	"heif": MimeHEIF,
	"tif":  MimeTIFF,
	"tiff": MimeTIFF,
	"dng":  MimeDNG,
}

var registry = struct {
	sync.RWMutex
	decoders map[string]DecodeFunc
}{
	decoders: map[string]DecodeFunc{
		MimeTIFF: tiff.Decode,
		MimeDNG:  tiff.Decode,
	},
}

// RegisterDecoder installs a process-wide decoder for a camera format,
// e.g. a cgo HEIC decoder. TIFF and DNG are built in.
func RegisterDecoder(mimeType string, fn DecodeFunc) {
	registry.Lock()
	defer registry.Unlock()
	registry.decoders[strings.ToLower(mimeType)] = fn
}

// CameraFormat reports the camera-native format of f, judged by declared
// type, then extension, then content.
func CameraFormat(f simplemedia.File) (string, bool) {
	declared := baseMime(f.MimeType)
	if declared == "image/heic-sequence" {
		declared = MimeHEIC
	}
	if isCameraMime(declared) {
		return declared, true
	}
	if m, ok := cameraExtensions[extension(f.Name)]; ok {
		return m, true
	}
	if len(f.Data) > 0 && (declared == "" || declared == "application/octet-stream") {
		sniffed := baseMime(mimetype.Detect(f.Data).String())
		if isCameraMime(sniffed) {
			return sniffed, true
		}
	}
	return "", false
}

func isCameraMime(m string) bool {
	switch m {
	case MimeHEIC, MimeHEIF, MimeTIFF, MimeDNG:
		return true
	}
	return false
}

// Converter re-encodes camera-native formats as PNG.
type Converter struct {
	decoders map[string]DecodeFunc
}

// ConverterOption configures a Converter
type ConverterOption func(*Converter)

// WithDecoder adds a decoder local to this converter. It takes precedence
// over RegisterDecoder.
func WithDecoder(mimeType string, fn DecodeFunc) ConverterOption {
	return func(c *Converter) {
		c.decoders[strings.ToLower(mimeType)] = fn
	}
}

// NewConverter creates a Converter.
func NewConverter(opts ...ConverterOption) *Converter {
	c := &Converter{decoders: make(map[string]DecodeFunc)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Converter) decoder(mimeType string) (DecodeFunc, bool) {
	if fn, ok := c.decoders[mimeType]; ok {
		return fn, true
	}
	registry.RLock()
	defer registry.RUnlock()
	fn, ok := registry.decoders[mimeType]
	return fn, ok
}

// Convert decodes f as the given camera format and returns a PNG copy. PNG
// is lossless, so pixels survive unchanged.
func (c *Converter) Convert(f simplemedia.File, format string) (simplemedia.File, error) {
	decode, ok := c.decoder(format)
	if !ok {
		return f, fmt.Errorf("%w: no decoder for %s", simplemedia.ErrConversion, format)
	}
	img, err := decode(bytes.NewReader(f.Data))
	if err != nil {
		return f, fmt.Errorf("%w: decode %s: %v", simplemedia.ErrConversion, format, err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return f, fmt.Errorf("%w: encode png: %v", simplemedia.ErrConversion, err)
	}

	name := strings.TrimSuffix(f.Name, path.Ext(f.Name)) + ".png"
	return simplemedia.File{
		Name:     name,
		Size:     int64(buf.Len()),
		MimeType: "image/png",
		Data:     buf.Bytes(),
	}, nil
}

func extension(name string) string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
}

func baseMime(m string) string {
	if i := strings.IndexByte(m, ';'); i >= 0 {
		m = m[:i]
	}
	return strings.ToLower(strings.TrimSpace(m))
}
