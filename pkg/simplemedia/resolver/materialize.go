package resolver

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"mime"
	"net/url"
	"os"
	"path/filepath"

	"github.com/tendant/simple-media/pkg/simplemedia"
)

// DataURLMaterializer inlines fetched bytes as a data: URL.
type DataURLMaterializer struct{}

// Materialize implements simplemedia.BlobMaterializer.
func (DataURLMaterializer) Materialize(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

// FileMaterializer writes fetched bytes under a cache directory and returns a
// file:// URL. Files are named by key hash so repeat fetches overwrite.
type FileMaterializer struct {
	Dir string
}

// Materialize implements simplemedia.BlobMaterializer.
func (m FileMaterializer) Materialize(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := os.MkdirAll(m.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create blob dir: %w", err)
	}
	sum := sha256.Sum256([]byte(key))
	name := hex.EncodeToString(sum[:16])
	if exts, _ := mime.ExtensionsByType(contentType); len(exts) > 0 {
		name += exts[0]
	}

	path := filepath.Join(m.Dir, name)
	tmp, err := os.CreateTemp(m.Dir, ".blob-*")
	if err != nil {
		return "", fmt.Errorf("create blob: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write blob: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close blob: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("store blob: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return (&url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}).String(), nil
}

var (
	_ simplemedia.BlobMaterializer = DataURLMaterializer{}
	_ simplemedia.BlobMaterializer = FileMaterializer{}
)
