package fs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/gabriel-vasile/mimetype"
	"github.com/tendant/simple-media/pkg/simplemedia"
)

// Backend is a filesystem implementation of the simplemedia.BlobStore interface
type Backend struct {
	mu      sync.RWMutex
	baseDir string
}

// Config options for the filesystem backend
type Config struct {
	BaseDir string // Base directory for storing files
}

// New creates a new filesystem storage backend
func New(config Config) (*Backend, error) {
	if config.BaseDir == "" {
		return nil, errors.New("base directory is required")
	}

	if err := os.MkdirAll(config.BaseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &Backend{baseDir: filepath.Clean(config.BaseDir)}, nil
}

// path maps an object key to a file below baseDir, rejecting keys that would
// escape it.
func (b *Backend) path(key string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(strings.TrimLeft(key, "/")))
	if clean == "." || strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return filepath.Join(b.baseDir, clean), nil
}

// Put writes content to the filesystem through a temp file and rename
func (b *Backend) Put(ctx context.Context, key string, reader io.Reader, contentType string) error {
	filePath, err := b.path(key)
	if err != nil {
		return &simplemedia.StorageError{Backend: "fs", Key: key, Op: "put", Err: err}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return &simplemedia.StorageError{Backend: "fs", Key: key, Op: "put", Err: fmt.Errorf("failed to create directory: %w", err)}
	}

	tmp, err := os.CreateTemp(filepath.Dir(filePath), ".upload-*")
	if err != nil {
		return &simplemedia.StorageError{Backend: "fs", Key: key, Op: "put", Err: err}
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, reader); err != nil {
		tmp.Close()
		return &simplemedia.StorageError{Backend: "fs", Key: key, Op: "put", Err: fmt.Errorf("failed to write file: %w", err)}
	}
	if err := tmp.Close(); err != nil {
		return &simplemedia.StorageError{Backend: "fs", Key: key, Op: "put", Err: err}
	}
	if err := os.Rename(tmp.Name(), filePath); err != nil {
		return &simplemedia.StorageError{Backend: "fs", Key: key, Op: "put", Err: err}
	}
	return nil
}

// Get opens a stored file
func (b *Backend) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	filePath, err := b.path(key)
	if err != nil {
		return nil, &simplemedia.StorageError{Backend: "fs", Key: key, Op: "get", Err: err}
	}

	file, err := os.Open(filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, simplemedia.ErrNotFound
	} else if err != nil {
		return nil, &simplemedia.StorageError{Backend: "fs", Key: key, Op: "get", Err: err}
	}
	return file, nil
}

// Delete removes a stored file and prunes empty parent directories
func (b *Backend) Delete(ctx context.Context, key string) error {
	filePath, err := b.path(key)
	if err != nil {
		return &simplemedia.StorageError{Backend: "fs", Key: key, Op: "delete", Err: err}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if err := os.Remove(filePath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return simplemedia.ErrNotFound
		}
		return &simplemedia.StorageError{Backend: "fs", Key: key, Op: "delete", Err: err}
	}

	b.cleanupEmptyDirectories(filepath.Dir(filePath))
	return nil
}

// Stat returns file metadata; the content type is sniffed from the file head
func (b *Backend) Stat(ctx context.Context, key string) (*simplemedia.ObjectMeta, error) {
	filePath, err := b.path(key)
	if err != nil {
		return nil, &simplemedia.StorageError{Backend: "fs", Key: key, Op: "stat", Err: err}
	}

	info, err := os.Stat(filePath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, simplemedia.ErrNotFound
	} else if err != nil {
		return nil, &simplemedia.StorageError{Backend: "fs", Key: key, Op: "stat", Err: err}
	}

	contentType := "application/octet-stream"
	if mt, err := mimetype.DetectFile(filePath); err == nil {
		contentType = mt.String()
	}

	return &simplemedia.ObjectMeta{
		Key:         key,
		Size:        info.Size(),
		ContentType: contentType,
		UpdatedAt:   info.ModTime(),
	}, nil
}

// List walks the directory tree and returns objects whose key has prefix
func (b *Backend) List(ctx context.Context, prefix string) ([]simplemedia.ObjectMeta, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []simplemedia.ObjectMeta
	err := filepath.WalkDir(b.baseDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".upload-") {
			return nil
		}
		rel, err := filepath.Rel(b.baseDir, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, simplemedia.ObjectMeta{Key: key, Size: info.Size(), UpdatedAt: info.ModTime()})
		return nil
	})
	if err != nil {
		return nil, &simplemedia.StorageError{Backend: "fs", Key: prefix, Op: "list", Err: err}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// cleanupEmptyDirectories recursively removes empty directories up to baseDir
func (b *Backend) cleanupEmptyDirectories(dir string) {
	if dir == b.baseDir || !strings.HasPrefix(dir, b.baseDir) {
		return
	}

	if entries, err := os.ReadDir(dir); err == nil && len(entries) == 0 {
		if os.Remove(dir) == nil {
			b.cleanupEmptyDirectories(filepath.Dir(dir))
		}
	}
}

var _ simplemedia.BlobStore = (*Backend)(nil)
