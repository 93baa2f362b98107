// Package file persists last-good URLs as one JSON document on disk.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/tendant/simple-media/pkg/simplemedia"
)

// Store keeps every record in memory and rewrites the file on each change.
type Store struct {
	mu      sync.Mutex
	path    string
	records map[string]simplemedia.PersistedEntry
}

// New opens the store at path, loading existing records. A missing file
// starts empty.
func New(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("persist file path is required")
	}
	s := &Store{path: path, records: make(map[string]simplemedia.PersistedEntry)}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s.records); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return s, nil
}

// Load returns the record for key.
func (s *Store) Load(ctx context.Context, key string) (*simplemedia.PersistedEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return nil, simplemedia.ErrNotFound
	}
	return &rec, nil
}

// Save writes the record for key.
func (s *Store) Save(ctx context.Context, key string, entry simplemedia.PersistedEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.records[key]
	s.records[key] = entry
	if err := s.flush(); err != nil {
		if had {
			s.records[key] = prev
		} else {
			delete(s.records, key)
		}
		return err
	}
	return nil
}

// Delete removes the record for key.
func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[key]; !ok {
		return simplemedia.ErrNotFound
	}
	delete(s.records, key)
	return s.flush()
}

// Clear removes every record.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]simplemedia.PersistedEntry)
	return s.flush()
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *Store) flush() error {
	data, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode records: %w", err)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".persist-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	return nil
}

var _ simplemedia.PersistedStore = (*Store)(nil)
