package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tendant/simple-media/pkg/simplemedia"
)

// Repository implements simplemedia.AssetRepository in memory
type Repository struct {
	mu     sync.RWMutex
	assets map[uuid.UUID]*simplemedia.MediaAsset
	now    func() time.Time
}

// New creates a new in-memory repository
func New() *Repository {
	return &Repository{
		assets: make(map[uuid.UUID]*simplemedia.MediaAsset),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func copyAsset(a *simplemedia.MediaAsset) *simplemedia.MediaAsset {
	c := *a
	c.Variants = a.Variants.Clone()
	return &c
}

func (r *Repository) CreateAsset(ctx context.Context, asset *simplemedia.MediaAsset) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if asset.CreatedAt.IsZero() {
		asset.CreatedAt = now
	}
	if asset.UpdatedAt.IsZero() {
		asset.UpdatedAt = asset.CreatedAt
	}
	// Store a copy so callers cannot mutate repository state
	r.assets[asset.ID] = copyAsset(asset)
	return nil
}

func (r *Repository) GetAsset(ctx context.Context, id uuid.UUID) (*simplemedia.MediaAsset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	asset, exists := r.assets[id]
	if !exists {
		return nil, simplemedia.ErrNotFound
	}
	return copyAsset(asset), nil
}

// ListAssets returns matching assets oldest first.
func (r *Repository) ListAssets(ctx context.Context, filter simplemedia.AssetFilter) ([]*simplemedia.MediaAsset, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*simplemedia.MediaAsset
	for _, a := range r.assets {
		if filter.OwnerID != nil && a.OwnerID != *filter.OwnerID {
			continue
		}
		if filter.Kind != nil && a.Kind != *filter.Kind {
			continue
		}
		if filter.MissingVariants && a.HasVariants() {
			continue
		}
		out = append(out, copyAsset(a))
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *Repository) ReplaceVariants(ctx context.Context, id uuid.UUID, variants simplemedia.Variants) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	asset, exists := r.assets[id]
	if !exists {
		return simplemedia.ErrNotFound
	}
	asset.Variants = variants.Clone()
	asset.UpdatedAt = r.now()
	return nil
}

func (r *Repository) DeleteAsset(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.assets[id]; !exists {
		return simplemedia.ErrNotFound
	}
	delete(r.assets, id)
	return nil
}

var _ simplemedia.AssetRepository = (*Repository)(nil)
