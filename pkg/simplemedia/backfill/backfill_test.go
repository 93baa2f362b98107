package backfill

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tendant/simple-media/pkg/simplemedia"
	repomemory "github.com/tendant/simple-media/pkg/simplemedia/repo/memory"
	"github.com/tendant/simple-media/pkg/simplemedia/storage/memory"
	"github.com/tendant/simple-media/pkg/simplemedia/variants"
)

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 64, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

type env struct {
	store *memory.Backend
	repo  *repomemory.Repository
	orch  *Orchestrator
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store := memory.New()
	repo := repomemory.New()
	gen := variants.New(store, repo)
	return &env{store: store, repo: repo, orch: New(repo, store, gen)}
}

// seed stores an asset with an original and no variants. Empty data leaves
// the original object absent.
func (e *env) seed(t *testing.T, owner uuid.UUID, kind simplemedia.Kind, data []byte) *simplemedia.MediaAsset {
	t.Helper()
	ctx := context.Background()
	id := uuid.New()
	asset := &simplemedia.MediaAsset{
		ID:          id,
		OwnerID:     owner,
		Kind:        kind,
		OriginalKey: simplemedia.VariantKey(owner, kind, id, simplemedia.VariantOriginal, "jpg"),
		ContentType: "image/jpeg",
	}
	if len(data) > 0 {
		require.NoError(t, e.store.Put(ctx, asset.OriginalKey, bytes.NewReader(data), "image/jpeg"))
	}
	require.NoError(t, e.repo.CreateAsset(ctx, asset))
	return asset
}

func TestRun_GeneratesMissingVariants(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	owner := uuid.New()
	a := e.seed(t, owner, simplemedia.KindAvatar, jpegBytes(t, 300, 300))
	b := e.seed(t, owner, simplemedia.KindCover, jpegBytes(t, 400, 200))

	result, err := e.orch.Run(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), result.TotalFound)
	assert.Equal(t, int64(2), result.TotalSucceeded)
	assert.Zero(t, result.TotalFailed)

	for _, id := range []uuid.UUID{a.ID, b.ID} {
		got, err := e.repo.GetAsset(ctx, id)
		require.NoError(t, err)
		assert.True(t, got.Variants.Complete(simplemedia.DefaultVariantSpecs))
	}
}

func TestRun_RerunIsNoop(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	asset := e.seed(t, uuid.New(), simplemedia.KindPostImage, jpegBytes(t, 200, 150))

	_, err := e.orch.Run(ctx, Options{})
	require.NoError(t, err)
	first, err := e.repo.GetAsset(ctx, asset.ID)
	require.NoError(t, err)
	objects := e.store.Len()

	result, err := e.orch.Run(ctx, Options{})
	require.NoError(t, err)
	assert.Zero(t, result.TotalFound)
	assert.Zero(t, result.TotalSucceeded)

	second, err := e.repo.GetAsset(ctx, asset.ID)
	require.NoError(t, err)
	assert.Equal(t, first.Variants, second.Variants)
	assert.Equal(t, objects, e.store.Len())
}

func TestRun_FailureIsIsolated(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	owner := uuid.New()
	good := e.seed(t, owner, simplemedia.KindAvatar, jpegBytes(t, 100, 100))
	broken := e.seed(t, owner, simplemedia.KindAvatar, []byte("not an image"))

	result, err := e.orch.Run(ctx, Options{Concurrency: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.TotalSucceeded)
	assert.Equal(t, int64(1), result.TotalFailed)
	assert.Equal(t, []string{broken.ID.String()}, result.FailedIDs)

	got, err := e.repo.GetAsset(ctx, good.ID)
	require.NoError(t, err)
	assert.True(t, got.HasVariants())

	got, err = e.repo.GetAsset(ctx, broken.ID)
	require.NoError(t, err)
	assert.False(t, got.HasVariants())
}

func TestRun_FallsBackToLargestObject(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	owner := uuid.New()
	asset := e.seed(t, owner, simplemedia.KindAvatar, nil)

	prefix := simplemedia.AssetPrefix(owner, simplemedia.KindAvatar, asset.ID)
	require.NoError(t, e.store.Put(ctx, prefix+"small.jpg", bytes.NewReader(jpegBytes(t, 10, 10)), "image/jpeg"))
	large := prefix + "upload.jpg"
	require.NoError(t, e.store.Put(ctx, large, bytes.NewReader(jpegBytes(t, 500, 500)), "image/jpeg"))

	result, err := e.orch.Run(ctx, Options{})
	require.NoError(t, err)
	require.Equal(t, int64(1), result.TotalSucceeded)

	got, err := e.repo.GetAsset(ctx, asset.ID)
	require.NoError(t, err)
	assert.Equal(t, large, got.Variants[simplemedia.VariantOriginal])
}

// failingStore rejects writes to keys containing failOn.
type failingStore struct {
	*memory.Backend
	failOn string
}

func (s *failingStore) Put(ctx context.Context, key string, r io.Reader, contentType string) error {
	if s.failOn != "" && strings.Contains(key, s.failOn) {
		return errors.New("store rejected write")
	}
	return s.Backend.Put(ctx, key, r, contentType)
}

func readAll(t *testing.T, store simplemedia.BlobStore, key string) []byte {
	t.Helper()
	rc, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return data
}

// seedVariantNamedSource leaves an asset whose only stored object is named
// like the large variant.
func seedVariantNamedSource(t *testing.T, store simplemedia.BlobStore, repo *repomemory.Repository) (*simplemedia.MediaAsset, string, []byte) {
	t.Helper()
	ctx := context.Background()
	owner, id := uuid.New(), uuid.New()
	asset := &simplemedia.MediaAsset{
		ID:          id,
		OwnerID:     owner,
		Kind:        simplemedia.KindAvatar,
		OriginalKey: simplemedia.VariantKey(owner, simplemedia.KindAvatar, id, simplemedia.VariantOriginal, "jpg"),
		ContentType: "image/jpeg",
	}
	require.NoError(t, repo.CreateAsset(ctx, asset))
	src := simplemedia.AssetPrefix(owner, simplemedia.KindAvatar, id) + "large.jpg"
	data := jpegBytes(t, 1600, 1600)
	require.NoError(t, store.Put(ctx, src, bytes.NewReader(data), "image/jpeg"))
	return asset, src, data
}

func TestRun_VariantNamedSourceSurvivesFailedGeneration(t *testing.T) {
	ctx := context.Background()
	store := &failingStore{Backend: memory.New(), failOn: "thumbnail"}
	repo := repomemory.New()
	orch := New(repo, store, variants.New(store, repo))
	asset, src, data := seedVariantNamedSource(t, store, repo)

	result, err := orch.Run(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.TotalFailed)

	_, err = store.Stat(ctx, src)
	assert.NoError(t, err, "source object must not be deleted")

	saved := simplemedia.AssetPrefix(asset.OwnerID, asset.Kind, asset.ID) + "original.jpg"
	assert.Equal(t, data, readAll(t, store, saved))

	got, err := repo.GetAsset(ctx, asset.ID)
	require.NoError(t, err)
	assert.False(t, got.HasVariants())

	store.failOn = ""
	result, err = orch.Run(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.TotalSucceeded)
	got, err = repo.GetAsset(ctx, asset.ID)
	require.NoError(t, err)
	assert.Equal(t, saved, got.Variants[simplemedia.VariantOriginal])
	assert.Equal(t, data, readAll(t, store, saved))
}

func TestRun_VariantNamedSourceIsSavedAsOriginal(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	asset, src, data := seedVariantNamedSource(t, e.store, e.repo)

	result, err := e.orch.Run(ctx, Options{})
	require.NoError(t, err)
	require.Equal(t, int64(1), result.TotalSucceeded)

	got, err := e.repo.GetAsset(ctx, asset.ID)
	require.NoError(t, err)
	original := got.Variants[simplemedia.VariantOriginal]
	assert.Equal(t, simplemedia.AssetPrefix(asset.OwnerID, asset.Kind, asset.ID)+"original.jpg", original)
	assert.NotEqual(t, got.Variants[simplemedia.VariantLarge], original)
	assert.Equal(t, src, got.Variants[simplemedia.VariantLarge])
	assert.Equal(t, data, readAll(t, e.store, original))

	large, _, err := image.DecodeConfig(bytes.NewReader(readAll(t, e.store, src)))
	require.NoError(t, err)
	assert.Equal(t, 1280, large.Width)
}

func TestRun_NoSourceFails(t *testing.T) {
	e := newEnv(t)
	asset := e.seed(t, uuid.New(), simplemedia.KindCover, nil)

	result, err := e.orch.Run(context.Background(), Options{})
	require.NoError(t, err)
	require.Len(t, result.Assets, 1)
	assert.Equal(t, asset.ID, result.Assets[0].AssetID)
	assert.False(t, result.Assets[0].Success)
	assert.True(t, errors.Is(result.Assets[0].Err, simplemedia.ErrSourceUnavailable))
}

func TestRun_DryRunChangesNothing(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	asset := e.seed(t, uuid.New(), simplemedia.KindAvatar, jpegBytes(t, 100, 100))
	objects := e.store.Len()

	result, err := e.orch.Run(ctx, Options{DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.TotalFound)
	require.Len(t, result.Assets, 1)
	assert.True(t, result.Assets[0].DryRun)

	got, err := e.repo.GetAsset(ctx, asset.ID)
	require.NoError(t, err)
	assert.False(t, got.HasVariants())
	assert.Equal(t, objects, e.store.Len())
}

func TestRun_ScopeAndVideoExclusion(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	owner, other := uuid.New(), uuid.New()
	mine := e.seed(t, owner, simplemedia.KindAvatar, jpegBytes(t, 64, 64))
	e.seed(t, other, simplemedia.KindAvatar, jpegBytes(t, 64, 64))
	e.seed(t, owner, simplemedia.KindPostVideo, []byte("video"))

	result, err := e.orch.Run(ctx, Options{Scope: Scope{OwnerID: &owner}})
	require.NoError(t, err)
	require.Equal(t, int64(1), result.TotalFound)
	assert.Equal(t, mine.ID, result.Assets[0].AssetID)
}

// staleRepo reports every asset as missing variants, as a lagging read
// replica might.
type staleRepo struct {
	*repomemory.Repository
	listed []*simplemedia.MediaAsset
}

func (r *staleRepo) ListAssets(ctx context.Context, filter simplemedia.AssetFilter) ([]*simplemedia.MediaAsset, error) {
	if filter.Offset > 0 {
		return nil, nil
	}
	return r.listed, nil
}

func TestRun_SkipsAssetsCompletedSinceListing(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	asset := e.seed(t, uuid.New(), simplemedia.KindAvatar, jpegBytes(t, 64, 64))
	listed := *asset
	done := simplemedia.Variants{simplemedia.VariantOriginal: asset.OriginalKey, simplemedia.VariantThumbnail: "x"}
	require.NoError(t, e.repo.ReplaceVariants(ctx, asset.ID, done))

	repo := &staleRepo{Repository: e.repo, listed: []*simplemedia.MediaAsset{&listed}}
	orch := New(repo, e.store, variants.New(e.store, repo))

	result, err := orch.Run(ctx, Options{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), result.TotalSkipped)
	assert.Zero(t, result.TotalSucceeded)

	got, err := e.repo.GetAsset(ctx, asset.ID)
	require.NoError(t, err)
	assert.Equal(t, done, got.Variants)
}

func TestRun_ReportsProgress(t *testing.T) {
	e := newEnv(t)
	owner := uuid.New()
	for i := 0; i < 3; i++ {
		e.seed(t, owner, simplemedia.KindAvatar, jpegBytes(t, 32, 32))
	}

	var mu sync.Mutex
	var calls []int64
	_, err := e.orch.Run(context.Background(), Options{
		BatchSize: 2,
		OnProgress: func(done, total int64) {
			mu.Lock()
			defer mu.Unlock()
			assert.Equal(t, int64(3), total)
			calls = append(calls, done)
		},
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{1, 2, 3}, calls)
}
