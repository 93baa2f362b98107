package simplemedia

import (
	"context"
	"io"
	"time"

	"github.com/google/uuid"
)

// BlobStore is the object store. Reads after writes are expected to be
// consistent within one process.
type BlobStore interface {
	// Put stores the reader's content under key.
	Put(ctx context.Context, key string, reader io.Reader, contentType string) error

	// Get opens the object stored under key. Missing objects return ErrNotFound.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the object stored under key.
	Delete(ctx context.Context, key string) error

	// Stat returns metadata for the object stored under key.
	Stat(ctx context.Context, key string) (*ObjectMeta, error)

	// List returns metadata for every object whose key starts with prefix.
	List(ctx context.Context, prefix string) ([]ObjectMeta, error)
}

// ObjectMeta describes a stored object.
type ObjectMeta struct {
	Key         string
	Size        int64
	ContentType string
	UpdatedAt   time.Time
	ETag        string
}

// Signer issues short-lived pre-authorized URLs. It must be idempotent and
// free of side effects.
type Signer interface {
	Sign(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// ProxyFetcher retrieves object bytes through a server-side proxy.
type ProxyFetcher interface {
	FetchBytes(ctx context.Context, key string) ([]byte, string, error)
}

// BlobMaterializer turns fetched bytes into a locally renderable URL.
type BlobMaterializer interface {
	Materialize(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// PersistedStore is durable storage for last-good values. Load returns
// ErrNotFound when no record exists.
type PersistedStore interface {
	Load(ctx context.Context, key string) (*PersistedEntry, error)
	Save(ctx context.Context, key string, entry PersistedEntry) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}

// AssetRepository persists MediaAsset records.
type AssetRepository interface {
	CreateAsset(ctx context.Context, asset *MediaAsset) error
	GetAsset(ctx context.Context, id uuid.UUID) (*MediaAsset, error)
	ListAssets(ctx context.Context, filter AssetFilter) ([]*MediaAsset, error)

	// ReplaceVariants swaps the whole variant map of an asset in one write.
	ReplaceVariants(ctx context.Context, id uuid.UUID, variants Variants) error

	DeleteAsset(ctx context.Context, id uuid.UUID) error
}

// DiagnosticSink receives total-resolution-failure signals for
// observability collaborators.
type DiagnosticSink interface {
	Emit(ctx context.Context, d Diagnostic)
}

// DiagnosticFunc adapts a function to DiagnosticSink.
type DiagnosticFunc func(ctx context.Context, d Diagnostic)

func (f DiagnosticFunc) Emit(ctx context.Context, d Diagnostic) {
	f(ctx, d)
}
