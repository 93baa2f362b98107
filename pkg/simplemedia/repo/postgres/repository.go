package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tendant/simple-media/pkg/simplemedia"
)

// Schema creates the media_asset table. Variants are stored as one JSONB
// document so a replacement is a single-row write.
const Schema = `
CREATE TABLE IF NOT EXISTS media_asset (
	id            UUID PRIMARY KEY,
	owner_id      UUID NOT NULL,
	kind          TEXT NOT NULL,
	original_key  TEXT NOT NULL,
	content_type  TEXT NOT NULL DEFAULT '',
	size          BIGINT NOT NULL DEFAULT 0,
	variants      JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS media_asset_owner_kind_idx ON media_asset (owner_id, kind);
CREATE INDEX IF NOT EXISTS media_asset_missing_variants_idx ON media_asset (created_at) WHERE variants = '{}'::jsonb;
`

// DBTX is satisfied by a pool, a connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Repository implements simplemedia.AssetRepository using PostgreSQL
type Repository struct {
	db DBTX
}

// New creates a new PostgreSQL repository
func New(db DBTX) *Repository {
	return &Repository{db: db}
}

// NewWithPool creates a new PostgreSQL repository with connection pool
func NewWithPool(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

// Migrate applies Schema.
func (r *Repository) Migrate(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, Schema); err != nil {
		return r.handlePostgresError("migrate", err)
	}
	return nil
}

func (r *Repository) handlePostgresError(operation string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return simplemedia.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%s: asset already exists", operation)
		case "23502": // not_null_violation
			return fmt.Errorf("%s: required field %s is missing", operation, pgErr.ColumnName)
		case "42P01": // undefined_table
			return fmt.Errorf("%s: table does not exist - database migration required", operation)
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}
	return fmt.Errorf("database error in %s: %w", operation, err)
}

func encodeVariants(v simplemedia.Variants) ([]byte, error) {
	if v == nil {
		v = simplemedia.Variants{}
	}
	return json.Marshal(v)
}

const selectColumns = `id, owner_id, kind, original_key, content_type, size, variants, created_at, updated_at`

func scanAsset(row pgx.Row) (*simplemedia.MediaAsset, error) {
	var (
		a   simplemedia.MediaAsset
		raw []byte
	)
	if err := row.Scan(&a.ID, &a.OwnerID, &a.Kind, &a.OriginalKey, &a.ContentType, &a.Size, &raw, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &a.Variants); err != nil {
			return nil, fmt.Errorf("decode variants of %s: %w", a.ID, err)
		}
	}
	if len(a.Variants) == 0 {
		a.Variants = nil
	}
	return &a, nil
}

func (r *Repository) CreateAsset(ctx context.Context, asset *simplemedia.MediaAsset) error {
	variants, err := encodeVariants(asset.Variants)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO media_asset (
			id, owner_id, kind, original_key, content_type, size, variants, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, COALESCE($8, NOW()), COALESCE($9, NOW()))
		RETURNING created_at, updated_at`

	var createdAt, updatedAt any
	if !asset.CreatedAt.IsZero() {
		createdAt = asset.CreatedAt
	}
	if !asset.UpdatedAt.IsZero() {
		updatedAt = asset.UpdatedAt
	}

	err = r.db.QueryRow(ctx, query,
		asset.ID, asset.OwnerID, string(asset.Kind), asset.OriginalKey,
		asset.ContentType, asset.Size, variants, createdAt, updatedAt,
	).Scan(&asset.CreatedAt, &asset.UpdatedAt)
	if err != nil {
		return r.handlePostgresError("create asset", err)
	}
	return nil
}

func (r *Repository) GetAsset(ctx context.Context, id uuid.UUID) (*simplemedia.MediaAsset, error) {
	query := `SELECT ` + selectColumns + ` FROM media_asset WHERE id = $1`
	asset, err := scanAsset(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, r.handlePostgresError("get asset", err)
	}
	return asset, nil
}

// ListAssets returns matching assets oldest first.
func (r *Repository) ListAssets(ctx context.Context, filter simplemedia.AssetFilter) ([]*simplemedia.MediaAsset, error) {
	var (
		where []string
		args  []any
	)
	if filter.OwnerID != nil {
		args = append(args, *filter.OwnerID)
		where = append(where, fmt.Sprintf("owner_id = $%d", len(args)))
	}
	if filter.Kind != nil {
		args = append(args, string(*filter.Kind))
		where = append(where, fmt.Sprintf("kind = $%d", len(args)))
	}
	if filter.MissingVariants {
		where = append(where, "variants = '{}'::jsonb")
	}

	query := `SELECT ` + selectColumns + ` FROM media_asset`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, r.handlePostgresError("list assets", err)
	}
	defer rows.Close()

	var out []*simplemedia.MediaAsset
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, r.handlePostgresError("list assets", err)
		}
		out = append(out, asset)
	}
	if err := rows.Err(); err != nil {
		return nil, r.handlePostgresError("list assets", err)
	}
	return out, nil
}

// ReplaceVariants overwrites the whole variant document in one UPDATE.
func (r *Repository) ReplaceVariants(ctx context.Context, id uuid.UUID, variants simplemedia.Variants) error {
	raw, err := encodeVariants(variants)
	if err != nil {
		return err
	}
	tag, err := r.db.Exec(ctx, `UPDATE media_asset SET variants = $2, updated_at = NOW() WHERE id = $1`, id, raw)
	if err != nil {
		return r.handlePostgresError("replace variants", err)
	}
	if tag.RowsAffected() == 0 {
		return simplemedia.ErrNotFound
	}
	return nil
}

func (r *Repository) DeleteAsset(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM media_asset WHERE id = $1`, id)
	if err != nil {
		return r.handlePostgresError("delete asset", err)
	}
	if tag.RowsAffected() == 0 {
		return simplemedia.ErrNotFound
	}
	return nil
}

var _ simplemedia.AssetRepository = (*Repository)(nil)
