// Package simplemedia resolves object-storage keys into renderable URLs and
// derives a fixed family of resized variants from uploaded images.
//
// The root package holds the domain model (MediaAsset, CacheEntry, Kind,
// VariantName), the collaborator interfaces (BlobStore, AssetRepository,
// Signer, ProxyFetcher, PersistedStore, DiagnosticSink) and the error
// taxonomy. Components live in subpackages:
//
//   - validation: upload gating and camera-format normalization
//   - keycache: TTL cache with last-good and persisted fallbacks
//   - dedup: one in-flight resolution per normalized key
//   - resolver: signed -> proxied -> last-good -> persisted fallback chain
//   - variants: resize/crop family generation with all-or-nothing commit
//   - backfill: batch regeneration for assets missing variants
//   - upload: the upload coordinator tying validation and generation together
//
// Storage backends (memory, fs, s3) and asset repositories (memory, postgres)
// are provided under storage/ and repo/.
package simplemedia
