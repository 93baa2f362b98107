package simplemedia

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Error types
var (
	// ErrNotFound indicates an object, asset or record does not exist
	ErrNotFound = errors.New("not found")

	// ErrUnknownKind indicates an asset kind outside the supported set
	ErrUnknownKind = errors.New("unknown media kind")

	// ErrValidation indicates an upload failed a validation rule
	ErrValidation = errors.New("validation failed")

	// ErrConversion indicates a camera-format re-encode failed
	ErrConversion = errors.New("format conversion failed")

	// ErrResolution indicates every resolution path for a key failed
	ErrResolution = errors.New("url resolution failed")

	// ErrGeneration indicates variant generation for an asset failed
	ErrGeneration = errors.New("variant generation failed")

	// ErrSourceUnavailable indicates no source object could be found for an asset
	ErrSourceUnavailable = errors.New("no source object available")

	// ErrNoSigner indicates signing was requested without a configured signer
	ErrNoSigner = errors.New("no signer configured")
)

// Validation rules named by ValidationError.Rule.
const (
	RuleSize       = "size"
	RuleType       = "type"
	RuleDimensions = "dimensions"
	RuleRequest    = "request"
)

// ValidationError names the rule an upload violated.
type ValidationError struct {
	Kind   Kind
	Rule   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s upload rejected (%s): %s", e.Kind, e.Rule, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// ResolutionError is returned once the whole fallback chain is exhausted.
type ResolutionError struct {
	Key           string
	NormalizedKey string
	Err           error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve %q (normalized %q): %v", e.Key, e.NormalizedKey, e.Err)
}

func (e *ResolutionError) Unwrap() []error {
	return []error{ErrResolution, e.Err}
}

// GenerationError represents a failed variant generation attempt
type GenerationError struct {
	AssetID uuid.UUID
	Variant VariantName
	Op      string
	Err     error
}

func (e *GenerationError) Error() string {
	if e.Variant != "" {
		return fmt.Sprintf("variant generation %s failed for asset %s (%s): %v", e.Op, e.AssetID, e.Variant, e.Err)
	}
	return fmt.Sprintf("variant generation %s failed for asset %s: %v", e.Op, e.AssetID, e.Err)
}

func (e *GenerationError) Unwrap() []error {
	return []error{ErrGeneration, e.Err}
}

// StorageError represents an error related to storage operations
type StorageError struct {
	Backend string
	Key     string
	Op      string
	Err     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage operation %s failed for key %s on backend %s: %v", e.Op, e.Key, e.Backend, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err is (or wraps) a validation failure.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}
