package strata

import (
	"errors"
	"fmt"
)

// Sentinel errors for programmatic error handling.
// Use errors.Is() to check for these error types.
var (
	// ErrDuplicatePrimary indicates two fields were marked as primary key.
	ErrDuplicatePrimary = errors.New("duplicate primary key")

	// ErrUnknownField indicates a field name not present in the schema.
	ErrUnknownField = errors.New("unknown field")

	// ErrFieldBound indicates a field already carries a modifier binding.
	ErrFieldBound = errors.New("field already bound")

	// ErrSchemaFrozen indicates a declaration was attempted after the schema
	// was used to build a model.
	ErrSchemaFrozen = errors.New("schema frozen")

	// ErrFieldType indicates a modifier was attached to a field of an
	// incompatible Go type.
	ErrFieldType = errors.New("incompatible field type")

	// ErrNotDefined indicates no schema was defined for the record type.
	ErrNotDefined = errors.New("record type not defined")

	// ErrUnknownAlgorithm indicates an unrecognized cipher or hash algorithm.
	ErrUnknownAlgorithm = errors.New("unknown algorithm")

	// ErrMissingKey indicates a required encryption key was not configured.
	ErrMissingKey = errors.New("missing key")

	// ErrMissingCodec indicates an operation required a codec and none was
	// configured.
	ErrMissingCodec = errors.New("missing codec")

	// ErrInvalidKeySize indicates an encryption key of unsupported length.
	ErrInvalidKeySize = errors.New("invalid key size")

	// ErrIntegrity indicates an authentication failure during unlock.
	// This is a security boundary: it is always surfaced, never treated as
	// an absent value.
	ErrIntegrity = errors.New("integrity check failed")

	// ErrMissingMetadata indicates stored modifier metadata (IV, tag, salt)
	// was absent or corrupted on unlock.
	ErrMissingMetadata = errors.New("missing metadata")

	// ErrNotFilterable indicates a predicate cannot be pushed down to the
	// locked representation and the caller must filter after reconstruction.
	ErrNotFilterable = errors.New("predicate not filterable")

	// ErrNotFound indicates the requested record key is absent.
	ErrNotFound = errors.New("record not found")

	// ErrLock indicates a field's forward transform failed.
	ErrLock = errors.New("lock failed")

	// ErrUnlock indicates a field's backward transform failed.
	ErrUnlock = errors.New("unlock failed")
)

// DeclarationError represents a record-type declaration failure.
// Declaration errors are fatal at startup and never recovered.
type DeclarationError struct {
	Err   error  // Underlying sentinel error (ErrDuplicatePrimary, etc.)
	Type  string // Record type name
	Field string // Field that triggered the error, if any
}

func (e *DeclarationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field %s)", e.Type, e.Err.Error(), e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Err.Error())
}

func (e *DeclarationError) Unwrap() error {
	return e.Err
}

// ConfigError represents a modifier configuration failure, surfaced at the
// first use of the affected modifier.
type ConfigError struct {
	Err       error  // Underlying sentinel error (ErrMissingKey, etc.)
	Algorithm string // Algorithm that was missing or invalid
	Field     string // Field whose binding triggered the error
}

func (e *ConfigError) Error() string {
	if e.Field != "" && e.Algorithm != "" {
		return fmt.Sprintf("%s for algorithm %q (field %s)", e.Err.Error(), e.Algorithm, e.Field)
	}
	if e.Algorithm != "" {
		return fmt.Sprintf("%s for algorithm %q", e.Err.Error(), e.Algorithm)
	}
	if e.Field != "" {
		return fmt.Sprintf("%s (field %s)", e.Err.Error(), e.Field)
	}
	return e.Err.Error()
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// IntegrityError represents an authentication or metadata failure during
// unlock. It always propagates; a tampered ciphertext must never resolve to
// a wrong plaintext or an absent value.
type IntegrityError struct {
	Err   error  // Underlying sentinel error (ErrIntegrity, ErrMissingMetadata)
	Field string // Field that failed
	Cause error  // Original error from the cipher, if any
}

func (e *IntegrityError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (field %s): %v", e.Err.Error(), e.Field, e.Cause)
	}
	return fmt.Sprintf("%s (field %s)", e.Err.Error(), e.Field)
}

func (e *IntegrityError) Unwrap() error {
	return e.Err
}

// TransformError represents a failure during a field transform.
type TransformError struct {
	Err       error  // Underlying sentinel error (ErrLock, ErrUnlock)
	Field     string // Field that failed
	Operation string // Operation that failed (lock, unlock)
	Cause     error  // Original error from the modifier
}

func (e *TransformError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s field %s: %v", e.Operation, e.Field, e.Cause)
	}
	return fmt.Sprintf("%s field %s", e.Operation, e.Field)
}

func (e *TransformError) Unwrap() error {
	return e.Err
}

// newDeclarationError creates a DeclarationError for schema declaration failures.
func newDeclarationError(sentinel error, typeName, field string) error {
	return &DeclarationError{Err: sentinel, Type: typeName, Field: field}
}

// newConfigError creates a ConfigError for missing or invalid modifier options.
func newConfigError(sentinel error, algorithm, field string) error {
	return &ConfigError{Err: sentinel, Algorithm: algorithm, Field: field}
}

// newIntegrityError creates an IntegrityError for unlock authentication failures.
func newIntegrityError(sentinel error, field string, cause error) error {
	return &IntegrityError{Err: sentinel, Field: field, Cause: cause}
}

// newTransformError creates a TransformError for field transform failures.
func newTransformError(sentinel error, operation, field string, cause error) error {
	return &TransformError{Err: sentinel, Field: field, Operation: operation, Cause: cause}
}
