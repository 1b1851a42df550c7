package strata

import (
	"encoding/base64"
	"fmt"
)

// Kind identifies a modifier implementation.
type Kind string

const (
	// KindEncrypt is reversible AEAD encryption.
	KindEncrypt Kind = "encrypt"

	// KindHash is a one-way salted digest.
	KindHash Kind = "hash"

	// KindLocalize stores a locale→value map with fallback resolution.
	KindLocalize Kind = "localize"
)

// CipherAlgo represents a supported encryption algorithm.
// Use these constants in struct tags: `lock.encrypt:"aes-gcm"`
type CipherAlgo string

const (
	// CipherAESGCM uses AES-GCM authenticated encryption.
	// Key must be 16, 24, or 32 bytes.
	CipherAESGCM CipherAlgo = "aes-gcm"

	// CipherXChaCha uses XChaCha20-Poly1305 authenticated encryption.
	// Key must be 32 bytes.
	CipherXChaCha CipherAlgo = "xchacha20"
)

// HashAlgo represents a supported hashing algorithm.
// Use these constants in struct tags: `lock.hash:"sha256"`
type HashAlgo string

const (
	// HashSHA256 uses a salted SHA-256 digest (default).
	HashSHA256 HashAlgo = "sha256"

	// HashSHA512 uses a salted SHA-512 digest.
	HashSHA512 HashAlgo = "sha512"

	// HashArgon2 uses Argon2id password hashing. Salt and parameters are
	// encoded in the locked value itself.
	HashArgon2 HashAlgo = "argon2id"

	// HashBcrypt uses bcrypt password hashing. Salt is encoded in the
	// locked value itself.
	HashBcrypt HashAlgo = "bcrypt"
)

// validCipherAlgos contains all valid cipher algorithms for tag validation.
var validCipherAlgos = map[CipherAlgo]bool{
	CipherAESGCM:  true,
	CipherXChaCha: true,
}

// validHashAlgos contains all valid hash algorithms for tag validation.
var validHashAlgos = map[HashAlgo]bool{
	HashSHA256: true,
	HashSHA512: true,
	HashArgon2: true,
	HashBcrypt: true,
}

// IsValidCipherAlgo returns true if the algorithm is a known cipher algorithm.
func IsValidCipherAlgo(algo CipherAlgo) bool {
	return validCipherAlgos[algo]
}

// IsValidHashAlgo returns true if the algorithm is a known hash algorithm.
func IsValidHashAlgo(algo HashAlgo) bool {
	return validHashAlgos[algo]
}

// Metadata is the auxiliary side channel a modifier produces during lock.
// It is serialized next to the locked value in the storage row under
// deterministic keys and must round-trip: losing it makes unlock fail.
type Metadata map[string]string

// Metadata keys used by the built-in modifiers.
const (
	// MetaIV is the initialization vector, base64-encoded.
	MetaIV = "iv"

	// MetaTag is the authentication tag, base64-encoded.
	MetaTag = "tag"

	// MetaSalt is the digest salt, base64-encoded.
	MetaSalt = "salt"
)

// Locked is the storage-level representation of a transformed field value.
type Locked struct {
	Value string
	Meta  Metadata
}

// Modifier is the one-way capability contract. A modifier instance is bound
// to one (record type, field) pair with frozen options.
//
// Lock and Verify are synchronous, CPU-bound transforms: they never suspend
// and have no side effects beyond the returned value.
type Modifier interface {
	// Kind identifies the modifier implementation.
	Kind() Kind

	// Lock converts a plain value to its locked representation. prev is the
	// previously locked value for the same field, or nil on first set; it
	// lets modifiers reuse per-field state (digest salts, locale maps).
	//
	// A nil plain value means "no change": Lock must return (nil, nil) so
	// the record-building layer can tell "unset" apart from a transformed
	// empty value.
	Lock(prev *Locked, plain any) (*Locked, error)

	// Verify re-locks candidate against the stored value's metadata and
	// compares. It never fails for a non-matching candidate; it returns
	// false.
	Verify(stored *Locked, candidate any) bool
}

// Reversible is the two-way capability contract: its locked representation
// can be converted back to the plain value.
type Reversible interface {
	Modifier

	// Unlock reconstructs the plain value from its locked representation
	// and metadata. It fails with an IntegrityError when metadata is absent
	// or authentication fails; that failure must propagate, never be
	// swallowed.
	Unlock(stored *Locked) (any, error)

	// QueryValue adapts a plain filter value to the locked representation
	// so predicates can be pushed down to storage. When the transform is
	// not filter-safe (non-deterministic encryption, per-row salts), it
	// returns ErrNotFilterable and the caller must filter after
	// reconstruction.
	QueryValue(plain any) (any, error)
}

// Options carries the frozen per-binding modifier configuration.
type Options struct {
	// Algorithm names the cipher or hash algorithm. Empty selects the
	// modifier's default.
	Algorithm string

	// Fallback is the localization fallback locale.
	Fallback string

	// IVSize overrides the encryption IV size in bytes. Zero selects the
	// algorithm default.
	IVSize int
}

// Binding associates one field of a record type with one modifier kind and
// its frozen options. Bindings are created at declaration time and are
// immutable.
type Binding struct {
	Field   string
	Kind    Kind
	Options Options
}

// encode is the wire encoding for ciphertexts and metadata values.
func encode(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

func decode(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

// decodeMeta reads and decodes one metadata key, reporting absence or
// corruption as an integrity failure.
func decodeMeta(meta Metadata, key string) ([]byte, error) {
	s, ok := meta[key]
	if !ok {
		return nil, newIntegrityError(ErrMissingMetadata, "", fmt.Errorf("metadata key %q absent", key))
	}
	b, err := decode(s)
	if err != nil {
		return nil, newIntegrityError(ErrMissingMetadata, "", err)
	}
	return b, nil
}

// plainBytes converts a plain value to its byte serialization for hashing
// and encryption.
func plainBytes(plain any) ([]byte, error) {
	switch v := plain.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		return nil, fmt.Errorf("unsupported plain value type %T", plain)
	}
}
