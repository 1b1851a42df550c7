package strata

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// DefaultIVSize is the initialization vector size used by aes-gcm when no
// override is configured.
const DefaultIVSize = 16

// cipherModifier implements reversible AEAD encryption. The IV and the
// authentication tag are carried as metadata rather than folded into the
// ciphertext, so the storage row exposes them under their own auxiliary keys.
type cipherModifier struct {
	algo CipherAlgo
	aead cipher.AEAD
}

// newCipherModifier builds an AEAD for the given algorithm and key.
func newCipherModifier(algo CipherAlgo, key []byte, ivSize int) (*cipherModifier, error) {
	switch algo {
	case CipherAESGCM:
		if len(key) != 16 && len(key) != 24 && len(key) != 32 {
			return nil, fmt.Errorf("%w: must be 16, 24, or 32 bytes, got %d", ErrInvalidKeySize, len(key))
		}
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		if ivSize == 0 {
			ivSize = DefaultIVSize
		}
		gcm, err := cipher.NewGCMWithNonceSize(block, ivSize)
		if err != nil {
			return nil, err
		}
		return &cipherModifier{algo: algo, aead: gcm}, nil

	case CipherXChaCha:
		if len(key) != chacha20poly1305.KeySize {
			return nil, fmt.Errorf("%w: must be %d bytes, got %d", ErrInvalidKeySize, chacha20poly1305.KeySize, len(key))
		}
		if ivSize != 0 && ivSize != chacha20poly1305.NonceSizeX {
			return nil, fmt.Errorf("%w: xchacha20 IV must be %d bytes", ErrInvalidKeySize, chacha20poly1305.NonceSizeX)
		}
		aead, err := chacha20poly1305.NewX(key)
		if err != nil {
			return nil, err
		}
		return &cipherModifier{algo: algo, aead: aead}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, algo)
	}
}

func (m *cipherModifier) Kind() Kind {
	return KindEncrypt
}

// Lock encrypts the plain value with a fresh random IV. The ciphertext is
// stored base64-encoded; IV and auth tag go into metadata.
func (m *cipherModifier) Lock(_ *Locked, plain any) (*Locked, error) {
	if plain == nil {
		return nil, nil
	}

	pt, err := plainBytes(plain)
	if err != nil {
		return nil, err
	}

	iv := make([]byte, m.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, err
	}

	sealed := m.aead.Seal(nil, iv, pt, nil)
	split := len(sealed) - m.aead.Overhead()
	ct, tag := sealed[:split], sealed[split:]

	return &Locked{
		Value: encode(ct),
		Meta: Metadata{
			MetaIV:  encode(iv),
			MetaTag: encode(tag),
		},
	}, nil
}

// Unlock decrypts using the stored IV and auth tag. A missing IV or tag, or
// a tag verification failure, surfaces as an IntegrityError.
func (m *cipherModifier) Unlock(stored *Locked) (any, error) {
	if stored == nil {
		return nil, newIntegrityError(ErrMissingMetadata, "", nil)
	}

	iv, ivErr := decodeMeta(stored.Meta, MetaIV)
	tag, tagErr := decodeMeta(stored.Meta, MetaTag)
	if ivErr != nil {
		return nil, ivErr
	}
	if tagErr != nil {
		return nil, tagErr
	}
	if len(iv) != m.aead.NonceSize() {
		return nil, newIntegrityError(ErrMissingMetadata, "", fmt.Errorf("iv size %d, want %d", len(iv), m.aead.NonceSize()))
	}

	ct, err := decode(stored.Value)
	if err != nil {
		return nil, newIntegrityError(ErrMissingMetadata, "", err)
	}

	pt, err := m.aead.Open(nil, iv, append(ct, tag...), nil)
	if err != nil {
		return nil, newIntegrityError(ErrIntegrity, "", err)
	}

	return string(pt), nil
}

// Verify decrypts the stored value and compares it to the candidate in
// constant time. A failed decryption is a non-match, not an error.
func (m *cipherModifier) Verify(stored *Locked, candidate any) bool {
	plain, err := m.Unlock(stored)
	if err != nil {
		return false
	}

	want, err := plainBytes(candidate)
	if err != nil {
		return false
	}

	got := []byte(plain.(string))
	return subtle.ConstantTimeCompare(got, want) == 1
}

// QueryValue always reports the predicate as not filterable: encryption is
// non-deterministic, so equal plaintexts never share a ciphertext.
func (m *cipherModifier) QueryValue(_ any) (any, error) {
	return nil, ErrNotFilterable
}
