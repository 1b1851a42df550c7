package strata

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

// DefaultSaltSize is the salt length in bytes for the digest algorithms.
const DefaultSaltSize = 16

// Argon2Params configures Argon2id hashing.
type Argon2Params struct {
	Time    uint32 // Number of iterations
	Memory  uint32 // Memory usage in KiB
	Threads uint8  // Parallelism factor
	KeyLen  uint32 // Output key length
	SaltLen uint32 // Salt length
}

// DefaultArgon2Params returns recommended Argon2id parameters.
// Based on OWASP recommendations for password hashing.
func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		Time:    1,
		Memory:  64 * 1024, // 64 MiB
		Threads: 4,
		KeyLen:  32,
		SaltLen: 16,
	}
}

// hashModifier implements the one-way digest modifier.
//
// For sha256/sha512 the salt travels in metadata: it is generated on the
// first lock and reused when a previous locked value carries one, so an
// unchanged value keeps a stable digest. argon2id and bcrypt self-encode
// their salt and parameters in the locked value.
type hashModifier struct {
	algo     HashAlgo
	saltSize int
	argon    Argon2Params
}

// newHashModifier builds a hash modifier for the given algorithm.
func newHashModifier(algo HashAlgo) (*hashModifier, error) {
	if !IsValidHashAlgo(algo) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, algo)
	}
	return &hashModifier{
		algo:     algo,
		saltSize: DefaultSaltSize,
		argon:    DefaultArgon2Params(),
	}, nil
}

func (m *hashModifier) Kind() Kind {
	return KindHash
}

// Lock digests the plain value. When prev carries a matching digest for the
// same value, the previous locked value is returned unchanged so the salt is
// regenerated only on first set.
func (m *hashModifier) Lock(prev *Locked, plain any) (*Locked, error) {
	if plain == nil {
		return nil, nil
	}

	pt, err := plainBytes(plain)
	if err != nil {
		return nil, err
	}

	switch m.algo {
	case HashSHA256, HashSHA512:
		salt, err := m.saltFor(prev)
		if err != nil {
			return nil, err
		}
		return &Locked{
			Value: m.digest(salt, pt),
			Meta:  Metadata{MetaSalt: encode(salt)},
		}, nil

	case HashArgon2:
		if prev != nil && m.verifyArgon2(prev.Value, pt) {
			return prev, nil
		}
		salt := make([]byte, m.argon.SaltLen)
		if _, err := io.ReadFull(rand.Reader, salt); err != nil {
			return nil, fmt.Errorf("failed to generate salt: %w", err)
		}
		return &Locked{Value: m.encodeArgon2(salt, pt)}, nil

	case HashBcrypt:
		if prev != nil && bcrypt.CompareHashAndPassword([]byte(prev.Value), pt) == nil {
			return prev, nil
		}
		sum, err := bcrypt.GenerateFromPassword(pt, bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("bcrypt hash failed: %w", err)
		}
		return &Locked{Value: string(sum)}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, m.algo)
	}
}

// Verify recomputes the digest with the stored salt and compares in constant
// time. A mismatch returns false, never an error.
func (m *hashModifier) Verify(stored *Locked, candidate any) bool {
	if stored == nil {
		return false
	}

	pt, err := plainBytes(candidate)
	if err != nil {
		return false
	}

	switch m.algo {
	case HashSHA256, HashSHA512:
		salt, err := decodeMeta(stored.Meta, MetaSalt)
		if err != nil {
			return false
		}
		return subtle.ConstantTimeCompare([]byte(m.digest(salt, pt)), []byte(stored.Value)) == 1

	case HashArgon2:
		return m.verifyArgon2(stored.Value, pt)

	case HashBcrypt:
		return bcrypt.CompareHashAndPassword([]byte(stored.Value), pt) == nil

	default:
		return false
	}
}

// saltFor reuses the salt from the previous locked value when present,
// generating a fresh one otherwise.
func (m *hashModifier) saltFor(prev *Locked) ([]byte, error) {
	if prev != nil {
		if s, ok := prev.Meta[MetaSalt]; ok {
			return decode(s)
		}
	}

	salt := make([]byte, m.saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	return salt, nil
}

// digest computes the salted hex digest for the fast algorithms.
func (m *hashModifier) digest(salt, pt []byte) string {
	var h hash.Hash
	if m.algo == HashSHA512 {
		h = sha512.New()
	} else {
		h = sha256.New()
	}
	h.Write(salt)
	h.Write(pt)
	return hex.EncodeToString(h.Sum(nil))
}

// encodeArgon2 encodes as: $argon2id$v=19$m=65536,t=1,p=4$<salt>$<hash>
func (m *hashModifier) encodeArgon2(salt, pt []byte) string {
	sum := argon2.IDKey(pt, salt, m.argon.Time, m.argon.Memory, m.argon.Threads, m.argon.KeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version,
		m.argon.Memory,
		m.argon.Time,
		m.argon.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(sum),
	)
}

// verifyArgon2 recomputes the key from the parameters and salt encoded in
// the stored value and compares in constant time.
func (m *hashModifier) verifyArgon2(stored string, pt []byte) bool {
	parts := strings.Split(stored, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return false
	}

	var memory, time uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return false
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false
	}

	got := argon2.IDKey(pt, salt, time, memory, threads, uint32(len(want))) // #nosec G115 -- key length bounded by encoding
	return subtle.ConstantTimeCompare(got, want) == 1
}
